package dataset

import (
	"math/rand"
)

type span struct{ lo, hi float64 }

func (s span) draw(rng *rand.Rand) float64 {
	return s.lo + rng.Float64()*(s.hi-s.lo)
}

type profile struct {
	category     string
	ratio        float64
	duration     span
	srcBytes     span
	dstBytes     span
	count        span
	srvCount     span
	serrorRate   span
	dstHostCount span
	labels       []string
}

var profiles = []profile{
	{CategoryNormal, 0.53, span{50, 200}, span{200, 1000}, span{200, 800}, span{5, 30}, span{5, 25}, span{0, 0.1}, span{50, 255},
		[]string{"normal"}},
	{CategoryDoS, 0.28, span{0, 5}, span{0, 100}, span{0, 50}, span{100, 511}, span{100, 511}, span{0.8, 1}, span{200, 255},
		[]string{"neptune", "smurf", "back", "teardrop", "pod"}},
	{CategoryProbe, 0.09, span{0, 10}, span{0, 300}, span{0, 200}, span{1, 50}, span{1, 20}, span{0, 0.5}, span{1, 100},
		[]string{"satan", "ipsweep", "portsweep", "nmap"}},
	{CategoryR2L, 0.07, span{100, 5000}, span{100, 5000}, span{100, 3000}, span{1, 10}, span{1, 5}, span{0, 0.2}, span{1, 50},
		[]string{"warezclient", "guess_passwd", "ftp_write"}},
	{CategoryU2R, 0.03, span{10, 500}, span{50, 2000}, span{0, 500}, span{1, 5}, span{1, 3}, span{0, 0.1}, span{1, 30},
		[]string{"buffer_overflow", "rootkit", "perl"}},
}

var (
	protocols = []string{"tcp", "tcp", "tcp", "tcp", "tcp", "tcp", "tcp", "udp", "udp", "icmp"}
	services  = []string{"http", "smtp", "ftp", "ssh", "dns", "telnet", "other"}
	flags     = []string{"SF", "S0", "REJ", "RSTR", "SH", "RSTO"}
)

// Synthetic generates about n records whose per-category proportions and
// value ranges follow NSL-KDD. The same seed always yields the same records.
func Synthetic(n int, seed int64) Records {
	rng := rand.New(rand.NewSource(seed))
	out := make(Records, 0, n)
	for _, p := range profiles {
		count := int(float64(n) * p.ratio)
		for i := 0; i < count; i++ {
			out = append(out, p.record(rng))
		}
	}
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func (p profile) record(rng *rand.Rand) Record {
	label := p.labels[rng.Intn(len(p.labels))]
	return Record{
		Duration:     p.duration.draw(rng),
		Protocol:     protocols[rng.Intn(len(protocols))],
		Service:      services[rng.Intn(len(services))],
		Flag:         flags[rng.Intn(len(flags))],
		SrcBytes:     p.srcBytes.draw(rng),
		DstBytes:     p.dstBytes.draw(rng),
		Land:         p.category == CategoryDoS && rng.Float64() < 0.02,
		Count:        p.count.draw(rng),
		SrvCount:     p.srvCount.draw(rng),
		SerrorRate:   p.serrorRate.draw(rng),
		DstHostCount: p.dstHostCount.draw(rng),
		Label:        label,
		Category:     p.category,
		Difficulty:   1 + rng.Intn(20),
	}
}
