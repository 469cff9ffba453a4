package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/lucid-vigil/threatcluster/pkg/features"
)

type normal struct{ mean, std float64 }

func (n normal) draw(rng *rand.Rand) float64 {
	return n.mean + rng.NormFloat64()*n.std
}

type threatProfile struct {
	attackType string
	bytesIn    normal
	bytesOut   normal
	packets    normal
	duration   normal
	port       int
}

// SampleThreatTypes are the attack types SampleEvents cycles through.
var SampleThreatTypes = []string{"Malware", "Exfiltration", "DDoS", "Port Scan", "Insider"}

var threatProfiles = []threatProfile{
	{"Malware", normal{50000, 10000}, normal{5000, 1000}, normal{500, 100}, normal{60, 20}, 443},
	{"Exfiltration", normal{1000, 200}, normal{500000, 100000}, normal{2000, 500}, normal{300, 60}, 8080},
	{"DDoS", normal{1000000, 200000}, normal{100, 50}, normal{50000, 10000}, normal{5, 2}, 80},
	{"Port Scan", normal{100, 20}, normal{50, 10}, normal{1000, 200}, normal{1, 0.5}, 0},
	{"Insider", normal{10000, 2000}, normal{100000, 20000}, normal{500, 100}, normal{600, 120}, 22},
}

// SampleEvents generates n demo events cycling through five threat profiles.
// Port scans get a random destination port.
func SampleEvents(n int, seed int64) []features.Event {
	rng := rand.New(rand.NewSource(seed))
	now := time.Now().UTC()
	events := make([]features.Event, n)
	for i := range events {
		p := threatProfiles[i%len(threatProfiles)]
		port := p.port
		if port == 0 {
			port = 1 + rng.Intn(65534)
		}
		events[i] = features.Event{
			ID:         fmt.Sprintf("EVT-%04d", i),
			SourceIP:   fmt.Sprintf("192.168.%d.%d", rng.Intn(255), 1+rng.Intn(254)),
			BytesIn:    math.Max(0, p.bytesIn.draw(rng)),
			BytesOut:   math.Max(0, p.bytesOut.draw(rng)),
			Packets:    math.Max(1, math.Trunc(p.packets.draw(rng))),
			Duration:   math.Max(0, p.duration.draw(rng)),
			Port:       port,
			RiskScore:  features.Risk(float64(30 + rng.Intn(70))),
			AttackType: p.attackType,
			Internal:   p.attackType == "Insider",
			Timestamp:  now.Add(-time.Duration(n-i) * time.Second),
		}
	}
	return events
}
