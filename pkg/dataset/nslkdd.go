// Package dataset provides labelled training data for the clustering engine:
// the NSL-KDD intrusion detection benchmark, a synthetic stand-in with the
// same per-category distributions, and demo security events.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/threatcluster/pkg/features"
)

// Attack categories used by NSL-KDD.
const (
	CategoryNormal  = "normal"
	CategoryDoS     = "DoS"
	CategoryProbe   = "Probe"
	CategoryR2L     = "R2L"
	CategoryU2R     = "U2R"
	CategoryUnknown = "Unknown"
)

// SourceSynthetic describes records produced by Synthetic.
const SourceSynthetic = "Synthetic (NSL-KDD distributions)"

// Column positions in a KDDTrain+/KDDTest+ line (41 features, label,
// difficulty).
const (
	colDuration     = 0
	colProtocol     = 1
	colService      = 2
	colFlag         = 3
	colSrcBytes     = 4
	colDstBytes     = 5
	colLand         = 6
	colCount        = 22
	colSrvCount     = 23
	colSerrorRate   = 24
	colDstHostCount = 31
	colLabel        = 41
	colDifficulty   = 42

	minColumns = colLabel + 1
)

// maxDifficulty is the highest difficulty level NSL-KDD assigns.
const maxDifficulty = 21

var attackCategories = map[string]string{
	"normal": CategoryNormal,

	"back": CategoryDoS, "land": CategoryDoS, "neptune": CategoryDoS, "pod": CategoryDoS,
	"smurf": CategoryDoS, "teardrop": CategoryDoS, "mailbomb": CategoryDoS, "apache2": CategoryDoS,
	"processtable": CategoryDoS, "udpstorm": CategoryDoS,

	"ipsweep": CategoryProbe, "nmap": CategoryProbe, "portsweep": CategoryProbe, "satan": CategoryProbe,
	"mscan": CategoryProbe, "saint": CategoryProbe,

	"ftp_write": CategoryR2L, "guess_passwd": CategoryR2L, "imap": CategoryR2L, "multihop": CategoryR2L,
	"phf": CategoryR2L, "spy": CategoryR2L, "warezclient": CategoryR2L, "warezmaster": CategoryR2L,
	"sendmail": CategoryR2L, "named": CategoryR2L, "snmpgetattack": CategoryR2L, "snmpguess": CategoryR2L,
	"xlock": CategoryR2L, "xsnoop": CategoryR2L, "worm": CategoryR2L,

	"buffer_overflow": CategoryU2R, "loadmodule": CategoryU2R, "perl": CategoryU2R, "rootkit": CategoryU2R,
	"httptunnel": CategoryU2R, "ps": CategoryU2R, "sqlattack": CategoryU2R, "xterm": CategoryU2R,
}

var servicePorts = map[string]int{
	"http":     80,
	"http_443": 443,
	"smtp":     25,
	"ftp":      21,
	"ftp_data": 20,
	"ssh":      22,
	"dns":      53,
	"domain":   53,
	"domain_u": 53,
	"telnet":   23,
	"pop_3":    110,
	"imap4":    143,
}

// Category maps an NSL-KDD attack label to its category.
func Category(label string) string {
	if c, ok := attackCategories[strings.ToLower(strings.TrimSpace(label))]; ok {
		return c
	}
	return CategoryUnknown
}

// Record is one NSL-KDD connection record, reduced to the columns the
// engine uses.
type Record struct {
	Duration     float64
	Protocol     string
	Service      string
	Flag         string
	SrcBytes     float64
	DstBytes     float64
	Land         bool
	Count        float64
	SrvCount     float64
	SerrorRate   float64
	DstHostCount float64
	Label        string
	Category     string
	Difficulty   int
}

// IsAttack reports whether the record is labelled as anything but normal.
func (r Record) IsAttack() bool {
	return r.Category != CategoryNormal
}

// Event converts the record into a security event. Connection count stands
// in for packets and difficulty is scaled to a 0-100 risk score.
func (r Record) Event() features.Event {
	risk := float64(r.Difficulty) / maxDifficulty * 100
	return features.Event{
		BytesIn:   r.SrcBytes,
		BytesOut:  r.DstBytes,
		Packets:   r.Count,
		Duration:  r.Duration,
		Port:      servicePorts[r.Service],
		RiskScore: features.Risk(risk),
		Internal:  r.Land,
	}
}

// Records is a set of labelled records.
type Records []Record

// Events converts every record.
func (rs Records) Events() []features.Event {
	out := make([]features.Event, len(rs))
	for i, r := range rs {
		out[i] = r.Event()
	}
	return out
}

// Matrix returns the feature matrix of the records.
func (rs Records) Matrix() [][]float64 {
	return features.Matrix(rs.Events())
}

// Labels returns the category of each record.
func (rs Records) Labels() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Category
	}
	return out
}

// WithoutNormal drops records whose category is normal.
func (rs Records) WithoutNormal() Records {
	out := make(Records, 0, len(rs))
	for _, r := range rs {
		if r.IsAttack() {
			out = append(out, r)
		}
	}
	return out
}

// Summary counts records per category.
type Summary struct {
	Total      int            `json:"total_records"`
	Normal     int            `json:"normal_count"`
	Attacks    int            `json:"attack_count"`
	Categories map[string]int `json:"categories"`
	Source     string         `json:"data_source"`
}

// Summarize counts the records per category.
func (rs Records) Summarize(source string) Summary {
	s := Summary{Total: len(rs), Categories: make(map[string]int), Source: source}
	for _, r := range rs {
		s.Categories[r.Category]++
		if r.IsAttack() {
			s.Attacks++
		} else {
			s.Normal++
		}
	}
	return s
}

// Read parses NSL-KDD records from r. Lines with 42 columns (no difficulty)
// are accepted.
func Read(r io.Reader) (Records, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var out Records
	for line := 1; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("nsl-kdd line %d: %w", line, err)
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		rec, err := parseRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("nsl-kdd line %d: %w", line, err)
		}
		out = append(out, rec)
	}
}

func parseRecord(fields []string) (Record, error) {
	if len(fields) < minColumns {
		return Record{}, fmt.Errorf("expected at least %d columns, got %d", minColumns, len(fields))
	}

	var firstErr error
	num := func(col int) float64 {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[col]), 64)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("column %d: %w", col+1, err)
		}
		return v
	}

	label := strings.TrimSpace(fields[colLabel])
	rec := Record{
		Duration:     num(colDuration),
		Protocol:     strings.TrimSpace(fields[colProtocol]),
		Service:      strings.TrimSpace(fields[colService]),
		Flag:         strings.TrimSpace(fields[colFlag]),
		SrcBytes:     num(colSrcBytes),
		DstBytes:     num(colDstBytes),
		Land:         num(colLand) != 0,
		Count:        num(colCount),
		SrvCount:     num(colSrvCount),
		SerrorRate:   num(colSerrorRate),
		DstHostCount: num(colDstHostCount),
		Label:        label,
		Category:     Category(label),
	}
	if len(fields) > colDifficulty {
		rec.Difficulty = int(num(colDifficulty))
	}
	return rec, firstErr
}

// LoadFile reads an NSL-KDD file such as KDDTrain+.txt.
func LoadFile(path string) (Records, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	recs, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// Load reads path when it exists and otherwise generates fallbackN synthetic
// records with seed. It returns the records and a description of where they
// came from. Parse errors in an existing file are returned, not masked.
func Load(path string, fallbackN int, seed int64) (Records, string, error) {
	if path != "" {
		recs, err := LoadFile(path)
		if err == nil {
			log.Info().Str("path", path).Int("records", len(recs)).Msg("Loaded NSL-KDD records")
			return recs, fmt.Sprintf("NSL-KDD (%s)", path), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, "", err
		}
		log.Warn().Str("path", path).Msg("NSL-KDD file not found, using synthetic records")
	}
	return Synthetic(fallbackN, seed), SourceSynthetic, nil
}
