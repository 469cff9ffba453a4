// Package features turns security events into the fixed-width numeric
// vectors consumed by the clustering engine.
package features

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"
)

// SchemaVersion identifies the vector layout produced by Vector. Bump it
// whenever Fields changes so that previously saved models are rejected.
const SchemaVersion = "threatcluster.event/v1"

// DefaultRiskScore is used when an event carries no risk score.
const DefaultRiskScore = 50.0

// Event is a single network security event as seen by the feature builder.
// Zero values are meaningful: a zero Packets count is read as one packet and
// a nil RiskScore as DefaultRiskScore.
type Event struct {
	ID         string    `json:"id,omitempty"`
	SourceIP   string    `json:"source_ip,omitempty"`
	BytesIn    float64   `json:"bytes_in"`
	BytesOut   float64   `json:"bytes_out"`
	Packets    float64   `json:"packets"`
	Duration   float64   `json:"duration"`
	Port       int       `json:"port"`
	RiskScore  *float64  `json:"risk_score,omitempty"`
	AttackType string    `json:"attack_type,omitempty"`
	Internal   bool      `json:"is_internal"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// Risk returns the event risk score, falling back to DefaultRiskScore.
func (e Event) Risk() float64 {
	if e.RiskScore == nil {
		return DefaultRiskScore
	}
	return *e.RiskScore
}

// Risk is a helper for building events with an explicit risk score.
func Risk(v float64) *float64 {
	return &v
}

var fields = []string{
	"log1p_bytes_in",
	"log1p_bytes_out",
	"log1p_packets",
	"log1p_duration",
	"port",
	"risk_score",
	"attack_type_code",
	"is_internal",
}

// Fields returns the ordered names of the vector components.
func Fields() []string {
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}

// Width is the number of components in every vector.
func Width() int {
	return len(fields)
}

// Fingerprint hashes the schema version and ordered field list. It is stored
// alongside trained models and checked on load.
func Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(SchemaVersion))
	for _, f := range fields {
		h.Write([]byte{0})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

var attackTypeCodes = map[string]int{
	"malware":              1,
	"ransomware":           1,
	"exfiltration":         2,
	"data breach":          2,
	"ddos":                 3,
	"dos":                  3,
	"port scan":            4,
	"reconnaissance":       4,
	"insider":              5,
	"privilege escalation": 5,
}

// AttackTypeCode maps a declared attack type to its numeric code. Unknown or
// empty types map to 0.
func AttackTypeCode(attackType string) int {
	return attackTypeCodes[strings.ToLower(strings.TrimSpace(attackType))]
}

// Vector builds the feature vector for one event. Counters are log1p
// compressed since their raw ranges span several orders of magnitude.
func Vector(e Event) []float64 {
	packets := e.Packets
	if packets == 0 {
		packets = 1
	}
	internal := 0.0
	if e.Internal {
		internal = 1
	}
	return []float64{
		log1p(e.BytesIn),
		log1p(e.BytesOut),
		log1p(packets),
		log1p(e.Duration),
		float64(e.Port),
		e.Risk(),
		float64(AttackTypeCode(e.AttackType)),
		internal,
	}
}

// Matrix builds one vector per event, preserving order.
func Matrix(events []Event) [][]float64 {
	out := make([][]float64, len(events))
	for i, e := range events {
		out[i] = Vector(e)
	}
	return out
}

func log1p(v float64) float64 {
	if v < 0 {
		v = 0
	}
	return math.Log1p(v)
}
