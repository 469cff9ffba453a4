package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVector_Layout(t *testing.T) {
	e := Event{
		BytesIn:    1000,
		BytesOut:   50,
		Packets:    20,
		Duration:   3,
		Port:       443,
		RiskScore:  Risk(80),
		AttackType: "Ransomware",
		Internal:   true,
	}

	v := Vector(e)
	require.Len(t, v, Width())

	assert.InDelta(t, math.Log1p(1000), v[0], 1e-12)
	assert.InDelta(t, math.Log1p(50), v[1], 1e-12)
	assert.InDelta(t, math.Log1p(20), v[2], 1e-12)
	assert.InDelta(t, math.Log1p(3), v[3], 1e-12)
	assert.Equal(t, 443.0, v[4])
	assert.Equal(t, 80.0, v[5])
	assert.Equal(t, 1.0, v[6])
	assert.Equal(t, 1.0, v[7])
}

func TestVector_Defaults(t *testing.T) {
	v := Vector(Event{})

	assert.InDelta(t, math.Log1p(1), v[2], 1e-12, "zero packets count as one")
	assert.Equal(t, DefaultRiskScore, v[5])
	assert.Equal(t, 0.0, v[6])
	assert.Equal(t, 0.0, v[7])
}

func TestVector_NegativeCountersClampToZero(t *testing.T) {
	v := Vector(Event{BytesIn: -10, Duration: -1})
	assert.Equal(t, 0.0, v[0])
	assert.Equal(t, 0.0, v[3])
}

func TestAttackTypeCode(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"Malware", 1},
		{"ransomware", 1},
		{"Exfiltration", 2},
		{"Data Breach", 2},
		{"DDoS", 3},
		{"DoS", 3},
		{"Port Scan", 4},
		{"Reconnaissance", 4},
		{"Insider", 5},
		{"Privilege Escalation", 5},
		{"", 0},
		{"phishing", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, AttackTypeCode(tt.in))
		})
	}
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint()
	assert.Len(t, fp, 16)
	assert.Equal(t, fp, Fingerprint(), "fingerprint must be stable")

	f := Fields()
	f[0] = "mutated"
	assert.Equal(t, fp, Fingerprint(), "Fields returns a copy")
}

func TestMatrix(t *testing.T) {
	m := Matrix([]Event{{Port: 1}, {Port: 2}})
	require.Len(t, m, 2)
	assert.Equal(t, 1.0, m[0][4])
	assert.Equal(t, 2.0, m[1][4])
}
