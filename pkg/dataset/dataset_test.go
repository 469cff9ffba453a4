package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-vigil/threatcluster/pkg/features"
)

const kddLines = `0,tcp,ftp_data,SF,491,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,2,2,0.00,0.00,0.00,0.00,1.00,0.00,0.00,150,25,0.17,0.03,0.17,0.00,0.00,0.00,0.05,0.00,normal,20
0,udp,other,SF,146,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,13,1,0.00,0.00,0.00,0.00,0.08,0.15,0.00,255,1,0.00,0.60,0.88,0.00,0.00,0.00,0.00,0.00,normal,15
0,tcp,private,S0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,123,6,1.00,1.00,0.00,0.00,0.05,0.07,0.00,255,26,0.10,0.05,0.00,0.00,1.00,1.00,0.00,0.00,neptune,19
0,tcp,http,SF,232,8153,1,0,0,0,0,1,0,0,0,0,0,0,0,0,0,0,5,5,0.20,0.20,0.00,0.00,1.00,0.00,0.00,30,255,1.00,0.00,0.03,0.04,0.03,0.01,0.00,0.01,smurf,21
2,tcp,telnet,SF,0,15,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,1,1,0.00,0.00,0.00,0.00,1.00,0.00,0.00,1,1,1.00,0.00,1.00,0.00,0.00,0.00,0.00,0.00,mystery
`

func TestCategory(t *testing.T) {
	assert.Equal(t, CategoryNormal, Category("normal"))
	assert.Equal(t, CategoryDoS, Category("neptune"))
	assert.Equal(t, CategoryProbe, Category(" portsweep "))
	assert.Equal(t, CategoryR2L, Category("guess_passwd"))
	assert.Equal(t, CategoryU2R, Category("ROOTKIT"))
	assert.Equal(t, CategoryUnknown, Category("mystery"))
}

func TestRead(t *testing.T) {
	recs, err := Read(strings.NewReader(kddLines))
	require.NoError(t, err)
	require.Len(t, recs, 5)

	first := recs[0]
	assert.Equal(t, "tcp", first.Protocol)
	assert.Equal(t, "ftp_data", first.Service)
	assert.Equal(t, 491.0, first.SrcBytes)
	assert.Equal(t, 2.0, first.Count)
	assert.Equal(t, 150.0, first.DstHostCount)
	assert.Equal(t, 20, first.Difficulty)
	assert.False(t, first.IsAttack())

	assert.Equal(t, CategoryDoS, recs[2].Category)
	assert.Equal(t, 1.0, recs[2].SerrorRate)
	assert.True(t, recs[3].Land)
	assert.Equal(t, CategoryUnknown, recs[4].Category)
	assert.Zero(t, recs[4].Difficulty, "difficulty column is optional")

	assert.Equal(t, []string{"normal", "normal", "DoS", "DoS", "Unknown"}, recs.Labels())
	assert.Len(t, recs.WithoutNormal(), 3)
}

func TestRead_Errors(t *testing.T) {
	_, err := Read(strings.NewReader("0,tcp,http\n"))
	assert.ErrorContains(t, err, "line 1")

	bad := strings.Replace(strings.SplitN(kddLines, "\n", 2)[0], "491", "lots", 1)
	_, err = Read(strings.NewReader(bad))
	assert.ErrorContains(t, err, "column 5")
}

func TestRecord_Event(t *testing.T) {
	r := Record{
		Duration:   3,
		Service:    "http",
		SrcBytes:   100,
		DstBytes:   200,
		Land:       true,
		Count:      7,
		Difficulty: 21,
	}

	e := r.Event()
	assert.Equal(t, 100.0, e.BytesIn)
	assert.Equal(t, 200.0, e.BytesOut)
	assert.Equal(t, 7.0, e.Packets)
	assert.Equal(t, 80, e.Port)
	assert.Equal(t, 100.0, e.Risk())
	assert.True(t, e.Internal)
	assert.Empty(t, e.AttackType)

	assert.Zero(t, Record{Service: "private"}.Event().Port)
}

func TestRecords_Matrix(t *testing.T) {
	recs := Synthetic(100, 1)
	m := recs.Matrix()
	require.Len(t, m, len(recs))
	for _, row := range m {
		assert.Len(t, row, features.Width())
	}
}

func TestSynthetic(t *testing.T) {
	recs := Synthetic(1000, 42)
	assert.Len(t, recs, 530+280+90+70+30)
	assert.Equal(t, recs, Synthetic(1000, 42))

	s := recs.Summarize(SourceSynthetic)
	assert.Equal(t, 530, s.Normal)
	assert.Equal(t, 470, s.Attacks)
	assert.Equal(t, 280, s.Categories[CategoryDoS])
	assert.Equal(t, 30, s.Categories[CategoryU2R])

	for _, r := range recs {
		assert.Equal(t, r.Category, Category(r.Label))
		assert.GreaterOrEqual(t, r.Difficulty, 1)
		assert.LessOrEqual(t, r.Difficulty, 20)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file falls back", func(t *testing.T) {
		recs, source, err := Load(filepath.Join(dir, "absent.txt"), 100, 1)
		require.NoError(t, err)
		assert.Equal(t, SourceSynthetic, source)
		assert.NotEmpty(t, recs)
	})

	t.Run("file on disk", func(t *testing.T) {
		path := filepath.Join(dir, "KDDTest+.txt")
		require.NoError(t, os.WriteFile(path, []byte(kddLines), 0o644))

		recs, source, err := Load(path, 100, 1)
		require.NoError(t, err)
		assert.Len(t, recs, 5)
		assert.Contains(t, source, path)
	})

	t.Run("corrupt file is an error", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.txt")
		require.NoError(t, os.WriteFile(path, []byte("1,2\n"), 0o644))

		_, _, err := Load(path, 100, 1)
		assert.Error(t, err)
	})
}

func TestSampleEvents(t *testing.T) {
	events := SampleEvents(50, 42)
	require.Len(t, events, 50)

	for i, e := range events {
		assert.Equal(t, SampleThreatTypes[i%5], e.AttackType)
		assert.GreaterOrEqual(t, e.BytesIn, 0.0)
		assert.GreaterOrEqual(t, e.Packets, 1.0)
		assert.Greater(t, e.Port, 0)
		assert.Equal(t, e.AttackType == "Insider", e.Internal)
		assert.GreaterOrEqual(t, e.Risk(), 30.0)
		assert.Less(t, e.Risk(), 100.0)
	}
	assert.Equal(t, "EVT-0000", events[0].ID)
}
