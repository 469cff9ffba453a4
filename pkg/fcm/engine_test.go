package fcm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var blobCenters = [][]float64{
	{0, 0, 0},
	{10, 0, 0},
	{0, 10, 0},
	{0, 0, 10},
	{10, 10, 10},
}

var blobNames = []string{"alpha", "bravo", "charlie", "delta", "echo"}

// blobs draws perBlob points around each of the five blob centers.
func blobs(perBlob int, seed int64) ([][]float64, []string) {
	rng := rand.New(rand.NewSource(seed))
	var X [][]float64
	var labels []string
	for b, center := range blobCenters {
		for i := 0; i < perBlob; i++ {
			row := make([]float64, len(center))
			for d, c := range center {
				row[d] = c + rng.NormFloat64()*0.6
			}
			X = append(X, row)
			labels = append(labels, blobNames[b])
		}
	}
	return X, labels
}

func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	return e
}

func assertRowStochastic(t *testing.T, u [][]float64) {
	t.Helper()
	for i, row := range u {
		var sum float64
		for _, v := range row {
			assert.GreaterOrEqual(t, v, 0.0)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "row %d", i)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero clusters", func(c *Config) { c.Clusters = 0 }},
		{"fuzziness one", func(c *Config) { c.Fuzziness = 1 }},
		{"no iterations", func(c *Config) { c.MaxIterations = 0 }},
		{"zero threshold", func(c *Config) { c.ConvergenceThreshold = 0 }},
		{"label count", func(c *Config) { c.Labels = []string{"a", "b"} }},
		{"duplicate labels", func(c *Config) { c.Labels = []string{"a", "b", "c", "d", "a"} }},
		{"empty label", func(c *Config) { c.Labels = []string{"a", "b", "", "d", "e"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, zerolog.Nop())
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNew_DefaultLabels(t *testing.T) {
	e := newTestEngine(t, nil)
	assert.Equal(t, ThreatLabels, e.Labels())
	assert.False(t, e.Trained())

	e = newTestEngine(t, func(c *Config) { c.Clusters = 3 })
	assert.Equal(t, []string{"Cluster 1", "Cluster 2", "Cluster 3"}, e.Labels())
}

func TestNew_LabelsAreCopied(t *testing.T) {
	labels := []string{"a", "b", "c", "d", "e"}
	e := newTestEngine(t, func(c *Config) { c.Labels = labels })
	labels[0] = "changed"
	assert.Equal(t, "a", e.Labels()[0])
}

func TestInitMembership_RowStochastic(t *testing.T) {
	u := initMembership(50, 5, 7)
	require.Len(t, u, 50)
	assertRowStochastic(t, u)
	assert.Equal(t, u, initMembership(50, 5, 7), "same seed gives the same matrix")
}

func TestMembership_DegenerateDistance(t *testing.T) {
	Xs := [][]float64{{0, 0}, {1.5, 2}}
	centers := [][]float64{{0, 0}, {3, 4}}

	u, degenerate := membership(Xs, centers, 2)
	assert.Equal(t, 1, degenerate)
	assertRowStochastic(t, u)
	assert.InDelta(t, 1.0, u[0][0], 1e-9)
	assert.InDelta(t, 0.5, u[1][0], 1e-9, "equidistant point splits evenly")
	assert.False(t, math.IsNaN(u[0][1]))
}

func TestFit_BlobsArePure(t *testing.T) {
	X, labels := blobs(20, 1)
	e := newTestEngine(t, nil)

	stats, err := e.Fit(X)
	require.NoError(t, err)
	assert.True(t, e.Trained())
	assert.Equal(t, 100, stats.Samples)
	assert.Equal(t, 3, stats.Features)
	assert.LessOrEqual(t, stats.Iterations, 100)

	report, err := e.Evaluate(X, labels)
	require.NoError(t, err)
	assert.Greater(t, report.OverallPurity, 90.0)
	assert.Greater(t, report.Silhouette, 0.5)
	assert.Equal(t, blobNames, report.Categories)
	assert.Equal(t, 100, report.TestSamples)
}

func TestFit_Deterministic(t *testing.T) {
	X, _ := blobs(20, 2)
	a := newTestEngine(t, nil)
	b := newTestEngine(t, nil)

	sa, err := a.Fit(X)
	require.NoError(t, err)
	sb, err := b.Fit(X)
	require.NoError(t, err)

	assert.Equal(t, a.Centers(), b.Centers())
	assert.Equal(t, sa.Iterations, sb.Iterations)
}

func TestFit_IterationCap(t *testing.T) {
	X, _ := blobs(20, 3)
	e := newTestEngine(t, func(c *Config) {
		c.MaxIterations = 2
		c.ConvergenceThreshold = 1e-300
	})

	stats, err := e.Fit(X)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.Iterations, 2)
	assert.True(t, e.Trained(), "a capped run still yields a model")
}

func TestFit_IdenticalInputs(t *testing.T) {
	X := make([][]float64, 50)
	for i := range X {
		X[i] = []float64{7.5, 120, 3, 0.4, 443, 50, 1, 0}
	}
	e := newTestEngine(t, nil)

	stats, err := e.Fit(X)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.Iterations, e.Config().MaxIterations)
	assert.Greater(t, stats.DegenerateDistances, 0)

	u, err := e.Memberships(X[:1])
	require.NoError(t, err)
	for _, v := range u[0] {
		assert.InDelta(t, 0.2, v, 1e-9)
	}
}

func TestOptimize_RowStochasticEveryIteration(t *testing.T) {
	X, _ := blobs(20, 6)
	Xs := FitScaler(X).Transform(X)
	u := initMembership(len(Xs), 5, 11)
	assertRowStochastic(t, u)

	var centers [][]float64
	for it := 0; it < 10; it++ {
		var collapsed int
		centers, collapsed = updateCenters(Xs, u, 1.6, centers)
		assert.Zero(t, collapsed)
		next, _ := membership(Xs, centers, 1.6)
		assertRowStochastic(t, next)
		u = next
	}
}

func TestUpdateCenters_CollapsedClusterKeepsCenter(t *testing.T) {
	Xs := [][]float64{{1, 1}, {3, 3}}
	u := [][]float64{{1, 0}, {1, 0}}
	prev := [][]float64{{0, 0}, {9, 9}}

	centers, collapsed := updateCenters(Xs, u, 2, prev)
	assert.Equal(t, 1, collapsed)
	assert.Equal(t, []float64{2, 2}, centers[0])
	assert.Equal(t, []float64{9, 9}, centers[1])

	_, collapsed = updateCenters(Xs, u, 2, nil)
	assert.Equal(t, 1, collapsed, "counted even without a previous center")
}

func TestFit_InsufficientData(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.Fit([][]float64{{1, 2}, {3, 4}, {5, 6}})
	var insufficient *InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 3, insufficient.Samples)
	assert.Equal(t, 5, insufficient.Required)
	assert.Contains(t, err.Error(), "need at least 5 events")

	assert.False(t, e.Trained())
	_, err = e.Predict([][]float64{{1, 2}})
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestFit_InsufficientDataKeepsTrainedState(t *testing.T) {
	X, _ := blobs(20, 4)
	e := newTestEngine(t, nil)
	_, err := e.Fit(X)
	require.NoError(t, err)
	before := e.Centers()

	_, err = e.Fit(X[:2])
	require.Error(t, err)
	assert.True(t, e.Trained())
	assert.Equal(t, before, e.Centers())
}

func TestFit_RaggedInput(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.Clusters = 2 })
	_, err := e.Fit([][]float64{{1, 2}, {3}, {4, 5}})

	var dim *DimensionError
	require.ErrorAs(t, err, &dim)
	assert.Equal(t, 1, dim.Row)
	assert.False(t, e.Trained())
}

func TestPredict(t *testing.T) {
	X, _ := blobs(20, 5)
	e := newTestEngine(t, nil)
	_, err := e.Fit(X)
	require.NoError(t, err)

	t.Run("repeatable", func(t *testing.T) {
		first, err := e.Predict(X[:10])
		require.NoError(t, err)
		second, err := e.Predict(X[:10])
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("memberships are row stochastic", func(t *testing.T) {
		u, err := e.Memberships(X)
		require.NoError(t, err)
		assertRowStochastic(t, u)
	})

	t.Run("percentages", func(t *testing.T) {
		results, err := e.Predict(X)
		require.NoError(t, err)
		for _, r := range results {
			var sum float64
			for _, p := range r.Memberships {
				sum += p
			}
			assert.InDelta(t, 100, sum, 0.5)
			assert.Equal(t, e.Labels()[r.Cluster], r.PrimaryCategory)
			assert.Equal(t, r.Memberships[r.PrimaryCategory], r.PrimaryConfidence)
		}
	})

	t.Run("width mismatch", func(t *testing.T) {
		_, err := e.Predict([][]float64{{1, 2}})
		var dim *DimensionError
		require.ErrorAs(t, err, &dim)
		assert.Equal(t, 3, dim.Expected)
		assert.Equal(t, 2, dim.Got)
	})

	t.Run("empty input", func(t *testing.T) {
		results, err := e.Predict(nil)
		assert.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestPredict_NotTrained(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Predict([][]float64{{1, 2, 3}})
	assert.ErrorIs(t, err, ErrNotTrained)
	_, err = e.Evaluate([][]float64{{1, 2, 3}}, []string{"x"})
	assert.ErrorIs(t, err, ErrNotTrained)
	_, err = e.Snapshot()
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestFitAndPredict(t *testing.T) {
	X, _ := blobs(20, 6)
	e := newTestEngine(t, nil)

	results, stats, err := e.FitAndPredict(X)
	require.NoError(t, err)
	assert.Len(t, results, len(X))
	assert.Equal(t, len(X), stats.Samples)
	assert.True(t, e.Trained())
}

func TestClassify_SecondaryThreshold(t *testing.T) {
	labels := []string{"A", "B", "C", "D", "E"}

	t.Run("above threshold", func(t *testing.T) {
		c := classify(labels, []float64{0.55, 0.25, 0.20, 0, 0})
		assert.Equal(t, "A", c.PrimaryCategory)
		assert.Equal(t, 55.0, c.PrimaryConfidence)
		assert.True(t, c.HasSecondary())
		assert.Equal(t, "B", c.SecondaryCategory)
		assert.Equal(t, 25.0, c.SecondaryConfidence)
	})

	t.Run("below threshold", func(t *testing.T) {
		c := classify(labels, []float64{0.7, 0.15, 0.1, 0.05, 0})
		assert.Equal(t, "A", c.PrimaryCategory)
		assert.False(t, c.HasSecondary())
		assert.Zero(t, c.SecondaryConfidence)
	})

	t.Run("exactly at threshold", func(t *testing.T) {
		c := classify(labels, []float64{0.6, 0.2, 0.1, 0.1, 0})
		assert.False(t, c.HasSecondary())
	})

	t.Run("primary not first", func(t *testing.T) {
		c := classify(labels, []float64{0.1, 0.1, 0.3, 0.5, 0})
		assert.Equal(t, "D", c.PrimaryCategory)
		assert.Equal(t, 3, c.Cluster)
		assert.Equal(t, "C", c.SecondaryCategory)
	})

	t.Run("rounding", func(t *testing.T) {
		c := classify(labels, []float64{0.12344, 0.87656, 0, 0, 0})
		assert.Equal(t, 12.3, c.Memberships["A"])
		assert.Equal(t, 87.7, c.Memberships["B"])
	})
}

func TestRefine(t *testing.T) {
	X, _ := blobs(20, 7)
	e := newTestEngine(t, nil)

	_, err := e.Refine(X)
	assert.ErrorIs(t, err, ErrNotTrained)

	_, err = e.Fit(X)
	require.NoError(t, err)
	before, err := e.Predict(X)
	require.NoError(t, err)

	more, _ := blobs(20, 8)
	stats, err := e.Refine(more)
	require.NoError(t, err)
	assert.Equal(t, len(more), stats.Samples)

	after, err := e.Predict(X)
	require.NoError(t, err)
	same := 0
	for i := range before {
		if before[i].Cluster == after[i].Cluster {
			same++
		}
	}
	assert.Greater(t, same, 90, "warm start keeps cluster identities")
}
