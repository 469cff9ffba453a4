// Package fcm implements Fuzzy C-Means clustering of security events into a
// fixed set of threat categories.
//
// An Engine is either untrained (no centers) or trained (centers and scaler
// retained). Fit moves it to trained; Predict, Memberships, Evaluate and
// Refine require it. The engine does no locking of its own: callers that
// share one engine between goroutines must serialize Fit, Refine and Restore
// against every other call.
package fcm

import (
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// TrainingStats describes one Fit or Refine run.
type TrainingStats struct {
	Samples             int       `json:"n_samples"`
	Clusters            int       `json:"n_clusters"`
	Features            int       `json:"n_features"`
	Iterations          int       `json:"iterations"`
	Converged           bool      `json:"converged"`
	FinalDelta          float64   `json:"final_delta"`
	DegenerateDistances int       `json:"degenerate_distances"`
	CollapsedClusters   int       `json:"collapsed_clusters"`
	TrainedAt           time.Time `json:"trained_at"`
}

// Engine is a Fuzzy C-Means model.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	centers   [][]float64
	scaler    *Scaler
	samples   int
	trainedAt time.Time
}

// New validates cfg and returns an untrained engine.
func New(cfg Config, logger zerolog.Logger) (*Engine, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", "fcm").Logger(),
	}, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	c := e.cfg
	c.Labels = e.Labels()
	return c
}

// Labels returns the cluster labels in cluster index order.
func (e *Engine) Labels() []string {
	out := make([]string, len(e.cfg.Labels))
	copy(out, e.cfg.Labels)
	return out
}

// Trained reports whether centers and scaling parameters are retained.
func (e *Engine) Trained() bool {
	return e.centers != nil && e.scaler != nil
}

// Width is the feature width the engine was trained on, or 0 when untrained.
func (e *Engine) Width() int {
	if e.scaler == nil {
		return 0
	}
	return e.scaler.Width()
}

// Centers returns a copy of the cluster centers in scaled feature space.
func (e *Engine) Centers() [][]float64 {
	return cloneMatrix(e.centers)
}

// Fit trains the engine on X, replacing any previous state. The engine fits
// its own standardization on X. On error nothing is changed.
func (e *Engine) Fit(X [][]float64) (*TrainingStats, error) {
	if len(X) < e.cfg.Clusters {
		return nil, &InsufficientDataError{Samples: len(X), Required: e.cfg.Clusters}
	}
	if _, err := checkRows("training input", X, len(X[0])); err != nil {
		return nil, err
	}

	scaler := FitScaler(X)
	Xs := scaler.Transform(X)

	e.logger.Debug().
		Int("samples", len(X)).
		Int("features", scaler.Width()).
		Int("clusters", e.cfg.Clusters).
		Float64("fuzziness", e.cfg.Fuzziness).
		Msg("Fitting fuzzy c-means")

	u := initMembership(len(Xs), e.cfg.Clusters, e.cfg.RandomSeed)
	centers, stats := e.optimize(Xs, u)

	e.centers = centers
	e.scaler = scaler
	e.samples = len(X)
	e.trainedAt = stats.TrainedAt

	e.logTraining("Fuzzy c-means fit complete", stats)
	return stats, nil
}

// Refine continues training from the retained centers on new data. The
// retained scaler is reused unchanged so earlier and later inputs stay on
// the same scale.
func (e *Engine) Refine(X [][]float64) (*TrainingStats, error) {
	if !e.Trained() {
		return nil, ErrNotTrained
	}
	if len(X) < e.cfg.Clusters {
		return nil, &InsufficientDataError{Samples: len(X), Required: e.cfg.Clusters}
	}
	if _, err := checkRows("training input", X, e.scaler.Width()); err != nil {
		return nil, err
	}

	Xs := e.scaler.Transform(X)
	u, _ := membership(Xs, e.centers, e.cfg.Fuzziness)
	centers, stats := e.optimize(Xs, u)

	e.centers = centers
	e.samples = len(X)
	e.trainedAt = stats.TrainedAt

	e.logTraining("Fuzzy c-means refine complete", stats)
	return stats, nil
}

// optimize runs the alternating center/membership updates starting from u.
// It never runs more than MaxIterations rounds.
func (e *Engine) optimize(Xs, u [][]float64) ([][]float64, *TrainingStats) {
	stats := &TrainingStats{
		Samples:  len(Xs),
		Clusters: e.cfg.Clusters,
		Features: len(Xs[0]),
	}

	var centers [][]float64
	for it := 1; it <= e.cfg.MaxIterations; it++ {
		var collapsed int
		centers, collapsed = updateCenters(Xs, u, e.cfg.Fuzziness, centers)
		stats.CollapsedClusters += collapsed
		next, degenerate := membership(Xs, centers, e.cfg.Fuzziness)
		stats.DegenerateDistances += degenerate

		delta := maxAbsDiff(u, next)
		u = next
		stats.Iterations = it
		stats.FinalDelta = delta
		if delta < e.cfg.ConvergenceThreshold {
			stats.Converged = true
			break
		}
	}
	stats.TrainedAt = time.Now().UTC()
	return centers, stats
}

func (e *Engine) logTraining(msg string, stats *TrainingStats) {
	ev := e.logger.Info()
	if !stats.Converged {
		ev = e.logger.Warn()
	}
	ev.Int("samples", stats.Samples).
		Int("iterations", stats.Iterations).
		Bool("converged", stats.Converged).
		Float64("final_delta", stats.FinalDelta).
		Int("degenerate_distances", stats.DegenerateDistances).
		Int("collapsed_clusters", stats.CollapsedClusters).
		Msg(msg)
}

// Memberships computes the membership matrix of X against the retained
// centers in a single pass. Rows of the result sum to 1.
func (e *Engine) Memberships(X [][]float64) ([][]float64, error) {
	if !e.Trained() {
		return nil, ErrNotTrained
	}
	if len(X) == 0 {
		return nil, nil
	}
	if _, err := checkRows("prediction input", X, e.scaler.Width()); err != nil {
		return nil, err
	}

	u, degenerate := membership(e.scaler.Transform(X), e.centers, e.cfg.Fuzziness)
	if degenerate > 0 {
		e.logger.Debug().Int("count", degenerate).Msg("Samples coincide with cluster centers; distances clamped")
	}
	return u, nil
}

// Predict classifies each row of X. It never trains; see FitAndPredict.
func (e *Engine) Predict(X [][]float64) ([]Classification, error) {
	u, err := e.Memberships(X)
	if err != nil {
		return nil, err
	}
	results := make([]Classification, len(u))
	for i, row := range u {
		results[i] = classify(e.cfg.Labels, row)
	}
	return results, nil
}

// FitAndPredict fits the engine on X and classifies the same rows. This
// replaces any previously trained state.
func (e *Engine) FitAndPredict(X [][]float64) ([]Classification, *TrainingStats, error) {
	stats, err := e.Fit(X)
	if err != nil {
		return nil, nil, err
	}
	results, err := e.Predict(X)
	if err != nil {
		return nil, nil, err
	}
	return results, stats, nil
}

// initMembership draws a random n×c matrix and normalizes each row to 1.
func initMembership(n, c int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	u := make([][]float64, n)
	for i := range u {
		row := make([]float64, c)
		for k := range row {
			// Float64 may return 0; keep every entry strictly positive.
			row[k] = rng.Float64() + math.SmallestNonzeroFloat64
		}
		floats.Scale(1/floats.Sum(row), row)
		u[i] = row
	}
	return u
}

// updateCenters returns the membership-weighted means of Xs, weighting each
// sample by u^m. A cluster whose weights all underflow to zero keeps its
// center from prev (the scaled origin when prev is nil) and is counted in
// the second return value.
func updateCenters(Xs, u [][]float64, m float64, prev [][]float64) ([][]float64, int) {
	c := len(u[0])
	width := len(Xs[0])
	centers := make([][]float64, c)
	collapsed := 0
	for k := 0; k < c; k++ {
		center := make([]float64, width)
		var total float64
		for i, x := range Xs {
			w := math.Pow(u[i][k], m)
			if w == 0 {
				continue
			}
			floats.AddScaled(center, w, x)
			total += w
		}
		switch {
		case total > 0:
			floats.Scale(1/total, center)
		case prev != nil:
			copy(center, prev[k])
			collapsed++
		default:
			collapsed++
		}
		centers[k] = center
	}
	return centers, collapsed
}

// membership computes u[i][k] = 1 / sum_j (d(i,k)/d(i,j))^(2/(m-1)). The
// ratios are taken against the row's nearest center, which is algebraically
// the same and keeps every power within (0, 1]. It also returns how many
// distances were clamped to distanceFloor.
func membership(Xs, centers [][]float64, m float64) ([][]float64, int) {
	p := 2 / (m - 1)
	degenerate := 0
	u := make([][]float64, len(Xs))
	dist := make([]float64, len(centers))
	for i, x := range Xs {
		for k, center := range centers {
			d := floats.Distance(x, center, 2)
			if d < distanceFloor || math.IsNaN(d) {
				d = distanceFloor
				degenerate++
			}
			dist[k] = d
		}
		nearest := floats.Min(dist)
		row := make([]float64, len(centers))
		for k, d := range dist {
			row[k] = math.Pow(nearest/d, p)
		}
		floats.Scale(1/floats.Sum(row), row)
		u[i] = row
	}
	return u, degenerate
}

func maxAbsDiff(a, b [][]float64) float64 {
	var max float64
	for i := range a {
		for k := range a[i] {
			if d := math.Abs(a[i][k] - b[i][k]); d > max {
				max = d
			}
		}
	}
	return max
}

// checkRows verifies every row of X has the expected width.
func checkRows(what string, X [][]float64, width int) (int, error) {
	for i, row := range X {
		if len(row) != width {
			return 0, &DimensionError{What: what, Row: i, Expected: width, Got: len(row)}
		}
	}
	if width == 0 {
		return 0, &DimensionError{What: what, Row: -1, Expected: 1, Got: 0}
	}
	return width, nil
}

func cloneMatrix(m [][]float64) [][]float64 {
	if m == nil {
		return nil
	}
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = make([]float64, len(row))
		copy(out[i], row)
	}
	return out
}
