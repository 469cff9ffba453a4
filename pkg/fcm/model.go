package fcm

import (
	"fmt"
	"time"
)

// Model is the persistable state of a trained engine.
type Model struct {
	Schema    string      `json:"schema"`
	Labels    []string    `json:"labels"`
	Fuzziness float64     `json:"fuzziness"`
	Centers   [][]float64 `json:"centers"`
	Scaler    *Scaler     `json:"scaler"`
	Samples   int         `json:"n_samples"`
	TrainedAt time.Time   `json:"trained_at"`
}

// Snapshot returns a deep copy of the trained state.
func (e *Engine) Snapshot() (*Model, error) {
	if !e.Trained() {
		return nil, ErrNotTrained
	}
	return &Model{
		Schema:    e.cfg.Schema,
		Labels:    e.Labels(),
		Fuzziness: e.cfg.Fuzziness,
		Centers:   cloneMatrix(e.centers),
		Scaler:    e.scaler.clone(),
		Samples:   e.samples,
		TrainedAt: e.trainedAt,
	}, nil
}

// Restore replaces the trained state with m. The model must match the
// engine's schema fingerprint, cluster count and labels. On error nothing is
// changed.
func (e *Engine) Restore(m *Model) error {
	if m == nil {
		return fmt.Errorf("restore: nil model")
	}
	if m.Schema != e.cfg.Schema {
		return &SchemaMismatchError{Expected: e.cfg.Schema, Got: m.Schema}
	}
	if len(m.Centers) != e.cfg.Clusters {
		return &DimensionError{What: "model centers", Row: -1, Expected: e.cfg.Clusters, Got: len(m.Centers)}
	}
	if len(m.Labels) != len(e.cfg.Labels) {
		return &DimensionError{What: "model labels", Row: -1, Expected: len(e.cfg.Labels), Got: len(m.Labels)}
	}
	for k, l := range m.Labels {
		if l != e.cfg.Labels[k] {
			return fmt.Errorf("restore: cluster %d is labelled %q in the model, %q in the engine", k, l, e.cfg.Labels[k])
		}
	}
	if m.Scaler == nil || m.Scaler.Width() == 0 || len(m.Scaler.Std) != m.Scaler.Width() {
		return fmt.Errorf("restore: model has no usable scaling parameters")
	}
	if _, err := checkRows("model centers", m.Centers, m.Scaler.Width()); err != nil {
		return err
	}

	if m.Fuzziness != e.cfg.Fuzziness {
		e.logger.Warn().
			Float64("model_fuzziness", m.Fuzziness).
			Float64("engine_fuzziness", e.cfg.Fuzziness).
			Msg("Restored model was trained with a different fuzziness")
	}

	e.centers = cloneMatrix(m.Centers)
	e.scaler = m.Scaler.clone()
	e.samples = m.Samples
	e.trainedAt = m.TrainedAt
	e.logger.Info().
		Int("samples", m.Samples).
		Time("trained_at", m.TrainedAt).
		Msg("Model restored")
	return nil
}
