package fcm

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTrained is returned by operations that need retained centers.
	ErrNotTrained = errors.New("model is not trained: fit it on at least as many events as there are clusters first")
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid engine configuration")
)

// InsufficientDataError reports a fit attempt with fewer samples than clusters.
type InsufficientDataError struct {
	Samples  int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("need at least %d events to train, got %d", e.Required, e.Samples)
}

// DimensionError reports input whose shape does not match what the engine
// expects. Row is -1 when the mismatch is not tied to a single row.
type DimensionError struct {
	What     string
	Row      int
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("%s: row %d has %d values, expected %d", e.What, e.Row, e.Got, e.Expected)
	}
	return fmt.Sprintf("%s: got %d, expected %d", e.What, e.Got, e.Expected)
}

// SchemaMismatchError reports a model trained on a different feature layout.
type SchemaMismatchError struct {
	Expected string
	Got      string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("feature schema mismatch: model was trained on %q, engine expects %q", e.Got, e.Expected)
}
