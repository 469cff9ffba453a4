// Package store persists trained clustering models together with a log of
// training runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lucid-vigil/threatcluster/pkg/fcm"
)

// ErrNotFound is returned when no model has been saved under a name.
var ErrNotFound = errors.New("model not found")

// historyLimit caps the number of training records kept per store.
const historyLimit = 100

// TrainingRecord describes one saved training run.
type TrainingRecord struct {
	RunID      string    `json:"run_id"`
	Model      string    `json:"model_name"`
	Source     string    `json:"source"`
	Samples    int       `json:"n_samples"`
	EventsSeen int64     `json:"events_seen"`
	Iterations int       `json:"iterations"`
	Converged  bool      `json:"converged"`
	Schema     string    `json:"schema"`
	SavedAt    time.Time `json:"saved_at"`
}

// Store saves and loads models by name.
type Store interface {
	// Save writes the model and appends rec to the training history.
	Save(ctx context.Context, name string, m *fcm.Model, rec TrainingRecord) error
	// Load returns the latest saved model or ErrNotFound.
	Load(ctx context.Context, name string) (*fcm.Model, error)
	// History returns training records for name, oldest first.
	History(ctx context.Context, name string) ([]TrainingRecord, error)
	// Latest returns the most recent training record or ErrNotFound.
	Latest(ctx context.Context, name string) (*TrainingRecord, error)
	Close() error
}

// LastSampleCount returns the sample count of the latest training run, or 0
// when name has never been trained.
func LastSampleCount(ctx context.Context, s Store, name string) (int, error) {
	rec, err := s.Latest(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.Samples, nil
}

func latest(records []TrainingRecord) (*TrainingRecord, error) {
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	rec := records[len(records)-1]
	return &rec, nil
}
