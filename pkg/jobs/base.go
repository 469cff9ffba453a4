// Package jobs holds the scheduled background jobs of the classifier
// service.
package jobs

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is a point-in-time view of a job.
type Status struct {
	Name      string                 `json:"name"`
	Runs      int64                  `json:"runs"`
	LastRun   time.Time              `json:"last_run,omitempty"`
	LastError string                 `json:"last_error,omitempty"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
}

// Base provides the bookkeeping shared by all jobs: run counts, the last
// error and free-form metrics.
type Base struct {
	name      string
	runs      int64
	lastRun   time.Time
	lastError error
	metrics   map[string]interface{}
	logger    zerolog.Logger
	mu        sync.Mutex // protects everything above except name and logger
}

// NewBase creates a Base with a logger tagged with the job name.
func NewBase(name string, logger zerolog.Logger) *Base {
	return &Base{
		name:    name,
		logger:  logger.With().Str("job", name).Logger(),
		metrics: make(map[string]interface{}),
	}
}

// Name returns the job's name.
func (b *Base) Name() string {
	return b.name
}

// LastError returns the error of the last run, if it failed.
func (b *Base) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// Status returns a copy of the job's bookkeeping.
func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{
		Name:    b.name,
		Runs:    b.runs,
		LastRun: b.lastRun,
		Metrics: make(map[string]interface{}, len(b.metrics)),
	}
	if b.lastError != nil {
		st.LastError = b.lastError.Error()
	}
	for k, v := range b.metrics {
		st.Metrics[k] = v
	}
	return st
}

// UpdateMetrics is a helper to update a metric value.
func (b *Base) UpdateMetrics(key string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics[key] = value
}

// finish records the outcome of a run.
func (b *Base) finish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runs++
	b.lastRun = time.Now().UTC()
	b.lastError = err
}
