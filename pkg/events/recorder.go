package events

import (
	"context"
	"sync"
	"time"
)

// Recorder keeps the cluster events published within a time window, up to
// a fixed count, for the status API.
type Recorder struct {
	window time.Duration
	limit  int
	types  []EventType

	mu     sync.RWMutex
	recent []ClusterEvent
}

// NewRecorder records events of the given types. With no types it records
// model lifecycle events.
func NewRecorder(window time.Duration, limit int, types ...EventType) *Recorder {
	if len(types) == 0 {
		types = []EventType{EventModelTrained, EventModelReloaded, EventTrainingFailed, EventRetrainSkipped}
	}
	if limit <= 0 {
		limit = 100
	}
	return &Recorder{window: window, limit: limit, types: types}
}

func (r *Recorder) GetEventTypes() []EventType {
	return r.types
}

func (r *Recorder) Handle(_ context.Context, event ClusterEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recent = append(r.recent, event)
	r.recent = filterEventsByTime(r.recent, time.Now().Add(-r.window))
	if len(r.recent) > r.limit {
		r.recent = r.recent[len(r.recent)-r.limit:]
	}
	return nil
}

// Recent returns recorded events, newest first.
func (r *Recorder) Recent() []ClusterEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-r.window)
	out := make([]ClusterEvent, 0, len(r.recent))
	for i := len(r.recent) - 1; i >= 0; i-- {
		if r.recent[i].Timestamp.After(cutoff) {
			out = append(out, r.recent[i])
		}
	}
	return out
}

// filterEventsByTime keeps events newer than cutoff
func filterEventsByTime(events []ClusterEvent, cutoff time.Time) []ClusterEvent {
	kept := events[:0]
	for _, e := range events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}
