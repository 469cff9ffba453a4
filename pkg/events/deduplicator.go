// pkg/events/deduplicator.go
package events

import (
	"sync"
	"time"
)

// Deduplicator suppresses repeats of the same key within a time window.
type Deduplicator struct {
	seen   map[string]time.Time
	window time.Duration
	mu     sync.Mutex
	now    func() time.Time
}

// NewDeduplicator creates a deduplicator. Expired keys are pruned lazily
// on each call.
func NewDeduplicator(window time.Duration) *Deduplicator {
	return &Deduplicator{
		seen:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// IsDuplicate reports whether key was seen within the window and records
// it otherwise.
func (d *Deduplicator) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		return true
	}
	d.seen[key] = now
	d.cleanup(now)
	return false
}

// cleanup removes expired entries. Callers hold mu.
func (d *Deduplicator) cleanup(now time.Time) {
	cutoff := now.Add(-d.window)
	for key, ts := range d.seen {
		if ts.Before(cutoff) {
			delete(d.seen, key)
		}
	}
}
