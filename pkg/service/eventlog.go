package service

import (
	"sync"

	"github.com/lucid-vigil/threatcluster/pkg/features"
)

// eventLog retains the most recent classified events for retraining. It
// overwrites the oldest entry once full.
type eventLog struct {
	mu    sync.Mutex
	buf   []features.Event
	next  int
	full  bool
	total int64
}

func newEventLog(capacity int) *eventLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &eventLog{buf: make([]features.Event, capacity)}
}

func (l *eventLog) add(evs []features.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range evs {
		l.buf[l.next] = ev
		l.next++
		if l.next == len(l.buf) {
			l.next = 0
			l.full = true
		}
	}
	l.total += int64(len(evs))
}

// snapshot returns the retained events, oldest first.
func (l *eventLog) snapshot() []features.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		out := make([]features.Event, l.next)
		copy(out, l.buf[:l.next])
		return out
	}
	out := make([]features.Event, 0, len(l.buf))
	out = append(out, l.buf[l.next:]...)
	return append(out, l.buf[:l.next]...)
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.buf)
	}
	return l.next
}

// seen is the number of events ever added, including a restored baseline.
func (l *eventLog) seen() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// resume raises the seen counter to a previously persisted value.
func (l *eventLog) resume(total int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if total > l.total {
		l.total = total
	}
}
