// pkg/events/validator.go
package events

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lucid-vigil/threatcluster/pkg/features"
)

// ErrRateLimited is returned when a source exceeds its ingest rate.
var ErrRateLimited = errors.New("rate limit exceeded")

// ValidationError names the event field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidatorConfig configures ingest validation.
type ValidatorConfig struct {
	RatePerMinute int `mapstructure:"rate_per_minute"`
	Burst         int `mapstructure:"burst"`
	MaxBatch      int `mapstructure:"max_batch"`
}

// EventValidator validates and sanitizes ingested security events and
// rate-limits them per source IP.
type EventValidator struct {
	mu           sync.Mutex
	rateLimiters map[string]*rate.Limiter // source -> rate limiter
	limit        rate.Limit
	burst        int
	maxBatch     int
}

// NewEventValidator creates a new event validator. A zero rate disables
// rate limiting.
func NewEventValidator(cfg ValidatorConfig) *EventValidator {
	ev := &EventValidator{
		rateLimiters: make(map[string]*rate.Limiter),
		limit:        rate.Inf,
		burst:        cfg.Burst,
		maxBatch:     cfg.MaxBatch,
	}
	if cfg.RatePerMinute > 0 {
		ev.limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
	}
	if ev.burst <= 0 {
		ev.burst = 10
	}
	return ev
}

// ValidateBatch checks the batch size limit.
func (ev *EventValidator) ValidateBatch(n int) error {
	if ev.maxBatch > 0 && n > ev.maxBatch {
		return &ValidationError{Field: "batch", Reason: fmt.Sprintf("%d events exceeds the limit of %d", n, ev.maxBatch)}
	}
	return nil
}

// ValidateEvent checks value ranges, sanitizes free-text fields in place and
// applies the per-source rate limit.
func (ev *EventValidator) ValidateEvent(event *features.Event) error {
	counters := []struct {
		name string
		v    float64
	}{
		{"bytes_in", event.BytesIn},
		{"bytes_out", event.BytesOut},
		{"packets", event.Packets},
		{"duration", event.Duration},
	}
	for _, c := range counters {
		if math.IsNaN(c.v) || math.IsInf(c.v, 0) {
			return &ValidationError{Field: c.name, Reason: "must be a finite number"}
		}
		if c.v < 0 {
			return &ValidationError{Field: c.name, Reason: "must not be negative"}
		}
	}
	if event.Port < 0 || event.Port > 65535 {
		return &ValidationError{Field: "port", Reason: fmt.Sprintf("%d is outside 0-65535", event.Port)}
	}
	if event.RiskScore != nil {
		r := *event.RiskScore
		if math.IsNaN(r) || r < 0 || r > 100 {
			return &ValidationError{Field: "risk_score", Reason: "must be between 0 and 100"}
		}
	}

	event.AttackType = sanitizeString(event.AttackType)
	event.SourceIP = sanitizeString(event.SourceIP)
	event.ID = sanitizeString(event.ID)

	if !ev.checkRateLimit(event.SourceIP) {
		return fmt.Errorf("%w for source %q", ErrRateLimited, event.SourceIP)
	}
	return nil
}

// checkRateLimit checks if the event source is within rate limits
func (ev *EventValidator) checkRateLimit(source string) bool {
	if ev.limit == rate.Inf {
		return true
	}
	ev.mu.Lock()
	limiter, exists := ev.rateLimiters[source]
	if !exists {
		limiter = rate.NewLimiter(ev.limit, ev.burst)
		ev.rateLimiters[source] = limiter
	}
	ev.mu.Unlock()

	return limiter.Allow()
}

// sanitizeString removes control characters and caps the length
func sanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")

	if len(s) > 256 {
		s = s[:256]
	}

	return strings.TrimSpace(s)
}
