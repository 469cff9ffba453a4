package events

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// AlertHandler logs a warning for every classified threat whose primary
// confidence reaches MinConfidence. Repeats for the same source and category
// inside the deduplication window are dropped.
type AlertHandler struct {
	MinConfidence float64
	dedup         *Deduplicator
	logger        zerolog.Logger
	raised        atomic.Int64
}

// NewAlertHandler creates an alert handler. dedup may be nil.
func NewAlertHandler(minConfidence float64, dedup *Deduplicator, logger zerolog.Logger) *AlertHandler {
	return &AlertHandler{
		MinConfidence: minConfidence,
		dedup:         dedup,
		logger:        logger.With().Str("component", "alert_handler").Logger(),
	}
}

func (h *AlertHandler) GetEventTypes() []EventType {
	return []EventType{EventThreatClassified}
}

func (h *AlertHandler) Handle(_ context.Context, event ClusterEvent) error {
	confidence, _ := event.Data["confidence"].(float64)
	if confidence < h.MinConfidence {
		return nil
	}
	category, _ := event.Data["category"].(string)
	source, _ := event.Data["source_ip"].(string)

	if h.dedup != nil && h.dedup.IsDuplicate(fmt.Sprintf("%s|%s", source, category)) {
		return nil
	}
	h.raised.Add(1)

	ev := h.logger.Warn().
		Str("category", category).
		Float64("confidence", confidence).
		Str("source_ip", source)
	if secondary, ok := event.Data["secondary_category"].(string); ok && secondary != "" {
		ev = ev.Str("secondary_category", secondary)
	}
	ev.Msg("High-confidence threat classified")
	return nil
}

// Raised is the number of alerts logged so far.
func (h *AlertHandler) Raised() int64 {
	return h.raised.Load()
}
