// Package events carries what the classifier service reports about its model
// and about the traffic it classifies, and validates the events it ingests.
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType names a cluster event.
type EventType string

const (
	EventModelTrained     EventType = "model_trained"
	EventModelReloaded    EventType = "model_reloaded"
	EventTrainingFailed   EventType = "training_failed"
	EventRetrainSkipped   EventType = "retrain_skipped"
	EventThreatClassified EventType = "threat_classified"
)

// ErrEventBusBufferFull is returned by Publish when the queue is full.
var ErrEventBusBufferFull = errors.New("event bus buffer is full")

// ClusterEvent is something the classifier service reports about itself or
// about the events it classified.
type ClusterEvent struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Source      string                 `json:"source"` // component that published it
	Severity    string                 `json:"severity"`
	Timestamp   time.Time              `json:"timestamp"`
	Description string                 `json:"description"`
	Data        map[string]interface{} `json:"data"`
}

// EventHandler receives the event types it lists.
type EventHandler interface {
	Handle(ctx context.Context, event ClusterEvent) error
	GetEventTypes() []EventType
}

// EventMetrics is a point-in-time copy of the bus counters.
type EventMetrics struct {
	EventsPublished int64            `json:"events_published"`
	EventsProcessed int64            `json:"events_processed"`
	EventsDropped   int64            `json:"events_dropped"`
	EventsByType    map[string]int64 `json:"events_by_type"`
	HandlerErrors   int64            `json:"handler_errors"`
	LastProcessing  time.Duration    `json:"last_processing_time"`
}

// EventBus queues published events and delivers them, in publish order, to
// the handlers subscribed to their type. Delivery runs on one goroutine, so a
// handler never sees two events at once.
type EventBus struct {
	queue  chan ClusterEvent
	logger zerolog.Logger

	mu             sync.RWMutex
	handlers       map[EventType][]EventHandler
	byType         map[string]int64
	lastProcessing time.Duration

	published     atomic.Int64
	processed     atomic.Int64
	dropped       atomic.Int64
	handlerErrors atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewEventBus creates a bus queueing up to bufferSize events (1000 when
// bufferSize is not positive).
func NewEventBus(logger zerolog.Logger, bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &EventBus{
		queue:    make(chan ClusterEvent, bufferSize),
		logger:   logger.With().Str("component", "event_bus").Logger(),
		handlers: make(map[EventType][]EventHandler),
		byType:   make(map[string]int64),
		done:     make(chan struct{}),
	}
}

// Subscribe registers handler for every type it lists.
func (eb *EventBus) Subscribe(handler EventHandler) {
	types := handler.GetEventTypes()

	eb.mu.Lock()
	defer eb.mu.Unlock()
	for _, t := range types {
		eb.handlers[t] = append(eb.handlers[t], handler)
	}
	eb.logger.Debug().Interface("event_types", types).Msg("Handler subscribed")
}

// Publish queues event without blocking, filling in its ID and timestamp.
// When the queue is full the event is dropped and ErrEventBusBufferFull is
// returned.
func (eb *EventBus) Publish(_ context.Context, event ClusterEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case eb.queue <- event:
		eb.published.Add(1)
		return nil
	default:
		eb.dropped.Add(1)
		eb.logger.Warn().
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Event bus buffer full, dropping event")
		return ErrEventBusBufferFull
	}
}

// Start delivers queued events until ctx is cancelled or Stop is called.
// Only the first call has an effect.
func (eb *EventBus) Start(ctx context.Context) {
	eb.startOnce.Do(func() {
		eb.wg.Add(1)
		go eb.run(ctx)
	})
}

// Stop ends delivery and waits for the event in flight. Events still queued
// are discarded.
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() { close(eb.done) })
	eb.wg.Wait()
}

func (eb *EventBus) run(ctx context.Context) {
	defer eb.wg.Done()
	eb.logger.Info().Int("buffer_size", cap(eb.queue)).Msg("Event bus started")
	for {
		select {
		case event := <-eb.queue:
			eb.deliver(ctx, event)
		case <-ctx.Done():
			eb.logger.Info().Msg("Event bus stopped: context cancelled")
			return
		case <-eb.done:
			eb.logger.Info().Msg("Event bus stopped")
			return
		}
	}
}

func (eb *EventBus) deliver(ctx context.Context, event ClusterEvent) {
	start := time.Now()

	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		if err := h.Handle(ctx, event); err != nil {
			eb.handlerErrors.Add(1)
			eb.logger.Error().
				Err(err).
				Str("event_id", event.ID).
				Str("type", string(event.Type)).
				Msg("Handler failed")
		}
	}

	eb.mu.Lock()
	eb.byType[string(event.Type)]++
	eb.lastProcessing = time.Since(start)
	eb.mu.Unlock()
	eb.processed.Add(1)
}

// GetMetrics returns a copy of the bus counters.
func (eb *EventBus) GetMetrics() EventMetrics {
	eb.mu.RLock()
	byType := make(map[string]int64, len(eb.byType))
	for k, v := range eb.byType {
		byType[k] = v
	}
	last := eb.lastProcessing
	eb.mu.RUnlock()

	return EventMetrics{
		EventsPublished: eb.published.Load(),
		EventsProcessed: eb.processed.Load(),
		EventsDropped:   eb.dropped.Load(),
		EventsByType:    byType,
		HandlerErrors:   eb.handlerErrors.Load(),
		LastProcessing:  last,
	}
}
