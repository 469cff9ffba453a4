// Package errors carries structured errors raised by background components
// such as the retrain job and the traffic sampler.
package errors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ServiceError represents a structured error from a service component.
type ServiceError struct {
	Component   string                 `json:"component"`
	ErrorType   string                 `json:"error_type"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Severity    Severity               `json:"severity"`
	Recoverable bool                   `json:"recoverable"`
	Cause       error                  `json:"-"`
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Error implements the error interface
func (se *ServiceError) Error() string {
	if se.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", se.Component, se.ErrorType, se.Message, se.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", se.Component, se.ErrorType, se.Message)
}

// Unwrap returns the underlying cause
func (se *ServiceError) Unwrap() error {
	return se.Cause
}

// ErrorCollector defines how errors are collected and reported
type ErrorCollector interface {
	CollectError(ctx context.Context, err *ServiceError) error
	GetErrorStats() ErrorStats
}

type ErrorStats struct {
	TotalErrors       int              `json:"total_errors"`
	ErrorsByType      map[string]int   `json:"errors_by_type"`
	ErrorsByComponent map[string]int   `json:"errors_by_component"`
	ErrorsBySeverity  map[Severity]int `json:"errors_by_severity"`
	LastError         *ServiceError    `json:"last_error,omitempty"`
}

// ErrorHandler logs service errors and forwards them to a collector.
type ErrorHandler struct {
	logger    zerolog.Logger
	collector ErrorCollector
}

// NewErrorHandler creates a new error handler. collector may be nil.
func NewErrorHandler(logger zerolog.Logger, collector ErrorCollector) *ErrorHandler {
	return &ErrorHandler{
		logger:    logger,
		collector: collector,
	}
}

// HandleError processes and reports a service error
func (eh *ErrorHandler) HandleError(ctx context.Context, err *ServiceError) error {
	logEvent := eh.getLogEvent(err.Severity).
		Str("component", err.Component).
		Str("error_type", err.ErrorType).
		Str("severity", string(err.Severity)).
		Bool("recoverable", err.Recoverable)

	if err.Details != nil {
		logEvent = logEvent.Interface("details", err.Details)
	}

	if err.Cause != nil {
		logEvent = logEvent.AnErr("cause", err.Cause)
	}

	logEvent.Msg(err.Message)

	if eh.collector != nil {
		return eh.collector.CollectError(ctx, err)
	}

	return nil
}

// Stats returns collector statistics, or empty stats without a collector.
func (eh *ErrorHandler) Stats() ErrorStats {
	if eh.collector == nil {
		return newErrorStats()
	}
	return eh.collector.GetErrorStats()
}

// getLogEvent returns the appropriate zerolog event for severity. Critical
// errors are logged at error level; the process keeps running.
func (eh *ErrorHandler) getLogEvent(severity Severity) *zerolog.Event {
	switch severity {
	case SeverityCritical, SeverityHigh:
		return eh.logger.Error()
	case SeverityMedium:
		return eh.logger.Warn()
	case SeverityLow:
		return eh.logger.Info()
	case SeverityInfo:
		return eh.logger.Debug()
	default:
		return eh.logger.Info()
	}
}

// MemoryCollector keeps error counters in memory.
type MemoryCollector struct {
	mu    sync.Mutex
	stats ErrorStats
}

// NewMemoryCollector returns an empty collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{stats: newErrorStats()}
}

// CollectError counts err by type, component and severity.
func (c *MemoryCollector) CollectError(_ context.Context, err *ServiceError) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalErrors++
	c.stats.ErrorsByType[err.ErrorType]++
	c.stats.ErrorsByComponent[err.Component]++
	c.stats.ErrorsBySeverity[err.Severity]++
	c.stats.LastError = err
	return nil
}

// GetErrorStats returns a copy of the counters.
func (c *MemoryCollector) GetErrorStats() ErrorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := newErrorStats()
	out.TotalErrors = c.stats.TotalErrors
	out.LastError = c.stats.LastError
	for k, v := range c.stats.ErrorsByType {
		out.ErrorsByType[k] = v
	}
	for k, v := range c.stats.ErrorsByComponent {
		out.ErrorsByComponent[k] = v
	}
	for k, v := range c.stats.ErrorsBySeverity {
		out.ErrorsBySeverity[k] = v
	}
	return out
}

func newErrorStats() ErrorStats {
	return ErrorStats{
		ErrorsByType:      make(map[string]int),
		ErrorsByComponent: make(map[string]int),
		ErrorsBySeverity:  make(map[Severity]int),
	}
}

// Helper functions for creating common error types

func NewConfigError(component string, cause error, details map[string]interface{}) *ServiceError {
	return &ServiceError{
		Component:   component,
		ErrorType:   "configuration",
		Message:     "Configuration error occurred",
		Details:     details,
		Timestamp:   time.Now(),
		Severity:    SeverityHigh,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewStorageError(component string, operation string, cause error) *ServiceError {
	return &ServiceError{
		Component: component,
		ErrorType: "storage",
		Message:   fmt.Sprintf("Model store operation failed: %s", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewResourceError(component string, resource string, cause error) *ServiceError {
	return &ServiceError{
		Component: component,
		ErrorType: "resource",
		Message:   fmt.Sprintf("Resource unavailable: %s", resource),
		Details: map[string]interface{}{
			"resource": resource,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewTrainingError(component string, stage string, cause error) *ServiceError {
	return &ServiceError{
		Component: component,
		ErrorType: "training",
		Message:   fmt.Sprintf("Training failed: %s", stage),
		Details: map[string]interface{}{
			"stage": stage,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityHigh,
		Recoverable: true,
		Cause:       cause,
	}
}
