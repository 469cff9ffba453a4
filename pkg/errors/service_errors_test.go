package errors

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceError(t *testing.T) {
	cause := stderrors.New("disk full")
	err := NewStorageError("file_store", "save", cause)

	assert.Equal(t, "[file_store] storage: Model store operation failed: save: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.Recoverable)
	assert.Equal(t, SeverityMedium, err.Severity)
}

func TestErrorHandler_LogsAndCollects(t *testing.T) {
	var buf bytes.Buffer
	collector := NewMemoryCollector()
	h := NewErrorHandler(zerolog.New(&buf), collector)

	require.NoError(t, h.HandleError(context.Background(), NewTrainingError("retrain", "fit", stderrors.New("boom"))))
	require.NoError(t, h.HandleError(context.Background(), NewResourceError("traffic_sampler", "net counters", nil)))

	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"cause":"boom"`)
	assert.Contains(t, out, "Training failed: fit")

	stats := h.Stats()
	assert.Equal(t, 2, stats.TotalErrors)
	assert.Equal(t, 1, stats.ErrorsByComponent["retrain"])
	assert.Equal(t, 1, stats.ErrorsBySeverity[SeverityHigh])
	assert.Equal(t, "resource", stats.LastError.ErrorType)
}

func TestErrorHandler_NoCollector(t *testing.T) {
	h := NewErrorHandler(zerolog.Nop(), nil)
	assert.NoError(t, h.HandleError(context.Background(), NewConfigError("config", nil, nil)))
	assert.Zero(t, h.Stats().TotalErrors)
}
