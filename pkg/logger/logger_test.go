package logger

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	level, logger := zerolog.GlobalLevel(), log.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(level)
		log.Logger = logger
	})
}

func TestInitLoggerTo_Levels(t *testing.T) {
	restoreGlobals(t)

	tests := []struct {
		level     string
		want      zerolog.Level
		announced bool // the init message is logged at info
	}{
		{"debug", zerolog.DebugLevel, true},
		{"info", zerolog.InfoLevel, true},
		{"warn", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"fatal", zerolog.FatalLevel, false},
		{"panic", zerolog.PanicLevel, false},
		{"", zerolog.InfoLevel, true},
		{"verbose", zerolog.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run("level_"+tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			InitLoggerTo(&buf, tt.level)

			assert.Equal(t, tt.want, zerolog.GlobalLevel())
			if tt.announced {
				assert.Contains(t, buf.String(), "Logger initialized with level: "+tt.want.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestInitLoggerTo_Fields(t *testing.T) {
	restoreGlobals(t)

	var buf bytes.Buffer
	InitLoggerTo(&buf, "debug")
	log.Debug().Str("component", "classifier").Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"component":"classifier"`)
	assert.Contains(t, out, `"time":`)
}

func TestInitLogger_Stdout(t *testing.T) {
	restoreGlobals(t)
	oldStdout := os.Stdout
	t.Cleanup(func() { os.Stdout = oldStdout })

	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	InitLogger("info")
	w.Close()
	out, _ := io.ReadAll(r)
	r.Close()

	assert.Contains(t, string(out), "Logger initialized with level: info")
}
