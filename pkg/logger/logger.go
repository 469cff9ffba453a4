package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger points the global logger at stdout as JSON and sets the global
// level from logLevel ("debug", "info", "warn", ...). Unknown or empty levels
// fall back to info.
func InitLogger(logLevel string) {
	InitLoggerTo(os.Stdout, logLevel)
}

// InitLoggerTo is InitLogger with an explicit destination. The one-shot
// commands log to stderr so their results can be piped from stdout.
func InitLoggerTo(w io.Writer, logLevel string) {
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(parseLevel(logLevel))

	log.Info().Msgf("Logger initialized with level: %s", zerolog.GlobalLevel().String())
}

func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel || level == zerolog.TraceLevel {
		return zerolog.InfoLevel
	}
	return level
}
