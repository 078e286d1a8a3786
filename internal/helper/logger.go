package helper

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger configures the global zerolog logger. Unknown levels fall back to info.
func SetupLogger(level string, pretty bool) {
	SetupLoggerTo(os.Stdout, level, pretty)
}

func SetupLoggerTo(w io.Writer, level string, pretty bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Caller().Logger()
		return
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}
