// Package logging builds the engine's zerolog loggers.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns the root logger. level is one of trace|debug|info|warn|error;
// unknown values fall back to info. pretty switches to the console writer.
func New(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return log.Level(lvl)
}

// Component tags a child logger for one engine component.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// Nop returns a disabled logger for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
