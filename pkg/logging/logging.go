// Package logging wraps zerolog the way pkg/logger built the package-level
// Log value (logger.With().Caller().Logger()), but parameterized: IterWalk
// runs concurrently in tests and in a long-lived CLI process, so each run
// gets its own zerolog.Logger carrying run_id/pair fields rather than
// sharing one global. The CLI entry point still uses log/slog directly, the
// way cmd/manipulator/main.go does, and bridges into this package only at
// the library boundary.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// New builds a console-formatted logger writing to w (os.Stderr if nil),
// with caller information attached the way the teacher's package-level
// logger does.
func New(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Caller().Logger()
}

// ForRun returns a child logger scoped to one IterWalk invocation.
func ForRun(base zerolog.Logger, runID string) zerolog.Logger {
	return base.With().Str("run_id", runID).Logger()
}

// ForPair returns a child logger scoped to one (detector, motor) pair index
// within a run.
func ForPair(base zerolog.Logger, pair int) zerolog.Logger {
	return base.With().Int("pair", pair).Logger()
}

// Nop returns a logger that discards everything, for tests that don't care
// about log output.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
