// Package logger owns the daemon process's structured log: one zerolog
// instance tagged service=clusterd that every daemon-side package writes
// through. Worker processes never use this package; they log straight to
// their own stderr so log lines cannot interleave with the stdout message
// stream the daemon's line scanner reads (see internal/ipc).
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

// Init configures the shared logger at the given level. pretty switches to
// the human-readable console format for development; production
// deployments keep JSON lines.
func Init(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(lvl)
	log = New(os.Stdout, pretty)
}

// New builds a clusterd-tagged logger writing to w, the same shape Init
// installs globally.
func New(w io.Writer, pretty bool) zerolog.Logger {
	var output io.Writer = w
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "clusterd").
		Logger()
}

func Get() *zerolog.Logger {
	return &log
}

func WithComponent(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithWorker tags a sub-logger with a worker process's pid, the identity
// the pool and scheduler track workers by.
func WithWorker(pid int) zerolog.Logger {
	return log.With().Int("worker_pid", pid).Logger()
}

// WithTask tags a sub-logger with a task identifier.
func WithTask(ident string) zerolog.Logger {
	return log.With().Str("ident", ident).Logger()
}

// Convenience methods
func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}
