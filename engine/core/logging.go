package core

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
)

// Logger is the logging context handed to every component at construction.
// There is no package level logger: whoever builds a component decides where
// its output goes.
type Logger struct {
	*log.Logger
}

type LoggerOptions struct {
	Output       io.Writer
	Level        string
	ReportCaller bool
	Prefix       string
}

func NewLogger(opts LoggerOptions) (*Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "Envgraph 🛰️ "
	}
	l := log.NewWithOptions(out, log.Options{
		ReportCaller:    opts.ReportCaller,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          prefix,
	})
	logger := &Logger{l}
	if opts.Level != "" {
		if err := logger.SetLevelName(opts.Level); err != nil {
			return nil, err
		}
	}
	return logger, nil
}

// NewDiscardLogger returns a logger that drops everything. Used by tests.
func NewDiscardLogger() *Logger {
	return &Logger{log.New(io.Discard)}
}

// SetLevelName parses a level such as "debug" or "warn" and applies it.
func (l *Logger) SetLevelName(name string) error {
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return errors.Wrapf(ErrInvalidConfig, "unknown log level %q", name)
	}
	l.SetLevel(lvl)
	return nil
}

// Named returns a child logger carrying the component name as a key.
func (l *Logger) Named(component string) *Logger {
	return &Logger{l.With("component", component)}
}

// WithFields returns a child logger with extra key/value pairs attached.
func (l *Logger) WithFields(keyvals ...interface{}) *Logger {
	return &Logger{l.With(keyvals...)}
}
