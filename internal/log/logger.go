package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Option tweaks the logger built by New.
type Option func(*options)

type options struct {
	out  io.Writer
	json bool
}

// WithOutput sends log lines to w instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithJSON disables the console writer.
func WithJSON() Option {
	return func(o *options) { o.json = true }
}

// New builds a zerolog logger with the given level string (debug, info, warn, error).
func New(level string, opts ...Option) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	out := o.out
	if !o.json {
		out = zerolog.ConsoleWriter{
			Out:        o.out,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Logger()
	return &logger
}

// ParseLevel maps a level name to zerolog; unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
