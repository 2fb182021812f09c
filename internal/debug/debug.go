// Package debug provides context-based debug mode with structured logging.
package debug

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type contextKey string

const debugKey contextKey = "debug_enabled"

// WithDebug returns a context with debug mode enabled/disabled.
func WithDebug(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, debugKey, enabled)
}

// IsEnabled returns true if debug mode is enabled in the context.
func IsEnabled(ctx context.Context) bool {
	if v, ok := ctx.Value(debugKey).(bool); ok {
		return v
	}
	return false
}

// SetupLogger builds the process logger. Debug mode logs everything at
// debug level and up; otherwise only warnings and errors reach stderr.
func SetupLogger(debugEnabled bool) zerolog.Logger {
	return NewLogger(os.Stderr, debugEnabled)
}

// NewLogger is SetupLogger with an explicit writer.
func NewLogger(w io.Writer, debugEnabled bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if debugEnabled {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: true}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
