package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config configures a Logger
type Config struct {
	Level       string
	ServiceName string
	Format      string // "json" or "console"
	Output      io.Writer
}

// Logger wraps zerolog.Logger
type Logger struct {
	zerolog.Logger
}

type ctxKey struct{}

// New creates a logger. It holds no global state; pass it to constructors.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if cfg.ServiceName != "" {
		zl = zl.With().Str("service", cfg.ServiceName).Logger()
	}

	return &Logger{Logger: zl}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// With returns a child logger with the given string fields, given as
// alternating key/value pairs
func (l *Logger) With(kv ...string) *Logger {
	c := l.Logger.With()
	for i := 0; i+1 < len(kv); i += 2 {
		c = c.Str(kv[i], kv[i+1])
	}
	return &Logger{Logger: c.Logger()}
}

// WithInt64 returns a child logger with an int64 field
func (l *Logger) WithInt64(key string, v int64) *Logger {
	return &Logger{Logger: l.Logger.With().Int64(key, v).Logger()}
}

// NewContext stores l in ctx
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or fallback if there is none
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return Nop()
}
