package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// L is the global logger. It writes to stderr with default settings until
// Init is called, so packages and tests can log before startup completes.
var L = slog.Default()

// ParseLevel maps debug|info|warn|error to a slog level. Unknown values
// yield info and false.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// Init replaces the global logger with a JSON logger on stdout.
// Call once at startup, after loading config.
func Init(level string) {
	InitWriter(os.Stdout, level)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level string) {
	lvl, ok := ParseLevel(level)

	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	L = slog.New(slog.NewJSONHandler(w, opts))
	slog.SetDefault(L)

	if !ok {
		L.Warn("invalid log level, defaulting to info", "configured", level)
	}
	L.Info("logger initialized", "level", lvl.String())
}

type ctxKey struct{}

// WithContext returns a context carrying l.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or the global one.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return L
}
