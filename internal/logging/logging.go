// Package logging builds the chatd process logger on [log/slog] and carries
// it through request contexts via [WithLogger] / [FromContext]. Every record
// from [New] carries a constant service attribute so chatd lines stay
// separable when several daemons share a log stream.
//
// Environment variables:
//
//	LOG_LEVEL  = debug | info | warn | error  (default: info)
//	LOG_FORMAT = json | text                  (default: json)
//	LOG_SOURCE = true | 1                     (annotate records with file:line)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// serviceName tags every record emitted through New.
const serviceName = "chatd"

// contextKey is an unexported type for context keys in this package.
type contextKey struct{}

// New constructs the process logger from environment variables. Records go
// to stderr: json for production, text for local development.
func New() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(os.Getenv("LOG_LEVEL")),
		AddSource: boolEnv("LOG_SOURCE"),
	}

	var handler slog.Handler
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler).With(slog.String("service", serviceName))
}

// Discard returns a logger that drops everything. For tests and for code
// paths that need a non-nil logger before configuration is read.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the [*slog.Logger] stored in ctx.
// If no logger is present it returns [slog.Default] so callers never
// need to nil-check.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// parseLevel converts a string to a [slog.Level], defaulting to Info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func boolEnv(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1"
}
