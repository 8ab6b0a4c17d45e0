package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithLogger(context.Background(), log)
	FromContext(ctx).Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("context logger not used: %q", buf.String())
	}
}

func TestFromContext_Fallback(t *testing.T) {
	t.Parallel()

	if FromContext(context.Background()) == nil {
		t.Error("expected the default logger, got nil")
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	log := Discard()
	if log == nil {
		t.Fatal("expected a logger")
	}
	log.Error("dropped") // must not panic or write anywhere visible
}
