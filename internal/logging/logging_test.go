package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range tests {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v want %v", input, got, want)
		}
	}
}

func TestStartSpanUsesRequestIDAsTrace(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), New(&buf, "debug"))
	ctx = WithRequestID(ctx, "req-1")

	ctx, parent := StartSpan(ctx, "outer")
	_, child := StartSpan(ctx, "inner")
	child.End()
	parent.End()

	if TraceIDFromContext(ctx) != "req-1" {
		t.Fatalf("expected request id reused as trace id got %q", TraceIDFromContext(ctx))
	}

	dec := json.NewDecoder(&buf)
	var inner map[string]any
	if err := dec.Decode(&inner); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inner["span_name"] != "inner" || inner["parent_span_id"] != SpanIDFromContext(ctx) || inner["trace_id"] != "req-1" {
		t.Fatalf("unexpected inner span record %v", inner)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Fatal("expected default logger")
	}
	if With(context.Background(), "k", "v") == nil {
		t.Fatal("expected enriched context")
	}
}
