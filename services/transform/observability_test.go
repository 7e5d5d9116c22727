// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/llmtransform/services/transform/edit"
	"github.com/AleutianAI/llmtransform/services/transform/wire"
)

// recordingTracer returns a Tracer whose spans land in the returned recorder.
func recordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	tracer := NewTracer(nil, true)
	tracer.tracer = provider.Tracer(transformTracerName)
	return tracer, recorder
}

func TestNewTracer(t *testing.T) {
	t.Run("creates tracer with logger", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tracer := NewTracer(logger, true)

		if tracer.logger != logger {
			t.Error("expected tracer to use provided logger")
		}
		if !tracer.enabled {
			t.Error("expected tracer to be enabled")
		}
	})

	t.Run("creates tracer with default logger", func(t *testing.T) {
		tracer := NewTracer(nil, false)

		if tracer.logger == nil {
			t.Error("expected tracer to have default logger")
		}
		if tracer.enabled {
			t.Error("expected tracer to be disabled")
		}
	})
}

func TestTracer_Disabled(t *testing.T) {
	ctx := context.Background()
	tracer := NewTracer(nil, false)

	newCtx, span := tracer.StartApply(ctx, "/a.go", "exec-1", 3)
	if newCtx != ctx {
		t.Error("expected context to be unchanged when disabled")
	}
	if span.SpanContext().IsValid() {
		t.Error("expected noop span when disabled")
	}
	tracer.EndApply(span, nil, nil)

	_, wspan := tracer.StartWrite(ctx, "/a.go")
	tracer.EndWrite(wspan, errors.New("boom"))
}

func TestTracer_ApplySpan(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	ctx, span := tracer.StartApply(context.Background(), "/repo/a.go", "exec-1", 2)
	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		t.Fatal("expected span in context")
	}

	tracer.RecordOutcomes(ctx, &edit.BatchResult{Outcomes: []edit.Outcome{
		{Status: edit.StatusApplied, Span: edit.Span{Start: 4, End: 6}},
		{Status: edit.StatusSkipped, Span: edit.Span{Start: 0, End: 5}, Reason: "checksum mismatch"},
	}})

	tracer.EndApply(span, &wire.Response{Success: true, AppliedCount: 1, SkippedCount: 1}, nil)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(spans))
	}
	if spans[0].Name() != "transform.apply" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	events := spans[0].Events()
	if len(events) != 1 || events[0].Name != "edit_skipped" {
		t.Errorf("expected one edit_skipped event, got %+v", events)
	}
}

func TestTracer_EndApplyFailure(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	_, span := tracer.StartApply(context.Background(), "/repo/a.go", "exec-2", 1)
	tracer.EndApply(span, &wire.Response{Success: false, Error: "edit at byte 0 failed"}, nil)

	_, span = tracer.StartApply(context.Background(), "/repo/a.go", "exec-3", 1)
	tracer.EndApply(span, nil, errors.New("locked"))

	for _, s := range recorder.Ended() {
		if s.Status().Code.String() != "Error" {
			t.Errorf("span %s status = %v, want Error", s.Name(), s.Status().Code)
		}
	}
}

func TestTracer_WriteSpan(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	_, span := tracer.StartWrite(context.Background(), "/repo/a.go")
	tracer.EndWrite(span, nil)

	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "transform.write" {
		t.Fatalf("unexpected spans: %+v", spans)
	}
}

func TestTruncateForTrace(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 3, "abc"},
		{"abcdef", 0, ""},
	}

	for _, tt := range tests {
		if got := truncateForTrace(tt.in, tt.maxLen); got != tt.want {
			t.Errorf("truncateForTrace(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
	}
}

func TestLoggerWithTrace(t *testing.T) {
	logger := slog.Default()

	if got := LoggerWithTrace(context.Background(), logger); got != logger {
		t.Error("expected unchanged logger without a span")
	}

	tracer, _ := recordingTracer(t)
	ctx, span := tracer.StartApply(context.Background(), "/a.go", "exec-1", 1)
	defer span.End()
	if got := LoggerWithTrace(ctx, logger); got == logger {
		t.Error("expected a derived logger with trace fields")
	}
}
