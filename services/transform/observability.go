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
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/AleutianAI/llmtransform/services/transform/edit"
	"github.com/AleutianAI/llmtransform/services/transform/wire"
)

const transformTracerName = "llmtransform.transform"

// Tracer provides OpenTelemetry tracing for batch operations.
//
// # Description
//
// Wraps the OpenTelemetry tracer with batch-specific span creation and
// attributes. When disabled, returns noop spans.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a new batch tracer.
//
// # Inputs
//
//   - logger: Logger for structured logging. Uses slog.Default() if nil.
//   - enabled: Whether tracing is enabled. When false, uses noop spans.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(transformTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartApply starts a span for a batch.
//
// # Inputs
//
//   - ctx: Parent context for span creation.
//   - path: Target file.
//   - executionID: Batch identifier.
//   - edits: Number of edits in the batch.
//
// # Outputs
//
//   - context.Context: Context with span attached.
//   - trace.Span: The created span. Caller must end it with EndApply.
func (t *Tracer) StartApply(ctx context.Context, path, executionID string, edits int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "transform.apply",
		trace.WithAttributes(
			attribute.String("transform.file", truncateForTrace(path, 200)),
			attribute.String("transform.execution_id", truncateForTrace(executionID, 64)),
			attribute.Int("transform.edit_count", edits),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	t.logger.DebugContext(ctx, "starting batch",
		slog.String("execution_id", executionID),
		slog.String("path", path),
		slog.Int("edits", edits),
	)

	return ctx, span
}

// EndApply completes a batch span.
//
// # Inputs
//
//   - span: The span to end.
//   - resp: The batch response (may be nil on error).
//   - err: Error if the batch could not run.
func (t *Tracer) EndApply(span trace.Span, resp *wire.Response, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if spanFailed(span, err) {
		return
	}
	if resp == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	span.SetAttributes(
		attribute.Int("transform.applied", resp.AppliedCount),
		attribute.Int("transform.skipped", resp.SkippedCount),
		attribute.Int("transform.errors", resp.ErrorCount),
		attribute.Int64("transform.byte_shift", resp.TotalByteShift),
		attribute.String("transform.final_checksum", truncateForTrace(resp.FinalChecksum, 16)),
		attribute.Bool("transform.written", resp.Written),
	)
	if !resp.Success {
		span.SetStatus(codes.Error, truncateForTrace(resp.Error, 200))
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartWrite starts a child span for a verify-and-write.
func (t *Tracer) StartWrite(ctx context.Context, path string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	return t.tracer.Start(ctx, "transform.write",
		trace.WithAttributes(
			attribute.String("transform.file", truncateForTrace(path, 200)),
		),
	)
}

// EndWrite completes a write span.
func (t *Tracer) EndWrite(span trace.Span, err error) {
	if span == nil {
		return
	}
	if !spanFailed(span, err) {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// spanFailed marks span as errored when err is non-nil and reports whether it did.
func spanFailed(span trace.Span, err error) bool {
	if err == nil {
		return false
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, truncateForTrace(err.Error(), 200))
	return true
}

// RecordOutcomes adds one event per skipped or errored edit to the current span.
func (t *Tracer) RecordOutcomes(ctx context.Context, res *edit.BatchResult) {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() || res == nil {
		return
	}

	for _, o := range res.Outcomes {
		if o.Status == edit.StatusApplied {
			continue
		}
		span.AddEvent("edit_"+string(o.Status),
			trace.WithAttributes(
				attribute.Int("edit.byte_start", o.Span.Start),
				attribute.Int("edit.byte_end", o.Span.End),
				attribute.String("edit.reason", truncateForTrace(o.Reason, 200)),
			),
		)
	}
}

// truncateForTrace truncates a string for use in span attributes.
//
// If maxLen is less than 4, returns at most maxLen characters without suffix.
func truncateForTrace(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		if maxLen <= 0 {
			return ""
		}
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// LoggerWithTrace returns logger extended with trace_id and span_id from
// ctx, or logger unchanged when ctx carries no valid span.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
