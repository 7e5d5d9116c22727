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
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/llmtransform/services/transform/edit"
)

// Package-level meter for batch metrics.
var meter = otel.Meter("llmtransform.transform")

// Metric instruments for batch operations.
var (
	batchesTotal  metric.Int64Counter
	editsTotal    metric.Int64Counter
	batchDuration metric.Float64Histogram
	byteShift     metric.Int64Histogram
	writesTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics creates the instruments on first use. Later calls return the
// first result.
func initMetrics() error {
	metricsOnce.Do(func() {
		var errs [5]error
		batchesTotal, errs[0] = meter.Int64Counter("transform_batches_total",
			metric.WithDescription("Edit batches run, by status"))
		editsTotal, errs[1] = meter.Int64Counter("transform_edits_total",
			metric.WithDescription("Edits processed, by outcome"))
		batchDuration, errs[2] = meter.Float64Histogram("transform_batch_duration_seconds",
			metric.WithDescription("End-to-end batch latency"),
			metric.WithUnit("s"))
		byteShift, errs[3] = meter.Int64Histogram("transform_byte_shift",
			metric.WithDescription("Net byte shift per batch"),
			metric.WithUnit("By"))
		writesTotal, errs[4] = meter.Int64Counter("transform_writes_total",
			metric.WithDescription("Verify-and-write attempts, by status"))
		metricsErr = errors.Join(errs[:]...)
	})
	return metricsErr
}

// batchStatus maps a batch to a bounded status label.
func batchStatus(res *edit.BatchResult, fatal bool) string {
	switch {
	case fatal:
		return "fatal"
	case res == nil:
		return "error"
	case res.Failed():
		return "failed"
	case res.CompleteSuccess():
		return "success"
	default:
		return "partial"
	}
}

// recordBatch records one batch run.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - res: The batch result. Nil when the batch never ran.
//   - fatal: Whether the initial checksum verification failed.
//   - duration: How long the batch took end to end.
func recordBatch(ctx context.Context, res *edit.BatchResult, fatal bool, duration time.Duration) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", batchStatus(res, fatal)))
	batchesTotal.Add(ctx, 1, attrs)
	batchDuration.Record(ctx, duration.Seconds(), attrs)

	if res == nil {
		return
	}
	byteShift.Record(ctx, res.TotalByteShift)
	for status, n := range map[edit.Status]int{
		edit.StatusApplied: res.AppliedCount,
		edit.StatusSkipped: res.SkippedCount,
		edit.StatusError:   res.ErrorCount,
	} {
		if n > 0 {
			editsTotal.Add(ctx, int64(n), metric.WithAttributes(
				attribute.String("status", string(status)),
			))
		}
	}
}

// recordWrite records a verify-and-write attempt.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - err: Error if the write was refused or failed (nil on success).
func recordWrite(ctx context.Context, writeErr error) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	status := "success"
	if writeErr != nil {
		status = "error"
	}
	writesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
