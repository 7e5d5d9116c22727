// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package edit

import "fmt"

// ============================================================================
// Core Types
// ============================================================================

// Checksum is a lowercase hex BLAKE3-256 digest of some content.
//
// Two contents are the same content iff their checksums are equal.
type Checksum string

// String returns the hex form.
func (c Checksum) String() string {
	return string(c)
}

// Short returns the first 12 hex characters, for logs.
func (c Checksum) Short() string {
	if len(c) <= 12 {
		return string(c)
	}
	return string(c[:12])
}

// Span is a half-open byte range [Start, End).
type Span struct {
	Start int `json:"byte_start"`
	End   int `json:"byte_end"`
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// String renders the span as "[start, end)".
func (s Span) String() string {
	return fmt.Sprintf("[%d, %d)", s.Start, s.End)
}

// Edit is a request to replace Span with Replacement in content whose
// checksum is ExpectedChecksum.
type Edit struct {
	Span             Span
	Replacement      string
	ExpectedChecksum Checksum
}

// ByteShift returns the signed length change this edit introduces.
func (e Edit) ByteShift() int64 {
	return int64(len(e.Replacement)) - int64(e.Span.Len())
}

// Applied is the result of one successful Apply.
type Applied struct {
	// Content is the new content.
	Content string

	// Checksum is Digest(Content).
	Checksum Checksum

	// ByteShift is len(replacement) - (end - start).
	ByteShift int64
}

// ============================================================================
// Outcomes
// ============================================================================

// Status tags an Outcome.
type Status string

const (
	StatusApplied Status = "applied"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Outcome describes what happened to one edit of a batch.
//
// Span is always the span the caller requested, not a shifted one.
// NewChecksum and ByteShift are set only for StatusApplied; Reason and Err
// only for StatusSkipped and StatusError.
type Outcome struct {
	Status      Status
	Span        Span
	NewChecksum Checksum
	ByteShift   int64
	Reason      string
	Err         error
}

// BatchResult aggregates a batch run.
//
// Outcomes are in application order (descending start offset). Content is
// the content after the last applied edit, partial if the batch stopped on
// an Error.
type BatchResult struct {
	Outcomes       []Outcome
	FinalChecksum  Checksum
	TotalByteShift int64
	AppliedCount   int
	SkippedCount   int
	ErrorCount     int
	Content        string
}

// Failed reports whether any edit ended in an Error.
func (r *BatchResult) Failed() bool {
	return r.ErrorCount > 0
}

// CompleteSuccess reports whether every outcome is Applied.
func (r *BatchResult) CompleteSuccess() bool {
	return r.SkippedCount == 0 && r.ErrorCount == 0
}

// Changed reports whether at least one edit was applied.
func (r *BatchResult) Changed() bool {
	return r.AppliedCount > 0
}

func (r *BatchResult) recordApplied(e Edit, a *Applied) {
	r.Content = a.Content
	r.FinalChecksum = a.Checksum
	r.TotalByteShift += a.ByteShift
	r.AppliedCount++
	r.Outcomes = append(r.Outcomes, Outcome{
		Status:      StatusApplied,
		Span:        e.Span,
		NewChecksum: a.Checksum,
		ByteShift:   a.ByteShift,
	})
}

func (r *BatchResult) recordSkipped(e Edit, err error) {
	r.SkippedCount++
	r.Outcomes = append(r.Outcomes, Outcome{
		Status: StatusSkipped,
		Span:   e.Span,
		Reason: err.Error(),
		Err:    err,
	})
}

func (r *BatchResult) recordError(e Edit, err error) {
	r.ErrorCount++
	r.Outcomes = append(r.Outcomes, Outcome{
		Status: StatusError,
		Span:   e.Span,
		Reason: err.Error(),
		Err:    err,
	})
}
