// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package wire

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/llmtransform/services/transform/edit"
	"github.com/AleutianAI/llmtransform/services/transform/position"
)

// OutcomeJSON is one edit's outcome as sent on the wire.
//
// ByteOffset is the start of the span as requested. NewChecksum and
// ByteShift are present only for applied edits, Reason and Location only
// for skipped and errored ones.
type OutcomeJSON struct {
	ByteOffset  int                `json:"byte_offset"`
	ByteEnd     int                `json:"byte_end"`
	Status      string             `json:"status"`
	NewChecksum string             `json:"new_checksum,omitempty"`
	ByteShift   *int64             `json:"byte_shift,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Location    string             `json:"location,omitempty"`
	Start       *position.Position `json:"start,omitempty"`
	End         *position.Position `json:"end,omitempty"`
}

// DiffStatsJSON counts the lines a diff adds and removes.
type DiffStatsJSON struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// SyntaxJSON reports whether the edited content still parses.
type SyntaxJSON struct {
	Language string `json:"language"`
	Valid    bool   `json:"valid"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Response is the result document of one batch.
type Response struct {
	ExecutionID    string         `json:"execution_id"`
	Success        bool           `json:"success"`
	FinalChecksum  string         `json:"final_checksum"`
	TotalByteShift int64          `json:"total_byte_shift"`
	AppliedCount   int            `json:"applied_count"`
	SkippedCount   int            `json:"skipped_count"`
	ErrorCount     int            `json:"error_count"`
	Edits          []OutcomeJSON  `json:"edits"`
	Error          string         `json:"error,omitempty"`
	Written        bool           `json:"written,omitempty"`
	Diff           string         `json:"diff,omitempty"`
	DiffStats      *DiffStatsJSON `json:"diff_stats,omitempty"`
	Syntax         *SyntaxJSON    `json:"syntax,omitempty"`
}

// FromResult builds a response from a batch result.
//
// snapshot is the content the batch was computed against; outcome positions
// are reported relative to it. Success is false when any edit errored.
func FromResult(id string, snapshot string, res *edit.BatchResult) *Response {
	resp := &Response{
		ExecutionID:    id,
		Success:        !res.Failed(),
		FinalChecksum:  res.FinalChecksum.String(),
		TotalByteShift: res.TotalByteShift,
		AppliedCount:   res.AppliedCount,
		SkippedCount:   res.SkippedCount,
		ErrorCount:     res.ErrorCount,
		Edits:          make([]OutcomeJSON, 0, len(res.Outcomes)),
	}

	for _, o := range res.Outcomes {
		out := OutcomeJSON{
			ByteOffset: o.Span.Start,
			ByteEnd:    o.Span.End,
			Status:     string(o.Status),
		}
		switch o.Status {
		case edit.StatusApplied:
			shift := o.ByteShift
			out.NewChecksum = o.NewChecksum.String()
			out.ByteShift = &shift
		default:
			out.Reason = o.Reason
		}
		if o.Span.Start >= 0 && o.Span.Start <= len(snapshot) {
			start, end := position.SpanPositions(snapshot, o.Span)
			out.Start, out.End = &start, &end
			if o.Status != edit.StatusApplied {
				out.Location = position.Describe(snapshot, o.Span)
			}
		}
		resp.Edits = append(resp.Edits, out)
	}

	if res.Failed() {
		resp.Error = firstError(resp.Edits)
	}
	return resp
}

// Failure builds a response for a batch that could not run at all.
func Failure(id string, msg string) *Response {
	return &Response{
		ExecutionID: id,
		Edits:       []OutcomeJSON{},
		Error:       msg,
	}
}

func firstError(outcomes []OutcomeJSON) string {
	for _, o := range outcomes {
		if o.Status == string(edit.StatusError) {
			return fmt.Sprintf("edit at byte %d failed: %s", o.ByteOffset, o.Reason)
		}
	}
	return "batch failed"
}

// Summary renders the plain-text report.
//
// Success prints the applied count, final checksum and total shift, plus
// skip and error counts when non-zero. Failure prints "Error: <message>".
func (r *Response) Summary() string {
	if !r.Success {
		msg := r.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return "Error: " + msg
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Applied %d edit(s)\n", r.AppliedCount)
	fmt.Fprintf(&sb, "Final checksum: %s\n", r.FinalChecksum)
	fmt.Fprintf(&sb, "Total byte shift: %d", r.TotalByteShift)
	if r.SkippedCount > 0 {
		fmt.Fprintf(&sb, "\nSkipped: %d", r.SkippedCount)
	}
	if r.ErrorCount > 0 {
		fmt.Fprintf(&sb, "\nErrors: %d", r.ErrorCount)
	}
	return sb.String()
}
