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

import "time"

// ExecutionLogEntry records one batch for later inspection.
type ExecutionLogEntry struct {
	ExecutionID     string        `json:"execution_id"`
	FilePath        string        `json:"file_path"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration_ns"`
	InitialChecksum string        `json:"initial_checksum"`
	FinalChecksum   string        `json:"final_checksum"`
	Applied         int           `json:"applied"`
	Skipped         int           `json:"skipped"`
	Errors          int           `json:"errors"`
	TotalByteShift  int64         `json:"total_byte_shift"`
	Success         bool          `json:"success"`
	Written         bool          `json:"written"`
	Error           string        `json:"error,omitempty"`
}

// NewLogEntry summarizes resp into an entry.
func NewLogEntry(path, initial string, started time.Time, resp *Response) ExecutionLogEntry {
	return ExecutionLogEntry{
		ExecutionID:     resp.ExecutionID,
		FilePath:        path,
		StartedAt:       started,
		Duration:        time.Since(started),
		InitialChecksum: initial,
		FinalChecksum:   resp.FinalChecksum,
		Applied:         resp.AppliedCount,
		Skipped:         resp.SkippedCount,
		Errors:          resp.ErrorCount,
		TotalByteShift:  resp.TotalByteShift,
		Success:         resp.Success,
		Written:         resp.Written,
		Error:           resp.Error,
	}
}
