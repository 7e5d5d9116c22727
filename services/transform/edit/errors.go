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

import (
	"errors"
	"fmt"
)

// Edit errors for specific failure modes.
var (
	// ErrChecksumMismatch means the content is not what the edit was computed against.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrInvalidSpan means end <= start.
	ErrInvalidSpan = errors.New("invalid span")

	// ErrOutOfBounds means an offset lies past the end of the content.
	ErrOutOfBounds = errors.New("span out of bounds")

	// ErrSplitCodepoint means an offset falls inside a multi-byte UTF-8 sequence.
	ErrSplitCodepoint = fmt.Errorf("%w: offset splits a UTF-8 codepoint", ErrInvalidSpan)

	// ErrInvalidReplacement means the replacement text is not valid UTF-8.
	ErrInvalidReplacement = errors.New("invalid replacement")
)

// ChecksumMismatchError carries both digests of a failed verification.
type ChecksumMismatchError struct {
	Expected Checksum
	Actual   Checksum
}

// Error implements the error interface.
func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// Unwrap returns ErrChecksumMismatch.
func (e *ChecksumMismatchError) Unwrap() error {
	return ErrChecksumMismatch
}

// SpanError provides detailed error information for span failures.
type SpanError struct {
	// Err is ErrInvalidSpan, ErrOutOfBounds or ErrSplitCodepoint.
	Err error

	// Span is the offending span.
	Span Span

	// ContentLen is the length the span was checked against.
	ContentLen int

	// Suggestion provides guidance for fixing the request.
	Suggestion string
}

// Error implements the error interface.
func (e *SpanError) Error() string {
	msg := fmt.Sprintf("%v: span %s against %d bytes", e.Err, e.Span, e.ContentLen)
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *SpanError) Unwrap() error {
	return e.Err
}

// ReplacementError reports replacement text that cannot be spliced in.
type ReplacementError struct {
	// Offset is the byte index of the first invalid byte in the replacement.
	Offset int
}

// Error implements the error interface.
func (e *ReplacementError) Error() string {
	return fmt.Sprintf("%v: not valid UTF-8 at replacement byte %d", ErrInvalidReplacement, e.Offset)
}

// Unwrap returns ErrInvalidReplacement.
func (e *ReplacementError) Unwrap() error {
	return ErrInvalidReplacement
}

// FatalError aborts a batch before any edit is attempted.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("batch aborted: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}
