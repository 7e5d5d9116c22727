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

import "unicode/utf8"

// ValidateSpan checks that span is non-empty and lies within contentLen bytes.
//
// # Outputs
//
//   - error: *SpanError wrapping ErrInvalidSpan when End <= Start,
//     or ErrOutOfBounds when either offset exceeds contentLen.
func ValidateSpan(span Span, contentLen int) error {
	if span.End <= span.Start {
		return &SpanError{
			Err:        ErrInvalidSpan,
			Span:       span,
			ContentLen: contentLen,
			Suggestion: "byte_end must be greater than byte_start",
		}
	}
	if span.Start < 0 || span.Start > contentLen || span.End > contentLen {
		return &SpanError{
			Err:        ErrOutOfBounds,
			Span:       span,
			ContentLen: contentLen,
			Suggestion: "re-read the file; offsets must not exceed its length",
		}
	}
	return nil
}

// validateBoundaries rejects offsets that land inside a UTF-8 sequence.
func validateBoundaries(content string, span Span) error {
	if !onBoundary(content, span.Start) || !onBoundary(content, span.End) {
		return &SpanError{
			Err:        ErrSplitCodepoint,
			Span:       span,
			ContentLen: len(content),
			Suggestion: "compute offsets in bytes on character boundaries",
		}
	}
	return nil
}

// onBoundary reports whether offset starts a rune (or is len(content)).
func onBoundary(content string, offset int) bool {
	if offset == 0 || offset == len(content) {
		return true
	}
	return utf8.RuneStart(content[offset])
}
