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
	"strings"
	"unicode/utf8"
)

// Apply performs one checksum-verified replacement.
//
// # Description
//
// Verifies e.ExpectedChecksum against content, validates the span against
// len(content) and against UTF-8 boundaries, checks the replacement is
// valid UTF-8, then splices. content is never modified.
//
// # Inputs
//
//   - content: Current content, valid UTF-8.
//   - e: The edit to apply.
//
// # Outputs
//
//   - *Applied: New content, its checksum and the byte shift.
//   - error: *ChecksumMismatchError when content is not what e expects,
//     *SpanError for malformed or out-of-range spans,
//     *ReplacementError for invalid replacement text.
//
// # Thread Safety
//
// Pure function.
func Apply(content string, e Edit) (*Applied, error) {
	if err := Verify(content, e.ExpectedChecksum); err != nil {
		return nil, err
	}
	if err := ValidateSpan(e.Span, len(content)); err != nil {
		return nil, err
	}
	if err := validateBoundaries(content, e.Span); err != nil {
		return nil, err
	}
	if !utf8.ValidString(e.Replacement) {
		return nil, &ReplacementError{Offset: firstInvalid(e.Replacement)}
	}

	var b strings.Builder
	b.Grow(len(content) - e.Span.Len() + len(e.Replacement))
	b.WriteString(content[:e.Span.Start])
	b.WriteString(e.Replacement)
	b.WriteString(content[e.Span.End:])
	next := b.String()

	return &Applied{
		Content:   next,
		Checksum:  Digest(next),
		ByteShift: e.ByteShift(),
	}, nil
}

// firstInvalid returns the byte index of the first invalid UTF-8 sequence in s.
func firstInvalid(s string) int {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(s)
}
