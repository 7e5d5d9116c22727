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
	"context"
	"errors"
)

// Run applies a batch of edits with checksum chaining.
//
// # Description
//
// Verifies initial against content, sequences the edits by descending
// start offset and applies them one by one against the evolving content.
//
// Chaining: an edit tagged with the batch's initial checksum whose span ends
// at or before the lowest offset already modified in this run (the
// frontier) has its expected checksum rewritten to the running checksum, so
// independently computed edits against the same snapshot all apply. An edit
// reaching into already modified bytes, or tagged with some other checksum,
// is verified as given and therefore Skipped.
//
// Spans are first checked against the original content length: a span
// malformed for the snapshot is an Error no matter how it is tagged.
//
// An Error stops the batch. Edits applied before it stay applied.
//
// # Inputs
//
//   - ctx: Checked between edits.
//   - content: The snapshot the batch was computed against.
//   - initial: Checksum the caller claims for content.
//   - edits: The batch, in any order.
//
// # Outputs
//
//   - *BatchResult: Outcomes in application order plus aggregates. Nil only
//     when the initial verification fails.
//   - error: *FatalError wrapping *ChecksumMismatchError when initial does
//     not match content; ctx.Err() alongside a partial result on cancellation.
//
// # Thread Safety
//
// Safe for concurrent use; each call owns its state.
func Run(ctx context.Context, content string, initial Checksum, edits []Edit) (*BatchResult, error) {
	if err := Verify(content, initial); err != nil {
		return nil, &FatalError{Err: err}
	}

	result := &BatchResult{
		Outcomes:      make([]Outcome, 0, len(edits)),
		FinalChecksum: initial,
		Content:       content,
	}

	snapshotLen := len(content)
	frontier := snapshotLen

	for _, e := range Sequence(edits) {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := ValidateSpan(e.Span, snapshotLen); err != nil {
			result.recordError(e, err)
			return result, nil
		}

		attempt := e
		if e.ExpectedChecksum == initial && e.Span.End <= frontier {
			attempt.ExpectedChecksum = result.FinalChecksum
		}

		applied, err := Apply(result.Content, attempt)
		switch {
		case err == nil:
			result.recordApplied(e, applied)
			frontier = e.Span.Start
		case errors.Is(err, ErrChecksumMismatch):
			result.recordSkipped(e, err)
		default:
			result.recordError(e, err)
			return result, nil
		}
	}

	return result, nil
}

// Tag stamps every edit with checksum.
//
// Wire requests carry one checksum for the whole batch; Tag turns them into
// edits the engine can verify.
func Tag(edits []Edit, checksum Checksum) []Edit {
	tagged := make([]Edit, len(edits))
	for i, e := range edits {
		e.ExpectedChecksum = checksum
		tagged[i] = e
	}
	return tagged
}
