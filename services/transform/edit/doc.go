// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package edit is the checksum-verified multi-edit engine.
//
// An agent reads a file, computes byte-offset replacements against that
// snapshot and submits them as a batch together with the snapshot's
// checksum. The engine refuses to touch content that no longer matches
// what the agent saw.
//
// # Components
//
//   - Digest / Verify: BLAKE3 checksum oracle (lowercase hex).
//   - ValidateSpan: byte-range well-formedness and bounds.
//   - Apply: one verified replacement producing new content, checksum and shift.
//   - Sequence: stable descending order by start offset.
//   - Run: the batch coordinator with checksum chaining.
//
// # Outcomes
//
// Every edit in a batch ends up Applied, Skipped or Error. A checksum
// mismatch on an individual edit is a Skip and the batch continues. A
// malformed span or replacement is an Error and the batch stops there.
// Edits applied before the Error stay applied; there is no rollback.
//
// # Thread Safety
//
// Everything in this package is pure. Run owns its evolving content for
// the duration of the call and shares nothing across calls.
package edit
