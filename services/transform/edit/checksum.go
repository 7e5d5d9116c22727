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
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ChecksumLen is the length of a hex checksum.
const ChecksumLen = 64

// Digest returns the BLAKE3-256 checksum of content.
func Digest(content string) Checksum {
	sum := blake3.Sum256([]byte(content))
	return Checksum(hex.EncodeToString(sum[:]))
}

// DigestBytes is Digest for raw bytes.
func DigestBytes(content []byte) Checksum {
	sum := blake3.Sum256(content)
	return Checksum(hex.EncodeToString(sum[:]))
}

// Verify checks content against expected.
//
// # Outputs
//
//   - error: *ChecksumMismatchError (unwraps to ErrChecksumMismatch) on mismatch.
func Verify(content string, expected Checksum) error {
	actual := Digest(content)
	if actual != expected {
		return &ChecksumMismatchError{Expected: expected, Actual: actual}
	}
	return nil
}
