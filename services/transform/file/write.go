// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package file

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AleutianAI/llmtransform/services/transform/edit"
)

// VerifyAndWrite writes newText to path only if the file still has checksum expected.
//
// # Description
//
// Optimistic lock for write-back. Re-reads the file, compares its checksum
// with the one the batch was computed against and only then writes
// atomically. A file edited by someone else meanwhile is left untouched.
//
// # Inputs
//
//   - path: File to write.
//   - expected: Checksum of the content the edits were applied to.
//   - newText: Edited content.
//   - perm: File permissions; DefaultPerm when zero.
//
// # Outputs
//
//   - error: *FileError wrapping ErrConflict if the file changed, other
//     errors on I/O failure.
//
// # Thread Safety
//
// The check and the rename are not atomic with respect to other writers.
// Hold the file's advisory lock around the call.
func VerifyAndWrite(path string, expected edit.Checksum, newText string, perm os.FileMode) error {
	current, err := os.ReadFile(path)
	if err != nil {
		return &FileError{Path: path, Err: fmt.Errorf("re-reading file for verification: %w", err)}
	}

	if actual := edit.DigestBytes(current); actual != expected {
		return &FileError{
			Path:       path,
			Err:        fmt.Errorf("%w: expected %s, found %s", ErrConflict, expected.Short(), actual.Short()),
			Suggestion: "re-read the file and recompute the edits",
		}
	}

	if perm == 0 {
		perm = DefaultPerm
	}
	if err := atomicWriteFile(path, []byte(newText), perm); err != nil {
		return &FileError{Path: path, Err: err}
	}
	return nil
}

// WriteReport writes a command report to path, creating parent directories.
func WriteReport(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &FileError{Path: path, Err: fmt.Errorf("creating directory: %w", err)}
		}
	}
	if err := atomicWriteFile(path, data, DefaultPerm); err != nil {
		return &FileError{Path: path, Err: err}
	}
	return nil
}

// atomicWriteFile writes content to a temp file in the same directory and
// renames it over path.
func atomicWriteFile(path string, content []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".llmtransform-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing to disk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}
