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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/AleutianAI/llmtransform/services/transform/edit"
)

// Read loads path for editing.
//
// # Description
//
// Stats the file, enforces maxSize (DefaultMaxFileSize when <= 0), reads
// it, rejects invalid UTF-8 and computes the checksum.
//
// # Inputs
//
//   - path: File to read. Made absolute.
//   - maxSize: Size cap in bytes.
//
// # Outputs
//
//   - *Content: The loaded file.
//   - error: *FileError wrapping ErrNotFound, ErrIsDirectory,
//     ErrFileTooLarge, ErrInvalidUTF8 or an I/O error.
func Read(path string, maxSize int64) (*Content, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: fmt.Errorf("resolving path: %w", err)}
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &FileError{Path: absPath, Err: ErrNotFound}
		}
		return nil, &FileError{Path: absPath, Err: err}
	}
	if info.IsDir() {
		return nil, &FileError{Path: absPath, Err: ErrIsDirectory}
	}
	if info.Size() > maxSize {
		return nil, &FileError{
			Path:       absPath,
			Err:        fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, info.Size(), maxSize),
			Suggestion: "raise max_file_size in the config",
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, &FileError{Path: absPath, Err: fmt.Errorf("reading file: %w", err)}
	}
	if !utf8.Valid(data) {
		return nil, &FileError{Path: absPath, Err: ErrInvalidUTF8}
	}

	text := string(data)
	return &Content{
		Path:     absPath,
		Text:     text,
		Len:      len(text),
		Checksum: edit.Digest(text),
		Mode:     info.Mode().Perm(),
		Language: DetectLanguage(absPath),
	}, nil
}

// Checksum returns the checksum of the file at path without the UTF-8 or
// size checks Read applies.
func Checksum(path string) (edit.Checksum, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &FileError{Path: path, Err: ErrNotFound}
		}
		return "", &FileError{Path: path, Err: err}
	}
	return edit.DigestBytes(data), nil
}
