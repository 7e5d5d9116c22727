// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package file loads edit targets and writes edited content back.
//
// Reading validates UTF-8 and computes the checksum the edit engine
// verifies against. Writing re-verifies that checksum on disk before an
// atomic rename, so a file changed by someone else between read and write
// is never overwritten.
//
// Thread Safety: All functions are safe for concurrent use on different
// files. Serializing writers of one file is the caller's job (see the lock
// package).
package file

import (
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/llmtransform/services/transform/edit"
)

// ============================================================================
// Constants
// ============================================================================

const (
	// DefaultMaxFileSize caps the files an edit batch may target.
	DefaultMaxFileSize = 10 * 1024 * 1024

	// DefaultPerm is used when writing a file whose mode is unknown.
	DefaultPerm os.FileMode = 0644
)

// ============================================================================
// Errors
// ============================================================================

// File errors for specific failure modes.
var (
	ErrNotFound            = errors.New("file not found")
	ErrIsDirectory         = errors.New("path is a directory")
	ErrInvalidUTF8         = errors.New("file is not valid UTF-8")
	ErrFileTooLarge        = errors.New("file exceeds size limit")
	ErrConflict            = errors.New("file changed on disk since it was read")
	ErrPathNotAllowed      = errors.New("path is outside allowed directories")
	ErrSensitivePath       = errors.New("path is sensitive and cannot be edited")
	ErrUnsupportedLanguage = errors.New("file language is not supported")
)

// FileError wraps a failure with the path it concerns.
type FileError struct {
	// Path is the file involved.
	Path string

	// Err is the underlying error.
	Err error

	// Suggestion provides guidance for fixing the error.
	Suggestion string
}

// Error implements the error interface.
func (e *FileError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Path, e.Err)
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *FileError) Unwrap() error {
	return e.Err
}

// ============================================================================
// Content
// ============================================================================

// Content is a file loaded for editing.
type Content struct {
	// Path is the absolute path the content was read from.
	Path string `json:"path"`

	// Text is the full file content, valid UTF-8.
	Text string `json:"-"`

	// Len is len(Text) in bytes.
	Len int `json:"len"`

	// Checksum is edit.Digest(Text).
	Checksum edit.Checksum `json:"checksum"`

	// Mode is the file's permission bits, preserved on write.
	Mode os.FileMode `json:"-"`

	// Language is the extension-based classification of Path.
	Language Language `json:"language"`
}
