// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock serializes writers of the same file across processes.
//
// A lock is an advisory flock (LockFileEx on Windows) on the target file
// plus a JSON info file in a shared lock directory naming the holder. Info
// files left by dead processes or past their TTL are treated as stale. While
// a lock is held the file is watched, so modification by a party that
// ignores the lock can be detected before the edited content is written.
package lock

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFileLocked indicates another holder owns the lock.
	ErrFileLocked = errors.New("file is locked by another process")

	// ErrLockNotHeld indicates a release of a lock this manager does not hold.
	ErrLockNotHeld = errors.New("lock not held")
)

// LockInfo is the content of a lock info file.
type LockInfo struct {
	FilePath    string    `json:"file_path"`
	PID         int       `json:"pid"`
	SessionID   string    `json:"session_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	LockedAt    time.Time `json:"locked_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsExpired reports whether the lock outlived its TTL.
func (l *LockInfo) IsExpired() bool {
	return time.Now().After(l.ExpiresAt)
}

// live reports whether the holder still counts: unexpired and running.
func (l *LockInfo) live() bool {
	return !l.IsExpired() && IsProcessAlive(l.PID)
}

// Config configures a Manager.
type Config struct {
	// LockDir holds the lock info files. Default: ~/.llmtransform/locks.
	LockDir string

	// SessionID is written into lock info files for diagnostics.
	SessionID string

	// DefaultTTL bounds how long a lock is honored. Default: 5 minutes.
	DefaultTTL time.Duration

	// CleanupOnInit removes stale lock files when the manager starts.
	CleanupOnInit bool
}

// DefaultConfig returns a Config with cleanup on init and a 5 minute TTL.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:    5 * time.Minute,
		CleanupOnInit: true,
	}
}

// FileLockError reports a lock conflict.
type FileLockError struct {
	Path   string
	Holder *LockInfo
	Err    error
}

// Error implements the error interface.
func (e *FileLockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("%s: %v (held by pid %d for %s since %s)",
			e.Path, e.Err, e.Holder.PID, e.Holder.ExecutionID, e.Holder.LockedAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *FileLockError) Unwrap() error {
	return e.Err
}

// ChangeType classifies an external modification.
type ChangeType int

const (
	ChangeWrite ChangeType = iota
	ChangeDelete
	ChangeRename
)

// String returns the change name.
func (c ChangeType) String() string {
	switch c {
	case ChangeWrite:
		return "write"
	case ChangeDelete:
		return "delete"
	case ChangeRename:
		return "rename"
	default:
		return "unknown"
	}
}
