// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/blake3"
)

// Manager hands out per-file locks to batches that write.
//
// # Description
//
// A lock combines an advisory OS lock on the target file with an info file
// in the lock directory naming the holder. Info files whose holder died or
// whose TTL passed are stale and get taken over. Every held file is
// watched with fsnotify; the Lease records any write, delete or rename that
// lands while it is held.
//
// A file locked through one Manager cannot be locked again through it
// until released, so concurrent batches in one server also serialize.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Manager struct {
	lockDir   string
	sessionID string
	ttl       time.Duration
	locker    FileLocker
	logger    *slog.Logger
	watcher   *fsnotify.Watcher

	mu   sync.Mutex
	held map[string]*Lease
}

// NewManager creates a lock manager.
//
// # Inputs
//
//   - cfg: Manager configuration. Zero fields take defaults.
//   - logger: Destination for lock diagnostics. Nil uses slog.Default().
//
// # Outputs
//
//   - *Manager: Ready-to-use manager. Call Close when done.
//   - error: Non-nil if the lock directory or watcher cannot be created.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LockDir == "" {
		cfg.LockDir = defaultLockDir()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	if err := os.MkdirAll(cfg.LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory %s: %w", cfg.LockDir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	m := &Manager{
		lockDir:   cfg.LockDir,
		sessionID: cfg.SessionID,
		ttl:       cfg.DefaultTTL,
		locker:    newPlatformLocker(),
		logger:    logger.With(slog.String("component", "lock")),
		watcher:   watcher,
		held:      make(map[string]*Lease),
	}
	go m.watchLoop()

	if cfg.CleanupOnInit {
		if cleaned, err := m.CleanupStaleLocks(); err != nil {
			m.logger.Warn("stale lock cleanup failed", slog.String("error", err.Error()))
		} else if cleaned > 0 {
			m.logger.Info("cleaned up stale locks", slog.Int("count", cleaned))
		}
	}
	return m, nil
}

func defaultLockDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".llmtransform", "locks")
	}
	return filepath.Join(os.TempDir(), "llmtransform-locks")
}

// =============================================================================
// Lease
// =============================================================================

// Lease is a held lock on one file.
type Lease struct {
	m        *Manager
	path     string
	infoPath string
	file     *os.File
	info     *LockInfo

	// change is 0 until an external change lands, then ChangeType+1 of
	// the first one.
	change atomic.Int32
}

// Path returns the absolute path of the locked file.
func (l *Lease) Path() string {
	return l.path
}

// Info returns the holder record written to the lock directory.
func (l *Lease) Info() LockInfo {
	return *l.info
}

// Changed reports whether the file was modified by someone else while the
// lease was held, and how.
func (l *Lease) Changed() (bool, ChangeType) {
	v := l.change.Load()
	return v != 0, ChangeType(v - 1)
}

func (l *Lease) markChanged(kind ChangeType) {
	l.change.CompareAndSwap(0, int32(kind)+1)
}

// Release gives the lock back. A second Release returns ErrLockNotHeld.
func (l *Lease) Release() error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()

	if l.m.held[l.path] != l {
		return ErrLockNotHeld
	}
	l.m.release(l)
	return nil
}

// =============================================================================
// Acquire / Release
// =============================================================================

// Acquire locks path on behalf of a batch.
//
// # Description
//
// Non-blocking. Fails with a *FileLockError wrapping ErrFileLocked when a
// live, unexpired holder is recorded for path or the OS lock is taken.
//
// # Inputs
//
//   - path: File to lock. Must exist.
//   - executionID: Batch taking the lock, recorded in the info file.
//
// # Outputs
//
//   - *Lease: The held lock. Release it when done.
//   - error: *FileLockError on conflict, other errors on I/O failure.
func (m *Manager) Acquire(path, executionID string) (*Lease, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if lease, ok := m.held[absPath]; ok {
		return nil, &FileLockError{Path: absPath, Holder: lease.info, Err: ErrFileLocked}
	}

	infoPath := m.infoPath(absPath)
	if holder, err := readLockInfo(infoPath); err == nil {
		if holder.live() {
			return nil, &FileLockError{Path: absPath, Holder: holder, Err: ErrFileLocked}
		}
		m.logger.Info("taking over stale lock",
			slog.String("path", absPath),
			slog.Int("old_pid", holder.PID),
			slog.String("old_execution_id", holder.ExecutionID))
		_ = os.Remove(infoPath)
	}

	f, err := os.OpenFile(absPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening file for lock %s: %w", absPath, err)
	}
	if err := m.locker.Lock(f); err != nil {
		f.Close()
		if errors.Is(err, ErrFileLocked) {
			return nil, &FileLockError{Path: absPath, Err: ErrFileLocked}
		}
		return nil, fmt.Errorf("acquiring lock on %s: %w", absPath, err)
	}

	now := time.Now()
	lease := &Lease{
		m:        m,
		path:     absPath,
		infoPath: infoPath,
		file:     f,
		info: &LockInfo{
			FilePath:    absPath,
			PID:         os.Getpid(),
			SessionID:   m.sessionID,
			ExecutionID: executionID,
			LockedAt:    now,
			ExpiresAt:   now.Add(m.ttl),
		},
	}
	if err := writeLockInfo(infoPath, lease.info); err != nil {
		_ = m.locker.Unlock(f)
		f.Close()
		return nil, fmt.Errorf("writing lock info: %w", err)
	}

	if err := m.watcher.Add(absPath); err != nil {
		m.logger.Warn("external changes will go unnoticed",
			slog.String("path", absPath),
			slog.String("error", err.Error()))
	}
	m.held[absPath] = lease

	m.logger.Debug("acquired lock",
		slog.String("path", absPath),
		slog.String("execution_id", executionID),
		slog.Time("expires_at", lease.info.ExpiresAt))
	return lease, nil
}

// release must be called with mu held. Cleanup failures are logged; the
// OS lock goes away with the descriptor regardless.
func (m *Manager) release(l *Lease) {
	delete(m.held, l.path)

	// Remove fails once the watched inode was replaced; nothing to undo.
	_ = m.watcher.Remove(l.path)

	if err := m.locker.Unlock(l.file); err != nil {
		m.logger.Warn("unlock failed", slog.String("path", l.path), slog.String("error", err.Error()))
	}
	_ = l.file.Close()

	if err := os.Remove(l.infoPath); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove lock info",
			slog.String("path", l.infoPath),
			slog.String("error", err.Error()))
	}
	m.logger.Debug("released lock", slog.String("path", l.path))
}

// ReleaseAll releases every lock held by this manager.
func (m *Manager) ReleaseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, lease := range m.held {
		m.release(lease)
	}
	return nil
}

// Close releases all locks and stops the watcher.
func (m *Manager) Close() error {
	_ = m.ReleaseAll()
	return m.watcher.Close()
}

// =============================================================================
// Inspection
// =============================================================================

// IsLocked reports whether path is locked by this manager or by a live
// holder recorded in the lock directory.
func (m *Manager) IsLocked(path string) (bool, *LockInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, nil, fmt.Errorf("resolving path %s: %w", path, err)
	}

	m.mu.Lock()
	lease, ok := m.held[absPath]
	m.mu.Unlock()
	if ok {
		return true, lease.info, nil
	}

	holder, err := readLockInfo(m.infoPath(absPath))
	switch {
	case os.IsNotExist(err):
		return false, nil, nil
	case err != nil:
		return false, nil, err
	case !holder.live():
		return false, nil, nil
	}
	return true, holder, nil
}

// CleanupStaleLocks removes info files whose holder is dead or whose TTL
// has passed, returning how many were removed.
func (m *Manager) CleanupStaleLocks() (int, error) {
	entries, err := os.ReadDir(m.lockDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading lock directory: %w", err)
	}

	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != infoExt {
			continue
		}
		infoPath := filepath.Join(m.lockDir, entry.Name())
		holder, err := readLockInfo(infoPath)
		if err != nil {
			m.logger.Warn("unreadable lock info", slog.String("path", infoPath), slog.String("error", err.Error()))
			continue
		}
		if holder.live() {
			continue
		}
		if err := os.Remove(infoPath); err != nil {
			m.logger.Warn("failed to remove stale lock", slog.String("path", infoPath), slog.String("error", err.Error()))
			continue
		}
		m.logger.Info("cleaned up stale lock",
			slog.String("path", holder.FilePath),
			slog.Int("pid", holder.PID),
			slog.Bool("expired", holder.IsExpired()))
		cleaned++
	}
	return cleaned, nil
}

// =============================================================================
// Internal helpers
// =============================================================================

const infoExt = ".lock"

// infoPath names the info file for absPath by a prefix of its BLAKE3 hash.
func (m *Manager) infoPath(absPath string) string {
	sum := blake3.Sum256([]byte(absPath))
	return filepath.Join(m.lockDir, hex.EncodeToString(sum[:8])+infoExt)
}

func writeLockInfo(path string, info *LockInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readLockInfo(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode lock info %s: %w", path, err)
	}
	return &info, nil
}

func (m *Manager) watchLoop() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.observe(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

// observe marks the lease of a held file touched by event.
func (m *Manager) observe(event fsnotify.Event) {
	var kind ChangeType
	switch {
	case event.Has(fsnotify.Write):
		kind = ChangeWrite
	case event.Has(fsnotify.Remove):
		kind = ChangeDelete
	case event.Has(fsnotify.Rename):
		kind = ChangeRename
	default:
		return
	}

	absPath, _ := filepath.Abs(event.Name)
	m.mu.Lock()
	lease, ok := m.held[absPath]
	m.mu.Unlock()
	if !ok {
		return
	}

	m.logger.Warn("external modification of locked file",
		slog.String("path", absPath),
		slog.String("event", kind.String()),
		slog.String("execution_id", lease.info.ExecutionID))
	lease.markChanged(kind)
}
