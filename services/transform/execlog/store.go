// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package execlog persists one entry per executed batch in BadgerDB.
//
// Key layout:
//
//	exec/<execution-id>            JSON ExecutionLogEntry
//	idx/<unix-nano, 20 digits>/<id> empty; orders entries by start time
package execlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/llmtransform/services/transform/wire"
)

// DefaultListLimit bounds List when no limit is given.
const DefaultListLimit = 20

var (
	// ErrNotFound indicates no entry exists for the execution ID.
	ErrNotFound = errors.New("execution not found")

	// ErrClosed indicates the store was already closed.
	ErrClosed = errors.New("execution log closed")

	// ErrBusy indicates another process holds the log directory.
	ErrBusy = errors.New("execution log in use by another process")
)

var (
	entryPrefix = []byte("exec/")
	indexPrefix = []byte("idx/")
)

// Store records batch executions.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	db        *badger.DB
	retention time.Duration
	logger    *slog.Logger

	stopGC func()
	gcDone chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the execution log described by cfg.
//
// # Outputs
//
//   - *Store: The store. Call Close when done.
//   - error: Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, retention: cfg.Retention, logger: logger}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopGC = cancel
		s.gcDone = make(chan struct{})
		go func() {
			defer close(s.gcDone)
			collectGarbage(ctx, db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		}()
	}
	return s, nil
}

// OpenInMemory opens a store that is discarded on Close.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

func entryKey(id string) []byte {
	return append(bytes.Clone(entryPrefix), id...)
}

func indexKey(entry wire.ExecutionLogEntry) []byte {
	return fmt.Appendf(bytes.Clone(indexPrefix), "%020d/%s", entry.StartedAt.UnixNano(), entry.ExecutionID)
}

// Record stores entry, replacing any earlier entry with the same ID.
func (s *Store) Record(ctx context.Context, entry wire.ExecutionLogEntry) error {
	if entry.ExecutionID == "" {
		return errors.New("execution ID is required")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal execution entry: %w", err)
	}

	return s.withTxn(ctx, true, func(txn *badger.Txn) error {
		prev, err := readEntry(txn, entry.ExecutionID)
		switch {
		case err == nil:
			if err := txn.Delete(indexKey(*prev)); err != nil {
				return fmt.Errorf("drop stale index: %w", err)
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}

		if err := txn.SetEntry(s.newEntry(entryKey(entry.ExecutionID), data)); err != nil {
			return fmt.Errorf("write execution entry: %w", err)
		}
		if err := txn.SetEntry(s.newEntry(indexKey(entry), nil)); err != nil {
			return fmt.Errorf("write execution index: %w", err)
		}
		return nil
	})
}

// newEntry applies the retention TTL, if any.
func (s *Store) newEntry(key, value []byte) *badger.Entry {
	e := badger.NewEntry(key, value)
	if s.retention > 0 {
		e = e.WithTTL(s.retention)
	}
	return e
}

// Get returns the entry recorded for id.
func (s *Store) Get(ctx context.Context, id string) (*wire.ExecutionLogEntry, error) {
	var entry *wire.ExecutionLogEntry
	err := s.withTxn(ctx, false, func(txn *badger.Txn) error {
		var err error
		entry, err = readEntry(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns up to limit entries, newest first. limit <= 0 uses
// DefaultListLimit.
func (s *Store) List(ctx context.Context, limit int) ([]wire.ExecutionLogEntry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	entries := make([]wire.ExecutionLogEntry, 0, limit)
	err := s.withTxn(ctx, false, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		opts.Prefix = indexPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the last key <= seek.
		seek := append(bytes.Clone(indexPrefix), 0xFF)
		for it.Seek(seek); it.Valid() && len(entries) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().KeyCopy(nil)
			id := key[bytes.IndexByte(key[len(indexPrefix):], '/')+len(indexPrefix)+1:]

			entry, err := readEntry(txn, string(id))
			if errors.Is(err, ErrNotFound) {
				s.logger.Warn("execution index without entry", slog.String("key", string(key)))
				continue
			}
			if err != nil {
				return err
			}
			entries = append(entries, *entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.stopGC != nil {
		s.stopGC()
		<-s.gcDone
	}
	return s.db.Close()
}

// withTxn runs fn in a transaction, committing read-write ones on success.
func (s *Store) withTxn(ctx context.Context, update bool, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	txn := s.db.NewTransaction(update)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	if update {
		return txn.Commit()
	}
	return nil
}

func readEntry(txn *badger.Txn, id string) (*wire.ExecutionLogEntry, error) {
	item, err := txn.Get(entryKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read execution entry: %w", err)
	}

	var entry wire.ExecutionLogEntry
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return nil, fmt.Errorf("decode execution entry %s: %w", id, err)
	}
	return &entry, nil
}
