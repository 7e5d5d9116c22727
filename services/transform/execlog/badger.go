// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package execlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config describes where and how the execution log is stored.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path     string
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Retention expires entries this long after they are recorded.
	// Zero keeps them forever.
	Retention time.Duration

	// Logger receives BadgerDB's own logging. Nil silences it.
	Logger *slog.Logger

	// GCInterval is the period of value log garbage collection; zero
	// disables it. GCDiscardRatio is the rewrite threshold in (0, 1).
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// DefaultConfig returns a durable on-disk configuration rooted at path,
// keeping entries for 30 days and collecting garbage every 10 minutes.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		Retention:      30 * 24 * time.Hour,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration whose entries vanish on Close.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

func (c Config) validate() error {
	if !c.InMemory && c.Path == "" {
		return errors.New("execution log path is required unless in memory")
	}
	if c.GCInterval > 0 && (c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1) {
		return fmt.Errorf("gc discard ratio %v must be in (0, 1)", c.GCDiscardRatio)
	}
	if c.Retention < 0 {
		return errors.New("retention must not be negative")
	}
	return nil
}

func (c Config) options() badger.Options {
	opts := badger.DefaultOptions(c.Path)
	if c.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(c.SyncWrites).WithNumVersionsToKeep(1)
	if c.Logger == nil {
		return opts.WithLogger(nil)
	}
	return opts.WithLogger(slogAdapter{c.Logger.With(slog.String("component", "badger"))})
}

func openDB(cfg Config) (*badger.DB, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create execution log directory %s: %w", cfg.Path, err)
		}
	}
	db, err := badger.Open(cfg.options())
	if err != nil {
		// badger reports a held directory lock only through its message.
		if strings.Contains(err.Error(), "Cannot acquire directory lock") {
			return nil, fmt.Errorf("open execution log %s: %w: %w", cfg.Path, ErrBusy, err)
		}
		return nil, fmt.Errorf("open execution log: %w", err)
	}
	return db, nil
}

// slogAdapter satisfies badger.Logger.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Errorf(format string, args ...any)   { a.l.Error(fmt.Sprintf(format, args...)) }
func (a slogAdapter) Warningf(format string, args ...any) { a.l.Warn(fmt.Sprintf(format, args...)) }
func (a slogAdapter) Infof(format string, args ...any)    { a.l.Debug(fmt.Sprintf(format, args...)) }
func (a slogAdapter) Debugf(format string, args ...any)   { a.l.Debug(fmt.Sprintf(format, args...)) }

// collectGarbage runs value log GC every interval until ctx is done. Each
// round rewrites files until badger reports nothing left to collect.
func collectGarbage(ctx context.Context, db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rewrites := 0
		for ctx.Err() == nil {
			err := db.RunValueLogGC(ratio)
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
				break
			}
			if err != nil {
				logger.Warn("execution log GC failed", slog.String("error", err.Error()))
				break
			}
			rewrites++
		}
		if rewrites > 0 {
			logger.Debug("execution log GC", slog.Int("rewrites", rewrites))
		}
	}
}
