// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for llmtransform.
//
// Logs go to stderr by default so they never mix with the report a command
// prints on stdout. A daily JSON log file can be enabled alongside:
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelDebug,
//	    LogDir:  "~/.llmtransform/logs",
//	    Service: "llmtransform",
//	})
//	defer logger.Close()
//
// Components take a *slog.Logger; use Slog to hand one out.
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMaxAttrLen caps string attribute values. Replacement text and
// file content can be arbitrarily large.
const DefaultMaxAttrLen = 1024

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity. Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelTable = []struct {
	level Level
	name  string
	slog  slog.Level
}{
	{LevelDebug, "DEBUG", slog.LevelDebug},
	{LevelInfo, "INFO", slog.LevelInfo},
	{LevelWarn, "WARN", slog.LevelWarn},
	{LevelError, "ERROR", slog.LevelError},
}

// String returns "DEBUG", "INFO", "WARN", "ERROR" or "UNKNOWN".
func (l Level) String() string {
	for _, e := range levelTable {
		if e.level == l {
			return e.name
		}
	}
	return "UNKNOWN"
}

// ParseLevel maps a config or flag value to a Level.
//
// Matching is case-insensitive; "warning" is accepted for Warn. Unknown
// values return an error and LevelInfo.
func ParseLevel(s string) (Level, error) {
	switch v := strings.ToUpper(strings.TrimSpace(s)); v {
	case "":
		return LevelInfo, nil
	case "WARNING":
		return LevelWarn, nil
	default:
		for _, e := range levelTable {
			if e.name == v {
				return e.level, nil
			}
		}
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) toSlogLevel() slog.Level {
	for _, e := range levelTable {
		if e.level == l {
			return e.slog
		}
	}
	return slog.LevelInfo
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Logger. The zero value logs Info+ as text to stderr.
type Config struct {
	Level Level

	// LogDir enables a JSON log file "{Service}_{YYYY-MM-DD}.log" in this
	// directory. Supports ~ expansion. Empty disables file logging.
	LogDir string

	// Service is attached to every record as the "service" attribute.
	Service string

	// JSON switches the console handler to JSON. File logs are always JSON.
	JSON bool

	// Quiet disables console output.
	Quiet bool

	// Output replaces stderr as the console destination.
	Output io.Writer

	// MaxAttrLen truncates longer string attributes. Zero means
	// DefaultMaxAttrLen; negative disables truncation.
	MaxAttrLen int
}

// =============================================================================
// Logger
// =============================================================================

// Logger wraps slog.Logger with an optional file destination and a level
// that can change at runtime.
type Logger struct {
	slog  *slog.Logger
	level *slog.LevelVar
	sink  *fileSink
}

// fileSink is shared by a Logger and every child made with With.
type fileSink struct {
	mu   sync.Mutex
	file *os.File
}

// New creates a Logger from config.
//
// # Description
//
// Builds a console handler (unless Quiet) and, when LogDir is set, a JSON
// file handler, and fans records out to both. A log directory that cannot
// be created is not fatal: the logger falls back to the console.
//
// # Outputs
//
//   - *Logger: Ready to use. Never nil.
func New(config Config) *Logger {
	level := new(slog.LevelVar)
	level.Set(config.Level.toSlogLevel())
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: truncateAttrs(config.MaxAttrLen),
	}

	var handlers []slog.Handler
	if !config.Quiet {
		out := config.Output
		if out == nil {
			out = os.Stderr
		}
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	sink := &fileSink{}
	if config.LogDir != "" {
		if f, err := openLogFile(config); err == nil {
			sink.file = f
			handlers = append(handlers, slog.NewJSONHandler(f, opts))
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = fanout(handlers)
	}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	return &Logger{slog: slog.New(handler), level: level, sink: sink}
}

func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.slog.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.slog.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// SetLevel changes the minimum level for this logger and all its children.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level.toSlogLevel())
}

// With returns a child Logger carrying extra attributes. The child shares
// the parent's file and level.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), level: l.level, sink: l.sink}
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// FilePath returns the path of the log file, or "" if file logging is off.
func (l *Logger) FilePath() string {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return ""
	}
	return l.sink.file.Name()
}

// Close syncs and closes the log file, if any. Later calls are no-ops.
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	f := l.sink.file
	if f == nil {
		return nil
	}
	l.sink.file = nil

	syncErr := f.Sync()
	closeErr := f.Close()
	if syncErr != nil {
		return fmt.Errorf("sync log file: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close log file: %w", closeErr)
	}
	return nil
}

// =============================================================================
// Handlers
// =============================================================================

// fanout sends every record to each handler that accepts its level.
type fanout []slog.Handler

func (h fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h {
		if handler.Enabled(ctx, r.Level) {
			errs = append(errs, handler.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.each(func(handler slog.Handler) slog.Handler { return handler.WithAttrs(attrs) })
}

func (h fanout) WithGroup(name string) slog.Handler {
	return h.each(func(handler slog.Handler) slog.Handler { return handler.WithGroup(name) })
}

func (h fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(h))
	for i, handler := range h {
		out[i] = fn(handler)
	}
	return out
}

// truncateAttrs shortens long string values to limit bytes plus a marker
// giving the original length.
func truncateAttrs(limit int) func([]string, slog.Attr) slog.Attr {
	if limit == 0 {
		limit = DefaultMaxAttrLen
	}
	if limit < 0 {
		return nil
	}
	return func(_ []string, a slog.Attr) slog.Attr {
		if a.Value.Kind() != slog.KindString {
			return a
		}
		v := a.Value.String()
		if len(v) <= limit {
			return a
		}
		return slog.String(a.Key, fmt.Sprintf("%s...(%d bytes)", v[:limit], len(v)))
	}
}

// =============================================================================
// Helpers
// =============================================================================

func openLogFile(config Config) (*os.File, error) {
	dir := ExpandPath(config.LogDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	service := config.Service
	if service == "" {
		service = "llmtransform"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format(time.DateOnly))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
