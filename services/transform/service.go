// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transform runs checksum-verified edit batches against files.
//
// Service ties the pure edit engine to the filesystem: path guarding,
// advisory locking, verify-and-write, syntax checks, diff previews and the
// execution log. The CLI and the HTTP server are thin layers over it.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/llmtransform/services/transform/config"
	"github.com/AleutianAI/llmtransform/services/transform/edit"
	"github.com/AleutianAI/llmtransform/services/transform/execlog"
	"github.com/AleutianAI/llmtransform/services/transform/file"
	"github.com/AleutianAI/llmtransform/services/transform/lock"
	"github.com/AleutianAI/llmtransform/services/transform/preview"
	"github.com/AleutianAI/llmtransform/services/transform/syntax"
	"github.com/AleutianAI/llmtransform/services/transform/wire"
)

var (
	// ErrNilRequest is returned when Apply is called without a request.
	ErrNilRequest = errors.New("request is required")

	// ErrSyntaxBroken marks a refusal to write content that does not parse.
	ErrSyntaxBroken = errors.New("edited content does not parse")

	// ErrExecutionLogDisabled is returned by log queries when the log is off.
	ErrExecutionLogDisabled = errors.New("execution log is disabled")

	// ErrExecutionLogUnavailable is returned by log queries when another
	// process held the log when the service started.
	ErrExecutionLogUnavailable = errors.New("execution log is unavailable")
)

// ============================================================================
// Types
// ============================================================================

// Options configures a Service.
type Options struct {
	// Config is the loaded configuration.
	Config config.Config

	// Logger receives service diagnostics. Nil uses slog.Default().
	Logger *slog.Logger

	// IDGenerator produces execution IDs for "auto" requests.
	// Nil uses wire.NewExecutionID.
	IDGenerator wire.IDGenerator

	// Tracing enables transform.apply / transform.write spans.
	Tracing bool
}

// ApplyRequest is one batch against one file.
type ApplyRequest struct {
	// Path is the target file, absolute or relative to the working dir.
	Path string

	Request *wire.Request

	// Write persists the edited content with verify-and-write under a lock.
	Write bool

	// Diff includes a unified diff in the response.
	Diff bool

	// SyntaxCheck parses the edited content and reports the result.
	SyntaxCheck bool

	// RequireSyntax refuses to write content that does not parse.
	// Implies SyntaxCheck.
	RequireSyntax bool
}

// Service runs edit batches.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent writes to the same file are
// serialized by the lock manager: the loser gets lock.ErrFileLocked.
type Service struct {
	cfg     config.Config
	guard   *file.Guard
	locks   *lock.Manager
	execlog *execlog.Store
	logErr  error
	tracer  *Tracer
	logger  *slog.Logger
	newID   wire.IDGenerator
}

// New creates a Service from opts.
//
// # Description
//
// Resolves the working directory, builds the path guard, opens the lock
// manager and, unless disabled, the execution log.
//
// # Outputs
//
//   - *Service: Ready-to-use service. Call Close when done.
//   - error: Working dir, lock dir or execution log failures.
func New(opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "transform"))

	cfg := opts.Config
	workingDir, err := cfg.ResolveWorkingDir()
	if err != nil {
		return nil, fmt.Errorf("resolving working dir: %w", err)
	}

	locks, err := lock.NewManager(lock.Config{
		LockDir:       cfg.LockDir,
		SessionID:     uuid.NewString(),
		DefaultTTL:    cfg.LockTTL,
		CleanupOnInit: true,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating lock manager: %w", err)
	}

	// A log held by another process leaves batches unrecorded; New still succeeds.
	store, err := openExecutionLog(cfg.ExecutionLog, logger)
	var logErr error
	switch {
	case errors.Is(err, execlog.ErrBusy):
		logger.Warn("execution log held by another process, batches will not be recorded",
			slog.String("path", cfg.ExecutionLog.Path))
		logErr = fmt.Errorf("%w: %w", ErrExecutionLogUnavailable, err)
	case err != nil:
		_ = locks.Close()
		return nil, err
	case store == nil:
		logErr = ErrExecutionLogDisabled
	}

	newID := opts.IDGenerator
	if newID == nil {
		newID = wire.NewExecutionID
	}

	return &Service{
		cfg:     cfg,
		guard:   file.NewGuard(workingDir, cfg.AllowedPaths, cfg.AllowUnknownLanguages),
		locks:   locks,
		execlog: store,
		logErr:  logErr,
		tracer:  NewTracer(logger, opts.Tracing),
		logger:  logger,
		newID:   newID,
	}, nil
}

func openExecutionLog(cfg config.ExecutionLogConfig, logger *slog.Logger) (*execlog.Store, error) {
	switch {
	case cfg.Disabled:
		return nil, nil
	case cfg.InMemory:
		return execlog.OpenInMemory()
	default:
		storeCfg := execlog.DefaultConfig(cfg.Path)
		storeCfg.Retention = cfg.Retention
		storeCfg.Logger = logger
		store, err := execlog.Open(storeCfg)
		if err != nil {
			return nil, fmt.Errorf("opening execution log: %w", err)
		}
		return store, nil
	}
}

// Close releases held locks and closes the execution log.
func (s *Service) Close() error {
	var errs []error
	if err := s.locks.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.execlog != nil {
		if err := s.execlog.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ============================================================================
// Apply
// ============================================================================

// Apply runs one batch against one file.
//
// # Description
//
// Guards the path, reads the file, takes an advisory lock when writing,
// runs the batch, optionally checks syntax and renders a diff, then
// verify-and-writes the result when requested and the batch succeeded.
// Every batch that ran is recorded in the execution log.
//
// Batch failures (initial checksum mismatch, an errored edit, a syntax
// refusal) are reported in the response with Success false and a nil
// error. The error return is reserved for problems that prevented the
// batch or the write: path rejection, unreadable file, lock conflict,
// write conflict, cancellation.
//
// # Inputs
//
//   - ctx: Checked between edits.
//   - req: The batch. Request must be non-nil.
//
// # Outputs
//
//   - *wire.Response: The batch report. Nil only when the batch never ran.
//   - error: See above. A write conflict returns both the response and
//     a file.ErrConflict.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (resp *wire.Response, err error) {
	if req.Request == nil {
		return nil, ErrNilRequest
	}
	started := time.Now()
	id := req.Request.ResolveExecutionID(s.newID)
	tagged := req.Request.ToEdits()

	ctx, span := s.tracer.StartApply(ctx, req.Path, id, len(tagged))
	defer func() { s.tracer.EndApply(span, resp, err) }()
	logger := LoggerWithTrace(ctx, s.logger).With(slog.String("execution_id", id))

	path, err := s.guard.Resolve(req.Path)
	if err != nil {
		return nil, err
	}
	content, err := file.Read(path, s.cfg.MaxFileSize)
	if err != nil {
		return nil, err
	}

	var lease *lock.Lease
	if req.Write {
		lease, err = s.locks.Acquire(path, id)
		if err != nil {
			return nil, err
		}
		defer func() {
			if relErr := lease.Release(); relErr != nil {
				logger.Warn("releasing lock failed", slog.String("error", relErr.Error()))
			}
		}()
	}

	initial := req.Request.Checksum()
	result, runErr := edit.Run(ctx, content.Text, initial, tagged)
	var fatal *edit.FatalError
	switch {
	case errors.As(runErr, &fatal):
		logger.Warn("batch rejected", slog.String("path", path), slog.String("error", runErr.Error()))
		recordBatch(ctx, nil, true, time.Since(started))
		resp = wire.Failure(id, runErr.Error())
		s.record(ctx, logger, path, initial, started, resp)
		return resp, nil
	case runErr != nil:
		recordBatch(ctx, result, false, time.Since(started))
		return nil, runErr
	}

	s.tracer.RecordOutcomes(ctx, result)
	s.logOutcomes(logger, result)

	resp = wire.FromResult(id, content.Text, result)

	if req.SyntaxCheck || req.RequireSyntax {
		if err := s.checkSyntax(ctx, path, result.Content, resp); err != nil {
			return nil, err
		}
	}
	if req.Diff && result.Changed() {
		unified, err := preview.Unified(path, content.Text, result.Content, preview.DefaultContext)
		if err != nil {
			return nil, fmt.Errorf("rendering diff: %w", err)
		}
		stats, err := preview.Stats(unified)
		if err != nil {
			return nil, fmt.Errorf("counting diff lines: %w", err)
		}
		resp.Diff = unified
		resp.DiffStats = &wire.DiffStatsJSON{Added: stats.Added, Removed: stats.Removed}
	}

	if req.RequireSyntax && resp.Success && resp.Syntax != nil && !resp.Syntax.Valid {
		resp.Success = false
		resp.Error = fmt.Sprintf("%v at %d:%d: %s", ErrSyntaxBroken, resp.Syntax.Line, resp.Syntax.Column, resp.Syntax.Message)
	}

	if req.Write && resp.Success && result.Changed() {
		err = s.write(ctx, lease, content, result.Content)
		if err != nil {
			resp.Success = false
			resp.Error = err.Error()
		} else {
			resp.Written = true
		}
	}

	recordBatch(ctx, result, false, time.Since(started))
	s.record(ctx, logger, path, initial, started, resp)

	logger.Info("batch complete",
		slog.String("path", path),
		slog.Int("applied", resp.AppliedCount),
		slog.Int("skipped", resp.SkippedCount),
		slog.Int("errors", resp.ErrorCount),
		slog.Int64("byte_shift", resp.TotalByteShift),
		slog.Bool("written", resp.Written),
		slog.Bool("success", resp.Success))

	return resp, err
}

func (s *Service) checkSyntax(ctx context.Context, path, text string, resp *wire.Response) error {
	report, err := syntax.CheckPath(ctx, path, text)
	if err != nil {
		return fmt.Errorf("syntax check: %w", err)
	}
	if !report.Checked {
		return nil
	}
	resp.Syntax = &wire.SyntaxJSON{
		Language: string(report.Language),
		Valid:    report.Valid,
		Line:     report.Line,
		Column:   report.Column,
		Message:  report.Message,
	}
	return nil
}

// write persists text if nothing touched the file since content was read.
func (s *Service) write(ctx context.Context, lease *lock.Lease, content *file.Content, text string) (err error) {
	_, span := s.tracer.StartWrite(ctx, content.Path)
	defer func() {
		s.tracer.EndWrite(span, err)
		recordWrite(ctx, err)
	}()

	if changed, kind := lease.Changed(); changed {
		return &file.FileError{
			Path:       content.Path,
			Err:        file.ErrConflict,
			Suggestion: fmt.Sprintf("file saw an external %s; re-read it and resend the batch", kind),
		}
	}
	return file.VerifyAndWrite(content.Path, content.Checksum, text, content.Mode)
}

func (s *Service) logOutcomes(logger *slog.Logger, res *edit.BatchResult) {
	for _, o := range res.Outcomes {
		switch o.Status {
		case edit.StatusApplied:
			logger.Debug("edit applied",
				slog.String("span", o.Span.String()),
				slog.Int64("byte_shift", o.ByteShift))
		default:
			logger.Warn("edit "+string(o.Status),
				slog.String("span", o.Span.String()),
				slog.String("reason", o.Reason))
		}
	}
}

// record stores an execution log entry. Failures are logged, not returned.
func (s *Service) record(ctx context.Context, logger *slog.Logger, path string, initial edit.Checksum, started time.Time, resp *wire.Response) {
	if s.execlog == nil {
		return
	}
	entry := wire.NewLogEntry(path, initial.String(), started, resp)
	if err := s.execlog.Record(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warn("recording execution failed", slog.String("error", err.Error()))
	}
}

// ============================================================================
// Queries
// ============================================================================

// Checksum returns the checksum of the guarded file at path.
func (s *Service) Checksum(path string) (edit.Checksum, error) {
	resolved, err := s.guard.Resolve(path)
	if err != nil {
		return "", err
	}
	return file.Checksum(resolved)
}

// LockHolder returns the live advisory lock on the guarded file at path,
// or nil when nobody holds it.
func (s *Service) LockHolder(path string) (*lock.LockInfo, error) {
	resolved, err := s.guard.Resolve(path)
	if err != nil {
		return nil, err
	}
	locked, info, err := s.locks.IsLocked(resolved)
	if err != nil || !locked {
		return nil, err
	}
	return info, nil
}

// GetExecution returns the logged batch with the given ID.
func (s *Service) GetExecution(ctx context.Context, id string) (*wire.ExecutionLogEntry, error) {
	if s.execlog == nil {
		return nil, s.logErr
	}
	return s.execlog.Get(ctx, id)
}

// ListExecutions returns up to limit logged batches, newest first.
func (s *Service) ListExecutions(ctx context.Context, limit int) ([]wire.ExecutionLogEntry, error) {
	if s.execlog == nil {
		return nil, s.logErr
	}
	return s.execlog.List(ctx, limit)
}

// Config returns the configuration the service was built with.
func (s *Service) Config() config.Config {
	return s.cfg
}
