// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/llmtransform/services/transform"
	"github.com/AleutianAI/llmtransform/services/transform/edit"
	"github.com/AleutianAI/llmtransform/services/transform/execlog"
	"github.com/AleutianAI/llmtransform/services/transform/file"
	"github.com/AleutianAI/llmtransform/services/transform/lock"
	"github.com/AleutianAI/llmtransform/services/transform/wire"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// maxListLimit caps GET /executions?limit=.
const maxListLimit = 1000

// Transformer is the service surface the handlers need.
type Transformer interface {
	Apply(ctx context.Context, req transform.ApplyRequest) (*wire.Response, error)
	Checksum(path string) (edit.Checksum, error)
	LockHolder(path string) (*lock.LockInfo, error)
	GetExecution(ctx context.Context, id string) (*wire.ExecutionLogEntry, error)
	ListExecutions(ctx context.Context, limit int) ([]wire.ExecutionLogEntry, error)
}

// ============================================================================
// Request / Response Types
// ============================================================================

// ApplyRequest is the body of POST /v1/transform/apply.
type ApplyRequest struct {
	FilePath      string        `json:"file_path" binding:"required"`
	Write         bool          `json:"write"`
	Diff          bool          `json:"diff"`
	SyntaxCheck   bool          `json:"syntax_check"`
	RequireSyntax bool          `json:"require_syntax"`
	Request       *wire.Request `json:"request" binding:"required"`
}

// ChecksumResponse is the body of GET /v1/transform/checksum.
type ChecksumResponse struct {
	FilePath string         `json:"file_path"`
	Checksum string         `json:"checksum"`
	Locked   bool           `json:"locked"`
	LockedBy *lock.LockInfo `json:"locked_by,omitempty"`
}

// ExecutionsResponse is the body of GET /v1/transform/executions.
type ExecutionsResponse struct {
	Executions []wire.ExecutionLogEntry `json:"executions"`
	Count      int                      `json:"count"`
}

// HealthResponse is the body of GET /v1/transform/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// ============================================================================
// Handlers
// ============================================================================

// Handlers contains the HTTP handlers for the transform service.
type Handlers struct {
	svc    Transformer
	logger *slog.Logger
}

// NewHandlers creates handlers for svc. A nil logger uses slog.Default().
func NewHandlers(svc Transformer, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger}
}

// HandleHealth handles GET /v1/transform/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleApply handles POST /v1/transform/apply.
//
// Description:
//
//	Runs one edit batch against one file and returns the wire response.
//
// Response:
//
//	200 OK: wire.Response, batch succeeded
//	400 Bad Request: invalid body or rejected path
//	404 Not Found: file does not exist
//	409 Conflict: file locked, or changed before the write (wire.Response)
//	422 Unprocessable Entity: wire.Response with success=false
func (h *Handlers) HandleApply(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(slog.String("request_id", requestID), slog.String("handler", "HandleApply"))

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, wire.MaxRequestSize)

	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Request body too large", Code: "TOO_LARGE"})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}
	if err := req.Request.Validate(); err != nil {
		logger.Warn("invalid edit request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid edit request",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	resp, err := h.svc.Apply(c.Request.Context(), transform.ApplyRequest{
		Path:          req.FilePath,
		Request:       req.Request,
		Write:         req.Write,
		Diff:          req.Diff,
		SyntaxCheck:   req.SyntaxCheck,
		RequireSyntax: req.RequireSyntax,
	})
	if err != nil {
		status, code := statusFor(err)
		logger.Warn("apply failed",
			slog.String("file_path", req.FilePath),
			slog.String("code", code),
			slog.String("error", err.Error()))
		if resp != nil {
			c.JSON(status, resp)
			return
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	if !resp.Success {
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleChecksum handles GET /v1/transform/checksum?file_path=.
func (h *Handlers) HandleChecksum(c *gin.Context) {
	path := c.Query("file_path")
	if path == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "file_path query parameter is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	sum, err := h.svc.Checksum(path)
	if err != nil {
		status, code := statusFor(err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	holder, err := h.svc.LockHolder(path)
	if err != nil {
		status, code := statusFor(err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, ChecksumResponse{
		FilePath: path,
		Checksum: sum.String(),
		Locked:   holder != nil,
		LockedBy: holder,
	})
}

// HandleGetExecution handles GET /v1/transform/executions/:id.
func (h *Handlers) HandleGetExecution(c *gin.Context) {
	entry, err := h.svc.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, code := statusFor(err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// HandleListExecutions handles GET /v1/transform/executions?limit=.
func (h *Handlers) HandleListExecutions(c *gin.Context) {
	limit := execlog.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be between 1 and " + strconv.Itoa(maxListLimit),
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = n
	}

	entries, err := h.svc.ListExecutions(c.Request.Context(), limit)
	if err != nil {
		status, code := statusFor(err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	if entries == nil {
		entries = []wire.ExecutionLogEntry{}
	}
	c.JSON(http.StatusOK, ExecutionsResponse{Executions: entries, Count: len(entries)})
}

// statusFor maps a service error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes), errors.Is(err, file.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "TOO_LARGE"
	case errors.Is(err, lock.ErrFileLocked):
		return http.StatusConflict, "FILE_LOCKED"
	case errors.Is(err, file.ErrConflict):
		return http.StatusConflict, "WRITE_CONFLICT"
	case errors.Is(err, file.ErrNotFound):
		return http.StatusNotFound, "FILE_NOT_FOUND"
	case errors.Is(err, execlog.ErrNotFound):
		return http.StatusNotFound, "EXECUTION_NOT_FOUND"
	case errors.Is(err, file.ErrPathNotAllowed), errors.Is(err, file.ErrSensitivePath):
		return http.StatusBadRequest, "INVALID_PATH"
	case errors.Is(err, file.ErrUnsupportedLanguage):
		return http.StatusBadRequest, "UNSUPPORTED_LANGUAGE"
	case errors.Is(err, file.ErrIsDirectory), errors.Is(err, file.ErrInvalidUTF8):
		return http.StatusBadRequest, "INVALID_FILE"
	case errors.Is(err, wire.ErrInvalidRequest), errors.Is(err, transform.ErrNilRequest):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, transform.ErrExecutionLogDisabled):
		return http.StatusServiceUnavailable, "EXECUTION_LOG_DISABLED"
	case errors.Is(err, transform.ErrExecutionLogUnavailable):
		return http.StatusServiceUnavailable, "EXECUTION_LOG_BUSY"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "CANCELLED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// getOrCreateRequestID echoes X-Request-ID, generating one when absent.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
