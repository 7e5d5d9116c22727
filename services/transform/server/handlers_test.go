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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/llmtransform/services/transform"
	"github.com/AleutianAI/llmtransform/services/transform/config"
	"github.com/AleutianAI/llmtransform/services/transform/edit"
	"github.com/AleutianAI/llmtransform/services/transform/lock"
	"github.com/AleutianAI/llmtransform/services/transform/wire"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

const source = "fn main() {\n    let x = 1;\n}\n"

type fixture struct {
	router  *gin.Engine
	svc     *transform.Service
	dir     string
	lockDir string
	path    string
}

func newFixture(t *testing.T, serverCfg config.ServerConfig) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.WorkingDir = dir
	cfg.LockDir = t.TempDir()
	cfg.ExecutionLog = config.ExecutionLogConfig{InMemory: true}

	svc, err := transform.New(transform.Options{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	path := filepath.Join(dir, "main.rs")
	require.NoError(t, os.WriteFile(path, []byte(source), 0644))

	return &fixture{
		router:  NewRouter(svc, serverCfg, nil),
		svc:     svc,
		dir:     dir,
		lockDir: cfg.LockDir,
		path:    path,
	}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func applyBody(path string, checksum edit.Checksum, write bool) ApplyRequest {
	start := strings.Index(source, "1;")
	return ApplyRequest{
		FilePath: path,
		Write:    write,
		Request: &wire.Request{
			ExecutionID:      "exec-http",
			ExpectedChecksum: checksum.String(),
			Edits:            []wire.EditJSON{{ByteStart: start, ByteEnd: start + 1, Replacement: "42"}},
		},
	}
}

var unlimited = config.ServerConfig{Address: ":0"}

// ============================================================================
// Health / Metrics
// ============================================================================

func TestHandlers_HandleHealth(t *testing.T) {
	f := newFixture(t, unlimited)
	w := f.do(t, http.MethodGet, "/v1/transform/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, unlimited)
	w := f.do(t, http.MethodGet, "/metrics", nil)
	// 200 once telemetry installed Prometheus, 404 otherwise.
	assert.Contains(t, []int{http.StatusOK, http.StatusNotFound}, w.Code)
}

// ============================================================================
// Apply
// ============================================================================

func TestHandlers_HandleApply(t *testing.T) {
	t.Run("dry run", func(t *testing.T) {
		f := newFixture(t, unlimited)
		w := f.do(t, http.MethodPost, "/v1/transform/apply", applyBody("main.rs", edit.Digest(source), false))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp wire.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "exec-http", resp.ExecutionID)
		assert.Equal(t, int64(1), resp.TotalByteShift)

		data, _ := os.ReadFile(f.path)
		assert.Equal(t, source, string(data))
	})

	t.Run("write", func(t *testing.T) {
		f := newFixture(t, unlimited)
		w := f.do(t, http.MethodPost, "/v1/transform/apply", applyBody(f.path, edit.Digest(source), true))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		data, _ := os.ReadFile(f.path)
		assert.Equal(t, strings.Replace(source, "1;", "42;", 1), string(data))
	})

	t.Run("checksum mismatch is unprocessable", func(t *testing.T) {
		f := newFixture(t, unlimited)
		w := f.do(t, http.MethodPost, "/v1/transform/apply", applyBody(f.path, edit.Digest("stale"), false))
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var resp wire.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Error, "checksum mismatch")
	})

	t.Run("missing file path", func(t *testing.T) {
		f := newFixture(t, unlimited)
		body := applyBody("", edit.Digest(source), false)
		w := f.do(t, http.MethodPost, "/v1/transform/apply", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid checksum format", func(t *testing.T) {
		f := newFixture(t, unlimited)
		body := applyBody(f.path, edit.Digest(source), false)
		body.Request.ExpectedChecksum = "xyz"
		w := f.do(t, http.MethodPost, "/v1/transform/apply", body)
		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "INVALID_REQUEST", resp.Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		f := newFixture(t, unlimited)
		req := httptest.NewRequest(http.MethodPost, "/v1/transform/apply", strings.NewReader("{"))
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing file", func(t *testing.T) {
		f := newFixture(t, unlimited)
		w := f.do(t, http.MethodPost, "/v1/transform/apply", applyBody("gone.rs", edit.Digest(source), false))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("path outside working dir", func(t *testing.T) {
		f := newFixture(t, unlimited)
		other := filepath.Join(t.TempDir(), "x.rs")
		w := f.do(t, http.MethodPost, "/v1/transform/apply", applyBody(other, edit.Digest(source), false))
		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "INVALID_PATH", resp.Code)
	})
}

// ============================================================================
// Checksum / Executions
// ============================================================================

func TestHandlers_HandleChecksum(t *testing.T) {
	f := newFixture(t, unlimited)

	w := f.do(t, http.MethodGet, "/v1/transform/checksum?file_path=main.rs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp ChecksumResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, edit.Digest(source).String(), resp.Checksum)
	assert.False(t, resp.Locked)
	assert.Nil(t, resp.LockedBy)

	w = f.do(t, http.MethodGet, "/v1/transform/checksum", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_HandleChecksum_ReportsLockHolder(t *testing.T) {
	f := newFixture(t, unlimited)

	other, err := lock.NewManager(lock.Config{LockDir: f.lockDir}, nil)
	require.NoError(t, err)
	defer other.Close()
	target, err := filepath.EvalSymlinks(f.path)
	require.NoError(t, err)
	lease, err := other.Acquire(target, "exec-holder")
	require.NoError(t, err)
	defer lease.Release()

	w := f.do(t, http.MethodGet, "/v1/transform/checksum?file_path=main.rs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp ChecksumResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Locked)
	require.NotNil(t, resp.LockedBy)
	assert.Equal(t, "exec-holder", resp.LockedBy.ExecutionID)
	assert.Equal(t, os.Getpid(), resp.LockedBy.PID)
}

func TestHandlers_Executions(t *testing.T) {
	f := newFixture(t, unlimited)
	w := f.do(t, http.MethodPost, "/v1/transform/apply", applyBody(f.path, edit.Digest(source), false))
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("get", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/v1/transform/executions/exec-http", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var entry wire.ExecutionLogEntry
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
		assert.Equal(t, 1, entry.Applied)
	})

	t.Run("get unknown", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/v1/transform/executions/exec-nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("list", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/v1/transform/executions?limit=5", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp ExecutionsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
	})

	t.Run("bad limit", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/v1/transform/executions?limit=zero", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// ============================================================================
// Middleware / Lifecycle
// ============================================================================

func TestRateLimit(t *testing.T) {
	f := newFixture(t, config.ServerConfig{Address: ":0", RateLimit: 0.001, Burst: 1})

	first := f.do(t, http.MethodGet, "/v1/transform/health", nil)
	assert.Equal(t, http.StatusOK, first.Code)

	second := f.do(t, http.MethodGet, "/v1/transform/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestStatusFor(t *testing.T) {
	status, code := statusFor(context.Canceled)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "CANCELLED", code)

	status, code = statusFor(transform.ErrExecutionLogDisabled)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "EXECUTION_LOG_DISABLED", code)

	status, code = statusFor(fmt.Errorf("%w: held", transform.ErrExecutionLogUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "EXECUTION_LOG_BUSY", code)

	status, _ = statusFor(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestRun_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, addr, http.NotFoundHandler(), nil) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}
}
