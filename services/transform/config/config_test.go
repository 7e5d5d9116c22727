// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/llmtransform/services/transform/file"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

// ============================================================================
// Load Tests
// ============================================================================

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, int64(file.DefaultMaxFileSize), cfg.MaxFileSize)
	assert.Equal(t, 5*time.Minute, cfg.LockTTL)
	assert.Equal(t, ":8088", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, strings.HasSuffix(cfg.ExecutionLog.Path, "executions"))
	assert.Equal(t, 720*time.Hour, cfg.ExecutionLog.Retention)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := writeConfig(t, `
working_dir: /srv/repo
allowed_paths:
  - /srv/repo
  - /srv/shared
max_file_size: 2048
allow_unknown_languages: true
lock_ttl: 90s
execution_log:
  in_memory: true
logging:
  level: debug
  json: true
server:
  address: 127.0.0.1:9000
  rate_limit: 5
  burst: 10
telemetry:
  trace_exporter: stdout
  metric_exporter: none
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/repo", cfg.WorkingDir)
	assert.Equal(t, []string{"/srv/repo", "/srv/shared"}, cfg.AllowedPaths)
	assert.Equal(t, int64(2048), cfg.MaxFileSize)
	assert.True(t, cfg.AllowUnknownLanguages)
	assert.Equal(t, 90*time.Second, cfg.LockTTL)
	assert.True(t, cfg.ExecutionLog.InMemory)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address)
	assert.Equal(t, 5.0, cfg.Server.RateLimit)
	assert.Equal(t, "stdout", cfg.Telemetry.TraceExporter)
	assert.Equal(t, "none", cfg.Telemetry.MetricExporter)

	// Untouched fields keep their defaults.
	assert.Equal(t, Default().LockDir, cfg.LockDir)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, "\n"))
	require.NoError(t, err)
	assert.Equal(t, Default().MaxFileSize, cfg.MaxFileSize)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "colour: blue\n", "colour"},
		{"bad yaml", "server: [\n", "failed to parse"},
		{"bad level", "logging:\n  level: loud\n", "Logging.Level"},
		{"bad exporter", "telemetry:\n  trace_exporter: jaeger\n", "TraceExporter"},
		{"negative size", "max_file_size: -1\n", "MaxFileSize"},
		{"empty address", "server:\n  address: \"\"\n", "Server.Address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_TooLarge(t *testing.T) {
	body := "# " + strings.Repeat("x", MaxConfigSize) + "\n"
	_, err := Load(writeConfig(t, body))
	assert.ErrorIs(t, err, ErrConfigTooLarge)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.LockTTL = 2 * time.Minute
	cfg.Server.Address = ":9999"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, loaded.LockTTL)
	assert.Equal(t, ":9999", loaded.Server.Address)
}

// ============================================================================
// Environment Tests
// ============================================================================

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LLMTRANSFORM_WORKING_DIR":             "/work",
		"LLMTRANSFORM_ALLOWED_PATHS":           strings.Join([]string{"/a", "/b"}, string(os.PathListSeparator)),
		"LLMTRANSFORM_MAX_FILE_SIZE":           "100",
		"LLMTRANSFORM_LOCK_TTL":                "1m",
		"LLMTRANSFORM_ALLOW_UNKNOWN_LANGUAGES": "true",
		"LLMTRANSFORM_NO_EXECUTION_LOG":        "1",
		"LLMTRANSFORM_LOG_LEVEL":               "debug",
		"LLMTRANSFORM_SERVER_ADDR":             ":1234",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, "/work", cfg.WorkingDir)
	assert.Equal(t, []string{"/a", "/b"}, cfg.AllowedPaths)
	assert.Equal(t, int64(100), cfg.MaxFileSize)
	assert.Equal(t, time.Minute, cfg.LockTTL)
	assert.True(t, cfg.AllowUnknownLanguages)
	assert.True(t, cfg.ExecutionLog.Disabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":1234", cfg.Server.Address)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	for _, key := range []string{"MAX_FILE_SIZE", "LOCK_TTL", "LOG_JSON"} {
		t.Run(key, func(t *testing.T) {
			lookup := func(k string) (string, bool) {
				if k == EnvPrefix+key {
					return "not-a-value", true
				}
				return "", false
			}
			cfg := Default()
			err := cfg.applyEnv(lookup)
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_EnvWins(t *testing.T) {
	t.Setenv("LLMTRANSFORM_SERVER_ADDR", ":7777")
	cfg, err := Load(writeConfig(t, "server:\n  address: \":1111\"\n"))
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Address)
}

// ============================================================================
// Validation Tests
// ============================================================================

func TestValidate_CrossField(t *testing.T) {
	t.Run("execution log path required", func(t *testing.T) {
		cfg := Default()
		cfg.ExecutionLog.Path = ""
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

		cfg.ExecutionLog.Disabled = true
		assert.NoError(t, cfg.Validate())
	})

	t.Run("burst required with rate limit", func(t *testing.T) {
		cfg := Default()
		cfg.Server.Burst = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

		cfg.Server.RateLimit = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestResolveWorkingDir(t *testing.T) {
	cfg := Default()
	wd, err := cfg.ResolveWorkingDir()
	require.NoError(t, err)
	cwd, _ := os.Getwd()
	assert.Equal(t, cwd, wd)

	cfg.WorkingDir = t.TempDir()
	wd, err = cfg.ResolveWorkingDir()
	require.NoError(t, err)
	assert.Equal(t, cfg.WorkingDir, wd)
}
