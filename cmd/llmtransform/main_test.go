// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/llmtransform/services/transform/edit"
	"github.com/AleutianAI/llmtransform/services/transform/execlog"
	"github.com/AleutianAI/llmtransform/services/transform/wire"
)

// =============================================================================
// HARNESS
// =============================================================================

const cliSource = "package main\n\nvar x = 1\n"

type cliResult struct {
	exit   int
	stdout string
	stderr string
}

// cliEnv is a scratch working directory with its own config file.
type cliEnv struct {
	t      *testing.T
	dir    string
	config string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`working_dir: %q
lock_dir: %q
execution_log:
  path: %q
logging:
  level: error
telemetry:
  trace_exporter: none
  metric_exporter: none
`, dir, filepath.Join(dir, ".locks"), filepath.Join(dir, ".executions"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return &cliEnv{t: t, dir: dir, config: path}
}

func (e *cliEnv) writeFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (e *cliEnv) readFile(name string) string {
	e.t.Helper()
	data, err := os.ReadFile(filepath.Join(e.dir, name))
	require.NoError(e.t, err)
	return string(data)
}

func (e *cliEnv) run(stdin string, args ...string) cliResult {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", e.config}, args...)
	code := execute(full, strings.NewReader(stdin), &stdout, &stderr)
	return cliResult{exit: code, stdout: stdout.String(), stderr: stderr.String()}
}

// replaceOne builds a request that swaps the first occurrence of old.
func replaceOne(t *testing.T, id, content, old, replacement string) string {
	t.Helper()
	start := strings.Index(content, old)
	require.GreaterOrEqual(t, start, 0)
	req := wire.Request{
		ExecutionID:      id,
		ExpectedChecksum: string(edit.Digest(content)),
		Edits: []wire.EditJSON{
			{ByteStart: start, ByteEnd: start + len(old), Replacement: replacement},
		},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return string(data)
}

// =============================================================================
// APPLY
// =============================================================================

func TestCLI_Apply_TextReport(t *testing.T) {
	env := newCLIEnv(t)
	env.writeFile("main.go", cliSource)
	body := replaceOne(t, "exec-cli-text", cliSource, "1", "42")

	res := env.run(body, "--file", "main.go")

	require.Equal(t, exitOK, res.exit, res.stderr)
	assert.Contains(t, res.stdout, "Applied 1 edit(s)")
	assert.Contains(t, res.stdout, "Total byte shift: 1")
	assert.Contains(t, res.stdout, "Final checksum: "+string(edit.Digest("package main\n\nvar x = 42\n")))
	assert.NotContains(t, res.stdout, "\x1b[", "output to a buffer must not be styled")
	assert.Equal(t, cliSource, env.readFile("main.go"), "dry run must not touch the file")
}

func TestCLI_Apply_JSONWriteAndDiff(t *testing.T) {
	env := newCLIEnv(t)
	env.writeFile("main.go", cliSource)
	edits := env.writeFile("edits.json", replaceOne(t, "exec-cli-json", cliSource, "1", "42"))

	res := env.run("", "-f", "main.go", "-e", edits, "--json", "--write", "--diff", "--syntax-check")

	require.Equal(t, exitOK, res.exit, res.stderr)
	var resp wire.Response
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Written)
	assert.Equal(t, "exec-cli-json", resp.ExecutionID)
	assert.Contains(t, resp.Diff, "+var x = 42")
	require.NotNil(t, resp.Syntax)
	assert.True(t, resp.Syntax.Valid)
	assert.Equal(t, "package main\n\nvar x = 42\n", env.readFile("main.go"))
}

func TestCLI_Apply_OutputFile(t *testing.T) {
	env := newCLIEnv(t)
	env.writeFile("main.go", cliSource)
	report := filepath.Join(env.dir, "report.json")

	res := env.run(replaceOne(t, "exec-cli-out", cliSource, "x", "y"), "-f", "main.go", "-o", report, "-j")

	require.Equal(t, exitOK, res.exit, res.stderr)
	assert.Empty(t, res.stdout)
	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var resp wire.Response
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, 1, resp.AppliedCount)
}

func TestCLI_Apply_Failures(t *testing.T) {
	tests := []struct {
		name       string
		stdin      func(t *testing.T) string
		args       []string
		wantExit   int
		wantStdout string
		wantStderr string
	}{
		{
			name: "checksum mismatch",
			stdin: func(t *testing.T) string {
				return replaceOne(t, "exec-stale", "package main\n\nvar x = 2\n", "2", "3")
			},
			args:       []string{"-f", "main.go"},
			wantExit:   exitFailure,
			wantStdout: "Error: ",
		},
		{
			name:       "malformed request",
			stdin:      func(t *testing.T) string { return "{not json" },
			args:       []string{"-f", "main.go"},
			wantExit:   exitFailure,
			wantStderr: "reading edit request",
		},
		{
			name:       "missing edits file",
			stdin:      func(t *testing.T) string { return "" },
			args:       []string{"-f", "main.go", "-e", "/nonexistent/edits.json"},
			wantExit:   exitFailure,
			wantStderr: "reading edit request",
		},
		{
			name: "file not found",
			stdin: func(t *testing.T) string {
				return replaceOne(t, "exec-missing", cliSource, "1", "2")
			},
			args:       []string{"-f", "missing.go"},
			wantExit:   exitFailure,
			wantStdout: "Error: Failed to apply edits to 'missing.go'",
		},
		{
			name: "unsupported language",
			stdin: func(t *testing.T) string {
				return replaceOne(t, "exec-lang", cliSource, "1", "2")
			},
			args:       []string{"-f", "notes.xyz"},
			wantExit:   exitFailure,
			wantStdout: "Error: ",
		},
		{
			name:       "missing --file",
			stdin:      func(t *testing.T) string { return "" },
			args:       []string{},
			wantExit:   exitUsage,
			wantStderr: "file",
		},
		{
			name:       "unknown flag",
			stdin:      func(t *testing.T) string { return "" },
			args:       []string{"-f", "main.go", "--bogus"},
			wantExit:   exitUsage,
			wantStderr: "--help",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newCLIEnv(t)
			env.writeFile("main.go", cliSource)
			env.writeFile("notes.xyz", cliSource)

			res := env.run(tt.stdin(t), tt.args...)

			assert.Equal(t, tt.wantExit, res.exit, "stdout=%q stderr=%q", res.stdout, res.stderr)
			if tt.wantStdout != "" {
				assert.Contains(t, res.stdout, tt.wantStdout)
			}
			if tt.wantStderr != "" {
				assert.Contains(t, res.stderr, tt.wantStderr)
			}
			assert.Equal(t, cliSource, env.readFile("main.go"))
		})
	}
}

func TestCLI_Apply_PartialSuccessExitsZero(t *testing.T) {
	env := newCLIEnv(t)
	env.writeFile("main.go", cliSource)
	// "package main" and "main" overlap; the lower edit is skipped.
	req := wire.Request{
		ExpectedChecksum: string(edit.Digest(cliSource)),
		Edits: []wire.EditJSON{
			{ByteStart: 0, ByteEnd: 12, Replacement: "package app"},
			{ByteStart: 8, ByteEnd: 12, Replacement: "demo"},
		},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	res := env.run(string(data), "-f", "main.go")

	require.Equal(t, exitOK, res.exit, res.stderr)
	assert.Contains(t, res.stdout, "Skipped: 1")
	assert.Contains(t, res.stdout, "skipped 1:1-1:13: ")
}

// =============================================================================
// EXECUTION LOG
// =============================================================================

func TestCLI_Apply_ExecutionLogHeldElsewhere(t *testing.T) {
	env := newCLIEnv(t)
	env.writeFile("main.go", cliSource)

	cfg := execlog.DefaultConfig(filepath.Join(env.dir, ".executions"))
	cfg.GCInterval = 0
	held, err := execlog.Open(cfg)
	require.NoError(t, err)
	defer held.Close()

	res := env.run(replaceOne(t, "exec-cli-busy", cliSource, "1", "2"), "--file", "main.go", "--json", "--write")

	require.Equal(t, exitOK, res.exit, res.stderr)
	var resp wire.Response
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.True(t, resp.Written)
	assert.Equal(t, "package main\n\nvar x = 2\n", env.readFile("main.go"))
}

func TestCLI_Log_ListAndShow(t *testing.T) {
	env := newCLIEnv(t)
	env.writeFile("main.go", cliSource)
	require.Equal(t, exitOK, env.run(replaceOne(t, "exec-logged", cliSource, "1", "2"), "-f", "main.go").exit)

	list := env.run("", "log", "list", "--json")
	require.Equal(t, exitOK, list.exit, list.stderr)
	var entries []wire.ExecutionLogEntry
	require.NoError(t, json.Unmarshal([]byte(list.stdout), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "exec-logged", entries[0].ExecutionID)
	assert.Equal(t, 1, entries[0].Applied)

	show := env.run("", "log", "show", "exec-logged")
	require.Equal(t, exitOK, show.exit, show.stderr)
	assert.Contains(t, show.stdout, "Execution: exec-logged")
	assert.Contains(t, show.stdout, "Status: ok")

	missing := env.run("", "log", "show", "exec-nope")
	assert.Equal(t, exitFailure, missing.exit)
	assert.Contains(t, missing.stderr, "execution not found")
}

func TestCLI_Log_NoLogSkipsRecording(t *testing.T) {
	env := newCLIEnv(t)
	env.writeFile("main.go", cliSource)
	require.Equal(t, exitOK, env.run(replaceOne(t, "exec-quiet", cliSource, "1", "2"), "-f", "main.go", "--no-log").exit)

	list := env.run("", "log", "list")
	require.Equal(t, exitOK, list.exit, list.stderr)
	assert.Contains(t, list.stdout, "No recorded batches.")
}

func TestCLI_Log_BadLimit(t *testing.T) {
	env := newCLIEnv(t)
	res := env.run("", "log", "list", "--limit", "0")
	assert.Equal(t, exitUsage, res.exit)
}

// =============================================================================
// INSPECTION
// =============================================================================

func TestCLI_Checksum(t *testing.T) {
	env := newCLIEnv(t)
	path := env.writeFile("main.go", cliSource)

	res := env.run("", "checksum", path)
	require.Equal(t, exitOK, res.exit, res.stderr)
	assert.Equal(t, string(edit.Digest(cliSource))+"\n", res.stdout)

	res = env.run("", "checksum", path, "--json")
	require.Equal(t, exitOK, res.exit)
	var out checksumOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, string(edit.Digest(cliSource)), out.Checksum)

	res = env.run("", "checksum", filepath.Join(env.dir, "nope.go"))
	assert.Equal(t, exitFailure, res.exit)
}

func TestCLI_Position(t *testing.T) {
	env := newCLIEnv(t)
	path := env.writeFile("main.go", cliSource)

	tests := []struct {
		name     string
		offset   string
		wantExit int
		want     positionOutput
	}{
		{"start", "0", exitOK, positionOutput{Line: 1, Column: 1, DisplayColumn: 1}},
		{"third line", "18", exitOK, positionOutput{Line: 3, Column: 5, DisplayColumn: 5}},
		{"past end", "100", exitOK, positionOutput{Line: 4, Column: 77, DisplayColumn: 77, PastEnd: true}},
		{"negative", "-1", exitUsage, positionOutput{}},
		{"not a number", "abc", exitUsage, positionOutput{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := env.run("", "position", path, tt.offset, "--json")
			require.Equal(t, tt.wantExit, res.exit, res.stderr)
			if tt.wantExit != exitOK {
				return
			}
			var got positionOutput
			require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
			assert.Equal(t, tt.want.Line, got.Line)
			assert.Equal(t, tt.want.Column, got.Column)
			assert.Equal(t, tt.want.DisplayColumn, got.DisplayColumn)
			assert.Equal(t, tt.want.PastEnd, got.PastEnd)
		})
	}
}

func TestCLI_Language(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run("", "language", "lib.rs", "--json")
	require.Equal(t, exitOK, res.exit, res.stderr)
	var out languageOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, "rust", out.Language)
	assert.True(t, out.Supported)
	assert.Contains(t, out.Extensions, "rs")

	res = env.run("", "language", "notes.xyz")
	require.Equal(t, exitOK, res.exit)
	assert.Contains(t, res.stdout, "Unknown")
}

func TestCLI_VersionAndHelp(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run("", "version")
	require.Equal(t, exitOK, res.exit)
	assert.Equal(t, "llmtransform "+version+"\n", res.stdout)

	res = env.run("", "--help")
	require.Equal(t, exitOK, res.exit)
	for _, want := range []string{"checksum", "position", "language", "log", "serve", "--write"} {
		assert.Contains(t, res.stdout, want)
	}
}

func TestReadEditRequest_FromReader(t *testing.T) {
	body := replaceOne(t, "exec-reader", cliSource, "1", "2")
	req, err := readEditRequest(strings.NewReader(body), "")
	require.NoError(t, err)
	assert.Equal(t, "exec-reader", req.ExecutionID)
	assert.Len(t, req.Edits, 1)
}
