// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package preview renders the effect of a batch as a unified diff.
package preview

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// DefaultContext is the number of unchanged lines shown around a change.
const DefaultContext = 3

// LineStats counts changed lines in a diff.
type LineStats struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Unified returns a unified diff from oldText to newText for path.
//
// # Description
//
// Lines are compared including their terminating newline, so a dropped
// final newline shows up as a change. Hunks come from difflib's grouped
// opcodes and are printed by go-diff.
//
// # Outputs
//
//   - string: The diff, or "" when the texts are equal.
//   - error: Non-nil if rendering fails.
func Unified(path, oldText, newText string, context int) (string, error) {
	if oldText == newText {
		return "", nil
	}
	if context < 0 {
		context = DefaultContext
	}

	a, b := splitLines(oldText), splitLines(newText)
	groups := difflib.NewMatcher(a, b).GetGroupedOpCodes(context)

	name := strings.TrimPrefix(filepath.ToSlash(path), "/")
	fd := &diff.FileDiff{
		OrigName: "a/" + name,
		NewName:  "b/" + name,
		Hunks:    buildHunks(groups, a, b),
	}

	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("render diff for %s: %w", path, err)
	}
	return string(out), nil
}

// Stats counts added and removed lines in a single-file unified diff.
func Stats(unified string) (LineStats, error) {
	var stats LineStats
	if unified == "" {
		return stats, nil
	}

	fd, err := diff.ParseFileDiff([]byte(unified))
	if err != nil {
		return stats, fmt.Errorf("parse diff: %w", err)
	}
	for _, hunk := range fd.Hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				stats.Added++
			case strings.HasPrefix(line, "-"):
				stats.Removed++
			}
		}
	}
	return stats, nil
}

// ============================================================================
// Hunks
// ============================================================================

type opKind byte

const (
	opEqual  opKind = ' '
	opDelete opKind = '-'
	opInsert opKind = '+'
)

// op is one hunk line. a and b are the old and new line indices at that
// point of the walk.
type op struct {
	kind opKind
	a, b int
}

// splitLines splits s after every newline. A trailing empty element is dropped.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func buildHunks(groups [][]difflib.OpCode, a, b []string) []*diff.Hunk {
	hunks := make([]*diff.Hunk, 0, len(groups))
	for _, group := range groups {
		ops := expand(group)
		if len(ops) == 0 {
			continue
		}
		hunks = append(hunks, renderHunk(ops, a, b))
	}
	return hunks
}

// expand turns opcodes into per-line ops. A replacement lists its
// deletions before its insertions.
func expand(group []difflib.OpCode) []op {
	var ops []op
	for _, c := range group {
		switch c.Tag {
		case 'e':
			for k := 0; k < c.I2-c.I1; k++ {
				ops = append(ops, op{kind: opEqual, a: c.I1 + k, b: c.J1 + k})
			}
		case 'd', 'r', 'i':
			for i := c.I1; i < c.I2; i++ {
				ops = append(ops, op{kind: opDelete, a: i, b: c.J1})
			}
			for j := c.J1; j < c.J2; j++ {
				ops = append(ops, op{kind: opInsert, a: c.I2, b: j})
			}
		}
	}
	return ops
}

func renderHunk(ops []op, a, b []string) *diff.Hunk {
	h := &diff.Hunk{
		OrigStartLine: int32(ops[0].a) + 1,
		NewStartLine:  int32(ops[0].b) + 1,
	}

	var body strings.Builder
	for _, o := range ops {
		var line string
		switch o.kind {
		case opEqual:
			line = a[o.a]
			h.OrigLines++
			h.NewLines++
		case opDelete:
			line = a[o.a]
			h.OrigLines++
		case opInsert:
			line = b[o.b]
			h.NewLines++
		}

		body.WriteByte(byte(o.kind))
		body.WriteString(strings.TrimSuffix(line, "\n"))
		body.WriteByte('\n')

		if !strings.HasSuffix(line, "\n") && o.kind == opDelete {
			h.OrigNoNewlineAt = int32(body.Len())
		}
	}

	text := body.String()
	// The final line of a side without a newline ends the body.
	if lastLacksNewline(ops[len(ops)-1], a, b) {
		text = strings.TrimSuffix(text, "\n")
	}
	h.Body = []byte(text)

	// An empty side is anchored at the line before it.
	if h.OrigLines == 0 {
		h.OrigStartLine--
	}
	if h.NewLines == 0 {
		h.NewStartLine--
	}
	return h
}

func lastLacksNewline(o op, a, b []string) bool {
	switch o.kind {
	case opEqual:
		return !strings.HasSuffix(a[o.a], "\n")
	case opInsert:
		return !strings.HasSuffix(b[o.b], "\n")
	default:
		return false
	}
}
