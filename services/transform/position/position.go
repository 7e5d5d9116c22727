// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package position maps byte offsets to human-readable line/column pairs.
//
// Only diagnostics use it. The edit engine works purely in bytes.
package position

import (
	"fmt"
	"strings"

	"github.com/rivo/uniseg"

	"github.com/AleutianAI/llmtransform/services/transform/edit"
)

// Position is a 1-indexed line and byte column.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// String renders "line:column".
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// FromOffset converts a byte offset into a Position.
//
// Lines are separated by '\n'. The newline byte itself belongs to the line
// it ends. Offsets past the end of content stay on the last line with the
// column running past its end; negative offsets map to 1:1.
func FromOffset(content string, offset int) Position {
	if offset <= 0 {
		return Position{Line: 1, Column: 1}
	}
	prefix := content[:min(offset, len(content))]
	lineStart := strings.LastIndexByte(prefix, '\n') + 1
	return Position{
		Line:   strings.Count(prefix, "\n") + 1,
		Column: offset - lineStart + 1,
	}
}

// SpanPositions returns the positions of a span's start and end.
func SpanPositions(content string, span edit.Span) (Position, Position) {
	return FromOffset(content, span.Start), FromOffset(content, span.End)
}

// DisplayColumn returns the 1-indexed column of offset counted in
// user-perceived characters (grapheme clusters) rather than bytes.
//
// "é" written as e + combining accent is one column, as is a flag emoji.
// An offset inside a cluster reports the column of that cluster.
func DisplayColumn(content string, offset int) int {
	if offset <= 0 {
		return 1
	}
	clamped := min(offset, len(content))
	lineStart := strings.LastIndexByte(content[:clamped], '\n') + 1
	lineEnd := len(content)
	if i := strings.IndexByte(content[lineStart:], '\n'); i >= 0 {
		lineEnd = lineStart + i
	}
	within := clamped - lineStart

	col := 1
	g := uniseg.NewGraphemes(content[lineStart:lineEnd])
	for g.Next() {
		if _, to := g.Positions(); to > within {
			break
		}
		col++
	}
	// Bytes past the end of content count one column each.
	if offset > len(content) {
		col += offset - len(content)
	}
	return col
}

// Describe renders a span for diagnostics, e.g. "3:5-3:9".
func Describe(content string, span edit.Span) string {
	start, end := SpanPositions(content, span)
	return start.String() + "-" + end.String()
}
