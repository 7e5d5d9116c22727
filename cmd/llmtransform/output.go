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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/llmtransform/services/transform/edit"
	"github.com/AleutianAI/llmtransform/services/transform/wire"
)

// Palette for terminal output.
var (
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#5C7A84")
	colorAccent  = lipgloss.Color("#20B9B4")
)

var styles = struct {
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Accent  lipgloss.Style
	Added   lipgloss.Style
	Removed lipgloss.Style
}{
	Success: lipgloss.NewStyle().Foreground(colorSuccess).Bold(true),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError).Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	Accent:  lipgloss.NewStyle().Foreground(colorAccent),
	Added:   lipgloss.NewStyle().Foreground(colorSuccess),
	Removed: lipgloss.NewStyle().Foreground(colorError),
}

// printer writes reports, styled only when the destination is a terminal.
type printer struct {
	w      io.Writer
	styled bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, styled: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

// println writes text followed by a newline.
func (p *printer) println(text string) {
	fmt.Fprintln(p.w, text)
}

// printJSON writes v as indented JSON.
func (p *printer) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintln(p.w, string(data))
	return err
}

// renderResponse formats resp as JSON or text.
//
// The plain text form is the Summary plus optional syntax and diff sections.
func renderResponse(resp *wire.Response, asJSON bool, p *printer) (string, error) {
	if asJSON {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding response: %w", err)
		}
		return string(data), nil
	}

	var b strings.Builder
	for i, line := range strings.Split(resp.Summary(), "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch {
		case strings.HasPrefix(line, "Error"):
			b.WriteString(p.style(styles.Error, line))
		case strings.HasPrefix(line, "Skipped"):
			b.WriteString(p.style(styles.Warning, line))
		case i == 0:
			b.WriteString(p.style(styles.Success, line))
		default:
			b.WriteString(p.style(styles.Muted, line))
		}
	}

	for _, o := range resp.Edits {
		if o.Status == string(edit.StatusApplied) || o.Location == "" {
			continue
		}
		b.WriteByte('\n')
		b.WriteString(p.style(styles.Muted, fmt.Sprintf("  %s %s: %s", o.Status, o.Location, o.Reason)))
	}
	if s := resp.Syntax; s != nil {
		b.WriteByte('\n')
		if s.Valid {
			b.WriteString(p.style(styles.Muted, fmt.Sprintf("Syntax (%s): ok", s.Language)))
		} else {
			b.WriteString(p.style(styles.Warning, fmt.Sprintf("Syntax (%s): error at %d:%d: %s", s.Language, s.Line, s.Column, s.Message)))
		}
	}
	if resp.Written {
		b.WriteByte('\n')
		b.WriteString(p.style(styles.Accent, "Written: yes"))
	}
	if d := resp.DiffStats; d != nil {
		b.WriteByte('\n')
		b.WriteString(p.style(styles.Muted, fmt.Sprintf("Diff: +%d -%d", d.Added, d.Removed)))
	}
	if resp.Diff != "" {
		b.WriteString("\n\n")
		b.WriteString(renderDiff(strings.TrimSuffix(resp.Diff, "\n"), p))
	}
	return b.String(), nil
}

func renderDiff(unified string, p *printer) string {
	if !p.styled {
		return unified
	}
	lines := strings.Split(unified, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			lines[i] = styles.Muted.Render(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = styles.Accent.Render(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = styles.Added.Render(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = styles.Removed.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}
