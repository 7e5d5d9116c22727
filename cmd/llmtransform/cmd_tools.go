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
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/llmtransform/services/transform/file"
	"github.com/AleutianAI/llmtransform/services/transform/position"
)

// checksumOutput is the JSON form of `llmtransform checksum`.
type checksumOutput struct {
	FilePath string `json:"file_path"`
	Checksum string `json:"checksum"`
}

// positionOutput is the JSON form of `llmtransform position`.
type positionOutput struct {
	FilePath      string `json:"file_path"`
	Offset        int    `json:"offset"`
	Line          int    `json:"line"`
	Column        int    `json:"column"`
	DisplayColumn int    `json:"display_column"`
	PastEnd       bool   `json:"past_end,omitempty"`
}

// languageOutput is the JSON form of `llmtransform language`.
type languageOutput struct {
	FilePath   string   `json:"file_path"`
	Language   string   `json:"language"`
	Name       string   `json:"name"`
	Supported  bool     `json:"supported"`
	Extensions []string `json:"extensions,omitempty"`
}

func runChecksum(cmd *cobra.Command, opts *cliOptions, path string) error {
	sum, err := file.Checksum(path)
	if err != nil {
		return failure(err)
	}

	p := newPrinter(cmd.OutOrStdout())
	if opts.jsonOutput {
		return p.printJSON(checksumOutput{FilePath: path, Checksum: string(sum)})
	}
	p.println(string(sum))
	return nil
}

// runPosition converts a byte offset in path to line and column.
func runPosition(cmd *cobra.Command, opts *cliOptions, path, offsetArg string) error {
	offset, err := strconv.Atoi(offsetArg)
	if err != nil || offset < 0 {
		return usageError(fmt.Errorf("offset must be a non-negative integer, got %q", offsetArg))
	}

	content, err := file.Read(path, file.DefaultMaxFileSize)
	if err != nil {
		return failure(err)
	}
	pos := position.FromOffset(content.Text, offset)
	out := positionOutput{
		FilePath:      path,
		Offset:        offset,
		Line:          pos.Line,
		Column:        pos.Column,
		DisplayColumn: position.DisplayColumn(content.Text, offset),
		PastEnd:       offset > content.Len,
	}

	p := newPrinter(cmd.OutOrStdout())
	if opts.jsonOutput {
		return p.printJSON(out)
	}
	line := fmt.Sprintf("%s (display column %d)", pos, out.DisplayColumn)
	if out.PastEnd {
		line += p.style(styles.Warning, fmt.Sprintf(" past end of file (%d bytes)", content.Len))
	}
	p.println(line)
	return nil
}

func runLanguage(cmd *cobra.Command, opts *cliOptions, path string) error {
	lang := file.DetectLanguage(path)
	out := languageOutput{
		FilePath:   path,
		Language:   string(lang),
		Name:       lang.Name(),
		Supported:  lang.IsSupported(),
		Extensions: lang.Extensions(),
	}

	p := newPrinter(cmd.OutOrStdout())
	if opts.jsonOutput {
		return p.printJSON(out)
	}
	if !out.Supported {
		p.println(p.style(styles.Warning, "Unknown") + p.style(styles.Muted, " (use --allow-unknown-language to edit it anyway)"))
		return nil
	}
	p.println(fmt.Sprintf("%s %s", p.style(styles.Accent, out.Name), p.style(styles.Muted, "(."+strings.Join(out.Extensions, ", .")+")")))
	return nil
}
