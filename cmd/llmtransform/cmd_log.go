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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/llmtransform/services/transform/wire"
)

func runLogList(cmd *cobra.Command, opts *cliOptions) error {
	if opts.limit <= 0 {
		return usageError(fmt.Errorf("--limit must be positive, got %d", opts.limit))
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return failure(err)
	}
	store, err := openExecutionLog(cfg)
	if err != nil {
		return failure(err)
	}
	defer store.Close()

	entries, err := store.List(cmd.Context(), opts.limit)
	if err != nil {
		return failure(err)
	}

	p := newPrinter(cmd.OutOrStdout())
	if opts.jsonOutput {
		if entries == nil {
			entries = []wire.ExecutionLogEntry{}
		}
		return p.printJSON(entries)
	}
	if len(entries) == 0 {
		p.println(p.style(styles.Muted, "No recorded batches."))
		return nil
	}
	for _, e := range entries {
		p.println(fmt.Sprintf("%s  %s  %s  %s",
			p.style(styles.Accent, e.ExecutionID),
			p.style(styles.Muted, e.StartedAt.Local().Format(time.DateTime)),
			entryStatus(e, p),
			e.FilePath,
		))
	}
	return nil
}

func runLogShow(cmd *cobra.Command, opts *cliOptions, id string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return failure(err)
	}
	store, err := openExecutionLog(cfg)
	if err != nil {
		return failure(err)
	}
	defer store.Close()

	entry, err := store.Get(cmd.Context(), id)
	if err != nil {
		return failure(err)
	}

	p := newPrinter(cmd.OutOrStdout())
	if opts.jsonOutput {
		return p.printJSON(entry)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Execution: %s\n", entry.ExecutionID)
	fmt.Fprintf(&b, "File: %s\n", entry.FilePath)
	fmt.Fprintf(&b, "Started: %s (%s)\n", entry.StartedAt.Local().Format(time.RFC3339), entry.Duration.Round(time.Microsecond))
	fmt.Fprintf(&b, "Status: %s\n", entryStatus(*entry, p))
	fmt.Fprintf(&b, "Applied: %d, Skipped: %d, Errors: %d\n", entry.Applied, entry.Skipped, entry.Errors)
	fmt.Fprintf(&b, "Byte shift: %+d\n", entry.TotalByteShift)
	fmt.Fprintf(&b, "Initial checksum: %s\n", entry.InitialChecksum)
	fmt.Fprintf(&b, "Final checksum: %s", entry.FinalChecksum)
	if entry.Written {
		b.WriteString("\nWritten: yes")
	}
	if entry.Error != "" {
		b.WriteString("\n" + p.style(styles.Error, "Error: "+entry.Error))
	}
	p.println(b.String())
	return nil
}

// entryStatus is a one-word outcome for an entry.
func entryStatus(e wire.ExecutionLogEntry, p *printer) string {
	switch {
	case e.Success && e.Skipped == 0:
		return p.style(styles.Success, "ok")
	case e.Success:
		return p.style(styles.Warning, "partial")
	default:
		return p.style(styles.Error, "failed")
	}
}
