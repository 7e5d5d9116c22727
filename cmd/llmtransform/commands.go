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
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

// cliOptions holds every flag value for one invocation.
type cliOptions struct {
	// Global
	configPath string
	logLevel   string
	jsonOutput bool

	// apply (root)
	file          string
	edits         string
	output        string
	write         bool
	diff          bool
	syntaxCheck   bool
	requireSyntax bool
	allowUnknown  bool
	noLog         bool

	// serve
	addr string

	// log list
	limit int
}

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "llmtransform",
		Short: "Zero-corruption text edits for LLM workflows",
		Long: `llmtransform applies a batch of byte-offset edits to a file.

Every edit carries the checksum of the content it was computed against.
Edits are applied from the end of the file backwards so earlier offsets stay
valid; an edit whose checksum no longer matches is skipped, never guessed at.`,
		Example: `  llmtransform --file src/main.rs --edits edits.json
  cat edits.json | llmtransform -f src/main.rs --json --write`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, opts)
		},
	}
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(err)
	})

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default ~/.llmtransform/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&opts.jsonOutput, "json", "j", false, "Output structured JSON instead of human-readable text")

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.file, "file", "f", "", "File to transform")
	flags.StringVarP(&opts.edits, "edits", "e", "", "JSON file containing the edit request (omit to read from stdin)")
	flags.StringVarP(&opts.output, "output", "o", "", "Write the report to a file instead of stdout")
	flags.BoolVar(&opts.write, "write", false, "Write the edited content back to the file")
	flags.BoolVar(&opts.diff, "diff", false, "Include a unified diff of the change")
	flags.BoolVar(&opts.syntaxCheck, "syntax-check", false, "Report whether the edited content still parses")
	flags.BoolVar(&opts.requireSyntax, "require-syntax", false, "Refuse to write content that does not parse")
	flags.BoolVar(&opts.allowUnknown, "allow-unknown-language", false, "Accept files with unrecognized extensions")
	flags.BoolVar(&opts.noLog, "no-log", false, "Do not record the batch in the execution log")
	_ = rootCmd.MarkFlagRequired("file")

	// --- Inspection ---
	checksumCmd := &cobra.Command{
		Use:   "checksum <file>",
		Short: "Print the BLAKE3 checksum of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChecksum(cmd, opts, args[0])
		},
	}
	positionCmd := &cobra.Command{
		Use:   "position <file> <offset>",
		Short: "Convert a byte offset into a line and column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPosition(cmd, opts, args[0], args[1])
		},
	}
	languageCmd := &cobra.Command{
		Use:   "language <file>",
		Short: "Show the language detected for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLanguage(cmd, opts, args[0])
		},
	}

	// --- Execution log ---
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect recorded batches",
	}
	logListCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent batches, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogList(cmd, opts)
		},
	}
	logListCmd.Flags().IntVar(&opts.limit, "limit", 20, "Maximum number of entries")
	logShowCmd := &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show one recorded batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogShow(cmd, opts, args[0])
		},
	}
	logCmd.AddCommand(logListCmd, logShowCmd)

	// --- Service ---
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the transform API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	serveCmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default from config, :8088)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("llmtransform %s\n", version)
		},
	}

	rootCmd.AddCommand(checksumCmd, positionCmd, languageCmd, logCmd, serveCmd, versionCmd)
	for _, sub := range rootCmd.Commands() {
		sub.SilenceUsage = true
	}
	return rootCmd
}
