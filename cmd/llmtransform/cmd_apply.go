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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/llmtransform/services/transform"
	"github.com/AleutianAI/llmtransform/services/transform/file"
	"github.com/AleutianAI/llmtransform/services/transform/wire"
)

// errNoEditRequest is returned when stdin is a terminal and --edits is unset.
var errNoEditRequest = errors.New("no edit request: pass --edits <file> or pipe JSON on stdin")

// runApply is the root command: run one batch against --file.
//
// # Description
//
// Reads the edit request, runs it through the transform service and
// prints the report. Exits 1 when the request is unreadable, the batch
// fails or the write is refused.
func runApply(cmd *cobra.Command, opts *cliOptions) error {
	req, err := readEditRequest(cmd.InOrStdin(), opts.edits)
	if err != nil {
		return failure(fmt.Errorf("reading edit request: %w", err))
	}
	req.ExecutionID = req.ResolveExecutionID(nil)

	cfg, logger, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer logger.Close()
	ctx := cmd.Context()

	shutdown, err := initTelemetry(ctx, cfg, true)
	if err != nil {
		logger.Warn("telemetry disabled", slog.String("error", err.Error()))
	} else {
		defer func() { _ = shutdown(ctx) }()
	}

	svc, err := transform.New(transform.Options{
		Config:  cfg,
		Logger:  logger.Slog(),
		Tracing: tracingEnabled(cfg),
	})
	if err != nil {
		return reportFailure(cmd, opts, wire.Failure(req.ExecutionID, err.Error()))
	}
	defer svc.Close()

	resp, err := svc.Apply(ctx, transform.ApplyRequest{
		Path:          opts.file,
		Request:       req,
		Write:         opts.write,
		Diff:          opts.diff,
		SyntaxCheck:   opts.syntaxCheck,
		RequireSyntax: opts.requireSyntax,
	})
	switch {
	case err != nil && resp == nil:
		resp = wire.Failure(req.ExecutionID, fmt.Sprintf("Failed to apply edits to '%s': %v", opts.file, err))
	case err != nil && resp.Error == "":
		resp.Success = false
		resp.Error = err.Error()
	}

	if !resp.Success {
		return reportFailure(cmd, opts, resp)
	}
	if err := emitResponse(cmd, opts, resp); err != nil {
		return failure(err)
	}
	return nil
}

// reportFailure prints a failed response in the requested format and exits 1.
func reportFailure(cmd *cobra.Command, opts *cliOptions, resp *wire.Response) error {
	if err := emitResponse(cmd, opts, resp); err != nil {
		return failure(err)
	}
	return reported()
}

// readEditRequest decodes the request from path, or from stdin when path
// is empty. A terminal on stdin is refused rather than waited on.
func readEditRequest(stdin io.Reader, path string) (*wire.Request, error) {
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return wire.DecodeRequest(f)
	}

	if f, ok := stdin.(*os.File); ok {
		if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
			return nil, errNoEditRequest
		}
	}
	return wire.DecodeRequest(stdin)
}

// emitResponse prints resp to stdout or writes it to --output.
func emitResponse(cmd *cobra.Command, opts *cliOptions, resp *wire.Response) error {
	if opts.output != "" {
		text, err := renderResponse(resp, opts.jsonOutput, &printer{})
		if err != nil {
			return err
		}
		return file.WriteReport(opts.output, []byte(text+"\n"))
	}

	p := newPrinter(cmd.OutOrStdout())
	text, err := renderResponse(resp, opts.jsonOutput, p)
	if err != nil {
		return err
	}
	p.println(text)
	return nil
}
