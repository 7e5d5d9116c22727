// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command llmtransform applies checksum-verified byte-offset edits to files.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.silent && ee.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", ee.err)
		}
		if ee.code == exitUsage {
			fmt.Fprintln(stderr, "Run 'llmtransform --help' for usage.")
		}
		return ee.code
	}

	// Anything cobra rejected before a command ran: missing flags, bad args.
	fmt.Fprintf(stderr, "Error: %v\nRun 'llmtransform --help' for usage.\n", err)
	return exitUsage
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error

	// silent means the failure was already reported on stdout.
	silent bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// failure reports err on stderr and exits 1.
func failure(err error) error {
	return &exitError{code: exitFailure, err: err}
}

// reported exits 1 without printing anything more.
func reported() error {
	return &exitError{code: exitFailure, silent: true}
}

func usageError(err error) error {
	return &exitError{code: exitUsage, err: err}
}
