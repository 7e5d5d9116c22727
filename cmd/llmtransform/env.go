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
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/llmtransform/pkg/logging"
	"github.com/AleutianAI/llmtransform/services/transform/config"
	"github.com/AleutianAI/llmtransform/services/transform/execlog"
	"github.com/AleutianAI/llmtransform/services/transform/telemetry"
)

// loadConfig loads the config file and applies command-line overrides.
func loadConfig(opts *cliOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.allowUnknown {
		cfg.AllowUnknownLanguages = true
	}
	if opts.noLog {
		cfg.ExecutionLog.Disabled = true
	}
	if opts.addr != "" {
		cfg.Server.Address = opts.addr
	}
	return cfg, nil
}

// newLogger builds the process logger. Console output goes to stderr.
func newLogger(cfg config.Config, stderr io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "llmtransform",
		JSON:    cfg.Logging.JSON,
		Output:  stderr,
	}), nil
}

// openExecutionLog opens the execution log for read-only commands.
func openExecutionLog(cfg config.Config) (*execlog.Store, error) {
	switch {
	case cfg.ExecutionLog.Disabled:
		return nil, fmt.Errorf("execution log is disabled in config")
	case cfg.ExecutionLog.InMemory:
		return nil, fmt.Errorf("execution log is in-memory; nothing persists between runs")
	}
	storeCfg := execlog.DefaultConfig(cfg.ExecutionLog.Path)
	storeCfg.Retention = cfg.ExecutionLog.Retention
	return execlog.Open(storeCfg)
}

// setup loads config and the logger, mapping failures to exit code 1.
func setup(cmd *cobra.Command, opts *cliOptions) (config.Config, *logging.Logger, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return cfg, nil, failure(err)
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return cfg, nil, failure(err)
	}
	return cfg, logger, nil
}

// initTelemetry installs OpenTelemetry providers for this process.
//
// One-shot commands have no scrape endpoint, so a configured Prometheus
// exporter is dropped for them.
func initTelemetry(ctx context.Context, cfg config.Config, oneShot bool) (func(context.Context) error, error) {
	tcfg := cfg.Telemetry
	tcfg.ServiceVersion = version
	if oneShot && tcfg.MetricExporter == telemetry.ExporterPrometheus {
		tcfg.MetricExporter = telemetry.ExporterNone
	}
	return telemetry.Init(ctx, tcfg)
}

// tracingEnabled reports whether spans have somewhere to go.
func tracingEnabled(cfg config.Config) bool {
	return cfg.Telemetry.TraceExporter != "" && cfg.Telemetry.TraceExporter != telemetry.ExporterNone
}
