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
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/llmtransform/pkg/logging"
	"github.com/AleutianAI/llmtransform/services/transform"
	"github.com/AleutianAI/llmtransform/services/transform/server"
)

// runServe starts the HTTP API and blocks until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, opts *cliOptions) error {
	cfg, logger, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer logger.Close()
	if cfg.Server.Debug {
		logger.SetLevel(logging.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := initTelemetry(ctx, cfg, false)
	if err != nil {
		logger.Warn("telemetry disabled", slog.String("error", err.Error()))
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	svc, err := transform.New(transform.Options{
		Config:  cfg,
		Logger:  logger.Slog(),
		Tracing: tracingEnabled(cfg),
	})
	if err != nil {
		return failure(err)
	}
	defer svc.Close()

	router := server.NewRouter(svc, cfg.Server, logger.Slog())
	logger.Info("llmtransform serving",
		slog.String("addr", cfg.Server.Address),
		slog.String("version", version),
		slog.String("working_dir", cfg.WorkingDir),
	)
	if err := server.Run(ctx, cfg.Server.Address, router, logger.Slog()); err != nil {
		return failure(err)
	}
	return nil
}
