// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the transform service over HTTP with gin.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/llmtransform/services/transform/config"
	"github.com/AleutianAI/llmtransform/services/transform/telemetry"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// RegisterRoutes registers all /transform/* endpoints with the given group.
//
// Description:
//
//	The router group should already have any required middleware applied.
//
// Endpoints:
//
//	GET  /v1/transform/health - Liveness
//	POST /v1/transform/apply - Run an edit batch
//	GET  /v1/transform/checksum - Checksum of a file
//	GET  /v1/transform/executions - Recent batches, newest first
//	GET  /v1/transform/executions/:id - One batch
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	t := rg.Group("/transform")
	{
		t.GET("/health", h.HandleHealth)
		t.POST("/apply", h.HandleApply)
		t.GET("/checksum", h.HandleChecksum)
		t.GET("/executions", h.HandleListExecutions)
		t.GET("/executions/:id", h.HandleGetExecution)
	}
}

// NewRouter builds the gin engine for svc.
//
// # Inputs
//
//   - svc: The service behind the handlers.
//   - cfg: Server settings. RateLimit 0 disables limiting.
//   - logger: Request logging. Nil uses slog.Default().
func NewRouter(svc Transformer, cfg config.ServerConfig, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("llmtransform"))
	router.Use(requestLogger(logger))
	if cfg.RateLimit > 0 {
		router.Use(rateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)))
	}

	router.GET("/metrics", handleMetrics)

	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc, logger))
	return router
}

// handleMetrics serves the Prometheus scrape endpoint when telemetry
// installed the Prometheus exporter.
func handleMetrics(c *gin.Context) {
	h := telemetry.MetricsHandler()
	if h == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "prometheus metrics exporter is not enabled",
			Code:  "METRICS_DISABLED",
		})
		return
	}
	h.ServeHTTP(c.Writer, c.Request)
}

// ============================================================================
// Middleware
// ============================================================================

// rateLimit rejects requests beyond the limiter's budget with 429.
func rateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	retryAfter := strconv.Itoa(int(math.Max(1, math.Ceil(1/float64(limiter.Limit())))))
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

// Run serves handler on addr until ctx is cancelled, then shuts down
// gracefully.
//
// # Outputs
//
//   - error: Listen failure or shutdown error. Nil after a clean shutdown.
func Run(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("transform server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		logger.Info("transform server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
