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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	forge "github.com/AleutianAI/AleutianForge/services/forge"
	"github.com/AleutianAI/AleutianForge/services/forge/config"
	"github.com/AleutianAI/AleutianForge/services/forge/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		addr  string
		debug bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the forge HTTP API",
		Long: `Serve the forge API under /v1/forge. Each request names its project root,
so one server handles many projects.

With telemetry enabled, traces go to the configured exporter and
Prometheus metrics are served on /metrics.

Examples:
  forge serve
  forge serve --addr 0.0.0.0:12217
  curl http://localhost:12217/v1/forge/health`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			return a.serve(cmd.Context(), addr, debug)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr from config)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Gin debug mode with request logging")
	return cmd
}

func (a *app) serve(ctx context.Context, addr string, debug bool) error {
	logger := a.logger.Slog().With("component", "forge.Server")

	providers := &telemetry.Providers{}
	if a.cfg.Telemetry.Enabled {
		var err error
		providers, err = telemetry.Init(ctx, telemetryConfig(a.cfg))
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := providers.Shutdown(sctx); err != nil {
				logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
			}
		}()
	}

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(a.svc, routerOptions{
		serviceName: a.cfg.Telemetry.ServiceName,
		tracing:     providers.Tracing,
		metrics:     providers.MetricsHandler(),
		debug:       debug,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", addr), slog.String("version", forge.ServiceVersion))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type routerOptions struct {
	serviceName string
	tracing     bool
	metrics     http.Handler
	debug       bool
}

// newRouter mounts the forge routes under /v1, plus /metrics when a scrape
// handler is available.
func newRouter(svc *forge.Service, opts routerOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.debug {
		router.Use(gin.Logger())
	}
	if opts.tracing {
		router.Use(otelgin.Middleware(opts.serviceName))
	}

	v1 := router.Group("/v1")
	forge.RegisterRoutes(v1, forge.NewHandlers(svc))

	if opts.metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.metrics))
	}
	return router
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = forge.ServiceVersion
	if cfg.Telemetry.ServiceName != "" {
		tc.ServiceName = cfg.Telemetry.ServiceName
	}
	if cfg.Telemetry.TraceExporter != "" {
		tc.TraceExporter = cfg.Telemetry.TraceExporter
	}
	if cfg.Telemetry.MetricExporter != "" {
		tc.MetricExporter = cfg.Telemetry.MetricExporter
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		tc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	return tc
}
