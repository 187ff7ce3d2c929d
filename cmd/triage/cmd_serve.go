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
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianTriage/services/triage"
)

// auditGCInterval is how often the on-disk audit store reclaims space.
const auditGCInterval = 10 * time.Minute

func newServeCommand() *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the triage HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), debug)
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable gin debug mode and access logging")
	return cmd
}

func runServe(parent context.Context, debug bool) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := setupTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var opts []triage.HandlerOption
	opts = append(opts, triage.WithLogger(logger))
	if a.audit != nil {
		opts = append(opts, triage.WithAuditReader(a.audit))
	}
	handlers := triage.NewHandlers(a.orch, a.loader, opts...)
	router := triage.NewRouter(handlers, triage.RouterConfig{
		ServiceName:   serviceName,
		RatePerSecond: cfg.API.RatePerSecond,
		Burst:         cfg.API.Burst,
		MaxBodyBytes:  cfg.API.MaxBodyBytes,
		Debug:         debug,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting triage server", slog.String("address", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down triage server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.audit != nil && !cfg.Audit.InMemory {
		g.Go(func() error {
			return a.audit.RunGC(gctx, auditGCInterval)
		})
	}
	if cfg.Packs.Watch && cfg.Packs.Dir != "" {
		g.Go(func() error {
			return a.loader.Watch(gctx, cfg.Packs.Dir)
		})
	}
	return g.Wait()
}
