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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/alerts"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/ingest"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/middleware"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/telemetry"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/trends"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

var (
	serveDebug       bool
	serveRestore     string
	analyzeInterval  time.Duration
	autosaveSnapshot string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Runs the regkg HTTP API on the configured address.

Framework files in ingest.watch_dir are loaded on start and whenever they
change. With ingest.amqp_url set, framework documents are also consumed
from RabbitMQ. New conflicts are streamed on /v1/regkg/conflicts/stream
and, with alerts.redis_url set, published to Redis.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable gin debug mode and request logging")
	serveCmd.Flags().StringVar(&serveRestore, "restore", "", "Restore this snapshot before serving")
	serveCmd.Flags().DurationVar(&analyzeInterval, "analyze-interval", 0,
		"Recompute centrality and scan for conflicts on this interval (0 disables)")
	serveCmd.Flags().StringVar(&autosaveSnapshot, "autosave", "", "Save a snapshot under this name on shutdown")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log, false)
	defer log.Close()
	logger := log.Slog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	opts, err := integrations(ctx, cfg, logger)
	if err != nil {
		return err
	}
	svc, err := regkg.NewService(cfg, opts...)
	if err != nil {
		return err
	}
	defer svc.Close()

	if serveRestore != "" {
		if err := svc.LoadSnapshot(ctx, serveRestore); err != nil {
			return fmt.Errorf("restoring %q: %w", serveRestore, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Ingest.WatchDir != "" {
		wopts := ingest.DefaultWatcherOptions()
		wopts.Logger = logger
		w, err := ingest.NewWatcher(cfg.Ingest.WatchDir, svc, &wopts)
		if err != nil {
			return err
		}
		if err := w.Start(gctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	if cfg.Ingest.AMQPURL != "" {
		qc := ingest.DefaultQueueConfig(cfg.Ingest.AMQPURL)
		qc.Queue = cfg.Ingest.Queue
		qc.MaxRetries = cfg.Ingest.MaxRetries
		consumer, err := ingest.NewConsumer(qc, svc, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if analyzeInterval > 0 {
		g.Go(func() error {
			analyzeLoop(gctx, svc, analyzeInterval, logger)
			return nil
		})
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newRouter(cfg, svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("Starting regkg server", slog.String("address", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down regkg server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	if autosaveSnapshot != "" {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if _, serr := svc.SaveSnapshot(sctx, autosaveSnapshot); serr != nil {
			logger.Error("autosave failed", slog.String("error", serr.Error()))
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// integrations connects the optional backends named in cfg.
func integrations(ctx context.Context, cfg regkg.ServiceConfig, logger *slog.Logger) ([]regkg.Option, error) {
	opts := []regkg.Option{regkg.WithLogger(logger)}

	store, err := openSnapshotStore(ctx, cfg.Snapshot, logger)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	if store != nil {
		opts = append(opts, regkg.WithSnapshotStore(store))
	}

	if cfg.Alerts.RedisURL != "" {
		ro := alerts.DefaultRedisOptions(cfg.Alerts.RedisURL)
		if cfg.Alerts.Channel != "" {
			ro.Channel = cfg.Alerts.Channel
		}
		ro.HistoryLimit = cfg.Alerts.HistoryLimit
		n, err := alerts.NewRedisNotifier(ro)
		if err != nil {
			return nil, err
		}
		opts = append(opts, regkg.WithNotifier(n))
		logger.Info("conflict alerts publishing to Redis", slog.String("channel", ro.Channel))
	}

	if cfg.Trends.Influx.URL != "" {
		rec, err := trends.NewRecorder(ctx, cfg.Trends.Influx, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, regkg.WithTrendRecorder(rec))
	}
	return opts, nil
}

func newRouter(cfg regkg.ServiceConfig, svc *regkg.Service) *gin.Engine {
	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	if serveDebug {
		router.Use(gin.Logger())
	}

	metrics := telemetry.MetricsHandler()
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metrics))

	v1 := router.Group("/v1")
	if cfg.HTTP.RateLimit > 0 {
		v1.Use(middleware.RateLimit(middleware.NewLimiter(cfg.HTTP.RateLimit, cfg.HTTP.Burst)))
	}
	v1.Use(middleware.TokenAuth(cfg.HTTP.APITokens))
	v1.Use(middleware.Timeout(cfg.HTTP.RequestTimeout))
	regkg.RegisterRoutes(v1, regkg.NewHandlers(svc))
	return router
}

// analyzeLoop periodically refreshes centrality and scans for conflicts
// so that alerts and trends keep up with ingestion.
func analyzeLoop(ctx context.Context, svc *regkg.Service, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var lastRevision uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		rev := svc.Graph().Revision()
		if rev == lastRevision {
			continue
		}
		if _, err := svc.UpdateCentrality(ctx); err != nil {
			logger.Warn("scheduled centrality update failed", slog.String("error", err.Error()))
			continue
		}
		if _, err := svc.DetectConflicts(ctx); err != nil {
			logger.Warn("scheduled conflict scan failed", slog.String("error", err.Error()))
			continue
		}
		// Centrality writes bump the revision; track the post-analysis one.
		lastRevision = svc.Graph().Revision()
	}
}
