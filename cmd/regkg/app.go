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
	"os"

	"github.com/AleutianAI/AleutianRegKG/pkg/logging"
	"github.com/AleutianAI/AleutianRegKG/pkg/ux"
	"github.com/AleutianAI/AleutianRegKG/services/regkg"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/snapshot"
)

// app is the state shared by the offline commands.
type app struct {
	cfg    regkg.ServiceConfig
	log    *logging.Logger
	logger *slog.Logger
	svc    *regkg.Service
	out    *ux.Printer
}

func (r *app) Close() {
	if r.svc != nil {
		if err := r.svc.Close(); err != nil {
			r.logger.Warn("closing service", slog.String("error", err.Error()))
		}
	}
	_ = r.log.Close()
}

// loadConfig reads --config and applies the global flag overrides.
func loadConfig() (regkg.ServiceConfig, error) {
	cfg, err := regkg.LoadConfig(configPath)
	if err != nil {
		return cfg, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg regkg.LogConfig, quiet bool) *logging.Logger {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	l := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Dir,
		Service: "regkg",
		Format:  logging.Format(cfg.Format),
		Quiet:   quiet,
	})
	l.Install()
	return l
}

// openSnapshotStore opens the configured backend, or returns nil for
// "none".
func openSnapshotStore(ctx context.Context, cfg regkg.SnapshotConfig, logger *slog.Logger) (snapshot.Store, error) {
	switch cfg.Backend {
	case "none", "":
		return nil, nil
	case "gcs":
		return snapshot.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSPrefix, cfg.GCSKeyPath)
	case "badger":
		bc := snapshot.InMemoryBadgerConfig()
		if cfg.Path != "" {
			bc = snapshot.DefaultBadgerConfig(cfg.Path)
		}
		bc.Logger = logger
		return snapshot.OpenBadgerStore(bc)
	}
	return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
}

// newApp builds a service for the offline commands. Logs go to the
// log file only so they do not interleave with rendered output, unless
// the level is debug.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg.Log, cfg.Log.Level != "debug")
	r := &app{cfg: cfg, log: log, logger: log.Slog()}

	level := ux.DetectLevel(os.Stdout)
	if outputLevel != "" {
		level = ux.ParseLevel(outputLevel)
	}
	r.out = ux.NewPrinter(os.Stdout, level)

	var opts []regkg.Option
	opts = append(opts, regkg.WithLogger(r.logger))
	if snapshotName != "" {
		store, err := openSnapshotStore(ctx, cfg.Snapshot, r.logger)
		if err != nil {
			_ = log.Close()
			return nil, fmt.Errorf("opening snapshot store: %w", err)
		}
		if store == nil {
			_ = log.Close()
			return nil, errors.New("--snapshot requires a snapshot backend")
		}
		opts = append(opts, regkg.WithSnapshotStore(store))
	}

	r.svc, err = regkg.NewService(cfg, opts...)
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	return r, nil
}

// loadSnapshot restores --snapshot when it names an existing snapshot.
// A missing snapshot is not an error: commands that save will create it.
func (r *app) loadSnapshot(ctx context.Context) error {
	if snapshotName == "" {
		return nil
	}
	err := r.svc.LoadSnapshot(ctx, snapshotName)
	if errors.Is(err, snapshot.ErrNotFound) {
		r.logger.Info("snapshot not found, starting empty", slog.String("name", snapshotName))
		return nil
	}
	return err
}
