// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package regkg

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/telemetry"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/trends"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileSize bounds the service configuration file (1MB).
const MaxConfigFileSize = 1024 * 1024

// ServiceConfig configures the service and its optional integrations.
//
// Integrations with an empty address are disabled.
type ServiceConfig struct {
	Graph      GraphConfig      `yaml:"graph"`
	Centrality CentralityConfig `yaml:"centrality"`
	Conflicts  ConflictsConfig  `yaml:"conflicts"`
	Paths      PathsConfig      `yaml:"paths"`
	Inference  InferenceConfig  `yaml:"inference"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	HTTP       HTTPConfig       `yaml:"http"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Trends     TrendsConfig     `yaml:"trends"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Log        LogConfig        `yaml:"log"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
}

type GraphConfig struct {
	// MaxNodes and MaxEdges cap the store. 0 means unlimited.
	MaxNodes            int `yaml:"max_nodes" validate:"gte=0"`
	MaxEdges            int `yaml:"max_edges" validate:"gte=0"`
	EmbeddingDimensions int `yaml:"embedding_dimensions" validate:"gte=0,lte=4096"`
}

type CentralityConfig struct {
	// Workers for betweenness and closeness. 0 uses GOMAXPROCS.
	Workers int `yaml:"workers" validate:"gte=0"`
}

type ConflictsConfig struct {
	MaxPathsPerConflict int `yaml:"max_paths_per_conflict" validate:"gte=0"`
}

type PathsConfig struct {
	MaxPaths int `yaml:"max_paths" validate:"gte=0"`
}

type InferenceConfig struct {
	Depth      int    `yaml:"depth" validate:"gte=0,lte=10"`
	Propagator string `yaml:"propagator" validate:"omitempty,oneof=weighted_average weighted-average min minimum multiplicative bayesian"`

	// OntologyPath overrides the embedded default ontology.
	OntologyPath string `yaml:"ontology_path"`
	CacheSize    int    `yaml:"cache_size" validate:"gte=0"`
	MaxFacts     int    `yaml:"max_facts" validate:"gte=0"`
}

type SnapshotConfig struct {
	// Backend is "badger", "gcs" or "none".
	Backend string `yaml:"backend" validate:"oneof=badger gcs none"`

	// Path is the BadgerDB directory. Empty keeps snapshots in memory.
	Path string `yaml:"path"`

	GCSBucket  string `yaml:"gcs_bucket" validate:"required_if=Backend gcs"`
	GCSPrefix  string `yaml:"gcs_prefix"`
	GCSKeyPath string `yaml:"gcs_key_path"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required"`

	// RateLimit is requests per second per client IP. 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`

	RequestTimeout time.Duration `yaml:"request_timeout"`

	// APITokens enables bearer token auth on /v1. Empty leaves the API open.
	APITokens []string `yaml:"api_tokens"`
}

type AlertsConfig struct {
	RedisURL     string `yaml:"redis_url"`
	Channel      string `yaml:"channel"`
	HistoryLimit int    `yaml:"history_limit" validate:"gte=0"`
}

type TrendsConfig struct {
	Influx trends.InfluxConfig `yaml:"influx"`
}

type IngestConfig struct {
	// WatchDir is ingested on start and watched for new framework files.
	WatchDir string `yaml:"watch_dir"`

	AMQPURL    string `yaml:"amqp_url"`
	Queue      string `yaml:"queue"`
	MaxRetries int    `yaml:"max_retries" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir    string `yaml:"dir"`
	Format string `yaml:"format" validate:"omitempty,oneof=auto text json"`
}

// DefaultServiceConfig returns defaults for a standalone service with
// in-memory snapshots and every remote integration disabled.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Graph:     GraphConfig{EmbeddingDimensions: 128},
		Conflicts: ConflictsConfig{MaxPathsPerConflict: 256},
		Paths:     PathsConfig{MaxPaths: 100},
		Inference: InferenceConfig{Depth: 3, Propagator: "weighted_average", CacheSize: 16, MaxFacts: 10000},
		Snapshot:  SnapshotConfig{Backend: "badger"},
		HTTP:      HTTPConfig{Addr: ":8090", RateLimit: 50, Burst: 100, RequestTimeout: 30 * time.Second},
		Alerts:    AlertsConfig{Channel: "regkg:conflicts", HistoryLimit: 100},
		Ingest:    IngestConfig{Queue: "regkg_frameworks", MaxRetries: 10},
		Log:       LogConfig{Level: "info", Format: "auto"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadConfig reads a YAML config over the defaults and applies REGKG_*
// environment overrides. An empty path uses the defaults alone.
func LoadConfig(path string) (ServiceConfig, error) {
	cfg := DefaultServiceConfig()
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return cfg, fmt.Errorf("stat config: %w", err)
		}
		if info.Size() > MaxConfigFileSize {
			return cfg, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var configValidate = validator.New()

// Validate checks field ranges and enumerations.
func (c *ServiceConfig) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config %s=%v: failed %s", fe.Namespace(), fe.Value(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnv overrides fields from REGKG_* variables.
func (c *ServiceConfig) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"REGKG_ADDR":          &c.HTTP.Addr,
		"REGKG_SNAPSHOT":      &c.Snapshot.Backend,
		"REGKG_SNAPSHOT_PATH": &c.Snapshot.Path,
		"REGKG_GCS_BUCKET":    &c.Snapshot.GCSBucket,
		"REGKG_GCS_KEY_PATH":  &c.Snapshot.GCSKeyPath,
		"REGKG_ONTOLOGY":      &c.Inference.OntologyPath,
		"REGKG_PROPAGATOR":    &c.Inference.Propagator,
		"REGKG_REDIS_URL":     &c.Alerts.RedisURL,
		"REGKG_INFLUX_URL":    &c.Trends.Influx.URL,
		"REGKG_INFLUX_TOKEN":  &c.Trends.Influx.Token,
		"REGKG_INFLUX_ORG":    &c.Trends.Influx.Org,
		"REGKG_INFLUX_BUCKET": &c.Trends.Influx.Bucket,
		"REGKG_WATCH_DIR":     &c.Ingest.WatchDir,
		"REGKG_AMQP_URL":      &c.Ingest.AMQPURL,
		"REGKG_LOG_LEVEL":     &c.Log.Level,
		"REGKG_LOG_DIR":       &c.Log.Dir,
		"REGKG_LOG_FORMAT":    &c.Log.Format,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"REGKG_MAX_NODES":       &c.Graph.MaxNodes,
		"REGKG_INFERENCE_DEPTH": &c.Inference.Depth,
		"REGKG_WORKERS":         &c.Centrality.Workers,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	if v, ok := lookup("REGKG_API_TOKEN"); ok && v != "" {
		c.HTTP.APITokens = append(c.HTTP.APITokens, v)
	}

	if v, ok := lookup("REGKG_RATE_LIMIT"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("REGKG_RATE_LIMIT: %w", err)
		}
		c.HTTP.RateLimit = f
	}
	return nil
}
