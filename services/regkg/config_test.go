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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regkg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultServiceConfig_Valid(t *testing.T) {
	cfg := DefaultServiceConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "badger", cfg.Snapshot.Backend)
	assert.Equal(t, 30*time.Second, cfg.HTTP.RequestTimeout)
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultServiceConfig().HTTP.Addr, cfg.HTTP.Addr)
}

func TestLoadConfig_OverlaysYAML(t *testing.T) {
	path := writeConfig(t, `
graph:
  max_nodes: 5000
inference:
  depth: 5
  propagator: bayesian
http:
  addr: ":9000"
  request_timeout: 10s
snapshot:
  backend: gcs
  gcs_bucket: regkg-snapshots
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Graph.MaxNodes)
	assert.Equal(t, 5, cfg.Inference.Depth)
	assert.Equal(t, "bayesian", cfg.Inference.Propagator)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, "regkg-snapshots", cfg.Snapshot.GCSBucket)

	// Unset sections keep their defaults.
	assert.Equal(t, 100, cfg.Paths.MaxPaths)
	assert.Equal(t, "regkg_frameworks", cfg.Ingest.Queue)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("REGKG_ADDR", ":7000")
	t.Setenv("REGKG_MAX_NODES", "42")
	t.Setenv("REGKG_RATE_LIMIT", "2.5")
	t.Setenv("REGKG_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(writeConfig(t, "http:\n  addr: \":9000\"\n"))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, 42, cfg.Graph.MaxNodes)
	assert.InDelta(t, 2.5, cfg.HTTP.RateLimit, 1e-12)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_BadEnvNumber(t *testing.T) {
	t.Setenv("REGKG_WORKERS", "many")
	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REGKG_WORKERS")
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "graph: [", "parsing config"},
		{"unknown backend", "snapshot:\n  backend: s3\n", "Backend"},
		{"gcs without bucket", "snapshot:\n  backend: gcs\n", "GCSBucket"},
		{"depth too large", "inference:\n  depth: 50\n", "Depth"},
		{"unknown propagator", "inference:\n  propagator: geometric\n", "Propagator"},
		{"negative rate", "http:\n  rate_limit: -1\n", "RateLimit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_MissingAndOversized(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	big := "# " + strings.Repeat("x", MaxConfigFileSize) + "\n"
	_, err = LoadConfig(writeConfig(t, big))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}
