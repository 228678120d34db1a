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
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianRegKG/pkg/ux"
	"github.com/AleutianAI/AleutianRegKG/services/regkg"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/centrality"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/conflict"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/ingest"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/paths"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frameworkYAML = `
id: dpa
title: Data Protection Act
jurisdiction: EU
authority: European Commission
effective_date: 2018-05-25T00:00:00Z
version: 1.0.0
requirements:
  - id: dpa-r1
    title: Breach notification
    mandatory: true
  - id: dpa-r2
    title: Privacy notice
`

func machinePrinter() (*ux.Printer, *bytes.Buffer) {
	var buf bytes.Buffer
	return ux.NewPrinter(&buf, ux.LevelMachine), &buf
}

func TestRenderIngestReport(t *testing.T) {
	p, buf := machinePrinter()
	renderIngestReport(p, ingest.Report{Files: 2, Frameworks: 3})
	assert.Equal(t, "OK: 3 frameworks from 2 files\n", buf.String())

	p, buf = machinePrinter()
	renderIngestReport(p, ingest.Report{Files: 2, Frameworks: 1, Failed: []ingest.FileError{{Path: "bad.yaml", Err: errors.New("boom")}}})
	assert.Equal(t, "ERROR: bad.yaml: boom\nWARN: 1 frameworks from 2 files, 1 files failed\n", buf.String())
}

func TestRenderRankingAndSearch(t *testing.T) {
	p, buf := machinePrinter()
	renderRanking(p, centrality.MeasurePageRank, []centrality.Ranked{
		{EntityID: "dpa", NodeType: graph.NodeTypeFramework, Score: 0.5},
	})
	assert.Equal(t, "1\tdpa\tFramework\t0.5000\n", buf.String())

	p, buf = machinePrinter()
	renderSearch(p, "breach", []graph.SemanticSearchResult{{
		EntityID: "dpa-r1", NodeType: graph.NodeTypeRequirement, SimilarityScore: 0.75,
		RelevantProperties: graph.Properties{"title": "Breach notification"},
	}})
	assert.Equal(t, "dpa-r1\tRequirement\t0.7500\tBreach notification\n", buf.String())

	p, buf = machinePrinter()
	renderSearch(p, "nothing", nil)
	assert.Contains(t, buf.String(), `No matches for "nothing"`)
}

func TestRenderConflictsAndPaths(t *testing.T) {
	p, buf := machinePrinter()
	renderConflicts(p, nil)
	assert.Equal(t, "OK: No conflicts detected\n", buf.String())

	p, buf = machinePrinter()
	renderConflicts(p, []conflict.ConflictPath{{
		Kind: conflict.KindExplicit, SourceEntity: "a", TargetEntity: "b", ConflictSeverity: 0.9,
		ConflictSteps:         []conflict.ConflictStep{{ConflictDescription: "A ConflictsWith B"}},
		ResolutionSuggestions: []string{"Establish which provision takes precedence"},
	}})
	assert.Contains(t, buf.String(), "WARN [explicit] a → b  severity 0.90")
	assert.Contains(t, buf.String(), "A ConflictsWith B")

	p, buf = machinePrinter()
	renderPaths(p, "a", "c", []paths.RegulatoryPath{{
		Nodes:         []string{"a", "b", "c"},
		Relationships: []graph.RelationshipType{graph.RelRequires, graph.RelImplements},
		PathStrength:  0.5,
	}})
	assert.Equal(t, "0.5000  a -Requires-> b -Implements-> c\n", buf.String())
}

func TestOpenSnapshotStore(t *testing.T) {
	ctx := context.Background()
	store, err := openSnapshotStore(ctx, regkg.SnapshotConfig{Backend: "none"}, nil)
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = openSnapshotStore(ctx, regkg.SnapshotConfig{Backend: "badger", Path: t.TempDir()}, nil)
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.NoError(t, store.Close())

	_, err = openSnapshotStore(ctx, regkg.SnapshotConfig{Backend: "floppy"}, nil)
	assert.Error(t, err)
}

func TestNewRouter(t *testing.T) {
	svc, err := regkg.NewService(regkg.DefaultServiceConfig())
	require.NoError(t, err)
	defer svc.Close()

	router := newRouter(regkg.DefaultServiceConfig(), svc)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/regkg/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIngestCommand_SavesSnapshot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "dpa.yaml")
	require.NoError(t, os.WriteFile(file, []byte(frameworkYAML), 0o600))
	t.Setenv("REGKG_SNAPSHOT_PATH", filepath.Join(dir, "snapshots"))
	t.Setenv("REGKG_OUTPUT", "machine")

	rootCmd.SetArgs([]string{"ingest", "--snapshot", "base", file})
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"path", "--snapshot", "base", "dpa", "dpa-r1"})
	require.NoError(t, rootCmd.Execute())
	snapshotName = ""
}

func TestNewRouter_TokenAuth(t *testing.T) {
	cfg := regkg.DefaultServiceConfig()
	cfg.HTTP.APITokens = []string{"secret"}
	svc, err := regkg.NewService(cfg)
	require.NoError(t, err)
	defer svc.Close()
	router := newRouter(cfg, svc)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/regkg/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/regkg/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code, "metrics stay open")
}
