// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/temporal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minuteClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

// populated builds a small graph with history, including an update and a
// removal.
func populated(t *testing.T) (*graph.Graph, *temporal.Tracker) {
	t.Helper()
	ctx := context.Background()
	g := graph.NewGraph(nil, graph.WithClock(minuteClock()))
	tr := temporal.Attach(g)

	effective := time.Date(2018, 5, 25, 0, 0, 0, 0, time.UTC)
	_, err := g.IngestFramework(ctx, &graph.NormativeFramework{
		ID:            "dpa",
		Title:         "Data Protection Act",
		Description:   "Rules for personal data",
		Jurisdiction:  "EU",
		Authority:     "Commission",
		EffectiveDate: effective,
		Version:       "1.0.0",
		Tags:          []string{"privacy"},
		Requirements: []graph.Requirement{
			{ID: "dpa-r1", Title: "Breach notification", Description: "Notify within 72 hours", Mandatory: true},
		},
	})
	require.NoError(t, err)

	_, err = g.UpsertNode(ctx, "auth", graph.NodeTypeAuthority, map[string]any{"title": "Regulator", "founded": effective})
	require.NoError(t, err)
	_, err = g.UpsertNode(ctx, "auth", graph.NodeTypeAuthority, map[string]any{"title": "Data Regulator", "founded": effective})
	require.NoError(t, err)
	_, err = g.UpsertNode(ctx, "tmp", graph.NodeTypeConcept, map[string]any{"title": "scratch"})
	require.NoError(t, err)
	require.NoError(t, g.RemoveNode(ctx, "tmp"))

	_, err = g.AddEdge(ctx, "auth", "dpa", graph.KnowledgeEdge{
		Relationship:   graph.RelEnforces,
		Weight:         0.9,
		Confidence:     0.8,
		Directionality: graph.Bidirectional,
		Validity:       graph.TemporalValidity{Start: &effective},
		SourceEvidence: []string{"statute"},
	})
	require.NoError(t, err)
	return g, tr
}

func TestSnapshot_RoundTripThroughBadger(t *testing.T) {
	ctx := context.Background()
	g, tr := populated(t)

	store, err := OpenBadgerStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer store.Close()

	snap := Capture(ctx, g, tr)
	info, err := store.Save(ctx, "nightly", snap)
	require.NoError(t, err)
	assert.Equal(t, "nightly", info.Name)
	assert.Equal(t, 3, info.Nodes)
	assert.Equal(t, 2, info.Edges)
	assert.Equal(t, g.Revision(), info.Revision)
	assert.Positive(t, info.Size)

	loaded, err := store.Load(ctx, "nightly")
	require.NoError(t, err)

	g2 := graph.NewGraph(nil)
	tr2 := temporal.Attach(g2)
	require.NoError(t, loaded.Restore(ctx, g2, tr2))

	assert.Equal(t, g.Export(ctx), g2.Export(ctx))
	assert.Equal(t, tr.Export(), tr2.Export())
	assert.Len(t, tr2.History("tmp"), 1)
	assert.Len(t, tr2.History("auth"), 2)
}

func TestBadgerStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	g, tr := populated(t)
	store, err := OpenBadgerStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer store.Close()

	older := Capture(ctx, g, tr)
	older.TakenAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := Capture(ctx, g, tr)
	newer.TakenAt = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	_, err = store.Save(ctx, "older", older)
	require.NoError(t, err)
	_, err = store.Save(ctx, "newer", newer)
	require.NoError(t, err)

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "newer", infos[0].Name)
	assert.Equal(t, "older", infos[1].Name)

	// Saving under an existing name replaces it.
	_, err = store.Save(ctx, "older", newer)
	require.NoError(t, err)
	infos, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

func TestBadgerStore_Persistent(t *testing.T) {
	ctx := context.Background()
	g, tr := populated(t)
	dir := t.TempDir()

	cfg := DefaultBadgerConfig(dir)
	cfg.SyncWrites = false
	store, err := OpenBadgerStore(cfg)
	require.NoError(t, err)
	_, err = store.Save(ctx, "s1", Capture(ctx, g, tr))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = OpenBadgerStore(cfg)
	require.NoError(t, err)
	defer store.Close()
	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, loaded.Graph.Nodes, 3)
}

func TestBadgerStore_Errors(t *testing.T) {
	ctx := context.Background()
	store, err := OpenBadgerStore(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, name := range []string{"", "../etc", "a/b", "sp ace"} {
		_, err = store.Save(ctx, name, &Snapshot{FormatVersion: FormatVersion})
		assert.ErrorIs(t, err, graph.ErrValidation, name)
	}

	_, err = OpenBadgerStore(BadgerConfig{})
	assert.Error(t, err)
}

func TestDecode_RejectsBadInput(t *testing.T) {
	_, err := Decode([]byte("not gob"))
	assert.ErrorIs(t, err, ErrFormat)

	data, err := Encode(&Snapshot{FormatVersion: FormatVersion + 1})
	require.NoError(t, err)
	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestRestore_InvalidDumpKeepsGraph(t *testing.T) {
	ctx := context.Background()
	g, tr := populated(t)
	before := g.Export(ctx)
	history := tr.Export()

	bad := &Snapshot{
		FormatVersion: FormatVersion,
		Graph: graph.Dump{Edges: []graph.DumpEdge{{
			From: "ghost", To: "dpa",
			Edge: graph.KnowledgeEdge{Relationship: graph.RelRequires, Weight: 1, Confidence: 1},
		}}},
	}
	err := bad.Restore(ctx, g, tr)
	assert.ErrorIs(t, err, graph.ErrValidation)
	assert.Equal(t, before, g.Export(ctx))
	assert.Equal(t, history, tr.Export())
}

func TestNewGCSStore_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewGCSStore(ctx, "", "p", "")
	assert.Error(t, err)

	_, err = NewGCSStore(ctx, "bucket", "p", "/nonexistent/key.json")
	assert.ErrorContains(t, err, "service account key not found")

	_, err = NewGCSStore(ctx, "bucket", "p", t.TempDir())
	assert.ErrorContains(t, err, "is a directory")

	bad := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(bad, []byte("not valid json"), 0o600))
	_, err = NewGCSStore(ctx, "bucket", "p", bad)
	assert.ErrorContains(t, err, "failed to create GCS storage client")
}

func TestInfoMetadata_RoundTrip(t *testing.T) {
	in := Info{
		TakenAt:  time.Date(2024, 3, 1, 12, 0, 0, 5, time.UTC),
		Revision: 42,
		Nodes:    7,
		Edges:    9,
	}
	assert.Equal(t, in, metadataInfo(infoMetadata(in)))
	assert.Equal(t, Info{}, metadataInfo(map[string]string{"revision": "x"}))
}
