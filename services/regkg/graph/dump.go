// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"fmt"
	"slices"
)

// Dump is a self-contained copy of the graph for external snapshotting.
//
// Edges reference nodes by entity ID, so a dump is independent of arena
// layout.
type Dump struct {
	Nodes []KnowledgeNode `json:"nodes"`
	Edges []DumpEdge      `json:"edges"`
}

// DumpEdge is an edge with resolved endpoints.
type DumpEdge struct {
	From string        `json:"from"`
	To   string        `json:"to"`
	Edge KnowledgeEdge `json:"edge"`
}

// Export copies the whole graph under the read lock.
func (g *Graph) Export(ctx context.Context) Dump {
	var d Dump
	_ = g.View(ctx, func(r Reader) error {
		d.Nodes = make([]KnowledgeNode, 0, r.NodeCount())
		for _, n := range r.Nodes() {
			d.Nodes = append(d.Nodes, n.Clone())
		}
		d.Edges = make([]DumpEdge, 0, r.EdgeCount())
		for ev := range r.Edges() {
			from, _ := r.Node(ev.From)
			to, _ := r.Node(ev.To)
			e := *ev.Edge
			e.SourceEvidence = slices.Clone(e.SourceEvidence)
			d.Edges = append(d.Edges, DumpEdge{From: from.ID, To: to.ID, Edge: e})
		}
		return nil
	})
	return d
}

// Restore replaces the graph contents with d in one transaction.
//
// Description:
//
//	Node state, including centrality and LastUpdated, is restored
//	verbatim rather than recomputed. No history events are emitted: the
//	temporal history is restored separately from its own snapshot. On any
//	error the previous contents are kept.
//
// Outputs:
//   - error: ValidationError if the dump is inconsistent.
func (g *Graph) Restore(ctx context.Context, d Dump) error {
	return g.Update(ctx, func(tx *Txn) error {
		for _, id := range tx.entityIDs() {
			if err := tx.RemoveNode(id); err != nil {
				return err
			}
		}
		tx.changes = nil

		for i := range d.Nodes {
			if err := tx.restoreNode(&d.Nodes[i]); err != nil {
				return err
			}
		}
		for i, de := range d.Edges {
			if _, err := tx.AddEdgeByID(de.From, de.To, de.Edge); err != nil {
				return fmt.Errorf("restoring edge %d: %w", i, err)
			}
		}
		return nil
	})
}

func (tx *Txn) entityIDs() []string {
	ids := make([]string, 0, len(tx.g.index))
	for id := range tx.g.index {
		ids = append(ids, id)
	}
	return ids
}

// restoreNode inserts a node verbatim without recording history.
func (tx *Txn) restoreNode(n *KnowledgeNode) error {
	mark := len(tx.changes)
	if _, err := tx.UpsertNode(n.ID, n.Type, n.Properties, WithConfidence(n.Confidence)); err != nil {
		return err
	}
	tx.changes = tx.changes[:mark]

	ref := tx.g.index[n.ID]
	slot := &tx.g.nodes[ref.Index]
	slot.node.LastUpdated = n.LastUpdated
	slot.node.Centrality = n.Centrality
	if len(n.Embedding) == len(slot.node.Embedding) {
		slot.node.Embedding = slices.Clone(n.Embedding)
	}
	return nil
}
