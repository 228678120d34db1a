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
	"math"
	"slices"
	"strings"
	"time"
)

// textFields are the properties that feed a node's embedding, in order.
var textFields = []string{"title", "description", "authority"}

// EmbeddingText returns the text a node's embedding is computed from.
//
// It joins the title, description and authority properties that are
// present. A node with none of them is embedded from its entity ID.
func EmbeddingText(entityID string, props Properties) string {
	parts := make([]string, 0, len(textFields))
	for _, f := range textFields {
		if s, ok := props.String(f); ok && s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return entityID
	}
	return strings.Join(parts, " ")
}

// NodeOption configures a single upsert.
type NodeOption func(*nodeOptions)

type nodeOptions struct {
	confidence    float64
	hasConfidence bool
}

// WithConfidence sets the node confidence. Without it a new node gets 1.0
// and an existing node keeps its confidence.
func WithConfidence(c float64) NodeOption {
	return func(o *nodeOptions) {
		o.confidence = c
		o.hasConfidence = true
	}
}

// Txn is an exclusive write transaction.
//
// A Txn is only valid inside the Update callback that received it. Reads
// through the embedded Reader observe the transaction's own writes.
type Txn struct {
	Reader

	now     time.Time
	reason  string
	undo    []func()
	changes []NodeChange
	dirty   bool

	freedNodes []uint32
	freedEdges []uint32
}

// Now returns the transaction timestamp used for LastUpdated and history.
func (tx *Txn) Now() time.Time {
	return tx.now
}

// SetReason sets the change reason recorded in node history.
func (tx *Txn) SetReason(reason string) {
	tx.reason = reason
}

// UpsertNode creates the node for entityID or updates it in place.
//
// Description:
//
//	Idempotent by entity ID: the index never holds two nodes for one ID.
//	The embedding is recomputed from the text-bearing properties on every
//	call. LastUpdated and history only move when the type, properties or
//	embedding actually change.
//
// Inputs:
//   - entityID: Stable external ID. Must not be blank.
//   - nodeType: One of the defined node types.
//   - props: Properties. Normalized with NormalizeProperties.
//   - opts: Optional settings such as WithConfidence.
//
// Outputs:
//   - NodeRef: Reference to the node.
//   - error: ValidationError on bad input, ErrMaxNodesExceeded at capacity.
func (tx *Txn) UpsertNode(entityID string, nodeType NodeType, props map[string]any, opts ...NodeOption) (NodeRef, error) {
	g := tx.g
	if strings.TrimSpace(entityID) == "" {
		return NodeRef{}, invalid("entity_id", entityID, "must not be blank")
	}
	if !nodeType.Valid() {
		return NodeRef{}, invalid("node_type", nodeType.String(), "unknown node type")
	}
	var o nodeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.hasConfidence && !inUnitRange(o.confidence) {
		return NodeRef{}, invalid("confidence", "", "must be in [0, 1]")
	}
	np, err := NormalizeProperties(props)
	if err != nil {
		return NodeRef{}, err
	}
	emb := g.embedder.Embed(EmbeddingText(entityID, np))

	if ref, ok := g.index[entityID]; ok {
		slot := &g.nodes[ref.Index]
		prev := slot.node.Clone()
		changed := slot.node.Type != nodeType ||
			!slot.node.Properties.Equal(np) ||
			!slices.Equal(slot.node.Embedding, emb)

		slot.node.Type = nodeType
		slot.node.Properties = np
		slot.node.Embedding = emb
		if o.hasConfidence {
			slot.node.Confidence = o.confidence
		}
		if changed {
			slot.node.LastUpdated = tx.now
		}

		idx := ref.Index
		tx.undo = append(tx.undo, func() {
			g.nodes[idx].node = prev
		})
		tx.dirty = true
		if changed {
			tx.record(ChangeUpdated, &slot.node)
		}
		return ref, nil
	}

	if g.nodeCount >= g.opts.MaxNodes {
		return NodeRef{}, ErrMaxNodesExceeded
	}

	conf := 1.0
	if o.hasConfidence {
		conf = o.confidence
	}
	ref := g.allocNode()
	slot := &g.nodes[ref.Index]
	slot.node = KnowledgeNode{
		ID:          entityID,
		Type:        nodeType,
		Properties:  np,
		Embedding:   emb,
		Confidence:  conf,
		LastUpdated: tx.now,
	}
	g.index[entityID] = ref
	g.nodeCount++

	idx := ref.Index
	tx.undo = append(tx.undo, func() {
		s := &g.nodes[idx]
		s.live = false
		s.node = KnowledgeNode{}
		s.out, s.in = nil, nil
		g.freeNodes = append(g.freeNodes, idx)
		delete(g.index, entityID)
		g.nodeCount--
	})
	tx.dirty = true
	tx.record(ChangeCreated, &slot.node)
	return ref, nil
}

// AddEdge appends an edge from one node to another.
//
// Description:
//
//	Always appends. Parallel edges, including ones identical to an
//	existing edge, are independent provenance records. Self loops are
//	allowed.
//
// Outputs:
//   - EdgeRef: Reference to the new edge.
//   - error: ValidationError if a ref is stale or the edge is malformed.
func (tx *Txn) AddEdge(from, to NodeRef, edge KnowledgeEdge) (EdgeRef, error) {
	g := tx.g
	if _, ok := g.liveNode(from); !ok {
		return EdgeRef{}, &ValidationError{Field: "from", Reason: "stale or unknown node ref", Err: ErrNodeNotFound}
	}
	if _, ok := g.liveNode(to); !ok {
		return EdgeRef{}, &ValidationError{Field: "to", Reason: "stale or unknown node ref", Err: ErrNodeNotFound}
	}
	if err := validateEdge(&edge); err != nil {
		return EdgeRef{}, err
	}
	if g.edgeCount >= g.opts.MaxEdges {
		return EdgeRef{}, ErrMaxEdgesExceeded
	}

	ref := g.allocEdge()
	edge.SourceEvidence = slices.Clone(edge.SourceEvidence)
	g.edges[ref.Index] = edgeSlot{
		generation: ref.Generation,
		live:       true,
		from:       from,
		to:         to,
		edge:       edge,
	}
	g.attachEdge(ref.Index)
	g.edgeCount++

	idx := ref.Index
	tx.undo = append(tx.undo, func() {
		g.detachEdge(idx)
		g.edges[idx].live = false
		g.freeEdges = append(g.freeEdges, idx)
		g.edgeCount--
	})
	tx.dirty = true
	return ref, nil
}

// AddEdgeByID resolves both entity IDs and appends an edge.
func (tx *Txn) AddEdgeByID(fromID, toID string, edge KnowledgeEdge) (EdgeRef, error) {
	from, ok := tx.Lookup(fromID)
	if !ok {
		return EdgeRef{}, NotFound(fromID)
	}
	to, ok := tx.Lookup(toID)
	if !ok {
		return EdgeRef{}, NotFound(toID)
	}
	return tx.AddEdge(from, to, edge)
}

// RemoveNode removes the node for entityID and every incident edge.
//
// The node's slot generation is bumped on reuse, so refs held by callers
// become stale. History observers receive a ChangeRemoved event.
func (tx *Txn) RemoveNode(entityID string) error {
	g := tx.g
	ref, ok := g.index[entityID]
	if !ok {
		return NotFound(entityID)
	}
	slot := &g.nodes[ref.Index]

	incident := make([]uint32, 0, len(slot.out)+len(slot.in))
	incident = append(incident, slot.out...)
	for _, ei := range slot.in {
		if !slices.Contains(incident, ei) {
			incident = append(incident, ei)
		}
	}
	for _, ei := range incident {
		tx.removeEdgeSlot(ei)
	}

	idx := ref.Index
	saved := g.nodes[idx].node
	tx.record(ChangeRemoved, &saved)

	g.nodes[idx].live = false
	g.nodes[idx].node = KnowledgeNode{}
	delete(g.index, entityID)
	g.nodeCount--
	tx.freedNodes = append(tx.freedNodes, idx)

	tx.undo = append(tx.undo, func() {
		s := &g.nodes[idx]
		s.live = true
		s.node = saved
		g.index[entityID] = ref
		g.nodeCount++
	})
	tx.dirty = true
	return nil
}

// RemoveEdge removes a single edge.
func (tx *Txn) RemoveEdge(ref EdgeRef) error {
	if _, ok := tx.g.liveEdge(ref); !ok {
		return &ValidationError{Field: "edge", Reason: "stale or unknown edge ref", Err: ErrEdgeNotFound}
	}
	tx.removeEdgeSlot(ref.Index)
	tx.dirty = true
	return nil
}

func (tx *Txn) removeEdgeSlot(idx uint32) {
	g := tx.g
	g.detachEdge(idx)
	g.edges[idx].live = false
	g.edgeCount--
	tx.freedEdges = append(tx.freedEdges, idx)

	tx.undo = append(tx.undo, func() {
		g.edges[idx].live = true
		g.attachEdge(idx)
		g.edgeCount++
	})
}

// SetCentrality overwrites the centrality scores of a node.
//
// Centrality is derived state and does not produce history.
func (tx *Txn) SetCentrality(ref NodeRef, c Centrality) error {
	slot, ok := tx.g.liveNode(ref)
	if !ok {
		return &ValidationError{Field: "node", Reason: "stale or unknown node ref", Err: ErrNodeNotFound}
	}
	prev := slot.node.Centrality
	slot.node.Centrality = c

	g, idx := tx.g, ref.Index
	tx.undo = append(tx.undo, func() {
		g.nodes[idx].node.Centrality = prev
	})
	tx.dirty = true
	return nil
}

// record queues a history event. The node is deep-copied.
func (tx *Txn) record(kind ChangeKind, n *KnowledgeNode) {
	tx.changes = append(tx.changes, NodeChange{
		Kind:   kind,
		Node:   n.Clone(),
		At:     tx.now,
		Reason: tx.reason,
	})
}

// rollback undoes every mutation in reverse order.
func (tx *Txn) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.changes = nil
}

// commit releases freed slots, bumps the revision and notifies observers.
//
// Freed slots are only recycled after commit so a rollback can restore
// them with their original generation.
func (tx *Txn) commit() {
	g := tx.g
	if !tx.dirty {
		return
	}
	for _, idx := range tx.freedEdges {
		g.edges[idx].edge = KnowledgeEdge{}
		g.freeEdges = append(g.freeEdges, idx)
	}
	for _, idx := range tx.freedNodes {
		g.nodes[idx].out, g.nodes[idx].in = nil, nil
		g.freeNodes = append(g.freeNodes, idx)
	}
	g.revision++

	changes := coalesce(tx.changes, tx.reason)
	if len(changes) == 0 {
		return
	}
	for _, o := range g.observers {
		o.NodesChanged(changes)
	}
}

// coalesce folds multiple changes to the same entity in one transaction
// into a single net change.
func coalesce(changes []NodeChange, reason string) []NodeChange {
	if len(changes) <= 1 {
		for i := range changes {
			if changes[i].Reason == "" {
				changes[i].Reason = reason
			}
		}
		return changes
	}

	pos := make(map[string]int, len(changes))
	out := make([]NodeChange, 0, len(changes))
	dropped := make(map[int]bool)
	for _, c := range changes {
		if c.Reason == "" {
			c.Reason = reason
		}
		i, seen := pos[c.Node.ID]
		if !seen || dropped[i] {
			pos[c.Node.ID] = len(out)
			out = append(out, c)
			continue
		}
		prev := out[i]
		switch {
		case prev.Kind == ChangeCreated && c.Kind == ChangeRemoved:
			dropped[i] = true
		case prev.Kind == ChangeCreated:
			c.Kind = ChangeCreated
			out[i] = c
		case prev.Kind == ChangeRemoved && c.Kind == ChangeCreated:
			c.Kind = ChangeUpdated
			out[i] = c
		default:
			out[i] = c
		}
	}

	result := out[:0]
	for i, c := range out {
		if !dropped[i] {
			result = append(result, c)
		}
	}
	return result
}

func validateEdge(e *KnowledgeEdge) error {
	if !e.Relationship.Valid() {
		return invalid("relationship_type", e.Relationship.String(), "unknown relationship type")
	}
	if !inUnitRange(e.Weight) {
		return invalid("weight", "", "must be in [0, 1]")
	}
	if !inUnitRange(e.Confidence) {
		return invalid("confidence", "", "must be in [0, 1]")
	}
	if e.Directionality < Directed || e.Directionality > Bidirectional {
		return invalid("directionality", e.Directionality.String(), "unknown directionality")
	}
	if e.Validity.Start != nil && e.Validity.End != nil && e.Validity.End.Before(*e.Validity.Start) {
		return invalid("temporal_validity", "", "end precedes start")
	}
	return nil
}

func inUnitRange(x float64) bool {
	return !math.IsNaN(x) && x >= 0 && x <= 1
}
