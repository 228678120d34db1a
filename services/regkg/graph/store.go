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
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/cache"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/embedding"
	"go.opentelemetry.io/otel/attribute"
)

// =============================================================================
// Change Notification
// =============================================================================

// ChangeKind classifies a committed node change.
type ChangeKind int

const (
	// ChangeCreated is the first appearance of an entity ID.
	ChangeCreated ChangeKind = iota

	// ChangeUpdated is a change of type, properties or embedding.
	ChangeUpdated

	// ChangeRemoved is the removal of the node from the live graph.
	ChangeRemoved
)

// String returns the string representation of the ChangeKind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeUpdated:
		return "updated"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// NodeChange is a committed change to one node.
type NodeChange struct {
	Kind ChangeKind

	// Node is a deep copy of the node state after the change, or the last
	// state before removal.
	Node KnowledgeNode

	At     time.Time
	Reason string
}

// Observer receives committed node changes.
//
// NodesChanged is called once per committed transaction, in commit order,
// while the store's write lock is still held. Implementations must not call
// back into the Graph.
type Observer interface {
	NodesChanged(changes []NodeChange)
}

// =============================================================================
// Graph
// =============================================================================

type nodeSlot struct {
	generation uint32
	live       bool
	node       KnowledgeNode
	out        []uint32
	in         []uint32
}

type edgeSlot struct {
	generation uint32
	live       bool
	from       NodeRef
	to         NodeRef
	edge       KnowledgeEdge
}

// Graph is the in-memory regulatory knowledge graph.
//
// Thread Safety: Safe for concurrent use. See the package documentation
// for the locking discipline.
type Graph struct {
	mu sync.RWMutex

	opts     GraphOptions
	embedder embedding.Embedder
	logger   *slog.Logger

	// queryCache holds query embeddings for semantic search.
	queryCache *cache.LRU[string, []float64]

	nodes     []nodeSlot
	edges     []edgeSlot
	freeNodes []uint32
	freeEdges []uint32
	index     map[string]NodeRef

	nodeCount int
	edgeCount int
	revision  uint64

	observers []Observer
}

// NewGraph creates an empty graph.
//
// Inputs:
//   - embedder: Computes node embeddings on upsert. Nil selects a
//     HashEmbedder with embedding.DefaultDimensions.
//   - opts: Optional configuration.
//
// Outputs:
//   - *Graph: Never nil.
func NewGraph(embedder embedding.Embedder, opts ...GraphOption) *Graph {
	options := DefaultGraphOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if embedder == nil {
		embedder = embedding.NewHashEmbedder(embedding.DefaultDimensions)
	}
	return &Graph{
		opts:       options,
		embedder:   embedder,
		logger:     slog.Default().With(slog.String("component", "regkg.graph")),
		queryCache: cache.NewLRU[string, []float64](options.QueryCacheSize),
		index:      make(map[string]NodeRef),
	}
}

// AddObserver registers an observer for committed changes.
func (g *Graph) AddObserver(o Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, o)
}

// Embedder returns the embedder used for node vectors.
func (g *Graph) Embedder() embedding.Embedder {
	return g.embedder
}

// Update runs fn as an exclusive, atomic transaction.
//
// Description:
//
//	Acquires the write lock for the whole of fn. If fn returns an error
//	or panics, every mutation made through tx is undone and nothing is
//	published to observers. On success the revision is incremented and
//	the coalesced node changes are delivered to observers.
//
// Inputs:
//   - ctx: Context for tracing.
//   - fn: The transaction body. Must not retain tx.
//
// Outputs:
//   - error: The error returned by fn, unchanged.
//
// Thread Safety: Safe for concurrent use. Blocks readers for the duration.
func (g *Graph) Update(ctx context.Context, fn func(tx *Txn) error) error {
	_, span := tracer.Start(ctx, "Graph.Update")
	defer span.End()

	start := time.Now()
	committed := false
	defer func() {
		recordTxnMetrics(ctx, time.Since(start), committed)
	}()

	g.mu.Lock()
	defer g.mu.Unlock()

	tx := &Txn{Reader: Reader{g: g}, now: g.opts.Clock()}
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(tx); err != nil {
		span.RecordError(err)
		return err
	}

	committed = true
	tx.commit()

	span.SetAttributes(
		attribute.Int("graph.node_count", g.nodeCount),
		attribute.Int("graph.edge_count", g.edgeCount),
		attribute.Int64("graph.revision", int64(g.revision)),
	)
	return nil
}

// View runs fn under the shared read lock.
//
// Every read in fn observes the same committed state. Pointers obtained
// through r must not escape fn.
func (g *Graph) View(ctx context.Context, fn func(r Reader) error) error {
	_, span := tracer.Start(ctx, "Graph.View")
	defer span.End()

	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(Reader{g: g})
}

// UpsertNode creates or updates the node for entityID in its own
// transaction.
func (g *Graph) UpsertNode(ctx context.Context, entityID string, nodeType NodeType, props map[string]any, opts ...NodeOption) (NodeRef, error) {
	var ref NodeRef
	err := g.Update(ctx, func(tx *Txn) error {
		var err error
		ref, err = tx.UpsertNode(entityID, nodeType, props, opts...)
		return err
	})
	return ref, err
}

// AddEdge appends an edge between two entity IDs in its own transaction.
//
// An edge is always appended, even when an identical one exists.
func (g *Graph) AddEdge(ctx context.Context, fromID, toID string, edge KnowledgeEdge) (EdgeRef, error) {
	var ref EdgeRef
	err := g.Update(ctx, func(tx *Txn) error {
		var err error
		ref, err = tx.AddEdgeByID(fromID, toID, edge)
		return err
	})
	return ref, err
}

// RemoveNode deletes a node and its incident edges in its own transaction.
func (g *Graph) RemoveNode(ctx context.Context, entityID string) error {
	return g.Update(ctx, func(tx *Txn) error {
		return tx.RemoveNode(entityID)
	})
}

// GetNode returns a deep copy of the node for entityID.
func (g *Graph) GetNode(entityID string) (KnowledgeNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ref, ok := g.index[entityID]
	if !ok {
		return KnowledgeNode{}, false
	}
	return g.nodes[ref.Index].node.Clone(), true
}

// NodeCount returns the number of live nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodeCount
}

// EdgeCount returns the number of live edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edgeCount
}

// Revision returns a counter incremented by every committed transaction.
//
// Derived results (inference, caches) are valid for one revision.
func (g *Graph) Revision() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.revision
}

// =============================================================================
// Arena Management (caller holds the write lock)
// =============================================================================

func (g *Graph) allocNode() NodeRef {
	if n := len(g.freeNodes); n > 0 {
		idx := g.freeNodes[n-1]
		g.freeNodes = g.freeNodes[:n-1]
		s := &g.nodes[idx]
		s.generation++
		s.live = true
		s.out, s.in = nil, nil
		return NodeRef{Index: idx, Generation: s.generation}
	}
	g.nodes = append(g.nodes, nodeSlot{generation: 1, live: true})
	return NodeRef{Index: uint32(len(g.nodes) - 1), Generation: 1}
}

func (g *Graph) allocEdge() EdgeRef {
	if n := len(g.freeEdges); n > 0 {
		idx := g.freeEdges[n-1]
		g.freeEdges = g.freeEdges[:n-1]
		s := &g.edges[idx]
		s.generation++
		s.live = true
		return EdgeRef{Index: idx, Generation: s.generation}
	}
	g.edges = append(g.edges, edgeSlot{generation: 1, live: true})
	return EdgeRef{Index: uint32(len(g.edges) - 1), Generation: 1}
}

func (g *Graph) liveNode(ref NodeRef) (*nodeSlot, bool) {
	if int(ref.Index) >= len(g.nodes) {
		return nil, false
	}
	s := &g.nodes[ref.Index]
	if !s.live || s.generation != ref.Generation {
		return nil, false
	}
	return s, true
}

func (g *Graph) liveEdge(ref EdgeRef) (*edgeSlot, bool) {
	if int(ref.Index) >= len(g.edges) {
		return nil, false
	}
	s := &g.edges[ref.Index]
	if !s.live || s.generation != ref.Generation {
		return nil, false
	}
	return s, true
}

// attachEdge links edge slot idx into its endpoints' adjacency lists.
func (g *Graph) attachEdge(idx uint32) {
	e := &g.edges[idx]
	g.nodes[e.from.Index].out = append(g.nodes[e.from.Index].out, idx)
	g.nodes[e.to.Index].in = append(g.nodes[e.to.Index].in, idx)
}

// detachEdge unlinks edge slot idx from its endpoints' adjacency lists.
func (g *Graph) detachEdge(idx uint32) {
	e := &g.edges[idx]
	from := &g.nodes[e.from.Index]
	from.out = removeOne(from.out, idx)
	to := &g.nodes[e.to.Index]
	to.in = removeOne(to.in, idx)
}

func removeOne(s []uint32, v uint32) []uint32 {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
