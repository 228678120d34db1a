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
	"iter"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/embedding"
)

// Reader gives read access to the graph inside View or Update.
//
// Returned pointers reference store memory. They must be treated as
// read-only and must not outlive the callback.
type Reader struct {
	g *Graph
}

// Lookup resolves an entity ID.
func (r Reader) Lookup(entityID string) (NodeRef, bool) {
	ref, ok := r.g.index[entityID]
	return ref, ok
}

// Node resolves a ref. Stale refs return false.
func (r Reader) Node(ref NodeRef) (*KnowledgeNode, bool) {
	slot, ok := r.g.liveNode(ref)
	if !ok {
		return nil, false
	}
	return &slot.node, true
}

// NodeByID resolves an entity ID to its ref and node.
func (r Reader) NodeByID(entityID string) (NodeRef, *KnowledgeNode, bool) {
	ref, ok := r.g.index[entityID]
	if !ok {
		return NodeRef{}, nil, false
	}
	return ref, &r.g.nodes[ref.Index].node, true
}

// NodeCount returns the number of live nodes.
func (r Reader) NodeCount() int {
	return r.g.nodeCount
}

// EdgeCount returns the number of live edges.
func (r Reader) EdgeCount() int {
	return r.g.edgeCount
}

// Revision returns the committed revision counter.
func (r Reader) Revision() uint64 {
	return r.g.revision
}

// Embedder returns the graph's embedder.
func (r Reader) Embedder() embedding.Embedder {
	return r.g.embedder
}

// Nodes iterates live nodes in arena order.
func (r Reader) Nodes() iter.Seq2[NodeRef, *KnowledgeNode] {
	return func(yield func(NodeRef, *KnowledgeNode) bool) {
		for i := range r.g.nodes {
			s := &r.g.nodes[i]
			if !s.live {
				continue
			}
			if !yield(NodeRef{Index: uint32(i), Generation: s.generation}, &s.node) {
				return
			}
		}
	}
}

// NodeRefs returns the refs of all live nodes in arena order.
//
// Algorithms use the position in this slice as a dense node index.
func (r Reader) NodeRefs() []NodeRef {
	refs := make([]NodeRef, 0, r.g.nodeCount)
	for ref := range r.Nodes() {
		refs = append(refs, ref)
	}
	return refs
}

// Edges iterates live edges in arena order.
func (r Reader) Edges() iter.Seq[EdgeView] {
	return func(yield func(EdgeView) bool) {
		for i := range r.g.edges {
			if !r.g.edges[i].live {
				continue
			}
			if !yield(r.view(uint32(i))) {
				return
			}
		}
	}
}

// Edge resolves an edge ref.
func (r Reader) Edge(ref EdgeRef) (EdgeView, bool) {
	if _, ok := r.g.liveEdge(ref); !ok {
		return EdgeView{}, false
	}
	return r.view(ref.Index), true
}

// OutEdges returns the edges whose source is ref, in insertion order.
func (r Reader) OutEdges(ref NodeRef) []EdgeView {
	slot, ok := r.g.liveNode(ref)
	if !ok {
		return nil
	}
	out := make([]EdgeView, 0, len(slot.out))
	for _, ei := range slot.out {
		out = append(out, r.view(ei))
	}
	return out
}

// InEdges returns the edges whose target is ref, in insertion order.
func (r Reader) InEdges(ref NodeRef) []EdgeView {
	slot, ok := r.g.liveNode(ref)
	if !ok {
		return nil
	}
	in := make([]EdgeView, 0, len(slot.in))
	for _, ei := range slot.in {
		in = append(in, r.view(ei))
	}
	return in
}

// EdgesBetween returns the stored edges with source a and target b.
func (r Reader) EdgesBetween(a, b NodeRef) []EdgeView {
	var out []EdgeView
	for _, ev := range r.OutEdges(a) {
		if ev.To == b {
			out = append(out, ev)
		}
	}
	return out
}

// Connected reports whether any edge links a and b in either direction.
func (r Reader) Connected(a, b NodeRef) bool {
	return len(r.EdgesBetween(a, b)) > 0 || len(r.EdgesBetween(b, a)) > 0
}

// Arcs returns the traversal steps out of ref.
//
// Description:
//
//	Every outgoing edge yields a forward arc. Incoming Undirected and
//	Bidirectional edges also yield a reverse arc back to their source.
//	Outgoing arcs come first, each group in insertion order.
func (r Reader) Arcs(ref NodeRef) []Arc {
	slot, ok := r.g.liveNode(ref)
	if !ok {
		return nil
	}
	arcs := make([]Arc, 0, len(slot.out))
	for _, ei := range slot.out {
		e := &r.g.edges[ei]
		arcs = append(arcs, Arc{To: e.to, Edge: EdgeRef{Index: ei, Generation: e.generation}})
	}
	for _, ei := range slot.in {
		e := &r.g.edges[ei]
		if e.edge.Directionality.BothWays() {
			arcs = append(arcs, Arc{To: e.from, Edge: EdgeRef{Index: ei, Generation: e.generation}, Reverse: true})
		}
	}
	return arcs
}

// Neighbors returns the distinct nodes reachable by one arc, excluding ref
// itself.
func (r Reader) Neighbors(ref NodeRef) []NodeRef {
	arcs := r.Arcs(ref)
	out := make([]NodeRef, 0, len(arcs))
	for _, a := range arcs {
		out = append(out, a.To)
	}
	return distinctExcluding(out, ref)
}

// Adjacent returns the distinct nodes linked to ref by any edge in either
// direction, excluding ref itself.
func (r Reader) Adjacent(ref NodeRef) []NodeRef {
	slot, ok := r.g.liveNode(ref)
	if !ok {
		return nil
	}
	out := make([]NodeRef, 0, len(slot.out)+len(slot.in))
	for _, ei := range slot.out {
		out = append(out, r.g.edges[ei].to)
	}
	for _, ei := range slot.in {
		out = append(out, r.g.edges[ei].from)
	}
	return distinctExcluding(out, ref)
}

// distinctExcluding removes duplicates and self from refs in place,
// preserving first-seen order.
func distinctExcluding(refs []NodeRef, self NodeRef) []NodeRef {
	seen := make(map[NodeRef]struct{}, len(refs))
	out := refs[:0]
	for _, n := range refs {
		if n == self {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func (r Reader) view(idx uint32) EdgeView {
	e := &r.g.edges[idx]
	return EdgeView{
		Ref:  EdgeRef{Index: idx, Generation: e.generation},
		From: e.from,
		To:   e.to,
		Edge: &e.edge,
	}
}
