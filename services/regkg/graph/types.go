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
	"fmt"
	"slices"
	"time"
)

// =============================================================================
// Node Types
// =============================================================================

// NodeType classifies a regulatory entity. The set is closed.
type NodeType int

const (
	NodeTypeFramework NodeType = iota
	NodeTypeRequirement
	NodeTypeConcept
	NodeTypeEntity
	NodeTypeJurisdiction
	NodeTypeAuthority
	NodeTypeObligation
	NodeTypeCondition
	NodeTypeException
	NodeTypePenalty
	NodeTypeProcedure
	NodeTypeStandard
	NodeTypeMetric
	NodeTypeEvidence

	// NumNodeTypes is the number of node types (for array sizing).
	NumNodeTypes
)

var nodeTypeNames = [NumNodeTypes]string{
	NodeTypeFramework:    "Framework",
	NodeTypeRequirement:  "Requirement",
	NodeTypeConcept:      "Concept",
	NodeTypeEntity:       "Entity",
	NodeTypeJurisdiction: "Jurisdiction",
	NodeTypeAuthority:    "Authority",
	NodeTypeObligation:   "Obligation",
	NodeTypeCondition:    "Condition",
	NodeTypeException:    "Exception",
	NodeTypePenalty:      "Penalty",
	NodeTypeProcedure:    "Procedure",
	NodeTypeStandard:     "Standard",
	NodeTypeMetric:       "Metric",
	NodeTypeEvidence:     "Evidence",
}

// String returns the canonical name of the node type.
func (t NodeType) String() string {
	if t >= 0 && t < NumNodeTypes {
		return nodeTypeNames[t]
	}
	return "unknown"
}

// Valid reports whether t is one of the defined node types.
func (t NodeType) Valid() bool {
	return t >= 0 && t < NumNodeTypes
}

// ParseNodeType resolves a canonical node type name.
func ParseNodeType(s string) (NodeType, error) {
	if i := slices.Index(nodeTypeNames[:], s); i >= 0 {
		return NodeType(i), nil
	}
	return 0, invalid("node_type", s, "unknown node type")
}

// MarshalText implements encoding.TextMarshaler.
func (t NodeType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid node type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *NodeType) UnmarshalText(b []byte) error {
	v, err := ParseNodeType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// =============================================================================
// Relationship Types
// =============================================================================

// RelationshipType is the type of a KnowledgeEdge. The set is closed.
type RelationshipType int

const (
	RelDependsOn RelationshipType = iota
	RelConflictsWith
	RelSupersedes
	RelComplements
	RelImplements
	RelRequires
	RelImplies
	RelContradicts
	RelHarmonizes
	RelReferences
	RelDerives
	RelValidates
	RelEnforces
	RelExempts
	RelApplies
	RelGoverns
	RelMandates
	RelProhibits
	RelRecommends
	RelSupports

	// NumRelationshipTypes is the number of relationship types.
	NumRelationshipTypes
)

var relationshipNames = [NumRelationshipTypes]string{
	RelDependsOn:     "DependsOn",
	RelConflictsWith: "ConflictsWith",
	RelSupersedes:    "Supersedes",
	RelComplements:   "Complements",
	RelImplements:    "Implements",
	RelRequires:      "Requires",
	RelImplies:       "Implies",
	RelContradicts:   "Contradicts",
	RelHarmonizes:    "Harmonizes",
	RelReferences:    "References",
	RelDerives:       "Derives",
	RelValidates:     "Validates",
	RelEnforces:      "Enforces",
	RelExempts:       "Exempts",
	RelApplies:       "Applies",
	RelGoverns:       "Governs",
	RelMandates:      "Mandates",
	RelProhibits:     "Prohibits",
	RelRecommends:    "Recommends",
	RelSupports:      "Supports",
}

// String returns the canonical name of the relationship type.
func (r RelationshipType) String() string {
	if r >= 0 && r < NumRelationshipTypes {
		return relationshipNames[r]
	}
	return "unknown"
}

// Valid reports whether r is one of the defined relationship types.
func (r RelationshipType) Valid() bool {
	return r >= 0 && r < NumRelationshipTypes
}

// IsConflict reports whether r states an explicit contradiction.
func (r RelationshipType) IsConflict() bool {
	return r == RelConflictsWith || r == RelContradicts
}

// IsPrecedence reports whether r claims precedence of source over target.
func (r RelationshipType) IsPrecedence() bool {
	return r == RelSupersedes || r == RelGoverns
}

// ParseRelationshipType resolves a canonical relationship name.
func ParseRelationshipType(s string) (RelationshipType, error) {
	if i := slices.Index(relationshipNames[:], s); i >= 0 {
		return RelationshipType(i), nil
	}
	return 0, invalid("relationship_type", s, "unknown relationship type")
}

// MarshalText implements encoding.TextMarshaler.
func (r RelationshipType) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid relationship type %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RelationshipType) UnmarshalText(b []byte) error {
	v, err := ParseRelationshipType(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Directionality controls how an edge is traversed.
type Directionality int

const (
	// Directed edges are traversed from source to target only.
	Directed Directionality = iota

	// Undirected edges are traversed both ways.
	Undirected

	// Bidirectional edges are traversed both ways and assert the
	// relationship in both directions.
	Bidirectional
)

var directionalityNames = [...]string{"Directed", "Undirected", "Bidirectional"}

// String returns the canonical name.
func (d Directionality) String() string {
	if d >= 0 && int(d) < len(directionalityNames) {
		return directionalityNames[d]
	}
	return "unknown"
}

// BothWays reports whether the edge can be traversed target to source.
func (d Directionality) BothWays() bool {
	return d == Undirected || d == Bidirectional
}

// MarshalText implements encoding.TextMarshaler.
func (d Directionality) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Directionality) UnmarshalText(b []byte) error {
	if i := slices.Index(directionalityNames[:], string(b)); i >= 0 {
		*d = Directionality(i)
		return nil
	}
	return invalid("directionality", string(b), "unknown directionality")
}

// =============================================================================
// Nodes and Edges
// =============================================================================

// Centrality holds the structural importance scores of a node.
//
// All measures start at 0.0 and lie in [0, 1] after a recompute.
type Centrality struct {
	Degree      float64 `json:"degree"`
	Betweenness float64 `json:"betweenness"`
	Closeness   float64 `json:"closeness"`
	Eigenvector float64 `json:"eigenvector"`
	PageRank    float64 `json:"pagerank"`
}

// KnowledgeNode is a regulatory entity.
type KnowledgeNode struct {
	// ID is the stable external entity ID. Unique within a graph.
	ID string `json:"id"`

	Type       NodeType   `json:"node_type"`
	Properties Properties `json:"properties"`

	// Embedding is recomputed from the text-bearing properties on every
	// upsert.
	Embedding []float64 `json:"embedding,omitempty"`

	Confidence  float64    `json:"confidence"`
	Centrality  Centrality `json:"centrality"`
	LastUpdated time.Time  `json:"last_updated"`
}

// Clone returns a deep copy of the node.
func (n *KnowledgeNode) Clone() KnowledgeNode {
	c := *n
	c.Properties = n.Properties.Clone()
	c.Embedding = slices.Clone(n.Embedding)
	return c
}

// Mandatory reports whether the node carries mandatory=true.
func (n *KnowledgeNode) Mandatory() bool {
	v, _ := n.Properties.Bool("mandatory")
	return v
}

// Title returns the title property or, failing that, the ID.
func (n *KnowledgeNode) Title() string {
	if s, ok := n.Properties.String("title"); ok && s != "" {
		return s
	}
	return n.ID
}

// TemporalValidity is the interval during which a relationship holds.
//
// A nil bound is open on that side.
type TemporalValidity struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Contains reports whether t lies in [Start, End).
func (v TemporalValidity) Contains(t time.Time) bool {
	if v.Start != nil && t.Before(*v.Start) {
		return false
	}
	if v.End != nil && !t.Before(*v.End) {
		return false
	}
	return true
}

// IsZero reports whether both bounds are open.
func (v TemporalValidity) IsZero() bool {
	return v.Start == nil && v.End == nil
}

// KnowledgeEdge is a typed relationship between two nodes.
type KnowledgeEdge struct {
	Relationship   RelationshipType `json:"relationship_type"`
	Weight         float64          `json:"weight"`
	Confidence     float64          `json:"confidence"`
	Directionality Directionality   `json:"directionality"`
	Validity       TemporalValidity `json:"temporal_validity"`

	// SourceEvidence is free-text provenance. Duplicate edges with
	// different evidence are independent records.
	SourceEvidence []string `json:"source_evidence,omitempty"`
}

// Strength returns weight times confidence.
func (e *KnowledgeEdge) Strength() float64 {
	return e.Weight * e.Confidence
}

// NodeRef addresses a node slot in the arena.
//
// The zero value never refers to a live node because live generations
// start at 1.
type NodeRef struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether the ref was never assigned.
func (r NodeRef) IsZero() bool {
	return r.Generation == 0
}

// EdgeRef addresses an edge slot in the arena.
type EdgeRef struct {
	Index      uint32
	Generation uint32
}

// EdgeView is a resolved edge with its endpoints.
//
// Edge points into the store and is only valid inside the View or Update
// callback that produced it.
type EdgeView struct {
	Ref  EdgeRef
	From NodeRef
	To   NodeRef
	Edge *KnowledgeEdge
}

// Arc is one traversal step out of a node.
//
// A Directed edge yields a single forward arc. Undirected and Bidirectional
// edges yield a forward arc from their source and a reverse arc from their
// target.
type Arc struct {
	To      NodeRef
	Edge    EdgeRef
	Reverse bool
}

// =============================================================================
// Options
// =============================================================================

// Default configuration values.
const (
	// DefaultMaxNodes bounds the arena size.
	DefaultMaxNodes = 1_000_000

	// DefaultMaxEdges bounds the edge arena size.
	DefaultMaxEdges = 10_000_000
)

// GraphOptions configures a Graph.
type GraphOptions struct {
	MaxNodes int
	MaxEdges int

	// QueryCacheSize bounds the semantic search query embedding cache.
	QueryCacheSize int

	// Clock supplies LastUpdated and history timestamps. Default: time.Now.
	Clock func() time.Time
}

// DefaultGraphOptions returns the default configuration.
func DefaultGraphOptions() GraphOptions {
	return GraphOptions{
		MaxNodes:       DefaultMaxNodes,
		MaxEdges:       DefaultMaxEdges,
		QueryCacheSize: 1024,
		Clock:          func() time.Time { return time.Now().UTC() },
	}
}

// GraphOption is a functional option for configuring Graph.
type GraphOption func(*GraphOptions)

// WithMaxNodes sets the node capacity.
func WithMaxNodes(n int) GraphOption {
	return func(o *GraphOptions) {
		o.MaxNodes = n
	}
}

// WithMaxEdges sets the edge capacity.
func WithMaxEdges(n int) GraphOption {
	return func(o *GraphOptions) {
		o.MaxEdges = n
	}
}

// WithClock replaces the time source. Used by tests to get deterministic
// history.
func WithClock(clock func() time.Time) GraphOption {
	return func(o *GraphOptions) {
		if clock != nil {
			o.Clock = clock
		}
	}
}
