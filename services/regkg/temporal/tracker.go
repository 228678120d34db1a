// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package temporal keeps the version history of every knowledge node and
// answers point-in-time and interval queries against it.
//
// A Tracker is registered as a graph.Observer. Each committed creation or
// change appends a version holding a full copy of the node; the previous
// version is closed at the same instant. Removal closes the current
// version. History is append-only.
package temporal

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var (
	tracer   = otel.Tracer("aleutian.regkg.temporal")
	validate = validator.New()
)

// VersionedNode is one entry of a node's history.
type VersionedNode struct {
	Version   int                 `json:"version"`
	State     graph.KnowledgeNode `json:"node_state"`
	ValidFrom time.Time           `json:"valid_from"`

	// ValidTo is nil for the current version.
	ValidTo      *time.Time `json:"valid_to,omitempty"`
	ChangeReason string     `json:"change_reason"`
}

// Current reports whether v is still open.
func (v *VersionedNode) Current() bool {
	return v.ValidTo == nil
}

func (v *VersionedNode) clone() VersionedNode {
	c := *v
	c.State = v.State.Clone()
	if v.ValidTo != nil {
		to := *v.ValidTo
		c.ValidTo = &to
	}
	return c
}

// TemporalRange is a half-open interval [Start, End). A nil End is open.
type TemporalRange struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// TemporalResult is a node as it was during a matching version.
type TemporalResult struct {
	EntityID           string           `json:"entity_id"`
	NodeType           graph.NodeType   `json:"node_type"`
	Version            int              `json:"version"`
	ValidPeriod        TemporalRange    `json:"valid_period"`
	PropertiesSnapshot graph.Properties `json:"properties_snapshot"`
}

// Tracker records node history.
//
// Thread Safety: Safe for concurrent use. NodesChanged runs under the
// graph write lock and takes only the tracker's own lock.
type Tracker struct {
	mu       sync.RWMutex
	versions map[string][]VersionedNode
	logger   *slog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		versions: make(map[string][]VersionedNode),
		logger:   slog.Default().With(slog.String("component", "regkg.temporal")),
	}
}

// Attach creates a tracker and registers it with g.
func Attach(g *graph.Graph) *Tracker {
	t := NewTracker()
	g.AddObserver(t)
	return t
}

// NodesChanged implements graph.Observer.
func (t *Tracker) NodesChanged(changes []graph.NodeChange) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range changes {
		id := c.Node.ID
		hist := t.versions[id]
		if n := len(hist); n > 0 && hist[n-1].ValidTo == nil {
			at := c.At
			hist[n-1].ValidTo = &at
		}
		if c.Kind == graph.ChangeRemoved {
			t.versions[id] = hist
			continue
		}
		t.versions[id] = append(hist, VersionedNode{
			Version:      len(hist) + 1,
			State:        c.Node.Clone(),
			ValidFrom:    c.At,
			ChangeReason: c.Reason,
		})
	}
}

// History returns a copy of every version of entityID, oldest first.
func (t *Tracker) History(entityID string) []VersionedNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	hist := t.versions[entityID]
	out := make([]VersionedNode, len(hist))
	for i := range hist {
		out[i] = hist[i].clone()
	}
	return out
}

// Len returns the number of tracked entity IDs, removed ones included.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.versions)
}

// Query returns every version matching c.
//
// Description:
//
//	Each version is tested on its own validity interval, so results
//	carry the properties as they were then, not the current state. An
//	entity can contribute several versions to interval queries.
//
// Outputs:
//   - []TemporalResult: Sorted by entity ID then version. Empty, never
//     nil, when nothing matches.
//   - error: ValidationError if c is malformed.
func (t *Tracker) Query(ctx context.Context, c Constraint) ([]TemporalResult, error) {
	_, span := tracer.Start(ctx, "Tracker.Query")
	defer span.End()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("temporal.kind", string(c.Kind)))

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := []TemporalResult{}
	for _, id := range slices.Sorted(maps.Keys(t.versions)) {
		for i := range t.versions[id] {
			v := &t.versions[id][i]
			if !c.Matches(v.ValidFrom, v.ValidTo) {
				continue
			}
			out = append(out, TemporalResult{
				EntityID:           id,
				NodeType:           v.State.Type,
				Version:            v.Version,
				ValidPeriod:        TemporalRange{Start: v.ValidFrom, End: v.ValidTo},
				PropertiesSnapshot: v.State.Properties.Clone(),
			})
		}
	}
	span.SetAttributes(attribute.Int("temporal.results", len(out)))
	return out, nil
}

// Export returns a deep copy of the full history for snapshotting.
func (t *Tracker) Export() map[string][]VersionedNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string][]VersionedNode, len(t.versions))
	for id, hist := range t.versions {
		cp := make([]VersionedNode, len(hist))
		for i := range hist {
			cp[i] = hist[i].clone()
		}
		out[id] = cp
	}
	return out
}

// Import replaces the history with h.
//
// Versions are renumbered and ordered by ValidFrom so a hand-edited
// snapshot cannot break the append-only numbering.
func (t *Tracker) Import(h map[string][]VersionedNode) {
	next := make(map[string][]VersionedNode, len(h))
	for id, hist := range h {
		cp := make([]VersionedNode, len(hist))
		for i := range hist {
			cp[i] = hist[i].clone()
		}
		slices.SortStableFunc(cp, func(a, b VersionedNode) int {
			return a.ValidFrom.Compare(b.ValidFrom)
		})
		for i := range cp {
			cp[i].Version = i + 1
		}
		next[id] = cp
	}

	t.mu.Lock()
	t.versions = next
	t.mu.Unlock()
	t.logger.Info("temporal history restored", slog.Int("entities", len(next)))
}

// =============================================================================
// Constraints
// =============================================================================

// ConstraintKind selects how a Constraint matches a version interval.
type ConstraintKind string

const (
	// KindAtTime matches versions valid at instant At.
	KindAtTime ConstraintKind = "at_time"

	// KindDuringPeriod matches versions valid for the whole of
	// [Start, End).
	KindDuringPeriod ConstraintKind = "during_period"

	// KindBefore matches versions that began before At.
	KindBefore ConstraintKind = "before"

	// KindAfter matches versions still valid at some point after At.
	KindAfter ConstraintKind = "after"

	// KindOverlapping matches versions intersecting [Start, End). A zero
	// End leaves the range open.
	KindOverlapping ConstraintKind = "overlapping"
)

// Constraint is a temporal query predicate.
type Constraint struct {
	Kind  ConstraintKind `json:"kind" validate:"required,oneof=at_time during_period before after overlapping"`
	At    time.Time      `json:"at,omitempty"`
	Start time.Time      `json:"start,omitempty"`
	End   time.Time      `json:"end,omitempty"`
}

// AtTime matches versions valid at t.
func AtTime(t time.Time) Constraint { return Constraint{Kind: KindAtTime, At: t} }

// DuringPeriod matches versions valid throughout [start, end).
func DuringPeriod(start, end time.Time) Constraint {
	return Constraint{Kind: KindDuringPeriod, Start: start, End: end}
}

// Before matches versions that began before t.
func Before(t time.Time) Constraint { return Constraint{Kind: KindBefore, At: t} }

// After matches versions valid at some point after t.
func After(t time.Time) Constraint { return Constraint{Kind: KindAfter, At: t} }

// OverlappingWith matches versions intersecting r.
func OverlappingWith(r TemporalRange) Constraint {
	c := Constraint{Kind: KindOverlapping, Start: r.Start}
	if r.End != nil {
		c.End = *r.End
	}
	return c
}

// Validate checks that the fields required by Kind are set and ordered.
func (c Constraint) Validate() error {
	if err := validate.Struct(c); err != nil {
		return &graph.ValidationError{Field: "kind", Value: string(c.Kind), Reason: strings.TrimSpace(err.Error())}
	}
	switch c.Kind {
	case KindAtTime, KindBefore, KindAfter:
		if c.At.IsZero() {
			return &graph.ValidationError{Field: "at", Reason: "required for " + string(c.Kind)}
		}
	case KindDuringPeriod:
		if c.Start.IsZero() || c.End.IsZero() {
			return &graph.ValidationError{Field: "start", Reason: "start and end required for during_period"}
		}
		if c.End.Before(c.Start) {
			return &graph.ValidationError{Field: "end", Reason: "must not precede start"}
		}
	case KindOverlapping:
		if c.Start.IsZero() {
			return &graph.ValidationError{Field: "start", Reason: "required for overlapping"}
		}
		if !c.End.IsZero() && c.End.Before(c.Start) {
			return &graph.ValidationError{Field: "end", Reason: "must not precede start"}
		}
	}
	return nil
}

// Matches reports whether the interval [from, to) satisfies c. A nil to is
// open-ended.
func (c Constraint) Matches(from time.Time, to *time.Time) bool {
	switch c.Kind {
	case KindAtTime:
		return !from.After(c.At) && (to == nil || c.At.Before(*to))
	case KindDuringPeriod:
		return !from.After(c.Start) && (to == nil || !to.Before(c.End))
	case KindBefore:
		return from.Before(c.At)
	case KindAfter:
		return to == nil || to.After(c.At)
	case KindOverlapping:
		startsInRange := c.End.IsZero() || from.Before(c.End)
		endsAfterStart := to == nil || to.After(c.Start)
		return startsInRange && endsAfterStart
	}
	return false
}
