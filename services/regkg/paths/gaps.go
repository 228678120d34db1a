// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package paths

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/embedding"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"go.opentelemetry.io/otel/attribute"
)

// GapType classifies a regulatory gap.
type GapType string

const (
	GapJurisdictionalCoverage GapType = "JurisdictionalCoverage"
	GapTemporal               GapType = "TemporalGap"
	GapRequirement            GapType = "RequirementGap"
	GapEnforcement            GapType = "EnforcementGap"
	GapCompliance             GapType = "ComplianceGap"
)

const (
	// OverlapSimilarity is the exclusive embedding similarity above which
	// two unlinked frameworks are treated as covering the same ground.
	OverlapSimilarity = 0.7

	// defaultGapSeverity applies to frameworks without requirements.
	defaultGapSeverity = 0.7
)

// RegulatoryGap is a coverage, enforcement or lifecycle hole.
type RegulatoryGap struct {
	GapType           GapType `json:"gap_type"`
	AffectedFramework string  `json:"affected_framework"`
	Description       string  `json:"description"`
	Severity          float64 `json:"severity"`
	RecommendedAction string  `json:"recommended_action"`
}

// DetectRegulatoryGaps looks for holes in a jurisdiction's coverage.
//
// Description:
//
//	Frameworks are Framework nodes. A framework belongs to a sector when
//	its sector property or one of its tags matches, and to a
//	jurisdiction when its jurisdiction property matches, both
//	case-insensitively. Checks:
//
//	  - JurisdictionalCoverage: a sector framework that no jurisdiction
//	    framework overlaps. Two frameworks overlap when they are the
//	    same node, are linked by an edge, or have embedding similarity
//	    above OverlapSimilarity. Skipped when sector is empty.
//	  - EnforcementGap: a jurisdiction framework with no Enforces or
//	    Governs edge from an Authority node.
//	  - TemporalGap: an expired jurisdiction framework that nothing
//	    supersedes.
//	  - RequirementGap: a jurisdiction framework without requirements.
//	  - ComplianceGap: mandatory requirements of a jurisdiction framework
//	    that nothing Implements or Validates.
//
// Outputs:
//   - []RegulatoryGap: Sorted by descending severity, then framework and
//     gap type. Empty, never nil, when nothing is found.
//   - error: ValidationError when jurisdiction is empty.
func (f *Finder) DetectRegulatoryGaps(ctx context.Context, jurisdiction, sector string) ([]RegulatoryGap, error) {
	ctx, span := tracer.Start(ctx, "Finder.DetectRegulatoryGaps")
	defer span.End()

	if strings.TrimSpace(jurisdiction) == "" {
		return nil, &graph.ValidationError{Field: "jurisdiction", Reason: "must not be empty"}
	}
	now := f.clock()

	gaps := []RegulatoryGap{}
	err := f.g.View(ctx, func(r graph.Reader) error {
		var inSector, inJurisdiction []graph.NodeRef
		for ref, n := range r.Nodes() {
			if n.Type != graph.NodeTypeFramework {
				continue
			}
			if sector != "" && matchesSector(n, sector) {
				inSector = append(inSector, ref)
			}
			if j, _ := n.Properties.String("jurisdiction"); strings.EqualFold(j, jurisdiction) {
				inJurisdiction = append(inJurisdiction, ref)
			}
		}

		for _, sf := range inSector {
			if slices.ContainsFunc(inJurisdiction, func(jf graph.NodeRef) bool { return overlaps(r, sf, jf) }) {
				continue
			}
			n, _ := r.Node(sf)
			gaps = append(gaps, RegulatoryGap{
				GapType:           GapJurisdictionalCoverage,
				AffectedFramework: n.ID,
				Description:       fmt.Sprintf("Sector framework %s not covered in jurisdiction %s", n.ID, jurisdiction),
				Severity:          gapSeverity(r, sf),
				RecommendedAction: "Implement jurisdiction-specific compliance framework",
			})
		}

		for _, jf := range inJurisdiction {
			if err := ctx.Err(); err != nil {
				return err
			}
			gaps = append(gaps, frameworkGaps(r, jf, now)...)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	slices.SortFunc(gaps, func(a, b RegulatoryGap) int {
		if c := cmp.Compare(b.Severity, a.Severity); c != 0 {
			return c
		}
		if c := cmp.Compare(a.AffectedFramework, b.AffectedFramework); c != 0 {
			return c
		}
		return cmp.Compare(a.GapType, b.GapType)
	})
	span.SetAttributes(attribute.Int("gaps.count", len(gaps)))
	return gaps, nil
}

// frameworkGaps runs the per-framework checks for a jurisdiction framework.
func frameworkGaps(r graph.Reader, fw graph.NodeRef, now time.Time) []RegulatoryGap {
	n, _ := r.Node(fw)
	var gaps []RegulatoryGap

	enforced := false
	superseded := false
	for _, ev := range r.InEdges(fw) {
		switch ev.Edge.Relationship {
		case graph.RelEnforces, graph.RelGoverns:
			if src, ok := r.Node(ev.From); ok && src.Type == graph.NodeTypeAuthority {
				enforced = true
			}
		case graph.RelSupersedes:
			superseded = true
		}
	}
	if !enforced {
		gaps = append(gaps, RegulatoryGap{
			GapType:           GapEnforcement,
			AffectedFramework: n.ID,
			Description:       fmt.Sprintf("Framework %s has no enforcing authority", n.ID),
			Severity:          gapSeverity(r, fw),
			RecommendedAction: "Designate a supervisory authority responsible for enforcement",
		})
	}

	if exp, ok := n.Properties.Time("expiration_date"); ok && exp.Before(now) && !superseded {
		gaps = append(gaps, RegulatoryGap{
			GapType:           GapTemporal,
			AffectedFramework: n.ID,
			Description:       fmt.Sprintf("Framework %s expired on %s with no successor", n.ID, exp.Format("2006-01-02")),
			Severity:          gapSeverity(r, fw),
			RecommendedAction: "Adopt a successor framework or formally extend the expired one",
		})
	}

	reqs := requirementsOf(r, fw)
	if len(reqs) == 0 {
		gaps = append(gaps, RegulatoryGap{
			GapType:           GapRequirement,
			AffectedFramework: n.ID,
			Description:       fmt.Sprintf("Framework %s defines no requirements", n.ID),
			Severity:          defaultGapSeverity,
			RecommendedAction: "Define concrete requirements for the framework",
		})
		return gaps
	}

	var mandatory, unaddressed int
	for _, req := range reqs {
		rn, _ := r.Node(req)
		if !rn.Mandatory() {
			continue
		}
		mandatory++
		if !implemented(r, req) {
			unaddressed++
		}
	}
	if unaddressed > 0 {
		gaps = append(gaps, RegulatoryGap{
			GapType:           GapCompliance,
			AffectedFramework: n.ID,
			Description:       fmt.Sprintf("%d of %d mandatory requirements of %s have no implementing control", unaddressed, mandatory, n.ID),
			Severity:          float64(unaddressed) / float64(mandatory),
			RecommendedAction: "Map controls or evidence to each mandatory requirement",
		})
	}
	return gaps
}

func implemented(r graph.Reader, req graph.NodeRef) bool {
	for _, ev := range r.InEdges(req) {
		if rel := ev.Edge.Relationship; rel == graph.RelImplements || rel == graph.RelValidates {
			return true
		}
	}
	return false
}

// gapSeverity weights a framework's gaps by the share of its requirements
// that are mandatory.
func gapSeverity(r graph.Reader, fw graph.NodeRef) float64 {
	reqs := requirementsOf(r, fw)
	if len(reqs) == 0 {
		return defaultGapSeverity
	}
	mandatory := 0
	for _, req := range reqs {
		if n, _ := r.Node(req); n.Mandatory() {
			mandatory++
		}
	}
	return 0.4 + 0.6*float64(mandatory)/float64(len(reqs))
}

func matchesSector(n *graph.KnowledgeNode, sector string) bool {
	if s, _ := n.Properties.String("sector"); strings.EqualFold(s, sector) {
		return true
	}
	return slices.ContainsFunc(n.Properties.Strings("tags"), func(tag string) bool {
		return strings.EqualFold(tag, sector)
	})
}

func overlaps(r graph.Reader, a, b graph.NodeRef) bool {
	if a == b || r.Connected(a, b) {
		return true
	}
	na, _ := r.Node(a)
	nb, _ := r.Node(b)
	return embedding.CosineSimilarity(na.Embedding, nb.Embedding) > OverlapSimilarity
}
