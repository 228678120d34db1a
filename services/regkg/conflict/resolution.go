// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conflict

import (
	"slices"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
)

// byRelationship holds the resolution advice for each relationship type
// seen along a conflict.
var byRelationship = map[graph.RelationshipType][]string{
	graph.RelConflictsWith: {
		"Establish which provision takes precedence",
		"Request interpretive guidance from the issuing authorities",
	},
	graph.RelContradicts: {
		"Harmonize through policy alignment",
		"Document a risk-based choice between the contradicting obligations",
	},
	graph.RelSupersedes: {
		"Confirm which version is in force and retire the superseded provision",
	},
	graph.RelGoverns: {
		"Clarify the jurisdictional scope of each governing authority",
	},
	graph.RelRequires: {
		"Sequence compliance work so prerequisites are satisfied first",
	},
	graph.RelExempts: {
		"Verify the exemption conditions still apply",
	},
	graph.RelProhibits: {
		"Check whether the prohibited activity is required elsewhere",
	},
}

// byKind holds advice that depends on how a conflict was found.
var byKind = map[Kind][]string{
	KindSemantic: {
		"Consolidate the overlapping mandatory requirements into one control",
	},
	KindTemporal: {
		"Re-review the target provision against the later effective date",
	},
	KindAuthority: {
		"Resolve the mutual precedence claim with the issuing authorities",
	},
}

const fallbackSuggestion = "Review the related provisions manually"

// suggestions returns de-duplicated advice for a conflict, kind-specific
// advice first. Never empty.
func suggestions(kind Kind, rels ...graph.RelationshipType) []string {
	var out []string
	add := func(items []string) {
		for _, s := range items {
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	add(byKind[kind])
	for _, rel := range rels {
		add(byRelationship[rel])
	}
	if len(out) == 0 {
		out = append(out, fallbackSuggestion)
	}
	return out
}
