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
	"slices"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/embedding"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// SimilarityThreshold is the exclusive lower bound for search hits.
	SimilarityThreshold = 0.5

	// DefaultSearchLimit is used when the caller passes limit <= 0.
	DefaultSearchLimit = 10

	// MaxSearchLimit caps the number of results.
	MaxSearchLimit = 1000
)

// SemanticSearchResult is one semantic search hit.
type SemanticSearchResult struct {
	EntityID           string     `json:"entity_id"`
	SimilarityScore    float64    `json:"similarity_score"`
	NodeType           NodeType   `json:"node_type"`
	RelevantProperties Properties `json:"relevant_properties"`
}

// SemanticSearch returns the nodes most similar to query.
//
// Description:
//
//	Embeds the query with the graph's embedder and compares it against
//	every node embedding. This is a brute-force O(V) scan without an
//	approximate nearest-neighbour index, adequate for tens of thousands
//	of nodes. Hits must score strictly above SimilarityThreshold and are
//	sorted by descending similarity, ties broken by entity ID.
//
// Inputs:
//   - ctx: Context for tracing and cancellation.
//   - query: Free text.
//   - limit: Maximum results. Clamped to [1, MaxSearchLimit]; <= 0 selects
//     DefaultSearchLimit.
//
// Outputs:
//   - []SemanticSearchResult: Hits, possibly empty. Never nil.
//   - error: ctx.Err() if cancelled during the scan.
//
// Thread Safety: Safe for concurrent use. Holds the read lock.
func (g *Graph) SemanticSearch(ctx context.Context, query string, limit int) ([]SemanticSearchResult, error) {
	ctx, span := tracer.Start(ctx, "Graph.SemanticSearch")
	defer span.End()
	start := time.Now()
	defer func() { recordQueryMetrics(ctx, "semantic_search", time.Since(start)) }()

	switch {
	case limit <= 0:
		limit = DefaultSearchLimit
	case limit > MaxSearchLimit:
		limit = MaxSearchLimit
	}

	qvec := g.queryCache.GetOrCompute(query, func() []float64 {
		return g.embedder.Embed(query)
	})
	qtokens := embedding.Tokens(query)

	results := make([]SemanticSearchResult, 0, limit)
	err := g.View(ctx, func(r Reader) error {
		scanned := 0
		for _, n := range r.Nodes() {
			scanned++
			if scanned%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			sim := embedding.CosineSimilarity(qvec, n.Embedding)
			if sim <= SimilarityThreshold {
				continue
			}
			results = append(results, SemanticSearchResult{
				EntityID:           n.ID,
				SimilarityScore:    sim,
				NodeType:           n.Type,
				RelevantProperties: relevantProperties(n, qtokens),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b SemanticSearchResult) int {
		switch {
		case a.SimilarityScore > b.SimilarityScore:
			return -1
		case a.SimilarityScore < b.SimilarityScore:
			return 1
		}
		return strings.Compare(a.EntityID, b.EntityID)
	})
	if len(results) > limit {
		results = results[:limit]
	}

	span.SetAttributes(attribute.Int("search.results", len(results)))
	return results, nil
}

// relevantProperties selects the title plus every string or list property
// sharing a token with the query.
func relevantProperties(n *KnowledgeNode, qtokens []string) Properties {
	out := Properties{}
	if title, ok := n.Properties.String("title"); ok {
		out["title"] = title
	}
	if len(qtokens) == 0 {
		return out
	}
	for k, v := range n.Properties {
		if _, done := out[k]; done {
			continue
		}
		var text string
		switch x := v.(type) {
		case string:
			text = x
		case []any:
			text = strings.Join(n.Properties.Strings(k), " ")
		default:
			continue
		}
		for _, tok := range embedding.Tokens(text) {
			if tok != "" && slices.Contains(qtokens, tok) {
				out[k] = cloneValue(v)
				break
			}
		}
	}
	return out
}
