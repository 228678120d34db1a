// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_Dimensions(t *testing.T) {
	assert.Equal(t, DefaultDimensions, NewHashEmbedder(0).Dimensions())
	assert.Equal(t, 16, NewHashEmbedder(16).Dimensions())

	vec := NewHashEmbedder(0).Embed("data protection regulation")
	assert.Len(t, vec, DefaultDimensions)
}

func TestHashEmbedder_UnitLength(t *testing.T) {
	e := NewHashEmbedder(DefaultDimensions)
	vec := e.Embed("General Data Protection Regulation personal data")
	assert.InDelta(t, 1.0, Norm(vec), 1e-12)
}

func TestHashEmbedder_EmptyTextIsZero(t *testing.T) {
	vec := NewHashEmbedder(8).Embed("   ")
	require.Len(t, vec, 8)
	for _, x := range vec {
		assert.Zero(t, x)
	}
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(DefaultDimensions)
	assert.Equal(t, e.Embed("privacy notice"), e.Embed("privacy notice"))
}

func TestHashEmbedder_PositionWeighting(t *testing.T) {
	// A single-token text puts all mass into one bucket.
	e := NewHashEmbedder(DefaultDimensions)
	vec := e.Embed("audit")
	assert.Equal(t, 1.0, vec[bucket("audit", DefaultDimensions)])

	// Two distinct tokens contribute 1 and 1/2 before normalization.
	a, b := bucket("audit", DefaultDimensions), bucket("trail", DefaultDimensions)
	if a != b {
		vec = e.Embed("audit trail")
		assert.InDelta(t, 2.0, vec[a]/vec[b], 1e-12)
	}
}

func TestBucket_KnownValue(t *testing.T) {
	// "ab" = 97*31 + 98 = 3105; 3105 mod 128 = 33.
	assert.Equal(t, 33, bucket("ab", 128))
}

func TestCosineSimilarity(t *testing.T) {
	v := []float64{0.3, 0.1, 2.5, -1}
	zero := []float64{0, 0, 0, 0}

	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"self", v, v, 1.0},
		{"zero vector", v, zero, 0.0},
		{"length mismatch", v, []float64{1, 2}, 0.0},
		{"empty", nil, nil, 0.0},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0.0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CosineSimilarity(tt.a, tt.b))
		})
	}
}

func TestCosineSimilarity_SelfIsExactForEmbeddings(t *testing.T) {
	e := NewHashEmbedder(DefaultDimensions)
	for _, text := range []string{
		"one",
		"Mandatory breach notification within 72 hours",
		"Anti money laundering customer due diligence record keeping",
	} {
		vec := e.Embed(text)
		assert.Equal(t, 1.0, CosineSimilarity(vec, vec), text)
	}
}

func TestNormalize_Zero(t *testing.T) {
	v := []float64{0, 0}
	assert.Equal(t, []float64{0, 0}, Normalize(v))
	assert.False(t, math.IsNaN(Normalize(v)[0]))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"data", "protection", "gdpr"}, Tokens("Data (Protection) GDPR."))
}
