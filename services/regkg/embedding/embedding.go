// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding turns regulatory text into fixed-size vectors and
// compares them.
//
// The default HashEmbedder is a deterministic bag-of-positions model: it is
// not a learned embedding, and similarity between two texts only reflects
// shared tokens and their order of appearance. It exists so the graph can
// answer nearest-neighbour queries without an external model server.
//
// # Thread Safety
//
// HashEmbedder is stateless and safe for concurrent use.
package embedding

import (
	"math"
	"strings"
)

// DefaultDimensions is the vector length produced by NewHashEmbedder.
const DefaultDimensions = 128

// Embedder converts text into a vector.
//
// Implementations must return vectors of exactly Dimensions() length and
// must be deterministic for the same input.
type Embedder interface {
	Embed(text string) []float64
	Dimensions() int
}

// HashEmbedder hashes whitespace-separated tokens into buckets.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a HashEmbedder with the given dimensionality.
//
// Inputs:
//   - dims: Vector length. Values <= 0 fall back to DefaultDimensions.
//
// Outputs:
//   - *HashEmbedder: Never nil.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the vector length.
func (h *HashEmbedder) Dimensions() int {
	return h.dims
}

// Embed computes the text embedding.
//
// Description:
//
//	Tokenizes on whitespace. The token at position i is hashed into a
//	bucket in [0, dims) and contributes 1/(i+1) to it, so earlier tokens
//	weigh more. The result is L2-normalized. An empty text yields the
//	zero vector, which is returned unnormalized.
//
// Inputs:
//   - text: Arbitrary text. Case is preserved.
//
// Outputs:
//   - []float64: Vector of length Dimensions().
func (h *HashEmbedder) Embed(text string) []float64 {
	vec := make([]float64, h.dims)
	for i, tok := range strings.Fields(text) {
		vec[bucket(tok, h.dims)] += 1.0 / float64(i+1)
	}
	return Normalize(vec)
}

// bucket hashes a token with the 31-multiplier string hash.
//
// Overflow wraps, matching the unsigned arithmetic the hash is defined on.
func bucket(token string, dims int) int {
	var acc uint64
	for _, r := range token {
		acc = acc*31 + uint64(r)
	}
	return int(acc % uint64(dims))
}

// Normalize scales v to unit length in place and returns it.
//
// A zero vector is returned unchanged.
func Normalize(v []float64) []float64 {
	n := Norm(v)
	if n == 0 {
		return v
	}
	for i := range v {
		v[i] /= n
	}
	return v
}

// Norm returns the Euclidean length of v.
func Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns the cosine of the angle between a and b.
//
// Description:
//
//	Standard dot(a,b) / (|a||b|). Returns 0.0 when the lengths differ or
//	either vector has zero norm. The result is clamped to [-1, 1] to absorb
//	floating point drift, so CosineSimilarity(v, v) is exactly 1.0 for any
//	nonzero v.
//
// Thread Safety: Safe for concurrent use.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0.0
	}

	// sqrt(x*x) == x under IEEE rounding, which keeps self-similarity exact.
	sim := dot / math.Sqrt(na*nb)
	switch {
	case sim > 1:
		return 1
	case sim < -1:
		return -1
	}
	return sim
}

// Tokens returns the lower-cased whitespace tokens of text.
//
// Used for keyword overlap checks alongside vector similarity.
func Tokens(text string) []string {
	fields := strings.Fields(text)
	for i, f := range fields {
		fields[i] = strings.ToLower(strings.Trim(f, ".,;:!?\"'()[]"))
	}
	return fields
}
