// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"fmt"
	"math"
	"strings"
)

// Propagator combines premise confidences into a conclusion confidence.
//
// Implementations must return a value in [0, 1] for inputs in [0, 1] and
// 0 for an empty input.
type Propagator interface {
	Name() string
	Combine(confidences []float64) float64
}

// Multiplicative treats premises as independent: the product.
type Multiplicative struct{}

func (Multiplicative) Name() string { return "multiplicative" }

func (Multiplicative) Combine(cs []float64) float64 {
	if len(cs) == 0 {
		return 0
	}
	p := 1.0
	for _, c := range cs {
		p *= c
	}
	return p
}

// Minimum takes the weakest premise.
type Minimum struct{}

func (Minimum) Name() string { return "minimum" }

func (Minimum) Combine(cs []float64) float64 {
	if len(cs) == 0 {
		return 0
	}
	m := cs[0]
	for _, c := range cs[1:] {
		m = math.Min(m, c)
	}
	return m
}

// WeightedAverage averages premises weighted by their own confidence, so
// strong premises dominate: sum(c^2) / sum(c).
type WeightedAverage struct{}

func (WeightedAverage) Name() string { return "weighted_average" }

func (WeightedAverage) Combine(cs []float64) float64 {
	var num, den float64
	for _, c := range cs {
		num += c * c
		den += c
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Bayesian starts from even prior odds and multiplies in each premise as a
// likelihood ratio c/(1-c).
type Bayesian struct{}

const bayesEpsilon = 1e-9

func (Bayesian) Name() string { return "bayesian" }

func (Bayesian) Combine(cs []float64) float64 {
	if len(cs) == 0 {
		return 0
	}
	logOdds := 0.0
	for _, c := range cs {
		c = math.Min(math.Max(c, bayesEpsilon), 1-bayesEpsilon)
		logOdds += math.Log(c / (1 - c))
	}
	return 1 / (1 + math.Exp(-logOdds))
}

// ParsePropagator maps a configuration name to a strategy.
func ParsePropagator(name string) (Propagator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "multiplicative":
		return Multiplicative{}, nil
	case "minimum", "min":
		return Minimum{}, nil
	case "", "weighted_average", "weighted-average":
		return WeightedAverage{}, nil
	case "bayesian":
		return Bayesian{}, nil
	}
	return nil, fmt.Errorf("unknown propagation strategy %q", name)
}
