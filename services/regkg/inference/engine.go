// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inference derives new relationships from rule patterns over the
// knowledge graph.
package inference

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/cache"
	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.regkg.inference")

const (
	// DefaultReasoningDepth is the number of derivation rounds.
	DefaultReasoningDepth = 3

	// MaxReasoningDepth caps WithReasoningDepth.
	MaxReasoningDepth = 10

	// DefaultMaxFacts bounds the facts derived by one Infer call.
	DefaultMaxFacts = 10_000

	// EvidencePrefix marks edges written by Apply.
	EvidencePrefix = "inferred:"
)

// =============================================================================
// Results
// =============================================================================

// InferredFact is a derived (subject, predicate, object) triple.
type InferredFact struct {
	Subject            string                 `json:"subject"`
	Predicate          graph.RelationshipType `json:"predicate"`
	Object             string                 `json:"object"`
	Confidence         float64                `json:"confidence"`
	SupportingEvidence []string               `json:"supporting_evidence"`
	RuleID             string                 `json:"rule_id"`
}

// ReasoningStep records one rule application.
type ReasoningStep struct {
	StepID           int      `json:"step_id"`
	Round            int      `json:"round"`
	AppliedRule      string   `json:"applied_rule"`
	PremiseNodes     []string `json:"premise_nodes"`
	ConclusionNode   string   `json:"conclusion_node"`
	ConfidenceChange float64  `json:"confidence_change"`
}

// InferenceResult is the outcome of one Infer call.
type InferenceResult struct {
	Facts []InferredFact `json:"inferred_facts"`

	// ConfidenceScore is the mean fact confidence, 0 with no facts.
	ConfidenceScore float64         `json:"confidence_score"`
	ReasoningChain  []ReasoningStep `json:"reasoning_chain"`
	ComputedAt      time.Time       `json:"computed_at"`
	Revision        uint64          `json:"revision"`
	Rounds          int             `json:"rounds"`
	Truncated       bool            `json:"truncated,omitempty"`
}

func (r InferenceResult) clone() InferenceResult {
	r.Facts = slices.Clone(r.Facts)
	r.ReasoningChain = slices.Clone(r.ReasoningChain)
	return r
}

// =============================================================================
// Engine
// =============================================================================

// Option configures an Engine.
type Option func(*Engine)

// WithReasoningDepth sets the number of derivation rounds. A fact needing
// k chained derivations appears in round k.
func WithReasoningDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.depth = min(n, MaxReasoningDepth)
		}
	}
}

// WithPropagator selects the confidence propagation strategy.
func WithPropagator(p Propagator) Option {
	return func(e *Engine) {
		if p != nil {
			e.prop = p
		}
	}
}

// WithOntology replaces the embedded default ontology.
func WithOntology(o *Ontology) Option {
	return func(e *Engine) {
		if o != nil {
			e.ont = o
		}
	}
}

// WithCacheSize bounds the per-revision result cache. Zero disables it.
func WithCacheSize(n int) Option {
	return func(e *Engine) { e.cacheSize = n }
}

// WithMaxFacts bounds the facts derived per call.
func WithMaxFacts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxFacts = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine applies an ontology's rules to a graph.
//
// Thread Safety: Safe for concurrent use. Infer holds the graph read lock;
// Apply takes the write lock.
type Engine struct {
	g         *graph.Graph
	ont       *Ontology
	prop      Propagator
	depth     int
	maxFacts  int
	cacheSize int
	cache     *cache.LRU[uint64, InferenceResult]
	logger    *slog.Logger
}

// NewEngine creates an engine over g.
//
// Outputs:
//   - *Engine: The engine.
//   - error: Non-nil if no ontology was given and the embedded default
//     fails to parse.
func NewEngine(g *graph.Graph, opts ...Option) (*Engine, error) {
	e := &Engine{
		g:         g,
		prop:      WeightedAverage{},
		depth:     DefaultReasoningDepth,
		maxFacts:  DefaultMaxFacts,
		cacheSize: 16,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ont == nil {
		o, err := DefaultOntology()
		if err != nil {
			return nil, fmt.Errorf("loading default ontology: %w", err)
		}
		e.ont = o
	}
	if e.cacheSize > 0 {
		e.cache = cache.NewLRU[uint64, InferenceResult](e.cacheSize)
	}
	e.logger = e.logger.With(slog.String("component", "regkg.inference"))
	return e, nil
}

// Propagator returns the configured strategy.
func (e *Engine) Propagator() Propagator {
	return e.prop
}

// Infer derives facts from the current graph state.
//
// Description:
//
//	Stored edges seed the fact base. Undirected and Bidirectional edges
//	also seed their reverse triple. Each round matches every rule against
//	all known facts and adds the conclusions found, so round k can use
//	facts from round k-1. Rounds stop at the reasoning depth or when a
//	round adds nothing. A conclusion is dropped when it is a self-loop
//	on a non-reflexive relationship, when its subject violates the
//	relationship's domain, when the rule condition is false, when its
//	propagated confidence is below the rule threshold, or when a stored
//	edge already states it. A triple derived twice keeps the higher
//	confidence. Results are cached per graph revision.
//
// Outputs:
//   - InferenceResult: Facts sorted by subject, predicate, object.
//   - error: ctx.Err() on cancellation.
func (e *Engine) Infer(ctx context.Context) (InferenceResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Infer")
	defer span.End()
	start := time.Now()

	rev := e.g.Revision()
	if e.cache != nil {
		if res, ok := e.cache.Get(rev); ok {
			inferenceCacheHits.Inc()
			span.SetAttributes(attribute.Bool("inference.cached", true))
			return res.clone(), nil
		}
	}

	var res InferenceResult
	err := e.g.View(ctx, func(r graph.Reader) error {
		p := newPass(e, r)
		var err error
		res, err = p.infer(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return InferenceResult{}, err
	}

	if e.cache != nil && res.Revision == e.g.Revision() {
		e.cache.Set(res.Revision, res.clone())
	}
	elapsed := time.Since(start)
	recordInference(elapsed, len(res.Facts))
	span.SetAttributes(
		attribute.Int("inference.facts", len(res.Facts)),
		attribute.Int("inference.rounds", res.Rounds),
	)
	e.logger.Debug("inference complete",
		slog.Int("facts", len(res.Facts)),
		slog.Int("rounds", res.Rounds),
		slog.String("propagation", e.prop.Name()),
		slog.Duration("duration", elapsed))
	return res, nil
}

// pass is the state of one Infer call.
type pass struct {
	e        *Engine
	r        graph.Reader
	fb       *factBase
	rules    map[tripleKey]string
	evidence map[tripleKey][]string
	vars     map[string]map[string]any
}

func newPass(e *Engine, r graph.Reader) *pass {
	p := &pass{
		e:        e,
		r:        r,
		fb:       newFactBase(),
		rules:    make(map[tripleKey]string),
		evidence: make(map[tripleKey][]string),
		vars:     make(map[string]map[string]any),
	}
	for ev := range r.Edges() {
		from, _ := r.Node(ev.From)
		to, _ := r.Node(ev.To)
		p.fb.add(fact{subject: from.ID, predicate: ev.Edge.Relationship, object: to.ID, confidence: ev.Edge.Confidence})
		if ev.Edge.Directionality.BothWays() {
			p.fb.add(fact{subject: to.ID, predicate: ev.Edge.Relationship, object: from.ID, confidence: ev.Edge.Confidence})
		}
	}
	return p
}

// candidate is a conclusion awaiting the end of its round.
type candidate struct {
	rule     *Rule
	fact     fact
	premises []*fact
}

func (c *candidate) premiseNodes() []string {
	var out []string
	for _, p := range c.premises {
		for _, id := range []string{p.subject, p.object} {
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	return out
}

func (c *candidate) supportingEvidence() []string {
	out := make([]string, len(c.premises))
	for i, p := range c.premises {
		out[i] = p.String()
	}
	return out
}

func (p *pass) infer(ctx context.Context) (InferenceResult, error) {
	res := InferenceResult{
		ComputedAt: time.Now().UTC(),
		Revision:   p.r.Revision(),
	}
	var derived []*fact
	step := 0

	for round := 1; round <= p.e.depth; round++ {
		if err := ctx.Err(); err != nil {
			return InferenceResult{}, err
		}

		// Conclusions are collected first and added after the round so
		// every rule in a round sees the same fact base.
		pending := map[tripleKey]*candidate{}
		var order []tripleKey
		for _, rule := range p.e.ont.rules {
			for _, m := range rule.matches(p.fb, p.e.maxFacts) {
				c, ok := p.conclude(rule, m)
				if !ok {
					continue
				}
				k := c.fact.key()
				if cur, seen := pending[k]; seen {
					if c.fact.confidence > cur.fact.confidence {
						pending[k] = c
					}
					continue
				}
				pending[k] = c
				order = append(order, k)
			}
		}
		if len(pending) == 0 {
			break
		}
		res.Rounds = round

		for _, k := range order {
			c := pending[k]
			prev := 0.0
			cur, known := p.fb.get(k)
			if known {
				prev = cur.confidence
			} else if len(derived) >= p.e.maxFacts {
				res.Truncated = true
				continue
			}
			stored := p.fb.add(c.fact)
			if !known {
				derived = append(derived, stored)
			}
			p.rules[k] = c.rule.ID
			p.evidence[k] = c.supportingEvidence()
			step++
			res.ReasoningChain = append(res.ReasoningChain, ReasoningStep{
				StepID:           step,
				Round:            round,
				AppliedRule:      c.rule.ID,
				PremiseNodes:     c.premiseNodes(),
				ConclusionNode:   c.fact.String(),
				ConfidenceChange: c.fact.confidence - prev,
			})
		}
		if res.Truncated {
			p.e.logger.Warn("inference truncated",
				slog.Int("max_facts", p.e.maxFacts),
				slog.Int("round", round))
			break
		}
	}

	res.Facts = make([]InferredFact, 0, len(derived))
	total := 0.0
	for _, f := range derived {
		k := f.key()
		total += f.confidence
		res.Facts = append(res.Facts, InferredFact{
			Subject:            f.subject,
			Predicate:          f.predicate,
			Object:             f.object,
			Confidence:         f.confidence,
			SupportingEvidence: p.evidence[k],
			RuleID:             p.rules[k],
		})
	}
	if len(res.Facts) > 0 {
		res.ConfidenceScore = total / float64(len(res.Facts))
	}
	slices.SortFunc(res.Facts, func(a, b InferredFact) int {
		if c := cmp.Compare(a.Subject, b.Subject); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Predicate, b.Predicate); c != 0 {
			return c
		}
		return cmp.Compare(a.Object, b.Object)
	})
	return res, nil
}

// conclude instantiates rule's conclusion for m and applies the filters.
func (p *pass) conclude(rule *Rule, m match) (*candidate, bool) {
	subj := resolve(rule.Conclusion.Subject, m.binding)
	obj := resolve(rule.Conclusion.Object, m.binding)
	pred := rule.Conclusion.Predicate
	meta := p.e.ont.Meta(pred)

	if subj == obj && (meta == nil || !meta.Reflexive) {
		return nil, false
	}
	_, sn, ok := p.r.NodeByID(subj)
	if !ok {
		return nil, false
	}
	if _, _, ok := p.r.NodeByID(obj); !ok {
		return nil, false
	}
	if !meta.allowsSubject(sn.Type) {
		return nil, false
	}

	confs := make([]float64, len(m.premises))
	for i, f := range m.premises {
		confs[i] = f.confidence
	}
	conf := p.e.prop.Combine(confs)
	if conf < rule.ConfidenceThreshold {
		return nil, false
	}

	k := tripleKey{subj, pred, obj}
	if cur, ok := p.fb.get(k); ok && (!cur.derived || cur.confidence >= conf) {
		return nil, false
	}
	if rule.cond != nil && !rule.cond.eval(p.activation(rule, m.binding)) {
		return nil, false
	}
	return &candidate{
		rule:     rule,
		fact:     fact{subject: subj, predicate: pred, object: obj, confidence: conf, derived: true},
		premises: m.premises,
	}, true
}

// activation builds the CEL inputs for a binding.
func (p *pass) activation(rule *Rule, binding map[string]string) map[string]any {
	act := make(map[string]any, len(rule.vars))
	for _, v := range rule.vars {
		act[v] = p.nodeVar(binding[v])
	}
	return act
}

// nodeVar renders a node as map(string, string). Lists and objects are
// omitted.
func (p *pass) nodeVar(id string) map[string]any {
	if m, ok := p.vars[id]; ok {
		return m
	}
	m := map[string]any{"id": id}
	if _, n, ok := p.r.NodeByID(id); ok {
		for k, v := range n.Properties {
			if s, ok := scalarString(v); ok {
				m[k] = s
			}
		}
		m["id"] = n.ID
		m["type"] = n.Type.String()
	}
	p.vars[id] = m
	return m
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	case time.Time:
		return x.UTC().Format(time.RFC3339), true
	}
	return "", false
}

// =============================================================================
// Application
// =============================================================================

// Apply writes facts to the graph as Directed edges in one transaction.
//
// Description:
//
//	Each edge carries weight 1, the fact confidence and the evidence
//	"inferred:<rule>". A fact whose edge already exists with that
//	evidence is skipped, so applying the same result twice is a no-op.
//	On any error nothing is written.
//
// Outputs:
//   - int: Number of edges added.
//   - error: ValidationError if a fact names an unknown entity.
func (e *Engine) Apply(ctx context.Context, facts []InferredFact) (int, error) {
	ctx, span := tracer.Start(ctx, "Engine.Apply")
	defer span.End()

	added := 0
	err := e.g.Update(ctx, func(tx *graph.Txn) error {
		tx.SetReason("inference")
		added = 0
		for _, f := range facts {
			from, ok := tx.Lookup(f.Subject)
			if !ok {
				return graph.NotFound(f.Subject)
			}
			to, ok := tx.Lookup(f.Object)
			if !ok {
				return graph.NotFound(f.Object)
			}
			evidence := EvidencePrefix + f.RuleID
			if hasInferredEdge(tx.Reader, from, to, f.Predicate, evidence) {
				continue
			}
			_, err := tx.AddEdge(from, to, graph.KnowledgeEdge{
				Relationship:   f.Predicate,
				Weight:         1.0,
				Confidence:     f.Confidence,
				Directionality: graph.Directed,
				SourceEvidence: []string{evidence},
			})
			if err != nil {
				return fmt.Errorf("applying %s %s %s: %w", f.Subject, f.Predicate, f.Object, err)
			}
			added++
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	inferredEdgesApplied.Add(float64(added))
	span.SetAttributes(attribute.Int("inference.applied", added))
	return added, nil
}

func hasInferredEdge(r graph.Reader, from, to graph.NodeRef, rel graph.RelationshipType, evidence string) bool {
	for _, ev := range r.EdgesBetween(from, to) {
		if ev.Edge.Relationship == rel && slices.Contains(ev.Edge.SourceEvidence, evidence) {
			return true
		}
	}
	return false
}
