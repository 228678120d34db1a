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
	"strings"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
)

// RuleType classifies a rule. It does not change how the rule is matched.
type RuleType string

const (
	RuleTransitivity  RuleType = "Transitivity"
	RuleInheritance   RuleType = "Inheritance"
	RuleConsistency   RuleType = "Consistency"
	RuleContradiction RuleType = "Contradiction"
	RuleImplication   RuleType = "Implication"
	RuleEquivalence   RuleType = "Equivalence"
)

func (t RuleType) valid() bool {
	switch t {
	case RuleTransitivity, RuleInheritance, RuleConsistency,
		RuleContradiction, RuleImplication, RuleEquivalence:
		return true
	}
	return false
}

// Term is a pattern position: a variable when Var is set, otherwise a
// literal entity ID.
type Term struct {
	Var     string
	Literal string
}

func (t Term) String() string {
	if t.Var != "" {
		return "?" + t.Var
	}
	return t.Literal
}

// Pattern is a (subject, predicate, object) triple pattern.
type Pattern struct {
	Subject   Term
	Predicate graph.RelationshipType
	Object    Term
}

func (p Pattern) String() string {
	return p.Subject.String() + " " + p.Predicate.String() + " " + p.Object.String()
}

// Rule derives its conclusion for every joint match of its premises.
type Rule struct {
	ID                  string
	Type                RuleType
	Premises            []Pattern
	Conclusion          Pattern
	ConfidenceThreshold float64

	// Condition is the CEL source, empty when absent.
	Condition string

	cond *condition
	vars []string
}

func compileRule(spec ruleYAML) (*Rule, error) {
	if strings.TrimSpace(spec.ID) == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	rt := RuleType(spec.Type)
	if !rt.valid() {
		return nil, fmt.Errorf("unknown rule type %q", spec.Type)
	}
	if len(spec.Premises) == 0 || len(spec.Premises) > MaxPremises {
		return nil, fmt.Errorf("need 1 to %d premises, got %d", MaxPremises, len(spec.Premises))
	}
	if spec.ConfidenceThreshold < 0 || spec.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("confidence_threshold %v outside [0,1]", spec.ConfidenceThreshold)
	}

	r := &Rule{
		ID:                  spec.ID,
		Type:                rt,
		ConfidenceThreshold: spec.ConfidenceThreshold,
		Condition:           strings.TrimSpace(spec.Condition),
	}
	bound := map[string]bool{}
	for _, ps := range spec.Premises {
		p, err := ParsePattern(ps)
		if err != nil {
			return nil, err
		}
		for _, t := range []Term{p.Subject, p.Object} {
			if t.Var != "" && !bound[t.Var] {
				bound[t.Var] = true
				r.vars = append(r.vars, t.Var)
			}
		}
		r.Premises = append(r.Premises, p)
	}

	concl, err := ParsePattern(spec.Conclusion)
	if err != nil {
		return nil, fmt.Errorf("conclusion: %w", err)
	}
	for _, t := range []Term{concl.Subject, concl.Object} {
		if t.Var != "" && !bound[t.Var] {
			return nil, fmt.Errorf("conclusion variable ?%s does not occur in a premise", t.Var)
		}
	}
	r.Conclusion = concl

	if r.Condition != "" {
		r.cond, err = compileCondition(r.Condition, r.vars)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ParsePattern parses "subject Predicate object", where each end is either
// "?name" or a literal entity ID.
func ParsePattern(s string) (Pattern, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return Pattern{}, fmt.Errorf("pattern %q: want 3 fields, got %d", s, len(fields))
	}
	subj, err := parseTerm(fields[0])
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: %w", s, err)
	}
	pred, err := graph.ParseRelationshipType(fields[1])
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: %w", s, err)
	}
	obj, err := parseTerm(fields[2])
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: %w", s, err)
	}
	return Pattern{Subject: subj, Predicate: pred, Object: obj}, nil
}

func parseTerm(s string) (Term, error) {
	name, isVar := strings.CutPrefix(s, "?")
	if !isVar {
		return Term{Literal: s}, nil
	}
	if !validIdent(name) {
		return Term{}, fmt.Errorf("invalid variable name %q", s)
	}
	return Term{Var: name}, nil
}

// validIdent accepts names usable as CEL variables.
func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// =============================================================================
// Matching
// =============================================================================

// fact is a known triple, either stored or derived.
type fact struct {
	subject    string
	predicate  graph.RelationshipType
	object     string
	confidence float64
	derived    bool
}

type tripleKey struct {
	subject   string
	predicate graph.RelationshipType
	object    string
}

func (f *fact) key() tripleKey {
	return tripleKey{f.subject, f.predicate, f.object}
}

func (f *fact) String() string {
	return f.subject + " " + f.predicate.String() + " " + f.object
}

// factBase indexes known triples by predicate.
type factBase struct {
	byKey  map[tripleKey]*fact
	byPred [graph.NumRelationshipTypes][]*fact
}

func newFactBase() *factBase {
	return &factBase{byKey: make(map[tripleKey]*fact)}
}

// add inserts f, or raises the confidence of an existing triple. It
// returns the stored fact.
func (fb *factBase) add(f fact) *fact {
	if cur, ok := fb.byKey[f.key()]; ok {
		if f.confidence > cur.confidence {
			cur.confidence = f.confidence
		}
		return cur
	}
	p := &f
	fb.byKey[f.key()] = p
	fb.byPred[f.predicate] = append(fb.byPred[f.predicate], p)
	return p
}

func (fb *factBase) get(k tripleKey) (*fact, bool) {
	f, ok := fb.byKey[k]
	return f, ok
}

// match is one joint binding of a rule's premises.
type match struct {
	binding  map[string]string
	premises []*fact
}

// matches enumerates every binding of r's premises against fb, in
// premise order, stopping after limit matches.
func (r *Rule) matches(fb *factBase, limit int) []match {
	var out []match
	binding := make(map[string]string, len(r.vars))
	used := make([]*fact, len(r.Premises))

	var join func(i int) bool
	join = func(i int) bool {
		if i == len(r.Premises) {
			b := make(map[string]string, len(binding))
			for k, v := range binding {
				b[k] = v
			}
			out = append(out, match{binding: b, premises: append([]*fact(nil), used...)})
			return len(out) < limit
		}
		p := r.Premises[i]
		for _, f := range fb.byPred[p.Predicate] {
			var bs, bo bool
			if !unify(p.Subject, f.subject, binding, &bs) {
				continue
			}
			if !unify(p.Object, f.object, binding, &bo) {
				if bs {
					delete(binding, p.Subject.Var)
				}
				continue
			}
			used[i] = f
			more := join(i + 1)
			if bs {
				delete(binding, p.Subject.Var)
			}
			if bo {
				delete(binding, p.Object.Var)
			}
			if !more {
				return false
			}
		}
		return true
	}
	join(0)
	return out
}

// unify matches t against value, binding a free variable. bound reports
// whether this call created the binding.
func unify(t Term, value string, binding map[string]string, bound *bool) bool {
	*bound = false
	if t.Var == "" {
		return t.Literal == value
	}
	if cur, ok := binding[t.Var]; ok {
		return cur == value
	}
	binding[t.Var] = value
	*bound = true
	return true
}

// resolve instantiates a conclusion term.
func resolve(t Term, binding map[string]string) string {
	if t.Var != "" {
		return binding[t.Var]
	}
	return t.Literal
}
