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
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianRegKG/services/regkg/graph"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default
// =============================================================================

//go:embed default_ontology.yaml
var defaultOntologyYAML []byte

const (
	// MaxOntologyFileSize caps external ontology files.
	MaxOntologyFileSize = 1 << 20

	// MaxRules caps the rule count, generated rules included.
	MaxRules = 1000

	// MaxPremises caps the premises of a single rule.
	MaxPremises = 4
)

// =============================================================================
// YAML Types
// =============================================================================

type ontologyYAML struct {
	AutoRuleThreshold *float64           `yaml:"auto_rule_threshold"`
	Relationships     []relationshipYAML `yaml:"relationships"`
	Rules             []ruleYAML         `yaml:"rules"`
}

type relationshipYAML struct {
	Type       string   `yaml:"type"`
	Inverse    string   `yaml:"inverse,omitempty"`
	Transitive bool     `yaml:"transitive,omitempty"`
	Symmetric  bool     `yaml:"symmetric,omitempty"`
	Reflexive  bool     `yaml:"reflexive,omitempty"`
	Domain     []string `yaml:"domain,omitempty"`
}

type ruleYAML struct {
	ID                  string   `yaml:"id"`
	Type                string   `yaml:"type"`
	Premises            []string `yaml:"premises"`
	Conclusion          string   `yaml:"conclusion"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	Condition           string   `yaml:"condition,omitempty"`
}

// =============================================================================
// Ontology
// =============================================================================

// RelationshipMeta describes the logical properties of a relationship type.
type RelationshipMeta struct {
	Type       graph.RelationshipType
	Inverse    *graph.RelationshipType
	Transitive bool
	Symmetric  bool
	Reflexive  bool

	// Domain lists the node types allowed as subject of an inferred edge.
	// Empty allows any.
	Domain []graph.NodeType
}

// allowsSubject reports whether t may be the subject of an inferred edge.
func (m *RelationshipMeta) allowsSubject(t graph.NodeType) bool {
	if m == nil || len(m.Domain) == 0 {
		return true
	}
	for _, d := range m.Domain {
		if d == t {
			return true
		}
	}
	return false
}

// Ontology is the relationship taxonomy plus the compiled rule set.
//
// Thread Safety: Immutable after construction.
type Ontology struct {
	taxonomy map[graph.RelationshipType]*RelationshipMeta
	rules    []*Rule
}

// Rules returns the compiled rules, generated ones included.
func (o *Ontology) Rules() []*Rule {
	return o.rules
}

// Meta returns the taxonomy entry for rel, or nil.
func (o *Ontology) Meta(rel graph.RelationshipType) *RelationshipMeta {
	return o.taxonomy[rel]
}

// DefaultOntology parses the embedded default ontology.
func DefaultOntology() (*Ontology, error) {
	return ParseOntology(defaultOntologyYAML)
}

// LoadOntology reads an ontology file, or the embedded default when path
// is empty.
//
// Outputs:
//   - *Ontology: The parsed ontology.
//   - error: Non-nil if the file is unreadable, larger than
//     MaxOntologyFileSize, or invalid.
func LoadOntology(path string) (*Ontology, error) {
	if path == "" {
		return DefaultOntology()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving ontology path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat ontology: %w", err)
	}
	if info.Size() > MaxOntologyFileSize {
		return nil, fmt.Errorf("ontology file too large: %d bytes (max %d)", info.Size(), MaxOntologyFileSize)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading ontology: %w", err)
	}
	o, err := ParseOntology(data)
	if err != nil {
		return nil, err
	}
	slog.Info("ontology loaded",
		slog.String("path", abs),
		slog.Int("rules", len(o.rules)))
	return o, nil
}

// ParseOntology parses and compiles ontology YAML.
//
// Description:
//
//	Transitive relationships generate "?a R ?b, ?b R ?c => ?a R ?c",
//	symmetric ones "?a R ?b => ?b R ?a", and inverses
//	"?a R ?b => ?b Inv ?a", all at the file's auto_rule_threshold
//	(default 0.5). Declared rules follow the generated ones.
func ParseOntology(data []byte) (*Ontology, error) {
	var doc ontologyYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling ontology YAML: %w", err)
	}

	threshold := 0.5
	if doc.AutoRuleThreshold != nil {
		threshold = *doc.AutoRuleThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("auto_rule_threshold %v outside [0,1]", threshold)
	}

	o := &Ontology{taxonomy: make(map[graph.RelationshipType]*RelationshipMeta, len(doc.Relationships))}
	var specs []ruleYAML
	for i, ry := range doc.Relationships {
		meta, err := ry.compile()
		if err != nil {
			return nil, fmt.Errorf("relationship %d: %w", i, err)
		}
		if _, dup := o.taxonomy[meta.Type]; dup {
			return nil, fmt.Errorf("relationship %s declared twice", meta.Type)
		}
		o.taxonomy[meta.Type] = meta
		specs = append(specs, generatedRules(meta, threshold)...)
	}
	specs = append(specs, doc.Rules...)
	if len(specs) > MaxRules {
		return nil, fmt.Errorf("too many rules: %d (max %d)", len(specs), MaxRules)
	}

	seen := make(map[string]bool, len(specs))
	for i, spec := range specs {
		if seen[spec.ID] {
			return nil, fmt.Errorf("rule %q declared twice", spec.ID)
		}
		seen[spec.ID] = true
		r, err := compileRule(spec)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, spec.ID, err)
		}
		o.rules = append(o.rules, r)
	}
	return o, nil
}

func (ry relationshipYAML) compile() (*RelationshipMeta, error) {
	rel, err := graph.ParseRelationshipType(ry.Type)
	if err != nil {
		return nil, err
	}
	meta := &RelationshipMeta{
		Type:       rel,
		Transitive: ry.Transitive,
		Symmetric:  ry.Symmetric,
		Reflexive:  ry.Reflexive,
	}
	if ry.Inverse != "" {
		inv, err := graph.ParseRelationshipType(ry.Inverse)
		if err != nil {
			return nil, fmt.Errorf("inverse: %w", err)
		}
		meta.Inverse = &inv
	}
	for _, d := range ry.Domain {
		t, err := graph.ParseNodeType(d)
		if err != nil {
			return nil, fmt.Errorf("domain: %w", err)
		}
		meta.Domain = append(meta.Domain, t)
	}
	return meta, nil
}

func generatedRules(m *RelationshipMeta, threshold float64) []ruleYAML {
	name := m.Type.String()
	var out []ruleYAML
	if m.Transitive {
		out = append(out, ruleYAML{
			ID:                  "transitive:" + strings.ToLower(name),
			Type:                string(RuleTransitivity),
			Premises:            []string{"?a " + name + " ?b", "?b " + name + " ?c"},
			Conclusion:          "?a " + name + " ?c",
			ConfidenceThreshold: threshold,
		})
	}
	if m.Symmetric {
		out = append(out, ruleYAML{
			ID:                  "symmetric:" + strings.ToLower(name),
			Type:                string(RuleEquivalence),
			Premises:            []string{"?a " + name + " ?b"},
			Conclusion:          "?b " + name + " ?a",
			ConfidenceThreshold: threshold,
		})
	}
	if m.Inverse != nil {
		out = append(out, ruleYAML{
			ID:                  "inverse:" + strings.ToLower(name),
			Type:                string(RuleImplication),
			Premises:            []string{"?a " + name + " ?b"},
			Conclusion:          "?b " + m.Inverse.String() + " ?a",
			ConfidenceThreshold: threshold,
		})
	}
	return out
}
