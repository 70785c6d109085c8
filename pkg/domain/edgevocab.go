/*
Copyright 2026 KMFlow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// This file is the single source of truth for the controlled edge
// vocabulary (spec §3.3): exactly 12 predicate kinds, each with
// source/target type constraints and a structural rule. Any other
// component that needs to know "is this edge legal" calls into this
// file rather than re-deriving the table.
package domain

// EdgePredicate is the closed set of 12 predicate kinds (spec §3.3).
type EdgePredicate string

const (
	PredPrecedes       EdgePredicate = "PRECEDES"
	PredTriggers       EdgePredicate = "TRIGGERS"
	PredDependsOn      EdgePredicate = "DEPENDS_ON"
	PredConsumes       EdgePredicate = "CONSUMES"
	PredProduces       EdgePredicate = "PRODUCES"
	PredGovernedBy     EdgePredicate = "GOVERNED_BY"
	PredPerformedBy    EdgePredicate = "PERFORMED_BY"
	PredEvidencedBy    EdgePredicate = "EVIDENCED_BY"
	PredContradicts    EdgePredicate = "CONTRADICTS"
	PredSupersedes     EdgePredicate = "SUPERSEDES"
	PredDecomposesInto EdgePredicate = "DECOMPOSES_INTO"
	PredVariantOf      EdgePredicate = "VARIANT_OF"
)

// StructuralRule names the acyclicity/symmetry/bitemporal constraint a
// predicate carries, beyond source/target typing.
type StructuralRule string

const (
	RuleNone               StructuralRule = ""
	RuleAcyclicPerVariant  StructuralRule = "acyclic_within_variant"
	RuleAcyclicGlobal      StructuralRule = "acyclic_global"
	RuleSymmetric          StructuralRule = "symmetric"
	RuleBitemporal         StructuralRule = "requires_bitemporal_validity"
	RuleTreeNoCycles       StructuralRule = "tree_no_cycles"
)

// edgeRule describes one row of the controlled vocabulary table.
type edgeRule struct {
	SourceKinds []string
	TargetKinds []string
	Structural  StructuralRule
}

// EdgeVocabulary is the full controlled table from spec §3.3.
var EdgeVocabulary = map[EdgePredicate]edgeRule{
	PredPrecedes:       {SourceKinds: []string{"Activity"}, TargetKinds: []string{"Activity"}, Structural: RuleAcyclicPerVariant},
	PredTriggers:       {SourceKinds: []string{"Event", "Gateway"}, TargetKinds: []string{"Activity"}, Structural: RuleNone},
	PredDependsOn:      {SourceKinds: []string{"Activity"}, TargetKinds: []string{"Activity"}, Structural: RuleAcyclicGlobal},
	PredConsumes:       {SourceKinds: []string{"Activity"}, TargetKinds: []string{"DataObject"}, Structural: RuleNone},
	PredProduces:       {SourceKinds: []string{"Activity"}, TargetKinds: []string{"DataObject"}, Structural: RuleNone},
	PredGovernedBy:     {SourceKinds: []string{"Process", "Activity"}, TargetKinds: []string{"Policy"}, Structural: RuleNone},
	PredPerformedBy:    {SourceKinds: []string{"Activity"}, TargetKinds: []string{"Role"}, Structural: RuleNone},
	PredEvidencedBy:    {SourceKinds: []string{"Assertion", "Activity"}, TargetKinds: []string{"Evidence"}, Structural: RuleNone},
	PredContradicts:    {SourceKinds: []string{"Assertion"}, TargetKinds: []string{"Assertion"}, Structural: RuleSymmetric},
	PredSupersedes:     {SourceKinds: []string{"Assertion"}, TargetKinds: []string{"Assertion"}, Structural: RuleBitemporal},
	PredDecomposesInto: {SourceKinds: []string{"Process"}, TargetKinds: []string{"Subprocess"}, Structural: RuleTreeNoCycles},
	PredVariantOf:      {SourceKinds: []string{"Activity"}, TargetKinds: []string{"Activity"}, Structural: RuleSymmetric},
}

func contains(kinds []string, kind string) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ValidEdgeTypes reports whether (predicate, sourceKind, targetKind) is
// a member of the controlled vocabulary — the first half of edge
// validation. Structural rules (acyclicity etc.) are enforced by the
// graph writer, which has visibility into the rest of the graph.
func ValidEdgeTypes(predicate EdgePredicate, sourceKind, targetKind string) bool {
	rule, ok := EdgeVocabulary[predicate]
	if !ok {
		return false
	}
	return contains(rule.SourceKinds, sourceKind) && contains(rule.TargetKinds, targetKind)
}

// StructuralRuleFor returns the structural rule attached to predicate.
func StructuralRuleFor(predicate EdgePredicate) StructuralRule {
	return EdgeVocabulary[predicate].Structural
}
