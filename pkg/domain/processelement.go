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

package domain

// ElementType is the ProcessElement type taxonomy (spec §3.1).
type ElementType string

const (
	ElementActivity ElementType = "activity"
	ElementDecision ElementType = "decision"
	ElementGateway  ElementType = "gateway"
	ElementEvent    ElementType = "event"
)

// Brightness is the derived visualization classification (GLOSSARY).
type Brightness string

const (
	BrightnessBright Brightness = "bright"
	BrightnessDim    Brightness = "dim"
	BrightnessDark   Brightness = "dark"
)

// brightnessRank orders brightness from best (bright) to worst (dark)
// so coherence/dependency caps can be expressed as a min().
var brightnessRank = map[Brightness]int{
	BrightnessBright: 2,
	BrightnessDim:    1,
	BrightnessDark:   0,
}

// MinBrightness returns the dimmer of a and b.
func MinBrightness(a, b Brightness) Brightness {
	if brightnessRank[a] <= brightnessRank[b] {
		return a
	}
	return b
}

// EvidenceGrade is the provenance classification independent of
// numeric confidence (spec §4.4 step 8, GLOSSARY).
type EvidenceGrade string

const (
	GradeA EvidenceGrade = "A"
	GradeB EvidenceGrade = "B"
	GradeC EvidenceGrade = "C"
	GradeD EvidenceGrade = "D"
	GradeU EvidenceGrade = "U"
)

// GradeBrightness is the grade_brightness term of spec §4.4 step 9:
// bright for A/B, dim for C, dark for D/U. Brightness is then
// min(score_brightness, grade_brightness) (invariant 6 in §8).
func (g EvidenceGrade) GradeBrightness() Brightness {
	switch g {
	case GradeA, GradeB:
		return BrightnessBright
	case GradeC:
		return BrightnessDim
	default:
		return BrightnessDark
	}
}

// ProcessElement is the consensus output unit, regenerated per POV
// version (spec §3.1).
type ProcessElement struct {
	ID                    string
	ModelID               string
	Type                  ElementType
	Name                  string
	CanonicalName         string
	ConfidenceScore       float64
	StrengthScore         float64
	QualityScore          float64
	Brightness            Brightness
	EvidenceGrade         EvidenceGrade
	SupportingEvidenceIDs []string
	SupportingPlanes      int
	ValidatedCount        int
	HumanValidated        bool
	DependsOnIDs          []string // DEPENDS_ON targets; persisted only, the dependency brightness cap reads PrecedesIDs
	Status                string   // "pending" | "confirmed" | "corrected" | "rejected" | "deferred"

	// Structural fields populated by consensus structure discovery (spec
	// §4.4 step 6): the directly-follows graph pruned to edges at or
	// above dependency_threshold, with split semantics and preserved
	// loop back-edges.
	PrecedesIDs      []string // directly-follows successors surviving the dependency_threshold prune
	ParallelWithIDs  []string // co-occurring successors classified AND-split (concurrent paths)
	ExclusiveWithIDs []string // co-occurring successors classified XOR-split (mutually exclusive paths)
	LoopBackIDs      []string // successors that close a cycle back to an ancestor, kept rather than dropped
}
