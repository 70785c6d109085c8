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

package consensus

import (
	"github.com/proth1/kmflow-sub002/pkg/domain"
	kmath "github.com/proth1/kmflow-sub002/pkg/shared/math"
)

// strengthWeightCoverage/Agreement are the fixed weights in spec §4.4
// step 7's strength formula.
const (
	strengthWeightCoverage  = 0.55
	strengthWeightAgreement = 0.45

	qualityWeightMean        = 0.40
	qualityWeightReliability = 0.35
	qualityWeightRecency     = 0.25

	// scoreBrightnessBrightCut/DimCut are spec §4.4 step 9's literal
	// score_brightness cut points. These are fixed, independent of the
	// configured mvc (spec.md's own config enumeration names mvc as a
	// 0.40 default, which coincides with the dim cut point here, but
	// step 9 itself spells out 0.75/0.40 as constants).
	scoreBrightnessBrightCut = 0.75
	scoreBrightnessDimCut    = 0.40

	// gradeCReliabilityCut is step 8's "single plane, reliability >=
	// 0.5" threshold for grade C.
	gradeCReliabilityCut = 0.5
)

// mention is one source's contribution to a cluster: the assertion's
// authority scope (carried along; the scoring functions do not read
// it) plus the set of evidence planes it traces to via EVIDENCED_BY
// assertions, and whether that source's assertion is currently
// implicated in an unresolved genuine disagreement.
type mention struct {
	scope    string
	disputed bool
	planes   map[domain.SourcePlane]bool
}

// supportingPlanes is the distinct count of evidence planes backing a
// cluster (spec §4.4 step 7's "supporting_planes", step 8's plane
// count for grading).
func supportingPlanes(mentions []mention) int {
	seen := map[domain.SourcePlane]bool{}
	for _, m := range mentions {
		for p := range m.planes {
			seen[p] = true
		}
	}
	return len(seen)
}

// evidenceCoverage is supporting_planes / planes_available_in_engagement
// (spec §4.4 step 7; denominator per SPEC_FULL.md §D.1 counts only
// planes with >=1 ACTIVE evidence item in the engagement).
func evidenceCoverage(planes, planesAvailable int) float64 {
	if planesAvailable == 0 {
		return 0
	}
	return kmath.Clamp(float64(planes)/float64(planesAvailable), 0, 1)
}

// evidenceAgreement is agreeing_sources/mentioning_sources (spec §4.4
// step 7): a source "agrees" unless one of its assertions about this
// entity is the subject of a still-open genuine_disagreement conflict.
func evidenceAgreement(mentions []mention) float64 {
	if len(mentions) == 0 {
		return 0
	}
	agreeing := 0
	for _, m := range mentions {
		if !m.disputed {
			agreeing++
		}
	}
	return float64(agreeing) / float64(len(mentions))
}

// Strength implements spec §4.4 step 7.
func Strength(coverage, agreement float64) float64 {
	return kmath.Clamp(strengthWeightCoverage*coverage+strengthWeightAgreement*agreement, 0, 1)
}

// Quality implements spec §4.4 step 7's quality formula, over the
// evidence base backing the cluster (meanQuality/sourceReliability/
// evidenceRecency are engagement-wide means — see DESIGN.md for why
// per-entity evidence weighting isn't computed).
func Quality(meanQuality, sourceReliability, evidenceRecency float64) float64 {
	return kmath.Clamp(
		qualityWeightMean*meanQuality+qualityWeightReliability*sourceReliability+qualityWeightRecency*evidenceRecency,
		0, 1)
}

// Confidence is min(strength, quality) (spec §4.4 step 7).
func Confidence(strength, quality float64) float64 {
	return kmath.Min(strength, quality)
}

// Grade implements spec §4.4 step 8. Grade keys on supporting planes
// and human validation, not raw mention count: two mentions on the
// same plane corroborate within that plane but don't clear the
// multi-plane bar for B/A. A single plane with more than one
// corroborating mention can still reach C if reliability clears the
// threshold; a true single source (one mention, one plane) never
// clears C and sits at D until further corroboration arrives.
func Grade(planes, mentioningSources int, humanValidated bool, reliability float64) domain.EvidenceGrade {
	switch {
	case planes == 0 || mentioningSources == 0:
		return domain.GradeU
	case planes >= 2 && humanValidated:
		return domain.GradeA
	case planes >= 2:
		return domain.GradeB
	case mentioningSources >= 2 && reliability >= gradeCReliabilityCut:
		return domain.GradeC
	default:
		return domain.GradeD
	}
}

// Brightness implements spec §4.4 step 9: score_brightness from the
// numeric confidence at fixed cut points, grade_brightness from the
// evidence grade, brightness = min(score_brightness, grade_brightness)
// (the coherence cap), then the dependency cap (spec §3.2) is applied
// on top.
func Brightness(confidence float64, grade domain.EvidenceGrade, dependsOnBright bool) domain.Brightness {
	scoreBrightness := domain.BrightnessDark
	switch {
	case confidence >= scoreBrightnessBrightCut:
		scoreBrightness = domain.BrightnessBright
	case confidence >= scoreBrightnessDimCut:
		scoreBrightness = domain.BrightnessDim
	}

	raw := domain.MinBrightness(scoreBrightness, grade.GradeBrightness())
	if !dependsOnBright {
		raw = domain.MinBrightness(raw, domain.BrightnessDim)
	}
	return raw
}
