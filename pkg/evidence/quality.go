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

package evidence

import (
	"github.com/itchyny/gojq"

	"github.com/proth1/kmflow-sub002/pkg/domain"
	kmath "github.com/proth1/kmflow-sub002/pkg/shared/math"
)

// CategorySchema lists the jq field paths an EvidenceItem's metadata
// is expected to carry for its category (spec §4.1 "per category
// schema"). A path that resolves to a non-null value counts as
// observed.
var CategorySchema = map[domain.EvidenceCategory][]string{
	domain.CategoryProcessDocs:     {".title", ".author", ".effective_date", ".version"},
	domain.CategoryPolicyDocs:      {".title", ".owner", ".effective_date", ".review_cycle"},
	domain.CategoryRegulatory:      {".title", ".jurisdiction", ".effective_date", ".citation"},
	domain.CategoryCommunications:  {".participants", ".timestamp", ".channel"},
	domain.CategoryTicketSystem:    {".ticket_id", ".status", ".assignee", ".created_at"},
	domain.CategoryWorkflowLog:     {".workflow_id", ".step", ".actor", ".timestamp"},
	domain.CategorySystemTelemetry: {".system", ".metric", ".timestamp"},
	domain.CategoryScreenCapture:   {".screen", ".actor", ".timestamp"},
	domain.CategoryInterviewNotes:  {".interviewee", ".role", ".date"},
	domain.CategorySurveyResponse:  {".respondent_id", ".submitted_at"},
	domain.CategoryOrgChart:        {".role", ".reports_to"},
	domain.CategoryDataSchema:      {".schema_name", ".version", ".owner"},
}

// SourceClassWeight is the per-plane reliability weighting used by
// reliability scoring (spec §4.1 "source_class_weight").
var SourceClassWeight = map[domain.SourcePlane]float64{
	domain.PlaneDocument:    0.9,
	domain.PlaneTelemetry:   0.95,
	domain.PlaneWorkSurface: 0.8,
	domain.PlaneHumanInterp: 0.6,
}

// Completeness evaluates CategorySchema's jq paths against metadata
// and returns observed_fields / expected_fields (spec §4.1).
func Completeness(category domain.EvidenceCategory, metadata map[string]any) (float64, error) {
	paths := CategorySchema[category]
	if len(paths) == 0 {
		return 1.0, nil
	}
	observed := 0
	for _, path := range paths {
		query, err := gojq.Parse(path)
		if err != nil {
			return 0, err
		}
		iter := query.Run(metadata)
		v, ok := iter.Next()
		if !ok {
			continue
		}
		if err, isErr := v.(error); isErr {
			return 0, err
		}
		if v != nil {
			observed++
		}
	}
	return float64(observed) / float64(len(paths)), nil
}

// Reliability is source_class_weight × integrity_bit (spec §4.1).
// integrityOK is true iff the content hash computed at ingest matches
// the hash the caller expected (always true for freshly computed
// hashes; false only when re-validating an externally supplied hash).
func Reliability(plane domain.SourcePlane, integrityOK bool) float64 {
	if !integrityOK {
		return 0
	}
	return SourceClassWeight[plane]
}

// Freshness is exp(-age_days/half_life_days[category]), clamped to
// [0,1] (spec §4.1).
func Freshness(ageDays, halfLifeDays float64) float64 {
	return kmath.ExpDecay(ageDays, halfLifeDays)
}

// InitialConsistency is the value assigned at ingest, before the
// consistency scanner has run (spec §4.1).
const InitialConsistency = 1.0

// Consistency recomputes the consistency score from the consistency
// scanner's fragment-level tally (spec §4.1).
func Consistency(contradictingFragments, totalFragments int) float64 {
	if totalFragments == 0 {
		return InitialConsistency
	}
	return kmath.Clamp(1.0-float64(contradictingFragments)/float64(totalFragments), 0, 1)
}
