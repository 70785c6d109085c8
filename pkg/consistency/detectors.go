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

package consistency

import (
	"context"
	"time"

	"github.com/proth1/kmflow-sub002/pkg/domain"
)

// detectSequenceConflicts implements rule 1 (spec §4.3): two distinct
// currently-valid PRECEDES assertions contradicting each other's
// ordering for the same activity pair.
func (s *Scanner) detectSequenceConflicts(ctx context.Context, engagementID string) ([]candidate, error) {
	all, err := s.assertions.ListAssertionsByPredicate(ctx, engagementID, domain.PredPrecedes)
	if err != nil {
		return nil, err
	}
	valid := currentlyValid(all, time.Now())

	byPair := make(map[[2]string][]*domain.Assertion, len(valid))
	for _, a := range valid {
		byPair[[2]string{a.Subject.ID, a.Object.ID}] = append(byPair[[2]string{a.Subject.ID, a.Object.ID}], a)
	}

	var out []candidate
	seen := map[string]bool{}
	for _, a := range valid {
		reverse, ok := byPair[[2]string{a.Object.ID, a.Subject.ID}]
		if !ok {
			continue
		}
		for _, b := range reverse {
			key := pairKey(a.ID, b.ID)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, candidate{
				mismatchType: domain.MismatchSequence,
				sourceARef:   a.ID, sourceBRef: b.ID,
				assertionA: a, assertionB: b,
				activityRef: a.Subject,
			})
		}
	}
	return out, nil
}

// detectRoleConflicts implements rule 2: activity X has two currently
// valid PERFORMED_BY edges to different Role targets, asserted under
// different authority scopes (the proxy this implementation uses for
// "different source planes" — see DESIGN.md).
func (s *Scanner) detectRoleConflicts(ctx context.Context, engagementID string) ([]candidate, error) {
	all, err := s.assertions.ListAssertionsByPredicate(ctx, engagementID, domain.PredPerformedBy)
	if err != nil {
		return nil, err
	}
	valid := currentlyValid(all, time.Now())

	byActivity := make(map[string][]*domain.Assertion, len(valid))
	for _, a := range valid {
		byActivity[a.Subject.ID] = append(byActivity[a.Subject.ID], a)
	}

	var out []candidate
	for _, group := range byActivity {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if a.Object.ID == b.Object.ID {
					continue
				}
				if a.Frame.AuthorityScope == b.Frame.AuthorityScope {
					continue
				}
				out = append(out, candidate{
					mismatchType: domain.MismatchRole,
					sourceARef:   a.ID, sourceBRef: b.ID,
					assertionA: a, assertionB: b,
					activityRef: a.Subject,
					nameA:       a.Object.ID, nameB: b.Object.ID,
					kindA:       a.Object.Kind, kindB: b.Object.Kind,
				})
			}
		}
	}
	return out, nil
}

// detectRuleConflicts implements rule 3: two GOVERNED_BY edges from
// the same activity to different Policy targets, both currently valid
// — distinct policy targets stand in for "mutually exclusive
// conditions" since the controlled vocabulary has no separate
// condition predicate (see DESIGN.md).
func (s *Scanner) detectRuleConflicts(ctx context.Context, engagementID string) ([]candidate, error) {
	all, err := s.assertions.ListAssertionsByPredicate(ctx, engagementID, domain.PredGovernedBy)
	if err != nil {
		return nil, err
	}
	valid := currentlyValid(all, time.Now())

	byActivity := make(map[string][]*domain.Assertion, len(valid))
	for _, a := range valid {
		if a.Subject.Kind != "Activity" {
			continue
		}
		byActivity[a.Subject.ID] = append(byActivity[a.Subject.ID], a)
	}

	var out []candidate
	for _, group := range byActivity {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if a.Object.ID == b.Object.ID {
					continue
				}
				out = append(out, candidate{
					mismatchType: domain.MismatchRule,
					sourceARef:   a.ID, sourceBRef: b.ID,
					assertionA: a, assertionB: b,
					activityRef: a.Subject,
				})
			}
		}
	}
	return out, nil
}

// detectExistenceConflicts implements rule 4. The controlled
// vocabulary's only symmetric assertion-to-assertion predicate,
// CONTRADICTS, is the mechanism a source uses to record "this other
// assertion is wrong" — including denying an activity's existence — so
// a currently-valid CONTRADICTS pair is read directly as an existence
// conflict between the two assertions it names (see DESIGN.md).
func (s *Scanner) detectExistenceConflicts(ctx context.Context, engagementID string) ([]candidate, error) {
	edges, err := s.assertions.ListAssertionsByPredicate(ctx, engagementID, domain.PredContradicts)
	if err != nil {
		return nil, err
	}
	valid := currentlyValid(edges, time.Now())

	var out []candidate
	for _, c := range valid {
		a, err := s.assertions.GetAssertion(ctx, engagementID, c.Subject.ID)
		if err != nil {
			continue
		}
		b, err := s.assertions.GetAssertion(ctx, engagementID, c.Object.ID)
		if err != nil {
			continue
		}
		out = append(out, candidate{
			mismatchType: domain.MismatchExistence,
			sourceARef:   a.ID, sourceBRef: b.ID,
			assertionA: a, assertionB: b,
			activityRef: a.Subject,
		})
	}
	return out, nil
}

// detectIOMismatches implements rule 5: an upstream activity PRODUCES
// O1, a directly-following downstream activity CONSUMES O2, and O1 !=
// O2 after seed-list resolution.
func (s *Scanner) detectIOMismatches(ctx context.Context, engagementID string) ([]candidate, error) {
	precedes, err := s.assertions.ListAssertionsByPredicate(ctx, engagementID, domain.PredPrecedes)
	if err != nil {
		return nil, err
	}
	produces, err := s.assertions.ListAssertionsByPredicate(ctx, engagementID, domain.PredProduces)
	if err != nil {
		return nil, err
	}
	consumes, err := s.assertions.ListAssertionsByPredicate(ctx, engagementID, domain.PredConsumes)
	if err != nil {
		return nil, err
	}
	now := time.Now()

	producedBy := make(map[string][]*domain.Assertion) // activity id -> PRODUCES assertions
	for _, a := range currentlyValid(produces, now) {
		producedBy[a.Subject.ID] = append(producedBy[a.Subject.ID], a)
	}
	consumedBy := make(map[string][]*domain.Assertion)
	for _, a := range currentlyValid(consumes, now) {
		consumedBy[a.Subject.ID] = append(consumedBy[a.Subject.ID], a)
	}

	var out []candidate
	for _, p := range currentlyValid(precedes, now) {
		upstream, downstream := p.Subject.ID, p.Object.ID
		for _, prod := range producedBy[upstream] {
			for _, cons := range consumedBy[downstream] {
				if prod.Object.ID == cons.Object.ID {
					continue
				}
				out = append(out, candidate{
					mismatchType: domain.MismatchIO,
					sourceARef:   prod.ID, sourceBRef: cons.ID,
					assertionA: prod, assertionB: cons,
					activityRef: p.Subject,
					nameA:       prod.Object.ID, nameB: cons.Object.ID,
					kindA:       prod.Object.Kind, kindB: cons.Object.Kind,
				})
			}
		}
	}
	return out, nil
}

// detectControlGaps implements rule 6: a Policy's declared scope
// (GraphNode.Props["applies_to"], a list of Activity ids populated by
// the entity extractor) names an activity with no corresponding
// GOVERNED_BY edge.
func (s *Scanner) detectControlGaps(ctx context.Context, engagementID string) ([]candidate, error) {
	policyIDs, err := s.graph.ListNodeIDs(ctx, engagementID, "Policy")
	if err != nil {
		return nil, err
	}

	var out []candidate
	for _, policyID := range policyIDs {
		policy, err := s.graph.GetNode(ctx, engagementID, "Policy", policyID)
		if err != nil {
			continue
		}
		appliesTo, _ := policy.Props["applies_to"].([]string)
		if len(appliesTo) == 0 {
			continue
		}

		governed, err := s.graph.ListEdgesTo(ctx, engagementID, domain.TypedRef{Kind: "Policy", ID: policyID}, domain.PredGovernedBy)
		if err != nil {
			return nil, err
		}
		governedActivities := map[string]bool{}
		for _, e := range governed {
			if e.RetractedAt == nil {
				governedActivities[e.Source.ID] = true
			}
		}

		for _, activityID := range appliesTo {
			if governedActivities[activityID] {
				continue
			}
			out = append(out, candidate{
				mismatchType: domain.MismatchControlGap,
				sourceARef:   policyID, sourceBRef: activityID,
				activityRef: domain.TypedRef{Kind: "Activity", ID: activityID},
			})
		}
	}
	return out, nil
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}
