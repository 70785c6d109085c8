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

	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/seed"
)

// namingVariantEditDistance is the "edit distance <= 2" threshold from
// spec §4.3.
const namingVariantEditDistance = 2

// candidate is one raw disagreement a detector rule surfaced, before
// classification and severity scoring.
type candidate struct {
	mismatchType domain.MismatchType
	sourceARef   string
	sourceBRef   string

	// assertionA/assertionB are set whenever the rule has two concrete
	// Assertion rows to compare (every rule but control_gap, which
	// compares a Policy's declared scope against the absence of an
	// edge). Classification and resolution both key off these.
	assertionA *domain.Assertion
	assertionB *domain.Assertion

	// activityRef is the contested Activity, used to look up
	// criticality for the severity formula.
	activityRef domain.TypedRef

	// names, when non-empty, are the two labels a naming_variant check
	// compares (e.g. the two DataObject or Role ids an I/O or role
	// mismatch disagreed on). Left empty for rules with no natural
	// "two names" to reconcile (sequence, rule, existence, control_gap).
	// kindA/kindB carry the entity kind so the resolution step only
	// emits a VARIANT_OF edge when both sides are Activities — the only
	// (source, target) pair the controlled vocabulary allows for that
	// predicate (spec §3.3).
	nameA, nameB string
	kindA, kindB string
}

// classify applies the three-way classifier (spec §4.3) to c. It
// returns the classification and, for naming_variant/temporal_shift,
// whatever edge or retraction the resolution side effect produced
// (already applied to the store by the time it returns).
func (s *Scanner) classify(ctx context.Context, engagementID string, c candidate) (domain.Classification, string, error) {
	if c.nameA != "" && c.nameB != "" {
		isVariant, err := s.isNamingVariant(ctx, engagementID, c.nameA, c.nameB)
		if err != nil {
			return "", "", err
		}
		if isVariant {
			detail, err := s.resolveNamingVariant(ctx, engagementID, c.kindA, c.nameA, c.kindB, c.nameB)
			return domain.ClassNamingVariant, detail, err
		}
	}

	if c.assertionA != nil && c.assertionB != nil && !c.assertionA.OverlapsValidity(c.assertionB) {
		detail, err := s.resolveTemporalShift(ctx, c.assertionA, c.assertionB)
		return domain.ClassTemporalShift, detail, err
	}

	return domain.ClassGenuineDisagree, "", nil
}

// isNamingVariant resolves a and b through the active seed-term merge
// chain first, falling back to edit distance against either resolved
// form (spec §4.3).
func (s *Scanner) isNamingVariant(ctx context.Context, engagementID, a, b string) (bool, error) {
	canonA, err := s.resolver.Canonicalize(ctx, engagementID, a)
	if err != nil {
		return false, err
	}
	canonB, err := s.resolver.Canonicalize(ctx, engagementID, b)
	if err != nil {
		return false, err
	}
	if canonA == canonB {
		return true, nil
	}
	return seed.Levenshtein(canonA, canonB) <= namingVariantEditDistance, nil
}
