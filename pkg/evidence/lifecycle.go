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
	"context"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/domain"
)

// ValidateDecision is the reviewer's call on a pending item (spec §4.1
// "validate(evidence_id, decision, reviewer_id)").
type ValidateDecision string

const (
	DecisionApprove ValidateDecision = "approve"
	DecisionReject  ValidateDecision = "reject"
)

// Validate advances item's lifecycle per a reviewer decision. approve
// moves PENDING->VALIDATED or VALIDATED->ACTIVE; reject jumps any
// non-ARCHIVED state straight to ARCHIVED (spec §4.1).
func (s *Service) Validate(ctx context.Context, engagementID, evidenceID string, decision ValidateDecision, reviewerID string) error {
	item, err := s.store.GetEvidenceItem(ctx, engagementID, evidenceID)
	if err != nil {
		return err
	}

	var next domain.Lifecycle
	switch decision {
	case DecisionApprove:
		switch item.Lifecycle {
		case domain.LifecyclePending:
			next = domain.LifecycleValidated
		case domain.LifecycleValidated:
			next = domain.LifecycleActive
		default:
			return kerrors.Newf(kerrors.ErrorTypeIllegalTransition, "evidence %s: cannot approve from %s", evidenceID, item.Lifecycle)
		}
	case DecisionReject:
		if item.Lifecycle == domain.LifecycleArchived {
			return kerrors.Newf(kerrors.ErrorTypeIllegalTransition, "evidence %s: already archived", evidenceID)
		}
		next = domain.LifecycleArchived
	default:
		return kerrors.Newf(kerrors.ErrorTypeValidation, "unknown decision %q", decision)
	}

	if !domain.CanTransition(item.Lifecycle, next) {
		return kerrors.Newf(kerrors.ErrorTypeIllegalTransition, "evidence %s: %s -> %s", evidenceID, item.Lifecycle, next)
	}
	return s.store.UpdateEvidenceLifecycle(ctx, engagementID, evidenceID, next, reviewerID)
}

// autoAdvance applies the spec §4.1 auto-validation rule: an item
// moves PENDING->VALIDATED automatically when reliability and the
// upstream classifier's confidence both clear their thresholds;
// otherwise it awaits manual validation.
func autoAdvance(reliability, classifierConfidence float64) bool {
	return reliability >= 0.5 && classifierConfidence >= 0.8
}

// ExpireDueItems moves every ACTIVE item of engagementID whose
// freshness has fallen below threshold to EXPIRED (spec §4.1
// "expire_due_items()"). It returns the expired item ids so callers
// can trigger dependent confidence recomputation.
func (s *Service) ExpireDueItems(ctx context.Context, engagementID string, freshnessThreshold float64) ([]string, error) {
	active, err := s.store.ListActiveEvidence(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	var expired []string
	for _, item := range active {
		if item.Quality.Freshness >= freshnessThreshold {
			continue
		}
		if err := s.store.UpdateEvidenceLifecycle(ctx, engagementID, item.ID, domain.LifecycleExpired, ""); err != nil {
			return expired, err
		}
		expired = append(expired, item.ID)
	}
	return expired, nil
}
