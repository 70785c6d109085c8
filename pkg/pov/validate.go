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

package pov

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/config"
	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/audit"
	"github.com/proth1/kmflow-sub002/pkg/consensus"
	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/graph"
	"github.com/proth1/kmflow-sub002/pkg/seed"
	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

// CorrectionParams carries the replacement content for a CORRECT
// decision (spec §4.6: "CORRECT inserts a new Assertion with SUPERSEDES
// edge to the original"). The caller (a human reviewer) supplies the
// corrected claim and names which existing assertion it supersedes;
// ID and AssertedAt are filled in by Validate when left zero.
type CorrectionParams struct {
	NewAssertion        *domain.Assertion
	OriginalAssertionID string
}

// Validator applies human validation decisions to ProcessElements
// (spec §4.6 "validate").
type Validator struct {
	elements   relational.ProcessElementStore
	assertions relational.AssertionStore
	conflicts  relational.ConflictStore
	writer     *graph.Writer
	resolver   *seed.Resolver
	cfg        config.ConsensusConfig
	logger     *zap.Logger
	audit      audit.Recorder
}

func NewValidator(elements relational.ProcessElementStore, assertions relational.AssertionStore, conflicts relational.ConflictStore, writer *graph.Writer, resolver *seed.Resolver, cfg config.ConsensusConfig, logger *zap.Logger) *Validator {
	return &Validator{
		elements: elements, assertions: assertions, conflicts: conflicts,
		writer: writer, resolver: resolver, cfg: cfg, logger: logger,
	}
}

// WithAudit attaches the recorder Validate logs every decision
// through (spec §4.3 "emits an audit event").
func (v *Validator) WithAudit(a audit.Recorder) *Validator {
	v.audit = a
	return v
}

// Validate applies decision to elementID within modelID and persists
// the result. correction is only consulted for DecisionCorrect. actor
// identifies who made the call, for the audit trail.
func (v *Validator) Validate(ctx context.Context, engagementID, modelID, elementID, actor string, decision domain.Decision, correction *CorrectionParams) (*domain.ProcessElement, error) {
	all, err := v.elements.ListProcessElements(ctx, modelID)
	if err != nil {
		return nil, err
	}
	var target *domain.ProcessElement
	for _, e := range all {
		if e.ID == elementID {
			target = e
			break
		}
	}
	if target == nil {
		return nil, kerrors.ErrNotFound
	}

	switch decision {
	case domain.DecisionConfirm:
		v.confirm(all, target)
	case domain.DecisionCorrect:
		if correction == nil || correction.NewAssertion == nil || correction.OriginalAssertionID == "" {
			return nil, kerrors.New(kerrors.ErrorTypeValidation, "correct decision requires a replacement assertion and original assertion id")
		}
		if err := v.correct(ctx, engagementID, correction); err != nil {
			return nil, err
		}
		target.Status = "corrected"
	case domain.DecisionReject:
		if err := v.reject(ctx, engagementID, target); err != nil {
			return nil, err
		}
		target.Status = "rejected"
	case domain.DecisionDefer:
		target.Status = "pending"
	default:
		return nil, kerrors.Newf(kerrors.ErrorTypeValidation, "unknown validation decision %q", decision)
	}

	if err := v.elements.UpdateProcessElement(ctx, target); err != nil {
		return nil, err
	}
	v.logger.Info("applied validation decision",
		logging.NewFields().Component("pov").Operation("validate").Engagement(engagementID).Slice()...)
	if v.audit != nil {
		if err := v.audit.Record(ctx, engagementID, actor, "validate_"+string(decision), "process_element", elementID, map[string]any{
			"canonical_name": target.CanonicalName,
		}); err != nil {
			return nil, err
		}
	}
	return target, nil
}

// confirm promotes grade C->B->A, counts the human validation, and
// recomputes brightness under the same coherence and dependency caps
// consensus applies at assembly time (spec §4.6 "CONFIRM"). The
// underlying strength/quality inputs are untouched by a human
// confirmation, so "confidence recomputed" here means the derived
// brightness tier, not the numeric confidence score.
func (v *Validator) confirm(all []*domain.ProcessElement, target *domain.ProcessElement) {
	switch target.EvidenceGrade {
	case domain.GradeC:
		target.EvidenceGrade = domain.GradeB
	case domain.GradeB:
		target.EvidenceGrade = domain.GradeA
	}
	target.ValidatedCount++
	target.HumanValidated = true

	dependsOnBright := true
	for _, e := range all {
		for _, succ := range e.PrecedesIDs {
			if succ == target.CanonicalName && e.Brightness == domain.BrightnessDark {
				dependsOnBright = false
			}
		}
	}
	target.Brightness = consensus.Brightness(target.ConfidenceScore, target.EvidenceGrade, dependsOnBright)
}

// correct inserts the replacement assertion and supersedes the
// original, following the same writer path pkg/consistency uses for
// its own SUPERSEDES resolution (pkg/consistency/scanner.go
// resolveTemporalShift).
func (v *Validator) correct(ctx context.Context, engagementID string, p *CorrectionParams) error {
	a := p.NewAssertion
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.EngagementID = engagementID
	if a.AssertedAt.IsZero() {
		a.AssertedAt = time.Now()
	}
	if err := v.assertions.CreateAssertion(ctx, a); err != nil {
		return err
	}

	supersede := &domain.Assertion{
		ID: uuid.NewString(), EngagementID: engagementID, Predicate: domain.PredSupersedes,
		Subject:    domain.TypedRef{Kind: "Assertion", ID: a.ID},
		Object:     domain.TypedRef{Kind: "Assertion", ID: p.OriginalAssertionID},
		AssertedAt: a.AssertedAt, ValidFrom: a.AssertedAt,
	}
	return v.writer.WriteAssertion(ctx, supersede)
}

// reject records an existence conflict and retracts every
// currently-valid assertion canonicalizing to the element's name.
// ProcessElement carries no direct assertion backreference (same gap
// noted in pkg/consensus — see DESIGN.md), so the retraction target is
// recovered by re-running canonicalization over the engagement's
// assertions rather than a stored id.
func (v *Validator) reject(ctx context.Context, engagementID string, target *domain.ProcessElement) error {
	conflict := &domain.ConflictObject{
		ID: uuid.NewString(), EngagementID: engagementID, MismatchType: domain.MismatchExistence,
		SourceARef: target.ID, SourceBRef: "pov_validator_rejection",
		Status: domain.ConflictOpen, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if _, err := v.conflicts.UpsertConflict(ctx, conflict); err != nil {
		return err
	}

	assertions, err := v.assertions.ListAssertions(ctx, engagementID)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, a := range assertions {
		if a.RetractedAt != nil || a.Subject.Kind != "Activity" {
			continue
		}
		canonical, err := v.resolver.Canonicalize(ctx, engagementID, a.Subject.ID)
		if err != nil {
			return err
		}
		if canonical != target.CanonicalName {
			continue
		}
		if err := v.assertions.SetRetraction(ctx, engagementID, a.ID, now, ""); err != nil {
			return err
		}
	}
	return nil
}
