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

// Package consistency implements the cross-source disagreement scanner
// (spec §4.3): six detection rules over the current graph state, a
// three-way classifier (naming variant / temporal shift / genuine
// disagreement), and idempotent ConflictObject persistence.
package consistency

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/graph"
	"github.com/proth1/kmflow-sub002/pkg/seed"
	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
	"github.com/proth1/kmflow-sub002/pkg/storage/graphstore"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

// Escalator is notified when an open ConflictObject crosses the 48h
// auto-escalation threshold (spec §4.3 "Escalation"). pkg/notify
// implements it; kept as an interface here so this package never
// imports a notification transport.
type Escalator interface {
	NotifyEscalation(ctx context.Context, c *domain.ConflictObject) error
}

// Scanner runs the six consistency rules for one engagement and
// persists the conflicts they find.
type Scanner struct {
	assertions relational.AssertionStore
	conflicts  relational.ConflictStore
	graph      graphstore.Store
	resolver   *seed.Resolver
	writer     *graph.Writer
	scopes     []string
	escalator  Escalator
	logger     *zap.Logger
}

func NewScanner(assertions relational.AssertionStore, conflicts relational.ConflictStore, gstore graphstore.Store, resolver *seed.Resolver, writer *graph.Writer, authorityScopes []string, escalator Escalator, logger *zap.Logger) *Scanner {
	return &Scanner{
		assertions: assertions, conflicts: conflicts, graph: gstore,
		resolver: resolver, writer: writer, scopes: authorityScopes,
		escalator: escalator, logger: logger,
	}
}

// Scan runs every rule and returns the conflicts found or refreshed on
// this pass (including ones that already existed — UpsertConflict is
// the idempotency boundary, spec §4.3 "Idempotency").
func (s *Scanner) Scan(ctx context.Context, engagementID string) ([]*domain.ConflictObject, error) {
	var candidates []candidate

	seq, err := s.detectSequenceConflicts(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, seq...)

	role, err := s.detectRoleConflicts(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, role...)

	rule, err := s.detectRuleConflicts(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, rule...)

	existence, err := s.detectExistenceConflicts(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, existence...)

	io, err := s.detectIOMismatches(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, io...)

	gaps, err := s.detectControlGaps(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, gaps...)

	now := time.Now()
	var out []*domain.ConflictObject
	for _, c := range candidates {
		conflict, err := s.resolveCandidate(ctx, engagementID, c, now)
		if err != nil {
			return out, err
		}
		out = append(out, conflict)
	}
	return out, nil
}

func (s *Scanner) resolveCandidate(ctx context.Context, engagementID string, c candidate, now time.Time) (*domain.ConflictObject, error) {
	classification, detail, err := s.classify(ctx, engagementID, c)
	if err != nil {
		return nil, err
	}

	conflict := &domain.ConflictObject{
		ID:                uuid.NewString(),
		EngagementID:      engagementID,
		MismatchType:      c.mismatchType,
		SourceARef:        c.sourceARef,
		SourceBRef:        c.sourceBRef,
		ResolutionType:    classification,
		ResolutionDetails: detail,
		Status:            domain.ConflictOpen,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if classification != domain.ClassGenuineDisagree {
		conflict.Status = domain.ConflictResolved
	}

	if c.assertionA != nil && c.assertionB != nil {
		wA := AuthorityWeight(c.assertionA.Frame.AuthorityScope, s.scopes)
		wB := AuthorityWeight(c.assertionB.Frame.AuthorityScope, s.scopes)
		newest := c.assertionA.AssertedAt
		if c.assertionB.AssertedAt.After(newest) {
			newest = c.assertionB.AssertedAt
		}
		crit := s.criticalityOf(ctx, engagementID, c.activityRef)
		conflict.Severity = Severity(wA, wB, crit, newest, now)

		if classification == domain.ClassGenuineDisagree {
			annotation := "conflict:" + conflict.ID
			c.assertionA.EpistemicAnnotations = append(c.assertionA.EpistemicAnnotations, annotation)
			c.assertionB.EpistemicAnnotations = append(c.assertionB.EpistemicAnnotations, annotation)
		}
	}

	created, err := s.conflicts.UpsertConflict(ctx, conflict)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("conflict detected",
			logging.NewFields().Component("consistency").Operation("scan").Engagement(engagementID).Slice()...)
	}
	return conflict, nil
}

// criticalityOf reads the Activity node's "criticality" property,
// defaulting to the neutral midpoint when the node isn't projected yet
// or carries no such property (spec §4.3 severity formula).
func (s *Scanner) criticalityOf(ctx context.Context, engagementID string, ref domain.TypedRef) float64 {
	if ref.ID == "" {
		return 0.5
	}
	node, err := s.graph.GetNode(ctx, engagementID, ref.Kind, ref.ID)
	if err != nil || node == nil {
		return 0.5
	}
	if v, ok := node.Props["criticality"].(float64); ok {
		return v
	}
	return 0.5
}

// resolveNamingVariant emits the VARIANT_OF edge declared by spec
// §4.3's naming-variant resolution. VARIANT_OF is only a legal edge
// between two Activities (spec §3.3); for any other entity kind the
// conflict still downgrades to resolved, but with no graph edge
// emitted since the controlled vocabulary has no predicate for it.
func (s *Scanner) resolveNamingVariant(ctx context.Context, engagementID, kindA, nameA, kindB, nameB string) (string, error) {
	if kindA != "Activity" || kindB != "Activity" {
		return "resolved as naming variant (" + nameA + " <-> " + nameB + "); no VARIANT_OF edge for kind " + kindA, nil
	}
	assertion := &domain.Assertion{
		ID: uuid.NewString(), EngagementID: engagementID, Predicate: domain.PredVariantOf,
		Subject:    domain.TypedRef{Kind: "Activity", ID: nameA},
		Object:     domain.TypedRef{Kind: "Activity", ID: nameB},
		AssertedAt: time.Now(), ValidFrom: time.Now(),
	}
	if err := s.writer.WriteAssertion(ctx, assertion); err != nil {
		return "", err
	}
	return "emitted VARIANT_OF " + nameA + " <-> " + nameB, nil
}

// resolveTemporalShift emits SUPERSEDES from the newer assertion to the
// older one (spec §4.3 "Temporal shift" resolution).
func (s *Scanner) resolveTemporalShift(ctx context.Context, a, b *domain.Assertion) (string, error) {
	newer, older := a, b
	if b.AssertedAt.After(a.AssertedAt) {
		newer, older = b, a
	}
	supersede := &domain.Assertion{
		ID: uuid.NewString(), EngagementID: newer.EngagementID, Predicate: domain.PredSupersedes,
		Subject:    domain.TypedRef{Kind: "Assertion", ID: newer.ID},
		Object:     domain.TypedRef{Kind: "Assertion", ID: older.ID},
		AssertedAt: time.Now(), ValidFrom: time.Now(),
	}
	if err := s.writer.WriteAssertion(ctx, supersede); err != nil {
		return "", err
	}
	return "superseded " + older.ID + " with " + newer.ID, nil
}

// EscalateStale auto-escalates every open ConflictObject untouched for
// longer than age (spec §4.3 "Escalation", default 48h).
func (s *Scanner) EscalateStale(ctx context.Context, engagementID string, age time.Duration) (int, error) {
	stale, err := s.conflicts.ListOpenOlderThan(ctx, engagementID, age)
	if err != nil {
		return 0, err
	}
	for _, c := range stale {
		if err := s.conflicts.UpdateConflictStatus(ctx, engagementID, c.ID, domain.ConflictEscalated); err != nil {
			return 0, err
		}
		c.Status = domain.ConflictEscalated
		if s.escalator != nil {
			if err := s.escalator.NotifyEscalation(ctx, c); err != nil {
				return 0, err
			}
		}
		s.logger.Warn("conflict auto-escalated",
			logging.NewFields().Component("consistency").Operation("escalate").Engagement(engagementID).Slice()...)
	}
	return len(stale), nil
}

func currentlyValid(assertions []*domain.Assertion, now time.Time) []*domain.Assertion {
	var out []*domain.Assertion
	for _, a := range assertions {
		if a.CurrentlyValid(now) {
			out = append(out, a)
		}
	}
	return out
}
