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

// Package graph implements the dual-store consistency protocol (spec
// §4.2): a writer that validates and queues GraphDelta records onto the
// relational outbox, and a drain that applies them to the graph
// projection idempotently. The relational store remains the source of
// truth; the graph is eventually consistent with it.
package graph

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
	"github.com/proth1/kmflow-sub002/pkg/storage/graphstore"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

// Writer validates an Assertion against the controlled edge vocabulary
// and its structural rule, then queues it onto the outbox in the same
// transaction the relational mutation was made in (spec §4.2 write
// protocol steps 1-3). Structural checks read the graph projection, so
// they are best-effort against its current (eventually-consistent)
// state — a violation that only the projection lag would reveal is
// caught by the next reconciliation pass.
type Writer struct {
	outbox     relational.OutboxStore
	assertions relational.AssertionStore
	graph      graphstore.Store
	logger     *zap.Logger
}

func NewWriter(outbox relational.OutboxStore, assertions relational.AssertionStore, graph graphstore.Store, logger *zap.Logger) *Writer {
	return &Writer{outbox: outbox, assertions: assertions, graph: graph, logger: logger}
}

// WriteAssertion is the entry point for every edge-producing mutation.
// It enforces edge vocabulary (spec §3.3) and the predicate's
// structural rule, applies the bitemporal side effect for SUPERSEDES,
// and appends a GraphDelta to the outbox for async projection.
func (w *Writer) WriteAssertion(ctx context.Context, a *domain.Assertion) error {
	if !domain.ValidEdgeTypes(a.Predicate, a.Subject.Kind, a.Object.Kind) {
		return kerrors.Newf(kerrors.ErrorTypeInvalidEdge, "edge (%s, %s, %s) is not in the controlled vocabulary",
			a.Predicate, a.Subject.Kind, a.Object.Kind)
	}

	rule := domain.StructuralRuleFor(a.Predicate)
	if err := w.checkStructural(ctx, a.EngagementID, a.Predicate, rule, a.Subject, a.Object); err != nil {
		return err
	}

	if rule == domain.RuleBitemporal {
		if err := w.supersede(ctx, a); err != nil {
			return err
		}
	}

	edge := &domain.GraphEdge{
		Source: a.Subject, Predicate: a.Predicate, Target: a.Object,
		AssertedAt: a.AssertedAt, ValidFrom: a.ValidFrom, ValidTo: a.ValidTo,
	}
	if err := w.enqueue(ctx, a.EngagementID, domain.GraphDelta{EngagementID: a.EngagementID, Op: domain.DeltaUpsertEdge, Edge: edge}); err != nil {
		return err
	}

	if rule == domain.RuleSymmetric {
		mirror := &domain.GraphEdge{
			Source: a.Object, Predicate: a.Predicate, Target: a.Subject,
			AssertedAt: a.AssertedAt, ValidFrom: a.ValidFrom, ValidTo: a.ValidTo,
		}
		return w.enqueue(ctx, a.EngagementID, domain.GraphDelta{EngagementID: a.EngagementID, Op: domain.DeltaUpsertEdge, Edge: mirror})
	}
	return nil
}

// WriteNode queues a node upsert — used to project Activities, Roles,
// DataObjects, Policies, and the rest of the typed-graph entity kinds
// whenever the relational row backing them changes.
func (w *Writer) WriteNode(ctx context.Context, engagementID string, n *domain.GraphNode) error {
	return w.enqueue(ctx, engagementID, domain.GraphDelta{EngagementID: engagementID, Op: domain.DeltaUpsertNode, Node: n})
}

// ErasePrincipal queues the GDPR graph-deletion delta for fragmentIDs
// (spec §4.2 "GDPR erasure"); pkg/graph/erasure.go drives the rest of
// the state machine.
func (w *Writer) ErasePrincipal(ctx context.Context, engagementID string, fragmentIDs []string) error {
	return w.enqueue(ctx, engagementID, domain.GraphDelta{EngagementID: engagementID, Op: domain.DeltaDeletePrincipal, PrincipalFragmentIDs: fragmentIDs})
}

// supersede stamps the retraction on the superseded Assertion row
// (source of truth) and queues a matching retract-edge delta so the
// graph projection's "current truth" view (spec §4.2) converges too.
func (w *Writer) supersede(ctx context.Context, a *domain.Assertion) error {
	old, err := w.assertions.GetAssertion(ctx, a.EngagementID, a.Object.ID)
	if err != nil {
		return err
	}
	if err := w.assertions.SetRetraction(ctx, a.EngagementID, a.Object.ID, a.AssertedAt, a.ID); err != nil {
		return err
	}

	retractedAt := a.AssertedAt
	edge := &domain.GraphEdge{
		Source: old.Subject, Predicate: old.Predicate, Target: old.Object,
		AssertedAt: old.AssertedAt, ValidFrom: old.ValidFrom, ValidTo: old.ValidTo,
		RetractedAt: &retractedAt, SupersededBy: a.ID,
	}
	return w.enqueue(ctx, a.EngagementID, domain.GraphDelta{EngagementID: a.EngagementID, Op: domain.DeltaRetractEdge, Edge: edge})
}

func (w *Writer) enqueue(ctx context.Context, engagementID string, delta domain.GraphDelta) error {
	raw, err := json.Marshal(delta)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "encode graph delta")
	}
	entry := &relational.OutboxEntry{
		ID: uuid.NewString(), EngagementID: engagementID, Delta: raw, CreatedAt: time.Now(),
	}
	if err := w.outbox.AppendOutbox(ctx, entry); err != nil {
		return err
	}
	w.logger.Debug("queued graph delta",
		logging.NewFields().Component("graph").Operation("write").Engagement(engagementID).Slice()...)
	return nil
}

// checkStructural enforces the structural rule attached to predicate,
// reading the current graph projection (spec §3.3).
func (w *Writer) checkStructural(ctx context.Context, engagementID string, predicate domain.EdgePredicate, rule domain.StructuralRule, source, target domain.TypedRef) error {
	switch rule {
	case domain.RuleAcyclicGlobal:
		return w.rejectIfReachable(ctx, engagementID, predicate, target, source, nil)

	case domain.RuleAcyclicPerVariant:
		group, err := w.variantGroup(ctx, engagementID, source, target)
		if err != nil {
			return err
		}
		return w.rejectIfReachable(ctx, engagementID, predicate, target, source, group)

	case domain.RuleTreeNoCycles:
		return w.rejectIfReachable(ctx, engagementID, predicate, target, source, nil)

	default:
		return nil
	}
}

// rejectIfReachable returns InvalidEdgeError if to is already reachable
// from from via predicate edges (optionally restricted to within) —
// i.e. adding a from->to edge on top would close a cycle.
func (w *Writer) rejectIfReachable(ctx context.Context, engagementID string, predicate domain.EdgePredicate, from, to domain.TypedRef, within map[domain.TypedRef]bool) error {
	reachable, err := w.reachable(ctx, engagementID, predicate, from, to, within)
	if err != nil {
		return err
	}
	if reachable {
		return kerrors.Newf(kerrors.ErrorTypeInvalidEdge, "%s edge from %s:%s to %s:%s would close a cycle",
			predicate, to.Kind, to.ID, from.Kind, from.ID)
	}
	return nil
}

func (w *Writer) reachable(ctx context.Context, engagementID string, predicate domain.EdgePredicate, from, to domain.TypedRef, within map[domain.TypedRef]bool) (bool, error) {
	visited := map[domain.TypedRef]bool{from: true}
	queue := []domain.TypedRef{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true, nil
		}
		edges, err := w.graph.ListEdgesFrom(ctx, engagementID, cur, predicate)
		if err != nil {
			return false, err
		}
		for _, e := range edges {
			if e.RetractedAt != nil {
				continue
			}
			if within != nil && !within[e.Target] {
				continue
			}
			if !visited[e.Target] {
				visited[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	return false, nil
}

// variantGroup returns the set of refs transitively connected to seeds
// via VARIANT_OF edges (in either direction), always including the
// seeds themselves — the scope "acyclic within a single variant" is
// enforced over (spec §3.3).
func (w *Writer) variantGroup(ctx context.Context, engagementID string, seeds ...domain.TypedRef) (map[domain.TypedRef]bool, error) {
	group := make(map[domain.TypedRef]bool, len(seeds))
	queue := append([]domain.TypedRef{}, seeds...)
	for _, s := range seeds {
		group[s] = true
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		out, err := w.graph.ListEdgesFrom(ctx, engagementID, cur, domain.PredVariantOf)
		if err != nil {
			return nil, err
		}
		in, err := w.graph.ListEdgesTo(ctx, engagementID, cur, domain.PredVariantOf)
		if err != nil {
			return nil, err
		}
		for _, e := range out {
			if !group[e.Target] {
				group[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
		for _, e := range in {
			if !group[e.Source] {
				group[e.Source] = true
				queue = append(queue, e.Source)
			}
		}
	}
	return group, nil
}
