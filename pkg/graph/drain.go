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

package graph

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/reliability"
	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
	"github.com/proth1/kmflow-sub002/pkg/storage/graphstore"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

// Drain applies pending outbox entries to the graph projection (spec
// §4.2 write protocol step 4-5). Apply is idempotent; failures are
// retried up to the configured policy, after which a ProjectionLag
// alarm is raised and the entry is left pending for the next cycle
// rather than dropped.
type Drain struct {
	outbox  relational.OutboxStore
	graph   graphstore.Store
	breaker *reliability.CircuitBreaker
	policy  reliability.Policy
	logger  *zap.Logger
}

func NewDrain(outbox relational.OutboxStore, graph graphstore.Store, breaker *reliability.CircuitBreaker, policy reliability.Policy, logger *zap.Logger) *Drain {
	return &Drain{outbox: outbox, graph: graph, breaker: breaker, policy: policy, logger: logger}
}

// Run drains up to limit pending entries for engagementID. It returns
// the number successfully applied; a ProjectionLag error is returned
// (not a panic) once any single entry exceeds the retry budget, so the
// caller can freeze dependent scans per spec §4.2 step 5.
func (d *Drain) Run(ctx context.Context, engagementID string, limit int) (int, error) {
	entries, err := d.outbox.ListPending(ctx, engagementID, limit)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, entry := range entries {
		applyErr := d.breaker.Call(func() error { return d.applyOne(ctx, entry) })
		if applyErr == nil {
			if err := d.outbox.MarkApplied(ctx, entry.ID); err != nil {
				return applied, err
			}
			applied++
			continue
		}

		attempts, err := d.outbox.IncrementOutboxAttempts(ctx, entry.ID)
		if err != nil {
			return applied, err
		}
		d.logger.Warn("graph projection apply failed",
			logging.NewFields().Component("graph").Operation("drain").Engagement(engagementID).Err(applyErr).Slice()...)
		if attempts >= d.policy.MaxAttempts {
			return applied, kerrors.Newf(kerrors.ErrorTypeProjectionLag,
				"outbox entry %s exceeded %d attempts projecting to graph", entry.ID, d.policy.MaxAttempts)
		}
	}
	return applied, nil
}

func (d *Drain) applyOne(ctx context.Context, entry *relational.OutboxEntry) error {
	var delta domain.GraphDelta
	if err := json.Unmarshal(entry.Delta, &delta); err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "decode graph delta")
	}

	switch delta.Op {
	case domain.DeltaUpsertNode:
		if delta.Node == nil {
			return kerrors.New(kerrors.ErrorTypeValidation, "upsert_node delta missing node")
		}
		return d.graph.UpsertNode(ctx, delta.EngagementID, delta.Node)

	case domain.DeltaUpsertEdge:
		if delta.Edge == nil {
			return kerrors.New(kerrors.ErrorTypeValidation, "upsert_edge delta missing edge")
		}
		_, err := d.graph.UpsertEdge(ctx, delta.EngagementID, delta.Edge)
		return err

	case domain.DeltaRetractEdge:
		if delta.Edge == nil || delta.Edge.RetractedAt == nil {
			return kerrors.New(kerrors.ErrorTypeValidation, "retract_edge delta missing edge or retracted_at")
		}
		// If the matching upsert hasn't landed yet, outbox entries can
		// apply out of the order they were produced in under
		// at-least-once redelivery; returning the NotFound error here
		// lets the caller retry rather than drop the retraction.
		return d.graph.RetractEdge(ctx, delta.EngagementID, delta.Edge.Key(), *delta.Edge.RetractedAt, delta.Edge.SupersededBy)

	case domain.DeltaDeletePrincipal:
		_, err := d.graph.DeletePrincipal(ctx, delta.EngagementID, delta.PrincipalFragmentIDs)
		return err

	default:
		return kerrors.Newf(kerrors.ErrorTypeValidation, "unknown graph delta op %q", delta.Op)
	}
}
