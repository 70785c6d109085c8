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

	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
)

// ErasureState is the GDPR erasure task's own state machine (spec §4.2
// "Erasure is a durable multi-step task with its own state machine";
// the states are SPEC_FULL.md's supplemented detail, §C.3).
type ErasureState string

const (
	ErasureRequested         ErasureState = "requested"
	ErasureRelationalDeleted ErasureState = "relational_deleted"
	ErasureGraphEnqueued     ErasureState = "graph_enqueued"
	ErasureGraphDeleted      ErasureState = "graph_deleted"
	ErasureEmbeddingsPurged  ErasureState = "embeddings_purged"
	ErasureCompleted         ErasureState = "completed"
	ErasureFailed            ErasureState = "failed"
)

var legalErasureTransitions = map[ErasureState]map[ErasureState]bool{
	ErasureRequested:         {ErasureRelationalDeleted: true, ErasureFailed: true},
	ErasureRelationalDeleted: {ErasureGraphEnqueued: true, ErasureFailed: true},
	ErasureGraphEnqueued:     {ErasureGraphDeleted: true, ErasureFailed: true},
	ErasureGraphDeleted:      {ErasureEmbeddingsPurged: true, ErasureFailed: true},
	ErasureEmbeddingsPurged:  {ErasureCompleted: true, ErasureFailed: true},
	ErasureCompleted:         {},
	ErasureFailed:            {},
}

// CanTransitionErasure reports whether an erasure task may move from
// `from` to `to`. Every non-terminal state may fail; otherwise the
// machine only moves forward one stage at a time.
func CanTransitionErasure(from, to ErasureState) bool {
	if from == to {
		return false
	}
	next, ok := legalErasureTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// RelationalEraser deletes every relational row owned by principalID
// within engagementID and returns the ids of the evidence fragments it
// touched, so the graph and embedding stages can be scoped to exactly
// those fragments.
type RelationalEraser interface {
	DeleteByPrincipal(ctx context.Context, engagementID, principalID string) (fragmentIDs []string, err error)
}

// EmbeddingPurger removes the vector-store rows for a set of fragments.
type EmbeddingPurger interface {
	PurgeEmbeddings(ctx context.Context, engagementID string, fragmentIDs []string) error
}

// Erasure drives one principal's erasure through every stage. Each
// stage is individually idempotent. A failed Erasure is terminal: Run
// does not resume it.
type Erasure struct {
	EngagementID string
	PrincipalID  string
	State        ErasureState
	FragmentIDs  []string
	LastError    string
}

// Executor wires the collaborators each erasure stage needs. The graph
// deletion stage drives the same outbox drain the rest of the
// projection uses (spec §5 "the graph store is written only via the
// outbox projection; no component writes directly") rather than
// touching the graph store itself.
type Executor struct {
	relational RelationalEraser
	writer     *Writer
	drain      *Drain
	embeddings EmbeddingPurger
	logger     *zap.Logger
}

func NewExecutor(relational RelationalEraser, writer *Writer, drain *Drain, embeddings EmbeddingPurger, logger *zap.Logger) *Executor {
	return &Executor{relational: relational, writer: writer, drain: drain, embeddings: embeddings, logger: logger}
}

// Run advances e through every remaining stage, stopping at the first
// error (which sets e.State to ErasureFailed and records LastError) or
// at ErasureCompleted.
func (ex *Executor) Run(ctx context.Context, e *Erasure) error {
	fields := logging.NewFields().Component("graph").Operation("erasure").Engagement(e.EngagementID)

	if e.State == "" {
		e.State = ErasureRequested
	}

	for e.State != ErasureCompleted {
		var next ErasureState
		var err error

		switch e.State {
		case ErasureRequested:
			e.FragmentIDs, err = ex.relational.DeleteByPrincipal(ctx, e.EngagementID, e.PrincipalID)
			next = ErasureRelationalDeleted

		case ErasureRelationalDeleted:
			err = ex.writer.ErasePrincipal(ctx, e.EngagementID, e.FragmentIDs)
			next = ErasureGraphEnqueued

		case ErasureGraphEnqueued:
			// Drive the same outbox drain the async projection uses,
			// rather than writing the graph store directly, so erasure
			// goes through the one path that is allowed to mutate it.
			_, err = ex.drain.Run(ctx, e.EngagementID, 0)
			next = ErasureGraphDeleted

		case ErasureGraphDeleted:
			err = ex.embeddings.PurgeEmbeddings(ctx, e.EngagementID, e.FragmentIDs)
			next = ErasureEmbeddingsPurged

		case ErasureEmbeddingsPurged:
			next = ErasureCompleted

		default:
			err = kerrors.Newf(kerrors.ErrorTypeValidation, "erasure task in unexpected state %q", e.State)
		}

		if err != nil {
			e.State = ErasureFailed
			e.LastError = err.Error()
			ex.logger.Error("erasure stage failed", fields.Err(err).Slice()...)
			return err
		}
		if !CanTransitionErasure(e.State, next) && next != ErasureCompleted {
			return kerrors.Newf(kerrors.ErrorTypeIllegalTransition, "erasure cannot move from %s to %s", e.State, next)
		}
		e.State = next
	}
	return nil
}
