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

// Package relational defines the system-of-record contract (spec §4.2
// "the relational store is the source of truth") as a set of small
// interfaces, composed into Store. Two implementations exist:
// memory (in-process, used by component tests and as a development
// backend) and postgres (pgx/sqlx-backed, the production backend).
package relational

import (
	"context"
	"time"

	"github.com/proth1/kmflow-sub002/pkg/domain"
)

// EngagementStore owns the tenancy boundary.
type EngagementStore interface {
	CreateEngagement(ctx context.Context, e *domain.Engagement) error
	GetEngagement(ctx context.Context, id string) (*domain.Engagement, error)
	UpdateEngagement(ctx context.Context, e *domain.Engagement) error
}

// EvidenceStore owns EvidenceItem and EvidenceFragment rows, scoped to
// one engagement per call.
type EvidenceStore interface {
	// CreateEvidenceItem inserts item unless an item with the same
	// (engagement_id, content_hash) already exists, in which case it
	// returns the existing item's ID and created=false (spec §4.1, §8 invariant 2).
	CreateEvidenceItem(ctx context.Context, item *domain.EvidenceItem) (id string, created bool, err error)
	GetEvidenceItem(ctx context.Context, engagementID, id string) (*domain.EvidenceItem, error)
	FindEvidenceByContentHash(ctx context.Context, engagementID, contentHash string) (*domain.EvidenceItem, error)
	UpdateEvidenceLifecycle(ctx context.Context, engagementID, id string, lifecycle domain.Lifecycle, validatedBy string) error
	UpdateEvidenceQuality(ctx context.Context, engagementID, id string, q domain.Quality) error
	SetEvidenceError(ctx context.Context, engagementID, id, lastError string) error
	ListActiveEvidence(ctx context.Context, engagementID string) ([]*domain.EvidenceItem, error)
	ListEvidenceByLifecycle(ctx context.Context, engagementID string, lifecycle domain.Lifecycle) ([]*domain.EvidenceItem, error)

	CreateFragments(ctx context.Context, fragments []*domain.EvidenceFragment) error
	ListFragments(ctx context.Context, evidenceID string) ([]*domain.EvidenceFragment, error)
	DeleteFragments(ctx context.Context, evidenceID string) error

	// DeleteByPrincipal implements graph.RelationalEraser (GDPR
	// erasure, SPEC_FULL.md §C.3): it deletes every EvidenceItem whose
	// Metadata["principal_id"] matches principalID, along with their
	// fragments, and returns the deleted fragment ids so the graph and
	// embedding erasure stages can be scoped to exactly those.
	DeleteByPrincipal(ctx context.Context, engagementID, principalID string) (fragmentIDs []string, err error)
}

// SeedTermStore owns vocabulary used for extraction focus and
// naming-variant resolution.
type SeedTermStore interface {
	CreateSeedTerm(ctx context.Context, t *domain.SeedTerm) error
	GetSeedTerm(ctx context.Context, engagementID, id string) (*domain.SeedTerm, error)
	ListSeedTerms(ctx context.Context, engagementID string) ([]*domain.SeedTerm, error)
	UpdateSeedTermStatus(ctx context.Context, engagementID, id string, status domain.SeedTermStatus, mergedInto string) error
}

// AssertionStore is append-only except for the one declared retraction
// stamp (spec §4.2).
type AssertionStore interface {
	CreateAssertion(ctx context.Context, a *domain.Assertion) error
	GetAssertion(ctx context.Context, engagementID, id string) (*domain.Assertion, error)
	ListAssertions(ctx context.Context, engagementID string) ([]*domain.Assertion, error)
	ListAssertionsByPredicate(ctx context.Context, engagementID string, predicate domain.EdgePredicate) ([]*domain.Assertion, error)
	// SetRetraction stamps retractedAt/supersededBy on id — the one
	// mutation an Assertion row is allowed (spec §4.2 bitemporal behavior).
	SetRetraction(ctx context.Context, engagementID, id string, retractedAt time.Time, supersededBy string) error
}

// ProcessElementStore owns regenerated-per-version POV output.
type ProcessElementStore interface {
	CreateProcessElements(ctx context.Context, elements []*domain.ProcessElement) error
	ListProcessElements(ctx context.Context, modelID string) ([]*domain.ProcessElement, error)
	UpdateProcessElement(ctx context.Context, e *domain.ProcessElement) error
}

// ProcessModelStore owns the version metadata row for each assembled
// POV (spec §4.6 "assemble"). The elements themselves live in
// ProcessElementStore, keyed by this row's ID as ModelID.
type ProcessModelStore interface {
	CreateProcessModel(ctx context.Context, m *domain.ProcessModel) error
	GetProcessModel(ctx context.Context, engagementID, id string) (*domain.ProcessModel, error)
	// LatestProcessModel returns the highest-version model for the
	// engagement, or kerrors.ErrNotFound if none exists yet.
	LatestProcessModel(ctx context.Context, engagementID string) (*domain.ProcessModel, error)
	ListProcessModels(ctx context.Context, engagementID string) ([]*domain.ProcessModel, error)
}

// ConflictStore is append-only for state transitions (audit) but
// idempotent on creation via UniqueKey (spec §4.3).
type ConflictStore interface {
	UpsertConflict(ctx context.Context, c *domain.ConflictObject) (created bool, err error)
	GetConflict(ctx context.Context, engagementID, id string) (*domain.ConflictObject, error)
	ListConflicts(ctx context.Context, engagementID string, status domain.ConflictStatus) ([]*domain.ConflictObject, error)
	UpdateConflictStatus(ctx context.Context, engagementID, id string, status domain.ConflictStatus) error
	ListOpenOlderThan(ctx context.Context, engagementID string, age time.Duration) ([]*domain.ConflictObject, error)
}

// TaskStore backs the async task runtime (spec §4.5).
type TaskStore interface {
	CreateTask(ctx context.Context, t *domain.Task) error
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus, lastError string) error
	UpdateTaskProgress(ctx context.Context, id string, progress float64, stageLabel string) error
	IncrementAttempts(ctx context.Context, id string) (int, error)
	SetCancelled(ctx context.Context, id string) error
	SetResult(ctx context.Context, id string, result map[string]any, status domain.TaskStatus) error
	CountInFlight(ctx context.Context, engagementID string) (int, error)
}

// OutboxEntry is one row of the transactional outbox used to project
// relational writes into the graph store (spec §4.2).
type OutboxEntry struct {
	ID           string
	EngagementID string
	Delta        []byte // encoded domain.GraphDelta
	CreatedAt    time.Time
	Applied      bool
	Attempts     int
}

// OutboxStore is written in the same transaction as the relational
// mutation it describes, then drained asynchronously.
type OutboxStore interface {
	AppendOutbox(ctx context.Context, e *OutboxEntry) error
	ListPending(ctx context.Context, engagementID string, limit int) ([]*OutboxEntry, error)
	MarkApplied(ctx context.Context, id string) error
	IncrementOutboxAttempts(ctx context.Context, id string) (int, error)
}

// AuditStore is append-only; the Postgres backend additionally
// enforces this at the database level with a rejecting trigger (spec
// §4.3 "emits an audit event").
type AuditStore interface {
	RecordAudit(ctx context.Context, e *domain.AuditEntry) error
	ListAudit(ctx context.Context, engagementID string, limit int) ([]*domain.AuditEntry, error)
}

// Store composes every sub-store. A single relational backend (memory
// or postgres) implements all of them; callers depend on the narrowest
// interface they need.
type Store interface {
	EngagementStore
	EvidenceStore
	SeedTermStore
	AssertionStore
	ProcessElementStore
	ProcessModelStore
	ConflictStore
	TaskStore
	OutboxStore
	AuditStore
}
