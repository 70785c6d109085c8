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

package relational

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/domain"
)

// MemoryStore is an in-process Store implementation. It backs unit
// tests for every component and can stand in for the postgres backend
// in development; row-level locking is approximated with a single
// mutex since there is no cross-process contention to model.
type MemoryStore struct {
	mu sync.Mutex

	engagements map[string]*domain.Engagement
	evidence    map[string]*domain.EvidenceItem
	fragments   map[string][]*domain.EvidenceFragment // evidenceID -> fragments
	seedTerms   map[string]*domain.SeedTerm
	assertions  map[string]*domain.Assertion
	elements    map[string][]*domain.ProcessElement // modelID -> elements
	models      map[string]*domain.ProcessModel     // modelID -> model
	conflicts   map[string]*domain.ConflictObject
	conflictKey map[string]string // uniqueKey -> conflictID
	tasks       map[string]*domain.Task
	outbox      map[string]*OutboxEntry
	outboxOrder []string
	audit       []*domain.AuditEntry
	auditSeq    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		engagements: map[string]*domain.Engagement{},
		evidence:    map[string]*domain.EvidenceItem{},
		fragments:   map[string][]*domain.EvidenceFragment{},
		seedTerms:   map[string]*domain.SeedTerm{},
		assertions:  map[string]*domain.Assertion{},
		elements:    map[string][]*domain.ProcessElement{},
		models:      map[string]*domain.ProcessModel{},
		conflicts:   map[string]*domain.ConflictObject{},
		conflictKey: map[string]string{},
		tasks:       map[string]*domain.Task{},
		outbox:      map[string]*OutboxEntry{},
	}
}

// --- Audit ---

func (m *MemoryStore) RecordAudit(_ context.Context, e *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditSeq++
	cp := *e
	cp.ID = m.auditSeq
	if cp.RecordedAt.IsZero() {
		cp.RecordedAt = time.Now()
	}
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *MemoryStore) ListAudit(_ context.Context, engagementID string, limit int) ([]*domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if e.EngagementID != engagementID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- Engagements ---

func (m *MemoryStore) CreateEngagement(_ context.Context, e *domain.Engagement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.engagements[e.ID] = &cp
	return nil
}

func (m *MemoryStore) GetEngagement(_ context.Context, id string) (*domain.Engagement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engagements[id]
	if !ok {
		return nil, kerrors.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) UpdateEngagement(_ context.Context, e *domain.Engagement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.engagements[e.ID]; !ok {
		return kerrors.ErrNotFound
	}
	cp := *e
	m.engagements[e.ID] = &cp
	return nil
}

// --- Evidence ---

func (m *MemoryStore) CreateEvidenceItem(_ context.Context, item *domain.EvidenceItem) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.evidence {
		if existing.EngagementID == item.EngagementID && existing.ContentHash == item.ContentHash {
			return existing.ID, false, nil
		}
	}
	cp := *item
	m.evidence[item.ID] = &cp
	return item.ID, true, nil
}

func (m *MemoryStore) GetEvidenceItem(_ context.Context, engagementID, id string) (*domain.EvidenceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.evidence[id]
	if !ok || e.EngagementID != engagementID {
		return nil, kerrors.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) FindEvidenceByContentHash(_ context.Context, engagementID, contentHash string) (*domain.EvidenceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.evidence {
		if e.EngagementID == engagementID && e.ContentHash == contentHash {
			cp := *e
			return &cp, nil
		}
	}
	return nil, kerrors.ErrNotFound
}

func (m *MemoryStore) UpdateEvidenceLifecycle(_ context.Context, engagementID, id string, lifecycle domain.Lifecycle, validatedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.evidence[id]
	if !ok || e.EngagementID != engagementID {
		return kerrors.ErrNotFound
	}
	e.Lifecycle = lifecycle
	if validatedBy != "" {
		e.ValidatedBy = validatedBy
	}
	return nil
}

func (m *MemoryStore) UpdateEvidenceQuality(_ context.Context, engagementID, id string, q domain.Quality) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.evidence[id]
	if !ok || e.EngagementID != engagementID {
		return kerrors.ErrNotFound
	}
	e.Quality = q
	return nil
}

func (m *MemoryStore) SetEvidenceError(_ context.Context, engagementID, id, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.evidence[id]
	if !ok || e.EngagementID != engagementID {
		return kerrors.ErrNotFound
	}
	e.LastError = lastError
	return nil
}

func (m *MemoryStore) ListActiveEvidence(ctx context.Context, engagementID string) ([]*domain.EvidenceItem, error) {
	return m.ListEvidenceByLifecycle(ctx, engagementID, domain.LifecycleActive)
}

func (m *MemoryStore) ListEvidenceByLifecycle(_ context.Context, engagementID string, lifecycle domain.Lifecycle) ([]*domain.EvidenceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.EvidenceItem
	for _, e := range m.evidence {
		if e.EngagementID == engagementID && e.Lifecycle == lifecycle {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateFragments(_ context.Context, fragments []*domain.EvidenceFragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range fragments {
		cp := *f
		m.fragments[f.EvidenceID] = append(m.fragments[f.EvidenceID], &cp)
	}
	return nil
}

func (m *MemoryStore) ListFragments(_ context.Context, evidenceID string) ([]*domain.EvidenceFragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.EvidenceFragment{}, m.fragments[evidenceID]...), nil
}

func (m *MemoryStore) DeleteFragments(_ context.Context, evidenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fragments, evidenceID)
	return nil
}

func (m *MemoryStore) DeleteByPrincipal(_ context.Context, engagementID, principalID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var fragmentIDs []string
	for id, item := range m.evidence {
		if item.EngagementID != engagementID {
			continue
		}
		if pid, _ := item.Metadata["principal_id"].(string); pid != principalID {
			continue
		}
		for _, f := range m.fragments[id] {
			fragmentIDs = append(fragmentIDs, f.ID)
		}
		delete(m.fragments, id)
		delete(m.evidence, id)
	}
	return fragmentIDs, nil
}

// --- Seed terms ---

func (m *MemoryStore) CreateSeedTerm(_ context.Context, t *domain.SeedTerm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.seedTerms[t.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSeedTerm(_ context.Context, engagementID, id string) (*domain.SeedTerm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.seedTerms[id]
	if !ok || t.EngagementID != engagementID {
		return nil, kerrors.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListSeedTerms(_ context.Context, engagementID string) ([]*domain.SeedTerm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.SeedTerm
	for _, t := range m.seedTerms {
		if t.EngagementID == engagementID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateSeedTermStatus(_ context.Context, engagementID, id string, status domain.SeedTermStatus, mergedInto string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.seedTerms[id]
	if !ok || t.EngagementID != engagementID {
		return kerrors.ErrNotFound
	}
	t.Status = status
	t.MergedInto = mergedInto
	return nil
}

// --- Assertions ---

func (m *MemoryStore) CreateAssertion(_ context.Context, a *domain.Assertion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.assertions[a.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAssertion(_ context.Context, engagementID, id string) (*domain.Assertion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assertions[id]
	if !ok || a.EngagementID != engagementID {
		return nil, kerrors.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ListAssertions(_ context.Context, engagementID string) ([]*domain.Assertion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Assertion
	for _, a := range m.assertions {
		if a.EngagementID == engagementID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListAssertionsByPredicate(_ context.Context, engagementID string, predicate domain.EdgePredicate) ([]*domain.Assertion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Assertion
	for _, a := range m.assertions {
		if a.EngagementID == engagementID && a.Predicate == predicate {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) SetRetraction(_ context.Context, engagementID, id string, retractedAt time.Time, supersededBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assertions[id]
	if !ok || a.EngagementID != engagementID {
		return kerrors.ErrNotFound
	}
	t := retractedAt
	a.RetractedAt = &t
	a.SupersededBy = supersededBy
	return nil
}

// --- Process elements ---

func (m *MemoryStore) CreateProcessElements(_ context.Context, elements []*domain.ProcessElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range elements {
		cp := *e
		m.elements[e.ModelID] = append(m.elements[e.ModelID], &cp)
	}
	return nil
}

func (m *MemoryStore) ListProcessElements(_ context.Context, modelID string) ([]*domain.ProcessElement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.ProcessElement{}, m.elements[modelID]...), nil
}

func (m *MemoryStore) UpdateProcessElement(_ context.Context, e *domain.ProcessElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.elements[e.ModelID]
	for i, existing := range list {
		if existing.ID == e.ID {
			cp := *e
			list[i] = &cp
			return nil
		}
	}
	return kerrors.ErrNotFound
}

// --- Process models ---

func (m *MemoryStore) CreateProcessModel(_ context.Context, model *domain.ProcessModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *model
	m.models[model.ID] = &cp
	return nil
}

func (m *MemoryStore) GetProcessModel(_ context.Context, engagementID, id string) (*domain.ProcessModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[id]
	if !ok || model.EngagementID != engagementID {
		return nil, kerrors.ErrNotFound
	}
	cp := *model
	return &cp, nil
}

func (m *MemoryStore) LatestProcessModel(_ context.Context, engagementID string) (*domain.ProcessModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.ProcessModel
	for _, model := range m.models {
		if model.EngagementID != engagementID {
			continue
		}
		if latest == nil || model.Version > latest.Version {
			latest = model
		}
	}
	if latest == nil {
		return nil, kerrors.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) ListProcessModels(_ context.Context, engagementID string) ([]*domain.ProcessModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ProcessModel
	for _, model := range m.models {
		if model.EngagementID == engagementID {
			cp := *model
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// --- Conflicts ---

func (m *MemoryStore) UpsertConflict(_ context.Context, c *domain.ConflictObject) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := c.EngagementID + "|" + c.UniqueKey()
	if existingID, ok := m.conflictKey[key]; ok {
		c.ID = existingID
		return false, nil
	}
	cp := *c
	m.conflicts[c.ID] = &cp
	m.conflictKey[key] = c.ID
	return true, nil
}

func (m *MemoryStore) GetConflict(_ context.Context, engagementID, id string) (*domain.ConflictObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	if !ok || c.EngagementID != engagementID {
		return nil, kerrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListConflicts(_ context.Context, engagementID string, status domain.ConflictStatus) ([]*domain.ConflictObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ConflictObject
	for _, c := range m.conflicts {
		if c.EngagementID != engagementID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) UpdateConflictStatus(_ context.Context, engagementID, id string, status domain.ConflictStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	if !ok || c.EngagementID != engagementID {
		return kerrors.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListOpenOlderThan(_ context.Context, engagementID string, age time.Duration) ([]*domain.ConflictObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-age)
	var out []*domain.ConflictObject
	for _, c := range m.conflicts {
		if c.EngagementID == engagementID && c.Status == domain.ConflictOpen && c.CreatedAt.Before(cutoff) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Tasks ---

func (m *MemoryStore) CreateTask(_ context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, kerrors.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) UpdateTaskStatus(_ context.Context, id string, status domain.TaskStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return kerrors.ErrNotFound
	}
	if !domain.CanTransitionTask(t.Status, status) {
		return kerrors.Newf(kerrors.ErrorTypeIllegalTransition, "task %s: %s -> %s", id, t.Status, status)
	}
	t.Status = status
	t.LastError = lastError
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) UpdateTaskProgress(_ context.Context, id string, progress float64, stageLabel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return kerrors.ErrNotFound
	}
	if progress < t.Progress {
		return kerrors.Newf(kerrors.ErrorTypeValidation, "progress must be monotonically non-decreasing: %v -> %v", t.Progress, progress)
	}
	t.Progress = progress
	t.StageLabel = stageLabel
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) IncrementAttempts(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return 0, kerrors.ErrNotFound
	}
	t.Attempts++
	return t.Attempts, nil
}

func (m *MemoryStore) SetCancelled(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return kerrors.ErrNotFound
	}
	t.Cancelled = true
	return nil
}

func (m *MemoryStore) SetResult(_ context.Context, id string, result map[string]any, status domain.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return kerrors.ErrNotFound
	}
	if !domain.CanTransitionTask(t.Status, status) {
		return kerrors.Newf(kerrors.ErrorTypeIllegalTransition, "task %s: %s -> %s", id, t.Status, status)
	}
	t.Result = result
	t.Status = status
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CountInFlight(_ context.Context, engagementID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.EngagementID == engagementID && (t.Status == domain.TaskQueued || t.Status == domain.TaskRunning) {
			n++
		}
	}
	return n, nil
}

// --- Outbox ---

func (m *MemoryStore) AppendOutbox(_ context.Context, e *OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.outbox[e.ID] = &cp
	m.outboxOrder = append(m.outboxOrder, e.ID)
	return nil
}

func (m *MemoryStore) ListPending(_ context.Context, engagementID string, limit int) ([]*OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*OutboxEntry
	for _, id := range m.outboxOrder {
		e := m.outbox[id]
		if e.EngagementID != engagementID || e.Applied {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkApplied(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.outbox[id]
	if !ok {
		return kerrors.ErrNotFound
	}
	e.Applied = true
	return nil
}

func (m *MemoryStore) IncrementOutboxAttempts(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.outbox[id]
	if !ok {
		return 0, kerrors.ErrNotFound
	}
	e.Attempts++
	return e.Attempts, nil
}

var _ Store = (*MemoryStore)(nil)
