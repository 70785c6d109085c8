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

package graphstore

import (
	"context"
	"sync"
	"time"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/domain"
)

type nodeKey struct {
	engagementID string
	kind         string
	id           string
}

// MemoryStore is an in-process adjacency-list implementation of Store,
// used by component tests and as a development backend for the outbox
// drain (spec §4.2).
type MemoryStore struct {
	mu    sync.Mutex
	nodes map[nodeKey]*domain.GraphNode
	edges map[string]map[string]*domain.GraphEdge // engagementID -> key -> edge
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[nodeKey]*domain.GraphNode),
		edges: make(map[string]map[string]*domain.GraphEdge),
	}
}

func (m *MemoryStore) UpsertNode(_ context.Context, engagementID string, n *domain.GraphNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.nodes[nodeKey{engagementID, n.Kind, n.ID}] = &cp
	return nil
}

func (m *MemoryStore) GetNode(_ context.Context, engagementID, kind, id string) (*domain.GraphNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeKey{engagementID, kind, id}]
	if !ok {
		return nil, kerrors.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *MemoryStore) UpsertEdge(_ context.Context, engagementID string, e *domain.GraphEdge) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey, ok := m.edges[engagementID]
	if !ok {
		byKey = make(map[string]*domain.GraphEdge)
		m.edges[engagementID] = byKey
	}
	key := e.Key()
	if _, exists := byKey[key]; exists {
		return false, nil
	}
	cp := *e
	byKey[key] = &cp
	return true, nil
}

func (m *MemoryStore) RetractEdge(_ context.Context, engagementID, key string, retractedAt time.Time, supersededBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey, ok := m.edges[engagementID]
	if !ok {
		return kerrors.ErrNotFound
	}
	e, ok := byKey[key]
	if !ok {
		return kerrors.ErrNotFound
	}
	t := retractedAt
	e.RetractedAt = &t
	e.SupersededBy = supersededBy
	return nil
}

func (m *MemoryStore) ListEdgesByPredicate(_ context.Context, engagementID string, predicate domain.EdgePredicate) ([]*domain.GraphEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.GraphEdge
	for _, e := range m.edges[engagementID] {
		if e.Predicate == predicate {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListEdgesFrom(_ context.Context, engagementID string, ref domain.TypedRef, predicate domain.EdgePredicate) ([]*domain.GraphEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.GraphEdge
	for _, e := range m.edges[engagementID] {
		if e.Predicate == predicate && e.Source == ref {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListEdgesTo(_ context.Context, engagementID string, ref domain.TypedRef, predicate domain.EdgePredicate) ([]*domain.GraphEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.GraphEdge
	for _, e := range m.edges[engagementID] {
		if e.Predicate == predicate && e.Target == ref {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) DeletePrincipal(_ context.Context, engagementID string, fragmentIDs []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owns := func(props map[string]any) bool {
		raw, ok := props["fragment_ids"]
		if !ok {
			return false
		}
		ids, ok := raw.([]string)
		if !ok {
			return false
		}
		for _, id := range ids {
			for _, f := range fragmentIDs {
				if id == f {
					return true
				}
			}
		}
		return false
	}

	deleted := 0
	condemned := make(map[nodeKey]bool)
	for k, n := range m.nodes {
		if k.engagementID == engagementID && owns(n.Props) {
			condemned[k] = true
		}
	}
	for k := range condemned {
		delete(m.nodes, k)
		deleted++
	}

	isCondemned := func(ref domain.TypedRef) bool {
		return condemned[nodeKey{engagementID, ref.Kind, ref.ID}]
	}
	for key, e := range m.edges[engagementID] {
		if isCondemned(e.Source) || isCondemned(e.Target) {
			delete(m.edges[engagementID], key)
		}
	}
	return deleted, nil
}

func (m *MemoryStore) CountNodesByKind(_ context.Context, engagementID string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for k := range m.nodes {
		if k.engagementID == engagementID {
			out[k.kind]++
		}
	}
	return out, nil
}

func (m *MemoryStore) CountEdgesByPredicate(_ context.Context, engagementID string) (map[domain.EdgePredicate]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.EdgePredicate]int)
	for _, e := range m.edges[engagementID] {
		out[e.Predicate]++
	}
	return out, nil
}

func (m *MemoryStore) ListNodeIDs(_ context.Context, engagementID, kind string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.nodes {
		if k.engagementID == engagementID && k.kind == kind {
			out = append(out, k.id)
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
