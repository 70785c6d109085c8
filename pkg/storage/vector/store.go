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

// Package vector holds per-engagement embeddings for entities
// (Activity, Role, DataObject, ...) produced by triangulation (spec
// §4.4 step 3) and consumed by similarity search and by erasure's
// right-to-be-forgotten purge (spec §5).
package vector

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	kmath "github.com/proth1/kmflow-sub002/pkg/shared/math"
)

// Embedding is one entity's vector, scoped to an engagement and
// fragment so erasure can purge every row a retracted source
// contributed (spec §5 "EmbeddingPurger").
type Embedding struct {
	EngagementID string
	EntityKind   string
	EntityID     string
	FragmentID   string
	Vector       []float64
}

// id returns the composite key a store indexes by. An entity can have
// more than one Embedding (one per contributing fragment), so the key
// includes FragmentID.
func (e Embedding) id() string {
	return e.EngagementID + "|" + e.EntityKind + "|" + e.EntityID + "|" + e.FragmentID
}

// SimilarEntity is one FindSimilar match, ranked by descending
// cosine similarity.
type SimilarEntity struct {
	EntityKind string
	EntityID   string
	Similarity float64
	Rank       int
}

// Store is the per-engagement embedding index. MemoryStore is the
// only implementation; a durable backend would satisfy the same
// interface (spec §3.2's per-engagement model/dim pinning applies at
// the caller, not here).
type Store interface {
	Upsert(ctx context.Context, e Embedding) error
	FindSimilar(ctx context.Context, engagementID string, query []float64, limit int, threshold float64) ([]SimilarEntity, error)
	PurgeEmbeddings(ctx context.Context, engagementID string, fragmentIDs []string) error
	Count(engagementID string) int
}

// MemoryStore is a mutex-guarded in-memory Store, grounded on the
// teacher's in-process vector database: a flat map plus brute-force
// cosine ranking, adequate until an engagement's entity count
// justifies an indexed backend.
type MemoryStore struct {
	mu         sync.RWMutex
	embeddings map[string]Embedding
	logger     *zap.Logger
}

func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{embeddings: make(map[string]Embedding), logger: logger}
}

// Upsert stores or replaces e, keyed by (engagement, kind, entity, fragment).
func (s *MemoryStore) Upsert(_ context.Context, e Embedding) error {
	if e.EngagementID == "" || e.EntityID == "" {
		return kerrors.New(kerrors.ErrorTypeValidation, "embedding must have an engagement and entity id")
	}
	if len(e.Vector) == 0 {
		return kerrors.New(kerrors.ErrorTypeValidation, "embedding vector cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings[e.id()] = e
	return nil
}

// FindSimilar ranks every embedding in engagementID against query by
// cosine similarity, keeping matches at or above threshold, highest
// first, capped at limit.
func (s *MemoryStore) FindSimilar(_ context.Context, engagementID string, query []float64, limit int, threshold float64) ([]SimilarEntity, error) {
	if len(query) == 0 {
		return nil, kerrors.New(kerrors.ErrorTypeValidation, "query vector cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// One entity can carry several fragment embeddings; keep its best
	// match only, so FindSimilar ranks entities, not fragments.
	best := make(map[string]SimilarEntity)
	for _, e := range s.embeddings {
		if e.EngagementID != engagementID {
			continue
		}
		sim := kmath.CosineSimilarity(query, e.Vector)
		if sim < threshold {
			continue
		}
		key := e.EntityKind + "|" + e.EntityID
		if cur, ok := best[key]; !ok || sim > cur.Similarity {
			best[key] = SimilarEntity{EntityKind: e.EntityKind, EntityID: e.EntityID, Similarity: sim}
		}
	}

	out := make([]SimilarEntity, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].EntityID < out[j].EntityID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// PurgeEmbeddings implements graph.EmbeddingPurger: it removes every
// embedding row contributed by fragmentIDs, regardless of entity,
// within engagementID.
func (s *MemoryStore) PurgeEmbeddings(_ context.Context, engagementID string, fragmentIDs []string) error {
	want := make(map[string]bool, len(fragmentIDs))
	for _, f := range fragmentIDs {
		want[f] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.embeddings {
		if e.EngagementID == engagementID && want[e.FragmentID] {
			delete(s.embeddings, key)
		}
	}
	return nil
}

// Count returns the number of embedding rows held for engagementID,
// across all entities and fragments.
func (s *MemoryStore) Count(engagementID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.embeddings {
		if e.EngagementID == engagementID {
			n++
		}
	}
	return n
}
