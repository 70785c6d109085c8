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

package seed

import (
	"context"

	"github.com/google/uuid"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/domain"
)

// Register creates a new active SeedTerm.
func (r *Resolver) Register(ctx context.Context, engagementID, term string, category domain.SeedTermCategory, source domain.SeedTermSource) (string, error) {
	t := &domain.SeedTerm{
		ID: uuid.NewString(), EngagementID: engagementID, Term: term,
		Category: category, Source: source, Status: domain.SeedStatusActive,
	}
	if err := r.store.CreateSeedTerm(ctx, t); err != nil {
		return "", err
	}
	return t.ID, nil
}

// Merge marks fromID merged into intoID. The merge is rejected if it
// would close a cycle in the merge chain (spec §4.4 step 3).
func (r *Resolver) Merge(ctx context.Context, engagementID, fromID, intoID string) error {
	if fromID == intoID {
		return kerrors.ErrSeedCycle
	}

	terms, err := r.store.ListSeedTerms(ctx, engagementID)
	if err != nil {
		return err
	}
	byID := make(map[string]*domain.SeedTerm, len(terms))
	for _, t := range terms {
		byID[t.ID] = t
	}

	// Walk from intoID's existing chain: if it ever reaches fromID,
	// merging fromID->intoID would close a cycle.
	visited := map[string]bool{intoID: true}
	cur := byID[intoID]
	for cur != nil && cur.Status == domain.SeedStatusMerged && cur.MergedInto != "" {
		if cur.MergedInto == fromID {
			return kerrors.ErrSeedCycle
		}
		if visited[cur.MergedInto] {
			return kerrors.ErrSeedCycle
		}
		visited[cur.MergedInto] = true
		cur = byID[cur.MergedInto]
	}

	return r.store.UpdateSeedTermStatus(ctx, engagementID, fromID, domain.SeedStatusMerged, intoID)
}
