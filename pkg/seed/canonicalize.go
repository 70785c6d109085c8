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

// Package seed resolves SeedTerm merge chains for canonicalization
// (spec §4.4 step 3 "Triangulate") and naming-variant detection (spec
// §4.3).
package seed

import (
	"context"
	"strings"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

// Resolver resolves raw extracted terms to their canonical form via
// the active SeedTerm merge chain.
type Resolver struct {
	store relational.SeedTermStore
}

func NewResolver(store relational.SeedTermStore) *Resolver {
	return &Resolver{store: store}
}

// fold lowercases and trims a term, matching the "case-insensitive
// unique within (engagement, active)" rule (spec §3.1).
func fold(term string) string {
	return strings.TrimSpace(strings.ToLower(term))
}

// Canonicalize resolves term to its canonical form: lowercase-fold,
// trim, then walk the active merge chain to its root (spec §4.4 step
// 3). A chain that revisits a term it has already seen is a merge
// cycle and returns kerrors.ErrSeedCycle.
func (r *Resolver) Canonicalize(ctx context.Context, engagementID, term string) (string, error) {
	folded := fold(term)
	terms, err := r.store.ListSeedTerms(ctx, engagementID)
	if err != nil {
		return "", err
	}

	byFoldedTerm := make(map[string]*domain.SeedTerm, len(terms))
	byID := make(map[string]*domain.SeedTerm, len(terms))
	for _, t := range terms {
		byFoldedTerm[fold(t.Term)] = t
		byID[t.ID] = t
	}

	current, ok := byFoldedTerm[folded]
	if !ok {
		// No matching seed term: the raw folded text is its own
		// canonical form.
		return folded, nil
	}

	seen := map[string]bool{current.ID: true}
	for current.Status == domain.SeedStatusMerged && current.MergedInto != "" {
		next, ok := byID[current.MergedInto]
		if !ok {
			break
		}
		if seen[next.ID] {
			return "", kerrors.ErrSeedCycle
		}
		seen[next.ID] = true
		current = next
	}
	return fold(current.Term), nil
}

// Levenshtein computes the edit distance between a and b, used by the
// naming-variant classifier fallback when no seed-term merge chain
// resolves the two names (spec §4.3 "edit distance ≤ 2 against any
// active seed alias").
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
