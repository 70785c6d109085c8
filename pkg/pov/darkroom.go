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

package pov

import (
	"context"
	"sort"

	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

// DarkRoomRanking orders the dark, pending subset of a POV version by
// projected confidence uplift (SPEC_FULL.md §C.1): the further an
// element is from confidence 1 and the more evidence planes it is
// missing, the higher its priority for follow-up elicitation. Weight
// idiom grounded on the teacher's pkg/datastorage/scoring package.
func DarkRoomRanking(ctx context.Context, elements relational.ProcessElementStore, modelID string, planesAvailable int) ([]domain.DarkRoomEntry, error) {
	all, err := elements.ListProcessElements(ctx, modelID)
	if err != nil {
		return nil, err
	}
	return rankDarkRoom(all, planesAvailable), nil
}

func rankDarkRoom(all []*domain.ProcessElement, planesAvailable int) []domain.DarkRoomEntry {
	var entries []domain.DarkRoomEntry
	for _, e := range all {
		if e.Brightness != domain.BrightnessDark || e.Status != "pending" {
			continue
		}
		gap := planesAvailable - e.SupportingPlanes
		if gap < 0 {
			gap = 0
		}
		entries = append(entries, domain.DarkRoomEntry{
			ElementID:       e.ID,
			CanonicalName:   e.CanonicalName,
			ProjectedUplift: (1 - e.ConfidenceScore) * float64(gap),
			PlaneGap:        gap,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ProjectedUplift != entries[j].ProjectedUplift {
			return entries[i].ProjectedUplift > entries[j].ProjectedUplift
		}
		return entries[i].CanonicalName < entries[j].CanonicalName
	})
	return entries
}
