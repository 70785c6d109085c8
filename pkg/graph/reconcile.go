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

	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/storage/graphstore"
)

// ReconciliationReport is the daily comparison of per-engagement counts
// between the relational store and the graph projection (spec §4.2
// "Reconciliation"). OrphanIDs lists node ids the graph is missing
// relative to relationalNodeIDs, for replay from outbox history.
type ReconciliationReport struct {
	EngagementID      string
	NodeCountsGraph   map[string]int
	EdgeCountsGraph   map[domain.EdgePredicate]int
	OrphanIDs         []string
}

// Reconciler compares graph projection counts and membership against
// the relational side, which the caller supplies per kind (the
// relational store has no single "all entities" query — each owning
// component knows its own table).
type Reconciler struct {
	graph graphstore.Store
}

func NewReconciler(graph graphstore.Store) *Reconciler {
	return &Reconciler{graph: graph}
}

// Reconcile builds a ReconciliationReport for engagementID.
// relationalIDsByKind supplies the source-of-truth id set per node
// kind; any id present there but absent from the graph projection is
// reported as an orphan eligible for outbox replay.
func (r *Reconciler) Reconcile(ctx context.Context, engagementID string, relationalIDsByKind map[string][]string) (*ReconciliationReport, error) {
	nodeCounts, err := r.graph.CountNodesByKind(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	edgeCounts, err := r.graph.CountEdgesByPredicate(ctx, engagementID)
	if err != nil {
		return nil, err
	}

	report := &ReconciliationReport{
		EngagementID:    engagementID,
		NodeCountsGraph: nodeCounts,
		EdgeCountsGraph: edgeCounts,
	}

	for kind, ids := range relationalIDsByKind {
		present, err := r.graph.ListNodeIDs(ctx, engagementID, kind)
		if err != nil {
			return nil, err
		}
		have := make(map[string]bool, len(present))
		for _, id := range present {
			have[id] = true
		}
		for _, id := range ids {
			if !have[id] {
				report.OrphanIDs = append(report.OrphanIDs, id)
			}
		}
	}
	return report, nil
}
