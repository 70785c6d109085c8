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

// Package graphstore is the derived side of the dual-store protocol
// (spec §4.2): a projection of GraphNode/GraphEdge state, eventually
// consistent with pkg/storage/relational, applied only through the
// outbox drain in pkg/graph. No dedicated graph database driver is
// wired (see DESIGN.md); the only implementation, MemoryStore, is an
// in-process adjacency representation.
package graphstore

import (
	"context"
	"time"

	"github.com/proth1/kmflow-sub002/pkg/domain"
)

// Store is the graph projection's read/write contract. Every method is
// engagement-scoped and every write is idempotent, matching the outbox
// drain's at-least-once delivery (spec §4.2 step 4).
type Store interface {
	// UpsertNode creates or refreshes a node's properties, keyed by
	// (engagement_id, kind, id).
	UpsertNode(ctx context.Context, engagementID string, n *domain.GraphNode) error
	GetNode(ctx context.Context, engagementID, kind, id string) (*domain.GraphNode, error)

	// UpsertEdge applies e, keyed by e.Key() (spec §4.2 step 4). Returns
	// created=false when an edge with the same key already exists,
	// letting the drain log a duplicate-delivery without double-counting.
	UpsertEdge(ctx context.Context, engagementID string, e *domain.GraphEdge) (created bool, err error)
	RetractEdge(ctx context.Context, engagementID, key string, retractedAt time.Time, supersededBy string) error

	// ListEdgesByPredicate returns every edge of predicate in the
	// engagement, used by the consistency scanner and acyclicity checks.
	ListEdgesByPredicate(ctx context.Context, engagementID string, predicate domain.EdgePredicate) ([]*domain.GraphEdge, error)
	// ListEdgesFrom returns edges of predicate whose Source matches ref.
	ListEdgesFrom(ctx context.Context, engagementID string, ref domain.TypedRef, predicate domain.EdgePredicate) ([]*domain.GraphEdge, error)
	// ListEdgesTo returns edges of predicate whose Target matches ref.
	ListEdgesTo(ctx context.Context, engagementID string, ref domain.TypedRef, predicate domain.EdgePredicate) ([]*domain.GraphEdge, error)

	// DeletePrincipal removes every node and edge whose provenance
	// (GraphNode.Props["fragment_ids"]) intersects fragmentIDs (spec
	// §4.2 "GDPR erasure").
	DeletePrincipal(ctx context.Context, engagementID string, fragmentIDs []string) (deletedNodes int, err error)

	// CountNodesByKind and CountEdgesByPredicate back the daily
	// reconciliation job (spec §4.2 "Reconciliation").
	CountNodesByKind(ctx context.Context, engagementID string) (map[string]int, error)
	CountEdgesByPredicate(ctx context.Context, engagementID string) (map[domain.EdgePredicate]int, error)
	ListNodeIDs(ctx context.Context, engagementID, kind string) ([]string, error)
}
