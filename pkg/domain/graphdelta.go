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

package domain

import "time"

// DeltaOp is the kind of change a GraphDelta describes (spec §4.2 write
// protocol step 2).
type DeltaOp string

const (
	DeltaUpsertNode     DeltaOp = "upsert_node"
	DeltaUpsertEdge     DeltaOp = "upsert_edge"
	DeltaRetractEdge    DeltaOp = "retract_edge"
	DeltaDeletePrincipal DeltaOp = "delete_principal"
)

// GraphNode is the projected form of any typed entity the relational
// store owns (Activity, Role, DataObject, Policy, Process, Subprocess,
// Event, Gateway, Evidence) — a kind tag, an opaque id, and whatever
// scalar properties the graph read side needs.
type GraphNode struct {
	Kind  string
	ID    string
	Props map[string]any
}

// GraphEdge is the projected form of an Assertion (or a structural edge
// the writer derives from one), carrying the bitemporal fields needed
// for "current truth" filtering (spec §4.2).
type GraphEdge struct {
	Source       TypedRef
	Predicate    EdgePredicate
	Target       TypedRef
	AssertedAt   time.Time
	ValidFrom    time.Time
	ValidTo      *time.Time
	RetractedAt  *time.Time
	SupersededBy string
}

// Key is the idempotent merge key from spec §4.2 step 4:
// (source, predicate, target, asserted_at).
func (e GraphEdge) Key() string {
	return e.Source.Kind + ":" + e.Source.ID + "|" + string(e.Predicate) + "|" +
		e.Target.Kind + ":" + e.Target.ID + "|" + e.AssertedAt.UTC().Format(time.RFC3339Nano)
}

// GraphDelta is one logical change queued onto the transactional
// outbox in the same relational transaction that produced it, then
// applied to the graph store asynchronously and idempotently (spec
// §4.2 write protocol).
type GraphDelta struct {
	EngagementID string
	Op           DeltaOp
	Node         *GraphNode
	Edge         *GraphEdge

	// PrincipalFragmentIDs scopes a delete_principal delta to the
	// fragments (and the nodes/edges derived solely from them) owned by
	// one data subject (spec §4.2 "GDPR erasure").
	PrincipalFragmentIDs []string
}
