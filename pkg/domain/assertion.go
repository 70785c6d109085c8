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

// FrameKind is the epistemic frame a given assertion was captured
// under (spec §3.1, GLOSSARY "Epistemic Frame").
type FrameKind string

const (
	FrameProcedural  FrameKind = "procedural"
	FrameRegulatory  FrameKind = "regulatory"
	FrameExperiential FrameKind = "experiential"
	FrameTelemetric  FrameKind = "telemetric"
	FrameElicited    FrameKind = "elicited"
	FrameBehavioral  FrameKind = "behavioral"
)

// TypedRef identifies a subject or object of an Assertion: a node of
// a given kind in the knowledge graph (an Activity, a Role, a
// DataObject, ...). IDs are opaque within the owning Engagement.
type TypedRef struct {
	Kind string // e.g. "Activity", "Role", "DataObject", "Policy", "Assertion", "Evidence", "Process", "Subprocess"
	ID   string
}

// EpistemicFrame carries the frame kind, authority scope, and access
// policy metadata attached to an Assertion (GLOSSARY).
type EpistemicFrame struct {
	FrameKind      FrameKind
	AuthorityScope string
	AccessPolicy   string
}

// Assertion is immutable (spec §3.1, §3.2, invariant 4 in §8):
// retraction and supersession always produce a new row, never mutate
// an existing one.
type Assertion struct {
	ID             string
	EngagementID   string
	Subject        TypedRef
	Predicate      EdgePredicate
	Object         TypedRef
	Frame          EpistemicFrame
	AssertedAt     time.Time
	RetractedAt    *time.Time
	ValidFrom      time.Time
	ValidTo        *time.Time
	SupersededBy   string // Assertion ID, empty if not superseded

	EpistemicAnnotations []string // attached by the consistency classifier on genuine disagreement
}

// CurrentlyValid reports whether the assertion is current truth as of
// `at`: not retracted, and `at` falls within [ValidFrom, ValidTo)
// (spec §4.2 "Bitemporal behavior").
func (a *Assertion) CurrentlyValid(at time.Time) bool {
	if a.RetractedAt != nil {
		return false
	}
	if at.Before(a.ValidFrom) {
		return false
	}
	if a.ValidTo != nil && !at.Before(*a.ValidTo) {
		return false
	}
	return true
}

// OverlapsValidity reports whether a and b's [ValidFrom, ValidTo)
// intervals intersect. Non-overlap is the temporal_shift classifier
// signal (spec §4.3).
func (a *Assertion) OverlapsValidity(b *Assertion) bool {
	aEnd := farFuture
	if a.ValidTo != nil {
		aEnd = *a.ValidTo
	}
	bEnd := farFuture
	if b.ValidTo != nil {
		bEnd = *b.ValidTo
	}
	return a.ValidFrom.Before(bEnd) && b.ValidFrom.Before(aEnd)
}

var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
