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

// ProcessModel is one immutable POV version (spec §4.6). Its elements
// live in ProcessElementStore keyed by ID as ModelID; ProcessModel
// itself only carries the version's identity and lifecycle metadata.
type ProcessModel struct {
	ID           string
	EngagementID string
	Version      int
	CreatedAt    time.Time
	// Partial is set when a subset of evidence failed extraction during
	// assembly (spec §4.4 "Failure semantics") but the rest of the model
	// was still emitted.
	Partial bool
}

// Decision is the validation verb applied to one ProcessElement (spec
// §4.6 "validate").
type Decision string

const (
	DecisionConfirm Decision = "confirm"
	DecisionCorrect Decision = "correct"
	DecisionReject  Decision = "reject"
	DecisionDefer   Decision = "defer"
)

// ElementDelta is one element's contribution to a ModelDiff.
type ElementDelta struct {
	ElementID     string
	CanonicalName string
	OldConfidence float64
	NewConfidence float64
	OldBrightness Brightness
	NewBrightness Brightness
}

// ModelDiff is the structural and confidence comparison between two
// POV versions (spec §4.6 "diff").
type ModelDiff struct {
	Added   []string // element ids present in v_b, absent in v_a
	Removed []string // element ids present in v_a, absent in v_b
	Changed []ElementDelta
}

// DarkRoomEntry ranks one dark, pending element by how much confidence
// it stands to gain from its largest evidence gap (SPEC_FULL.md §C.1).
type DarkRoomEntry struct {
	ElementID       string
	CanonicalName   string
	ProjectedUplift float64 // (1 - confidence) weighted by the plane coverage gap
	PlaneGap        int     // planes_available - supporting_planes
}
