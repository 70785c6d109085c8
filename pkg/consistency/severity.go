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

package consistency

import (
	"time"

	kmath "github.com/proth1/kmflow-sub002/pkg/shared/math"
)

// recencyHalfLifeDays is the decay window used for the severity
// formula's recency_factor (spec §4.3). The scanner has no single
// category to key off of the way evidence freshness does, so it uses
// one fixed half-life rather than the per-category table in
// internal/config.
const recencyHalfLifeDays = 14.0

// AuthorityWeight maps an EpistemicFrame.AuthorityScope to a severity
// weight in [0.2, 1.0], ranked by position in scopes (earlier entries
// outrank later ones). An unrecognized or empty scope gets the neutral
// midpoint. scopes is normally config.Config.AuthorityScopes.
func AuthorityWeight(scope string, scopes []string) float64 {
	if scope == "" || len(scopes) == 0 {
		return 0.5
	}
	idx := -1
	for i, s := range scopes {
		if s == scope {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0.5
	}
	if len(scopes) == 1 {
		return 1.0
	}
	return 1.0 - float64(idx)/float64(len(scopes)-1)*0.8
}

// recencyFactor scores how recent assertedAt is against now, newer
// scoring higher (spec §4.3 "recency_factor: newer=higher").
func recencyFactor(assertedAt, now time.Time) float64 {
	ageDays := now.Sub(assertedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return kmath.ExpDecay(ageDays, recencyHalfLifeDays)
}

// Severity computes the clamp(0.4|wA-wB| + 0.3*recency + 0.3*criticality, 0, 1)
// formula from spec §4.3. newest is whichever of the two conflicting
// assertions was asserted later; criticality comes from the contested
// activity's graph-node metadata (0.5 when absent).
func Severity(wA, wB, criticality float64, newest time.Time, now time.Time) float64 {
	diff := wA - wB
	if diff < 0 {
		diff = -diff
	}
	return kmath.Clamp(0.4*diff+0.3*recencyFactor(newest, now)+0.3*criticality, 0, 1)
}
