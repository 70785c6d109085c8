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

// Package consensus implements the Lowest Common Denominator (LCD)
// algorithm (spec §4.4): aggregate every currently-valid assertion,
// triangulate entity names through the seed-term merge chain, weight
// agreement across sources, and emit a confidence- and grade-scored
// ProcessElement model with its directly-follows structure.
package consensus

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/config"
	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/seed"
	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
	kmath "github.com/proth1/kmflow-sub002/pkg/shared/math"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

// recencyHalfLifeDays is the decay window for evidence_recency; it is
// the same 14-day value pkg/consistency uses for its severity recency
// term.
const recencyHalfLifeDays = 14.0

// LCD runs the consensus pipeline for one engagement.
type LCD struct {
	assertions relational.AssertionStore
	evidence   relational.EvidenceStore
	conflicts  relational.ConflictStore
	elements   relational.ProcessElementStore
	resolver   *seed.Resolver
	cfg        config.ConsensusConfig
	scopes     []string
	logger     *zap.Logger
}

func NewLCD(assertions relational.AssertionStore, evidence relational.EvidenceStore, conflicts relational.ConflictStore, elements relational.ProcessElementStore, resolver *seed.Resolver, cfg config.ConsensusConfig, authorityScopes []string, logger *zap.Logger) *LCD {
	return &LCD{
		assertions: assertions, evidence: evidence, conflicts: conflicts, elements: elements,
		resolver: resolver, cfg: cfg, scopes: authorityScopes, logger: logger,
	}
}

// cluster accumulates everything triangulation found for one canonical
// Activity name before scoring.
type cluster struct {
	canonicalName string
	rawIDs        map[string]bool
	mentions      []mention
}

// Run executes the full pipeline and returns the regenerated
// ProcessElement set for modelID, persisting it via
// relational.ProcessElementStore (spec §4.4, §3.1 "regenerated per POV
// version"). A seed-term merge cycle anywhere in triangulation aborts
// the whole run with kerrors.ErrorTypeSeedCycle (spec §4.4 "Failure
// semantics").
func (l *LCD) Run(ctx context.Context, engagementID, modelID string) ([]*domain.ProcessElement, error) {
	all, err := l.assertions.ListAssertions(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	valid := make([]*domain.Assertion, 0, len(all))
	for _, a := range all {
		if a.CurrentlyValid(now) {
			valid = append(valid, a)
		}
	}

	canonOf := make(map[string]string) // raw TypedRef.ID -> canonical name
	canon := func(rawID string) (string, error) {
		if c, ok := canonOf[rawID]; ok {
			return c, nil
		}
		c, err := l.resolver.Canonicalize(ctx, engagementID, rawID)
		if err != nil {
			if errors.Is(err, kerrors.ErrSeedCycle) {
				return "", kerrors.Wrapf(err, kerrors.ErrorTypeSeedCycle, "triangulating %q", rawID)
			}
			return "", err
		}
		canonOf[rawID] = c
		return c, nil
	}

	disputed, err := l.disputedAssertionIDs(ctx, engagementID)
	if err != nil {
		return nil, err
	}

	evidencedBy, err := l.evidencedByPlanes(ctx, engagementID, valid)
	if err != nil {
		return nil, err
	}

	clusters := map[string]*cluster{}
	getCluster := func(name string) *cluster {
		c, ok := clusters[name]
		if !ok {
			c = &cluster{canonicalName: name, rawIDs: map[string]bool{}}
			clusters[name] = c
		}
		return c
	}

	// directly-follows mention counts, at the canonical level.
	followCounts := map[string]map[string]int{}
	exclusivePairs, err := l.exclusiveSequencePairs(ctx, engagementID, canon)
	if err != nil {
		return nil, err
	}

	for _, a := range valid {
		if a.Subject.Kind != "Activity" {
			continue
		}
		name, err := canon(a.Subject.ID)
		if err != nil {
			return nil, err
		}
		c := getCluster(name)
		c.rawIDs[a.Subject.ID] = true
		c.mentions = append(c.mentions, mention{
			scope:    a.Frame.AuthorityScope,
			disputed: disputed[a.ID],
			planes:   evidencedBy["Assertion:"+a.ID],
		})

		if a.Predicate == domain.PredPrecedes && a.Object.Kind == "Activity" {
			toName, err := canon(a.Object.ID)
			if err != nil {
				return nil, err
			}
			if followCounts[name] == nil {
				followCounts[name] = map[string]int{}
			}
			followCounts[name][toName]++
		}
	}

	meanQuality, sourceReliability, evidenceRecency, planesAvailable, err := l.evidenceBaseMeans(ctx, engagementID, now)
	if err != nil {
		return nil, err
	}
	quality := Quality(meanQuality, sourceReliability, evidenceRecency)
	if l.cfg.FixedPlaneDenominator {
		planesAvailable = len(domain.AllPlanes)
	}

	st := discoverStructure(followCounts, l.cfg.DependencyThreshold, exclusivePairs)

	names := make([]string, 0, len(clusters))
	for name := range clusters {
		names = append(names, name)
	}
	sort.Strings(names)

	elements := make([]*domain.ProcessElement, 0, len(names))
	byName := map[string]*domain.ProcessElement{}
	for _, name := range names {
		c := clusters[name]
		planes := supportingPlanes(c.mentions)
		coverage := evidenceCoverage(planes, planesAvailable)
		agreement := evidenceAgreement(c.mentions)
		strength := Strength(coverage, agreement)
		confidence := Confidence(strength, quality)
		// Elements are regenerated fresh on every run (spec §3.1); human
		// validation is only ever applied afterward via pov.Validator
		// (spec §4.6 "CONFIRM"), so a freshly assembled element always
		// starts unvalidated.
		grade := Grade(planes, len(c.mentions), false, sourceReliability)

		e := &domain.ProcessElement{
			ID:                    uuid.NewString(),
			ModelID:               modelID,
			Type:                  domain.ElementActivity,
			Name:                  name,
			CanonicalName:         name,
			ConfidenceScore:       confidence,
			StrengthScore:         strength,
			QualityScore:          quality,
			EvidenceGrade:         grade,
			SupportingEvidenceIDs: rawIDList(c.rawIDs),
			SupportingPlanes:      planes,
			Status:                "pending",
			PrecedesIDs:           st.precedes[name],
			ParallelWithIDs:       st.parallel[name],
			ExclusiveWithIDs:      st.xor[name],
			LoopBackIDs:           st.loopBack[name],
		}
		elements = append(elements, e)
		byName[name] = e
	}

	// Dependency brightness cap (spec §3.2): an element can only be
	// bright if everything it depends on (here, its directly-follows
	// predecessors) is itself at least dim. Evaluate in topological-ish
	// order by repeated relaxation since the graph may contain
	// loop-back edges.
	predecessorsOf := map[string][]string{}
	for from, tos := range st.precedes {
		for _, to := range tos {
			predecessorsOf[to] = append(predecessorsOf[to], from)
		}
	}
	brightness := map[string]domain.Brightness{}
	for _, name := range names {
		brightness[name] = domain.BrightnessDark
	}
	for iter := 0; iter < len(names)+1; iter++ {
		changed := false
		for _, name := range names {
			e := byName[name]
			dependsOnBright := true
			for _, pred := range predecessorsOf[name] {
				if brightness[pred] == domain.BrightnessDark {
					dependsOnBright = false
					break
				}
			}
			next := Brightness(e.ConfidenceScore, e.EvidenceGrade, dependsOnBright)
			if next != brightness[name] {
				brightness[name] = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	for name, e := range byName {
		e.Brightness = brightness[name]
	}

	if err := l.elements.CreateProcessElements(ctx, elements); err != nil {
		return nil, err
	}
	l.logger.Info("consensus run complete",
		logging.NewFields().Component("consensus").Operation("run").Engagement(engagementID).Slice()...)
	return elements, nil
}

// Propagate recomputes confidence for elements within two hops of
// changed (spec §4.4 "propagation"): any neighbor whose quality input
// shifts by at least PropagationEpsilon is itself recomputed and, if
// its own shift clears the epsilon, propagates one hop further.
func (l *LCD) Propagate(ctx context.Context, elements []*domain.ProcessElement, changedID string, newQuality float64) ([]*domain.ProcessElement, error) {
	byID := make(map[string]*domain.ProcessElement, len(elements))
	idByName := make(map[string]string, len(elements))
	for _, e := range elements {
		byID[e.ID] = e
		idByName[e.CanonicalName] = e.ID
	}
	neighbors := map[string][]string{}
	for _, e := range elements {
		for _, name := range e.PrecedesIDs {
			dep, ok := idByName[name]
			if !ok {
				continue
			}
			neighbors[e.ID] = append(neighbors[e.ID], dep)
			neighbors[dep] = append(neighbors[dep], e.ID)
		}
	}

	touched := map[string]bool{changedID: true}
	frontier := []string{changedID}
	for hop := 0; hop <= 2 && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			e, ok := byID[id]
			if !ok {
				continue
			}
			delta := e.QualityScore - newQuality
			if delta < 0 {
				delta = -delta
			}
			if delta < l.cfg.PropagationEpsilon {
				continue
			}
			e.QualityScore = newQuality
			e.ConfidenceScore = Confidence(e.StrengthScore, newQuality)
			for _, n := range neighbors[id] {
				if !touched[n] {
					touched[n] = true
					next = append(next, n)
				}
			}
		}
		frontier = next
	}
	return elements, nil
}

func rawIDList(ids map[string]bool) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// disputedAssertionIDs marks every assertion named as either side of
// an open genuine_disagreement conflict (spec §4.3/§4.4 integration).
func (l *LCD) disputedAssertionIDs(ctx context.Context, engagementID string) (map[string]bool, error) {
	open, err := l.conflicts.ListConflicts(ctx, engagementID, domain.ConflictOpen)
	if err != nil {
		return nil, err
	}
	out := map[string]bool{}
	for _, c := range open {
		if c.ResolutionType != domain.ClassGenuineDisagree {
			continue
		}
		out[c.SourceARef] = true
		out[c.SourceBRef] = true
	}
	return out, nil
}

// exclusiveSequencePairs finds canonical activity-name pairs implicated
// in an open sequence conflict classified genuine_disagreement: spec
// §4.4's XOR-split signal, since a contradicted ordering between two
// successors is exactly "these paths cannot both be taken".
func (l *LCD) exclusiveSequencePairs(ctx context.Context, engagementID string, canon func(string) (string, error)) (map[[2]string]bool, error) {
	open, err := l.conflicts.ListConflicts(ctx, engagementID, domain.ConflictOpen)
	if err != nil {
		return nil, err
	}
	out := map[[2]string]bool{}
	for _, c := range open {
		if c.MismatchType != domain.MismatchSequence || c.ResolutionType != domain.ClassGenuineDisagree {
			continue
		}
		a, err := l.assertions.GetAssertion(ctx, engagementID, c.SourceARef)
		if err != nil {
			continue
		}
		b, err := l.assertions.GetAssertion(ctx, engagementID, c.SourceBRef)
		if err != nil {
			continue
		}
		na, err := canon(a.Object.ID)
		if err != nil {
			return nil, err
		}
		nb, err := canon(b.Object.ID)
		if err != nil {
			return nil, err
		}
		out[pairOf(na, nb)] = true
	}
	return out, nil
}

// evidenceBaseMeans computes the engagement-wide mean_quality,
// source_reliability, and evidence_recency inputs to the quality
// formula (spec §4.4 step 7), plus planes_available_in_engagement
// (SPEC_FULL.md §D.1: the count of distinct SourcePlane values among
// ACTIVE evidence), over every ACTIVE EvidenceItem. The quality terms
// are engagement-wide means computed once per run rather than per
// cluster; coverage and agreement are what vary per entity.
func (l *LCD) evidenceBaseMeans(ctx context.Context, engagementID string, now time.Time) (meanQuality, sourceReliability, evidenceRecency float64, planesAvailable int, err error) {
	items, err := l.evidence.ListActiveEvidence(ctx, engagementID)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if len(items) == 0 {
		return 0, 0, 0, 0, nil
	}

	var sumQuality, sumReliability, sumRecency float64
	planes := map[domain.SourcePlane]bool{}
	for _, item := range items {
		sumQuality += (item.Quality.Completeness + item.Quality.Reliability + item.Quality.Freshness + item.Quality.Consistency) / 4.0
		sumReliability += item.Quality.Reliability
		ageDays := now.Sub(item.CreatedAt).Hours() / 24.0
		sumRecency += kmath.ExpDecay(ageDays, recencyHalfLifeDays)
		planes[item.SourcePlane] = true
	}
	n := float64(len(items))
	return sumQuality / n, sumReliability / n, sumRecency / n, len(planes), nil
}

// evidencedByPlanes resolves every currently-valid EVIDENCED_BY
// assertion to the SourcePlane of the Evidence it names, keyed by the
// "<subject kind>:<subject id>" of the assertion or activity it
// supports (edge vocabulary: EVIDENCED_BY's source is an Assertion or
// an Activity, spec's controlled vocabulary). This is the
// traceability link supporting_planes (step 7) and grade (step 8)
// read from, in place of the authority-scope proxy this package used
// before a plane-bearing link existed (see DESIGN.md).
func (l *LCD) evidencedByPlanes(ctx context.Context, engagementID string, valid []*domain.Assertion) (map[string]map[domain.SourcePlane]bool, error) {
	out := map[string]map[domain.SourcePlane]bool{}
	for _, a := range valid {
		if a.Predicate != domain.PredEvidencedBy || a.Object.Kind != "Evidence" {
			continue
		}
		item, err := l.evidence.GetEvidenceItem(ctx, engagementID, a.Object.ID)
		if err != nil {
			continue
		}
		key := a.Subject.Kind + ":" + a.Subject.ID
		if out[key] == nil {
			out[key] = map[domain.SourcePlane]bool{}
		}
		out[key][item.SourcePlane] = true
	}
	return out, nil
}
