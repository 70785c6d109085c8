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

package pov_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/config"
	"github.com/proth1/kmflow-sub002/pkg/consensus"
	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/graph"
	"github.com/proth1/kmflow-sub002/pkg/pov"
	"github.com/proth1/kmflow-sub002/pkg/seed"
	"github.com/proth1/kmflow-sub002/pkg/storage/graphstore"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

func TestPov(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pov Suite")
}

func act(id string) domain.TypedRef { return domain.TypedRef{Kind: "Activity", ID: id} }

var _ = Describe("Assembler", func() {
	var (
		ctx       context.Context
		store     *relational.MemoryStore
		assembler *pov.Assembler
		engID     string
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = relational.NewMemoryStore()
		engID = "eng-1"
		resolver := seed.NewResolver(store)
		cfg := config.ConsensusConfig{MVC: 0.7, DependencyThreshold: 0.3, PropagationEpsilon: 0.05}
		lcd := consensus.NewLCD(store, store, store, store, resolver, cfg, config.DefaultAuthorityScopes(), zap.NewNop())
		assembler = pov.NewAssembler(store, store, lcd, zap.NewNop())

		now := time.Now()
		_, _, err := store.CreateEvidenceItem(ctx, &domain.EvidenceItem{
			ID: "ev1", EngagementID: engID, Category: domain.CategoryProcessDocs, SourcePlane: domain.PlaneDocument,
			Lifecycle: domain.LifecycleActive, CreatedAt: now.Add(-2 * 24 * time.Hour),
			Quality: domain.Quality{Completeness: 1, Reliability: 0.9, Freshness: 0.95, Consistency: 1},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(store.CreateAssertion(ctx, &domain.Assertion{
			ID: "a1", EngagementID: engID, Predicate: domain.PredPerformedBy,
			Subject: act("invoice review"), Object: domain.TypedRef{Kind: "Role", ID: "clerk"},
			Frame:      domain.EpistemicFrame{FrameKind: domain.FrameProcedural, AuthorityScope: "consultant"},
			AssertedAt: now, ValidFrom: now.Add(-time.Hour),
		})).To(Succeed())
	})

	It("mints version 1 on the first assembly and increments on the next", func() {
		m1, elems1, err := assembler.Assemble(ctx, engID)
		Expect(err).ToNot(HaveOccurred())
		Expect(m1.Version).To(Equal(1))
		Expect(elems1).ToNot(BeEmpty())

		m2, _, err := assembler.Assemble(ctx, engID)
		Expect(err).ToNot(HaveOccurred())
		Expect(m2.Version).To(Equal(2))
		Expect(m2.ID).ToNot(Equal(m1.ID))
	})

	It("diffs two versions by canonical name", func() {
		m1, _, err := assembler.Assemble(ctx, engID)
		Expect(err).ToNot(HaveOccurred())

		Expect(store.CreateAssertion(ctx, &domain.Assertion{
			ID: "a2", EngagementID: engID, Predicate: domain.PredPerformedBy,
			Subject: act("escalation"), Object: domain.TypedRef{Kind: "Role", ID: "manager"},
			AssertedAt: time.Now(), ValidFrom: time.Now().Add(-time.Hour),
		})).To(Succeed())
		m2, _, err := assembler.Assemble(ctx, engID)
		Expect(err).ToNot(HaveOccurred())

		diff, err := assembler.Diff(ctx, m1.ID, m2.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(diff.Added).To(HaveLen(1))
	})
})

var _ = Describe("Validator", func() {
	var (
		ctx       context.Context
		store     *relational.MemoryStore
		validator *pov.Validator
		engID     string
		elementID string
		modelID   string
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = relational.NewMemoryStore()
		engID = "eng-1"
		modelID = "model-1"
		resolver := seed.NewResolver(store)
		cfg := config.ConsensusConfig{MVC: 0.7, DependencyThreshold: 0.3, PropagationEpsilon: 0.05}
		gstore := graphstore.NewMemoryStore()
		writer := graph.NewWriter(store, store, gstore, zap.NewNop())
		validator = pov.NewValidator(store, store, store, writer, resolver, cfg, zap.NewNop())

		now := time.Now()
		Expect(store.CreateAssertion(ctx, &domain.Assertion{
			ID: "a1", EngagementID: engID, Predicate: domain.PredPerformedBy,
			Subject: act("invoice review"), Object: domain.TypedRef{Kind: "Role", ID: "clerk"},
			AssertedAt: now, ValidFrom: now.Add(-time.Hour),
		})).To(Succeed())

		elementID = "pe1"
		Expect(store.CreateProcessElements(ctx, []*domain.ProcessElement{{
			ID: elementID, ModelID: modelID, Type: domain.ElementActivity,
			Name: "invoice review", CanonicalName: "invoice review",
			ConfidenceScore: 0.6, EvidenceGrade: domain.GradeC,
			Brightness: domain.BrightnessDim, SupportingPlanes: 1, Status: "pending",
		}})).To(Succeed())
	})

	It("promotes grade on CONFIRM and marks human-validated", func() {
		e, err := validator.Validate(ctx, engID, modelID, elementID, "reviewer-1", domain.DecisionConfirm, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(e.EvidenceGrade).To(Equal(domain.GradeB))
		Expect(e.HumanValidated).To(BeTrue())
		Expect(e.ValidatedCount).To(Equal(1))
	})

	It("inserts a superseding assertion on CORRECT", func() {
		_, err := validator.Validate(ctx, engID, modelID, elementID, "reviewer-1", domain.DecisionCorrect, &pov.CorrectionParams{
			NewAssertion: &domain.Assertion{
				Predicate: domain.PredPerformedBy,
				Subject:   act("invoice review"), Object: domain.TypedRef{Kind: "Role", ID: "senior clerk"},
				ValidFrom: time.Now(),
			},
			OriginalAssertionID: "a1",
		})
		Expect(err).ToNot(HaveOccurred())

		original, err := store.GetAssertion(ctx, engID, "a1")
		Expect(err).ToNot(HaveOccurred())
		Expect(original.RetractedAt).ToNot(BeNil())
		Expect(original.SupersededBy).ToNot(BeEmpty())
	})

	It("opens an existence conflict and retracts matching assertions on REJECT", func() {
		e, err := validator.Validate(ctx, engID, modelID, elementID, "reviewer-1", domain.DecisionReject, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(e.Status).To(Equal("rejected"))

		conflicts, err := store.ListConflicts(ctx, engID, domain.ConflictOpen)
		Expect(err).ToNot(HaveOccurred())
		Expect(conflicts).To(HaveLen(1))
		Expect(conflicts[0].MismatchType).To(Equal(domain.MismatchExistence))

		original, err := store.GetAssertion(ctx, engID, "a1")
		Expect(err).ToNot(HaveOccurred())
		Expect(original.RetractedAt).ToNot(BeNil())
	})

	It("keeps DEFER elements pending so they remain in the Dark Room", func() {
		e, err := validator.Validate(ctx, engID, modelID, elementID, "reviewer-1", domain.DecisionDefer, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(e.Status).To(Equal("pending"))
	})
})

var _ = Describe("DarkRoomRanking", func() {
	It("ranks dark, pending elements by projected uplift, excluding everything else", func() {
		ctx := context.Background()
		store := relational.NewMemoryStore()
		Expect(store.CreateProcessElements(ctx, []*domain.ProcessElement{
			{ID: "1", ModelID: "m", CanonicalName: "low gap", Brightness: domain.BrightnessDark, Status: "pending", ConfidenceScore: 0.3, SupportingPlanes: 3},
			{ID: "2", ModelID: "m", CanonicalName: "high gap", Brightness: domain.BrightnessDark, Status: "pending", ConfidenceScore: 0.1, SupportingPlanes: 0},
			{ID: "3", ModelID: "m", CanonicalName: "already bright", Brightness: domain.BrightnessBright, Status: "pending", ConfidenceScore: 0.9},
			{ID: "4", ModelID: "m", CanonicalName: "already confirmed", Brightness: domain.BrightnessDark, Status: "confirmed", ConfidenceScore: 0.2},
		})).To(Succeed())

		ranking, err := pov.DarkRoomRanking(ctx, store, "m", 4)
		Expect(err).ToNot(HaveOccurred())
		Expect(ranking).To(HaveLen(2))
		Expect(ranking[0].CanonicalName).To(Equal("high gap"))
		Expect(ranking[1].CanonicalName).To(Equal("low gap"))
	})
})
