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

package domain_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/proth1/kmflow-sub002/pkg/domain"
)

func TestDomain(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Domain Suite")
}

var _ = Describe("Engagement embedding coherence", func() {
	It("pins the model/dim on first use", func() {
		e := &domain.Engagement{ID: "eng-1"}
		Expect(e.PinEmbedding("text-embed-3", 1536)).To(Succeed())
		Expect(e.EmbeddingModel).To(Equal("text-embed-3"))
		Expect(e.EmbeddingDim).To(Equal(1536))
	})

	It("rejects a later mismatched model or dim", func() {
		e := &domain.Engagement{ID: "eng-1"}
		Expect(e.PinEmbedding("text-embed-3", 1536)).To(Succeed())
		Expect(e.PinEmbedding("text-embed-3", 768)).To(MatchError(domain.ErrEmbeddingMismatch))
		Expect(e.PinEmbedding("other-model", 1536)).To(MatchError(domain.ErrEmbeddingMismatch))
	})

	It("accepts repeated calls with the same model/dim", func() {
		e := &domain.Engagement{ID: "eng-1"}
		Expect(e.PinEmbedding("text-embed-3", 1536)).To(Succeed())
		Expect(e.PinEmbedding("text-embed-3", 1536)).To(Succeed())
	})
})

var _ = Describe("Evidence lifecycle monotonicity", func() {
	DescribeTable("legal transitions",
		func(from, to domain.Lifecycle, want bool) {
			Expect(domain.CanTransition(from, to)).To(Equal(want))
		},
		Entry("pending->validated", domain.LifecyclePending, domain.LifecycleValidated, true),
		Entry("validated->active", domain.LifecycleValidated, domain.LifecycleActive, true),
		Entry("active->expired", domain.LifecycleActive, domain.LifecycleExpired, true),
		Entry("expired->archived", domain.LifecycleExpired, domain.LifecycleArchived, true),
		Entry("pending->archived (reject)", domain.LifecyclePending, domain.LifecycleArchived, true),
		Entry("validated->archived (reject)", domain.LifecycleValidated, domain.LifecycleArchived, true),
		Entry("active->archived (reject)", domain.LifecycleActive, domain.LifecycleArchived, true),
		Entry("archived is terminal", domain.LifecycleArchived, domain.LifecyclePending, false),
		Entry("cannot skip backward", domain.LifecycleActive, domain.LifecyclePending, false),
		Entry("cannot skip forward", domain.LifecyclePending, domain.LifecycleActive, false),
		Entry("self-transition is illegal", domain.LifecycleActive, domain.LifecycleActive, false),
	)
})

var _ = Describe("Brightness coherence caps", func() {
	It("grades A and B to grade_brightness bright", func() {
		Expect(domain.GradeA.GradeBrightness()).To(Equal(domain.BrightnessBright))
		Expect(domain.GradeB.GradeBrightness()).To(Equal(domain.BrightnessBright))
	})
	It("grades C to grade_brightness dim", func() {
		Expect(domain.GradeC.GradeBrightness()).To(Equal(domain.BrightnessDim))
	})
	It("grades D and U to grade_brightness dark", func() {
		Expect(domain.GradeD.GradeBrightness()).To(Equal(domain.BrightnessDark))
		Expect(domain.GradeU.GradeBrightness()).To(Equal(domain.BrightnessDark))
	})

	It("MinBrightness picks the darker of two values", func() {
		Expect(domain.MinBrightness(domain.BrightnessBright, domain.BrightnessDark)).To(Equal(domain.BrightnessDark))
		Expect(domain.MinBrightness(domain.BrightnessDim, domain.BrightnessBright)).To(Equal(domain.BrightnessDim))
		Expect(domain.MinBrightness(domain.BrightnessDark, domain.BrightnessDark)).To(Equal(domain.BrightnessDark))
	})
})

var _ = Describe("Controlled edge vocabulary", func() {
	It("accepts all 12 declared predicates with correct types", func() {
		cases := []struct {
			pred  domain.EdgePredicate
			src   string
			tgt   string
		}{
			{domain.PredPrecedes, "Activity", "Activity"},
			{domain.PredTriggers, "Event", "Activity"},
			{domain.PredTriggers, "Gateway", "Activity"},
			{domain.PredDependsOn, "Activity", "Activity"},
			{domain.PredConsumes, "Activity", "DataObject"},
			{domain.PredProduces, "Activity", "DataObject"},
			{domain.PredGovernedBy, "Process", "Policy"},
			{domain.PredGovernedBy, "Activity", "Policy"},
			{domain.PredPerformedBy, "Activity", "Role"},
			{domain.PredEvidencedBy, "Assertion", "Evidence"},
			{domain.PredEvidencedBy, "Activity", "Evidence"},
			{domain.PredContradicts, "Assertion", "Assertion"},
			{domain.PredSupersedes, "Assertion", "Assertion"},
			{domain.PredDecomposesInto, "Process", "Subprocess"},
			{domain.PredVariantOf, "Activity", "Activity"},
		}
		for _, c := range cases {
			Expect(domain.ValidEdgeTypes(c.pred, c.src, c.tgt)).To(BeTrue(),
				"expected %s %s->%s to be valid", c.pred, c.src, c.tgt)
		}
	})

	It("rejects type mismatches", func() {
		Expect(domain.ValidEdgeTypes(domain.PredPrecedes, "Activity", "Role")).To(BeFalse())
		Expect(domain.ValidEdgeTypes(domain.PredPerformedBy, "Role", "Activity")).To(BeFalse())
	})

	It("rejects unknown predicates", func() {
		Expect(domain.ValidEdgeTypes(domain.EdgePredicate("FOLLOWS"), "Activity", "Activity")).To(BeFalse())
	})

	It("has exactly 12 predicate kinds", func() {
		Expect(domain.EdgeVocabulary).To(HaveLen(12))
	})
})

var _ = Describe("ConflictObject.UniqueKey", func() {
	It("is order-independent in the two source refs", func() {
		a := &domain.ConflictObject{MismatchType: domain.MismatchSequence, SourceARef: "assertion-2", SourceBRef: "assertion-1"}
		b := &domain.ConflictObject{MismatchType: domain.MismatchSequence, SourceARef: "assertion-1", SourceBRef: "assertion-2"}
		Expect(a.UniqueKey()).To(Equal(b.UniqueKey()))
	})

	It("differs by mismatch type for the same refs", func() {
		a := &domain.ConflictObject{MismatchType: domain.MismatchSequence, SourceARef: "x", SourceBRef: "y"}
		b := &domain.ConflictObject{MismatchType: domain.MismatchRole, SourceARef: "x", SourceBRef: "y"}
		Expect(a.UniqueKey()).NotTo(Equal(b.UniqueKey()))
	})
})

var _ = Describe("Assertion bitemporal validity", func() {
	It("is currently valid within [ValidFrom, ValidTo)", func() {
		from := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		a := &domain.Assertion{ValidFrom: from, ValidTo: &to}

		Expect(a.CurrentlyValid(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC))).To(BeTrue())
		Expect(a.CurrentlyValid(time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC))).To(BeFalse())
		Expect(a.CurrentlyValid(to)).To(BeFalse())
	})

	It("is invalid once retracted regardless of window", func() {
		from := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
		retracted := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
		a := &domain.Assertion{ValidFrom: from, RetractedAt: &retracted}
		Expect(a.CurrentlyValid(time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC))).To(BeFalse())
	})

	It("detects non-overlapping validity windows (temporal shift signal)", func() {
		aFrom := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
		aTo := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
		bFrom := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

		a := &domain.Assertion{ValidFrom: aFrom, ValidTo: &aTo}
		b := &domain.Assertion{ValidFrom: bFrom}

		Expect(a.OverlapsValidity(b)).To(BeFalse())
	})

	It("detects overlapping validity windows", func() {
		aFrom := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
		bFrom := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
		a := &domain.Assertion{ValidFrom: aFrom}
		b := &domain.Assertion{ValidFrom: bFrom}
		Expect(a.OverlapsValidity(b)).To(BeTrue())
	})
})

var _ = Describe("Task status monotonicity", func() {
	It("allows queued<->running retries", func() {
		Expect(domain.CanTransitionTask(domain.TaskQueued, domain.TaskRunning)).To(BeTrue())
		Expect(domain.CanTransitionTask(domain.TaskRunning, domain.TaskQueued)).To(BeTrue())
	})

	It("allows running to terminal states", func() {
		Expect(domain.CanTransitionTask(domain.TaskRunning, domain.TaskSucceeded)).To(BeTrue())
		Expect(domain.CanTransitionTask(domain.TaskRunning, domain.TaskFailed)).To(BeTrue())
		Expect(domain.CanTransitionTask(domain.TaskRunning, domain.TaskPartial)).To(BeTrue())
	})

	It("forbids transitions out of terminal states", func() {
		Expect(domain.CanTransitionTask(domain.TaskSucceeded, domain.TaskRunning)).To(BeFalse())
		Expect(domain.CanTransitionTask(domain.TaskFailed, domain.TaskQueued)).To(BeFalse())
	})
})
