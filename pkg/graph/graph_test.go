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

package graph_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/graph"
	"github.com/proth1/kmflow-sub002/pkg/reliability"
	"github.com/proth1/kmflow-sub002/pkg/storage/graphstore"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

func TestGraph(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Graph Suite")
}

func act(id string) domain.TypedRef { return domain.TypedRef{Kind: "Activity", ID: id} }

var _ = Describe("Writer.WriteAssertion", func() {
	var (
		ctx     context.Context
		store   *relational.MemoryStore
		gstore  *graphstore.MemoryStore
		w       *graph.Writer
		engID   string
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = relational.NewMemoryStore()
		gstore = graphstore.NewMemoryStore()
		w = graph.NewWriter(store, store, gstore, zap.NewNop())
		engID = "eng-1"
	})

	It("rejects an edge whose (predicate, source_kind, target_kind) is not in the controlled vocabulary", func() {
		a := &domain.Assertion{
			ID: "a1", EngagementID: engID, Predicate: domain.PredPerformedBy,
			Subject: domain.TypedRef{Kind: "Role", ID: "r1"}, Object: domain.TypedRef{Kind: "Activity", ID: "x1"},
			AssertedAt: time.Now(), ValidFrom: time.Now(),
		}
		err := w.WriteAssertion(ctx, a)
		Expect(kerrors.TypeOf(err)).To(Equal(kerrors.ErrorTypeInvalidEdge))
	})

	It("queues a valid PRECEDES edge onto the outbox", func() {
		a := &domain.Assertion{
			ID: "a1", EngagementID: engID, Predicate: domain.PredPrecedes,
			Subject: act("x1"), Object: act("x2"), AssertedAt: time.Now(), ValidFrom: time.Now(),
		}
		Expect(w.WriteAssertion(ctx, a)).To(Succeed())

		pending, err := store.ListPending(ctx, engID, 10)
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(HaveLen(1))
	})

	It("rejects a PRECEDES edge that would close a cycle", func() {
		first := &domain.Assertion{
			ID: "a1", EngagementID: engID, Predicate: domain.PredPrecedes,
			Subject: act("x1"), Object: act("x2"), AssertedAt: time.Now(), ValidFrom: time.Now(),
		}
		Expect(w.WriteAssertion(ctx, first)).To(Succeed())
		pending, _ := store.ListPending(ctx, engID, 10)
		drain := graph.NewDrain(store, gstore, reliability.NewCircuitBreaker("test", 0.5, time.Minute), reliability.DefaultPolicy(), zap.NewNop())
		applied, err := drain.Run(ctx, engID, 10)
		Expect(err).ToNot(HaveOccurred())
		Expect(applied).To(Equal(len(pending)))

		second := &domain.Assertion{
			ID: "a2", EngagementID: engID, Predicate: domain.PredPrecedes,
			Subject: act("x2"), Object: act("x1"), AssertedAt: time.Now(), ValidFrom: time.Now(),
		}
		err = w.WriteAssertion(ctx, second)
		Expect(kerrors.TypeOf(err)).To(Equal(kerrors.ErrorTypeInvalidEdge))
	})

	It("projects both directions of a symmetric edge (VARIANT_OF)", func() {
		a := &domain.Assertion{
			ID: "a1", EngagementID: engID, Predicate: domain.PredVariantOf,
			Subject: act("x1"), Object: act("x2"), AssertedAt: time.Now(), ValidFrom: time.Now(),
		}
		Expect(w.WriteAssertion(ctx, a)).To(Succeed())
		pending, err := store.ListPending(ctx, engID, 10)
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(HaveLen(2))
	})

	It("retracts the superseded assertion and queues a retract-edge delta", func() {
		old := &domain.Assertion{
			ID: "old", EngagementID: engID, Predicate: domain.PredPrecedes,
			Subject: act("x1"), Object: act("x2"), AssertedAt: time.Now().Add(-time.Hour), ValidFrom: time.Now().Add(-time.Hour),
		}
		Expect(store.CreateAssertion(ctx, old)).To(Succeed())

		supersede := &domain.Assertion{
			ID: "new", EngagementID: engID, Predicate: domain.PredSupersedes,
			Subject: domain.TypedRef{Kind: "Assertion", ID: "new"}, Object: domain.TypedRef{Kind: "Assertion", ID: "old"},
			AssertedAt: time.Now(), ValidFrom: time.Now(),
		}
		Expect(w.WriteAssertion(ctx, supersede)).To(Succeed())

		refreshed, err := store.GetAssertion(ctx, engID, "old")
		Expect(err).ToNot(HaveOccurred())
		Expect(refreshed.RetractedAt).ToNot(BeNil())
		Expect(refreshed.SupersededBy).To(Equal("new"))
	})
})

var _ = Describe("Drain", func() {
	It("applies a node and an edge delta and leaves no entry pending", func() {
		ctx := context.Background()
		store := relational.NewMemoryStore()
		gstore := graphstore.NewMemoryStore()
		w := graph.NewWriter(store, store, gstore, zap.NewNop())
		engID := "eng-1"

		Expect(w.WriteNode(ctx, engID, &domain.GraphNode{Kind: "Activity", ID: "x1"})).To(Succeed())
		a := &domain.Assertion{
			ID: "a1", EngagementID: engID, Predicate: domain.PredPrecedes,
			Subject: act("x1"), Object: act("x2"), AssertedAt: time.Now(), ValidFrom: time.Now(),
		}
		Expect(w.WriteAssertion(ctx, a)).To(Succeed())

		drain := graph.NewDrain(store, gstore, reliability.NewCircuitBreaker("test", 0.5, time.Minute), reliability.DefaultPolicy(), zap.NewNop())
		applied, err := drain.Run(ctx, engID, 10)
		Expect(err).ToNot(HaveOccurred())
		Expect(applied).To(Equal(2))

		// Both entries are marked applied, so nothing is left pending for
		// a later drain, and the graph holds the one Activity node.
		pending, err := store.ListPending(ctx, engID, 10)
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(BeEmpty())

		counts, err := gstore.CountNodesByKind(ctx, engID)
		Expect(err).ToNot(HaveOccurred())
		Expect(counts["Activity"]).To(Equal(1))
	})
})

var _ = Describe("Reconciler", func() {
	It("reports relational ids missing from the graph projection as orphans", func() {
		ctx := context.Background()
		gstore := graphstore.NewMemoryStore()
		engID := "eng-1"
		Expect(gstore.UpsertNode(ctx, engID, &domain.GraphNode{Kind: "Activity", ID: "x1"})).To(Succeed())

		r := graph.NewReconciler(gstore)
		report, err := r.Reconcile(ctx, engID, map[string][]string{"Activity": {"x1", "x2"}})
		Expect(err).ToNot(HaveOccurred())
		Expect(report.OrphanIDs).To(ConsistOf("x2"))
	})
})

type stubEraser struct {
	fragmentIDs []string
}

func (s *stubEraser) DeleteByPrincipal(_ context.Context, _, _ string) ([]string, error) {
	return s.fragmentIDs, nil
}

type stubPurger struct{ purged []string }

func (s *stubPurger) PurgeEmbeddings(_ context.Context, _ string, fragmentIDs []string) error {
	s.purged = fragmentIDs
	return nil
}

var _ = Describe("Erasure.Executor", func() {
	It("drives a principal through every stage to completed", func() {
		ctx := context.Background()
		store := relational.NewMemoryStore()
		gstore := graphstore.NewMemoryStore()
		w := graph.NewWriter(store, store, gstore, zap.NewNop())
		engID := "eng-1"

		Expect(gstore.UpsertNode(ctx, engID, &domain.GraphNode{
			Kind: "Activity", ID: "x1", Props: map[string]any{"fragment_ids": []string{"frag-1"}},
		})).To(Succeed())

		eraser := &stubEraser{fragmentIDs: []string{"frag-1"}}
		purger := &stubPurger{}
		drain := graph.NewDrain(store, gstore, reliability.NewCircuitBreaker("test-erasure", 0.5, time.Minute), reliability.DefaultPolicy(), zap.NewNop())
		exec := graph.NewExecutor(eraser, w, drain, purger, zap.NewNop())

		task := &graph.Erasure{EngagementID: engID, PrincipalID: "principal-1"}
		Expect(exec.Run(ctx, task)).To(Succeed())
		Expect(task.State).To(Equal(graph.ErasureCompleted))
		Expect(purger.purged).To(Equal([]string{"frag-1"}))

		_, err := gstore.GetNode(ctx, engID, "Activity", "x1")
		Expect(err).To(HaveOccurred())
	})
})
