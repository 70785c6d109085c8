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

package graphstore_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/storage/graphstore"
)

func TestGraphStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "GraphStore Suite")
}

var _ = Describe("MemoryStore", func() {
	var (
		ctx   context.Context
		store *graphstore.MemoryStore
		engID string
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = graphstore.NewMemoryStore()
		engID = "eng-1"
	})

	It("is idempotent on edge upsert by (source, predicate, target, asserted_at)", func() {
		e := &domain.GraphEdge{
			Source: domain.TypedRef{Kind: "Activity", ID: "a1"}, Predicate: domain.PredPrecedes,
			Target: domain.TypedRef{Kind: "Activity", ID: "a2"}, AssertedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		created1, err := store.UpsertEdge(ctx, engID, e)
		Expect(err).ToNot(HaveOccurred())
		Expect(created1).To(BeTrue())

		created2, err := store.UpsertEdge(ctx, engID, e)
		Expect(err).ToNot(HaveOccurred())
		Expect(created2).To(BeFalse())

		edges, err := store.ListEdgesByPredicate(ctx, engID, domain.PredPrecedes)
		Expect(err).ToNot(HaveOccurred())
		Expect(edges).To(HaveLen(1))
	})

	It("isolates edges and nodes by engagement", func() {
		n := &domain.GraphNode{Kind: "Activity", ID: "a1"}
		Expect(store.UpsertNode(ctx, "eng-a", n)).To(Succeed())
		Expect(store.UpsertNode(ctx, "eng-b", n)).To(Succeed())

		counts, err := store.CountNodesByKind(ctx, "eng-a")
		Expect(err).ToNot(HaveOccurred())
		Expect(counts["Activity"]).To(Equal(1))
	})

	It("deletes nodes and touching edges scoped to the principal's fragments", func() {
		n1 := &domain.GraphNode{Kind: "Activity", ID: "a1", Props: map[string]any{"fragment_ids": []string{"frag-1"}}}
		n2 := &domain.GraphNode{Kind: "Activity", ID: "a2", Props: map[string]any{"fragment_ids": []string{"frag-2"}}}
		Expect(store.UpsertNode(ctx, engID, n1)).To(Succeed())
		Expect(store.UpsertNode(ctx, engID, n2)).To(Succeed())
		e := &domain.GraphEdge{
			Source: domain.TypedRef{Kind: "Activity", ID: "a1"}, Predicate: domain.PredPrecedes,
			Target: domain.TypedRef{Kind: "Activity", ID: "a2"}, AssertedAt: time.Now(),
		}
		_, err := store.UpsertEdge(ctx, engID, e)
		Expect(err).ToNot(HaveOccurred())

		deleted, err := store.DeletePrincipal(ctx, engID, []string{"frag-1"})
		Expect(err).ToNot(HaveOccurred())
		Expect(deleted).To(Equal(1))

		_, err = store.GetNode(ctx, engID, "Activity", "a1")
		Expect(err).To(HaveOccurred())
		edges, err := store.ListEdgesByPredicate(ctx, engID, domain.PredPrecedes)
		Expect(err).ToNot(HaveOccurred())
		Expect(edges).To(BeEmpty())

		_, err = store.GetNode(ctx, engID, "Activity", "a2")
		Expect(err).ToNot(HaveOccurred())
	})

	It("stamps retraction on an existing edge", func() {
		e := &domain.GraphEdge{
			Source: domain.TypedRef{Kind: "Assertion", ID: "s1"}, Predicate: domain.PredSupersedes,
			Target: domain.TypedRef{Kind: "Assertion", ID: "s2"}, AssertedAt: time.Now(),
		}
		_, err := store.UpsertEdge(ctx, engID, e)
		Expect(err).ToNot(HaveOccurred())

		now := time.Now()
		Expect(store.RetractEdge(ctx, engID, e.Key(), now, "s3")).To(Succeed())

		edges, err := store.ListEdgesByPredicate(ctx, engID, domain.PredSupersedes)
		Expect(err).ToNot(HaveOccurred())
		Expect(edges).To(HaveLen(1))
		Expect(edges[0].RetractedAt).ToNot(BeNil())
		Expect(edges[0].SupersededBy).To(Equal("s3"))
	})
})
