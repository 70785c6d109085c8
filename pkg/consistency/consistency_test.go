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

package consistency_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/config"
	"github.com/proth1/kmflow-sub002/pkg/consistency"
	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/graph"
	"github.com/proth1/kmflow-sub002/pkg/seed"
	"github.com/proth1/kmflow-sub002/pkg/storage/graphstore"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

func TestConsistency(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Consistency Suite")
}

func act(id string) domain.TypedRef { return domain.TypedRef{Kind: "Activity", ID: id} }

type recordingEscalator struct{ notified []*domain.ConflictObject }

func (r *recordingEscalator) NotifyEscalation(_ context.Context, c *domain.ConflictObject) error {
	r.notified = append(r.notified, c)
	return nil
}

func newScanner(store *relational.MemoryStore, gstore *graphstore.MemoryStore, escalator consistency.Escalator) *consistency.Scanner {
	resolver := seed.NewResolver(store)
	writer := graph.NewWriter(store, store, gstore, zap.NewNop())
	return consistency.NewScanner(store, store, gstore, resolver, writer, config.DefaultAuthorityScopes(), escalator, zap.NewNop())
}

var _ = Describe("Scanner", func() {
	var (
		ctx    context.Context
		store  *relational.MemoryStore
		gstore *graphstore.MemoryStore
		engID  string
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = relational.NewMemoryStore()
		gstore = graphstore.NewMemoryStore()
		engID = "eng-1"
	})

	It("classifies a same-validity-window disagreement as genuine and leaves it open (S4)", func() {
		now := time.Now()
		a := &domain.Assertion{
			ID: "a1", EngagementID: engID, Predicate: domain.PredPerformedBy,
			Subject: act("x1"), Object: domain.TypedRef{Kind: "Role", ID: "r1"},
			Frame:      domain.EpistemicFrame{AuthorityScope: "consultant"},
			AssertedAt: now, ValidFrom: now.Add(-time.Hour),
		}
		b := &domain.Assertion{
			ID: "a2", EngagementID: engID, Predicate: domain.PredPerformedBy,
			Subject: act("x1"), Object: domain.TypedRef{Kind: "Role", ID: "r2"},
			Frame:      domain.EpistemicFrame{AuthorityScope: "client_sponsor"},
			AssertedAt: now, ValidFrom: now.Add(-time.Hour),
		}
		Expect(store.CreateAssertion(ctx, a)).To(Succeed())
		Expect(store.CreateAssertion(ctx, b)).To(Succeed())

		s := newScanner(store, gstore, nil)
		conflicts, err := s.Scan(ctx, engID)
		Expect(err).ToNot(HaveOccurred())

		var roleConflict *domain.ConflictObject
		for _, c := range conflicts {
			if c.MismatchType == domain.MismatchRole {
				roleConflict = c
			}
		}
		Expect(roleConflict).ToNot(BeNil())
		Expect(roleConflict.ResolutionType).To(Equal(domain.ClassGenuineDisagree))
		Expect(roleConflict.Status).To(Equal(domain.ConflictOpen))
	})

	It("resolves a naming variant via the seed merge chain and downgrades the conflict", func() {
		Expect(store.CreateSeedTerm(ctx, &domain.SeedTerm{
			ID: "t1", EngagementID: engID, Term: "invoice review", Category: domain.SeedCategoryActivity,
			Source: domain.SeedSourceConsultant, Status: domain.SeedStatusActive,
		})).To(Succeed())
		Expect(store.CreateSeedTerm(ctx, &domain.SeedTerm{
			ID: "t2", EngagementID: engID, Term: "bill review", Category: domain.SeedCategoryActivity,
			Source: domain.SeedSourceConsultant, Status: domain.SeedStatusMerged, MergedInto: "t1",
		})).To(Succeed())

		now := time.Now()
		Expect(store.CreateAssertion(ctx, &domain.Assertion{
			ID: "p1", EngagementID: engID, Predicate: domain.PredPrecedes,
			Subject: act("upstream"), Object: act("downstream"),
			AssertedAt: now, ValidFrom: now.Add(-time.Hour),
		})).To(Succeed())
		Expect(store.CreateAssertion(ctx, &domain.Assertion{
			ID: "pr1", EngagementID: engID, Predicate: domain.PredProduces,
			Subject: act("upstream"), Object: domain.TypedRef{Kind: "DataObject", ID: "invoice review"},
			AssertedAt: now, ValidFrom: now.Add(-time.Hour),
		})).To(Succeed())
		Expect(store.CreateAssertion(ctx, &domain.Assertion{
			ID: "co1", EngagementID: engID, Predicate: domain.PredConsumes,
			Subject: act("downstream"), Object: domain.TypedRef{Kind: "DataObject", ID: "bill review"},
			AssertedAt: now, ValidFrom: now.Add(-time.Hour),
		})).To(Succeed())

		s := newScanner(store, gstore, nil)
		conflicts, err := s.Scan(ctx, engID)
		Expect(err).ToNot(HaveOccurred())

		var io *domain.ConflictObject
		for _, c := range conflicts {
			if c.MismatchType == domain.MismatchIO {
				io = c
			}
		}
		Expect(io).ToNot(BeNil())
		Expect(io.ResolutionType).To(Equal(domain.ClassNamingVariant))
		Expect(io.Status).To(Equal(domain.ConflictResolved))
	})

	It("is idempotent across repeated scans (S6 at-least-once replay)", func() {
		now := time.Now()
		Expect(store.CreateAssertion(ctx, &domain.Assertion{
			ID: "a1", EngagementID: engID, Predicate: domain.PredPerformedBy,
			Subject: act("x1"), Object: domain.TypedRef{Kind: "Role", ID: "r1"},
			Frame:      domain.EpistemicFrame{AuthorityScope: "consultant"},
			AssertedAt: now, ValidFrom: now.Add(-time.Hour),
		})).To(Succeed())
		Expect(store.CreateAssertion(ctx, &domain.Assertion{
			ID: "a2", EngagementID: engID, Predicate: domain.PredPerformedBy,
			Subject: act("x1"), Object: domain.TypedRef{Kind: "Role", ID: "r2"},
			Frame:      domain.EpistemicFrame{AuthorityScope: "client_sponsor"},
			AssertedAt: now, ValidFrom: now.Add(-time.Hour),
		})).To(Succeed())

		s := newScanner(store, gstore, nil)
		first, err := s.Scan(ctx, engID)
		Expect(err).ToNot(HaveOccurred())
		second, err := s.Scan(ctx, engID)
		Expect(err).ToNot(HaveOccurred())

		Expect(len(second)).To(Equal(len(first)))
		ids := map[string]bool{}
		for _, c := range second {
			ids[c.ID] = true
		}
		Expect(ids).To(HaveLen(len(second)))

		open, err := store.ListConflicts(ctx, engID, domain.ConflictOpen)
		Expect(err).ToNot(HaveOccurred())
		Expect(open).To(HaveLen(1))
	})

	It("auto-escalates a conflict open for more than the given age", func() {
		esc := &recordingEscalator{}
		conflict := &domain.ConflictObject{
			ID: "c1", EngagementID: engID, MismatchType: domain.MismatchRole,
			SourceARef: "a1", SourceBRef: "a2", Status: domain.ConflictOpen,
			CreatedAt: time.Now().Add(-72 * time.Hour), UpdatedAt: time.Now().Add(-72 * time.Hour),
		}
		_, err := store.UpsertConflict(ctx, conflict)
		Expect(err).ToNot(HaveOccurred())

		s := newScanner(store, gstore, esc)
		n, err := s.EscalateStale(ctx, engID, 48*time.Hour)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(1))
		Expect(esc.notified).To(HaveLen(1))

		refreshed, err := store.GetConflict(ctx, engID, "c1")
		Expect(err).ToNot(HaveOccurred())
		Expect(refreshed.Status).To(Equal(domain.ConflictEscalated))
	})
})

var _ = Describe("Severity", func() {
	It("weights authority differential, recency, and criticality", func() {
		now := time.Now()
		sev := consistency.Severity(1.0, 0.2, 0.8, now, now)
		Expect(sev).To(BeNumerically(">", 0.5))
	})
})
