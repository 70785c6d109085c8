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

package relational_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

func TestRelational(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Relational Store Suite")
}

var _ = Describe("PostgresStore", func() {
	var (
		ctx   context.Context
		store *relational.PostgresStore
		db    *sqlx.DB
		mock  sqlmock.Sqlmock
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mock = mockSQL
		store = relational.NewPostgresStore(db, zap.NewNop())
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("CreateEvidenceItem", func() {
		item := &domain.EvidenceItem{
			ID: "ev-1", EngagementID: "eng-1", Category: domain.CategoryProcessDocs, Format: "pdf",
			ContentHash: "hash-a", SourcePlane: domain.PlaneDocument, Lifecycle: domain.LifecyclePending,
			CreatedAt: time.Now(),
		}

		It("inserts a new item when no content-hash duplicate exists", func() {
			mock.ExpectQuery(`SELECT id FROM evidence_items`).
				WithArgs(item.EngagementID, item.ContentHash).
				WillReturnError(sql.ErrNoRows)
			mock.ExpectExec(`INSERT INTO evidence_items`).
				WillReturnResult(sqlmock.NewResult(1, 1))

			id, created, err := store.CreateEvidenceItem(ctx, item)
			Expect(err).ToNot(HaveOccurred())
			Expect(created).To(BeTrue())
			Expect(id).To(Equal("ev-1"))
		})

		It("returns the existing id without inserting when a duplicate is found", func() {
			rows := sqlmock.NewRows([]string{"id"}).AddRow("ev-original")
			mock.ExpectQuery(`SELECT id FROM evidence_items`).
				WithArgs(item.EngagementID, item.ContentHash).
				WillReturnRows(rows)

			id, created, err := store.CreateEvidenceItem(ctx, item)
			Expect(err).ToNot(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(id).To(Equal("ev-original"))
		})
	})

	Describe("UpsertConflict", func() {
		c := &domain.ConflictObject{
			ID: "cf-1", EngagementID: "eng-1", MismatchType: domain.MismatchSequence,
			SourceARef: "assertion-2", SourceBRef: "assertion-1", Status: domain.ConflictOpen,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}

		It("sorts source refs before checking for an existing row", func() {
			mock.ExpectQuery(`SELECT id FROM conflicts`).
				WithArgs(c.EngagementID, c.MismatchType, "assertion-1", "assertion-2").
				WillReturnError(sql.ErrNoRows)
			mock.ExpectExec(`INSERT INTO conflicts`).
				WillReturnResult(sqlmock.NewResult(1, 1))

			created, err := store.UpsertConflict(ctx, c)
			Expect(err).ToNot(HaveOccurred())
			Expect(created).To(BeTrue())
		})

		It("is idempotent: a second call with the same key returns created=false", func() {
			rows := sqlmock.NewRows([]string{"id"}).AddRow("cf-existing")
			mock.ExpectQuery(`SELECT id FROM conflicts`).
				WithArgs(c.EngagementID, c.MismatchType, "assertion-1", "assertion-2").
				WillReturnRows(rows)

			created, err := store.UpsertConflict(ctx, c)
			Expect(err).ToNot(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(c.ID).To(Equal("cf-existing"))
		})
	})

	Describe("CreateProcessModel / LatestProcessModel", func() {
		It("returns the highest-version row for the engagement", func() {
			mock.ExpectExec(`INSERT INTO process_models`).
				WithArgs("pm-2", "eng-1", 2, sqlmock.AnyArg(), false).
				WillReturnResult(sqlmock.NewResult(1, 1))
			Expect(store.CreateProcessModel(ctx, &domain.ProcessModel{
				ID: "pm-2", EngagementID: "eng-1", Version: 2, CreatedAt: time.Now(),
			})).To(Succeed())

			rows := sqlmock.NewRows([]string{"id", "engagement_id", "version", "created_at", "partial"}).
				AddRow("pm-2", "eng-1", 2, time.Now(), false)
			mock.ExpectQuery(`SELECT (.+) FROM process_models`).
				WithArgs("eng-1").WillReturnRows(rows)

			latest, err := store.LatestProcessModel(ctx, "eng-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(latest.Version).To(Equal(2))
		})
	})

	Describe("RecordAudit", func() {
		It("inserts a row with the marshalled details", func() {
			mock.ExpectExec(`INSERT INTO audit_log`).
				WithArgs("eng-1", "reviewer-1", "validate_confirm", "process_element", "pe1", []byte(`{"canonical_name":"invoice review"}`), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))

			err := store.RecordAudit(ctx, &domain.AuditEntry{
				EngagementID: "eng-1", Actor: "reviewer-1", Action: "validate_confirm",
				ResourceKind: "process_element", ResourceID: "pe1",
				Details: map[string]any{"canonical_name": "invoice review"},
			})
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Describe("DeleteByPrincipal", func() {
		It("deletes matching evidence and fragments and returns the fragment ids", func() {
			itemRows := sqlmock.NewRows([]string{"id"}).AddRow("ev-1").AddRow("ev-2")
			mock.ExpectQuery(`SELECT id FROM evidence_items`).
				WithArgs("eng-1", "principal-1").WillReturnRows(itemRows)

			fragRows := sqlmock.NewRows([]string{"id"}).AddRow("fr-1").AddRow("fr-2")
			mock.ExpectQuery(`SELECT id FROM evidence_fragments WHERE evidence_id IN`).
				WithArgs("ev-1", "ev-2").WillReturnRows(fragRows)

			mock.ExpectExec(`DELETE FROM evidence_fragments WHERE evidence_id IN`).
				WithArgs("ev-1", "ev-2").WillReturnResult(sqlmock.NewResult(0, 2))
			mock.ExpectExec(`DELETE FROM evidence_items WHERE id IN`).
				WithArgs("ev-1", "ev-2").WillReturnResult(sqlmock.NewResult(0, 2))

			fragmentIDs, err := store.DeleteByPrincipal(ctx, "eng-1", "principal-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(fragmentIDs).To(ConsistOf("fr-1", "fr-2"))
		})

		It("returns no rows and issues no deletes when nothing matches", func() {
			mock.ExpectQuery(`SELECT id FROM evidence_items`).
				WithArgs("eng-1", "principal-404").WillReturnRows(sqlmock.NewRows([]string{"id"}))

			fragmentIDs, err := store.DeleteByPrincipal(ctx, "eng-1", "principal-404")
			Expect(err).ToNot(HaveOccurred())
			Expect(fragmentIDs).To(BeEmpty())
		})
	})

	Describe("UpdateTaskStatus", func() {
		It("rejects an illegal transition without issuing the UPDATE", func() {
			taskRows := sqlmock.NewRows([]string{
				"id", "kind", "engagement_id", "status", "progress", "stage_label",
				"attempts", "last_error", "payload", "result", "cancelled", "created_at", "updated_at",
			}).AddRow("task-1", domain.TaskIngestEvidence, "eng-1", domain.TaskSucceeded, 1.0, "",
				1, "", []byte("{}"), []byte("{}"), false, time.Now(), time.Now())
			mock.ExpectQuery(`SELECT (.+) FROM tasks WHERE id=\$1`).WithArgs("task-1").WillReturnRows(taskRows)

			err := store.UpdateTaskStatus(ctx, "task-1", domain.TaskRunning, "")
			Expect(err).To(HaveOccurred())
		})
	})
})
