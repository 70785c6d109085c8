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

package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/domain"
)

// PostgresStore is the production Store backend. It is a thin layer
// over sqlx: CreateFragments and CreateProcessElements run their
// inserts in one transaction; every other method issues its
// statements directly.
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewPostgresStore(db *sqlx.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func jsonOf(v any) ([]byte, error) {
	return json.Marshal(v)
}

// --- Engagements ---

func (s *PostgresStore) CreateEngagement(ctx context.Context, e *domain.Engagement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engagements (id, business_area, data_residency, embedding_model, embedding_dim, created_at, closed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.BusinessArea, e.DataResidency, e.EmbeddingModel, e.EmbeddingDim, e.CreatedAt, e.Closed)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "create engagement")
	}
	return nil
}

func (s *PostgresStore) GetEngagement(ctx context.Context, id string) (*domain.Engagement, error) {
	var row struct {
		ID             string               `db:"id"`
		BusinessArea   string               `db:"business_area"`
		DataResidency  domain.DataResidency `db:"data_residency"`
		EmbeddingModel string               `db:"embedding_model"`
		EmbeddingDim   int                  `db:"embedding_dim"`
		CreatedAt      time.Time            `db:"created_at"`
		Closed         bool                 `db:"closed"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT id, business_area, data_residency, embedding_model, embedding_dim, created_at, closed FROM engagements WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kerrors.ErrNotFound
	}
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "get engagement")
	}
	e := &domain.Engagement{
		ID: row.ID, BusinessArea: row.BusinessArea, DataResidency: row.DataResidency,
		EmbeddingModel: row.EmbeddingModel, EmbeddingDim: row.EmbeddingDim,
		CreatedAt: row.CreatedAt, Closed: row.Closed,
	}
	if row.EmbeddingModel != "" {
		_ = e.PinEmbedding(row.EmbeddingModel, row.EmbeddingDim)
	}
	return e, nil
}

func (s *PostgresStore) UpdateEngagement(ctx context.Context, e *domain.Engagement) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE engagements SET business_area=$2, data_residency=$3, embedding_model=$4, embedding_dim=$5, closed=$6
		WHERE id=$1`,
		e.ID, e.BusinessArea, e.DataResidency, e.EmbeddingModel, e.EmbeddingDim, e.Closed)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "update engagement")
	}
	return checkRowsAffected(res)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "rows affected")
	}
	if n == 0 {
		return kerrors.ErrNotFound
	}
	return nil
}

// --- Evidence ---

func (s *PostgresStore) CreateEvidenceItem(ctx context.Context, item *domain.EvidenceItem) (string, bool, error) {
	meta, err := jsonOf(item.Metadata)
	if err != nil {
		return "", false, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal evidence metadata")
	}

	var existingID string
	err = s.db.GetContext(ctx, &existingID,
		`SELECT id FROM evidence_items WHERE engagement_id=$1 AND content_hash=$2`,
		item.EngagementID, item.ContentHash)
	if err == nil {
		return existingID, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "check evidence dedup")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evidence_items
			(id, engagement_id, category, format, content_hash, completeness, reliability, freshness, consistency,
			 source_plane, lifecycle, created_at, validated_by, last_error, blob_ref, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (engagement_id, content_hash) DO NOTHING`,
		item.ID, item.EngagementID, item.Category, item.Format, item.ContentHash,
		item.Quality.Completeness, item.Quality.Reliability, item.Quality.Freshness, item.Quality.Consistency,
		item.SourcePlane, item.Lifecycle, item.CreatedAt, item.ValidatedBy, item.LastError, item.BlobRef, meta)
	if err != nil {
		return "", false, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "insert evidence item")
	}
	return item.ID, true, nil
}

type evidenceRow struct {
	ID           string              `db:"id"`
	EngagementID string              `db:"engagement_id"`
	Category     domain.EvidenceCategory `db:"category"`
	Format       string              `db:"format"`
	ContentHash  string              `db:"content_hash"`
	Completeness float64             `db:"completeness"`
	Reliability  float64             `db:"reliability"`
	Freshness    float64             `db:"freshness"`
	Consistency  float64             `db:"consistency"`
	SourcePlane  domain.SourcePlane  `db:"source_plane"`
	Lifecycle    domain.Lifecycle    `db:"lifecycle"`
	CreatedAt    time.Time           `db:"created_at"`
	ValidatedBy  string              `db:"validated_by"`
	LastError    string              `db:"last_error"`
	BlobRef      string              `db:"blob_ref"`
	Metadata     []byte              `db:"metadata"`
}

func (r *evidenceRow) toDomain() (*domain.EvidenceItem, error) {
	var meta map[string]any
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &meta); err != nil {
			return nil, err
		}
	}
	return &domain.EvidenceItem{
		ID: r.ID, EngagementID: r.EngagementID, Category: r.Category, Format: r.Format, ContentHash: r.ContentHash,
		Quality: domain.Quality{Completeness: r.Completeness, Reliability: r.Reliability, Freshness: r.Freshness, Consistency: r.Consistency},
		SourcePlane: r.SourcePlane, Lifecycle: r.Lifecycle, CreatedAt: r.CreatedAt,
		ValidatedBy: r.ValidatedBy, LastError: r.LastError, BlobRef: r.BlobRef, Metadata: meta,
	}, nil
}

const evidenceColumns = `id, engagement_id, category, format, content_hash, completeness, reliability, freshness, consistency, source_plane, lifecycle, created_at, validated_by, last_error, blob_ref, metadata`

func (s *PostgresStore) GetEvidenceItem(ctx context.Context, engagementID, id string) (*domain.EvidenceItem, error) {
	var row evidenceRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+evidenceColumns+` FROM evidence_items WHERE engagement_id=$1 AND id=$2`, engagementID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kerrors.ErrNotFound
	}
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "get evidence item")
	}
	return row.toDomain()
}

func (s *PostgresStore) FindEvidenceByContentHash(ctx context.Context, engagementID, contentHash string) (*domain.EvidenceItem, error) {
	var row evidenceRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+evidenceColumns+` FROM evidence_items WHERE engagement_id=$1 AND content_hash=$2`, engagementID, contentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kerrors.ErrNotFound
	}
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "find evidence by content hash")
	}
	return row.toDomain()
}

func (s *PostgresStore) UpdateEvidenceLifecycle(ctx context.Context, engagementID, id string, lifecycle domain.Lifecycle, validatedBy string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE evidence_items SET lifecycle=$3, validated_by = CASE WHEN $4 <> '' THEN $4 ELSE validated_by END
		 WHERE engagement_id=$1 AND id=$2`, engagementID, id, lifecycle, validatedBy)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "update evidence lifecycle")
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) UpdateEvidenceQuality(ctx context.Context, engagementID, id string, q domain.Quality) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE evidence_items SET completeness=$3, reliability=$4, freshness=$5, consistency=$6
		 WHERE engagement_id=$1 AND id=$2`, engagementID, id, q.Completeness, q.Reliability, q.Freshness, q.Consistency)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "update evidence quality")
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) SetEvidenceError(ctx context.Context, engagementID, id, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE evidence_items SET last_error=$3 WHERE engagement_id=$1 AND id=$2`, engagementID, id, lastError)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "set evidence error")
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) ListActiveEvidence(ctx context.Context, engagementID string) ([]*domain.EvidenceItem, error) {
	return s.ListEvidenceByLifecycle(ctx, engagementID, domain.LifecycleActive)
}

func (s *PostgresStore) ListEvidenceByLifecycle(ctx context.Context, engagementID string, lifecycle domain.Lifecycle) ([]*domain.EvidenceItem, error) {
	var rows []evidenceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+evidenceColumns+` FROM evidence_items WHERE engagement_id=$1 AND lifecycle=$2 ORDER BY created_at`,
		engagementID, lifecycle)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "list evidence by lifecycle")
	}
	out := make([]*domain.EvidenceItem, 0, len(rows))
	for i := range rows {
		item, err := rows[i].toDomain()
		if err != nil {
			return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "decode evidence row")
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *PostgresStore) CreateFragments(ctx context.Context, fragments []*domain.EvidenceFragment) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "begin fragment tx")
	}
	defer tx.Rollback()

	for _, f := range fragments {
		emb, err := jsonOf(f.Embedding)
		if err != nil {
			return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal fragment embedding")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO evidence_fragments (id, evidence_id, ordinal, text, embedding)
			VALUES ($1,$2,$3,$4,$5)`, f.ID, f.EvidenceID, f.Ordinal, f.Text, emb); err != nil {
			return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "insert fragment")
		}
	}
	if err := tx.Commit(); err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "commit fragment tx")
	}
	return nil
}

func (s *PostgresStore) ListFragments(ctx context.Context, evidenceID string) ([]*domain.EvidenceFragment, error) {
	var rows []struct {
		ID         string `db:"id"`
		EvidenceID string `db:"evidence_id"`
		Ordinal    int    `db:"ordinal"`
		Text       string `db:"text"`
		Embedding  []byte `db:"embedding"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, evidence_id, ordinal, text, embedding FROM evidence_fragments WHERE evidence_id=$1 ORDER BY ordinal`, evidenceID)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "list fragments")
	}
	out := make([]*domain.EvidenceFragment, 0, len(rows))
	for _, r := range rows {
		var emb []float64
		if len(r.Embedding) > 0 {
			if err := json.Unmarshal(r.Embedding, &emb); err != nil {
				return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "decode fragment embedding")
			}
		}
		out = append(out, &domain.EvidenceFragment{ID: r.ID, EvidenceID: r.EvidenceID, Ordinal: r.Ordinal, Text: r.Text, Embedding: emb})
	}
	return out, nil
}

func (s *PostgresStore) DeleteFragments(ctx context.Context, evidenceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM evidence_fragments WHERE evidence_id=$1`, evidenceID)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "delete fragments")
	}
	return nil
}

func (s *PostgresStore) DeleteByPrincipal(ctx context.Context, engagementID, principalID string) ([]string, error) {
	var itemIDs []string
	err := s.db.SelectContext(ctx, &itemIDs, `
		SELECT id FROM evidence_items
		WHERE engagement_id=$1 AND metadata->>'principal_id'=$2`, engagementID, principalID)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "find evidence by principal")
	}
	if len(itemIDs) == 0 {
		return nil, nil
	}

	var fragmentIDs []string
	query, args, err := sqlx.In(`SELECT id FROM evidence_fragments WHERE evidence_id IN (?)`, itemIDs)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "build fragment lookup query")
	}
	if err := s.db.SelectContext(ctx, &fragmentIDs, s.db.Rebind(query), args...); err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "list fragments by principal")
	}

	delQuery, delArgs, err := sqlx.In(`DELETE FROM evidence_fragments WHERE evidence_id IN (?)`, itemIDs)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "build fragment delete query")
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(delQuery), delArgs...); err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "delete fragments by principal")
	}

	delItems, delItemArgs, err := sqlx.In(`DELETE FROM evidence_items WHERE id IN (?)`, itemIDs)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "build evidence delete query")
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(delItems), delItemArgs...); err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "delete evidence by principal")
	}
	return fragmentIDs, nil
}

// --- Seed terms ---

func (s *PostgresStore) CreateSeedTerm(ctx context.Context, t *domain.SeedTerm) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seed_terms (id, engagement_id, term, category, source, status, merged_into)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.ID, t.EngagementID, t.Term, t.Category, t.Source, t.Status, t.MergedInto)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "create seed term")
	}
	return nil
}

type seedTermRow struct {
	ID           string                  `db:"id"`
	EngagementID string                  `db:"engagement_id"`
	Term         string                  `db:"term"`
	Category     domain.SeedTermCategory `db:"category"`
	Source       domain.SeedTermSource   `db:"source"`
	Status       domain.SeedTermStatus   `db:"status"`
	MergedInto   string                  `db:"merged_into"`
}

func (r seedTermRow) toDomain() *domain.SeedTerm {
	return &domain.SeedTerm{
		ID: r.ID, EngagementID: r.EngagementID, Term: r.Term, Category: r.Category,
		Source: r.Source, Status: r.Status, MergedInto: r.MergedInto,
	}
}

const seedTermColumns = `id, engagement_id, term, category, source, status, merged_into`

func (s *PostgresStore) GetSeedTerm(ctx context.Context, engagementID, id string) (*domain.SeedTerm, error) {
	var row seedTermRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+seedTermColumns+` FROM seed_terms WHERE engagement_id=$1 AND id=$2`, engagementID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kerrors.ErrNotFound
	}
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "get seed term")
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) ListSeedTerms(ctx context.Context, engagementID string) ([]*domain.SeedTerm, error) {
	var rows []seedTermRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+seedTermColumns+` FROM seed_terms WHERE engagement_id=$1`, engagementID)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "list seed terms")
	}
	out := make([]*domain.SeedTerm, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *PostgresStore) UpdateSeedTermStatus(ctx context.Context, engagementID, id string, status domain.SeedTermStatus, mergedInto string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE seed_terms SET status=$3, merged_into=$4 WHERE engagement_id=$1 AND id=$2`,
		engagementID, id, status, mergedInto)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "update seed term status")
	}
	return checkRowsAffected(res)
}

// --- Assertions ---

func (s *PostgresStore) CreateAssertion(ctx context.Context, a *domain.Assertion) error {
	anno, err := jsonOf(a.EpistemicAnnotations)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal epistemic annotations")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assertions
			(id, engagement_id, subject_kind, subject_id, predicate, object_kind, object_id,
			 frame_kind, authority_scope, access_policy, asserted_at, retracted_at, valid_from, valid_to,
			 superseded_by, epistemic_annotations)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		a.ID, a.EngagementID, a.Subject.Kind, a.Subject.ID, a.Predicate, a.Object.Kind, a.Object.ID,
		a.Frame.FrameKind, a.Frame.AuthorityScope, a.Frame.AccessPolicy, a.AssertedAt, a.RetractedAt, a.ValidFrom, a.ValidTo,
		a.SupersededBy, anno)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "create assertion")
	}
	return nil
}

type assertionRow struct {
	ID                   string             `db:"id"`
	EngagementID         string             `db:"engagement_id"`
	SubjectKind          string             `db:"subject_kind"`
	SubjectID            string             `db:"subject_id"`
	Predicate            domain.EdgePredicate `db:"predicate"`
	ObjectKind           string             `db:"object_kind"`
	ObjectID             string             `db:"object_id"`
	FrameKind            domain.FrameKind   `db:"frame_kind"`
	AuthorityScope       string             `db:"authority_scope"`
	AccessPolicy         string             `db:"access_policy"`
	AssertedAt           time.Time          `db:"asserted_at"`
	RetractedAt          *time.Time         `db:"retracted_at"`
	ValidFrom            time.Time          `db:"valid_from"`
	ValidTo              *time.Time         `db:"valid_to"`
	SupersededBy         string             `db:"superseded_by"`
	EpistemicAnnotations []byte             `db:"epistemic_annotations"`
}

func (r *assertionRow) toDomain() (*domain.Assertion, error) {
	var anno []string
	if len(r.EpistemicAnnotations) > 0 {
		if err := json.Unmarshal(r.EpistemicAnnotations, &anno); err != nil {
			return nil, err
		}
	}
	return &domain.Assertion{
		ID: r.ID, EngagementID: r.EngagementID,
		Subject: domain.TypedRef{Kind: r.SubjectKind, ID: r.SubjectID},
		Predicate: r.Predicate,
		Object:    domain.TypedRef{Kind: r.ObjectKind, ID: r.ObjectID},
		Frame: domain.EpistemicFrame{FrameKind: r.FrameKind, AuthorityScope: r.AuthorityScope, AccessPolicy: r.AccessPolicy},
		AssertedAt: r.AssertedAt, RetractedAt: r.RetractedAt, ValidFrom: r.ValidFrom, ValidTo: r.ValidTo,
		SupersededBy: r.SupersededBy, EpistemicAnnotations: anno,
	}, nil
}

const assertionColumns = `id, engagement_id, subject_kind, subject_id, predicate, object_kind, object_id, frame_kind, authority_scope, access_policy, asserted_at, retracted_at, valid_from, valid_to, superseded_by, epistemic_annotations`

func (s *PostgresStore) GetAssertion(ctx context.Context, engagementID, id string) (*domain.Assertion, error) {
	var row assertionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+assertionColumns+` FROM assertions WHERE engagement_id=$1 AND id=$2`, engagementID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kerrors.ErrNotFound
	}
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "get assertion")
	}
	return row.toDomain()
}

func (s *PostgresStore) ListAssertions(ctx context.Context, engagementID string) ([]*domain.Assertion, error) {
	var rows []assertionRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+assertionColumns+` FROM assertions WHERE engagement_id=$1`, engagementID)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "list assertions")
	}
	return decodeAssertionRows(rows)
}

func (s *PostgresStore) ListAssertionsByPredicate(ctx context.Context, engagementID string, predicate domain.EdgePredicate) ([]*domain.Assertion, error) {
	var rows []assertionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+assertionColumns+` FROM assertions WHERE engagement_id=$1 AND predicate=$2`, engagementID, predicate)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "list assertions by predicate")
	}
	return decodeAssertionRows(rows)
}

func decodeAssertionRows(rows []assertionRow) ([]*domain.Assertion, error) {
	out := make([]*domain.Assertion, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toDomain()
		if err != nil {
			return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "decode assertion row")
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *PostgresStore) SetRetraction(ctx context.Context, engagementID, id string, retractedAt time.Time, supersededBy string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assertions SET retracted_at=$3, superseded_by=$4 WHERE engagement_id=$1 AND id=$2`,
		engagementID, id, retractedAt, supersededBy)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "set assertion retraction")
	}
	return checkRowsAffected(res)
}

// --- Process elements ---

func (s *PostgresStore) CreateProcessElements(ctx context.Context, elements []*domain.ProcessElement) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "begin process element tx")
	}
	defer tx.Rollback()

	for _, e := range elements {
		planes, err := jsonOf(e.SupportingPlanes)
		if err != nil {
			return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal supporting planes")
		}
		evidenceIDs, err := jsonOf(e.SupportingEvidenceIDs)
		if err != nil {
			return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal supporting evidence ids")
		}
		deps, err := jsonOf(e.DependsOnIDs)
		if err != nil {
			return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal depends-on ids")
		}
		precedes, err := jsonOf(e.PrecedesIDs)
		if err != nil {
			return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal precedes ids")
		}
		parallel, err := jsonOf(e.ParallelWithIDs)
		if err != nil {
			return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal parallel-with ids")
		}
		exclusive, err := jsonOf(e.ExclusiveWithIDs)
		if err != nil {
			return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal exclusive-with ids")
		}
		loopBack, err := jsonOf(e.LoopBackIDs)
		if err != nil {
			return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal loop-back ids")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO process_elements
				(id, model_id, type, name, canonical_name, confidence_score, strength_score, quality_score,
				 brightness, evidence_grade, supporting_evidence_ids, supporting_planes, validated_count,
				 human_validated, depends_on_ids, status, precedes_ids, parallel_with_ids, exclusive_with_ids,
				 loop_back_ids)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
			e.ID, e.ModelID, e.Type, e.Name, e.CanonicalName, e.ConfidenceScore, e.StrengthScore, e.QualityScore,
			e.Brightness, e.EvidenceGrade, evidenceIDs, planes, e.ValidatedCount, e.HumanValidated, deps, e.Status,
			precedes, parallel, exclusive, loopBack); err != nil {
			return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "insert process element")
		}
	}
	if err := tx.Commit(); err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "commit process element tx")
	}
	return nil
}

func (s *PostgresStore) ListProcessElements(ctx context.Context, modelID string) ([]*domain.ProcessElement, error) {
	var rows []struct {
		ID                    string               `db:"id"`
		ModelID               string               `db:"model_id"`
		Type                  domain.ElementType   `db:"type"`
		Name                  string               `db:"name"`
		CanonicalName         string               `db:"canonical_name"`
		ConfidenceScore       float64              `db:"confidence_score"`
		StrengthScore         float64              `db:"strength_score"`
		QualityScore          float64              `db:"quality_score"`
		Brightness            domain.Brightness    `db:"brightness"`
		EvidenceGrade         domain.EvidenceGrade `db:"evidence_grade"`
		SupportingEvidenceIDs []byte               `db:"supporting_evidence_ids"`
		SupportingPlanes      []byte               `db:"supporting_planes"`
		ValidatedCount        int                  `db:"validated_count"`
		HumanValidated        bool                 `db:"human_validated"`
		DependsOnIDs          []byte               `db:"depends_on_ids"`
		Status                string               `db:"status"`
		PrecedesIDs           []byte               `db:"precedes_ids"`
		ParallelWithIDs       []byte               `db:"parallel_with_ids"`
		ExclusiveWithIDs      []byte               `db:"exclusive_with_ids"`
		LoopBackIDs           []byte               `db:"loop_back_ids"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, model_id, type, name, canonical_name, confidence_score, strength_score, quality_score,
			brightness, evidence_grade, supporting_evidence_ids, supporting_planes, validated_count,
			human_validated, depends_on_ids, status, precedes_ids, parallel_with_ids, exclusive_with_ids,
			loop_back_ids
		 FROM process_elements WHERE model_id=$1`, modelID)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "list process elements")
	}
	out := make([]*domain.ProcessElement, 0, len(rows))
	for _, r := range rows {
		pe := &domain.ProcessElement{
			ID: r.ID, ModelID: r.ModelID, Type: r.Type, Name: r.Name, CanonicalName: r.CanonicalName,
			ConfidenceScore: r.ConfidenceScore, StrengthScore: r.StrengthScore, QualityScore: r.QualityScore,
			Brightness: r.Brightness, EvidenceGrade: r.EvidenceGrade, ValidatedCount: r.ValidatedCount,
			HumanValidated: r.HumanValidated, Status: r.Status,
		}
		if len(r.SupportingEvidenceIDs) > 0 {
			if err := json.Unmarshal(r.SupportingEvidenceIDs, &pe.SupportingEvidenceIDs); err != nil {
				return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "decode supporting evidence ids")
			}
		}
		if len(r.SupportingPlanes) > 0 {
			if err := json.Unmarshal(r.SupportingPlanes, &pe.SupportingPlanes); err != nil {
				return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "decode supporting planes")
			}
		}
		if len(r.DependsOnIDs) > 0 {
			if err := json.Unmarshal(r.DependsOnIDs, &pe.DependsOnIDs); err != nil {
				return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "decode depends-on ids")
			}
		}
		if len(r.PrecedesIDs) > 0 {
			if err := json.Unmarshal(r.PrecedesIDs, &pe.PrecedesIDs); err != nil {
				return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "decode precedes ids")
			}
		}
		if len(r.ParallelWithIDs) > 0 {
			if err := json.Unmarshal(r.ParallelWithIDs, &pe.ParallelWithIDs); err != nil {
				return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "decode parallel-with ids")
			}
		}
		if len(r.ExclusiveWithIDs) > 0 {
			if err := json.Unmarshal(r.ExclusiveWithIDs, &pe.ExclusiveWithIDs); err != nil {
				return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "decode exclusive-with ids")
			}
		}
		if len(r.LoopBackIDs) > 0 {
			if err := json.Unmarshal(r.LoopBackIDs, &pe.LoopBackIDs); err != nil {
				return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "decode loop-back ids")
			}
		}
		out = append(out, pe)
	}
	return out, nil
}

func (s *PostgresStore) UpdateProcessElement(ctx context.Context, e *domain.ProcessElement) error {
	planes, err := jsonOf(e.SupportingPlanes)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal supporting planes")
	}
	evidenceIDs, err := jsonOf(e.SupportingEvidenceIDs)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal supporting evidence ids")
	}
	deps, err := jsonOf(e.DependsOnIDs)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal depends-on ids")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE process_elements SET
			confidence_score=$3, strength_score=$4, quality_score=$5, brightness=$6, evidence_grade=$7,
			supporting_evidence_ids=$8, supporting_planes=$9, validated_count=$10, human_validated=$11,
			depends_on_ids=$12, status=$13
		WHERE id=$1 AND model_id=$2`,
		e.ID, e.ModelID, e.ConfidenceScore, e.StrengthScore, e.QualityScore, e.Brightness, e.EvidenceGrade,
		evidenceIDs, planes, e.ValidatedCount, e.HumanValidated, deps, e.Status)
	// Structural fields (precedes/parallel/exclusive/loop-back) are set
	// once at consensus time and are not mutated by validation, so they
	// are intentionally left out of this UPDATE's SET list.
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "update process element")
	}
	return checkRowsAffected(res)
}

// --- Process models ---

func (s *PostgresStore) CreateProcessModel(ctx context.Context, model *domain.ProcessModel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_models (id, engagement_id, version, created_at, partial)
		VALUES ($1,$2,$3,$4,$5)`,
		model.ID, model.EngagementID, model.Version, model.CreatedAt, model.Partial)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "create process model")
	}
	return nil
}

func (s *PostgresStore) GetProcessModel(ctx context.Context, engagementID, id string) (*domain.ProcessModel, error) {
	var row struct {
		ID           string    `db:"id"`
		EngagementID string    `db:"engagement_id"`
		Version      int       `db:"version"`
		CreatedAt    time.Time `db:"created_at"`
		Partial      bool      `db:"partial"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT id, engagement_id, version, created_at, partial FROM process_models WHERE id=$1 AND engagement_id=$2`,
		id, engagementID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kerrors.ErrNotFound
	}
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "get process model")
	}
	return &domain.ProcessModel{
		ID: row.ID, EngagementID: row.EngagementID, Version: row.Version,
		CreatedAt: row.CreatedAt, Partial: row.Partial,
	}, nil
}

func (s *PostgresStore) LatestProcessModel(ctx context.Context, engagementID string) (*domain.ProcessModel, error) {
	var row struct {
		ID           string    `db:"id"`
		EngagementID string    `db:"engagement_id"`
		Version      int       `db:"version"`
		CreatedAt    time.Time `db:"created_at"`
		Partial      bool      `db:"partial"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT id, engagement_id, version, created_at, partial FROM process_models
		 WHERE engagement_id=$1 ORDER BY version DESC LIMIT 1`, engagementID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kerrors.ErrNotFound
	}
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "get latest process model")
	}
	return &domain.ProcessModel{
		ID: row.ID, EngagementID: row.EngagementID, Version: row.Version,
		CreatedAt: row.CreatedAt, Partial: row.Partial,
	}, nil
}

func (s *PostgresStore) ListProcessModels(ctx context.Context, engagementID string) ([]*domain.ProcessModel, error) {
	var rows []struct {
		ID           string    `db:"id"`
		EngagementID string    `db:"engagement_id"`
		Version      int       `db:"version"`
		CreatedAt    time.Time `db:"created_at"`
		Partial      bool      `db:"partial"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, engagement_id, version, created_at, partial FROM process_models
		 WHERE engagement_id=$1 ORDER BY version ASC`, engagementID)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "list process models")
	}
	out := make([]*domain.ProcessModel, 0, len(rows))
	for _, r := range rows {
		out = append(out, &domain.ProcessModel{
			ID: r.ID, EngagementID: r.EngagementID, Version: r.Version,
			CreatedAt: r.CreatedAt, Partial: r.Partial,
		})
	}
	return out, nil
}

// --- Conflicts ---

type conflictRow struct {
	ID                string                `db:"id"`
	EngagementID      string                `db:"engagement_id"`
	MismatchType      domain.MismatchType   `db:"mismatch_type"`
	SourceARef        string                `db:"source_a_ref"`
	SourceBRef        string                `db:"source_b_ref"`
	Severity          float64               `db:"severity"`
	ResolutionType    domain.Classification `db:"resolution_type"`
	ResolutionDetails string                `db:"resolution_details"`
	Status            domain.ConflictStatus `db:"status"`
	ClassifiedAt      *time.Time            `db:"classified_at"`
	CreatedAt         time.Time             `db:"created_at"`
	UpdatedAt         time.Time             `db:"updated_at"`
}

func (r conflictRow) toDomain() *domain.ConflictObject {
	return &domain.ConflictObject{
		ID: r.ID, EngagementID: r.EngagementID, MismatchType: r.MismatchType,
		SourceARef: r.SourceARef, SourceBRef: r.SourceBRef, Severity: r.Severity,
		ResolutionType: r.ResolutionType, ResolutionDetails: r.ResolutionDetails,
		Status: r.Status, ClassifiedAt: r.ClassifiedAt, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

const conflictColumns = `id, engagement_id, mismatch_type, source_a_ref, source_b_ref, severity, resolution_type, resolution_details, status, classified_at, created_at, updated_at`

func (s *PostgresStore) UpsertConflict(ctx context.Context, c *domain.ConflictObject) (bool, error) {
	a, b := c.SourceARef, c.SourceBRef
	if b < a {
		a, b = b, a
	}
	var existingID string
	err := s.db.GetContext(ctx, &existingID,
		`SELECT id FROM conflicts WHERE engagement_id=$1 AND mismatch_type=$2 AND source_a_ref=$3 AND source_b_ref=$4`,
		c.EngagementID, c.MismatchType, a, b)
	if err == nil {
		c.ID = existingID
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "check conflict dedup")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conflicts
			(id, engagement_id, mismatch_type, source_a_ref, source_b_ref, severity, resolution_type,
			 resolution_details, status, classified_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (engagement_id, mismatch_type, source_a_ref, source_b_ref) DO NOTHING`,
		c.ID, c.EngagementID, c.MismatchType, a, b, c.Severity, c.ResolutionType,
		c.ResolutionDetails, c.Status, c.ClassifiedAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return false, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "insert conflict")
	}
	return true, nil
}

func (s *PostgresStore) GetConflict(ctx context.Context, engagementID, id string) (*domain.ConflictObject, error) {
	var row conflictRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+conflictColumns+` FROM conflicts WHERE engagement_id=$1 AND id=$2`, engagementID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kerrors.ErrNotFound
	}
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "get conflict")
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) ListConflicts(ctx context.Context, engagementID string, status domain.ConflictStatus) ([]*domain.ConflictObject, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts WHERE engagement_id=$1`
	args := []any{engagementID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, status)
	}
	var rows []conflictRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "list conflicts")
	}
	out := make([]*domain.ConflictObject, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *PostgresStore) UpdateConflictStatus(ctx context.Context, engagementID, id string, status domain.ConflictStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conflicts SET status=$3, updated_at=now() WHERE engagement_id=$1 AND id=$2`, engagementID, id, status)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "update conflict status")
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) ListOpenOlderThan(ctx context.Context, engagementID string, age time.Duration) ([]*domain.ConflictObject, error) {
	cutoff := time.Now().Add(-age)
	var rows []conflictRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+conflictColumns+` FROM conflicts WHERE engagement_id=$1 AND status=$2 AND created_at < $3`,
		engagementID, domain.ConflictOpen, cutoff)
	out := make([]*domain.ConflictObject, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "list stale open conflicts")
	}
	return out, nil
}

// --- Tasks ---

func (s *PostgresStore) CreateTask(ctx context.Context, t *domain.Task) error {
	payload, err := jsonOf(t.Payload)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal task payload")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, kind, engagement_id, status, progress, stage_label, attempts, last_error,
			payload, result, cancelled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'{}',$10,$11,$12)`,
		t.ID, t.Kind, t.EngagementID, t.Status, t.Progress, t.StageLabel, t.Attempts, t.LastError,
		payload, t.Cancelled, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "create task")
	}
	return nil
}

type taskRow struct {
	ID           string          `db:"id"`
	Kind         domain.TaskKind `db:"kind"`
	EngagementID string          `db:"engagement_id"`
	Status       domain.TaskStatus `db:"status"`
	Progress     float64         `db:"progress"`
	StageLabel   string          `db:"stage_label"`
	Attempts     int             `db:"attempts"`
	LastError    string          `db:"last_error"`
	Payload      []byte          `db:"payload"`
	Result       []byte          `db:"result"`
	Cancelled    bool            `db:"cancelled"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func (r *taskRow) toDomain() (*domain.Task, error) {
	t := &domain.Task{
		ID: r.ID, Kind: r.Kind, EngagementID: r.EngagementID, Status: r.Status, Progress: r.Progress,
		StageLabel: r.StageLabel, Attempts: r.Attempts, LastError: r.LastError, Cancelled: r.Cancelled,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &t.Payload); err != nil {
			return nil, err
		}
	}
	if len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, &t.Result); err != nil {
			return nil, err
		}
	}
	return t, nil
}

const taskColumns = `id, kind, engagement_id, status, progress, stage_label, attempts, last_error, payload, result, cancelled, created_at, updated_at`

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kerrors.ErrNotFound
	}
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "get task")
	}
	return row.toDomain()
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus, lastError string) error {
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !domain.CanTransitionTask(current.Status, status) {
		return kerrors.Newf(kerrors.ErrorTypeIllegalTransition, "task %s: %s -> %s", id, current.Status, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status=$2, last_error=$3, updated_at=now() WHERE id=$1`, id, status, lastError)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "update task status")
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) UpdateTaskProgress(ctx context.Context, id string, progress float64, stageLabel string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET progress=$2, stage_label=$3, updated_at=now() WHERE id=$1 AND progress <= $2`,
		id, progress, stageLabel)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "update task progress")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "rows affected")
	}
	if n == 0 {
		if _, err := s.GetTask(ctx, id); err != nil {
			return err
		}
		return kerrors.Newf(kerrors.ErrorTypeValidation, "progress must be monotonically non-decreasing for task %s", id)
	}
	return nil
}

func (s *PostgresStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.GetContext(ctx, &attempts,
		`UPDATE tasks SET attempts = attempts + 1 WHERE id=$1 RETURNING attempts`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, kerrors.ErrNotFound
	}
	if err != nil {
		return 0, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "increment task attempts")
	}
	return attempts, nil
}

func (s *PostgresStore) SetCancelled(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET cancelled=true WHERE id=$1`, id)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "set task cancelled")
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) SetResult(ctx context.Context, id string, result map[string]any, status domain.TaskStatus) error {
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !domain.CanTransitionTask(current.Status, status) {
		return kerrors.Newf(kerrors.ErrorTypeIllegalTransition, "task %s: %s -> %s", id, current.Status, status)
	}
	res, err := jsonOf(result)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal task result")
	}
	sqlRes, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET result=$2, status=$3, updated_at=now() WHERE id=$1`, id, res, status)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "set task result")
	}
	return checkRowsAffected(sqlRes)
}

func (s *PostgresStore) CountInFlight(ctx context.Context, engagementID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT count(*) FROM tasks WHERE engagement_id=$1 AND status IN ($2, $3)`,
		engagementID, domain.TaskQueued, domain.TaskRunning)
	if err != nil {
		return 0, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "count in-flight tasks")
	}
	return n, nil
}

// --- Outbox ---

func (s *PostgresStore) AppendOutbox(ctx context.Context, e *OutboxEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_outbox (id, engagement_id, delta, created_at, applied, attempts)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.EngagementID, e.Delta, e.CreatedAt, e.Applied, e.Attempts)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "append outbox entry")
	}
	return nil
}

func (s *PostgresStore) ListPending(ctx context.Context, engagementID string, limit int) ([]*OutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*OutboxEntry
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, engagement_id, delta, created_at, applied, attempts
		FROM graph_outbox WHERE engagement_id=$1 AND applied=false ORDER BY created_at LIMIT $2`,
		engagementID, limit)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "list pending outbox entries")
	}
	return out, nil
}

func (s *PostgresStore) MarkApplied(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE graph_outbox SET applied=true WHERE id=$1`, id)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "mark outbox entry applied")
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) IncrementOutboxAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.GetContext(ctx, &attempts,
		`UPDATE graph_outbox SET attempts = attempts + 1 WHERE id=$1 RETURNING attempts`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, kerrors.ErrNotFound
	}
	if err != nil {
		return 0, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "increment outbox attempts")
	}
	return attempts, nil
}

// --- Audit ---

func (s *PostgresStore) RecordAudit(ctx context.Context, e *domain.AuditEntry) error {
	details, err := jsonOf(e.Details)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "marshal audit details")
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (engagement_id, actor, action, resource_kind, resource_id, details, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.EngagementID, e.Actor, e.Action, e.ResourceKind, e.ResourceID, details, e.RecordedAt)
	if err != nil {
		return kerrors.Wrap(err, kerrors.ErrorTypeValidation, "record audit entry")
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, engagementID string, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	type row struct {
		ID           int64     `db:"id"`
		EngagementID string    `db:"engagement_id"`
		Actor        string    `db:"actor"`
		Action       string    `db:"action"`
		ResourceKind string    `db:"resource_kind"`
		ResourceID   string    `db:"resource_id"`
		Details      []byte    `db:"details"`
		RecordedAt   time.Time `db:"recorded_at"`
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, engagement_id, actor, action, resource_kind, resource_id, details, recorded_at
		FROM audit_log WHERE engagement_id=$1 ORDER BY recorded_at DESC LIMIT $2`, engagementID, limit)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "list audit entries")
	}
	out := make([]*domain.AuditEntry, 0, len(rows))
	for _, r := range rows {
		var details map[string]any
		if err := json.Unmarshal(r.Details, &details); err != nil {
			return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "unmarshal audit details")
		}
		out = append(out, &domain.AuditEntry{
			ID: r.ID, EngagementID: r.EngagementID, Actor: r.Actor, Action: r.Action,
			ResourceKind: r.ResourceKind, ResourceID: r.ResourceID, Details: details, RecordedAt: r.RecordedAt,
		})
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
