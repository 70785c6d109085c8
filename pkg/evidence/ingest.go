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

// Package evidence implements ingestion, quality scoring, and
// lifecycle management for EvidenceItem (spec §4.1).
package evidence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/config"
	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/engagement"
	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

// Parser produces ordered text fragments from a blob reference. The
// concrete implementation is category-specific and lives outside this
// engine (spec §4.1 "external collaborator").
type Parser interface {
	Parse(ctx context.Context, blobRef string, category domain.EvidenceCategory) ([]string, error)
}

// Classifier scores how confidently the upstream NLP pipeline
// recognized the fragments it parsed; used by the auto-validation
// rule (spec §4.1).
type Classifier interface {
	Confidence(ctx context.Context, fragments []string) (float64, error)
}

// Embedder produces a vector embedding for one fragment of text, at
// the engagement's pinned model/dim (spec §3.2).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Service drives the evidence ingestion pipeline.
type Service struct {
	store       relational.EvidenceStore
	engagements *engagement.Service
	parser      Parser
	classifier  Classifier
	embedder    Embedder
	cfg         config.Config
	logger      *zap.Logger
}

func NewService(
	store relational.EvidenceStore,
	engagements *engagement.Service,
	parser Parser,
	classifier Classifier,
	embedder Embedder,
	cfg config.Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		store: store, engagements: engagements, parser: parser,
		classifier: classifier, embedder: embedder, cfg: cfg, logger: logger,
	}
}

// Ingest computes content_hash over canonical, dedups against the
// engagement, parses the blob, scores quality, and auto-advances
// lifecycle (spec §4.1 "ingest(...)").
func (s *Service) Ingest(ctx context.Context, engagementID string, category domain.EvidenceCategory, format, blobRef string, canonical []byte, metadata map[string]any) (string, error) {
	if _, err := s.engagements.RequireOpen(ctx, engagementID); err != nil {
		return "", err
	}

	hash := ContentHash(canonical)
	if existing, err := s.store.FindEvidenceByContentHash(ctx, engagementID, hash); err == nil {
		return existing.ID, kerrors.ErrDuplicateIgnored
	} else if kerrors.TypeOf(err) != kerrors.ErrorTypeNotFound {
		return "", err
	}

	fragmentTexts, err := s.parser.Parse(ctx, blobRef, category)
	if err != nil {
		return "", kerrors.Wrap(err, kerrors.ErrorTypeParse, "parse evidence blob")
	}

	completeness, err := Completeness(category, metadata)
	if err != nil {
		return "", kerrors.Wrap(err, kerrors.ErrorTypeParse, "compute completeness")
	}

	plane := inferPlane(category)
	reliability := Reliability(plane, true)

	item := &domain.EvidenceItem{
		ID:           uuid.NewString(),
		EngagementID: engagementID,
		Category:     category,
		Format:       format,
		ContentHash:  hash,
		Quality: domain.Quality{
			Completeness: completeness,
			Reliability:  reliability,
			Freshness:    Freshness(0, s.cfg.HalfLife(string(category))),
			Consistency:  InitialConsistency,
		},
		SourcePlane: plane,
		Lifecycle:   domain.LifecyclePending,
		CreatedAt:   time.Now(),
		BlobRef:     blobRef,
		Metadata:    metadata,
	}

	id, created, err := s.store.CreateEvidenceItem(ctx, item)
	if err != nil {
		return "", err
	}
	if !created {
		return id, kerrors.ErrDuplicateIgnored
	}

	if err := s.createFragments(ctx, id, fragmentTexts); err != nil {
		_ = s.store.SetEvidenceError(ctx, engagementID, id, err.Error())
		return id, err
	}

	confidence, err := s.classifier.Confidence(ctx, fragmentTexts)
	if err != nil {
		s.logger.Warn("classifier confidence unavailable, leaving item pending",
			logging.NewFields().Component("evidence").Operation("ingest").Engagement(engagementID).Err(err).Slice()...)
		return id, nil
	}
	if autoAdvance(reliability, confidence) {
		if err := s.store.UpdateEvidenceLifecycle(ctx, engagementID, id, domain.LifecycleValidated, "system:auto-advance"); err != nil {
			return id, err
		}
	}
	return id, nil
}

func (s *Service) createFragments(ctx context.Context, evidenceID string, texts []string) error {
	fragments := make([]*domain.EvidenceFragment, 0, len(texts))
	for i, text := range texts {
		emb, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return kerrors.Wrap(err, kerrors.ErrorTypeParse, "embed fragment")
		}
		fragments = append(fragments, &domain.EvidenceFragment{
			ID: uuid.NewString(), EvidenceID: evidenceID, Ordinal: i, Text: text, Embedding: emb,
		})
	}
	return s.store.CreateFragments(ctx, fragments)
}

// inferPlane maps an evidence category to its source plane (spec §3.1
// taxonomy; categories are grouped by how the consultant engagement
// actually collects them).
func inferPlane(category domain.EvidenceCategory) domain.SourcePlane {
	switch category {
	case domain.CategorySystemTelemetry, domain.CategoryWorkflowLog:
		return domain.PlaneTelemetry
	case domain.CategoryTicketSystem, domain.CategoryDataSchema, domain.CategoryOrgChart:
		return domain.PlaneWorkSurface
	case domain.CategoryInterviewNotes, domain.CategorySurveyResponse, domain.CategoryCommunications:
		return domain.PlaneHumanInterp
	default:
		return domain.PlaneDocument
	}
}
