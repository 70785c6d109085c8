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

// Package engagement owns the tenancy boundary: every call into any
// other component is scoped to one engagement, and this package is
// the only place that boundary is allowed to be crossed (to create
// the engagement itself).
package engagement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

// Service manages Engagement lifecycle and enforces the embedding
// coherence and residency invariants (spec §3.1, §3.2 invariant 1).
type Service struct {
	store  relational.EngagementStore
	logger *zap.Logger
}

func NewService(store relational.EngagementStore, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Create provisions a new engagement with the given residency. The
// embedding model/dim are left unpinned until the first evidence
// fragment is embedded.
func (s *Service) Create(ctx context.Context, businessArea string, residency domain.DataResidency) (*domain.Engagement, error) {
	e := &domain.Engagement{
		ID:            uuid.NewString(),
		BusinessArea:  businessArea,
		DataResidency: residency,
		CreatedAt:     time.Now(),
	}
	if err := s.store.CreateEngagement(ctx, e); err != nil {
		return nil, err
	}
	s.logger.Info("engagement created", logging.NewFields().Component("engagement").Operation("create").Engagement(e.ID).Slice()...)
	return e, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Engagement, error) {
	return s.store.GetEngagement(ctx, id)
}

// PinEmbedding records the embedding model/dim used for id's first
// embedded fragment, or verifies a later call is coherent with it
// (spec §3.2 invariant 1: "embedding model/dim immutable per engagement
// after first use").
func (s *Service) PinEmbedding(ctx context.Context, id, model string, dim int) error {
	e, err := s.store.GetEngagement(ctx, id)
	if err != nil {
		return err
	}
	if err := e.PinEmbedding(model, dim); err != nil {
		return kerrors.Wrapf(err, kerrors.ErrorTypeValidation, "engagement %s embedding coherence", id)
	}
	return s.store.UpdateEngagement(ctx, e)
}

// Close marks an engagement closed. Closed engagements reject new
// ingest and task submission (spec §3.1 "engagement_closed").
func (s *Service) Close(ctx context.Context, id string) error {
	e, err := s.store.GetEngagement(ctx, id)
	if err != nil {
		return err
	}
	e.Closed = true
	return s.store.UpdateEngagement(ctx, e)
}

// RequireOpen returns kerrors.ErrEngagementClosed if the engagement is
// closed. Called at the entry point of every mutating operation.
func (s *Service) RequireOpen(ctx context.Context, id string) (*domain.Engagement, error) {
	e, err := s.store.GetEngagement(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Closed {
		return nil, kerrors.ErrEngagementClosed
	}
	return e, nil
}
