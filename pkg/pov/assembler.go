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

// Package pov turns the consensus engine's output (pkg/consensus) into
// versioned, renderable ProcessModels (spec §4.6): assembling a new
// version, diffing two versions, applying human validation decisions,
// and ranking the Dark Room backlog.
package pov

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/consensus"
	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

// Assembler mints new POV versions from a consensus run (spec §4.6
// "assemble").
type Assembler struct {
	models   relational.ProcessModelStore
	elements relational.ProcessElementStore
	lcd      *consensus.LCD
	logger   *zap.Logger
}

func NewAssembler(models relational.ProcessModelStore, elements relational.ProcessElementStore, lcd *consensus.LCD, logger *zap.Logger) *Assembler {
	return &Assembler{models: models, elements: elements, lcd: lcd, logger: logger}
}

// Assemble runs consensus for engagementID and persists the result as
// the next ProcessModel version. A SeedCycle failure aborts the whole
// assembly (spec §4.4 "Failure semantics"); no ProcessModel row is
// written in that case. Per-fragment extraction failure (the other
// half of §4.4's failure semantics, which would mark the result
// "partial") has no analogue here since entity extraction is the
// external LLM collaborator spec.md §1 scopes out of this engine —
// Partial is always false on the model this produces.
func (a *Assembler) Assemble(ctx context.Context, engagementID string) (*domain.ProcessModel, []*domain.ProcessElement, error) {
	version := 1
	if latest, err := a.models.LatestProcessModel(ctx, engagementID); err == nil {
		version = latest.Version + 1
	} else if !errors.Is(err, kerrors.ErrNotFound) {
		return nil, nil, err
	}

	modelID := uuid.NewString()
	elements, err := a.lcd.Run(ctx, engagementID, modelID)
	if err != nil {
		return nil, nil, err
	}

	model := &domain.ProcessModel{
		ID: modelID, EngagementID: engagementID, Version: version, CreatedAt: time.Now(),
	}
	if err := a.models.CreateProcessModel(ctx, model); err != nil {
		return nil, nil, err
	}
	a.logger.Info("assembled process model",
		logging.NewFields().Component("pov").Operation("assemble").Engagement(engagementID).Slice()...)
	return model, elements, nil
}

// Diff compares two POV versions by canonical name rather than element
// id: consensus mints a fresh id for every element on every run, so
// canonical name is the only identity that survives across versions
// (spec §4.6 "diff" speaks of "element ids"; this is the stable
// substitute — see DESIGN.md).
func (a *Assembler) Diff(ctx context.Context, modelA, modelB string) (*domain.ModelDiff, error) {
	elemsA, err := a.elements.ListProcessElements(ctx, modelA)
	if err != nil {
		return nil, err
	}
	elemsB, err := a.elements.ListProcessElements(ctx, modelB)
	if err != nil {
		return nil, err
	}

	byNameA := make(map[string]*domain.ProcessElement, len(elemsA))
	for _, e := range elemsA {
		byNameA[e.CanonicalName] = e
	}
	byNameB := make(map[string]*domain.ProcessElement, len(elemsB))
	for _, e := range elemsB {
		byNameB[e.CanonicalName] = e
	}

	diff := &domain.ModelDiff{}
	for name, eb := range byNameB {
		ea, ok := byNameA[name]
		if !ok {
			diff.Added = append(diff.Added, eb.ID)
			continue
		}
		if ea.ConfidenceScore != eb.ConfidenceScore || ea.Brightness != eb.Brightness {
			diff.Changed = append(diff.Changed, domain.ElementDelta{
				ElementID: eb.ID, CanonicalName: name,
				OldConfidence: ea.ConfidenceScore, NewConfidence: eb.ConfidenceScore,
				OldBrightness: ea.Brightness, NewBrightness: eb.Brightness,
			})
		}
	}
	for name, ea := range byNameA {
		if _, ok := byNameB[name]; !ok {
			diff.Removed = append(diff.Removed, ea.ID)
		}
	}
	return diff, nil
}
