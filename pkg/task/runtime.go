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

package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/config"
	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/reliability"
	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
	"github.com/proth1/kmflow-sub002/pkg/telemetry"
)

// ErrPartial signals that a Handler made progress but could not
// complete every unit of work (spec §4.5 "partial" terminal status),
// e.g. a reconciliation pass that projected some deltas but hit a
// ProjectionLag on the rest. Returning it still commits the result
// map the handler produced.
var ErrPartial = errors.New("task: completed with partial results")

// Publisher hands a freshly submitted task id to durable delivery
// (*stream.Stream satisfies this); Submit works without one for tests
// and for synchronous callers that invoke Run directly.
type Publisher interface {
	Publish(ctx context.Context, taskID, engagementID string) error
}

// Runtime dispatches queued Tasks to registered Handlers, enforcing a
// per-engagement concurrency cap and cooperative cancellation (spec
// §4.5).
type Runtime struct {
	store     relational.TaskStore
	registry  *Registry
	policy    reliability.Policy
	cfg       config.TaskConfig
	metrics   *telemetry.Metrics
	logger    *zap.Logger
	publisher Publisher

	mu   sync.Mutex
	sems map[string]chan struct{} // engagementID -> semaphore
}

func NewRuntime(store relational.TaskStore, registry *Registry, policy reliability.Policy, cfg config.TaskConfig, metrics *telemetry.Metrics, logger *zap.Logger) *Runtime {
	return &Runtime{
		store: store, registry: registry, policy: policy, cfg: cfg, metrics: metrics, logger: logger,
		sems: make(map[string]chan struct{}),
	}
}

// WithPublisher attaches the durable-delivery publisher Submit enqueues
// onto after creating the Task row.
func (r *Runtime) WithPublisher(p Publisher) *Runtime {
	r.publisher = p
	return r
}

// Submit creates a new queued Task row, hands it to the Publisher if
// one is attached, and returns its id.
func (r *Runtime) Submit(ctx context.Context, kind domain.TaskKind, engagementID string, payload map[string]any) (string, error) {
	t := &domain.Task{
		ID: uuid.NewString(), Kind: kind, EngagementID: engagementID,
		Status: domain.TaskQueued, Payload: payload,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := r.store.CreateTask(ctx, t); err != nil {
		return "", err
	}
	if r.metrics != nil {
		r.metrics.TaskQueueDepth.WithLabelValues(engagementID, string(kind)).Inc()
	}
	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, t.ID, engagementID); err != nil {
			return "", err
		}
	}
	return t.ID, nil
}

// Run executes taskID to a terminal state, retrying transient handler
// failures under r.policy and honoring cancellation between attempts.
// It blocks until an engagement semaphore slot is free or ctx is done.
func (r *Runtime) Run(ctx context.Context, taskID string) error {
	t, err := r.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	handler, ok := r.registry.Lookup(t.Kind)
	if !ok {
		return kerrors.Newf(kerrors.ErrorTypeValidation, "no handler registered for task kind %q", t.Kind)
	}

	release, err := r.acquire(ctx, t.EngagementID)
	if err != nil {
		return err
	}
	defer release()

	if err := r.store.UpdateTaskStatus(ctx, taskID, domain.TaskRunning, ""); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.TaskQueueDepth.WithLabelValues(t.EngagementID, string(t.Kind)).Dec()
	}
	start := time.Now()
	reporter := &storeReporter{store: r.store, taskID: taskID}

	var result map[string]any
	partial := false
	runErr := reliability.Do(ctx, r.policy, func() error {
		if cancelled, cerr := reporter.Cancelled(ctx); cerr != nil {
			return cerr
		} else if cancelled {
			return reliability.Permanent(kerrors.ErrCancelled)
		}
		if _, aerr := r.store.IncrementAttempts(ctx, taskID); aerr != nil {
			return reliability.Permanent(aerr)
		}
		res, herr := handler(ctx, t, reporter)
		if herr != nil && !errors.Is(herr, ErrPartial) {
			return herr
		}
		result = res
		partial = errors.Is(herr, ErrPartial)
		return nil
	})

	status := domain.TaskSucceeded
	lastErr := ""
	switch {
	case runErr != nil:
		status = domain.TaskFailed
		lastErr = runErr.Error()
	case partial:
		status = domain.TaskPartial
	}
	if r.metrics != nil {
		r.metrics.TaskDuration.WithLabelValues(string(t.Kind), string(status)).Observe(time.Since(start).Seconds())
	}

	if runErr != nil {
		if setErr := r.store.UpdateTaskStatus(ctx, taskID, status, lastErr); setErr != nil {
			return setErr
		}
		r.logger.Warn("task failed", logging.NewFields().Component("task").Operation("run").
			Engagement(t.EngagementID).Resource("task_kind", string(t.Kind)).Err(runErr).Slice()...)
		return runErr
	}
	if err := r.store.SetResult(ctx, taskID, result, status); err != nil {
		return err
	}
	r.logger.Info("task completed", logging.NewFields().Component("task").Operation("run").
		Engagement(t.EngagementID).Resource("task_kind", string(t.Kind)).Slice()...)
	return nil
}

// Cancel marks taskID cancelled; the running handler observes it at
// its next Reporter.Cancelled checkpoint.
func (r *Runtime) Cancel(ctx context.Context, taskID string) error {
	return r.store.SetCancelled(ctx, taskID)
}

func (r *Runtime) acquire(ctx context.Context, engagementID string) (func(), error) {
	r.mu.Lock()
	sem, ok := r.sems[engagementID]
	if !ok {
		sem = make(chan struct{}, r.cfg.SemaphorePerEngagement)
		r.sems[engagementID] = sem
	}
	r.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// storeReporter implements Reporter against the relational TaskStore
// directly; the stream consumer and any synchronous caller share it.
type storeReporter struct {
	store  relational.TaskStore
	taskID string
}

func (s *storeReporter) Report(ctx context.Context, progress float64, stageLabel string) error {
	return s.store.UpdateTaskProgress(ctx, s.taskID, progress, stageLabel)
}

func (s *storeReporter) Cancelled(ctx context.Context) (bool, error) {
	t, err := s.store.GetTask(ctx, s.taskID)
	if err != nil {
		return false, err
	}
	return t.Cancelled, nil
}
