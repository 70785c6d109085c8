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

// Package task implements the async task runtime (spec §4.5): a
// type-keyed handler registry, a worker pool bounded by a
// per-engagement semaphore, and cooperative cancellation, with
// durable delivery handed off to pkg/task/stream.
package task

import (
	"context"
	"fmt"

	"github.com/proth1/kmflow-sub002/pkg/domain"
)

// Reporter lets a running handler push progress and check for
// cancellation without depending on the runtime or the store
// directly.
type Reporter interface {
	// Report updates the task's progress fraction and stage label.
	Report(ctx context.Context, progress float64, stageLabel string) error
	// Cancelled reports whether the operator has requested
	// cancellation; handlers should check it between stages (spec
	// §4.5 "cooperative cancellation").
	Cancelled(ctx context.Context) (bool, error)
}

// Handler runs one Task to completion and returns the result payload
// persisted alongside its terminal status. A Handler that wants its
// failure to skip retry entirely should return the error wrapped in
// reliability.Permanent.
type Handler func(ctx context.Context, t *domain.Task, report Reporter) (map[string]any, error)

// Registry dispatches on domain.TaskKind (spec §9 "interface per task
// kind with a type-keyed registry").
type Registry struct {
	handlers map[domain.TaskKind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.TaskKind]Handler)}
}

// Register binds kind to handler. Registering the same kind twice is
// a programming error caught at wiring time, not a runtime condition.
func (r *Registry) Register(kind domain.TaskKind, handler Handler) {
	if _, exists := r.handlers[kind]; exists {
		panic(fmt.Sprintf("task: handler already registered for kind %q", kind))
	}
	r.handlers[kind] = handler
}

func (r *Registry) Lookup(kind domain.TaskKind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}
