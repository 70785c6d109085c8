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
	"time"

	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
)

// Source is the durable delivery side the worker pool drains; a
// *stream.Stream satisfies it, and a fake can stand in for tests
// without a Redis instance.
type Source interface {
	Read(ctx context.Context, block time.Duration) ([]Delivery, error)
	Ack(ctx context.Context, id string) error
}

// Delivery is one durably-delivered reference to a queued Task.
type Delivery struct {
	ID     string // delivery id, acked independently of the task id
	TaskID string
}

// Pool runs n goroutines pulling Deliveries from a Source and handing
// them to Runtime.Run, acking each delivery once the task reaches a
// terminal state (spec §4.5 "at-least-once delivery... worker pool").
// A task whose handler errors is still acked: Run already drove it to
// its terminal failed/partial state and owns its own retry budget, so
// redelivery would only duplicate work already accounted for.
type Pool struct {
	source  Source
	runtime *Runtime
	workers int
	logger  *zap.Logger
}

func NewPool(source Source, runtime *Runtime, workers int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{source: source, runtime: runtime, workers: workers, logger: logger}
}

// Run drains the source until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	deliveries := make(chan Delivery)
	done := make(chan struct{})
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx, deliveries, done)
	}
	defer func() {
		close(deliveries)
		for i := 0; i < p.workers; i++ {
			<-done
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		batch, err := p.source.Read(ctx, time.Second)
		if err != nil {
			p.logger.Warn("task pool read failed", logging.NewFields().Component("task_pool").Err(err).Slice()...)
			continue
		}
		for _, d := range batch {
			select {
			case deliveries <- d:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) worker(ctx context.Context, deliveries <-chan Delivery, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for d := range deliveries {
		if err := p.runtime.Run(ctx, d.TaskID); err != nil {
			p.logger.Warn("task run failed", logging.NewFields().Component("task_pool").
				Resource("task", d.TaskID).Err(err).Slice()...)
		}
		if err := p.source.Ack(ctx, d.ID); err != nil {
			p.logger.Warn("ack failed", logging.NewFields().Component("task_pool").
				Resource("delivery", d.ID).Err(err).Slice()...)
		}
	}
}
