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

// Package telemetry wires OpenTelemetry tracing and Prometheus metrics
// around task stages, consensus computation, and graph-writer
// projection, per SPEC_FULL.md §B.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "kmflow.core"

// Tracer returns the shared tracer used to span task stages, scan
// rules, and consensus steps.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan is a thin convenience wrapper so call sites read the same
// way across components.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name)
}

// Metrics groups the Prometheus collectors shared across the engine.
// A single instance is constructed at composition time and threaded
// explicitly, never retrieved from a package-level default registry.
type Metrics struct {
	TaskQueueDepth      *prometheus.GaugeVec
	TaskDuration        *prometheus.HistogramVec
	ScanDuration        *prometheus.HistogramVec
	ConsensusLatency    *prometheus.HistogramVec
	OpenConflicts       *prometheus.GaugeVec
	ProjectionLagTotal  prometheus.Counter
}

// NewMetrics constructs and registers the engine's collectors against
// reg. Passing a fresh prometheus.NewRegistry() keeps tests isolated
// from the global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TaskQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kmflow",
			Subsystem: "task",
			Name:      "queue_depth",
			Help:      "Number of queued-or-running tasks per engagement.",
		}, []string{"engagement_id", "kind"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kmflow",
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Task handler duration by kind and terminal status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "status"}),
		ScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kmflow",
			Subsystem: "consistency",
			Name:      "scan_duration_seconds",
			Help:      "Consistency scan duration per engagement.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"engagement_id"}),
		ConsensusLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kmflow",
			Subsystem: "consensus",
			Name:      "compute_duration_seconds",
			Help:      "LCD consensus computation duration per engagement.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"engagement_id"}),
		OpenConflicts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kmflow",
			Subsystem: "consistency",
			Name:      "open_conflicts",
			Help:      "Open (non-resolved) ConflictObjects per engagement.",
		}, []string{"engagement_id"}),
		ProjectionLagTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kmflow",
			Subsystem: "graph",
			Name:      "projection_lag_total",
			Help:      "Count of ProjectionLag alarms raised by the dual-store writer.",
		}),
	}
	reg.MustRegister(m.TaskQueueDepth, m.TaskDuration, m.ScanDuration, m.ConsensusLatency, m.OpenConflicts, m.ProjectionLagTotal)
	return m
}
