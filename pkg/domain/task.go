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

package domain

import "time"

// TaskKind is the type-keyed registry key the task runtime dispatches
// on (spec §9 "interface per task kind with a type-keyed registry").
type TaskKind string

const (
	TaskIngestEvidence  TaskKind = "ingest_evidence"
	TaskGraphProject    TaskKind = "graph_project"
	TaskConsistencyScan TaskKind = "consistency_scan"
	TaskPOVGenerate     TaskKind = "pov_generate"
	TaskReconciliation  TaskKind = "reconciliation"
	TaskErasure         TaskKind = "erasure"
)

// TaskStatus is the Task state machine (spec §3.1): strictly monotonic
// except the queued<->running retry cycle.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskPartial   TaskStatus = "partial"
)

var legalTaskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskQueued:  {TaskRunning: true, TaskFailed: true},
	TaskRunning: {TaskQueued: true, TaskSucceeded: true, TaskFailed: true, TaskPartial: true},
	TaskSucceeded: {},
	TaskFailed:    {},
	TaskPartial:   {},
}

// CanTransitionTask reports whether a Task may move from `from` to `to`.
func CanTransitionTask(from, to TaskStatus) bool {
	if from == to {
		return false
	}
	next, ok := legalTaskTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Task is the durable record behind every async operation (spec §3.1,
// §4.5).
type Task struct {
	ID           string
	Kind         TaskKind
	EngagementID string
	Status       TaskStatus
	Progress     float64
	StageLabel   string
	Attempts     int
	LastError    string
	Payload      map[string]any
	Result       map[string]any
	Cancelled    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
