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

// EvidenceCategory is one of the 12-entry taxonomy referenced by spec
// §3.1. The set is open-ended in the source system (category schemas
// are supplied per engagement by an external collaborator); we fix the
// 12 canonical categories the core ships with.
type EvidenceCategory string

const (
	CategoryProcessDocs    EvidenceCategory = "process_docs"
	CategoryPolicyDocs     EvidenceCategory = "policy_docs"
	CategoryRegulatory     EvidenceCategory = "regulatory"
	CategoryCommunications EvidenceCategory = "communications"
	CategoryTicketSystem   EvidenceCategory = "ticket_system"
	CategoryWorkflowLog    EvidenceCategory = "workflow_log"
	CategorySystemTelemetry EvidenceCategory = "system_telemetry"
	CategoryScreenCapture  EvidenceCategory = "screen_capture"
	CategoryInterviewNotes EvidenceCategory = "interview_notes"
	CategorySurveyResponse EvidenceCategory = "survey_response"
	CategoryOrgChart       EvidenceCategory = "org_chart"
	CategoryDataSchema     EvidenceCategory = "data_schema"
)

// SourcePlane is the evidence plane taxonomy from spec §3.1 and the
// GLOSSARY. evidence_coverage (spec §4.4 step 7) is computed over this
// set.
type SourcePlane string

const (
	PlaneDocument      SourcePlane = "document"
	PlaneTelemetry     SourcePlane = "telemetry"
	PlaneWorkSurface   SourcePlane = "work_surface"
	PlaneHumanInterp   SourcePlane = "human_interp"
)

// AllPlanes enumerates every plane, used as the denominator universe
// when counting "planes available in the engagement" (spec §4.4 step 7).
var AllPlanes = []SourcePlane{PlaneDocument, PlaneTelemetry, PlaneWorkSurface, PlaneHumanInterp}

// Lifecycle is the EvidenceItem state machine (spec §4.1): PENDING ->
// VALIDATED -> ACTIVE -> EXPIRED -> ARCHIVED. Only ARCHIVED is
// terminal.
type Lifecycle string

const (
	LifecyclePending   Lifecycle = "PENDING"
	LifecycleValidated Lifecycle = "VALIDATED"
	LifecycleActive    Lifecycle = "ACTIVE"
	LifecycleExpired   Lifecycle = "EXPIRED"
	LifecycleArchived  Lifecycle = "ARCHIVED"
)

// legalLifecycleTransitions encodes the monotone state machine:
// approve in PENDING or VALIDATED advances; reject from any
// non-ARCHIVED state jumps straight to ARCHIVED (spec §4.1).
var legalLifecycleTransitions = map[Lifecycle]map[Lifecycle]bool{
	LifecyclePending:   {LifecycleValidated: true, LifecycleArchived: true},
	LifecycleValidated: {LifecycleActive: true, LifecycleArchived: true},
	LifecycleActive:    {LifecycleExpired: true, LifecycleArchived: true},
	LifecycleExpired:   {LifecycleArchived: true},
	LifecycleArchived:  {},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to Lifecycle) bool {
	if from == to {
		return false
	}
	next, ok := legalLifecycleTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Quality is the four-dimensional quality score computed at ingest and
// recomputed on lifecycle/consistency events (spec §4.1).
type Quality struct {
	Completeness float64
	Reliability  float64
	Freshness    float64
	Consistency  float64
}

// EvidenceItem is the top-level evidence record (spec §3.1).
type EvidenceItem struct {
	ID            string
	EngagementID  string
	Category      EvidenceCategory
	Format        string
	ContentHash   string
	Quality       Quality
	SourcePlane   SourcePlane
	Lifecycle     Lifecycle
	CreatedAt     time.Time
	ValidatedBy   string
	LastError     string
	BlobRef       string
	Metadata      map[string]any
}

// EvidenceFragment is an ordered, embedded chunk of parsed evidence
// text (spec §3.1).
type EvidenceFragment struct {
	ID          string
	EvidenceID  string
	Ordinal     int
	Text        string
	Embedding   []float64
}
