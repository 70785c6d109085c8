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

// AuditEntry is one append-only record of an actor taking action on a
// resource (spec §4.3 "emits an audit event"; SPEC_FULL.md §C.4 gives
// escalation's audit event a Slack-routed sibling via pkg/notify).
type AuditEntry struct {
	ID           int64
	EngagementID string
	Actor        string
	Action       string
	ResourceKind string
	ResourceID   string
	Details      map[string]any
	RecordedAt   time.Time
}
