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

// Package audit records the append-only trail of actor actions every
// validation, correction, escalation, and erasure step emits (spec
// §4.3 "emits an audit event"). Components depend on the narrow
// Recorder interface rather than the full relational.AuditStore so a
// no-op Recorder can stand in wherever auditing is not under test.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

// Recorder is the narrow interface callers depend on.
type Recorder interface {
	Record(ctx context.Context, engagementID, actor, action, resourceKind, resourceID string, details map[string]any) error
}

// Log writes every entry through relational.AuditStore, which the
// Postgres backend additionally enforces as append-only with a
// rejecting trigger (migrations/00009_audit_log.sql).
type Log struct {
	store  relational.AuditStore
	logger *zap.Logger
}

func NewLog(store relational.AuditStore, logger *zap.Logger) *Log {
	return &Log{store: store, logger: logger}
}

func (l *Log) Record(ctx context.Context, engagementID, actor, action, resourceKind, resourceID string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	entry := &domain.AuditEntry{
		EngagementID: engagementID, Actor: actor, Action: action,
		ResourceKind: resourceKind, ResourceID: resourceID, Details: details,
		RecordedAt: time.Now(),
	}
	if err := l.store.RecordAudit(ctx, entry); err != nil {
		return err
	}
	l.logger.Info("audit event recorded",
		logging.NewFields().Component("audit").Operation(action).Engagement(engagementID).
			Resource(resourceKind, resourceID).Slice()...)
	return nil
}

// Recent returns the most recent limit entries for engagementID,
// newest first.
func (l *Log) Recent(ctx context.Context, engagementID string, limit int) ([]*domain.AuditEntry, error) {
	return l.store.ListAudit(ctx, engagementID, limit)
}
