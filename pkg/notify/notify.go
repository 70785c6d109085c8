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

// Package notify is the operational notifier for conflict escalations
// and projection-lag alarms (SPEC_FULL.md §C.4): a thin Slack delivery
// layer. It records nothing in the audit trail.
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
)

// Client is the subset of *slack.Client this package calls, narrowed
// so tests can substitute a fake poster.
type Client interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts conflict-escalation and projection-lag alerts to a
// fixed Slack channel per engagement config.
type Notifier struct {
	client  Client
	channel string
	logger  *zap.Logger
}

// New builds a Notifier posting through a real Slack client
// constructed from token.
func New(token, channel string, logger *zap.Logger) *Notifier {
	return &Notifier{client: slack.New(token), channel: channel, logger: logger}
}

// NewWithClient builds a Notifier over an already-constructed Client,
// for tests and for callers that share one slack.Client across notifiers.
func NewWithClient(client Client, channel string, logger *zap.Logger) *Notifier {
	return &Notifier{client: client, channel: channel, logger: logger}
}

// NotifyEscalation implements consistency.Escalator: posted when an
// open ConflictObject crosses the 48h auto-escalation threshold (spec
// §4.3 "Escalation").
func (n *Notifier) NotifyEscalation(ctx context.Context, c *domain.ConflictObject) error {
	text := fmt.Sprintf(":rotating_light: conflict escalated — engagement=%s type=%s severity=%.2f (%s vs %s)",
		c.EngagementID, c.MismatchType, c.Severity, c.SourceARef, c.SourceBRef)
	return n.post(ctx, text)
}

// NotifyProjectionLag is posted when the outbox drain exhausts its
// retry budget on an entry (spec §4.2 write protocol step 5,
// kerrors.ErrorTypeProjectionLag).
func (n *Notifier) NotifyProjectionLag(ctx context.Context, engagementID string, cause error) error {
	text := fmt.Sprintf(":warning: graph projection lag — engagement=%s: %s", engagementID, cause)
	return n.post(ctx, text)
}

func (n *Notifier) post(ctx context.Context, text string) error {
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Error("slack delivery failed",
			logging.NewFields().Component("notify").Operation("post").Err(err).Slice()...)
		return kerrors.Wrap(err, kerrors.ErrorTypeTimeout, "post slack message")
	}
	return nil
}
