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

package notify_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/pkg/domain"
	"github.com/proth1/kmflow-sub002/pkg/notify"
)

func TestNotify(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Notify Suite")
}

type fakeClient struct {
	posted  []string
	channel string
	err     error
}

func (f *fakeClient) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	f.channel = channelID
	f.posted = append(f.posted, channelID)
	return channelID, "123.456", nil
}

var _ = Describe("Notifier", func() {
	It("posts an escalation message to the configured channel", func() {
		client := &fakeClient{}
		n := notify.NewWithClient(client, "#kmflow-alerts", zap.NewNop())

		err := n.NotifyEscalation(context.Background(), &domain.ConflictObject{
			EngagementID: "eng-1", MismatchType: domain.MismatchRole,
			SourceARef: "a1", SourceBRef: "a2", Severity: 0.8,
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(client.posted).To(ConsistOf("#kmflow-alerts"))
	})

	It("wraps a delivery failure as a retryable kerrors timeout", func() {
		client := &fakeClient{err: errors.New("rate limited")}
		n := notify.NewWithClient(client, "#kmflow-alerts", zap.NewNop())

		err := n.NotifyProjectionLag(context.Background(), "eng-1", errors.New("outbox entry stuck"))
		Expect(err).To(HaveOccurred())
	})
})
