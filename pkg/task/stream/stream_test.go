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

package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/config"
	"github.com/proth1/kmflow-sub002/pkg/task/stream"
)

func TestStream(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Stream Suite")
}

var _ = Describe("Stream", func() {
	var (
		ctx context.Context
		mr  *miniredis.Miniredis
		s   *stream.Stream
		cfg config.StreamConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		mr, err = miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		cfg = config.StreamConfig{Addr: mr.Addr(), ConsumerGroup: "kmflow-core", ConsumerName: "worker-1"}
		s, err = stream.New(ctx, client, cfg, zap.NewNop())
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		mr.Close()
	})

	It("delivers a published message to the consumer group and acks it", func() {
		Expect(s.Publish(ctx, "task-1", "eng-1")).To(Succeed())

		msgs, err := s.Read(ctx, 10*time.Millisecond)
		Expect(err).ToNot(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].TaskID).To(Equal("task-1"))
		Expect(msgs[0].EngagementID).To(Equal("eng-1"))

		Expect(s.Ack(ctx, msgs[0].ID)).To(Succeed())

		pending, err := s.Pending(ctx, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})

	It("leaves unacked messages pending for Claim to sweep", func() {
		Expect(s.Publish(ctx, "task-2", "eng-1")).To(Succeed())
		_, err := s.Read(ctx, 10*time.Millisecond)
		Expect(err).ToNot(HaveOccurred())

		pending, err := s.Pending(ctx, 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(pending).To(HaveLen(1))

		claimed, err := s.Claim(ctx, 0, pending)
		Expect(err).ToNot(HaveOccurred())
		Expect(claimed).To(HaveLen(1))
		Expect(claimed[0].TaskID).To(Equal("task-2"))
	})

	It("adapts Read to task.Delivery via Source", func() {
		Expect(s.Publish(ctx, "task-3", "eng-1")).To(Succeed())
		src := stream.Source{Stream: s}
		deliveries, err := src.Read(ctx, 10*time.Millisecond)
		Expect(err).ToNot(HaveOccurred())
		Expect(deliveries).To(HaveLen(1))
		Expect(deliveries[0].TaskID).To(Equal("task-3"))
	})
})
