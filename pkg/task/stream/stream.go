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

// Package stream durably hands Task ids from submission to the worker
// pool using a Redis Stream consumer group (spec §4.5 "durable
// delivery, at-least-once, redelivery on worker crash"). It carries
// only the task id; the Task row itself, including its payload and
// attempt count, lives in the relational store.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/config"
	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
	"github.com/proth1/kmflow-sub002/pkg/task"
)

const streamKey = "kmflow:tasks"

// entry is the wire shape of one stream message.
type entry struct {
	TaskID       string `json:"task_id"`
	EngagementID string `json:"engagement_id"`
}

// Stream wraps a Redis client bound to one consumer group, used both
// to publish newly submitted task ids and to consume them from the
// worker pool side.
type Stream struct {
	client *redis.Client
	cfg    config.StreamConfig
	logger *zap.Logger
}

// New builds a Stream against an already-connected client and ensures
// the consumer group exists, creating the stream itself with MKSTREAM
// if this is the first consumer ever to attach.
func New(ctx context.Context, client *redis.Client, cfg config.StreamConfig, logger *zap.Logger) (*Stream, error) {
	s := &Stream{client: client, cfg: cfg, logger: logger}
	err := client.XGroupCreateMkStream(ctx, streamKey, cfg.ConsumerGroup, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) && !isBusyGroupErr(err) {
		return nil, err
	}
	return s, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Publish appends a message referencing taskID to the stream.
func (s *Stream) Publish(ctx context.Context, taskID, engagementID string) error {
	payload, err := json.Marshal(entry{TaskID: taskID, EngagementID: engagementID})
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{"payload": string(payload)},
	}).Err()
}

// Message is one delivered stream entry; the caller must Ack it once
// the referenced task reaches a terminal state so it is not
// redelivered.
type Message struct {
	ID           string
	TaskID       string
	EngagementID string
}

// Read blocks up to block for new messages delivered to this
// consumer, falling back to an empty slice (not an error) on timeout
// so callers can loop and check ctx cancellation between reads.
func (s *Stream) Read(ctx context.Context, block time.Duration) ([]Message, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.ConsumerGroup,
		Consumer: s.cfg.ConsumerName,
		Streams:  []string{streamKey, ">"},
		Count:    16,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeMessages(res), nil
}

// Claim reclaims messages idle for longer than minIdle from crashed
// consumers in the group (spec §4.5 "redelivery on worker crash"),
// so another worker picks them up.
func (s *Stream) Claim(ctx context.Context, minIdle time.Duration, ids []string) ([]Message, error) {
	msgs, _, err := s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   streamKey,
		Group:    s.cfg.ConsumerGroup,
		Consumer: s.cfg.ConsumerName,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if msg, ok := decodeMessage(m); ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Pending lists message ids currently unacked for the group, for
// Claim to sweep.
func (s *Stream) Pending(ctx context.Context, minIdle time.Duration) ([]string, error) {
	res, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamKey,
		Group:  s.cfg.ConsumerGroup,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  64,
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res))
	for _, p := range res {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// Ack acknowledges id, removing it from the group's pending entries
// list.
func (s *Stream) Ack(ctx context.Context, id string) error {
	return s.client.XAck(ctx, streamKey, s.cfg.ConsumerGroup, id).Err()
}

func decodeMessages(streams []redis.XStream) []Message {
	var out []Message
	for _, st := range streams {
		for _, m := range st.Messages {
			if msg, ok := decodeMessage(m); ok {
				out = append(out, msg)
			}
		}
	}
	return out
}

func decodeMessage(m redis.XMessage) (Message, bool) {
	raw, ok := m.Values["payload"].(string)
	if !ok {
		return Message{}, false
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Message{}, false
	}
	return Message{ID: m.ID, TaskID: e.TaskID, EngagementID: e.EngagementID}, true
}

// LogFields is the shared zap field prefix stream log lines use.
func LogFields(op string) logging.Fields {
	return logging.NewFields().Component("task_stream").Operation(op)
}

// Source adapts a Stream to task.Source, translating Messages into
// the Delivery shape task.Pool drains.
type Source struct {
	*Stream
}

func (src Source) Read(ctx context.Context, block time.Duration) ([]task.Delivery, error) {
	msgs, err := src.Stream.Read(ctx, block)
	if err != nil {
		return nil, err
	}
	out := make([]task.Delivery, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, task.Delivery{ID: m.ID, TaskID: m.TaskID})
	}
	return out, nil
}
