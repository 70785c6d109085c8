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

package reliability

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy is the exponential-backoff-with-jitter retry policy shared by
// ingest retries, task redelivery, and outbox projection retries
// (spec §4.1, §4.5): base 1s, cap 5m, ±25% jitter, doubling multiplier.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
	JitterRatio float64
}

// DefaultPolicy implements the spec's stated defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Base:        time.Second,
		Cap:         5 * time.Minute,
		JitterRatio: 0.25,
	}
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.MaxInterval = p.Cap
	b.Multiplier = 2.0
	b.RandomizationFactor = p.JitterRatio
	return b
}

// Permanent marks err as non-retryable, short-circuiting Do. Structural
// errors (InvalidEdgeError, IllegalTransition, SeedCycle) must be
// wrapped with Permanent before being returned from the retried
// operation.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs fn up to p.MaxAttempts times, honoring ctx cancellation
// between attempts (the task runtime's cooperative cancellation
// checkpoint — spec §4.5, §5).
func Do(ctx context.Context, p Policy, fn func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	}, backoff.WithBackOff(p.backOff()), backoff.WithMaxTries(uint(p.MaxAttempts)))
	return err
}

// NthDelayBounds returns the [min,max] delay window the policy would
// produce before the n-th retry (n starting at 0 for the first retry),
// useful for asserting backoff shape in tests without depending on the
// library's internal jitter draw.
func NthDelayBounds(p Policy, n int) (min, max time.Duration) {
	base := float64(p.Base)
	for i := 0; i < n; i++ {
		base *= 2.0
	}
	if time.Duration(base) > p.Cap {
		base = float64(p.Cap)
	}
	jitter := base * p.JitterRatio
	return time.Duration(base - jitter), time.Duration(base + jitter)
}
