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

// Package reliability wraps sony/gobreaker and cenkalti/backoff to give
// the graph writer and stream consumer a uniform circuit breaker and
// retry policy (spec §4.2 "enqueue retry with exponential backoff...
// after max retries, raise ProjectionLag").
package reliability

import (
	"time"

	"github.com/sony/gobreaker"
)

// CircuitState mirrors gobreaker's three states under the names the
// rest of the codebase uses.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker guards a dependency (the graph store, the stream
// broker) behind a failure-rate threshold. It requires a minimum
// sample size before tripping, so a single early failure never opens
// the breaker.
type CircuitBreaker struct {
	name             string
	failureThreshold float64
	resetTimeout     time.Duration
	minRequests      uint32
	inner            *gobreaker.CircuitBreaker
}

// NewCircuitBreaker builds a named breaker that opens once the
// fraction of failed calls within a rolling window of at least
// minRequests(5) calls reaches failureThreshold.
func NewCircuitBreaker(name string, failureThreshold float64, resetTimeout time.Duration) *CircuitBreaker {
	const minRequests = 5
	cb := &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		minRequests:      minRequests,
	}
	cb.inner = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			rate := float64(counts.TotalFailures) / float64(counts.Requests)
			return rate >= failureThreshold
		},
	})
	return cb
}

// Call executes fn through the breaker. When the breaker is open, fn
// is not invoked and gobreaker.ErrOpenState is returned.
func (cb *CircuitBreaker) Call(fn func() error) error {
	_, err := cb.inner.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

func (cb *CircuitBreaker) GetName() string { return cb.name }

func (cb *CircuitBreaker) GetFailureThreshold() float64 { return cb.failureThreshold }

func (cb *CircuitBreaker) GetResetTimeout() time.Duration { return cb.resetTimeout }

func (cb *CircuitBreaker) GetState() CircuitState {
	switch cb.inner.State() {
	case gobreaker.StateOpen:
		return CircuitOpen
	case gobreaker.StateHalfOpen:
		return CircuitHalfOpen
	default:
		return CircuitClosed
	}
}

// GetFailureRate returns the failure rate observed in the current
// counting window, or 0 if no requests have been recorded yet.
func (cb *CircuitBreaker) GetFailureRate() float64 {
	counts := cb.inner.Counts()
	if counts.Requests == 0 {
		return 0
	}
	return float64(counts.TotalFailures) / float64(counts.Requests)
}
