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

package reliability_test

import (
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/proth1/kmflow-sub002/pkg/reliability"
)

func TestCircuitBreaker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Reliability Circuit Breaker Suite")
}

var _ = Describe("Circuit Breaker", func() {
	It("initializes closed with the given configuration", func() {
		cb := reliability.NewCircuitBreaker("graph-writer", 0.5, 60*time.Second)

		Expect(cb.GetState()).To(Equal(reliability.CircuitClosed))
		Expect(cb.GetName()).To(Equal("graph-writer"))
		Expect(cb.GetFailureThreshold()).To(Equal(0.5))
		Expect(cb.GetResetTimeout()).To(Equal(60 * time.Second))
	})

	It("opens once the failure rate crosses the threshold with enough samples", func() {
		cb := reliability.NewCircuitBreaker("graph-writer", 0.5, 60*time.Second)

		for i := 0; i < 2; i++ {
			Expect(cb.Call(func() error { return nil })).NotTo(HaveOccurred())
		}
		for i := 0; i < 3; i++ {
			Expect(cb.Call(func() error { return fmt.Errorf("boom") })).To(HaveOccurred())
		}

		Expect(cb.GetState()).To(Equal(reliability.CircuitOpen))
		// Opening the breaker starts a new counting window, so the rate
		// of the current window is back to 0.
		Expect(cb.GetFailureRate()).To(BeNumerically("~", 0.0, 0.01))
	})

	It("never trips below the minimum sample size", func() {
		cb := reliability.NewCircuitBreaker("graph-writer", 0.1, 60*time.Second)

		Expect(cb.Call(func() error { return fmt.Errorf("boom") })).To(HaveOccurred())
		Expect(cb.Call(func() error { return fmt.Errorf("boom") })).To(HaveOccurred())

		Expect(cb.GetState()).To(Equal(reliability.CircuitClosed))
	})

	It("rejects calls while open without invoking fn", func() {
		cb := reliability.NewCircuitBreaker("graph-writer", 0.1, time.Minute)
		for i := 0; i < 5; i++ {
			_ = cb.Call(func() error { return fmt.Errorf("boom") })
		}
		Expect(cb.GetState()).To(Equal(reliability.CircuitOpen))

		calls := 0
		err := cb.Call(func() error { calls++; return nil })
		Expect(err).To(HaveOccurred())
		Expect(calls).To(Equal(0))
	})
})
