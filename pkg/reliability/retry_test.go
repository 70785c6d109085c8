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
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/proth1/kmflow-sub002/pkg/reliability"
)

func TestRetry(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Reliability Retry Suite")
}

var _ = Describe("DefaultPolicy", func() {
	It("matches spec §4.1/§4.5 defaults", func() {
		p := reliability.DefaultPolicy()
		Expect(p.MaxAttempts).To(Equal(5))
		Expect(p.Base).To(Equal(time.Second))
		Expect(p.Cap).To(Equal(5 * time.Minute))
		Expect(p.JitterRatio).To(Equal(0.25))
	})
})

var _ = Describe("Do", func() {
	It("returns nil once fn succeeds", func() {
		attempts := 0
		err := reliability.Do(context.Background(), reliability.DefaultPolicy(), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(attempts).To(Equal(3))
	})

	It("stops after MaxAttempts and surfaces the last error", func() {
		p := reliability.Policy{MaxAttempts: 3, Base: time.Millisecond, Cap: 10 * time.Millisecond, JitterRatio: 0.1}
		attempts := 0
		err := reliability.Do(context.Background(), p, func() error {
			attempts++
			return errors.New("always fails")
		})
		Expect(err).To(HaveOccurred())
		Expect(attempts).To(Equal(3))
	})

	It("stops immediately on a Permanent error without retrying", func() {
		p := reliability.Policy{MaxAttempts: 5, Base: time.Millisecond, Cap: 10 * time.Millisecond, JitterRatio: 0.1}
		attempts := 0
		err := reliability.Do(context.Background(), p, func() error {
			attempts++
			return reliability.Permanent(errors.New("invalid edge"))
		})
		Expect(err).To(HaveOccurred())
		Expect(attempts).To(Equal(1))
	})

	It("stops when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := reliability.Policy{MaxAttempts: 5, Base: time.Millisecond, Cap: 10 * time.Millisecond, JitterRatio: 0.1}
		err := reliability.Do(ctx, p, func() error {
			return errors.New("transient")
		})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("NthDelayBounds", func() {
	It("doubles the delay each attempt up to the cap", func() {
		p := reliability.Policy{Base: time.Second, Cap: 5 * time.Minute, JitterRatio: 0.25}

		min0, max0 := reliability.NthDelayBounds(p, 0)
		Expect(min0).To(Equal(750 * time.Millisecond))
		Expect(max0).To(Equal(1250 * time.Millisecond))

		min1, max1 := reliability.NthDelayBounds(p, 1)
		Expect(min1).To(Equal(1500 * time.Millisecond))
		Expect(max1).To(Equal(2500 * time.Millisecond))
	})

	It("caps the delay at p.Cap", func() {
		p := reliability.Policy{Base: time.Second, Cap: 5 * time.Minute, JitterRatio: 0.25}
		min10, max10 := reliability.NthDelayBounds(p, 10)
		Expect(max10).To(BeNumerically("<=", p.Cap+p.Cap/4))
		Expect(min10).To(BeNumerically(">=", p.Cap-p.Cap/4))
	})
})
