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

package audit_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/pkg/audit"
	"github.com/proth1/kmflow-sub002/pkg/storage/relational"
)

func TestAudit(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Audit Suite")
}

var _ = Describe("Log", func() {
	It("records entries newest first per engagement", func() {
		ctx := context.Background()
		store := relational.NewMemoryStore()
		log := audit.NewLog(store, zap.NewNop())

		Expect(log.Record(ctx, "eng-1", "reviewer-1", "validate_confirm", "process_element", "pe1", nil)).To(Succeed())
		Expect(log.Record(ctx, "eng-1", "reviewer-1", "validate_reject", "process_element", "pe2", map[string]any{"reason": "duplicate"})).To(Succeed())
		Expect(log.Record(ctx, "eng-2", "reviewer-2", "validate_confirm", "process_element", "pe3", nil)).To(Succeed())

		entries, err := log.Recent(ctx, "eng-1", 10)
		Expect(err).ToNot(HaveOccurred())
		Expect(entries).To(HaveLen(2))
		Expect(entries[0].Action).To(Equal("validate_reject"))
		Expect(entries[0].Details["reason"]).To(Equal("duplicate"))
		Expect(entries[1].Action).To(Equal("validate_confirm"))
	})
})
