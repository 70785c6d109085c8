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

package authz_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/authz"
)

func TestAuthz(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Authz Suite")
}

var _ = Describe("Evaluator", func() {
	var (
		ctx context.Context
		ev  *authz.Evaluator
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		ev, err = authz.NewEvaluator(ctx, authz.Config{}, zap.NewNop())
		Expect(err).ToNot(HaveOccurred())
	})

	It("allows a member with an authorized scope", func() {
		err := ev.Evaluate(ctx, authz.Input{
			EngagementID: "eng-1", Action: "write_assertion", AuthorityScope: "consultant",
			ActorMemberOfEngagement: true, EngagementAuthorityScopes: []string{"consultant", "client_sponsor"},
		})
		Expect(err).ToNot(HaveOccurred())
	})

	It("denies a non-member, fail-closed", func() {
		err := ev.Evaluate(ctx, authz.Input{
			EngagementID: "eng-1", Action: "write_assertion", AuthorityScope: "consultant",
			ActorMemberOfEngagement: false, EngagementAuthorityScopes: []string{"consultant"},
		})
		Expect(kerrors.TypeOf(err)).To(Equal(kerrors.ErrorTypeAuthzDenied))
	})

	It("denies a scope not in the engagement's allowed set", func() {
		err := ev.Evaluate(ctx, authz.Input{
			EngagementID: "eng-1", Action: "write_assertion", AuthorityScope: "external_auditor",
			ActorMemberOfEngagement: true, EngagementAuthorityScopes: []string{"consultant"},
		})
		Expect(kerrors.TypeOf(err)).To(Equal(kerrors.ErrorTypeAuthzDenied))
	})
})
