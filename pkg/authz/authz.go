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

// Package authz evaluates engagement-scope and authority_scope
// admission via an embedded Rego policy (SPEC_FULL.md §C.5), returning
// kerrors.ErrorTypeAuthzDenied on refusal (spec §7). pkg/graph and
// pkg/pov do not call it; cmd/kmflow-core constructs an Evaluator for
// callers above this engine.
package authz

import (
	"context"
	"os"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/proth1/kmflow-sub002/internal/kerrors"
	"github.com/proth1/kmflow-sub002/pkg/shared/logging"
)

// defaultQuery is the Rego entry point every policy module must
// define: a single boolean "allow" under the kmflow.authz package.
const defaultQuery = "data.kmflow.authz.allow"

// DefaultPolicy implements the open-question decision in
// SPEC_FULL.md §D.3: membership in an engagement's authority_scopes
// config, plus actor-engagement membership, admit a write.
const DefaultPolicy = `
package kmflow.authz

default allow = false

allow {
	input.actor_member_of_engagement == true
	input.authority_scope != ""
	scope_allowed
}

scope_allowed {
	some i
	input.engagement_authority_scopes[i] == input.authority_scope
}
`

// Input is the admission request evaluated against the policy: an
// actor attempting `action` (e.g. "write_assertion", "validate_pov")
// within an engagement, carrying the authority scope it claims.
type Input struct {
	EngagementID              string   `json:"engagement_id"`
	Action                    string   `json:"action"`
	AuthorityScope            string   `json:"authority_scope"`
	ActorMemberOfEngagement   bool     `json:"actor_member_of_engagement"`
	EngagementAuthorityScopes []string `json:"engagement_authority_scopes"`
}

// Config configures the policy source; PolicyPath, when set, is read
// at construction instead of DefaultPolicy, so operators can override
// admission rules per deployment without a code change.
type Config struct {
	PolicyPath string
}

// Evaluator holds a prepared Rego query, re-compiled once at
// construction (spec §7 "AuthzDenied").
type Evaluator struct {
	query  rego.PreparedEvalQuery
	logger *zap.Logger
}

// NewEvaluator compiles cfg's policy (or DefaultPolicy, if PolicyPath
// is empty) into a prepared query.
func NewEvaluator(ctx context.Context, cfg Config, logger *zap.Logger) (*Evaluator, error) {
	src := DefaultPolicy
	if cfg.PolicyPath != "" {
		raw, err := os.ReadFile(cfg.PolicyPath)
		if err != nil {
			return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "read authz policy file")
		}
		src = string(raw)
	}

	pq, err := rego.New(
		rego.Query(defaultQuery),
		rego.Module("kmflow_authz.rego", src),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, kerrors.Wrap(err, kerrors.ErrorTypeValidation, "compile authz policy")
	}
	return &Evaluator{query: pq, logger: logger}, nil
}

// Evaluate admits or denies in. A denial is always
// kerrors.ErrorTypeAuthzDenied; any other error is the policy engine
// itself failing, which this package treats as a denial too — default
// deny, never default allow (spec §7 philosophy: fail closed).
func (e *Evaluator) Evaluate(ctx context.Context, in Input) error {
	results, err := e.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		e.logger.Error("authz policy evaluation failed",
			logging.NewFields().Component("authz").Operation("evaluate").Engagement(in.EngagementID).Err(err).Slice()...)
		return kerrors.Wrapf(err, kerrors.ErrorTypeAuthzDenied, "policy evaluation error for action %q", in.Action)
	}
	if !allowed(results) {
		return kerrors.Newf(kerrors.ErrorTypeAuthzDenied, "action %q denied for engagement %s (scope %q)",
			in.Action, in.EngagementID, in.AuthorityScope)
	}
	return nil
}

func allowed(rs rego.ResultSet) bool {
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	return ok && v
}
