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

// Package logging gives every component a chainable builder for the
// standard zap fields the rest of the codebase expects on log lines:
// component, operation, resource, engagement, duration, error.
package logging

import (
	"time"

	"go.uber.org/zap"
)

// Fields is a chainable builder over a []zap.Field slice.
type Fields []zap.Field

// NewFields starts an empty field chain.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	return append(f, zap.String("component", name))
}

func (f Fields) Operation(name string) Fields {
	return append(f, zap.String("operation", name))
}

func (f Fields) Engagement(id string) Fields {
	return append(f, zap.String("engagement_id", id))
}

func (f Fields) Resource(kind, name string) Fields {
	out := append(f, zap.String("resource_type", kind))
	if name != "" {
		out = append(out, zap.String("resource_name", name))
	}
	return out
}

func (f Fields) Duration(d time.Duration) Fields {
	return append(f, zap.Duration("duration", d))
}

func (f Fields) Err(err error) Fields {
	if err == nil {
		return f
	}
	return append(f, zap.Error(err))
}

// Slice returns the underlying []zap.Field for passing to a *zap.Logger
// call site (logger.Info(msg, fields.Slice()...)).
func (f Fields) Slice() []zap.Field {
	return []zap.Field(f)
}
