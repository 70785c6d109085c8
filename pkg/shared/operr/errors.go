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

// Package operr gives infrastructure call sites (store, stream, HTTP)
// a uniform low-level error shape, independent of the surfaced
// kerrors taxonomy that component boundaries translate it into.
package operr

import "fmt"

// OperationError describes a failed infrastructure operation.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	s := fmt.Sprintf("failed to %s", e.Operation)
	if e.Component != "" {
		s += fmt.Sprintf(", component: %s", e.Component)
	}
	if e.Resource != "" {
		s += fmt.Sprintf(", resource: %s", e.Resource)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(", cause: %v", e.Cause)
	}
	return s
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// Wrap builds an OperationError for a failed call against component,
// optionally naming the resource involved.
func Wrap(operation, component, resource string, cause error) *OperationError {
	return &OperationError{Operation: operation, Component: component, Resource: resource, Cause: cause}
}
