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

package logging

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func fieldByKey(fields Fields, key string) (zapcore.Field, bool) {
	for _, f := range fields {
		if f.Key == key {
			return f, true
		}
	}
	return zapcore.Field{}, false
}

func TestNewFields(t *testing.T) {
	fields := NewFields()
	if fields == nil {
		t.Fatal("NewFields() returned nil")
	}
	if len(fields) != 0 {
		t.Errorf("NewFields() should be empty, got %d fields", len(fields))
	}
}

func TestFields_Component(t *testing.T) {
	fields := NewFields().Component("evidence-ingest")
	f, ok := fieldByKey(fields, "component")
	if !ok || f.String != "evidence-ingest" {
		t.Errorf("Component() = %+v, want evidence-ingest", f)
	}
}

func TestFields_Operation(t *testing.T) {
	fields := NewFields().Operation("ingest")
	f, ok := fieldByKey(fields, "operation")
	if !ok || f.String != "ingest" {
		t.Errorf("Operation() = %+v, want ingest", f)
	}
}

func TestFields_Resource(t *testing.T) {
	fields := NewFields().Resource("evidence", "ev-1")
	typ, ok := fieldByKey(fields, "resource_type")
	if !ok || typ.String != "evidence" {
		t.Errorf("Resource() resource_type = %+v", typ)
	}
	name, ok := fieldByKey(fields, "resource_name")
	if !ok || name.String != "ev-1" {
		t.Errorf("Resource() resource_name = %+v", name)
	}
}

func TestFields_ResourceWithoutName(t *testing.T) {
	fields := NewFields().Resource("evidence", "")
	if _, ok := fieldByKey(fields, "resource_name"); ok {
		t.Error("Resource() should not set resource_name when empty")
	}
}

func TestFields_Duration(t *testing.T) {
	d := 150 * time.Millisecond
	fields := NewFields().Duration(d)
	f, ok := fieldByKey(fields, "duration")
	if !ok || time.Duration(f.Integer) != d {
		t.Errorf("Duration() = %+v, want %v", f, d)
	}
}

func TestFields_Err(t *testing.T) {
	err := errors.New("boom")
	fields := NewFields().Err(err)
	if _, ok := fieldByKey(fields, "error"); !ok {
		t.Error("Err() should add an error field")
	}

	fields = NewFields().Err(nil)
	if len(fields) != 0 {
		t.Error("Err(nil) should not add a field")
	}
}

func TestFields_Chaining(t *testing.T) {
	fields := NewFields().
		Component("consensus").
		Operation("compute_confidence").
		Engagement("eng-1").
		Resource("element", "elem-5")

	if len(fields) != 5 {
		t.Errorf("chained Fields has %d entries, want 5", len(fields))
	}
}
