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

package domain

import "errors"

// ErrEmbeddingMismatch is returned when a vector write's model/dim
// disagrees with the engagement's pinned embedding coherence (spec
// §3.2 "Embedding model coherence").
var ErrEmbeddingMismatch = errors.New("embedding model/dim mismatch with engagement coherence pin")

// ErrCrossEngagement is returned by any store operation that detects
// an attempt to read or write across the engagement boundary (spec
// §3, invariant 1 in §8).
var ErrCrossEngagement = errors.New("cross-engagement access denied")

// ErrDependencyCycle is returned by graph writes or seed-term
// resolution that would introduce a cycle where the controlled
// vocabulary or canonicalization chain forbids one (spec §3.3, §4.4).
var ErrDependencyCycle = errors.New("cycle detected")
