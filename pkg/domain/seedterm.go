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

// SeedTermCategory is the controlled category set for seed vocabulary
// (spec §3.1).
type SeedTermCategory string

const (
	SeedCategoryActivity   SeedTermCategory = "activity"
	SeedCategorySystem     SeedTermCategory = "system"
	SeedCategoryRole       SeedTermCategory = "role"
	SeedCategoryRegulation SeedTermCategory = "regulation"
	SeedCategoryArtifact   SeedTermCategory = "artifact"
)

// SeedTermSource records how a seed term entered the vocabulary.
type SeedTermSource string

const (
	SeedSourceConsultant SeedTermSource = "consultant"
	SeedSourceNLP        SeedTermSource = "nlp"
	SeedSourceExtracted  SeedTermSource = "extracted"
)

// SeedTermStatus is the seed term lifecycle (spec §3.1).
type SeedTermStatus string

const (
	SeedStatusActive     SeedTermStatus = "active"
	SeedStatusDeprecated SeedTermStatus = "deprecated"
	SeedStatusMerged     SeedTermStatus = "merged"
)

// SeedTerm drives extraction focus and naming-variant resolution (spec
// §3.1, §4.3, §4.4).
type SeedTerm struct {
	ID           string
	EngagementID string
	Term         string
	Category     SeedTermCategory
	Source       SeedTermSource
	Status       SeedTermStatus
	MergedInto   string // SeedTerm ID, only set when Status == merged
}
