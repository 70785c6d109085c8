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

// Package config loads and validates the core engine's YAML
// configuration: store connectivity, stream/runtime limits, retry
// policy, and the consensus engine's tunables (spec §6).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// RetryConfig is the exponential-backoff policy shared by ingest
// retries, task redelivery, and outbox projection retries (spec §4.1,
// §4.2, §4.5).
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" validate:"min=1"`
	Base         time.Duration `yaml:"base" validate:"min=0"`
	Cap          time.Duration `yaml:"cap" validate:"min=0"`
	JitterRatio  float64       `yaml:"jitter_ratio" validate:"min=0,max=1"`
}

// StoreConfig configures the relational system of record.
type StoreConfig struct {
	DSN         string `yaml:"dsn" validate:"required"`
	MaxOpenConn int    `yaml:"max_open_conn" validate:"min=1"`
}

// StreamConfig configures the durable stream backing the task runtime.
type StreamConfig struct {
	Addr          string `yaml:"addr" validate:"required"`
	ConsumerGroup string `yaml:"consumer_group" validate:"required"`
	ConsumerName  string `yaml:"consumer_name" validate:"required"`
}

// ConsensusConfig configures the LCD algorithm's tunables (spec §4.4, §6).
type ConsensusConfig struct {
	MVC                     float64 `yaml:"mvc" validate:"min=0,max=1"`
	DependencyThreshold     float64 `yaml:"dependency_threshold" validate:"min=0,max=1"`
	PropagationEpsilon      float64 `yaml:"propagation_epsilon" validate:"min=0,max=1"`
	FixedPlaneDenominator   bool    `yaml:"fixed_plane_denominator"`
}

// EmbeddingConfig records the default embedding model/dim offered to a
// newly created Engagement; the actual binding is pinned per
// engagement on first use (spec §3.2).
type EmbeddingConfig struct {
	Model string `yaml:"model"`
	Dim   int    `yaml:"dim" validate:"min=0"`
}

// TaskConfig configures the async task runtime (spec §4.5).
type TaskConfig struct {
	SemaphorePerEngagement int `yaml:"semaphore_per_engagement" validate:"min=1"`
}

// Config is the root configuration object.
type Config struct {
	Store              StoreConfig        `yaml:"store" validate:"required"`
	Stream             StreamConfig       `yaml:"stream" validate:"required"`
	Retry              RetryConfig        `yaml:"retry"`
	Consensus          ConsensusConfig    `yaml:"consensus"`
	Embedding          EmbeddingConfig    `yaml:"embedding"`
	Task               TaskConfig         `yaml:"task"`
	FreshnessHalfLife  map[string]float64 `yaml:"freshness_half_life_days"`
	DataResidency      string             `yaml:"data_residency" validate:"omitempty,oneof=none eu uk custom"`
	ScanSchedule       string             `yaml:"scan_schedule"`
	AuthorityScopes    []string           `yaml:"authority_scopes"`
}

// DefaultFreshnessHalfLife implements the category half-life table
// from spec §4.1 when a config omits category overrides.
func DefaultFreshnessHalfLife() map[string]float64 {
	return map[string]float64{
		"regulatory":    365,
		"process_docs":  180,
		"communications": 30,
		"others":        90,
	}
}

// DefaultAuthorityScopes implements the open-question decision in
// SPEC_FULL.md §D.3.
func DefaultAuthorityScopes() []string {
	return []string{"consultant", "client_sponsor", "operations_team", "compliance_officer", "external_auditor"}
}

// Default returns a Config populated with the spec §6 defaults.
func Default() Config {
	return Config{
		Retry: RetryConfig{
			MaxAttempts: 5,
			Base:        time.Second,
			Cap:         5 * time.Minute,
			JitterRatio: 0.25,
		},
		Consensus: ConsensusConfig{
			MVC:                 0.40,
			DependencyThreshold: 0.1,
			PropagationEpsilon:  0.05,
		},
		Task: TaskConfig{
			SemaphorePerEngagement: 4,
		},
		FreshnessHalfLife: DefaultFreshnessHalfLife(),
		DataResidency:     "none",
		AuthorityScopes:   DefaultAuthorityScopes(),
	}
}

// Load reads and validates a YAML config file, filling in spec §6
// defaults for any field the file leaves zero-valued.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.FreshnessHalfLife) == 0 {
		cfg.FreshnessHalfLife = DefaultFreshnessHalfLife()
	}
	if len(cfg.AuthorityScopes) == 0 {
		cfg.AuthorityScopes = DefaultAuthorityScopes()
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// HalfLife returns the freshness half-life in days for category,
// falling back to the "others" bucket (spec §4.1).
func (c Config) HalfLife(category string) float64 {
	if d, ok := c.FreshnessHalfLife[category]; ok {
		return d
	}
	return c.FreshnessHalfLife["others"]
}
