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

package config

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "kmflow-config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when the config file exists with valid content", func() {
			BeforeEach(func() {
				valid := `
store:
  dsn: "postgres://localhost:5432/kmflow"
  max_open_conn: 10

stream:
  addr: "localhost:6379"
  consumer_group: "kmflow-core"
  consumer_name: "worker-1"

consensus:
  mvc: 0.4
  dependency_threshold: 0.1

data_residency: "eu"
`
				Expect(os.WriteFile(configFile, []byte(valid), 0644)).To(Succeed())
			})

			It("loads store and stream settings", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Store.DSN).To(Equal("postgres://localhost:5432/kmflow"))
				Expect(cfg.Stream.ConsumerGroup).To(Equal("kmflow-core"))
				Expect(cfg.DataResidency).To(Equal("eu"))
			})

			It("fills in retry and task defaults when omitted", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Retry.MaxAttempts).To(Equal(5))
				Expect(cfg.Task.SemaphorePerEngagement).To(Equal(4))
			})

			It("fills in the freshness half-life table when omitted", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.HalfLife("regulatory")).To(Equal(365.0))
				Expect(cfg.HalfLife("process_docs")).To(Equal(180.0))
				Expect(cfg.HalfLife("communications")).To(Equal(30.0))
				Expect(cfg.HalfLife("unknown_category")).To(Equal(90.0))
			})

			It("fills in the default authority scope set when omitted", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.AuthorityScopes).To(ContainElement("compliance_officer"))
			})
		})

		Context("when the config file is missing required fields", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(configFile, []byte("store:\n  dsn: \"\"\n"), 0644)).To(Succeed())
			})

			It("fails validation", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
			})
		})

		Context("when the config file has an invalid data_residency", func() {
			BeforeEach(func() {
				invalid := `
store:
  dsn: "postgres://localhost/kmflow"
stream:
  addr: "localhost:6379"
  consumer_group: "g"
  consumer_name: "n"
data_residency: "mars"
`
				Expect(os.WriteFile(configFile, []byte(invalid), 0644)).To(Succeed())
			})

			It("fails validation", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
			})
		})

		Context("when the config file does not exist", func() {
			It("returns an error", func() {
				_, err := Load(filepath.Join(tempDir, "missing.yaml"))
				Expect(err).To(HaveOccurred())
			})
		})
	})
})
