// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/editor"
	"github.com/AleutianAI/AleutianForge/services/forge/syntax"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, editor.DefaultOptions(), cfg.EditOptions())
}

func TestParse_FullFile(t *testing.T) {
	cfg, err := Parse([]byte(`
state_dir: /var/lib/forge
backup:
  retention: 25
edit:
  validate: true
  create_backup: true
  format: true
format_timeout: 3s
formatters:
  python:
    command: black
    args: ["-q", "-"]
graph:
  snapshot: .forge/graph.json
advisor:
  enabled: false
  model: local-model
  base_url: http://localhost:11434/v1
server:
  addr: 0.0.0.0:9000
logging:
  level: debug
  json: true
telemetry:
  enabled: true
  trace_exporter: otlp
  otlp_endpoint: localhost:4317
`))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/forge", cfg.StateDir)
	assert.Equal(t, 25, cfg.Backup.Retention)
	assert.True(t, cfg.EditOptions().Format)
	assert.Equal(t, 3*time.Second, cfg.FormatTimeout)
	assert.Equal(t, []string{"-q", "-"}, cfg.Formatters["python"].Args)
	assert.Equal(t, "prometheus", cfg.Telemetry.MetricExporter, "unset keys keep defaults")

	caps := cfg.Registry().Resolve("x.py", "")
	require.NotNil(t, caps.Formatter)
	assert.Equal(t, syntax.LangPython, caps.Formatter.Language())

	sc := cfg.ServiceConfig(nil)
	assert.Equal(t, 25, sc.Retention)
	assert.NotNil(t, sc.Graphs)
	assert.Nil(t, sc.Advisor)
	assert.True(t, sc.TracingEnabled)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":        "bogus: 1\n",
		"bad level":          "logging:\n  level: loud\n",
		"zero retention":     "backup:\n  retention: 0\n",
		"unknown language":   "formatters:\n  cobol:\n    command: fmt\n",
		"formatter command":  "formatters:\n  go:\n    args: [x]\n",
		"otlp needs address": "telemetry:\n  trace_exporter: otlp\n",
		"bad exporter":       "telemetry:\n  metric_exporter: graphite\n",
		"bad addr":           "server:\n  addr: nope\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "forge.yaml")
	cfg := Default()
	cfg.StateDir = "/tmp/forge-state"
	cfg.FormatTimeout = 7 * time.Second
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestNewAdvisor(t *testing.T) {
	cfg := Default()
	adv, err := cfg.NewAdvisor(nil)
	require.NoError(t, err)
	assert.Nil(t, adv)

	cfg.Advisor.Enabled = true
	cfg.Advisor.APIKeyEnv = "FORGE_TEST_ADVISOR_KEY"
	t.Setenv("FORGE_TEST_ADVISOR_KEY", "")
	_, err = cfg.NewAdvisor(nil)
	assert.Error(t, err)

	t.Setenv("FORGE_TEST_ADVISOR_KEY", "k")
	adv, err = cfg.NewAdvisor(nil)
	require.NoError(t, err)
	assert.NotNil(t, adv)
}
