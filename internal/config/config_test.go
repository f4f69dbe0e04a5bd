// Copyright 2026 The Agent Watch Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.False(t, cfg.General.Verbose)
	assert.Equal(t, "pretty", cfg.General.DefaultFormat)
	assert.True(t, cfg.Logging.Enabled)
	assert.Equal(t, 30, cfg.Logging.RetentionDays)
	assert.False(t, cfg.Monitoring.FSEnabled)
	assert.False(t, cfg.Monitoring.NetEnabled)
	assert.True(t, cfg.Monitoring.TrackChildren)
	assert.Equal(t, 100, cfg.Monitoring.TrackingPollMS)
	assert.Equal(t, 100, cfg.Monitoring.FSDebounceMS)
	assert.Equal(t, 500, cfg.Monitoring.NetPollMS)
	assert.Equal(t, "high", cfg.Alerts.MinLevel)
	assert.True(t, cfg.Notifications.Enabled)
	assert.Equal(t, "high", cfg.Notifications.MinRiskLevel)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
general:
  verbose: true
  default_format: json
logging:
  retention_days: 7
monitoring:
  fs_enabled: true
  net_enabled: true
  tracking_poll_ms: 50
  fs_debounce_ms: 200
  sensitive_patterns: [".env", "*.key", "my_secret.txt"]
  network_allowlist: ["example.com"]
alerts:
  min_level: medium
  custom_high_risk: ["docker rm", "kubectl delete"]
`))
	require.NoError(t, err)

	assert.True(t, cfg.General.Verbose)
	assert.Equal(t, "json", cfg.General.DefaultFormat)
	assert.Equal(t, 7, cfg.Logging.RetentionDays)
	assert.True(t, cfg.Logging.Enabled, "untouched keys keep defaults")
	assert.True(t, cfg.Monitoring.FSEnabled)
	assert.Equal(t, 50, cfg.Monitoring.TrackingPollMS)
	assert.Equal(t, 200, cfg.Monitoring.FSDebounceMS)
	assert.Len(t, cfg.Monitoring.SensitivePatterns, 3)
	assert.Equal(t, []string{"example.com"}, cfg.Monitoring.NetworkAllowlist)
	assert.Equal(t, "medium", cfg.Alerts.MinLevel)
	assert.Equal(t, []string{"docker rm", "kubectl delete"}, cfg.Alerts.CustomHighRisk)
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("general: [not a map"))
	assert.Error(t, err)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.General.Verbose = true
	cfg.Alerts.CustomHighRisk = []string{"terraform destroy"}
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestDurationHelpers(t *testing.T) {
	m := Default().Monitoring
	assert.Equal(t, 100*time.Millisecond, m.TrackingPoll())
	assert.Equal(t, 100*time.Millisecond, m.FSDebounce())
	assert.Equal(t, 500*time.Millisecond, m.NetPoll())
}

func TestEffectiveLogDirOverride(t *testing.T) {
	l := LoggingConfig{LogDir: "/var/log/agent-watch"}
	dir, err := l.EffectiveLogDir()
	require.NoError(t, err)
	assert.Equal(t, "/var/log/agent-watch", dir)
}
