// Copyright 2026 The Agent Watch Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package detect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksyq12/agent-watch/internal/event"
	"github.com/ksyq12/agent-watch/internal/procfs"
)

func TestSensitiveEnvFiles(t *testing.T) {
	d := DefaultSensitiveFiles()

	assert.True(t, d.IsSensitive("/home/user/project/.env"))
	assert.True(t, d.IsSensitive("/app/.env.production"))
	assert.True(t, d.IsSensitive("/app/staging.env"))
	assert.False(t, d.IsSensitive("/app/environment.md"))
}

func TestSensitiveKeyFiles(t *testing.T) {
	d := DefaultSensitiveFiles()

	assert.True(t, d.IsSensitive("/etc/ssl/server.pem"))
	assert.True(t, d.IsSensitive("/home/user/private.key"))
	assert.True(t, d.IsSensitive("/home/user/.ssh/id_rsa"))
	assert.True(t, d.IsSensitive("/home/user/.ssh/id_ed25519"))
}

func TestSensitiveCredentialFiles(t *testing.T) {
	d := DefaultSensitiveFiles()

	assert.True(t, d.IsSensitive("/home/user/.aws/credentials"))
	assert.True(t, d.IsSensitive("/app/db_credentials.yaml"))
	assert.True(t, d.IsSensitive("/app/secrets.json"))
	assert.True(t, d.IsSensitive("/home/user/.netrc"))
}

func TestSensitiveDirectories(t *testing.T) {
	d := DefaultSensitiveFiles()

	assert.True(t, d.IsSensitive("/home/user/.ssh/known_hosts"))
	assert.True(t, d.IsSensitive("/home/user/.aws/config"))
	assert.True(t, d.IsSensitive("/home/user/.gnupg/pubring.kbx"))
	assert.True(t, d.IsSensitive("/home/user/.kube/cache/something"))
}

func TestNonSensitiveFiles(t *testing.T) {
	d := DefaultSensitiveFiles()

	assert.False(t, d.IsSensitive("/home/user/main.go"))
	assert.False(t, d.IsSensitive("/home/user/README.md"))
	assert.False(t, d.IsSensitive("/tmp/output.log"))
}

func TestCustomSensitivePath(t *testing.T) {
	d := DefaultSensitiveFiles()
	d.AddCustomPath("/opt/app/internal-notes.txt")

	assert.True(t, d.IsSensitive("/opt/app/internal-notes.txt"))
	assert.False(t, d.IsSensitive("/opt/app/public-notes.txt"))
}

func TestSymlinkToSensitiveFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "server.pem")
	require.NoError(t, os.WriteFile(target, []byte("key"), 0o600))
	link := filepath.Join(dir, "harmless.txt")
	require.NoError(t, os.Symlink(target, link))

	d := DefaultSensitiveFiles()
	assert.True(t, d.IsSensitive(link))
}

func TestSensitiveRiskLevel(t *testing.T) {
	d := DefaultSensitiveFiles()

	assert.Equal(t, event.Critical, d.RiskLevel("/home/user/.env"))
	assert.Equal(t, "Sensitive file access detected", d.Reason("/home/user/.env"))
	assert.Equal(t, event.Low, d.RiskLevel("/home/user/main.go"))
	assert.Empty(t, d.Reason("/home/user/main.go"))
}

func TestInvalidPatternIsDropped(t *testing.T) {
	d := NewSensitiveFiles([]string{"[invalid", "*.pem"})
	assert.Equal(t, []string{"*.pem"}, d.Patterns())
}

func TestAllowlistExactHost(t *testing.T) {
	a := DefaultNetworkAllowlist()

	assert.True(t, a.IsHostAllowed("api.anthropic.com"))
	assert.True(t, a.IsHostAllowed("github.com"))
	assert.False(t, a.IsHostAllowed("evil.example.com"))
}

func TestAllowlistSubdomain(t *testing.T) {
	a := DefaultNetworkAllowlist()

	assert.True(t, a.IsHostAllowed("gist.github.com"))

	// Suffix without the dot boundary must not match.
	assert.False(t, a.IsHostAllowed("evilgithub.com"))
}

func TestAllowlistPorts(t *testing.T) {
	a := NewNetworkAllowlist([]string{"example.com"}, nil)
	assert.True(t, a.IsPortAllowed(443))
	assert.True(t, a.IsPortAllowed(1337))

	a.AddPort(443)
	assert.True(t, a.IsPortAllowed(443))
	assert.False(t, a.IsPortAllowed(1337))
}

func TestAllowlistRiskLevels(t *testing.T) {
	a := DefaultNetworkAllowlist()

	known := Connection{Host: "api.anthropic.com", Port: 443, Protocol: "tcp"}
	assert.Equal(t, event.Medium, a.RiskLevel(known))
	assert.Empty(t, a.Reason(known))

	unknown := Connection{Host: "198.51.100.7", Port: 443, Protocol: "tcp"}
	assert.Equal(t, event.High, a.RiskLevel(unknown))
	assert.Equal(t, "Unknown network destination", a.Reason(unknown))
}

func TestAllowlistAddHost(t *testing.T) {
	a := NewNetworkAllowlist(nil, nil)
	assert.False(t, a.IsHostAllowed("internal.corp"))

	a.AddHost("internal.corp")
	assert.True(t, a.IsHostAllowed("internal.corp"))
	assert.True(t, a.IsHostAllowed("git.internal.corp"))
}

type staticLister struct {
	table []procfs.Process
}

func (s staticLister) Processes() ([]procfs.Process, error) {
	return s.table, nil
}

func TestAgentScanner(t *testing.T) {
	lister := staticLister{table: []procfs.Process{
		{PID: 0, PPID: 0, Name: "kernel", Path: ""},
		{PID: 100, PPID: 1, Name: "claude", Path: "/usr/local/bin/claude"},
		{PID: 101, PPID: 1, Name: "node", Path: "/opt/Cursor/cursor"},
		{PID: 102, PPID: 1, Name: "bash", Path: "/bin/bash"},
	}}

	s := NewAgentScanner(lister)
	agents, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, agents, 2)

	assert.Equal(t, uint32(100), agents[0].PID)
	assert.Equal(t, "claude", agents[0].Name)
	assert.Equal(t, uint32(101), agents[1].PID)
}

func TestAgentScannerCustomPatterns(t *testing.T) {
	lister := staticLister{table: []procfs.Process{
		{PID: 200, PPID: 1, Name: "my-agent", Path: "/usr/bin/my-agent"},
		{PID: 201, PPID: 1, Name: "claude", Path: "/usr/local/bin/claude"},
	}}

	s := NewAgentScannerWithPatterns(lister, []string{"MY-AGENT"})
	agents, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "my-agent", agents[0].Name)
}

func TestDefaultAgentPatterns(t *testing.T) {
	patterns := DefaultAgentPatterns()
	assert.Contains(t, patterns, "claude")
	assert.Contains(t, patterns, "cursor")
	assert.Contains(t, patterns, "copilot")
	assert.Contains(t, patterns, "aider")
	assert.Contains(t, patterns, "windsurf")
	assert.Contains(t, patterns, "cody")
}
