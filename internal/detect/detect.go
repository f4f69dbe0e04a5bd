// Copyright 2026 The Agent Watch Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package detect classifies paths and network destinations: sensitive
// file patterns, the outbound host allowlist, and running AI agent
// processes.
package detect

import (
	"path/filepath"
	"strings"

	"github.com/ksyq12/agent-watch/internal/event"
)

// sensitiveDirs are matched as lowercase substrings of the full path.
var sensitiveDirs = []string{"/.ssh/", "/.aws/", "/.gnupg/", "/.kube/"}

// SensitiveFiles detects paths that likely hold credentials or keys.
type SensitiveFiles struct {
	patterns    []string
	customPaths map[string]bool
}

// NewSensitiveFiles builds a detector from glob patterns. Patterns are
// matched against the basename first, then the full path.
func NewSensitiveFiles(patterns []string) *SensitiveFiles {
	valid := make([]string, 0, len(patterns))
	for _, p := range patterns {
		// Reject patterns filepath.Match cannot parse.
		if _, err := filepath.Match(p, ""); err == nil {
			valid = append(valid, p)
		}
	}
	return &SensitiveFiles{
		patterns:    valid,
		customPaths: make(map[string]bool),
	}
}

// DefaultSensitiveFiles returns a detector with the built-in patterns.
func DefaultSensitiveFiles() *SensitiveFiles {
	return NewSensitiveFiles(DefaultSensitivePatterns())
}

// AddCustomPath registers an exact path as sensitive.
func (d *SensitiveFiles) AddCustomPath(paths ...string) {
	for _, p := range paths {
		d.customPaths[p] = true
	}
}

// Patterns returns the active glob patterns.
func (d *SensitiveFiles) Patterns() []string {
	return d.patterns
}

// IsSensitive reports whether path matches a sensitive pattern. The
// path is also resolved through symlinks and re-checked, so linking a
// harmless name to ~/.ssh/id_rsa does not evade detection.
func (d *SensitiveFiles) IsSensitive(path string) bool {
	if d.matches(path) {
		return true
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil && resolved != path {
		return d.matches(resolved)
	}
	return false
}

// RiskLevel returns Critical for sensitive paths and Low otherwise.
func (d *SensitiveFiles) RiskLevel(path string) event.RiskLevel {
	if d.IsSensitive(path) {
		return event.Critical
	}
	return event.Low
}

// Reason returns a human-readable reason for sensitive paths.
func (d *SensitiveFiles) Reason(path string) string {
	if d.IsSensitive(path) {
		return "Sensitive file access detected"
	}
	return ""
}

func (d *SensitiveFiles) matches(path string) bool {
	if d.customPaths[path] {
		return true
	}

	base := filepath.Base(path)
	for _, pattern := range d.patterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
	}

	lower := strings.ToLower(path)
	for _, dir := range sensitiveDirs {
		if strings.Contains(lower, dir) {
			return true
		}
	}

	return false
}

// DefaultSensitivePatterns returns the built-in sensitive file globs.
func DefaultSensitivePatterns() []string {
	return []string{
		// Environment files.
		".env",
		".env.*",
		"*.env",
		// Key material.
		"*.pem",
		"*.key",
		"*.p12",
		"*.pfx",
		"id_rsa",
		"id_ed25519",
		"id_ecdsa",
		"id_dsa",
		// Credential files.
		"*credential*",
		"*secret*",
		"*password*",
		"*token*",
		// Config files with secrets.
		".netrc",
		".npmrc",
		".pypirc",
		"credentials",
		"credentials.json",
		// AWS.
		"aws_access_key*",
		// Databases.
		"*.sqlite",
		"*.db",
	}
}
