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

package detect

import (
	"strings"

	"github.com/ksyq12/agent-watch/internal/procfs"
)

// Agent is a running AI coding assistant found in the process table.
type Agent struct {
	PID  uint32
	Name string
	Path string
}

// ProcessLister supplies the system process table.
type ProcessLister interface {
	Processes() ([]procfs.Process, error)
}

// AgentScanner finds AI agent processes by matching name and path
// patterns, case-insensitively, as substrings.
type AgentScanner struct {
	patterns []string
	procs    ProcessLister
}

// NewAgentScanner returns a scanner with the default patterns.
func NewAgentScanner(procs ProcessLister) *AgentScanner {
	return NewAgentScannerWithPatterns(procs, DefaultAgentPatterns())
}

// NewAgentScannerWithPatterns returns a scanner with custom patterns.
func NewAgentScannerWithPatterns(procs ProcessLister, patterns []string) *AgentScanner {
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return &AgentScanner{patterns: lowered, procs: procs}
}

// Patterns returns the active patterns.
func (s *AgentScanner) Patterns() []string {
	return s.patterns
}

// Scan walks the process table and returns every process whose name or
// executable path contains one of the patterns.
func (s *AgentScanner) Scan() ([]Agent, error) {
	table, err := s.procs.Processes()
	if err != nil {
		return nil, err
	}

	var agents []Agent
	for _, p := range table {
		if p.PID == 0 {
			continue
		}
		if s.matchesProcess(p.Name, p.Path) {
			agents = append(agents, Agent{PID: p.PID, Name: p.Name, Path: p.Path})
		}
	}
	return agents, nil
}

func (s *AgentScanner) matchesProcess(name, path string) bool {
	nameLower := strings.ToLower(name)
	pathLower := strings.ToLower(path)
	for _, pattern := range s.patterns {
		if strings.Contains(nameLower, pattern) || strings.Contains(pathLower, pattern) {
			return true
		}
	}
	return false
}

// DefaultAgentPatterns returns the built-in AI agent name patterns.
func DefaultAgentPatterns() []string {
	return []string{
		"claude",
		"cursor",
		"copilot",
		"aider",
		"windsurf",
		"cody",
	}
}
