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

// Package risk scores commands by their potential impact. Scoring is a
// pure function over the command name and arguments; no I/O, no clock.
package risk

import (
	"strings"

	"github.com/ksyq12/agent-watch/internal/event"
)

// PatternKind selects how a rule matches a command.
type PatternKind int

const (
	// KindCommand matches the command name exactly.
	KindCommand PatternKind = iota
	// KindCommandWithArgs matches the command name exactly and requires
	// each listed argument to appear, either verbatim or as an "arg=" prefix.
	KindCommandWithArgs
	// KindContains matches a substring of the full command line.
	KindContains
	// KindPipe matches when both halves appear and the line contains a pipe.
	KindPipe
)

// Rule maps a command pattern to a risk level.
type Rule struct {
	Kind    PatternKind
	Command string
	Args    []string
	First   string
	Second  string
	Level   event.RiskLevel
	Reason  string
}

// Scorer assigns risk levels to commands. The zero value is not usable;
// construct with NewScorer.
type Scorer struct {
	rules      []Rule
	customHigh []string
}

// NewScorer returns a scorer with the built-in rule table.
func NewScorer() *Scorer {
	return &Scorer{rules: defaultRules()}
}

// AddCustomHighRisk registers command prefixes that always score High.
// Custom prefixes are checked before the built-in rules.
func (s *Scorer) AddCustomHighRisk(commands ...string) {
	s.customHigh = append(s.customHigh, commands...)
}

// Score returns the risk level for a command and the reason it matched.
// Severity buckets are evaluated critical first; within a bucket the
// first rule in definition order wins. Unmatched commands are Low with
// an empty reason.
func (s *Scorer) Score(command string, args []string) (event.RiskLevel, string) {
	full := command
	if len(args) > 0 {
		full = command + " " + strings.Join(args, " ")
	}

	for _, custom := range s.customHigh {
		if strings.HasPrefix(full, custom) {
			return event.High, "Custom high-risk command"
		}
	}

	for _, level := range []event.RiskLevel{event.Critical, event.High, event.Medium} {
		for _, rule := range s.rules {
			if rule.Level != level {
				continue
			}
			if rule.matches(command, args, full) {
				return rule.Level, rule.Reason
			}
		}
	}

	return event.Low, ""
}

func (r *Rule) matches(command string, args []string, full string) bool {
	switch r.Kind {
	case KindCommand:
		return command == r.Command
	case KindCommandWithArgs:
		if command != r.Command {
			return false
		}
		for _, required := range r.Args {
			found := false
			for _, a := range args {
				if a == required || strings.HasPrefix(a, required+"=") {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case KindContains:
		return strings.Contains(full, r.First)
	case KindPipe:
		return strings.Contains(full, r.First) &&
			strings.Contains(full, "|") &&
			strings.Contains(full, r.Second)
	default:
		return false
	}
}

func defaultRules() []Rule {
	return []Rule{
		// Critical: extremely dangerous.
		{Kind: KindCommandWithArgs, Command: "rm", Args: []string{"-rf", "/"}, Level: event.Critical, Reason: "Recursive force delete of root directory"},
		{Kind: KindCommandWithArgs, Command: "rm", Args: []string{"-rf", "/*"}, Level: event.Critical, Reason: "Recursive force delete of root contents"},
		{Kind: KindCommandWithArgs, Command: "chmod", Args: []string{"777"}, Level: event.Critical, Reason: "Setting world-writable permissions"},
		{Kind: KindCommandWithArgs, Command: "chmod", Args: []string{"-R", "777"}, Level: event.Critical, Reason: "Recursively setting world-writable permissions"},
		{Kind: KindPipe, First: "curl", Second: "bash", Level: event.Critical, Reason: "Piping remote script to shell (curl | bash)"},
		{Kind: KindPipe, First: "wget", Second: "bash", Level: event.Critical, Reason: "Piping remote script to shell (wget | bash)"},
		{Kind: KindPipe, First: "curl", Second: "sh", Level: event.Critical, Reason: "Piping remote script to shell (curl | sh)"},
		{Kind: KindContains, First: ":(){:|:&};:", Level: event.Critical, Reason: "Fork bomb detected"},

		// High: destructive or privilege escalation.
		{Kind: KindCommandWithArgs, Command: "rm", Args: []string{"-rf"}, Level: event.High, Reason: "Recursive force delete"},
		{Kind: KindCommandWithArgs, Command: "rm", Args: []string{"-r"}, Level: event.High, Reason: "Recursive delete"},
		{Kind: KindCommand, Command: "sudo", Level: event.High, Reason: "Privilege escalation"},
		{Kind: KindCommand, Command: "su", Level: event.High, Reason: "User switch"},
		{Kind: KindCommand, Command: "ssh", Level: event.High, Reason: "Remote shell access"},
		{Kind: KindCommand, Command: "scp", Level: event.High, Reason: "Remote file copy"},
		{Kind: KindCommand, Command: "rsync", Level: event.High, Reason: "Remote sync"},
		{Kind: KindCommandWithArgs, Command: "chmod", Args: []string{"+x"}, Level: event.High, Reason: "Adding execute permission"},
		{Kind: KindCommand, Command: "chown", Level: event.High, Reason: "Changing file ownership"},
		{Kind: KindCommand, Command: "mkfs", Level: event.High, Reason: "Formatting filesystem"},
		{Kind: KindCommand, Command: "dd", Level: event.High, Reason: "Low-level disk operation"},

		// Medium: network operations and package management.
		{Kind: KindCommand, Command: "curl", Level: event.Medium, Reason: "Network request"},
		{Kind: KindCommand, Command: "wget", Level: event.Medium, Reason: "Network download"},
		{Kind: KindCommandWithArgs, Command: "pip", Args: []string{"install"}, Level: event.Medium, Reason: "Python package installation"},
		{Kind: KindCommandWithArgs, Command: "pip3", Args: []string{"install"}, Level: event.Medium, Reason: "Python package installation"},
		{Kind: KindCommandWithArgs, Command: "npm", Args: []string{"install"}, Level: event.Medium, Reason: "NPM package installation"},
		{Kind: KindCommandWithArgs, Command: "yarn", Args: []string{"add"}, Level: event.Medium, Reason: "Yarn package installation"},
		{Kind: KindCommandWithArgs, Command: "brew", Args: []string{"install"}, Level: event.Medium, Reason: "Homebrew package installation"},
		{Kind: KindCommandWithArgs, Command: "cargo", Args: []string{"install"}, Level: event.Medium, Reason: "Cargo package installation"},
		{Kind: KindCommand, Command: "git", Level: event.Medium, Reason: "Git operation"},
		{Kind: KindCommand, Command: "docker", Level: event.Medium, Reason: "Docker operation"},
	}
}
