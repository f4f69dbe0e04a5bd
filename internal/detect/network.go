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

	"github.com/ksyq12/agent-watch/internal/event"
)

// Connection describes an observed outbound network destination.
type Connection struct {
	Host     string
	Port     uint16
	Protocol string
}

// NetworkAllowlist classifies outbound destinations. Hosts match
// exactly or as a subdomain of an allowed host; an empty port set
// allows all ports.
type NetworkAllowlist struct {
	allowedHosts map[string]bool
	allowedPorts map[uint16]bool
}

// NewNetworkAllowlist builds an allowlist from explicit hosts and ports.
func NewNetworkAllowlist(hosts []string, ports []uint16) *NetworkAllowlist {
	a := &NetworkAllowlist{
		allowedHosts: make(map[string]bool, len(hosts)),
		allowedPorts: make(map[uint16]bool, len(ports)),
	}
	for _, h := range hosts {
		a.allowedHosts[h] = true
	}
	for _, p := range ports {
		a.allowedPorts[p] = true
	}
	return a
}

// DefaultNetworkAllowlist returns an allowlist seeded with hosts that
// AI coding sessions routinely contact.
func DefaultNetworkAllowlist() *NetworkAllowlist {
	return NewNetworkAllowlist(DefaultAllowedHosts(), nil)
}

// AddHost adds an allowed host.
func (a *NetworkAllowlist) AddHost(host string) {
	a.allowedHosts[host] = true
}

// AddPort adds an allowed port.
func (a *NetworkAllowlist) AddPort(port uint16) {
	a.allowedPorts[port] = true
}

// IsHostAllowed reports whether host matches the allowlist exactly or
// as a subdomain of an allowed entry.
func (a *NetworkAllowlist) IsHostAllowed(host string) bool {
	if a.allowedHosts[host] {
		return true
	}
	for allowed := range a.allowedHosts {
		if strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// IsPortAllowed reports whether port is allowed. An empty port set
// means all ports are allowed.
func (a *NetworkAllowlist) IsPortAllowed(port uint16) bool {
	return len(a.allowedPorts) == 0 || a.allowedPorts[port]
}

// Hosts returns the allowed hosts in no particular order.
func (a *NetworkAllowlist) Hosts() []string {
	hosts := make([]string, 0, len(a.allowedHosts))
	for h := range a.allowedHosts {
		hosts = append(hosts, h)
	}
	return hosts
}

// RiskLevel scores a connection: High for unknown hosts, Medium for
// allowed ones. Every outbound connection carries at least Medium.
func (a *NetworkAllowlist) RiskLevel(conn Connection) event.RiskLevel {
	if a.IsHostAllowed(conn.Host) {
		return event.Medium
	}
	return event.High
}

// Reason explains the score for unknown destinations.
func (a *NetworkAllowlist) Reason(conn Connection) string {
	if a.IsHostAllowed(conn.Host) {
		return ""
	}
	return "Unknown network destination"
}

// DefaultAllowedHosts returns the built-in allowlist.
func DefaultAllowedHosts() []string {
	return []string{
		"api.anthropic.com",
		"github.com",
		"api.github.com",
		"raw.githubusercontent.com",
		"registry.npmjs.org",
		"pypi.org",
		"crates.io",
		"localhost",
		"127.0.0.1",
		"::1",
	}
}
