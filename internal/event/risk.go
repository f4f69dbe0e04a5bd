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

package event

import (
	"encoding/json"
	"fmt"
)

// RiskLevel categorizes event severity. The zero value is Low.
type RiskLevel int

const (
	// Low covers safe operations (ls, cat, echo, cd).
	Low RiskLevel = iota
	// Medium covers network operations and package installs.
	Medium
	// High covers destructive or privilege operations (rm -rf, sudo, ssh).
	High
	// Critical covers extremely dangerous operations (rm -rf /, curl | bash).
	Critical
)

// String returns the lowercase wire name of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("risklevel(%d)", int(r))
	}
}

// Emoji returns the emoji representation of the risk level.
func (r RiskLevel) Emoji() string {
	switch r {
	case Medium:
		return "🟡"
	case High:
		return "🟠"
	case Critical:
		return "🔴"
	default:
		return "🟢"
	}
}

// TextLabel returns a plain-text alternative for terminals that do not
// render emojis.
func (r RiskLevel) TextLabel() string {
	switch r {
	case Medium:
		return "[MED]"
	case High:
		return "[HIGH]"
	case Critical:
		return "[CRIT]"
	default:
		return "[LOW]"
	}
}

// ParseRiskLevel converts a wire name to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch s {
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	case "critical":
		return Critical, nil
	default:
		return Low, fmt.Errorf("event: unknown risk level %q", s)
	}
}

// MarshalJSON encodes the risk level as its lowercase name.
func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes a lowercase risk level name.
func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("event: decode risk level: %w", err)
	}
	level, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = level
	return nil
}
