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

package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ksyq12/agent-watch/internal/event"
)

// TeamsNotifier sends alerts to Microsoft Teams using Office 365
// connector cards.
type TeamsNotifier struct {
	url      string
	minLevel event.RiskLevel
	client   *http.Client
}

// NewTeamsNotifier creates a new Teams notifier.
func NewTeamsNotifier(url string, minLevel event.RiskLevel) *TeamsNotifier {
	return &TeamsNotifier{
		url:      url,
		minLevel: minLevel,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type teamsMessageCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor"`
	Summary    string         `json:"summary"`
	Sections   []teamsSection `json:"sections"`
}

type teamsSection struct {
	ActivityTitle string      `json:"activityTitle"`
	Facts         []teamsFact `json:"facts"`
	Markdown      bool        `json:"markdown"`
}

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Send sends an alert to Teams using MessageCard format.
func (n *TeamsNotifier) Send(e event.Event) error {
	if e.RiskLevel < n.minLevel {
		return nil
	}

	card := teamsMessageCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: strings.TrimPrefix(riskHexColor(e.RiskLevel), "#"),
		Summary:    fmt.Sprintf("Agent Watch: %s risk event", e.RiskLevel),
		Sections: []teamsSection{
			{
				ActivityTitle: fmt.Sprintf("%s Agent Watch: %s risk event", e.RiskLevel.Emoji(), e.RiskLevel),
				Markdown:      true,
				Facts: []teamsFact{
					{Name: "Type", Value: string(e.Type)},
					{Name: "Detail", Value: Summarize(e)},
					{Name: "Process", Value: fmt.Sprintf("%s (pid %d)", e.Process, e.PID)},
					{Name: "Time", Value: e.Timestamp.Format(time.RFC3339)},
				},
			},
		},
	}

	data, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal teams payload: %w", err)
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("post teams webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("teams webhook returned status %d", resp.StatusCode)
	}

	return nil
}
