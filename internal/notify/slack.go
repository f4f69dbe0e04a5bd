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
	"time"

	"github.com/ksyq12/agent-watch/internal/event"
)

// SlackNotifier sends alerts to Slack using incoming webhooks with
// Block Kit formatting.
type SlackNotifier struct {
	url      string
	minLevel event.RiskLevel
	client   *http.Client
}

// NewSlackNotifier creates a new Slack notifier.
func NewSlackNotifier(url string, minLevel event.RiskLevel) *SlackNotifier {
	return &SlackNotifier{
		url:      url,
		minLevel: minLevel,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type slackPayload struct {
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string        `json:"color"`
	Blocks []interface{} `json:"blocks"`
}

type slackSection struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackContext struct {
	Type     string                `json:"type"`
	Elements []slackContextElement `json:"elements"`
}

type slackContextElement struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Send sends an alert to Slack using Block Kit format.
func (n *SlackNotifier) Send(e event.Event) error {
	if e.RiskLevel < n.minLevel {
		return nil
	}

	payload := slackPayload{
		Attachments: []slackAttachment{
			{
				Color: riskHexColor(e.RiskLevel),
				Blocks: []interface{}{
					slackSection{
						Type: "section",
						Text: &slackText{
							Type: "mrkdwn",
							Text: fmt.Sprintf("*%s Agent Watch: %s risk event*", e.RiskLevel.Emoji(), e.RiskLevel),
						},
					},
					slackSection{
						Type: "section",
						Fields: []slackText{
							{Type: "mrkdwn", Text: fmt.Sprintf("*Type:*\n%s", e.Type)},
							{Type: "mrkdwn", Text: fmt.Sprintf("*Detail:*\n%s", Summarize(e))},
							{Type: "mrkdwn", Text: fmt.Sprintf("*Process:*\n%s (pid %d)", e.Process, e.PID)},
						},
					},
					slackContext{
						Type: "context",
						Elements: []slackContextElement{
							{Type: "mrkdwn", Text: fmt.Sprintf("Event %s | %s", e.ID, e.Timestamp.Format(time.RFC3339))},
						},
					},
				},
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func riskHexColor(level event.RiskLevel) string {
	switch level {
	case event.Critical:
		return "#f85149"
	case event.High:
		return "#d29922"
	case event.Medium:
		return "#d4a72c"
	default:
		return "#3fb950"
	}
}
