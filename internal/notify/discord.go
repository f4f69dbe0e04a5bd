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

// DiscordNotifier sends alerts to Discord using webhook embeds.
type DiscordNotifier struct {
	url      string
	minLevel event.RiskLevel
	client   *http.Client
}

// NewDiscordNotifier creates a new Discord notifier.
func NewDiscordNotifier(url string, minLevel event.RiskLevel) *DiscordNotifier {
	return &DiscordNotifier{
		url:      url,
		minLevel: minLevel,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields"`
	Timestamp string         `json:"timestamp"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Send sends an alert to Discord using embeds format.
func (n *DiscordNotifier) Send(e event.Event) error {
	if e.RiskLevel < n.minLevel {
		return nil
	}

	color := 0x3fb950
	switch e.RiskLevel {
	case event.Critical:
		color = 0xf85149
	case event.High:
		color = 0xd29922
	case event.Medium:
		color = 0xd4a72c
	}

	embed := discordEmbed{
		Title:     fmt.Sprintf("Agent Watch: %s risk event", e.RiskLevel),
		Color:     color,
		Timestamp: e.Timestamp.Format(time.RFC3339),
		Fields: []discordField{
			{Name: "Type", Value: string(e.Type), Inline: true},
			{Name: "Process", Value: fmt.Sprintf("%s (pid %d)", e.Process, e.PID), Inline: true},
			{Name: "Detail", Value: Summarize(e), Inline: false},
		},
	}

	payload := discordPayload{
		Embeds: []discordEmbed{embed},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("post discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}

	return nil
}
