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

// Package notify sends webhook notifications for high-risk events.
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

// Alert is the webhook payload for a single event.
type Alert struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"` // ISO 8601
	EventType string `json:"event_type"`
	RiskLevel string `json:"risk_level"`
	Summary   string `json:"summary"` // human-readable one-liner
	Process   string `json:"process"`
	PID       uint32 `json:"pid"`
}

// Notifier delivers alerts.
type Notifier interface {
	Send(e event.Event) error
}

// Webhook POSTs each alert as JSON to a configured URL.
type Webhook struct {
	url      string
	minLevel event.RiskLevel
	client   *http.Client
}

// NewWebhook creates a webhook notifier. Events below minLevel are
// silently dropped.
func NewWebhook(url string, minLevel event.RiskLevel) *Webhook {
	return &Webhook{
		url:      url,
		minLevel: minLevel,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Send posts the event as JSON to the webhook URL.
func (w *Webhook) Send(e event.Event) error {
	if e.RiskLevel < w.minLevel {
		return nil
	}

	data, err := json.Marshal(alertFor(e))
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	resp, err := w.client.Post(w.url, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func alertFor(e event.Event) Alert {
	return Alert{
		ID:        e.ID,
		Timestamp: e.Timestamp.Format(time.RFC3339),
		EventType: string(e.Type),
		RiskLevel: e.RiskLevel.String(),
		Summary:   Summarize(e),
		Process:   e.Process,
		PID:       e.PID,
	}
}

// Summarize renders a one-line description of the event.
func Summarize(e event.Event) string {
	switch e.Type {
	case event.TypeCommand:
		if len(e.Args) > 0 {
			return e.Command + " " + strings.Join(e.Args, " ")
		}
		return e.Command
	case event.TypeFileAccess:
		return fmt.Sprintf("%s %s", e.FileAction, e.Path)
	case event.TypeNetwork:
		return fmt.Sprintf("%s %s:%d", e.Protocol, e.Host, e.Port)
	case event.TypeProcess:
		return fmt.Sprintf("%s %s (pid %d)", e.ProcAction, e.Process, e.ProcPID)
	case event.TypeSession:
		return fmt.Sprintf("session %s", e.SessionAction)
	default:
		return string(e.Type)
	}
}
