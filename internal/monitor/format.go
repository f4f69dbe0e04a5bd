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

package monitor

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ksyq12/agent-watch/internal/event"
)

// Format selects the console rendering of events.
type Format string

const (
	// FormatPretty is the human-readable terminal format.
	FormatPretty Format = "pretty"
	// FormatJSON emits one JSON object per line.
	FormatJSON Format = "json"
	// FormatCompact is a dense single-line format.
	FormatCompact Format = "compact"
)

// ParseFormat converts a config string to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "pretty", "":
		return FormatPretty, nil
	case "json":
		return FormatJSON, nil
	case "compact":
		return FormatCompact, nil
	default:
		return FormatPretty, fmt.Errorf("monitor: unknown output format %q", s)
	}
}

var (
	dimStyle     = lipgloss.NewStyle().Faint(true)
	critStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	highStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	medStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	fileStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	netStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	sessionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	alertStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// Formatter renders events for the console.
type Formatter struct {
	// Format selects the rendering.
	Format Format
	// MinLevel drops events below this risk level.
	MinLevel event.RiskLevel
	// Timestamps includes the event time in pretty output.
	Timestamps bool
	// Colors enables ANSI styling in pretty output.
	Colors bool
}

// NewFormatter returns a formatter with timestamps enabled.
func NewFormatter(format Format) *Formatter {
	return &Formatter{
		Format:     format,
		MinLevel:   event.Low,
		Timestamps: true,
	}
}

// Render formats a single event as one line without the trailing
// newline.
func (f *Formatter) Render(e event.Event) string {
	switch f.Format {
	case FormatJSON:
		return f.renderJSON(e)
	case FormatCompact:
		return f.renderCompact(e)
	default:
		return f.renderPretty(e)
	}
}

// Log writes the rendered event to w. Events below MinLevel are
// silently dropped.
func (f *Formatter) Log(w io.Writer, e event.Event) error {
	if e.RiskLevel < f.MinLevel {
		return nil
	}
	_, err := fmt.Fprintln(w, f.Render(e))
	return err
}

func (f *Formatter) renderPretty(e event.Event) string {
	var parts []string

	if f.Timestamps {
		ts := e.Timestamp.Local().Format("15:04:05")
		if f.Colors {
			ts = dimStyle.Render(ts)
		}
		parts = append(parts, ts)
	}

	parts = append(parts, e.RiskLevel.Emoji(), f.prettyDetails(e))

	if e.Alert {
		alert := "⚠️  ALERT"
		if f.Colors {
			alert = alertStyle.Render(alert)
		}
		parts = append(parts, alert)
	}

	return strings.Join(parts, "  ")
}

func (f *Formatter) prettyDetails(e event.Event) string {
	switch e.Type {
	case event.TypeCommand:
		cmd := e.Command
		if len(e.Args) > 0 {
			cmd = e.Command + " " + strings.Join(e.Args, " ")
		}
		var exit string
		if e.ExitCode != nil {
			exit = fmt.Sprintf(" (exit: %d)", *e.ExitCode)
		}
		if f.Colors {
			switch e.RiskLevel {
			case event.Critical:
				cmd = critStyle.Render(cmd)
			case event.High:
				cmd = highStyle.Render(cmd)
			case event.Medium:
				cmd = medStyle.Render(cmd)
			}
		}
		return cmd + exit
	case event.TypeFileAccess:
		msg := fmt.Sprintf("[%s] %s", e.FileAction, e.Path)
		if f.Colors && e.RiskLevel >= event.High {
			msg = fileStyle.Render(msg)
		}
		return msg
	case event.TypeNetwork:
		msg := fmt.Sprintf("[net] %s:%d (%s)", e.Host, e.Port, e.Protocol)
		if f.Colors {
			msg = netStyle.Render(msg)
		}
		return msg
	case event.TypeProcess:
		msg := fmt.Sprintf("[proc] %s pid:%d", e.ProcAction, e.ProcPID)
		if e.ProcPPID != nil {
			msg += fmt.Sprintf(" ppid:%d", *e.ProcPPID)
		}
		return msg
	case event.TypeSession:
		msg := fmt.Sprintf("[session] %s", e.SessionAction)
		if f.Colors {
			msg = sessionStyle.Render(msg)
		}
		return msg
	default:
		return string(e.Type)
	}
}

func (f *Formatter) renderJSON(e event.Event) string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

func (f *Formatter) renderCompact(e event.Event) string {
	var level string
	switch e.RiskLevel {
	case event.Critical:
		level = "CRIT"
	case event.High:
		level = "HIGH"
	case event.Medium:
		level = "MED "
	default:
		level = "LOW "
	}

	var details string
	switch e.Type {
	case event.TypeCommand:
		details = e.Command
		if len(e.Args) > 0 {
			details = e.Command + " " + strings.Join(e.Args, " ")
		}
	case event.TypeFileAccess:
		details = fmt.Sprintf("%s:%s", e.FileAction, e.Path)
	case event.TypeNetwork:
		details = fmt.Sprintf("net:%s:%d", e.Host, e.Port)
	case event.TypeProcess:
		details = fmt.Sprintf("proc:%s:%d", e.ProcAction, e.ProcPID)
	case event.TypeSession:
		details = fmt.Sprintf("session:%s", e.SessionAction)
	}

	return fmt.Sprintf("%s [%s] %s", e.Timestamp.Local().Format("15:04:05"), level, details)
}
