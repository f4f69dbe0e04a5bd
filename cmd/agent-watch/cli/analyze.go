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

package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ksyq12/agent-watch/internal/config"
	"github.com/ksyq12/agent-watch/internal/event"
	"github.com/ksyq12/agent-watch/internal/risk"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Faint(true)
	lowStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	highRiskText = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	critRiskText = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	medRiskText  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	var format string
	var noColor bool

	cmd := &cobra.Command{
		Use:   "analyze <command> [args...]",
		Short: "Score a command without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd.ErrOrStderr(), opts.verbose)

			cfg, err := loadConfig(opts)
			if err != nil {
				slog.Warn("cli: config load failed, using defaults", "error", err)
				cfg = config.Default()
			}

			scorer := risk.NewScorer()
			scorer.AddCustomHighRisk(cfg.Alerts.CustomHighRisk...)

			command, cmdArgs := args[0], args[1:]
			level, reason := scorer.Score(command, cmdArgs)

			switch format {
			case "json":
				return writeAnalysisJSON(cmd, command, cmdArgs, level, reason)
			case "compact":
				return writeAnalysisCompact(cmd, command, cmdArgs, level, reason)
			case "pretty", "":
				return writeAnalysisPretty(cmd, command, cmdArgs, level, reason, noColor)
			default:
				return fmt.Errorf("cli: unknown output format %q", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "pretty", "Output format: pretty, json or compact")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}

func fullCommand(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	return command + " " + strings.Join(args, " ")
}

func writeAnalysisPretty(cmd *cobra.Command, command string, args []string, level event.RiskLevel, reason string, noColor bool) error {
	out := cmd.OutOrStdout()

	title := "Risk Analysis"
	if !noColor {
		title = titleStyle.Render(title)
	}
	fmt.Fprintf(out, "\n%s\n%s\n\n", title, strings.Repeat("─", 50))

	levelText := level.Emoji() + " " + strings.ToUpper(level.String())
	if !noColor {
		switch level {
		case event.Critical:
			levelText = level.Emoji() + " " + critRiskText.Render(strings.ToUpper(level.String()))
		case event.High:
			levelText = level.Emoji() + " " + highRiskText.Render(strings.ToUpper(level.String()))
		case event.Medium:
			levelText = level.Emoji() + " " + medRiskText.Render(strings.ToUpper(level.String()))
		default:
			levelText = level.Emoji() + " " + lowStyle.Render(strings.ToUpper(level.String()))
		}
	}

	commandLabel, riskLabel, reasonLabel := "Command:", "Risk:   ", "Reason: "
	if !noColor {
		commandLabel = labelStyle.Render(commandLabel)
		riskLabel = labelStyle.Render(riskLabel)
		reasonLabel = labelStyle.Render(reasonLabel)
	}

	fmt.Fprintf(out, "  %s %s\n", commandLabel, fullCommand(command, args))
	fmt.Fprintf(out, "  %s %s\n", riskLabel, levelText)
	if reason != "" {
		fmt.Fprintf(out, "  %s %s\n", reasonLabel, reason)
	}
	fmt.Fprintln(out)

	if level >= event.High {
		warning := "⚠️  This command is considered dangerous"
		if !noColor {
			warning = warnStyle.Render(warning)
		}
		fmt.Fprintf(out, "  %s\n\n", warning)
	}
	return nil
}

func writeAnalysisJSON(cmd *cobra.Command, command string, args []string, level event.RiskLevel, reason string) error {
	result := map[string]any{
		"command":    command,
		"args":       args,
		"risk_level": level.String(),
		"reason":     reason,
		"alert":      level >= event.High,
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("cli: encode analysis: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func writeAnalysisCompact(cmd *cobra.Command, command string, args []string, level event.RiskLevel, reason string) error {
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s %s\n", strings.ToUpper(level.String()), fullCommand(command, args), reason)
	if err != nil {
		return fmt.Errorf("cli: write analysis output: %w", err)
	}
	return nil
}
