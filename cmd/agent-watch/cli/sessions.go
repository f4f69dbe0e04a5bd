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
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ksyq12/agent-watch/internal/config"
	"github.com/ksyq12/agent-watch/internal/event"
	"github.com/ksyq12/agent-watch/internal/store"
)

func newSessionsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect recorded sessions",
	}

	cmd.AddCommand(newSessionsListCmd(opts))
	cmd.AddCommand(newSessionsShowCmd(opts))
	cmd.AddCommand(newSessionsSearchCmd(opts))
	cmd.AddCommand(newSessionsSummaryCmd(opts))
	cmd.AddCommand(newSessionsChartCmd(opts))

	return cmd
}

// resolveLogDir picks the session directory from the flag, the config
// or the default, in that order.
func resolveLogDir(opts *rootOptions, flagDir string) (string, error) {
	if flagDir != "" {
		return flagDir, nil
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		slog.Warn("cli: config load failed, using defaults", "error", err)
		cfg = config.Default()
	}
	return cfg.Logging.EffectiveLogDir()
}

// loadSession reads the events of the named session. The id "latest"
// selects the newest session.
func loadSession(dir, id string) (store.SessionInfo, []event.Event, error) {
	sessions, err := store.ListSessions(dir)
	if err != nil {
		return store.SessionInfo{}, nil, err
	}
	if len(sessions) == 0 {
		return store.SessionInfo{}, nil, fmt.Errorf("cli: no sessions recorded in %s", dir)
	}

	var info store.SessionInfo
	if id == "latest" {
		info = sessions[0]
	} else {
		found := false
		for _, s := range sessions {
			if s.SessionID == id {
				info = s
				found = true
				break
			}
		}
		if !found {
			return store.SessionInfo{}, nil, fmt.Errorf("cli: unknown session %q in %s", id, dir)
		}
	}

	events, err := store.ReadEvents(info.Path)
	if err != nil {
		return store.SessionInfo{}, nil, err
	}
	return info, events, nil
}

func newSessionsListCmd(opts *rootOptions) *cobra.Command {
	var logDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := resolveLogDir(opts, logDir)
			if err != nil {
				return err
			}

			sessions, err := store.ListSessions(dir)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "No sessions recorded in %s\n", dir)
				return err
			}

			for _, s := range sessions {
				count, err := store.CountEvents(s.Path)
				if err != nil {
					slog.Warn("cli: count session events", "path", s.Path, "error", err)
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d events\n", s.SessionID, s.StartTime.Format(time.RFC3339), count); err != nil {
					return fmt.Errorf("cli: write session list: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logDir, "log-dir", "", "Directory containing session logs")
	return cmd
}

func newSessionsShowCmd(opts *rootOptions) *cobra.Command {
	var (
		logDir       string
		format       string
		minLevel     string
		noColor      bool
		noTimestamps bool
		offset       int
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the events of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveLogDir(opts, logDir)
			if err != nil {
				return err
			}

			_, events, err := loadSession(dir, args[0])
			if err != nil {
				return err
			}

			formatter, err := buildFormatter(config.Default(), format, minLevel, noColor, noTimestamps)
			if err != nil {
				return err
			}

			for _, e := range store.Paginate(events, offset, limit) {
				if err := formatter.Log(cmd.OutOrStdout(), e); err != nil {
					return fmt.Errorf("cli: write session events: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logDir, "log-dir", "", "Directory containing session logs")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: pretty, json or compact")
	cmd.Flags().StringVarP(&minLevel, "min-level", "l", "", "Minimum risk level to display")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&noTimestamps, "no-timestamps", false, "Hide timestamps")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many events")
	cmd.Flags().IntVar(&limit, "limit", 0, "Print at most this many events (0 = all)")

	return cmd
}

func newSessionsSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		logDir    string
		eventType string
		riskLevel string
		startMS   int64
		endMS     int64
		noColor   bool
	)

	cmd := &cobra.Command{
		Use:   "search <session-id> [query]",
		Short: "Search the events of a session",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveLogDir(opts, logDir)
			if err != nil {
				return err
			}

			_, events, err := loadSession(dir, args[0])
			if err != nil {
				return err
			}

			f := store.Filter{Type: event.Type(eventType)}
			if len(args) == 2 {
				f.Query = args[1]
			}
			if riskLevel != "" {
				level, err := event.ParseRiskLevel(riskLevel)
				if err != nil {
					return err
				}
				f.Risk = &level
			}
			if cmd.Flags().Changed("start-ms") {
				f.StartMS = &startMS
			}
			if cmd.Flags().Changed("end-ms") {
				f.EndMS = &endMS
			}

			formatter, err := buildFormatter(config.Default(), "compact", "", noColor, false)
			if err != nil {
				return err
			}

			matches := store.Search(events, f)
			for _, e := range matches {
				if err := formatter.Log(cmd.OutOrStdout(), e); err != nil {
					return fmt.Errorf("cli: write search output: %w", err)
				}
			}
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Found %d matching events\n", len(matches)); err != nil {
				return fmt.Errorf("cli: write search count: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logDir, "log-dir", "", "Directory containing session logs")
	cmd.Flags().StringVar(&eventType, "type", "", "Filter by event type (command, file_access, network, process, session)")
	cmd.Flags().StringVar(&riskLevel, "risk", "", "Filter by exact risk level")
	cmd.Flags().Int64Var(&startMS, "start-ms", 0, "Only events at or after this Unix millisecond timestamp")
	cmd.Flags().Int64Var(&endMS, "end-ms", 0, "Only events at or before this Unix millisecond timestamp")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}

func newSessionsSummaryCmd(opts *rootOptions) *cobra.Command {
	var logDir string

	cmd := &cobra.Command{
		Use:   "summary <session-id>",
		Short: "Show per-severity event counts for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveLogDir(opts, logDir)
			if err != nil {
				return err
			}

			info, events, err := loadSession(dir, args[0])
			if err != nil {
				return err
			}

			s := store.Summarize(events)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session:  %s\n", info.SessionID)
			fmt.Fprintf(out, "Started:  %s\n", info.StartTime.Format(time.RFC3339))
			fmt.Fprintf(out, "Events:   %d\n", s.Total)
			fmt.Fprintf(out, "Critical: %d\n", s.Critical)
			fmt.Fprintf(out, "High:     %d\n", s.High)
			fmt.Fprintf(out, "Medium:   %d\n", s.Medium)
			fmt.Fprintf(out, "Low:      %d\n", s.Low)
			return nil
		},
	}

	cmd.Flags().StringVar(&logDir, "log-dir", "", "Directory containing session logs")
	return cmd
}

func newSessionsChartCmd(opts *rootOptions) *cobra.Command {
	var logDir string
	var bucket int

	cmd := &cobra.Command{
		Use:   "chart <session-id>",
		Short: "Show event counts bucketed over time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if bucket < 0 {
				return fmt.Errorf("cli: --bucket must be >= 0")
			}

			dir, err := resolveLogDir(opts, logDir)
			if err != nil {
				return err
			}

			_, events, err := loadSession(dir, args[0])
			if err != nil {
				return err
			}

			points := store.Chart(events, bucket)
			out := cmd.OutOrStdout()
			for _, p := range points {
				ts := time.UnixMilli(p.TimestampMS).Local().Format("15:04")
				line := ts + "  " +
					"crit:" + strconv.Itoa(p.Critical) + " " +
					"high:" + strconv.Itoa(p.High) + " " +
					"med:" + strconv.Itoa(p.Medium) + " " +
					"low:" + strconv.Itoa(p.Low) + " " +
					"total:" + strconv.Itoa(p.Total)
				if _, err := fmt.Fprintln(out, line); err != nil {
					return fmt.Errorf("cli: write chart output: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logDir, "log-dir", "", "Directory containing session logs")
	cmd.Flags().IntVar(&bucket, "bucket", 0, "Bucket width in minutes (0 = default)")

	return cmd
}
