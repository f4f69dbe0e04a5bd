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
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ksyq12/agent-watch/internal/config"
	"github.com/ksyq12/agent-watch/internal/event"
	"github.com/ksyq12/agent-watch/internal/monitor"
	"github.com/ksyq12/agent-watch/internal/store"
	"github.com/ksyq12/agent-watch/internal/wrapper"
)

var (
	bannerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	footerStyle = lipgloss.NewStyle().Faint(true)
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		format         string
		minLevel       string
		noColor        bool
		noTimestamps   bool
		headless       bool
		noTrack        bool
		trackingPollMS int
		enableFSWatch  bool
		enableNetMon   bool
		logDir         string
		watchPaths     []string
	)

	cmd := &cobra.Command{
		Use:   "run -- <command> [args...]",
		Short: "Run an AI agent under monitoring",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("cli: command is required (use: agent-watch run -- <command> [args...])")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd.ErrOrStderr(), opts.verbose)

			cfg, err := loadConfig(opts)
			if err != nil {
				slog.Warn("cli: config load failed, using defaults", "error", err)
				cfg = config.Default()
			}
			if cfg.General.Verbose && !opts.verbose {
				setupLogging(cmd.ErrOrStderr(), true)
			}

			if cmd.Flags().Changed("no-track-children") {
				cfg.Monitoring.TrackChildren = !noTrack
			}
			if trackingPollMS > 0 {
				cfg.Monitoring.TrackingPollMS = trackingPollMS
			}
			if enableFSWatch {
				cfg.Monitoring.FSEnabled = true
			}
			if enableNetMon {
				cfg.Monitoring.NetEnabled = true
			}
			if len(watchPaths) > 0 {
				cfg.Monitoring.WatchPaths = watchPaths
			}

			formatter, err := buildFormatter(cfg, format, minLevel, noColor, noTimestamps)
			if err != nil {
				return err
			}

			engine := monitor.New(monitor.Options{
				Config:    cfg,
				Formatter: formatter,
				Console:   cmd.OutOrStdout(),
				LogDir:    logDir,
			})

			name := filepath.Base(args[0])
			banner := "◉ agent-watch recording"
			if !noColor {
				banner = bannerStyle.Render(banner)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n\n", banner)

			runCtx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			events := make(chan event.Event, 64)
			bridgeDone := make(chan struct{})
			go func() {
				defer close(bridgeDone)
				for {
					select {
					case ev := <-events:
						if err := engine.Submit(ev); err != nil {
							slog.Debug("cli: drop event", "error", err)
						}
					case <-runCtx.Done():
						// Forward whatever the wrapper already queued.
						for {
							select {
							case ev := <-events:
								if err := engine.Submit(ev); err != nil {
									slog.Debug("cli: drop event", "error", err)
								}
							default:
								return
							}
						}
					}
				}
			}()

			w := wrapper.New(wrapper.Config{
				Command: args[0],
				Args:    args[1:],
				Stdout:  cmd.OutOrStdout(),
			}, engine.Scorer())

			var exitCode int
			if headless {
				exitCode, err = runHeadless(runCtx, engine, w, name, events)
			} else {
				exitCode, err = runPTY(runCtx, engine, w, name, events, cmd)
			}
			cancel()
			<-bridgeDone

			if stopErr := engine.StopSession(exitCode); stopErr != nil {
				slog.Warn("cli: stop session", "error", stopErr)
			}

			cleanupSessions(cfg, logDir)

			footer := fmt.Sprintf("session ended (exit code %d)", exitCode)
			if !noColor {
				footer = footerStyle.Render(footer)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", footer)

			if err != nil {
				return err
			}
			if exitCode != 0 {
				return exitCodeError{code: exitCode}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: pretty, json or compact")
	cmd.Flags().StringVarP(&minLevel, "min-level", "l", "", "Minimum risk level to display: low, medium, high or critical")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&noTimestamps, "no-timestamps", false, "Hide timestamps")
	cmd.Flags().BoolVar(&headless, "headless", false, "Run without a PTY (for server use)")
	cmd.Flags().BoolVar(&noTrack, "no-track-children", false, "Disable child process tracking")
	cmd.Flags().IntVar(&trackingPollMS, "tracking-poll-ms", 0, "Child tracking poll interval in milliseconds")
	cmd.Flags().BoolVar(&enableFSWatch, "fswatch", false, "Enable file system monitoring")
	cmd.Flags().BoolVar(&enableNetMon, "netmon", false, "Enable network monitoring")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "Directory for session logs")
	cmd.Flags().StringSliceVarP(&watchPaths, "watch", "w", nil, "Directory to watch for file changes (repeatable)")

	return cmd
}

// runPTY wraps the agent in a pseudo-terminal. On PTY failure it falls
// back to plain exec so the agent still runs.
func runPTY(ctx context.Context, engine *monitor.Engine, w *wrapper.Wrapper, name string, events chan event.Event, cmd *cobra.Command) (int, error) {
	sess, err := w.Start(ctx, events)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "agent-watch: pty unavailable (%v), falling back to plain exec\n", err)
		return runHeadless(ctx, engine, w, name, events)
	}

	if _, err := engine.WrapSession(name, sess.PID()); err != nil {
		_ = sess.Kill()
		return -1, fmt.Errorf("cli: start session: %w", err)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGWINCH)

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for sig := range sigCh {
			if sig == syscall.SIGWINCH {
				_ = sess.InheritSize()
				continue
			}
			_ = sess.Signal(sig)
		}
	}()
	// Pick up the initial terminal size.
	_ = sess.InheritSize()

	exitCode, waitErr := sess.Wait()
	signal.Stop(sigCh)
	close(sigCh)
	<-forwardDone

	if waitErr != nil {
		return -1, fmt.Errorf("cli: wait for agent: %w", waitErr)
	}
	return exitCode, nil
}

func runHeadless(ctx context.Context, engine *monitor.Engine, w *wrapper.Wrapper, name string, events chan event.Event) (int, error) {
	if _, err := engine.WrapSession(name, uint32(os.Getpid())); err != nil {
		return -1, fmt.Errorf("cli: start session: %w", err)
	}

	exitCode, err := w.RunSimple(ctx, events)
	if err != nil {
		return -1, fmt.Errorf("cli: run agent: %w", err)
	}
	return exitCode, nil
}

// buildFormatter merges config defaults with CLI output flags.
func buildFormatter(cfg config.Config, format, minLevel string, noColor, noTimestamps bool) (*monitor.Formatter, error) {
	if format == "" {
		format = cfg.General.DefaultFormat
	}
	f, err := monitor.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	formatter := monitor.NewFormatter(f)
	formatter.Colors = !noColor
	formatter.Timestamps = !noTimestamps
	if minLevel != "" {
		level, err := event.ParseRiskLevel(minLevel)
		if err != nil {
			return nil, err
		}
		formatter.MinLevel = level
	}
	return formatter, nil
}

// cleanupSessions applies the retention policy after a session ends.
func cleanupSessions(cfg config.Config, logDir string) {
	dir := logDir
	if dir == "" {
		d, err := cfg.Logging.EffectiveLogDir()
		if err != nil {
			slog.Warn("cli: resolve log dir for cleanup", "error", err)
			return
		}
		dir = d
	}
	removed, err := store.Cleanup(dir, cfg.Logging.RetentionDays)
	if err != nil {
		slog.Warn("cli: session cleanup", "error", err)
		return
	}
	if removed > 0 {
		slog.Debug("cli: removed expired sessions", "count", removed)
	}
}
