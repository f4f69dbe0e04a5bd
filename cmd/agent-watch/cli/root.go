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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ksyq12/agent-watch/internal/config"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

// Execute runs the agent-watch CLI command tree.
func Execute() error {
	cmd := NewRootCmd(context.Background(), os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		var ec interface{ ExitCode() int }
		if !errors.As(err, &ec) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		return err
	}
	return nil
}

// ExitCode returns the process exit code implied by err.
// Non-nil errors default to exit code 1 unless they expose ExitCode().
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var ec interface{ ExitCode() int }
	if errors.As(err, &ec) {
		code := ec.ExitCode()
		if code > 0 {
			return code
		}
	}

	return 1
}

// NewRootCmd builds the agent-watch root command.
func NewRootCmd(ctx context.Context, outWriter, errWriter io.Writer) *cobra.Command {
	opts := &rootOptions{}
	var showVersion bool
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := &cobra.Command{
		Use:           "agent-watch",
		Short:         "Audit trail for AI coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				return writeVersion(cmd.OutOrStdout())
			}
			return cmd.Help()
		},
	}
	cmd.SetContext(ctx)
	cmd.SetOut(outWriter)
	cmd.SetErr(errWriter)

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (default: ~/.agent-watch/config.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&showVersion, "version", false, "Print version information and exit")

	const (
		groupRuntime  = "runtime"
		groupSessions = "sessions"
		groupSetup    = "setup"
	)
	cmd.AddGroup(
		&cobra.Group{ID: groupRuntime, Title: "Runtime"},
		&cobra.Group{ID: groupSessions, Title: "Sessions"},
		&cobra.Group{ID: groupSetup, Title: "Setup"},
	)

	runCmd := newRunCmd(opts)
	analyzeCmd := newAnalyzeCmd(opts)
	serveCmd := newServeCmd(opts)
	agentsCmd := newAgentsCmd(opts)
	sessionsCmd := newSessionsCmd(opts)
	cleanCmd := newCleanCmd(opts)
	initCmd := newInitCmd(opts)
	versionCmd := newVersionCmd()

	runCmd.GroupID = groupRuntime
	analyzeCmd.GroupID = groupRuntime
	serveCmd.GroupID = groupRuntime
	agentsCmd.GroupID = groupRuntime

	sessionsCmd.GroupID = groupSessions
	cleanCmd.GroupID = groupSessions

	initCmd.GroupID = groupSetup

	cmd.AddCommand(runCmd)
	cmd.AddCommand(analyzeCmd)
	cmd.AddCommand(serveCmd)
	cmd.AddCommand(agentsCmd)
	cmd.AddCommand(sessionsCmd)
	cmd.AddCommand(cleanCmd)
	cmd.AddCommand(initCmd)
	cmd.AddCommand(versionCmd)

	return cmd
}

// loadConfig reads the config named by --config, or the default path.
func loadConfig(opts *rootOptions) (config.Config, error) {
	if opts.configPath != "" {
		return config.LoadPath(opts.configPath)
	}
	return config.Load()
}

// setupLogging installs the process-wide slog handler. Internal
// packages log through slog.Default.
func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func (e exitCodeError) ExitCode() int {
	if e.code < 1 {
		return 1
	}
	return e.code
}
