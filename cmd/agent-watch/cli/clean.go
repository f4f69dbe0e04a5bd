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

	"github.com/spf13/cobra"

	"github.com/ksyq12/agent-watch/internal/config"
	"github.com/ksyq12/agent-watch/internal/store"
)

func newCleanCmd(opts *rootOptions) *cobra.Command {
	var logDir string
	var days int

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete session logs past the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd.ErrOrStderr(), opts.verbose)

			cfg, err := loadConfig(opts)
			if err != nil {
				slog.Warn("cli: config load failed, using defaults", "error", err)
				cfg = config.Default()
			}

			retention := cfg.Logging.RetentionDays
			if cmd.Flags().Changed("days") {
				retention = days
			}
			if retention <= 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "Retention is disabled, nothing to clean")
				return err
			}

			dir := logDir
			if dir == "" {
				dir, err = cfg.Logging.EffectiveLogDir()
				if err != nil {
					return err
				}
			}

			removed, err := store.Cleanup(dir, retention)
			if err != nil {
				return err
			}

			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Removed %d session files older than %d days from %s\n", removed, retention, dir); err != nil {
				return fmt.Errorf("cli: write clean output: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logDir, "log-dir", "", "Directory containing session logs")
	cmd.Flags().IntVar(&days, "days", 0, "Retention window in days (overrides config)")

	return cmd
}
