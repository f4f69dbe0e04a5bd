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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ksyq12/agent-watch/internal/config"
	"github.com/ksyq12/agent-watch/internal/daemon"
	"github.com/ksyq12/agent-watch/internal/monitor"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr   string
		token  string
		logDir string
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local monitoring daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd.ErrOrStderr(), opts.verbose)

			cfg, err := loadConfig(opts)
			if err != nil {
				slog.Warn("cli: config load failed, using defaults", "error", err)
				cfg = config.Default()
			}
			if cfg.General.Verbose && !opts.verbose {
				setupLogging(cmd.ErrOrStderr(), true)
			}

			dir := logDir
			if dir == "" {
				dir, err = cfg.Logging.EffectiveLogDir()
				if err != nil {
					return err
				}
			}

			engine := monitor.New(monitor.Options{
				Config:  cfg,
				Console: cmd.OutOrStdout(),
				LogDir:  dir,
				DBPath:  dbPath,
			})

			d, err := daemon.New(daemon.Config{
				Addr:   addr,
				Token:  token,
				LogDir: dir,
				Engine: engine,
				Logger: slog.Default(),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "agent-watch daemon listening on %s\n", d.Addr()); err != nil {
				return fmt.Errorf("cli: write serve output: %w", err)
			}
			return d.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", daemon.DefaultAddr, "Listen address for the daemon API")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token required on every API request")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "Directory for session logs")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "SQLite mirror path")

	return cmd
}
