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

	"github.com/spf13/cobra"

	"github.com/ksyq12/agent-watch/internal/detect"
	"github.com/ksyq12/agent-watch/internal/procfs"
)

func newAgentsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List running AI agent processes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd.ErrOrStderr(), opts.verbose)

			inspector, err := procfs.New()
			if err != nil {
				return err
			}

			agents, err := detect.NewAgentScanner(inspector).Scan()
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No AI agents detected")
				return err
			}

			for _, a := range agents {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%d  %s  %s\n", a.PID, a.Name, a.Path); err != nil {
					return fmt.Errorf("cli: write agents output: %w", err)
				}
			}
			return nil
		},
	}

	return cmd
}
