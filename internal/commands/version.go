// Copyright 2025 Tom Barlow
//
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

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/baton/internal/cli/format"
)

func newVersionCommand(opts *globalOptions, build BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show client and daemon versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			daemon, err := opts.client().Version(cmd.Context())
			if opts.jsonOut {
				payload := map[string]any{
					"client": map[string]string{
						"version":    build.Version,
						"commit":     build.Commit,
						"build_date": build.BuildDate,
					},
				}
				if err == nil {
					payload["daemon"] = daemon
				}
				return format.PrintJSON(out, payload)
			}

			fmt.Fprintf(out, "baton %s (%s, %s)\n", build.Version, build.Commit, build.BuildDate)
			if err != nil {
				fmt.Fprintln(out, format.Muted.Render("daemon unreachable"))
				return nil
			}
			fmt.Fprintf(out, "batond %s", daemon.Version)
			if daemon.Commit != "" {
				fmt.Fprintf(out, " (%s, %s)", daemon.Commit, daemon.BuildDate)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}
