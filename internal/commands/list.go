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
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/baton/internal/cli/format"
	"github.com/tombee/baton/internal/store"
	"github.com/tombee/baton/pkg/client"
)

func newListCommand(opts *globalOptions) *cobra.Command {
	var (
		workflow string
		status   string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List executions",
		Example: `  baton list
  baton list --workflow orders --status failed
  baton list --limit 10 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().List(cmd.Context(), client.ListOptions{
				Workflow: workflow,
				Status:   status,
				Limit:    limit,
				Offset:   offset,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return format.PrintJSON(out, resp)
			}
			if len(resp.Executions) == 0 {
				if !opts.quiet {
					fmt.Fprintln(out, format.Muted.Render("no executions"))
				}
				return nil
			}

			color := format.IsTTY(os.Stdout)
			table := format.NewTable("ID", "WORKFLOW", "STATUS", "CREATED", "COMPLETED")
			for _, exec := range resp.Executions {
				table.AddRow(
					format.ShortID(exec.ID),
					fmt.Sprintf("%s v%d", exec.WorkflowName, exec.WorkflowVersion),
					format.Status(exec.Status, color),
					format.Timestamp(exec.CreatedAt),
					completedAt(exec),
				)
			}
			table.Render(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&workflow, "workflow", "", "filter by workflow name")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, running, completed, failed, cancelled, retry_scheduled)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum executions to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of executions to skip")

	return cmd
}

func completedAt(exec *store.Execution) string {
	if exec.CompletedAt == nil {
		return "-"
	}
	return format.Timestamp(*exec.CompletedAt)
}
