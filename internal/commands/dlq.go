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

func newDLQCommand(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "List dead letter queue entries",
		Long: `Executions that exhaust their retries are moved to the dead letter
queue with the reason and final payload preserved for inspection.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().DLQ(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return format.PrintJSON(out, resp)
			}
			if len(resp.Entries) == 0 {
				if !opts.quiet {
					fmt.Fprintln(out, format.Muted.Render("dead letter queue is empty"))
				}
				return nil
			}

			table := format.NewTable("EXECUTION", "WORKFLOW", "REASON", "FAILED")
			for _, entry := range resp.Entries {
				table.AddRow(
					format.ShortID(entry.ExecutionID),
					entry.WorkflowName,
					format.Truncate(entry.Reason, 60),
					format.Timestamp(entry.FailedAt),
				)
			}
			table.Render(out)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to return")

	return cmd
}
