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
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/baton/internal/cli/format"
	"github.com/tombee/baton/pkg/client"
)

func newGetCommand(opts *globalOptions) *cobra.Command {
	var withLogs bool

	cmd := &cobra.Command{
		Use:   "get EXECUTION_ID",
		Short: "Show an execution and its step results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detail, err := opts.client().Get(cmd.Context(), args[0], withLogs)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return format.PrintJSON(out, detail)
			}
			printExecutionDetail(out, detail, format.IsTTY(os.Stdout))
			return nil
		},
	}

	cmd.Flags().BoolVar(&withLogs, "logs", false, "include step log entries")

	return cmd
}

func printExecutionDetail(w io.Writer, detail *client.ExecutionDetail, color bool) {
	exec := detail.Execution
	fmt.Fprintf(w, "%s  %s\n", format.Bold.Render(exec.ID), format.Status(exec.Status, color))
	fmt.Fprintf(w, "workflow:  %s v%d\n", exec.WorkflowName, exec.WorkflowVersion)
	fmt.Fprintf(w, "created:   %s\n", format.Timestamp(exec.CreatedAt))
	if exec.StartedAt != nil {
		fmt.Fprintf(w, "started:   %s\n", format.Timestamp(*exec.StartedAt))
	}
	if exec.CompletedAt != nil {
		fmt.Fprintf(w, "completed: %s\n", format.Timestamp(*exec.CompletedAt))
	}
	if exec.Error != "" {
		fmt.Fprintf(w, "error:     %s\n", exec.Error)
	}

	if len(detail.StepResults) > 0 {
		fmt.Fprintln(w)
		table := format.NewTable("STEP", "STATUS", "ATTEMPT", "DURATION", "ERROR")
		for _, sr := range detail.StepResults {
			table.AddRow(
				sr.StepID,
				format.Status(sr.Status, color),
				fmt.Sprintf("%d", sr.Attempt),
				fmt.Sprintf("%dms", sr.DurationMs),
				format.Truncate(sr.Error, 60),
			)
		}
		table.Render(w)
	}

	if len(detail.Logs) > 0 {
		fmt.Fprintln(w)
		for _, entry := range detail.Logs {
			fmt.Fprintf(w, "%s [%s] %s: %s\n",
				format.Timestamp(entry.Timestamp), entry.Level, entry.StepID, entry.Message)
		}
	}
}
