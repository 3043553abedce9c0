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

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/tombee/baton/internal/cli/format"
)

func newCancelCommand(opts *globalOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "cancel EXECUTION_ID",
		Short: "Cancel an execution",
		Long: `Cancel requests cooperative cancellation. A pending or retry_scheduled
execution is cancelled immediately; a running execution stops at its
next step boundary. Completed steps are never rolled back.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			if !yes && format.IsTTY(os.Stdin) {
				confirmed := false
				prompt := &survey.Confirm{
					Message: fmt.Sprintf("Cancel execution %s?", format.ShortID(id)),
				}
				if err := survey.AskOne(prompt, &confirmed); err != nil {
					return err
				}
				if !confirmed {
					return nil
				}
			}

			exec, err := opts.client().Cancel(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return format.PrintJSON(out, exec)
			}
			if !opts.quiet {
				fmt.Fprintf(out, "%s %s\n", exec.ID, format.Status(exec.Status, format.IsTTY(os.Stdout)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}
