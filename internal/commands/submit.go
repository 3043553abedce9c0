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
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/baton/internal/cli/format"
	"github.com/tombee/baton/pkg/client"
)

func newSubmitCommand(opts *globalOptions) *cobra.Command {
	var (
		inputFile      string
		inputJSON      string
		version        int
		idempotencyKey string
		wait           bool
	)

	cmd := &cobra.Command{
		Use:   "submit WORKFLOW",
		Short: "Submit a workflow execution",
		Example: `  baton submit orders
  baton submit orders --input '{"order_id": "ord-1"}'
  baton submit orders -f input.json --idempotency-key ord-1 --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(inputFile, inputJSON)
			if err != nil {
				return err
			}

			c := opts.client()
			ctx := cmd.Context()
			resp, err := c.Submit(ctx, client.SubmitRequest{
				Workflow:       args[0],
				Version:        version,
				Input:          input,
				IdempotencyKey: idempotencyKey,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !wait {
				if opts.jsonOut {
					return format.PrintJSON(out, resp)
				}
				if !resp.Created && !opts.quiet {
					fmt.Fprintln(out, format.Muted.Render("existing execution (idempotency key match)"))
				}
				fmt.Fprintln(out, resp.ExecutionID)
				return nil
			}

			if !opts.quiet && !opts.jsonOut {
				fmt.Fprintf(out, "%s %s\n", format.Muted.Render("waiting for"), resp.ExecutionID)
			}
			detail, err := c.Wait(ctx, resp.ExecutionID, client.WaitOptions{})
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return format.PrintJSON(out, detail)
			}
			printExecutionDetail(out, detail, format.IsTTY(os.Stdout))
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputFile, "file", "f", "", "read input JSON from a file ('-' for stdin)")
	cmd.Flags().StringVar(&inputJSON, "input", "", "input as an inline JSON object")
	cmd.Flags().IntVar(&version, "version", 0, "workflow version (0 means latest)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "dedupe key; resubmitting returns the original execution")
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the execution reaches a terminal state")

	return cmd
}

// readInput parses the execution input from --file or --input.
func readInput(file, inline string) (map[string]any, error) {
	if file != "" && inline != "" {
		return nil, fmt.Errorf("--file and --input are mutually exclusive")
	}

	var raw []byte
	switch {
	case file == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		raw = data
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading input file: %w", err)
		}
		raw = data
	case inline != "":
		raw = []byte(inline)
	default:
		return nil, nil
	}

	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("input must be a JSON object: %w", err)
	}
	return input, nil
}
