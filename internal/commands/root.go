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

// Package commands implements the baton CLI.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/baton/pkg/client"
)

// BuildInfo carries version metadata from main.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	server  string
	apiKey  string
	jsonOut bool
	quiet   bool
}

// client builds an API client from the resolved flags.
func (g *globalOptions) client() *client.Client {
	var opts []client.Option
	if g.apiKey != "" {
		opts = append(opts, client.WithAPIKey(g.apiKey))
	}
	return client.New(g.server, opts...)
}

// NewRootCommand creates the root baton command.
func NewRootCommand(build BuildInfo) *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "baton",
		Short: "Baton - durable workflow execution",
		Long: `Baton submits and inspects durable workflow executions.

Executions survive daemon restarts: progress is checkpointed after every
step, failed steps retry with backoff, and exhausted retries land in a
dead letter queue for inspection.

Run 'baton init' to write a starter configuration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("BATON_SERVER", client.DefaultBaseURL), "daemon base URL")
	flags.StringVar(&opts.apiKey, "api-key", os.Getenv("BATON_API_KEY"), "API key for daemon auth")
	flags.BoolVar(&opts.jsonOut, "json", false, "output JSON instead of tables")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress non-essential output")

	cmd.AddCommand(
		newSubmitCommand(opts),
		newGetCommand(opts),
		newListCommand(opts),
		newCancelCommand(opts),
		newDLQCommand(opts),
		newVersionCommand(opts, build),
		newInitCommand(),
	)

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
