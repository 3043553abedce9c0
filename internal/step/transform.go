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

package step

import (
	"context"
	"fmt"

	"github.com/tombee/baton/internal/jq"
	"github.com/tombee/baton/internal/store"
	"github.com/tombee/baton/pkg/workflow"
)

// transformHandler reshapes execution state. The mapping form copies dotted
// paths out of state into a new object; the query form runs a jq program
// over the whole state.
type transformHandler struct {
	jq *jq.Executor
}

func newTransformHandler() *transformHandler {
	return &transformHandler{jq: jq.NewExecutor(0, 0)}
}

func (h *transformHandler) Type() string { return "transform" }

func (h *transformHandler) Execute(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
	var output map[string]any

	if query, ok := step.Config["query"].(string); ok && query != "" {
		out, err := h.jq.Execute(ctx, query, ec.State)
		if err != nil {
			return nil, fmt.Errorf("transform query: %w", err)
		}
		if m, ok := out.(map[string]any); ok {
			output = m
		} else {
			output = map[string]any{"result": out}
		}
	} else {
		mapping, ok := step.Config["mapping"].(map[string]any)
		if !ok || len(mapping) == 0 {
			return nil, fmt.Errorf("transform step requires a mapping or a query")
		}

		output = make(map[string]any, len(mapping))
		for outKey, rawPath := range mapping {
			path, ok := rawPath.(string)
			if !ok {
				return nil, fmt.Errorf("transform mapping for %q must be a dotted path string", outKey)
			}
			// Paths that resolve to nothing are omitted rather than
			// written as nulls.
			if v, found := LookupPath(ec.State, path); found {
				output[outKey] = v
			}
		}
	}

	return &Result{
		Status:   store.StatusCompleted,
		Output:   output,
		NextStep: step.Next,
	}, nil
}
