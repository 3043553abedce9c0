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
	"time"

	"github.com/tombee/baton/internal/store"
	"github.com/tombee/baton/pkg/workflow"
)

// delayHandler pauses the workflow for a configured number of
// milliseconds. The sleep honors the step context, so a delay longer than
// the step timeout fails with a timeout instead of overstaying it.
type delayHandler struct{}

func (h *delayHandler) Type() string { return "delay" }

func (h *delayHandler) Execute(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
	ms, ok := toNumber(step.Config["durationMs"])
	if !ok {
		return nil, fmt.Errorf("delay step requires a numeric durationMs")
	}
	if ms < 0 {
		return nil, fmt.Errorf("delay durationMs must not be negative")
	}

	if ms > 0 {
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return &Result{
		Status:   store.StatusCompleted,
		Output:   map[string]any{"delayed": true},
		NextStep: step.Next,
	}, nil
}
