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
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/tombee/baton/internal/secrets"
	"github.com/tombee/baton/internal/store"
	"github.com/tombee/baton/pkg/workflow"
	"github.com/tombee/baton/pkg/workflow/expression"
)

// DefaultStepTimeout bounds a single step attempt when the step does not
// set its own timeout_ms.
const DefaultStepTimeout = 60 * time.Second

// Interpreter dispatches steps to registered handlers. It does not retry
// and does not persist; retry scheduling and checkpoints belong to the
// runner.
type Interpreter struct {
	registry       *Registry
	defaultTimeout time.Duration
	logger         *slog.Logger

	// rng drives failure injection; nil uses the global source
	rng   *rand.Rand
	rngMu sync.Mutex
}

// InterpreterConfig configures an Interpreter. Zero values use defaults.
type InterpreterConfig struct {
	// DefaultTimeout bounds step attempts without a timeout_ms (default: 60s)
	DefaultTimeout time.Duration

	// Logger receives interpreter diagnostics (default: slog.Default())
	Logger *slog.Logger

	// Rand seeds failure injection for deterministic tests
	Rand *rand.Rand
}

// NewInterpreter creates an interpreter over the given registry.
func NewInterpreter(registry *Registry, cfg InterpreterConfig) *Interpreter {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Interpreter{
		registry:       registry,
		defaultTimeout: timeout,
		logger:         logger,
		rng:            cfg.Rand,
	}
}

// Known reports whether a handler is registered for the step type.
// The runner uses this to treat unknown-type failures as terminal
// instead of burning the retry budget on them.
func (i *Interpreter) Known(stepType string) bool {
	_, ok := i.registry.Get(stepType)
	return ok
}

// Execute runs one step attempt and always returns a Result; every failure
// mode is folded into a failed Result rather than an error. The handler
// races the step timeout: on timeout its goroutine is abandoned and the
// eventual result discarded, so handlers must tolerate a dead context.
func (i *Interpreter) Execute(ctx context.Context, step *workflow.Step, ec *Context) *Result {
	start := time.Now()

	timeout := i.defaultTimeout
	if step.TimeoutMs > 0 {
		timeout = time.Duration(step.TimeoutMs) * time.Millisecond
	}

	// Failure injection, a deliberate test affordance
	if rate, ok := toNumber(step.Config["failureRate"]); ok && rate > 0 {
		if i.roll() < rate {
			return i.stamp(start, failedResult("Simulated random failure"))
		}
	}

	handler, ok := i.registry.Get(step.Type)
	if !ok {
		return i.stamp(start, failedResult(fmt.Sprintf("Unknown step type: %s", step.Type)))
	}

	rendered, err := i.renderStep(ctx, step, ec)
	if err != nil {
		return i.stamp(start, failedResult(err.Error()))
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error("step handler panic",
					"execution_id", ec.ExecutionID,
					"step_id", step.ID,
					"step_type", step.Type,
					"panic", r,
				)
				resultCh <- handlerOutcome{err: fmt.Errorf("step panicked: %v", r)}
			}
		}()

		res, err := handler.Execute(stepCtx, rendered, ec)
		resultCh <- handlerOutcome{res: res, err: err}
	}()

	select {
	case out := <-resultCh:
		if out.err != nil {
			// A handler that surfaces its context error loses the same
			// way as one that never returned.
			if stepCtx.Err() != nil && (errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, context.Canceled)) {
				return i.stamp(start, i.deadlineResult(stepCtx, timeout))
			}
			return i.stamp(start, failedResult(out.err.Error()))
		}
		if out.res == nil {
			return i.stamp(start, failedResult("handler returned no result"))
		}
		return i.stamp(start, out.res)
	case <-stepCtx.Done():
		return i.stamp(start, i.deadlineResult(stepCtx, timeout))
	}
}

type handlerOutcome struct {
	res *Result
	err error
}

func (i *Interpreter) deadlineResult(stepCtx context.Context, timeout time.Duration) *Result {
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return failedResult(fmt.Sprintf("Step timed out after %dms", timeout.Milliseconds()))
	}
	return failedResult("step cancelled")
}

func (i *Interpreter) stamp(start time.Time, res *Result) *Result {
	res.DurationMs = time.Since(start).Milliseconds()
	return res
}

func (i *Interpreter) roll() float64 {
	if i.rng == nil {
		return rand.Float64()
	}
	i.rngMu.Lock()
	defer i.rngMu.Unlock()
	return i.rng.Float64()
}

func failedResult(msg string) *Result {
	return &Result{Status: store.StatusFailed, Error: msg}
}

// renderStep returns a copy of the step with config values rendered:
// {{dotted.path}} templates are resolved against the state, then
// ${secret:NAME} references written by the workflow author are expanded.
// Template failures leave the raw string for the handler to surface;
// secret failures fail the step.
func (i *Interpreter) renderStep(ctx context.Context, step *workflow.Step, ec *Context) (*workflow.Step, error) {
	if len(step.Config) == 0 {
		return step, nil
	}

	config, err := renderValue(ctx, step.Config, ec)
	if err != nil {
		return nil, err
	}

	rendered := *step
	rendered.Config = config.(map[string]any)
	return &rendered, nil
}

func renderValue(ctx context.Context, v any, ec *Context) (any, error) {
	switch val := v.(type) {
	case string:
		// Only author-written references resolve; a reference smuggled in
		// through a template stays literal.
		hadRef := secrets.ContainsRef(val)

		rendered := expression.RenderTemplates(val, ec.State)
		s, ok := rendered.(string)
		if !ok {
			return rendered, nil
		}
		if hadRef {
			return ec.Secrets.Expand(ctx, s)
		}
		return s, nil

	case map[string]any:
		out := make(map[string]any, len(val))
		for key, item := range val {
			r, err := renderValue(ctx, item, ec)
			if err != nil {
				return nil, err
			}
			out[key] = r
		}
		return out, nil

	case []any:
		out := make([]any, len(val))
		for idx, item := range val {
			r, err := renderValue(ctx, item, ec)
			if err != nil {
				return nil, err
			}
			out[idx] = r
		}
		return out, nil

	default:
		return v, nil
	}
}
