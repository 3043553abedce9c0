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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/baton/internal/secrets"
	"github.com/tombee/baton/internal/store"
	"github.com/tombee/baton/pkg/workflow"
)

// stubHandler lets tests script handler behavior.
type stubHandler struct {
	typ string
	fn  func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error)
}

func (h *stubHandler) Type() string { return h.typ }

func (h *stubHandler) Execute(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
	return h.fn(ctx, step, ec)
}

func testInterpreter(t *testing.T, handlers ...Handler) *Interpreter {
	t.Helper()
	registry := NewRegistry(Deps{})
	for _, h := range handlers {
		registry.Register(h)
	}
	return NewInterpreter(registry, InterpreterConfig{})
}

func testContext() *Context {
	return &Context{
		ExecutionID:  "exec-1",
		WorkflowName: "test-workflow",
		State:        map[string]any{},
		Logs:         NewLogCollector("exec-1"),
	}
}

func TestInterpreter_Execute_Success(t *testing.T) {
	interp := testInterpreter(t, &stubHandler{
		typ: "noop",
		fn: func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
			return &Result{
				Status:   store.StatusCompleted,
				Output:   map[string]any{"done": true},
				NextStep: "after",
			}, nil
		},
	})

	res := interp.Execute(context.Background(), &workflow.Step{ID: "s1", Type: "noop"}, testContext())

	assert.Equal(t, store.StatusCompleted, res.Status)
	assert.Equal(t, map[string]any{"done": true}, res.Output)
	assert.Equal(t, "after", res.NextStep)
	assert.GreaterOrEqual(t, res.DurationMs, int64(0))
}

func TestInterpreter_Execute_UnknownType(t *testing.T) {
	interp := testInterpreter(t)

	res := interp.Execute(context.Background(), &workflow.Step{ID: "s1", Type: "teleport"}, testContext())

	assert.Equal(t, store.StatusFailed, res.Status)
	assert.Equal(t, "Unknown step type: teleport", res.Error)
}

func TestInterpreter_Execute_FailureInjection(t *testing.T) {
	called := false
	interp := testInterpreter(t, &stubHandler{
		typ: "noop",
		fn: func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
			called = true
			return &Result{Status: store.StatusCompleted}, nil
		},
	})

	step := &workflow.Step{
		ID:     "s1",
		Type:   "noop",
		Config: map[string]any{"failureRate": 1.0},
	}
	res := interp.Execute(context.Background(), step, testContext())

	assert.Equal(t, store.StatusFailed, res.Status)
	assert.Equal(t, "Simulated random failure", res.Error)
	assert.False(t, called, "handler must not run when injection fires")
}

func TestInterpreter_Execute_FailureInjectionZeroRate(t *testing.T) {
	interp := testInterpreter(t, &stubHandler{
		typ: "noop",
		fn: func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
			return &Result{Status: store.StatusCompleted}, nil
		},
	})

	step := &workflow.Step{
		ID:     "s1",
		Type:   "noop",
		Config: map[string]any{"failureRate": 0},
	}
	res := interp.Execute(context.Background(), step, testContext())

	assert.Equal(t, store.StatusCompleted, res.Status)
}

func TestInterpreter_Execute_Timeout(t *testing.T) {
	interp := testInterpreter(t, &stubHandler{
		typ: "slow",
		fn: func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
			// Ignores its context, as a badly written handler would.
			time.Sleep(300 * time.Millisecond)
			return &Result{Status: store.StatusCompleted}, nil
		},
	})

	step := &workflow.Step{ID: "s1", Type: "slow", TimeoutMs: 50}
	res := interp.Execute(context.Background(), step, testContext())

	assert.Equal(t, store.StatusFailed, res.Status)
	assert.Equal(t, "Step timed out after 50ms", res.Error)
	assert.GreaterOrEqual(t, res.DurationMs, int64(40))
}

func TestInterpreter_Execute_DelayLongerThanTimeout(t *testing.T) {
	// The built-in delay honors its context, so the timeout surfaces even
	// though the handler returns promptly on cancellation.
	interp := testInterpreter(t)

	step := &workflow.Step{
		ID:        "wait",
		Type:      "delay",
		TimeoutMs: 50,
		Config:    map[string]any{"durationMs": 5000},
	}
	res := interp.Execute(context.Background(), step, testContext())

	assert.Equal(t, store.StatusFailed, res.Status)
	assert.Equal(t, "Step timed out after 50ms", res.Error)
}

func TestInterpreter_Execute_PanicRecovery(t *testing.T) {
	interp := testInterpreter(t, &stubHandler{
		typ: "bomb",
		fn: func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
			panic("boom")
		},
	})

	res := interp.Execute(context.Background(), &workflow.Step{ID: "s1", Type: "bomb"}, testContext())

	assert.Equal(t, store.StatusFailed, res.Status)
	assert.Equal(t, "step panicked: boom", res.Error)
}

func TestInterpreter_Execute_HandlerError(t *testing.T) {
	interp := testInterpreter(t, &stubHandler{
		typ: "flaky",
		fn: func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
			return nil, errors.New("upstream unavailable")
		},
	})

	res := interp.Execute(context.Background(), &workflow.Step{ID: "s1", Type: "flaky"}, testContext())

	assert.Equal(t, store.StatusFailed, res.Status)
	assert.Equal(t, "upstream unavailable", res.Error)
}

func TestInterpreter_Execute_NilResult(t *testing.T) {
	interp := testInterpreter(t, &stubHandler{
		typ: "empty",
		fn: func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
			return nil, nil
		},
	})

	res := interp.Execute(context.Background(), &workflow.Step{ID: "s1", Type: "empty"}, testContext())

	assert.Equal(t, store.StatusFailed, res.Status)
	assert.Equal(t, "handler returned no result", res.Error)
}

func TestInterpreter_Execute_Cancelled(t *testing.T) {
	interp := testInterpreter(t, &stubHandler{
		typ: "patient",
		fn: func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := interp.Execute(ctx, &workflow.Step{ID: "s1", Type: "patient"}, testContext())

	assert.Equal(t, store.StatusFailed, res.Status)
	assert.Equal(t, "step cancelled", res.Error)
}

func TestInterpreter_Execute_RendersTemplates(t *testing.T) {
	var got map[string]any
	interp := testInterpreter(t, &stubHandler{
		typ: "capture",
		fn: func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
			got = step.Config
			return &Result{Status: store.StatusCompleted}, nil
		},
	})

	ec := testContext()
	ec.State = map[string]any{
		"input": map[string]any{"name": "Ada", "count": 3},
	}

	step := &workflow.Step{
		ID:   "s1",
		Type: "capture",
		Config: map[string]any{
			"message": "Hello {{input.name}}",
			"count":   "{{input.count}}",
			"nested":  map[string]any{"inner": "{{input.name}}"},
			"list":    []any{"{{input.name}}", "literal"},
			"broken":  "{{no.such.path}}",
		},
	}
	res := interp.Execute(context.Background(), step, ec)

	require.Equal(t, store.StatusCompleted, res.Status)
	assert.Equal(t, "Hello Ada", got["message"])
	assert.Equal(t, 3, got["count"], "whole-string template keeps the value's type")
	assert.Equal(t, map[string]any{"inner": "Ada"}, got["nested"])
	assert.Equal(t, []any{"Ada", "literal"}, got["list"])
	assert.Equal(t, "{{no.such.path}}", got["broken"], "failed templates stay literal")
}

func TestInterpreter_Execute_ResolvesSecrets(t *testing.T) {
	t.Setenv("BATON_SECRET_API_KEY", "s3cr3t")

	var got map[string]any
	interp := testInterpreter(t, &stubHandler{
		typ: "capture",
		fn: func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
			got = step.Config
			return &Result{Status: store.StatusCompleted}, nil
		},
	})

	ec := testContext()
	ec.Secrets = secrets.NewResolver(secrets.NewEnvBackend())

	step := &workflow.Step{
		ID:   "s1",
		Type: "capture",
		Config: map[string]any{
			"token": "Bearer ${secret:api_key}",
		},
	}
	res := interp.Execute(context.Background(), step, ec)

	require.Equal(t, store.StatusCompleted, res.Status)
	assert.Equal(t, "Bearer s3cr3t", got["token"])
}

func TestInterpreter_Execute_MissingSecretFailsStep(t *testing.T) {
	called := false
	interp := testInterpreter(t, &stubHandler{
		typ: "capture",
		fn: func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
			called = true
			return nil, nil
		},
	})

	ec := testContext()
	ec.Secrets = secrets.NewResolver(secrets.NewEnvBackend())

	step := &workflow.Step{
		ID:   "s1",
		Type: "capture",
		Config: map[string]any{
			"token": "${secret:does_not_exist}",
		},
	}
	res := interp.Execute(context.Background(), step, ec)

	assert.Equal(t, store.StatusFailed, res.Status)
	assert.Equal(t, "secret not found: does_not_exist", res.Error)
	assert.False(t, called, "handler must not run when secret resolution fails")
}

func TestInterpreter_Execute_TemplatedSecretRefStaysLiteral(t *testing.T) {
	var got map[string]any
	interp := testInterpreter(t, &stubHandler{
		typ: "capture",
		fn: func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
			got = step.Config
			return &Result{Status: store.StatusCompleted}, nil
		},
	})

	ec := testContext()
	ec.State = map[string]any{
		"input": map[string]any{"ref": "${secret:smuggled}"},
	}

	step := &workflow.Step{
		ID:   "s1",
		Type: "capture",
		Config: map[string]any{
			"value": "{{input.ref}}",
		},
	}
	res := interp.Execute(context.Background(), step, ec)

	require.Equal(t, store.StatusCompleted, res.Status)
	assert.Equal(t, "${secret:smuggled}", got["value"], "references arriving via templates must not resolve")
}

func TestInterpreter_Execute_DefaultTimeoutApplied(t *testing.T) {
	registry := NewRegistry(Deps{})
	registry.Register(&stubHandler{
		typ: "slow",
		fn: func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	interp := NewInterpreter(registry, InterpreterConfig{DefaultTimeout: 50 * time.Millisecond})

	res := interp.Execute(context.Background(), &workflow.Step{ID: "s1", Type: "slow"}, testContext())

	assert.Equal(t, store.StatusFailed, res.Status)
	assert.Equal(t, "Step timed out after 50ms", res.Error)
}
