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

package runner

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/baton/internal/step"
	"github.com/tombee/baton/internal/store"
	"github.com/tombee/baton/internal/store/memory"
	"github.com/tombee/baton/pkg/workflow"
)

// newBuiltinRunner wires the real registry and interpreter, so workflows
// exercise the shipped handlers instead of stubs.
func newBuiltinRunner(st store.Store, def *workflow.Definition) *Runner {
	resolver := workflow.NewStaticResolver(def)
	registry := step.NewRegistry(step.Deps{})
	interp := step.NewInterpreter(registry, step.InterpreterConfig{})
	return New(st, resolver, interp, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Rand:   rand.New(rand.NewSource(42)),
	})
}

// The demo workflow chains all five built-ins: log, http, transform,
// condition, log.
func TestRunner_Run_BuiltinChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user": {"id": "u-1", "name": "Ada"}}`))
	}))
	defer srv.Close()

	st := memory.New()
	def := &workflow.Definition{
		Name:    "demo-workflow",
		Version: 1,
		Steps: []workflow.Step{
			{ID: "announce", Type: "log", Next: "fetch-data",
				Config: map[string]any{"message": "starting demo"}},
			{ID: "fetch-data", Type: "http", Next: "shape",
				Config: map[string]any{"url": srv.URL}},
			{ID: "shape", Type: "transform", Next: "check",
				Config: map[string]any{"mapping": map[string]any{
					"userId":   "fetch-data.data.user.id",
					"userName": "fetch-data.data.user.name",
				}}},
			{ID: "check", Type: "condition",
				Config: map[string]any{
					"field":    "fetch-data.statusCode",
					"operator": "eq",
					"value":    200,
					"onTrue":   "done",
				}},
			{ID: "done", Type: "log",
				Config: map[string]any{"message": "demo complete"}},
		},
	}

	r := newBuiltinRunner(st, def)
	exec := seedClaimed(t, st, def, map[string]any{"region": "eu-west-1"})
	require.NoError(t, r.Run(context.Background(), exec.ID))

	final, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, final.Status)

	fetched, ok := final.Output["fetch-data"].(map[string]any)
	require.True(t, ok, "fetch-data output missing from %v", final.Output)
	assert.EqualValues(t, 200, fetched["statusCode"])

	shaped, ok := final.Output["shape"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "u-1", shaped["userId"])
	assert.Equal(t, "Ada", shaped["userName"])

	checked, ok := final.Output["check"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, checked["condition"])

	results, err := st.ListStepResults(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, results, 5)
	wantOrder := []string{"announce", "fetch-data", "shape", "check", "done"}
	for i, res := range results {
		assert.Equal(t, wantOrder[i], res.StepID)
		assert.Equal(t, store.StatusCompleted, res.Status)
		assert.Equal(t, 1, res.Attempt)
	}

	logs, err := st.ListLogEntries(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "starting demo", logs[0].Message)
	assert.Equal(t, "demo complete", logs[1].Message)
}

// A cancel that lands while a delay step is sleeping must win over both
// retry scheduling and advancement to the next step.
func TestRunner_Run_CancelDuringDelayStep(t *testing.T) {
	st := memory.New()
	def := &workflow.Definition{
		Name:    "timeout-workflow",
		Version: 1,
		Steps: []workflow.Step{
			{ID: "wait", Type: "delay", Next: "celebrate", TimeoutMs: 1000,
				Config: map[string]any{"durationMs": 2000}},
			{ID: "celebrate", Type: "log",
				Config: map[string]any{"message": "finished"}},
		},
	}

	r := newBuiltinRunner(st, def)
	exec := seedClaimed(t, st, def, nil)

	go func() {
		time.Sleep(100 * time.Millisecond)
		st.CancelExecution(context.Background(), exec.ID)
	}()
	require.NoError(t, r.Run(context.Background(), exec.ID))

	final, err := st.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, final.Status)

	// The timed-out attempt is recorded, then the cancel stops the run:
	// no retry is scheduled and the next step never executes.
	results, err := st.ListStepResults(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "wait", results[0].StepID)
	assert.Equal(t, store.StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "timed out")

	logs, err := st.ListLogEntries(context.Background(), exec.ID)
	require.NoError(t, err)
	for _, entry := range logs {
		assert.False(t, strings.Contains(entry.Message, "finished"),
			"success-path log written after cancel: %q", entry.Message)
	}
}
