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

// Package step interprets workflow steps.
//
// A step names a handler type (log, http, transform, condition, delay, or
// any custom registration) and carries a free-form config map. The
// Interpreter resolves the handler from the Registry, renders config
// templates and secret references, and runs the handler under the step
// timeout with panic recovery. Handlers never touch the store; their only
// channel back to the runner is the Result.
package step

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tombee/baton/internal/secrets"
	"github.com/tombee/baton/internal/store"
	"github.com/tombee/baton/pkg/workflow"
)

// Handler executes a single step type.
//
// Execute receives the step definition with config already rendered
// (templates and secret references resolved) and the execution context.
// A returned error marks the step failed with the error's message.
// Handlers must honor ctx: the interpreter abandons them on timeout, and
// the pool cancels ctx on shutdown.
type Handler interface {
	// Type returns the step type this handler serves.
	Type() string

	// Execute runs the step and returns its result.
	Execute(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error)
}

// Result is the outcome of a single step attempt.
type Result struct {
	// Status is StatusCompleted or StatusFailed
	Status store.Status

	// Output is the step's contribution to execution state
	Output map[string]any

	// Error is the failure message when Status is failed
	Error string

	// NextStep is the id of the step to run next; empty ends the workflow
	NextStep string

	// DurationMs is the wall-clock duration, stamped by the interpreter
	DurationMs int64
}

// Context is the execution context handed to handlers.
type Context struct {
	// ExecutionID identifies the execution being run
	ExecutionID string

	// WorkflowName is the workflow the execution belongs to
	WorkflowName string

	// State maps step id -> that step's output, with the execution
	// input under "input"
	State map[string]any

	// Logger is the runner's structured logger
	Logger *slog.Logger

	// Logs buffers log entries for persistence after the step
	Logs *LogCollector

	// Secrets resolves ${secret:NAME} references; may be nil
	Secrets *secrets.Resolver
}

// LogCollector buffers log entries emitted during step execution.
// The runner drains it after each step and flushes the batch to the store.
type LogCollector struct {
	mu          sync.Mutex
	executionID string
	stepID      string
	entries     []store.LogEntry
}

// NewLogCollector creates a collector for one execution.
func NewLogCollector(executionID string) *LogCollector {
	return &LogCollector{executionID: executionID}
}

// SetStep records the step id stamped onto subsequent entries.
func (c *LogCollector) SetStep(stepID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stepID = stepID
	c.mu.Unlock()
}

// Append buffers a log entry.
func (c *LogCollector) Append(level, message string, metadata map[string]any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, store.LogEntry{
		ExecutionID: c.executionID,
		StepID:      c.stepID,
		Level:       level,
		Message:     message,
		Metadata:    metadata,
		Timestamp:   time.Now().UTC(),
	})
}

// Drain returns the buffered entries and resets the buffer.
func (c *LogCollector) Drain() []store.LogEntry {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.entries
	c.entries = nil
	return entries
}

// LookupPath resolves a dotted path like "fetch.data.total" in the
// execution state. Shared by the transform and condition handlers.
func LookupPath(state map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = state
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
