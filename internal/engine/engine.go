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

// Package engine exposes the inbound execution operations: submitting
// trigger events, cancelling executions, and operator reads.
//
// The engine sits between the HTTP surface and the store. It owns the
// idempotency protocol: a submit with an idempotency key relies on the
// store's unique constraint as the arbiter, translating the duplicate-key
// error into a lookup of the existing execution. Check-then-insert is
// deliberately absent.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tombee/baton/internal/log"
	"github.com/tombee/baton/internal/store"
	batonerrors "github.com/tombee/baton/pkg/errors"
	"github.com/tombee/baton/pkg/workflow"
)

// Engine handles inbound execution operations.
type Engine struct {
	store    store.Store
	resolver workflow.Resolver
	logger   *slog.Logger
}

// New creates an Engine over the given store and definition resolver.
// A nil logger defaults to slog.Default().
func New(st store.Store, resolver workflow.Resolver, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		resolver: resolver,
		logger:   log.WithComponent(logger, "engine"),
	}
}

// SubmitRequest is a trigger event.
type SubmitRequest struct {
	// WorkflowName selects the workflow to run.
	WorkflowName string

	// WorkflowVersion pins a version; zero resolves the latest.
	WorkflowVersion int

	// Input is the execution's initial state, available to steps under
	// the "input" path.
	Input map[string]any

	// IdempotencyKey deduplicates submissions. Empty disables
	// deduplication.
	IdempotencyKey string
}

// Submit creates a pending execution for a trigger event. The returned
// bool is false when an idempotency key matched an earlier submission
// and that execution was returned instead of a new one.
//
// The workflow is resolved first so the execution pins the exact
// (name, version) the definition resolver served at submit time.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*store.Execution, bool, error) {
	if req.WorkflowName == "" {
		return nil, false, &batonerrors.ValidationError{
			Field:   "workflow",
			Message: "workflow name is required",
		}
	}

	def, err := e.resolver.Resolve(ctx, req.WorkflowName, req.WorkflowVersion)
	if err != nil {
		return nil, false, err
	}

	// Optimistic replay path: skip the insert for keys we have already
	// seen. Correctness does not depend on this read; the unique
	// constraint below remains the arbiter under concurrency.
	if req.IdempotencyKey != "" {
		existing, err := e.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return existing, false, nil
		}
		if !store.IsNotFound(err) {
			return nil, false, fmt.Errorf("idempotency lookup failed: %w", err)
		}
	}

	exec := &store.Execution{
		ID:              uuid.New().String(),
		WorkflowID:      def.Name,
		WorkflowName:    def.Name,
		WorkflowVersion: def.Version,
		Status:          store.StatusPending,
		Input:           req.Input,
		IdempotencyKey:  req.IdempotencyKey,
	}

	if err := e.store.CreateExecution(ctx, exec); err != nil {
		if store.IsDuplicateKey(err) {
			existing, lookupErr := e.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("duplicate idempotency key %q but lookup failed: %w", req.IdempotencyKey, lookupErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create execution: %w", err)
	}

	e.logger.Info("execution submitted",
		log.ExecutionIDKey, exec.ID,
		log.WorkflowKey, def.Name,
		"workflow_version", def.Version)
	return exec, true, nil
}

// Cancel requests cooperative cancellation of an execution. It succeeds
// from any non-terminal state; running executions observe the cancel at
// their next step boundary, and retry_scheduled executions are simply
// never claimed again. Returns ConflictError when already terminal and
// NotFoundError when absent.
func (e *Engine) Cancel(ctx context.Context, id string) (*store.Execution, error) {
	exec, err := e.store.CancelExecution(ctx, id)
	if err != nil {
		switch {
		case store.IsNotFound(err):
			return nil, &batonerrors.NotFoundError{Resource: "execution", ID: id}
		case store.IsConflict(err):
			return nil, &batonerrors.ConflictError{
				Resource: "execution",
				ID:       id,
				Reason:   "already in a terminal state",
			}
		default:
			return nil, fmt.Errorf("failed to cancel execution: %w", err)
		}
	}

	e.logger.Info("execution cancelled", log.ExecutionIDKey, id)
	return exec, nil
}

// ExecutionDetail is an execution with its audit trail.
type ExecutionDetail struct {
	Execution   *store.Execution    `json:"execution"`
	StepResults []*store.StepResult `json:"step_results"`
	Logs        []*store.LogEntry   `json:"logs,omitempty"`
}

// Get returns an execution with its step results, optionally including
// persisted step logs.
func (e *Engine) Get(ctx context.Context, id string, includeLogs bool) (*ExecutionDetail, error) {
	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, &batonerrors.NotFoundError{Resource: "execution", ID: id}
		}
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	results, err := e.store.ListStepResults(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load step results: %w", err)
	}

	detail := &ExecutionDetail{Execution: exec, StepResults: results}
	if includeLogs {
		logs, err := e.store.ListLogEntries(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load execution logs: %w", err)
		}
		detail.Logs = logs
	}
	return detail, nil
}

// List returns executions matching the filter, newest first.
func (e *Engine) List(ctx context.Context, filter store.ListFilter) ([]*store.Execution, error) {
	return e.store.ListExecutions(ctx, filter)
}

// DLQ returns dead letter entries, newest first. limit <= 0 means all.
func (e *Engine) DLQ(ctx context.Context, limit int) ([]*store.DLQEntry, error) {
	return e.store.ListDLQEntries(ctx, limit)
}
