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

// Package runner drives claimed executions through their workflow steps.
//
// A Runner is invoked by the worker pool after the claim primitive has
// locked an execution (status=running). It resumes from the persisted
// current_step_id, checkpoints the cursor before every step, and is the
// sole writer to the execution row until Run returns. A failed step is
// either rescheduled (status=retry_scheduled, which releases the claim)
// or dead-lettered once its retry budget is spent. Cancellation is
// cooperative: the runner observes it before and after each step, never
// inside one.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/baton/internal/log"
	"github.com/tombee/baton/internal/metrics"
	"github.com/tombee/baton/internal/retry"
	"github.com/tombee/baton/internal/secrets"
	"github.com/tombee/baton/internal/step"
	"github.com/tombee/baton/internal/store"
	"github.com/tombee/baton/pkg/workflow"
)

// Runner executes claimed executions. Safe for concurrent use; all
// per-execution state lives in Run.
type Runner struct {
	store     store.Store
	resolver  workflow.Resolver
	interp    *step.Interpreter
	secrets   *secrets.Resolver
	logger    *slog.Logger
	tracer    trace.Tracer
	rng       *rand.Rand
	now       func() time.Time
	retryBase retry.Policy
}

// Options configures optional Runner collaborators.
type Options struct {
	// Secrets resolves ${secret:NAME} references in step configs.
	// Nil leaves references unresolvable, failing the steps that use them.
	Secrets *secrets.Resolver

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Rand seeds the retry jitter; nil uses the shared source.
	Rand *rand.Rand

	// Now overrides the clock in tests.
	Now func() time.Time

	// Retry is the base policy for steps without a retry block.
	// Zero uses retry.DefaultPolicy().
	Retry retry.Policy
}

// New creates a Runner backed by the given store, definition resolver,
// and step interpreter.
func New(st store.Store, resolver workflow.Resolver, interp *step.Interpreter, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	base := opts.Retry
	if base == (retry.Policy{}) {
		base = retry.DefaultPolicy()
	}
	return &Runner{
		store:     st,
		resolver:  resolver,
		interp:    interp,
		secrets:   opts.Secrets,
		logger:    logger,
		tracer:    otel.Tracer("baton/runner"),
		rng:       opts.Rand,
		now:       now,
		retryBase: base,
	}
}

// Run drives the execution to its next stopping point: completion,
// terminal failure, a scheduled retry, an observed cancellation, or a
// store error. Store errors bubble out with the row left in its last
// committed state; the stale-claim sweeper eventually recovers it.
func (r *Runner) Run(ctx context.Context, executionID string) error {
	exec, err := r.store.GetExecution(ctx, executionID)
	if err != nil {
		metrics.RecordStoreError("GetExecution")
		return fmt.Errorf("failed to reload execution %s: %w", executionID, err)
	}

	logger := log.WithExecutionContext(r.logger, exec.ID, exec.WorkflowName)

	ctx, span := r.tracer.Start(ctx, "execution.run",
		trace.WithAttributes(
			attribute.String("execution.id", exec.ID),
			attribute.String("workflow.name", exec.WorkflowName),
			attribute.Int("workflow.version", exec.WorkflowVersion),
		))
	defer span.End()

	def, err := r.resolver.Resolve(ctx, exec.WorkflowName, exec.WorkflowVersion)
	if err != nil {
		// Without its pinned definition the execution can never make
		// progress, so it fails rather than churning through reclaims.
		msg := fmt.Sprintf("workflow definition not available: %v", err)
		span.SetStatus(codes.Error, msg)
		return r.fail(exec, exec.CurrentStepID, msg, exec.RetryCount+1, executionState(exec), nil, logger)
	}

	current := def.FirstStep()
	if exec.CurrentStepID != "" {
		current = def.FindStep(exec.CurrentStepID)
		if current == nil {
			msg := fmt.Sprintf("step not found in definition: %s", exec.CurrentStepID)
			span.SetStatus(codes.Error, msg)
			return r.fail(exec, exec.CurrentStepID, msg, exec.RetryCount+1, executionState(exec), nil, logger)
		}
	}

	state := executionState(exec)
	retryCount := exec.RetryCount
	logs := step.NewLogCollector(exec.ID)
	ec := &step.Context{
		ExecutionID:  exec.ID,
		WorkflowName: exec.WorkflowName,
		State:        state,
		Logger:       logger,
		Logs:         logs,
		Secrets:      r.secrets,
	}

	for current != nil {
		if err := ctx.Err(); err != nil {
			// Shutdown mid-run leaves the claim for the stale sweeper.
			return err
		}

		cancelled, err := r.cancelled(ctx, exec.ID)
		if err != nil {
			return err
		}
		if cancelled {
			return r.stopForCancellation(logs, logger)
		}

		attempt := retryCount + 1

		// Checkpoint the cursor: a crash from here resumes at this step.
		if err := r.update(ctx, exec.ID, store.ExecutionPatch{
			CurrentStepID: store.StringPtr(current.ID),
		}); err != nil {
			return err
		}

		logs.SetStep(current.ID)
		res := r.executeStep(ctx, current, ec, attempt)

		completedAt := r.now()
		result := &store.StepResult{
			ExecutionID: exec.ID,
			StepID:      current.ID,
			Status:      res.Status,
			Output:      res.Output,
			Error:       res.Error,
			Attempt:     attempt,
			DurationMs:  res.DurationMs,
			StartedAt:   completedAt.Add(-time.Duration(res.DurationMs) * time.Millisecond),
			CompletedAt: completedAt,
		}
		if err := r.store.AppendStepResult(ctx, result); err != nil {
			metrics.RecordStoreError("AppendStepResult")
			return fmt.Errorf("failed to append step result: %w", err)
		}
		r.flushLogs(ctx, logs, logger)

		// Re-check after the step: a cancel during a long step must win
		// over retry scheduling and advancement.
		cancelled, err = r.cancelled(ctx, exec.ID)
		if err != nil {
			return err
		}
		if cancelled {
			return r.stopForCancellation(logs, logger)
		}

		if res.Status == store.StatusFailed {
			// An unregistered step type can never succeed; the retry
			// budget does not rescue it.
			if !r.interp.Known(current.Type) {
				span.SetStatus(codes.Error, res.Error)
				return r.fail(exec, current.ID, res.Error, attempt, state, logs, logger)
			}

			policy := r.retryBase.Merge(current.Retry)
			if policy.Exhausted(attempt) {
				span.SetStatus(codes.Error, res.Error)
				return r.fail(exec, current.ID, res.Error, attempt, state, logs, logger)
			}

			delay := policy.Delay(attempt, r.rng)
			nextAt := r.now().Add(delay)
			if err := r.update(ctx, exec.ID, store.ExecutionPatch{
				Status:          store.StatusPtr(store.StatusRetryScheduled),
				RetryCount:      store.IntPtr(attempt),
				NextRetryAt:     store.TimePtr(nextAt),
				Error:           store.StringPtr(res.Error),
				CurrentStepID:   store.StringPtr(current.ID),
				ClearWorkerLock: true,
			}); err != nil {
				return err
			}
			metrics.RecordRetryScheduled()
			logger.Info("retry scheduled",
				log.StepIDKey, current.ID,
				log.AttemptKey, attempt,
				"delay_ms", delay.Milliseconds(),
				"error", res.Error)
			return nil
		}

		// Completed: fold the output into state and advance the cursor.
		state[current.ID] = res.Output
		retryCount = 0
		if err := r.update(ctx, exec.ID, store.ExecutionPatch{
			Output:           state,
			RetryCount:       store.IntPtr(0),
			Error:            store.StringPtr(""),
			ClearNextRetryAt: true,
		}); err != nil {
			return err
		}

		if res.NextStep == "" {
			current = nil
			continue
		}
		next := def.FindStep(res.NextStep)
		if next == nil {
			msg := fmt.Sprintf("step not found in definition: %s", res.NextStep)
			span.SetStatus(codes.Error, msg)
			return r.fail(exec, current.ID, msg, attempt, state, logs, logger)
		}
		current = next
	}

	// Terminal status writes must land even when the run context is
	// already cancelled.
	completedAt := r.now()
	if err := r.update(context.Background(), exec.ID, store.ExecutionPatch{
		Status:             store.StatusPtr(store.StatusCompleted),
		Output:             state,
		CompletedAt:        store.TimePtr(completedAt),
		ClearCurrentStepID: true,
		ClearWorkerLock:    true,
		ClearNextRetryAt:   true,
	}); err != nil {
		return err
	}
	metrics.RecordExecution(string(store.StatusCompleted))
	span.SetStatus(codes.Ok, "")
	logger.Info("execution completed")
	return nil
}

// executeStep runs one step attempt under its own span.
func (r *Runner) executeStep(ctx context.Context, s *workflow.Step, ec *step.Context, attempt int) *step.Result {
	ctx, span := r.tracer.Start(ctx, "step.execute",
		trace.WithAttributes(
			attribute.String("step.id", s.ID),
			attribute.String("step.type", s.Type),
			attribute.Int("step.attempt", attempt),
		))
	defer span.End()

	res := r.interp.Execute(ctx, s, ec)
	metrics.RecordStep(s.Type, string(res.Status), time.Duration(res.DurationMs)*time.Millisecond)
	if res.Status == store.StatusFailed {
		span.SetStatus(codes.Error, res.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return res
}

// fail marks the execution failed and dead-letters it. The step's
// on_error successor is not consulted: exhausted retries always land in
// the DLQ.
func (r *Runner) fail(exec *store.Execution, stepID, msg string, attempts int, state map[string]any, logs *step.LogCollector, logger *slog.Logger) error {
	failedAt := r.now()

	ctx := context.Background()
	if err := r.update(ctx, exec.ID, store.ExecutionPatch{
		Status:           store.StatusPtr(store.StatusFailed),
		Error:            store.StringPtr(msg),
		Output:           state,
		CompletedAt:      store.TimePtr(failedAt),
		ClearWorkerLock:  true,
		ClearNextRetryAt: true,
	}); err != nil {
		return err
	}

	entry := &store.DLQEntry{
		ExecutionID:  exec.ID,
		WorkflowName: exec.WorkflowName,
		Reason:       msg,
		Payload: map[string]any{
			"error":            msg,
			"total_attempts":   attempts,
			"input":            exec.Input,
			"last_step_id":     stepID,
			"workflow_version": exec.WorkflowVersion,
		},
		FailedAt: failedAt,
	}
	if err := r.store.AppendDLQEntry(ctx, entry); err != nil {
		metrics.RecordStoreError("AppendDLQEntry")
		return fmt.Errorf("failed to append dead letter entry: %w", err)
	}

	r.flushLogs(ctx, logs, logger)
	metrics.RecordDLQEntry()
	metrics.RecordExecution(string(store.StatusFailed))
	logger.Error("execution failed",
		"error", msg,
		log.StepIDKey, stepID,
		log.AttemptKey, attempts)
	return nil
}

// cancelled re-reads the execution's status.
func (r *Runner) cancelled(ctx context.Context, id string) (bool, error) {
	exec, err := r.store.GetExecution(ctx, id)
	if err != nil {
		metrics.RecordStoreError("GetExecution")
		return false, fmt.Errorf("failed to check cancellation: %w", err)
	}
	return exec.Status == store.StatusCancelled, nil
}

// stopForCancellation records the observation and exits without touching
// the execution row; the cancel write already made it terminal.
func (r *Runner) stopForCancellation(logs *step.LogCollector, logger *slog.Logger) error {
	logs.Append("info", "execution cancelled", nil)
	r.flushLogs(context.Background(), logs, logger)
	logger.Info("cancellation observed, stopping")
	return nil
}

// update applies a patch to the execution row.
func (r *Runner) update(ctx context.Context, id string, patch store.ExecutionPatch) error {
	if err := r.store.UpdateExecution(ctx, id, patch); err != nil {
		metrics.RecordStoreError("UpdateExecution")
		return fmt.Errorf("failed to update execution %s: %w", id, err)
	}
	return nil
}

// flushLogs persists buffered step logs. Best-effort: a failed batch is
// dropped, never retried, and never fails the run.
func (r *Runner) flushLogs(ctx context.Context, logs *step.LogCollector, logger *slog.Logger) {
	entries := logs.Drain()
	if len(entries) == 0 {
		return
	}
	batch := make([]*store.LogEntry, len(entries))
	for i := range entries {
		batch[i] = &entries[i]
	}
	if err := r.store.AppendLogEntries(ctx, batch); err != nil {
		metrics.RecordStoreError("AppendLogEntries")
		logger.Warn("failed to flush execution logs", log.Error(err), "entries", len(entries))
	}
}

// executionState rebuilds interpreter state from the persisted row: the
// accumulated step outputs overlaid with the submission input under
// "input".
func executionState(exec *store.Execution) map[string]any {
	state := make(map[string]any, len(exec.Output)+1)
	for k, v := range exec.Output {
		state[k] = v
	}
	input := exec.Input
	if input == nil {
		input = map[string]any{}
	}
	state["input"] = input
	return state
}
