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

// Package memory provides an in-memory store implementation.
//
// All operations run under a single mutex, which satisfies the claim
// atomicity contract trivially. Rows are copied on write and on read so
// callers never share memory with the store. Suitable for development
// and tests; state does not survive a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/baton/internal/store"
)

// Compile-time interface assertions.
// Ensures Backend implements all segregated interfaces.
var (
	_ store.ExecutionStore    = (*Backend)(nil)
	_ store.StepResultStore   = (*Backend)(nil)
	_ store.DLQStore          = (*Backend)(nil)
	_ store.ExecutionLogStore = (*Backend)(nil)
	_ store.Store             = (*Backend)(nil)
)

// Backend is an in-memory storage backend.
type Backend struct {
	mu          sync.RWMutex
	executions  map[string]*store.Execution
	byIdemKey   map[string]string // idempotency_key → execution ID
	stepResults map[string][]*store.StepResult
	dlqEntries  []*store.DLQEntry
	logEntries  map[string][]*store.LogEntry

	// now is swappable for deterministic tests
	now func() time.Time
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{
		executions:  make(map[string]*store.Execution),
		byIdemKey:   make(map[string]string),
		stepResults: make(map[string][]*store.StepResult),
		logEntries:  make(map[string][]*store.LogEntry),
		now:         time.Now,
	}
}

// SetClock overrides the backend's time source. Tests only.
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// CreateExecution inserts a new execution row.
func (b *Backend) CreateExecution(ctx context.Context, execution *store.Execution) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.executions[execution.ID]; exists {
		return fmt.Errorf("execution already exists: %s", execution.ID)
	}

	// The index plays the role of the unique constraint
	if execution.IdempotencyKey != "" {
		if _, exists := b.byIdemKey[execution.IdempotencyKey]; exists {
			return fmt.Errorf("idempotency_key %q: %w", execution.IdempotencyKey, store.ErrDuplicateKey)
		}
	}

	now := b.now()
	execution.CreatedAt = now
	execution.UpdatedAt = now
	if execution.Status == "" {
		execution.Status = store.StatusPending
	}

	b.executions[execution.ID] = copyExecution(execution)
	if execution.IdempotencyKey != "" {
		b.byIdemKey[execution.IdempotencyKey] = execution.ID
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (b *Backend) GetExecution(ctx context.Context, id string) (*store.Execution, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	execution, exists := b.executions[id]
	if !exists {
		return nil, fmt.Errorf("execution %s: %w", id, store.ErrNotFound)
	}
	return copyExecution(execution), nil
}

// UpdateExecution applies a partial update to an execution.
func (b *Backend) UpdateExecution(ctx context.Context, id string, patch store.ExecutionPatch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	execution, exists := b.executions[id]
	if !exists {
		return fmt.Errorf("execution %s: %w", id, store.ErrNotFound)
	}

	applyPatch(execution, patch)
	execution.UpdatedAt = b.now()
	return nil
}

// FindByIdempotencyKey retrieves the execution created under key.
func (b *Backend) FindByIdempotencyKey(ctx context.Context, key string) (*store.Execution, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	id, exists := b.byIdemKey[key]
	if !exists {
		return nil, fmt.Errorf("idempotency_key %q: %w", key, store.ErrNotFound)
	}
	return copyExecution(b.executions[id]), nil
}

// ListExecutions lists executions matching the filter, newest first.
func (b *Backend) ListExecutions(ctx context.Context, filter store.ListFilter) ([]*store.Execution, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*store.Execution
	for _, execution := range b.executions {
		if filter.Status != "" && execution.Status != filter.Status {
			continue
		}
		if filter.WorkflowName != "" && execution.WorkflowName != filter.WorkflowName {
			continue
		}
		result = append(result, copyExecution(execution))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Claim atomically claims up to batchSize due executions for workerID.
// The single mutex makes claim-then-mark atomic: no other caller can
// observe a due row between selection and the running transition.
func (b *Backend) Claim(ctx context.Context, workerID string, batchSize int) ([]*store.Execution, error) {
	if batchSize <= 0 {
		return nil, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	var due []*store.Execution
	for _, execution := range b.executions {
		switch execution.Status {
		case store.StatusPending:
			due = append(due, execution)
		case store.StatusRetryScheduled:
			if execution.NextRetryAt != nil && !execution.NextRetryAt.After(now) {
				due = append(due, execution)
			}
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > batchSize {
		due = due[:batchSize]
	}

	claimed := make([]*store.Execution, 0, len(due))
	for _, execution := range due {
		execution.Status = store.StatusRunning
		execution.WorkerID = workerID
		lockedAt := now
		execution.LockedAt = &lockedAt
		if execution.StartedAt == nil {
			startedAt := now
			execution.StartedAt = &startedAt
		}
		execution.UpdatedAt = now
		claimed = append(claimed, copyExecution(execution))
	}
	return claimed, nil
}

// ReleaseStaleClaims resets running executions with stale locks to pending.
func (b *Backend) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	cutoff := now.Add(-olderThan)

	released := 0
	for _, execution := range b.executions {
		if execution.Status != store.StatusRunning {
			continue
		}
		if execution.LockedAt == nil || execution.LockedAt.After(cutoff) {
			continue
		}
		execution.Status = store.StatusPending
		execution.WorkerID = ""
		execution.LockedAt = nil
		execution.UpdatedAt = now
		released++
	}
	return released, nil
}

// CancelExecution atomically cancels a non-terminal execution.
func (b *Backend) CancelExecution(ctx context.Context, id string) (*store.Execution, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	execution, exists := b.executions[id]
	if !exists {
		return nil, fmt.Errorf("execution %s: %w", id, store.ErrNotFound)
	}
	if execution.Status.IsTerminal() {
		return nil, fmt.Errorf("execution %s is %s: %w", id, execution.Status, store.ErrConflict)
	}

	now := b.now()
	execution.Status = store.StatusCancelled
	execution.Error = "cancelled"
	completedAt := now
	execution.CompletedAt = &completedAt
	execution.UpdatedAt = now
	return copyExecution(execution), nil
}

// AppendStepResult appends a step result row.
func (b *Backend) AppendStepResult(ctx context.Context, result *store.StepResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = b.now()
	}

	b.stepResults[result.ExecutionID] = append(b.stepResults[result.ExecutionID], copyStepResult(result))
	return nil
}

// ListStepResults returns all step results for an execution in order.
func (b *Backend) ListStepResults(ctx context.Context, executionID string) ([]*store.StepResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	results := b.stepResults[executionID]
	out := make([]*store.StepResult, 0, len(results))
	for _, result := range results {
		out = append(out, copyStepResult(result))
	}
	return out, nil
}

// AppendDLQEntry appends a dead letter entry.
func (b *Backend) AppendDLQEntry(ctx context.Context, entry *store.DLQEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = b.now()
	}

	b.dlqEntries = append(b.dlqEntries, copyDLQEntry(entry))
	return nil
}

// ListDLQEntries returns dead letter entries, newest first.
func (b *Backend) ListDLQEntries(ctx context.Context, limit int) ([]*store.DLQEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*store.DLQEntry, 0, len(b.dlqEntries))
	for i := len(b.dlqEntries) - 1; i >= 0; i-- {
		out = append(out, copyDLQEntry(b.dlqEntries[i]))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AppendLogEntries appends a batch of log entries.
func (b *Backend) AppendLogEntries(ctx context.Context, entries []*store.LogEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.New().String()
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = b.now()
		}
		b.logEntries[entry.ExecutionID] = append(b.logEntries[entry.ExecutionID], copyLogEntry(entry))
	}
	return nil
}

// ListLogEntries returns log entries for an execution in timestamp order.
func (b *Backend) ListLogEntries(ctx context.Context, executionID string) ([]*store.LogEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := b.logEntries[executionID]
	out := make([]*store.LogEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, copyLogEntry(entry))
	}
	return out, nil
}

// Close closes the backend.
func (b *Backend) Close() error {
	return nil
}

// applyPatch mutates an execution in place per the patch contract.
func applyPatch(execution *store.Execution, patch store.ExecutionPatch) {
	if patch.Status != nil {
		execution.Status = *patch.Status
	}
	if patch.Output != nil {
		execution.Output = copyMap(patch.Output)
	}
	if patch.Error != nil {
		execution.Error = *patch.Error
	}
	if patch.CurrentStepID != nil {
		execution.CurrentStepID = *patch.CurrentStepID
	}
	if patch.RetryCount != nil {
		execution.RetryCount = *patch.RetryCount
	}
	if patch.NextRetryAt != nil {
		t := *patch.NextRetryAt
		execution.NextRetryAt = &t
	}
	if patch.WorkerID != nil {
		execution.WorkerID = *patch.WorkerID
	}
	if patch.LockedAt != nil {
		t := *patch.LockedAt
		execution.LockedAt = &t
	}
	if patch.StartedAt != nil {
		t := *patch.StartedAt
		execution.StartedAt = &t
	}
	if patch.CompletedAt != nil {
		t := *patch.CompletedAt
		execution.CompletedAt = &t
	}

	if patch.ClearNextRetryAt {
		execution.NextRetryAt = nil
	}
	if patch.ClearWorkerLock {
		execution.WorkerID = ""
		execution.LockedAt = nil
	}
	if patch.ClearCurrentStepID {
		execution.CurrentStepID = ""
	}
}

// copyExecution returns a deep enough copy: maps are cloned one level,
// time pointers are re-pointed.
func copyExecution(e *store.Execution) *store.Execution {
	c := *e
	c.Input = copyMap(e.Input)
	c.Output = copyMap(e.Output)
	c.NextRetryAt = copyTime(e.NextRetryAt)
	c.LockedAt = copyTime(e.LockedAt)
	c.StartedAt = copyTime(e.StartedAt)
	c.CompletedAt = copyTime(e.CompletedAt)
	return &c
}

func copyStepResult(r *store.StepResult) *store.StepResult {
	c := *r
	c.Output = copyMap(r.Output)
	return &c
}

func copyDLQEntry(e *store.DLQEntry) *store.DLQEntry {
	c := *e
	c.Payload = copyMap(e.Payload)
	return &c
}

func copyLogEntry(e *store.LogEntry) *store.LogEntry {
	c := *e
	c.Metadata = copyMap(e.Metadata)
	return &c
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
