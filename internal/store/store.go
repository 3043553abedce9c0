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

// Package store provides persistent storage for workflow executions.
//
// # Interface Hierarchy
//
// The store package uses interface segregation to allow minimal
// implementations:
//
//   - ExecutionStore (core, required): execution lifecycle, claiming, cancel
//   - StepResultStore: append-only per-step audit records
//   - DLQStore: dead letter entries for exhausted executions
//   - ExecutionLogStore: buffered log entries emitted by step handlers
//
// The Store interface composes all of these plus io.Closer for
// full-featured backends. Every backend carries compile-time assertions
// (var _ store.X = (*Backend)(nil)) for each interface it implements.
//
// # Error Contract
//
// Backends translate their driver errors to the package sentinels so
// callers can branch without knowing the backend:
//
//   - ErrNotFound: lookups for absent rows
//   - ErrDuplicateKey: unique violation on idempotency_key
//   - ErrConflict: conditional writes rejected by current state
//
// Sentinels are wrapped with context (errors.Is matches them).
package store

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors returned by all backends.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey indicates an insert violated the idempotency_key
	// unique constraint. Callers translate this to a lookup.
	ErrDuplicateKey = errors.New("duplicate idempotency key")

	// ErrConflict indicates a conditional write was rejected because the
	// row's current state does not permit it (e.g. cancelling a terminal
	// execution).
	ErrConflict = errors.New("conflicting state")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDuplicateKey reports whether err wraps ErrDuplicateKey.
func IsDuplicateKey(err error) bool { return errors.Is(err, ErrDuplicateKey) }

// IsConflict reports whether err wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// ExecutionStore is the core interface for execution storage.
// This is the minimal interface backends must implement for the worker
// pool and engine to operate.
type ExecutionStore interface {
	// CreateExecution inserts a new execution row.
	// A unique violation on idempotency_key returns ErrDuplicateKey;
	// the insert is the idempotency arbiter, never a prior lookup.
	CreateExecution(ctx context.Context, execution *Execution) error

	// GetExecution retrieves an execution by ID.
	// Returns ErrNotFound when absent.
	GetExecution(ctx context.Context, id string) (*Execution, error)

	// UpdateExecution applies a partial update to an execution.
	// Last writer wins; there is no compare-and-swap.
	UpdateExecution(ctx context.Context, id string, patch ExecutionPatch) error

	// FindByIdempotencyKey retrieves the execution created under key.
	// Returns ErrNotFound when absent.
	FindByIdempotencyKey(ctx context.Context, key string) (*Execution, error)

	// ListExecutions lists executions matching the filter, newest first.
	ListExecutions(ctx context.Context, filter ListFilter) ([]*Execution, error)

	// Claim atomically claims up to batchSize due executions for workerID.
	// Due means status=pending, or status=retry_scheduled with
	// next_retry_at <= now. Rows are claimed oldest first (created_at ASC)
	// and transition to running with worker_id, locked_at, and started_at
	// set before any other claimer can observe them. Concurrent claimers
	// never receive the same execution and never block each other.
	Claim(ctx context.Context, workerID string, batchSize int) ([]*Execution, error)

	// ReleaseStaleClaims resets running executions whose locked_at is older
	// than olderThan back to pending, clearing the worker lock. Returns the
	// number of executions released.
	ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error)

	// CancelExecution atomically cancels an execution if its current
	// status is non-terminal, returning the updated row. Returns
	// ErrConflict when the execution is already terminal, ErrNotFound
	// when absent.
	CancelExecution(ctx context.Context, id string) (*Execution, error)
}

// StepResultStore records per-step execution results.
// Results are append-only: retries append a new row per attempt.
type StepResultStore interface {
	// AppendStepResult appends a step result row.
	AppendStepResult(ctx context.Context, result *StepResult) error

	// ListStepResults returns all step results for an execution in
	// insertion order.
	ListStepResults(ctx context.Context, executionID string) ([]*StepResult, error)
}

// DLQStore records executions that exhausted their retry budget.
type DLQStore interface {
	// AppendDLQEntry appends a dead letter entry.
	AppendDLQEntry(ctx context.Context, entry *DLQEntry) error

	// ListDLQEntries returns dead letter entries, newest first.
	// limit <= 0 means no limit.
	ListDLQEntries(ctx context.Context, limit int) ([]*DLQEntry, error)
}

// ExecutionLogStore records log entries emitted by step handlers.
type ExecutionLogStore interface {
	// AppendLogEntries appends a batch of log entries.
	AppendLogEntries(ctx context.Context, entries []*LogEntry) error

	// ListLogEntries returns log entries for an execution in timestamp
	// order.
	ListLogEntries(ctx context.Context, executionID string) ([]*LogEntry, error)
}

// Store is the full interface for execution storage.
// All shipped backends (memory, sqlite, postgres) implement it.
type Store interface {
	ExecutionStore
	StepResultStore
	DLQStore
	ExecutionLogStore
	io.Closer
}
