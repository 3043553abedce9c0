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

package store

import "time"

// Status is the lifecycle state of an execution.
type Status string

// Execution lifecycle states.
//
// pending and retry_scheduled are claimable; running is locked by a
// worker; completed, failed, and cancelled are terminal.
const (
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusRetryScheduled Status = "retry_scheduled"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// IsTerminal reports whether the status is a final state.
// Terminal executions are never claimed and never transition again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusRetryScheduled,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Execution represents a single run of a workflow definition.
//
// An execution pins the (WorkflowName, WorkflowVersion) pair it was
// submitted against and carries its full progress state: the step cursor,
// accumulated output, retry bookkeeping, and the worker lock.
type Execution struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	WorkflowName    string         `json:"workflow_name"`
	WorkflowVersion int            `json:"workflow_version"`
	Status          Status         `json:"status"`
	Input           map[string]any `json:"input,omitempty"`
	Output          map[string]any `json:"output,omitempty"`
	Error           string         `json:"error,omitempty"`

	// CurrentStepID is the checkpoint cursor: the step the runner is
	// about to execute (or mid-way through when a claim is recovered).
	CurrentStepID string `json:"current_step_id,omitempty"`

	// RetryCount is the number of failed attempts of the current step.
	RetryCount int `json:"retry_count"`

	// NextRetryAt is when a retry_scheduled execution becomes claimable.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// WorkerID and LockedAt identify the claim held on a running
	// execution. Cleared when the claim is released.
	WorkerID string     `json:"worker_id,omitempty"`
	LockedAt *time.Time `json:"locked_at,omitempty"`

	// IdempotencyKey deduplicates submissions. Empty means no key.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StepResult is the append-only audit record of a single step attempt.
type StepResult struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	Status      Status         `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`

	// Attempt is 1-based: retry_count+1 at the time the step ran.
	Attempt int `json:"attempt"`

	DurationMs  int64     `json:"duration_ms"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// DLQEntry records an execution that exhausted its retry budget.
// Payload carries the diagnostic context: last error, total_attempts,
// input, last step id, and workflow version.
type DLQEntry struct {
	ID           string         `json:"id"`
	ExecutionID  string         `json:"execution_id"`
	WorkflowName string         `json:"workflow_name"`
	Reason       string         `json:"reason"`
	Payload      map[string]any `json:"payload,omitempty"`
	FailedAt     time.Time      `json:"failed_at"`
}

// LogEntry is a log record emitted by a step handler during execution.
type LogEntry struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id,omitempty"`
	Level       string         `json:"level"`
	Message     string         `json:"message"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// ExecutionPatch is a partial update to an execution.
//
// Nil pointer fields (and a nil Output map) leave the column unchanged.
// Nullable columns have explicit clear flags because a nil pointer is
// indistinguishable from "no change": ClearNextRetryAt nulls
// next_retry_at, ClearWorkerLock nulls worker_id and locked_at,
// ClearCurrentStepID nulls current_step_id. updated_at is always stamped
// by the backend.
type ExecutionPatch struct {
	Status        *Status
	Output        map[string]any
	Error         *string
	CurrentStepID *string
	RetryCount    *int
	NextRetryAt   *time.Time
	WorkerID      *string
	LockedAt      *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time

	ClearNextRetryAt   bool
	ClearWorkerLock    bool
	ClearCurrentStepID bool
}

// ListFilter contains filtering options for listing executions.
type ListFilter struct {
	Status       Status
	WorkflowName string
	Limit        int
	Offset       int
}

// Patch field constructors keep call sites terse.

// StatusPtr returns a pointer to s for use in an ExecutionPatch.
func StatusPtr(s Status) *Status { return &s }

// StringPtr returns a pointer to s for use in an ExecutionPatch.
func StringPtr(s string) *string { return &s }

// IntPtr returns a pointer to i for use in an ExecutionPatch.
func IntPtr(i int) *int { return &i }

// TimePtr returns a pointer to t for use in an ExecutionPatch.
func TimePtr(t time.Time) *time.Time { return &t }
