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

// Package storetest provides a conformance suite run against every store
// backend. A backend that passes the suite satisfies the semantics the
// engine, runner, and worker pool rely on: claim atomicity and ordering,
// idempotent creation, conditional cancellation, and stale claim release.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/baton/internal/store"
)

// Factory returns a fresh, empty store for a single subtest.
// Cleanup is the caller's responsibility (t.Cleanup or test teardown).
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against backends produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, factory(t)) })
	t.Run("CreateDuplicateKey", func(t *testing.T) { testCreateDuplicateKey(t, factory(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory(t)) })
	t.Run("FindByIdempotencyKey", func(t *testing.T) { testFindByIdempotencyKey(t, factory(t)) })
	t.Run("UpdatePatch", func(t *testing.T) { testUpdatePatch(t, factory(t)) })
	t.Run("UpdateClearFlags", func(t *testing.T) { testUpdateClearFlags(t, factory(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, factory(t)) })
	t.Run("List", func(t *testing.T) { testList(t, factory(t)) })
	t.Run("ClaimSetsClaimFields", func(t *testing.T) { testClaimSetsClaimFields(t, factory(t)) })
	t.Run("ClaimOrdering", func(t *testing.T) { testClaimOrdering(t, factory(t)) })
	t.Run("ClaimSkipsNotDue", func(t *testing.T) { testClaimSkipsNotDue(t, factory(t)) })
	t.Run("ClaimRetryScheduledDue", func(t *testing.T) { testClaimRetryScheduledDue(t, factory(t)) })
	t.Run("ClaimPreservesStartedAt", func(t *testing.T) { testClaimPreservesStartedAt(t, factory(t)) })
	t.Run("ClaimNoDuplicatesUnderConcurrency", func(t *testing.T) { testClaimConcurrent(t, factory(t)) })
	t.Run("ReleaseStaleClaims", func(t *testing.T) { testReleaseStaleClaims(t, factory(t)) })
	t.Run("CancelNonTerminal", func(t *testing.T) { testCancelNonTerminal(t, factory(t)) })
	t.Run("CancelTerminalConflict", func(t *testing.T) { testCancelTerminalConflict(t, factory(t)) })
	t.Run("CancelMissing", func(t *testing.T) { testCancelMissing(t, factory(t)) })
	t.Run("StepResults", func(t *testing.T) { testStepResults(t, factory(t)) })
	t.Run("DLQ", func(t *testing.T) { testDLQ(t, factory(t)) })
	t.Run("Logs", func(t *testing.T) { testLogs(t, factory(t)) })
}

// newExecution builds a pending execution with a unique ID.
func newExecution(workflow string) *store.Execution {
	return &store.Execution{
		ID:              uuid.New().String(),
		WorkflowID:      uuid.New().String(),
		WorkflowName:    workflow,
		WorkflowVersion: 1,
		Status:          store.StatusPending,
		Input:           map[string]any{"seed": workflow},
	}
}

// create inserts an execution and fails the test on error.
// The short sleep keeps created_at strictly increasing across sequential
// creates, which claim-ordering assertions depend on.
func create(t *testing.T, s store.Store, e *store.Execution) *store.Execution {
	t.Helper()
	if err := s.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	return e
}

func testCreateAndGet(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	e := newExecution("orders")
	e.IdempotencyKey = "key-1"
	create(t, s, e)

	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.ID != e.ID {
		t.Errorf("ID = %q, want %q", got.ID, e.ID)
	}
	if got.Status != store.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.WorkflowName != "orders" {
		t.Errorf("WorkflowName = %q, want orders", got.WorkflowName)
	}
	if got.WorkflowVersion != 1 {
		t.Errorf("WorkflowVersion = %d, want 1", got.WorkflowVersion)
	}
	if got.IdempotencyKey != "key-1" {
		t.Errorf("IdempotencyKey = %q, want key-1", got.IdempotencyKey)
	}
	if got.Input["seed"] != "orders" {
		t.Errorf("Input = %v", got.Input)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not stamped")
	}
	if got.StartedAt != nil || got.CompletedAt != nil || got.LockedAt != nil || got.NextRetryAt != nil {
		t.Error("nullable timestamps should start unset")
	}
}

func testCreateDuplicateKey(t *testing.T, s store.Store) {
	defer s.Close()

	first := newExecution("orders")
	first.IdempotencyKey = "dup-key"
	create(t, s, first)

	second := newExecution("orders")
	second.IdempotencyKey = "dup-key"
	err := s.CreateExecution(context.Background(), second)
	if !store.IsDuplicateKey(err) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	// Executions without a key never collide
	third := newExecution("orders")
	fourth := newExecution("orders")
	if err := s.CreateExecution(context.Background(), third); err != nil {
		t.Fatalf("CreateExecution without key: %v", err)
	}
	if err := s.CreateExecution(context.Background(), fourth); err != nil {
		t.Fatalf("CreateExecution without key: %v", err)
	}
}

func testGetMissing(t *testing.T, s store.Store) {
	defer s.Close()

	_, err := s.GetExecution(context.Background(), uuid.New().String())
	if !store.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testFindByIdempotencyKey(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	e := newExecution("orders")
	e.IdempotencyKey = "find-me"
	create(t, s, e)

	got, err := s.FindByIdempotencyKey(ctx, "find-me")
	if err != nil {
		t.Fatalf("FindByIdempotencyKey: %v", err)
	}
	if got.ID != e.ID {
		t.Errorf("ID = %q, want %q", got.ID, e.ID)
	}

	if _, err := s.FindByIdempotencyKey(ctx, "absent"); !store.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testUpdatePatch(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	e := create(t, s, newExecution("orders"))

	nextRetry := time.Now().Add(5 * time.Second).UTC().Truncate(time.Millisecond)
	patch := store.ExecutionPatch{
		Status:        store.StatusPtr(store.StatusRetryScheduled),
		Error:         store.StringPtr("step failed"),
		CurrentStepID: store.StringPtr("fetch"),
		RetryCount:    store.IntPtr(2),
		NextRetryAt:   &nextRetry,
		Output:        map[string]any{"partial": true},
	}
	if err := s.UpdateExecution(ctx, e.ID, patch); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != store.StatusRetryScheduled {
		t.Errorf("Status = %q, want retry_scheduled", got.Status)
	}
	if got.Error != "step failed" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.CurrentStepID != "fetch" {
		t.Errorf("CurrentStepID = %q, want fetch", got.CurrentStepID)
	}
	if got.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", got.RetryCount)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(nextRetry) {
		t.Errorf("NextRetryAt = %v, want %v", got.NextRetryAt, nextRetry)
	}
	if got.Output["partial"] != true {
		t.Errorf("Output = %v", got.Output)
	}

	// Untouched fields survive a partial update
	if got.WorkflowName != "orders" {
		t.Errorf("WorkflowName changed: %q", got.WorkflowName)
	}
	if got.Input["seed"] != "orders" {
		t.Errorf("Input changed: %v", got.Input)
	}
}

func testUpdateClearFlags(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	e := create(t, s, newExecution("orders"))

	now := time.Now().UTC().Truncate(time.Millisecond)
	setup := store.ExecutionPatch{
		Status:        store.StatusPtr(store.StatusRunning),
		WorkerID:      store.StringPtr("worker-1"),
		LockedAt:      &now,
		NextRetryAt:   &now,
		CurrentStepID: store.StringPtr("fetch"),
	}
	if err := s.UpdateExecution(ctx, e.ID, setup); err != nil {
		t.Fatalf("setup patch: %v", err)
	}

	clear := store.ExecutionPatch{
		Status:             store.StatusPtr(store.StatusCompleted),
		ClearNextRetryAt:   true,
		ClearWorkerLock:    true,
		ClearCurrentStepID: true,
	}
	if err := s.UpdateExecution(ctx, e.ID, clear); err != nil {
		t.Fatalf("clear patch: %v", err)
	}

	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.NextRetryAt != nil {
		t.Errorf("NextRetryAt = %v, want nil", got.NextRetryAt)
	}
	if got.WorkerID != "" || got.LockedAt != nil {
		t.Errorf("worker lock not cleared: %q %v", got.WorkerID, got.LockedAt)
	}
	if got.CurrentStepID != "" {
		t.Errorf("CurrentStepID = %q, want empty", got.CurrentStepID)
	}
}

func testUpdateMissing(t *testing.T, s store.Store) {
	defer s.Close()

	err := s.UpdateExecution(context.Background(), uuid.New().String(), store.ExecutionPatch{
		Status: store.StatusPtr(store.StatusCompleted),
	})
	if !store.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testList(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	a := create(t, s, newExecution("orders"))
	b := create(t, s, newExecution("billing"))
	c := create(t, s, newExecution("orders"))

	completed := store.ExecutionPatch{Status: store.StatusPtr(store.StatusCompleted)}
	if err := s.UpdateExecution(ctx, b.ID, completed); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	all, err := s.ListExecutions(ctx, store.ListFilter{})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	// Newest first
	if all[0].ID != c.ID || all[2].ID != a.ID {
		t.Errorf("order = [%s %s %s], want newest first", all[0].ID, all[1].ID, all[2].ID)
	}

	orders, err := s.ListExecutions(ctx, store.ListFilter{WorkflowName: "orders"})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("len(orders) = %d, want 2", len(orders))
	}

	done, err := s.ListExecutions(ctx, store.ListFilter{Status: store.StatusCompleted})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(done) != 1 || done[0].ID != b.ID {
		t.Errorf("completed filter returned %d rows", len(done))
	}

	limited, err := s.ListExecutions(ctx, store.ListFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("len(limited) = %d, want 2", len(limited))
	}

	offset, err := s.ListExecutions(ctx, store.ListFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(offset) != 1 || offset[0].ID != a.ID {
		t.Errorf("offset page returned %d rows", len(offset))
	}
}

func testClaimSetsClaimFields(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	e := create(t, s, newExecution("orders"))

	claimed, err := s.Claim(ctx, "worker-1", 10)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("len(claimed) = %d, want 1", len(claimed))
	}

	got := claimed[0]
	if got.ID != e.ID {
		t.Errorf("ID = %q, want %q", got.ID, e.ID)
	}
	if got.Status != store.StatusRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.WorkerID != "worker-1" {
		t.Errorf("WorkerID = %q, want worker-1", got.WorkerID)
	}
	if got.LockedAt == nil {
		t.Error("LockedAt not set")
	}
	if got.StartedAt == nil {
		t.Error("StartedAt not set")
	}

	// The transition is visible through reads, not just the return value
	stored, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if stored.Status != store.StatusRunning || stored.WorkerID != "worker-1" {
		t.Errorf("stored = %s/%s, want running/worker-1", stored.Status, stored.WorkerID)
	}

	// A claimed execution is not claimable again
	again, err := s.Claim(ctx, "worker-2", 10)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second claim returned %d executions, want 0", len(again))
	}
}

func testClaimOrdering(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	first := create(t, s, newExecution("orders"))
	second := create(t, s, newExecution("orders"))
	third := create(t, s, newExecution("orders"))

	claimed, err := s.Claim(ctx, "worker-1", 2)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("len(claimed) = %d, want 2", len(claimed))
	}
	if claimed[0].ID != first.ID || claimed[1].ID != second.ID {
		t.Errorf("claim order = [%s %s], want oldest first", claimed[0].ID, claimed[1].ID)
	}

	rest, err := s.Claim(ctx, "worker-1", 2)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != third.ID {
		t.Errorf("remaining claim = %v, want [%s]", rest, third.ID)
	}
}

func testClaimSkipsNotDue(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	// Future retry: not due
	future := create(t, s, newExecution("orders"))
	futureAt := time.Now().Add(1 * time.Hour)
	if err := s.UpdateExecution(ctx, future.ID, store.ExecutionPatch{
		Status:      store.StatusPtr(store.StatusRetryScheduled),
		NextRetryAt: &futureAt,
	}); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	// Terminal and cancelled rows are never claimed
	for _, status := range []store.Status{store.StatusCompleted, store.StatusFailed, store.StatusCancelled} {
		e := create(t, s, newExecution("orders"))
		if err := s.UpdateExecution(ctx, e.ID, store.ExecutionPatch{Status: store.StatusPtr(status)}); err != nil {
			t.Fatalf("UpdateExecution: %v", err)
		}
	}

	claimed, err := s.Claim(ctx, "worker-1", 10)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("claimed %d executions, want 0", len(claimed))
	}
}

func testClaimRetryScheduledDue(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	e := create(t, s, newExecution("orders"))
	pastDue := time.Now().Add(-1 * time.Second)
	if err := s.UpdateExecution(ctx, e.ID, store.ExecutionPatch{
		Status:      store.StatusPtr(store.StatusRetryScheduled),
		NextRetryAt: &pastDue,
		RetryCount:  store.IntPtr(1),
	}); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	claimed, err := s.Claim(ctx, "worker-1", 10)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != e.ID {
		t.Fatalf("claimed = %v, want the due retry", claimed)
	}
	if claimed[0].RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1 (preserved)", claimed[0].RetryCount)
	}
}

func testClaimPreservesStartedAt(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	e := create(t, s, newExecution("orders"))

	first, err := s.Claim(ctx, "worker-1", 1)
	if err != nil || len(first) != 1 {
		t.Fatalf("first claim: %v %v", first, err)
	}
	originalStart := first[0].StartedAt
	if originalStart == nil {
		t.Fatal("StartedAt not set on first claim")
	}

	// Push back to retry and reclaim: started_at keeps the first value
	pastDue := time.Now().Add(-1 * time.Second)
	if err := s.UpdateExecution(ctx, e.ID, store.ExecutionPatch{
		Status:          store.StatusPtr(store.StatusRetryScheduled),
		NextRetryAt:     &pastDue,
		ClearWorkerLock: true,
	}); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	second, err := s.Claim(ctx, "worker-2", 1)
	if err != nil || len(second) != 1 {
		t.Fatalf("second claim: %v %v", second, err)
	}
	if second[0].StartedAt == nil || !second[0].StartedAt.Equal(*originalStart) {
		t.Errorf("StartedAt = %v, want preserved %v", second[0].StartedAt, originalStart)
	}
}

func testClaimConcurrent(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	const total = 20
	for i := 0; i < total; i++ {
		e := newExecution("orders")
		if err := s.CreateExecution(ctx, e); err != nil {
			t.Fatalf("CreateExecution: %v", err)
		}
	}

	const workers = 4
	var mu sync.Mutex
	seen := make(map[string]string) // execution ID → worker
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			for {
				claimed, err := s.Claim(ctx, workerID, 3)
				if err != nil {
					t.Errorf("Claim: %v", err)
					return
				}
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, e := range claimed {
					if prev, dup := seen[e.ID]; dup {
						t.Errorf("execution %s claimed by both %s and %s", e.ID, prev, workerID)
					}
					seen[e.ID] = workerID
				}
				mu.Unlock()
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	if len(seen) != total {
		t.Errorf("claimed %d executions, want %d", len(seen), total)
	}
}

func testReleaseStaleClaims(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	stale := create(t, s, newExecution("orders"))
	fresh := create(t, s, newExecution("orders"))

	staleLock := time.Now().Add(-45 * time.Minute)
	if err := s.UpdateExecution(ctx, stale.ID, store.ExecutionPatch{
		Status:   store.StatusPtr(store.StatusRunning),
		WorkerID: store.StringPtr("dead-worker"),
		LockedAt: &staleLock,
	}); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	freshLock := time.Now().Add(-1 * time.Minute)
	if err := s.UpdateExecution(ctx, fresh.ID, store.ExecutionPatch{
		Status:   store.StatusPtr(store.StatusRunning),
		WorkerID: store.StringPtr("live-worker"),
		LockedAt: &freshLock,
	}); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	released, err := s.ReleaseStaleClaims(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("ReleaseStaleClaims: %v", err)
	}
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}

	got, err := s.GetExecution(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != store.StatusPending {
		t.Errorf("stale Status = %q, want pending", got.Status)
	}
	if got.WorkerID != "" || got.LockedAt != nil {
		t.Errorf("stale lock not cleared: %q %v", got.WorkerID, got.LockedAt)
	}

	still, err := s.GetExecution(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if still.Status != store.StatusRunning || still.WorkerID != "live-worker" {
		t.Errorf("fresh claim disturbed: %s/%s", still.Status, still.WorkerID)
	}

	// Released executions are claimable again
	claimed, err := s.Claim(ctx, "worker-2", 10)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != stale.ID {
		t.Errorf("reclaim = %v, want the released execution", claimed)
	}
}

func testCancelNonTerminal(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	for _, status := range []store.Status{store.StatusPending, store.StatusRunning, store.StatusRetryScheduled} {
		e := create(t, s, newExecution("orders"))
		if status != store.StatusPending {
			if err := s.UpdateExecution(ctx, e.ID, store.ExecutionPatch{Status: store.StatusPtr(status)}); err != nil {
				t.Fatalf("UpdateExecution: %v", err)
			}
		}

		got, err := s.CancelExecution(ctx, e.ID)
		if err != nil {
			t.Fatalf("CancelExecution from %s: %v", status, err)
		}
		if got.Status != store.StatusCancelled {
			t.Errorf("Status = %q, want cancelled", got.Status)
		}
		if got.Error != "cancelled" {
			t.Errorf("Error = %q, want cancelled", got.Error)
		}
		if got.CompletedAt == nil {
			t.Error("CompletedAt not set")
		}
	}
}

func testCancelTerminalConflict(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	for _, status := range []store.Status{store.StatusCompleted, store.StatusFailed, store.StatusCancelled} {
		e := create(t, s, newExecution("orders"))
		if err := s.UpdateExecution(ctx, e.ID, store.ExecutionPatch{Status: store.StatusPtr(status)}); err != nil {
			t.Fatalf("UpdateExecution: %v", err)
		}

		_, err := s.CancelExecution(ctx, e.ID)
		if !store.IsConflict(err) {
			t.Errorf("cancel from %s: expected ErrConflict, got %v", status, err)
		}
	}
}

func testCancelMissing(t *testing.T, s store.Store) {
	defer s.Close()

	_, err := s.CancelExecution(context.Background(), uuid.New().String())
	if !store.IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testStepResults(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	e := create(t, s, newExecution("orders"))
	now := time.Now().UTC()

	// Two attempts of the same step plus a second step: all retained
	results := []*store.StepResult{
		{ExecutionID: e.ID, StepID: "fetch", Status: store.StatusFailed, Error: "boom", Attempt: 1, DurationMs: 12, StartedAt: now, CompletedAt: now},
		{ExecutionID: e.ID, StepID: "fetch", Status: store.StatusCompleted, Output: map[string]any{"statusCode": float64(200)}, Attempt: 2, DurationMs: 30, StartedAt: now, CompletedAt: now},
		{ExecutionID: e.ID, StepID: "shape", Status: store.StatusCompleted, Attempt: 1, DurationMs: 5, StartedAt: now, CompletedAt: now},
	}
	for _, r := range results {
		if err := s.AppendStepResult(ctx, r); err != nil {
			t.Fatalf("AppendStepResult: %v", err)
		}
	}

	got, err := s.ListStepResults(ctx, e.ID)
	if err != nil {
		t.Fatalf("ListStepResults: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].StepID != "fetch" || got[0].Attempt != 1 || got[0].Status != store.StatusFailed {
		t.Errorf("first result = %+v", got[0])
	}
	if got[1].Attempt != 2 || got[1].Output["statusCode"] != float64(200) {
		t.Errorf("second result = %+v", got[1])
	}
	if got[2].StepID != "shape" {
		t.Errorf("third result = %+v", got[2])
	}
	for _, r := range got {
		if r.ID == "" {
			t.Error("step result ID not assigned")
		}
	}

	other, err := s.ListStepResults(ctx, uuid.New().String())
	if err != nil {
		t.Fatalf("ListStepResults: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("unrelated execution has %d results", len(other))
	}
}

func testDLQ(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	first := create(t, s, newExecution("orders"))
	second := create(t, s, newExecution("billing"))

	entries := []*store.DLQEntry{
		{ExecutionID: first.ID, WorkflowName: "orders", Reason: "retries exhausted", Payload: map[string]any{"total_attempts": float64(3)}},
		{ExecutionID: second.ID, WorkflowName: "billing", Reason: "step not found in definition: ghost"},
	}
	for _, entry := range entries {
		if err := s.AppendDLQEntry(ctx, entry); err != nil {
			t.Fatalf("AppendDLQEntry: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	got, err := s.ListDLQEntries(ctx, 0)
	if err != nil {
		t.Fatalf("ListDLQEntries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Newest first
	if got[0].WorkflowName != "billing" {
		t.Errorf("first entry = %+v, want newest", got[0])
	}
	if got[1].Payload["total_attempts"] != float64(3) {
		t.Errorf("payload = %v", got[1].Payload)
	}

	limited, err := s.ListDLQEntries(ctx, 1)
	if err != nil {
		t.Fatalf("ListDLQEntries: %v", err)
	}
	if len(limited) != 1 || limited[0].WorkflowName != "billing" {
		t.Errorf("limited = %+v", limited)
	}
}

func testLogs(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	e := create(t, s, newExecution("orders"))
	now := time.Now().UTC()

	entries := []*store.LogEntry{
		{ExecutionID: e.ID, StepID: "fetch", Level: "info", Message: "starting fetch", Timestamp: now},
		{ExecutionID: e.ID, StepID: "fetch", Level: "error", Message: "boom", Metadata: map[string]any{"attempt": float64(1)}, Timestamp: now.Add(time.Millisecond)},
	}
	if err := s.AppendLogEntries(ctx, entries); err != nil {
		t.Fatalf("AppendLogEntries: %v", err)
	}

	// Empty batches are a no-op
	if err := s.AppendLogEntries(ctx, nil); err != nil {
		t.Fatalf("AppendLogEntries(nil): %v", err)
	}

	got, err := s.ListLogEntries(ctx, e.ID)
	if err != nil {
		t.Fatalf("ListLogEntries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Message != "starting fetch" || got[1].Level != "error" {
		t.Errorf("entries = %+v", got)
	}
	if got[1].Metadata["attempt"] != float64(1) {
		t.Errorf("metadata = %v", got[1].Metadata)
	}
}
