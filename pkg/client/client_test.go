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

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tombee/baton/internal/daemon/api"
	"github.com/tombee/baton/internal/engine"
	"github.com/tombee/baton/internal/store"
	"github.com/tombee/baton/internal/store/memory"
	"github.com/tombee/baton/pkg/workflow"
)

// newTestServer runs the real daemon router so the client is exercised
// against actual handler behavior, not a canned stub.
func newTestServer(t *testing.T) (*Client, *memory.Backend) {
	t.Helper()
	backend := memory.New()
	resolver := workflow.NewStaticResolver(&workflow.Definition{
		Name:    "orders",
		Version: 1,
		Steps:   []workflow.Step{{ID: "a", Type: "log"}},
	})
	eng := engine.New(backend, resolver, nil)
	handler := api.NewHandler(eng, nil, "memory", api.VersionInfo{Version: "test"})
	srv := httptest.NewServer(api.NewRouter(handler, api.RouterConfig{}))
	t.Cleanup(srv.Close)

	return New(srv.URL, WithHTTPClient(srv.Client())), backend
}

func TestSubmitGetCancel(t *testing.T) {
	c, _ := newTestServer(t)
	ctx := context.Background()

	resp, err := c.Submit(ctx, SubmitRequest{
		Workflow: "orders",
		Input:    map[string]any{"order_id": "42"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !resp.Created {
		t.Error("Created = false, want true")
	}
	if resp.Status != "pending" {
		t.Errorf("Status = %q, want pending", resp.Status)
	}

	detail, err := c.Get(ctx, resp.ExecutionID, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if detail.Execution.ID != resp.ExecutionID {
		t.Errorf("Get ID = %q, want %q", detail.Execution.ID, resp.ExecutionID)
	}

	cancelled, err := c.Cancel(ctx, resp.ExecutionID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != store.StatusCancelled {
		t.Errorf("cancelled Status = %q", cancelled.Status)
	}

	// Second cancel conflicts
	_, err = c.Cancel(ctx, resp.ExecutionID)
	if !IsConflict(err) {
		t.Errorf("second Cancel error = %v, want conflict", err)
	}
}

func TestSubmitIdempotentReplay(t *testing.T) {
	c, _ := newTestServer(t)
	ctx := context.Background()
	req := SubmitRequest{Workflow: "orders", IdempotencyKey: "evt-1"}

	first, err := c.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second, err := c.Submit(ctx, req)
	if err != nil {
		t.Fatalf("replay Submit: %v", err)
	}
	if second.Created {
		t.Error("replay Created = true, want false")
	}
	if second.ExecutionID != first.ExecutionID {
		t.Errorf("replay ID = %q, want %q", second.ExecutionID, first.ExecutionID)
	}
}

func TestGetNotFound(t *testing.T) {
	c, _ := newTestServer(t)

	_, err := c.Get(context.Background(), "no-such-id", false)
	if !IsNotFound(err) {
		t.Fatalf("error = %v, want not found", err)
	}
}

func TestList(t *testing.T) {
	c, _ := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Submit(ctx, SubmitRequest{Workflow: "orders"}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	resp, err := c.List(ctx, ListOptions{Status: "pending", Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("Count = %d, want 2", resp.Count)
	}
}

func TestDLQAndHealth(t *testing.T) {
	c, backend := newTestServer(t)
	ctx := context.Background()

	if err := backend.AppendDLQEntry(ctx, &store.DLQEntry{
		ExecutionID:  "exec-1",
		WorkflowName: "orders",
		Reason:       "step a failed after 3 attempts",
	}); err != nil {
		t.Fatalf("AppendDLQEntry: %v", err)
	}

	dlq, err := c.DLQ(ctx, 0)
	if err != nil {
		t.Fatalf("DLQ: %v", err)
	}
	if dlq.Count != 1 {
		t.Errorf("DLQ Count = %d, want 1", dlq.Count)
	}

	health, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != "ok" || health.Backend != "memory" {
		t.Errorf("health = %+v", health)
	}
}

func TestWait(t *testing.T) {
	c, backend := newTestServer(t)
	ctx := context.Background()

	resp, err := c.Submit(ctx, SubmitRequest{Workflow: "orders"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = backend.UpdateExecution(context.Background(), resp.ExecutionID, store.ExecutionPatch{
			Status: store.StatusPtr(store.StatusCompleted),
		})
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	detail, err := c.Wait(waitCtx, resp.ExecutionID, WaitOptions{PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if detail.Execution.Status != store.StatusCompleted {
		t.Errorf("Status = %q, want completed", detail.Execution.Status)
	}
}

func TestAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithAPIKey("secret-key"))
	if _, err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if gotAuth != "Bearer secret-key" {
		t.Errorf("Authorization = %q, want Bearer secret-key", gotAuth)
	}
}
