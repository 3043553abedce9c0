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

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tombee/baton/internal/daemon/api"
	"github.com/tombee/baton/internal/engine"
	"github.com/tombee/baton/internal/store/memory"
	"github.com/tombee/baton/pkg/workflow"
)

type stubPool struct{}

func (stubPool) ActiveCount() int { return 0 }
func (stubPool) Draining() bool   { return false }

// startTestDaemon serves the real API over an in-memory store.
func startTestDaemon(t *testing.T) string {
	t.Helper()

	st := memory.New()
	def := &workflow.Definition{
		Name:    "orders",
		Version: 1,
		Steps: []workflow.Step{
			{ID: "reserve", Type: "transform"},
		},
	}
	eng := engine.New(st, workflow.NewStaticResolver(def), nil)
	handler := api.NewHandler(eng, stubPool{}, "memory", api.VersionInfo{Version: "test"})
	srv := httptest.NewServer(api.NewRouter(handler, api.RouterConfig{}))
	t.Cleanup(srv.Close)
	return srv.URL
}

// run executes the CLI against the given args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand(BuildInfo{Version: "test"})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSubmitAndList(t *testing.T) {
	url := startTestDaemon(t)

	out, err := run(t, "submit", "orders", "--input", `{"order_id":"ord-1"}`, "--server", url)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		t.Fatal("submit printed no execution ID")
	}

	out, err = run(t, "list", "--json", "--server", url)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("list output not JSON: %v\n%s", err, out)
	}
	if resp.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Count)
	}
}

func TestGetUnknownExecution(t *testing.T) {
	url := startTestDaemon(t)

	if _, err := run(t, "get", "no-such-id", "--server", url); err == nil {
		t.Fatal("expected error for unknown execution")
	}
}

func TestCancelWithYesFlag(t *testing.T) {
	url := startTestDaemon(t)

	out, err := run(t, "submit", "orders", "--server", url)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := strings.TrimSpace(out)

	if _, err := run(t, "cancel", id, "--yes", "--server", url); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	out, err = run(t, "get", id, "--json", "--server", url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var detail struct {
		Execution struct {
			Status string `json:"status"`
		} `json:"execution"`
	}
	if err := json.Unmarshal([]byte(out), &detail); err != nil {
		t.Fatalf("get output not JSON: %v", err)
	}
	if detail.Execution.Status != "cancelled" {
		t.Errorf("status = %q, want cancelled", detail.Execution.Status)
	}
}

func TestReadInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.json")
	if err := os.WriteFile(path, []byte(`{"k":"v"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		file    string
		inline  string
		wantKey string
		wantErr bool
	}{
		{name: "from file", file: path, wantKey: "k"},
		{name: "inline", inline: `{"a":1}`, wantKey: "a"},
		{name: "neither", wantKey: ""},
		{name: "both", file: path, inline: `{}`, wantErr: true},
		{name: "not an object", inline: `[1,2]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := readInput(tt.file, tt.inline)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("readInput: %v", err)
			}
			if tt.wantKey == "" {
				if input != nil {
					t.Errorf("expected nil input, got %v", input)
				}
				return
			}
			if _, ok := input[tt.wantKey]; !ok {
				t.Errorf("missing key %q in %v", tt.wantKey, input)
			}
		})
	}
}
