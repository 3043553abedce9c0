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

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tombee/baton/internal/config"
	"github.com/tombee/baton/internal/engine"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	wf := filepath.Join(dir, "workflows")
	if err := os.MkdirAll(wf, 0o755); err != nil {
		t.Fatalf("mkdir workflows: %v", err)
	}
	def := `name: orders
version: 1
steps:
  - id: hello
    type: log
    config:
      message: hi
`
	if err := os.WriteFile(filepath.Join(wf, "orders.yaml"), []byte(def), 0o644); err != nil {
		t.Fatalf("write workflow: %v", err)
	}

	cfg := config.Default()
	cfg.Backend.Type = config.BackendMemory
	cfg.Workflows.Dir = wf
	watch := false
	cfg.Workflows.Watch = &watch
	cfg.Daemon.Listen.TCPAddr = "127.0.0.1:0"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestNewAndShutdown(t *testing.T) {
	ctx := context.Background()
	d, err := New(ctx, testConfig(t), Options{Version: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// The resolver loaded the seeded workflow, so a submit resolves.
	exec, created, err := d.Engine().Submit(ctx, engine.SubmitRequest{WorkflowName: "orders"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !created || exec.WorkflowVersion != 1 {
		t.Errorf("created = %v, version = %d", created, exec.WorkflowVersion)
	}

	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Type = config.BackendSQLite
	cfg.Backend.SQLite.Path = filepath.Join(t.TempDir(), "nested", "baton.db")

	st, name, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeStore(st)
	if name != "sqlite" {
		t.Errorf("backend name = %q, want sqlite", name)
	}
}

func TestOpenStoreUnknown(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Type = "etcd"
	if _, _, err := openStore(cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestBuildSecretsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Secrets.Backends = []string{"vault"}
	if _, err := buildSecrets(cfg); err == nil {
		t.Fatal("expected error for unknown secrets backend")
	}
}
