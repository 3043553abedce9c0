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

package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend_Metadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")

	backend, err := NewFileBackend(path, "test-master-key-123")
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	if backend.Name() != "file" {
		t.Errorf("Name() = %v, want %v", backend.Name(), "file")
	}

	if backend.Priority() != FileBackendPriority {
		t.Errorf("Priority() = %v, want %v", backend.Priority(), FileBackendPriority)
	}

	if !backend.Available() {
		t.Error("Available() = false, want true")
	}
}

func TestFileBackend_SetGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")

	backend, err := NewFileBackend(path, "test-master-key-for-encryption-123")
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	ctx := context.Background()

	if err := backend.Set(ctx, "api_token", "value1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("File permissions = %o, want 0600", info.Mode().Perm())
	}

	value, err := backend.Get(ctx, "api_token")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "value1" {
		t.Errorf("Get() = %v, want %v", value, "value1")
	}

	_, err = backend.Get(ctx, "missing")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Get() non-existent error = %v, want %v", err, ErrSecretNotFound)
	}

	if err := backend.Set(ctx, "api_token", "updated-value"); err != nil {
		t.Fatalf("Set() (update) error = %v", err)
	}
	value, err = backend.Get(ctx, "api_token")
	if err != nil {
		t.Fatalf("Get() (after update) error = %v", err)
	}
	if value != "updated-value" {
		t.Errorf("Get() (after update) = %v, want %v", value, "updated-value")
	}

	if err := backend.Delete(ctx, "api_token"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, err = backend.Get(ctx, "api_token")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Get() after delete error = %v, want %v", err, ErrSecretNotFound)
	}

	err = backend.Delete(ctx, "api_token")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Delete() non-existent error = %v, want %v", err, ErrSecretNotFound)
	}
}

func TestFileBackend_List(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")

	backend, err := NewFileBackend(path, "test-master-key-123")
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	ctx := context.Background()

	// List on an empty store is empty, not an error.
	names, err := backend.List(ctx)
	if err != nil {
		t.Fatalf("List() (empty) error = %v", err)
	}
	if len(names) != 0 {
		t.Errorf("List() (empty) = %v, want empty", names)
	}

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := backend.Set(ctx, name, "v-"+name); err != nil {
			t.Fatalf("Set(%q) error = %v", name, err)
		}
	}

	names, err = backend.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("List() returned %d names, want %d", len(names), len(want))
	}
	for i, w := range want {
		if names[i] != w {
			t.Errorf("List()[%d] = %v, want %v", i, names[i], w)
		}
	}
}

func TestFileBackend_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")
	masterKey := "persistent-master-key"
	ctx := context.Background()

	first, err := NewFileBackend(path, masterKey)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	if err := first.Set(ctx, "durable", "survives-restart"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// A fresh backend with the same master key reads the same store.
	second, err := NewFileBackend(path, masterKey)
	if err != nil {
		t.Fatalf("NewFileBackend() (reopen) error = %v", err)
	}
	value, err := second.Get(ctx, "durable")
	if err != nil {
		t.Fatalf("Get() (reopen) error = %v", err)
	}
	if value != "survives-restart" {
		t.Errorf("Get() (reopen) = %v, want %v", value, "survives-restart")
	}
}

func TestFileBackend_WrongMasterKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")
	ctx := context.Background()

	backend, err := NewFileBackend(path, "correct-key")
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	if err := backend.Set(ctx, "api_token", "value"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	wrong, err := NewFileBackend(path, "wrong-key")
	if err != nil {
		t.Fatalf("NewFileBackend() (wrong key) error = %v", err)
	}
	if _, err := wrong.Get(ctx, "api_token"); err == nil {
		t.Error("Get() with wrong master key succeeded, want error")
	}
}

func TestFileBackend_NoMasterKey(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "secrets.enc")

	// No explicit key, no env var, no master.key file: the backend
	// reports unavailable rather than failing construction.
	t.Setenv("BATON_MASTER_KEY", "")

	backend, err := NewFileBackend(path, "")
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	if backend.Available() {
		t.Error("Available() = true without a master key, want false")
	}

	_, err = backend.Get(context.Background(), "anything")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Get() error = %v, want %v", err, ErrBackendUnavailable)
	}
}

func TestFileBackend_MasterKeyFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.enc")
	t.Setenv("BATON_MASTER_KEY", "env-master-key")
	ctx := context.Background()

	backend, err := NewFileBackend(path, "")
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	if !backend.Available() {
		t.Fatal("Available() = false with BATON_MASTER_KEY set, want true")
	}

	if err := backend.Set(ctx, "api_token", "from-env-key"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, err := backend.Get(ctx, "api_token")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "from-env-key" {
		t.Errorf("Get() = %v, want %v", value, "from-env-key")
	}
}

func TestFileBackend_MasterKeyFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "secrets.enc")
	t.Setenv("BATON_MASTER_KEY", "")

	keyPath := filepath.Join(tmpDir, "master.key")
	if err := os.WriteFile(keyPath, []byte("file-master-key\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	backend, err := NewFileBackend(path, "")
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	if !backend.Available() {
		t.Fatal("Available() = false with master.key present, want true")
	}

	ctx := context.Background()
	if err := backend.Set(ctx, "api_token", "from-key-file"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, err := backend.Get(ctx, "api_token")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "from-key-file" {
		t.Errorf("Get() = %v, want %v", value, "from-key-file")
	}
}
