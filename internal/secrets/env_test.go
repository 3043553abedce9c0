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
	"testing"
)

func TestEnvBackend_Get(t *testing.T) {
	backend := NewEnvBackend()
	ctx := context.Background()

	tests := []struct {
		name      string
		key       string
		envVars   map[string]string
		wantValue string
		wantErr   error
	}{
		{
			name: "simple key found",
			key:  "api_token",
			envVars: map[string]string{
				"BATON_SECRET_API_TOKEN": "tok-123",
			},
			wantValue: "tok-123",
			wantErr:   nil,
		},
		{
			name: "dashes and dots normalized",
			key:  "payments.stripe-key",
			envVars: map[string]string{
				"BATON_SECRET_PAYMENTS_STRIPE_KEY": "sk-live",
			},
			wantValue: "sk-live",
			wantErr:   nil,
		},
		{
			name: "lowercase key matches uppercase env",
			key:  "github_token",
			envVars: map[string]string{
				"BATON_SECRET_GITHUB_TOKEN": "ghp-test",
			},
			wantValue: "ghp-test",
			wantErr:   nil,
		},
		{
			name:      "key not found",
			key:       "missing_key",
			envVars:   map[string]string{},
			wantValue: "",
			wantErr:   ErrSecretNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			got, err := backend.Get(ctx, tt.key)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Get() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.wantValue {
				t.Errorf("Get() = %v, want %v", got, tt.wantValue)
			}
		})
	}
}

func TestEnvBackend_ReadOnly(t *testing.T) {
	backend := NewEnvBackend()
	ctx := context.Background()

	if err := backend.Set(ctx, "key", "value"); !errors.Is(err, ErrReadOnlyBackend) {
		t.Errorf("Set() error = %v, want %v", err, ErrReadOnlyBackend)
	}

	if err := backend.Delete(ctx, "key"); !errors.Is(err, ErrReadOnlyBackend) {
		t.Errorf("Delete() error = %v, want %v", err, ErrReadOnlyBackend)
	}
}

func TestEnvBackend_List(t *testing.T) {
	backend := NewEnvBackend()
	ctx := context.Background()

	t.Setenv("BATON_SECRET_API_TOKEN", "tok-1")
	t.Setenv("BATON_SECRET_WEBHOOK_SECRET", "wh-1")
	t.Setenv("BATON_SECRET_EMPTY", "")
	t.Setenv("UNRELATED_VAR", "ignored")

	keys, err := backend.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	keyMap := make(map[string]bool)
	for _, k := range keys {
		keyMap[k] = true
	}

	for _, want := range []string{"api_token", "webhook_secret"} {
		if !keyMap[want] {
			t.Errorf("List() missing key %q", want)
		}
	}
	if keyMap["empty"] {
		t.Error("List() included key with empty value")
	}
	if keyMap["unrelated_var"] {
		t.Error("List() included variable without the secret prefix")
	}
}

func TestEnvBackend_Metadata(t *testing.T) {
	backend := NewEnvBackend()

	if backend.Name() != "env" {
		t.Errorf("Name() = %v, want %v", backend.Name(), "env")
	}

	if !backend.Available() {
		t.Error("Available() = false, want true")
	}

	if backend.Priority() != EnvBackendPriority {
		t.Errorf("Priority() = %v, want %v", backend.Priority(), EnvBackendPriority)
	}
}

func TestEnvBackend_NormalizeKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{
			key:  "api_token",
			want: "BATON_SECRET_API_TOKEN",
		},
		{
			key:  "payments.stripe-key",
			want: "BATON_SECRET_PAYMENTS_STRIPE_KEY",
		},
		{
			key:  "ops/pager_duty",
			want: "BATON_SECRET_OPS_PAGER_DUTY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := normalizeEnvKey(tt.key)
			if got != tt.want {
				t.Errorf("normalizeEnvKey() = %v, want %v", got, tt.want)
			}
		})
	}
}
