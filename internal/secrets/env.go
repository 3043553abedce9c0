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
	"fmt"
	"os"
	"strings"
)

// envSecretPrefix is the prefix for secret environment variables.
const envSecretPrefix = "BATON_SECRET_"

// EnvBackend provides read-only access to secrets via BATON_SECRET_*
// environment variables. The secret name is uppercased and non-alphanumeric
// characters become underscores, so ${secret:api-key} reads
// BATON_SECRET_API_KEY.
type EnvBackend struct{}

// NewEnvBackend creates a new environment variable backend.
func NewEnvBackend() *EnvBackend {
	return &EnvBackend{}
}

// Name returns the backend identifier.
func (e *EnvBackend) Name() string {
	return "env"
}

// Get retrieves a secret from the environment.
func (e *EnvBackend) Get(ctx context.Context, name string) (string, error) {
	if value := os.Getenv(normalizeEnvKey(name)); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

// Set returns ErrReadOnlyBackend; the environment cannot be written.
func (e *EnvBackend) Set(ctx context.Context, name, value string) error {
	return ErrReadOnlyBackend
}

// Delete returns ErrReadOnlyBackend; the environment cannot be written.
func (e *EnvBackend) Delete(ctx context.Context, name string) error {
	return ErrReadOnlyBackend
}

// List returns the names of all BATON_SECRET_* variables, lowercased.
func (e *EnvBackend) List(ctx context.Context) ([]string, error) {
	var names []string
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, envSecretPrefix) {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 && parts[1] != "" {
			names = append(names, strings.ToLower(strings.TrimPrefix(parts[0], envSecretPrefix)))
		}
	}
	return names, nil
}

// Available always returns true.
func (e *EnvBackend) Available() bool {
	return true
}

// Priority returns the backend priority (highest, so the environment can
// override stored secrets).
func (e *EnvBackend) Priority() int {
	return EnvBackendPriority
}

func normalizeEnvKey(name string) string {
	upper := strings.ToUpper(name)
	normalized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, upper)
	return envSecretPrefix + normalized
}
