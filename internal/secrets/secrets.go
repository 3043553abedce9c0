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

// Package secrets provides layered secret storage for workflow steps.
//
// Secrets are referenced from step configuration as ${secret:NAME} and
// resolved immediately before step dispatch, so secret values never appear
// in stored workflow definitions or execution records. Resolution queries
// backends in priority order: environment variables first, then the system
// keychain, then the encrypted file store.
package secrets

import (
	"context"
	"errors"
)

var (
	// ErrSecretNotFound is returned when a secret name does not exist in
	// any backend.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrBackendUnavailable is returned when a backend cannot be used in
	// the current environment.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrReadOnlyBackend is returned when attempting to modify a read-only
	// backend.
	ErrReadOnlyBackend = errors.New("backend is read-only")
)

// Standard backend priorities. Higher values are checked first.
const (
	EnvBackendPriority      = 100
	KeychainBackendPriority = 50
	FileBackendPriority     = 25
)

// Backend provides storage for sensitive values. Backends implement
// different storage mechanisms and are queried in priority order by the
// Resolver.
type Backend interface {
	// Name returns the backend identifier (e.g. "env", "keychain", "file").
	Name() string

	// Get retrieves a secret by name. Returns ErrSecretNotFound if not
	// present.
	Get(ctx context.Context, name string) (string, error)

	// Set stores a secret. Returns ErrReadOnlyBackend if not supported.
	Set(ctx context.Context, name, value string) error

	// Delete removes a secret. Returns ErrSecretNotFound if not present
	// and ErrReadOnlyBackend if not supported.
	Delete(ctx context.Context, name string) error

	// List returns all secret names (never values) held by this backend.
	List(ctx context.Context) ([]string, error)

	// Available reports whether this backend is usable in the current
	// environment.
	Available() bool

	// Priority returns the resolution priority (higher = checked first).
	Priority() int
}
