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
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// refPattern matches ${secret:NAME} references in step configuration.
var refPattern = regexp.MustCompile(`\$\{secret:([A-Za-z0-9][A-Za-z0-9_.\-/]*)\}`)

// ContainsRef reports whether s contains at least one secret reference.
func ContainsRef(s string) bool {
	return refPattern.MatchString(s)
}

// Resolver queries a chain of backends in priority order.
type Resolver struct {
	backends []Backend
}

// NewResolver creates a resolver over the given backends. Unavailable
// backends are dropped and the rest are sorted by priority, highest first.
func NewResolver(backends ...Backend) *Resolver {
	available := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Available() {
			available = append(available, b)
		}
	}

	sort.Slice(available, func(i, j int) bool {
		return available[i].Priority() > available[j].Priority()
	})

	return &Resolver{backends: available}
}

// Backends returns the names of the active backends in resolution order.
func (r *Resolver) Backends() []string {
	names := make([]string, len(r.backends))
	for i, b := range r.backends {
		names[i] = b.Name()
	}
	return names
}

// Get retrieves a secret by querying backends in priority order. The first
// hit wins; a name absent from every backend returns ErrSecretNotFound.
// A nil resolver resolves nothing.
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	if r == nil {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}

	var lastErr error
	for _, backend := range r.backends {
		value, err := backend.Get(ctx, name)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			lastErr = err
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", name, lastErr)
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

// Set stores a secret. With backendName set, only that backend is used;
// otherwise the highest-priority writable backend wins.
func (r *Resolver) Set(ctx context.Context, name, value, backendName string) error {
	if backendName != "" {
		for _, backend := range r.backends {
			if backend.Name() == backendName {
				if err := backend.Set(ctx, name, value); err != nil {
					return fmt.Errorf("failed to set secret in %s: %w", backendName, err)
				}
				return nil
			}
		}
		return fmt.Errorf("backend %q not found or unavailable", backendName)
	}

	for _, backend := range r.backends {
		err := backend.Set(ctx, name, value)
		if errors.Is(err, ErrReadOnlyBackend) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to set secret in %s: %w", backend.Name(), err)
		}
		return nil
	}

	return fmt.Errorf("no writable backend available")
}

// Delete removes a secret. With backendName set, only that backend is used;
// otherwise the first writable backend holding the name wins.
func (r *Resolver) Delete(ctx context.Context, name, backendName string) error {
	if backendName != "" {
		for _, backend := range r.backends {
			if backend.Name() == backendName {
				if err := backend.Delete(ctx, name); err != nil {
					return fmt.Errorf("failed to delete secret from %s: %w", backendName, err)
				}
				return nil
			}
		}
		return fmt.Errorf("backend %q not found or unavailable", backendName)
	}

	for _, backend := range r.backends {
		err := backend.Delete(ctx, name)
		if errors.Is(err, ErrReadOnlyBackend) || errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to delete secret from %s: %w", backend.Name(), err)
		}
		return nil
	}

	return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

// List returns the union of secret names across all backends, sorted.
func (r *Resolver) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, backend := range r.backends {
		names, err := backend.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list secrets in %s: %w", backend.Name(), err)
		}
		for _, name := range names {
			seen[name] = struct{}{}
		}
	}

	merged := make([]string, 0, len(seen))
	for name := range seen {
		merged = append(merged, name)
	}
	sort.Strings(merged)
	return merged, nil
}

// Expand replaces every ${secret:NAME} reference in s with its resolved
// value. A reference that fails to resolve is an error; the literal
// placeholder is never passed through to a step.
func (r *Resolver) Expand(ctx context.Context, s string) (string, error) {
	matches := refPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		name := s[m[2]:m[3]]
		value, err := r.Get(ctx, name)
		if err != nil {
			return "", err
		}
		b.WriteString(value)
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}
