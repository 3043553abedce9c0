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

package step

import (
	"sort"
	"sync"
)

// Registry maps step types to handlers. Registration after workers have
// started is permitted; lookups take a read lock only.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// Deps carries the shared dependencies the built-in handlers need.
type Deps struct {
	// HTTP configures the http handler's transport layer
	HTTP HTTPOptions
}

// NewRegistry creates a registry seeded with the built-in handlers.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}

	r.Register(&logHandler{})
	r.Register(newHTTPHandler(deps.HTTP))
	r.Register(newTransformHandler())
	r.Register(newConditionHandler())
	r.Register(&delayHandler{})

	return r
}

// Register adds or replaces the handler for its type.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

// Get returns the handler for a step type.
func (r *Registry) Get(stepType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[stepType]
	return h, ok
}

// Types returns the registered step types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
