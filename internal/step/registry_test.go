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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/baton/internal/store"
	"github.com/tombee/baton/pkg/workflow"
)

func TestNewRegistry_Builtins(t *testing.T) {
	r := NewRegistry(Deps{})

	assert.Equal(t, []string{"condition", "delay", "http", "log", "transform"}, r.Types())

	for _, typ := range []string{"log", "http", "transform", "condition", "delay"} {
		h, ok := r.Get(typ)
		require.True(t, ok, "built-in %q missing", typ)
		assert.Equal(t, typ, h.Type())
	}
}

func TestRegistry_GetMiss(t *testing.T) {
	r := NewRegistry(Deps{})

	_, ok := r.Get("quantum")
	assert.False(t, ok)
}

func TestRegistry_RegisterCustom(t *testing.T) {
	r := NewRegistry(Deps{})

	r.Register(&stubHandler{
		typ: "custom",
		fn: func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
			return &Result{Status: store.StatusCompleted}, nil
		},
	})

	h, ok := r.Get("custom")
	require.True(t, ok)
	assert.Equal(t, "custom", h.Type())
	assert.Contains(t, r.Types(), "custom")
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry(Deps{})

	replacement := &stubHandler{
		typ: "log",
		fn: func(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
			return &Result{Status: store.StatusCompleted, Output: map[string]any{"custom": true}}, nil
		},
	}
	r.Register(replacement)

	h, ok := r.Get("log")
	require.True(t, ok)
	assert.Same(t, replacement, h)
}
