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

func conditionStep(config map[string]any) *workflow.Step {
	config["onTrue"] = "yes-branch"
	config["onFalse"] = "no-branch"
	return &workflow.Step{ID: "check", Type: "condition", Config: config}
}

func TestConditionHandler_Operators(t *testing.T) {
	state := map[string]any{
		"fetch": map[string]any{
			"statusCode": 200,
			"data": map[string]any{
				"name":  "widget",
				"tags":  []any{"a", "b", "c"},
				"count": 7.0,
			},
		},
	}

	tests := []struct {
		name     string
		config   map[string]any
		want     bool
		wantNext string
	}{
		{
			name:     "eq numeric match",
			config:   map[string]any{"field": "fetch.statusCode", "operator": "eq", "value": 200},
			want:     true,
			wantNext: "yes-branch",
		},
		{
			name:     "eq int vs float coerces",
			config:   map[string]any{"field": "fetch.statusCode", "operator": "eq", "value": 200.0},
			want:     true,
			wantNext: "yes-branch",
		},
		{
			name:     "eq string",
			config:   map[string]any{"field": "fetch.data.name", "operator": "eq", "value": "widget"},
			want:     true,
			wantNext: "yes-branch",
		},
		{
			name:     "eq mismatch",
			config:   map[string]any{"field": "fetch.statusCode", "operator": "eq", "value": 404},
			want:     false,
			wantNext: "no-branch",
		},
		{
			name:     "ne",
			config:   map[string]any{"field": "fetch.statusCode", "operator": "ne", "value": 404},
			want:     true,
			wantNext: "yes-branch",
		},
		{
			name:     "gt",
			config:   map[string]any{"field": "fetch.data.count", "operator": "gt", "value": 5},
			want:     true,
			wantNext: "yes-branch",
		},
		{
			name:     "gt false",
			config:   map[string]any{"field": "fetch.data.count", "operator": "gt", "value": 7},
			want:     false,
			wantNext: "no-branch",
		},
		{
			name:     "lt",
			config:   map[string]any{"field": "fetch.data.count", "operator": "lt", "value": 10},
			want:     true,
			wantNext: "yes-branch",
		},
		{
			name:     "gt coerces numeric strings",
			config:   map[string]any{"field": "fetch.data.count", "operator": "gt", "value": "5"},
			want:     true,
			wantNext: "yes-branch",
		},
		{
			name:     "contains substring",
			config:   map[string]any{"field": "fetch.data.name", "operator": "contains", "value": "idge"},
			want:     true,
			wantNext: "yes-branch",
		},
		{
			name:     "contains substring miss",
			config:   map[string]any{"field": "fetch.data.name", "operator": "contains", "value": "gadget"},
			want:     false,
			wantNext: "no-branch",
		},
		{
			name:     "contains array membership",
			config:   map[string]any{"field": "fetch.data.tags", "operator": "contains", "value": "b"},
			want:     true,
			wantNext: "yes-branch",
		},
		{
			name:     "contains array miss",
			config:   map[string]any{"field": "fetch.data.tags", "operator": "contains", "value": "z"},
			want:     false,
			wantNext: "no-branch",
		},
		{
			name:     "missing field is nil",
			config:   map[string]any{"field": "fetch.nope", "operator": "eq", "value": nil},
			want:     true,
			wantNext: "yes-branch",
		},
	}

	h := newConditionHandler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := testContext()
			ec.State = state

			res, err := h.Execute(context.Background(), conditionStep(tt.config), ec)
			require.NoError(t, err)

			assert.Equal(t, store.StatusCompleted, res.Status)
			assert.Equal(t, map[string]any{"condition": tt.want}, res.Output)
			assert.Equal(t, tt.wantNext, res.NextStep)
		})
	}
}

func TestConditionHandler_Errors(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		wantErr string
	}{
		{
			name:    "missing field",
			config:  map[string]any{"operator": "eq", "value": 1},
			wantErr: "requires a field",
		},
		{
			name:    "missing operator",
			config:  map[string]any{"field": "a", "value": 1},
			wantErr: "requires an operator",
		},
		{
			name:    "unsupported operator",
			config:  map[string]any{"field": "a", "operator": "regex", "value": "x"},
			wantErr: "unsupported condition operator",
		},
		{
			name:    "gt non-numeric",
			config:  map[string]any{"field": "name", "operator": "gt", "value": 5},
			wantErr: "requires numeric operands",
		},
		{
			name:    "contains unsupported type",
			config:  map[string]any{"field": "count", "operator": "contains", "value": 1},
			wantErr: "does not support",
		},
	}

	h := newConditionHandler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := testContext()
			ec.State = map[string]any{"name": "widget", "count": 7}

			_, err := h.Execute(context.Background(), conditionStep(tt.config), ec)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConditionHandler_ExpressionMode(t *testing.T) {
	h := newConditionHandler()

	ec := testContext()
	ec.State = map[string]any{
		"fetch": map[string]any{"statusCode": 200},
		"input": map[string]any{"env": "prod"},
	}

	step := conditionStep(map[string]any{
		"expression": `fetch.statusCode == 200 && input.env == "prod"`,
	})
	res, err := h.Execute(context.Background(), step, ec)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"condition": true}, res.Output)
	assert.Equal(t, "yes-branch", res.NextStep)
}

func TestConditionHandler_ExpressionError(t *testing.T) {
	h := newConditionHandler()

	step := conditionStep(map[string]any{"expression": "][ not an expression"})
	_, err := h.Execute(context.Background(), step, testContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "condition expression")
}

func TestToNumber(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   float64
		wantOk bool
	}{
		{"float64", 1.5, 1.5, true},
		{"int", 42, 42, true},
		{"int64", int64(-3), -3, true},
		{"numeric string", "2.5", 2.5, true},
		{"integer string", "10", 10, true},
		{"non-numeric string", "ten", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
		{"map", map[string]any{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toNumber(tt.in)
			assert.Equal(t, tt.wantOk, ok)
			if tt.wantOk {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
