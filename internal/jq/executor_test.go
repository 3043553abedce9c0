package jq

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestExecutor_Execute(t *testing.T) {
	tests := []struct {
		name    string
		program string
		data    any
		want    any
		wantErr bool
	}{
		{
			name:    "empty program returns data as-is",
			program: "",
			data:    map[string]any{"foo": "bar"},
			want:    map[string]any{"foo": "bar"},
		},
		{
			name:    "field extraction",
			program: ".foo",
			data:    map[string]any{"foo": "bar"},
			want:    "bar",
		},
		{
			name:    "nested path",
			program: ".user.name",
			data:    map[string]any{"user": map[string]any{"name": "ada"}},
			want:    "ada",
		},
		{
			name:    "array map",
			program: "map(.x)",
			data:    []any{map[string]any{"x": 1}, map[string]any{"x": 2}},
			want:    []any{float64(1), float64(2)},
		},
		{
			name:    "object construction",
			program: "{total: (.items | length)}",
			data:    map[string]any{"items": []any{"a", "b", "c"}},
			want:    map[string]any{"total": 3},
		},
		{
			name:    "multiple outputs collect into array",
			program: ".[] | .x",
			data:    []any{map[string]any{"x": 1}, map[string]any{"x": 2}},
			want:    []any{float64(1), float64(2)},
		},
		{
			name:    "no output yields nil",
			program: ".[] | select(.x > 10)",
			data:    []any{map[string]any{"x": 1}},
			want:    nil,
		},
		{
			name:    "non-JSON-native input is normalized",
			program: ".count",
			data:    map[string]any{"count": 7},
			want:    float64(7),
		},
		{
			name:    "parse error",
			program: ".[",
			data:    map[string]any{"foo": "bar"},
			wantErr: true,
		},
		{
			name:    "runtime error",
			program: ".foo | keys",
			data:    map[string]any{"foo": "not-an-object"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := NewExecutor(DefaultTimeout, DefaultMaxInputSize)
			got, err := executor.Execute(context.Background(), tt.program, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Execute() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Execute() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestExecutor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		program string
		wantErr bool
	}{
		{
			name:    "empty program is valid",
			program: "",
		},
		{
			name:    "simple program is valid",
			program: ".foo",
		},
		{
			name:    "pipeline is valid",
			program: ".items | map(.id) | unique",
		},
		{
			name:    "parse error",
			program: ".[",
			wantErr: true,
		},
		{
			name:    "unknown function",
			program: "definitely_not_a_function(.x)",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := NewExecutor(DefaultTimeout, DefaultMaxInputSize)
			err := executor.Validate(tt.program)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExecutor_Timeout(t *testing.T) {
	executor := NewExecutor(100*time.Millisecond, DefaultMaxInputSize)

	// This program loops forever
	_, err := executor.Execute(context.Background(), "while(true; . + 1)", 0)
	if err == nil {
		t.Fatal("Execute() expected timeout error, got nil")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Execute() error = %v, want timeout", err)
	}
}

func TestExecutor_InputSizeLimit(t *testing.T) {
	executor := NewExecutor(DefaultTimeout, 64)

	big := map[string]any{"payload": strings.Repeat("x", 256)}
	_, err := executor.Execute(context.Background(), ".payload", big)
	if err == nil {
		t.Fatal("Execute() expected size limit error, got nil")
	}
	if !strings.Contains(err.Error(), "exceeds maximum") {
		t.Errorf("Execute() error = %v, want size limit", err)
	}
}
