package expression

import (
	"reflect"
	"testing"
)

func TestRenderTemplates(t *testing.T) {
	state := map[string]any{
		"input": map[string]any{
			"url":   "https://example.com",
			"count": 3,
		},
		"fetch": map[string]any{
			"statusCode": 200,
			"data": map[string]any{
				"items": []any{"a", "b"},
				"ok":    true,
			},
		},
	}

	tests := []struct {
		name  string
		input string
		want  any
	}{
		{
			name:  "no templates",
			input: "plain string",
			want:  "plain string",
		},
		{
			name:  "whole-string template preserves int",
			input: "{{fetch.statusCode}}",
			want:  200,
		},
		{
			name:  "whole-string template preserves bool",
			input: "{{fetch.data.ok}}",
			want:  true,
		},
		{
			name:  "whole-string template preserves slice",
			input: "{{fetch.data.items}}",
			want:  []any{"a", "b"},
		},
		{
			name:  "whole-string template with leading dot",
			input: "{{.fetch.statusCode}}",
			want:  200,
		},
		{
			name:  "interpolation renders as string",
			input: "status={{fetch.statusCode}}",
			want:  "status=200",
		},
		{
			name:  "multiple templates",
			input: "{{input.count}} items from {{input.url}}",
			want:  "3 items from https://example.com",
		},
		{
			name:  "unresolvable path left verbatim",
			input: "{{missing.path}}",
			want:  "{{missing.path}}",
		},
		{
			name:  "unresolvable path in interpolation left verbatim",
			input: "got {{missing.path}} back",
			want:  "got {{missing.path}} back",
		},
		{
			name:  "whitespace inside braces",
			input: "{{ fetch.statusCode }}",
			want:  200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderTemplates(tt.input, state)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("RenderTemplates(%q) = %v (%T), want %v (%T)", tt.input, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	state := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": "deep",
			},
		},
		"top": "value",
	}

	tests := []struct {
		name    string
		path    string
		want    any
		wantErr bool
	}{
		{"top level", "top", "value", false},
		{"nested", "a.b.c", "deep", false},
		{"intermediate map", "a.b", map[string]any{"c": "deep"}, false},
		{"missing key", "a.x", nil, true},
		{"index into scalar", "top.x", nil, true},
		{"empty path", "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolvePath(tt.path, state)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("resolvePath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
