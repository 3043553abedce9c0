package expression

import (
	"testing"
)

func testState() map[string]any {
	return map[string]any{
		"input": map[string]any{
			"amount": 250,
			"mode":   "strict",
			"tags":   []string{"urgent", "billing"},
		},
		"fetch": map[string]any{
			"statusCode": 200,
			"data": map[string]any{
				"items": []any{"a", "b"},
				"total": 42.5,
			},
		},
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		want       bool
		wantErr    bool
	}{
		{
			name:       "empty expression defaults to true",
			expression: "",
			want:       true,
		},
		{
			name:       "numeric comparison",
			expression: "input.amount > 100",
			want:       true,
		},
		{
			name:       "numeric comparison false",
			expression: "input.amount > 1000",
			want:       false,
		},
		{
			name:       "string equality",
			expression: `input.mode == "strict"`,
			want:       true,
		},
		{
			name:       "boolean logic",
			expression: `input.amount > 100 && fetch.statusCode == 200`,
			want:       true,
		},
		{
			name:       "in operator",
			expression: `"urgent" in input.tags`,
			want:       true,
		},
		{
			name:       "has function",
			expression: `has(input.tags, "urgent")`,
			want:       true,
		},
		{
			name:       "includes alias",
			expression: `includes(input.tags, "missing")`,
			want:       false,
		},
		{
			name:       "length function",
			expression: `length(fetch.data.items) == 2`,
			want:       true,
		},
		{
			name:       "nested path",
			expression: `fetch.data.total > 40`,
			want:       true,
		},
		{
			name:       "undefined variable compares false",
			expression: `missing == "x"`,
			want:       false,
		},
		{
			name:       "syntax error",
			expression: `input.amount >`,
			wantErr:    true,
		},
	}

	eval := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.Evaluate(tt.expression, testState())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expression, got, tt.want)
			}
		})
	}
}

func TestEvaluateValue(t *testing.T) {
	eval := New()
	state := testState()

	got, err := eval.EvaluateValue("fetch.statusCode", state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 200 {
		t.Errorf("EvaluateValue = %v (%T), want 200", got, got)
	}

	// Arithmetic results keep their numeric type
	got, err = eval.EvaluateValue("input.amount * 2", state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 500 {
		t.Errorf("EvaluateValue = %v, want 500", got)
	}

	// Empty expression yields nil
	got, err = eval.EvaluateValue("", state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("EvaluateValue(\"\") = %v, want nil", got)
	}
}

func TestEvaluate_Caching(t *testing.T) {
	eval := New()
	state := testState()

	if eval.CacheSize() != 0 {
		t.Fatalf("CacheSize = %d, want 0", eval.CacheSize())
	}

	if _, err := eval.Evaluate("input.amount > 100", state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.CacheSize() != 1 {
		t.Errorf("CacheSize = %d, want 1", eval.CacheSize())
	}

	// Repeat evaluation reuses the cached program
	if _, err := eval.Evaluate("input.amount > 100", state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.CacheSize() != 1 {
		t.Errorf("CacheSize = %d, want 1 after repeat", eval.CacheSize())
	}

	// Boolean and value programs cache separately
	if _, err := eval.EvaluateValue("input.amount > 100", state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.CacheSize() != 2 {
		t.Errorf("CacheSize = %d, want 2", eval.CacheSize())
	}

	eval.ClearCache()
	if eval.CacheSize() != 0 {
		t.Errorf("CacheSize = %d after clear, want 0", eval.CacheSize())
	}
}

func TestEvaluate_NonBooleanResult(t *testing.T) {
	eval := New()
	// AsBool rejects non-boolean results at compile or run time
	if _, err := eval.Evaluate("input.amount", testState()); err == nil {
		t.Fatal("expected error for non-boolean expression")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		wantErr    bool
	}{
		{"empty", "", false},
		{"comparison", "input.amount > 100", false},
		{"helper call", `has(input.tags, "x")`, false},
		{"syntax error", "input.amount >", true},
		{"unbalanced paren", "(input.amount > 1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.expression)
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
