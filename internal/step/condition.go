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
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/tombee/baton/internal/store"
	"github.com/tombee/baton/pkg/workflow"
	"github.com/tombee/baton/pkg/workflow/expression"
)

// conditionHandler branches the workflow. In its simple form it reads a
// dotted field from state and compares it against a configured value; with
// an "expression" config it evaluates an arbitrary boolean expression
// against the whole state instead.
type conditionHandler struct {
	eval *expression.Evaluator
}

func newConditionHandler() *conditionHandler {
	return &conditionHandler{eval: expression.New()}
}

func (h *conditionHandler) Type() string { return "condition" }

func (h *conditionHandler) Execute(ctx context.Context, step *workflow.Step, ec *Context) (*Result, error) {
	var (
		cond bool
		err  error
	)

	if expr, ok := step.Config["expression"].(string); ok && expr != "" {
		cond, err = h.eval.Evaluate(expr, ec.State)
		if err != nil {
			return nil, fmt.Errorf("condition expression: %w", err)
		}
	} else {
		cond, err = h.compare(step, ec)
		if err != nil {
			return nil, err
		}
	}

	next, _ := step.Config["onTrue"].(string)
	if !cond {
		next, _ = step.Config["onFalse"].(string)
	}

	return &Result{
		Status:   store.StatusCompleted,
		Output:   map[string]any{"condition": cond},
		NextStep: next,
	}, nil
}

func (h *conditionHandler) compare(step *workflow.Step, ec *Context) (bool, error) {
	field, ok := step.Config["field"].(string)
	if !ok || field == "" {
		return false, fmt.Errorf("condition step requires a field or an expression")
	}
	op, ok := step.Config["operator"].(string)
	if !ok || op == "" {
		return false, fmt.Errorf("condition step requires an operator")
	}

	actual, _ := LookupPath(ec.State, field)
	expected := step.Config["value"]

	switch op {
	case "eq":
		return valuesEqual(actual, expected), nil
	case "ne":
		return !valuesEqual(actual, expected), nil
	case "gt", "lt":
		a, aok := toNumber(actual)
		b, bok := toNumber(expected)
		if !aok || !bok {
			return false, fmt.Errorf("operator %q requires numeric operands (field %s)", op, field)
		}
		if op == "gt" {
			return a > b, nil
		}
		return a < b, nil
	case "contains":
		return containsValue(actual, expected)
	default:
		return false, fmt.Errorf("unsupported condition operator: %q", op)
	}
}

// valuesEqual compares numerically when both sides coerce to a number, so
// an int in state matches a float in config. Everything else falls back to
// deep equality.
func valuesEqual(a, b any) bool {
	af, aok := toNumber(a)
	bf, bok := toNumber(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

// containsValue checks substring containment for strings and element
// membership for slices.
func containsValue(haystack, needle any) (bool, error) {
	if haystack == nil {
		return false, nil
	}

	v := reflect.ValueOf(haystack)
	switch v.Kind() {
	case reflect.String:
		substr, ok := needle.(string)
		if !ok {
			substr = fmt.Sprint(needle)
		}
		return strings.Contains(v.String(), substr), nil
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			elem := v.Index(i).Interface()
			if reflect.DeepEqual(elem, needle) {
				return true, nil
			}
			if valuesEqual(elem, needle) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("operator \"contains\" does not support %T", haystack)
	}
}

// toNumber coerces the numeric shapes that reach handlers after YAML or
// JSON decoding, plus numeric strings.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
