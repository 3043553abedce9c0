package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/baton/pkg/errors"
)

// Evaluator evaluates expressions against execution state.
// It caches compiled programs for repeated evaluations: the same condition
// runs once per claim, and workers evaluate the same workflows continuously.
type Evaluator struct {
	mu        sync.RWMutex
	boolProgs map[string]*vm.Program
	valProgs  map[string]*vm.Program
}

// New creates a new expression evaluator.
func New() *Evaluator {
	return &Evaluator{
		boolProgs: make(map[string]*vm.Program),
		valProgs:  make(map[string]*vm.Program),
	}
}

// Evaluate evaluates a boolean expression against the given state.
//
// The state is the execution state map: step outputs keyed by step ID,
// and the execution input under "input".
//
// Example:
//
//	state := map[string]any{
//	    "input": map[string]any{"amount": 250},
//	    "fetch": map[string]any{"statusCode": 200},
//	}
//	result, err := eval.Evaluate(`input.amount > 100 && fetch.statusCode == 200`, state)
func (e *Evaluator) Evaluate(expression string, state map[string]any) (bool, error) {
	if expression == "" {
		return true, nil // Empty expression defaults to true
	}

	program, err := e.compile(expression, true)
	if err != nil {
		return false, &errors.ValidationError{
			Field:      "expression",
			Message:    fmt.Sprintf("failed to compile expression: %s", err.Error()),
			Suggestion: "check expression syntax and ensure all referenced variables exist",
		}
	}

	result, err := expr.Run(program, buildEnv(state))
	if err != nil {
		return false, &errors.ValidationError{
			Field:      "expression",
			Message:    fmt.Sprintf("expression evaluation failed: %s", err.Error()),
			Suggestion: "verify that all referenced variables exist in the execution state",
		}
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, &errors.ValidationError{
			Field:      "expression",
			Message:    fmt.Sprintf("expression must return boolean, got %T (%v)", result, result),
			Suggestion: "use comparison operators (==, !=, <, >, etc.) or boolean functions",
		}
	}

	return boolResult, nil
}

// EvaluateValue evaluates an expression and returns its raw result.
// Unlike Evaluate it places no type constraint on the outcome, which makes
// it suitable for template resolution where values keep their types.
func (e *Evaluator) EvaluateValue(expression string, state map[string]any) (any, error) {
	if expression == "" {
		return nil, nil
	}

	program, err := e.compile(expression, false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", err)
	}

	result, err := expr.Run(program, buildEnv(state))
	if err != nil {
		return nil, fmt.Errorf("expression evaluation failed: %w", err)
	}
	return result, nil
}

// buildEnv merges the helper functions into a copy of the state.
// Note: "contains" is reserved in expr for string operations, so array
// membership goes through "has" and "includes".
func buildEnv(state map[string]any) map[string]any {
	env := make(map[string]any, len(state)+3)
	for k, v := range state {
		env[k] = v
	}
	env["has"] = containsFunc
	env["includes"] = containsFunc
	env["length"] = lenFunc
	return env
}

// compile compiles an expression and caches the result.
// Boolean and value programs are cached separately because AsBool changes
// the compiled output.
func (e *Evaluator) compile(expression string, asBool bool) (*vm.Program, error) {
	cache := e.valProgs
	if asBool {
		cache = e.boolProgs
	}

	e.mu.RLock()
	prog, ok := cache[expression]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	env := map[string]any{
		"has":      containsFunc,
		"includes": containsFunc,
		"length":   lenFunc,
	}

	opts := []expr.Option{
		expr.Env(env),
		// State keys are workflow-specific, unknown at compile time
		expr.AllowUndefinedVariables(),
	}
	if asBool {
		opts = append(opts, expr.AsBool())
	}

	prog, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	cache[expression] = prog
	e.mu.Unlock()

	return prog, nil
}

// ClearCache clears the compiled program caches.
// This is mainly useful for testing.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	e.boolProgs = make(map[string]*vm.Program)
	e.valProgs = make(map[string]*vm.Program)
	e.mu.Unlock()
}

// CacheSize returns the number of cached programs.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.boolProgs) + len(e.valProgs)
}
