package expression

import (
	"github.com/expr-lang/expr"

	"github.com/tombee/baton/pkg/errors"
)

// Validate checks that an expression compiles.
// Intended for definition-time validation, before any execution state
// exists: state references cannot be checked here because state keys are
// only known at run time, so only syntax and helper usage are verified.
func Validate(expression string) error {
	if expression == "" {
		return nil
	}

	env := map[string]any{
		"has":      containsFunc,
		"includes": containsFunc,
		"length":   lenFunc,
	}

	_, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return &errors.ValidationError{
			Field:      "expression",
			Message:    "invalid expression: " + err.Error(),
			Suggestion: "check expression syntax (comparisons, && / ||, has(), length())",
		}
	}
	return nil
}
