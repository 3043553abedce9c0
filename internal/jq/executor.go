// Package jq evaluates jq programs for transform steps in query mode.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout is the default evaluation time for a jq program (1 second)
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the default maximum input size (10MB)
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Executor evaluates jq programs with timeout and input size limits.
type Executor struct {
	timeout      time.Duration
	maxInputSize int64
}

// NewExecutor creates a jq executor. Zero values fall back to the defaults.
func NewExecutor(timeout time.Duration, maxInputSize int64) *Executor {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}

	return &Executor{
		timeout:      timeout,
		maxInputSize: maxInputSize,
	}
}

// Execute runs a jq program against data. A program producing a single value
// returns that value; multiple values come back as an array. An empty program
// returns data unchanged.
func (e *Executor) Execute(ctx context.Context, program string, data any) (any, error) {
	if program == "" {
		return data, nil
	}

	data, err := e.normalize(data)
	if err != nil {
		return nil, err
	}

	query, err := gojq.Parse(program)
	if err != nil {
		return nil, fmt.Errorf("invalid jq query: %w", err)
	}

	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq query: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var results []any
	iter := code.RunWithContext(execCtx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if execCtx.Err() != nil {
				return nil, fmt.Errorf("jq evaluation timed out after %v", e.timeout)
			}
			return nil, fmt.Errorf("jq evaluation failed: %w", err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// Validate compiles a jq program without running it. Used at definition load
// time to catch syntax errors before an execution reaches the step.
func (e *Executor) Validate(program string) error {
	if program == "" {
		return nil
	}

	query, err := gojq.Parse(program)
	if err != nil {
		return fmt.Errorf("invalid jq query: %w", err)
	}

	if _, err := gojq.Compile(query); err != nil {
		return fmt.Errorf("failed to compile jq query: %w", err)
	}

	return nil
}

// normalize enforces the input size limit and converts data to the JSON
// shapes gojq accepts (nil, bool, float64, string, []any, map[string]any).
// Step handlers hand over whatever Go values they produced; a round-trip
// through encoding/json flattens them.
func (e *Executor) normalize(data any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}
	if int64(len(raw)) > e.maxInputSize {
		return nil, fmt.Errorf("input size (%d bytes) exceeds maximum (%d bytes)",
			len(raw), e.maxInputSize)
	}

	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("failed to normalize input: %w", err)
	}
	return normalized, nil
}
