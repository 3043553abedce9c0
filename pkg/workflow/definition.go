// Package workflow provides workflow definition primitives.
//
// Workflow definitions follow a concise YAML format: a named, versioned
// list of steps. Each step names a handler type and carries a free-form
// config map interpreted by that handler. Control flow is explicit: a step
// names its successor via next, and an optional on_error successor for
// handled failures. The version field is optional and defaults to 1.
package workflow

import (
	"fmt"

	"github.com/tombee/baton/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Definition represents a YAML-based workflow definition.
// It is the unit of resolution: executions pin a (name, version) pair at
// submission time and resolve it again on every claim, so a Definition must
// stay valid for as long as executions reference it.
type Definition struct {
	// Name is the workflow identifier
	Name string `yaml:"name" json:"name"`

	// Version tracks the definition revision (optional, defaults to 1).
	// Executions pin the version they were submitted against.
	Version int `yaml:"version" json:"version"`

	// Description provides human-readable context about the workflow
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Steps are the executable units of the workflow
	Steps []Step `yaml:"steps" json:"steps"`
}

// Step represents a single step in a workflow.
//
// The Type field selects a registered step handler (log, http, transform,
// condition, delay, or any custom registration). Config is passed to the
// handler verbatim; its keys are handler-specific and use camelCase.
type Step struct {
	// ID is the unique step identifier within this workflow
	ID string `yaml:"id" json:"id"`

	// Type selects the step handler (log, http, transform, condition, delay, ...)
	Type string `yaml:"type" json:"type"`

	// Config holds handler-specific configuration. String values support
	// {{dotted.path}} templates resolved against execution state and
	// ${secret:NAME} references resolved at execution time.
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`

	// Next names the step to run after this one completes.
	// Empty means the workflow completes after this step.
	// Condition steps route via onTrue/onFalse config instead.
	Next string `yaml:"next,omitempty" json:"next,omitempty"`

	// OnError names the step to run if this one fails after exhausting
	// retries for a handled failure path. Optional.
	OnError string `yaml:"on_error,omitempty" json:"on_error,omitempty"`

	// TimeoutMs bounds a single step attempt in milliseconds.
	// Zero means the runtime default applies.
	TimeoutMs int `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`

	// Retry overrides the default retry policy for this step
	Retry *RetryPolicy `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// RetryPolicy configures per-step retry behavior.
// Zero-valued fields fall back to the runtime defaults
// (3 attempts, 1s base, 2x multiplier, 30s cap).
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget including the first attempt
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`

	// BaseDelayMs is the backoff base delay in milliseconds
	BaseDelayMs int `yaml:"base_delay_ms,omitempty" json:"base_delay_ms,omitempty"`

	// BackoffMultiplier is the exponential growth factor between attempts
	BackoffMultiplier float64 `yaml:"backoff_multiplier,omitempty" json:"backoff_multiplier,omitempty"`

	// MaxDelayMs caps the computed delay in milliseconds
	MaxDelayMs int `yaml:"max_delay_ms,omitempty" json:"max_delay_ms,omitempty"`
}

// ParseDefinition parses, defaults, and validates a YAML workflow definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}

	def.ApplyDefaults()

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}

	return &def, nil
}

// ApplyDefaults applies default values to the definition.
// Step-level timeout and retry defaults are applied by the runtime, not
// here, so that a stored definition records only what the author wrote.
func (d *Definition) ApplyDefaults() {
	if d.Version == 0 {
		d.Version = 1
	}
}

// Validate checks if the workflow definition is valid.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &errors.ValidationError{
			Field:      "name",
			Message:    "workflow name is required",
			Suggestion: "add a descriptive name for the workflow",
		}
	}

	if d.Version < 1 {
		return &errors.ValidationError{
			Field:      "version",
			Message:    fmt.Sprintf("version must be >= 1, got %d", d.Version),
			Suggestion: "omit version to default to 1, or use a positive integer",
		}
	}

	if len(d.Steps) == 0 {
		return &errors.ValidationError{
			Field:      "steps",
			Message:    "workflow must have at least one step",
			Suggestion: "add at least one step to the workflow definition",
		}
	}

	// Step IDs must be present and unique before references can be checked
	stepIDs := make(map[string]bool)
	for _, step := range d.Steps {
		if step.ID == "" {
			return &errors.ValidationError{
				Field:      "id",
				Message:    "step ID is required",
				Suggestion: "add an 'id' field to each step",
			}
		}
		if stepIDs[step.ID] {
			return &errors.ValidationError{
				Field:      "id",
				Message:    fmt.Sprintf("duplicate step ID: %s", step.ID),
				Suggestion: "ensure each step has a unique ID",
			}
		}
		stepIDs[step.ID] = true
	}

	for i := range d.Steps {
		step := &d.Steps[i]
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %s: %w", step.ID, err)
		}
		if err := step.validateReferences(stepIDs); err != nil {
			return fmt.Errorf("step %s: %w", step.ID, err)
		}
	}

	return nil
}

// FindStep returns the step with the given ID, or nil if absent.
func (d *Definition) FindStep(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// FirstStep returns the entry step of the workflow, or nil for an empty
// definition. Execution cursors start here when no checkpoint exists.
func (d *Definition) FirstStep() *Step {
	if len(d.Steps) == 0 {
		return nil
	}
	return &d.Steps[0]
}

// Validate checks step-local constraints.
// Reference checks against sibling steps happen at the definition level.
func (s *Step) Validate() error {
	if s.Type == "" {
		return &errors.ValidationError{
			Field:      "type",
			Message:    "step type is required",
			Suggestion: "set type to a registered handler (log, http, transform, condition, delay)",
		}
	}

	if s.TimeoutMs < 0 {
		return &errors.ValidationError{
			Field:      "timeout_ms",
			Message:    fmt.Sprintf("timeout must be non-negative, got %d", s.TimeoutMs),
			Suggestion: "use a positive timeout in milliseconds, or omit for the default",
		}
	}

	if s.Retry != nil {
		if err := s.Retry.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// validateReferences checks that every step this step can route to exists.
func (s *Step) validateReferences(stepIDs map[string]bool) error {
	if s.Next != "" && !stepIDs[s.Next] {
		return &errors.ValidationError{
			Field:      "next",
			Message:    fmt.Sprintf("next references unknown step: %s", s.Next),
			Suggestion: "reference an existing step ID or remove the field",
		}
	}
	if s.OnError != "" && !stepIDs[s.OnError] {
		return &errors.ValidationError{
			Field:      "on_error",
			Message:    fmt.Sprintf("on_error references unknown step: %s", s.OnError),
			Suggestion: "reference an existing step ID or remove the field",
		}
	}

	// Condition steps route via config rather than next
	if s.Type == "condition" {
		for _, key := range []string{"onTrue", "onFalse"} {
			target, ok := s.Config[key].(string)
			if !ok || target == "" {
				continue
			}
			if !stepIDs[target] {
				return &errors.ValidationError{
					Field:      key,
					Message:    fmt.Sprintf("%s references unknown step: %s", key, target),
					Suggestion: "reference an existing step ID or remove the key",
				}
			}
		}
	}

	return nil
}

// Validate checks retry policy numbers are usable.
func (r *RetryPolicy) Validate() error {
	if r.MaxAttempts < 0 {
		return &errors.ValidationError{
			Field:      "retry.max_attempts",
			Message:    fmt.Sprintf("max_attempts must be non-negative, got %d", r.MaxAttempts),
			Suggestion: "use a positive attempt count, or omit for the default",
		}
	}
	if r.BaseDelayMs < 0 {
		return &errors.ValidationError{
			Field:      "retry.base_delay_ms",
			Message:    fmt.Sprintf("base_delay_ms must be non-negative, got %d", r.BaseDelayMs),
			Suggestion: "use a positive base delay in milliseconds, or omit for the default",
		}
	}
	if r.BackoffMultiplier < 0 {
		return &errors.ValidationError{
			Field:      "retry.backoff_multiplier",
			Message:    fmt.Sprintf("backoff_multiplier must be non-negative, got %v", r.BackoffMultiplier),
			Suggestion: "use a multiplier >= 1, or omit for the default of 2",
		}
	}
	if r.MaxDelayMs < 0 {
		return &errors.ValidationError{
			Field:      "retry.max_delay_ms",
			Message:    fmt.Sprintf("max_delay_ms must be non-negative, got %d", r.MaxDelayMs),
			Suggestion: "use a positive delay cap in milliseconds, or omit for the default",
		}
	}
	return nil
}
