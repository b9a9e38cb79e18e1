package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"

	"github.com/compozy/relay/engine/timeout"
)

type StepType string

const (
	StepTask     StepType = "task"
	StepApproval StepType = "approval"
	StepParallel StepType = "parallel"
)

type Branch struct {
	ID        string `json:"id"                   validate:"required"`
	TimeoutMs uint64 `json:"timeout_ms,omitempty"`
}

// Step is one entry of a workflow. A zero or absent TimeoutMs means the step
// declares no cost: it adds nothing to the workflow budget and its attempts
// use the executor's default step timeout. Retries is nil when undeclared.
type Step struct {
	ID        string   `json:"id"                   validate:"required"`
	Type      StepType `json:"type,omitempty"       validate:"omitempty,oneof=task approval parallel"`
	TimeoutMs uint64   `json:"timeout_ms,omitempty"`
	Retries   *uint    `json:"retries,omitempty"    validate:"omitempty,lte=10"`
	Branches  []Branch `json:"branches,omitempty"   validate:"dive"`
}

// RetriesOr returns the declared retry count, or fallback when none is declared.
func (s *Step) RetriesOr(fallback uint) uint {
	if s.Retries == nil {
		return fallback
	}
	return *s.Retries
}

// Kind returns the step type, treating an empty type as a task.
func (s *Step) Kind() StepType {
	if s.Type == "" {
		return StepTask
	}
	return s.Type
}

// Definition is the subset of a workflow file this layer reads: the step
// list with declared costs and an optional operator override.
type Definition struct {
	Name           string  `json:"name,omitempty"`
	TimeoutSeconds *uint64 `json:"timeout_seconds,omitempty"`
	Steps          []Step  `json:"steps"                     validate:"dive"`
}

var validate = validator.New()

// LoadDefinition reads and validates the definition at path.
func LoadDefinition(fs afero.Fs, path string) (*Definition, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", path, err)
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow %s: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow %s: %w", path, err)
	}
	return &def, nil
}

func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(d.Steps))
	for i := range d.Steps {
		s := &d.Steps[i]
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate step id '%s'", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Kind() == StepParallel && len(s.Branches) == 0 {
			return fmt.Errorf("parallel step '%s' requires branches", s.ID)
		}
		if s.Kind() != StepParallel && len(s.Branches) > 0 {
			return fmt.Errorf("step '%s' declares branches but is not parallel", s.ID)
		}
	}
	return nil
}

// TimeoutSpec derives the timeout inputs from declared step costs: the sum of
// non-parallel step budgets and the single largest parallel branch budget.
func (d *Definition) TimeoutSpec() timeout.Spec {
	spec := timeout.Spec{OverrideSeconds: d.TimeoutSeconds}
	for i := range d.Steps {
		s := &d.Steps[i]
		if s.Kind() != StepParallel {
			spec.SequentialMs += s.TimeoutMs
			continue
		}
		for _, b := range s.Branches {
			spec.MaxParallelMs = max(spec.MaxParallelMs, b.TimeoutMs)
		}
	}
	return spec
}
