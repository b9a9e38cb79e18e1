package workflow

import (
	"errors"
	"maps"
)

// RunRequest describes one execution. It is immutable once built.
type RunRequest struct {
	ref       string
	variables map[string]string
	mock      bool
	gateMode  GateMode
	repoPath  string
	runID     string
}

type RunOption func(*RunRequest)

func WithVariables(vars map[string]string) RunOption {
	return func(r *RunRequest) {
		maps.Copy(r.variables, vars)
	}
}

func WithMock(mock bool) RunOption {
	return func(r *RunRequest) { r.mock = mock }
}

func WithGateMode(mode GateMode) RunOption {
	return func(r *RunRequest) { r.gateMode = mode }
}

func WithRepoPath(path string) RunOption {
	return func(r *RunRequest) { r.repoPath = path }
}

// WithRunID pins the run identifier instead of letting the executor pick one.
func WithRunID(id string) RunOption {
	return func(r *RunRequest) { r.runID = id }
}

// NewRunRequest builds a request for ref. Gate mode defaults to auto.
func NewRunRequest(ref string, opts ...RunOption) (RunRequest, error) {
	r := RunRequest{ref: ref, variables: map[string]string{}, gateMode: GateModeAuto}
	for _, opt := range opts {
		opt(&r)
	}
	if r.ref == "" {
		return RunRequest{}, errors.New("workflow reference is required")
	}
	if err := r.gateMode.Validate(); err != nil {
		return RunRequest{}, err
	}
	return r, nil
}

func (r RunRequest) WorkflowRef() string { return r.ref }
func (r RunRequest) MockMode() bool      { return r.mock }
func (r RunRequest) GateMode() GateMode  { return r.gateMode }
func (r RunRequest) RunID() string       { return r.runID }

// RepoPath returns the repository path and whether one was given.
func (r RunRequest) RepoPath() (string, bool) { return r.repoPath, r.repoPath != "" }

// Variables returns a copy of the request variables.
func (r RunRequest) Variables() map[string]string {
	return maps.Clone(r.variables)
}
