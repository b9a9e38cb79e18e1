package executor

import (
	"context"
	"errors"
	"time"

	"github.com/compozy/relay/engine/workflow"
)

// Status is the terminal outcome of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
)

func (s Status) OK() bool { return s == StatusSuccess }

// Event types emitted while a run progresses.
const (
	EventRunStarted    = "run_started"
	EventStepStarted   = "step_started"
	EventStepAttempt   = "step_attempt"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventGateApproved  = "gate_approved"
	EventGateRejected  = "gate_rejected"
	EventOutput        = "output"
)

var (
	ErrNoInterpreter    = errors.New("no workflow interpreter configured")
	ErrApprovalRequired = errors.New("approval gate reached with gate mode fail")
)

// Event is one progress message from an interpreter.
type Event struct {
	Type    string
	Step    string
	Message string
	Time    time.Time
}

// Invocation is everything an interpreter receives for one run.
type Invocation struct {
	RunID      string
	Path       string
	Definition *workflow.Definition
	Variables  map[string]string
	GateMode   workflow.GateMode
	RepoPath   string
}

// Interpreter executes a workflow graph. Implementations send progress on
// events and must not close it; the caller drains and closes it.
type Interpreter interface {
	Execute(ctx context.Context, inv Invocation, events chan<- Event) (Status, error)
}

// InterpreterFunc adapts a function to Interpreter.
type InterpreterFunc func(ctx context.Context, inv Invocation, events chan<- Event) (Status, error)

func (f InterpreterFunc) Execute(ctx context.Context, inv Invocation, events chan<- Event) (Status, error) {
	return f(ctx, inv, events)
}

func emit(events chan<- Event, typ, step, msg string) {
	if events == nil {
		return
	}
	events <- Event{Type: typ, Step: step, Message: msg, Time: time.Now()}
}
