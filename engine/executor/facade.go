package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/compozy/relay/engine/timeout"
	"github.com/compozy/relay/engine/workflow"
	"github.com/compozy/relay/pkg/logger"
)

const eventBuffer = 32

// Result reports how a run ended.
type Result struct {
	RunID    string
	Workflow string
	Status   Status
	Duration time.Duration
	Err      error
}

// Headless runs workflows without a UI. It loads the definition, bounds
// the run by the derived workflow timeout and drains interpreter events
// independently of whoever triggered the run.
type Headless struct {
	fs       afero.Fs
	real     Interpreter
	mock     Interpreter
	override *uint64
	onEvent  func(runID string, ev Event)
}

type Option func(*Headless)

// WithInterpreter sets the interpreter used for non-mock runs.
func WithInterpreter(i Interpreter) Option {
	return func(h *Headless) { h.real = i }
}

// WithMockInterpreter replaces the built-in mock interpreter.
func WithMockInterpreter(i Interpreter) Option {
	return func(h *Headless) {
		if i != nil {
			h.mock = i
		}
	}
}

// WithFs sets the filesystem definitions are read from.
func WithFs(fs afero.Fs) Option {
	return func(h *Headless) {
		if fs != nil {
			h.fs = fs
		}
	}
}

// WithTimeoutOverride forces the workflow timeout to seconds.
func WithTimeoutOverride(seconds uint64) Option {
	return func(h *Headless) { h.override = &seconds }
}

// WithEventHandler observes every event after it is logged.
func WithEventHandler(fn func(runID string, ev Event)) Option {
	return func(h *Headless) { h.onEvent = fn }
}

func NewHeadless(opts ...Option) *Headless {
	h := &Headless{
		fs:   afero.NewOsFs(),
		mock: NewMockInterpreter(MockConfig{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Execute runs the workflow at path for req and blocks until it ends.
// Interpreter panics are converted into a failed result.
func (h *Headless) Execute(ctx context.Context, path string, req workflow.RunRequest) (res Result) {
	start := time.Now()
	runID := req.RunID()
	if runID == "" {
		runID = uuid.NewString()
	}
	res = Result{RunID: runID, Workflow: req.WorkflowRef(), Status: StatusFailure}
	log := logger.FromContext(ctx).With("run_id", res.RunID, "workflow", req.WorkflowRef())
	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusFailure
			res.Err = fmt.Errorf("interpreter panic: %v", r)
		}
		res.Duration = time.Since(start)
		h.logResult(log, res)
	}()

	def, err := workflow.LoadDefinition(h.fs, path)
	if err != nil {
		res.Err = err
		return res
	}
	interp := h.real
	if req.MockMode() {
		interp = h.mock
	}
	if interp == nil {
		res.Err = ErrNoInterpreter
		return res
	}

	spec := def.TimeoutSpec()
	if h.override != nil {
		spec.OverrideSeconds = h.override
	}
	runCtx := ctx
	if budget := timeout.Workflow(spec); budget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout.Duration(budget))
		defer cancel()
		log.Debug("Workflow timeout applied", "timeout_ms", budget)
	}

	repo, _ := req.RepoPath()
	inv := Invocation{
		RunID:      res.RunID,
		Path:       path,
		Definition: def,
		Variables:  req.Variables(),
		GateMode:   req.GateMode(),
		RepoPath:   repo,
	}
	log.Info("Workflow run started", "mock", req.MockMode(), "gate_mode", req.GateMode())

	events := make(chan Event, eventBuffer)
	drained := make(chan struct{})
	go h.drain(log, res.RunID, events, drained)
	defer func() {
		close(events)
		<-drained
	}()

	status, err := interp.Execute(runCtx, inv, events)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		status = StatusTimeout
		if err == nil {
			err = runCtx.Err()
		}
	}
	if status == "" {
		status = StatusFailure
	}
	res.Status = status
	res.Err = err
	return res
}

func (h *Headless) drain(log logger.Logger, runID string, events <-chan Event, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		log.Debug("Workflow event", "type", ev.Type, "step", ev.Step, "message", ev.Message)
		if h.onEvent != nil {
			h.onEvent(runID, ev)
		}
	}
}

func (h *Headless) logResult(log logger.Logger, res Result) {
	if res.Status.OK() {
		log.Info("Workflow run finished", "status", res.Status, "duration", res.Duration)
		return
	}
	log.Error("Workflow run failed", "status", res.Status, "duration", res.Duration, "error", res.Err)
}
