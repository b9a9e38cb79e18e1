package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/compozy/relay/engine/timeout"
	"github.com/compozy/relay/engine/workflow"
)

const (
	defaultMockStepTimeout = 30 * time.Second
	defaultMockBackoff     = 100 * time.Millisecond
)

// StepFunc performs one attempt of a step or branch in mock runs.
type StepFunc func(ctx context.Context, step string, attempt uint) error

type MockConfig struct {
	// StepTimeout is the base attempt budget for steps without timeout_ms.
	StepTimeout time.Duration
	Backoff     time.Duration
	// Retries applies to steps and branches that declare none.
	Retries uint
	// Step replaces the default no-op attempt.
	Step StepFunc
}

// MockInterpreter walks a definition without side effects. Steps run under
// progressive per-attempt deadlines and approval steps follow the gate mode.
type MockInterpreter struct {
	cfg MockConfig
}

func NewMockInterpreter(cfg MockConfig) *MockInterpreter {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultMockStepTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultMockBackoff
	}
	if cfg.Step == nil {
		cfg.Step = func(ctx context.Context, _ string, _ uint) error { return ctx.Err() }
	}
	return &MockInterpreter{cfg: cfg}
}

func (m *MockInterpreter) Execute(ctx context.Context, inv Invocation, events chan<- Event) (Status, error) {
	if inv.Definition == nil {
		return StatusFailure, fmt.Errorf("mock run %s: definition is required", inv.RunID)
	}
	emit(events, EventRunStarted, "", inv.Path)
	for i := range inv.Definition.Steps {
		step := &inv.Definition.Steps[i]
		if err := ctx.Err(); err != nil {
			return StatusFailure, err
		}
		emit(events, EventStepStarted, step.ID, string(step.Kind()))
		if err := m.runStep(ctx, inv.GateMode, step, events); err != nil {
			emit(events, EventStepFailed, step.ID, err.Error())
			return StatusFailure, fmt.Errorf("step %s: %w", step.ID, err)
		}
		emit(events, EventStepCompleted, step.ID, "")
	}
	return StatusSuccess, nil
}

func (m *MockInterpreter) runStep(
	ctx context.Context,
	mode workflow.GateMode,
	step *workflow.Step,
	events chan<- Event,
) error {
	switch step.Kind() {
	case workflow.StepApproval:
		if mode == workflow.GateModeFail {
			emit(events, EventGateRejected, step.ID, string(mode))
			return ErrApprovalRequired
		}
		emit(events, EventGateApproved, step.ID, string(mode))
		return nil
	case workflow.StepParallel:
		g, gctx := errgroup.WithContext(ctx)
		for _, b := range step.Branches {
			name := step.ID + "/" + b.ID
			g.Go(func() error {
				return m.attempts(gctx, name, b.TimeoutMs, step.RetriesOr(m.cfg.Retries), events)
			})
		}
		return g.Wait()
	default:
		return m.attempts(ctx, step.ID, step.TimeoutMs, step.RetriesOr(m.cfg.Retries), events)
	}
}

func (m *MockInterpreter) attempts(
	ctx context.Context,
	name string,
	budgetMs uint64,
	retries uint,
	events chan<- Event,
) error {
	if budgetMs == 0 {
		budgetMs = uint64(m.cfg.StepTimeout.Milliseconds())
	}
	return timeout.Attempts(ctx, budgetMs, retries, m.cfg.Backoff, func(actx context.Context, attempt uint) error {
		emit(events, EventStepAttempt, name, fmt.Sprintf("attempt %d, budget %dms", attempt, timeout.Progressive(budgetMs, attempt)))
		return m.cfg.Step(actx, name, attempt)
	})
}
