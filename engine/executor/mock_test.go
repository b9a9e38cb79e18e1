package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compozy/relay/engine/workflow"
)

func drainEvents(events chan Event) func() []Event {
	var mu sync.Mutex
	var got []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		}
	}()
	return func() []Event {
		close(events)
		<-done
		return got
	}
}

func retries(n uint) *uint { return &n }

func TestMockInterpreter(t *testing.T) {
	t.Run("Should retry failing attempts with growing budgets", func(t *testing.T) {
		var attempts []uint
		m := NewMockInterpreter(MockConfig{
			Backoff: time.Millisecond,
			Step: func(ctx context.Context, _ string, attempt uint) error {
				attempts = append(attempts, attempt)
				_, ok := ctx.Deadline()
				assert.True(t, ok)
				if attempt == 0 {
					return errors.New("flaky")
				}
				return nil
			},
		})
		def := &workflow.Definition{Steps: []workflow.Step{{ID: "build", TimeoutMs: 200, Retries: retries(2)}}}
		events := make(chan Event, 64)
		collect := drainEvents(events)

		status, err := m.Execute(t.Context(), Invocation{Definition: def}, events)
		got := collect()

		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, status)
		assert.Equal(t, []uint{0, 1}, attempts)
		var budgets []string
		for _, ev := range got {
			if ev.Type == EventStepAttempt {
				budgets = append(budgets, ev.Message)
			}
		}
		assert.Equal(t, []string{"attempt 0, budget 200ms", "attempt 1, budget 300ms"}, budgets)
	})

	t.Run("Should fail the step once retries are exhausted", func(t *testing.T) {
		m := NewMockInterpreter(MockConfig{
			Backoff: time.Millisecond,
			Step:    func(context.Context, string, uint) error { return errors.New("down") },
		})
		def := &workflow.Definition{Steps: []workflow.Step{{ID: "build", Retries: retries(1)}, {ID: "after"}}}
		events := make(chan Event, 64)
		collect := drainEvents(events)

		status, err := m.Execute(t.Context(), Invocation{Definition: def}, events)
		got := collect()

		assert.Equal(t, StatusFailure, status)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "step build")
		for _, ev := range got {
			assert.NotEqual(t, "after", ev.Step)
		}
	})

	t.Run("Should run every parallel branch", func(t *testing.T) {
		var mu sync.Mutex
		seen := map[string]bool{}
		m := NewMockInterpreter(MockConfig{Step: func(_ context.Context, step string, _ uint) error {
			mu.Lock()
			seen[step] = true
			mu.Unlock()
			return nil
		}})
		def := &workflow.Definition{Steps: []workflow.Step{{
			ID:       "checks",
			Type:     workflow.StepParallel,
			Branches: []workflow.Branch{{ID: "lint"}, {ID: "test"}, {ID: "vet"}},
		}}}
		events := make(chan Event, 64)
		collect := drainEvents(events)

		status, err := m.Execute(t.Context(), Invocation{Definition: def}, events)
		collect()

		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, status)
		assert.Equal(t, map[string]bool{"checks/lint": true, "checks/test": true, "checks/vet": true}, seen)
	})

	t.Run("Should fall back to the configured retries", func(t *testing.T) {
		calls := 0
		m := NewMockInterpreter(MockConfig{
			Backoff: time.Millisecond,
			Retries: 2,
			Step: func(context.Context, string, uint) error {
				calls++
				return errors.New("down")
			},
		})
		def := &workflow.Definition{Steps: []workflow.Step{{ID: "build"}}}

		status, err := m.Execute(t.Context(), Invocation{Definition: def}, nil)

		assert.Equal(t, StatusFailure, status)
		assert.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("Should honor an explicit zero retries", func(t *testing.T) {
		calls := 0
		m := NewMockInterpreter(MockConfig{
			Backoff: time.Millisecond,
			Retries: 2,
			Step: func(context.Context, string, uint) error {
				calls++
				return errors.New("boom")
			},
		})
		def := &workflow.Definition{Steps: []workflow.Step{{ID: "a", TimeoutMs: 100, Retries: retries(0)}}}

		status, err := m.Execute(t.Context(), Invocation{Definition: def}, nil)

		assert.Equal(t, StatusFailure, status)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "step a")
		assert.Equal(t, 1, calls)
	})

	t.Run("Should require a definition", func(t *testing.T) {
		status, err := NewMockInterpreter(MockConfig{}).Execute(t.Context(), Invocation{}, nil)
		assert.Equal(t, StatusFailure, status)
		assert.Error(t, err)
	})
}
