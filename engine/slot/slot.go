// Package slot provides the single-flight execution slot shared by every
// trigger in a process.
package slot

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Slot admits at most one holder at a time. Acquisition never blocks and
// there is no queue: a refused caller must retry on its own.
type Slot struct {
	sem  *semaphore.Weighted
	busy atomic.Bool
}

func New() *Slot {
	return &Slot{sem: semaphore.NewWeighted(1)}
}

// TryAcquire takes the slot if it is free and reports whether it did.
func (s *Slot) TryAcquire() bool {
	if !s.sem.TryAcquire(1) {
		return false
	}
	s.busy.Store(true)
	return true
}

// Release frees the slot. It must be called exactly once per successful
// TryAcquire; releasing a free slot panics.
func (s *Slot) Release() {
	s.busy.Store(false)
	s.sem.Release(1)
}

// Busy reports whether the slot is currently held.
func (s *Slot) Busy() bool {
	return s.busy.Load()
}

// Do runs fn while holding the slot and releases it on every exit path,
// including panics. It returns false without calling fn if the slot is held.
func (s *Slot) Do(fn func()) bool {
	if !s.TryAcquire() {
		return false
	}
	defer s.Release()
	fn()
	return true
}
