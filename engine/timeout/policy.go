// Package timeout computes per-attempt and whole-workflow time budgets.
// All budgets are expressed in milliseconds; zero means no budget.
package timeout

import (
	"math"
	"time"
)

const (
	attemptGrowth   = 0.5
	attemptCeiling  = 2
	schedulingSlack = 1.2
)

// Spec holds the declared costs a workflow timeout is derived from.
type Spec struct {
	SequentialMs    uint64
	MaxParallelMs   uint64
	OverrideSeconds *uint64
}

// Progressive returns the budget for a retry attempt. Attempt 0 gets baseMs;
// each later attempt gets 50% more per attempt, capped at twice baseMs.
func Progressive(baseMs uint64, attempt uint) uint64 {
	if attempt == 0 {
		return baseMs
	}
	ceiling := float64(baseMs) * attemptCeiling
	scaled := float64(baseMs) * (1 + attemptGrowth*float64(attempt))
	if scaled >= ceiling {
		return baseMs * attemptCeiling
	}
	return uint64(math.Round(scaled))
}

// Workflow returns the whole-run budget. An explicit override always wins;
// otherwise the sequential total plus the largest parallel branch, plus 20%.
func Workflow(spec Spec) uint64 {
	if spec.OverrideSeconds != nil {
		if *spec.OverrideSeconds > math.MaxUint64/1000 {
			return math.MaxUint64
		}
		return *spec.OverrideSeconds * 1000
	}
	return uint64(math.Round(float64(spec.SequentialMs+spec.MaxParallelMs) * schedulingSlack))
}

// Duration converts a millisecond budget to a time.Duration, saturating at
// the largest representable duration.
func Duration(ms uint64) time.Duration {
	if ms > uint64(math.MaxInt64/int64(time.Millisecond)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

// Seconds returns a pointer suitable for Spec.OverrideSeconds.
func Seconds(s uint64) *uint64 {
	return &s
}
