package timeout

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

const minBackoff = time.Millisecond

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Attempts stops retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// AttemptFunc runs one attempt. ctx carries that attempt's deadline.
type AttemptFunc func(ctx context.Context, attempt uint) error

// Attempts runs fn up to retries+1 times. Attempt n runs under
// Progressive(baseMs, n); a zero base leaves attempts unbounded. Waits between
// attempts use a constant backoff.
func Attempts(ctx context.Context, baseMs uint64, retries uint, backoff time.Duration, fn AttemptFunc) error {
	if backoff < minBackoff {
		backoff = minBackoff
	}
	b := retry.WithMaxRetries(uint64(retries), retry.NewConstant(backoff))
	var attempt uint
	return retry.Do(ctx, b, func(ctx context.Context) error {
		current := attempt
		attempt++
		actx := ctx
		if budget := Progressive(baseMs, current); budget > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, Duration(budget))
			defer cancel()
		}
		err := fn(actx, current)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retry.RetryableError(err)
	})
}
