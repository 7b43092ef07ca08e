package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrCancelled is returned when the caller's context is cancelled between
// attempts. The context cause is wrapped alongside it.
var ErrCancelled = errors.New("polling cancelled")

// ErrNotReady is the default reason recorded for a Retryable outcome.
var ErrNotReady = errors.New("not ready")

// BudgetExhaustedError reports that the policy ran out of attempts or time
// before the operation succeeded. Last is the most recent retryable outcome.
type BudgetExhaustedError struct {
	Attempts         int
	Elapsed          time.Duration
	DeadlineExceeded bool
	Last             error
}

func (e *BudgetExhaustedError) Error() string {
	reason := "attempts exhausted"
	if e.DeadlineExceeded {
		reason = "deadline exceeded"
	}
	return fmt.Sprintf("retry budget exhausted after %d attempts in %s (%s): %v",
		e.Attempts, e.Elapsed.Round(time.Millisecond), reason, e.Last)
}

func (e *BudgetExhaustedError) Unwrap() error {
	return e.Last
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as a "try again later" outcome. Any error returned by
// an Operation that is not marked this way ends polling immediately.
func Retryable(err error) error {
	if err == nil {
		err = ErrNotReady
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// Operation performs one attempt. It returns the value on success, a
// Retryable error when the value is not available yet, or a terminal error.
type Operation[T any] func(ctx context.Context) (T, error)

// NotifyFunc is called after each retryable attempt with the wait before the
// next one.
type NotifyFunc func(attempt int, next time.Duration, err error)

type settings struct {
	notify NotifyFunc
}

type Option func(*settings)

// WithNotify registers a callback invoked before every wait.
func WithNotify(fn NotifyFunc) Option {
	return func(s *settings) {
		s.notify = fn
	}
}

// Poll invokes op until it succeeds, returns a terminal error, the policy's
// attempts are used up or its deadline passes. Cancellation of ctx is only
// observed between attempts: op always receives a context that is not
// cancelled by the caller, so an in-flight attempt finishes on its own terms.
func Poll[T any](ctx context.Context, policy Policy, op Operation[T], opts ...Option) (T, error) {
	var zero T
	if err := policy.Validate(); err != nil {
		return zero, fmt.Errorf("invalid retry policy: %w", err)
	}

	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	intervals := policy.intervals()
	start := time.Now()

	var deadline <-chan time.Time
	if policy.Timeout > 0 {
		timer := time.NewTimer(policy.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	exhausted := func(attempts int, last error, deadlineHit bool) error {
		return &BudgetExhaustedError{
			Attempts:         attempts,
			Elapsed:          time.Since(start),
			DeadlineExceeded: deadlineHit,
			Last:             last,
		}
	}

	attemptCtx := context.WithoutCancel(ctx)
	var last error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrCancelled, attempt-1, context.Cause(ctx))
		}
		if attempt > 1 {
			select {
			case <-deadline:
				return zero, exhausted(attempt-1, last, true)
			default:
			}
		}

		value, err := op(attemptCtx)
		if err == nil {
			return value, nil
		}

		var r *retryableError
		if !errors.As(err, &r) {
			return zero, err
		}
		last = r.err

		if attempt >= policy.MaxAttempts {
			return zero, exhausted(attempt, last, false)
		}

		wait := intervals.NextBackOff()
		if wait == backoff.Stop {
			return zero, exhausted(attempt, last, false)
		}
		if s.notify != nil {
			s.notify(attempt, wait, last)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrCancelled, attempt, context.Cause(ctx))
		case <-deadline:
			timer.Stop()
			return zero, exhausted(attempt, last, true)
		case <-timer.C:
		}
	}
}
