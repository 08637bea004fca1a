// Package retry executes operations under an exponential backoff policy.
//
// The entry points are [Do] for operations that produce a value and [Run]
// for operations that only produce an error. Both take a [Policy] describing
// how many retries to attempt and how long to wait between them.
//
// Cancellation is not failure: when the context is canceled before or between
// attempts, Do resolves with ok=false and a nil error instead of returning
// ctx.Err(). Callers that need to distinguish "canceled" from "never ran"
// consult the context themselves.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrStop aborts remaining retries when returned from a [Hook].
// The operation's own error propagates to the caller, not ErrStop.
// The signal is only honored when [Policy.CancelOnStop] is set.
var ErrStop = errors.New("retry: stop")

// Hook observes a failed attempt before the executor waits to retry.
//
// attempt is the 1-indexed retry number (the first retry is 1), cause is the
// error the attempt returned, and delay is the wait the executor computed
// (jitter already applied when enabled).
//
// The return values steer the executor:
//   - (d >= 0, nil) replaces the wait with d, clamped to [Policy.MaxDelay].
//   - (d < 0, nil) keeps the computed schedule.
//   - (_, [ErrStop]) aborts remaining retries when [Policy.CancelOnStop] is
//     set; otherwise the signal is ignored.
//   - (_, err) for any other error is swallowed unless
//     [Policy.RethrowHookError] is set, in which case err replaces the
//     attempt's error as the call's result.
type Hook func(attempt int, cause error, delay time.Duration) (time.Duration, error)

// Policy describes the retry schedule for one call to [Do] or [Run].
//
// The zero value is usable: unset fields are filled from defaults when the
// call starts (200ms base, 10s cap, factor 2, zero retries). A Policy is
// never mutated by the executor.
type Policy struct {
	// Retries is the number of additional attempts after the first.
	// Zero means a single attempt. Negative values are treated as zero.
	Retries int

	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps every computed or overridden wait.
	// Raised to BaseDelay if set lower.
	MaxDelay time.Duration

	// Factor multiplies the delay for each subsequent retry.
	// Values below 1 are raised to 1; zero selects the default of 2.
	Factor float64

	// Jitter randomizes each wait to a uniform value in [delay, 2*delay).
	Jitter bool

	// OnRetry, when set, is consulted before each wait. See [Hook].
	OnRetry Hook

	// RethrowHookError propagates an OnRetry error (other than [ErrStop])
	// to the caller instead of swallowing it.
	RethrowHookError bool

	// CancelOnStop arms [ErrStop]: without it, a hook returning ErrStop is
	// ignored and the schedule continues.
	CancelOnStop bool
}

const (
	defaultBaseDelay = 200 * time.Millisecond
	defaultMaxDelay  = 10 * time.Second
	defaultFactor    = 2.0
)

// normalize fills unset fields with defaults. The receiver is a copy.
func (p Policy) normalize() Policy {
	if p.Retries < 0 {
		p.Retries = 0
	}

	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}

	if p.Factor == 0 {
		p.Factor = defaultFactor
	} else if p.Factor < 1 {
		p.Factor = 1
	}

	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}

	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}

	return p
}

// backoff returns the deterministic delay before the given 1-indexed retry:
// min(MaxDelay, BaseDelay * Factor^(retry-1)).
func (p Policy) backoff(retry int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Factor, float64(retry-1)))

	// A negative value here means the float math overflowed Duration.
	if d > p.MaxDelay || d < 0 {
		d = p.MaxDelay
	}

	return d
}

// Do executes op under the policy.
//
// It returns (result, true, nil) on success and (zero, false, err) once the
// final allowed attempt fails. Cancellation resolves to (zero, false, nil):
// before the first attempt nothing runs, during a wait the wait is abandoned,
// and during an attempt the executor lets the attempt finish by itself and
// schedules nothing further.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, bool, error) {
	var zero T

	p = p.normalize()

	if ctx.Err() != nil {
		return zero, false, nil
	}

	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, true, nil
		}

		if ctx.Err() != nil {
			return zero, false, nil
		}

		if attempt >= p.Retries {
			return zero, false, err
		}

		retryN := attempt + 1
		delay := p.backoff(retryN)

		if p.Jitter && delay > 0 {
			delay += time.Duration(rand.Int63n(int64(delay)))
		}

		if p.OnRetry != nil {
			override, hookErr := p.OnRetry(retryN, err, delay)

			switch {
			case hookErr != nil && errors.Is(hookErr, ErrStop):
				if p.CancelOnStop {
					return zero, false, err
				}

			case hookErr != nil:
				if p.RethrowHookError {
					return zero, false, hookErr
				}

			case override >= 0:
				delay = min(override, p.MaxDelay)
			}
		}

		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()

			return zero, false, nil
		case <-timer.C:
		}
	}
}

// Run executes an error-only operation under the policy.
// ok reports whether op succeeded; ok=false with a nil error means the
// context was canceled.
func Run(ctx context.Context, p Policy, op func(context.Context) error) (bool, error) {
	_, ok, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})

	return ok, err
}
