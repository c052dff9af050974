// Package retry wraps a single adapter call with bounded attempts, a
// per-attempt deadline, exponential backoff and an optional local fallback.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/cenkalti/backoff/v4"
)

// ErrInvalidPolicy is returned when a policy cannot run a single attempt.
var ErrInvalidPolicy = errors.New("retry policy needs max attempts >= 1 and a positive timeout")

// Policy holds the retry parameters for one stage.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
}

// Validate checks the policy parameters.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 || p.Timeout <= 0 || p.BaseDelay < 0 {
		return ErrInvalidPolicy
	}

	return nil
}

// Delay returns the wait before attempt+1, i.e. BaseDelay·2^(attempt-1)
// capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	schedule := p.schedule()

	var delay time.Duration
	for range max(attempt, 1) {
		delay = schedule.NextBackOff()
	}

	return delay
}

func (p Policy) schedule() *backoff.ExponentialBackOff {
	maxDelay := p.MaxDelay
	if maxDelay < p.BaseDelay {
		maxDelay = p.BaseDelay
	}

	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.BaseDelay),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(maxDelay),
		backoff.WithMaxElapsedTime(0),
	)
}

// Outcome describes how a call finished.
type Outcome struct {
	Attempts     int
	FallbackUsed bool
	// LastErr is the error that exhausted the policy, kept when a fallback
	// absorbed it.
	LastErr error
}

// Call is one attempt of an adapter invocation.
type Call[T any] func(ctx context.Context) (T, error)

// Fallback computes a substitute result locally. It must not fail.
type Fallback[T any] func() T

// Do runs call under the policy. On exhaustion or a non-transient error it
// returns fallback's value when fallback is non-nil, otherwise the
// classified error. Cancellation of ctx aborts without a fallback.
func Do[T any](ctx context.Context, policy Policy, op string, call Call[T], fallback Fallback[T]) (T, Outcome, error) {
	var zero T

	err := policy.Validate()
	if err != nil {
		return zero, Outcome{}, core.NewError(core.KindPermanentService, op, err)
	}

	schedule := policy.schedule()
	outcome := Outcome{}

	var lastErr *core.Error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		outcome.Attempts = attempt

		result, callErr := attemptOnce(ctx, op, policy.Timeout, call)
		if callErr == nil {
			return result, outcome, nil
		}

		if ctx.Err() != nil {
			return zero, outcome, core.NewError(core.KindTransientService, op, ctx.Err())
		}

		lastErr = core.Classify(op, callErr)
		if lastErr.Kind != core.KindTransientService || attempt == policy.MaxAttempts {
			break
		}

		waitErr := sleep(ctx, schedule.NextBackOff())
		if waitErr != nil {
			return zero, outcome, core.NewError(core.KindTransientService, op, waitErr)
		}
	}

	if fallback != nil {
		outcome.FallbackUsed = true
		outcome.LastErr = lastErr

		return fallback(), outcome, nil
	}

	return zero, outcome, lastErr
}

type attemptResult[T any] struct {
	value T
	err   error
}

// attemptOnce enforces the deadline even when call does not return on time;
// a late call is abandoned and its result discarded.
func attemptOnce[T any](ctx context.Context, op string, timeout time.Duration, call Call[T]) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)

	go func() {
		value, err := call(attemptCtx)
		done <- attemptResult[T]{value: value, err: err}
	}()

	var zero T

	select {
	case result := <-done:
		if result.err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, core.NewError(core.KindTransientService, op, result.err)
		}

		return result.value, result.err
	case <-attemptCtx.Done():
		return zero, core.NewError(core.KindTransientService, op, attemptCtx.Err())
	}
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
