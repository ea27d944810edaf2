package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrExhausted is matched by every error returned after the attempt budget ran out
var ErrExhausted = errors.New("retry attempts exhausted")

// ExhaustedError carries the last error seen before the budget ran out
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted, e.Attempts, e.Last)
}

// Unwrap exposes both ErrExhausted and the last attempt's error to errors.Is
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

// Attempt describes a failed attempt that will be retried
type Attempt struct {
	Number int
	Err    error
	Delay  time.Duration
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

type options struct {
	logger *zap.Logger
	sleep  Sleeper
	notify func(Attempt)
}

// Option configures a single Do call
type Option func(*options)

// WithLogger logs retries on the given logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSleeper replaces the timer based wait, mostly for tests
func WithSleeper(s Sleeper) Option {
	return func(o *options) {
		if s != nil {
			o.sleep = s
		}
	}
}

// WithNotify registers a callback invoked before each retry
func WithNotify(fn func(Attempt)) Option {
	return func(o *options) {
		o.notify = fn
	}
}

// Sleep waits for d, returning early with ctx.Err() on cancellation
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs op until it succeeds, returns a non-retryable error, the context is
// cancelled or the policy's attempt budget is spent. Attempts are numbered from 1.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context, attempt int) (T, error), opts ...Option) (T, error) {
	var zero T
	if err := policy.Validate(); err != nil {
		return zero, fmt.Errorf("invalid retry policy: %w", err)
	}

	o := options{logger: zap.NewNop(), sleep: Sleep}
	for _, opt := range opts {
		opt(&o)
	}

	if policy.InitialWait > 0 {
		if err := o.sleep(ctx, policy.InitialWait); err != nil {
			return zero, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				o.logger.Debug("operation succeeded after retries", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if !policy.isRetryable(err) {
			o.logger.Debug("error is not retryable", zap.Error(err), zap.Int("attempt", attempt))
			return zero, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		o.logger.Debug("retrying operation",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("delay", delay))
		if o.notify != nil {
			o.notify(Attempt{Number: attempt, Err: err, Delay: delay})
		}

		if err := o.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	o.logger.Warn("max attempts exceeded",
		zap.Error(lastErr),
		zap.Int("attempts", policy.MaxAttempts))
	return zero, &ExhaustedError{Attempts: policy.MaxAttempts, Last: lastErr}
}
