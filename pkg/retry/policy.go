package retry

import (
	"fmt"
	"math"
	"time"
)

// Policy describes how an operation is retried
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one
	MaxAttempts int
	// InitialWait is slept once before the first attempt
	InitialWait time.Duration
	// InitialDelay is the delay after the first failed attempt
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts (0 means no cap)
	MaxDelay time.Duration
	// Multiplier is the growth factor between consecutive delays
	Multiplier float64
	// Retryable decides whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
}

// Fixed returns a policy that polls at a constant interval
func Fixed(maxAttempts int, interval time.Duration) Policy {
	return Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: interval,
		MaxDelay:     interval,
		Multiplier:   1,
	}
}

// Exponential returns a policy whose delays grow by multiplier up to maxDelay.
// The initial delay is also waited before the first attempt.
func Exponential(maxAttempts int, initial, maxDelay time.Duration, multiplier float64) Policy {
	return Policy{
		MaxAttempts:  maxAttempts,
		InitialWait:  initial,
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		Multiplier:   multiplier,
	}
}

// Validate checks the policy for values that cannot be executed
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 || p.InitialWait < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	return nil
}

// Delay returns the wait after the given 1-based attempt has failed:
// min(InitialDelay * Multiplier^(attempt-1), MaxDelay)
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// WithRetryable returns a copy of the policy using the given predicate
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

func (p Policy) isRetryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}
