// Package retry wraps fallible operations with bounded retries, exponential
// backoff, and cooperative rate limiting.
//
// Only failures classified as transient are retried: errors wrapped with
// [Retryable], errors carrying a transient code from pkg/errors, and
// per-attempt timeouts. Anything unclassified is treated as terminal and
// returned immediately, so a misbehaving collaborator is never retried
// indefinitely.
//
// A [Policy] may be shared by many goroutines. Its rate limiter caps
// aggregate throughput across all operations sharing the policy, not merely
// the delay of a single call.
package retry

import (
	"context"
	stderrors "errors"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/matzehuels/depvet/pkg/errors"
)

// RetryableError wraps an error to indicate it should trigger a retry.
// Wrap transient failures (network timeouts, 5xx responses) with this type
// so that [Policy.Do] knows to attempt the operation again.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps an error as a RetryableError. Returns nil for nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err should trigger another attempt.
// Transient error codes, [RetryableError] wrappers, and attempt timeouts
// qualify; everything else is terminal.
func IsRetryable(err error) bool {
	if stderrors.As(err, new(*RetryableError)) {
		return true
	}
	if errors.IsTransient(err) {
		return true
	}
	// A per-attempt deadline counts as transient by default.
	return stderrors.Is(err, context.DeadlineExceeded)
}

// Policy configures bounded retries with exponential backoff.
// The zero value is not usable; construct with [NewPolicy] or set fields
// explicitly and rely on Do's defaults (1 attempt minimum).
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the wait after the first failed attempt. The wait after
	// attempt n is BaseDelay * Multiplier^(n-1).
	BaseDelay time.Duration

	// Multiplier scales the delay after each failed attempt. Values below 1
	// are treated as 1 (constant delay).
	Multiplier float64

	// Jitter randomizes each delay to between 50% and 100% of its nominal
	// value, spreading retries from concurrent operations.
	Jitter bool

	// Limiter, when set, caps aggregate operation throughput across every
	// goroutine sharing this policy. Each attempt waits for a token before
	// invoking the operation.
	Limiter *rate.Limiter
}

// NewPolicy creates a policy with sensible defaults: 3 attempts, 1s base
// delay, doubling, no jitter, no rate limit.
func NewPolicy() *Policy {
	return &Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
	}
}

// WithRateLimit sets a shared limiter allowing maxOps operations per
// interval and returns the policy for chaining.
func (p *Policy) WithRateLimit(maxOps int, interval time.Duration) *Policy {
	p.Limiter = rate.NewLimiter(rate.Every(interval/time.Duration(maxOps)), maxOps)
	return p
}

// Do executes fn with the policy's retry, backoff, and rate limiting.
// See [Policy.DoWithObserver].
func (p *Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	return p.DoWithObserver(ctx, fn, nil)
}

// DoWithObserver executes fn up to MaxAttempts times, invoking observe after
// every attempt with the 1-based attempt number and its error (nil on
// success). Only retryable failures trigger another attempt; terminal
// failures and exhausted attempts return the last error. Delays respect
// context cancellation.
func (p *Policy) DoWithObserver(ctx context.Context, fn func(context.Context) error, observe func(attempt int, err error)) error {
	attempts := max(p.MaxAttempts, 1)
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := p.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if observe != nil {
			observe(attempt, err)
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.sleep(delay)):
			}
			delay = time.Duration(float64(delay) * multiplier)
		}
	}
	return lastErr
}

// sleep applies jitter to a nominal delay.
func (p *Policy) sleep(d time.Duration) time.Duration {
	if !p.Jitter || d <= 0 {
		return d
	}
	half := d / 2
	return half + rand.N(half+1)
}
