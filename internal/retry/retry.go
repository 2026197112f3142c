// Package retry wraps operations with exponential backoff. Only transient
// failures are retried; errors marked Permanent propagate on first attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Default policy parameters.
const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
	DefaultJitter       = 0.2
)

// Policy holds backoff parameters. Jitter is multiplicative: each delay is
// scaled by a random factor in [1-Jitter, 1+Jitter] so many concurrent
// sessions retrying the same outage do not synchronize.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

// withDefaults fills zero fields with package defaults.
func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = DefaultJitter
	}
	return p
}

// permanentError marks an error as non-retryable.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do propagates it without further attempts.
// Authorization failures and other 4xx-equivalents belong here.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or any error it wraps) was marked Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ExhaustedError is returned when all attempts fail with retryable errors.
// It carries the last underlying error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %d attempts exhausted: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs op up to policy.MaxAttempts times with exponential backoff between
// attempts. It stops early when op succeeds, returns a Permanent error, or
// ctx is cancelled. When attempts exhaust it returns an ExhaustedError
// wrapping the last failure.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	p := policy.withDefaults()

	delay := p.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry: %w", ctx.Err())
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(jittered(delay, p.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry: %w", ctx.Err())
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return &ExhaustedError{Attempts: p.MaxAttempts, Err: lastErr}
}

// jittered scales d by a random factor in [1-jitter, 1+jitter].
func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter == 0 {
		return d
	}
	factor := 1 + jitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * factor)
}
