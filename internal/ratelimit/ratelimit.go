// Package ratelimit implements token-bucket admission control for outbound
// tracker API calls.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Default bucket parameters, tuned for typical tracker API allowances.
const (
	DefaultRate  = 5.0 // tokens per second
	DefaultBurst = 10
)

// Limiter is a token bucket. Tokens refill continuously at Rate per second
// up to Burst. Acquire blocks cooperatively; TryAcquire never blocks.
type Limiter struct {
	rate  float64
	burst float64
	now   func() time.Time

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// New creates a Limiter refilling at rate tokens/second with the given
// burst capacity. Non-positive parameters fall back to defaults. The bucket
// starts full.
func New(rate float64, burst int) *Limiter {
	if rate <= 0 {
		rate = DefaultRate
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	now := time.Now()
	return &Limiter{
		rate:   rate,
		burst:  float64(burst),
		now:    time.Now,
		tokens: float64(burst),
		last:   now,
	}
}

// TryAcquire takes n tokens if available, returning true on success.
func (l *Limiter) TryAcquire(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens < float64(n) {
		return false
	}
	l.tokens -= float64(n)
	return true
}

// Acquire blocks until n tokens are available or ctx is done. n larger than
// the burst capacity can never be satisfied and returns an error immediately.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	if float64(n) > l.burst {
		return fmt.Errorf("ratelimit: acquire %d exceeds burst %d", n, int(l.burst))
	}

	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= float64(n) {
			l.tokens -= float64(n)
			l.mu.Unlock()
			return nil
		}
		// Compute how long until enough tokens accumulate.
		deficit := float64(n) - l.tokens
		wait := time.Duration(deficit / l.rate * float64(time.Second))
		l.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("ratelimit: acquire: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// Tokens returns the current token count. Exposed for tests and status output.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// refill credits tokens for elapsed time. Must be called with l.mu held.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	if elapsed <= 0 {
		return
	}
	l.last = now
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
}
