package ratelimit

import (
	"context"
	"testing"
	"time"
)

// fixedClock pins the limiter to a controllable time source.
func fixedClock(l *Limiter) *time.Time {
	now := time.Now()
	l.now = func() time.Time { return now }
	l.last = now
	return &now
}

func TestTryAcquire_BurstThenEmpty(t *testing.T) {
	l := New(1.0, 3)
	fixedClock(l)

	for i := 0; i < 3; i++ {
		if !l.TryAcquire(1) {
			t.Fatalf("acquire %d within burst should succeed", i+1)
		}
	}
	if l.TryAcquire(1) {
		t.Fatal("acquire beyond burst with no refill should fail")
	}
}

func TestTryAcquire_Refill(t *testing.T) {
	l := New(2.0, 4)
	now := fixedClock(l)

	for i := 0; i < 4; i++ {
		l.TryAcquire(1)
	}
	if l.TryAcquire(1) {
		t.Fatal("bucket should be empty")
	}

	// 1 second at 2 tokens/sec credits 2 tokens.
	*now = now.Add(time.Second)
	if !l.TryAcquire(2) {
		t.Fatal("expected 2 tokens after refill")
	}
	if l.TryAcquire(1) {
		t.Fatal("refill should not exceed elapsed credit")
	}
}

func TestRefill_CapsAtBurst(t *testing.T) {
	l := New(10.0, 5)
	now := fixedClock(l)

	*now = now.Add(time.Hour)
	if got := l.Tokens(); got != 5 {
		t.Errorf("Tokens = %v, want 5 (capped at burst)", got)
	}
}

func TestAcquire_ExceedsBurst(t *testing.T) {
	l := New(1.0, 2)
	if err := l.Acquire(context.Background(), 3); err == nil {
		t.Fatal("acquiring more than burst should fail immediately")
	}
}

func TestAcquire_Blocks(t *testing.T) {
	l := New(100.0, 1)
	if !l.TryAcquire(1) {
		t.Fatal("setup: drain bucket")
	}

	// At 100 tokens/sec the next token arrives in ~10ms.
	start := time.Now()
	if err := l.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Acquire took %v, expected quick refill", elapsed)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	l := New(0.001, 1) // effectively no refill within the test
	l.TryAcquire(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, 1); err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestNew_Defaults(t *testing.T) {
	l := New(0, 0)
	if l.rate != DefaultRate {
		t.Errorf("rate = %v, want %v", l.rate, DefaultRate)
	}
	if l.burst != float64(DefaultBurst) {
		t.Errorf("burst = %v, want %v", l.burst, float64(DefaultBurst))
	}
}
