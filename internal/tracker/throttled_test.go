package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/conductor/internal/ratelimit"
	"github.com/zulandar/conductor/internal/retry"
)

// flakyGateway fails a scripted number of times before succeeding.
type flakyGateway struct {
	failures int
	calls    int
	err      error
}

func (f *flakyGateway) attempt() error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyGateway) PostReply(ctx context.Context, threadID, body, idemKey string) (string, error) {
	if err := f.attempt(); err != nil {
		return "", err
	}
	return "backend#1", nil
}

func (f *flakyGateway) PostReaction(ctx context.Context, commentID, reaction string) error {
	return f.attempt()
}

func (f *flakyGateway) UpdateStatus(ctx context.Context, issueID, status string) error {
	return f.attempt()
}

func (f *flakyGateway) ThreadContext(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return []ThreadMessage{{ID: "backend#1"}}, nil
}

var testPolicy = retry.Policy{
	MaxAttempts:  3,
	InitialDelay: time.Millisecond,
	MaxDelay:     5 * time.Millisecond,
	Multiplier:   2.0,
	Jitter:       0.2,
}

func TestThrottled_RetriesTransient(t *testing.T) {
	inner := &flakyGateway{failures: 2, err: errors.New("503")}
	g, err := NewThrottled(inner, ratelimit.New(1000, 100), testPolicy)
	if err != nil {
		t.Fatalf("NewThrottled: %v", err)
	}

	id, err := g.PostReply(context.Background(), "backend#7", "hi", "k-1")
	if err != nil {
		t.Fatalf("PostReply: %v", err)
	}
	if id != "backend#1" {
		t.Errorf("id = %q", id)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestThrottled_ExhaustsAtBound(t *testing.T) {
	inner := &flakyGateway{failures: 10, err: errors.New("503")}
	g, _ := NewThrottled(inner, ratelimit.New(1000, 100), testPolicy)

	_, err := g.PostReply(context.Background(), "backend#7", "hi", "k-1")
	var ex *retry.ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if inner.calls != testPolicy.MaxAttempts {
		t.Errorf("calls = %d, want exactly %d", inner.calls, testPolicy.MaxAttempts)
	}
}

func TestThrottled_PermanentNotRetried(t *testing.T) {
	inner := &flakyGateway{failures: 10, err: retry.Permanent(errors.New("404"))}
	g, _ := NewThrottled(inner, ratelimit.New(1000, 100), testPolicy)

	if err := g.UpdateStatus(context.Background(), "backend#7", "done"); err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestThrottled_AppliesRateLimit(t *testing.T) {
	inner := &flakyGateway{}
	// 1 token burst, 50/sec refill: the second call must wait ~20ms.
	g, _ := NewThrottled(inner, ratelimit.New(50, 1), testPolicy)

	start := time.Now()
	g.PostReaction(context.Background(), "backend#1", "eyes")
	g.PostReaction(context.Background(), "backend#2", "eyes")
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("two calls took %v, expected admission delay", elapsed)
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2", inner.calls)
	}
}

func TestThrottled_ContextCancelDuringAcquire(t *testing.T) {
	inner := &flakyGateway{}
	g, _ := NewThrottled(inner, ratelimit.New(0.001, 1), testPolicy)

	// Drain the only token.
	g.PostReaction(context.Background(), "backend#1", "eyes")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.PostReaction(ctx, "backend#2", "eyes"); err == nil {
		t.Fatal("expected error when admission never succeeds")
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1 (second call never admitted)", inner.calls)
	}
}

func TestNewThrottled_Validation(t *testing.T) {
	if _, err := NewThrottled(nil, ratelimit.New(1, 1), testPolicy); err == nil {
		t.Error("expected error without gateway")
	}
	if _, err := NewThrottled(&flakyGateway{}, nil, testPolicy); err == nil {
		t.Error("expected error without limiter")
	}
}
