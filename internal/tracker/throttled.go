package tracker

import (
	"context"
	"fmt"

	"github.com/zulandar/conductor/internal/ratelimit"
	"github.com/zulandar/conductor/internal/retry"
)

// Throttled wraps a Gateway with token-bucket admission and retry-with-
// backoff. Policy order is fixed: acquire a token first, then run the
// retry-wrapped call. Each retry attempt re-acquires its own token so
// retries do not bypass admission control.
type Throttled struct {
	inner   Gateway
	limiter *ratelimit.Limiter
	policy  retry.Policy
}

// NewThrottled decorates inner with the given limiter and retry policy.
func NewThrottled(inner Gateway, limiter *ratelimit.Limiter, policy retry.Policy) (*Throttled, error) {
	if inner == nil {
		return nil, fmt.Errorf("tracker: throttled: gateway is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("tracker: throttled: limiter is required")
	}
	return &Throttled{inner: inner, limiter: limiter, policy: policy}, nil
}

// call runs op under admission control and the retry policy.
func (t *Throttled) call(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, t.policy, func(ctx context.Context) error {
		if err := t.limiter.Acquire(ctx, 1); err != nil {
			return retry.Permanent(err)
		}
		return op(ctx)
	})
}

// PostReply implements Gateway.
func (t *Throttled) PostReply(ctx context.Context, threadID, body, idemKey string) (string, error) {
	var replyID string
	err := t.call(ctx, func(ctx context.Context) error {
		var opErr error
		replyID, opErr = t.inner.PostReply(ctx, threadID, body, idemKey)
		return opErr
	})
	return replyID, err
}

// PostReaction implements Gateway.
func (t *Throttled) PostReaction(ctx context.Context, commentID, reaction string) error {
	return t.call(ctx, func(ctx context.Context) error {
		return t.inner.PostReaction(ctx, commentID, reaction)
	})
}

// UpdateStatus implements Gateway.
func (t *Throttled) UpdateStatus(ctx context.Context, issueID, status string) error {
	return t.call(ctx, func(ctx context.Context) error {
		return t.inner.UpdateStatus(ctx, issueID, status)
	})
}

// ThreadContext implements Gateway.
func (t *Throttled) ThreadContext(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error) {
	var msgs []ThreadMessage
	err := t.call(ctx, func(ctx context.Context) error {
		var opErr error
		msgs, opErr = t.inner.ThreadContext(ctx, threadID, limit)
		return opErr
	})
	return msgs, err
}
