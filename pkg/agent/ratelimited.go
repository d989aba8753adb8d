package agent

import (
	"context"
	"time"

	"github.com/Ramsey-B/yarrow/pkg/redis"
)

// WindowLimiter is a shared sliding-window limiter
type WindowLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*redis.RateLimitResult, error)
}

// RateLimitedAgent caps agent calls across every replica. It waits for a free slot instead of
// failing the call.
type RateLimitedAgent struct {
	next    Agent
	limiter WindowLimiter
	key     string
	limit   int64
	window  time.Duration
}

// NewRateLimitedAgent wraps next with a limit of calls per window
func NewRateLimitedAgent(next Agent, limiter WindowLimiter, key string, limit int64, window time.Duration) *RateLimitedAgent {
	return &RateLimitedAgent{
		next:    next,
		limiter: limiter,
		key:     key,
		limit:   limit,
		window:  window,
	}
}

func (a *RateLimitedAgent) Invoke(ctx context.Context, invocation Invocation) (*Response, error) {
	for {
		res, err := a.limiter.Allow(ctx, a.key, a.limit, a.window)
		if err != nil {
			return nil, err
		}
		if res.Allowed {
			return a.next.Invoke(ctx, invocation)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(res.RetryIn):
		}
	}
}
