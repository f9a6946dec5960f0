package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to the wrapped completer with a token bucket. Wrap every
// tier sharing a provider account with the same limiter.
type RateLimited struct {
	next    ChatCompleter
	limiter *rate.Limiter
}

// NewLimiter builds the shared bucket. rps <= 0 disables throttling.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func WithRateLimit(next ChatCompleter, limiter *rate.Limiter) *RateLimited {
	return &RateLimited{next: next, limiter: limiter}
}

func (r *RateLimited) Complete(ctx context.Context, system, user string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return r.next.Complete(ctx, system, user)
}

func (r *RateLimited) Model() string { return r.next.Model() }
