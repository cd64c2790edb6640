package model

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// RateLimitedClient applies a process-local token bucket in front of a
// Client, blocking callers until request capacity is available. It sits at
// the provider client boundary: construct one per process and hand it to
// the agent and evaluator in place of the raw client.
type RateLimitedClient struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps next with a bucket refilling at rps requests
// per second and allowing bursts of burst requests.
func NewRateLimitedClient(next Client, rps float64, burst int) (*RateLimitedClient, error) {
	if next == nil {
		return nil, errors.New("model: wrapped client is required")
	}
	if rps <= 0 {
		return nil, errors.New("model: requests-per-second must be positive")
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedClient{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}, nil
}

// StreamChat implements Client, waiting for bucket capacity before
// delegating. Cancellation while waiting surfaces as the context's error.
func (c *RateLimitedClient) StreamChat(ctx context.Context, req Request) (Stream, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.StreamChat(ctx, req)
}
