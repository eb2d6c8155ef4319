package oracle

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
)

// RateLimitedClient wraps another Client with a token-bucket limiter so a
// tight poll loop cannot flood the backend. Waiting counts against the
// caller's ctx deadline.
type RateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimitedClient allows rps requests per second with the given burst.
// A non-positive rps disables limiting and returns the inner client's
// behavior unchanged through the wrapper.
func NewRateLimitedClient(inner Client, rps float64, burst int) *RateLimitedClient {
	if rps <= 0 {
		return &RateLimitedClient{inner: inner, limiter: nil}
	}
	if burst < 1 {
		burst = 1
	}
	slog.Info("Oracle rate limiting enabled", "rps", rps, "burst", burst)
	return &RateLimitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Generate implements the Client interface
func (r *RateLimitedClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: rate limiter wait: %v", ErrUnavailable, err)
		}
	}
	return r.inner.Generate(ctx, prompt, params)
}
