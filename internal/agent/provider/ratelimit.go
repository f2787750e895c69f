package provider

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

type rateLimitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps p so that at most requestsPerMinute calls start per
// minute. Non-positive values return p unchanged.
func WithRateLimit(p Provider, requestsPerMinute int) Provider {
	if requestsPerMinute <= 0 {
		return p
	}
	return &rateLimitedProvider{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

func (r *rateLimitedProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fromTransport(r.Name(), err)
	}
	return r.Provider.Complete(ctx, prompt)
}
