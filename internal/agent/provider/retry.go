package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig controls how retryable provider failures are repeated.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	// InitialInterval is the first backoff delay. Defaults to 1s.
	InitialInterval time.Duration

	// MaxInterval caps a single backoff delay. Defaults to 30s.
	MaxInterval time.Duration

	// OnRetry, when set, is called before each wait.
	OnRetry func(err error, wait time.Duration)
}

type retryingProvider struct {
	Provider
	cfg RetryConfig
}

// WithRetry wraps p so that retryable errors are repeated with exponential
// backoff. A server-provided Retry-After overrides the computed delay.
func WithRetry(p Provider, cfg RetryConfig) Provider {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	return &retryingProvider{Provider: p, cfg: cfg}
}

func (r *retryingProvider) Complete(ctx context.Context, prompt string) (string, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.cfg.InitialInterval
	exp.MaxInterval = r.cfg.MaxInterval
	exp.MaxElapsedTime = 0

	hinted := &retryAfterBackOff{BackOff: exp}
	policy := backoff.WithContext(backoff.WithMaxRetries(hinted, uint64(r.cfg.MaxRetries)), ctx)

	var reply string
	op := func() error {
		out, err := r.Provider.Complete(ctx, prompt)
		if err == nil {
			reply = out
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		hinted.next = RetryAfter(err)
		return err
	}

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry(err, wait)
		}
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

// retryAfterBackOff returns the server hint once when present.
type retryAfterBackOff struct {
	backoff.BackOff
	next *time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	computed := b.BackOff.NextBackOff()
	if b.next != nil {
		d := *b.next
		b.next = nil
		return d
	}
	return computed
}
