package api

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig controls how transient failures are retried.
//
// The delay before retry n (0-based) is BaseDelay * 2^n, capped at MaxDelay.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig is used for any zero field of a RetryConfig.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 4,
	BaseDelay:   250 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

// NewBackOff returns the retry schedule for a single request. It stops after
// MaxAttempts attempts or once ctx is done.
func (r RetryConfig) NewBackOff(ctx context.Context) backoff.BackOff {
	r = r.withDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = r.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.MaxAttempts-1)), ctx)
}

func (r RetryConfig) withDefaults() RetryConfig {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = DefaultRetryConfig.MaxAttempts
	}
	if r.BaseDelay <= 0 {
		r.BaseDelay = DefaultRetryConfig.BaseDelay
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = DefaultRetryConfig.MaxDelay
	}
	return r
}
