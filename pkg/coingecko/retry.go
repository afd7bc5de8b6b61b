package coingecko

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultRetryInitialInterval = time.Second
	defaultRetryMaxInterval     = 30 * time.Second
	defaultRetryMaxAttempts     = 6
)

// RetryPolicy bounds the exponential backoff applied to rate-limited and
// transient failures. MaxAttempts counts the first call.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: defaultRetryInitialInterval,
		MaxInterval:     defaultRetryMaxInterval,
		MaxAttempts:     defaultRetryMaxAttempts,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = defaultRetryInitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultRetryMaxAttempts
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
}

// withRetry runs op until it succeeds, fails with a non-retryable kind, or
// the policy is exhausted. The last error is returned as produced by op.
func (c *Client) withRetry(ctx context.Context, what string, op func() error) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !KindOf(err).Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}, c.retry.backOff(ctx), func(err error, wait time.Duration) {
		c.logger.Warnf("Attempt %d/%d of %s failed, retrying in %s: %v", attempt, c.retry.MaxAttempts, what, wait, err)
	})
}
