package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/logger"
)

// Default retry policy.
const (
	DefaultMaxAttempts     = 4
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
)

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	// MaxAttempts includes the first try.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultInitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultMaxInterval
	}
	return p
}

// Retry runs op until it succeeds, returns a non-transient error, the
// attempts run out or ctx is done. Only *domain.TransientConnectorError
// is retried. The last error is returned unchanged.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	policy = policy.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	},
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1)), ctx),
		func(err error, wait time.Duration) {
			logger.Debug("retry %d/%d in %s: %v", attempt, policy.MaxAttempts, wait, err)
		})

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
