package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

var fastRetry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastRetry, func(context.Context) error {
			calls++
			if calls < 3 {
				return &domain.TransientConnectorError{Op: "dial", Err: errors.New("reset")}
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastRetry, func(context.Context) error {
			calls++
			return &domain.TransientConnectorError{Op: "dial", Err: errors.New("timeout")}
		})
		assert.True(t, domain.IsTransient(err))
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry terminal errors", func(t *testing.T) {
		calls := 0
		terminal := &domain.TerminalItemError{ItemKey: "x", Err: errors.New("404")}
		err := Retry(context.Background(), fastRetry, func(context.Context) error {
			calls++
			return terminal
		})
		assert.Same(t, terminal, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, RetryPolicy{MaxAttempts: 10, InitialInterval: time.Second}, func(context.Context) error {
			return &domain.TransientConnectorError{Op: "dial", Err: errors.New("timeout")}
		})
		assert.Error(t, err)
	})
}
