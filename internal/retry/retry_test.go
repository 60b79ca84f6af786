package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterRetries(t *testing.T) {
	p := Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &HTTPError{Status: 503}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Retryable: RetryableHTTP}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return &HTTPError{Status: 429}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, 429, he.Status)
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, Retryable: RetryableHTTP}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return &HTTPError{Status: 401}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{MaxAttempts: 3, BaseDelay: time.Minute}
	err := p.Do(ctx, func() error { return errors.New("transient") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryableHTTPClassification(t *testing.T) {
	assert.True(t, RetryableHTTP(&HTTPError{Status: 500}))
	assert.True(t, RetryableHTTP(&HTTPError{Status: 429}))
	assert.False(t, RetryableHTTP(&HTTPError{Status: 400}))
	// Transport errors have no status and are retryable.
	assert.True(t, RetryableHTTP(errors.New("connection reset by peer")))
}
