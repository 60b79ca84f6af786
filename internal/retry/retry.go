// Package retry factors the retry-with-backoff loop out of the call sites so
// any fallible I/O call can be wrapped with the same policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// HTTPError marks a response status so the retryable predicate can classify it.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Policy is a reusable retry configuration: bounded attempts with a doubling
// delay between them. Retryable decides which errors are worth another try;
// nil means retry everything.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Retryable   func(error) bool
}

// Default matches the production LLM/exchange call policy: 5 attempts,
// 1s/2s/4s/8s waits, retrying 429/5xx and transport errors.
func Default() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Retryable:   RetryableHTTP,
	}
}

// RetryableHTTP treats rate limits, server errors, and anything that is not
// an HTTP status error (i.e. transport failures) as retryable.
func RetryableHTTP(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		switch he.Status {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	return true
}

// Do runs fn until it succeeds, the policy is exhausted, or an error is
// classified non-retryable. The last error is returned unwrapped so callers
// can inspect it.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}

	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		last = fn()
		if last == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(last) {
			return last
		}
	}
	return last
}
