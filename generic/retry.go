package generic

import (
	"context"
	"time"
)

// DefaultRetryAttempts bounds optimistic retries of versioned writes.
const DefaultRetryAttempts = 5

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. Waits grow linearly (attempt x 2ms) between tries.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 2 * time.Millisecond):
		}
	}
	return err
}
