package util

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting
// at baseDelay and capped at 30s. It returns nil on the first successful
// call, or the last error if all attempts fail. Cancellation is honoured
// between attempts.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	const maxDelay = 30 * time.Second

	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}

	return err
}
