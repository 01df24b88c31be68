package retry

import (
	"context"
	"errors"
	"time"
)

// ErrAttemptsExhausted wraps the last error once the retry budget is spent.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// RetryableFunc reports whether an error is worth retrying.
// Validation and authentication errors must return false.
type RetryableFunc func(error) bool

// Do runs fn up to maxAttempts times, sleeping per the strategy between
// attempts. It stops early when fn succeeds, when the error is not
// retryable, or when the context is cancelled. The final error is wrapped
// with ErrAttemptsExhausted only when the budget ran out on a retryable
// error, so callers can distinguish "gave up" from "refused".
func Do(ctx context.Context, maxAttempts int, strategy BackoffStrategy, retryable RetryableFunc, fn func(context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if strategy == nil {
		strategy = DefaultBackoffStrategy()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(strategy.NextInterval(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return errors.Join(ErrAttemptsExhausted, lastErr)
}
