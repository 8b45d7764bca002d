package provider

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// withRetry runs fn until it succeeds, hits a fatal error, or exhausts
// the attempt budget. The delay between attempts grows linearly:
// base × attempt. Context cancellation during a wait aborts the loop
// with the context's error.
func withRetry[T any](ctx context.Context, attempts int, base time.Duration, logger *slog.Logger, fn func() (T, *ProviderError)) (T, error) {
	var zero T
	var lastErr *ProviderError
	for attempt := 1; attempt <= attempts; attempt++ {
		out, perr := fn()
		if perr == nil {
			return out, nil
		}
		if !perr.Retryable {
			return zero, perr
		}
		lastErr = perr
		if attempt == attempts {
			break
		}
		delay := base * time.Duration(attempt)
		logger.Warn("provider request failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", perr)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}
