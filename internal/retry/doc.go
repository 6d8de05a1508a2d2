// Package retry runs an operation again with exponential backoff and jitter
// until it succeeds, the error is not retryable, the attempts are exhausted
// or the context is done.
//
//	err := retry.Do(ctx, &retry.Config{MaxRetries: 2}, func() error {
//	    return callCerbos(ctx)
//	}, &retry.Options{ShouldRetry: isUnavailable})
package retry
