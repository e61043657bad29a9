// Package retry runs an operation repeatedly with exponential backoff.
//
// The delay before retry n is BaseDelay * 2^n, so with the default one
// second base and three attempts a failing call is tried at 0s, 2s and 6s.
// Sleeping honours context cancellation.
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context, attempt int) error {
//	    return callBackend(ctx)
//	}, &retry.Options{
//	    ShouldRetry: retry.RetryOnAny(retry.RetryOnNetworkErrors(), retry.RetryOn5xx()).ShouldRetry,
//	})
package retry
