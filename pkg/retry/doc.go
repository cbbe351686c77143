// Package retry provides bounded retry with fixed or exponential backoff.
//
// Two shapes are used in the gateway:
//
//   - Fixed(attempts, interval) drives IoTCC registration polling, where the
//     cloud answers "not yet created" and the request is resent after a fixed
//     pause until the attempt bound is reached.
//   - Startup() drives the initial transport connection with exponential
//     backoff and jitter.
//
// Example:
//
//	id, err := retry.DoWithResult(ctx, retry.Fixed(24, 5*time.Second), func() (string, error) {
//	    return requestOnce(ctx)
//	})
//	if errors.Is(err, retry.ErrExhausted) {
//	    // the cloud never produced an identifier
//	}
//
// Wrap an error with NonRetryable to stop immediately. The context is honored
// both between attempts and during the backoff sleep.
package retry
