// Package retry wraps request-issuing calls with per-error-kind policies and
// provides the backoff strategies shared by the retry handler and the
// streaming connection.
//
// Basic usage:
//
//	h := retry.NewHandler(nil)
//	resp, err := retry.Do(ctx, h, func(ctx context.Context) (*api.Response, error) {
//		return client.Send(ctx, req)
//	})
//
// Policies are looked up by error kind, falling back to the parent kinds:
//
//	h.On(errors.KindRateLimitExceeded, retry.RaiseNow())
//	h.On(errors.KindAPI, retry.RetryUpTo(5, &retry.ConstantBackoff{Delay: time.Second}))
//
// Default policies:
//   - Rate limit exceeded: sleep until the reset time plus one second, retry forever
//   - Timeouts: retry forever
//   - Service unavailable: retry with exponential backoff, three attempts in total
//   - Everything else: return the error
package retry
