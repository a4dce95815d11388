// Package ratelimit paces outgoing requests on the client side.
//
// TokenBucket is backed by golang.org/x/time/rate and suits steady request
// rates with short bursts. SlidingWindow enforces a hard quota per time
// window, matching the per-endpoint windows the API reports in its rate
// limit headers. Unlimited disables pacing.
//
//	limiter := ratelimit.NewPerMinute(60, 10)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
