package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"twigo/pkg/config"
)

// Limiter paces outgoing requests
type Limiter interface {
	// Allow reports whether a request may proceed now, consuming a slot if so
	Allow() bool
	// Wait blocks until a request may proceed or ctx is done
	Wait(ctx context.Context) error
	// Reset restores full capacity
	Reset()
}

// TokenBucket allows bursts of up to capacity requests and refills at a
// steady rate of capacity tokens per refillPeriod.
type TokenBucket struct {
	capacity     int
	refillPeriod time.Duration
	mu           sync.Mutex
	limiter      *rate.Limiter
}

// NewTokenBucket creates a token bucket
func NewTokenBucket(capacity int, refillPeriod time.Duration) *TokenBucket {
	tb := &TokenBucket{capacity: capacity, refillPeriod: refillPeriod}
	tb.limiter = tb.newLimiter()
	return tb
}

// NewPerMinute creates a bucket admitting requestsPerMinute requests a
// minute with the given burst
func NewPerMinute(requestsPerMinute, burst int) *TokenBucket {
	tb := &TokenBucket{capacity: burst, refillPeriod: time.Minute}
	tb.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	return tb
}

func (tb *TokenBucket) newLimiter() *rate.Limiter {
	every := tb.refillPeriod / time.Duration(max(tb.capacity, 1))
	return rate.NewLimiter(rate.Every(every), tb.capacity)
}

func (tb *TokenBucket) current() *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limiter
}

// Allow checks if a request can proceed
func (tb *TokenBucket) Allow() bool {
	return tb.current().Allow()
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.current().Wait(ctx)
}

// Reset refills the bucket
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	lim := rate.NewLimiter(tb.limiter.Limit(), tb.limiter.Burst())
	tb.limiter = lim
}

// SlidingWindow admits at most maxRequests within any windowSize span. It
// mirrors the fixed per-window quotas the API announces.
type SlidingWindow struct {
	windowSize  time.Duration
	maxRequests int
	requests    []time.Time
	mu          sync.Mutex
	now         func() time.Time
}

// NewSlidingWindow creates a sliding window limiter
func NewSlidingWindow(maxRequests int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		requests:    make([]time.Time, 0, maxRequests),
		now:         time.Now,
	}
}

// Allow checks if a request can proceed
func (sw *SlidingWindow) Allow() bool {
	_, ok := sw.reserve()
	return ok
}

// reserve records a request if the window has room; otherwise it returns
// how long until the oldest request leaves the window
func (sw *SlidingWindow) reserve() (time.Duration, bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	sw.requests = append(sw.requests[:0], sw.requests[i:]...)

	if len(sw.requests) < sw.maxRequests {
		sw.requests = append(sw.requests, now)
		return 0, true
	}
	return sw.requests[0].Sub(cutoff), false
}

// Wait blocks until a request is allowed
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		wait, ok := sw.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(max(wait, time.Millisecond))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Reset clears all recorded requests
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.requests = sw.requests[:0]
}

// Unlimited never delays a request
type Unlimited struct{}

func (Unlimited) Allow() bool { return true }

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

func (Unlimited) Reset() {}

// FromConfig builds the limiter selected by cfg. A zero request rate
// disables pacing.
func FromConfig(cfg *config.RateLimitConfig) Limiter {
	if cfg == nil || cfg.RequestsPerMinute <= 0 {
		return Unlimited{}
	}
	if cfg.Strategy == "sliding_window" {
		return NewSlidingWindow(cfg.RequestsPerMinute, time.Minute)
	}
	return NewPerMinute(cfg.RequestsPerMinute, max(cfg.BurstSize, 1))
}
