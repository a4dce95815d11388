package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twigo/pkg/config"
)

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(5, time.Second)

	for i := 0; i < 5; i++ {
		assert.True(t, tb.Allow(), "token %d should be available", i+1)
	}
	assert.False(t, tb.Allow())

	// one token refills every 200ms
	time.Sleep(250 * time.Millisecond)
	assert.True(t, tb.Allow())

	tb.Reset()
	for i := 0; i < 5; i++ {
		assert.True(t, tb.Allow())
	}
}

func TestTokenBucketWait(t *testing.T) {
	tb := NewTokenBucket(1, 50*time.Millisecond)
	require.True(t, tb.Allow())

	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, tb.Wait(ctx))
}

func TestNewPerMinute(t *testing.T) {
	tb := NewPerMinute(60, 2)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestSlidingWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	sw := NewSlidingWindow(3, time.Second)
	sw.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, sw.Allow(), "request %d should be allowed", i+1)
	}
	assert.False(t, sw.Allow())

	now = now.Add(500 * time.Millisecond)
	wait, ok := sw.reserve()
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	now = now.Add(600 * time.Millisecond)
	assert.True(t, sw.Allow())

	sw.Reset()
	assert.Empty(t, sw.requests)
}

func TestSlidingWindowWaitCancelled(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	require.True(t, sw.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sw.Wait(ctx), context.DeadlineExceeded)
}

func TestUnlimited(t *testing.T) {
	var l Limiter = Unlimited{}
	for i := 0; i < 1000; i++ {
		assert.True(t, l.Allow())
	}
	assert.NoError(t, l.Wait(context.Background()))
}

func TestFromConfig(t *testing.T) {
	assert.IsType(t, Unlimited{}, FromConfig(nil))
	assert.IsType(t, Unlimited{}, FromConfig(&config.RateLimitConfig{RequestsPerMinute: 0}))
	assert.IsType(t, &TokenBucket{}, FromConfig(&config.RateLimitConfig{Strategy: "token_bucket", RequestsPerMinute: 30, BurstSize: 5}))
	assert.IsType(t, &SlidingWindow{}, FromConfig(&config.RateLimitConfig{Strategy: "sliding_window", RequestsPerMinute: 30}))
}
