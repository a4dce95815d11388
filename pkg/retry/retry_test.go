package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "twigo/pkg/errors"
	"twigo/pkg/logger"
)

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{6, 1 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.expected, backoff.NextDelay(tt.attempt))
		})
	}
}

func TestExponentialBackoffUncapped(t *testing.T) {
	backoff := &ExponentialBackoff{BaseDelay: 60 * time.Second, Multiplier: 2}
	for n := 1; n <= 12; n++ {
		assert.Equal(t, 60*time.Second*time.Duration(1<<(n-1)), backoff.NextDelay(n))
	}
	assert.Greater(t, backoff.NextDelay(200), time.Duration(0))
}

func TestExponentialBackoffWithJitter(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	delays := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		d := backoff.NextDelay(2)
		assert.GreaterOrEqual(t, d, 140*time.Millisecond)
		assert.LessOrEqual(t, d, 260*time.Millisecond)
		delays[d] = true
	}
	assert.Greater(t, len(delays), 1)
}

func TestLinearBackoff(t *testing.T) {
	backoff := &LinearBackoff{
		BaseDelay: 250 * time.Millisecond,
		Increment: 250 * time.Millisecond,
		MaxDelay:  16 * time.Second,
	}
	for n := 1; n <= 100; n++ {
		want := min(time.Duration(n)*250*time.Millisecond, 16*time.Second)
		assert.Equal(t, want, backoff.NextDelay(n), "attempt %d", n)
	}
}

func TestConstantBackoff(t *testing.T) {
	backoff := &ConstantBackoff{Delay: time.Second}
	assert.Equal(t, time.Duration(0), backoff.NextDelay(0))
	assert.Equal(t, time.Second, backoff.NextDelay(1))
	assert.Equal(t, time.Second, backoff.NextDelay(42))
}

func TestWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Wait(context.Background(), time.Millisecond))
}

type recordedSleep struct {
	delays []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestHandler(now time.Time) (*Handler, *recordedSleep) {
	rec := &recordedSleep{}
	h := NewHandler(&Config{
		MaxAttempts:  3,
		Backoff:      &ConstantBackoff{Delay: 10 * time.Millisecond},
		ResetPadding: time.Second,
		Logger:       logger.NewNopLogger(),
		Sleep:        rec.sleep,
		Now:          func() time.Time { return now },
	})
	return h, rec
}

func rateLimited(reset time.Time) *errs.Error {
	header := make(http.Header)
	header.Set(errs.RateLimitResetHeader, strconv.FormatInt(reset.Unix(), 10))
	return &errs.Error{Kind: errs.KindRateLimitExceeded, StatusCode: 429, APICode: 88, Header: header}
}

func TestHandlerRateLimitWaitsForReset(t *testing.T) {
	now := time.Unix(1700000000, 0)
	h, rec := newTestHandler(now)

	calls := 0
	result, err := Do(context.Background(), h, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", rateLimited(now.Add(5 * time.Second))
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{6 * time.Second, 6 * time.Second}, rec.delays)
}

func TestHandlerTooManyRequestsUsesParentPolicy(t *testing.T) {
	h, rec := newTestHandler(time.Unix(1700000000, 0))

	calls := 0
	err := h.Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &errs.Error{Kind: errs.KindTooManyRequests, StatusCode: 429}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, rec.delays)
}

func TestHandlerTimeoutRetriesForever(t *testing.T) {
	h, _ := newTestHandler(time.Now())

	calls := 0
	err := h.Run(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 50 {
			return fmt.Errorf("read: %w", context.DeadlineExceeded)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 50, calls)
}

func TestHandlerServiceUnavailableIsBounded(t *testing.T) {
	h, rec := newTestHandler(time.Now())

	calls := 0
	err := h.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return &errs.Error{Kind: errs.KindServiceUnavail, StatusCode: 503}
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindServiceUnavail))
	assert.Equal(t, 3, calls)
	assert.Len(t, rec.delays, 2)

	// over capacity descends from service unavailable
	calls = 0
	err = h.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return &errs.Error{Kind: errs.KindOverCapacity, StatusCode: 503, APICode: 130}
	})
	assert.True(t, errs.IsKind(err, errs.KindOverCapacity))
	assert.Equal(t, 3, calls)
}

func TestHandlerRaisesOtherKinds(t *testing.T) {
	h, rec := newTestHandler(time.Now())

	forbidden := &errs.Error{Kind: errs.KindForbidden, StatusCode: 403}
	calls := 0
	err := h.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("call failed: %w", forbidden)
	})
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)

	var apiErr *errs.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Same(t, forbidden, apiErr)
	assert.Contains(t, err.Error(), "call failed")
}

func TestHandlerOverrides(t *testing.T) {
	h, _ := newTestHandler(time.Now())
	substitute := errors.New("give up on rate limits")

	h.On(errs.KindRateLimitExceeded, RaiseNow())
	h.On(errs.KindRateLimitExceeded, RaiseAs(func(*errs.Error) error { return substitute }))

	err := h.Run(context.Background(), func(ctx context.Context) error {
		return &errs.Error{Kind: errs.KindTooManyRequests, StatusCode: 429}
	})
	assert.ErrorIs(t, err, substitute)

	// an exact binding takes precedence over the parent binding
	calls := 0
	h.On(errs.KindTooManyRequests, RetryUpTo(2, nil))
	err = h.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return &errs.Error{Kind: errs.KindTooManyRequests, StatusCode: 429}
	})
	assert.True(t, errs.IsKind(err, errs.KindTooManyRequests))
	assert.Equal(t, 2, calls)
}

func TestHandlerCatchAll(t *testing.T) {
	h := NewRaiseHandler()
	h.On(errs.KindAPI, RetryUpTo(4, nil))

	calls := 0
	err := h.Run(context.Background(), func(ctx context.Context) error {
		calls++
		return &errs.Error{Kind: errs.KindBadGateway, StatusCode: 502}
	})
	assert.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestHandlerDoesNotRetryCancellation(t *testing.T) {
	h, rec := newTestHandler(time.Now())
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := h.Run(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestHandlerCancelledWhileSleeping(t *testing.T) {
	h := NewHandler(&Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Hour},
		Logger:      logger.NewNopLogger(),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := h.Run(ctx, func(ctx context.Context) error {
		return &errs.Error{Kind: errs.KindServiceUnavail, StatusCode: 503}
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandlerOnRetryCallback(t *testing.T) {
	var seen []errs.Kind
	h := NewHandler(&Config{
		MaxAttempts: 2,
		Backoff:     &ConstantBackoff{},
		Logger:      logger.NewNopLogger(),
		OnRetry: func(kind errs.Kind, attempt int, delay time.Duration) {
			seen = append(seen, kind)
		},
	})

	_ = h.Run(context.Background(), func(ctx context.Context) error {
		return &errs.Error{Kind: errs.KindServiceUnavail}
	})
	assert.Equal(t, []errs.Kind{errs.KindServiceUnavail}, seen)
}
