package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "twigo/pkg/errors"
	"twigo/pkg/logger"
)

type step func(ctx context.Context) (*http.Response, error)

func respond(status int, body string) step {
	return func(context.Context) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	}
}

func respondBody(body io.ReadCloser) step {
	return func(context.Context) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Header: make(http.Header), Body: body}, nil
	}
}

// fakeAPI plays back connect results; the last one repeats
type fakeAPI struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (f *fakeAPI) connect(ctx context.Context) (*http.Response, error) {
	f.mu.Lock()
	i := min(f.calls, len(f.steps)-1)
	f.calls++
	s := f.steps[i]
	f.mu.Unlock()
	return s(ctx)
}

func (f *fakeAPI) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type sleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestConn(steps ...step) (*Conn, *fakeAPI, *sleeps, *logger.TestLogger) {
	f := &fakeAPI{steps: steps}
	s := &sleeps{}
	log := logger.NewTestLogger()
	opts := DefaultOptions()
	opts.Sleep = s.sleep
	opts.Logger = log
	return New(f.connect, opts), f, s, log
}

func next(t *testing.T, c *Conn) *Event {
	t.Helper()
	ev, err := c.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ev)
	return ev
}

func TestStreamDecodesLinesAndSkipsKeepAlives(t *testing.T) {
	c, f, s, _ := newTestConn(
		respond(200, "\r\n{\"id\":1}\r\n\r\n\n{\"id\":2,\"text\":\"hi\"}\n"),
		respond(200, "{\"id\":3}\n"),
	)

	ev := next(t, c)
	assert.Equal(t, EventData, ev.Type)
	assert.Equal(t, `{"id":1}`, string(ev.Raw))

	ev = next(t, c)
	var tweet struct {
		ID   int64  `json:"id"`
		Text string `json:"text"`
	}
	require.NoError(t, ev.Decode(&tweet))
	assert.Equal(t, int64(2), tweet.ID)
	assert.Equal(t, "hi", tweet.Text)

	// the body ends: the connection dropped
	ev = next(t, c)
	assert.Equal(t, EventReconnecting, ev.Type)
	assert.Equal(t, 250*time.Millisecond, ev.ReconnectingIn)
	assert.NoError(t, ev.Err)
	assert.Equal(t, StateDisconnection, c.State())

	ev = next(t, c)
	assert.Equal(t, EventRestart, ev.Type)
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, s.delays)
	assert.Equal(t, StateNormal, c.State())
	assert.Equal(t, 2, f.Calls())

	ev = next(t, c)
	assert.Equal(t, EventData, ev.Type)
	assert.Equal(t, "3", ev.Object()["id"].(interface{ String() string }).String())
}

func collectDelays(t *testing.T, c *Conn, n int) []time.Duration {
	t.Helper()
	var delays []time.Duration
	for i := 0; i < n; i++ {
		ev := next(t, c)
		require.Equal(t, EventReconnecting, ev.Type, "event %d", i)
		delays = append(delays, ev.ReconnectingIn)
	}
	return delays
}

func TestStreamDisconnectionBackoffIsLinearAndCapped(t *testing.T) {
	c, _, _, _ := newTestConn(respond(500, `{"errors":[{"code":131,"message":"Internal error"}]}`))

	delays := collectDelays(t, c, 100)
	for i, d := range delays {
		n := i + 1
		want := min(time.Duration(n)*250*time.Millisecond, 16*time.Second)
		assert.Equal(t, want, d, "occurrence %d", n)
	}
	assert.Equal(t, 16*time.Second, delays[63])
	assert.Equal(t, 16*time.Second, delays[99])
	assert.Equal(t, StateDisconnection, c.State())
	assert.Equal(t, 100, c.Occurrences(StateDisconnection))
}

func TestStreamReconnectionBackoffDoubles(t *testing.T) {
	c, _, _, _ := newTestConn(respond(503, "Service Unavailable"))

	delays := collectDelays(t, c, 8)
	want := []time.Duration{5, 10, 20, 40, 80, 160, 320, 320}
	for i := range want {
		assert.Equal(t, want[i]*time.Second, delays[i])
	}
	assert.Equal(t, StateReconnection, c.State())
}

func TestStreamEnhanceYourCalmIsUncappedAndLoud(t *testing.T) {
	for _, status := range []int{420, 429} {
		c, _, _, log := newTestConn(respond(status, ""))

		delays := collectDelays(t, c, 5)
		want := []time.Duration{60, 120, 240, 480, 960}
		for i := range want {
			assert.Equal(t, want[i]*time.Second, delays[i])
		}
		assert.Equal(t, StateEnhanceYourCalm, c.State())
		assert.Len(t, log.GetMessagesByLevel("ERROR"), 5)
		assert.True(t, log.HasMessageContaining("rate limited"))
	}
}

func TestStreamStateOnlyEscalates(t *testing.T) {
	c, _, _, _ := newTestConn(respond(503, ""), respond(500, ""))

	ev := next(t, c)
	assert.Equal(t, 5*time.Second, ev.ReconnectingIn)

	// a 500 while reconnecting keeps the higher state and its backoff
	ev = next(t, c)
	assert.Equal(t, 10*time.Second, ev.ReconnectingIn)
	assert.Equal(t, StateReconnection, c.State())
	assert.Equal(t, 0, c.Occurrences(StateDisconnection))
}

func TestStreamSuccessfulConnectResets(t *testing.T) {
	c, _, _, _ := newTestConn(
		respond(500, ""),
		respond(500, ""),
		respond(200, "{\"id\":1}\n"),
		respond(500, ""),
	)

	assert.Equal(t, 250*time.Millisecond, next(t, c).ReconnectingIn)
	assert.Equal(t, 500*time.Millisecond, next(t, c).ReconnectingIn)

	ev := next(t, c)
	assert.Equal(t, EventRestart, ev.Type)
	assert.Equal(t, StateNormal, c.State())
	assert.Equal(t, 0, c.Occurrences(StateDisconnection))

	assert.Equal(t, EventData, next(t, c).Type)

	// the counter starts over after the reset
	ev = next(t, c)
	assert.Equal(t, EventReconnecting, ev.Type)
	assert.Equal(t, 250*time.Millisecond, ev.ReconnectingIn)
}

func TestStreamFatalStatus(t *testing.T) {
	c, f, _, _ := newTestConn(respond(403, `{"errors":[{"code":261,"message":"Application cannot perform write actions."}]}`))

	_, err := c.Next(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindForbidden))

	var apiErr *errs.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 403, apiErr.StatusCode)
	assert.Equal(t, "Application cannot perform write actions.", apiErr.Message)

	_, err = c.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, f.Calls())
}

func TestStreamRateLimitNotice(t *testing.T) {
	c, _, _, _ := newTestConn(respond(200, "{\"id\":1}\nExceeded connection limit for user\r\n"))

	assert.Equal(t, EventData, next(t, c).Type)

	ev := next(t, c)
	assert.Equal(t, EventReconnecting, ev.Type)
	require.Error(t, ev.Err)
	assert.True(t, errs.IsKind(ev.Err, errs.KindStreamLimit))
	assert.Contains(t, ev.Err.Error(), "Exceeded connection limit for user")
	assert.Equal(t, StateError, c.State())
}

func TestStreamDecodeErrorIsSurfaced(t *testing.T) {
	c, _, _, _ := newTestConn(respond(200, "{not json\n"))

	ev := next(t, c)
	assert.Equal(t, EventReconnecting, ev.Type)
	var apiErr *errs.Error
	require.True(t, errors.As(ev.Err, &apiErr))
	assert.Equal(t, errs.KindDecode, apiErr.Kind)
	assert.Equal(t, "{not json", string(apiErr.Raw))
}

func TestStreamTrailingDataIsDecodeError(t *testing.T) {
	c, _, _, _ := newTestConn(respond(200, "{\"id\":1} trailing-garbage\n"))

	ev := next(t, c)
	assert.Equal(t, EventReconnecting, ev.Type)
	assert.Nil(t, ev.Data)
	var apiErr *errs.Error
	require.True(t, errors.As(ev.Err, &apiErr))
	assert.Equal(t, errs.KindDecode, apiErr.Kind)
	assert.Equal(t, `{"id":1} trailing-garbage`, string(apiErr.Raw))
	assert.Equal(t, StateError, c.State())
}

// endless never sends a newline
type endless struct{}

func (endless) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'a'
	}
	return len(p), nil
}

func TestStreamLineLimit(t *testing.T) {
	newConn := func(steps ...step) (*Conn, *fakeAPI) {
		f := &fakeAPI{steps: steps}
		s := &sleeps{}
		opts := DefaultOptions()
		opts.Sleep = s.sleep
		opts.Logger = logger.NewNopLogger()
		opts.MaxLineSize = 16
		return New(f.connect, opts), f
	}

	t.Run("line within limit", func(t *testing.T) {
		c, _ := newConn(respond(200, "{\"id\":12345}\n"))
		assert.Equal(t, EventData, next(t, c).Type)
	})

	t.Run("oversized line", func(t *testing.T) {
		c, _ := newConn(respond(200, "{\"text\":\"far too long for the limit\"}\n"))

		ev := next(t, c)
		assert.Equal(t, EventReconnecting, ev.Type)
		assert.ErrorIs(t, ev.Err, ErrLineTooLong)
		assert.True(t, errs.IsKind(ev.Err, errs.KindDecode))
		assert.Equal(t, StateError, c.State())
	})

	t.Run("server never sends a newline", func(t *testing.T) {
		c, f := newConn(respondBody(io.NopCloser(endless{})), respond(200, "{\"id\":1}\n"))

		ev := next(t, c)
		assert.Equal(t, EventReconnecting, ev.Type)
		assert.ErrorIs(t, ev.Err, ErrLineTooLong)

		assert.Equal(t, EventRestart, next(t, c).Type)
		assert.Equal(t, EventData, next(t, c).Type)
		assert.Equal(t, 2, f.Calls())
	})
}

func TestStreamTruncatedLine(t *testing.T) {
	c, _, _, _ := newTestConn(respond(200, "{\"id\":1}\n{\"id\""))

	assert.Equal(t, EventData, next(t, c).Type)
	ev := next(t, c)
	assert.Equal(t, EventReconnecting, ev.Type)
	assert.NoError(t, ev.Err)
	assert.Equal(t, StateError, c.State())
}

func TestStreamTransportError(t *testing.T) {
	c, _, _, _ := newTestConn(func(context.Context) (*http.Response, error) {
		return nil, &url.Error{Op: "Get", URL: "https://stream.twitter.com/1.1/statuses/filter.json", Err: errors.New("connection refused")}
	})

	ev := next(t, c)
	assert.Equal(t, EventReconnecting, ev.Type)
	assert.Equal(t, 250*time.Millisecond, ev.ReconnectingIn)
	assert.True(t, errs.IsKind(ev.Err, errs.KindNetwork))
	assert.Equal(t, StateDisconnection, c.State())
}

func TestStreamConnectorFailureIsFatal(t *testing.T) {
	c, _, _, _ := newTestConn(func(context.Context) (*http.Response, error) {
		return nil, errs.New(errs.KindAuthentication, "cannot sign request")
	})

	_, err := c.Next(context.Background())
	assert.True(t, errs.IsKind(err, errs.KindAuthentication))
	_, err = c.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStreamConnectTimeout(t *testing.T) {
	c, _, _, _ := newTestConn(func(ctx context.Context) (*http.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c.opts.ConnectTimeout = 20 * time.Millisecond

	ev := next(t, c)
	assert.Equal(t, EventReconnecting, ev.Type)
	assert.True(t, errs.IsKind(ev.Err, errs.KindTimeout))
}

func TestStreamReadTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c, _, _, _ := newTestConn(respondBody(pr))
	c.opts.ReadTimeout = 50 * time.Millisecond

	start := time.Now()
	ev := next(t, c)
	assert.Equal(t, EventReconnecting, ev.Type)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.NoError(t, ev.Err)
	assert.Equal(t, StateError, c.State())

	// the stale response was released
	_, err := pw.Write([]byte("late\n"))
	assert.Error(t, err)
}

func TestStreamKeepAlivesResetReadTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	c, _, _, _ := newTestConn(respondBody(pr))
	c.opts.ReadTimeout = 80 * time.Millisecond

	go func() {
		for i := 0; i < 4; i++ {
			time.Sleep(40 * time.Millisecond)
			if _, err := pw.Write([]byte("\r\n")); err != nil {
				return
			}
		}
		pw.Write([]byte("{\"id\":9}\n"))
	}()

	ev := next(t, c)
	assert.Equal(t, EventData, ev.Type)
	c.Close()
	pw.Close()
}

func TestStreamCancelDuringRead(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	c, _, _, _ := newTestConn(respondBody(pr))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = c.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStreamCancelDuringBackoff(t *testing.T) {
	f := &fakeAPI{steps: []step{respond(503, "")}}
	opts := DefaultOptions()
	opts.Logger = logger.NewNopLogger()
	c := New(f.connect, opts)

	ctx, cancel := context.WithCancel(context.Background())
	ev, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, ev.ReconnectingIn)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, f.Calls())
}

func TestStreamAll(t *testing.T) {
	c, _, _, _ := newTestConn(respond(200, "{\"id\":1}\n{\"id\":2}\n{\"id\":3}\n"))

	var ids []string
	for ev, err := range c.All(context.Background()) {
		require.NoError(t, err)
		if ev.Type != EventData {
			continue
		}
		ids = append(ids, string(ev.Raw))
		if len(ids) == 2 {
			break
		}
	}
	assert.Equal(t, []string{`{"id":1}`, `{"id":2}`}, ids)

	_, err := c.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStreamAllYieldsFatalError(t *testing.T) {
	c, _, _, _ := newTestConn(respond(401, `{"errors":[{"code":32,"message":"Could not authenticate you."}]}`))

	var got []error
	for _, err := range c.All(context.Background()) {
		got = append(got, err)
	}
	require.Len(t, got, 1)
	assert.True(t, errs.IsKind(got[0], errs.KindAuthentication))
}

func TestEventDecodeRejectsNotices(t *testing.T) {
	ev := &Event{Type: EventRestart}
	var v map[string]any
	assert.Error(t, ev.Decode(&v))
	assert.Equal(t, "restart", ev.Type.String())
	assert.Equal(t, "enhance_your_calm", StateEnhanceYourCalm.String())
}
