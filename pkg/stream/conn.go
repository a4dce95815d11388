package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"time"

	"twigo/pkg/api"
	"twigo/pkg/config"
	errs "twigo/pkg/errors"
	"twigo/pkg/logger"
	"twigo/pkg/retry"
)

// State is the health of a connection. A state only escalates until a
// successful connect resets it to StateNormal.
type State int

const (
	StateNormal State = iota
	StateDisconnection
	StateReconnection
	StateEnhanceYourCalm
)

// StateError is entered on read failures; it shares the disconnection
// backoff.
const StateError = StateDisconnection

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateDisconnection:
		return "disconnection"
	case StateReconnection:
		return "reconnection"
	case StateEnhanceYourCalm:
		return "enhance_your_calm"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrClosed is returned by Next once the connection was closed or failed
// fatally. A new Conn is needed to connect again.
var ErrClosed = errors.New("stream: connection closed")

// Connector opens the streaming response. The request must not carry its
// own timeout; the connection stays open for as long as ctx lives.
type Connector func(ctx context.Context) (*http.Response, error)

// Options configures a Conn
type Options struct {
	// ConnectTimeout bounds the wait for response headers
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for each line, keep-alives included
	ReadTimeout time.Duration
	// MaxLineSize bounds a single message; longer lines are payload errors
	MaxLineSize int

	Disconnection retry.BackoffStrategy
	Reconnection  retry.BackoffStrategy
	Calm          retry.BackoffStrategy

	Logger logger.Logger
	// Sleep replaces retry.Wait; used by tests
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions returns options built from the default stream configuration
func DefaultOptions() Options {
	return OptionsFromConfig(&config.DefaultConfig().Stream)
}

// OptionsFromConfig builds options from the stream configuration
func OptionsFromConfig(cfg *config.StreamConfig) Options {
	return Options{
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		MaxLineSize:    DefaultMaxLineSize,
		Disconnection: &retry.LinearBackoff{
			BaseDelay: cfg.DisconnectionStep,
			Increment: cfg.DisconnectionStep,
			MaxDelay:  cfg.DisconnectionMax,
		},
		Reconnection: &retry.ExponentialBackoff{
			BaseDelay:  cfg.ReconnectionBase,
			MaxDelay:   cfg.ReconnectionMax,
			Multiplier: 2,
		},
		Calm: &retry.ExponentialBackoff{
			BaseDelay:  cfg.CalmBase,
			Multiplier: 2,
		},
	}
}

// DefaultMaxLineSize is the longest message accepted by default
const DefaultMaxLineSize = 4 << 20

// ErrLineTooLong is reported when a message exceeds Options.MaxLineSize
var ErrLineTooLong = errors.New("stream: line too long")

type line struct {
	data []byte
	err  error
}

// Conn is a long-lived streaming connection delivering newline-delimited
// JSON. Failures are turned into EventReconnecting notices and the
// connection is re-established with a backoff that depends on the state;
// only cancellation and non-recoverable connect statuses end the stream
// with an error.
//
// A Conn must be consumed by a single goroutine.
type Conn struct {
	connector Connector
	opts      Options
	log       logger.Logger

	resp   *http.Response
	cancel context.CancelFunc
	lines  <-chan line
	done   chan struct{}

	state        State
	errorTimeout time.Duration
	reconnecting bool
	occurrences  map[State]int
	started      bool
	closed       bool
}

// New creates a connection. Nothing is sent until the first Next.
func New(connector Connector, opts Options) *Conn {
	def := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.MaxLineSize <= 0 {
		opts.MaxLineSize = def.MaxLineSize
	}
	if opts.Disconnection == nil {
		opts.Disconnection = def.Disconnection
	}
	if opts.Reconnection == nil {
		opts.Reconnection = def.Reconnection
	}
	if opts.Calm == nil {
		opts.Calm = def.Calm
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Wait
	}

	return &Conn{
		connector:   connector,
		opts:        opts,
		log:         logger.ForComponent(opts.Logger, "stream"),
		occurrences: make(map[State]int),
	}
}

// State returns the current state
func (c *Conn) State() State {
	return c.state
}

// Occurrences returns how many failures were scheduled in state s since the
// last successful connect
func (c *Conn) Occurrences(s State) int {
	return c.occurrences[s]
}

func (c *Conn) escalate(s State) {
	if s > c.state {
		c.state = s
	}
}

func (c *Conn) reset() {
	c.state = StateNormal
	c.errorTimeout = 0
	clear(c.occurrences)
}

// Next returns the next event. Blank keep-alive lines are skipped. After an
// EventReconnecting, the following call waits out the delay, reconnects and
// returns EventRestart.
func (c *Conn) Next(ctx context.Context) (*Event, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		c.shutdown()
		return nil, err
	}

	if c.reconnecting {
		return c.restart(ctx)
	}

	if !c.started {
		c.started = true
		ev, err := c.establish(ctx)
		if err != nil || ev != nil {
			return ev, err
		}
	}

	return c.read(ctx)
}

// All ranges over the stream until ctx is done or the stream fails
// fatally. The connection is closed when the loop ends.
func (c *Conn) All(ctx context.Context) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		defer c.Close()
		for {
			ev, err := c.Next(ctx)
			if err != nil {
				if !errors.Is(err, ErrClosed) {
					yield(nil, err)
				}
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Close releases the live response. Later calls to Next return ErrClosed.
func (c *Conn) Close() error {
	c.shutdown()
	return nil
}

func (c *Conn) shutdown() {
	c.release()
	c.closed = true
}

// release closes the current response and stops its reader
func (c *Conn) release() {
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if c.resp != nil {
		c.resp.Body.Close()
		c.resp = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.lines = nil
}

// recoverable marks connect failures that lead to a reconnection
type recoverable struct {
	err error
}

func (r *recoverable) Error() string { return r.err.Error() }

func (r *recoverable) Unwrap() error { return r.err }

// establish connects, turning recoverable failures into a reconnect notice
func (c *Conn) establish(ctx context.Context) (*Event, error) {
	err := c.connect(ctx)
	if err == nil {
		return nil, nil
	}

	var rec *recoverable
	if errors.As(err, &rec) {
		return c.schedule(rec.err), nil
	}

	c.shutdown()
	return nil, err
}

// connect opens a fresh response. The response outlives the connect call,
// so it is bound to a context detached from ctx; ctx only cancels the
// attempt itself.
func (c *Conn) connect(ctx context.Context) error {
	c.release()

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	timer := time.AfterFunc(c.opts.ConnectTimeout, cancel)

	resp, err := c.connector(connCtx)
	timedOut := !timer.Stop()
	stop()

	if ctx.Err() != nil {
		if resp != nil {
			resp.Body.Close()
		}
		cancel()
		return ctx.Err()
	}

	if timedOut {
		if resp != nil {
			resp.Body.Close()
		}
		cancel()
		c.escalate(StateDisconnection)
		return &recoverable{errs.New(errs.KindTimeout, fmt.Sprintf("no response within %s", c.opts.ConnectTimeout))}
	}

	if err != nil {
		cancel()
		classified := errs.FromError(err)
		switch classified.Kind {
		case errs.KindNetwork, errs.KindTimeout, errs.KindCanceled:
			c.escalate(StateDisconnection)
			return &recoverable{classified}
		}
		return err
	}

	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		c.resp = resp
		c.cancel = cancel
		c.startReader(resp.Body)
		c.reset()
		c.log.InfoWithFields("stream connected", map[string]interface{}{"status_code": status})
		return nil
	case status == http.StatusInternalServerError:
		c.escalate(StateDisconnection)
	case status > 500 && status < 600:
		c.escalate(StateReconnection)
	case status == 420 || status == http.StatusTooManyRequests:
		c.escalate(StateEnhanceYourCalm)
	default:
		apiErr := errs.FromResponse(resp)
		cancel()
		c.log.WithError(apiErr).Error("stream connection refused")
		return apiErr
	}

	apiErr := errs.FromResponse(resp)
	cancel()
	return &recoverable{apiErr}
}

// startReader reads lines from body on its own goroutine. The goroutine
// exits when the body is closed or done is closed.
func (c *Conn) startReader(body io.Reader) {
	lines := make(chan line)
	done := make(chan struct{})
	c.lines, c.done = lines, done

	go func() {
		defer close(lines)
		r := bufio.NewReaderSize(body, 64<<10)
		for {
			data, err := readLine(r, c.opts.MaxLineSize)
			if err != nil {
				if errors.Is(err, io.EOF) && len(bytes.TrimSpace(data)) > 0 {
					err = io.ErrUnexpectedEOF
				}
				select {
				case lines <- line{err: err}:
				case <-done:
				}
				return
			}
			select {
			case lines <- line{data: data}:
			case <-done:
				return
			}
		}
	}()
}

// readLine reads up to and including the next newline, failing with
// ErrLineTooLong once more than limit bytes have been read
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var buf []byte
	for {
		frag, err := r.ReadSlice('\n')
		if len(buf)+len(frag) > limit {
			return nil, ErrLineTooLong
		}
		buf = append(buf, frag...)
		if !errors.Is(err, bufio.ErrBufferFull) {
			return buf, err
		}
	}
}

// read returns the next data event, or schedules a reconnection on failure
func (c *Conn) read(ctx context.Context) (*Event, error) {
	timer := time.NewTimer(c.opts.ReadTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil, ctx.Err()

		case <-timer.C:
			c.escalate(StateError)
			c.log.WarnWithFields("stream read timed out", map[string]interface{}{"timeout": c.opts.ReadTimeout})
			return c.schedule(nil), nil

		case l, ok := <-c.lines:
			if !ok {
				l.err = io.EOF
			}
			if l.err != nil {
				if ctx.Err() != nil {
					c.shutdown()
					return nil, ctx.Err()
				}
				return c.readFailed(l.err), nil
			}

			data := bytes.TrimRight(l.data, "\r\n")
			if len(data) == 0 {
				timer.Reset(c.opts.ReadTimeout)
				continue
			}

			if isRateLimitNotice(data) {
				c.escalate(StateError)
				return c.schedule(errs.New(errs.KindStreamLimit, string(data))), nil
			}

			decoded, err := api.DecodeJSON(data)
			if err != nil {
				c.escalate(StateError)
				return c.schedule(errs.NewDecodeError(data, err)), nil
			}
			return &Event{Type: EventData, Data: decoded, Raw: data}, nil
		}
	}
}

// readFailed classifies a body read error
func (c *Conn) readFailed(err error) *Event {
	fields := map[string]interface{}{"error": err}
	switch {
	case errors.Is(err, ErrLineTooLong):
		c.escalate(StateError)
		c.log.WarnWithFields("stream line exceeds limit", map[string]interface{}{"limit": c.opts.MaxLineSize})
		return c.schedule(errs.NewDecodeError(nil, err))
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.escalate(StateError)
		c.log.WarnWithFields("stream payload truncated", fields)
		return c.schedule(nil)
	case isConnectionError(err):
		c.escalate(StateDisconnection)
		c.log.WarnWithFields("stream disconnected", fields)
		return c.schedule(nil)
	default:
		c.escalate(StateError)
		return c.schedule(errs.FromError(err))
	}
}

func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrBodyReadAfterClose) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// schedule computes the wait for the current state and returns the notice
// announcing it. The stale response is released right away.
func (c *Conn) schedule(cause error) *Event {
	c.escalate(StateDisconnection)
	c.occurrences[c.state]++
	n := c.occurrences[c.state]

	var delay time.Duration
	switch c.state {
	case StateReconnection:
		delay = c.opts.Reconnection.NextDelay(n)
	case StateEnhanceYourCalm:
		delay = c.opts.Calm.NextDelay(n)
		c.log.ErrorWithFields("stream is being rate limited; this usually means the same credentials opened several streams at once", map[string]interface{}{
			"occurrence": n,
			"delay":      delay,
		})
	default:
		delay = c.opts.Disconnection.NextDelay(n)
	}

	c.errorTimeout = delay
	c.reconnecting = true
	c.release()

	fields := map[string]interface{}{
		"state":      c.state.String(),
		"occurrence": n,
		"delay":      delay,
	}
	if cause != nil {
		fields["error"] = cause
	}
	c.log.WarnWithFields("stream reconnecting", fields)

	return &Event{Type: EventReconnecting, ReconnectingIn: delay, Err: cause}
}

// restart waits out the scheduled delay and reconnects
func (c *Conn) restart(ctx context.Context) (*Event, error) {
	if err := c.opts.Sleep(ctx, c.errorTimeout); err != nil {
		c.shutdown()
		return nil, err
	}
	c.reconnecting = false

	ev, err := c.establish(ctx)
	if err != nil || ev != nil {
		return ev, err
	}
	return &Event{Type: EventRestart}, nil
}
