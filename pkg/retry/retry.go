package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	errs "twigo/pkg/errors"
	"twigo/pkg/logger"
)

// Action tells the handler what to do with a failure.
type Action int

const (
	// Raise returns the error to the caller.
	Raise Action = iota
	// Retry calls the operation again after Delay.
	Retry
)

// Decision is the outcome of a Policy.
type Decision struct {
	Action Action
	Delay  time.Duration
	// Err replaces the classified error when raising, if set.
	Err error
}

// Policy decides how to react to the attempt-th consecutive failure of
// one kind within a single call.
type Policy func(ctx context.Context, err *errs.Error, attempt int) Decision

// Config holds the parameters of the default policies.
type Config struct {
	// MaxAttempts bounds retries of service-unavailable failures
	MaxAttempts int
	// Backoff spaces bounded retries
	Backoff BackoffStrategy
	// ResetPadding is added to a rate limit reset time before retrying
	ResetPadding time.Duration
	// OnRetry is called before each retry
	OnRetry func(kind errs.Kind, attempt int, delay time.Duration)
	Logger  logger.Logger
	// Sleep replaces Wait; used by tests
	Sleep func(ctx context.Context, d time.Duration) error
	// Now replaces time.Now; used by tests
	Now func() time.Time
}

// DefaultConfig returns the configuration of the default handler.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		Backoff:      DefaultExponentialBackoff(),
		ResetPadding: time.Second,
		Logger:       logger.GetLogger(),
	}
}

// Handler maps error kinds to policies. Lookups fall back along the kind
// hierarchy, so a policy registered for a parent kind covers its children
// unless they have their own.
type Handler struct {
	mu       sync.RWMutex
	policies map[errs.Kind]Policy
	config   *Config
}

// NewHandler creates a handler with the default policies:
//   - rate limit exceeded: wait for the window reset, retry forever
//   - timeouts: retry forever
//   - service unavailable: retry with backoff up to MaxAttempts
//
// Every other kind is raised.
func NewHandler(cfg *Config) *Handler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultExponentialBackoff()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = Wait
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	h := &Handler{
		policies: make(map[errs.Kind]Policy),
		config:   cfg,
	}
	h.On(errs.KindRateLimitExceeded, RetryAfterReset(cfg.Now, cfg.ResetPadding))
	h.On(errs.KindTimeout, RetryForever(nil))
	h.On(errs.KindServiceUnavail, RetryUpTo(cfg.MaxAttempts, cfg.Backoff))
	return h
}

// NewRaiseHandler creates a handler without any policies: every failure is
// returned as is.
func NewRaiseHandler() *Handler {
	return &Handler{
		policies: make(map[errs.Kind]Policy),
		config:   &Config{Logger: logger.NewNopLogger(), Sleep: Wait, Now: time.Now},
	}
}

// On registers policy for kind, replacing any earlier registration.
func (h *Handler) On(kind errs.Kind, policy Policy) *Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.policies[kind] = policy
	return h
}

// Policy returns the policy used for kind after hierarchy fallback.
func (h *Handler) Policy(kind errs.Kind) (Policy, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for cur := kind; cur != ""; cur = errs.Parent(cur) {
		if p, ok := h.policies[cur]; ok {
			return p, true
		}
	}
	return nil, false
}

// Decide classifies err and consults the matching policy.
func (h *Handler) Decide(ctx context.Context, err error, attempt int) (*errs.Error, Decision) {
	apiErr := errs.FromError(err)
	if apiErr.Kind == errs.KindCanceled {
		return apiErr, Decision{Action: Raise}
	}
	policy, ok := h.Policy(apiErr.Kind)
	if !ok {
		return apiErr, Decision{Action: Raise}
	}
	return apiErr, policy(ctx, apiErr, attempt)
}

// Do runs op until it succeeds or the handler raises. The context bounds
// both the operation and the sleeps between attempts.
func Do[T any](ctx context.Context, h *Handler, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if h == nil {
		return op(ctx)
	}

	attempts := make(map[errs.Kind]int)
	for {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		kind := errs.KindOf(err)
		attempts[kind]++
		apiErr, decision := h.Decide(ctx, err, attempts[kind])

		if decision.Action != Retry {
			if decision.Err != nil {
				return zero, decision.Err
			}
			// keep the caller's wrapping when the error was already classified
			var classified *errs.Error
			if errors.As(err, &classified) {
				return zero, err
			}
			return zero, apiErr
		}

		if h.config.OnRetry != nil {
			h.config.OnRetry(kind, attempts[kind], decision.Delay)
		}
		h.config.Logger.WarnWithFields("retrying request", map[string]interface{}{
			"kind":     string(kind),
			"attempt":  attempts[kind],
			"delay_ms": decision.Delay.Milliseconds(),
			"error":    err.Error(),
		})

		if err := h.config.Sleep(ctx, decision.Delay); err != nil {
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// Run is Do for operations without a result.
func (h *Handler) Run(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Do(ctx, h, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// RetryAfterReset waits until the rate limit window announced by the error
// resets, plus padding, and retries without limit.
func RetryAfterReset(now func() time.Time, padding time.Duration) Policy {
	if now == nil {
		now = time.Now
	}
	return func(_ context.Context, err *errs.Error, _ int) Decision {
		// whole seconds, like the reset header itself
		wait := err.ResetIn(now()).Truncate(time.Second)
		return Decision{Action: Retry, Delay: wait + padding}
	}
}

// RetryForever retries without limit, spacing attempts with backoff. A nil
// backoff retries immediately.
func RetryForever(backoff BackoffStrategy) Policy {
	return func(_ context.Context, _ *errs.Error, attempt int) Decision {
		d := Decision{Action: Retry}
		if backoff != nil {
			d.Delay = backoff.NextDelay(attempt)
		}
		return d
	}
}

// RetryUpTo retries until the kind has failed limit times in a row.
func RetryUpTo(limit int, backoff BackoffStrategy) Policy {
	return func(_ context.Context, _ *errs.Error, attempt int) Decision {
		if attempt >= limit {
			return Decision{Action: Raise}
		}
		d := Decision{Action: Retry}
		if backoff != nil {
			d.Delay = backoff.NextDelay(attempt)
		}
		return d
	}
}

// RaiseNow returns the classified error.
func RaiseNow() Policy {
	return func(context.Context, *errs.Error, int) Decision {
		return Decision{Action: Raise}
	}
}

// RaiseAs returns the error produced by convert instead of the classified one.
func RaiseAs(convert func(*errs.Error) error) Policy {
	return func(_ context.Context, err *errs.Error, _ int) Decision {
		return Decision{Action: Raise, Err: convert(err)}
	}
}
