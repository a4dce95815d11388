package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"twigo/pkg/api"
	"twigo/pkg/auth"
	"twigo/pkg/config"
	errs "twigo/pkg/errors"
	"twigo/pkg/logger"
	"twigo/pkg/ratelimit"
	"twigo/pkg/retry"
)

// ErrStreamingPath is returned when a streaming endpoint is requested as a
// single call
var ErrStreamingPath = errors.New("client: streaming endpoints must be opened with Stream")

// Client talks to the REST, streaming and upload APIs
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	// streamHTTP shares the transport of httpClient without its timeout
	streamHTTP *http.Client
	signer     auth.Signer
	handler    *retry.Handler
	limiter    ratelimit.Limiter
	headers    map[string]string
	logger     logger.Logger

	tasks   []Task
	streams []EventStream
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSigner sets the request signer instead of building one from the auth
// configuration
func WithSigner(s auth.Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithErrorHandler replaces the default retry policies
func WithErrorHandler(h *retry.Handler) Option {
	return func(c *Client) { c.handler = h }
}

// WithRateLimiter paces requests
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHeader adds a header to every request
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// New creates a client. A nil cfg uses the defaults.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	c := &Client{
		cfg:     cfg,
		headers: make(map[string]string),
	}
	if cfg.HTTP.UserAgent != "" {
		c.headers["User-Agent"] = cfg.HTTP.UserAgent
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = logger.GetLogger()
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.HTTP.Timeout}
	}
	c.streamHTTP = &http.Client{
		Transport:     c.httpClient.Transport,
		CheckRedirect: c.httpClient.CheckRedirect,
		Jar:           c.httpClient.Jar,
	}
	if c.limiter == nil {
		c.limiter = ratelimit.FromConfig(&cfg.RateLimit)
	}

	if c.signer == nil {
		signer, err := auth.FromConfig(&cfg.Auth, c.httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to configure authentication: %w", err)
		}
		c.signer = signer
	}

	if c.handler == nil {
		c.handler = c.defaultHandler()
	}
	return c, nil
}

func (c *Client) defaultHandler() *retry.Handler {
	rc := c.cfg.Retry
	if !rc.Enabled {
		return retry.NewRaiseHandler()
	}
	h := retry.NewHandler(&retry.Config{
		MaxAttempts: rc.MaxAttempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    rc.BaseDelay,
			MaxDelay:     rc.MaxDelay,
			Multiplier:   rc.Multiplier,
			JitterFactor: rc.JitterFactor,
		},
		ResetPadding: rc.ResetPadding,
		Logger:       logger.ForComponent(c.logger, "retry"),
	})
	// a rejected token is dropped by send, one retry fetches a new one
	if _, ok := c.signer.(auth.Invalidator); ok {
		h.On(errs.KindAuthentication, retry.RetryUpTo(2, nil))
	}
	return h
}

// Config returns the client configuration
func (c *Client) Config() *config.Config {
	return c.cfg
}

// Logger returns the client logger
func (c *Client) Logger() logger.Logger {
	return c.logger
}

// API returns the root path of the named API, such as "api", "upload" or
// "stream". The version defaults to the configured one.
func (c *Client) API(name string, version ...string) api.Path {
	v := c.cfg.API.Version
	if len(version) > 0 && version[0] != "" {
		v = version[0]
	}
	p := api.NewPath(name, api.BaseURL(c.cfg.API.BaseTemplate, name, v))
	if c.cfg.API.Suffix != "" {
		p = p.WithSuffix(c.cfg.API.Suffix)
	}
	return p
}

// Get requests path with GET
func (c *Client) Get(ctx context.Context, path api.Path, args api.Args) (*api.Response, error) {
	return c.Request(ctx, http.MethodGet, path, args)
}

// Post requests path with POST
func (c *Client) Post(ctx context.Context, path api.Path, args api.Args) (*api.Response, error) {
	return c.Request(ctx, http.MethodPost, path, args)
}

// Request calls path once, retrying failures according to the error
// handler. Failures are returned as *errors.Error.
func (c *Client) Request(ctx context.Context, method string, path api.Path, args api.Args) (*api.Response, error) {
	if path.Streaming() {
		return nil, fmt.Errorf("%w: %s", ErrStreamingPath, path)
	}
	if _, err := api.Sanitize(args); err != nil {
		return nil, err
	}
	args, err := args.Buffered()
	if err != nil {
		return nil, err
	}

	return retry.Do(ctx, c.handler, func(ctx context.Context) (*api.Response, error) {
		req, err := api.NewRequest(method, path, args)
		if err != nil {
			return nil, err
		}
		return c.send(ctx, req)
	})
}

// prepare renders req and signs it
func (c *Client) prepare(ctx context.Context, req *api.Request) (*http.Request, error) {
	hr, err := req.HTTPRequest(ctx)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		if hr.Header.Get(k) == "" {
			hr.Header.Set(k, v)
		}
	}
	if err := c.signer.Sign(ctx, hr, req.SignedForm()); err != nil {
		return nil, &errs.Error{Kind: errs.KindAuthentication, Message: "failed to sign request", Err: err}
	}
	return hr, nil
}

func (c *Client) send(ctx context.Context, req *api.Request) (*api.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if d, ok := req.Timeout(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	hr, err := c.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(hr)
	if err != nil {
		c.logger.WithError(err).WarnWithFields("HTTP request failed", map[string]interface{}{
			"method": req.Method,
			"url":    req.URL,
		})
		return nil, errs.FromError(err)
	}
	logger.LogRequest(c.logger, req.Method, req.URL, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := errs.FromResponse(resp)
		if apiErr.Kind.Is(errs.KindAuthentication) {
			if inv, ok := c.signer.(auth.Invalidator); ok {
				inv.Invalidate()
			}
		}
		return nil, apiErr
	}
	defer resp.Body.Close()

	return decodeResponse(req, resp)
}

// decodeResponse decodes JSON bodies, returns text bodies as strings and
// anything else as bytes
func decodeResponse(req *api.Request, resp *http.Response) (*api.Response, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.FromError(err)
	}

	out := &api.Response{
		Header:     resp.Header,
		URL:        req.URL,
		StatusCode: resp.StatusCode,
		Request:    req,
	}
	if len(raw) == 0 {
		return out, nil
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json" || strings.HasSuffix(req.URL, ".json"):
		data, err := api.DecodeJSON(raw)
		if err != nil {
			return nil, errs.NewDecodeError(raw, err)
		}
		out.Data = data
	case strings.HasPrefix(mediaType, "text/"):
		out.Data = string(raw)
	default:
		out.Data = raw
	}
	return out, nil
}

// Close releases idle connections
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
