// Package transport is the HTTP client the sync engine talks to the ERP
// backend with. Every failure is classified into the shared error taxonomy,
// transient failures are retried with backoff, and in-flight requests can
// be cancelled by name.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/erp/mobilesync/internal/domain/shared"
	"github.com/erp/mobilesync/internal/infrastructure/config"
	"github.com/erp/mobilesync/internal/infrastructure/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultHealthTimeout = 5 * time.Second

// RequestObserver is notified once per logical request, after retries.
type RequestObserver interface {
	ObserveRequest(ctx context.Context, method, path string, status, attempts int, duration time.Duration, err error)
}

// Client performs JSON requests against the ERP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	healthPath string
	timeout    time.Duration
	policy     RetryPolicy
	tokens     TokenSource
	limiter    *rate.Limiter
	clock      shared.Clock
	logger     *zap.Logger
	observer   RequestObserver
	cancels    *cancelRegistry

	mu      sync.RWMutex
	headers map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenSource sets the bearer token source.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithRetryPolicy overrides the policy derived from config.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = logger.Component(l, "transport") }
}

// WithClock sets the clock used for token expiry checks.
func WithClock(clock shared.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithObserver registers a request observer.
func WithObserver(o RequestObserver) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient creates a client from the transport config section.
func NewClient(cfg config.TransportConfig, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("transport base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		healthPath: cfg.HealthPath,
		timeout:    cfg.Timeout,
		policy:     PolicyFromConfig(cfg),
		clock:      shared.SystemClock{},
		logger:     zap.NewNop(),
		cancels:    newCancelRegistry(),
		headers: map[string]string{
			"Accept": "application/json",
		},
	}
	if c.healthPath == "" {
		c.healthPath = "/health"
	}
	if cfg.AuthToken != "" {
		c.tokens = StaticToken(cfg.AuthToken)
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RequestOptions tunes a single request.
type RequestOptions struct {
	Query   url.Values
	Headers map[string]string
	// Body is JSON-encoded unless it is already []byte or json.RawMessage.
	Body any
	// Timeout overrides the configured per-request timeout.
	Timeout time.Duration
	// CancelKey names the request for CancelRequest. Defaults to "METHOD path".
	CancelKey string
	NoRetry   bool
	NoAuth    bool
}

// Response is a successful (2xx/3xx) HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// SetHeader sets a header sent with every request.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[key] = value
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, opts)
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, opts)
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, opts)
}

// Patch performs a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, opts)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts *RequestOptions) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, opts)
}

// CancelRequest aborts every in-flight request registered under key and
// reports whether any was found.
func (c *Client) CancelRequest(key string) bool {
	return c.cancels.cancel(key) > 0
}

// CancelAllRequests aborts every in-flight request.
func (c *Client) CancelAllRequests() int {
	return c.cancels.cancelAll()
}

// InFlight returns the number of requests currently registered.
func (c *Client) InFlight() int {
	return c.cancels.inFlight()
}

// HealthCheck calls the liveness endpoint once, without retry or auth.
func (c *Client) HealthCheck(ctx context.Context) bool {
	timeout := c.timeout
	if timeout <= 0 || timeout > defaultHealthTimeout {
		timeout = defaultHealthTimeout
	}
	_, err := c.Do(ctx, http.MethodGet, c.healthPath, &RequestOptions{
		Timeout:   timeout,
		CancelKey: "health",
		NoRetry:   true,
		NoAuth:    true,
	})
	return err == nil
}

// Do executes a request, retrying transient failures per the retry policy.
// On failure the returned error is always a *Error.
func (c *Client) Do(ctx context.Context, method, path string, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	key := opts.CancelKey
	if key == "" {
		key = method + " " + path
	}

	start := time.Now()
	resp, attempts, err := c.do(ctx, method, path, key, opts)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	} else if te, ok := AsError(err); ok {
		te.Attempts = attempts
		status = te.Status
	}
	if c.observer != nil {
		c.observer.ObserveRequest(ctx, method, path, status, attempts, time.Since(start), err)
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path, key string, opts *RequestOptions) (*Response, int, error) {
	u, err := c.buildURL(path, opts.Query)
	if err != nil {
		return nil, 0, &Error{Message: err.Error(), Code: shared.CodeClient, Err: err}
	}

	body, err := encodeBody(opts.Body)
	if err != nil {
		return nil, 0, &Error{Message: err.Error(), Code: shared.CodeClient, Err: err}
	}

	var token string
	if !opts.NoAuth && c.tokens != nil {
		token, err = c.tokens.Token(ctx)
		if err != nil {
			if te, ok := AsError(err); ok {
				return nil, 0, te
			}
			return nil, 0, &Error{Message: err.Error(), Status: http.StatusUnauthorized, Code: shared.CodeClient, Reason: "TOKEN_UNAVAILABLE", Err: err}
		}
		if te := checkTokenExpiry(token, c.clock.Now()); te != nil {
			return nil, 0, te
		}
	}

	ctx, release := c.cancels.register(ctx, key)
	defer release()

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	policy := c.policy
	if opts.NoRetry {
		policy.Retries = 0
	}

	log := c.logger
	if id := logger.GetSessionID(ctx); id != "" {
		log = log.With(zap.String("session_id", id))
	}
	if id := logger.GetActionID(ctx); id != "" {
		log = log.With(zap.String("action_id", id))
	}

	var lastErr *Error
	for attempt := 0; attempt <= policy.Retries; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt)
			select {
			case <-ctx.Done():
				return nil, attempt, contextError(ctx, key)
			case <-time.After(delay):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, attempt, contextError(ctx, key)
			}
		}

		resp, terr := c.attempt(ctx, method, u, key, body, token, opts.Headers, timeout)
		if terr == nil {
			resp.Attempts = attempt + 1
			return resp, attempt + 1, nil
		}
		lastErr = terr

		if ctx.Err() != nil || !policy.ShouldRetry(terr, attempt) {
			return nil, attempt + 1, terr
		}
		log.Warn("Request failed, retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.String("code", terr.Code),
			zap.Int("status", terr.Status),
		)
	}
	return nil, policy.Retries + 1, lastErr
}

func (c *Client) attempt(ctx context.Context, method string, u *url.URL, key string, body []byte, token string, headers map[string]string, timeout time.Duration) (*Response, *Error) {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var bodyReader io.Reader = http.NoBody
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, method, u.String(), bodyReader)
	if err != nil {
		return nil, &Error{Message: err.Error(), Code: shared.CodeClient, Err: err}
	}
	c.setHeaders(ctx, httpReq, headers, body != nil)
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, reqCtx, key, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classify(ctx, reqCtx, key, err)
	}
	if httpResp.StatusCode >= 400 {
		return nil, newStatusError(httpResp.StatusCode, data)
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		Duration:   time.Since(start),
	}, nil
}

// classify maps a failed round trip to the taxonomy. The parent context
// decides cancellation; the per-request context decides timeouts.
func classify(parent, reqCtx context.Context, key string, err error) *Error {
	if parent.Err() != nil {
		return contextError(parent, key)
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return newTimeoutError(err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return newTimeoutError(err)
	}
	return newNetworkError(err)
}

func contextError(ctx context.Context, key string) *Error {
	if errors.Is(context.Cause(ctx), errCanceledByKey) {
		return newCanceledError(key, ctx.Err())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newTimeoutError(ctx.Err())
	}
	return newCanceledError(key, ctx.Err())
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}
	return data, nil
}

// buildURL joins the base URL and path. Absolute URLs are used as is.
func (c *Client) buildURL(path string, query url.Values) (*url.URL, error) {
	raw := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		raw = c.baseURL + path
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("building URL: %w", err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, extra map[string]string, hasBody bool) {
	c.mu.RLock()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.mu.RUnlock()

	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logger.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	// traceparent links server-side spans to the sync span that caused them
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	for k, v := range extra {
		req.Header.Set(k, v)
	}
}
