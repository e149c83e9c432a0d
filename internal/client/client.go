// Package client is the HTTP pipeline every network call of the app goes
// through. It attaches the current bearer token, bounds each attempt with a
// timeout, classifies failures, and retries transient ones with linear
// backoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/garage-core/internal/config"
	"github.com/spec-kit/garage-core/internal/observability"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoffStep = time.Second
)

// Config is built once at startup and never changes for the client's lifetime.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
	// BackoffStep is multiplied by the attempt number before each retry.
	BackoffStep time.Duration
}

// ConfigFrom converts the env-level client settings.
func ConfigFrom(cfg config.ClientConfig) Config {
	return Config{
		BaseURL:     cfg.BaseURL,
		Timeout:     cfg.Timeout(),
		MaxAttempts: cfg.MaxAttempts,
		BackoffStep: cfg.BackoffStep(),
	}
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffStep < 0 {
		c.BackoffStep = 0
	}
	return c
}

// CredentialProvider supplies the bearer token for outgoing requests. An
// empty token means the request is sent without an Authorization header.
type CredentialProvider interface {
	Token(ctx context.Context) string
}

// CredentialFunc adapts a function to CredentialProvider.
type CredentialFunc func(ctx context.Context) string

func (f CredentialFunc) Token(ctx context.Context) string { return f(ctx) }

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is safe for concurrent use.
type Client struct {
	cfg     Config
	doer    Doer
	creds   CredentialProvider
	logger  *zap.Logger
	metrics *observability.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

// WithDoer replaces the transport.
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records every attempt in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithSleeper replaces the backoff wait.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New builds a client. creds may be nil for unauthenticated use.
func New(cfg Config, creds CredentialProvider, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg.withDefaults(),
		doer:   &http.Client{},
		creds:  creds,
		logger: zap.NewNop(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Get sends a GET with optional query parameters.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (*Response, error) {
	return c.do(ctx, request{method: http.MethodGet, endpoint: endpoint, query: query})
}

// Post sends body as JSON. A nil body sends no payload.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPost, endpoint, body)
}

// Put sends body as JSON.
func (c *Client) Put(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPut, endpoint, body)
}

// Patch sends body as JSON.
func (c *Client) Patch(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.sendJSON(ctx, http.MethodPatch, endpoint, body)
}

// Delete sends a DELETE.
func (c *Client) Delete(ctx context.Context, endpoint string) (*Response, error) {
	return c.do(ctx, request{method: http.MethodDelete, endpoint: endpoint})
}

type request struct {
	method      string
	endpoint    string
	query       url.Values
	body        []byte
	contentType string
}

func (c *Client) sendJSON(ctx context.Context, method, endpoint string, body any) (*Response, error) {
	req := request{method: method, endpoint: endpoint}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, endpoint, err)
		}
		req.body = data
	}
	return c.do(ctx, req)
}

// do runs the attempt loop for one logical request.
func (c *Client) do(ctx context.Context, req request) (*Response, error) {
	target, err := c.resolve(req)
	if err != nil {
		return nil, &Error{Kind: KindClient, Message: "invalid request URL", Method: req.method, URL: req.endpoint, Attempt: 1, Err: err}
	}

	token := c.token(ctx)
	for attempt := 1; ; attempt++ {
		resp, err := c.attempt(ctx, req, target, token, attempt)
		if err == nil {
			return resp, nil
		}

		var apiErr *Error
		if !errors.As(err, &apiErr) || !apiErr.Retryable() || attempt >= c.cfg.MaxAttempts {
			c.logger.Debug("request failed",
				zap.String("method", req.method),
				zap.String("endpoint", req.endpoint),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil, err
		}

		delay := c.cfg.BackoffStep * time.Duration(attempt)
		c.logger.Warn("retrying request",
			zap.String("method", req.method),
			zap.String("endpoint", req.endpoint),
			zap.Int("attempt", attempt),
			zap.String("kind", string(apiErr.Kind)),
			zap.Duration("backoff", delay))
		c.metrics.RecordRetry(req.endpoint, req.method)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, &Error{Kind: KindCanceled, Message: "canceled during backoff", Method: req.method, URL: target, Attempt: attempt, Err: err}
		}
	}
}

func (c *Client) attempt(ctx context.Context, req request, target, token string, attempt int) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.method, target, body)
	if err != nil {
		return nil, &Error{Kind: KindClient, Message: "build request", Method: req.method, URL: target, Attempt: attempt, Err: err}
	}
	setHeaders(httpReq, req, token)

	start := time.Now()
	resp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, req, target, attempt, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, req, target, attempt, err)
	}
	c.metrics.RecordRequest(req.endpoint, req.method, resp.StatusCode, time.Since(start))
	c.logger.Debug("request completed",
		zap.String("method", req.method),
		zap.String("endpoint", req.endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Int("attempt", attempt),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := classifyStatus(resp.StatusCode)
		c.metrics.RecordError(req.endpoint, req.method, string(kind))
		return nil, &Error{
			Kind:    kind,
			Message: errorMessage(data, resp.Header.Get("Content-Type"), resp.StatusCode),
			Status:  resp.StatusCode,
			Method:  req.method,
			URL:     target,
			Attempt: attempt,
		}
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Method:     req.method,
		URL:        target,
		Attempt:    attempt,
	}
	if out.IsJSON() && len(bytes.TrimSpace(data)) > 0 && !json.Valid(data) {
		c.metrics.RecordError(req.endpoint, req.method, string(KindParse))
		return nil, &Error{Kind: KindParse, Message: "malformed JSON response", Status: resp.StatusCode, Method: req.method, URL: target, Attempt: attempt}
	}
	return out, nil
}

// token asks the credential provider once per logical request, so every
// retry carries the same credential.
func (c *Client) token(ctx context.Context) string {
	if c.creds == nil {
		return ""
	}
	return c.creds.Token(ctx)
}

func setHeaders(httpReq *http.Request, req request, token string) {
	contentType := req.contentType
	if contentType == "" {
		contentType = "application/json"
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) transportError(ctx, attemptCtx context.Context, req request, target string, attempt int, cause error) *Error {
	apiErr := &Error{Kind: KindNetwork, Message: "network request failed", Method: req.method, URL: target, Attempt: attempt, Err: cause}
	switch {
	case ctx.Err() != nil:
		apiErr.Kind = KindCanceled
		apiErr.Message = "request canceled"
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		apiErr.Kind = KindTimeout
		apiErr.Message = fmt.Sprintf("request timed out after %s", c.cfg.Timeout)
	}
	c.metrics.RecordError(req.endpoint, req.method, string(apiErr.Kind))
	return apiErr
}

func (c *Client) resolve(req request) (string, error) {
	raw := req.endpoint
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if raw != "" && !strings.HasPrefix(raw, "/") {
			raw = "/" + raw
		}
		raw = c.cfg.BaseURL + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}
	if len(req.query) > 0 {
		q := u.Query()
		for k, vs := range req.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
