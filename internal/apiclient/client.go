// Package apiclient implements the rate-limited, retrying client for the
// legal-data Open API.
package apiclient

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
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lawdata-collector/internal/collector"
	"github.com/JakeFAU/lawdata-collector/internal/policy/ratelimit"
)

// Observer receives per-request telemetry. Status code 0 means no response.
type Observer interface {
	ObserveRequest(endpoint string, code int, duration time.Duration)
	ObserveRetry(endpoint string, kind Kind)
	ObserveRateLimitWait(duration time.Duration)
}

// Config controls one client instance.
type Config struct {
	BaseURL       string
	DefaultParams map[string]any
	UserAgent     string
	// Timeout bounds each physical request.
	Timeout time.Duration
	RPS     float64
	Burst   int
	Retry   RetryPolicy
}

// Client issues GET requests through a token bucket and a bounded retry loop.
type Client struct {
	baseURL   *url.URL
	defaults  map[string]any
	userAgent string
	timeout   time.Duration
	http      *http.Client
	bucket    *ratelimit.Bucket
	retry     RetryPolicy
	observer  Observer
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithObserver attaches request telemetry.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	defaults := make(map[string]any, len(cfg.DefaultParams))
	for k, v := range cfg.DefaultParams {
		defaults[k] = v
	}
	c := &Client{
		baseURL:   base,
		defaults:  defaults,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		http:      &http.Client{Transport: newTransport()},
		bucket:    ratelimit.New(ratelimit.Config{RPS: cfg.RPS, Burst: cfg.Burst}),
		retry:     cfg.Retry,
		logger:    zap.NewNop(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Bucket exposes the client's rate budget.
func (c *Client) Bucket() *ratelimit.Bucket {
	return c.bucket
}

// Fetch GETs path with the default parameters overlaid by params. nil values
// in params are ignored. Retryable failures are retried until the policy gives
// up; the last *Error is then returned as is.
func (c *Client) Fetch(ctx context.Context, path string, params map[string]any) (*collector.Response, error) {
	target, err := c.buildURL(path, params)
	if err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		waited, err := c.bucket.Wait(ctx)
		if err != nil {
			return nil, err
		}
		if c.observer != nil && waited > time.Millisecond {
			c.observer.ObserveRateLimitWait(waited)
		}

		resp, err := c.do(ctx, path, target)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !c.retry.ShouldRetry(err, attempt) {
			return nil, err
		}

		delay := c.retry.Backoff(attempt - 1)
		var apiErr *Error
		if errors.As(err, &apiErr) && c.observer != nil {
			c.observer.ObserveRetry(path, apiErr.Kind)
		}
		c.logger.Warn("retrying api request",
			zap.String("endpoint", path),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) do(ctx context.Context, endpoint, target string) (*collector.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &Error{Kind: KindClient, URL: target, Err: err}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observeRequest(endpoint, 0, time.Since(start))
		return nil, transportError(target, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully read below

	body, err := io.ReadAll(resp.Body)
	c.observeRequest(endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, transportError(target, err)
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, statusError(finalURL, resp.StatusCode)
	}
	c.logger.Debug("api request succeeded",
		zap.String("url", finalURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
	)
	return &collector.Response{
		URL:        finalURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		JSON:       decodeJSON(body),
		Text:       string(body),
	}, nil
}

func (c *Client) observeRequest(endpoint string, code int, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(endpoint, code, d)
	}
}

func (c *Client) buildURL(path string, params map[string]any) (string, error) {
	ref, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", path, err)
	}
	u := c.baseURL.ResolveReference(ref)

	merged := make(map[string]any, len(c.defaults)+len(params))
	for k, v := range c.defaults {
		merged[k] = v
	}
	for k, v := range params {
		if v != nil {
			merged[k] = v
		}
	}
	q := u.Query()
	for k, v := range merged {
		if v == nil {
			continue
		}
		q.Set(k, fmt.Sprint(v))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func transportError(target string, err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, URL: target, Err: err}
	}
	return &Error{Kind: KindConnection, URL: target, Err: err}
}

// decodeJSON parses body keeping numbers as json.Number; anything that is not
// a JSON document yields nil.
func decodeJSON(body []byte) any {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
