// Package transport is the sync layer's single door to the shared store.
// Every store interaction funnels through Client, which walks an ordered
// list of candidate endpoints, retries transient failures within a small
// budget and reports plain (body, ok) results. Callers never see
// transport errors; a false result means this round goes without the
// store.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	errNoEndpoints      = errors.New("no store endpoints configured")
	errUnexpectedStatus = errors.New("unexpected status")
)

// Client talks to the shared store. It is stateless across rounds: every
// request walks the candidate endpoints in their configured order.
type Client struct {
	logger  *zap.Logger
	client  *retryablehttp.Client
	bases   []*url.URL
	limiter *rate.Limiter
	timeout time.Duration
}

// Opt modifies a Client.
type Opt func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(c *Client) {
		c.logger = logger
		c.client.Logger = &retryableHTTPLogger{inner: logger}
	}
}

// A wrapper around zap.Logger to make it compatible with the
// retryablehttp.LeveledLogger interface.
type retryableHTTPLogger struct {
	inner *zap.Logger
}

func (r retryableHTTPLogger) Error(format string, args ...any) {
	r.inner.Sugar().Errorw(format, args...)
}

func (r retryableHTTPLogger) Info(format string, args ...any) {
	r.inner.Sugar().Infow(format, args...)
}

func (r retryableHTTPLogger) Warn(format string, args ...any) {
	r.inner.Sugar().Warnw(format, args...)
}

func (r retryableHTTPLogger) Debug(format string, args ...any) {
	r.inner.Sugar().Debugw(format, args...)
}

func linearJitterBackoff(min, max time.Duration, _ int, _ *http.Response) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min)
}

// New returns a client for the configured candidate endpoints.
func New(cfg Config, opts ...Opt) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errNoEndpoints
	}
	bases := make([]*url.URL, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		base, err := url.Parse(strings.TrimRight(ep, "/"))
		if err != nil {
			return nil, fmt.Errorf("parsing endpoint %q: %w", ep, err)
		}
		if base.Scheme == "" {
			base.Scheme = "http"
		}
		bases = append(bases, base)
	}
	c := &Client{
		logger: zap.NewNop(),
		client: &retryablehttp.Client{
			RetryMax:     cfg.MaxRetries,
			RetryWaitMin: cfg.RetryWaitMin,
			RetryWaitMax: cfg.RetryWaitMax,
			Backoff:      linearJitterBackoff,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
		},
		bases:   bases,
		timeout: cfg.RequestTimeout,
	}
	if cfg.RequestsPerInterval > 0 && cfg.RateInterval > 0 {
		c.limiter = rate.NewLimiter(
			rate.Every(cfg.RateInterval/time.Duration(cfg.RequestsPerInterval)),
			cfg.RequestsPerInterval,
		)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get fetches path from the first candidate endpoint that answers 2xx.
func (c *Client) Get(ctx context.Context, path string) ([]byte, bool) {
	return c.do(ctx, http.MethodGet, path, nil, "", nil)
}

// Delete issues a DELETE for path.
func (c *Client) Delete(ctx context.Context, path string) ([]byte, bool) {
	return c.do(ctx, http.MethodDelete, path, nil, "", nil)
}

// PostForm posts url-encoded form values.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) ([]byte, bool) {
	return c.do(ctx, http.MethodPost, path, nil, "application/x-www-form-urlencoded", []byte(form.Encode()))
}

// PostJSON marshals v and posts it as a JSON body.
func (c *Client) PostJSON(ctx context.Context, path string, v any) ([]byte, bool) {
	body, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("encoding request body", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	return c.do(ctx, http.MethodPost, path, nil, "application/json", body)
}

// PostRaw posts an opaque body with optional query parameters.
func (c *Client) PostRaw(
	ctx context.Context,
	path string,
	query url.Values,
	contentType string,
	body []byte,
) ([]byte, bool) {
	return c.do(ctx, http.MethodPost, path, query, contentType, body)
}

// PostMultipart uploads data as a single multipart file field.
func (c *Client) PostMultipart(ctx context.Context, path, field, filename string, data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err == nil {
		_, err = fw.Write(data)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		c.logger.Warn("encoding multipart body", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	return c.do(ctx, http.MethodPost, path, nil, mw.FormDataContentType(), buf.Bytes())
}

func (c *Client) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	contentType string,
	body []byte,
) ([]byte, bool) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, false
		}
	}
	start := time.Now()
	for _, base := range c.bases {
		data, err := c.try(ctx, base, method, path, query, contentType, body)
		if err == nil {
			observeRequest(method, outcomeOK, start)
			return data, true
		}
		c.logger.Debug("store request failed",
			zap.Stringer("endpoint", base),
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			observeRequest(method, outcomeFail, start)
			return nil, false
		}
	}
	c.logger.Warn("store unreachable on all endpoints",
		zap.String("method", method),
		zap.String("path", path),
	)
	observeRequest(method, outcomeFail, start)
	return nil, false
}

func (c *Client) try(
	ctx context.Context,
	base *url.URL,
	method, path string,
	query url.Values,
	contentType string,
	body []byte,
) ([]byte, error) {
	target := base.JoinPath(path)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var rawBody any
	if body != nil {
		rawBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target.String(), rawBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doing request: %w", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if res.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: %s: %s", errUnexpectedStatus, res.Status, snippet(data))
	}
	return data, nil
}

func snippet(data []byte) string {
	const max = 160
	s := strings.TrimSpace(string(data))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
