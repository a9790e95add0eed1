// Package backend is a typed client for the status page backend API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bissquit/statuspage-web/internal/pkg/cache"
	"github.com/bissquit/statuspage-web/internal/pkg/ctxlog"
	"github.com/bissquit/statuspage-web/internal/pkg/httputil"
	"github.com/bissquit/statuspage-web/internal/pkg/metrics"
	"github.com/bissquit/statuspage-web/internal/version"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const maxErrorBody = 4 << 10

// Config configures the backend client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RateLimit is the number of outbound requests per second. Zero means unlimited.
	RateLimit float64
	Burst     int
	// CacheTTL is how long list responses are reused. Zero disables caching.
	CacheTTL time.Duration
	// CacheSize bounds the number of cached responses.
	CacheSize int
	UserAgent string
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *cache.Cache
	group      singleflight.Group
	userAgent  string
}

// New creates a backend client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "statuspage-web/" + version.Version
	}

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		cache:      cache.New(cfg.CacheTTL, cfg.CacheSize),
		userAgent:  userAgent,
	}, nil
}

// Close drops every cached read.
func (c *Client) Close() {
	c.cache.Clear()
}

// InvalidateCache drops every cached read.
func (c *Client) InvalidateCache() {
	c.cache.Clear()
}

type bypassCacheKey struct{}

// WithoutCache makes reads on ctx skip cached responses.
// Fresh responses still refill the cache.
func WithoutCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassCacheKey{}, true)
}

func bypassCache(ctx context.Context) bool {
	v, _ := ctx.Value(bypassCacheKey{}).(bool)
	return v
}

// cachedGet serves a GET from the cache or the backend.
// Concurrent misses for the same key share a single request. Results are
// stored only if no write invalidated the cache while they were fetched, and
// a read that starts after a write never joins a request started before it.
func cachedGet[T any](ctx context.Context, c *Client, endpoint, path string, decode func([]byte) (T, error)) (T, error) {
	if !bypassCache(ctx) {
		if v, ok := c.cache.Get(path); ok {
			metrics.BackendCacheRequests.WithLabelValues(endpoint, "hit").Inc()
			return v.(T), nil
		}
	}
	metrics.BackendCacheRequests.WithLabelValues(endpoint, "miss").Inc()

	gen := c.cache.Generation()
	key := strconv.FormatUint(gen, 10) + ":" + path
	ch := c.group.DoChan(key, func() (any, error) {
		body, err := c.do(context.WithoutCancel(ctx), endpoint, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		v, err := decode(body)
		if err != nil {
			return nil, err
		}
		c.cache.SetAt(gen, path, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// send performs a write and drops cached reads of the affected resources.
func (c *Client) send(ctx context.Context, endpoint, method, path string, in any, out any, invalidate ...string) error {
	body, err := c.do(ctx, endpoint, method, path, in)
	if err != nil {
		return err
	}

	for _, prefix := range invalidate {
		c.cache.DeleteByPrefix(prefix)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %v", endpoint, ErrInvalidResponse, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, in any) ([]byte, error) {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", endpoint, err)
		}
		reqBody = bytes.NewReader(data)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(httputil.RequestIDHeader, httputil.RequestID(ctx))
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.BackendRequestDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", endpoint, ctxErr)
		}
		return nil, fmt.Errorf("%s: %w: %v", endpoint, ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	metrics.BackendRequestDuration.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).
		Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
		ctxlog.FromContext(ctx).Warn("backend request failed",
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"message", apiErr.Message,
		)
		return nil, fmt.Errorf("%s: %w", endpoint, apiErr)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: read body: %v", endpoint, ErrUnavailable, err)
	}
	return body, nil
}

func errorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}

	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Error) == 0 {
		return strings.TrimSpace(string(data))
	}

	var msg string
	if err := json.Unmarshal(payload.Error, &msg); err == nil {
		return msg
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
		return nested.Message
	}
	return strings.TrimSpace(string(data))
}

func decodeList[T any](endpoint string, validate func(*T) error) func([]byte) ([]T, error) {
	return func(body []byte) ([]T, error) {
		var items []T
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", endpoint, ErrInvalidResponse, err)
		}
		if items == nil {
			items = []T{}
		}
		for i := range items {
			if err := validate(&items[i]); err != nil {
				return nil, fmt.Errorf("%s: %w: %w", endpoint, ErrInvalidResponse, err)
			}
		}
		return items, nil
	}
}

// Health checks the backend health endpoint.
func (c *Client) Health(ctx context.Context) error {
	body, err := c.do(ctx, "health", http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("health: %w: %v", ErrInvalidResponse, err)
	}
	if !strings.EqualFold(payload.Status, "up") && !strings.EqualFold(payload.Status, "ok") {
		return fmt.Errorf("health: %w: status %q", ErrUnavailable, payload.Status)
	}
	return nil
}
