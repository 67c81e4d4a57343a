// Package appwrite talks to a hosted Appwrite project over its REST API and exposes
// it as a platform.Client.
package appwrite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bakaf/pixel/internal/logging"
	"github.com/bakaf/pixel/internal/platform"
	"github.com/bakaf/pixel/internal/session"
)

const (
	responseFormat = "1.5.0"

	headerProject         = "X-Appwrite-Project"
	headerResponseFormat  = "X-Appwrite-Response-Format"
	headerFallbackCookies = "X-Fallback-Cookies"
	headerUploadID        = "X-Appwrite-ID"
)

// Config describes the Appwrite project to connect to.
type Config struct {
	Endpoint string
	Project  string
	// Platform is the application id registered with the project; it is sent as the
	// request origin.
	Platform string
	// RateLimit caps requests per second per route. Zero disables throttling.
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

// Client issues authenticated requests against one project. It is safe for
// concurrent use.
type Client struct {
	endpoint  string
	project   string
	origin    string
	http      *http.Client
	sessions  session.Store
	throttle  *throttle
	chunkSize int64
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New validates cfg and returns a client that keeps its session secret in store.
func New(cfg Config, store session.Store, opts ...Option) (*Client, error) {
	endpoint := strings.TrimSuffix(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("appwrite: endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("appwrite: parse endpoint: %w", err)
	}
	if strings.TrimSpace(cfg.Project) == "" {
		return nil, errors.New("appwrite: project is required")
	}
	if store == nil {
		store = session.NewMemoryStore()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	c := &Client{
		endpoint:  endpoint,
		project:   cfg.Project,
		http:      &http.Client{Timeout: timeout},
		sessions:  store,
		throttle:  newThrottle(cfg.RateLimit, cfg.Burst),
		chunkSize: 5 * 1024 * 1024,
	}
	if cfg.Platform != "" {
		c.origin = "appwrite-android://" + cfg.Platform
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Services returns the four capability services backed by c.
func (c *Client) Services() platform.Client {
	return platform.Client{
		Account:   &Account{c: c},
		Documents: &Databases{c: c},
		Storage:   &Storage{c: c},
		Avatars:   &Avatars{c: c},
	}
}

type request struct {
	method string
	// route is the path template used for throttling and logs.
	route  string
	path   string
	query  url.Values
	body   io.Reader
	header http.Header
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return bytes.NewReader(b), nil
}

// do sends req and decodes a successful JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, req request, out any) error {
	if err := c.throttle.Wait(ctx, req.method+" "+req.route); err != nil {
		return fmt.Errorf("wait for rate limit: %w", err)
	}

	u := c.endpoint + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, req.body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Content-Type") == "" && req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(headerProject, c.project)
	httpReq.Header.Set(headerResponseFormat, responseFormat)
	if c.origin != "" {
		httpReq.Header.Set("Origin", c.origin)
	}

	cookies, err := c.sessions.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if cookies != "" {
		httpReq.Header.Set(headerFallbackCookies, cookies)
	}

	logger := logging.FromContext(ctx).With(
		slog.String("method", req.method),
		slog.String("route", req.route),
	)
	start := time.Now()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		logger.Warn("appwrite request failed", "error", err, slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("%s %s: %w", req.method, req.route, err)
	}
	defer resp.Body.Close()

	logger.Debug("appwrite request completed",
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if fallback := resp.Header.Get(headerFallbackCookies); fallback != "" {
		if err := c.sessions.Save(ctx, fallback); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.route, err)
	}
	return nil
}

// projectURL builds a URL the platform serves without authentication headers, so
// the project travels as a query parameter.
func (c *Client) projectURL(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("project", c.project)
	return c.endpoint + path + "?" + params.Encode()
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
