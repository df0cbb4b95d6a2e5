package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

// Defaults for the HTTP client.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxBytes  = 32 << 20
	DefaultUserAgent = "sercha-ingest/1.0"
)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// IsNotFound checks if the error is a 404 or 410 response.
func IsNotFound(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusGone
	}
	return false
}

// IsUnauthorized checks if the error is a 401 or 403 response.
func IsUnauthorized(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
	}
	return false
}

// IsRateLimited checks if the error is a 429 response.
func IsRateLimited(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// TransientStatus reports whether an HTTP status is worth retrying.
func TransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// TransientNetError reports whether a transport error is worth retrying:
// timeouts, resets, refused connections and truncated bodies.
func TransientNetError(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

// ClientConfig configures an HTTP Client.
type ClientConfig struct {
	Timeout time.Duration
	Retry   RetryPolicy
	// RequestsPerSecond throttles requests. Zero disables throttling.
	RequestsPerSecond float64
	// MaxBytes caps a response body.
	MaxBytes  int64
	UserAgent string
	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// Response is a fully read HTTP response.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
}

// Client performs rate limited GETs with retry and classification.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	retry     RetryPolicy
	maxBytes  int64
	userAgent string
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		http:      hc,
		limiter:   limiter,
		retry:     cfg.Retry,
		maxBytes:  cfg.MaxBytes,
		userAgent: cfg.UserAgent,
	}
}

// Get fetches url. Transient failures are retried; the final error is a
// *domain.TransientConnectorError when retries ran out, or a
// *domain.TerminalItemError wrapping *StatusError for 4xx responses.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	var resp *Response
	err := Retry(ctx, c.retry, func(ctx context.Context) error {
		r, err := c.get(ctx, url, header)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, url string, header http.Header) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, &domain.TerminalItemError{ItemKey: url, Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)

	r, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if TransientNetError(err) {
			return nil, &domain.TransientConnectorError{Op: "GET " + url, Err: err}
		}
		return nil, &domain.TerminalItemError{ItemKey: url, Err: err}
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, c.maxBytes+1))
	if err != nil {
		return nil, &domain.TransientConnectorError{Op: "GET " + url, Err: err}
	}

	if r.StatusCode < 200 || r.StatusCode > 299 {
		se := &StatusError{StatusCode: r.StatusCode, URL: url, Body: snippet(body)}
		if TransientStatus(r.StatusCode) {
			c.honourRetryAfter(ctx, r.Header)
			return nil, &domain.TransientConnectorError{Op: "GET " + url, Err: se}
		}
		return nil, &domain.TerminalItemError{ItemKey: url, Err: se}
	}
	if int64(len(body)) > c.maxBytes {
		return nil, &domain.TerminalItemError{ItemKey: url, Err: fmt.Errorf("response larger than %d bytes", c.maxBytes)}
	}

	return &Response{
		URL:         url,
		StatusCode:  r.StatusCode,
		ContentType: r.Header.Get("Content-Type"),
		Header:      r.Header,
		Body:        body,
	}, nil
}

// honourRetryAfter waits out a short Retry-After before the backoff delay.
func (c *Client) honourRetryAfter(ctx context.Context, h http.Header) {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return
	}
	wait := time.Duration(secs) * time.Second
	if wait > time.Minute {
		wait = time.Minute
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

func snippet(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}
