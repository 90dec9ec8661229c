// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides the HTTP client shared by the static renderer and
// the detail fetchers: a resty client with a cookie jar, transport-level
// retries on throttling and server errors, and a per-host rate limiter.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pdiddy/rxn-harvest/pkg/types"
)

var tracer = otel.Tracer("rxn-harvest/httputil")

// retryStatuses are the responses retried at the transport level.
var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// StatusError reports a non-2xx response that survived the retries.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code)
}

// IsStatus reports whether err carries a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Response is a fully read HTTP response.
type Response struct {
	// URL is the final URL after redirects.
	URL    string
	Status int
	Body   []byte
}

// Client issues GET requests with retry, cookies and rate limiting.
type Client struct {
	http    *resty.Client
	limiter *HostLimiter
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLimiter shares a per-host limiter between clients. Without it each
// client builds its own from the config.
func WithLimiter(l *HostLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the logger used for retry and throttle messages.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New builds a Client from cfg. Every Client owns its own cookie jar, so a
// client is one browsing session.
func New(cfg types.HTTPConfig, opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	rc := resty.New()
	rc.SetCookieJar(jar)
	if cfg.CloudflareBypass {
		rc.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(rc.GetClient().Transport)
	}
	if cfg.UserAgent != "" {
		rc.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}
	rc.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	rc.SetRetryCount(max(cfg.MaxRetries, 0))
	if cfg.RetryWait > 0 {
		rc.SetRetryWaitTime(cfg.RetryWait)
	}
	if cfg.RetryMaxWait > 0 {
		rc.SetRetryMaxWaitTime(cfg.RetryMaxWait)
	}
	rc.AddRetryCondition(func(res *resty.Response, err error) bool {
		if err != nil {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
		return retryStatuses[res.StatusCode()]
	})

	c := &Client{
		http:   rc,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = NewHostLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}

	rc.SetLogger(restyLogger{c.logger})
	rc.AddRetryHook(func(res *resty.Response, err error) {
		if res == nil || res.Request == nil {
			return
		}
		ev := c.logger.Debug().Int("attempt", res.Request.Attempt)
		if err != nil {
			ev = ev.Err(err)
		} else {
			ev = ev.Int("status", res.StatusCode())
		}
		ev.Str("url", res.Request.URL).Msg("retrying request")
	})
	rc.OnBeforeRequest(c.beforeRequest)
	return c, nil
}

// beforeRequest waits for the host's limiter and records the attempt on the
// request's span. It runs once per attempt, so retries are throttled too.
func (c *Client) beforeRequest(_ *resty.Client, req *resty.Request) error {
	u, err := url.Parse(req.URL)
	if err != nil {
		return fmt.Errorf("parsing request URL: %w", err)
	}
	if err := c.limiter.Wait(req.Context(), u.Host); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}
	trace.SpanFromContext(req.Context()).AddEvent("attempt",
		trace.WithAttributes(attribute.Int("attempt", req.Attempt)))
	return nil
}

// Get fetches rawURL and reads the whole body. Responses outside 2xx are
// returned alongside a *StatusError.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	ctx, span := tracer.Start(ctx, "GET "+host, trace.WithAttributes(attribute.String("http.url", rawURL)))
	defer span.End()

	res, err := c.http.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode()))

	out := &Response{URL: rawURL, Status: res.StatusCode(), Body: res.Body()}
	if raw := res.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		out.URL = raw.Request.URL.String()
	}
	if res.IsError() {
		span.SetStatus(codes.Error, res.Status())
		return out, &StatusError{URL: rawURL, Code: res.StatusCode()}
	}
	return out, nil
}

// Close drops the idle keep-alive connections of the session's transport.
// The client stays usable; later requests dial afresh.
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return nil
}

// Cookies returns the session cookies the jar would send to rawURL.
func (c *Client) Cookies(rawURL string) []*http.Cookie {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return c.http.GetClient().Jar.Cookies(u)
}

// ImportCookies copies cookies obtained elsewhere (for example by a renderer
// session) into the jar, scoped to rawURL.
func (c *Client) ImportCookies(cookies []*http.Cookie, rawURL string) error {
	if len(cookies) == 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing cookie URL: %w", err)
	}
	c.http.GetClient().Jar.SetCookies(u, cookies)
	return nil
}

// Timeout reports the per-request ceiling, zero when unbounded.
func (c *Client) Timeout() time.Duration {
	return c.http.GetClient().Timeout
}

// restyLogger routes resty's own messages into zerolog.
type restyLogger struct {
	log zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) { l.log.Debug().Msgf(format, v...) }
func (l restyLogger) Warnf(format string, v ...any)  { l.log.Debug().Msgf(format, v...) }
func (l restyLogger) Debugf(format string, v ...any) { l.log.Trace().Msgf(format, v...) }
