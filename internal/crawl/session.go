// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pdiddy/rxn-harvest/internal/httputil"
	"github.com/pdiddy/rxn-harvest/internal/render"
	"github.com/pdiddy/rxn-harvest/pkg/types"
)

// Session is the browsing state owned by one collection worker: a renderer
// for listing and record pages and an HTTP client for direct downloads.
// A session is used by one goroutine at a time.
type Session struct {
	Renderer render.Renderer
	HTTP     *httputil.Client
}

// Close releases the renderer and the download client's connections.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Renderer != nil {
		errs = append(errs, s.Renderer.Close())
	}
	if s.HTTP != nil {
		errs = append(errs, s.HTTP.Close())
	}
	return errors.Join(errs...)
}

// SessionFactory opens sessions.
type SessionFactory interface {
	NewSession(ctx context.Context) (*Session, error)
}

// SessionFunc adapts a function to SessionFactory.
type SessionFunc func(ctx context.Context) (*Session, error)

func (f SessionFunc) NewSession(ctx context.Context) (*Session, error) { return f(ctx) }

// HTTPSessions opens sessions backed by the static renderer. All sessions
// share one per-host limiter so parallel collections cannot flood a host.
type HTTPSessions struct {
	Config  types.HTTPConfig
	Limiter *httputil.HostLimiter
	Logger  zerolog.Logger

	// Cookies seed every new session, scoped to CookieURL.
	Cookies   []*http.Cookie
	CookieURL string
}

// NewHTTPSessions returns a factory for cfg with a fresh shared limiter.
func NewHTTPSessions(cfg types.HTTPConfig, logger zerolog.Logger) *HTTPSessions {
	return &HTTPSessions{
		Config:  cfg,
		Limiter: httputil.NewHostLimiter(cfg.RequestsPerSecond, cfg.Burst),
		Logger:  logger,
	}
}

func (f *HTTPSessions) NewSession(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := []httputil.Option{httputil.WithLimiter(f.Limiter), httputil.WithLogger(f.Logger)}
	browse, err := httputil.New(f.Config, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating renderer client: %w", err)
	}
	direct, err := httputil.New(f.Config, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating download client: %w", err)
	}
	for _, c := range []*httputil.Client{browse, direct} {
		if err := c.ImportCookies(f.Cookies, f.CookieURL); err != nil {
			return nil, fmt.Errorf("seeding cookies: %w", err)
		}
	}
	return &Session{Renderer: render.NewStatic(browse), HTTP: direct}, nil
}
