// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package walk follows a paginated listing from its first page and
// accumulates a deduplicated, bounded frontier of detail links.
//
// A walk never fails: every way it can end, including load failures and
// timeouts, is a StopReason, and the items gathered so far are returned.
package walk

import (
	"context"
	"errors"
	"slices"

	"github.com/rs/zerolog"

	"github.com/pdiddy/rxn-harvest/internal/extract"
	"github.com/pdiddy/rxn-harvest/internal/render"
	"github.com/pdiddy/rxn-harvest/pkg/types"
)

// DefaultCap bounds a frontier when the walker is given no cap.
const DefaultCap = 200

// StopReason says why a walk ended.
type StopReason string

const (
	// StopEnd: the page offered no next link.
	StopEnd StopReason = "end"
	// StopLoop: the next page had already been visited.
	StopLoop StopReason = "loop"
	// StopStagnant: a page repeated the previous page's links exactly.
	StopStagnant StopReason = "stagnant"
	// StopEmpty: a page had no detail links.
	StopEmpty StopReason = "empty"
	// StopCap: the frontier reached the cap.
	StopCap StopReason = "cap"
	// StopLimit: the frontier reached the caller's limit.
	StopLimit StopReason = "limit"
	// StopTimeout: a page did not become ready in time.
	StopTimeout StopReason = "timeout"
	// StopOracle: the advertised entry count says no pages remain.
	StopOracle StopReason = "oracle"
	// StopLoadError: a page failed to load for another reason.
	StopLoadError StopReason = "load_error"
	// StopCancelled: the context ended.
	StopCancelled StopReason = "cancelled"
)

// PageLoader loads one listing page and extracts it. visited reports URLs
// the walk has already loaded.
type PageLoader interface {
	Load(ctx context.Context, url string, visited func(string) bool) (extract.Page, error)
}

// Result is the outcome of one walk.
type Result struct {
	Items  []types.ItemRef
	Pages  int
	Reason StopReason

	// Err is the load failure behind StopLoadError or StopTimeout.
	Err error
}

// Walker walks listings through a PageLoader. It holds no state between
// walks; the same pages always yield the same Result.
type Walker struct {
	Loader PageLoader

	// Cap bounds the frontier; zero means DefaultCap.
	Cap int

	// PageSize lets the walker turn an advertised entry count into a page
	// count. Zero disables the check.
	PageSize int

	Logger zerolog.Logger
}

// New returns a Walker configured from cfg.
func New(loader PageLoader, cfg types.WalkConfig, logger zerolog.Logger) *Walker {
	return &Walker{Loader: loader, Cap: cfg.MaxItems, PageSize: cfg.PageSize, Logger: logger}
}

// Walk follows the listing starting at start. A positive limit stops the
// walk once that many items are gathered, when it is below the cap.
func (w *Walker) Walk(ctx context.Context, start string, limit int) Result {
	bound, boundReason := w.Cap, StopCap
	if bound <= 0 {
		bound = DefaultCap
	}
	if limit > 0 && limit < bound {
		bound, boundReason = limit, StopLimit
	}

	var res Result
	seen := make(map[string]bool)
	visited := make(map[string]bool)
	isVisited := func(u string) bool { return visited[u] }
	var prev []string
	url := start

	stop := func(reason StopReason, err error) Result {
		res.Reason, res.Err = reason, err
		ev := w.Logger.Debug()
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Str("start", start).Str("reason", string(reason)).
			Int("pages", res.Pages).Int("items", len(res.Items)).Msg("walk stopped")
		return res
	}

	for {
		if ctx.Err() != nil {
			return stop(StopCancelled, nil)
		}
		if visited[url] {
			return stop(StopLoop, nil)
		}
		visited[url] = true

		page, err := w.Loader.Load(ctx, url, isVisited)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return stop(StopCancelled, nil)
			case errors.Is(err, render.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
				return stop(StopTimeout, err)
			default:
				return stop(StopLoadError, err)
			}
		}
		res.Pages++
		w.Logger.Debug().Str("url", url).Int("page", res.Pages).
			Int("links", len(page.DetailLinks)).Str("next", page.NextLink).Msg("listing page")

		if res.Pages > 1 && slices.Equal(page.DetailLinks, prev) {
			return stop(StopStagnant, nil)
		}
		if len(page.DetailLinks) == 0 {
			return stop(StopEmpty, nil)
		}
		prev = page.DetailLinks

		for _, link := range page.DetailLinks {
			if seen[link] {
				continue
			}
			seen[link] = true
			res.Items = append(res.Items, types.ItemRef{URL: link})
			if len(res.Items) >= bound {
				return stop(boundReason, nil)
			}
		}

		if w.PageSize > 0 && page.TotalEntries > 0 {
			pages := (page.TotalEntries + w.PageSize - 1) / w.PageSize
			if res.Pages >= pages {
				return stop(StopOracle, nil)
			}
		}

		if page.NextLink == "" {
			return stop(StopEnd, nil)
		}
		url = page.NextLink
	}
}
