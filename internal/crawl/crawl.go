// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package crawl drives a run: it enumerates the collections a run mode
// selects, walks each collection's listing, fetches and transforms its
// items, and hands every CollectionResult to an aggregator.
//
// Collections run in a bounded worker pool, each with its own session.
// Failures stay local: an item failure is counted in its collection, and a
// collection failure (error or panic) becomes an errored result while its
// siblings continue.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/rxn-harvest/internal/fetch"
	"github.com/pdiddy/rxn-harvest/internal/results"
	"github.com/pdiddy/rxn-harvest/internal/transform"
	"github.com/pdiddy/rxn-harvest/internal/walk"
	"github.com/pdiddy/rxn-harvest/pkg/types"
)

var tracer = otel.Tracer("rxn-harvest/crawl")

// ErrNoSession means no session could be opened at the start of a run.
var ErrNoSession = errors.New("cannot open a browsing session")

// Target is one collection selected for a run with the item range to keep.
type Target struct {
	Ref   types.CollectionRef
	Items types.Range
}

// RunResult reports what a run did. Results themselves go to the
// aggregator.
type RunResult struct {
	// Order lists the collections of the resulting document: those of the
	// prior document first, then the newly enumerated ones.
	Order []string

	Crawled int
	Skipped int
	Errored int

	// Carried counts prior collections kept without being selected.
	Carried int
}

// Total returns the number of collections in the resulting document.
func (r RunResult) Total() int { return len(r.Order) }

// Orchestrator runs crawls for one source.
type Orchestrator struct {
	Source   Source
	Sessions SessionFactory
	Config   types.CrawlConfig
	Logger   zerolog.Logger

	// Progress receives one line per collection and the batch summary.
	Progress io.Writer

	// Prior, when set, is a previous document to resume from. Selected
	// collections it holds without an error are reused instead of crawled,
	// and collections this run does not select are kept as they were.
	Prior *types.OutputDocument
}

// Run crawls the collections mode selects into agg. It fails only when the
// initial session cannot be opened or no collection can be enumerated;
// everything after that is recorded in the results. Cancelling ctx stops
// dispatch and Run returns the context's error, while the collections
// already finished stay in agg.
func (o *Orchestrator) Run(ctx context.Context, mode types.RunMode, agg *results.Aggregator) (RunResult, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()
	span.SetAttributes(attribute.String("source", o.Source.Name()), attribute.String("mode", mode.Name()))

	var run RunResult
	w := o.progress()

	sess, err := o.Sessions.NewSession(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no session")
		return run, fmt.Errorf("%w: %w", ErrNoSession, err)
	}
	targets, err := o.Enumerate(ctx, sess, mode)
	sess.Close()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enumeration failed")
		return run, err
	}
	o.Logger.Info().Str("mode", mode.Name()).Int("collections", len(targets)).Msg("collections selected")

	run.Order = o.order(targets)
	enumerated := make(map[string]bool, len(targets))
	pending := make([]Target, 0, len(targets))
	for _, t := range targets {
		enumerated[t.Ref.ID] = true
		if prev, ok := o.completed(t.Ref.ID); ok {
			agg.Add(prev)
			run.Skipped++
			fmt.Fprintf(w, "skipped: %s (already complete)\n", t.Ref.ID)
			continue
		}
		pending = append(pending, t)
	}
	run.Carried = o.carryOver(enumerated, agg)

	workers := max(o.Config.Concurrency, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	done := make(chan types.CollectionResult, len(pending))
	var (
		reportMu sync.Mutex
		finished int
	)
	for _, t := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r := o.crawlCollection(gctx, t)
			agg.Add(r)
			done <- r
			reportMu.Lock()
			finished++
			o.report(w, finished, len(pending), r)
			reportMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	close(done)

	for r := range done {
		run.Crawled++
		if r.Error != "" {
			run.Errored++
		}
	}
	if run.Carried > 0 {
		fmt.Fprintf(w, "carried over: %d collections from the previous document\n", run.Carried)
	}
	fmt.Fprintf(w, "\nBatch summary: %d crawled, %d skipped, %d errored (total: %d)\n",
		run.Crawled, run.Skipped, run.Errored, run.Total())
	return run, ctx.Err()
}

// order lists the prior document's collections first, in their recorded
// order, then the newly enumerated ones.
func (o *Orchestrator) order(targets []Target) []string {
	var ids []string
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if o.Prior != nil {
		for _, id := range o.Prior.Order {
			if _, ok := o.Prior.Collections[id]; ok {
				add(id)
			}
		}
		for _, id := range slices.Sorted(maps.Keys(o.Prior.Collections)) {
			add(id)
		}
	}
	for _, t := range targets {
		add(t.Ref.ID)
	}
	return ids
}

// carryOver adds every prior collection this run did not enumerate, so a
// resumed document never loses earlier results.
func (o *Orchestrator) carryOver(enumerated map[string]bool, agg *results.Aggregator) int {
	if o.Prior == nil {
		return 0
	}
	n := 0
	for id, r := range o.Prior.Collections {
		if enumerated[id] {
			continue
		}
		agg.Add(r)
		n++
	}
	return n
}

// completed returns the prior result for id when it finished without error.
func (o *Orchestrator) completed(id string) (types.CollectionResult, bool) {
	if o.Prior == nil {
		return types.CollectionResult{}, false
	}
	r, ok := o.Prior.Collections[id]
	if !ok || r.Error != "" {
		return types.CollectionResult{}, false
	}
	return r, true
}

func (o *Orchestrator) report(w io.Writer, n, total int, r types.CollectionResult) {
	if r.Error != "" {
		fmt.Fprintf(w, "[%d/%d] failed:  %s (%s)\n", n, total, r.CollectionID, r.Error)
		return
	}
	fmt.Fprintf(w, "[%d/%d] crawled: %s (%d/%d items, stop: %s)\n",
		n, total, r.CollectionID, r.SuccessfulScrapes, r.TotalItemsAttempted, r.StopReason)
}

func (o *Orchestrator) progress() io.Writer {
	if o.Progress == nil {
		return io.Discard
	}
	return &syncWriter{w: o.Progress}
}

// crawlCollection produces the result for one collection. It never fails:
// errors and panics become an errored result, and the session is released
// on every path.
func (o *Orchestrator) crawlCollection(ctx context.Context, t Target) (res types.CollectionResult) {
	ctx, span := tracer.Start(ctx, "CrawlCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", t.Ref.ID))
	log := o.Logger.With().Str("collection", t.Ref.ID).Logger()

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("panic: %v", p)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			log.Error().Err(err).Msg("collection aborted")
			res = errored(t, err)
		}
	}()

	sess, err := o.Sessions.NewSession(ctx)
	if err != nil {
		log.Error().Err(err).Msg("cannot open session")
		return errored(t, fmt.Errorf("opening session: %w", err))
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn().Err(err).Msg("closing session")
		}
	}()

	walker := walk.New(walk.RendererLoader{
		Renderer:     sess.Renderer,
		Rules:        o.Source.ItemRules(),
		ReadyTimeout: o.Config.Walk.ReadyTimeout,
	}, o.Config.Walk, log)
	wr := walker.Walk(ctx, t.Ref.ListingURL, t.Items.End)
	if wr.Reason == walk.StopLoadError && len(wr.Items) == 0 {
		span.RecordError(wr.Err)
		span.SetStatus(codes.Error, "listing failed")
		return errored(t, fmt.Errorf("loading listing: %w", wr.Err))
	}

	lo, hi := t.Items.Bounds(len(wr.Items))
	items := wr.Items[lo:hi]
	log.Info().Int("items", len(items)).Int("pages", wr.Pages).Str("stop", string(wr.Reason)).Msg("listing walked")

	if sess.HTTP != nil {
		if err := sess.HTTP.ImportCookies(sess.Renderer.Cookies(), sess.Renderer.CurrentURL()); err != nil {
			log.Debug().Err(err).Msg("cookie import failed")
		}
	}

	fetcher := o.Source.Fetcher(sess, o.Config.Fetch, log)
	raws := o.fetchAll(ctx, fetcher, items)

	res = types.CollectionResult{
		CollectionID: t.Ref.ID,
		ListingURL:   t.Ref.ListingURL,
		StopReason:   string(wr.Reason),
		Records:      []types.CanonicalRecord{},
	}
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		res.TotalItemsAttempted++
		if !raw.Succeeded {
			continue
		}
		res.SuccessfulScrapes++
		rec := transform.Transform(o.Config.Format, *raw)
		if rec == nil {
			res.Unparsed++
			log.Warn().Str("url", raw.URL).Msg("record has no reaction data")
			continue
		}
		res.Records = append(res.Records, *rec)
	}
	span.SetAttributes(attribute.Int("attempted", res.TotalItemsAttempted), attribute.Int("succeeded", res.SuccessfulScrapes))
	return res
}

// fetchAll fetches items with at most ItemConcurrency in flight, pausing a
// random delay before starting every item but the first. Results keep item
// order; items never started because ctx ended are nil.
func (o *Orchestrator) fetchAll(ctx context.Context, f fetch.Fetcher, items []types.ItemRef) []*types.RawRecord {
	out := make([]*types.RawRecord, len(items))
	workers := max(o.Config.ItemConcurrency, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		if i > 0 {
			if err := pause(gctx, o.delay()); err != nil {
				break
			}
		}
		if gctx.Err() != nil {
			break
		}
		if workers == 1 {
			out[i] = o.fetchOne(gctx, f, item)
			continue
		}
		g.Go(func() error {
			out[i] = o.fetchOne(gctx, f, item)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// fetchOne records a panicking fetch as a failed item.
func (o *Orchestrator) fetchOne(ctx context.Context, f fetch.Fetcher, item types.ItemRef) (raw *types.RawRecord) {
	defer func() {
		if p := recover(); p != nil {
			o.Logger.Error().Str("url", item.URL).Interface("panic", p).Msg("item fetch panicked")
			raw = &types.RawRecord{URL: item.URL, Error: fmt.Sprintf("panic: %v", p)}
		}
	}()
	r := f.Fetch(ctx, item)
	return &r
}

// delay returns a random duration in [MinDelay, MaxDelay].
func (o *Orchestrator) delay() time.Duration {
	lo, hi := o.Config.MinDelay, o.Config.MaxDelay
	if hi <= lo {
		return max(lo, 0)
	}
	return lo + rand.N(hi-lo+1)
}

func pause(ctx context.Context, d time.Duration) error {
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

func errored(t Target, err error) types.CollectionResult {
	return types.CollectionResult{
		CollectionID: t.Ref.ID,
		ListingURL:   t.Ref.ListingURL,
		Error:        err.Error(),
		Records:      []types.CanonicalRecord{},
	}
}
