// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package crawl

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pdiddy/rxn-harvest/internal/walk"
	"github.com/pdiddy/rxn-harvest/pkg/types"
)

// Enumerate resolves mode into the run's targets. Modes naming collection
// ids use them directly; the others walk the source's collection listing
// in sess and slice what it yields.
func (o *Orchestrator) Enumerate(ctx context.Context, sess *Session, mode types.RunMode) ([]Target, error) {
	if err := mode.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run mode: %w", err)
	}

	switch m := mode.(type) {
	case types.AllMode:
		refs, err := o.Discover(ctx, sess, m.Collections.End)
		if err != nil {
			return nil, err
		}
		return targets(slice(refs, m.Collections), types.Range{}), nil

	case types.UniformMode:
		refs, err := o.Discover(ctx, sess, m.Collections.End)
		if err != nil {
			return nil, err
		}
		return targets(slice(refs, m.Collections), m.Items), nil

	case types.SpecificMode:
		out := make([]Target, 0, len(m.IDs))
		seen := make(map[string]bool, len(m.IDs))
		for _, id := range m.IDs {
			ref := o.ref(id)
			if seen[ref.ID] {
				continue
			}
			seen[ref.ID] = true
			out = append(out, Target{Ref: ref})
		}
		return out, nil

	case types.CustomMode:
		out := make([]Target, 0, len(m.Ranges))
		for _, cr := range m.Ranges {
			out = append(out, Target{Ref: o.ref(cr.ID), Items: cr.Items})
		}
		return out, nil

	case types.SingleMode:
		refs, err := o.Discover(ctx, sess, m.Collection)
		if err != nil {
			return nil, err
		}
		if m.Collection > len(refs) {
			return nil, fmt.Errorf("collection %d requested but only %d found", m.Collection, len(refs))
		}
		return []Target{{
			Ref:   refs[m.Collection-1],
			Items: types.Range{Start: m.Item, End: m.Item},
		}}, nil

	default:
		return nil, fmt.Errorf("unsupported run mode %T", mode)
	}
}

// Discover walks the source's collection listing. A positive limit stops
// the walk once that many collections are known. Collections keep listing
// order; a listing that yields nothing because it failed to load is an
// error.
func (o *Orchestrator) Discover(ctx context.Context, sess *Session, limit int) ([]types.CollectionRef, error) {
	ctx, span := tracer.Start(ctx, "Discover")
	defer span.End()

	cfg := o.Config.Walk
	walker := walk.New(walk.RendererLoader{
		Renderer:     sess.Renderer,
		Rules:        o.Source.DiscoveryRules(),
		ReadyTimeout: cfg.ReadyTimeout,
	}, types.WalkConfig{MaxItems: cfg.MaxCollections, PageSize: cfg.PageSize}, o.Logger)

	res := walker.Walk(ctx, o.Source.DiscoveryURL(), limit)
	if len(res.Items) == 0 && res.Err != nil {
		return nil, fmt.Errorf("discovering collections: %w", res.Err)
	}
	if len(res.Items) == 0 && res.Reason == walk.StopCancelled {
		return nil, fmt.Errorf("discovering collections: %w", ctx.Err())
	}

	refs := make([]types.CollectionRef, 0, len(res.Items))
	seen := make(map[string]bool, len(res.Items))
	for _, item := range res.Items {
		id := o.Source.CollectionID(item.URL)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		refs = append(refs, types.CollectionRef{ID: id, ListingURL: item.URL})
	}
	o.Logger.Info().Int("collections", len(refs)).Int("pages", res.Pages).
		Str("stop", string(res.Reason)).Msg("collections discovered")
	return refs, nil
}

// ref builds the reference for an explicitly named collection.
func (o *Orchestrator) ref(id string) types.CollectionRef {
	id = strings.TrimSpace(id)
	listing := o.Source.ListingURL(id)
	return types.CollectionRef{ID: o.Source.CollectionID(listing), ListingURL: listing}
}

func slice(refs []types.CollectionRef, r types.Range) []types.CollectionRef {
	lo, hi := r.Bounds(len(refs))
	return refs[lo:hi]
}

func targets(refs []types.CollectionRef, items types.Range) []Target {
	out := make([]Target, len(refs))
	for i, ref := range refs {
		out[i] = Target{Ref: ref, Items: items}
	}
	return out
}

// syncWriter serializes progress lines from concurrent workers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
