// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package walk

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pdiddy/rxn-harvest/internal/extract"
	"github.com/pdiddy/rxn-harvest/internal/render"
)

var tracer = otel.Tracer("rxn-harvest/walk")

// RendererLoader loads listing pages in a Renderer session: navigate, wait
// for the rules' marker, then extract.
type RendererLoader struct {
	Renderer     render.Renderer
	Rules        extract.Rules
	ReadyTimeout time.Duration
}

func (l RendererLoader) Load(ctx context.Context, url string, visited func(string) bool) (extract.Page, error) {
	ctx, span := tracer.Start(ctx, "LoadListingPage")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	if err := l.Renderer.Navigate(ctx, url); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "navigation failed")
		return extract.Page{}, err
	}
	if l.Rules.Marker.Value != "" {
		if err := l.Renderer.WaitReady(ctx, l.ReadyTimeout, l.Rules.Marker); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "page not ready")
			return extract.Page{}, fmt.Errorf("waiting for %s: %w", url, err)
		}
	}
	page, err := extract.Extract(l.Renderer, l.Rules, visited)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		return extract.Page{}, fmt.Errorf("extracting %s: %w", url, err)
	}
	span.SetAttributes(attribute.Int("links", len(page.DetailLinks)))
	return page, nil
}
