// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pdiddy/rxn-harvest/internal/httputil"
	"github.com/pdiddy/rxn-harvest/internal/render"
	"github.com/pdiddy/rxn-harvest/pkg/types"
)

var tracer = otel.Tracer("rxn-harvest/fetch")

// DataLinkText is the text of the anchor leading from an archive detail page
// to its data file.
const DataLinkText = "XML"

// ArchiveFetcher fetches archive items over plain HTTP: the detail page,
// then the data file it links to.
type ArchiveFetcher struct {
	Client *httputil.Client
	Policy types.RetryPolicy
	Logger zerolog.Logger
}

func (f *ArchiveFetcher) Fetch(ctx context.Context, item types.ItemRef) types.RawRecord {
	ctx, span := tracer.Start(ctx, "ArchiveFetcher.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("url", item.URL))

	var payload *types.ArchivePayload
	attempts, err := Do(ctx, f.Policy, func(ctx context.Context, n int) error {
		p, err := f.fetchOnce(ctx, item.URL)
		if err != nil {
			f.Logger.Debug().Err(err).Str("url", item.URL).Int("attempt", n).Msg("archive fetch attempt failed")
			return err
		}
		payload = p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		f.Logger.Warn().Err(err).Str("url", item.URL).Int("attempts", attempts).Msg("archive item failed")
		return failed(item, types.PayloadArchive, attempts, err)
	}
	return types.RawRecord{
		URL:       item.URL,
		Kind:      types.PayloadArchive,
		Archive:   payload,
		Succeeded: true,
		Attempts:  attempts,
	}
}

func (f *ArchiveFetcher) fetchOnce(ctx context.Context, detailURL string) (*types.ArchivePayload, error) {
	page, err := f.Client.Get(ctx, detailURL)
	if err != nil {
		return nil, classify(err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parsing detail page: %w", err)
	}
	base, err := url.Parse(page.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing detail URL: %w", err)
	}
	dataURL := DataLink(doc, base)
	if dataURL == "" {
		return nil, Permanent(fmt.Errorf("%w: no %q link on %s", ErrPayload, DataLinkText, detailURL))
	}

	data, err := f.Client.Get(ctx, dataURL)
	if err != nil {
		return nil, classify(err)
	}
	return ParseArchivePayload(data.Body)
}

// classify marks client errors other than throttling as permanent; the
// client already retried the transient statuses.
func classify(err error) error {
	var se *httputil.StatusError
	if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests {
		return Permanent(err)
	}
	return err
}

// DataLink returns the resolved target of the first anchor whose text is
// exactly DataLinkText, or "".
func DataLink(doc *goquery.Document, base *url.URL) string {
	var out string
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.TrimSpace(a.Text()) != DataLinkText {
			return true
		}
		if href, ok := a.Attr("href"); ok {
			out = render.ResolveURL(base, href)
		}
		return out == ""
	})
	return out
}

// ParseArchivePayload reads the tag-delimited data file of an archive item:
// one reactionSmiles element and any number of molecule blocks with role,
// smiles and name children. Entities are unescaped.
func ParseArchivePayload(body []byte) (*types.ArchivePayload, error) {
	trimmed := bytes.TrimSpace(body)
	if !bytes.HasPrefix(trimmed, []byte("<")) {
		return nil, fmt.Errorf("%w: data file is not markup", ErrPayload)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed))
	if err != nil {
		return nil, fmt.Errorf("parsing data file: %w", err)
	}

	// The HTML parser lower-cases element names.
	p := &types.ArchivePayload{
		ReactionSmiles: strings.TrimSpace(doc.Find("reactionsmiles").First().Text()),
	}
	doc.Find("molecule").Each(func(_ int, m *goquery.Selection) {
		p.Molecules = append(p.Molecules, types.Molecule{
			Role:   strings.TrimSpace(m.Find("role").First().Text()),
			Smiles: strings.TrimSpace(m.Find("smiles").First().Text()),
			Name:   strings.TrimSpace(m.Find("name").First().Text()),
		})
	})
	return p, nil
}
