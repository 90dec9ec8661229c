// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package render

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/html"

	"github.com/pdiddy/rxn-harvest/internal/httputil"
)

var tracer = otel.Tracer("rxn-harvest/render")

// Static renders pages without executing scripts: Navigate fetches the HTML
// and Find queries it with goquery. Content that sites reveal through
// scripts (modals, tabs) must already be present in the served markup; a
// click on an element without a link is a no-op.
type Static struct {
	client *httputil.Client
	page   *url.URL
	doc    *goquery.Document
	closed bool
}

// NewStatic returns a renderer browsing through client.
func NewStatic(client *httputil.Client) *Static {
	return &Static{client: client}
}

// Client exposes the HTTP session so cookies can be shared.
func (s *Static) Client() *httputil.Client { return s.client }

func (s *Static) Navigate(ctx context.Context, rawURL string) error {
	ctx, span := tracer.Start(ctx, "Static.Navigate")
	defer span.End()
	span.SetAttributes(attribute.String("url", rawURL))

	if s.closed {
		return fmt.Errorf("navigate %s: renderer closed", rawURL)
	}
	res, err := s.client.Get(ctx, rawURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch page")
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse html")
		return fmt.Errorf("parsing %s: %w", rawURL, err)
	}
	page, err := url.Parse(res.URL)
	if err != nil {
		return fmt.Errorf("parsing page URL: %w", err)
	}
	s.page, s.doc = page, doc
	return nil
}

// WaitReady checks the marker once. Static pages do not change after load,
// so a missing marker is reported as a timeout straight away.
func (s *Static) WaitReady(ctx context.Context, timeout time.Duration, marker Selector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	els, err := s.Find(marker)
	if err != nil {
		return err
	}
	if len(els) == 0 {
		return fmt.Errorf("%s not found within %v: %w", marker, timeout, ErrTimeout)
	}
	return nil
}

func (s *Static) Find(sel Selector) ([]Element, error) {
	if s.doc == nil {
		return nil, ErrNotReady
	}
	var matched *goquery.Selection
	switch sel.Kind {
	case ByCSS, ByTag:
		matched = s.doc.Find(sel.Value)
	case ByPartialText:
		matched = s.doc.Find("body *").FilterFunction(func(_ int, el *goquery.Selection) bool {
			return strings.Contains(ownText(el.Get(0)), sel.Value)
		})
	default:
		return nil, fmt.Errorf("unsupported selector kind %d", sel.Kind)
	}

	out := make([]Element, 0, matched.Length())
	matched.Each(func(_ int, el *goquery.Selection) {
		out = append(out, s.element(el))
	})
	return out, nil
}

// Click follows the element's link, if it has one.
func (s *Static) Click(ctx context.Context, el Element) error {
	if s.doc == nil {
		return ErrNotReady
	}
	if el.Href == "" {
		return nil
	}
	return s.Navigate(ctx, el.Href)
}

func (s *Static) CurrentURL() string {
	if s.page == nil {
		return ""
	}
	return s.page.String()
}

func (s *Static) Cookies() []*http.Cookie {
	if s.page == nil {
		return nil
	}
	return s.client.Cookies(s.page.String())
}

func (s *Static) Close() error {
	s.closed = true
	s.doc = nil
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Static) element(sel *goquery.Selection) Element {
	el := Element{
		Tag:   goquery.NodeName(sel),
		Attrs: map[string]string{},
	}
	// Preformatted blocks keep their text verbatim; everything else is
	// whitespace-normalized for matching.
	if el.Tag == "pre" {
		el.Text = sel.Text()
	} else {
		el.Text = strings.Join(strings.Fields(sel.Text()), " ")
	}
	if node := sel.Get(0); node != nil {
		for _, a := range node.Attr {
			el.Attrs[a.Key] = a.Val
		}
	}
	if href, ok := sel.Attr("href"); ok {
		el.Href = ResolveURL(s.page, href)
	}
	return el
}

// ownText concatenates the direct text children of n.
func ownText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// ResolveURL resolves href against base. Script links and bare fragments
// resolve to "" because following them loads nothing new.
func ResolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
