// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package render defines the page-rendering session the crawler drives and
// ships a static implementation backed by plain HTTP and goquery.
//
// A Renderer is one browsing session. It is not safe for concurrent use;
// callers serialize access.
package render

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned by WaitReady when the marker did not appear
	// within the ceiling.
	ErrTimeout = errors.New("timed out waiting for page")

	// ErrNotReady is returned when an operation needs a loaded page and
	// none is loaded.
	ErrNotReady = errors.New("no page loaded")
)

// SelectorKind tells Find how to interpret a selector value.
type SelectorKind int

const (
	// ByCSS matches a CSS selector.
	ByCSS SelectorKind = iota
	// ByPartialText matches elements whose own text contains the value.
	ByPartialText
	// ByTag matches a tag name.
	ByTag
)

func (k SelectorKind) String() string {
	switch k {
	case ByCSS:
		return "css"
	case ByPartialText:
		return "text"
	case ByTag:
		return "tag"
	default:
		return "unknown"
	}
}

// Selector is a kind plus a value.
type Selector struct {
	Kind  SelectorKind
	Value string
}

func CSS(sel string) Selector          { return Selector{Kind: ByCSS, Value: sel} }
func PartialText(text string) Selector { return Selector{Kind: ByPartialText, Value: text} }
func Tag(name string) Selector         { return Selector{Kind: ByTag, Value: name} }

func (s Selector) String() string { return s.Kind.String() + ":" + s.Value }

// Element is a snapshot of one matched DOM element. Href is resolved against
// the page URL.
type Element struct {
	Tag   string
	Text  string
	Href  string
	Attrs map[string]string
}

// Attr returns the named attribute, or "".
func (e Element) Attr(name string) string { return e.Attrs[name] }

// HasClass reports whether the class attribute lists class.
func (e Element) HasClass(class string) bool {
	for _, c := range strings.Fields(e.Attrs["class"]) {
		if c == class {
			return true
		}
	}
	return false
}

// Renderer is a browsing session.
type Renderer interface {
	// Navigate loads url as the current page.
	Navigate(ctx context.Context, url string) error

	// WaitReady blocks until marker matches on the current page or timeout
	// elapses, returning ErrTimeout in the latter case.
	WaitReady(ctx context.Context, timeout time.Duration, marker Selector) error

	// Find returns matching elements of the current page in DOM order.
	Find(sel Selector) ([]Element, error)

	// Click activates el with a script-level click.
	Click(ctx context.Context, el Element) error

	// CurrentURL is the URL of the loaded page, after redirects.
	CurrentURL() string

	// Cookies returns the session cookies for the current page.
	Cookies() []*http.Cookie

	// Close releases the session. It is safe to call more than once.
	Close() error
}
