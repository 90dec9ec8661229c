// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package rendertest provides a scripted render.Renderer for tests.
package rendertest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pdiddy/rxn-harvest/internal/render"
)

// Page is the scripted content of one URL.
type Page struct {
	// Elements maps a selector to the elements it matches.
	Elements map[render.Selector][]render.Element

	// Sequence overrides Elements: successive Find calls return successive
	// entries, and the last entry repeats.
	Sequence map[render.Selector][][]render.Element

	// NotReady makes WaitReady time out.
	NotReady bool
}

// Fake is a Renderer whose pages are scripted. It records navigations and
// clicks. The zero value has no pages; every Navigate fails.
type Fake struct {
	Pages map[string]*Page

	// NavigateErr, when set for a URL, is returned by Navigate.
	NavigateErr map[string]error

	// OnNavigate, when set, runs before each navigation.
	OnNavigate func(url string)

	CookieJar []*http.Cookie

	mu          sync.Mutex
	current     string
	finds       map[string]int
	Navigations []string
	Clicks      []render.Element
	Closed      int
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.OnNavigate != nil {
		f.OnNavigate(url)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Navigations = append(f.Navigations, url)
	if err := f.NavigateErr[url]; err != nil {
		return err
	}
	if _, ok := f.Pages[url]; !ok {
		return fmt.Errorf("navigate %s: no such page", url)
	}
	f.current = url
	f.finds = map[string]int{}
	return nil
}

func (f *Fake) WaitReady(ctx context.Context, timeout time.Duration, marker render.Selector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	page := f.Pages[f.current]
	if page == nil {
		return render.ErrNotReady
	}
	if page.NotReady {
		return fmt.Errorf("%s after %v: %w", marker, timeout, render.ErrTimeout)
	}
	return nil
}

func (f *Fake) Find(sel render.Selector) ([]render.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := f.Pages[f.current]
	if page == nil {
		return nil, render.ErrNotReady
	}
	if seq, ok := page.Sequence[sel]; ok && len(seq) > 0 {
		key := sel.String()
		n := f.finds[key]
		f.finds[key] = n + 1
		return seq[min(n, len(seq)-1)], nil
	}
	return page.Elements[sel], nil
}

func (f *Fake) Click(ctx context.Context, el render.Element) error {
	f.mu.Lock()
	f.Clicks = append(f.Clicks, el)
	f.mu.Unlock()
	if el.Href == "" {
		return nil
	}
	return f.Navigate(ctx, el.Href)
}

func (f *Fake) CurrentURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *Fake) Cookies() []*http.Cookie { return f.CookieJar }

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed++
	return nil
}

// Link is shorthand for an anchor element.
func Link(href, text string, classes ...string) render.Element {
	el := render.Element{Tag: "a", Text: text, Href: href, Attrs: map[string]string{"href": href}}
	if len(classes) > 0 {
		cls := classes[0]
		for _, c := range classes[1:] {
			cls += " " + c
		}
		el.Attrs["class"] = cls
	}
	return el
}

// Text is shorthand for a text-only element.
func Text(tag, text string) render.Element {
	return render.Element{Tag: tag, Text: text, Attrs: map[string]string{}}
}
