// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract reads one rendered listing page: the detail links it
// carries, the control leading to the next page, and the entry count the
// page advertises, if any.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/rxn-harvest/internal/render"
)

// LinkRule selects the detail links of a listing page.
type LinkRule struct {
	Selector render.Selector

	// Text, when set, must occur in the element text.
	Text string

	// HrefContains, when set, must occur in the resolved href.
	HrefContains string
}

// NextRule selects the forward pagination control.
type NextRule struct {
	Selector render.Selector

	// Texts, when set, accepts elements whose text contains any entry.
	Texts []string

	// HrefContains, when set, must occur in the resolved href.
	HrefContains string

	// DisabledClass marks a control that cannot be followed.
	DisabledClass string
}

// CountRule reads the advertised number of entries. Pattern's first
// submatch is the count.
type CountRule struct {
	Selector render.Selector
	Pattern  *regexp.Regexp
}

// Rules describe one kind of listing page.
type Rules struct {
	// Marker appears once the listing has rendered.
	Marker render.Selector

	Detail LinkRule
	Next   NextRule

	// Count is optional.
	Count *CountRule
}

// Page is what one listing page yields.
type Page struct {
	// DetailLinks are absolute URLs in DOM order.
	DetailLinks []string

	// NextLink is the first acceptable forward target, "" when none.
	NextLink string

	// TotalEntries is the advertised entry count, 0 when unknown. It is
	// advisory only.
	TotalEntries int
}

// Extract reads the page currently loaded in r. visited reports targets
// already loaded by the caller; they are never offered as NextLink. A nil
// visited accepts everything.
func Extract(r render.Renderer, rules Rules, visited func(string) bool) (Page, error) {
	var page Page

	details, err := r.Find(rules.Detail.Selector)
	if err != nil {
		return Page{}, fmt.Errorf("finding detail links: %w", err)
	}
	for _, el := range details {
		if rules.Detail.accepts(el) {
			page.DetailLinks = append(page.DetailLinks, el.Href)
		}
	}

	if rules.Next.Selector.Value != "" {
		controls, err := r.Find(rules.Next.Selector)
		if err != nil {
			return Page{}, fmt.Errorf("finding next control: %w", err)
		}
		for _, el := range controls {
			if !rules.Next.accepts(el) {
				continue
			}
			if visited != nil && visited(el.Href) {
				continue
			}
			page.NextLink = el.Href
			break
		}
	}

	if rules.Count != nil {
		n, err := rules.Count.read(r)
		if err != nil {
			return Page{}, err
		}
		page.TotalEntries = n
	}
	return page, nil
}

func (l LinkRule) accepts(el render.Element) bool {
	if el.Href == "" {
		return false
	}
	if l.Text != "" && !strings.Contains(el.Text, l.Text) {
		return false
	}
	return l.HrefContains == "" || strings.Contains(el.Href, l.HrefContains)
}

func (n NextRule) accepts(el render.Element) bool {
	if el.Href == "" {
		return false
	}
	if n.DisabledClass != "" && el.HasClass(n.DisabledClass) {
		return false
	}
	if n.HrefContains != "" && !strings.Contains(el.Href, n.HrefContains) {
		return false
	}
	if len(n.Texts) == 0 {
		return true
	}
	for _, t := range n.Texts {
		if strings.Contains(el.Text, t) {
			return true
		}
	}
	return false
}

func (c CountRule) read(r render.Renderer) (int, error) {
	els, err := r.Find(c.Selector)
	if err != nil {
		return 0, fmt.Errorf("finding entry count: %w", err)
	}
	for _, el := range els {
		m := c.Pattern.FindStringSubmatch(el.Text)
		if len(m) < 2 {
			continue
		}
		n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err != nil {
			continue
		}
		return n, nil
	}
	return 0, nil
}
