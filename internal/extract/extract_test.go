// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/rxn-harvest/internal/render"
	"github.com/pdiddy/rxn-harvest/internal/render/rendertest"
)

var (
	detailSel = render.CSS("a.btn.btn-outline-info[id^='title-']")
	nextSel   = render.CSS("a")
	countSel  = render.CSS("div.pagination div.select")
)

func archiveRules() Rules {
	return Rules{
		Marker: render.Tag("body"),
		Detail: LinkRule{Selector: detailSel, Text: "Details"},
		Next:   NextRule{Selector: nextSel, Texts: []string{"Next", ">"}, HrefContains: "start"},
		Count:  &CountRule{Selector: countSel, Pattern: regexp.MustCompile(`of ([\d,]+) entries`)},
	}
}

func load(t *testing.T, page *rendertest.Page) *rendertest.Fake {
	t.Helper()
	f := &rendertest.Fake{Pages: map[string]*rendertest.Page{"u": page}}
	require.NoError(t, f.Navigate(context.Background(), "u"))
	return f
}

func TestExtract_DetailLinksInOrder(t *testing.T) {
	f := load(t, &rendertest.Page{Elements: map[render.Selector][]render.Element{
		detailSel: {
			rendertest.Link("https://a/details/3", "Details"),
			rendertest.Link("https://a/details/1", "Reaction Details"),
			rendertest.Link("https://a/details/9", "Download"),
			rendertest.Link("", "Details"),
			rendertest.Link("https://a/details/1", "Details"),
		},
	}})

	page, err := Extract(f, archiveRules(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a/details/3", "https://a/details/1", "https://a/details/1"}, page.DetailLinks)
	assert.Empty(t, page.NextLink)
	assert.Zero(t, page.TotalEntries)
}

func TestExtract_HrefContains(t *testing.T) {
	sel := render.CSS("a")
	f := load(t, &rendertest.Page{Elements: map[render.Selector][]render.Element{
		sel: {
			rendertest.Link("https://db/id/ord-1", "ord-1"),
			rendertest.Link("https://db/browse", "Browse"),
			rendertest.Link("https://db/id/ord-2", "ord-2"),
		},
	}})
	page, err := Extract(f, Rules{Detail: LinkRule{Selector: sel, HrefContains: "/id/ord-"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://db/id/ord-1", "https://db/id/ord-2"}, page.DetailLinks)
}

func TestExtract_NextLink(t *testing.T) {
	tests := []struct {
		name     string
		controls []render.Element
		visited  map[string]bool
		want     string
	}{
		{
			name: "first acceptable control wins",
			controls: []render.Element{
				rendertest.Link("https://a/p?start=10", "Next"),
				rendertest.Link("https://a/p?start=20", ">"),
			},
			want: "https://a/p?start=10",
		},
		{
			name: "visited targets are skipped",
			controls: []render.Element{
				rendertest.Link("https://a/p?start=0", "Next"),
				rendertest.Link("https://a/p?start=10", "Next >"),
			},
			visited: map[string]bool{"https://a/p?start=0": true},
			want:    "https://a/p?start=10",
		},
		{
			name:     "href must carry the paging parameter",
			controls: []render.Element{rendertest.Link("https://a/about", "Next steps")},
			want:     "",
		},
		{
			name:     "text must match",
			controls: []render.Element{rendertest.Link("https://a/p?start=10", "Home")},
			want:     "",
		},
		{
			name:     "script-only control is not followable",
			controls: []render.Element{rendertest.Link("", "Next")},
			want:     "",
		},
		{
			name:     "all visited",
			controls: []render.Element{rendertest.Link("https://a/p?start=10", "Next")},
			visited:  map[string]bool{"https://a/p?start=10": true},
			want:     "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := load(t, &rendertest.Page{Elements: map[render.Selector][]render.Element{nextSel: tt.controls}})
			page, err := Extract(f, archiveRules(), func(u string) bool { return tt.visited[u] })
			require.NoError(t, err)
			assert.Equal(t, tt.want, page.NextLink)
		})
	}
}

func TestExtract_DisabledNext(t *testing.T) {
	sel := render.CSS("a.next")
	rules := Rules{Next: NextRule{Selector: sel, DisabledClass: "no-click"}}

	f := load(t, &rendertest.Page{Elements: map[render.Selector][]render.Element{
		sel: {rendertest.Link("https://db/browse?page=2", "", "next", "paginav", "no-click")},
	}})
	page, err := Extract(f, rules, nil)
	require.NoError(t, err)
	assert.Empty(t, page.NextLink)

	f = load(t, &rendertest.Page{Elements: map[render.Selector][]render.Element{
		sel: {rendertest.Link("https://db/browse?page=2", "", "next", "paginav")},
	}})
	page, err = Extract(f, rules, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://db/browse?page=2", page.NextLink)
}

func TestExtract_TotalEntries(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"Showing 1 to 100 of 537 entries", 537},
		{"Showing 1 to 100 of 1,204 entries", 1204},
		{"No entries", 0},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			f := load(t, &rendertest.Page{Elements: map[render.Selector][]render.Element{
				countSel: {rendertest.Text("div", tt.text)},
			}})
			page, err := Extract(f, archiveRules(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, page.TotalEntries)
		})
	}
}

func TestExtract_NoPageLoaded(t *testing.T) {
	_, err := Extract(&rendertest.Fake{}, archiveRules(), nil)
	assert.ErrorIs(t, err, render.ErrNotReady)
}
