// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package crawl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/rxn-harvest/internal/fetch"
	"github.com/pdiddy/rxn-harvest/internal/render"
	"github.com/pdiddy/rxn-harvest/internal/render/rendertest"
	"github.com/pdiddy/rxn-harvest/internal/results"
	"github.com/pdiddy/rxn-harvest/pkg/types"
)

const dbBase = "http://db.test"

var (
	datasetLinks = render.CSS("a[href*='/dataset/ord_dataset-']")
	recordLinks  = render.CSS("a[href*='/id/ord-']")
)

func testConfig() types.CrawlConfig {
	cfg := types.DefaultCrawlConfig()
	cfg.HTTP.RequestsPerSecond = 0
	cfg.HTTP.MaxRetries = 0
	cfg.Fetch.Retry = types.RetryPolicy{MaxAttempts: 3}
	cfg.Fetch.MarkerWait = 0
	cfg.MinDelay, cfg.MaxDelay = 0, 0
	cfg.Concurrency = 2
	return cfg
}

func recordJSON(id string) string {
	return `{"reactionId": "` + id + `", "inputsMap": [["A", {"componentsList": [{"identifiersList": [{"type": 2, "value": "CCO"}], "reactionRole": 1}]}]], "outcomesList": [{"productsList": [{"identifiersList": [{"type": 2, "value": "CC"}], "isDesiredProduct": true}]}]}`
}

// dbSite scripts the database: a browse page and datasets with records.
type dbSite struct {
	pages map[string]*rendertest.Page
}

func newDBSite() *dbSite {
	return &dbSite{pages: map[string]*rendertest.Page{}}
}

func datasetURL(id string) string { return dbBase + "/dataset/" + id }
func recordURL(id string) string  { return dbBase + "/id/" + id }

func (s *dbSite) browse(ids ...string) {
	var links []render.Element
	for _, id := range ids {
		links = append(links, rendertest.Link(datasetURL(id), id))
	}
	s.pages[dbBase+"/browse"] = &rendertest.Page{Elements: map[render.Selector][]render.Element{datasetLinks: links}}
}

// dataset lists records; ids in broken have pages that never become ready.
func (s *dbSite) dataset(id string, records []string, broken ...string) {
	var links []render.Element
	for _, rid := range records {
		links = append(links, rendertest.Link(recordURL(rid), rid))
		notReady := false
		for _, b := range broken {
			if b == rid {
				notReady = true
			}
		}
		s.pages[recordURL(rid)] = &rendertest.Page{
			NotReady: notReady,
			Elements: map[render.Selector][]render.Element{
				fetch.FullRecordButton: {rendertest.Text("div", "View Full Record")},
				fetch.RecordBlock:      {rendertest.Text("pre", recordJSON(rid))},
			},
		}
	}
	s.pages[datasetURL(id)] = &rendertest.Page{Elements: map[render.Selector][]render.Element{recordLinks: links}}
}

// sessions hands out a fresh fake renderer per session over the site's
// pages and counts opens and closes.
type sessions struct {
	site       *dbSite
	onNavigate func(string)

	mu     sync.Mutex
	fakes  []*rendertest.Fake
	opened atomic.Int32
}

func (s *sessions) NewSession(ctx context.Context) (*Session, error) {
	s.opened.Add(1)
	f := &rendertest.Fake{Pages: s.site.pages, OnNavigate: s.onNavigate}
	s.mu.Lock()
	s.fakes = append(s.fakes, f)
	s.mu.Unlock()
	return &Session{Renderer: f}, nil
}

func (s *sessions) closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.fakes {
		n += f.Closed
	}
	return n
}

func (s *sessions) navigated(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.fakes {
		for _, u := range f.Navigations {
			if u == url {
				return true
			}
		}
	}
	return false
}

func newOrchestrator(ss SessionFactory, w *bytes.Buffer) *Orchestrator {
	return &Orchestrator{
		Source:   NewDatabaseSource(dbBase),
		Sessions: ss,
		Config:   testConfig(),
		Logger:   zerolog.Nop(),
		Progress: w,
	}
}

func recordIDs(r types.CollectionResult) []string {
	var ids []string
	for _, rec := range r.Records {
		ids = append(ids, rec.ID())
	}
	return ids
}

func TestRunPartialFailures(t *testing.T) {
	site := newDBSite()
	site.dataset("ord_dataset-1",
		[]string{"ord-1", "ord-2", "ord-3", "ord-4", "ord-5"},
		"ord-2", "ord-3", "ord-5")
	ss := &sessions{site: site}
	var buf bytes.Buffer
	agg := results.New()

	run, err := newOrchestrator(ss, &buf).Run(context.Background(), types.SpecificMode{IDs: []string{"ord_dataset-1"}}, agg)
	require.NoError(t, err)
	assert.Equal(t, []string{"ord_dataset-1"}, run.Order)
	assert.Equal(t, 1, run.Crawled)

	r, ok := agg.Get("ord_dataset-1")
	require.True(t, ok)
	assert.Equal(t, 5, r.TotalItemsAttempted)
	assert.Equal(t, 2, r.SuccessfulScrapes)
	assert.Equal(t, 3, r.Failed())
	assert.Equal(t, []string{"ord-1", "ord-4"}, recordIDs(r))
	assert.Empty(t, r.Error)
	assert.Equal(t, datasetURL("ord_dataset-1"), r.ListingURL)
	assert.Contains(t, buf.String(), "Batch summary:")
}

func TestRunAllModeDiscoversAndSlices(t *testing.T) {
	site := newDBSite()
	site.browse("ord_dataset-a", "ord_dataset-b", "ord_dataset-c")
	for _, id := range []string{"ord_dataset-a", "ord_dataset-b", "ord_dataset-c"} {
		site.dataset(id, []string{"ord-" + id[12:]})
	}
	ss := &sessions{site: site}
	agg := results.New()

	run, err := newOrchestrator(ss, &bytes.Buffer{}).Run(context.Background(),
		types.AllMode{Collections: types.Range{Start: 2, End: 3}}, agg)
	require.NoError(t, err)
	assert.Equal(t, []string{"ord_dataset-b", "ord_dataset-c"}, run.Order)
	assert.Equal(t, 2, agg.Len())
	_, ok := agg.Get("ord_dataset-a")
	assert.False(t, ok)
	assert.False(t, ss.navigated(datasetURL("ord_dataset-a")))
}

func TestRunUniformItemRange(t *testing.T) {
	site := newDBSite()
	site.browse("ord_dataset-a", "ord_dataset-b")
	site.dataset("ord_dataset-a", []string{"ord-a1", "ord-a2", "ord-a3", "ord-a4"})
	site.dataset("ord_dataset-b", []string{"ord-b1", "ord-b2", "ord-b3"})
	agg := results.New()

	_, err := newOrchestrator(&sessions{site: site}, &bytes.Buffer{}).Run(context.Background(),
		types.UniformMode{Items: types.Range{Start: 2, End: 3}}, agg)
	require.NoError(t, err)

	a, _ := agg.Get("ord_dataset-a")
	b, _ := agg.Get("ord_dataset-b")
	assert.Equal(t, []string{"ord-a2", "ord-a3"}, recordIDs(a))
	assert.Equal(t, []string{"ord-b2", "ord-b3"}, recordIDs(b))
	assert.Equal(t, "limit", a.StopReason)
}

func TestRunCustomRanges(t *testing.T) {
	site := newDBSite()
	site.dataset("ord_dataset-a", []string{"ord-a1", "ord-a2", "ord-a3"})
	site.dataset("ord_dataset-b", []string{"ord-b1", "ord-b2", "ord-b3"})
	agg := results.New()

	mode := types.CustomMode{Ranges: []types.CollectionRange{
		{ID: "ord_dataset-a", Items: types.Range{End: 1}},
		{ID: "ord_dataset-b", Items: types.Range{Start: 3}},
	}}
	run, err := newOrchestrator(&sessions{site: site}, &bytes.Buffer{}).Run(context.Background(), mode, agg)
	require.NoError(t, err)
	assert.Equal(t, []string{"ord_dataset-a", "ord_dataset-b"}, run.Order)

	a, _ := agg.Get("ord_dataset-a")
	b, _ := agg.Get("ord_dataset-b")
	assert.Equal(t, []string{"ord-a1"}, recordIDs(a))
	assert.Equal(t, []string{"ord-b3"}, recordIDs(b))
}

func TestRunSingleTarget(t *testing.T) {
	site := newDBSite()
	site.browse("ord_dataset-a", "ord_dataset-b")
	site.dataset("ord_dataset-a", []string{"ord-a1"})
	site.dataset("ord_dataset-b", []string{"ord-b1", "ord-b2", "ord-b3"})
	agg := results.New()
	o := newOrchestrator(&sessions{site: site}, &bytes.Buffer{})

	run, err := o.Run(context.Background(), types.SingleMode{Collection: 2, Item: 2}, agg)
	require.NoError(t, err)
	assert.Equal(t, []string{"ord_dataset-b"}, run.Order)
	b, _ := agg.Get("ord_dataset-b")
	assert.Equal(t, []string{"ord-b2"}, recordIDs(b))
	assert.Equal(t, 1, b.TotalItemsAttempted)

	_, err = o.Run(context.Background(), types.SingleMode{Collection: 5, Item: 1}, results.New())
	assert.ErrorContains(t, err, "only 2 found")
}

func TestRunResumeSkipsCompleted(t *testing.T) {
	site := newDBSite()
	site.dataset("ord_dataset-a", []string{"ord-a1"})
	site.dataset("ord_dataset-b", []string{"ord-b1"})
	ss := &sessions{site: site}
	var buf bytes.Buffer
	o := newOrchestrator(ss, &buf)
	o.Prior = &types.OutputDocument{Collections: map[string]types.CollectionResult{
		"ord_dataset-a": {CollectionID: "ord_dataset-a", TotalItemsAttempted: 7, SuccessfulScrapes: 7},
		"ord_dataset-b": {CollectionID: "ord_dataset-b", Error: "loading listing: boom"},
	}}
	agg := results.New()

	run, err := o.Run(context.Background(), types.SpecificMode{IDs: []string{"ord_dataset-a", "ord_dataset-b"}}, agg)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, 1, run.Crawled)

	a, _ := agg.Get("ord_dataset-a")
	assert.Equal(t, 7, a.SuccessfulScrapes, "prior result carried over")
	assert.False(t, ss.navigated(datasetURL("ord_dataset-a")))

	b, _ := agg.Get("ord_dataset-b")
	assert.Empty(t, b.Error)
	assert.Equal(t, []string{"ord-b1"}, recordIDs(b))
	assert.Contains(t, buf.String(), "skipped: ord_dataset-a")
}

func TestRunResumeKeepsUnselectedCollections(t *testing.T) {
	site := newDBSite()
	site.dataset("ord_dataset-b", []string{"ord-b1"})
	var buf bytes.Buffer
	o := newOrchestrator(&sessions{site: site}, &buf)
	o.Prior = &types.OutputDocument{
		Order: []string{"ord_dataset-c", "ord_dataset-a"},
		Collections: map[string]types.CollectionResult{
			"ord_dataset-a": {CollectionID: "ord_dataset-a", TotalItemsAttempted: 2, SuccessfulScrapes: 2},
			"ord_dataset-c": {CollectionID: "ord_dataset-c", Error: "loading listing: boom"},
		},
	}
	agg := results.New()

	run, err := o.Run(context.Background(), types.SpecificMode{IDs: []string{"ord_dataset-b"}}, agg)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Crawled)
	assert.Equal(t, 2, run.Carried)
	assert.Equal(t, []string{"ord_dataset-c", "ord_dataset-a", "ord_dataset-b"}, run.Order)
	assert.Equal(t, 3, run.Total())

	doc := agg.Document(results.Meta{Order: run.Order})
	assert.Equal(t, []string{"ord_dataset-c", "ord_dataset-a", "ord_dataset-b"}, doc.Order)
	assert.Equal(t, 2, doc.Collections["ord_dataset-a"].SuccessfulScrapes)
	assert.Equal(t, "loading listing: boom", doc.Collections["ord_dataset-c"].Error)
	assert.Equal(t, []string{"ord-b1"}, recordIDs(doc.Collections["ord_dataset-b"]))
	assert.Contains(t, buf.String(), "carried over: 2 collections")
}

func TestRunProgressCountsCompletions(t *testing.T) {
	site := newDBSite()
	var ids []string
	for i := range 6 {
		id := fmt.Sprintf("ord_dataset-%d", i)
		ids = append(ids, id)
		site.dataset(id, []string{fmt.Sprintf("ord-%d", i)})
	}
	var buf bytes.Buffer
	o := newOrchestrator(&sessions{site: site}, &buf)
	o.Config.Concurrency = 3

	_, err := o.Run(context.Background(), types.SpecificMode{IDs: ids}, results.New())
	require.NoError(t, err)

	var counters []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.HasPrefix(line, "[") {
			counters = append(counters, line[:strings.Index(line, "]")+1])
		}
	}
	assert.Equal(t, []string{"[1/6]", "[2/6]", "[3/6]", "[4/6]", "[5/6]", "[6/6]"}, counters)
}

func TestRunPanicIsolated(t *testing.T) {
	site := newDBSite()
	site.dataset("ord_dataset-a", []string{"ord-a1"})
	site.dataset("ord_dataset-b", []string{"ord-b1"})
	ss := &sessions{site: site, onNavigate: func(url string) {
		if url == datasetURL("ord_dataset-b") {
			panic("renderer crashed")
		}
	}}
	agg := results.New()

	run, err := newOrchestrator(ss, &bytes.Buffer{}).Run(context.Background(),
		types.SpecificMode{IDs: []string{"ord_dataset-a", "ord_dataset-b"}}, agg)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Errored)

	a, _ := agg.Get("ord_dataset-a")
	assert.Equal(t, []string{"ord-a1"}, recordIDs(a))

	b, _ := agg.Get("ord_dataset-b")
	assert.Contains(t, b.Error, "panic: renderer crashed")
	assert.NotNil(t, b.Records)
	assert.Equal(t, int(ss.opened.Load()), ss.closed(), "every session released")
}

func TestRunListingLoadError(t *testing.T) {
	site := newDBSite()
	site.dataset("ord_dataset-a", []string{"ord-a1"})
	agg := results.New()

	run, err := newOrchestrator(&sessions{site: site}, &bytes.Buffer{}).Run(context.Background(),
		types.SpecificMode{IDs: []string{"ord_dataset-a", "ord_dataset-missing"}}, agg)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Errored)

	missing, ok := agg.Get("ord_dataset-missing")
	require.True(t, ok)
	assert.Contains(t, missing.Error, "loading listing")
	assert.Zero(t, missing.TotalItemsAttempted)
}

func TestRunNoSession(t *testing.T) {
	factory := SessionFunc(func(context.Context) (*Session, error) {
		return nil, errors.New("browser missing")
	})
	_, err := newOrchestrator(factory, &bytes.Buffer{}).Run(context.Background(), types.AllMode{}, results.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRunCollectionSessionFailure(t *testing.T) {
	site := newDBSite()
	site.dataset("ord_dataset-a", []string{"ord-a1"})
	var calls atomic.Int32
	factory := SessionFunc(func(context.Context) (*Session, error) {
		if calls.Add(1) > 1 {
			return nil, errors.New("out of browsers")
		}
		return &Session{Renderer: &rendertest.Fake{Pages: site.pages}}, nil
	})
	agg := results.New()

	run, err := newOrchestrator(factory, &bytes.Buffer{}).Run(context.Background(),
		types.SpecificMode{IDs: []string{"ord_dataset-a"}}, agg)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Errored)
	a, _ := agg.Get("ord_dataset-a")
	assert.Contains(t, a.Error, "out of browsers")
}

func TestRunDiscoveryFailure(t *testing.T) {
	site := newDBSite()
	_, err := newOrchestrator(&sessions{site: site}, &bytes.Buffer{}).Run(context.Background(), types.AllMode{}, results.New())
	assert.ErrorContains(t, err, "discovering collections")
}

func TestRunCancelled(t *testing.T) {
	site := newDBSite()
	site.dataset("ord_dataset-a", []string{"ord-a1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newOrchestrator(&sessions{site: site}, &bytes.Buffer{}).Run(ctx,
		types.SpecificMode{IDs: []string{"ord_dataset-a"}}, results.New())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSimplifiedFormat(t *testing.T) {
	site := newDBSite()
	site.dataset("ord_dataset-a", []string{"ord-a1"})
	o := newOrchestrator(&sessions{site: site}, &bytes.Buffer{})
	o.Config.Format = types.FormatSimplified
	agg := results.New()

	_, err := o.Run(context.Background(), types.SpecificMode{IDs: []string{"ord_dataset-a"}}, agg)
	require.NoError(t, err)
	a, _ := agg.Get("ord_dataset-a")
	require.Len(t, a.Records, 1)
	require.NotNil(t, a.Records[0].Simplified)
	assert.Nil(t, a.Records[0].Detailed)
	assert.Equal(t, "CCO", *a.Records[0].Simplified.Inputs[0].Components[0].Smiles)
}

// stubFetcher answers from a script, sleeping to shuffle completion order.
type stubFetcher struct {
	inFlight, peak atomic.Int32
	panicOn        string

	mu     sync.Mutex
	starts []time.Time
}

func (f *stubFetcher) Fetch(ctx context.Context, item types.ItemRef) types.RawRecord {
	f.mu.Lock()
	f.starts = append(f.starts, time.Now())
	f.mu.Unlock()
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if item.URL == f.panicOn {
		panic("bad item")
	}
	time.Sleep(time.Duration(len(item.URL)%3) * time.Millisecond)
	return types.RawRecord{URL: item.URL, Succeeded: true}
}

func items(n int) []types.ItemRef {
	out := make([]types.ItemRef, n)
	for i := range out {
		out[i] = types.ItemRef{URL: fmt.Sprintf("%s/id/ord-%s", dbBase, strings.Repeat("x", i+1))}
	}
	return out
}

func TestFetchAllKeepsOrder(t *testing.T) {
	o := newOrchestrator(nil, &bytes.Buffer{})
	o.Config.ItemConcurrency = 3
	f := &stubFetcher{}
	in := items(9)

	out := o.fetchAll(context.Background(), f, in)
	require.Len(t, out, 9)
	for i, raw := range out {
		require.NotNil(t, raw)
		assert.Equal(t, in[i].URL, raw.URL)
	}
	assert.LessOrEqual(t, f.peak.Load(), int32(3))
}

func TestFetchAllSequentialByDefault(t *testing.T) {
	o := newOrchestrator(nil, &bytes.Buffer{})
	o.Config.ItemConcurrency = 1
	f := &stubFetcher{}

	o.fetchAll(context.Background(), f, items(5))
	assert.Equal(t, int32(1), f.peak.Load())
}

func TestFetchAllSpacesStartsWhenParallel(t *testing.T) {
	o := newOrchestrator(nil, &bytes.Buffer{})
	o.Config.ItemConcurrency = 4
	o.Config.MinDelay, o.Config.MaxDelay = 30*time.Millisecond, 30*time.Millisecond
	f := &stubFetcher{}

	o.fetchAll(context.Background(), f, items(4))
	require.Len(t, f.starts, 4)
	for i := 1; i < len(f.starts); i++ {
		assert.GreaterOrEqual(t, f.starts[i].Sub(f.starts[i-1]), 25*time.Millisecond, "start %d", i)
	}
}

func TestFetchAllRecoversItemPanic(t *testing.T) {
	o := newOrchestrator(nil, &bytes.Buffer{})
	in := items(3)
	f := &stubFetcher{panicOn: in[1].URL}

	out := o.fetchAll(context.Background(), f, in)
	require.NotNil(t, out[1])
	assert.False(t, out[1].Succeeded)
	assert.Contains(t, out[1].Error, "panic: bad item")
	assert.True(t, out[2].Succeeded)
}

func TestFetchAllCancelled(t *testing.T) {
	o := newOrchestrator(nil, &bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := o.fetchAll(ctx, &stubFetcher{}, items(3))
	for _, raw := range out {
		assert.Nil(t, raw)
	}
}

func TestDelayWithinBounds(t *testing.T) {
	o := newOrchestrator(nil, &bytes.Buffer{})
	o.Config.MinDelay, o.Config.MaxDelay = 10*time.Millisecond, 20*time.Millisecond
	for range 100 {
		d := o.delay()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 20*time.Millisecond)
	}
	o.Config.MinDelay, o.Config.MaxDelay = 5*time.Millisecond, 5*time.Millisecond
	assert.Equal(t, 5*time.Millisecond, o.delay())
}

// archiveServer serves a small archive: one paper with two listing pages of
// reactions, each linking to its data file. Reaction 3 has an empty file.
func archiveServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/archive", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><ul>
			<li>Paper One <a href="/papers/1">reaction data</a></li>
			<li><a href="/about">About</a></li>
		</ul></body></html>`)
	})
	mux.HandleFunc("/papers/1", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start") == "2" {
			fmt.Fprint(w, `<html><body>
				<a class="btn btn-outline-info" id="title-3" href="/details/3">Details</a>
				<a href="/papers/1">Previous</a>
			</body></html>`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc"})
		fmt.Fprint(w, `<html><body>
			<a class="btn btn-outline-info" id="title-1" href="/details/1">Details</a>
			<a class="btn btn-outline-info" id="title-2" href="/details/2">Details</a>
			<a class="btn btn-outline-info" id="other" href="/details/9">Details</a>
			<a href="/papers/1?start=2">Next</a>
		</body></html>`)
	})
	mux.HandleFunc("/details/", func(w http.ResponseWriter, r *http.Request) {
		n := strings.TrimPrefix(r.URL.Path, "/details/")
		fmt.Fprintf(w, `<html><body><h1>Reaction %s</h1><a href="../data/%s.xml">XML</a></body></html>`, n, n)
	})
	mux.HandleFunc("/data/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/data/3.xml" {
			fmt.Fprint(w, `<reaction></reaction>`)
			return
		}
		fmt.Fprint(w, `<reaction>
			<reactionSmiles>CCO&gt;&gt;CC</reactionSmiles>
			<molecule><role>reactant</role><smiles>CCO</smiles><name>ethanol</name></molecule>
			<molecule><role>product</role><smiles>CC</smiles><name>ethane</name></molecule>
		</reaction>`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestRunArchiveOverHTTP(t *testing.T) {
	ts := archiveServer(t)
	cfg := testConfig()
	var buf bytes.Buffer
	o := &Orchestrator{
		Source:   NewArchiveSource(ts.URL),
		Sessions: NewHTTPSessions(cfg.HTTP, zerolog.Nop()),
		Config:   cfg,
		Logger:   zerolog.Nop(),
		Progress: &buf,
	}
	agg := results.New()

	run, err := o.Run(context.Background(), types.AllMode{}, agg)
	require.NoError(t, err)
	paper := ts.URL + "/papers/1"
	require.Equal(t, []string{paper}, run.Order)

	r, ok := agg.Get(paper)
	require.True(t, ok)
	assert.Equal(t, 3, r.TotalItemsAttempted)
	assert.Equal(t, 3, r.SuccessfulScrapes)
	assert.Equal(t, 1, r.Unparsed)
	assert.Equal(t, "end", r.StopReason)
	assert.Equal(t, []string{ts.URL + "/details/1", ts.URL + "/details/2"}, recordIDs(r))

	rec := r.Records[0].Detailed
	require.NotNil(t, rec)
	assert.Equal(t, "CCO>>CC", rec.ReactionSmiles)
	require.Len(t, rec.Outcomes, 1)
	assert.True(t, rec.Outcomes[0].IsDesiredProduct)
	assert.Contains(t, buf.String(), "[1/1] crawled: "+paper)
}

func TestNewSource(t *testing.T) {
	s, err := NewSource("archive", "")
	require.NoError(t, err)
	assert.Equal(t, ArchiveBaseURL+"/archive", s.DiscoveryURL())

	s, err = NewSource("", "http://local/")
	require.NoError(t, err)
	assert.Equal(t, SourceDatabase, s.Name())
	assert.Equal(t, "http://local/browse", s.DiscoveryURL())

	_, err = NewSource("pubchem", "")
	assert.ErrorContains(t, err, "unknown source")
}

func TestSourceCollectionRefs(t *testing.T) {
	db := NewDatabaseSource(dbBase)
	assert.Equal(t, dbBase+"/dataset/ord_dataset-1", db.ListingURL("ord_dataset-1"))
	assert.Equal(t, "ord_dataset-1", db.CollectionID(db.ListingURL("ord_dataset-1")))
	assert.Equal(t, dbBase+"/dataset/ord_dataset-2", db.ListingURL("/dataset/ord_dataset-2"))

	ar := NewArchiveSource("http://kmt.test")
	assert.Equal(t, "http://kmt.test/papers/7", ar.ListingURL("/papers/7"))
	assert.Equal(t, "http://other.test/p", ar.ListingURL("http://other.test/p"))
	assert.Equal(t, "http://kmt.test/papers/7", ar.CollectionID("http://kmt.test/papers/7"))
}

func TestHTTPSessionsSeedCookies(t *testing.T) {
	cfg := testConfig()
	f := NewHTTPSessions(cfg.HTTP, zerolog.Nop())
	f.Cookies = []*http.Cookie{{Name: "cf_clearance", Value: "ok", Path: "/"}}
	f.CookieURL = "http://kmt.test/"

	sess, err := f.NewSession(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	got := sess.HTTP.Cookies("http://kmt.test/archive")
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Value)
	assert.Empty(t, sess.HTTP.Cookies("http://elsewhere.test/"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.NewSession(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionCloseReleasesConnections(t *testing.T) {
	var closed atomic.Int32
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>reaction data</p></body></html>"))
	}))
	ts.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateClosed {
			closed.Add(1)
		}
	}
	ts.Start()
	defer ts.Close()

	sess, err := NewHTTPSessions(testConfig().HTTP, zerolog.Nop()).NewSession(context.Background())
	require.NoError(t, err)
	require.NoError(t, sess.Renderer.Navigate(context.Background(), ts.URL+"/archive"))
	_, err = sess.HTTP.Get(context.Background(), ts.URL+"/file.xml")
	require.NoError(t, err)

	require.NoError(t, sess.Close())
	assert.Eventually(t, func() bool { return closed.Load() == 2 }, 2*time.Second, 10*time.Millisecond,
		"renderer and download connections are both closed")
}
