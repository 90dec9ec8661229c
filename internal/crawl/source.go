// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package crawl

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pdiddy/rxn-harvest/internal/extract"
	"github.com/pdiddy/rxn-harvest/internal/fetch"
	"github.com/pdiddy/rxn-harvest/internal/render"
	"github.com/pdiddy/rxn-harvest/pkg/types"
)

// Default site roots.
const (
	ArchiveBaseURL  = "https://kmt.vander-lingen.nl"
	DatabaseBaseURL = "https://open-reaction-database.org"
)

// Source names.
const (
	SourceArchive  = "archive"
	SourceDatabase = "database"
)

// Source describes one site: where its collections are listed, how a
// collection's items are listed, and how an item is fetched.
type Source interface {
	Name() string

	// DiscoveryURL is the first page of the top-level collection listing.
	DiscoveryURL() string
	DiscoveryRules() extract.Rules

	// CollectionID derives a collection id from its listing URL.
	CollectionID(listingURL string) string

	// ListingURL is the first item listing page of collection id.
	ListingURL(id string) string
	ItemRules() extract.Rules

	// Fetcher builds the item fetcher for one session.
	Fetcher(s *Session, cfg types.FetchConfig, logger zerolog.Logger) fetch.Fetcher
}

// NewSource returns the built-in source called name. An empty baseURL
// selects the public site.
func NewSource(name, baseURL string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case SourceArchive:
		return NewArchiveSource(baseURL), nil
	case SourceDatabase, "":
		return NewDatabaseSource(baseURL), nil
	default:
		return nil, fmt.Errorf("unknown source %q (want archive or database)", name)
	}
}

// ArchiveSource crawls the reaction archive: papers are collections, and
// each paper lists its reactions behind "Details" buttons.
type ArchiveSource struct {
	base string
}

// NewArchiveSource returns the archive source rooted at base.
func NewArchiveSource(base string) *ArchiveSource {
	if base == "" {
		base = ArchiveBaseURL
	}
	return &ArchiveSource{base: strings.TrimRight(base, "/")}
}

func (s *ArchiveSource) Name() string         { return SourceArchive }
func (s *ArchiveSource) DiscoveryURL() string { return s.base + "/archive" }

func (s *ArchiveSource) DiscoveryRules() extract.Rules {
	return extract.Rules{
		Marker: render.Tag("body"),
		Detail: extract.LinkRule{Selector: render.PartialText("reaction data")},
	}
}

// CollectionID is the paper URL itself.
func (s *ArchiveSource) CollectionID(listingURL string) string { return listingURL }

func (s *ArchiveSource) ListingURL(id string) string { return resolve(s.base, id) }

func (s *ArchiveSource) ItemRules() extract.Rules {
	return extract.Rules{
		Marker: render.Tag("body"),
		Detail: extract.LinkRule{
			Selector: render.CSS("a.btn.btn-outline-info[id^='title-']"),
			Text:     "Details",
		},
		Next: extract.NextRule{
			Selector:     render.Tag("a"),
			Texts:        []string{"Next", ">"},
			HrefContains: "start",
		},
	}
}

func (s *ArchiveSource) Fetcher(sess *Session, cfg types.FetchConfig, logger zerolog.Logger) fetch.Fetcher {
	return &fetch.ArchiveFetcher{Client: sess.HTTP, Policy: cfg.Retry, Logger: logger}
}

// DatabaseSource crawls the reaction database: datasets are collections and
// each record page reveals its JSON behind a "View Full Record" control.
type DatabaseSource struct {
	base string
}

// NewDatabaseSource returns the database source rooted at base.
func NewDatabaseSource(base string) *DatabaseSource {
	if base == "" {
		base = DatabaseBaseURL
	}
	return &DatabaseSource{base: strings.TrimRight(base, "/")}
}

var entriesPattern = regexp.MustCompile(`of (\d[\d,]*) entries`)

func (s *DatabaseSource) Name() string         { return SourceDatabase }
func (s *DatabaseSource) DiscoveryURL() string { return s.base + "/browse" }

func (s *DatabaseSource) DiscoveryRules() extract.Rules {
	datasets := render.CSS("a[href*='/dataset/ord_dataset-']")
	return extract.Rules{
		Marker: datasets,
		Detail: extract.LinkRule{Selector: datasets},
		Next: extract.NextRule{
			Selector:      render.CSS("div.next.paginav"),
			DisabledClass: "no-click",
		},
		Count: &extract.CountRule{
			Selector: render.CSS("div.pagination div.select"),
			Pattern:  entriesPattern,
		},
	}
}

// CollectionID is the dataset id, the last segment of the listing URL.
func (s *DatabaseSource) CollectionID(listingURL string) string {
	return fetch.RecordID(listingURL)
}

func (s *DatabaseSource) ListingURL(id string) string {
	if strings.Contains(id, "/") {
		return resolve(s.base, id)
	}
	return s.base + "/dataset/" + url.PathEscape(id)
}

func (s *DatabaseSource) ItemRules() extract.Rules {
	records := render.CSS("a[href*='/id/ord-']")
	return extract.Rules{
		Marker: records,
		Detail: extract.LinkRule{Selector: records, HrefContains: "/id/ord-"},
		Next: extract.NextRule{
			Selector:      render.CSS("div.next.paginav"),
			DisabledClass: "no-click",
		},
		Count: &extract.CountRule{
			Selector: render.CSS("div.pagination div.select"),
			Pattern:  entriesPattern,
		},
	}
}

func (s *DatabaseSource) Fetcher(sess *Session, cfg types.FetchConfig, logger zerolog.Logger) fetch.Fetcher {
	return &fetch.DatabaseFetcher{
		Renderer:     sess.Renderer,
		Policy:       cfg.Retry,
		ReadyTimeout: cfg.ReadyTimeout,
		MarkerWait:   cfg.MarkerWait,
		Logger:       logger,
	}
}

// resolve makes ref absolute against base. Absolute refs are returned as is.
func resolve(base, ref string) string {
	b, err := url.Parse(base + "/")
	if err != nil {
		return ref
	}
	if out := render.ResolveURL(b, ref); out != "" {
		return out
	}
	return ref
}
