// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package results gathers per-collection results into the output document
// and reads and writes that document.
package results

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/pdiddy/rxn-harvest/pkg/types"
)

// Aggregator collects CollectionResults as workers finish them. It is safe
// for concurrent use.
type Aggregator struct {
	mu    sync.Mutex
	byID  map[string]types.CollectionResult
	order []string
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{byID: make(map[string]types.CollectionResult)}
}

// Add records r. A later result for the same collection replaces the
// earlier one.
func (a *Aggregator) Add(r types.CollectionResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.byID[r.CollectionID]; !ok {
		a.order = append(a.order, r.CollectionID)
	}
	a.byID[r.CollectionID] = r
}

// Len returns the number of collections recorded.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byID)
}

// Get returns the result recorded for id.
func (a *Aggregator) Get(id string) (types.CollectionResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.byID[id]
	return r, ok
}

// Meta is the run-level information of a document.
type Meta struct {
	RunID       string
	Source      string
	Format      types.OutputFormat
	GeneratedAt time.Time

	// Order is the enumeration order of the run's collections.
	Order []string
}

// Document builds the output document. Its order lists the recorded
// collections of m.Order first, in that order, then any others in
// completion order.
func (a *Aggregator) Document(m Meta) types.OutputDocument {
	a.mu.Lock()
	defer a.mu.Unlock()

	doc := types.OutputDocument{
		SchemaVersion: types.SchemaVersion,
		RunID:         m.RunID,
		Source:        m.Source,
		Format:        m.Format,
		GeneratedAt:   m.GeneratedAt,
		Order:         make([]string, 0, len(a.byID)),
		Collections:   make(map[string]types.CollectionResult, len(a.byID)),
	}
	for _, id := range m.Order {
		if r, ok := a.byID[id]; ok && !slices.Contains(doc.Order, id) {
			doc.Order = append(doc.Order, id)
			doc.Collections[id] = r
		}
	}
	for _, id := range a.order {
		if _, ok := doc.Collections[id]; !ok {
			doc.Order = append(doc.Order, id)
			doc.Collections[id] = a.byID[id]
		}
	}
	return doc
}

// WriteFile writes doc as indented JSON to path through a temporary file,
// so an interrupted write never leaves a truncated document behind.
func WriteFile(path string, doc types.OutputDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling document: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmpFile, err := os.CreateTemp(dir, ".rxn-harvest-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, writeErr := tmpFile.Write(data)
	closeErr := tmpFile.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing document: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// ReadFile loads a document written by WriteFile.
func ReadFile(path string) (*types.OutputDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	var doc types.OutputDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing document %s: %w", path, err)
	}
	if doc.SchemaVersion != types.SchemaVersion {
		return nil, fmt.Errorf("document %s has schema version %d, want %d", path, doc.SchemaVersion, types.SchemaVersion)
	}
	if doc.Collections == nil {
		doc.Collections = map[string]types.CollectionResult{}
	}
	return &doc, nil
}

// Summary holds the counts of a document.
type Summary struct {
	Collections int
	Errored     int
	Attempted   int
	Succeeded   int
	Unparsed    int
	Records     int
}

// Failed returns the number of attempted items that did not fetch.
func (s Summary) Failed() int { return s.Attempted - s.Succeeded }

// Summarize counts doc.
func Summarize(doc types.OutputDocument) Summary {
	var s Summary
	for _, r := range doc.Collections {
		s.Collections++
		if r.Error != "" {
			s.Errored++
		}
		s.Attempted += r.TotalItemsAttempted
		s.Succeeded += r.SuccessfulScrapes
		s.Unparsed += r.Unparsed
		s.Records += len(r.Records)
	}
	return s
}

// FormatSummary writes one line per collection in document order, then the
// overall counts.
func FormatSummary(doc types.OutputDocument, w io.Writer) {
	for _, id := range doc.Order {
		r := doc.Collections[id]
		fmt.Fprintf(w, "%-60s  %4d/%-4d", truncate(id, 60), r.SuccessfulScrapes, r.TotalItemsAttempted)
		if r.StopReason != "" {
			fmt.Fprintf(w, "  stop=%s", r.StopReason)
		}
		if r.Error != "" {
			fmt.Fprintf(w, "  error: %s", r.Error)
		}
		fmt.Fprintln(w)
	}
	s := Summarize(doc)
	fmt.Fprintf(w, "\nDocument summary: %d collections (%d errored), %d items scraped, %d failed, %d unparsed (total: %d)\n",
		s.Collections, s.Errored, s.Succeeded, s.Failed(), s.Unparsed, s.Attempted)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-(max-3):]
}
