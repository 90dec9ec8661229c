// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store mirrors output documents into a SQLite database so runs can
// be listed and records searched by SMILES without reading the JSON files.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/rxn-harvest/pkg/types"
)

const defaultMaxResults = 20

// Store manages the result database.
type Store struct {
	db         *sql.DB
	maxResults int
}

// Open opens or creates the database at path and its schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, maxResults: defaultMaxResults}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			format TEXT NOT NULL,
			generated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS collections (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			listing_url TEXT,
			attempted INTEGER NOT NULL,
			succeeded INTEGER NOT NULL,
			unparsed INTEGER NOT NULL,
			stop_reason TEXT,
			error TEXT,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			reaction_id TEXT NOT NULL,
			smiles TEXT NOT NULL,
			body TEXT NOT NULL,
			UNIQUE(collection_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_records_reaction ON records(reaction_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// SaveSummary holds counts from one SaveDocument call.
type SaveSummary struct {
	Stored  int
	Records int
	Failed  int
}

// SaveDocument writes every collection of doc. A collection already stored
// is replaced together with its records, so saving the same document twice
// leaves the database unchanged. Each collection is written in its own
// transaction; a failing collection is reported and the rest still saved.
func (s *Store) SaveDocument(ctx context.Context, doc types.OutputDocument, w io.Writer) (SaveSummary, error) {
	var summary SaveSummary
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, source, format, generated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			source=excluded.source, format=excluded.format, generated_at=excluded.generated_at`,
		doc.RunID, doc.Source, string(doc.Format), doc.GeneratedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return summary, fmt.Errorf("upserting run: %w", err)
	}

	for _, id := range doc.Order {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		r, ok := doc.Collections[id]
		if !ok {
			continue
		}
		if err := s.saveCollection(ctx, doc.RunID, r); err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", id, err)
			summary.Failed++
			continue
		}
		summary.Stored++
		summary.Records += len(r.Records)
	}
	fmt.Fprintf(w, "stored: %d collections, %d records, failed: %d\n",
		summary.Stored, summary.Records, summary.Failed)
	return summary, nil
}

func (s *Store) saveCollection(ctx context.Context, runID string, r types.CollectionResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO collections (id, run_id, listing_url, attempted, succeeded, unparsed, stop_reason, error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			run_id=excluded.run_id, listing_url=excluded.listing_url,
			attempted=excluded.attempted, succeeded=excluded.succeeded, unparsed=excluded.unparsed,
			stop_reason=excluded.stop_reason, error=excluded.error, updated_at=excluded.updated_at`,
		r.CollectionID, runID, r.ListingURL, r.TotalItemsAttempted, r.SuccessfulScrapes,
		r.Unparsed, r.StopReason, r.Error, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting collection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection_id = ?`, r.CollectionID); err != nil {
		return fmt.Errorf("deleting old records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (collection_id, position, reaction_id, smiles, body) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range r.Records {
		body, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding record %s: %w", rec.ID(), err)
		}
		if _, err := stmt.ExecContext(ctx, r.CollectionID, i, rec.ID(), smilesText(rec), string(body)); err != nil {
			return fmt.Errorf("inserting record %s: %w", rec.ID(), err)
		}
	}
	return tx.Commit()
}

// smilesText joins every SMILES string of rec, space separated, for
// substring search.
func smilesText(rec types.CanonicalRecord) string {
	var parts []string
	switch {
	case rec.Detailed != nil:
		d := rec.Detailed
		if d.ReactionSmiles != "" {
			parts = append(parts, d.ReactionSmiles)
		}
		for _, g := range d.Inputs {
			for _, c := range g.Components {
				parts = appendSmiles(parts, c.Identifiers)
			}
		}
		for _, p := range d.Outcomes {
			parts = appendSmiles(parts, p.Identifiers)
		}
	case rec.Simplified != nil:
		for _, in := range rec.Simplified.Inputs {
			for _, c := range in.Components {
				if c.Smiles != nil {
					parts = append(parts, *c.Smiles)
				}
			}
		}
		for _, o := range rec.Simplified.Outcomes {
			if o.Smiles != nil {
				parts = append(parts, *o.Smiles)
			}
		}
	}
	return strings.Join(parts, " ")
}

func appendSmiles(parts []string, ids []types.Identifier) []string {
	for _, id := range ids {
		if id.Type == "SMILES" && id.Value != "" {
			parts = append(parts, id.Value)
		}
	}
	return parts
}

// CollectionRow is the stored summary of one collection.
type CollectionRow struct {
	ID         string    `json:"id" yaml:"id"`
	RunID      string    `json:"run_id" yaml:"run_id"`
	Source     string    `json:"source" yaml:"source"`
	ListingURL string    `json:"listing_url" yaml:"listing_url"`
	Attempted  int       `json:"attempted" yaml:"attempted"`
	Succeeded  int       `json:"succeeded" yaml:"succeeded"`
	Unparsed   int       `json:"unparsed" yaml:"unparsed"`
	Records    int       `json:"records" yaml:"records"`
	StopReason string    `json:"stop_reason,omitempty" yaml:"stop_reason,omitempty"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at"`
}

// ListCollections returns every stored collection ordered by id.
func (s *Store) ListCollections(ctx context.Context) ([]CollectionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.run_id, r.source, c.listing_url, c.attempted, c.succeeded, c.unparsed,
			c.stop_reason, c.error, c.updated_at,
			(SELECT count(*) FROM records rec WHERE rec.collection_id = c.id)
		 FROM collections c
		 LEFT JOIN runs r ON r.run_id = c.run_id
		 ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var out []CollectionRow
	for rows.Next() {
		var (
			row                           CollectionRow
			source, listing, stop, errMsg sql.NullString
			updated                       string
		)
		if err := rows.Scan(&row.ID, &row.RunID, &source, &listing, &row.Attempted, &row.Succeeded,
			&row.Unparsed, &stop, &errMsg, &updated, &row.Records); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row.Source, row.ListingURL = source.String, listing.String
		row.StopReason, row.Error = stop.String, errMsg.String
		row.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, row)
	}
	return out, rows.Err()
}

// SearchOptions holds parameters for record searches.
type SearchOptions struct {
	// Smiles matches records containing this substring in any SMILES.
	Smiles string

	// CollectionID restricts the search to one collection.
	CollectionID string

	// MaxResults limits result count. Zero uses the store default.
	MaxResults int
}

// IsEmpty reports whether the search has no terms or filters.
func (o SearchOptions) IsEmpty() bool {
	return o.Smiles == "" && o.CollectionID == ""
}

// RecordRow is one stored record.
type RecordRow struct {
	CollectionID string
	Position     int
	ReactionID   string
	Record       types.CanonicalRecord
}

// Search returns stored records matching opts, ordered by collection and
// position.
func (s *Store) Search(ctx context.Context, opts SearchOptions) ([]RecordRow, error) {
	if opts.IsEmpty() {
		return nil, fmt.Errorf("search needs a SMILES fragment or a collection id")
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.maxResults
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT collection_id, position, reaction_id, body FROM records WHERE 1=1`)
	if opts.Smiles != "" {
		qb.WriteString(` AND instr(smiles, ?) > 0`)
		args = append(args, opts.Smiles)
	}
	if opts.CollectionID != "" {
		qb.WriteString(` AND collection_id = ?`)
		args = append(args, opts.CollectionID)
	}
	qb.WriteString(` ORDER BY collection_id, position LIMIT ?`)
	args = append(args, maxResults)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("searching records: %w", err)
	}
	defer rows.Close()

	var out []RecordRow
	for rows.Next() {
		var (
			row  RecordRow
			body string
		)
		if err := rows.Scan(&row.CollectionID, &row.Position, &row.ReactionID, &body); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &row.Record); err != nil {
			return nil, fmt.Errorf("decoding record %s: %w", row.ReactionID, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
