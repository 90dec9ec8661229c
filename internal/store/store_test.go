// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/rxn-harvest/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "rxn.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(s string) *string { return &s }

func detailed(id string, smiles ...string) types.CanonicalRecord {
	var comps []types.Component
	for _, s := range smiles {
		comps = append(comps, types.Component{
			Identifiers:  []types.Identifier{{Type: "SMILES", Value: s}, {Type: "NAME", Value: "x"}},
			ReactionRole: "REACTANT",
		})
	}
	return types.CanonicalRecord{Detailed: &types.DetailedRecord{
		ReactionID: id,
		Success:    true,
		Inputs:     []types.InputGroup{{Category: "A", Components: comps}},
		Outcomes:   []types.Product{},
	}}
}

func sampleDoc() types.OutputDocument {
	return types.OutputDocument{
		SchemaVersion: types.SchemaVersion,
		RunID:         "run-1",
		Source:        "database",
		Format:        types.FormatDetailed,
		GeneratedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Order:         []string{"ds-a", "ds-b"},
		Collections: map[string]types.CollectionResult{
			"ds-a": {
				CollectionID: "ds-a", ListingURL: "http://db/dataset/ds-a",
				TotalItemsAttempted: 3, SuccessfulScrapes: 2, StopReason: "end",
				Records: []types.CanonicalRecord{detailed("ord-1", "CCO"), detailed("ord-2", "c1ccccc1", "O")},
			},
			"ds-b": {CollectionID: "ds-b", Error: "loading listing: timeout", Records: []types.CanonicalRecord{}},
		},
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	s := testStore(t)
	for _, table := range []string{"runs", "collections", "records"} {
		var count int
		err := s.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s", table)
	}
}

func TestSaveDocumentAndList(t *testing.T) {
	s := testStore(t)
	var buf strings.Builder

	sum, err := s.SaveDocument(context.Background(), sampleDoc(), &buf)
	require.NoError(t, err)
	assert.Equal(t, SaveSummary{Stored: 2, Records: 2}, sum)
	assert.Contains(t, buf.String(), "stored: 2 collections, 2 records")

	rows, err := s.ListCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ds-a", rows[0].ID)
	assert.Equal(t, "database", rows[0].Source)
	assert.Equal(t, 3, rows[0].Attempted)
	assert.Equal(t, 2, rows[0].Succeeded)
	assert.Equal(t, 2, rows[0].Records)
	assert.Equal(t, "end", rows[0].StopReason)
	assert.Equal(t, "loading listing: timeout", rows[1].Error)
	assert.False(t, rows[0].UpdatedAt.IsZero())
}

func TestSaveDocumentIdempotent(t *testing.T) {
	s := testStore(t)
	var buf strings.Builder
	doc := sampleDoc()

	_, err := s.SaveDocument(context.Background(), doc, &buf)
	require.NoError(t, err)
	_, err = s.SaveDocument(context.Background(), doc, &buf)
	require.NoError(t, err)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM records`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSaveDocumentReplacesCollection(t *testing.T) {
	s := testStore(t)
	var buf strings.Builder
	_, err := s.SaveDocument(context.Background(), sampleDoc(), &buf)
	require.NoError(t, err)

	retry := sampleDoc()
	retry.RunID = "run-2"
	retry.Order = []string{"ds-b"}
	retry.Collections = map[string]types.CollectionResult{
		"ds-b": {CollectionID: "ds-b", TotalItemsAttempted: 1, SuccessfulScrapes: 1,
			Records: []types.CanonicalRecord{detailed("ord-9", "N")}},
	}
	_, err = s.SaveDocument(context.Background(), retry, &buf)
	require.NoError(t, err)

	rows, err := s.ListCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "run-1", rows[0].RunID, "untouched collection keeps its run")
	assert.Equal(t, "run-2", rows[1].RunID)
	assert.Empty(t, rows[1].Error)
	assert.Equal(t, 1, rows[1].Records)
}

func TestSearch(t *testing.T) {
	s := testStore(t)
	var buf strings.Builder
	_, err := s.SaveDocument(context.Background(), sampleDoc(), &buf)
	require.NoError(t, err)

	tests := []struct {
		name string
		opts SearchOptions
		want []string
	}{
		{"smiles fragment", SearchOptions{Smiles: "c1cc"}, []string{"ord-2"}},
		{"shared fragment", SearchOptions{Smiles: "O"}, []string{"ord-1", "ord-2"}},
		{"collection only", SearchOptions{CollectionID: "ds-a"}, []string{"ord-1", "ord-2"}},
		{"no match", SearchOptions{Smiles: "Br"}, nil},
		{"limit", SearchOptions{CollectionID: "ds-a", MaxResults: 1}, []string{"ord-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.Search(context.Background(), tt.opts)
			require.NoError(t, err)
			var got []string
			for _, r := range rows {
				got = append(got, r.ReactionID)
				require.NotNil(t, r.Record.Detailed)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = s.Search(context.Background(), SearchOptions{})
	assert.Error(t, err)
}

func TestSmilesText(t *testing.T) {
	rec := detailed("r", "CCO", "CC")
	rec.Detailed.ReactionSmiles = "CCO>>CC"
	assert.Equal(t, "CCO>>CC CCO CC", smilesText(rec))

	simple := types.CanonicalRecord{Simplified: &types.SimplifiedRecord{
		Inputs:   []types.SimpleInput{{Tab: "A", Components: []types.SimpleComponent{{Smiles: ptr("N")}, {Smiles: nil}}}},
		Outcomes: []types.SimpleOutcome{{Smiles: ptr("O")}},
	}}
	assert.Equal(t, "N O", smilesText(simple))
	assert.Empty(t, smilesText(types.CanonicalRecord{}))
}
