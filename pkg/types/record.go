// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the rxn-harvest pipeline:
// collection and item references, raw and canonical reaction records, the
// per-collection result, the persisted output document, and configuration.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// CollectionRef identifies one top-level scrape target (a paper in the
// archive, a dataset in the database).
type CollectionRef struct {
	// ID is the collection identifier used as the output document key.
	ID string `json:"id" yaml:"id"`

	// ListingURL is the first page of the collection's item listing.
	ListingURL string `json:"listing_url" yaml:"listing_url"`
}

// ItemRef is one fetchable detail page or record within a collection.
type ItemRef struct {
	URL string `json:"url" yaml:"url"`
}

// PayloadKind tags the variant held by a RawRecord.
type PayloadKind int

const (
	PayloadNone PayloadKind = iota
	PayloadArchive
	PayloadDatabase
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadArchive:
		return "archive"
	case PayloadDatabase:
		return "database"
	default:
		return "none"
	}
}

// Molecule is one molecule block of an archive payload.
type Molecule struct {
	Role   string `json:"role"`
	Smiles string `json:"smiles"`
	Name   string `json:"name"`
}

// ArchivePayload is the parsed tag-delimited data file behind an archive
// detail page.
type ArchivePayload struct {
	ReactionSmiles string
	Molecules      []Molecule
}

// RawRecord is the unprocessed payload fetched for one ItemRef. Exactly one
// of Archive or Database is meaningful, selected by Kind. A record with
// Succeeded false carries no payload.
type RawRecord struct {
	URL       string
	Kind      PayloadKind
	Archive   *ArchivePayload
	Database  json.RawMessage
	Succeeded bool
	Error     string
	Attempts  int
}

// OutputFormat selects which canonical schema a run produces.
type OutputFormat string

const (
	FormatDetailed   OutputFormat = "detailed"
	FormatSimplified OutputFormat = "simplified"
)

// ParseOutputFormat validates a format name.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case FormatDetailed, "":
		return FormatDetailed, nil
	case FormatSimplified:
		return FormatSimplified, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want detailed or simplified)", s)
	}
}

// Identifier is a typed molecule identifier such as a SMILES string.
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Quantity is a measured value with its unit name.
type Quantity struct {
	Value *float64 `json:"value"`
	Units string   `json:"units"`
}

// Amount is the optional amount of a detailed component. At most one
// quantity kind is held; the zero value encodes as {}.
type Amount struct {
	Kind     string
	Quantity Quantity
}

// IsZero reports whether no quantity kind is set.
func (a Amount) IsZero() bool { return a.Kind == "" }

func (a Amount) MarshalJSON() ([]byte, error) {
	if a.IsZero() {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]Quantity{a.Kind: a.Quantity})
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var m map[string]Quantity
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*a = Amount{}
	for k, q := range m {
		a.Kind, a.Quantity = k, q
		break
	}
	return nil
}

// Component is one input component of a detailed record.
type Component struct {
	Identifiers  []Identifier `json:"identifiers"`
	Amount       Amount       `json:"amount"`
	ReactionRole string       `json:"reaction_role"`
}

// InputGroup is one named input category. It encodes as the two-element
// array [category, {"components": [...]}].
type InputGroup struct {
	Category   string
	Components []Component
}

type inputGroupBody struct {
	Components []Component `json:"components"`
}

func (g InputGroup) MarshalJSON() ([]byte, error) {
	comps := g.Components
	if comps == nil {
		comps = []Component{}
	}
	return json.Marshal([]any{g.Category, inputGroupBody{Components: comps}})
}

func (g *InputGroup) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("input group: want 2 elements, got %d", len(pair))
	}
	var body inputGroupBody
	if err := json.Unmarshal(pair[0], &g.Category); err != nil {
		return fmt.Errorf("input group category: %w", err)
	}
	if err := json.Unmarshal(pair[1], &body); err != nil {
		return fmt.Errorf("input group body: %w", err)
	}
	g.Components = body.Components
	return nil
}

// Measurement is one product measurement. Mass is set only when the raw
// measurement carried a mass amount.
type Measurement struct {
	Type    int       `json:"type"`
	Details string    `json:"details"`
	Mass    *Quantity `json:"mass,omitempty"`
}

// Product is one outcome entry of a detailed record.
type Product struct {
	Identifiers      []Identifier  `json:"identifiers"`
	ReactionRole     string        `json:"reaction_role"`
	IsDesiredProduct bool          `json:"is_desired_product"`
	Measurements     []Measurement `json:"measurements"`
}

// DetailedRecord is the full canonical reaction schema.
type DetailedRecord struct {
	ReactionID     string       `json:"reaction_id"`
	Success        bool         `json:"success"`
	ReactionSmiles string       `json:"reaction_smiles,omitempty"`
	Inputs         []InputGroup `json:"inputs"`
	Outcomes       []Product    `json:"outcomes"`
}

// SimpleAmount is the amount of a simplified component; the zero value
// encodes as {}.
type SimpleAmount struct {
	Type  string   `json:"type,omitempty"`
	Value *float64 `json:"value,omitempty"`
	Units string   `json:"units,omitempty"`
}

// SimpleComponent is one input component of a simplified record.
type SimpleComponent struct {
	Smiles *string      `json:"smiles"`
	Role   string       `json:"role"`
	Amount SimpleAmount `json:"amount"`
}

// SimpleInput is one named input category of a simplified record.
type SimpleInput struct {
	Tab        string            `json:"tab"`
	Components []SimpleComponent `json:"components"`
}

// SimpleOutcome is one product of a simplified record.
type SimpleOutcome struct {
	Smiles    *string `json:"smiles"`
	IsDesired bool    `json:"is_desired"`
}

// SimplifiedRecord is the SMILES-only canonical reaction schema.
type SimplifiedRecord struct {
	ReactionID string          `json:"reaction_id"`
	Inputs     []SimpleInput   `json:"inputs"`
	Outcomes   []SimpleOutcome `json:"outcomes"`
}

// CanonicalRecord holds exactly one of the two canonical schemas.
type CanonicalRecord struct {
	Detailed   *DetailedRecord
	Simplified *SimplifiedRecord
}

// ID returns the reaction id of whichever variant is held.
func (r CanonicalRecord) ID() string {
	switch {
	case r.Detailed != nil:
		return r.Detailed.ReactionID
	case r.Simplified != nil:
		return r.Simplified.ReactionID
	default:
		return ""
	}
}

func (r CanonicalRecord) MarshalJSON() ([]byte, error) {
	switch {
	case r.Detailed != nil:
		return json.Marshal(r.Detailed)
	case r.Simplified != nil:
		return json.Marshal(r.Simplified)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON detects the variant: detailed records always carry a
// "success" field, simplified records never do.
func (r *CanonicalRecord) UnmarshalJSON(b []byte) error {
	*r = CanonicalRecord{}
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if _, ok := probe["success"]; ok {
		r.Detailed = &DetailedRecord{}
		return json.Unmarshal(b, r.Detailed)
	}
	r.Simplified = &SimplifiedRecord{}
	return json.Unmarshal(b, r.Simplified)
}

// CollectionResult is the outcome of crawling one collection.
type CollectionResult struct {
	CollectionID        string            `json:"collection_id"`
	ListingURL          string            `json:"listing_url,omitempty"`
	TotalItemsAttempted int               `json:"total_items_attempted"`
	SuccessfulScrapes   int               `json:"successful_scrapes"`
	Unparsed            int               `json:"unparsed,omitempty"`
	StopReason          string            `json:"stop_reason,omitempty"`
	Error               string            `json:"error,omitempty"`
	Records             []CanonicalRecord `json:"records"`
}

// Failed returns the number of attempted items whose fetch did not succeed.
func (r CollectionResult) Failed() int {
	return r.TotalItemsAttempted - r.SuccessfulScrapes
}

// SchemaVersion is the version of the OutputDocument layout.
const SchemaVersion = 1

// OutputDocument is the unit persisted at the end of a run.
type OutputDocument struct {
	SchemaVersion int                         `json:"schema_version"`
	RunID         string                      `json:"run_id"`
	Source        string                      `json:"source"`
	Format        OutputFormat                `json:"format"`
	GeneratedAt   time.Time                   `json:"generated_at"`
	Order         []string                    `json:"order"`
	Collections   map[string]CollectionResult `json:"collections"`
}
