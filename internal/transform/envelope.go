// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package transform

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoData is returned by ParseEnvelope when the payload has no "data" root.
var ErrNoData = errors.New("payload has no data field")

// Envelope is the database payload as stored by the fetcher: the record JSON
// under "data", plus fetch-level fields.
type Envelope struct {
	ReactionID string    `json:"reaction_id"`
	Success    *bool     `json:"success"`
	Data       *Reaction `json:"data"`
}

// Reaction is the subset of a database reaction record that the canonical
// schemas use.
type Reaction struct {
	ReactionID   string       `json:"reactionId"`
	InputsMap    []InputEntry `json:"inputsMap"`
	OutcomesList []Outcome    `json:"outcomesList"`
}

// InputEntry is one [category, input] pair of a reaction's inputs map.
type InputEntry struct {
	Category string
	Input    Input
}

func (e *InputEntry) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("inputs map entry: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("inputs map entry: want [key, value], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.Category); err != nil {
		return fmt.Errorf("inputs map key: %w", err)
	}
	if err := json.Unmarshal(pair[1], &e.Input); err != nil {
		return fmt.Errorf("inputs map value %q: %w", e.Category, err)
	}
	return nil
}

// Input is one reaction input category.
type Input struct {
	ComponentsList []Compound `json:"componentsList"`
}

// Compound is one input component.
type Compound struct {
	IdentifiersList []RawIdentifier `json:"identifiersList"`
	Amount          *RawAmount      `json:"amount"`
	ReactionRole    *int            `json:"reactionRole"`
}

// RawIdentifier is a coded identifier.
type RawIdentifier struct {
	Type  int    `json:"type"`
	Value string `json:"value"`
}

// RawQuantity is a value with a coded unit.
type RawQuantity struct {
	Value *float64 `json:"value"`
	Units int      `json:"units"`
}

// RawAmount holds whichever quantity kinds the record carries.
type RawAmount struct {
	Moles  *RawQuantity `json:"moles"`
	Volume *RawQuantity `json:"volume"`
	Mass   *RawQuantity `json:"mass"`
}

// Outcome is one reaction outcome.
type Outcome struct {
	ProductsList []RawProduct `json:"productsList"`
}

// RawProduct is one outcome product.
type RawProduct struct {
	IdentifiersList  []RawIdentifier  `json:"identifiersList"`
	IsDesiredProduct bool             `json:"isDesiredProduct"`
	MeasurementsList []RawMeasurement `json:"measurementsList"`
}

// RawMeasurement is one product measurement.
type RawMeasurement struct {
	Type    int        `json:"type"`
	Details string     `json:"details"`
	Amount  *RawAmount `json:"amount"`
}

// ParseEnvelope decodes a database payload. Any shape mismatch is an error;
// a missing "data" root is ErrNoData.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding reaction payload: %w", err)
	}
	if env.Data == nil {
		return nil, ErrNoData
	}
	return &env, nil
}

// id returns the record id, falling back to the id the fetcher recorded.
func (e *Envelope) id() string {
	if e.Data.ReactionID != "" {
		return e.Data.ReactionID
	}
	return e.ReactionID
}

// success mirrors the fetch-level flag, defaulting to true.
func (e *Envelope) success() bool {
	if e.Success == nil {
		return true
	}
	return *e.Success
}
