// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package transform converts raw reaction payloads into the canonical
// detailed or simplified schema. Every function here is pure: it performs
// no I/O and returns nil for payloads that lack their expected root.
package transform

import (
	"strings"

	"github.com/pdiddy/rxn-harvest/internal/fieldmap"
	"github.com/pdiddy/rxn-harvest/pkg/types"
)

// Transform converts raw into the schema selected by format.
func Transform(format types.OutputFormat, raw types.RawRecord) *types.CanonicalRecord {
	if format == types.FormatSimplified {
		return ToSimplified(raw)
	}
	return ToDetailed(raw)
}

// ToDetailed converts raw into the detailed schema.
func ToDetailed(raw types.RawRecord) *types.CanonicalRecord {
	if !raw.Succeeded {
		return nil
	}
	var rec *types.DetailedRecord
	switch raw.Kind {
	case types.PayloadDatabase:
		env, err := ParseEnvelope(raw.Database)
		if err != nil {
			return nil
		}
		rec = detailedFromReaction(env)
	case types.PayloadArchive:
		rec = detailedFromArchive(raw.URL, raw.Archive)
	}
	if rec == nil {
		return nil
	}
	return &types.CanonicalRecord{Detailed: rec}
}

// ToSimplified converts raw into the simplified schema.
func ToSimplified(raw types.RawRecord) *types.CanonicalRecord {
	if !raw.Succeeded {
		return nil
	}
	var rec *types.SimplifiedRecord
	switch raw.Kind {
	case types.PayloadDatabase:
		env, err := ParseEnvelope(raw.Database)
		if err != nil {
			return nil
		}
		rec = simplifiedFromReaction(env)
	case types.PayloadArchive:
		rec = simplifiedFromArchive(raw.URL, raw.Archive)
	}
	if rec == nil {
		return nil
	}
	return &types.CanonicalRecord{Simplified: rec}
}

func detailedFromReaction(env *Envelope) *types.DetailedRecord {
	rec := &types.DetailedRecord{
		ReactionID: env.id(),
		Success:    env.success(),
		Inputs:     []types.InputGroup{},
		Outcomes:   []types.Product{},
	}

	for _, entry := range env.Data.InputsMap {
		group := types.InputGroup{Category: entry.Category, Components: []types.Component{}}
		for _, c := range entry.Input.ComponentsList {
			group.Components = append(group.Components, types.Component{
				Identifiers:  identifiers(c.IdentifiersList),
				Amount:       firstAmount(c.Amount),
				ReactionRole: roleName(c.ReactionRole),
			})
		}
		rec.Inputs = append(rec.Inputs, group)
	}

	for _, outcome := range env.Data.OutcomesList {
		for _, p := range outcome.ProductsList {
			measurements := []types.Measurement{}
			for _, m := range p.MeasurementsList {
				meas := types.Measurement{Type: m.Type, Details: m.Details}
				if m.Amount != nil && m.Amount.Mass != nil {
					q := quantity(fieldmap.KindMass, m.Amount.Mass)
					meas.Mass = &q
				}
				measurements = append(measurements, meas)
			}
			rec.Outcomes = append(rec.Outcomes, types.Product{
				Identifiers:      identifiers(p.IdentifiersList),
				ReactionRole:     fieldmap.Product,
				IsDesiredProduct: p.IsDesiredProduct,
				Measurements:     measurements,
			})
		}
	}
	return rec
}

func simplifiedFromReaction(env *Envelope) *types.SimplifiedRecord {
	rec := &types.SimplifiedRecord{
		ReactionID: env.id(),
		Inputs:     []types.SimpleInput{},
		Outcomes:   []types.SimpleOutcome{},
	}

	for _, entry := range env.Data.InputsMap {
		in := types.SimpleInput{Tab: entry.Category, Components: []types.SimpleComponent{}}
		for _, c := range entry.Input.ComponentsList {
			in.Components = append(in.Components, types.SimpleComponent{
				Smiles: smiles(c.IdentifiersList),
				Role:   roleName(c.ReactionRole),
				Amount: simpleAmount(c.Amount),
			})
		}
		rec.Inputs = append(rec.Inputs, in)
	}

	for _, outcome := range env.Data.OutcomesList {
		for _, p := range outcome.ProductsList {
			rec.Outcomes = append(rec.Outcomes, types.SimpleOutcome{
				Smiles:    smiles(p.IdentifiersList),
				IsDesired: p.IsDesiredProduct,
			})
		}
	}
	return rec
}

func roleName(code *int) string {
	if code == nil {
		return fieldmap.Unknown
	}
	return fieldmap.RoleName(*code)
}

func identifiers(raw []RawIdentifier) []types.Identifier {
	ids := make([]types.Identifier, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, types.Identifier{
			Type:  fieldmap.IdentifierTypeName(id.Type),
			Value: id.Value,
		})
	}
	return ids
}

// smiles returns the value of the first SMILES identifier, or nil.
func smiles(raw []RawIdentifier) *string {
	for _, id := range raw {
		if id.Type == fieldmap.SMILESCode {
			v := id.Value
			return &v
		}
	}
	return nil
}

func quantity(kind string, q *RawQuantity) types.Quantity {
	return types.Quantity{Value: q.Value, Units: fieldmap.UnitName(kind, q.Units)}
}

// firstAmount keeps only the first quantity kind present, checked in the
// order moles, volume, mass.
func firstAmount(a *RawAmount) types.Amount {
	if a == nil {
		return types.Amount{}
	}
	switch {
	case a.Moles != nil:
		return types.Amount{Kind: fieldmap.KindMoles, Quantity: quantity(fieldmap.KindMoles, a.Moles)}
	case a.Volume != nil:
		return types.Amount{Kind: fieldmap.KindVolume, Quantity: quantity(fieldmap.KindVolume, a.Volume)}
	case a.Mass != nil:
		return types.Amount{Kind: fieldmap.KindMass, Quantity: quantity(fieldmap.KindMass, a.Mass)}
	}
	return types.Amount{}
}

// simpleAmount checks moles then volume; mass is not surfaced. Moles carry
// no units and volumes are always reported in liters, whatever unit code the
// record holds.
func simpleAmount(a *RawAmount) types.SimpleAmount {
	if a == nil {
		return types.SimpleAmount{}
	}
	switch {
	case a.Moles != nil:
		return types.SimpleAmount{Type: fieldmap.KindMoles, Value: a.Moles.Value}
	case a.Volume != nil:
		return types.SimpleAmount{Type: fieldmap.KindVolume, Value: a.Volume.Value, Units: simpleVolumeUnits}
	}
	return types.SimpleAmount{}
}

const simpleVolumeUnits = "LITER"

// Archive payloads carry molecules tagged with a free-text role. Product
// roles become outcomes; everything else is grouped into input categories
// named after the role tag, in first-seen order.

func archiveEmpty(p *types.ArchivePayload) bool {
	return p == nil || (strings.TrimSpace(p.ReactionSmiles) == "" && len(p.Molecules) == 0)
}

func archiveCategory(m types.Molecule) string {
	if tag := strings.ToLower(strings.TrimSpace(m.Role)); tag != "" {
		return tag
	}
	return "unspecified"
}

func archiveIdentifiers(m types.Molecule) []types.Identifier {
	ids := []types.Identifier{}
	if m.Smiles != "" {
		ids = append(ids, types.Identifier{Type: fieldmap.IdentifierTypeName(fieldmap.SMILESCode), Value: m.Smiles})
	}
	if m.Name != "" {
		ids = append(ids, types.Identifier{Type: "NAME", Value: m.Name})
	}
	return ids
}

func detailedFromArchive(url string, p *types.ArchivePayload) *types.DetailedRecord {
	if archiveEmpty(p) {
		return nil
	}
	rec := &types.DetailedRecord{
		ReactionID:     url,
		Success:        true,
		ReactionSmiles: p.ReactionSmiles,
		Inputs:         []types.InputGroup{},
		Outcomes:       []types.Product{},
	}
	index := map[string]int{}
	for _, m := range p.Molecules {
		role := fieldmap.RoleFromTag(m.Role)
		if fieldmap.IsProductRole(role) {
			rec.Outcomes = append(rec.Outcomes, types.Product{
				Identifiers:      archiveIdentifiers(m),
				ReactionRole:     fieldmap.Product,
				IsDesiredProduct: role == fieldmap.Product,
				Measurements:     []types.Measurement{},
			})
			continue
		}
		cat := archiveCategory(m)
		i, ok := index[cat]
		if !ok {
			i = len(rec.Inputs)
			index[cat] = i
			rec.Inputs = append(rec.Inputs, types.InputGroup{Category: cat})
		}
		rec.Inputs[i].Components = append(rec.Inputs[i].Components, types.Component{
			Identifiers:  archiveIdentifiers(m),
			ReactionRole: role,
		})
	}
	return rec
}

func simplifiedFromArchive(url string, p *types.ArchivePayload) *types.SimplifiedRecord {
	if archiveEmpty(p) {
		return nil
	}
	rec := &types.SimplifiedRecord{
		ReactionID: url,
		Inputs:     []types.SimpleInput{},
		Outcomes:   []types.SimpleOutcome{},
	}
	index := map[string]int{}
	for _, m := range p.Molecules {
		var smi *string
		if m.Smiles != "" {
			v := m.Smiles
			smi = &v
		}
		role := fieldmap.RoleFromTag(m.Role)
		if fieldmap.IsProductRole(role) {
			rec.Outcomes = append(rec.Outcomes, types.SimpleOutcome{Smiles: smi, IsDesired: role == fieldmap.Product})
			continue
		}
		cat := archiveCategory(m)
		i, ok := index[cat]
		if !ok {
			i = len(rec.Inputs)
			index[cat] = i
			rec.Inputs = append(rec.Inputs, types.SimpleInput{Tab: cat})
		}
		rec.Inputs[i].Components = append(rec.Inputs[i].Components, types.SimpleComponent{Smiles: smi, Role: role})
	}
	return rec
}
