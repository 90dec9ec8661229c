// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fieldmap maps the integer codes and free-text role tags found in
// raw reaction records onto the canonical string vocabulary. Every lookup is
// total: codes outside a table resolve to Unknown, never to an error.
package fieldmap

import "strings"

const (
	// Unknown is returned for codes and tags outside a table.
	Unknown = "UNKNOWN"

	// Unspecified is the zero entry of every table and the answer for an
	// unrecognized quantity kind.
	Unspecified = "UNSPECIFIED"
)

// SMILESCode is the identifier type code of a SMILES string.
const SMILESCode = 2

// Quantity kinds understood by UnitName.
const (
	KindMoles  = "moles"
	KindVolume = "volume"
	KindMass   = "mass"
)

// Product is the role name given to every outcome product.
const Product = "PRODUCT"

var roles = [...]string{
	Unspecified,
	"REACTANT",
	"REAGENT",
	"SOLVENT",
	"CATALYST",
	"WORKUP",
	"INTERNAL_STANDARD",
	"AUTHENTIC_STANDARD",
	Product,
	"BYPRODUCT",
	"SIDE_PRODUCT",
}

var identifierTypes = [...]string{
	Unspecified,
	"CUSTOM",
	"SMILES",
	"INCHI",
	"MOLBLOCK",
	"FINGERPRINT",
	"NAME",
	"IUPAC_NAME",
	"CAS_NUMBER",
}

var units = map[string][5]string{
	KindMass:   {Unspecified, "KILOGRAM", "GRAM", "MILLIGRAM", "MICROGRAM"},
	KindVolume: {Unspecified, "LITER", "MILLILITER", "MICROLITER", "NANOLITER"},
	KindMoles:  {Unspecified, "MOLE", "MILLIMOLE", "MICROMOLE", "NANOMOLE"},
}

func lookup(table []string, code int) string {
	if code < 0 || code >= len(table) {
		return Unknown
	}
	return table[code]
}

// RoleName maps a reaction role code (0-10).
func RoleName(code int) string {
	return lookup(roles[:], code)
}

// IdentifierTypeName maps an identifier type code (0-8).
func IdentifierTypeName(code int) string {
	return lookup(identifierTypes[:], code)
}

// UnitName maps a unit code (0-4) within a quantity kind.
func UnitName(kind string, code int) string {
	table, ok := units[kind]
	if !ok {
		return Unspecified
	}
	return lookup(table[:], code)
}

// roleTags maps normalized archive role text to role names. Archive pages
// use lower-case words, sometimes with spaces or hyphens.
var roleTags = map[string]string{
	"reactant":           "REACTANT",
	"starting material":  "REACTANT",
	"reagent":            "REAGENT",
	"solvent":            "SOLVENT",
	"catalyst":           "CATALYST",
	"workup":             "WORKUP",
	"internal standard":  "INTERNAL_STANDARD",
	"authentic standard": "AUTHENTIC_STANDARD",
	"product":            Product,
	"byproduct":          "BYPRODUCT",
	"side product":       "SIDE_PRODUCT",
}

// RoleFromTag maps archive role tag text onto the role vocabulary. Role
// names themselves ("SIDE_PRODUCT") are accepted too.
func RoleFromTag(text string) string {
	norm := strings.ToLower(strings.TrimSpace(text))
	norm = strings.NewReplacer("_", " ", "-", " ").Replace(norm)
	norm = strings.Join(strings.Fields(norm), " ")
	if role, ok := roleTags[norm]; ok {
		return role
	}
	if norm == "by product" {
		return "BYPRODUCT"
	}
	return Unknown
}

// IsProductRole reports whether a role name denotes a reaction outcome.
func IsProductRole(role string) bool {
	switch role {
	case Product, "BYPRODUCT", "SIDE_PRODUCT":
		return true
	}
	return false
}
