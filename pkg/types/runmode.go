// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Range is a 1-based inclusive index range. A zero Start means "from the
// first", a zero End means "to the last".
type Range struct {
	Start int `json:"start,omitempty" yaml:"start,omitempty"`
	End   int `json:"end,omitempty" yaml:"end,omitempty"`
}

// IsZero reports whether the range selects everything.
func (r Range) IsZero() bool { return r.Start == 0 && r.End == 0 }

// Validate rejects negative bounds and inverted ranges.
func (r Range) Validate() error {
	if r.Start < 0 || r.End < 0 {
		return fmt.Errorf("range %s: bounds must be positive", r)
	}
	if r.End > 0 && r.Start > r.End {
		return fmt.Errorf("range %s: start is after end", r)
	}
	return nil
}

// Bounds returns the half-open slice bounds the range selects from a
// sequence of length n. Bounds outside the sequence are clamped.
func (r Range) Bounds(n int) (lo, hi int) {
	lo = max(r.Start-1, 0)
	hi = n
	if r.End > 0 && r.End < n {
		hi = r.End
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

func (r Range) String() string {
	var b strings.Builder
	if r.Start > 0 {
		b.WriteString(strconv.Itoa(r.Start))
	}
	b.WriteByte(':')
	if r.End > 0 {
		b.WriteString(strconv.Itoa(r.End))
	}
	return b.String()
}

// ParseRange parses "a:b", "a:", ":b", or a single index "a" (meaning a:a).
// The empty string is the zero range.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, nil
	}
	startStr, endStr, found := strings.Cut(s, ":")
	if !found {
		endStr = startStr
	}
	var r Range
	var err error
	if startStr != "" {
		if r.Start, err = strconv.Atoi(startStr); err != nil {
			return Range{}, fmt.Errorf("invalid range start %q: %w", startStr, err)
		}
	}
	if endStr != "" {
		if r.End, err = strconv.Atoi(endStr); err != nil {
			return Range{}, fmt.Errorf("invalid range end %q: %w", endStr, err)
		}
	}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// RunMode selects which collections a run visits and which items of each.
// The concrete variants are AllMode, SpecificMode, UniformMode, CustomMode
// and SingleMode.
type RunMode interface {
	Name() string
	Validate() error
	isRunMode()
}

// AllMode discovers every collection, optionally sliced by index.
type AllMode struct {
	Collections Range
}

// SpecificMode crawls the named collections in full.
type SpecificMode struct {
	IDs []string
}

// UniformMode discovers collections, slices them, and applies the same item
// range to each.
type UniformMode struct {
	Collections Range
	Items       Range
}

// CollectionRange pairs a collection id with its item range.
type CollectionRange struct {
	ID    string `yaml:"id"`
	Items Range  `yaml:"items"`
}

// CustomMode crawls the named collections, each with its own item range.
type CustomMode struct {
	Ranges []CollectionRange
}

// SingleMode fetches one item of one discovered collection.
type SingleMode struct {
	Collection int
	Item       int
}

func (AllMode) Name() string      { return "all" }
func (SpecificMode) Name() string { return "specific" }
func (UniformMode) Name() string  { return "uniform" }
func (CustomMode) Name() string   { return "custom" }
func (SingleMode) Name() string   { return "single" }

func (AllMode) isRunMode()      {}
func (SpecificMode) isRunMode() {}
func (UniformMode) isRunMode()  {}
func (CustomMode) isRunMode()   {}
func (SingleMode) isRunMode()   {}

func (m AllMode) Validate() error { return m.Collections.Validate() }

func (m SpecificMode) Validate() error {
	if len(m.IDs) == 0 {
		return fmt.Errorf("specific mode needs at least one collection id")
	}
	return nil
}

func (m UniformMode) Validate() error {
	if err := m.Collections.Validate(); err != nil {
		return fmt.Errorf("collections: %w", err)
	}
	if err := m.Items.Validate(); err != nil {
		return fmt.Errorf("items: %w", err)
	}
	return nil
}

func (m CustomMode) Validate() error {
	if len(m.Ranges) == 0 {
		return fmt.Errorf("custom mode needs at least one collection range")
	}
	seen := make(map[string]bool, len(m.Ranges))
	for _, cr := range m.Ranges {
		if cr.ID == "" {
			return fmt.Errorf("custom mode: empty collection id")
		}
		if seen[cr.ID] {
			return fmt.Errorf("custom mode: collection %s listed twice", cr.ID)
		}
		seen[cr.ID] = true
		if err := cr.Items.Validate(); err != nil {
			return fmt.Errorf("collection %s: %w", cr.ID, err)
		}
	}
	return nil
}

func (m SingleMode) Validate() error {
	if m.Collection < 1 || m.Item < 1 {
		return fmt.Errorf("single mode needs positive collection and item indexes, got %d:%d", m.Collection, m.Item)
	}
	return nil
}

// PlanFile is the on-disk (and flag-level) form of a run mode. Only the
// fields of the chosen mode are read.
type PlanFile struct {
	Mode        string      `yaml:"mode"`
	Collections string      `yaml:"collections,omitempty"`
	Items       string      `yaml:"items,omitempty"`
	IDs         []string    `yaml:"ids,omitempty"`
	Ranges      []PlanRange `yaml:"ranges,omitempty"`
	Target      string      `yaml:"target,omitempty"`
}

// PlanRange is one entry of a custom plan.
type PlanRange struct {
	ID    string `yaml:"id"`
	Items string `yaml:"items,omitempty"`
}

// ReadPlanFile loads a YAML run plan and converts it to a validated mode.
func ReadPlanFile(path string) (RunMode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}
	var p PlanFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan file: %w", err)
	}
	return p.RunMode()
}

// RunMode converts the plan into its variant and validates it.
func (p PlanFile) RunMode() (RunMode, error) {
	var mode RunMode
	switch strings.ToLower(strings.TrimSpace(p.Mode)) {
	case "", "all":
		cols, err := ParseRange(p.Collections)
		if err != nil {
			return nil, err
		}
		mode = AllMode{Collections: cols}
	case "specific":
		ids := make([]string, 0, len(p.IDs))
		for _, id := range p.IDs {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		mode = SpecificMode{IDs: ids}
	case "uniform":
		cols, err := ParseRange(p.Collections)
		if err != nil {
			return nil, err
		}
		items, err := ParseRange(p.Items)
		if err != nil {
			return nil, err
		}
		mode = UniformMode{Collections: cols, Items: items}
	case "custom":
		m := CustomMode{}
		for _, pr := range p.Ranges {
			items, err := ParseRange(pr.Items)
			if err != nil {
				return nil, fmt.Errorf("collection %s: %w", pr.ID, err)
			}
			m.Ranges = append(m.Ranges, CollectionRange{ID: strings.TrimSpace(pr.ID), Items: items})
		}
		mode = m
	case "single":
		colStr, itemStr, found := strings.Cut(p.Target, ":")
		if !found {
			itemStr = "1"
		}
		col, err := strconv.Atoi(strings.TrimSpace(colStr))
		if err != nil {
			return nil, fmt.Errorf("invalid single target %q: %w", p.Target, err)
		}
		item, err := strconv.Atoi(strings.TrimSpace(itemStr))
		if err != nil {
			return nil, fmt.Errorf("invalid single target %q: %w", p.Target, err)
		}
		mode = SingleMode{Collection: col, Item: item}
	default:
		return nil, fmt.Errorf("unknown run mode %q (want all, specific, uniform, custom or single)", p.Mode)
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	return mode, nil
}
