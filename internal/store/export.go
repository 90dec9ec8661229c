// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// ExportCollections writes the stored collection summaries to path. A .yaml
// or .yml extension selects YAML; anything else is written as JSON.
func (s *Store) ExportCollections(ctx context.Context, path string) (int, error) {
	rows, err := s.ListCollections(ctx)
	if err != nil {
		return 0, fmt.Errorf("querying for export: %w", err)
	}
	if rows == nil {
		rows = []CollectionRow{}
	}

	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(rows)
		if err != nil {
			return 0, fmt.Errorf("marshaling YAML: %w", err)
		}
	default:
		data, err = json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return 0, fmt.Errorf("marshaling JSON: %w", err)
		}
		data = append(data, '\n')
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("writing export: %w", err)
	}
	return len(rows), nil
}
