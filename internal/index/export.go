// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Partition is every record stored for one paper.
type Partition struct {
	Paper     *types.Paper     `json:"paper" yaml:"paper"`
	Chunks    []ChunkRecord    `json:"chunks" yaml:"chunks"`
	Figures   []types.Figure   `json:"figures" yaml:"figures"`
	Citations []types.Citation `json:"citations" yaml:"citations"`
}

// LoadPartition reads paperID's paper row, chunks, figures, and citations.
func (s *Store) LoadPartition(ctx context.Context, paperID string) (*Partition, error) {
	paper, err := s.Paper(ctx, paperID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.Chunks(ctx, paperID)
	if err != nil {
		return nil, err
	}
	figures, err := s.FiguresByID(ctx, paperID, nil)
	if err != nil {
		return nil, err
	}
	citations, err := s.CitationsByID(ctx, paperID, nil)
	if err != nil {
		return nil, err
	}
	return &Partition{Paper: paper, Chunks: chunks, Figures: figures, Citations: citations}, nil
}

// Export writes paperID's partition to w as "yaml" (the default) or
// "json".
func (s *Store) Export(ctx context.Context, paperID, format string, w io.Writer) error {
	part, err := s.LoadPartition(ctx, paperID)
	if err != nil {
		return fmt.Errorf("loading partition for export: %w", err)
	}

	switch strings.ToLower(format) {
	case "", "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(part); err != nil {
			return fmt.Errorf("marshaling YAML: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(part); err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown export format %q (want yaml or json)", format)
	}
}
