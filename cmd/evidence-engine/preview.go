// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/evidence-engine/internal/fetch"
	"github.com/pdiddy/evidence-engine/internal/ingest"
)

var previewCmd = &cobra.Command{
	Use:   "preview [id or URL]",
	Short: "Fetch and normalize an arXiv paper without indexing it",
	Long: `Preview fetches an arXiv paper and prints its metadata, sections, and
figures. Nothing is written to the index.`,
	Args: cobra.ExactArgs(1),
	RunE: runPreview,
}

func runPreview(cmd *cobra.Command, args []string) error {
	p := ingest.New(fetch.New(cfg.Fetch, logger), nil, nil,
		ingest.WithContactEmail(cfg.Fetch.ContactEmail),
		ingest.WithLogger(logger),
	)
	res, err := p.Inline(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	yamlOutput, _ := cmd.Flags().GetBool("yaml")
	return writePreview(os.Stdout, res, yamlOutput)
}

func writePreview(w io.Writer, res *ingest.InlineResult, yamlOutput bool) error {
	if yamlOutput {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			enc.Close()
			return fmt.Errorf("encoding preview: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("flushing preview: %w", err)
		}
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func init() {
	previewCmd.Flags().Bool("yaml", false, "print YAML instead of JSON")
	rootCmd.AddCommand(previewCmd)
}
