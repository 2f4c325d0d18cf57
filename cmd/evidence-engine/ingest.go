// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/evidence-engine/internal/chunk"
	"github.com/pdiddy/evidence-engine/internal/fetch"
	"github.com/pdiddy/evidence-engine/internal/index"
	"github.com/pdiddy/evidence-engine/internal/ingest"
	"github.com/pdiddy/evidence-engine/internal/interactions"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest papers into the index",
	Long: `Ingest normalizes a paper, chunks it, and writes its chunks, figures, and
citations to the index. Re-ingesting a paper replaces its records.`,
}

// --- arxiv subcommand ---

var ingestArxivCmd = &cobra.Command{
	Use:   "arxiv [ids or URLs...]",
	Short: "Fetch and ingest arXiv papers",
	Long: `Arxiv fetches metadata from the arXiv API and the rendered HTML from
ar5iv (falling back to arxiv.org/html), then indexes the paper. It
continues after individual failures and reports a summary.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngestArxiv,
}

func runIngestArxiv(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, _, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	p, err := newPipeline(ctx, store)
	if err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")

	var (
		failed  int
		lastErr error
	)
	for _, target := range args {
		sum, err := p.Arxiv(ctx, target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed:  %s (%v)\n", target, err)
			failed++
			lastErr = err
			continue
		}
		if err := printSummary(os.Stdout, sum, jsonOutput); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d paper(s) failed ingest: %w", failed, lastErr)
	}
	return nil
}

// --- pages subcommand ---

var ingestPagesCmd = &cobra.Command{
	Use:   "pages [file]",
	Short: "Ingest PDF/OCR extraction output",
	Long: `Pages ingests the output of an external PDF/OCR extractor: a JSON or
YAML payload with pages and figures, or a Markdown document with
"<!-- page N -->" markers. Use "-" to read from stdin. Without --id the
paper ID is derived from the page text.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngestPages,
}

func runIngestPages(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	format, _ := cmd.Flags().GetString("format")
	if format == "" {
		format = ingest.FormatForPath(args[0])
	}
	ext, err := readExtraction(ctx, args[0], format)
	if err != nil {
		return err
	}

	store, _, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	id, _ := cmd.Flags().GetString("id")
	title, _ := cmd.Flags().GetString("title")
	sourceURL, _ := cmd.Flags().GetString("source-url")
	paper := types.Paper{ID: id, Title: title, SourceURL: sourceURL}

	p, err := newPipeline(ctx, store)
	if err != nil {
		return err
	}
	sum, err := p.Pages(ctx, paper, ext)
	if err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return printSummary(os.Stdout, sum, jsonOutput)
}

// readExtraction reads extractor output from path, or stdin for "-",
// bounded by the OCR timeout.
func readExtraction(ctx context.Context, path, format string) (*types.Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Fetch.OCRTimeout)
	defer cancel()

	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening extraction: %w", err)
		}
		defer f.Close()
		r = f
	}
	ext, err := ingest.ReadExtraction(ctx, r, format)
	if err != nil && ctx.Err() != nil {
		return nil, &types.TimeoutError{Op: "read extraction", After: cfg.Fetch.OCRTimeout}
	}
	return ext, err
}

// newPipeline builds the ingest pipeline over store. Cached evidence loads
// of a paper are dropped whenever the paper is written.
func newPipeline(ctx context.Context, store *index.Store) (*ingest.Pipeline, error) {
	cache, err := interactions.NewSQLite(ctx, store.DB(), cfg.Evidence.CacheTTL)
	if err != nil {
		return nil, err
	}
	return ingest.New(
		fetch.New(cfg.Fetch, logger),
		store,
		chunk.New(chunk.WithMaxChars(cfg.Chunk.MaxChars), chunk.WithTargetChars(cfg.Chunk.TargetChars)),
		ingest.WithContactEmail(cfg.Fetch.ContactEmail),
		ingest.WithInvalidator(cache),
		ingest.WithLogger(logger),
	), nil
}

func printSummary(w io.Writer, s *ingest.Summary, jsonOutput bool) error {
	if jsonOutput {
		return json.NewEncoder(w).Encode(s)
	}
	fmt.Fprintf(w, "ingested: %s", s.PaperID)
	if s.Title != "" {
		fmt.Fprintf(w, " (%s)", s.Title)
	}
	fmt.Fprintf(w, "\n  %d sections, %d paragraphs, %d chunks (%d embedded), %d figures, %d citations",
		s.Sections, s.Paragraphs, s.Chunks, s.Embedded, s.Figures, s.Citations)
	if s.Pruned > 0 {
		fmt.Fprintf(w, ", %d stale records pruned", s.Pruned)
	}
	if s.Invalidated > 0 {
		fmt.Fprintf(w, ", %d cached evidence loads dropped", s.Invalidated)
	}
	fmt.Fprintf(w, " in %s\n", s.Elapsed.Round(time.Millisecond))
	return nil
}

func init() {
	ingestCmd.PersistentFlags().Bool("json", false, "print summaries as JSON")

	ingestPagesCmd.Flags().String("id", "", "paper ID (default: derived from the page text)")
	ingestPagesCmd.Flags().String("title", "", "paper title")
	ingestPagesCmd.Flags().String("source-url", "", "canonical URL of the source document")
	ingestPagesCmd.Flags().String("format", "", "extraction format: structured or markdown (default: by file extension)")

	ingestCmd.AddCommand(ingestArxivCmd)
	ingestCmd.AddCommand(ingestPagesCmd)
	rootCmd.AddCommand(ingestCmd)
}
