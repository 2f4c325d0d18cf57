// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/evidence-engine/internal/evidence"
	"github.com/pdiddy/evidence-engine/internal/interactions"
	"github.com/pdiddy/evidence-engine/internal/retrieve"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence [paper-id] [query]",
	Short: "Assemble the evidence context for a query over one paper",
	Long: `Evidence runs a hybrid query over one paper's index partition and
prints the evidence context: ranked hits, the chunks on nearby pages,
and the figures and citations they reference.

--selection replaces the query with highlighted text and echoes it in
the result. --check-payload validates a generation payload against the
assembled evidence.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runEvidence,
}

func runEvidence(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	paperID := args[0]
	query := ""
	if len(args) > 1 {
		query = args[1]
	}

	opts := evidence.Options{}
	opts.UserID, _ = cmd.Flags().GetString("user")
	opts.Limit, _ = cmd.Flags().GetInt("limit")
	if cmd.Flags().Changed("window") {
		w, _ := cmd.Flags().GetInt("window")
		opts.PageWindow = &w
	}
	if text, _ := cmd.Flags().GetString("selection"); text != "" {
		page, _ := cmd.Flags().GetInt("selection-page")
		section, _ := cmd.Flags().GetString("selection-section")
		opts.Selection = &types.Selection{Text: text, Page: page, SectionID: section}
	}
	if query == "" && opts.Selection == nil {
		return fmt.Errorf("provide a query or --selection")
	}

	store, emb, err := openIndex(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	retriever := retrieve.New(store,
		retrieve.WithEmbedder(emb),
		retrieve.WithAlpha(cfg.Retrieve.Alpha),
		retrieve.WithLogger(logger),
	)
	asmOpts := []evidence.Option{
		evidence.WithMaxFigures(cfg.Evidence.MaxFigures),
		evidence.WithLimit(cfg.Retrieve.Limit),
		evidence.WithPageWindow(cfg.Retrieve.PageWindow),
		evidence.WithLogger(logger),
	}
	if cfg.Evidence.CacheTTL > 0 {
		cache, err := interactions.NewSQLite(ctx, store.DB(), cfg.Evidence.CacheTTL)
		if err != nil {
			return err
		}
		asmOpts = append(asmOpts, evidence.WithCache(cache))
	}

	ec, err := evidence.New(retriever, store, asmOpts...).LoadEvidence(ctx, paperID, query, opts)
	if err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("check-payload"); path != "" {
		return checkPayload(path, ec)
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ec)
	}
	printEvidence(ec)
	return nil
}

func checkPayload(path string, ec *types.EvidenceContext) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	res := evidence.ParsePayload(raw, ec)
	if !res.OK() {
		return res.Err
	}
	fmt.Printf("payload ok: %d bullets grounded in %s\n", len(res.Payload.Bullets), ec.PaperID)
	return nil
}

func printEvidence(ec *types.EvidenceContext) {
	fmt.Printf("Query: %s\n", ec.Query)
	if ec.Degraded != nil {
		fmt.Printf("Warning: %v\n", ec.Degraded)
	}

	fmt.Fprintf(os.Stdout, "\n%-4s  %-11s  %-6s  %-4s  %-20s  %s\n", "Rank", "Chunk", "Score", "Page", "Section", "Text")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 110))
	for i, h := range ec.Hits {
		fmt.Fprintf(os.Stdout, "%-4d  %-11s  %.3f   %-4d  %-20s  %s\n",
			i+1, h.ChunkID, h.Score, h.Page, truncate(h.Section, 20), truncate(h.Text, 50))
	}
	if len(ec.Hits) == 0 {
		fmt.Println("No results found.")
	}

	if len(ec.ExpandedWindow) > 0 {
		fmt.Printf("\nPage window (%d chunks):\n", len(ec.ExpandedWindow))
		for _, w := range ec.ExpandedWindow {
			fmt.Printf("  p.%-3d %-11s %s\n", w.Page, w.ChunkID, truncate(w.Text, 80))
		}
	}
	if len(ec.Figures) > 0 {
		fmt.Printf("\nFigures:\n")
		for _, f := range ec.Figures {
			fmt.Printf("  %-12s %s\n", f.ID, truncate(strings.TrimSpace(f.Label+" "+f.Caption), 90))
		}
	}
	if len(ec.Citations) > 0 {
		fmt.Printf("\nCitations:\n")
		for _, c := range ec.Citations {
			desc := c.Title
			if desc == "" {
				desc = c.RawText
			}
			fmt.Printf("  %-12s %s\n", c.ID, truncate(desc, 90))
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	evidenceCmd.Flags().String("selection", "", "highlighted text that replaces the query")
	evidenceCmd.Flags().Int("selection-page", 0, "page of the selection")
	evidenceCmd.Flags().String("selection-section", "", "section ID of the selection")
	evidenceCmd.Flags().String("user", "", "user ID for the interaction cache")
	evidenceCmd.Flags().Int("limit", 0, "number of hits (default from retrieve.limit)")
	evidenceCmd.Flags().Int("window", 0, "page window radius (default from retrieve.page_window)")
	evidenceCmd.Flags().String("check-payload", "", "validate a generation payload JSON file against the evidence")
	evidenceCmd.Flags().Bool("json", false, "print the evidence context as JSON")

	rootCmd.AddCommand(evidenceCmd)
}
