// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/evidence-engine/internal/interactions"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the search index (ensure, health, stats, export, delete)",
	Long: `Index manages the SQLite hybrid index: schema creation, connectivity
checks, record counts, per-paper export, and per-paper deletion.`,
}

var indexEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create or migrate the index schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openIndex(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Printf("index ready: %s\n", store.Path())
		return nil
	},
}

var indexHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check index connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openIndex(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.VerifyConnection(cmd.Context()); err != nil {
			return err
		}
		embedding := "disabled"
		if store.HasEmbedder() {
			embedding = cfg.Embed.Provider
		}
		fmt.Printf("ok: %s (embeddings: %s)\n", store.Path(), embedding)
		return nil
	},
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print record counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, _, err := openIndex(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		st, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(st)
		}
		fmt.Printf("Papers:    %d\n", st.Papers)
		fmt.Printf("Chunks:    %d (%d embedded)\n", st.Chunks, st.Embedded)
		fmt.Printf("Figures:   %d\n", st.Figures)
		fmt.Printf("Citations: %d\n", st.Citations)

		ids, err := store.PaperIDs(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			n, err := store.CountChunks(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("  %-24s %d chunks\n", id, n)
		}
		return nil
	},
}

var indexExportCmd = &cobra.Command{
	Use:   "export [paper-id]",
	Short: "Export one paper's records to YAML or JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, _, err := openIndex(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")

		var w io.Writer = os.Stdout
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("creating %s: %w", out, err)
			}
			defer f.Close()
			w = f
		}
		if err := store.Export(ctx, args[0], format, w); err != nil {
			return err
		}
		if out != "" {
			fmt.Fprintf(os.Stderr, "exported %s to %s\n", args[0], out)
		}
		return nil
	},
}

var indexDeleteCmd = &cobra.Command{
	Use:   "delete [paper-id]",
	Short: "Remove one paper and its cached interactions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, _, err := openIndex(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeletePaper(ctx, args[0]); err != nil {
			return err
		}
		cache, err := interactions.NewSQLite(ctx, store.DB(), 0)
		if err != nil {
			return err
		}
		n, err := cache.DeletePaper(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("deleted %s (%d cached interactions)\n", args[0], n)
		return nil
	},
}

func init() {
	indexStatsCmd.Flags().Bool("json", false, "print counts as JSON")
	indexExportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	indexExportCmd.Flags().String("out", "", "output file (default stdout)")

	indexCmd.AddCommand(indexEnsureCmd)
	indexCmd.AddCommand(indexHealthCmd)
	indexCmd.AddCommand(indexStatsCmd)
	indexCmd.AddCommand(indexExportCmd)
	indexCmd.AddCommand(indexDeleteCmd)
	rootCmd.AddCommand(indexCmd)
}
