// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the evidence-engine CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/evidence-engine/internal/embed"
	"github.com/pdiddy/evidence-engine/internal/index"
	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/internal/secrets"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// Exit codes reported to callers that map CLI failures to HTTP classes.
const (
	exitFailure = 1
	exitFetch   = 2
	exitIndex   = 3
)

var (
	// cfg is the effective configuration, loaded before every command.
	cfg types.Config

	logger *log.Logger
)

// rootCmd is the base command for the evidence-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "evidence-engine",
	Short: "Ingest papers and assemble retrieval evidence for grounded generation",
	Long: `evidence-engine ingests scholarly papers (arXiv IDs or extracted PDF
page text), normalizes them into sections, paragraphs, figures, and
citations, indexes the chunks for hybrid vector and keyword retrieval,
and assembles evidence contexts for downstream generation steps.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig()
		if err != nil {
			return err
		}

		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		secrets.Apply(&cfg, s)

		logger = logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug().Strs("keys", keys).Msg("loaded secrets")
		}
		if used := viper.ConfigFileUsed(); used != "" {
			logger.Debug().Str("path", used).Msg("using config file")
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./evidence-engine.yaml or ~/.config/evidence-engine/evidence-engine.yaml)")
	rootCmd.PersistentFlags().String("index", "", "index database path (default data/evidence.db)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error")

	viper.BindPFlag("index.path", rootCmd.PersistentFlags().Lookup("index"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("evidence-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "evidence-engine"))
		}
	}

	viper.SetEnvPrefix("EVIDENCE_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(viper.GetViper(), types.DefaultConfig())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
	}
}

// setDefaults registers every configuration key so environment variables
// and flags can override keys absent from the config file.
func setDefaults(v *viper.Viper, d types.Config) {
	defaults := map[string]any{
		"index.path":             d.Index.Path,
		"index.timeout":          d.Index.Timeout,
		"chunk.max_chars":        d.Chunk.MaxChars,
		"chunk.target_chars":     d.Chunk.TargetChars,
		"retrieve.alpha":         d.Retrieve.Alpha,
		"retrieve.limit":         d.Retrieve.Limit,
		"retrieve.page_window":   d.Retrieve.PageWindow,
		"evidence.max_figures":   d.Evidence.MaxFigures,
		"evidence.cache_ttl":     d.Evidence.CacheTTL,
		"fetch.user_agent":       d.Fetch.UserAgent,
		"fetch.contact_email":    d.Fetch.ContactEmail,
		"fetch.metadata_timeout": d.Fetch.MetadataTimeout,
		"fetch.html_timeout":     d.Fetch.HTMLTimeout,
		"fetch.ocr_timeout":      d.Fetch.OCRTimeout,
		"fetch.rate_interval":    d.Fetch.RateInterval,
		"embed.provider":         d.Embed.Provider,
		"embed.base_url":         d.Embed.BaseURL,
		"embed.model":            d.Embed.Model,
		"embed.api_key":          d.Embed.APIKey,
		"embed.timeout":          d.Embed.Timeout,
		"log.level":              d.Log.Level,
		"log.format":             d.Log.Format,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// loadConfig unmarshals the merged viper settings into a Config.
func loadConfig() (types.Config, error) {
	c := types.DefaultConfig()
	if err := viper.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decoding configuration: %w", err)
	}
	return c, nil
}

// openIndex opens the index with the configured embedder.
func openIndex(ctx context.Context) (*index.Store, embed.Embedder, error) {
	emb, err := embed.New(cfg.Embed, logger)
	if err != nil {
		return nil, nil, err
	}
	opts := []index.Option{index.WithLogger(logger)}
	if emb != nil {
		opts = append(opts, index.WithEmbedder(emb))
	}
	store, err := index.Open(ctx, cfg.Index, opts...)
	if err != nil {
		return nil, nil, err
	}
	return store, emb, nil
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var timeout *types.TimeoutError
	switch {
	case errors.Is(err, types.ErrFetchFailed), errors.Is(err, types.ErrFetchTimeout):
		return exitFetch
	case errors.Is(err, types.ErrIndexUnavailable), errors.As(err, &timeout):
		return exitIndex
	default:
		return exitFailure
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(exitCode(err))
	}
}
