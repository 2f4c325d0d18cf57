// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// IndexConfig holds settings for the SQLite hybrid index.
type IndexConfig struct {
	// Path is the database file (default "data/evidence.db").
	Path string `json:"path" yaml:"path" mapstructure:"path"`

	// Timeout bounds every index read or write.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// ChunkConfig holds chunker limits, in bytes of UTF-8 text.
type ChunkConfig struct {
	MaxChars    int `json:"max_chars" yaml:"max_chars" mapstructure:"max_chars"`
	TargetChars int `json:"target_chars" yaml:"target_chars" mapstructure:"target_chars"`
}

// RetrieveConfig holds hybrid retrieval tunables.
type RetrieveConfig struct {
	// Alpha weights the vector leg in fused scores: 1 is vector-only,
	// 0 is keyword-only.
	Alpha float64 `json:"alpha" yaml:"alpha" mapstructure:"alpha"`

	// Limit is the default number of hits.
	Limit int `json:"limit" yaml:"limit" mapstructure:"limit"`

	// PageWindow is the default page radius for window expansion.
	PageWindow int `json:"page_window" yaml:"page_window" mapstructure:"page_window"`
}

// EvidenceConfig holds evidence assembly settings.
type EvidenceConfig struct {
	MaxFigures int `json:"max_figures" yaml:"max_figures" mapstructure:"max_figures"`

	// CacheTTL enables the interaction cache when positive.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// FetchConfig holds settings for upstream arXiv fetches.
type FetchConfig struct {
	UserAgent    string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
	ContactEmail string `json:"contact_email,omitempty" yaml:"contact_email,omitempty" mapstructure:"contact_email"`

	MetadataTimeout time.Duration `json:"metadata_timeout" yaml:"metadata_timeout" mapstructure:"metadata_timeout"`
	HTMLTimeout     time.Duration `json:"html_timeout" yaml:"html_timeout" mapstructure:"html_timeout"`

	// OCRTimeout bounds waiting on the external PDF/OCR extraction output.
	OCRTimeout time.Duration `json:"ocr_timeout" yaml:"ocr_timeout" mapstructure:"ocr_timeout"`

	// RateInterval is the minimum spacing between arXiv requests.
	RateInterval time.Duration `json:"rate_interval" yaml:"rate_interval" mapstructure:"rate_interval"`
}

// EmbedConfig selects the embedding backend. An empty Provider disables
// the vector leg.
type EmbedConfig struct {
	Provider string        `json:"provider" yaml:"provider" mapstructure:"provider"`
	BaseURL  string        `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Model    string        `json:"model" yaml:"model" mapstructure:"model"`
	APIKey   string        `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is "console" or "json".
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// Config groups all settings of the evidence engine.
type Config struct {
	Index    IndexConfig    `json:"index" yaml:"index" mapstructure:"index"`
	Chunk    ChunkConfig    `json:"chunk" yaml:"chunk" mapstructure:"chunk"`
	Retrieve RetrieveConfig `json:"retrieve" yaml:"retrieve" mapstructure:"retrieve"`
	Evidence EvidenceConfig `json:"evidence" yaml:"evidence" mapstructure:"evidence"`
	Fetch    FetchConfig    `json:"fetch" yaml:"fetch" mapstructure:"fetch"`
	Embed    EmbedConfig    `json:"embed" yaml:"embed" mapstructure:"embed"`
	Log      LogConfig      `json:"log" yaml:"log" mapstructure:"log"`
}

// DefaultConfig returns the configuration used when no file, flag, or
// environment variable overrides a setting.
func DefaultConfig() Config {
	return Config{
		Index: IndexConfig{
			Path:    "data/evidence.db",
			Timeout: 15 * time.Second,
		},
		Chunk: ChunkConfig{
			MaxChars:    1000,
			TargetChars: 800,
		},
		Retrieve: RetrieveConfig{
			Alpha:      0.5,
			Limit:      8,
			PageWindow: 1,
		},
		Evidence: EvidenceConfig{
			MaxFigures: 6,
		},
		Fetch: FetchConfig{
			UserAgent:       "evidence-engine/0.1",
			MetadataTimeout: 20 * time.Second,
			HTMLTimeout:     60 * time.Second,
			OCRTimeout:      10 * time.Minute,
			RateInterval:    3 * time.Second,
		},
		Embed: EmbedConfig{
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
