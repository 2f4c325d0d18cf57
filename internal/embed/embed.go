// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package embed turns chunk and query text into vectors for the vector leg
// of hybrid retrieval. Backends speak the Ollama or OpenAI embeddings
// HTTP APIs.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/pdiddy/evidence-engine/internal/httputil"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Embedder produces one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Provider names accepted in EmbedConfig.Provider.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Default configuration values.
const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
	DefaultOpenAIURL   = "https://api.openai.com"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultTimeout     = 30 * time.Second
)

// New returns the embedder selected by cfg.Provider. An empty provider
// returns a nil Embedder and no error; callers treat that as keyword-only
// retrieval.
func New(cfg types.EmbedConfig, logger *log.Logger) (Embedder, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "":
		return nil, nil
	case ProviderOllama:
		return NewOllama(cfg, logger), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai embeddings require embed.api_key or .secrets/embedding-api-key")
		}
		return NewOpenAI(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// httpEmbedder holds the transport shared by both backends.
type httpEmbedder struct {
	client  *httputil.Client
	baseURL string
	model   string
	apiKey  string
	timeout time.Duration
}

func newHTTPEmbedder(cfg types.EmbedConfig, baseURL, model string, logger *log.Logger) httpEmbedder {
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	if cfg.Model != "" {
		model = cfg.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return httpEmbedder{
		client:  httputil.NewClient(cfg.Timeout, 0, "", logger),
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
	}
}

func (h httpEmbedder) Model() string { return h.model }

// post sends body as JSON to path and decodes the JSON reply into out.
// A deadline becomes a *types.TimeoutError.
func (h httpEmbedder) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(ctx, req)
	if err != nil {
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			return &types.TimeoutError{Op: "embed", After: h.timeout}
		}
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Ollama calls the Ollama /api/embed batch endpoint.
type Ollama struct {
	httpEmbedder
}

// NewOllama returns an Ollama embedder; empty config fields use defaults.
func NewOllama(cfg types.EmbedConfig, logger *log.Logger) *Ollama {
	return &Ollama{newHTTPEmbedder(cfg, DefaultOllamaURL, DefaultOllamaModel, logger)}
}

type ollamaRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns one vector per text.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp ollamaResponse
	if err := o.post(ctx, "/api/embed", ollamaRequest{Model: o.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}

// OpenAI calls an OpenAI-compatible /v1/embeddings endpoint.
type OpenAI struct {
	httpEmbedder
}

// NewOpenAI returns an OpenAI embedder; empty config fields use defaults.
func NewOpenAI(cfg types.EmbedConfig, logger *log.Logger) *OpenAI {
	return &OpenAI{newHTTPEmbedder(cfg, DefaultOpenAIURL, DefaultOpenAIModel, logger)}
}

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per text, ordered as the input.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp openAIResponse
	if err := o.post(ctx, "/v1/embeddings", openAIRequest{Model: o.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for text %d", i)
		}
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// empty, zero, or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
