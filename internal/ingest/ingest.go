// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ingest runs the paper pipelines: fetch or read a source,
// normalize it, chunk it, and write the result to the index. Inline
// stops after normalization for quick previews.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phuslu/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/pdiddy/evidence-engine/internal/chunk"
	"github.com/pdiddy/evidence-engine/internal/fetch"
	"github.com/pdiddy/evidence-engine/internal/identity"
	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/internal/normalize"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Fetcher retrieves arXiv metadata and rendered HTML.
type Fetcher interface {
	FetchMetadata(ctx context.Context, arxivID, contactEmail string) (*types.Paper, error)
	FetchHTML(ctx context.Context, arxivID string) (string, string, error)
}

// Index is the write side of the index the pipelines need.
type Index interface {
	UpsertPaper(ctx context.Context, p *types.Paper) error
	UpsertChunks(ctx context.Context, paperID string, chunks []types.Chunk) (int, error)
	UpsertFigures(ctx context.Context, paperID string, figures []types.Figure) error
	UpsertCitations(ctx context.Context, paperID string, citations []types.Citation) error
	PruneChunks(ctx context.Context, paperID string, keep []string) (int64, error)
	PruneFigures(ctx context.Context, paperID string, keep []string) (int64, error)
	PruneCitations(ctx context.Context, paperID string, keep []string) (int64, error)
}

// Invalidator drops records derived from a paper's previous content, such
// as cached evidence loads.
type Invalidator interface {
	DeletePaper(ctx context.Context, paperID string) (int64, error)
}

// InlineResult is the normalization-only view of an arXiv paper.
type InlineResult struct {
	ArxivID     string          `json:"arxivId" yaml:"arxiv_id"`
	Title       string          `json:"title" yaml:"title"`
	Authors     []string        `json:"authors" yaml:"authors"`
	PublishedAt time.Time       `json:"publishedAt" yaml:"published_at"`
	Categories  []string        `json:"categories" yaml:"categories"`
	Sections    []types.Section `json:"sections" yaml:"sections"`
	Figures     []types.Figure  `json:"figures" yaml:"figures"`
	SourceURL   string          `json:"sourceUrl" yaml:"source_url"`
}

// Summary reports the outcome of one ingest. Invalidated counts cached
// interactions dropped for the paper.
type Summary struct {
	PaperID     string        `json:"paper_id" yaml:"paper_id"`
	Title       string        `json:"title" yaml:"title"`
	Sections    int           `json:"sections" yaml:"sections"`
	Paragraphs  int           `json:"paragraphs" yaml:"paragraphs"`
	Chunks      int           `json:"chunks" yaml:"chunks"`
	Embedded    int           `json:"embedded" yaml:"embedded"`
	Figures     int           `json:"figures" yaml:"figures"`
	Citations   int           `json:"citations" yaml:"citations"`
	Pruned      int64         `json:"pruned" yaml:"pruned"`
	Invalidated int64         `json:"invalidated" yaml:"invalidated"`
	Elapsed     time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Pipeline wires a fetcher, chunker, and index together.
type Pipeline struct {
	fetcher      Fetcher
	idx          Index
	chunker      *chunk.Chunker
	invalidators []Invalidator
	contactEmail string
	logger       *log.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithContactEmail sets the contact address sent with metadata requests.
func WithContactEmail(email string) Option {
	return func(p *Pipeline) { p.contactEmail = email }
}

// WithInvalidator registers a store whose records for a paper are
// dropped after every write of that paper.
func WithInvalidator(inv Invalidator) Option {
	return func(p *Pipeline) {
		if inv != nil {
			p.invalidators = append(p.invalidators, inv)
		}
	}
}

// WithLogger sets the pipeline's logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New returns a Pipeline. fetcher may be nil when only Pages is used;
// idx may be nil when only Inline is used.
func New(fetcher Fetcher, idx Index, chunker *chunk.Chunker, opts ...Option) *Pipeline {
	if chunker == nil {
		chunker = chunk.New()
	}
	p := &Pipeline{fetcher: fetcher, idx: idx, chunker: chunker}
	for _, o := range opts {
		o(p)
	}
	p.logger = logging.OrDiscard(p.logger)
	return p
}

// Inline fetches and normalizes an arXiv paper without touching the index.
func (p *Pipeline) Inline(ctx context.Context, target string) (*InlineResult, error) {
	paper, doc, err := p.fetchArxiv(ctx, target)
	if err != nil {
		return nil, err
	}
	return &InlineResult{
		ArxivID:     paper.ID,
		Title:       paper.Title,
		Authors:     nonNil(paper.Authors),
		PublishedAt: paper.PublishedAt,
		Categories:  nonNil(paper.Categories),
		Sections:    doc.Sections,
		Figures:     doc.Figures,
		SourceURL:   paper.SourceURL,
	}, nil
}

// Arxiv fetches, normalizes, chunks, and indexes an arXiv paper.
// Re-ingesting an unchanged paper rewrites the same records.
func (p *Pipeline) Arxiv(ctx context.Context, target string) (*Summary, error) {
	start := time.Now()
	paper, doc, err := p.fetchArxiv(ctx, target)
	if err != nil {
		return nil, err
	}
	return p.write(ctx, paper, doc, start)
}

// Pages normalizes and indexes the output of the external PDF/OCR
// extractor. When paper.ID is empty an ID is derived from the page text,
// so re-ingesting the same extraction is idempotent.
func (p *Pipeline) Pages(ctx context.Context, paper types.Paper, ext *types.Extraction) (*Summary, error) {
	start := time.Now()
	if ext == nil {
		return nil, fmt.Errorf("extraction is required")
	}
	doc, err := normalize.Pages(ext.Pages, ext.Figures)
	if err != nil {
		return nil, fmt.Errorf("normalizing pages: %w", err)
	}
	if paper.ID == "" {
		paper.ID = UploadID(ext)
	}
	return p.write(ctx, &paper, doc, start)
}

// UploadID derives an opaque, content-stable paper ID for an extraction.
func UploadID(ext *types.Extraction) string {
	texts := make([]string, len(ext.Pages))
	for i, pg := range ext.Pages {
		texts[i] = pg.Text
	}
	return "upload-" + identity.FromSeed(append([]string{"pages"}, texts...)...)
}

// fetchArxiv retrieves metadata and HTML in parallel and normalizes the
// HTML. A failure of either fetch is returned.
func (p *Pipeline) fetchArxiv(ctx context.Context, target string) (*types.Paper, *types.Document, error) {
	if p.fetcher == nil {
		return nil, nil, fmt.Errorf("no fetcher configured")
	}
	arxivID, err := fetch.ParseTarget(target)
	if err != nil {
		return nil, nil, err
	}

	var (
		paper         *types.Paper
		html, baseURL string
	)
	g := pool.New().WithErrors().WithContext(ctx)
	g.Go(func(ctx context.Context) error {
		var err error
		if paper, err = p.fetcher.FetchMetadata(ctx, arxivID, p.contactEmail); err != nil {
			return fmt.Errorf("fetching metadata for %s: %w", arxivID, err)
		}
		return nil
	})
	g.Go(func(ctx context.Context) error {
		var err error
		if html, baseURL, err = p.fetcher.FetchHTML(ctx, arxivID); err != nil {
			return fmt.Errorf("fetching HTML for %s: %w", arxivID, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if paper == nil {
		paper = &types.Paper{}
	}
	paper.ID = arxivID

	doc, err := normalize.HTML(html, baseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("normalizing %s: %w", arxivID, err)
	}
	if paper.Title == "" {
		paper.Title = titleFromDocument(doc)
	}
	return paper, doc, nil
}

// write chunks doc and replaces paper's partition in the index.
func (p *Pipeline) write(ctx context.Context, paper *types.Paper, doc *types.Document, start time.Time) (*Summary, error) {
	if p.idx == nil {
		return nil, fmt.Errorf("no index configured")
	}
	chunks := p.chunker.Chunk(paper.ID, doc)

	if err := p.idx.UpsertPaper(ctx, paper); err != nil {
		return nil, fmt.Errorf("writing paper %s: %w", paper.ID, err)
	}
	embedded, err := p.idx.UpsertChunks(ctx, paper.ID, chunks)
	if err != nil {
		return nil, fmt.Errorf("writing chunks of %s: %w", paper.ID, err)
	}
	if err := p.idx.UpsertFigures(ctx, paper.ID, doc.Figures); err != nil {
		return nil, fmt.Errorf("writing figures of %s: %w", paper.ID, err)
	}
	if err := p.idx.UpsertCitations(ctx, paper.ID, doc.Citations); err != nil {
		return nil, fmt.Errorf("writing citations of %s: %w", paper.ID, err)
	}

	var pruned int64
	prunes := []struct {
		name string
		fn   func(context.Context, string, []string) (int64, error)
		keep []string
	}{
		{"chunks", p.idx.PruneChunks, chunkIDs(chunks)},
		{"figures", p.idx.PruneFigures, figureIDs(doc.Figures)},
		{"citations", p.idx.PruneCitations, citationIDs(doc.Citations)},
	}
	for _, pr := range prunes {
		n, err := pr.fn(ctx, paper.ID, pr.keep)
		if err != nil {
			return nil, fmt.Errorf("pruning %s of %s: %w", pr.name, paper.ID, err)
		}
		pruned += n
	}

	var invalidated int64
	for _, inv := range p.invalidators {
		n, err := inv.DeletePaper(ctx, paper.ID)
		if err != nil {
			return nil, fmt.Errorf("invalidating cached interactions of %s: %w", paper.ID, err)
		}
		invalidated += n
	}

	s := &Summary{
		PaperID:     paper.ID,
		Title:       paper.Title,
		Sections:    len(doc.Sections),
		Paragraphs:  doc.ParagraphCount(),
		Chunks:      len(chunks),
		Embedded:    embedded,
		Figures:     len(doc.Figures),
		Citations:   len(doc.Citations),
		Pruned:      pruned,
		Invalidated: invalidated,
		Elapsed:     time.Since(start),
	}
	p.logger.Info().Str("paper_id", s.PaperID).Int("sections", s.Sections).Int("chunks", s.Chunks).
		Int("embedded", s.Embedded).Int("figures", s.Figures).Int("citations", s.Citations).
		Int64("pruned", s.Pruned).Int64("invalidated", s.Invalidated).Dur("elapsed", s.Elapsed).Msg("paper ingested")
	return s, nil
}

// titleFromDocument falls back to the first non-preamble section title.
func titleFromDocument(doc *types.Document) string {
	for _, s := range doc.Sections {
		if s.Title != "" && !strings.EqualFold(s.Title, "preamble") && !strings.EqualFold(s.Title, "abstract") {
			return s.Title
		}
	}
	return ""
}

func chunkIDs(chunks []types.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}

func figureIDs(figures []types.Figure) []string {
	ids := make([]string, len(figures))
	for i, f := range figures {
		ids[i] = f.ID
	}
	return ids
}

func citationIDs(citations []types.Citation) []string {
	ids := make([]string, len(citations))
	for i, c := range citations {
		ids[i] = c.ID
	}
	return ids
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
