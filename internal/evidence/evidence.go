// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package evidence assembles the per-query EvidenceContext handed to
// generation steps: ranked hits, the page window around them, and the
// figures and citations they reference.
package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/pdiddy/evidence-engine/internal/identity"
	"github.com/pdiddy/evidence-engine/internal/interactions"
	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/internal/retrieve"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// DefaultMaxFigures caps the figures in one EvidenceContext.
const DefaultMaxFigures = 6

// InteractionKind tags cached evidence loads in the interaction store.
const InteractionKind = "evidence"

// Searcher runs a hybrid query over one paper.
type Searcher interface {
	Search(ctx context.Context, paperID, query string, limit, pageWindow int) (retrieve.Result, error)
}

// Index resolves figure and citation IDs to records.
type Index interface {
	FiguresByID(ctx context.Context, paperID string, ids []string) ([]types.Figure, error)
	CitationsByID(ctx context.Context, paperID string, ids []string) ([]types.Citation, error)
}

// Options are per-call settings of LoadEvidence.
type Options struct {
	// Selection, when its text is non-blank, replaces the query and is
	// echoed in the result.
	Selection *types.Selection

	// UserID scopes the interaction cache. Empty means anonymous.
	UserID string

	// Limit overrides the assembler's hit limit when positive.
	Limit int

	// PageWindow overrides the assembler's page window when non-nil.
	PageWindow *int
}

// Assembler builds EvidenceContexts. It is safe for concurrent use.
type Assembler struct {
	search     Searcher
	idx        Index
	cache      interactions.Store
	maxFigures int
	limit      int
	pageWindow int
	logger     *log.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithMaxFigures sets the figure cap. Non-positive values keep the default.
func WithMaxFigures(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxFigures = n
		}
	}
}

// WithLimit sets the default number of hits.
func WithLimit(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.limit = n
		}
	}
}

// WithPageWindow sets the default page window radius.
func WithPageWindow(w int) Option {
	return func(a *Assembler) {
		if w >= 0 {
			a.pageWindow = w
		}
	}
}

// WithCache enables the interaction cache.
func WithCache(s interactions.Store) Option {
	return func(a *Assembler) { a.cache = s }
}

// WithLogger sets the assembler's logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// New returns an Assembler that queries search and resolves references
// through idx.
func New(search Searcher, idx Index, opts ...Option) *Assembler {
	a := &Assembler{
		search:     search,
		idx:        idx,
		maxFigures: DefaultMaxFigures,
		limit:      retrieve.DefaultLimit,
		pageWindow: 1,
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = logging.OrDiscard(a.logger)
	return a
}

// LoadEvidence runs query against paperID and assembles the result. A
// selection is always echoed back; its text replaces the query unless
// blank. A degraded retrieval is not an
// error; it is reported in EvidenceContext.Degraded.
func (a *Assembler) LoadEvidence(ctx context.Context, paperID, query string, opts Options) (*types.EvidenceContext, error) {
	if paperID == "" {
		return nil, errors.New("paper ID is required")
	}
	var selection *types.Selection
	if opts.Selection != nil {
		sel := *opts.Selection
		selection = &sel
		if strings.TrimSpace(sel.Text) != "" {
			query = sel.Text
		}
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query or selection text is required")
	}

	limit := a.limit
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	window := a.pageWindow
	if opts.PageWindow != nil && *opts.PageWindow >= 0 {
		window = *opts.PageWindow
	}

	cacheID := ""
	if a.cache != nil && identity.IsDeterministic(opts.UserID, paperID) {
		cacheID = identity.InteractionUUID(opts.UserID, paperID, InteractionKind,
			fmt.Sprintf("%s\x00%d\x00%d", query, limit, window))
		if ec, ok := a.cached(ctx, cacheID); ok {
			ec.Selection = selection
			return ec, nil
		}
	}

	start := time.Now()
	res, err := a.search.Search(ctx, paperID, query, limit, window)
	if err != nil {
		return nil, fmt.Errorf("searching paper %s: %w", paperID, err)
	}

	ec := &types.EvidenceContext{
		PaperID:        paperID,
		Query:          query,
		Hits:           nonNil(res.Hits),
		ExpandedWindow: nonNil(res.ExpandedWindow),
		Selection:      selection,
		Degraded:       res.Degraded,
	}

	figureIDs, citationIDs := references(ec)
	if ec.Figures, err = a.figures(ctx, paperID, figureIDs, ec.Hits); err != nil {
		return nil, err
	}
	if ec.Citations, err = a.citations(ctx, paperID, citationIDs); err != nil {
		return nil, err
	}

	if err := Validate(ec); err != nil {
		return nil, fmt.Errorf("assembling evidence for %s: %w", paperID, err)
	}

	a.logger.Info().Str("paper_id", paperID).Int("hits", len(ec.Hits)).
		Int("window", len(ec.ExpandedWindow)).Int("figures", len(ec.Figures)).
		Int("citations", len(ec.Citations)).Bool("degraded", ec.Degraded != nil).
		Dur("elapsed", time.Since(start)).Msg("evidence loaded")

	if cacheID != "" && ec.Degraded == nil {
		a.store(ctx, cacheID, opts.UserID, ec)
	}
	return ec, nil
}

func (a *Assembler) cached(ctx context.Context, id string) (*types.EvidenceContext, bool) {
	rec, err := a.cache.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, interactions.ErrNotFound) {
			a.logger.Warn().Err(err).Str("interaction_id", id).Msg("reading interaction cache")
		}
		return nil, false
	}
	var ec types.EvidenceContext
	if err := json.Unmarshal(rec.Payload, &ec); err != nil || Validate(&ec) != nil {
		a.logger.Warn().Str("interaction_id", id).Msg("ignoring unreadable cached evidence")
		return nil, false
	}
	a.logger.Debug().Str("interaction_id", id).Msg("evidence served from cache")
	return &ec, true
}

func (a *Assembler) store(ctx context.Context, id, userID string, ec *types.EvidenceContext) {
	cached := *ec
	cached.Selection = nil
	payload, err := json.Marshal(&cached)
	if err == nil {
		err = a.cache.Put(ctx, interactions.Record{
			ID: id, UserID: userID, PaperID: ec.PaperID, Kind: InteractionKind,
			Prompt: ec.Query, Payload: payload,
		})
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("interaction_id", id).Msg("writing interaction cache")
	}
}

// references returns the figure and citation IDs of hits then window
// chunks, deduplicated in first-reference order.
func references(ec *types.EvidenceContext) (figureIDs, citationIDs []string) {
	seenFig := make(map[string]bool)
	seenCit := make(map[string]bool)
	for _, group := range [][]types.SearchHit{ec.Hits, ec.ExpandedWindow} {
		for _, h := range group {
			for _, id := range h.FigureIDs {
				if !seenFig[id] {
					seenFig[id] = true
					figureIDs = append(figureIDs, id)
				}
			}
			for _, id := range h.CitationIDs {
				if !seenCit[id] {
					seenCit[id] = true
					citationIDs = append(citationIDs, id)
				}
			}
		}
	}
	return figureIDs, citationIDs
}

// figures resolves ids and keeps at most maxFigures of them, closest
// page to the top hit first, ties in first-reference order. Figures
// without a page sort after paged ones.
func (a *Assembler) figures(ctx context.Context, paperID string, ids []string, hits []types.SearchHit) ([]types.Figure, error) {
	out := []types.Figure{}
	if len(ids) == 0 {
		return out, nil
	}
	found, err := a.idx.FiguresByID(ctx, paperID, ids)
	if err != nil {
		return nil, fmt.Errorf("resolving figures: %w", err)
	}
	byID := make(map[string]types.Figure, len(found))
	for _, f := range found {
		byID[f.ID] = f
	}
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			out = append(out, f)
		}
	}

	topPage := 0
	if len(hits) > 0 {
		topPage = hits[0].Page
	}
	distance := func(f types.Figure) int {
		switch {
		case topPage == 0:
			return 0
		case f.Page == 0:
			return math.MaxInt
		case f.Page > topPage:
			return f.Page - topPage
		default:
			return topPage - f.Page
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return distance(out[i]) < distance(out[j]) })

	if len(out) > a.maxFigures {
		out = out[:a.maxFigures]
	}
	return out, nil
}

// citations resolves ids in first-reference order, dropping unknown ones.
func (a *Assembler) citations(ctx context.Context, paperID string, ids []string) ([]types.Citation, error) {
	out := []types.Citation{}
	if len(ids) == 0 {
		return out, nil
	}
	found, err := a.idx.CitationsByID(ctx, paperID, ids)
	if err != nil {
		return nil, fmt.Errorf("resolving citations: %w", err)
	}
	byID := make(map[string]types.Citation, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Validate checks the invariants every EvidenceContext must satisfy
// before it leaves the assembler.
func Validate(ec *types.EvidenceContext) error {
	switch {
	case ec == nil:
		return errors.New("evidence is nil")
	case ec.PaperID == "":
		return errors.New("evidence has no paper ID")
	case ec.Hits == nil, ec.ExpandedWindow == nil, ec.Figures == nil, ec.Citations == nil:
		return errors.New("evidence has a nil list")
	}

	hitIDs := make(map[string]bool, len(ec.Hits))
	for i, h := range ec.Hits {
		if i > 0 && h.Score > ec.Hits[i-1].Score {
			return fmt.Errorf("hit %d (%s) scores above the hit before it", i, h.ChunkID)
		}
		hitIDs[h.RecordID] = true
	}
	for i, w := range ec.ExpandedWindow {
		if hitIDs[w.RecordID] {
			return fmt.Errorf("window chunk %s duplicates a hit", w.ChunkID)
		}
		if i > 0 && w.Position <= ec.ExpandedWindow[i-1].Position {
			return fmt.Errorf("window chunk %s is out of reading order", w.ChunkID)
		}
	}

	seen := make(map[string]bool)
	for _, f := range ec.Figures {
		if seen["f\x00"+f.ID] {
			return fmt.Errorf("duplicate figure %s", f.ID)
		}
		seen["f\x00"+f.ID] = true
	}
	for _, c := range ec.Citations {
		if seen["c\x00"+c.ID] {
			return fmt.Errorf("duplicate citation %s", c.ID)
		}
		seen["c\x00"+c.ID] = true
	}
	return nil
}

func nonNil(hits []types.SearchHit) []types.SearchHit {
	if hits == nil {
		return []types.SearchHit{}
	}
	return hits
}
