// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retrieve runs hybrid vector and keyword queries against one
// paper's index partition and expands the hits with a page window.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/phuslu/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/pdiddy/evidence-engine/internal/embed"
	"github.com/pdiddy/evidence-engine/internal/index"
	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Defaults for Search.
const (
	DefaultAlpha = 0.5
	DefaultLimit = 8

	minCandidates = 20
)

// Leg names reported in DegradedRetrievalError.
const (
	LegVector  = "vector"
	LegKeyword = "keyword"
)

// Index is the read side of the index the retriever needs.
type Index interface {
	KeywordSearch(ctx context.Context, paperID, query string, limit int) ([]index.ScoredChunk, error)
	Vectors(ctx context.Context, paperID string) ([]index.VectorRecord, error)
	ChunksByUUID(ctx context.Context, paperID string, uuids []string) ([]index.ChunkRecord, error)
	ChunksByPageRange(ctx context.Context, paperID string, from, to int) ([]index.ChunkRecord, error)
}

// Result is the outcome of one Search.
type Result struct {
	// Hits are ordered by fused score, highest first.
	Hits []types.SearchHit

	// ExpandedWindow holds chunks near the hits' pages, in reading order.
	ExpandedWindow []types.SearchHit

	// Degraded is set when one retrieval leg failed and Hits come from
	// the other leg only.
	Degraded *types.DegradedRetrievalError
}

// Retriever executes hybrid queries. It holds no per-query state and is
// safe for concurrent use.
type Retriever struct {
	idx      Index
	embedder embed.Embedder
	alpha    float64
	logger   *log.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithEmbedder enables the vector leg.
func WithEmbedder(e embed.Embedder) Option {
	return func(r *Retriever) { r.embedder = e }
}

// WithAlpha sets the vector weight of the fused score, clamped to [0,1].
func WithAlpha(alpha float64) Option {
	return func(r *Retriever) {
		switch {
		case alpha < 0:
			alpha = 0
		case alpha > 1:
			alpha = 1
		}
		r.alpha = alpha
	}
}

// WithLogger sets the retriever's logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// New returns a Retriever over idx.
func New(idx Index, opts ...Option) *Retriever {
	r := &Retriever{idx: idx, alpha: DefaultAlpha}
	for _, o := range opts {
		o(r)
	}
	r.logger = logging.OrDiscard(r.logger)
	return r
}

// candidate accumulates one chunk's per-leg scores during fusion.
type candidate struct {
	rec        index.ChunkRecord
	loaded     bool
	keyword    float64
	hasKeyword bool
	similarity float64
	hasVector  bool
	fused      float64
}

// Search queries paperID's partition for query and returns up to limit
// hits ranked by relative-score fusion of the two legs, plus the page
// window around them. Without an embedder the search is keyword-only
// and not degraded. If exactly one leg fails the other leg's results
// are returned with Result.Degraded set; if both fail Search returns
// an error.
func (r *Retriever) Search(ctx context.Context, paperID, query string, limit, pageWindow int) (Result, error) {
	start := time.Now()
	if limit <= 0 {
		limit = DefaultLimit
	}
	if pageWindow < 0 {
		pageWindow = 0
	}
	res := Result{Hits: []types.SearchHit{}, ExpandedWindow: []types.SearchHit{}}
	if strings.TrimSpace(query) == "" {
		return res, nil
	}

	nCand := limit * 4
	if nCand < minCandidates {
		nCand = minCandidates
	}

	var (
		kw            []index.ScoredChunk
		vec           map[string]float64
		kwErr, vecErr error
	)
	useVector := r.embedder != nil

	p := pool.New().WithContext(ctx)
	p.Go(func(ctx context.Context) error {
		kw, kwErr = r.idx.KeywordSearch(ctx, paperID, query, nCand)
		return nil
	})
	if useVector {
		p.Go(func(ctx context.Context) error {
			vec, vecErr = r.vectorLeg(ctx, paperID, query, nCand)
			return nil
		})
	}
	_ = p.Wait()

	alpha := r.alpha
	switch {
	case kwErr != nil && (!useVector || vecErr != nil):
		if !useVector {
			return Result{}, fmt.Errorf("keyword search: %w", kwErr)
		}
		return Result{}, fmt.Errorf("both retrieval legs failed: %w", errors.Join(kwErr, vecErr))
	case kwErr != nil:
		res.Degraded = &types.DegradedRetrievalError{Leg: LegKeyword, Cause: kwErr.Error()}
		alpha = 1
	case !useVector:
		alpha = 0
	case vecErr != nil:
		res.Degraded = &types.DegradedRetrievalError{Leg: LegVector, Cause: vecErr.Error()}
		alpha = 0
	}
	if res.Degraded == nil && useVector {
		// One leg matching nothing should not halve the other's scores.
		switch {
		case len(vec) == 0:
			alpha = 0
		case len(kw) == 0:
			alpha = 1
		}
	}
	if res.Degraded != nil {
		r.logger.Warn().Str("paper_id", paperID).Str("leg", res.Degraded.Leg).
			Str("cause", res.Degraded.Cause).Msg("hybrid search degraded")
	}

	cands, err := r.fuse(ctx, paperID, kw, vec, alpha)
	if err != nil {
		return Result{}, err
	}
	if len(cands) > limit {
		cands = cands[:limit]
	}
	for _, c := range cands {
		res.Hits = append(res.Hits, toHit(c))
	}

	window, err := r.window(ctx, paperID, res.Hits, pageWindow)
	if err != nil {
		return Result{}, err
	}
	res.ExpandedWindow = window

	r.logger.Debug().Str("paper_id", paperID).Int("hits", len(res.Hits)).
		Int("window", len(res.ExpandedWindow)).Dur("elapsed", time.Since(start)).Msg("search complete")
	return res, nil
}

// vectorLeg embeds the query and returns cosine similarity by chunk UUID
// for the top n stored vectors.
func (r *Retriever) vectorLeg(ctx context.Context, paperID, query string, n int) (map[string]float64, error) {
	qv, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(qv) != 1 || len(qv[0]) == 0 {
		return nil, errors.New("embedding query: empty vector")
	}

	stored, err := r.idx.Vectors(ctx, paperID)
	if err != nil {
		return nil, err
	}

	type scored struct {
		uuid string
		sim  float64
	}
	all := make([]scored, 0, len(stored))
	for _, v := range stored {
		if len(v.Vector) != len(qv[0]) {
			continue
		}
		all = append(all, scored{uuid: v.UUID, sim: embed.Cosine(qv[0], v.Vector)})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].sim > all[j].sim })
	if len(all) > n {
		all = all[:n]
	}

	out := make(map[string]float64, len(all))
	for _, s := range all {
		out[s.uuid] = s.sim
	}
	return out, nil
}

// fuse merges the legs with relative-score fusion: each leg's scores are
// min-max normalized to [0,1], then combined as
// alpha*vector + (1-alpha)*keyword. A chunk missing from a leg scores 0
// there. Candidates are ordered by fused score, ties by position.
func (r *Retriever) fuse(ctx context.Context, paperID string, kw []index.ScoredChunk, vec map[string]float64, alpha float64) ([]*candidate, error) {
	byUUID := make(map[string]*candidate)
	for _, k := range kw {
		byUUID[k.UUID] = &candidate{rec: k.ChunkRecord, loaded: true, keyword: k.Score, hasKeyword: true}
	}
	var missing []string
	for uuid, sim := range vec {
		c, ok := byUUID[uuid]
		if !ok {
			c = &candidate{}
			byUUID[uuid] = c
			missing = append(missing, uuid)
		}
		c.similarity, c.hasVector = sim, true
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		recs, err := r.idx.ChunksByUUID(ctx, paperID, missing)
		if err != nil {
			return nil, fmt.Errorf("loading vector hits: %w", err)
		}
		for _, rec := range recs {
			if c, ok := byUUID[rec.UUID]; ok {
				c.rec, c.loaded = rec, true
			}
		}
	}

	cands := make([]*candidate, 0, len(byUUID))
	for _, c := range byUUID {
		if c.loaded {
			cands = append(cands, c)
		}
	}

	kwNorm := normalizer(cands, func(c *candidate) (float64, bool) { return c.keyword, c.hasKeyword })
	vecNorm := normalizer(cands, func(c *candidate) (float64, bool) { return c.similarity, c.hasVector })
	for _, c := range cands {
		var k, v float64
		if c.hasKeyword {
			k = kwNorm(c.keyword)
		}
		if c.hasVector {
			v = vecNorm(c.similarity)
		}
		c.fused = alpha*v + (1-alpha)*k
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].fused != cands[j].fused {
			return cands[i].fused > cands[j].fused
		}
		return cands[i].rec.Position < cands[j].rec.Position
	})
	return cands, nil
}

// normalizer returns a min-max scaling function over the scores the
// candidates carry for one leg. When all scores are equal every score
// maps to 1.
func normalizer(cands []*candidate, score func(*candidate) (float64, bool)) func(float64) float64 {
	first := true
	var lo, hi float64
	for _, c := range cands {
		s, ok := score(c)
		if !ok {
			continue
		}
		if first || s < lo {
			lo = s
		}
		if first || s > hi {
			hi = s
		}
		first = false
	}
	return func(s float64) float64 {
		if hi == lo {
			return 1
		}
		return (s - lo) / (hi - lo)
	}
}

// window returns the chunks on pages within pageWindow of any paged hit,
// excluding the hits themselves, in reading order. A zero window is
// always empty.
func (r *Retriever) window(ctx context.Context, paperID string, hits []types.SearchHit, pageWindow int) ([]types.SearchHit, error) {
	out := []types.SearchHit{}
	if pageWindow == 0 || len(hits) == 0 {
		return out, nil
	}

	exclude := make(map[string]bool, len(hits))
	var ranges [][2]int
	for _, h := range hits {
		exclude[h.RecordID] = true
		if h.Page > 0 {
			ranges = append(ranges, [2]int{h.Page - pageWindow, h.Page + pageWindow})
		}
	}

	seen := make(map[string]bool)
	var recs []index.ChunkRecord
	for _, rg := range mergeRanges(ranges) {
		got, err := r.idx.ChunksByPageRange(ctx, paperID, rg[0], rg[1])
		if err != nil {
			return nil, fmt.Errorf("expanding page window: %w", err)
		}
		for _, rec := range got {
			if exclude[rec.UUID] || seen[rec.UUID] {
				continue
			}
			seen[rec.UUID] = true
			recs = append(recs, rec)
		}
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Position < recs[j].Position })
	for _, rec := range recs {
		out = append(out, toHit(&candidate{rec: rec}))
	}
	return out, nil
}

// mergeRanges coalesces overlapping or touching page intervals.
func mergeRanges(ranges [][2]int) [][2]int {
	if len(ranges) == 0 {
		return nil
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i][0] < ranges[j][0] })
	merged := [][2]int{ranges[0]}
	for _, rg := range ranges[1:] {
		last := &merged[len(merged)-1]
		if rg[0] <= last[1]+1 {
			if rg[1] > last[1] {
				last[1] = rg[1]
			}
			continue
		}
		merged = append(merged, rg)
	}
	return merged
}

func toHit(c *candidate) types.SearchHit {
	dist := -1.0
	if c.hasVector {
		dist = 1 - c.similarity
	}
	return types.SearchHit{
		ChunkID:     c.rec.ID,
		RecordID:    c.rec.UUID,
		Text:        c.rec.Text,
		Section:     c.rec.SectionTitle,
		Page:        c.rec.Page,
		Position:    c.rec.Position,
		Score:       c.fused,
		Distance:    dist,
		FigureIDs:   c.rec.FigureIDs,
		CitationIDs: c.rec.CitationIDs,
	}
}
