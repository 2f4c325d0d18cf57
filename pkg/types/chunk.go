// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Chunk is the retrieval unit: a bounded span of text derived from one or
// more consecutive paragraphs of a single section.
type Chunk struct {
	// ID is the local chunk ID, stable across re-ingest of unchanged content.
	ID string `json:"id" yaml:"id"`

	// PaperID identifies the owning paper.
	PaperID string `json:"paper_id" yaml:"paper_id"`

	// SectionID and SectionTitle come from the chunk's first paragraph.
	SectionID    string `json:"section_id" yaml:"section_id"`
	SectionTitle string `json:"section_title" yaml:"section_title"`

	// Page is the 1-based source page, 0 for HTML-only ingests.
	Page int `json:"page,omitempty" yaml:"page,omitempty"`

	// Text never exceeds the configured maximum chunk length.
	Text string `json:"text" yaml:"text"`

	// Position orders chunks in paper reading order, starting at 0.
	Position int `json:"position" yaml:"position"`

	ParagraphIDs []string `json:"paragraph_ids" yaml:"paragraph_ids"`
	FigureIDs    []string `json:"figure_ids,omitempty" yaml:"figure_ids,omitempty"`
	CitationIDs  []string `json:"citation_ids,omitempty" yaml:"citation_ids,omitempty"`
}

// SearchHit is one ranked result of a retrieval query.
type SearchHit struct {
	// ChunkID is the local chunk ID.
	ChunkID string `json:"chunk_id"`

	// RecordID is the index record UUID for the chunk.
	RecordID string `json:"record_id"`

	Text     string `json:"text"`
	Section  string `json:"section"`
	Page     int    `json:"page,omitempty"`
	Position int    `json:"position"`

	// Score is the fused relevance score in [0,1]; window chunks score 0.
	Score float64 `json:"score"`

	// Distance is the cosine distance to the query vector, or -1 when the
	// vector leg did not score this chunk.
	Distance float64 `json:"distance"`

	FigureIDs   []string `json:"figure_ids,omitempty"`
	CitationIDs []string `json:"citation_ids,omitempty"`
}

// Selection is a user-highlighted span that drives a query.
type Selection struct {
	Text      string `json:"text" yaml:"text"`
	SectionID string `json:"section_id,omitempty" yaml:"section_id,omitempty"`
	Page      int    `json:"page,omitempty" yaml:"page,omitempty"`
}

// EvidenceContext is the per-query bundle handed to generation steps.
type EvidenceContext struct {
	PaperID string `json:"paper_id"`
	Query   string `json:"query"`

	// Hits are ordered by fused relevance, descending.
	Hits []SearchHit `json:"hits"`

	// ExpandedWindow holds page-adjacent chunks in reading order,
	// excluding chunks already in Hits.
	ExpandedWindow []SearchHit `json:"expanded_window"`

	Figures   []Figure   `json:"figures"`
	Citations []Citation `json:"citations"`

	// Selection echoes the highlight that drove the query, if any.
	Selection *Selection `json:"selection,omitempty"`

	// Degraded is set when one retrieval leg failed.
	Degraded *DegradedRetrievalError `json:"degraded,omitempty"`
}
