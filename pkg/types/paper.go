// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the evidence-engine
// ingest and retrieval pipeline: the normalized paper model (Paper,
// Section, Paragraph, Figure, Citation), retrieval units (Chunk,
// SearchHit), the per-query EvidenceContext, configuration, and the
// error taxonomy.
package types

import "time"

// Paper holds the metadata of an ingested paper. A Paper is created once
// per ingest call; re-ingest with the same ID overwrites it.
type Paper struct {
	// ID is the arXiv identifier (e.g. "1706.03762") or an opaque ingest ID
	// for uploaded files.
	ID string `json:"id" yaml:"id"`

	// Title is the paper title.
	Title string `json:"title" yaml:"title"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors" yaml:"authors"`

	// PublishedAt is the publication or first-preprint date.
	PublishedAt time.Time `json:"published_at" yaml:"published_at"`

	// Categories lists arXiv subject categories (e.g. "cs.CL").
	Categories []string `json:"categories,omitempty" yaml:"categories,omitempty"`

	// SourceURL is the canonical landing page for the paper.
	SourceURL string `json:"source_url" yaml:"source_url"`

	// Abstract is the paper abstract when the metadata source provides one.
	Abstract string `json:"abstract,omitempty" yaml:"abstract,omitempty"`
}

// Section is an ordered heading-delimited part of a paper.
type Section struct {
	// ID is the local identifier, stable for unchanged source documents
	// (e.g. "S3" from ar5iv markup, or "s0002" when synthesized).
	ID string `json:"id" yaml:"id"`

	// Title is the heading text. Numbering tags in ar5iv markup are
	// dropped; headings recovered from page text keep their numbering.
	Title string `json:"title" yaml:"title"`

	// Level is the heading depth, clamped to 1..6.
	Level int `json:"level" yaml:"level"`

	// Paragraphs lists the section body in document order.
	Paragraphs []Paragraph `json:"paragraphs" yaml:"paragraphs"`
}

// Paragraph is a unit of plain text within a Section. Text is never empty
// after normalization.
type Paragraph struct {
	ID   string `json:"id" yaml:"id"`
	Text string `json:"text" yaml:"text"`

	// Page is the 1-based source page, or 0 when the source has no pages.
	Page int `json:"page,omitempty" yaml:"page,omitempty"`

	// FigureRefs lists figure IDs referenced in-text by this paragraph.
	FigureRefs []string `json:"figure_refs,omitempty" yaml:"figure_refs,omitempty"`

	// CitationRefs lists citation IDs referenced in-text by this paragraph.
	CitationRefs []string `json:"citation_refs,omitempty" yaml:"citation_refs,omitempty"`
}

// Figure is a captioned figure belonging to a paper.
type Figure struct {
	ID      string `json:"id" yaml:"id"`
	Label   string `json:"label,omitempty" yaml:"label,omitempty"`
	Caption string `json:"caption" yaml:"caption"`

	// ImageURL is absolute when it could be resolved, empty otherwise.
	ImageURL string `json:"image_url,omitempty" yaml:"image_url,omitempty"`

	// Page is the 1-based page the figure appears on, 0 when unknown.
	Page int `json:"page,omitempty" yaml:"page,omitempty"`

	// AnchorParagraphID is the paragraph the figure follows in document
	// order. Empty for page-only sources.
	AnchorParagraphID string `json:"anchor_paragraph_id,omitempty" yaml:"anchor_paragraph_id,omitempty"`
}

// Citation is a bibliography entry of a paper. Every field except ID is
// best-effort.
type Citation struct {
	ID       string   `json:"id" yaml:"id"`
	Title    string   `json:"title,omitempty" yaml:"title,omitempty"`
	Authors  []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Year     string   `json:"year,omitempty" yaml:"year,omitempty"`
	Source   string   `json:"source,omitempty" yaml:"source,omitempty"`
	DOI      string   `json:"doi,omitempty" yaml:"doi,omitempty"`
	URL      string   `json:"url,omitempty" yaml:"url,omitempty"`
	ArxivID  string   `json:"arxiv_id,omitempty" yaml:"arxiv_id,omitempty"`
	Abstract string   `json:"abstract,omitempty" yaml:"abstract,omitempty"`

	// RawText is the unparsed bibliography entry.
	RawText string `json:"raw_text,omitempty" yaml:"raw_text,omitempty"`
}

// Document is the output of source normalization.
type Document struct {
	Sections  []Section  `json:"sections" yaml:"sections"`
	Figures   []Figure   `json:"figures" yaml:"figures"`
	Citations []Citation `json:"citations" yaml:"citations"`
}

// ParagraphCount returns the number of paragraphs across all sections.
func (d *Document) ParagraphCount() int {
	n := 0
	for _, s := range d.Sections {
		n += len(s.Paragraphs)
	}
	return n
}

// PageText is one page of extracted text from the PDF/OCR path. Text is
// Markdown as produced by OCR engines, or plain text.
type PageText struct {
	Text string `json:"text" yaml:"text"`
}

// PageFigure is a figure reported by the PDF/OCR extractor.
type PageFigure struct {
	Label    string `json:"label,omitempty" yaml:"label,omitempty"`
	Caption  string `json:"caption" yaml:"caption"`
	Page     int    `json:"page" yaml:"page"`
	ImageURL string `json:"image_url,omitempty" yaml:"image_url,omitempty"`
}

// Extraction is the payload produced by the external PDF/OCR extraction
// collaborator. Only Pages and Figures are consumed; the remaining fields
// are carried so the payload round-trips without loss.
type Extraction struct {
	Pages    []PageText     `json:"pages" yaml:"pages"`
	Figures  []PageFigure   `json:"figures" yaml:"figures"`
	Tables   []any          `json:"tables,omitempty" yaml:"tables,omitempty"`
	Images   []any          `json:"images,omitempty" yaml:"images,omitempty"`
	Analysis map[string]any `json:"analysis,omitempty" yaml:"analysis,omitempty"`
}
