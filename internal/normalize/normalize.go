// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package normalize converts source documents into the structured
// Document model: ordered sections of paragraphs, figures, and citations.
//
// HTML handles ar5iv/LaTeXML renderings of arXiv papers. Pages handles
// per-page Markdown produced by an external PDF/OCR extractor. Neither
// performs network access.
package normalize

import (
	"fmt"
	"strings"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// ErrEmptyDocument is returned when a source yields no sections.
var ErrEmptyDocument = types.ErrEmptyDocument

const preambleTitle = "Preamble"

// builder accumulates sections and paragraphs in reading order.
type builder struct {
	doc      types.Document
	current  int // index into doc.Sections, -1 before the first section
	paraSeq  int
	secSeq   int
	lastPara string
}

func newBuilder() *builder {
	return &builder{current: -1}
}

// openSection starts a new section. An empty id gets a generated one.
func (b *builder) openSection(id, title string, level int) {
	b.secSeq++
	if id == "" {
		id = fmt.Sprintf("sec-%03d", b.secSeq)
	}
	title = collapse(title)
	if title == "" {
		title = fmt.Sprintf("Section %d", b.secSeq)
	}
	b.doc.Sections = append(b.doc.Sections, types.Section{
		ID:    id,
		Title: title,
		Level: clampLevel(level),
	})
	b.current = len(b.doc.Sections) - 1
}

// addParagraph appends p to the current section, opening a preamble
// section when text precedes the first heading. Blank text is dropped.
// It returns the assigned paragraph ID, or "" when dropped.
func (b *builder) addParagraph(p types.Paragraph) string {
	p.Text = collapse(p.Text)
	if p.Text == "" {
		return ""
	}
	if b.current < 0 {
		b.openSection("preamble", preambleTitle, 1)
	}
	b.paraSeq++
	p.ID = fmt.Sprintf("para-%05d", b.paraSeq)
	sec := &b.doc.Sections[b.current]
	sec.Paragraphs = append(sec.Paragraphs, p)
	b.lastPara = p.ID
	return p.ID
}

// finish drops sections without paragraphs and returns the document.
func (b *builder) finish() (*types.Document, error) {
	kept := b.doc.Sections[:0]
	for _, s := range b.doc.Sections {
		if len(s.Paragraphs) > 0 {
			kept = append(kept, s)
		}
	}
	b.doc.Sections = kept
	if len(b.doc.Sections) == 0 {
		return nil, ErrEmptyDocument
	}
	if b.doc.Figures == nil {
		b.doc.Figures = []types.Figure{}
	}
	if b.doc.Citations == nil {
		b.doc.Citations = []types.Citation{}
	}
	return &b.doc, nil
}

// collapse trims s and folds internal whitespace runs to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clampLevel(level int) int {
	switch {
	case level < 1:
		return 1
	case level > 6:
		return 6
	}
	return level
}

// appendUnique appends v to list if it is not already present.
func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
