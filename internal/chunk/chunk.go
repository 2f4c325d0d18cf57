// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package chunk packs normalized paragraphs into bounded retrieval chunks
// and tags each chunk with the figures and citations it is adjacent to.
package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Default limits, in bytes of UTF-8 text.
const (
	DefaultMaxChars    = 1000
	DefaultTargetChars = 800
)

const paragraphSep = "\n\n"

// Chunker splits documents into chunks. The zero value is not usable;
// construct with New.
type Chunker struct {
	maxChars    int
	targetChars int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxChars sets the hard upper bound on chunk text length.
func WithMaxChars(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithTargetChars sets the soft packing target. It is clamped to the
// maximum.
func WithTargetChars(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.targetChars = n
		}
	}
}

// New returns a Chunker with the given options applied over the defaults.
func New(opts ...Option) *Chunker {
	c := &Chunker{maxChars: DefaultMaxChars, targetChars: DefaultTargetChars}
	for _, o := range opts {
		o(c)
	}
	if c.targetChars > c.maxChars {
		c.targetChars = c.maxChars
	}
	return c
}

// MaxChars returns the configured hard bound.
func (c *Chunker) MaxChars() int { return c.maxChars }

// unit is a paragraph, or one piece of an oversized paragraph.
type unit struct {
	section *types.Section
	para    *types.Paragraph
	text    string
}

// Chunk packs doc's paragraphs, in reading order, into chunks for paperID.
// Paragraphs are accumulated while the chunk stays within the target
// size; a section or page change always starts a new chunk. Paragraphs
// longer than the maximum are split at sentence boundaries. Positions
// start at 0 and increase by one per chunk.
func (c *Chunker) Chunk(paperID string, doc *types.Document) []types.Chunk {
	if doc == nil {
		return nil
	}

	var units []unit
	for si := range doc.Sections {
		sec := &doc.Sections[si]
		for pi := range sec.Paragraphs {
			p := &sec.Paragraphs[pi]
			for _, piece := range splitText(p.Text, c.maxChars) {
				units = append(units, unit{section: sec, para: p, text: piece})
			}
		}
	}

	adj := newAdjacency(doc)
	var chunks []types.Chunk
	var cur []unit
	size := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, c.build(paperID, len(chunks), cur, adj))
		cur = nil
		size = 0
	}

	for _, u := range units {
		if len(cur) > 0 {
			first := cur[0]
			if u.section != first.section || u.para.Page != first.para.Page ||
				size+len(paragraphSep)+len(u.text) > c.targetChars {
				flush()
			}
		}
		if len(cur) > 0 {
			size += len(paragraphSep)
		}
		cur = append(cur, u)
		size += len(u.text)
	}
	flush()

	return chunks
}

func (c *Chunker) build(paperID string, position int, units []unit, adj *adjacency) types.Chunk {
	texts := make([]string, len(units))
	var paraIDs []string
	for i, u := range units {
		texts[i] = u.text
		paraIDs = appendUnique(paraIDs, u.para.ID)
	}

	first := units[0]
	ch := types.Chunk{
		ID:           LocalID(position),
		PaperID:      paperID,
		SectionID:    first.section.ID,
		SectionTitle: first.section.Title,
		Page:         first.para.Page,
		Text:         strings.Join(texts, paragraphSep),
		Position:     position,
		ParagraphIDs: paraIDs,
	}
	for _, u := range units {
		for _, id := range u.para.FigureRefs {
			if adj.figures[id] {
				ch.FigureIDs = appendUnique(ch.FigureIDs, id)
			}
		}
		for _, id := range adj.anchored[u.para.ID] {
			ch.FigureIDs = appendUnique(ch.FigureIDs, id)
		}
		for _, id := range u.para.CitationRefs {
			if adj.citations[id] {
				ch.CitationIDs = appendUnique(ch.CitationIDs, id)
			}
		}
	}
	if ch.Page > 0 {
		for _, id := range adj.byPage[ch.Page] {
			ch.FigureIDs = appendUnique(ch.FigureIDs, id)
		}
	}
	return ch
}

// LocalID is the document-local chunk ID for a position. It is stable
// across re-ingest of unchanged content and seeds the chunk UUID.
func LocalID(position int) string {
	return fmt.Sprintf("chunk-%05d", position)
}

// adjacency indexes the figure and citation anchors of a document.
type adjacency struct {
	figures   map[string]bool
	citations map[string]bool
	anchored  map[string][]string // paragraph ID -> figure IDs
	byPage    map[int][]string    // page -> unanchored figure IDs
}

func newAdjacency(doc *types.Document) *adjacency {
	a := &adjacency{
		figures:   make(map[string]bool, len(doc.Figures)),
		citations: make(map[string]bool, len(doc.Citations)),
		anchored:  make(map[string][]string),
		byPage:    make(map[int][]string),
	}
	for _, f := range doc.Figures {
		a.figures[f.ID] = true
		switch {
		case f.AnchorParagraphID != "":
			a.anchored[f.AnchorParagraphID] = append(a.anchored[f.AnchorParagraphID], f.ID)
		case f.Page > 0:
			a.byPage[f.Page] = append(a.byPage[f.Page], f.ID)
		}
	}
	for _, c := range doc.Citations {
		a.citations[c.ID] = true
	}
	return a
}

// splitText returns s as pieces of at most max bytes. Cuts prefer the
// last sentence end before the limit, then the last whitespace, then a
// rune boundary.
func splitText(s string, max int) []string {
	s = strings.TrimSpace(s)
	var pieces []string
	for len(s) > max {
		cut := cutPoint(s, max)
		piece := strings.TrimSpace(s[:cut])
		if piece != "" {
			pieces = append(pieces, piece)
		}
		s = strings.TrimSpace(s[cut:])
	}
	if s != "" {
		pieces = append(pieces, s)
	}
	return pieces
}

func cutPoint(s string, max int) int {
	limit := max
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	if limit == 0 {
		// A single rune wider than max; emit it whole.
		_, size := utf8.DecodeRuneInString(s)
		return size
	}
	window := s[:limit]

	if i := lastSentenceEnd(window); i > 0 {
		return i
	}
	if i := strings.LastIndexAny(window, " \t\n"); i > 0 {
		return i
	}
	return limit
}

// lastSentenceEnd returns the index just past the last ".", "!" or "?"
// in s that is followed by whitespace, or 0.
func lastSentenceEnd(s string) int {
	for i := len(s) - 2; i > 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			if s[i+1] == ' ' || s[i+1] == '\n' {
				return i + 1
			}
		}
	}
	return 0
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
