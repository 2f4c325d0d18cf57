// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// fixedPara returns a paragraph of exactly 200 bytes.
func fixedPara(id string, page int) types.Paragraph {
	head := "Paragraph " + id + " text."
	return types.Paragraph{ID: id, Page: page, Text: head + strings.Repeat("x", 200-len(head))}
}

func longPara(id string) types.Paragraph {
	var b strings.Builder
	for i := 0; b.Len() < 3000; i++ {
		fmt.Fprintf(&b, "Sentence %02d of the very long closing paragraph is here. ", i)
	}
	return types.Paragraph{ID: id, Text: strings.TrimSpace(b.String())}
}

func syntheticPaper() *types.Document {
	counts := []int{5, 2, 40}
	doc := &types.Document{}
	n := 0
	for si, count := range counts {
		sec := types.Section{ID: fmt.Sprintf("S%d", si+1), Title: fmt.Sprintf("Section %d", si+1), Level: 1}
		for i := 0; i < count; i++ {
			n++
			id := fmt.Sprintf("p%03d", n)
			if si == 2 && i == count-1 {
				sec.Paragraphs = append(sec.Paragraphs, longPara(id))
				continue
			}
			sec.Paragraphs = append(sec.Paragraphs, fixedPara(id, 0))
		}
		doc.Sections = append(doc.Sections, sec)
	}
	return doc
}

func TestChunk_SyntheticPaper(t *testing.T) {
	doc := syntheticPaper()
	c := New(WithMaxChars(1000), WithTargetChars(800))
	chunks := c.Chunk("2401.00001", doc)
	require.NotEmpty(t, chunks)

	total := 0
	longID := doc.Sections[2].Paragraphs[39].ID
	var longChunks []types.Chunk
	for i, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Text), 1000, "chunk %d exceeds max", i)
		assert.Equal(t, i, ch.Position)
		assert.Equal(t, LocalID(i), ch.ID)
		assert.Equal(t, "2401.00001", ch.PaperID)
		assert.Zero(t, ch.Page)
		total += len(ch.Text)
		for _, pid := range ch.ParagraphIDs {
			if pid == longID {
				longChunks = append(longChunks, ch)
			}
		}
	}

	require.GreaterOrEqual(t, len(longChunks), 3, "long paragraph must span at least 3 chunks")
	for _, ch := range longChunks[:len(longChunks)-1] {
		assert.True(t, strings.HasSuffix(ch.Text, "."), "split should land on a sentence end: %q", ch.Text[len(ch.Text)-20:])
	}

	// Section 1 packs 3+2, section 2 fits in one chunk.
	assert.Equal(t, "S1", chunks[0].SectionID)
	assert.Len(t, chunks[0].ParagraphIDs, 3)
	assert.Len(t, chunks[1].ParagraphIDs, 2)
	assert.Equal(t, "S2", chunks[2].SectionID)

	lower := total / 1000
	upper := 2 * total / 800
	assert.GreaterOrEqual(t, len(chunks), lower)
	assert.LessOrEqual(t, len(chunks), upper)
}

func TestChunk_OrderAndDeterminism(t *testing.T) {
	doc := syntheticPaper()
	c := New()
	a := c.Chunk("p", doc)
	b := c.Chunk("p", doc)
	assert.Equal(t, a, b)

	// Paragraph order across chunks follows the document.
	var seen []string
	for _, ch := range a {
		for _, id := range ch.ParagraphIDs {
			if len(seen) == 0 || seen[len(seen)-1] != id {
				seen = append(seen, id)
			}
		}
	}
	var want []string
	for _, s := range doc.Sections {
		for _, p := range s.Paragraphs {
			want = append(want, p.ID)
		}
	}
	assert.Equal(t, want, seen)
}

func TestChunk_PageChangeStartsChunk(t *testing.T) {
	doc := &types.Document{Sections: []types.Section{{
		ID: "s", Title: "Body",
		Paragraphs: []types.Paragraph{
			{ID: "a", Text: "Short on page one.", Page: 1},
			{ID: "b", Text: "Also page one.", Page: 1},
			{ID: "c", Text: "Now page two.", Page: 2},
		},
	}}}
	chunks := New().Chunk("p", doc)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, []string{"a", "b"}, chunks[0].ParagraphIDs)
	assert.Equal(t, "Short on page one.\n\nAlso page one.", chunks[0].Text)
	assert.Equal(t, 2, chunks[1].Page)
}

func TestChunk_Adjacency(t *testing.T) {
	doc := &types.Document{
		Sections: []types.Section{
			{ID: "s1", Title: "One", Paragraphs: []types.Paragraph{
				{ID: "a", Text: "Cites one.", Page: 1, CitationRefs: []string{"c1", "missing"}, FigureRefs: []string{"f2"}},
			}},
			{ID: "s2", Title: "Two", Paragraphs: []types.Paragraph{
				{ID: "b", Text: "Anchors a figure.", Page: 2},
				{ID: "c", Text: "Cites again.", Page: 2, CitationRefs: []string{"c1", "c2"}},
			}},
		},
		Figures: []types.Figure{
			{ID: "f1", AnchorParagraphID: "b", Page: 2},
			{ID: "f2", Page: 5, AnchorParagraphID: "zz"},
			{ID: "f3", Page: 2},
			{ID: "f4", Page: 9},
		},
		Citations: []types.Citation{{ID: "c1"}, {ID: "c2"}},
	}

	chunks := New().Chunk("p", doc)
	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"f2"}, chunks[0].FigureIDs)
	assert.Equal(t, []string{"c1"}, chunks[0].CitationIDs, "dangling citation refs are dropped")
	assert.Equal(t, []string{"f1", "f3"}, chunks[1].FigureIDs)
	assert.Equal(t, []string{"c1", "c2"}, chunks[1].CitationIDs)
}

func TestNew_ClampsTarget(t *testing.T) {
	c := New(WithMaxChars(100), WithTargetChars(500))
	assert.Equal(t, 100, c.targetChars)
	assert.Equal(t, 100, c.MaxChars())

	d := New(WithMaxChars(0), WithTargetChars(-1))
	assert.Equal(t, DefaultMaxChars, d.maxChars)
	assert.Equal(t, DefaultTargetChars, d.targetChars)
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want []string
	}{
		{name: "fits", in: "short text", max: 20, want: []string{"short text"}},
		{name: "sentence boundary", in: "One two. Three four five.", max: 15, want: []string{"One two.", "Three four", "five."}},
		{name: "whitespace fallback", in: "alpha beta gamma", max: 12, want: []string{"alpha beta", "gamma"}},
		{name: "hard cut", in: "abcdefghij", max: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "rune boundary", in: "ééééé", max: 3, want: []string{"é", "é", "é", "é", "é"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitText(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			for _, p := range got {
				assert.LessOrEqual(t, len(p), tt.max)
			}
		})
	}
}

func TestChunk_NilDocument(t *testing.T) {
	assert.Nil(t, New().Chunk("p", nil))
}
