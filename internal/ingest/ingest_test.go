// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/internal/chunk"
	"github.com/pdiddy/evidence-engine/internal/evidence"
	"github.com/pdiddy/evidence-engine/internal/index"
	"github.com/pdiddy/evidence-engine/internal/interactions"
	"github.com/pdiddy/evidence-engine/internal/retrieve"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

const paperHTML = `<html><body><article class="ltx_document">
<h1 class="ltx_title ltx_title_document">Attention Is All You Need</h1>
<section id="S1" class="ltx_section">
  <h2 class="ltx_title ltx_title_section">1 Introduction</h2>
  <div id="S1.p1" class="ltx_para"><p class="ltx_p">Recurrent models <a href="#bib.bib1" class="ltx_ref">1</a> factor computation along positions.</p></div>
  <figure id="S1.F1" class="ltx_figure"><img src="/html/1706.03762/assets/x1.png"><figcaption><span class="ltx_tag ltx_tag_figure">Figure 1: </span>The Transformer.</figcaption></figure>
  <div id="S1.p2" class="ltx_para"><p class="ltx_p">See <a href="#S1.F1" class="ltx_ref">Figure 1</a> for the architecture.</p></div>
</section>
<section id="S2" class="ltx_section">
  <h2 class="ltx_title ltx_title_section">2 Model</h2>
  <div id="S2.p1" class="ltx_para"><p class="ltx_p">Self-attention relates positions of a single sequence.</p></div>
</section>
<section id="bib" class="ltx_bibliography">
  <h2 class="ltx_title ltx_title_bibliography">References</h2>
  <ul class="ltx_biblist">
    <li id="bib.bib1" class="ltx_bibitem"><span class="ltx_tag ltx_tag_bibitem">[1]</span>
      <span class="ltx_bibblock">Sepp Hochreiter and Jürgen Schmidhuber.</span>
      <span class="ltx_bibblock">Long short-term memory.</span>
      <span class="ltx_bibblock">Neural computation, 1997.</span></li>
  </ul>
</section>
</article></body></html>`

// shortHTML is paperHTML with the second section and the figure removed.
const shortHTML = `<html><body><article class="ltx_document">
<section id="S1" class="ltx_section">
  <h2 class="ltx_title ltx_title_section">1 Introduction</h2>
  <div id="S1.p1" class="ltx_para"><p class="ltx_p">Recurrent models factor computation along positions.</p></div>
</section>
</article></body></html>`

type fakeFetcher struct {
	html    string
	metaErr error
	htmlErr error
}

func (f *fakeFetcher) FetchMetadata(_ context.Context, id, _ string) (*types.Paper, error) {
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	return &types.Paper{
		ID:          id,
		Title:       "Attention Is All You Need",
		Authors:     []string{"Ashish Vaswani"},
		PublishedAt: time.Date(2017, 6, 12, 0, 0, 0, 0, time.UTC),
		Categories:  []string{"cs.CL"},
		SourceURL:   "https://arxiv.org/abs/" + id,
	}, nil
}

func (f *fakeFetcher) FetchHTML(_ context.Context, id string) (string, string, error) {
	if f.htmlErr != nil {
		return "", "", f.htmlErr
	}
	return f.html, "https://ar5iv.labs.arxiv.org/html/" + id, nil
}

func openIndex(t *testing.T) *index.Store {
	t.Helper()
	store, err := index.Open(context.Background(), types.IndexConfig{Path: filepath.Join(t.TempDir(), "ingest.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestInline(t *testing.T) {
	p := New(&fakeFetcher{html: paperHTML}, nil, nil)

	res, err := p.Inline(context.Background(), "https://arxiv.org/abs/1706.03762v7")
	require.NoError(t, err)

	assert.Equal(t, "1706.03762", res.ArxivID)
	assert.Equal(t, "Attention Is All You Need", res.Title)
	assert.Equal(t, []string{"Ashish Vaswani"}, res.Authors)
	assert.Equal(t, []string{"cs.CL"}, res.Categories)
	assert.Equal(t, "https://arxiv.org/abs/1706.03762", res.SourceURL)
	require.Len(t, res.Sections, 2)
	assert.Equal(t, "1 Introduction", res.Sections[0].Title)
	require.Len(t, res.Figures, 1)
	assert.Equal(t, "https://ar5iv.labs.arxiv.org/html/1706.03762/assets/x1.png", res.Figures[0].ImageURL)
}

func TestInline_MetadataFailure(t *testing.T) {
	metaErr := &types.FetchError{Op: "metadata", StatusCode: 500}
	p := New(&fakeFetcher{html: paperHTML, metaErr: metaErr}, nil, nil)

	res, err := p.Inline(context.Background(), "1706.03762")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, types.ErrFetchFailed)
	var fe *types.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "metadata", fe.Op)
}

func TestArxiv_MetadataFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := openIndex(t)
	p := New(&fakeFetcher{html: paperHTML, metaErr: &types.FetchError{Op: "metadata", Timeout: true}}, store, nil)

	_, err := p.Arxiv(ctx, "1706.03762")
	assert.ErrorIs(t, err, types.ErrFetchTimeout)

	n, err := store.CountChunks(ctx, "1706.03762")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInline_Failures(t *testing.T) {
	timeout := &types.FetchError{Op: "html", Timeout: true, Err: context.DeadlineExceeded}
	_, err := New(&fakeFetcher{htmlErr: timeout}, nil, nil).Inline(context.Background(), "1706.03762")
	assert.ErrorIs(t, err, types.ErrFetchTimeout)

	_, err = New(&fakeFetcher{html: "<html><body></body></html>"}, nil, nil).Inline(context.Background(), "1706.03762")
	assert.ErrorIs(t, err, types.ErrEmptyDocument)

	_, err = New(&fakeFetcher{html: paperHTML}, nil, nil).Inline(context.Background(), "not an id")
	assert.Error(t, err)

	_, err = New(nil, nil, nil).Inline(context.Background(), "1706.03762")
	assert.Error(t, err)
}

func TestArxiv_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := openIndex(t)
	p := New(&fakeFetcher{html: paperHTML}, store, chunk.New())

	first, err := p.Arxiv(ctx, "1706.03762")
	require.NoError(t, err)
	assert.Equal(t, 2, first.Sections)
	assert.Equal(t, 1, first.Figures)
	assert.Equal(t, 1, first.Citations)
	assert.Positive(t, first.Chunks)

	statsBefore, err := store.Stats(ctx)
	require.NoError(t, err)
	chunksBefore, err := store.Chunks(ctx, "1706.03762")
	require.NoError(t, err)

	second, err := p.Arxiv(ctx, "arXiv:1706.03762v2")
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Zero(t, second.Pruned)

	statsAfter, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, statsBefore, statsAfter)
	chunksAfter, err := store.Chunks(ctx, "1706.03762")
	require.NoError(t, err)
	assert.Equal(t, chunksBefore, chunksAfter)

	paper, err := store.Paper(ctx, "1706.03762")
	require.NoError(t, err)
	assert.Equal(t, "Attention Is All You Need", paper.Title)
}

func TestArxiv_ReingestPrunesStaleRecords(t *testing.T) {
	ctx := context.Background()
	store := openIndex(t)
	f := &fakeFetcher{html: paperHTML}
	p := New(f, store, chunk.New(chunk.WithTargetChars(60), chunk.WithMaxChars(80)))

	first, err := p.Arxiv(ctx, "1706.03762")
	require.NoError(t, err)
	require.Greater(t, first.Chunks, 1)

	f.html = shortHTML
	second, err := p.Arxiv(ctx, "1706.03762")
	require.NoError(t, err)
	assert.Positive(t, second.Pruned)

	n, err := store.CountChunks(ctx, "1706.03762")
	require.NoError(t, err)
	assert.Equal(t, second.Chunks, n)
	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Figures)
	assert.Zero(t, st.Citations)
}

func TestPages(t *testing.T) {
	ctx := context.Background()
	store := openIndex(t)
	p := New(nil, store, nil)

	ext := &types.Extraction{
		Pages: []types.PageText{
			{Text: "# 1 Introduction\n\nAttention was introduced by [1].\n\nFigure 1 shows the model.\n"},
			{Text: "# 2 Model\n\nSelf-attention relates positions.\n"},
			{Text: "# References\n\n[1] Bahdanau, D. Neural machine translation. ICLR, 2014.\n"},
		},
		Figures: []types.PageFigure{{Label: "Figure 1", Caption: "The model.", Page: 1}},
	}

	sum, err := p.Pages(ctx, types.Paper{Title: "Uploaded"}, ext)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sum.PaperID, "upload-"))
	assert.Equal(t, UploadID(ext), sum.PaperID)
	assert.Equal(t, 1, sum.Figures)
	assert.Equal(t, 1, sum.Citations)

	chunks, err := store.Chunks(ctx, sum.PaperID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, 1, chunks[0].Page)

	again, err := p.Pages(ctx, types.Paper{Title: "Uploaded"}, ext)
	require.NoError(t, err)
	assert.Equal(t, sum.PaperID, again.PaperID)
	assert.Zero(t, again.Pruned)

	named, err := p.Pages(ctx, types.Paper{ID: "paper-7"}, ext)
	require.NoError(t, err)
	assert.Equal(t, "paper-7", named.PaperID)

	_, err = p.Pages(ctx, types.Paper{}, &types.Extraction{Pages: []types.PageText{{Text: "  "}}})
	assert.ErrorIs(t, err, types.ErrEmptyDocument)
}

func TestPages_ReingestInvalidatesCachedEvidence(t *testing.T) {
	ctx := context.Background()
	store := openIndex(t)
	cache := interactions.NewMemory(time.Hour)
	p := New(nil, store, nil, WithInvalidator(cache))
	asm := evidence.New(retrieve.New(store), store, evidence.WithCache(cache))
	opts := evidence.Options{UserID: "u"}

	extraction := func(text string) *types.Extraction {
		return &types.Extraction{Pages: []types.PageText{{Text: "# 1 Introduction\n\n" + text + "\n"}}}
	}

	_, err := p.Pages(ctx, types.Paper{ID: "paper-7"}, extraction("Old attention text."))
	require.NoError(t, err)
	before, err := asm.LoadEvidence(ctx, "paper-7", "attention", opts)
	require.NoError(t, err)
	require.NotEmpty(t, before.Hits)
	assert.Contains(t, before.Hits[0].Text, "Old attention text.")

	sum, err := p.Pages(ctx, types.Paper{ID: "paper-7"}, extraction("New attention text."))
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Invalidated)

	after, err := asm.LoadEvidence(ctx, "paper-7", "attention", opts)
	require.NoError(t, err)
	require.NotEmpty(t, after.Hits)
	assert.Contains(t, after.Hits[0].Text, "New attention text.")
}

type failingInvalidator struct{}

func (failingInvalidator) DeletePaper(context.Context, string) (int64, error) {
	return 0, errors.New("cache offline")
}

func TestPages_InvalidatorErrorPropagates(t *testing.T) {
	store := openIndex(t)
	ext := &types.Extraction{Pages: []types.PageText{{Text: "# A\n\nBody text.\n"}}}

	_, err := New(nil, store, nil, WithInvalidator(failingInvalidator{})).Pages(context.Background(), types.Paper{ID: "p"}, ext)
	assert.ErrorContains(t, err, "cache offline")
}

func TestPages_IndexErrorsPropagate(t *testing.T) {
	store := openIndex(t)
	require.NoError(t, store.Close())

	ext := &types.Extraction{Pages: []types.PageText{{Text: "# A\n\nBody text.\n"}}}
	_, err := New(nil, store, nil).Pages(context.Background(), types.Paper{ID: "p"}, ext)
	assert.Error(t, err)
}

func TestReadExtraction(t *testing.T) {
	ctx := context.Background()

	ext, err := ReadExtraction(ctx, strings.NewReader(
		`{"pages":[{"text":"# A\n\nBody"}],"figures":[{"label":"Figure 1","caption":"c","page":1}],"analysis":{"engine":"ocr"}}`),
		FormatStructured)
	require.NoError(t, err)
	require.Len(t, ext.Pages, 1)
	assert.Equal(t, 1, ext.Figures[0].Page)
	assert.Equal(t, "ocr", ext.Analysis["engine"])

	ext, err = ReadExtraction(ctx, strings.NewReader("pages:\n  - text: hello\n"), FormatStructured)
	require.NoError(t, err)
	assert.Equal(t, "hello", ext.Pages[0].Text)

	ext, err = ReadExtraction(ctx, strings.NewReader("one\n<!-- page 2 -->\ntwo\n"), FormatMarkdown)
	require.NoError(t, err)
	require.Len(t, ext.Pages, 2)
	assert.Contains(t, ext.Pages[1].Text, "two")

	_, err = ReadExtraction(ctx, strings.NewReader(`{"pages":[]}`), FormatStructured)
	assert.Error(t, err)
	_, err = ReadExtraction(ctx, strings.NewReader(""), "pdf")
	assert.Error(t, err)
}

func TestReadExtraction_Timeout(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := ReadExtraction(ctx, r, FormatStructured)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatMarkdown, FormatForPath("paper.MD"))
	assert.Equal(t, FormatStructured, FormatForPath("paper.json"))
	assert.Equal(t, FormatStructured, FormatForPath("-"))
}
