// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package normalize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

const ar5ivFixture = `<!DOCTYPE html>
<html><head><title>Attention Is All You Need</title></head>
<body>
<div class="ltx_page_main">
<article class="ltx_document">
  <h1 class="ltx_title ltx_title_document">Attention Is All You Need</h1>
  <div class="ltx_authors"><span class="ltx_personname">Ashish Vaswani</span></div>
  <div class="ltx_abstract">
    <h6 class="ltx_title ltx_title_abstract">Abstract</h6>
    <p class="ltx_p">The dominant sequence transduction models are based on recurrent networks.</p>
  </div>
  <section id="S1" class="ltx_section">
    <h2 class="ltx_title ltx_title_section"><span class="ltx_tag ltx_tag_section">1 </span>Introduction</h2>
    <div id="S1.p1" class="ltx_para">
      <p class="ltx_p">Recurrent models <cite class="ltx_cite"><a href="#bib.bib2" class="ltx_ref">2</a></cite> factor computation along symbol positions.</p>
    </div>
    <figure id="S1.F1" class="ltx_figure">
      <img src="x1.png" class="ltx_graphics" alt="">
      <figcaption class="ltx_caption"><span class="ltx_tag ltx_tag_figure">Figure 1: </span>The Transformer model architecture.</figcaption>
    </figure>
    <div id="S1.p2" class="ltx_para">
      <p class="ltx_p">See <a href="#S1.F1" class="ltx_ref">Figure 1</a> where attention uses
      <math alttext="\sqrt{d_k}" display="inline"><semantics><mi>d</mi></semantics></math> scaling.</p>
    </div>
    <section id="S1.SS1" class="ltx_subsection">
      <h3 class="ltx_title ltx_title_subsection"><span class="ltx_tag">1.1 </span>Self-attention</h3>
      <div id="S1.SS1.p1" class="ltx_para">
        <p class="ltx_p">Self-attention relates positions of a single sequence <cite class="ltx_cite"><a href="#bib.bib1" class="ltx_ref">1</a></cite>.</p>
      </div>
    </section>
  </section>
  <section id="bib" class="ltx_bibliography">
    <h2 class="ltx_title ltx_title_bibliography">References</h2>
    <ul class="ltx_biblist">
      <li id="bib.bib1" class="ltx_bibitem"><span class="ltx_tag ltx_tag_bibitem">[1]</span>
        <span class="ltx_bibblock">Dzmitry Bahdanau, Kyunghyun Cho, and Yoshua Bengio.</span>
        <span class="ltx_bibblock">Neural machine translation by jointly learning to align and translate.</span>
        <span class="ltx_bibblock"><em>CoRR</em>, abs/1409.0473, 2014. arXiv:1409.0473.</span>
      </li>
      <li id="bib.bib2" class="ltx_bibitem"><span class="ltx_tag ltx_tag_bibitem">[2]</span>
        <span class="ltx_bibblock">Sepp Hochreiter and Jürgen Schmidhuber.</span>
        <span class="ltx_bibblock">Long short-term memory.</span>
        <span class="ltx_bibblock">Neural computation, 1997. <a href="https://doi.org/10.1162/neco.1997.9.8.1735">doi</a></span>
      </li>
    </ul>
  </section>
</article>
</div>
</body></html>`

func TestHTML_Ar5iv(t *testing.T) {
	doc, err := HTML(ar5ivFixture, "https://ar5iv.labs.arxiv.org/html/1706.03762")
	require.NoError(t, err)

	require.Len(t, doc.Sections, 3)
	assert.Equal(t, "Abstract", doc.Sections[0].Title)
	assert.Equal(t, "S1", doc.Sections[1].ID)
	assert.Equal(t, "Introduction", doc.Sections[1].Title)
	assert.Equal(t, 2, doc.Sections[1].Level)
	assert.Equal(t, "Self-attention", doc.Sections[2].Title)
	assert.Equal(t, 3, doc.Sections[2].Level)

	intro := doc.Sections[1].Paragraphs
	require.Len(t, intro, 2)
	assert.Equal(t, []string{"bib.bib2"}, intro[0].CitationRefs)
	assert.Equal(t, []string{"S1.F1"}, intro[1].FigureRefs)
	assert.Contains(t, intro[1].Text, `\sqrt{d_k}`)
	assert.Zero(t, intro[0].Page)

	require.Len(t, doc.Figures, 1)
	fig := doc.Figures[0]
	assert.Equal(t, "S1.F1", fig.ID)
	assert.Equal(t, "Figure 1", fig.Label)
	assert.Equal(t, "The Transformer model architecture.", fig.Caption)
	assert.Equal(t, "https://ar5iv.labs.arxiv.org/html/x1.png", fig.ImageURL)
	assert.Equal(t, intro[0].ID, fig.AnchorParagraphID)

	require.Len(t, doc.Citations, 2)
	c1 := doc.Citations[0]
	assert.Equal(t, "bib.bib1", c1.ID)
	assert.Equal(t, "Neural machine translation by jointly learning to align and translate", c1.Title)
	assert.Equal(t, "2014", c1.Year)
	assert.Equal(t, "1409.0473", c1.ArxivID)
	c2 := doc.Citations[1]
	assert.Equal(t, "Long short-term memory", c2.Title)
	assert.Equal(t, "10.1162/neco.1997.9.8.1735", c2.DOI)
	assert.Equal(t, []string{"Sepp Hochreiter", "Jürgen Schmidhuber"}, c2.Authors)
}

func TestHTML_PreservesOrder(t *testing.T) {
	doc, err := HTML(ar5ivFixture, "")
	require.NoError(t, err)

	var ids []string
	for _, s := range doc.Sections {
		for _, p := range s.Paragraphs {
			ids = append(ids, p.ID)
		}
	}
	assert.Equal(t, []string{"para-00001", "para-00002", "para-00003", "para-00004"}, ids)
	assert.Empty(t, doc.Figures[0].ImageURL, "relative image without base resolves to empty")
}

func TestHTML_NestedSectionReturnsToParent(t *testing.T) {
	raw := `<html><body><article class="ltx_document">
<section id="S1" class="ltx_section">
  <h2 class="ltx_title"><span class="ltx_tag">1 </span>Introduction</h2>
  <div class="ltx_para"><p class="ltx_p">Intro opening.</p></div>
  <section id="S1.SS1" class="ltx_subsection">
    <h3 class="ltx_title"><span class="ltx_tag">1.1 </span>Background</h3>
    <div class="ltx_para"><p class="ltx_p">Sub text.</p></div>
  </section>
  <div class="ltx_para"><p class="ltx_p">Intro closing paragraph.</p></div>
</section>
<section id="S2" class="ltx_section">
  <h2 class="ltx_title"><span class="ltx_tag">2 </span>Model</h2>
  <div class="ltx_para"><p class="ltx_p">Model text.</p></div>
</section>
</article></body></html>`

	doc, err := HTML(raw, "")
	require.NoError(t, err)
	require.Len(t, doc.Sections, 3)

	texts := func(s types.Section) []string {
		var out []string
		for _, p := range s.Paragraphs {
			out = append(out, p.Text)
		}
		return out
	}
	assert.Equal(t, "S1", doc.Sections[0].ID)
	assert.Equal(t, []string{"Intro opening.", "Intro closing paragraph."}, texts(doc.Sections[0]))
	assert.Equal(t, "S1.SS1", doc.Sections[1].ID)
	assert.Equal(t, "Background", doc.Sections[1].Title)
	assert.Equal(t, []string{"Sub text."}, texts(doc.Sections[1]))
	assert.Equal(t, "S2", doc.Sections[2].ID)
	assert.Equal(t, []string{"Model text."}, texts(doc.Sections[2]))
}

func TestHTML_PlainHeadings(t *testing.T) {
	raw := `<html><body>
<p>Lead text before any heading.</p>
<h2>Method</h2><p>We do things.</p><ul><li>first point</li></ul>
<h2>Results</h2><p>It works.</p>
</body></html>`

	doc, err := HTML(raw, "")
	require.NoError(t, err)
	require.Len(t, doc.Sections, 3)
	assert.Equal(t, preambleTitle, doc.Sections[0].Title)
	assert.Equal(t, "Method", doc.Sections[1].Title)
	assert.Len(t, doc.Sections[1].Paragraphs, 2)
	assert.Empty(t, doc.Figures)
	assert.NotNil(t, doc.Figures)
}

func TestHTML_Empty(t *testing.T) {
	_, err := HTML(`<html><body><script>var x;</script></body></html>`, "")
	assert.True(t, errors.Is(err, ErrEmptyDocument))
	assert.True(t, errors.Is(err, types.ErrEmptyDocument))
}

func TestResolveURL(t *testing.T) {
	doc, err := HTML(`<article><p>x</p><figure class="ltx_figure" id="F1"><img src="https://cdn.example.org/a.png"></figure></article>`, "")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.org/a.png", doc.Figures[0].ImageURL)
	assert.Equal(t, "", resolveURL(nil, "::bad"))
}
