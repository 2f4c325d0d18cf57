// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package normalize

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// skipSelector lists elements whose text never belongs to the body.
const skipSelector = "script, style, noscript, nav, header, footer, " +
	".ltx_bibliography, .ltx_biblist, .ltx_page_footer, .ltx_page_header, " +
	"figure.ltx_table, table, .ltx_authors, .ltx_dates, .ltx_role_affiliation"

const headingSelector = "h1, h2, h3, h4, h5, h6"

// HTML parses an ar5iv/LaTeXML paper rendering into a Document.
// Image sources are resolved against baseURL; an image that cannot be
// resolved gets an empty ImageURL. Plain HTML without LaTeXML markup is
// handled by treating headings as section starts.
func HTML(raw, baseURL string) (*types.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	base, _ := url.Parse(baseURL)
	root := doc.Find("article.ltx_document").First()
	if root.Length() == 0 {
		root = doc.Find("article").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}

	w := &htmlWalker{
		b:         newBuilder(),
		base:      base,
		figureIDs: make(map[string]bool),
		citeIDs:   make(map[string]bool),
		used:      make(map[*html.Node]bool),
		scope:     -1,
	}

	// Collect targets first so in-text refs can be classified.
	doc.Find("figure.ltx_figure[id]").Each(func(_ int, s *goquery.Selection) {
		w.figureIDs[s.AttrOr("id", "")] = true
	})
	doc.Find("li.ltx_bibitem[id]").Each(func(_ int, s *goquery.Selection) {
		w.citeIDs[s.AttrOr("id", "")] = true
	})

	w.walk(root)

	doc.Find("li.ltx_bibitem").Each(func(i int, s *goquery.Selection) {
		w.b.doc.Citations = append(w.b.doc.Citations, bibItem(i, s))
	})

	return w.b.finish()
}

type htmlWalker struct {
	b         *builder
	base      *url.URL
	figureIDs map[string]bool
	citeIDs   map[string]bool

	// used marks heading nodes already consumed as section titles.
	used map[*html.Node]bool

	// scope is the section opened by the innermost enclosing section
	// element, -1 at the document level.
	scope int
}

func (w *htmlWalker) walk(sel *goquery.Selection) {
	sel.Children().Each(func(_ int, c *goquery.Selection) {
		switch {
		case c.Is(skipSelector):
		case c.Is("h1.ltx_title_document"):
		case c.Is("figure.ltx_figure"):
			w.figure(c)
		case c.Is("section, div.ltx_abstract"):
			enclosing := w.scope
			if w.section(c) {
				w.scope = w.b.current
			}
			w.walk(c)
			// Text after a nested section belongs to the enclosing one.
			w.scope = enclosing
			if enclosing >= 0 {
				w.b.current = enclosing
			}
		case c.Is(headingSelector):
			if !w.used[c.Get(0)] {
				w.b.openSection(c.AttrOr("id", ""), headingText(c), headingLevel(c))
			}
		case c.Is("p"):
			w.paragraph(c)
		case c.Is("li") && c.Find("p").Length() == 0:
			w.paragraph(c)
		default:
			w.walk(c)
		}
	})
}

// section opens a section for a LaTeXML section element, using its first
// direct heading as the title. It reports whether a section was opened.
func (w *htmlWalker) section(c *goquery.Selection) bool {
	if c.Is("div.ltx_abstract") {
		if h := c.ChildrenFiltered(headingSelector).First(); h.Length() > 0 {
			w.used[h.Get(0)] = true
		}
		w.b.openSection("abstract", "Abstract", 1)
		return true
	}
	h := c.ChildrenFiltered(headingSelector).First()
	if h.Length() == 0 {
		return false
	}
	w.used[h.Get(0)] = true
	w.b.openSection(c.AttrOr("id", ""), headingText(h), headingLevel(h))
	return true
}

func (w *htmlWalker) paragraph(c *goquery.Selection) {
	p := types.Paragraph{Text: inlineText(c)}
	c.Find("a.ltx_ref[href^='#'], a[href^='#']").Each(func(_ int, a *goquery.Selection) {
		target := strings.TrimPrefix(a.AttrOr("href", ""), "#")
		switch {
		case w.figureIDs[target]:
			p.FigureRefs = appendUnique(p.FigureRefs, target)
		case w.citeIDs[target]:
			p.CitationRefs = appendUnique(p.CitationRefs, target)
		}
	})
	w.b.addParagraph(p)
}

func (w *htmlWalker) figure(c *goquery.Selection) {
	id := c.AttrOr("id", "")
	if id == "" {
		id = fmt.Sprintf("figure-%03d", len(w.b.doc.Figures)+1)
	}

	caption := c.ChildrenFiltered("figcaption").First()
	if caption.Length() == 0 {
		caption = c.Find("figcaption").First()
	}
	label := collapse(caption.Find(".ltx_tag_figure, .ltx_tag").First().Text())
	label = strings.TrimRight(label, ": ")
	text := caption.Clone()
	text.Find(".ltx_tag").Remove()

	w.b.doc.Figures = append(w.b.doc.Figures, types.Figure{
		ID:                id,
		Label:             label,
		Caption:           inlineText(text),
		ImageURL:          resolveURL(w.base, c.Find("img").First().AttrOr("src", "")),
		AnchorParagraphID: w.b.lastPara,
	})
}

// bibItem converts an ltx_bibitem into a Citation. LaTeXML splits an entry
// into bibblocks ordered authors, title, venue.
func bibItem(i int, s *goquery.Selection) types.Citation {
	id := s.AttrOr("id", "")
	if id == "" {
		id = fmt.Sprintf("bib-%03d", i+1)
	}

	var blocks []string
	s.Find(".ltx_bibblock").Each(func(_ int, b *goquery.Selection) {
		if t := inlineText(b); t != "" {
			blocks = append(blocks, t)
		}
	})
	body := s.Clone()
	body.Find(".ltx_tag").Remove()
	raw := inlineText(body)

	c := types.Citation{ID: id, RawText: raw, Year: extractYear(raw)}
	switch {
	case len(blocks) >= 2:
		c.Authors = parseAuthors(strings.TrimRight(blocks[0], ". "))
		c.Title = strings.TrimRight(blocks[1], ". ")
		if len(blocks) >= 3 {
			c.Source = cleanVenue(strings.Join(blocks[2:], " "))
		}
	default:
		parsed := parseBibEntry("", raw)
		c.Authors, c.Title, c.Source = parsed.Authors, parsed.Title, parsed.Source
	}

	s.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		switch {
		case strings.Contains(href, "doi.org/"):
			if c.DOI == "" {
				c.DOI = href[strings.Index(href, "doi.org/")+len("doi.org/"):]
			}
		case strings.HasPrefix(href, "http") && c.URL == "":
			c.URL = href
		}
	})
	fillIdentifiers(&c, raw)
	return c
}

// inlineText returns the visible text of s with math replaced by its
// alttext and footnotes removed.
func inlineText(s *goquery.Selection) string {
	c := s.Clone()
	c.Find(".ltx_note, .ltx_ERROR").Remove()
	c.Find("math").Each(func(_ int, m *goquery.Selection) {
		alt := m.AttrOr("alttext", "")
		m.ReplaceWithNodes(&html.Node{Type: html.TextNode, Data: " " + alt + " "})
	})
	return collapse(c.Text())
}

func headingText(h *goquery.Selection) string {
	c := h.Clone()
	tag := collapse(c.Find(".ltx_tag").Text())
	c.Find(".ltx_tag").Remove()
	title := collapse(c.Text())
	if title == "" {
		return tag
	}
	return title
}

func headingLevel(h *goquery.Selection) int {
	name := goquery.NodeName(h)
	if len(name) == 2 && name[0] == 'h' {
		if n, err := strconv.Atoi(name[1:]); err == nil {
			return n
		}
	}
	return 1
}

// resolveURL resolves src against base. It returns "" when src is empty
// or relative without a usable base.
func resolveURL(base *url.URL, src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	ref, err := url.Parse(src)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	if base == nil || !base.IsAbs() {
		return ""
	}
	return base.ResolveReference(ref).String()
}
