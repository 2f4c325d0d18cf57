// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package normalize

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

var labelNumberRe = regexp.MustCompile(`(\d+)`)

// Pages builds a Document from extracted page text. Each page is Markdown
// as emitted by the OCR extractor; headings open sections, and every
// paragraph carries its 1-based page number. A References or Bibliography
// section is parsed into citations instead of paragraphs, and in-text
// numeric or author-year markers link paragraphs to those citations.
func Pages(pages []types.PageText, figures []types.PageFigure) (*types.Document, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	w := &pageWalker{b: newBuilder()}

	for i, pg := range pages {
		src := []byte(pg.Text)
		root := md.Parser().Parse(text.NewReader(src))
		w.page(root, src, i+1)
	}

	for _, c := range parseReferenceList(joinEntries(w.refs.String())) {
		if !w.hasCitation(c.ID) {
			w.b.doc.Citations = append(w.b.doc.Citations, c)
		}
	}

	byNumber := make(map[string]string)
	for i, f := range figures {
		fig := types.Figure{
			ID:       fmt.Sprintf("figure-%03d", i+1),
			Label:    collapse(f.Label),
			Caption:  collapse(f.Caption),
			ImageURL: strings.TrimSpace(f.ImageURL),
			Page:     f.Page,
		}
		w.b.doc.Figures = append(w.b.doc.Figures, fig)
		if m := labelNumberRe.FindString(fig.Label); m != "" {
			if _, dup := byNumber[m]; !dup {
				byNumber[m] = fig.ID
			}
		}
	}

	w.linkRefs(byNumber)
	return w.b.finish()
}

type pageWalker struct {
	b        *builder
	inRefs   bool
	refs     bytes.Buffer
	citeSeen map[string]bool
}

func (w *pageWalker) page(root ast.Node, src []byte, page int) {
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		switch n.Kind() {
		case ast.KindHeading:
			title := plainText(n, src)
			if isReferencesHeading(title) {
				w.inRefs = true
				continue
			}
			w.inRefs = false
			w.b.openSection("", title, n.(*ast.Heading).Level)

		case ast.KindParagraph, ast.KindTextBlock, ast.KindBlockquote:
			if w.inRefs {
				writeLines(&w.refs, n, src)
				continue
			}
			w.b.addParagraph(types.Paragraph{Text: plainText(n, src), Page: page})

		case ast.KindList:
			list := n.(*ast.List)
			idx := list.Start
			for item := n.FirstChild(); item != nil; item = item.NextSibling() {
				switch {
				case w.inRefs && list.IsOrdered():
					fmt.Fprintf(&w.refs, "[%d] %s\n", idx, plainText(item, src))
				case w.inRefs:
					writeLines(&w.refs, item, src)
				default:
					w.b.addParagraph(types.Paragraph{Text: plainText(item, src), Page: page})
				}
				idx++
			}
		}
	}
}

func (w *pageWalker) hasCitation(id string) bool {
	if w.citeSeen == nil {
		w.citeSeen = make(map[string]bool)
	}
	if w.citeSeen[id] {
		return true
	}
	w.citeSeen[id] = true
	return false
}

// linkRefs fills FigureRefs and CitationRefs from markers in paragraph
// text. Markers that do not resolve to a parsed figure or citation are
// ignored.
func (w *pageWalker) linkRefs(figByNumber map[string]string) {
	cites := w.b.doc.Citations
	known := make(map[string]bool, len(cites))
	for _, c := range cites {
		known[c.ID] = true
	}

	for si := range w.b.doc.Sections {
		paras := w.b.doc.Sections[si].Paragraphs
		for pi := range paras {
			p := &paras[pi]
			for _, m := range figureRefRe.FindAllStringSubmatch(p.Text, -1) {
				if id, ok := figByNumber[m[1]]; ok {
					p.FigureRefs = appendUnique(p.FigureRefs, id)
				}
			}
			for _, key := range numericMarkers(p.Text) {
				if id := citationID(key); known[id] {
					p.CitationRefs = appendUnique(p.CitationRefs, id)
				}
			}
			for _, mk := range authorYearMarkers(p.Text) {
				if id, ok := matchAuthorYear(cites, mk); ok {
					p.CitationRefs = appendUnique(p.CitationRefs, id)
				}
			}
		}
	}
}

// plainText concatenates the text content of n, turning line breaks into
// spaces and skipping images and raw HTML.
func plainText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c.Kind() {
		case ast.KindImage, ast.KindRawHTML, ast.KindHTMLBlock:
			return ast.WalkSkipChildren, nil
		case ast.KindText:
			t := c.(*ast.Text)
			buf.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case ast.KindString:
			buf.Write(c.(*ast.String).Value)
		case ast.KindParagraph, ast.KindTextBlock:
			if buf.Len() > 0 {
				buf.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return collapse(buf.String())
}

// writeLines appends the raw source lines of every block under n.
func writeLines(buf *bytes.Buffer, n ast.Node, src []byte) {
	if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(bytes.TrimRight(seg.Value(src), "\r\n"))
			buf.WriteByte('\n')
		}
		return
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		writeLines(buf, c, src)
	}
}

// joinEntries folds wrapped continuation lines onto the preceding
// "[N] ..." entry line.
func joinEntries(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(out) > 0 && !bibEntryRe.MatchString(line) {
			out[len(out)-1] += " " + line
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func isReferencesHeading(title string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	t = strings.TrimLeft(t, "0123456789. ")
	return t == "references" || t == "bibliography" || t == "works cited" ||
		strings.HasPrefix(t, "references") || strings.HasPrefix(t, "bibliography")
}

// PageNumber returns the page index recorded in a "<!-- page N -->"
// marker line, as emitted by some extractors at page boundaries.
func PageNumber(line string) (int, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "<!-- page ") || !strings.HasSuffix(line, " -->") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[len("<!-- page ") : len(line)-len(" -->")]))
	if err != nil {
		return 0, false
	}
	return n, true
}

// SplitMarkedPages splits a single Markdown file carrying "<!-- page N -->"
// markers into per-page text. Text before the first marker is page 1.
func SplitMarkedPages(md string) []types.PageText {
	var pages []types.PageText
	var cur strings.Builder
	curPage := 1
	flush := func() {
		for len(pages) < curPage-1 {
			pages = append(pages, types.PageText{})
		}
		if len(pages) == curPage-1 {
			pages = append(pages, types.PageText{Text: cur.String()})
		} else {
			pages[curPage-1].Text += cur.String()
		}
		cur.Reset()
	}
	for _, line := range strings.Split(md, "\n") {
		if n, ok := PageNumber(line); ok && n >= 1 {
			flush()
			curPage = n
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	flush()
	return pages
}
