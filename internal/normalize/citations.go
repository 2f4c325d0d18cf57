// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

var (
	// numericCiteRe matches numeric citations like [1], [2, 5], [3-6].
	numericCiteRe = regexp.MustCompile(`\[(\d+(?:\s*[,–-]\s*\d+)*)\]`)

	// authorYearCiteRe matches author-year citations like
	// [Smith et al., 2020] or (Smith and Jones, 2019).
	authorYearCiteRe = regexp.MustCompile(`[\[(]([A-Z][a-z]+)(?:\s+(?:et\s+al\.|and\s+[A-Z][a-z]+))?,\s*((?:19|20)\d{2})[\])]`)

	// bibEntryRe matches numbered bibliography entries like:
	// [1] Authors. Title. Venue, Year.
	bibEntryRe = regexp.MustCompile(`(?m)^\s*\[(\d+)\]\s+(.+)$`)

	// figureRefRe matches in-text figure mentions like "Figure 2" or "Fig. 3".
	figureRefRe = regexp.MustCompile(`(?i)\bfig(?:ure|\.)?\s*(\d+)`)

	// yearRe matches a 4-digit year.
	yearRe = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)

	doiRe   = regexp.MustCompile(`\b(10\.\d{4,9}/[^\s"<>]+[^\s"<>.,;])`)
	arxivRe = regexp.MustCompile(`(?i)(?:arXiv:\s*|arxiv\.org/(?:abs|pdf)/)(\d{4}\.\d{4,5})`)
	urlRe   = regexp.MustCompile(`https?://[^\s"<>]+[^\s"<>.,;)]`)

	// initialRe matches single-letter author initials like "A." so they
	// survive period-based splitting.
	initialRe = regexp.MustCompile(`\b([A-Z])\.`)

	// authorBlockRe captures a leading author block such as
	// "Smith, A. and Jones, B." or "Brown, T. et al." ahead of the title.
	authorBlockRe = regexp.MustCompile(
		`^((?:[A-Z][a-z]+(?:,\s+[A-Z]\.?)?(?:,?\s+(?:and|&)\s+)?)+(?:\s*et\s+al\.)?)\s*[.]?\s+(.+)$`,
	)
)

// citationID is the document-local ID of the numbered reference key.
func citationID(key string) string {
	return "ref-" + key
}

// parseReferenceList extracts numbered entries like "[1] Authors. Title."
// from the raw text of a references section.
func parseReferenceList(text string) []types.Citation {
	var out []types.Citation
	for _, m := range bibEntryRe.FindAllStringSubmatch(text, -1) {
		out = append(out, parseBibEntry(m[1], strings.TrimSpace(m[2])))
	}
	return out
}

// parseBibEntry extracts metadata from a raw bibliography entry string.
// The author block is split from the title with authorBlockRe and the
// remainder is divided into title and venue at sentence periods.
func parseBibEntry(key, raw string) types.Citation {
	c := types.Citation{
		ID:      citationID(key),
		Year:    extractYear(raw),
		RawText: raw,
	}
	fillIdentifiers(&c, raw)

	rest := raw
	if m := authorBlockRe.FindStringSubmatch(raw); m != nil {
		c.Authors = parseAuthors(strings.TrimSpace(m[1]))
		rest = m[2]
	}
	parts := splitOnPeriods(rest)
	if len(parts) >= 1 {
		c.Title = parts[0]
	}
	if len(parts) >= 2 {
		c.Source = cleanVenue(parts[1])
	}
	return c
}

// fillIdentifiers sets DOI, arXiv ID, and URL found anywhere in raw.
func fillIdentifiers(c *types.Citation, raw string) {
	if c.DOI == "" {
		if m := doiRe.FindStringSubmatch(raw); m != nil {
			c.DOI = m[1]
		}
	}
	if c.ArxivID == "" {
		if m := arxivRe.FindStringSubmatch(raw); m != nil {
			c.ArxivID = m[1]
		}
	}
	if c.URL == "" {
		c.URL = urlRe.FindString(raw)
	}
}

// extractYear finds the first 4-digit year (19xx or 20xx) in the text.
func extractYear(text string) string {
	if m := yearRe.FindStringSubmatch(text); len(m) >= 2 {
		return m[1]
	}
	return ""
}

// splitOnPeriods splits an entry into segments at period boundaries but
// not inside "et al.", "e.g.", "i.e.", or single-letter initials.
func splitOnPeriods(text string) []string {
	safe := strings.ReplaceAll(text, "et al.", "et al\x00")
	safe = strings.ReplaceAll(safe, "e.g.", "e\x00g\x00")
	safe = strings.ReplaceAll(safe, "i.e.", "i\x00e\x00")
	safe = initialRe.ReplaceAllString(safe, "${1}\x00")

	var result []string
	for _, p := range strings.Split(safe, ". ") {
		p = strings.ReplaceAll(p, "\x00", ".")
		p = strings.TrimSpace(strings.TrimRight(p, "."))
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// parseAuthors splits "Smith, A., Jones, B. and Lee, C." into names.
func parseAuthors(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, " & ", " and ")
	s = strings.TrimSpace(strings.TrimSuffix(s, "et al."))

	var authors []string
	for _, half := range strings.Split(s, " and ") {
		half = strings.Trim(strings.TrimSpace(half), ",")
		if half == "" {
			continue
		}
		// "Smith, A., Jones, B." pairs surname and initials.
		fields := strings.Split(half, ", ")
		for i := 0; i < len(fields); i++ {
			name := strings.TrimSpace(fields[i])
			if i+1 < len(fields) && isInitials(fields[i+1]) {
				name += ", " + strings.TrimSpace(fields[i+1])
				i++
			}
			if name != "" {
				authors = append(authors, name)
			}
		}
	}
	return authors
}

func isInitials(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 6 {
		return false
	}
	for _, r := range s {
		if r != '.' && r != ' ' && r != '-' && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// cleanVenue removes the year and trailing punctuation from a venue segment.
func cleanVenue(text string) string {
	text = yearRe.ReplaceAllString(text, "")
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(text), "., "))
}

// numericMarkers returns the reference keys cited with numeric markers
// in text, expanding lists and ranges, in first-seen order.
func numericMarkers(text string) []string {
	var keys []string
	for _, m := range numericCiteRe.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(m[1], ",") {
			part = strings.TrimSpace(part)
			lo, hi, isRange := splitRange(part)
			if !isRange {
				keys = appendUnique(keys, part)
				continue
			}
			if hi-lo > 50 {
				continue
			}
			for n := lo; n <= hi; n++ {
				keys = appendUnique(keys, strconv.Itoa(n))
			}
		}
	}
	return keys
}

func splitRange(s string) (int, int, bool) {
	i := strings.IndexAny(s, "-–")
	if i < 0 {
		return 0, 0, false
	}
	lo, err1 := strconv.Atoi(strings.TrimSpace(s[:i]))
	_, size := utf8.DecodeRuneInString(s[i:])
	hi, err2 := strconv.Atoi(strings.TrimSpace(s[i+size:]))
	if err1 != nil || err2 != nil || hi < lo {
		return 0, 0, false
	}
	return lo, hi, true
}

// authorYearMarker is one author-year citation found in running text.
type authorYearMarker struct {
	surname string
	year    string
}

func authorYearMarkers(text string) []authorYearMarker {
	var out []authorYearMarker
	for _, m := range authorYearCiteRe.FindAllStringSubmatch(text, -1) {
		out = append(out, authorYearMarker{surname: m[1], year: m[2]})
	}
	return out
}

// matchAuthorYear returns the ID of the first citation whose first author
// carries surname and whose year matches.
func matchAuthorYear(cites []types.Citation, mk authorYearMarker) (string, bool) {
	for _, c := range cites {
		if c.Year != mk.year || len(c.Authors) == 0 {
			continue
		}
		if strings.Contains(c.Authors[0], mk.surname) {
			return c.ID, true
		}
	}
	return "", false
}
