// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package index

import (
	"regexp"
	"strings"
)

var termRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// MatchQuery turns free text into an FTS5 MATCH expression: each word or
// number becomes a quoted term and the terms are OR-ed, so punctuation
// and FTS5 operators in user text cannot break the query. It returns ""
// when the text has no terms.
func MatchQuery(text string) string {
	seen := make(map[string]bool)
	var terms []string
	for _, t := range termRe.FindAllString(strings.ToLower(text), -1) {
		if seen[t] {
			continue
		}
		seen[t] = true
		terms = append(terms, `"`+t+`"`)
	}
	return strings.Join(terms, " OR ")
}
