// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// arxivPattern matches new-style arXiv IDs: "2301.07041", "arXiv:2301.07041", "2301.07041v2".
	arxivPattern = regexp.MustCompile(`^(?i:arXiv:)?(\d{4}\.\d{4,5})(v\d+)?$`)

	// legacyPattern matches pre-2007 IDs such as "hep-th/9901001v2".
	legacyPattern = regexp.MustCompile(`^(?i:arXiv:)?([a-zA-Z][a-zA-Z.-]*/\d{7})(v\d+)?$`)
)

// ParseTarget extracts the version-less arXiv ID from an ID or an
// arxiv.org, export.arxiv.org, or ar5iv URL (abs, pdf, or html pages).
func ParseTarget(target string) (string, error) {
	t := strings.TrimSpace(target)
	if id, ok := matchID(t); ok {
		return id, nil
	}

	u, err := url.Parse(t)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("unrecognized arXiv identifier: %q", target)
	}
	host := strings.ToLower(u.Hostname())
	if !strings.HasSuffix(host, "arxiv.org") {
		return "", fmt.Errorf("not an arXiv URL: %q", target)
	}

	p := strings.Trim(u.Path, "/")
	for _, prefix := range []string{"abs/", "pdf/", "html/"} {
		if rest, ok := strings.CutPrefix(p, prefix); ok {
			rest = strings.TrimSuffix(rest, ".pdf")
			if id, ok := matchID(rest); ok {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("no arXiv identifier in URL: %q", target)
}

func matchID(s string) (string, bool) {
	if m := arxivPattern.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	if m := legacyPattern.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	return "", false
}

// extractArxivID pulls the arXiv ID from an Atom entry's <id> URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" → "2301.07041").
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id, _ := matchID(idURL[idx+len(prefix):])
	return id
}
