// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fetch retrieves arXiv metadata from the Atom API and rendered
// paper HTML from ar5iv, falling back to arxiv.org/html. Requests share
// one rate limiter so the fetcher stays within arXiv's request policy.
package fetch

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/pdiddy/evidence-engine/internal/httputil"
	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Endpoints. Declared as vars so tests can substitute an httptest server.
var (
	arxivAPIBase  = "https://export.arxiv.org/api/query"
	ar5ivBase     = "https://ar5iv.labs.arxiv.org/html/"
	arxivHTMLBase = "https://arxiv.org/html/"
	arxivAbsBase  = "https://arxiv.org/abs/"
)

// maxHTMLBytes bounds a rendered paper download.
const maxHTMLBytes = 64 << 20

// Fetcher talks to arXiv. It is safe for concurrent use; all requests
// wait on the same rate limiter.
type Fetcher struct {
	client          *httputil.Client
	metadataTimeout time.Duration
	htmlTimeout     time.Duration
	logger          *log.Logger
}

// New returns a Fetcher configured by cfg.
func New(cfg types.FetchConfig, logger *log.Logger) *Fetcher {
	def := types.DefaultConfig().Fetch
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = def.MetadataTimeout
	}
	if cfg.HTMLTimeout <= 0 {
		cfg.HTMLTimeout = def.HTMLTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	logger = logging.OrDiscard(logger)
	return &Fetcher{
		client:          httputil.NewClient(0, cfg.RateInterval, cfg.UserAgent, logger),
		metadataTimeout: cfg.MetadataTimeout,
		htmlTimeout:     cfg.HTMLTimeout,
		logger:          logger,
	}
}

// arXiv Atom feed XML structures.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID         string          `xml:"id"`
	Title      string          `xml:"title"`
	Summary    string          `xml:"summary"`
	Published  string          `xml:"published"`
	Authors    []arxivAuthor   `xml:"author"`
	Categories []arxivCategory `xml:"category"`
	Primary    arxivCategory   `xml:"primary_category"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

type arxivCategory struct {
	Term string `xml:"term,attr"`
}

// FetchMetadata retrieves title, authors, date, categories, and abstract
// for arxivID. When contactEmail is set it is added to the User-Agent as
// arXiv requests of automated clients.
func (f *Fetcher) FetchMetadata(ctx context.Context, arxivID, contactEmail string) (*types.Paper, error) {
	ctx, cancel := context.WithTimeout(ctx, f.metadataTimeout)
	defer cancel()

	apiURL := arxivAPIBase + "?id_list=" + url.QueryEscape(arxivID) + "&max_results=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contactEmail != "" {
		req.Header.Set("User-Agent", fmt.Sprintf("%s (mailto:%s)", f.client.UserAgent, contactEmail))
	}

	start := time.Now()
	resp, err := f.client.Do(ctx, req)
	if err != nil {
		return nil, fetchError(ctx, "metadata", apiURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &types.FetchError{Op: "metadata", URL: apiURL, StatusCode: resp.StatusCode}
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fetchError(ctx, "metadata", apiURL, fmt.Errorf("parsing arXiv response: %w", err))
	}

	var entry *arxivEntry
	for i := range feed.Entries {
		if extractArxivID(feed.Entries[i].ID) != "" {
			entry = &feed.Entries[i]
			break
		}
	}
	if entry == nil {
		return nil, &types.FetchError{Op: "metadata", URL: apiURL, Err: fmt.Errorf("no entries found for arXiv ID %s", arxivID)}
	}

	p := &types.Paper{
		ID:        arxivID,
		Title:     collapse(entry.Title),
		Abstract:  collapse(entry.Summary),
		SourceURL: arxivAbsBase + arxivID,
	}
	for _, a := range entry.Authors {
		p.Authors = append(p.Authors, strings.TrimSpace(a.Name))
	}
	if t, parseErr := time.Parse(time.RFC3339, entry.Published); parseErr == nil {
		p.PublishedAt = t
	}
	if entry.Primary.Term != "" {
		p.Categories = append(p.Categories, entry.Primary.Term)
	}
	for _, c := range entry.Categories {
		if c.Term != "" && c.Term != entry.Primary.Term {
			p.Categories = append(p.Categories, c.Term)
		}
	}

	f.logger.Debug().Str("paper_id", arxivID).Dur("elapsed", time.Since(start)).Msg("metadata fetched")
	return p, nil
}

// FetchHTML retrieves the rendered HTML of arxivID and the URL it was
// served from, for resolving relative links. ar5iv is tried first; when
// it fails or serves no LaTeXML document, arxiv.org/html is used.
func (f *Fetcher) FetchHTML(ctx context.Context, arxivID string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.htmlTimeout)
	defer cancel()

	var errs []error
	for _, base := range []string{ar5ivBase, arxivHTMLBase} {
		body, finalURL, err := f.getHTML(ctx, base+arxivID)
		if err == nil && !isLaTeXML(body) {
			err = &types.FetchError{Op: "html", URL: finalURL, Err: errors.New("response is not a rendered paper")}
		}
		if err == nil {
			return body, finalURL, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn().Err(err).Str("paper_id", arxivID).Str("source", base).Msg("html source failed")
	}

	// Prefer a timeout so callers can classify the failure.
	for _, err := range errs {
		if errors.Is(err, types.ErrFetchTimeout) {
			return "", "", err
		}
	}
	return "", "", errs[len(errs)-1]
}

func (f *Fetcher) getHTML(ctx context.Context, pageURL string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		return "", "", fetchError(ctx, "html", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", &types.FetchError{Op: "html", URL: pageURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTMLBytes))
	if err != nil {
		return "", "", fetchError(ctx, "html", pageURL, err)
	}

	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return string(data), finalURL, nil
}

// isLaTeXML reports whether body looks like a LaTeXML-rendered paper
// rather than an abstract page or an error page.
func isLaTeXML(body string) bool {
	return strings.Contains(body, "ltx_document") || strings.Contains(body, "ltx_page_main")
}

// fetchError wraps err as a *types.FetchError, flagging deadlines.
func fetchError(ctx context.Context, op, u string, err error) *types.FetchError {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout())
	return &types.FetchError{Op: op, URL: u, Timeout: timeout, Err: err}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
