// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/evidence-engine/internal/normalize"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Extraction formats accepted by ReadExtraction.
const (
	FormatStructured = "structured"
	FormatMarkdown   = "markdown"
)

// ReadExtraction reads PDF/OCR extractor output from r. The structured
// format is the extractor's JSON payload (YAML is accepted too); the
// markdown format is one document with "<!-- page N -->" markers. r is
// often a pipe from the extractor, so the read is abandoned when ctx is
// done. The goroutine reading r is not stopped then: it stays blocked
// until r returns or is closed, so a long-lived caller must close r
// after a timeout.
func ReadExtraction(ctx context.Context, r io.Reader, format string) (*types.Extraction, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(r)
		done <- result{data, err}
	}()

	var data []byte
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("reading extraction: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("reading extraction: %w", res.err)
		}
		data = res.data
	}

	switch format {
	case FormatMarkdown:
		return &types.Extraction{Pages: normalize.SplitMarkedPages(string(data))}, nil
	case FormatStructured, "":
		var ext types.Extraction
		if err := yaml.Unmarshal(data, &ext); err != nil {
			return nil, fmt.Errorf("parsing extraction: %w", err)
		}
		if len(ext.Pages) == 0 {
			return nil, fmt.Errorf("extraction has no pages")
		}
		return &ext, nil
	default:
		return nil, fmt.Errorf("unknown extraction format %q", format)
	}
}

// FormatForPath picks the extraction format from a file name.
func FormatForPath(path string) string {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown") {
		return FormatMarkdown
	}
	return FormatStructured
}
