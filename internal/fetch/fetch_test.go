// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

const atomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <published>2017-06-12T17:57:34Z</published>
    <title>Attention Is All You
      Need</title>
    <summary>  The dominant sequence transduction models are based on complex
      recurrent or convolutional neural networks.</summary>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
    <arxiv:primary_category term="cs.CL" scheme="http://arxiv.org/schemas/atom"/>
    <category term="cs.CL" scheme="http://arxiv.org/schemas/atom"/>
    <category term="cs.LG" scheme="http://arxiv.org/schemas/atom"/>
  </entry>
</feed>`

const emptyFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/api/errors#incorrect_id_format_for_9999.99999</id>
    <title>Error</title>
  </entry>
</feed>`

const renderedPaper = `<html><body><article class="ltx_document"><h1 class="ltx_title_document">T</h1></article></body></html>`

// withServer points the package endpoints at an httptest server.
func withServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	oldAPI, oldAr5iv, oldHTML := arxivAPIBase, ar5ivBase, arxivHTMLBase
	arxivAPIBase = srv.URL + "/api/query"
	ar5ivBase = srv.URL + "/ar5iv/html/"
	arxivHTMLBase = srv.URL + "/arxiv/html/"
	t.Cleanup(func() { arxivAPIBase, ar5ivBase, arxivHTMLBase = oldAPI, oldAr5iv, oldHTML })
	return srv
}

func TestFetchMetadata(t *testing.T) {
	var gotUA, gotID string
	withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotID = r.URL.Query().Get("id_list")
		w.Write([]byte(atomFeed))
	}))

	f := New(types.FetchConfig{UserAgent: "evidence-engine/test"}, nil)
	p, err := f.FetchMetadata(context.Background(), "1706.03762", "ops@example.org")
	require.NoError(t, err)

	assert.Equal(t, "1706.03762", gotID)
	assert.Equal(t, "evidence-engine/test (mailto:ops@example.org)", gotUA)
	assert.Equal(t, "1706.03762", p.ID)
	assert.Equal(t, "Attention Is All You Need", p.Title)
	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, p.Authors)
	assert.Equal(t, []string{"cs.CL", "cs.LG"}, p.Categories)
	assert.Equal(t, 2017, p.PublishedAt.Year())
	assert.True(t, strings.HasPrefix(p.Abstract, "The dominant sequence"))
	assert.Equal(t, "https://arxiv.org/abs/1706.03762", p.SourceURL)
}

func TestFetchMetadata_NoEntry(t *testing.T) {
	withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(emptyFeed))
	}))

	_, err := New(types.FetchConfig{}, nil).FetchMetadata(context.Background(), "9999.99999", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrFetchFailed)
	assert.NotErrorIs(t, err, types.ErrTimeout)
}

func TestFetchMetadata_HTTPError(t *testing.T) {
	withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := New(types.FetchConfig{}, nil).FetchMetadata(context.Background(), "1706.03762", "")
	var fe *types.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	assert.Equal(t, "metadata", fe.Op)
}

func TestFetchMetadata_Timeout(t *testing.T) {
	release := make(chan struct{})
	withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	f := New(types.FetchConfig{MetadataTimeout: 50 * time.Millisecond}, nil)
	_, err := f.FetchMetadata(context.Background(), "1706.03762", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrFetchTimeout)
	assert.ErrorIs(t, err, types.ErrTimeout)
}

func TestFetchHTML_Ar5ivFirst(t *testing.T) {
	var paths []string
	srv := withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(renderedPaper))
	}))

	body, base, err := New(types.FetchConfig{}, nil).FetchHTML(context.Background(), "1706.03762")
	require.NoError(t, err)
	assert.Contains(t, body, "ltx_document")
	assert.Equal(t, srv.URL+"/ar5iv/html/1706.03762", base)
	assert.Equal(t, []string{"/ar5iv/html/1706.03762"}, paths)
}

func TestFetchHTML_FallsBack(t *testing.T) {
	srv := withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/ar5iv/"):
			w.Write([]byte("<html><body>abstract page only</body></html>"))
		case r.URL.Path == "/arxiv/html/2401.00001":
			w.Write([]byte(renderedPaper))
		default:
			http.NotFound(w, r)
		}
	}))

	body, base, err := New(types.FetchConfig{}, nil).FetchHTML(context.Background(), "2401.00001")
	require.NoError(t, err)
	assert.Equal(t, renderedPaper, body)
	assert.Equal(t, srv.URL+"/arxiv/html/2401.00001", base)
}

func TestFetchHTML_BothSourcesFail(t *testing.T) {
	withServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	_, _, err := New(types.FetchConfig{}, nil).FetchHTML(context.Background(), "2401.00001")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrFetchFailed)
	var fe *types.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "1706.03762", want: "1706.03762"},
		{in: " arXiv:1706.03762v5 ", want: "1706.03762"},
		{in: "ARXIV:2301.07041", want: "2301.07041"},
		{in: "https://arxiv.org/abs/1706.03762v7", want: "1706.03762"},
		{in: "https://arxiv.org/pdf/1706.03762.pdf", want: "1706.03762"},
		{in: "https://arxiv.org/pdf/1706.03762v2", want: "1706.03762"},
		{in: "https://ar5iv.labs.arxiv.org/html/1706.03762", want: "1706.03762"},
		{in: "https://arxiv.org/html/2401.00001v1/", want: "2401.00001"},
		{in: "hep-th/9901001", want: "hep-th/9901001"},
		{in: "https://arxiv.org/abs/math.GT/0309136", want: "math.GT/0309136"},
		{in: "https://example.com/abs/1706.03762", err: true},
		{in: "10.1234/abc", err: true},
		{in: "", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTarget(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractArxivID(t *testing.T) {
	assert.Equal(t, "2301.07041", extractArxivID("http://arxiv.org/abs/2301.07041v1"))
	assert.Equal(t, "", extractArxivID("http://arxiv.org/api/errors#bad"))
}
