// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/internal/ingest"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "fetch failure", err: &types.FetchError{Op: "html", StatusCode: 404}, want: exitFetch},
		{name: "fetch timeout", err: fmt.Errorf("ingest: %w", &types.FetchError{Op: "metadata", Timeout: true, Err: context.DeadlineExceeded}), want: exitFetch},
		{name: "index unavailable", err: fmt.Errorf("%w: ping: closed", types.ErrIndexUnavailable), want: exitIndex},
		{name: "index timeout", err: fmt.Errorf("writing chunks: %w", &types.TimeoutError{Op: "index upsert chunks", After: time.Second}), want: exitIndex},
		{name: "joined fetch failures", err: errors.Join(
			fmt.Errorf("fetching metadata for 1706.03762: %w", &types.FetchError{Op: "metadata", StatusCode: 503}),
			fmt.Errorf("fetching HTML for 1706.03762: %w", &types.FetchError{Op: "html", StatusCode: 404}),
		), want: exitFetch},
		{name: "other", err: errors.New("bad flag"), want: exitFailure},
		{name: "empty document", err: types.ErrEmptyDocument, want: exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestLoadConfig_DefaultsAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.SetEnvPrefix("EVIDENCE_ENGINE")
	viper.AutomaticEnv()
	setDefaults(viper.GetViper(), types.DefaultConfig())

	c, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, types.DefaultConfig(), c)

	viper.Set("retrieve.alpha", 0.8)
	viper.Set("index.timeout", "2s")
	viper.Set("embed.provider", "ollama")
	c, err = loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.8, c.Retrieve.Alpha)
	assert.Equal(t, 2*time.Second, c.Index.Timeout)
	assert.Equal(t, "ollama", c.Embed.Provider)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ééé...", truncate("éééééééé", 6))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWritePreview(t *testing.T) {
	res := &ingest.InlineResult{
		ArxivID:  "1706.03762",
		Title:    "Attention Is All You Need",
		Authors:  []string{"Ashish Vaswani"},
		Sections: []types.Section{{ID: "S1", Title: "Introduction", Level: 2}},
	}

	var buf bytes.Buffer
	require.NoError(t, writePreview(&buf, res, true))
	assert.Contains(t, buf.String(), "arxiv_id: 1706.03762")

	buf.Reset()
	require.NoError(t, writePreview(&buf, res, false))
	assert.Contains(t, buf.String(), `"arxivId": "1706.03762"`)

	assert.ErrorContains(t, writePreview(failingWriter{}, res, true), "disk full")
	assert.ErrorContains(t, writePreview(failingWriter{}, res, false), "disk full")
}
