// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New("debug", "json", &buf)

	logger.Info().Str("paper_id", "1706.03762").Int("chunks", 12).Msg("indexed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "indexed", entry["message"])
	assert.Equal(t, "1706.03762", entry["paper_id"])
	assert.Equal(t, float64(12), entry["chunks"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New("warn", "json", &buf)

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNew_EmptyLevelIsInfo(t *testing.T) {
	logger := New("", "console", &bytes.Buffer{})
	assert.Equal(t, log.InfoLevel, logger.Level)
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))

	l := New("info", "json", &bytes.Buffer{})
	assert.Same(t, l, OrDiscard(l))
}
