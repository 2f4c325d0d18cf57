// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logging builds the structured loggers injected into pipeline
// components.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/phuslu/log"
)

// New returns a logger writing to w at the given level. Format "json"
// writes one JSON object per line; anything else writes human-readable
// console lines. An unknown level falls back to info.
func New(level, format string, w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}

	lvl := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if level == "" {
		lvl = log.InfoLevel
	}

	var writer log.Writer
	if strings.EqualFold(format, "json") {
		writer = &log.IOWriter{Writer: w}
	} else {
		writer = &log.ConsoleWriter{Writer: w}
	}

	return &log.Logger{
		Level:      lvl,
		TimeFormat: "15:04:05",
		Writer:     writer,
	}
}

// Discard returns a logger that drops every entry.
func Discard() *log.Logger {
	return &log.Logger{
		Level:  log.ErrorLevel,
		Writer: &log.IOWriter{Writer: io.Discard},
	}
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
