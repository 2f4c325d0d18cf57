// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package identity derives the UUIDs that key every index record.
//
// Record UUIDs are version 5 (SHA-1) UUIDs of a colon-joined seed under a
// fixed namespace, so re-ingesting a paper produces the same keys and
// upserts overwrite instead of duplicating. Interaction and persona keys
// are the exception: when the user or paper is unknown the seed gets a
// fresh random component, so two anonymous records never share a key.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// Namespace is the fixed v5 namespace for all evidence-engine identifiers.
var Namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/pdiddy/evidence-engine"))

// FromSeed returns the v5 UUID of the colon-joined parts.
func FromSeed(parts ...string) string {
	return uuid.NewSHA1(Namespace, []byte(strings.Join(parts, ":"))).String()
}

// ChunkUUID keys a chunk record by paper and local chunk ID.
func ChunkUUID(paperID, chunkID string) string {
	return FromSeed(paperID, chunkID)
}

// FigureUUID keys a figure record by paper and figure ID.
func FigureUUID(paperID, figureID string) string {
	return FromSeed(paperID, "figure", figureID)
}

// CitationUUID keys a citation record by paper and citation ID.
func CitationUUID(paperID, citationID string) string {
	return FromSeed(paperID, "citation", citationID)
}

// InteractionUUID keys a cached interaction such as an evidence load.
// A missing userID or paperID is replaced with a random UUID, making the
// result unique rather than shared by every anonymous caller.
func InteractionUUID(userID, paperID, kind, prompt string) string {
	return FromSeed(orRandom(userID), orRandom(paperID), kind, prompt)
}

// PersonaUUID keys a per-user persona record for a paper. Missing
// components are handled as in InteractionUUID.
func PersonaUUID(userID, paperID, persona string) string {
	return FromSeed(orRandom(userID), orRandom(paperID), "persona", persona)
}

// IsDeterministic reports whether InteractionUUID and PersonaUUID return a
// stable key for the given context.
func IsDeterministic(userID, paperID string) bool {
	return userID != "" && paperID != ""
}

func orRandom(s string) string {
	if s == "" {
		return uuid.NewString()
	}
	return s
}
