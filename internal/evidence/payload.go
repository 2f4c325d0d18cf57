// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package evidence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Payload is the JSON a generation step produces from an
// EvidenceContext. All fields are validated using go-playground/validator
// tags.
type Payload struct {
	Summary string   `json:"summary" validate:"required"`
	Bullets []Bullet `json:"bullets" validate:"required,min=1,dive"`
}

// Bullet is one grounded claim of a Payload.
type Bullet struct {
	Text string `json:"text" validate:"required"`

	// ChunkIDs name the chunks supporting the claim; at least one is
	// required.
	ChunkIDs    []string `json:"chunk_ids" validate:"required,min=1,dive,required"`
	CitationIDs []string `json:"citation_ids,omitempty" validate:"omitempty,dive,required"`
	FigureIDs   []string `json:"figure_ids,omitempty" validate:"omitempty,dive,required"`
}

// PayloadResult is either a parsed Payload or the reason it was rejected.
type PayloadResult struct {
	Payload *Payload
	Err     *types.MalformedGenerationPayloadError
}

// OK reports whether the payload was accepted.
func (r PayloadResult) OK() bool { return r.Err == nil }

// ParsePayload decodes raw strictly, validates it, and checks that every
// chunk, citation, and figure it names is present in ec. A nil ec skips
// the reference check.
func ParsePayload(raw []byte, ec *types.EvidenceContext) PayloadResult {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return malformed("invalid JSON", err)
	}
	if dec.More() {
		return malformed("trailing data after payload", nil)
	}

	if err := validator.New().Struct(&p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return malformed(fmt.Sprintf("field %s failed %q", verrs[0].Namespace(), verrs[0].Tag()), err)
		}
		return malformed("schema validation failed", err)
	}

	if ec != nil {
		if reason := danglingReference(&p, ec); reason != "" {
			return malformed(reason, nil)
		}
	}
	return PayloadResult{Payload: &p}
}

func danglingReference(p *Payload, ec *types.EvidenceContext) string {
	chunks := make(map[string]bool)
	for _, group := range [][]types.SearchHit{ec.Hits, ec.ExpandedWindow} {
		for _, h := range group {
			chunks[h.ChunkID] = true
		}
	}
	citations := make(map[string]bool, len(ec.Citations))
	for _, c := range ec.Citations {
		citations[c.ID] = true
	}
	figures := make(map[string]bool, len(ec.Figures))
	for _, f := range ec.Figures {
		figures[f.ID] = true
	}

	for i, b := range p.Bullets {
		for _, id := range b.ChunkIDs {
			if !chunks[id] {
				return fmt.Sprintf("bullet %d cites unknown chunk %q", i, id)
			}
		}
		for _, id := range b.CitationIDs {
			if !citations[id] {
				return fmt.Sprintf("bullet %d cites unknown citation %q", i, id)
			}
		}
		for _, id := range b.FigureIDs {
			if !figures[id] {
				return fmt.Sprintf("bullet %d cites unknown figure %q", i, id)
			}
		}
	}
	return ""
}

func malformed(reason string, err error) PayloadResult {
	return PayloadResult{Err: &types.MalformedGenerationPayloadError{Reason: reason, Err: err}}
}
