// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// ErrPaperNotFound is returned by Paper for an unknown paper ID.
var ErrPaperNotFound = errors.New("paper not found")

// ChunkRecord is a stored chunk together with its record UUID.
type ChunkRecord struct {
	UUID string `json:"uuid" yaml:"uuid"`
	types.Chunk `yaml:",inline"`
	HasVector   bool `json:"has_vector" yaml:"has_vector"`
}

// ScoredChunk is a keyword-leg match. Score is the negated BM25 rank, so
// larger is better.
type ScoredChunk struct {
	ChunkRecord
	Score float64
}

// VectorRecord is a chunk UUID and its stored embedding.
type VectorRecord struct {
	UUID   string
	Vector []float32
}

const chunkColumns = `c.uuid, c.chunk_id, c.paper_id, c.section_id, c.section_title, c.page,
	c.position, c.text, c.paragraph_ids, c.figure_ids, c.citation_ids, c.embedding IS NOT NULL`

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(row scanner, extra ...any) (ChunkRecord, error) {
	var (
		r                       ChunkRecord
		paraJSON, figJSON, cite string
	)
	dest := []any{
		&r.UUID, &r.ID, &r.PaperID, &r.SectionID, &r.SectionTitle, &r.Page,
		&r.Position, &r.Text, &paraJSON, &figJSON, &cite, &r.HasVector,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return r, fmt.Errorf("scanning chunk row: %w", err)
	}
	for _, l := range []struct {
		column, raw string
		dst         *[]string
	}{
		{"paragraph_ids", paraJSON, &r.ParagraphIDs},
		{"figure_ids", figJSON, &r.FigureIDs},
		{"citation_ids", cite, &r.CitationIDs},
	} {
		if err := decodeList(l.column, l.raw, l.dst); err != nil {
			return r, fmt.Errorf("scanning chunk %s: %w", r.UUID, err)
		}
	}
	return r, nil
}

// decodeList decodes a JSON string list stored in column.
func decodeList(column, raw string, dst *[]string) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decoding %s: %w", column, err)
	}
	return nil
}

// KeywordSearch runs a BM25-ranked full-text query over paperID's chunks.
// The query text is sanitized with MatchQuery; text without terms yields
// no results.
func (s *Store) KeywordSearch(ctx context.Context, paperID, query string, limit int) ([]ScoredChunk, error) {
	match := MatchQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	var out []ScoredChunk
	err := s.run(ctx, "keyword search", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+chunkColumns+`, bm25(chunks_fts, 1.0, 0.5) AS score
			 FROM chunks_fts
			 JOIN chunks c ON c.rowid = chunks_fts.rowid
			 WHERE chunks_fts MATCH ? AND c.paper_id = ?
			 ORDER BY score, c.position
			 LIMIT ?`,
			match, paperID, limit,
		)
		if err != nil {
			return fmt.Errorf("querying keyword index: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var rank float64
			r, err := scanChunk(rows, &rank)
			if err != nil {
				return err
			}
			out = append(out, ScoredChunk{ChunkRecord: r, Score: -rank})
		}
		return rows.Err()
	})
	return out, err
}

// Vectors returns the stored embeddings of paperID's chunks. Chunks
// stored without a vector are omitted.
func (s *Store) Vectors(ctx context.Context, paperID string) ([]VectorRecord, error) {
	var out []VectorRecord
	err := s.run(ctx, "load vectors", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT uuid, embedding FROM chunks
			 WHERE paper_id = ? AND embedding IS NOT NULL
			 ORDER BY position`, paperID)
		if err != nil {
			return fmt.Errorf("querying vectors: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				uuid string
				blob []byte
			)
			if err := rows.Scan(&uuid, &blob); err != nil {
				return fmt.Errorf("scanning vector row: %w", err)
			}
			v, err := decodeVector(blob)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", uuid, err)
			}
			out = append(out, VectorRecord{UUID: uuid, Vector: v})
		}
		return rows.Err()
	})
	return out, err
}

// ChunksByPageRange returns paperID's chunks with page in [from, to],
// ordered by position. Chunks without a page are never included.
func (s *Store) ChunksByPageRange(ctx context.Context, paperID string, from, to int) ([]ChunkRecord, error) {
	if from < 1 {
		from = 1
	}
	return s.queryChunks(ctx, "chunks by page",
		`WHERE c.paper_id = ? AND c.page BETWEEN ? AND ? ORDER BY c.position`,
		paperID, from, to)
}

// ChunksByUUID returns paperID's chunks with the given record UUIDs,
// ordered by position. Unknown UUIDs are skipped.
func (s *Store) ChunksByUUID(ctx context.Context, paperID string, uuids []string) ([]ChunkRecord, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	return s.queryChunks(ctx, "chunks by uuid",
		`WHERE c.paper_id = ? AND c.uuid IN (SELECT value FROM json_each(?)) ORDER BY c.position`,
		paperID, jsonList(uuids))
}

// Chunks returns all of paperID's chunks in reading order.
func (s *Store) Chunks(ctx context.Context, paperID string) ([]ChunkRecord, error) {
	return s.queryChunks(ctx, "chunks", `WHERE c.paper_id = ? ORDER BY c.position`, paperID)
}

func (s *Store) queryChunks(ctx context.Context, op, where string, args ...any) ([]ChunkRecord, error) {
	var out []ChunkRecord
	err := s.run(ctx, op, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT `+chunkColumns+` FROM chunks c `+where, args...)
		if err != nil {
			return fmt.Errorf("querying chunks: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scanChunk(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// CountChunks returns the number of chunks in paperID's partition.
func (s *Store) CountChunks(ctx context.Context, paperID string) (int, error) {
	var n int
	err := s.run(ctx, "count chunks", func(ctx context.Context) error {
		if err := s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM chunks WHERE paper_id = ?`, paperID,
		).Scan(&n); err != nil {
			return fmt.Errorf("counting chunks: %w", err)
		}
		return nil
	})
	return n, err
}

// FiguresByID returns paperID's figures with the given figure IDs.
// With no IDs it returns every figure of the paper. Unknown IDs are
// skipped.
func (s *Store) FiguresByID(ctx context.Context, paperID string, ids []string) ([]types.Figure, error) {
	q := `SELECT figure_id, label, caption, image_url, page, anchor_paragraph_id
		FROM figures WHERE paper_id = ?`
	args := []any{paperID}
	if ids != nil {
		q += ` AND figure_id IN (SELECT value FROM json_each(?))`
		args = append(args, jsonList(ids))
	}
	q += ` ORDER BY rowid`

	var out []types.Figure
	err := s.run(ctx, "figures", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("querying figures: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var f types.Figure
			if err := rows.Scan(&f.ID, &f.Label, &f.Caption, &f.ImageURL, &f.Page, &f.AnchorParagraphID); err != nil {
				return fmt.Errorf("scanning figure row: %w", err)
			}
			out = append(out, f)
		}
		return rows.Err()
	})
	return out, err
}

// CitationsByID returns paperID's citations with the given citation IDs.
// With no IDs it returns every citation of the paper. Unknown IDs are
// skipped.
func (s *Store) CitationsByID(ctx context.Context, paperID string, ids []string) ([]types.Citation, error) {
	q := `SELECT citation_id, title, authors, year, source, doi, url, arxiv_id, abstract, raw_text
		FROM citations WHERE paper_id = ?`
	args := []any{paperID}
	if ids != nil {
		q += ` AND citation_id IN (SELECT value FROM json_each(?))`
		args = append(args, jsonList(ids))
	}
	q += ` ORDER BY rowid`

	var out []types.Citation
	err := s.run(ctx, "citations", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("querying citations: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				c           types.Citation
				authorsJSON string
			)
			if err := rows.Scan(&c.ID, &c.Title, &authorsJSON, &c.Year, &c.Source,
				&c.DOI, &c.URL, &c.ArxivID, &c.Abstract, &c.RawText); err != nil {
				return fmt.Errorf("scanning citation row: %w", err)
			}
			if err := decodeList("authors", authorsJSON, &c.Authors); err != nil {
				return fmt.Errorf("scanning citation %s: %w", c.ID, err)
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// Paper returns the stored metadata for paperID.
func (s *Store) Paper(ctx context.Context, paperID string) (*types.Paper, error) {
	var p types.Paper
	err := s.run(ctx, "paper", func(ctx context.Context) error {
		var authorsJSON, catsJSON, published string
		err := s.db.QueryRowContext(ctx,
			`SELECT id, title, authors, published_at, categories, source_url, abstract
			 FROM papers WHERE id = ?`, paperID,
		).Scan(&p.ID, &p.Title, &authorsJSON, &published, &catsJSON, &p.SourceURL, &p.Abstract)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrPaperNotFound, paperID)
		}
		if err != nil {
			return fmt.Errorf("looking up paper: %w", err)
		}
		if err := decodeList("authors", authorsJSON, &p.Authors); err != nil {
			return fmt.Errorf("scanning paper %s: %w", paperID, err)
		}
		if err := decodeList("categories", catsJSON, &p.Categories); err != nil {
			return fmt.Errorf("scanning paper %s: %w", paperID, err)
		}
		if published != "" {
			if p.PublishedAt, err = time.Parse(time.RFC3339, published); err != nil {
				return fmt.Errorf("scanning paper %s: decoding published_at: %w", paperID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Stats summarizes the index contents.
type Stats struct {
	Papers    int `json:"papers" yaml:"papers"`
	Chunks    int `json:"chunks" yaml:"chunks"`
	Embedded  int `json:"embedded" yaml:"embedded"`
	Figures   int `json:"figures" yaml:"figures"`
	Citations int `json:"citations" yaml:"citations"`
}

// Stats counts records across all partitions.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.run(ctx, "stats", func(ctx context.Context) error {
		err := s.db.QueryRowContext(ctx, `SELECT
			(SELECT count(*) FROM papers),
			(SELECT count(*) FROM chunks),
			(SELECT count(*) FROM chunks WHERE embedding IS NOT NULL),
			(SELECT count(*) FROM figures),
			(SELECT count(*) FROM citations)`,
		).Scan(&st.Papers, &st.Chunks, &st.Embedded, &st.Figures, &st.Citations)
		if err != nil {
			return fmt.Errorf("counting records: %w", err)
		}
		return nil
	})
	return st, err
}

// PaperIDs lists indexed paper IDs in sorted order.
func (s *Store) PaperIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.run(ctx, "list papers", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT id FROM papers ORDER BY id`)
		if err != nil {
			return fmt.Errorf("listing papers: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scanning paper id: %w", err)
			}
			ids = append(ids, strings.TrimSpace(id))
		}
		return rows.Err()
	})
	return ids, err
}
