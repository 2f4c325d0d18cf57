// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pdiddy/evidence-engine/internal/identity"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// UpsertPaper writes the paper's metadata row.
func (s *Store) UpsertPaper(ctx context.Context, p *types.Paper) error {
	authorsJSON := jsonList(p.Authors)
	catsJSON := jsonList(p.Categories)
	published := ""
	if !p.PublishedAt.IsZero() {
		published = p.PublishedAt.UTC().Format(time.RFC3339)
	}

	return s.run(ctx, "upsert paper", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO papers (id, title, authors, published_at, categories, source_url, abstract, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
				title=excluded.title, authors=excluded.authors, published_at=excluded.published_at,
				categories=excluded.categories, source_url=excluded.source_url,
				abstract=excluded.abstract, updated_at=excluded.updated_at`,
			p.ID, p.Title, authorsJSON, published, catsJSON, p.SourceURL, p.Abstract,
			time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("upserting paper %s: %w", p.ID, err)
		}
		return nil
	})
}

// UpsertChunks writes chunks for paperID keyed by their chunk UUIDs.
// When an embedder is configured the chunk texts are embedded first; an
// embedding failure is logged and the chunks are stored without vectors,
// keeping any previous vector for unchanged text. It returns the number
// of chunks written with a fresh vector.
func (s *Store) UpsertChunks(ctx context.Context, paperID string, chunks []types.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors := s.embedChunks(ctx, paperID, chunks)

	err := s.run(ctx, "upsert chunks", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		if err := ensurePaperRow(ctx, tx, paperID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO chunks (uuid, paper_id, chunk_id, section_id, section_title, page, position,
				text, paragraph_ids, figure_ids, citation_ids, embedding)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(uuid) DO UPDATE SET
				paper_id=excluded.paper_id, chunk_id=excluded.chunk_id,
				section_id=excluded.section_id, section_title=excluded.section_title,
				page=excluded.page, position=excluded.position, text=excluded.text,
				paragraph_ids=excluded.paragraph_ids, figure_ids=excluded.figure_ids,
				citation_ids=excluded.citation_ids,
				embedding=CASE
					WHEN excluded.embedding IS NULL AND excluded.text = chunks.text THEN chunks.embedding
					ELSE excluded.embedding
				END`)
		if err != nil {
			return fmt.Errorf("preparing chunk upsert: %w", err)
		}
		defer stmt.Close()

		for i, ch := range chunks {
			var blob any
			if vectors != nil {
				blob = encodeVector(vectors[i])
			}
			_, err := stmt.ExecContext(ctx,
				identity.ChunkUUID(paperID, ch.ID), paperID, ch.ID,
				ch.SectionID, ch.SectionTitle, ch.Page, ch.Position, ch.Text,
				jsonList(ch.ParagraphIDs), jsonList(ch.FigureIDs), jsonList(ch.CitationIDs),
				blob,
			)
			if err != nil {
				return fmt.Errorf("upserting chunk %s: %w", ch.ID, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}

	embedded := 0
	if vectors != nil {
		embedded = len(chunks)
	}
	s.logger.Debug().Str("paper_id", paperID).Int("chunks", len(chunks)).Int("embedded", embedded).Msg("chunks upserted")
	return embedded, nil
}

// embedChunks returns one vector per chunk, or nil when no embedder is
// configured or embedding failed.
func (s *Store) embedChunks(ctx context.Context, paperID string, chunks []types.Chunk) [][]float32 {
	if s.embedder == nil {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err == nil && len(vectors) != len(chunks) {
		err = fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("paper_id", paperID).Str("model", s.embedder.Model()).
			Msg("embedding failed, storing chunks without vectors")
		return nil
	}
	return vectors
}

// UpsertFigures writes figures for paperID keyed by their figure UUIDs.
func (s *Store) UpsertFigures(ctx context.Context, paperID string, figures []types.Figure) error {
	if len(figures) == 0 {
		return nil
	}
	return s.run(ctx, "upsert figures", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		if err := ensurePaperRow(ctx, tx, paperID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO figures (uuid, paper_id, figure_id, label, caption, image_url, page, anchor_paragraph_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(uuid) DO UPDATE SET
				paper_id=excluded.paper_id, figure_id=excluded.figure_id, label=excluded.label,
				caption=excluded.caption, image_url=excluded.image_url, page=excluded.page,
				anchor_paragraph_id=excluded.anchor_paragraph_id`)
		if err != nil {
			return fmt.Errorf("preparing figure upsert: %w", err)
		}
		defer stmt.Close()

		for _, f := range figures {
			_, err := stmt.ExecContext(ctx,
				identity.FigureUUID(paperID, f.ID), paperID, f.ID,
				f.Label, f.Caption, f.ImageURL, f.Page, f.AnchorParagraphID,
			)
			if err != nil {
				return fmt.Errorf("upserting figure %s: %w", f.ID, err)
			}
		}
		return tx.Commit()
	})
}

// UpsertCitations writes citations for paperID keyed by their citation UUIDs.
func (s *Store) UpsertCitations(ctx context.Context, paperID string, citations []types.Citation) error {
	if len(citations) == 0 {
		return nil
	}
	return s.run(ctx, "upsert citations", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		if err := ensurePaperRow(ctx, tx, paperID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO citations (uuid, paper_id, citation_id, title, authors, year, source,
				doi, url, arxiv_id, abstract, raw_text)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(uuid) DO UPDATE SET
				paper_id=excluded.paper_id, citation_id=excluded.citation_id, title=excluded.title,
				authors=excluded.authors, year=excluded.year, source=excluded.source,
				doi=excluded.doi, url=excluded.url, arxiv_id=excluded.arxiv_id,
				abstract=excluded.abstract, raw_text=excluded.raw_text`)
		if err != nil {
			return fmt.Errorf("preparing citation upsert: %w", err)
		}
		defer stmt.Close()

		for _, c := range citations {
			_, err := stmt.ExecContext(ctx,
				identity.CitationUUID(paperID, c.ID), paperID, c.ID,
				c.Title, jsonList(c.Authors), c.Year, c.Source,
				c.DOI, c.URL, c.ArxivID, c.Abstract, c.RawText,
			)
			if err != nil {
				return fmt.Errorf("upserting citation %s: %w", c.ID, err)
			}
		}
		return tx.Commit()
	})
}

// PruneChunks deletes paperID's chunk rows whose local chunk IDs are not
// in keep, so a re-ingest that yields fewer chunks leaves no stale rows.
// It returns the number of rows removed.
func (s *Store) PruneChunks(ctx context.Context, paperID string, keep []string) (int64, error) {
	return s.prune(ctx, "chunks", "chunk_id", paperID, keep)
}

// PruneFigures deletes paperID's figure rows not in keep.
func (s *Store) PruneFigures(ctx context.Context, paperID string, keep []string) (int64, error) {
	return s.prune(ctx, "figures", "figure_id", paperID, keep)
}

// PruneCitations deletes paperID's citation rows not in keep.
func (s *Store) PruneCitations(ctx context.Context, paperID string, keep []string) (int64, error) {
	return s.prune(ctx, "citations", "citation_id", paperID, keep)
}

// prune deletes rows of table for paperID whose idColumn is not in keep.
// table and idColumn are package constants, never caller input.
func (s *Store) prune(ctx context.Context, table, idColumn, paperID string, keep []string) (int64, error) {
	var removed int64
	err := s.run(ctx, "prune "+table, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE paper_id = ?
			 AND `+idColumn+` NOT IN (SELECT value FROM json_each(?))`,
			paperID, jsonList(keep),
		)
		if err != nil {
			return fmt.Errorf("pruning %s for %s: %w", table, paperID, err)
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return removed, err
}

// DeletePaper removes every record of paperID's partition.
func (s *Store) DeletePaper(ctx context.Context, paperID string) error {
	return s.run(ctx, "delete paper", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()
		for _, stmt := range []string{
			`DELETE FROM chunks WHERE paper_id = ?`,
			`DELETE FROM figures WHERE paper_id = ?`,
			`DELETE FROM citations WHERE paper_id = ?`,
			`DELETE FROM papers WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, paperID); err != nil {
				return fmt.Errorf("deleting paper %s: %w", paperID, err)
			}
		}
		return tx.Commit()
	})
}

func ensurePaperRow(ctx context.Context, tx *sql.Tx, paperID string) error {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO papers (id) VALUES (?)`, paperID); err != nil {
		return fmt.Errorf("inserting paper stub: %w", err)
	}
	return nil
}

// jsonList encodes a string list as a JSON array; nil encodes as [].
func jsonList(v []string) string {
	if v == nil {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}
