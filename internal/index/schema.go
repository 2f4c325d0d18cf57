// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package index

import (
	"context"
	"fmt"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS papers (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		authors TEXT NOT NULL DEFAULT '[]',
		published_at TEXT NOT NULL DEFAULT '',
		categories TEXT NOT NULL DEFAULT '[]',
		source_url TEXT NOT NULL DEFAULT '',
		abstract TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		rowid INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		paper_id TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		section_id TEXT NOT NULL DEFAULT '',
		section_title TEXT NOT NULL DEFAULT '',
		page INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL,
		text TEXT NOT NULL,
		paragraph_ids TEXT NOT NULL DEFAULT '[]',
		figure_ids TEXT NOT NULL DEFAULT '[]',
		citation_ids TEXT NOT NULL DEFAULT '[]',
		embedding BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_paper_position ON chunks(paper_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_paper_page ON chunks(paper_id, page)`,
	`CREATE TABLE IF NOT EXISTS figures (
		uuid TEXT PRIMARY KEY,
		paper_id TEXT NOT NULL,
		figure_id TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		caption TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		page INTEGER NOT NULL DEFAULT 0,
		anchor_paragraph_id TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_figures_paper ON figures(paper_id, figure_id)`,
	`CREATE TABLE IF NOT EXISTS citations (
		uuid TEXT PRIMARY KEY,
		paper_id TEXT NOT NULL,
		citation_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		authors TEXT NOT NULL DEFAULT '[]',
		year TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		doi TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		arxiv_id TEXT NOT NULL DEFAULT '',
		abstract TEXT NOT NULL DEFAULT '',
		raw_text TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_citations_paper ON citations(paper_id, citation_id)`,
}

// ftsStatements create the keyword index over chunk text and the
// triggers that keep it in sync with the chunks table.
var ftsStatements = []string{
	`CREATE VIRTUAL TABLE chunks_fts USING fts5(
		text, section_title,
		content=chunks, content_rowid=rowid,
		tokenize='porter unicode61'
	)`,
	`CREATE TRIGGER chunks_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, text, section_title) VALUES (new.rowid, new.text, new.section_title);
	END`,
	`CREATE TRIGGER chunks_ad AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, text, section_title) VALUES('delete', old.rowid, old.text, old.section_title);
	END`,
	`CREATE TRIGGER chunks_au AFTER UPDATE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, text, section_title) VALUES('delete', old.rowid, old.text, old.section_title);
		INSERT INTO chunks_fts(rowid, text, section_title) VALUES (new.rowid, new.text, new.section_title);
	END`,
}

// EnsureSchema creates the index tables, the FTS5 keyword index, and its
// sync triggers if they do not exist. It is safe to call on every start.
// Failures wrap types.ErrIndexUnavailable.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.run(ctx, "ensure schema", func(ctx context.Context) error {
		for _, stmt := range schemaStatements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%w: executing schema statement: %w", types.ErrIndexUnavailable, err)
			}
		}

		var ftsExists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='chunks_fts'`,
		).Scan(&ftsExists); err != nil {
			return fmt.Errorf("%w: checking FTS table: %w", types.ErrIndexUnavailable, err)
		}
		if ftsExists > 0 {
			return nil
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: beginning transaction: %w", types.ErrIndexUnavailable, err)
		}
		defer tx.Rollback()

		for _, stmt := range ftsStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%w: creating FTS infrastructure: %w", types.ErrIndexUnavailable, err)
			}
		}
		return tx.Commit()
	})
}
