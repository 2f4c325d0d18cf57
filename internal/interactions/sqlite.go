// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package interactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS interactions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	paper_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	prompt TEXT NOT NULL DEFAULT '',
	payload BLOB,
	created_at TEXT NOT NULL
)`

// SQLite is a Store backed by a table in an existing SQLite database,
// usually the index database.
type SQLite struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLite creates the interactions table in db if needed.
func NewSQLite(ctx context.Context, db *sql.DB, ttl time.Duration) (*SQLite, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("creating interactions table: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_interactions_paper ON interactions(paper_id)`); err != nil {
		return nil, fmt.Errorf("creating interactions index: %w", err)
	}
	return &SQLite{db: db, ttl: ttl, now: time.Now}, nil
}

// Get returns the record with the given ID.
func (s *SQLite) Get(ctx context.Context, id string) (*Record, error) {
	var (
		rec     Record
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, paper_id, kind, prompt, payload, created_at
		 FROM interactions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.UserID, &rec.PaperID, &rec.Kind, &rec.Prompt, &rec.Payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading interaction %s: %w", id, err)
	}

	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at of interaction %s: %w", id, err)
	}
	if expired(rec.CreatedAt, s.ttl, s.now()) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Put stores rec, replacing any record with the same ID.
func (s *SQLite) Put(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("interaction record has no ID")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interactions (id, user_id, paper_id, kind, prompt, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			user_id=excluded.user_id, paper_id=excluded.paper_id, kind=excluded.kind,
			prompt=excluded.prompt, payload=excluded.payload, created_at=excluded.created_at`,
		rec.ID, rec.UserID, rec.PaperID, rec.Kind, rec.Prompt, rec.Payload,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing interaction %s: %w", rec.ID, err)
	}
	return nil
}

// DeletePaper drops every record of paperID.
func (s *SQLite) DeletePaper(ctx context.Context, paperID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM interactions WHERE paper_id = ?`, paperID)
	if err != nil {
		return 0, fmt.Errorf("deleting interactions of %s: %w", paperID, err)
	}
	return res.RowsAffected()
}
