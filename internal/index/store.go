// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package index owns the hybrid search index: a SQLite database holding
// chunk, figure, and citation records keyed by identity UUIDs, an FTS5
// keyword index over chunk text, and a float32 embedding per chunk for
// the vector leg. Every record carries a paper_id so each paper forms
// its own partition.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/phuslu/log"

	"github.com/pdiddy/evidence-engine/internal/embed"
	"github.com/pdiddy/evidence-engine/internal/logging"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

const defaultTimeout = 15 * time.Second

// Store manages the index database.
type Store struct {
	db       *sql.DB
	path     string
	timeout  time.Duration
	embedder embed.Embedder
	logger   *log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithEmbedder sets the embedder used to vectorize chunks on upsert.
// Without one, chunks are stored without vectors.
func WithEmbedder(e embed.Embedder) Option {
	return func(s *Store) { s.embedder = e }
}

// WithLogger sets the store's logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open opens or creates the index database at cfg.Path and ensures its
// schema. The special path ":memory:" opens a private in-memory database.
func Open(ctx context.Context, cfg types.IndexConfig, opts ...Option) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = types.DefaultConfig().Index.Path
	}

	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	s := &Store{db: db, path: path, timeout: timeout}
	for _, o := range opts {
		o(s)
	}
	s.logger = logging.OrDiscard(s.logger)

	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string { return s.path }

// DB exposes the underlying database for stores that share the index
// file, such as the interaction cache.
func (s *Store) DB() *sql.DB { return s.db }

// HasEmbedder reports whether chunk upserts compute vectors.
func (s *Store) HasEmbedder() bool { return s.embedder != nil }

// VerifyConnection is a cheap liveness check. Failure wraps
// types.ErrIndexUnavailable.
func (s *Store) VerifyConnection(ctx context.Context) error {
	return s.run(ctx, "verify connection", func(ctx context.Context) error {
		if err := s.db.PingContext(ctx); err != nil {
			return fmt.Errorf("%w: ping: %w", types.ErrIndexUnavailable, err)
		}
		var one int
		if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
			return fmt.Errorf("%w: check query: %w", types.ErrIndexUnavailable, err)
		}
		return nil
	})
}

// run executes fn under the index timeout. A call that runs past the
// deadline returns a *types.TimeoutError naming op.
func (s *Store) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &types.TimeoutError{Op: "index " + op, After: s.timeout}
	}
	return err
}
