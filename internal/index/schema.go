// Package index provides the SQLite-backed titles/links/meta index.
package index

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/linkkeeper/internal/apperr"
	"github.com/starford/linkkeeper/internal/batch"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS titles (
	id    TEXT PRIMARY KEY,
	title TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_titles_title ON titles(title);

CREATE TABLE IF NOT EXISTS links (
	from_id    TEXT NOT NULL,
	to_id      TEXT,
	link_title TEXT,
	CHECK ((to_id IS NULL) <> (link_title IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_links_from ON links(from_id);
CREATE INDEX IF NOT EXISTS idx_links_to ON links(to_id);

CREATE TABLE IF NOT EXISTS meta (
	singleton             INTEGER PRIMARY KEY CHECK (singleton = 1),
	latest_note_time      INTEGER,
	last_store_check_time INTEGER,
	report_note_id        TEXT
);

INSERT OR IGNORE INTO meta (singleton) VALUES (1);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn  *sql.DB
	limit int
}

// Option configures the index.
type Option func(*DB)

// WithParamLimit sets the bound-parameter ceiling used to chunk queries.
func WithParamLimit(n int) Option {
	return func(db *DB) {
		if n > 0 {
			db.limit = n
		}
	}
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: index: open db: %w", apperr.ErrStoreUnavailable, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: index: ping: %w", apperr.ErrStoreUnavailable, err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: index: apply schema: %w", apperr.ErrStoreUnavailable, err)
	}
	db := &DB{conn: conn, limit: batch.DefaultLimit}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Begin starts the transaction a run performs all index work in.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: index: begin tx: %w", apperr.ErrQuery, err)
	}
	return &Tx{tx: tx, limit: db.limit}, nil
}

func queryErr(op string, err error) error {
	return fmt.Errorf("%w: index: %s: %w", apperr.ErrQuery, op, err)
}
