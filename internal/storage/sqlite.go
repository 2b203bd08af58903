package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/linkkeeper/internal/apperr"
	"github.com/starford/linkkeeper/internal/batch"
	"github.com/starford/linkkeeper/internal/models"
)

const notesSchemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	modified_at INTEGER NOT NULL,
	trashed     INTEGER NOT NULL DEFAULT 0,
	pinned      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_notes_modified ON notes(modified_at);
`

// SQLite implements Store over a note database file. Modification times
// are stored as unix nanoseconds.
type SQLite struct {
	path string
	conn *sql.DB
	opts options
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the note database at path.
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: storage: open db: %w", apperr.ErrStoreUnavailable, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: storage: ping: %w", apperr.ErrStoreUnavailable, err)
	}
	if _, err := conn.Exec(notesSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: apply notes schema: %w", err)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &SQLite{path: path, conn: conn, opts: o}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// ModificationTime returns the newer mtime of the database file and its WAL.
func (s *SQLite) ModificationTime(_ context.Context) (time.Time, error) {
	var latest time.Time
	for _, p := range []string{s.path, s.path + "-wal"} {
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return time.Time{}, fmt.Errorf("storage: stat %s: %w", p, err)
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest, nil
}

// LatestNoteTime returns MAX(modified_at) over all notes.
func (s *SQLite) LatestNoteTime(ctx context.Context) (time.Time, error) {
	var latest sql.NullInt64
	if err := s.conn.QueryRowContext(ctx, `SELECT MAX(modified_at) FROM notes`).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("storage: latest note time: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, latest.Int64), nil
}

// ListChanged returns non-trashed notes modified at or after since.
func (s *SQLite) ListChanged(ctx context.Context, since *time.Time) ([]models.Note, error) {
	q := `SELECT id, title, body, modified_at, pinned FROM notes WHERE trashed = 0`
	var args []any
	if since != nil {
		q += ` AND modified_at >= ?`
		args = append(args, since.UnixNano())
	}
	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list changed: %w", err)
	}
	return scanNotes(rows)
}

// GetByIDs reads notes in parameter-limited batches.
func (s *SQLite) GetByIDs(ctx context.Context, ids []string) ([]models.Note, error) {
	var out []models.Note
	err := batch.Fold(ctx, s.opts.paramLimit, ids, 1, batch.One[string],
		func(placeholders string) string {
			return `SELECT id, title, body, modified_at, pinned FROM notes WHERE trashed = 0 AND id IN (` + placeholders + `)`
		},
		func(ctx context.Context, q string, args []any) ([]models.Note, error) {
			rows, err := s.conn.QueryContext(ctx, q, args...)
			if err != nil {
				return nil, err
			}
			return scanNotes(rows)
		},
		func(notes []models.Note) error {
			out = append(out, notes...)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("storage: get by ids: %w", err)
	}
	return out, nil
}

// ReplaceBody overwrites a note body and bumps its modification time.
func (s *SQLite) ReplaceBody(ctx context.Context, id, body string) error {
	return s.touch(ctx, `UPDATE notes SET body = ?, modified_at = ? WHERE id = ? AND trashed = 0`,
		id, body, s.opts.now().UnixNano(), id)
}

// CreateNote inserts a new note with a random UUID.
func (s *SQLite) CreateNote(ctx context.Context, title, body string, pinned bool) (string, error) {
	id := uuid.NewString()
	err := s.Put(ctx, models.Note{ID: id, Title: title, Body: body, Pinned: pinned})
	if err != nil {
		return "", err
	}
	return id, nil
}

// TrashNote flags a note as trashed.
func (s *SQLite) TrashNote(ctx context.Context, id string) error {
	return s.touch(ctx, `UPDATE notes SET trashed = 1, modified_at = ? WHERE id = ? AND trashed = 0`,
		id, s.opts.now().UnixNano(), id)
}

// Put inserts or replaces a note, stamping it with the current time.
func (s *SQLite) Put(ctx context.Context, n models.Note) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO notes (id, title, body, modified_at, trashed, pinned)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			title       = excluded.title,
			body        = excluded.body,
			modified_at = excluded.modified_at,
			trashed     = 0,
			pinned      = excluded.pinned
	`, n.ID, n.Title, n.Body, s.opts.now().UnixNano(), n.Pinned)
	if err != nil {
		return fmt.Errorf("storage: put note %s: %w", n.ID, err)
	}
	return nil
}

func (s *SQLite) touch(ctx context.Context, q, id string, args ...any) error {
	res, err := s.conn.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("storage: update %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("storage: note %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func scanNotes(rows *sql.Rows) ([]models.Note, error) {
	defer rows.Close()
	var out []models.Note
	for rows.Next() {
		var (
			n   models.Note
			mod int64
		)
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &mod, &n.Pinned); err != nil {
			return nil, err
		}
		n.ModifiedAt = time.Unix(0, mod)
		out = append(out, n)
	}
	return out, rows.Err()
}
