package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/linkkeeper/internal/apperr"
	"github.com/starford/linkkeeper/internal/models"
)

// BrokenLink is an unresolved link row with its source title.
type BrokenLink struct {
	FromID    string `json:"from_id"`
	FromTitle string `json:"from_title"`
	LinkTitle string `json:"link_title"`
}

// OutgoingLink is a link row as seen from its source.
type OutgoingLink struct {
	ToID      string `json:"to_id,omitempty"`
	ToTitle   string `json:"to_title,omitempty"`
	LinkTitle string `json:"link_title,omitempty"`
}

// Title returns the indexed title for id.
func (db *DB) Title(ctx context.Context, id string) (string, error) {
	var title string
	err := db.conn.QueryRowContext(ctx, `SELECT title FROM titles WHERE id = ?`, id).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("index: title %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return "", queryErr("title", err)
	}
	return title, nil
}

// Outgoing returns the link rows of one source note.
func (db *DB) Outgoing(ctx context.Context, fromID string) ([]OutgoingLink, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT COALESCE(links.to_id, ''), COALESCE(titles.title, ''), COALESCE(links.link_title, '')
		FROM links LEFT JOIN titles ON titles.id = links.to_id
		WHERE links.from_id = ?
		ORDER BY 2, 3
	`, fromID)
	if err != nil {
		return nil, queryErr("outgoing", err)
	}
	defer rows.Close()

	var out []OutgoingLink
	for rows.Next() {
		var l OutgoingLink
		if err := rows.Scan(&l.ToID, &l.ToTitle, &l.LinkTitle); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Backlinks returns the ids of notes with a resolved link to target.
func (db *DB) Backlinks(ctx context.Context, target string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT DISTINCT from_id FROM links WHERE to_id = ? ORDER BY from_id`, target)
	if err != nil {
		return nil, queryErr("backlinks", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// BrokenLinks lists every unresolved link row, ordered by source title.
func (db *DB) BrokenLinks(ctx context.Context) ([]BrokenLink, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT links.from_id, COALESCE(titles.title, ''), links.link_title
		FROM links LEFT JOIN titles ON titles.id = links.from_id
		WHERE links.to_id IS NULL
		ORDER BY 2, 3
	`)
	if err != nil {
		return nil, queryErr("broken links", err)
	}
	defer rows.Close()

	var out []BrokenLink
	for rows.Next() {
		var b BrokenLink
		if err := rows.Scan(&b.FromID, &b.FromTitle, &b.LinkTitle); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// NotesTitled returns the ids of every note indexed under title.
func (db *DB) NotesTitled(ctx context.Context, title string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id FROM titles WHERE title = ? ORDER BY id`, title)
	if err != nil {
		return nil, queryErr("notes titled", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Metadata reads the last committed checkpoint.
func (db *DB) Metadata(ctx context.Context) (models.Metadata, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return models.Metadata{}, err
	}
	defer tx.Rollback() //nolint:errcheck // read-only
	return tx.Meta(ctx)
}
