package index

import (
	"context"
	"database/sql"
	"time"

	"github.com/starford/linkkeeper/internal/batch"
	"github.com/starford/linkkeeper/internal/models"
)

// Tx is an index transaction. Later statements see earlier writes.
type Tx struct {
	tx    *sql.Tx
	limit int
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return queryErr("commit", err)
	}
	return nil
}

// Rollback aborts the transaction. Calling it after Commit is harmless.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Match is one row of a link resolution join. ToID is empty when the
// link title matched no note.
type Match struct {
	FromID    string
	LinkTitle string
	ToID      string
}

func (t *Tx) exec(ctx context.Context, q string, args []any) error {
	_, err := t.tx.ExecContext(ctx, q, args...)
	return err
}

// Meta reads the run checkpoint row.
func (t *Tx) Meta(ctx context.Context) (models.Metadata, error) {
	var (
		latest, checked sql.NullInt64
		report          sql.NullString
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT latest_note_time, last_store_check_time, report_note_id FROM meta WHERE singleton = 1`,
	).Scan(&latest, &checked, &report)
	if err != nil {
		return models.Metadata{}, queryErr("read meta", err)
	}
	return models.Metadata{
		LatestNoteTime:     fromNanos(latest),
		LastStoreCheckTime: fromNanos(checked),
		ReportNoteID:       report.String,
	}, nil
}

// WriteMeta replaces the run checkpoint row.
func (t *Tx) WriteMeta(ctx context.Context, m models.Metadata) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE meta SET latest_note_time = ?, last_store_check_time = ?, report_note_id = ? WHERE singleton = 1`,
		toNanos(m.LatestNoteTime), toNanos(m.LastStoreCheckTime),
		sql.NullString{String: m.ReportNoteID, Valid: m.ReportNoteID != ""})
	if err != nil {
		return queryErr("write meta", err)
	}
	return nil
}

// ChangedTitles joins fresh (id, title) pairs against the titles table and
// returns the ids whose indexed title differs. Unknown ids are skipped.
func (t *Tx) ChangedTitles(ctx context.Context, fresh []batch.Pair) (models.TitleChanges, error) {
	out := make(models.TitleChanges)
	err := batch.Fold(ctx, t.limit, fresh, 2, batch.Pair.Bind,
		func(placeholders string) string {
			return `WITH fresh(id, title) AS (VALUES ` + placeholders + `)
				SELECT fresh.id, titles.title, fresh.title
				FROM fresh INNER JOIN titles ON fresh.id = titles.id
				WHERE fresh.title != titles.title`
		},
		t.query3,
		func(rows [][3]string) error {
			for _, r := range rows {
				out[r[0]] = models.TitleChange{Old: r[1], New: r[2]}
			}
			return nil
		})
	if err != nil {
		return nil, queryErr("changed titles", err)
	}
	return out, nil
}

// RecordTitles upserts (id, title) pairs.
func (t *Tx) RecordTitles(ctx context.Context, titles []batch.Pair) error {
	err := batch.Exec(ctx, t.limit, titles, 2, batch.Pair.Bind,
		func(placeholders string) string {
			return `INSERT INTO titles (id, title) VALUES ` + placeholders + `
				ON CONFLICT(id) DO UPDATE SET title = excluded.title`
		},
		t.exec)
	if err != nil {
		return queryErr("record titles", err)
	}
	return nil
}

// Titles returns id -> title for the given ids.
func (t *Tx) Titles(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	err := batch.Fold(ctx, t.limit, ids, 1, batch.One[string],
		func(placeholders string) string {
			return `SELECT id, title, '' FROM titles WHERE id IN (` + placeholders + `)`
		},
		t.query3,
		func(rows [][3]string) error {
			for _, r := range rows {
				out[r[0]] = r[1]
			}
			return nil
		})
	if err != nil {
		return nil, queryErr("titles", err)
	}
	return out, nil
}

// LinksTo returns fromID -> linked ids for resolved links pointing at ids.
func (t *Tx) LinksTo(ctx context.Context, ids []string) (map[string][]string, error) {
	out := make(map[string][]string)
	err := batch.Fold(ctx, t.limit, ids, 1, batch.One[string],
		func(placeholders string) string {
			return `SELECT from_id, to_id, '' FROM links WHERE to_id IN (` + placeholders + `)`
		},
		t.query3,
		func(rows [][3]string) error {
			for _, r := range rows {
				out[r[0]] = append(out[r[0]], r[1])
			}
			return nil
		})
	if err != nil {
		return nil, queryErr("links to", err)
	}
	return out, nil
}

// Unresolved returns every (fromID, linkTitle) of an unresolved link.
func (t *Tx) Unresolved(ctx context.Context) ([]batch.Pair, error) {
	rows, err := t.query3(ctx, `SELECT from_id, link_title, '' FROM links WHERE to_id IS NULL`, nil)
	if err != nil {
		return nil, queryErr("unresolved links", err)
	}
	out := make([]batch.Pair, len(rows))
	for i, r := range rows {
		out[i] = batch.Pair{A: r[0], B: r[1]}
	}
	return out, nil
}

// DeleteUnresolved removes unresolved rows matching (fromID, linkTitle) pairs.
func (t *Tx) DeleteUnresolved(ctx context.Context, pairs []batch.Pair) error {
	err := batch.Exec(ctx, t.limit, pairs, 2, batch.Pair.Bind,
		func(placeholders string) string {
			return `DELETE FROM links WHERE to_id IS NULL AND (from_id, link_title) IN (VALUES ` + placeholders + `)`
		},
		t.exec)
	if err != nil {
		return queryErr("delete unresolved links", err)
	}
	return nil
}

// DeleteLinksFrom removes every row whose source is one of ids.
func (t *Tx) DeleteLinksFrom(ctx context.Context, ids []string) error {
	err := batch.Exec(ctx, t.limit, ids, 1, batch.One[string],
		func(placeholders string) string {
			return `DELETE FROM links WHERE from_id IN (` + placeholders + `)`
		},
		t.exec)
	if err != nil {
		return queryErr("delete links", err)
	}
	return nil
}

// ResolveLinks joins (fromID, linkTitle) pairs against titles by exact
// title. visit receives each chunk's matches in order; a title shared by
// several notes yields one match per note.
func (t *Tx) ResolveLinks(ctx context.Context, pending []batch.Pair, visit func([]Match) error) error {
	err := batch.Fold(ctx, t.limit, pending, 2, batch.Pair.Bind,
		func(placeholders string) string {
			return `WITH pending(from_id, link_title) AS (VALUES ` + placeholders + `)
				SELECT pending.from_id, pending.link_title, COALESCE(titles.id, '')
				FROM pending LEFT JOIN titles ON titles.title = pending.link_title`
		},
		t.query3,
		func(rows [][3]string) error {
			matches := make([]Match, len(rows))
			for i, r := range rows {
				matches[i] = Match{FromID: r[0], LinkTitle: r[1], ToID: r[2]}
			}
			return visit(matches)
		})
	if err != nil {
		return queryErr("resolve links", err)
	}
	return nil
}

// InsertLinks writes link rows, storing resolved targets in to_id and
// unresolved ones in link_title.
func (t *Tx) InsertLinks(ctx context.Context, recs []models.LinkRecord) error {
	err := batch.Exec(ctx, t.limit, recs, 3, bindLink,
		func(placeholders string) string {
			return `INSERT INTO links (from_id, to_id, link_title) VALUES ` + placeholders
		},
		t.exec)
	if err != nil {
		return queryErr("insert links", err)
	}
	return nil
}

func bindLink(r models.LinkRecord) []any {
	if r.To.IsResolved() {
		return []any{r.FromID, r.To.ID(), nil}
	}
	return []any{r.FromID, nil, r.To.Title()}
}

// query3 runs q and scans three text columns per row.
func (t *Tx) query3(ctx context.Context, q string, args []any) ([][3]string, error) {
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][3]string
	for rows.Next() {
		var r [3]string
		if err := rows.Scan(&r[0], &r[1], &r[2]); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func fromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}

func toNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// TitleIDs returns every id in the titles table.
func (t *Tx) TitleIDs(ctx context.Context) ([]string, error) {
	rows, err := t.query3(ctx, `SELECT id, '', '' FROM titles ORDER BY id`, nil)
	if err != nil {
		return nil, queryErr("title ids", err)
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r[0]
	}
	return out, nil
}

// Forget drops notes that left the store. Resolved links pointing at them
// turn unresolved under the target's last title; their own titles and
// outgoing links are deleted.
func (t *Tx) Forget(ctx context.Context, ids []string) error {
	steps := []struct {
		op     string
		format batch.Formatter
	}{
		{"unresolve links", func(placeholders string) string {
			return `UPDATE links
				SET link_title = (SELECT title FROM titles WHERE titles.id = links.to_id), to_id = NULL
				WHERE to_id IN (` + placeholders + `)`
		}},
		{"delete links", func(placeholders string) string {
			return `DELETE FROM links WHERE from_id IN (` + placeholders + `)`
		}},
		{"delete titles", func(placeholders string) string {
			return `DELETE FROM titles WHERE id IN (` + placeholders + `)`
		}},
	}
	for _, s := range steps {
		if err := batch.Exec(ctx, t.limit, ids, 1, batch.One[string], s.format, t.exec); err != nil {
			return queryErr(s.op, err)
		}
	}
	return nil
}
