package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/starford/linkkeeper/internal/apperr"
	"github.com/starford/linkkeeper/internal/batch"
	"github.com/starford/linkkeeper/internal/index"
	"github.com/starford/linkkeeper/internal/storage"
)

// DefaultReportTitle is the title of the broken-link report note.
const DefaultReportTitle = "🚨 Broken Note Links!"

const (
	reportTimeLayout = "2006-01-02 15:04:05 MST"
	stampPrefix      = "\nLast updated "
)

// ReportConfig controls how the report note is rendered. OpenURL and
// CreateURL are templates where {id} and {title} are replaced by the
// query-escaped note id and title.
type ReportConfig struct {
	Title     string
	OpenURL   string
	CreateURL string
}

func (c ReportConfig) withDefaults() ReportConfig {
	if c.Title == "" {
		c.Title = DefaultReportTitle
	}
	if c.OpenURL == "" {
		c.OpenURL = "note://open?id={id}"
	}
	if c.CreateURL == "" {
		c.CreateURL = "note://create?title={title}"
	}
	return c
}

func expand(tmpl, id, title string) string {
	return strings.NewReplacer(
		"{id}", url.QueryEscape(id),
		"{title}", url.QueryEscape(title),
	).Replace(tmpl)
}

// Reporter keeps the broken-link report note in sync with a run's resolution.
type Reporter struct {
	store  storage.Store
	cfg    ReportConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewReporter creates a Reporter writing through store.
func NewReporter(store storage.Store, cfg ReportConfig, now func() time.Time, logger *slog.Logger) *Reporter {
	return &Reporter{store: store, cfg: cfg.withDefaults(), now: now, logger: logger}
}

// Publish creates, updates or trashes the report note and returns the id
// to checkpoint, which is empty when no report exists afterwards.
func (r *Reporter) Publish(ctx context.Context, tx *index.Tx, res *Resolution, reportID string) (string, error) {
	dead := res.Dead()
	ambiguous := res.Ambiguous.items()

	if len(dead) == 0 && len(ambiguous) == 0 {
		if reportID == "" {
			return "", nil
		}
		r.logger.Info("no broken links, trashing report", slog.String("id", reportID))
		err := r.store.TrashNote(ctx, reportID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return reportID, fmt.Errorf("%w: trash report: %w", apperr.ErrExternalWrite, err)
		}
		return "", nil
	}

	body, err := r.render(ctx, tx, dead, ambiguous)
	if err != nil {
		return reportID, err
	}

	if reportID != "" {
		current, err := r.store.GetByIDs(ctx, []string{reportID})
		if err != nil {
			return reportID, fmt.Errorf("%w: read report: %w", apperr.ErrStoreUnavailable, err)
		}
		if len(current) == 1 && withoutStamp(current[0].Body) == withoutStamp(body) {
			r.logger.Debug("report unchanged", slog.String("id", reportID))
			return reportID, nil
		}
		err = r.store.ReplaceBody(ctx, reportID, body)
		if err == nil {
			r.logger.Info("updated report", slog.String("id", reportID),
				slog.Int("dead", len(dead)), slog.Int("ambiguous", len(ambiguous)))
			return reportID, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return reportID, fmt.Errorf("%w: update report: %w", apperr.ErrExternalWrite, err)
		}
		r.logger.Warn("report note vanished, recreating", slog.String("id", reportID))
	}

	id, err := r.store.CreateNote(ctx, r.cfg.Title, body, true)
	if err != nil {
		return "", fmt.Errorf("%w: create report: %w", apperr.ErrExternalWrite, err)
	}
	r.logger.Info("created report", slog.String("id", id),
		slog.Int("dead", len(dead)), slog.Int("ambiguous", len(ambiguous)))
	return id, nil
}

// reportItem is one list entry. Candidates is nil for a dead link.
type reportItem struct {
	fromID     string
	fromTitle  string
	linkTitle  string
	candidates []string
}

// render lists every unresolved link ordered by source title, then link
// title, then source id.
func (r *Reporter) render(ctx context.Context, tx *index.Tx, dead []batch.Pair, ambiguous []ambiguousLink) (string, error) {
	items := make([]reportItem, 0, len(dead)+len(ambiguous))
	ids := make([]string, 0, len(dead)+len(ambiguous))
	for _, d := range dead {
		items = append(items, reportItem{fromID: d.A, linkTitle: d.B})
		ids = append(ids, d.A)
	}
	for _, a := range ambiguous {
		items = append(items, reportItem{fromID: a.FromID, linkTitle: a.LinkTitle, candidates: a.Candidates})
		ids = append(ids, a.FromID)
	}
	titles, err := tx.Titles(ctx, ids)
	if err != nil {
		return "", err
	}
	for i := range items {
		items[i].fromTitle = items[i].fromID
		if t, ok := titles[items[i].fromID]; ok {
			items[i].fromTitle = t
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.fromTitle != b.fromTitle {
			return a.fromTitle < b.fromTitle
		}
		if a.linkTitle != b.linkTitle {
			return a.linkTitle < b.linkTitle
		}
		return a.fromID < b.fromID
	})

	var b strings.Builder
	for _, it := range items {
		open := expand(r.cfg.OpenURL, it.fromID, it.fromTitle)
		if it.candidates == nil {
			fmt.Fprintf(&b, "* Dead link in [%s](%s) to %q ([create](%s))\n",
				it.fromTitle, open, it.linkTitle, expand(r.cfg.CreateURL, "", it.linkTitle))
			continue
		}
		fmt.Fprintf(&b, "* Ambiguous link in [%s](%s) to %q. Could be:\n", it.fromTitle, open, it.linkTitle)
		for _, id := range it.candidates {
			fmt.Fprintf(&b, "  * [%s](%s)\n", it.linkTitle, expand(r.cfg.OpenURL, id, it.linkTitle))
		}
	}
	fmt.Fprintf(&b, "%s%s\n", stampPrefix, r.now().Format(reportTimeLayout))
	return b.String(), nil
}

// withoutStamp drops the trailing "Last updated" line so two renderings
// of the same links compare equal.
func withoutStamp(body string) string {
	if i := strings.LastIndex(body, stampPrefix); i >= 0 {
		return body[:i]
	}
	return body
}
