package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/starford/linkkeeper/internal/apperr"
	"github.com/starford/linkkeeper/internal/batch"
	"github.com/starford/linkkeeper/internal/index"
	"github.com/starford/linkkeeper/internal/models"
	"github.com/starford/linkkeeper/internal/parser"
	"github.com/starford/linkkeeper/internal/storage"
)

// FindRenames returns the changed notes whose indexed title differs from
// their current one. Notes without an indexed title are new, not renamed.
func FindRenames(ctx context.Context, tx *index.Tx, changed []models.ChangedEntry) (models.TitleChanges, error) {
	return tx.ChangedTitles(ctx, titlePairs(changed))
}

// RecordTitles stores the current title of every changed note.
func RecordTitles(ctx context.Context, tx *index.Tx, changed []models.ChangedEntry) error {
	return tx.RecordTitles(ctx, titlePairs(changed))
}

func titlePairs(changed []models.ChangedEntry) []batch.Pair {
	pairs := make([]batch.Pair, len(changed))
	for i, e := range changed {
		pairs[i] = batch.Pair{A: e.ID, B: e.Title}
	}
	return pairs
}

// Propagator rewrites links to renamed notes in the notes that reference them.
type Propagator struct {
	store  storage.Store
	logger *slog.Logger
}

// NewPropagator creates a Propagator writing through store.
func NewPropagator(store storage.Store, logger *slog.Logger) *Propagator {
	return &Propagator{store: store, logger: logger}
}

// Propagate rewrites [[Old]] to [[New]] in every note with a resolved link
// to a renamed note and pushes the new body to the store. It returns a copy
// of changed whose link sets reflect the rewrites, and the number of notes
// written.
func (p *Propagator) Propagate(ctx context.Context, tx *index.Tx, changed []models.ChangedEntry, renames models.TitleChanges) ([]models.ChangedEntry, int, error) {
	out := make([]models.ChangedEntry, len(changed))
	pos := make(map[string]int, len(changed))
	for i, e := range changed {
		out[i] = e.Clone()
		pos[e.ID] = i
	}
	if len(renames) == 0 {
		return out, 0, nil
	}

	updates, err := tx.LinksTo(ctx, sortedKeys(renames))
	if err != nil {
		return nil, 0, err
	}
	p.logger.Debug("rename sources", slog.Int("renamed", len(renames)), slog.Int("sources", len(updates)))
	if len(updates) == 0 {
		return out, 0, nil
	}

	notes, err := p.store.GetByIDs(ctx, sortedKeys(updates))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read rename sources: %w", apperr.ErrStoreUnavailable, err)
	}

	written := 0
	for _, n := range notes {
		body, rewrote := n.Body, false
		for _, target := range updates[n.ID] {
			ch := renames[target]
			var count int
			body, count = parser.Rewrite(body, ch.Old, ch.New)
			if count == 0 {
				continue
			}
			rewrote = true
			p.logger.Info("replacing link",
				slog.String("note", n.Title),
				slog.String("id", n.ID),
				slog.String("old", ch.Old),
				slog.String("new", ch.New))
			if i, ok := pos[n.ID]; ok {
				delete(out[i].Links, ch.Old)
				out[i].Links[ch.New] = struct{}{}
			}
		}
		if !rewrote {
			continue
		}
		body, _ = parser.StripTitleLine(body, n.Title)
		if err := p.store.ReplaceBody(ctx, n.ID, body); err != nil {
			return nil, written, fmt.Errorf("%w: replace body of %s: %w", apperr.ErrExternalWrite, n.ID, err)
		}
		written++
	}
	return out, written, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
