package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/linkkeeper/internal/apperr"
	"github.com/starford/linkkeeper/internal/models"
	"github.com/starford/linkkeeper/internal/parser"
	"github.com/starford/linkkeeper/internal/storage"
)

// Detector decides whether the note store changed and fetches what did.
type Detector struct {
	store storage.Store
}

// NewDetector creates a Detector over store.
func NewDetector(store storage.Store) *Detector {
	return &Detector{store: store}
}

// Snapshot is the store's own clock read at the start of a run. Edits that
// land after it are newer than the checkpoint it becomes, so the next run
// sees them.
type Snapshot struct {
	Modified   time.Time
	LatestNote time.Time
}

// HasChanged reads a Snapshot and reports whether the store was modified
// after lastCheck. A nil lastCheck (first run) always counts as changed.
func (d *Detector) HasChanged(ctx context.Context, lastCheck *time.Time) (bool, Snapshot, error) {
	var snap Snapshot
	mod, err := d.store.ModificationTime(ctx)
	if err != nil {
		return false, snap, fmt.Errorf("%w: modification time: %w", apperr.ErrStoreUnavailable, err)
	}
	latest, err := d.store.LatestNoteTime(ctx)
	if err != nil {
		return false, snap, fmt.Errorf("%w: latest note time: %w", apperr.ErrStoreUnavailable, err)
	}
	snap = Snapshot{Modified: mod, LatestNote: latest}
	return lastCheck == nil || mod.After(*lastCheck), snap, nil
}

// FetchChanged returns every live note modified at or after since (all
// notes when since is nil) with its distinct link titles.
func (d *Detector) FetchChanged(ctx context.Context, since *time.Time) ([]models.ChangedEntry, error) {
	notes, err := d.store.ListChanged(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("%w: list changed: %w", apperr.ErrStoreUnavailable, err)
	}
	out := make([]models.ChangedEntry, len(notes))
	for i, n := range notes {
		out[i] = models.ChangedEntry{
			ID:    n.ID,
			Title: n.Title,
			Links: parser.Links(n.Body),
		}
	}
	return out, nil
}
