package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/linkkeeper/internal/apperr"
	"github.com/starford/linkkeeper/internal/index"
	"github.com/starford/linkkeeper/internal/storage"
)

// Prune forgets indexed notes that are no longer live in the store, so no
// resolved link keeps pointing at a trashed or deleted note. It returns the
// number of notes forgotten.
func Prune(ctx context.Context, tx *index.Tx, store storage.Store, logger *slog.Logger) (int, error) {
	indexed, err := tx.TitleIDs(ctx)
	if err != nil || len(indexed) == 0 {
		return 0, err
	}
	notes, err := store.ListChanged(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: list notes: %w", apperr.ErrStoreUnavailable, err)
	}
	live := make(map[string]struct{}, len(notes))
	for _, n := range notes {
		live[n.ID] = struct{}{}
	}

	var stale []string
	for _, id := range indexed {
		if _, ok := live[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	logger.Info("forgetting notes gone from store", slog.Int("count", len(stale)))
	if err := tx.Forget(ctx, stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}
