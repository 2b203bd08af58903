// Package storage defines the note store contract and its adapters.
package storage

import (
	"context"
	"time"

	"github.com/starford/linkkeeper/internal/batch"
	"github.com/starford/linkkeeper/internal/models"
)

// Store is the external note store the link engine reads from and writes to.
type Store interface {
	// ModificationTime is a cheap "has anything changed" signal for the whole store.
	ModificationTime(ctx context.Context) (time.Time, error)
	// LatestNoteTime returns the newest note modification time, or the zero time for an empty store.
	LatestNoteTime(ctx context.Context) (time.Time, error)
	// ListChanged returns non-trashed notes modified at or after since; all of them when since is nil.
	ListChanged(ctx context.Context, since *time.Time) ([]models.Note, error)
	// GetByIDs returns the non-trashed notes among ids. Unknown ids are skipped.
	GetByIDs(ctx context.Context, ids []string) ([]models.Note, error)
	// ReplaceBody overwrites a note's body.
	ReplaceBody(ctx context.Context, id, body string) error
	// CreateNote stores a new note and returns its id.
	CreateNote(ctx context.Context, title, body string, pinned bool) (string, error)
	// TrashNote soft-deletes a note.
	TrashNote(ctx context.Context, id string) error
	Close() error
}

// Option configures a store adapter.
type Option func(*options)

type options struct {
	now        func() time.Time
	paramLimit int
}

func defaultOptions() options {
	return options{now: time.Now, paramLimit: batch.DefaultLimit}
}

// WithClock overrides the clock used to stamp modifications.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithParamLimit sets the bound-parameter ceiling for batched reads.
func WithParamLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.paramLimit = n
		}
	}
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
