package index

import (
	"context"

	"github.com/starford/linkkeeper/internal/models"
)

// LinkIndex is the read side of the index used by the HTTP and MCP surfaces.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type LinkIndex interface {
	Title(ctx context.Context, id string) (string, error)
	Outgoing(ctx context.Context, fromID string) ([]OutgoingLink, error)
	Backlinks(ctx context.Context, target string) ([]string, error)
	BrokenLinks(ctx context.Context) ([]BrokenLink, error)
	NotesTitled(ctx context.Context, title string) ([]string, error)
	Metadata(ctx context.Context) (models.Metadata, error)
}

// Verify *DB satisfies LinkIndex at compile time.
var _ LinkIndex = (*DB)(nil)
