package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/linkkeeper/internal/apperr"
	"github.com/starford/linkkeeper/internal/models"
)

// Memory is an in-process Store, used by tests and dry runs.
type Memory struct {
	mu      sync.RWMutex
	notes   map[string]models.Note
	trashed map[string]models.Note
	modTime time.Time
	opts    options

	// FailWrites makes every write return ErrExternalWrite.
	FailWrites bool
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Memory{
		notes:   make(map[string]models.Note),
		trashed: make(map[string]models.Note),
		opts:    o,
	}
}

// Close is a no-op for Memory.
func (m *Memory) Close() error { return nil }

// Put inserts or replaces a note, stamping it with the current time.
func (m *Memory) Put(n models.Note) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ModifiedAt = m.stamp()
	delete(m.trashed, n.ID)
	m.notes[n.ID] = n
}

// Get returns a live note by id.
func (m *Memory) Get(id string) (models.Note, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notes[id]
	return n, ok
}

// IsTrashed reports whether id was trashed.
func (m *Memory) IsTrashed(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.trashed[id]
	return ok
}

// stamp advances the store clock; callers hold mu.
func (m *Memory) stamp() time.Time {
	now := m.opts.now()
	if now.After(m.modTime) {
		m.modTime = now
	}
	return now
}

// ModificationTime returns the time of the last write.
func (m *Memory) ModificationTime(_ context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.modTime, nil
}

// LatestNoteTime returns the newest live note time.
func (m *Memory) LatestNoteTime(_ context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest time.Time
	for _, n := range m.notes {
		if n.ModifiedAt.After(latest) {
			latest = n.ModifiedAt
		}
	}
	return latest, nil
}

// ListChanged returns live notes modified at or after since, ordered by id.
func (m *Memory) ListChanged(_ context.Context, since *time.Time) ([]models.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Note
	for _, n := range m.notes {
		if since == nil || !n.ModifiedAt.Before(*since) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetByIDs returns the live notes among ids.
func (m *Memory) GetByIDs(_ context.Context, ids []string) ([]models.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Note
	for id := range idSet(ids) {
		if n, ok := m.notes[id]; ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReplaceBody overwrites a note body.
func (m *Memory) ReplaceBody(_ context.Context, id, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("storage: replace %s: %w", id, apperr.ErrExternalWrite)
	}
	n, ok := m.notes[id]
	if !ok {
		return fmt.Errorf("storage: note %s: %w", id, apperr.ErrNotFound)
	}
	n.Body = body
	n.ModifiedAt = m.stamp()
	m.notes[id] = n
	return nil
}

// CreateNote stores a new note under a random UUID.
func (m *Memory) CreateNote(_ context.Context, title, body string, pinned bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return "", fmt.Errorf("storage: create: %w", apperr.ErrExternalWrite)
	}
	id := uuid.NewString()
	m.notes[id] = models.Note{ID: id, Title: title, Body: body, Pinned: pinned, ModifiedAt: m.stamp()}
	return id, nil
}

// TrashNote moves a note to the trash.
func (m *Memory) TrashNote(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("storage: trash %s: %w", id, apperr.ErrExternalWrite)
	}
	n, ok := m.notes[id]
	if !ok {
		return fmt.Errorf("storage: note %s: %w", id, apperr.ErrNotFound)
	}
	delete(m.notes, id)
	m.trashed[id] = n
	m.stamp()
	return nil
}
