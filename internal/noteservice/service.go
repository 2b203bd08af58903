// Package noteservice answers link graph queries and triggers maintenance
// runs on behalf of the HTTP and MCP surfaces.
package noteservice

import (
	"context"
	"errors"
	"time"

	"github.com/starford/linkkeeper/internal/apperr"
	"github.com/starford/linkkeeper/internal/engine"
	"github.com/starford/linkkeeper/internal/index"
)

// Runner executes one maintenance run.
type Runner interface {
	Run(ctx context.Context) (*engine.Result, error)
}

// NoteRef names an indexed note.
type NoteRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// NoteLinks is a note with its outgoing link rows.
type NoteLinks struct {
	NoteRef
	Links []index.OutgoingLink `json:"links"`
}

// NoteBacklinks is a note with the notes resolving a link to it.
type NoteBacklinks struct {
	NoteRef
	Backlinks []NoteRef `json:"backlinks"`
}

// Status is the last committed run checkpoint.
type Status struct {
	LatestNoteTime     *time.Time `json:"latest_note_time,omitempty"`
	LastStoreCheckTime *time.Time `json:"last_store_check_time,omitempty"`
	ReportNoteID       string     `json:"report_note_id,omitempty"`
}

// Service coordinates runs and index reads.
type Service struct {
	runner Runner
	idx    index.LinkIndex
	onRun  func(*engine.Result, error)
}

// Option configures a Service.
type Option func(*Service)

// WithRunListener registers fn to observe every run outcome.
func WithRunListener(fn func(*engine.Result, error)) Option {
	return func(s *Service) { s.onRun = fn }
}

// NewService creates a new note service.
func NewService(runner Runner, idx index.LinkIndex, opts ...Option) *Service {
	s := &Service{runner: runner, idx: idx}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run triggers a maintenance run and notifies the run listener.
func (s *Service) Run(ctx context.Context) (*engine.Result, error) {
	res, err := s.runner.Run(ctx)
	if s.onRun != nil {
		s.onRun(res, err)
	}
	return res, err
}

// BrokenLinks lists every unresolved link currently in the index.
func (s *Service) BrokenLinks(ctx context.Context) ([]index.BrokenLink, error) {
	links, err := s.idx.BrokenLinks(ctx)
	if links == nil {
		links = []index.BrokenLink{}
	}
	return links, err
}

// Outgoing returns the link rows of note id.
func (s *Service) Outgoing(ctx context.Context, id string) (*NoteLinks, error) {
	ref, err := s.ref(ctx, id)
	if err != nil {
		return nil, err
	}
	links, err := s.idx.Outgoing(ctx, id)
	if err != nil {
		return nil, err
	}
	if links == nil {
		links = []index.OutgoingLink{}
	}
	return &NoteLinks{NoteRef: ref, Links: links}, nil
}

// Backlinks returns the notes with a resolved link to id.
func (s *Service) Backlinks(ctx context.Context, id string) (*NoteBacklinks, error) {
	ref, err := s.ref(ctx, id)
	if err != nil {
		return nil, err
	}
	ids, err := s.idx.Backlinks(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &NoteBacklinks{NoteRef: ref, Backlinks: make([]NoteRef, 0, len(ids))}
	for _, from := range ids {
		src, err := s.ref(ctx, from)
		if errors.Is(err, apperr.ErrNotFound) {
			src = NoteRef{ID: from}
		} else if err != nil {
			return nil, err
		}
		out.Backlinks = append(out.Backlinks, src)
	}
	return out, nil
}

// Titled returns every note indexed under title.
func (s *Service) Titled(ctx context.Context, title string) ([]NoteRef, error) {
	ids, err := s.idx.NotesTitled(ctx, title)
	if err != nil {
		return nil, err
	}
	out := make([]NoteRef, len(ids))
	for i, id := range ids {
		out[i] = NoteRef{ID: id, Title: title}
	}
	return out, nil
}

// Status returns the last committed checkpoint.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	m, err := s.idx.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		LatestNoteTime:     m.LatestNoteTime,
		LastStoreCheckTime: m.LastStoreCheckTime,
		ReportNoteID:       m.ReportNoteID,
	}, nil
}

func (s *Service) ref(ctx context.Context, id string) (NoteRef, error) {
	title, err := s.idx.Title(ctx, id)
	if err != nil {
		return NoteRef{}, err
	}
	return NoteRef{ID: id, Title: title}, nil
}
