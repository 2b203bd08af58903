package api

import (
	"github.com/starford/linkkeeper/internal/engine"
	"github.com/starford/linkkeeper/internal/index"
	"github.com/starford/linkkeeper/internal/noteservice"
)

// RunResponse is the summary of a maintenance run.
type RunResponse = engine.Result

// BrokenLink is an unresolved link row (aliased from the index layer).
type BrokenLink = index.BrokenLink

// BrokenLinksResponse wraps the unresolved link listing.
type BrokenLinksResponse struct {
	Links []BrokenLink `json:"links" validate:"required"`
	Total int          `json:"total" example:"3" validate:"required"`
}

// NoteLinks is a note with its outgoing links (aliased from the domain layer).
type NoteLinks = noteservice.NoteLinks

// NoteBacklinks is a note with its incoming links (aliased from the domain layer).
type NoteBacklinks = noteservice.NoteBacklinks

// Status is the last run checkpoint (aliased from the domain layer).
type Status = noteservice.Status

// TitlesResponse lists the notes sharing one exact title.
type TitlesResponse struct {
	Notes     []noteservice.NoteRef `json:"notes" validate:"required"`
	Ambiguous bool                  `json:"ambiguous" example:"false"`
}
