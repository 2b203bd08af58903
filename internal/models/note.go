// Package models defines the domain types for linkkeeper.
package models

import "time"

// Note is a record owned by the external note store.
type Note struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	ModifiedAt time.Time `json:"modified_at"`
	Pinned     bool      `json:"pinned,omitempty"`
}

// ChangedEntry is a note modified since the last checkpoint together with
// the distinct link titles found in its body.
type ChangedEntry struct {
	ID    string
	Title string
	Links map[string]struct{}
}

// Clone returns a copy whose Links set can be mutated independently.
func (e ChangedEntry) Clone() ChangedEntry {
	links := make(map[string]struct{}, len(e.Links))
	for l := range e.Links {
		links[l] = struct{}{}
	}
	e.Links = links
	return e
}

// TitleChange records a note whose title differs from the indexed one.
type TitleChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// TitleChanges maps note id to its title change.
type TitleChanges map[string]TitleChange

// Target is where a link points: either a resolved note id or, when
// unresolved, the link title that matched zero or several notes.
type Target struct {
	id    string
	title string
}

// Resolved returns a target pointing at note id.
func Resolved(id string) Target { return Target{id: id} }

// Unresolved returns a dead or ambiguous target for title.
func Unresolved(title string) Target { return Target{title: title} }

// IsResolved reports whether the target names a note id.
func (t Target) IsResolved() bool { return t.id != "" }

// ID returns the target note id, or "" when unresolved.
func (t Target) ID() string { return t.id }

// Title returns the unresolved link title, or "" when resolved.
func (t Target) Title() string { return t.title }

// LinkRecord is one outgoing link reference from a source note.
type LinkRecord struct {
	FromID string
	To     Target
}

// Metadata is the run-level checkpoint.
type Metadata struct {
	LatestNoteTime     *time.Time
	LastStoreCheckTime *time.Time
	ReportNoteID       string
}
