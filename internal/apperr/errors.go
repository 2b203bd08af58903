// Package apperr holds the sentinel errors callers classify with errors.Is.
package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable: the note store or index store could not be opened.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrQuery: a batched index query failed.
	ErrQuery = errors.New("query failed")
	// ErrExternalWrite: a body replace, note create or note trash failed.
	ErrExternalWrite = errors.New("external write failed")
	// ErrInvariant: index bookkeeping observed an impossible state.
	ErrInvariant = errors.New("data invariant violated")
)
