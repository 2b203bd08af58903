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
)

// Ambiguities maps source id -> link title -> every note id carrying that title.
type Ambiguities map[string]map[string][]string

// Resolution is the outcome of resolving one run's pending links.
type Resolution struct {
	targets   map[string]map[string]models.Target
	Ambiguous Ambiguities
}

func newResolution() *Resolution {
	return &Resolution{
		targets:   make(map[string]map[string]models.Target),
		Ambiguous: make(Ambiguities),
	}
}

// add folds one join row into the resolution. A second match for a
// (source, title) pair makes it ambiguous and forces it unresolved.
func (r *Resolution) add(m index.Match) error {
	byTitle, ok := r.targets[m.FromID]
	if !ok {
		byTitle = make(map[string]models.Target)
		r.targets[m.FromID] = byTitle
	}
	existing, seen := byTitle[m.LinkTitle]
	if !seen || m.ToID == "" {
		if m.ToID == "" {
			byTitle[m.LinkTitle] = models.Unresolved(m.LinkTitle)
		} else {
			byTitle[m.LinkTitle] = models.Resolved(m.ToID)
		}
		return nil
	}

	amb, ok := r.Ambiguous[m.FromID]
	if !ok {
		amb = make(map[string][]string)
		r.Ambiguous[m.FromID] = amb
	}
	if ids, ok := amb[m.LinkTitle]; ok {
		amb[m.LinkTitle] = append(ids, m.ToID)
		return nil
	}
	if !existing.IsResolved() {
		return fmt.Errorf("%w: link %s -> %q is unresolved without ambiguity but matched %s",
			apperr.ErrInvariant, m.FromID, m.LinkTitle, m.ToID)
	}
	amb[m.LinkTitle] = []string{existing.ID(), m.ToID}
	byTitle[m.LinkTitle] = models.Unresolved(m.LinkTitle)
	return nil
}

func (r *Resolution) visit(ms []index.Match) error {
	for _, m := range ms {
		if err := r.add(m); err != nil {
			return err
		}
	}
	return nil
}

// Records returns one link row per (source, title), ordered by source id
// then title.
func (r *Resolution) Records() []models.LinkRecord {
	var out []models.LinkRecord
	for _, from := range sortedKeys(r.targets) {
		byTitle := r.targets[from]
		for _, title := range sortedKeys(byTitle) {
			out = append(out, models.LinkRecord{FromID: from, To: byTitle[title]})
		}
	}
	return out
}

// Dead returns the unresolved links that are not ambiguous.
func (r *Resolution) Dead() []batch.Pair {
	var out []batch.Pair
	for _, from := range sortedKeys(r.targets) {
		byTitle := r.targets[from]
		for _, title := range sortedKeys(byTitle) {
			if byTitle[title].IsResolved() {
				continue
			}
			if _, amb := r.Ambiguous[from][title]; amb {
				continue
			}
			out = append(out, batch.Pair{A: from, B: title})
		}
	}
	return out
}

// Counts returns the number of resolved, dead and ambiguous links.
func (r *Resolution) Counts() (resolved, dead, ambiguous int) {
	for from, byTitle := range r.targets {
		for title, t := range byTitle {
			switch {
			case t.IsResolved():
				resolved++
			case r.Ambiguous[from][title] != nil:
				ambiguous++
			default:
				dead++
			}
		}
	}
	return resolved, dead, ambiguous
}

// IndexLinks rebuilds the link rows of changed notes and retries every
// previously unresolved link from unchanged notes against the current
// titles. Titles must already be recorded for this run.
func IndexLinks(ctx context.Context, tx *index.Tx, changed []models.ChangedEntry, logger *slog.Logger) (*Resolution, error) {
	changedIDs := make(map[string]struct{}, len(changed))
	ids := make([]string, 0, len(changed))
	for _, e := range changed {
		if _, dup := changedIDs[e.ID]; dup {
			continue
		}
		changedIDs[e.ID] = struct{}{}
		ids = append(ids, e.ID)
	}

	prev, err := tx.Unresolved(ctx)
	if err != nil {
		return nil, err
	}
	var retry []batch.Pair
	for _, p := range prev {
		if _, ok := changedIDs[p.A]; !ok {
			retry = append(retry, p)
		}
	}
	if len(retry) > 0 {
		logger.Debug("retrying unresolved links", slog.Int("count", len(retry)))
		if err := tx.DeleteUnresolved(ctx, retry); err != nil {
			return nil, err
		}
	}
	if err := tx.DeleteLinksFrom(ctx, ids); err != nil {
		return nil, err
	}

	pending := retry
	for _, e := range changed {
		for _, title := range sortedKeys(e.Links) {
			pending = append(pending, batch.Pair{A: e.ID, B: title})
		}
	}
	pending = dedupe(pending)

	res := newResolution()
	if len(pending) == 0 {
		return res, nil
	}
	if err := tx.ResolveLinks(ctx, pending, res.visit); err != nil {
		return nil, err
	}
	if err := tx.InsertLinks(ctx, res.Records()); err != nil {
		return nil, err
	}
	return res, nil
}

func dedupe(pairs []batch.Pair) []batch.Pair {
	seen := make(map[batch.Pair]struct{}, len(pairs))
	out := pairs[:0]
	for _, p := range pairs {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// items flattens the ambiguity map in a stable order.
func (a Ambiguities) items() []ambiguousLink {
	var out []ambiguousLink
	for _, from := range sortedKeys(a) {
		for _, title := range sortedKeys(a[from]) {
			ids := append([]string(nil), a[from][title]...)
			sort.Strings(ids)
			out = append(out, ambiguousLink{FromID: from, LinkTitle: title, Candidates: ids})
		}
	}
	return out
}

type ambiguousLink struct {
	FromID     string
	LinkTitle  string
	Candidates []string
}
