// Package engine runs the link maintenance pipeline: detect changed notes,
// propagate renames into referencing notes, re-index links and publish the
// broken-link report, all inside one index transaction.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/linkkeeper/internal/index"
	"github.com/starford/linkkeeper/internal/storage"
)

// Result summarises one maintenance run.
type Result struct {
	Skipped      bool          `json:"skipped"`
	Changed      int           `json:"changed"`
	Renamed      int           `json:"renamed"`
	Rewritten    int           `json:"rewritten"`
	Resolved     int           `json:"resolved"`
	Dead         int           `json:"dead"`
	Ambiguous    int           `json:"ambiguous"`
	Pruned       int           `json:"pruned"`
	ReportNoteID string        `json:"report_note_id,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// Engine owns the store and the index for the duration of a run. Runs are
// serialised.
type Engine struct {
	mu         sync.Mutex
	store      storage.Store
	db         *index.DB
	logger     *slog.Logger
	prune      bool
	detector   *Detector
	propagator *Propagator
	reporter   *Reporter
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
	report ReportConfig
	prune  bool
}

// WithLogger sets the logger used for run diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides time.Now for the report timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithReport sets the report note rendering.
func WithReport(cfg ReportConfig) Option {
	return func(o *options) { o.report = cfg }
}

// WithPrune makes every run that finds changes forget notes no longer in
// the store. Links to them become dead links.
func WithPrune(enabled bool) Option {
	return func(o *options) { o.prune = enabled }
}

// New creates an Engine over store and db.
func New(store storage.Store, db *index.DB, opts ...Option) *Engine {
	o := options{logger: slog.Default(), now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return &Engine{
		store:      store,
		db:         db,
		logger:     o.logger,
		prune:      o.prune,
		detector:   NewDetector(store),
		propagator: NewPropagator(store, o.logger),
		reporter:   NewReporter(store, o.report, o.now, o.logger),
	}
}

// Run executes one maintenance pass. On error the index is left at the
// previous checkpoint; store writes already made are not undone and are
// picked up again by the next run.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	meta, err := tx.Meta(ctx)
	if err != nil {
		return nil, err
	}
	next := meta
	res := &Result{ReportNoteID: meta.ReportNoteID}

	changed, snap, err := e.detector.HasChanged(ctx, meta.LastStoreCheckTime)
	if err != nil {
		return nil, err
	}
	if !changed {
		e.logger.Debug("store unchanged since last check")
		res.Skipped = true
	} else {
		entries, err := e.detector.FetchChanged(ctx, meta.LatestNoteTime)
		if err != nil {
			return nil, err
		}
		res.Changed = len(entries)
		e.logger.Debug("fetched changed notes", slog.Int("count", len(entries)))

		renames, err := FindRenames(ctx, tx, entries)
		if err != nil {
			return nil, err
		}
		res.Renamed = len(renames)
		for id, ch := range renames {
			e.logger.Info("note renamed", slog.String("id", id), slog.String("old", ch.Old), slog.String("new", ch.New))
		}

		entries, res.Rewritten, err = e.propagator.Propagate(ctx, tx, entries, renames)
		if err != nil {
			return nil, err
		}
		if err := RecordTitles(ctx, tx, entries); err != nil {
			return nil, err
		}
		if e.prune {
			if res.Pruned, err = Prune(ctx, tx, e.store, e.logger); err != nil {
				return nil, err
			}
		}

		resolution, err := IndexLinks(ctx, tx, entries, e.logger)
		if err != nil {
			return nil, err
		}
		res.Resolved, res.Dead, res.Ambiguous = resolution.Counts()

		reportID, err := e.reporter.Publish(ctx, tx, resolution, meta.ReportNoteID)
		if err != nil {
			return nil, err
		}
		next.ReportNoteID = reportID
		res.ReportNoteID = reportID

		// The checkpoint is the store's state before FetchChanged. Our own
		// writes above are newer and get fetched once more next run.
		if !snap.LatestNote.IsZero() {
			next.LatestNoteTime = &snap.LatestNote
		}
		if !snap.Modified.IsZero() {
			next.LastStoreCheckTime = &snap.Modified
		}
	}

	if err := tx.WriteMeta(ctx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	e.logger.Info("maintenance run complete",
		slog.Bool("skipped", res.Skipped),
		slog.Int("changed", res.Changed),
		slog.Int("renamed", res.Renamed),
		slog.Int("rewritten", res.Rewritten),
		slog.Int("dead", res.Dead),
		slog.Int("ambiguous", res.Ambiguous),
		slog.Int("pruned", res.Pruned),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// Index returns the read side of the link index.
func (e *Engine) Index() index.LinkIndex { return e.db }
