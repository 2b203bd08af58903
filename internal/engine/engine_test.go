package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/linkkeeper/internal/apperr"
	"github.com/starford/linkkeeper/internal/index"
	"github.com/starford/linkkeeper/internal/models"
	"github.com/starford/linkkeeper/internal/storage"
)

func tickClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

type fixture struct {
	store *storage.Memory
	db    *index.DB
	eng   *Engine
}

func newFixture(t *testing.T, dbOpts ...index.Option) *fixture {
	t.Helper()
	clock := tickClock()
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"), dbOpts...)
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := storage.NewMemory(storage.WithClock(clock))
	eng := New(store, db,
		WithClock(clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithReport(ReportConfig{OpenURL: "test://open/{id}", CreateURL: "test://new/{title}"}))
	return &fixture{store: store, db: db, eng: eng}
}

func (f *fixture) run(t *testing.T) *Result {
	t.Helper()
	res, err := f.eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func (f *fixture) reportBody(t *testing.T) string {
	t.Helper()
	meta, err := f.db.Metadata(context.Background())
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.ReportNoteID == "" {
		t.Fatal("no report note recorded")
	}
	n, ok := f.store.Get(meta.ReportNoteID)
	if !ok {
		t.Fatalf("report note %s missing from store", meta.ReportNoteID)
	}
	return n.Body
}

func TestRun_ResolvesLinks(t *testing.T) {
	f := newFixture(t)
	f.store.Put(models.Note{ID: "a", Title: "A", Body: "see [[B]] and [[B]]"})
	f.store.Put(models.Note{ID: "b", Title: "B", Body: "back to [[A]]"})

	res := f.run(t)
	if res.Skipped || res.Changed != 2 || res.Resolved != 2 || res.Dead != 0 {
		t.Fatalf("result = %+v", res)
	}
	ctx := context.Background()
	bl, _ := f.db.Backlinks(ctx, "b")
	if len(bl) != 1 || bl[0] != "a" {
		t.Errorf("backlinks(b) = %v", bl)
	}
	if res.ReportNoteID != "" {
		t.Errorf("report created with no broken links: %s", res.ReportNoteID)
	}
}

func TestRun_IdempotentWhenStoreUnchanged(t *testing.T) {
	f := newFixture(t)
	f.store.Put(models.Note{ID: "a", Title: "A", Body: "[[Missing]]"})
	first := f.run(t)
	report, _ := f.store.Get(first.ReportNoteID)

	// The report written by the first run is newer than its checkpoint, so
	// the second run looks again but has nothing to write.
	second := f.run(t)
	if second.ReportNoteID != first.ReportNoteID || second.Rewritten != 0 {
		t.Fatalf("second run = %+v", second)
	}
	again, _ := f.store.Get(first.ReportNoteID)
	if !again.ModifiedAt.Equal(report.ModifiedAt) {
		t.Error("unchanged report was rewritten")
	}

	third := f.run(t)
	if !third.Skipped {
		t.Fatalf("third run did work: %+v", third)
	}
	if third.ReportNoteID != first.ReportNoteID {
		t.Errorf("report id changed: %s -> %s", first.ReportNoteID, third.ReportNoteID)
	}
	broken, _ := f.db.BrokenLinks(context.Background())
	if len(broken) != 1 {
		t.Errorf("broken = %+v", broken)
	}
}

// lateEditStore applies edit right after the first listing, the way an
// external editor can save while a run is in progress.
type lateEditStore struct {
	*storage.Memory
	edit func()
}

func (s *lateEditStore) ListChanged(ctx context.Context, since *time.Time) ([]models.Note, error) {
	notes, err := s.Memory.ListChanged(ctx, since)
	if s.edit != nil {
		s.edit()
		s.edit = nil
	}
	return notes, err
}

func TestRun_EditDuringRunIsPickedUp(t *testing.T) {
	f := newFixture(t)
	store := &lateEditStore{Memory: f.store}
	eng := New(store, f.db, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ctx := context.Background()

	f.store.Put(models.Note{ID: "a", Title: "A", Body: "[[B]]"})
	f.store.Put(models.Note{ID: "b", Title: "B"})
	if _, err := eng.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	f.store.Put(models.Note{ID: "c", Title: "C"})
	store.edit = func() { f.store.Put(models.Note{ID: "b", Title: "B2"}) }
	res, err := eng.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Renamed != 0 {
		t.Fatalf("edit after listing seen by the same run: %+v", res)
	}

	res, err = eng.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Skipped || res.Renamed != 1 || res.Rewritten != 1 {
		t.Fatalf("late edit not processed: %+v", res)
	}
	if a, _ := f.store.Get("a"); a.Body != "[[B2]]" {
		t.Errorf("a body = %q", a.Body)
	}
}

func TestRun_ReportOrderedBySourceTitle(t *testing.T) {
	f := newFixture(t)
	f.store.Put(models.Note{ID: "a", Title: "Zeta", Body: "[[Twin]] [[Nope]]"})
	f.store.Put(models.Note{ID: "z", Title: "Alpha", Body: "[[Void]]"})
	f.store.Put(models.Note{ID: "t1", Title: "Twin"})
	f.store.Put(models.Note{ID: "t2", Title: "Twin"})
	f.run(t)

	body := f.reportBody(t)
	order := []string{
		`[Alpha](test://open/z) to "Void"`,
		`[Zeta](test://open/a) to "Nope"`,
		`[Zeta](test://open/a) to "Twin". Could be:`,
	}
	last := -1
	for _, want := range order {
		i := strings.Index(body, want)
		if i < 0 {
			t.Fatalf("report body missing %q:\n%s", want, body)
		}
		if i < last {
			t.Errorf("%q out of order:\n%s", want, body)
		}
		last = i
	}
}

func TestRun_DeadLinkReportLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Put(models.Note{ID: "a", Title: "A", Body: "todo: [[Missing Note]]"})

	res := f.run(t)
	if res.Dead != 1 || res.ReportNoteID == "" {
		t.Fatalf("result = %+v", res)
	}
	report, _ := f.store.Get(res.ReportNoteID)
	if report.Title != DefaultReportTitle || !report.Pinned {
		t.Errorf("report note = %+v", report)
	}
	body := f.reportBody(t)
	for _, want := range []string{
		`* Dead link in [A](test://open/a) to "Missing Note"`,
		`[create](test://new/Missing+Note)`,
		"Last updated ",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("report body missing %q:\n%s", want, body)
		}
	}

	// Creating the target heals the unchanged source's link.
	f.store.Put(models.Note{ID: "m", Title: "Missing Note"})
	res = f.run(t)
	if res.Dead != 0 || res.ReportNoteID != "" {
		t.Fatalf("result after heal = %+v", res)
	}
	if !f.store.IsTrashed(report.ID) {
		t.Error("report note not trashed once links healed")
	}
	bl, _ := f.db.Backlinks(ctx, "m")
	if len(bl) != 1 || bl[0] != "a" {
		t.Errorf("backlinks(m) = %v", bl)
	}
	meta, _ := f.db.Metadata(ctx)
	if meta.ReportNoteID != "" {
		t.Errorf("report id still checkpointed: %q", meta.ReportNoteID)
	}
}

func TestRun_ReportRecreatedWhenDeleted(t *testing.T) {
	f := newFixture(t)
	f.store.Put(models.Note{ID: "a", Title: "A", Body: "[[Gone]]"})
	first := f.run(t)
	_ = f.store.TrashNote(context.Background(), first.ReportNoteID)

	f.store.Put(models.Note{ID: "a", Title: "A", Body: "[[Gone]] [[Also Gone]]"})
	res := f.run(t)
	if res.ReportNoteID == "" || res.ReportNoteID == first.ReportNoteID {
		t.Fatalf("report not recreated: %+v", res)
	}
	if !strings.Contains(f.reportBody(t), `"Also Gone"`) {
		t.Error("recreated report misses new dead link")
	}
}

func TestRun_RenamePropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Put(models.Note{ID: "a", Title: "A", Body: "A\nsee [[B]], not [[Bee]]"})
	f.store.Put(models.Note{ID: "b", Title: "B"})
	f.store.Put(models.Note{ID: "c", Title: "C", Body: "[[B]]"})
	f.run(t)

	f.store.Put(models.Note{ID: "b", Title: "B2"})
	res := f.run(t)
	if res.Renamed != 1 || res.Rewritten != 2 {
		t.Fatalf("result = %+v", res)
	}

	a, _ := f.store.Get("a")
	if a.Body != "see [[B2]], not [[Bee]]" {
		t.Errorf("a body = %q", a.Body)
	}
	c, _ := f.store.Get("c")
	if c.Body != "[[B2]]" {
		t.Errorf("c body = %q", c.Body)
	}

	title, _ := f.db.Title(ctx, "b")
	if title != "B2" {
		t.Errorf("indexed title = %q", title)
	}
	bl, _ := f.db.Backlinks(ctx, "b")
	if len(bl) != 2 {
		t.Errorf("backlinks(b) = %v, want a and c", bl)
	}
	broken, _ := f.db.BrokenLinks(ctx)
	if len(broken) != 1 || broken[0].LinkTitle != "Bee" {
		t.Errorf("broken = %+v", broken)
	}
}

func TestRun_RenameOfChangedSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Put(models.Note{ID: "a", Title: "A", Body: "[[B]]"})
	f.store.Put(models.Note{ID: "b", Title: "B"})
	f.run(t)

	// Both notes change in one pass: a is edited and b renamed.
	f.store.Put(models.Note{ID: "a", Title: "A", Body: "[[B]] [[A]]"})
	f.store.Put(models.Note{ID: "b", Title: "New B"})
	f.run(t)

	a, _ := f.store.Get("a")
	if a.Body != "[[New B]] [[A]]" {
		t.Errorf("a body = %q", a.Body)
	}
	out, _ := f.db.Outgoing(ctx, "a")
	if len(out) != 2 {
		t.Fatalf("outgoing(a) = %+v", out)
	}
	for _, l := range out {
		if l.ToID == "" {
			t.Errorf("unresolved outgoing link %+v", l)
		}
	}
}

func TestRun_AmbiguousLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Put(models.Note{ID: "a", Title: "A", Body: "[[Twin]]"})
	f.store.Put(models.Note{ID: "t1", Title: "Twin"})
	f.store.Put(models.Note{ID: "t2", Title: "Twin"})

	res := f.run(t)
	if res.Ambiguous != 1 || res.Dead != 0 || res.Resolved != 0 {
		t.Fatalf("result = %+v", res)
	}
	body := f.reportBody(t)
	for _, want := range []string{
		`* Ambiguous link in [A](test://open/a) to "Twin". Could be:`,
		"  * [Twin](test://open/t1)",
		"  * [Twin](test://open/t2)",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("report body missing %q:\n%s", want, body)
		}
	}
	broken, _ := f.db.BrokenLinks(ctx)
	if len(broken) != 1 || broken[0].LinkTitle != "Twin" {
		t.Errorf("ambiguous link must be stored unresolved: %+v", broken)
	}

	// Renaming one twin makes the link resolve on retry.
	f.store.Put(models.Note{ID: "t2", Title: "Other"})
	res = f.run(t)
	if res.Ambiguous != 0 || res.ReportNoteID != "" {
		t.Fatalf("result after disambiguation = %+v", res)
	}
	bl, _ := f.db.Backlinks(ctx, "t1")
	if len(bl) != 1 || bl[0] != "a" {
		t.Errorf("backlinks(t1) = %v", bl)
	}
}

func TestRun_SmallParamLimit(t *testing.T) {
	f := newFixture(t, index.WithParamLimit(4))
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		f.store.Put(models.Note{
			ID:    fmt.Sprintf("n%02d", i),
			Title: fmt.Sprintf("Note %d", i),
			Body:  fmt.Sprintf("[[Note %d]] [[Nowhere %d]]", (i+1)%12, i),
		})
	}
	res := f.run(t)
	if res.Changed != 12 || res.Resolved != 12 || res.Dead != 12 {
		t.Fatalf("result = %+v", res)
	}
	broken, _ := f.db.BrokenLinks(ctx)
	if len(broken) != 12 {
		t.Errorf("broken = %d, want 12", len(broken))
	}
}

func TestRun_WriteFailureKeepsCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Put(models.Note{ID: "a", Title: "A", Body: "[[B]]"})
	f.store.Put(models.Note{ID: "b", Title: "B"})
	f.run(t)
	before, _ := f.db.Metadata(ctx)

	f.store.Put(models.Note{ID: "b", Title: "B2"})
	f.store.FailWrites = true
	_, err := f.eng.Run(ctx)
	if !errors.Is(err, apperr.ErrExternalWrite) {
		t.Fatalf("err = %v, want ErrExternalWrite", err)
	}
	after, _ := f.db.Metadata(ctx)
	if !after.LastStoreCheckTime.Equal(*before.LastStoreCheckTime) {
		t.Error("checkpoint advanced after failed run")
	}
	title, _ := f.db.Title(ctx, "b")
	if title != "B" {
		t.Errorf("title recorded by failed run: %q", title)
	}

	f.store.FailWrites = false
	res := f.run(t)
	if res.Renamed != 1 || res.Rewritten != 1 {
		t.Errorf("retry result = %+v", res)
	}
}

func TestResolution_InvariantViolation(t *testing.T) {
	r := newResolution()
	if err := r.add(index.Match{FromID: "a", LinkTitle: "X"}); err != nil {
		t.Fatal(err)
	}
	err := r.add(index.Match{FromID: "a", LinkTitle: "X", ToID: "x1"})
	if !errors.Is(err, apperr.ErrInvariant) {
		t.Errorf("err = %v, want ErrInvariant", err)
	}
}

func TestResolution_ThreeCandidates(t *testing.T) {
	r := newResolution()
	for _, id := range []string{"x3", "x1", "x2"} {
		if err := r.add(index.Match{FromID: "a", LinkTitle: "X", ToID: id}); err != nil {
			t.Fatal(err)
		}
	}
	items := r.Ambiguous.items()
	if len(items) != 1 || strings.Join(items[0].Candidates, ",") != "x1,x2,x3" {
		t.Errorf("items = %+v", items)
	}
	recs := r.Records()
	if len(recs) != 1 || recs[0].To.IsResolved() {
		t.Errorf("records = %+v", recs)
	}
	if _, dead, amb := r.Counts(); dead != 0 || amb != 1 {
		t.Errorf("dead=%d ambiguous=%d", dead, amb)
	}
}

func TestRun_PruneTrashedTarget(t *testing.T) {
	f := newFixture(t)
	f.eng.prune = true
	ctx := context.Background()
	f.store.Put(models.Note{ID: "a", Title: "A", Body: "see [[B]]"})
	f.store.Put(models.Note{ID: "b", Title: "B"})
	f.run(t)

	if err := f.store.TrashNote(ctx, "b"); err != nil {
		t.Fatalf("TrashNote: %v", err)
	}
	res := f.run(t)
	if res.Pruned != 1 || res.Dead != 1 || res.ReportNoteID == "" {
		t.Fatalf("result = %+v", res)
	}
	if bl, _ := f.db.Backlinks(ctx, "b"); len(bl) != 0 {
		t.Errorf("backlinks(b) = %v", bl)
	}
	if _, err := f.db.Title(ctx, "b"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Title(b) err = %v, want ErrNotFound", err)
	}
	if body := f.reportBody(t); !strings.Contains(body, `to "B"`) {
		t.Errorf("report body:\n%s", body)
	}
}

func TestRun_NoPruneKeepsTrashedTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Put(models.Note{ID: "a", Title: "A", Body: "see [[B]]"})
	f.store.Put(models.Note{ID: "b", Title: "B"})
	f.run(t)

	if err := f.store.TrashNote(ctx, "b"); err != nil {
		t.Fatalf("TrashNote: %v", err)
	}
	res := f.run(t)
	if res.Pruned != 0 || res.Dead != 0 {
		t.Fatalf("result = %+v", res)
	}
	if bl, _ := f.db.Backlinks(ctx, "b"); len(bl) != 1 {
		t.Errorf("backlinks(b) = %v", bl)
	}
}
