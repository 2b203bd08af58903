package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/linkkeeper/internal/apperr"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func writeFile(t *testing.T, fs *FS, rel, content string) {
	t.Helper()
	if err := fs.write(rel, []byte(content)); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestFS_ListChangedParsesNotes(t *testing.T) {
	s := tempVault(t)
	ctx := context.Background()
	writeFile(t, s, "a.md", "---\nid: id-a\ntitle: Alpha\n---\nsee [[Beta]]\n")
	writeFile(t, s, "sub/b.md", "# Beta\nbody\n")
	writeFile(t, s, "readme.txt", "not md")

	notes, err := s.ListChanged(ctx, nil)
	if err != nil {
		t.Fatalf("ListChanged: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("len = %d, want 2", len(notes))
	}
	byID := map[string]string{}
	for _, n := range notes {
		byID[n.ID] = n.Title
	}
	if byID["id-a"] != "Alpha" {
		t.Errorf("frontmatter note = %v", byID)
	}
	if byID["sub/b.md"] != "Beta" {
		t.Errorf("heading note = %v", byID)
	}
}

func TestFS_ListChangedSince(t *testing.T) {
	s := tempVault(t)
	ctx := context.Background()
	writeFile(t, s, "old.md", "old")
	past := time.Now().Add(-time.Hour)
	_ = os.Chtimes(filepath.Join(s.root, "old.md"), past, past)
	writeFile(t, s, "new.md", "new")

	since := time.Now().Add(-time.Minute)
	notes, err := s.ListChanged(ctx, &since)
	if err != nil {
		t.Fatalf("ListChanged: %v", err)
	}
	if len(notes) != 1 || notes[0].ID != "new.md" {
		t.Errorf("notes = %+v, want only new.md", notes)
	}
}

func TestFS_TitleLineKeptOnReplace(t *testing.T) {
	s := tempVault(t)
	ctx := context.Background()
	writeFile(t, s, "n.md", "# Heading Title\nsee [[B]]\n")

	notes, _ := s.GetByIDs(ctx, []string{"n.md"})
	if len(notes) != 1 || notes[0].Body != "see [[B]]\n" {
		t.Fatalf("notes = %+v", notes)
	}
	if err := s.ReplaceBody(ctx, "n.md", "see [[B2]]\n"); err != nil {
		t.Fatalf("ReplaceBody: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(s.root, "n.md"))
	if string(data) != "# Heading Title\nsee [[B2]]\n" {
		t.Errorf("file = %q", data)
	}
}

func TestFS_ReplaceBodyKeepsFrontmatter(t *testing.T) {
	s := tempVault(t)
	ctx := context.Background()
	writeFile(t, s, "n.md", "---\nid: x1\ntitle: T\n---\nold\n")
	if err := s.ReplaceBody(ctx, "x1", "new\n"); err != nil {
		t.Fatalf("ReplaceBody: %v", err)
	}
	notes, _ := s.GetByIDs(ctx, []string{"x1"})
	if len(notes) != 1 || notes[0].Title != "T" || notes[0].Body != "new\n" {
		t.Errorf("notes = %+v", notes)
	}
}

func TestFS_CreateAndTrash(t *testing.T) {
	s := tempVault(t)
	ctx := context.Background()
	id, err := s.CreateNote(ctx, "🚨 Broken Note Links!", "body", true)
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	notes, _ := s.GetByIDs(ctx, []string{id})
	if len(notes) != 1 || !notes[0].Pinned || notes[0].Title != "🚨 Broken Note Links!" {
		t.Fatalf("created = %+v", notes)
	}

	if err := s.TrashNote(ctx, id); err != nil {
		t.Fatalf("TrashNote: %v", err)
	}
	notes, _ = s.GetByIDs(ctx, []string{id})
	if len(notes) != 0 {
		t.Errorf("trashed note still listed: %+v", notes)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, TrashDir, "*.md"))
	if len(matches) != 1 {
		t.Errorf("trash contents = %v", matches)
	}
}

func TestFS_MissingNote(t *testing.T) {
	s := tempVault(t)
	err := s.ReplaceBody(context.Background(), "nope", "x")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFS_ModificationTimeTracksWrites(t *testing.T) {
	s := tempVault(t)
	ctx := context.Background()
	before, err := s.ModificationTime(ctx)
	if err != nil {
		t.Fatalf("ModificationTime: %v", err)
	}
	future := time.Now().Add(time.Hour)
	s.opts.now = func() time.Time { return future }
	writeFile(t, s, "x.md", "x")
	after, _ := s.ModificationTime(ctx)
	if !after.After(before) {
		t.Errorf("mod time did not advance: %v -> %v", before, after)
	}
}

func TestFS_TimesReadMetadataOnly(t *testing.T) {
	s := tempVault(t)
	ctx := context.Background()
	writeFile(t, s, "a.md", "# A\n")
	// A note whose content cannot be read.
	if err := os.Symlink(filepath.Join(s.Root(), "missing-target"), filepath.Join(s.Root(), "dangling.md")); err != nil {
		t.Skipf("symlink: %v", err)
	}

	if _, err := s.ListChanged(ctx, nil); err == nil {
		t.Fatal("ListChanged should read note contents and fail")
	}
	mod, err := s.ModificationTime(ctx)
	if err != nil || mod.IsZero() {
		t.Errorf("ModificationTime = %v, %v", mod, err)
	}
	latest, err := s.LatestNoteTime(ctx)
	if err != nil || latest.IsZero() {
		t.Errorf("LatestNoteTime = %v, %v", latest, err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempVault(t)
	for _, p := range []string{"../../etc/passwd", "../outside.md", "/etc/shadow"} {
		if err := s.write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteNoLeftovers(t *testing.T) {
	s := tempVault(t)
	writeFile(t, s, "atomic.md", "original")
	writeFile(t, s, "atomic.md", "updated")
	got, _ := os.ReadFile(filepath.Join(s.root, "atomic.md"))
	if string(got) != "updated" {
		t.Errorf("content = %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, ".linkkeeper-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/linkkeeper-does-not-exist-" + t.Name())
	if !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "linkkeeper-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	if _, err := NewFS(f.Name()); err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Errorf("err = %v", err)
	}
}
