package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/linkkeeper/internal/apperr"
	"github.com/starford/linkkeeper/internal/models"
	"github.com/starford/linkkeeper/internal/parser"
)

// TrashDir is the vault subdirectory trashed notes are moved into.
const TrashDir = ".trash"

// FS implements Store over a directory of Markdown files.
//
// A note's id is its frontmatter "id", falling back to the path relative to
// the vault root. Its title is the frontmatter "title", else the body's first
// line, else the file name without extension.
type FS struct {
	root string // absolute path to vault directory
	opts options
}

var _ Store = (*FS)(nil)

// NewFS creates a new FS store rooted at the given directory.
// The directory must already exist.
func NewFS(root string, opts ...Option) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: storage: stat root: %w", apperr.ErrStoreUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: storage: root is not a directory: %s", apperr.ErrStoreUnavailable, abs)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &FS{root: abs, opts: o}, nil
}

// Root returns the absolute vault path.
func (f *FS) Root() string { return f.root }

// Close is a no-op for FS.
func (f *FS) Close() error { return nil }

// fileNote is a parsed vault file.
type fileNote struct {
	rel    string
	note   models.Note
	parsed *parser.Result
}

// safePath resolves a relative path against the vault root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes vault root: %s", rel)
	}
	return abs, nil
}

// stat visits every non-trashed .md file and every directory's mtime
// without reading file contents.
func (f *FS) stat(ctx context.Context, file func(p, rel string, mod time.Time) error, dirTime func(time.Time)) error {
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != f.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if dirTime != nil {
				if info, err := d.Info(); err == nil {
					dirTime(info.ModTime())
				}
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if file == nil {
			return nil
		}
		rel, _ := filepath.Rel(f.root, p)
		return file(p, filepath.ToSlash(rel), info.ModTime())
	})
	if err != nil {
		return fmt.Errorf("storage: walk: %w", err)
	}
	return nil
}

// walk reads and parses every non-trashed .md file.
func (f *FS) walk(ctx context.Context, visit func(fileNote)) error {
	return f.stat(ctx, func(p, rel string, mod time.Time) error {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		visit(toFileNote(rel, data, mod))
		return nil
	}, nil)
}

func toFileNote(rel string, data []byte, mod time.Time) fileNote {
	res := parser.Parse(data)
	n := models.Note{
		ID:         rel,
		Title:      res.Title,
		Body:       res.Body,
		ModifiedAt: mod,
	}
	if res.TitleInBody {
		// The first line is the displayed title, not body text.
		_, n.Body = parser.SplitFirstLine(res.Body)
	}
	if res.Frontmatter != nil {
		if res.Frontmatter.ID != "" {
			n.ID = res.Frontmatter.ID
		}
		n.Pinned = res.Frontmatter.Pinned
	}
	if n.Title == "" {
		n.Title = strings.TrimSuffix(filepath.Base(rel), ".md")
	}
	return fileNote{rel: rel, note: n, parsed: res}
}

// ModificationTime returns the newest mtime of any note file or directory.
// Only file metadata is read.
func (f *FS) ModificationTime(ctx context.Context) (time.Time, error) {
	var latest time.Time
	bump := func(t time.Time) {
		if t.After(latest) {
			latest = t
		}
	}
	err := f.stat(ctx, func(_, _ string, mod time.Time) error {
		bump(mod)
		return nil
	}, bump)
	if err == nil {
		// Trashing only touches .trash and the source directory.
		if info, statErr := os.Stat(filepath.Join(f.root, TrashDir)); statErr == nil {
			bump(info.ModTime())
		}
	}
	return latest, err
}

// LatestNoteTime returns the newest note file mtime. Only file metadata is
// read.
func (f *FS) LatestNoteTime(ctx context.Context) (time.Time, error) {
	var latest time.Time
	err := f.stat(ctx, func(_, _ string, mod time.Time) error {
		if mod.After(latest) {
			latest = mod
		}
		return nil
	}, nil)
	return latest, err
}

// ListChanged returns notes whose file mtime is at or after since.
func (f *FS) ListChanged(ctx context.Context, since *time.Time) ([]models.Note, error) {
	var out []models.Note
	err := f.walk(ctx, func(fn fileNote) {
		if since == nil || !fn.note.ModifiedAt.Before(*since) {
			out = append(out, fn.note)
		}
	})
	return out, err
}

// GetByIDs returns the notes with the given ids.
func (f *FS) GetByIDs(ctx context.Context, ids []string) ([]models.Note, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	want := idSet(ids)
	var out []models.Note
	err := f.walk(ctx, func(fn fileNote) {
		if _, ok := want[fn.note.ID]; ok {
			out = append(out, fn.note)
			delete(want, fn.note.ID)
		}
	})
	return out, err
}

func (f *FS) find(ctx context.Context, id string) (fileNote, error) {
	var found *fileNote
	err := f.walk(ctx, func(fn fileNote) {
		if found == nil && fn.note.ID == id {
			found = &fn
		}
	})
	if err != nil {
		return fileNote{}, err
	}
	if found == nil {
		return fileNote{}, fmt.Errorf("storage: note %s: %w", id, apperr.ErrNotFound)
	}
	return *found, nil
}

// ReplaceBody rewrites the note body, keeping its frontmatter and, for
// notes titled by their first line, that title line.
func (f *FS) ReplaceBody(ctx context.Context, id, body string) error {
	fn, err := f.find(ctx, id)
	if err != nil {
		return err
	}
	if fn.parsed.TitleInBody {
		titleLine, _ := parser.SplitFirstLine(fn.parsed.Body)
		body = titleLine + "\n" + body
	}
	data, err := parser.Render(fn.parsed.Frontmatter, body)
	if err != nil {
		return fmt.Errorf("storage: render %s: %w", fn.rel, err)
	}
	return f.write(fn.rel, data)
}

var unsafeNameRe = regexp.MustCompile(`[^\p{L}\p{N} ._-]+`)

// CreateNote writes a new note file named after its title.
func (f *FS) CreateNote(ctx context.Context, title, body string, pinned bool) (string, error) {
	id := uuid.NewString()
	name := strings.TrimSpace(unsafeNameRe.ReplaceAllString(title, ""))
	if name == "" || strings.HasPrefix(name, ".") {
		name = "note"
	}
	rel := name + ".md"
	if _, err := os.Stat(filepath.Join(f.root, rel)); err == nil {
		rel = name + "-" + id[:8] + ".md"
	}
	data, err := parser.Render(&parser.Frontmatter{ID: id, Title: title, Pinned: pinned}, body)
	if err != nil {
		return "", fmt.Errorf("storage: render new note: %w", err)
	}
	if err := f.write(rel, data); err != nil {
		return "", err
	}
	return id, nil
}

// TrashNote moves the note file into the vault's trash directory.
func (f *FS) TrashNote(ctx context.Context, id string) error {
	fn, err := f.find(ctx, id)
	if err != nil {
		return err
	}
	dest := filepath.Join(TrashDir, fn.rel)
	if _, err := os.Stat(filepath.Join(f.root, dest)); err == nil {
		dest = filepath.Join(TrashDir, fmt.Sprintf("%s.%d", fn.rel, f.opts.now().UnixNano()))
	}
	if err := f.move(fn.rel, dest); err != nil {
		return err
	}
	now := f.opts.now()
	_ = os.Chtimes(filepath.Join(f.root, TrashDir), now, now)
	return nil
}

// write atomically writes content: tmp file → fsync → rename.
func (f *FS) write(path string, content []byte) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".linkkeeper-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true

	now := f.opts.now()
	if err := os.Chtimes(abs, now, now); err != nil {
		return fmt.Errorf("storage: chtimes: %w", err)
	}
	return nil
}

// move renames a file within the vault.
func (f *FS) move(oldPath, newPath string) error {
	absOld, err := f.safePath(oldPath)
	if err != nil {
		return err
	}
	absNew, err := f.safePath(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for move: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: move %s: %w", oldPath, apperr.ErrNotFound)
		}
		return fmt.Errorf("storage: move: %w", err)
	}
	return nil
}
