// Package watch turns file system events under a note store into debounced
// maintenance triggers.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Trigger is called once per debounced burst of relevant events.
type Trigger func(ctx context.Context)

// Config describes what to watch.
type Config struct {
	Root      string
	Recursive bool
	// Match filters event paths; nil accepts everything.
	Match    func(path string) bool
	Debounce time.Duration
}

// Markdown matches .md files outside hidden directories.
func Markdown(root string) func(string) bool {
	return func(path string) bool {
		if !strings.HasSuffix(path, ".md") {
			return false
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return false
		}
		return !hidden(filepath.Dir(rel))
	}
}

// File matches a single file and its SQLite sidecars (-wal, -shm, -journal).
func File(name string) func(string) bool {
	base := filepath.Base(name)
	return func(path string) bool {
		return strings.HasPrefix(filepath.Base(path), base)
	}
}

// Run watches cfg.Root until ctx is cancelled, calling trigger after each
// quiet period of cfg.Debounce following a matching event. Directories
// created at runtime are added when cfg.Recursive is set.
func Run(ctx context.Context, cfg Config, logger *slog.Logger, trigger Trigger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if cfg.Recursive {
		err = addDirsRecursive(w, cfg.Root)
	} else {
		err = w.Add(cfg.Root)
	}
	if err != nil {
		return err
	}
	match := cfg.Match
	if match == nil {
		match = func(string) bool { return true }
	}

	logger.Info("watcher: started", slog.String("root", cfg.Root), slog.Duration("debounce", cfg.Debounce))

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(cfg.Debounce)
			fire = timer.C
		} else {
			timer.Reset(cfg.Debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-fire:
			trigger(ctx)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if cfg.Recursive && ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					schedule()
					continue
				}
			}
			if !match(ev.Name) {
				continue
			}
			logger.Debug("watcher: event", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func hidden(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}
