// Package testutil provides shared test helpers for setting up vaults, index
// databases and engines.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/linkkeeper/internal/engine"
	"github.com/starford/linkkeeper/internal/index"
	"github.com/starford/linkkeeper/internal/storage"
)

// TestDB creates a temporary index database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "linkkeeper-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory seeded with notes, keyed by
// relative path.
func TestVault(t *testing.T, notes map[string]string) (string, *storage.FS) {
	t.Helper()
	vaultDir := t.TempDir()
	for rel, content := range notes {
		WriteNote(t, vaultDir, rel, content)
	}
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// WriteNote writes one Markdown file into the vault.
func WriteNote(t *testing.T, vaultDir, rel, content string) {
	t.Helper()
	path := filepath.Join(vaultDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// TestEngine builds an engine over a seeded vault and a temporary index and
// performs the first run.
func TestEngine(t *testing.T, notes map[string]string) (*engine.Engine, string) {
	t.Helper()
	vaultDir, store := TestVault(t, notes)
	eng := engine.New(store, TestDB(t))
	if _, err := eng.Run(context.Background()); err != nil {
		t.Fatalf("initial run: %v", err)
	}
	return eng, vaultDir
}
