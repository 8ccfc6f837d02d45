package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveSourcePrefersDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "00001_test.sql"), []byte("-- +goose Up\n"), 0o600); err != nil {
		t.Fatalf("write migration: %v", err)
	}
	fsys, source, err := resolveSource(dir)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if source != dir {
		t.Fatalf("expected directory source, got %s", source)
	}
	if _, err := fs.Stat(fsys, "00001_test.sql"); err != nil {
		t.Fatalf("expected migration in fs: %v", err)
	}
}

func TestResolveSourceFallsBackToEmbedded(t *testing.T) {
	fsys, source, err := resolveSource(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if source != "embedded" {
		t.Fatalf("expected embedded source, got %s", source)
	}
	if _, err := fs.Stat(fsys, "00001_init.sql"); err != nil {
		t.Fatalf("expected embedded init migration: %v", err)
	}
}
