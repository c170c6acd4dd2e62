package store

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestSQLiteStore(t *testing.T, root string) *SQLiteLineageStore {
	t.Helper()
	s, err := NewSQLiteLineageStore(root)
	if err != nil {
		t.Fatalf("NewSQLiteLineageStore() error = %v", err)
	}
	return s
}

func TestSQLiteLineageStore(t *testing.T) {
	runLineageStoreTests(t, func(t *testing.T) LineageStore {
		s := newTestSQLiteStore(t, t.TempDir())
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestNewSQLiteLineageStore(t *testing.T) {
	tmpDir := t.TempDir()

	s := newTestSQLiteStore(t, tmpDir)
	defer s.Close()

	dir := filepath.Join(tmpDir, ".cellsim")
	if s.Dir() != dir {
		t.Errorf("Dir() = %s, want %s", s.Dir(), dir)
	}
	if _, err := os.Stat(filepath.Join(dir, "cellsim.db")); os.IsNotExist(err) {
		t.Error("cellsim.db was not created")
	}
}

func TestSQLiteLineageStore_CloseExportsJSONL(t *testing.T) {
	tmpDir := t.TempDir()
	s := newTestSQLiteStore(t, tmpDir)
	ctx := context.Background()

	a := mustAddSpot(t, s, Spot{Time: 0, Label: "1"})
	b := mustAddSpot(t, s, Spot{Time: 1, Label: "1"})
	if err := s.AddLink(ctx, a, b); err != nil {
		t.Fatalf("AddLink() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if n := countLines(t, filepath.Join(tmpDir, ".cellsim", "spots.jsonl")); n != 2 {
		t.Errorf("spots.jsonl has %d lines, want 2", n)
	}
	if n := countLines(t, filepath.Join(tmpDir, ".cellsim", "links.jsonl")); n != 1 {
		t.Errorf("links.jsonl has %d lines, want 1", n)
	}
}

func TestSQLiteLineageStore_ReimportsJSONLIntoEmptyDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	s := newTestSQLiteStore(t, tmpDir)
	ctx := context.Background()

	a := mustAddSpot(t, s, Spot{Time: 0, X: 1, Label: "1"})
	b := mustAddSpot(t, s, Spot{Time: 1, X: 2, Label: "1"})
	if err := s.AddLink(ctx, a, b); err != nil {
		t.Fatalf("AddLink() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	dir := filepath.Join(tmpDir, ".cellsim")
	for _, name := range []string{"cellsim.db", "cellsim.db-wal", "cellsim.db-shm"} {
		os.Remove(filepath.Join(dir, name))
	}

	reopened := newTestSQLiteStore(t, tmpDir)
	defer reopened.Close()

	spot, err := reopened.GetSpot(ctx, b)
	if err != nil {
		t.Fatalf("GetSpot() error = %v", err)
	}
	if spot == nil || spot.X != 2 {
		t.Errorf("GetSpot(%d) = %+v, want imported spot with X=2", b, spot)
	}
	links, err := reopened.Links(ctx, a, DirectionOutbound)
	if err != nil {
		t.Fatalf("Links() error = %v", err)
	}
	if !equalLinks(links, []Link{{a, b}}) {
		t.Errorf("Links() = %v, want [%d->%d]", links, a, b)
	}

	// New IDs continue after the imported ones.
	c := mustAddSpot(t, reopened, Spot{Time: 2, Label: "1"})
	if c <= b {
		t.Errorf("AddSpot() after import id = %d, want > %d", c, b)
	}
}

func TestSQLiteLineageStore_BatchHoldsLock(t *testing.T) {
	s := newTestSQLiteStore(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	b, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if s.mu.TryLock() {
		s.mu.Unlock()
		t.Fatal("store should be locked while a batch is open")
	}
	if err := b.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if !s.mu.TryLock() {
		t.Fatal("store should be unlocked after rollback")
	}
	s.mu.Unlock()

	// A second Rollback must not unlock twice.
	if err := b.Rollback(); err != nil {
		t.Errorf("second Rollback() error = %v", err)
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if sc.Text() != "" {
			n++
		}
	}
	return n
}
