package batch

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeMedia(t *testing.T, dir string, id int, size int) {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("%d.mp4", id))
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}
}

func TestRotation(t *testing.T) {
	root := t.TempDir()
	a := NewAllocator(root, 100, discard())

	// Simulate 250 successful downloads; completion order does not matter
	// for the totals, only the Current/RecordAdded protocol does.
	for i := 0; i < 250; i++ {
		dir, err := a.Current()
		if err != nil {
			t.Fatalf("Current: %v", err)
		}
		writeMedia(t, dir, i, 2048)
		a.RecordAdded(dir)
	}

	counts := map[string]int{}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	for _, e := range entries {
		n, err := countMedia(filepath.Join(root, e.Name()))
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		counts[e.Name()] = n
	}
	want := map[string]int{"batch_001": 100, "batch_002": 100, "batch_003": 50}
	if len(counts) != len(want) {
		t.Fatalf("unexpected folders: %v", counts)
	}
	for name, n := range want {
		if counts[name] != n {
			t.Fatalf("folder %s: got %d want %d", name, counts[name], n)
		}
	}
}

func TestStaleCacheRecount(t *testing.T) {
	root := t.TempDir()

	// A previous run left batch_002 half full.
	dir := filepath.Join(root, "batch_002")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for i := 0; i < 3; i++ {
		writeMedia(t, dir, i, 2048)
	}

	a := NewAllocator(root, 5, discard())
	got, err := a.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if got != dir {
		t.Fatalf("expected reuse of %s, got %s", dir, got)
	}

	// Two more fills it; the next folder continues the sequence.
	for i := 3; i < 5; i++ {
		writeMedia(t, dir, i, 2048)
		a.RecordAdded(dir)
	}
	next, err := a.Current()
	if err != nil {
		t.Fatalf("Current after fill: %v", err)
	}
	if filepath.Base(next) != "batch_003" {
		t.Fatalf("expected batch_003, got %s", filepath.Base(next))
	}
}

func TestFullFolderAdvances(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "batch_007")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for i := 0; i < 2; i++ {
		writeMedia(t, dir, i, 2048)
	}

	a := NewAllocator(root, 2, discard())
	got, err := a.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if filepath.Base(got) != "batch_008" {
		t.Fatalf("expected batch_008, got %s", filepath.Base(got))
	}
}

func TestFoundIDs(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "batch_001")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeMedia(t, dir, 11, 4096)
	writeMedia(t, dir, 12, 100)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cover.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := NewAllocator(root, 100, discard())
	found, err := a.FoundIDs()
	if err != nil {
		t.Fatalf("FoundIDs: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("unexpected found set: %v", found)
	}
	if found[11] != 4096 || found[12] != 100 {
		t.Fatalf("unexpected sizes: %v", found)
	}
}

func TestFoundIDsMissingRoot(t *testing.T) {
	a := NewAllocator(filepath.Join(t.TempDir(), "absent"), 100, discard())
	found, err := a.FoundIDs()
	if err != nil {
		t.Fatalf("FoundIDs: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected empty set, got %v", found)
	}
}
