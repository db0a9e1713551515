package manifest

import (
	"context"
	"strings"
	"testing"
)

func TestRepair(t *testing.T) {
	ctx := context.Background()

	t.Run("collapses duplicates with downloaded winning", func(t *testing.T) {
		s := testStore(t, "42\n7\n#42\n")
		report, err := s.Repair(ctx, nil, 1024)
		if err != nil {
			t.Fatalf("Repair: %v", err)
		}
		if report.DuplicatesRemoved != 1 {
			t.Fatalf("expected 1 duplicate removed, got %d", report.DuplicatesRemoved)
		}
		if got := readFile(t, s.Path()); got != "#42\n7\n" {
			t.Fatalf("unexpected manifest: %q", got)
		}
	})

	t.Run("drops blanks and never demotes", func(t *testing.T) {
		s := testStore(t, "\n#5\n\n5\n6\n")
		if _, err := s.Repair(ctx, nil, 1024); err != nil {
			t.Fatalf("Repair: %v", err)
		}
		if got := readFile(t, s.Path()); got != "#5\n6\n" {
			t.Fatalf("downloaded mark lost or blanks kept: %q", got)
		}
	})

	t.Run("promotes on-disk artifacts above size floor", func(t *testing.T) {
		s := testStore(t, "1\n2\n")
		report, err := s.Repair(ctx, map[int]int64{1: 4096, 2: 100, 9: 4096}, 1024)
		if err != nil {
			t.Fatalf("Repair: %v", err)
		}
		// 1 promoted, 2 too small to count as evidence, 9 appended.
		if report.Promoted != 2 {
			t.Fatalf("expected 2 promotions, got %d", report.Promoted)
		}
		if got := readFile(t, s.Path()); got != "#1\n2\n#9\n" {
			t.Fatalf("unexpected manifest: %q", got)
		}
	})

	t.Run("file of exactly the floor size is not evidence", func(t *testing.T) {
		// The downloader deletes artifacts of exactly MinSize bytes, so
		// repair must not count one as a completed download either.
		s := testStore(t, "1\n")
		report, err := s.Repair(ctx, map[int]int64{1: 1024, 8: 1024}, 1024)
		if err != nil {
			t.Fatalf("Repair: %v", err)
		}
		if report.Promoted != 0 {
			t.Fatalf("expected no promotions, got %d", report.Promoted)
		}
		if got := readFile(t, s.Path()); got != "1\n" {
			t.Fatalf("unexpected manifest: %q", got)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		s := testStore(t, "42\n\n#42\nx\n3\n")
		if _, err := s.Repair(ctx, map[int]int64{3: 2048}, 1024); err != nil {
			t.Fatalf("first repair: %v", err)
		}
		first := readFile(t, s.Path())
		report, err := s.Repair(ctx, map[int]int64{3: 2048}, 1024)
		if err != nil {
			t.Fatalf("second repair: %v", err)
		}
		if second := readFile(t, s.Path()); second != first {
			t.Fatalf("repair not idempotent: %q vs %q", second, first)
		}
		if report.DuplicatesRemoved != 0 || report.Promoted != 0 {
			t.Fatalf("second repair should be a no-op: %+v", report)
		}
	})

	t.Run("writes a backup first", func(t *testing.T) {
		s := testStore(t, "1\n")
		report, err := s.Repair(ctx, nil, 1024)
		if err != nil {
			t.Fatalf("Repair: %v", err)
		}
		if report.BackupPath == "" || !strings.Contains(report.BackupPath, ".backup-") {
			t.Fatalf("unexpected backup path: %q", report.BackupPath)
		}
		if got := readFile(t, report.BackupPath); got != "1\n" {
			t.Fatalf("backup content mismatch: %q", got)
		}
	})
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, "1\n#2\n2\n3\n")

	report, err := s.Check(ctx, map[int]int64{3: 4096, 2: 4096})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.Total != 4 || report.Downloaded != 1 || report.Pending != 3 {
		t.Fatalf("unexpected totals: %+v", report)
	}
	if len(report.Duplicates) != 1 || report.Duplicates[0] != 2 {
		t.Fatalf("expected duplicate 2, got %v", report.Duplicates)
	}
	if len(report.Unmarked) != 1 || report.Unmarked[0] != 3 {
		t.Fatalf("expected unmarked 3, got %v", report.Unmarked)
	}
	if report.Completion() != 25 {
		t.Fatalf("unexpected completion: %v", report.Completion())
	}

	// Check never mutates.
	if got := readFile(t, s.Path()); got != "1\n#2\n2\n3\n" {
		t.Fatalf("check mutated manifest: %q", got)
	}
}
