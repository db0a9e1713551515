package manifest

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/varkis/medgrab/internal/data"
)

// RepairReport summarizes a repair pass.
type RepairReport struct {
	Downloaded        int
	Pending           int
	DuplicatesRemoved int
	Promoted          int
	BackupPath        string
}

// CheckReport is the read-only counterpart produced by Check.
type CheckReport struct {
	Total      int
	Downloaded int
	Pending    int
	Duplicates []int
	// Unmarked are ids present on disk but not marked downloaded.
	Unmarked []int
}

// Completion returns manifest completion as a percentage.
func (c CheckReport) Completion() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Downloaded) / float64(c.Total) * 100
}

// Repair rewrites the manifest: blank lines dropped, duplicate ids
// collapsed to their first occurrence with Downloaded winning over
// Pending, and any id in onDisk that is pending or absent promoted to
// Downloaded. A timestamped backup is written before anything mutates.
// Downloaded markings are never lost, so running Repair twice in a row
// yields a byte-identical file the second time.
func (s *Store) Repair(ctx context.Context, onDisk map[int]int64, minSize int64) (RepairReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readRecords()
	if err != nil {
		return RepairReport{}, err
	}

	backup, err := s.backup()
	if err != nil {
		return RepairReport{}, fmt.Errorf("backup manifest: %w", err)
	}
	report := RepairReport{BackupPath: backup}

	// First occurrence keeps its position; later duplicates only
	// contribute their status.
	var order []int
	status := make(map[int]data.Status)
	for _, r := range records {
		if _, ok := status[r.ID]; !ok {
			order = append(order, r.ID)
			status[r.ID] = r.Status
			continue
		}
		report.DuplicatesRemoved++
		if r.Status == data.StatusDownloaded {
			status[r.ID] = data.StatusDownloaded
		}
	}

	// Filesystem reconciliation: artifacts that pass the size floor are
	// accepted as proof of a completed download. The floor matches the
	// fetch verifier: exactly minSize bytes is still junk.
	var added []int
	for id, size := range onDisk {
		if size <= minSize {
			continue
		}
		if st, ok := status[id]; ok {
			if st == data.StatusPending {
				status[id] = data.StatusDownloaded
				report.Promoted++
			}
			continue
		}
		added = append(added, id)
	}
	sort.Ints(added)
	for _, id := range added {
		order = append(order, id)
		status[id] = data.StatusDownloaded
		report.Promoted++
	}

	lines := make([]string, 0, len(order))
	for _, id := range order {
		r := data.Record{ID: id, Status: status[id]}
		if r.Status == data.StatusDownloaded {
			report.Downloaded++
		} else {
			report.Pending++
		}
		lines = append(lines, r.Line())
	}
	if err := s.writeLines(lines); err != nil {
		return RepairReport{}, err
	}
	s.log.Info("manifest repaired",
		"downloaded", report.Downloaded,
		"pending", report.Pending,
		"duplicates_removed", report.DuplicatesRemoved,
		"promoted", report.Promoted,
		"backup", backup)
	return report, nil
}

// Check reports manifest health without mutating anything.
func (s *Store) Check(ctx context.Context, onDisk map[int]int64) (CheckReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readRecords()
	if err != nil {
		return CheckReport{}, err
	}

	var report CheckReport
	seen := make(map[int]struct{})
	dupes := make(map[int]struct{})
	marked := make(map[int]struct{})
	for _, r := range records {
		report.Total++
		if r.Status == data.StatusDownloaded {
			report.Downloaded++
			marked[r.ID] = struct{}{}
		} else {
			report.Pending++
		}
		if _, ok := seen[r.ID]; ok {
			dupes[r.ID] = struct{}{}
		}
		seen[r.ID] = struct{}{}
	}
	for id := range dupes {
		report.Duplicates = append(report.Duplicates, id)
	}
	sort.Ints(report.Duplicates)
	for id := range onDisk {
		if _, ok := marked[id]; !ok {
			report.Unmarked = append(report.Unmarked, id)
		}
	}
	sort.Ints(report.Unmarked)
	return report, nil
}

// backup copies the manifest next to itself with a timestamp suffix.
// Caller holds s.mu.
func (s *Store) backup() (string, error) {
	src, err := os.Open(s.path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dstPath := fmt.Sprintf("%s.backup-%s", s.path, time.Now().Format("20060102-150405"))
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	return dstPath, dst.Close()
}
