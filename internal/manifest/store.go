package manifest

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/varkis/medgrab/internal/data"
)

// Store owns the flat text manifest file. The file is the single
// authoritative record of which ids have been downloaded; the Store never
// trusts in-memory copies across calls and serializes every mutation.
type Store struct {
	mu   sync.Mutex
	path string
	log  *slog.Logger
}

// Snapshot is the result of loading the manifest once.
type Snapshot struct {
	Pending    []int
	Downloaded map[int]struct{}
}

func NewStore(path string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{path: path, log: log}
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Load reads the whole manifest. Pending ids keep file order and exclude
// any id that also appears as downloaded. A missing file is fatal for a
// run: the manifest is created out-of-band.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readRecords()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Downloaded: make(map[int]struct{})}
	for _, r := range records {
		if r.Status == data.StatusDownloaded {
			snap.Downloaded[r.ID] = struct{}{}
		}
	}
	seen := make(map[int]struct{})
	for _, r := range records {
		if r.Status != data.StatusPending {
			continue
		}
		if _, ok := snap.Downloaded[r.ID]; ok {
			continue
		}
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		snap.Pending = append(snap.Pending, r.ID)
	}
	return snap, nil
}

// IsDownloaded re-reads the backing file and reports whether id carries
// the downloaded marker. It is the final gate before a fetch starts, so
// it must see writes made by concurrent external processes.
func (s *Store) IsDownloaded(ctx context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readRecords()
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.ID == id && r.Status == data.StatusDownloaded {
			return true, nil
		}
	}
	return false, nil
}

// MarkDownloaded flips id from pending to downloaded in place, preserving
// the order and content of every other line. Marking an id that is
// already downloaded is a no-op. An id missing from the manifest is a
// consistency warning, not an error: the download itself succeeded.
func (s *Store) MarkDownloaded(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", data.ErrManifestMissing, s.path)
		}
		return err
	}

	lines := splitLines(string(raw))
	updated := false
	for i, line := range lines {
		r, perr := data.ParseLine(line)
		if perr != nil || r.ID != id {
			continue
		}
		if r.Status == data.StatusDownloaded {
			return nil
		}
		lines[i] = data.Record{ID: id, Status: data.StatusDownloaded}.Line()
		updated = true
		break
	}
	if !updated {
		s.log.Warn("id not found in manifest while marking downloaded", "id", id)
		return nil
	}
	return s.writeLines(lines)
}

// readRecords parses the manifest, skipping blank and non-numeric lines.
// Caller holds s.mu.
func (s *Store) readRecords() ([]data.Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", data.ErrManifestMissing, s.path)
		}
		return nil, err
	}
	defer f.Close()

	var records []data.Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		r, perr := data.ParseLine(line)
		if perr != nil {
			s.log.Warn("skipping non-numeric manifest line", "line", line)
			continue
		}
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// writeLines replaces the manifest atomically via temp file + rename so a
// crash mid-write can never leave a half-written manifest behind. Caller
// holds s.mu.
func (s *Store) writeLines(lines []string) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// splitLines splits file content into lines without trailing newline
// artifacts. A trailing newline does not produce a phantom empty line.
func splitLines(content string) []string {
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}
