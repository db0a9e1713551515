package batch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// mediaExts are the filename extensions counted toward folder occupancy
// and recognized during filesystem reconciliation.
var mediaExts = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".flv":  true,
}

var folderPattern = regexp.MustCompile(`^batch_(\d+)$`)

// Allocator hands out capacity-bounded output folders named batch_NNN.
// The in-memory occupancy counter is a cache: whenever it cannot be
// trusted (first call of a run, folder rollover) the real count is
// recomputed from disk rather than assumed.
type Allocator struct {
	mu       sync.Mutex
	root     string
	capacity int
	log      *slog.Logger

	current string
	count   int
}

func NewAllocator(root string, capacity int, log *slog.Logger) *Allocator {
	if log == nil {
		log = slog.Default()
	}
	if capacity <= 0 {
		capacity = 100
	}
	return &Allocator{root: root, capacity: capacity, log: log}
}

// Root returns the output root directory.
func (a *Allocator) Root() string { return a.root }

// Current returns the directory the next download should land in,
// creating a fresh batch folder once the active one reaches capacity.
func (a *Allocator) Current() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != "" && a.count < a.capacity {
		return a.current, nil
	}

	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return "", err
	}
	num, dir, err := a.highestFolder()
	if err != nil {
		return "", err
	}
	if dir == "" {
		return a.advance(1)
	}

	// The cache is stale here; trust only a real recount.
	occupancy, err := countMedia(dir)
	if err != nil {
		return "", err
	}
	if occupancy < a.capacity {
		a.log.Info("reusing batch folder", "dir", filepath.Base(dir), "occupancy", occupancy, "capacity", a.capacity)
		a.current, a.count = dir, occupancy
		return dir, nil
	}
	return a.advance(num + 1)
}

// RecordAdded bumps the occupancy cache after a confirmed success in dir.
func (a *Allocator) RecordAdded(dir string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if dir == a.current {
		a.count++
	}
}

// FoundIDs walks every batch folder and returns media files whose stem
// parses as an id, mapped to their size in bytes. This is the evidence
// feed for manifest reconciliation.
func (a *Allocator) FoundIDs() (map[int]int64, error) {
	found := make(map[int]int64)
	err := filepath.WalkDir(a.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !mediaExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		id, perr := strconv.Atoi(stem)
		if perr != nil {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		if prev, ok := found[id]; !ok || info.Size() > prev {
			found[id] = info.Size()
		}
		return nil
	})
	if os.IsNotExist(err) {
		return found, nil
	}
	if err != nil {
		return nil, err
	}
	return found, nil
}

// advance creates batch_{num} and makes it current. Caller holds a.mu.
// Numbers are monotonic: a folder number is never reissued once passed.
func (a *Allocator) advance(num int) (string, error) {
	dir := filepath.Join(a.root, fmt.Sprintf("batch_%03d", num))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	a.log.Info("created batch folder", "dir", filepath.Base(dir))
	a.current, a.count = dir, 0
	return dir, nil
}

// highestFolder finds the highest-numbered existing batch folder.
func (a *Allocator) highestFolder() (int, string, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return 0, "", err
	}
	best, bestDir := 0, ""
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := folderPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > best {
			best, bestDir = n, filepath.Join(a.root, e.Name())
		}
	}
	return best, bestDir, nil
}

// countMedia counts media files directly inside dir.
func countMedia(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if mediaExts[strings.ToLower(filepath.Ext(e.Name()))] {
			n++
		}
	}
	return n, nil
}
