package run

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/varkis/medgrab/internal/batch"
	"github.com/varkis/medgrab/internal/data"
	"github.com/varkis/medgrab/internal/fetch"
	"github.com/varkis/medgrab/internal/manifest"
	"github.com/varkis/medgrab/internal/source"
)

// State is the coordinator's lifecycle phase.
type State string

const (
	StateIdle        State = "Idle"
	StateListing     State = "Listing"
	StateConfirming  State = "Confirming"
	StateConnecting  State = "Connecting"
	StateDownloading State = "Downloading"
	StateSummarizing State = "Summarizing"
	StateDone        State = "Done"
	StateCancelled   State = "Cancelled"
)

// Coordinator drives a full run: list pending work, confirm, connect,
// dispatch chunks to the pool, aggregate stats, summarize. It is the only
// mutator of RunStats; workers hand results back over a channel.
type Coordinator struct {
	store     *manifest.Store
	alloc     *batch.Allocator
	pool      *fetch.Pool
	src       source.MediaSource
	chunkSize int
	log       *slog.Logger
	out       io.Writer

	// Confirm gates the run after listing. Nil means auto-confirm.
	Confirm func(pending, downloaded int) bool
	// Notify, when set, receives every per-item result as it lands.
	// Used by the status server's event stream.
	Notify func(data.Result)

	cancelled atomic.Bool

	mu    sync.Mutex
	state State
	stats data.RunStats

	// progressStep remembers the last quarter-step printed per item so
	// a transfer emits at most three in-flight lines.
	progressMu   sync.Mutex
	progressStep map[int]int
}

func New(store *manifest.Store, alloc *batch.Allocator, pool *fetch.Pool, src source.MediaSource, chunkSize int, out io.Writer, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if chunkSize <= 0 {
		chunkSize = 10
	}
	if out == nil {
		out = io.Discard
	}
	c := &Coordinator{
		store:        store,
		alloc:        alloc,
		pool:         pool,
		src:          src,
		chunkSize:    chunkSize,
		log:          log,
		out:          out,
		state:        StateIdle,
		progressStep: make(map[int]int),
	}
	if pool != nil {
		pool.Progress = c.printProgress
	}
	return c
}

// Cancel requests a cooperative stop. In-flight items finish; no new
// chunk is dispatched. Safe to call from a signal handler goroutine.
func (c *Coordinator) Cancel() { c.cancelled.Store(true) }

// State returns the current lifecycle phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the aggregate counters.
func (c *Coordinator) Stats() data.RunStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	if !s.Started.IsZero() && s.Elapsed == 0 {
		s.Elapsed = time.Since(s.Started)
	}
	return s
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run executes the whole state machine against collection ref. Fatal
// conditions (missing manifest, failed connect or resolve) abort before
// any manifest mutation; per-item failures only feed the stats.
func (c *Coordinator) Run(ctx context.Context, ref string) error {
	runID := uuid.NewString()
	log := c.log.With("run_id", runID)

	c.setState(StateListing)
	snap, err := c.store.Load(ctx)
	if err != nil {
		c.setState(StateIdle)
		return fmt.Errorf("load manifest: %w", err)
	}
	if len(snap.Pending) == 0 {
		fmt.Fprintf(c.out, "All items already downloaded (%d in manifest)\n", len(snap.Downloaded))
		c.setState(StateDone)
		return nil
	}
	log.Info("listed pending work", "pending", len(snap.Pending), "downloaded", len(snap.Downloaded))

	c.setState(StateConfirming)
	if c.Confirm != nil && !c.Confirm(len(snap.Pending), len(snap.Downloaded)) {
		fmt.Fprintln(c.out, "Download cancelled")
		c.setState(StateIdle)
		return nil
	}

	c.setState(StateConnecting)
	if err := c.src.Connect(ctx); err != nil {
		c.setState(StateIdle)
		return fmt.Errorf("connect: %w", err)
	}
	if err := c.src.ResolveCollection(ctx, ref); err != nil {
		c.setState(StateIdle)
		return fmt.Errorf("resolve collection %q: %w", ref, err)
	}
	log.Info("connected", "collection", ref)

	c.setState(StateDownloading)
	c.mu.Lock()
	c.stats = data.RunStats{Started: time.Now()}
	c.mu.Unlock()

	cancelled := c.download(ctx, log, snap.Pending)

	c.setState(StateSummarizing)
	c.mu.Lock()
	c.stats.Elapsed = time.Since(c.stats.Started)
	stats := c.stats
	c.mu.Unlock()

	if err := c.writeSummary(stats); err != nil {
		log.Error("write summary", "err", err)
	}
	c.printSummary(stats)

	if cancelled {
		log.Info("run cancelled", "downloaded", stats.Downloaded, "failed", stats.Failed)
		c.setState(StateCancelled)
		return nil
	}
	log.Info("run complete", "downloaded", stats.Downloaded, "failed", stats.Failed)
	c.setState(StateDone)
	return nil
}

// download dispatches pending ids in chunks of chunkSize. Chunking only
// controls progress granularity; the pool bounds concurrency globally.
// Returns true when the run stopped at a chunk boundary on cancellation.
func (c *Coordinator) download(ctx context.Context, log *slog.Logger, pending []int) bool {
	total := len(pending)
	fmt.Fprintf(c.out, "Downloading %d items...\n", total)

	for start := 0; start < total; start += c.chunkSize {
		if c.cancelled.Load() {
			fmt.Fprintln(c.out, "Interrupted: finishing in-flight items, manifest is consistent")
			return true
		}
		end := start + c.chunkSize
		if end > total {
			end = total
		}
		chunk := pending[start:end]

		dir, err := c.alloc.Current()
		if err != nil {
			log.Error("allocate batch folder", "err", err)
			// Every id in the chunk still gets a result line and a
			// Notify event so observers see a continuous stream.
			for _, id := range chunk {
				c.recordResult(data.Result{
					ID:     id,
					Kind:   data.FailTransport,
					Detail: fmt.Sprintf("allocate batch folder: %v", err),
				})
			}
			c.printChunkProgress(end, total)
			continue
		}

		results := make(chan data.Result, len(chunk))
		for i, id := range chunk {
			task := data.Task{ID: id, Dir: dir, Index: start + i + 1, Total: total}
			go func(task data.Task) {
				results <- c.pool.DownloadOne(ctx, task)
			}(task)
		}

		for range chunk {
			c.recordResult(<-results)
		}
		c.printChunkProgress(end, total)
	}
	return false
}

// recordResult folds one outcome into the stats and fans it out to the
// console and any Notify subscriber. Runs only on the gather goroutine.
func (c *Coordinator) recordResult(res data.Result) {
	c.mu.Lock()
	c.stats.Attempted++
	if res.OK {
		c.stats.Downloaded++
	} else {
		c.stats.Failed++
	}
	c.mu.Unlock()
	c.printResult(res)
	if c.Notify != nil {
		c.Notify(res)
	}
}

// printProgress renders coarse in-item transfer progress at quarter
// steps (25/50/75%). Called concurrently from worker goroutines.
func (c *Coordinator) printProgress(task data.Task, current, total int64) {
	if total <= 0 {
		return
	}
	step := int(current * 4 / total)
	if step < 1 || step > 3 {
		return
	}
	c.progressMu.Lock()
	if step <= c.progressStep[task.ID] {
		c.progressMu.Unlock()
		return
	}
	c.progressStep[task.ID] = step
	c.progressMu.Unlock()
	fmt.Fprintf(c.out, "  … %d: %.1f/%.1f MB (%d%%)\n",
		task.ID, float64(current)/1024/1024, float64(total)/1024/1024, step*25)
}

func (c *Coordinator) printResult(res data.Result) {
	glyph := "✓"
	if !res.OK {
		glyph = "✗"
	}
	if res.OK {
		fmt.Fprintf(c.out, "  %s %d %s (%.1f MB in %.1fs)\n",
			glyph, res.ID, res.Detail, float64(res.Bytes)/1024/1024, res.Elapsed.Seconds())
		return
	}
	fmt.Fprintf(c.out, "  %s %d %s: %s\n", glyph, res.ID, res.Kind, res.Detail)
}

func (c *Coordinator) printChunkProgress(processed, total int) {
	c.mu.Lock()
	stats := c.stats
	c.mu.Unlock()

	elapsed := time.Since(stats.Started)
	pct := float64(processed) / float64(total) * 100
	rate := 0.0
	if elapsed > 0 {
		rate = float64(stats.Downloaded) / elapsed.Minutes()
	}
	remaining := time.Duration(0)
	if processed > 0 {
		remaining = time.Duration(float64(total-processed) / float64(processed) * float64(elapsed))
	}
	fmt.Fprintf(c.out, "Progress: %d/%d (%.1f%%) | %.1f items/min | downloaded %d, failed %d | ~%s remaining\n",
		processed, total, pct, rate, stats.Downloaded, stats.Failed, remaining.Round(time.Second))
}
