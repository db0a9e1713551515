package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/varkis/medgrab/internal/batch"
	"github.com/varkis/medgrab/internal/data"
	"github.com/varkis/medgrab/internal/manifest"
	"github.com/varkis/medgrab/internal/metrics"
	"github.com/varkis/medgrab/internal/source"
)

// Policy holds the per-item retry and verification knobs.
type Policy struct {
	Timeout      time.Duration
	Retries      int
	BaseDelay    time.Duration
	RateLimitPad time.Duration
	RateLimitCap time.Duration
	MinSize      int64
}

// DefaultPolicy mirrors the historical script: 300s per item, two
// attempts with linear 3s backoff, flood waits capped at a minute,
// artifacts under 1 KiB rejected.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:      300 * time.Second,
		Retries:      2,
		BaseDelay:    3 * time.Second,
		RateLimitPad: 5 * time.Second,
		RateLimitCap: 60 * time.Second,
		MinSize:      1024,
	}
}

// Pool runs per-item fetch tasks under a global admission gate of
// Concurrency slots. It owns no shared mutable state beyond the gate;
// manifest and allocator provide their own serialization.
type Pool struct {
	store       *manifest.Store
	alloc       *batch.Allocator
	src         source.MediaSource
	gate        *semaphore.Weighted
	concurrency int
	policy      Policy
	log         *slog.Logger

	// Progress, when set, receives transfer progress for an in-flight
	// task. It may be called from any worker goroutine.
	Progress func(task data.Task, current, total int64)

	// sleep is swapped out by tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPool(store *manifest.Store, alloc *batch.Allocator, src source.MediaSource, concurrency int, policy Policy, log *slog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		store:       store,
		alloc:       alloc,
		src:         src,
		gate:        semaphore.NewWeighted(int64(concurrency)),
		concurrency: concurrency,
		policy:      policy,
		log:         log,
		sleep:       sleepCtx,
	}
}

// Concurrency returns the admission gate's slot count.
func (p *Pool) Concurrency() int { return p.concurrency }

// DownloadOne executes a single task end to end: admission, manifest
// re-check, fetch with timeout, size verification, and the manifest mark
// that makes the work durable. The mark happens before success is
// reported, so a crash can only cost re-verification, never lose work.
func (p *Pool) DownloadOne(ctx context.Context, task data.Task) data.Result {
	if err := p.gate.Acquire(ctx, 1); err != nil {
		return data.Result{ID: task.ID, Kind: data.FailTransport, Detail: err.Error()}
	}
	defer p.gate.Release(1)
	metrics.InFlightFetches.Inc()
	defer metrics.InFlightFetches.Dec()

	start := time.Now()
	res := p.download(ctx, task)
	res.Elapsed = time.Since(start)

	if res.OK {
		metrics.FetchOutcomes.WithLabelValues("success").Inc()
	} else {
		metrics.FetchOutcomes.WithLabelValues(strings.ToLower(string(res.Kind))).Inc()
	}
	return res
}

func (p *Pool) download(ctx context.Context, task data.Task) data.Result {
	res := data.Result{ID: task.ID}

	for attempt := 1; attempt <= p.policy.Retries; {
		// Final gate: the manifest may have been marked by an
		// overlapping run since this id was listed.
		done, err := p.store.IsDownloaded(ctx, task.ID)
		if err != nil {
			res.Kind, res.Detail = data.FailTransport, err.Error()
			return res
		}
		if done {
			res.OK, res.Detail = true, "already downloaded"
			return res
		}

		res.Attempts++
		bytes, err := p.fetchOnce(ctx, task)
		if err == nil {
			if err := p.store.MarkDownloaded(ctx, task.ID); err != nil {
				// The artifact is on disk but the checkpoint failed;
				// repair will reconcile it, so treat as retryable.
				p.log.Error("mark downloaded", "id", task.ID, "err", err)
				res.Kind, res.Detail = data.FailTransport, err.Error()
				return res
			}
			p.alloc.RecordAdded(task.Dir)
			res.OK, res.Bytes, res.Detail = true, bytes, "downloaded"
			return res
		}

		var rl *source.RateLimitError
		if errors.As(err, &rl) {
			// A flood wait pauses only this worker and does not count
			// against the retry budget.
			wait := rl.RetryAfter + p.policy.RateLimitPad
			if wait > p.policy.RateLimitCap {
				wait = p.policy.RateLimitCap
			}
			metrics.RateLimitPauses.Inc()
			p.log.Warn("rate limited", "id", task.ID, "wait", wait)
			if serr := p.sleep(ctx, wait); serr != nil {
				res.Kind, res.Detail = data.FailTransport, serr.Error()
				return res
			}
			continue
		}

		res.Kind, res.Detail = classify(err), err.Error()
		if !res.Kind.Retryable() || attempt == p.policy.Retries {
			p.log.Warn("download failed", "id", task.ID, "kind", res.Kind, "attempt", attempt, "err", err)
			return res
		}

		delay := time.Duration(attempt) * p.policy.BaseDelay
		p.log.Info("retrying download", "id", task.ID, "kind", res.Kind, "attempt", attempt, "delay", delay)
		if serr := p.sleep(ctx, delay); serr != nil {
			res.Detail = serr.Error()
			return res
		}
		attempt++
	}
	return res
}

// fetchOnce performs one bounded fetch attempt and verifies the artifact.
func (p *Pool) fetchOnce(ctx context.Context, task data.Task) (int64, error) {
	fctx, cancel := context.WithTimeout(ctx, p.policy.Timeout)
	defer cancel()

	path := filepath.Join(task.Dir, strconv.Itoa(task.ID)+".mp4")
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}

	var onProgress source.ProgressFunc
	if p.Progress != nil {
		onProgress = func(current, total int64) { p.Progress(task, current, total) }
	}
	start := time.Now()
	_, ferr := p.src.Fetch(fctx, task.ID, f, onProgress)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	cerr := f.Close()

	if ferr != nil {
		os.Remove(path)
		if errors.Is(ferr, context.DeadlineExceeded) || fctx.Err() == context.DeadlineExceeded {
			return 0, fmt.Errorf("%w: fetch exceeded %s", errTimeout, p.policy.Timeout)
		}
		return 0, ferr
	}
	if cerr != nil {
		os.Remove(path)
		return 0, cerr
	}

	info, serr := os.Stat(path)
	if serr != nil {
		return 0, serr
	}
	if info.Size() <= p.policy.MinSize {
		// Undersized artifacts are junk; delete so repair never
		// mistakes them for evidence.
		os.Remove(path)
		return 0, fmt.Errorf("%w: %d bytes", errTooSmall, info.Size())
	}
	return info.Size(), nil
}

var (
	errTimeout  = errors.New("timeout")
	errTooSmall = errors.New("file too small")
)

// classify maps a fetch error onto the failure taxonomy. Anything not
// named explicitly is transport and therefore retryable.
func classify(err error) data.FailKind {
	switch {
	case errors.Is(err, source.ErrNotFound):
		return data.FailNotFound
	case errors.Is(err, source.ErrNoMedia):
		return data.FailNoMedia
	case errors.Is(err, source.ErrAccessDenied):
		return data.FailAccessDenied
	case errors.Is(err, errTimeout):
		return data.FailTimeout
	case errors.Is(err, errTooSmall):
		return data.FailTooSmall
	}
	return data.FailTransport
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
