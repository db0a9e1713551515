package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/varkis/medgrab/internal/batch"
	"github.com/varkis/medgrab/internal/config"
	"github.com/varkis/medgrab/internal/fetch"
	"github.com/varkis/medgrab/internal/logging"
	"github.com/varkis/medgrab/internal/manifest"
	"github.com/varkis/medgrab/internal/metrics"
	"github.com/varkis/medgrab/internal/run"
	"github.com/varkis/medgrab/internal/source"
	"github.com/varkis/medgrab/internal/status"
)

func main() {
	cmd := ""
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	cfg := config.FromEnv()
	fs := flag.NewFlagSet("medgrab", flag.ExitOnError)
	fs.StringVar(&cfg.ManifestPath, "manifest", cfg.ManifestPath, "path to the id manifest file")
	fs.StringVar(&cfg.OutDir, "out", cfg.OutDir, "output root for batch folders")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "max concurrent downloads")
	fs.IntVar(&cfg.BatchCapacity, "batch-size", cfg.BatchCapacity, "files per batch folder")
	fs.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "media source base URL (http source)")
	fs.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "listen address for the status server (empty: disabled)")
	srcKind := fs.String("source", "http", "media source implementation: http or noop")
	collection := fs.String("collection", "", "collection reference to download from")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	fs.Parse(args)

	log := logging.New(cfg.LogFile)
	store := manifest.NewStore(cfg.ManifestPath, log)
	alloc := batch.NewAllocator(cfg.OutDir, cfg.BatchCapacity, log)

	switch cmd {
	case "":
		os.Exit(runDownload(cfg, store, alloc, *srcKind, *collection, *yes, log))
	case "check":
		// Diagnostic only: always exits 0.
		runCheck(store, alloc)
		os.Exit(0)
	case "clean":
		os.Exit(runClean(cfg, store, alloc))
	default:
		fmt.Fprintln(os.Stderr, "usage: medgrab [check|clean] [flags]")
		os.Exit(2)
	}
}

func runDownload(cfg config.Config, store *manifest.Store, alloc *batch.Allocator, srcKind, collection string, yes bool, log *slog.Logger) int {
	metrics.Register()

	src, err := buildSource(cfg, srcKind, log)
	if err != nil {
		log.Error("media source", "err", err)
		return 1
	}

	policy := fetch.Policy{
		Timeout:      cfg.FetchTimeout,
		Retries:      cfg.RetryAttempts,
		BaseDelay:    cfg.RetryBaseDelay,
		RateLimitPad: cfg.RateLimitPad,
		RateLimitCap: cfg.RateLimitCap,
		MinSize:      cfg.MinFileSize,
	}
	pool := fetch.NewPool(store, alloc, src, cfg.Concurrency, policy, log)
	coord := run.New(store, alloc, pool, src, cfg.Chunk(), os.Stdout, log)

	if collection == "" {
		collection = prompt("Enter collection reference: ")
		if collection == "" {
			fmt.Fprintln(os.Stderr, "no collection provided")
			return 1
		}
	}
	if !yes {
		coord.Confirm = func(pending, downloaded int) bool {
			fmt.Printf("Pending: %d | already downloaded: %d | concurrency: %d\n",
				pending, downloaded, cfg.Concurrency)
			answer := prompt(fmt.Sprintf("Start downloading %d items? (y/N): ", pending))
			return strings.EqualFold(answer, "y")
		}
	}

	if cfg.StatusAddr != "" {
		hub := status.NewHub()
		coord.Notify = hub.Broadcast
		srv := status.New(cfg.StatusAddr, coord, hub, log)
		srv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Error("status server shutdown", "err", err)
			}
		}()
	}

	// First interrupt stops dispatch at the next chunk boundary and lets
	// in-flight items finish; a second one kills the process.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupt received, finishing in-flight items (interrupt again to force quit)")
		coord.Cancel()
		<-sigCh
		os.Exit(130)
	}()

	if err := coord.Run(context.Background(), collection); err != nil {
		log.Error("run failed", "err", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func runCheck(store *manifest.Store, alloc *batch.Allocator) {
	onDisk, err := alloc.FoundIDs()
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: cannot enumerate output folders:", err)
		onDisk = nil
	}
	report, err := store.Check(context.Background(), onDisk)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return
	}
	fmt.Printf("Manifest: %s\n", store.Path())
	fmt.Printf("  Total records: %d\n", report.Total)
	fmt.Printf("  Downloaded:    %d\n", report.Downloaded)
	fmt.Printf("  Pending:       %d\n", report.Pending)
	fmt.Printf("  Completion:    %.1f%%\n", report.Completion())
	if len(report.Duplicates) > 0 {
		fmt.Printf("  WARNING: %d duplicate ids (run 'medgrab clean'): %v\n", len(report.Duplicates), report.Duplicates)
	}
	if len(report.Unmarked) > 0 {
		fmt.Printf("  WARNING: %d on-disk items not marked downloaded (run 'medgrab clean'): %v\n", len(report.Unmarked), report.Unmarked)
	}
}

func runClean(cfg config.Config, store *manifest.Store, alloc *batch.Allocator) int {
	onDisk, err := alloc.FoundIDs()
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: cannot enumerate output folders:", err)
		onDisk = nil
	}
	report, err := store.Repair(context.Background(), onDisk, cfg.MinFileSize)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	fmt.Printf("Manifest cleaned (backup: %s)\n", report.BackupPath)
	fmt.Printf("  Downloaded:         %d\n", report.Downloaded)
	fmt.Printf("  Pending:            %d\n", report.Pending)
	fmt.Printf("  Duplicates removed: %d\n", report.DuplicatesRemoved)
	fmt.Printf("  Promoted from disk: %d\n", report.Promoted)
	return 0
}

func buildSource(cfg config.Config, kind string, log *slog.Logger) (source.MediaSource, error) {
	switch kind {
	case "noop":
		return source.NewNoop(log), nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("http source requires -base-url or MEDGRAB_BASE_URL")
		}
		return source.NewHTTP(cfg.BaseURL)
	}
	return nil, fmt.Errorf("unknown source %q", kind)
}

func prompt(msg string) string {
	fmt.Print(msg)
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		return ""
	}
	return strings.TrimSpace(sc.Text())
}
