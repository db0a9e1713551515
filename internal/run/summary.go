package run

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/varkis/medgrab/internal/data"
)

// SummaryFile is the advisory run summary written to the output root.
// It is never read back as state.
const SummaryFile = "download_summary.txt"

func (c *Coordinator) writeSummary(stats data.RunStats) error {
	if err := os.MkdirAll(c.alloc.Root(), 0o755); err != nil {
		return err
	}
	path := filepath.Join(c.alloc.Root(), SummaryFile)
	return os.WriteFile(path, []byte(formatSummary(stats, c.pool.Concurrency())), 0o644)
}

func (c *Coordinator) printSummary(stats data.RunStats) {
	fmt.Fprint(c.out, formatSummary(stats, c.pool.Concurrency()))
}

func formatSummary(stats data.RunStats, concurrency int) string {
	return fmt.Sprintf(`=== DOWNLOAD SUMMARY ===
Date: %s

Attempted: %d
Downloaded: %d
Failed: %d
Success rate: %.1f%%
Elapsed: %s
Throughput: %.1f items/min
Concurrency: %d
`,
		time.Now().Format("2006-01-02 15:04:05"),
		stats.Attempted,
		stats.Downloaded,
		stats.Failed,
		stats.SuccessRate(),
		stats.Elapsed.Round(time.Second),
		stats.PerMinute(),
		concurrency,
	)
}
