package data

import "time"

// FailKind classifies every per-item failure into the retry policy it
// belongs to. There is deliberately no "unknown" bucket: anything the
// source does not name explicitly is a transport failure.
type FailKind string

const (
	FailNone         FailKind = ""
	FailNotFound     FailKind = "NotFound"
	FailNoMedia      FailKind = "NoMedia"
	FailAccessDenied FailKind = "AccessDenied"
	FailTimeout      FailKind = "Timeout"
	FailTooSmall     FailKind = "TooSmall"
	FailTransport    FailKind = "Transport"
)

// Retryable reports whether the kind is worth another attempt. Rate
// limiting is handled separately and never reaches this classification.
func (k FailKind) Retryable() bool {
	switch k {
	case FailTimeout, FailTooSmall, FailTransport:
		return true
	}
	return false
}

// Task is one unit of download work. It is owned by the worker executing
// it and never shared.
type Task struct {
	ID    int
	Dir   string
	Index int
	Total int
}

// Result is the outcome a worker reports back for one task.
type Result struct {
	ID       int
	OK       bool
	Kind     FailKind
	Detail   string
	Attempts int
	Bytes    int64
	Elapsed  time.Duration
}

// RunStats aggregates outcomes for a run. Only the coordinator mutates it,
// on its own goroutine, after gathering a chunk's results.
type RunStats struct {
	Attempted  int
	Downloaded int
	Failed     int
	Started    time.Time
	Elapsed    time.Duration
}

// SuccessRate returns the percentage of attempted items that succeeded.
func (s RunStats) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Downloaded) / float64(s.Attempted) * 100
}

// PerMinute returns download throughput in items per minute.
func (s RunStats) PerMinute() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Downloaded) / s.Elapsed.Minutes()
}
