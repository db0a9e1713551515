package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the downloader honors. Values come from
// MEDGRAB_* environment variables with CLI flags layered on top by main.
type Config struct {
	ManifestPath string
	OutDir       string

	Concurrency   int
	BatchCapacity int
	ChunkSize     int // scheduling chunk; 0 means 2×Concurrency

	FetchTimeout   time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RateLimitPad   time.Duration
	RateLimitCap   time.Duration
	MinFileSize    int64

	BaseURL    string
	StatusAddr string // empty disables the status server
	LogFile    string
}

// FromEnv builds a Config from the environment, falling back to defaults
// that match the historical script's behavior.
func FromEnv() Config {
	return Config{
		ManifestPath:   envStr("MEDGRAB_MANIFEST", "all_image_ids.txt"),
		OutDir:         envStr("MEDGRAB_OUT", "downloaded_videos"),
		Concurrency:    envInt("MEDGRAB_CONCURRENCY", 5),
		BatchCapacity:  envInt("MEDGRAB_BATCH_CAPACITY", 100),
		FetchTimeout:   envDur("MEDGRAB_FETCH_TIMEOUT", 300*time.Second),
		RetryAttempts:  envInt("MEDGRAB_RETRIES", 2),
		RetryBaseDelay: envDur("MEDGRAB_RETRY_DELAY", 3*time.Second),
		RateLimitPad:   5 * time.Second,
		RateLimitCap:   60 * time.Second,
		MinFileSize:    1024,
		BaseURL:        envStr("MEDGRAB_BASE_URL", ""),
		StatusAddr:     envStr("MEDGRAB_STATUS_ADDR", ""),
		LogFile:        envStr("MEDGRAB_LOG_FILE", "medgrab.log"),
	}
}

// Chunk returns the effective scheduling chunk size.
func (c Config) Chunk() int {
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	return 2 * c.Concurrency
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}
