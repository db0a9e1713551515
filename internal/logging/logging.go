package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a logger that writes text to stderr and JSON to a rotating
// log file. An empty path disables the file sink.
func New(path string) *slog.Logger {
	if path == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    20, // megabytes
		MaxBackups: 3,
		Compress:   true,
	}
	return slog.New(tee{
		a: slog.NewTextHandler(os.Stderr, nil),
		b: slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})
}

// Discard returns a logger for tests and dry wiring.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
