package source

import (
	"context"
	"io"
	"log/slog"
)

type noopSource struct {
	log *slog.Logger
}

// NewNoop returns a MediaSource that resolves everything and transfers
// nothing. Useful for wiring checks and dry runs.
func NewNoop(log *slog.Logger) MediaSource {
	if log == nil {
		log = slog.Default()
	}
	return &noopSource{log: log}
}

func (s *noopSource) Connect(ctx context.Context) error {
	s.log.Info("noop: connect")
	return nil
}

func (s *noopSource) ResolveCollection(ctx context.Context, ref string) error {
	s.log.Info("noop: resolve collection", "ref", ref)
	return nil
}

func (s *noopSource) Fetch(ctx context.Context, id int, w io.Writer, onProgress ProgressFunc) (int64, error) {
	s.log.Info("noop: fetch", "id", id)
	return 0, ErrNoMedia
}
