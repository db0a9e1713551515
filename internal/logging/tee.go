package logging

import (
	"context"
	"log/slog"
)

// tee fans a record out to two handlers. Enabled is the OR of both so a
// debug-level file sink still sees records the stderr handler skips.
type tee struct {
	a, b slog.Handler
}

func (t tee) Enabled(ctx context.Context, level slog.Level) bool {
	return t.a.Enabled(ctx, level) || t.b.Enabled(ctx, level)
}

func (t tee) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	if t.a.Enabled(ctx, r.Level) {
		firstErr = t.a.Handle(ctx, r.Clone())
	}
	if t.b.Enabled(ctx, r.Level) {
		if err := t.b.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	return tee{a: t.a.WithAttrs(attrs), b: t.b.WithAttrs(attrs)}
}

func (t tee) WithGroup(name string) slog.Handler {
	return tee{a: t.a.WithGroup(name), b: t.b.WithGroup(name)}
}
