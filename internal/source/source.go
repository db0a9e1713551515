package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Sentinel errors describing why an item could not be fetched. NotFound,
// NoMedia and AccessDenied are terminal for an id; everything else the
// fetch layer treats as transport and retries.
var (
	ErrNotFound     = errors.New("item not found")
	ErrNoMedia      = errors.New("item carries no media")
	ErrAccessDenied = errors.New("access denied")
	ErrAuth         = errors.New("authentication failed")
	ErrConnect      = errors.New("cannot connect to media source")
)

// RateLimitError signals the remote asked us to slow down. The affected
// worker pauses and retries without spending a retry slot.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ProgressFunc receives transfer progress. It may be invoked zero or more
// times, from any goroutine, at no guaranteed frequency.
type ProgressFunc func(current, total int64)

// MediaSource is the external collaborator that knows how to reach the
// remote service. Session handling and the transfer protocol live behind
// it; the core only consumes this capability.
type MediaSource interface {
	// Connect establishes the session. Fails with ErrAuth or ErrConnect.
	Connect(ctx context.Context) error
	// ResolveCollection binds the source to the target collection.
	// Fails with ErrNotFound or ErrAccessDenied.
	ResolveCollection(ctx context.Context, ref string) error
	// Fetch streams the item's payload into w, reporting progress along
	// the way, and returns the number of bytes written.
	Fetch(ctx context.Context, id int, w io.Writer, onProgress ProgressFunc) (int64, error)
}
