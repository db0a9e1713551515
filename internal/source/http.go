package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPSource fetches items from an HTTP endpoint laid out as
// <base>/<collection>/<id>. It exists for services that expose their
// media archive over plain HTTP and as the reference MediaSource
// implementation.
type HTTPSource struct {
	base       *url.URL
	collection string
	client     *http.Client
}

// NewHTTP builds an HTTPSource against rawURL. The client carries no
// overall timeout; the fetch layer bounds each item with its own context.
func NewHTTP(rawURL string) (*HTTPSource, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrConnect, base.Scheme)
	}
	return &HTTPSource{base: base, client: &http.Client{}}, nil
}

func (s *HTTPSource) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.base.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrConnect, resp.StatusCode)
	}
	return nil
}

func (s *HTTPSource) ResolveCollection(ctx context.Context, ref string) error {
	u := s.base.JoinPath(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: collection %q", ErrNotFound, ref)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: collection %q", ErrAccessDenied, ref)
	}
	s.collection = ref
	return nil
}

func (s *HTTPSource) Fetch(ctx context.Context, id int, w io.Writer, onProgress ProgressFunc) (int64, error) {
	u := s.base.JoinPath(s.collection, strconv.Itoa(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err // transport; the pool classifies and retries
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return 0, fmt.Errorf("%w: id %d", ErrNotFound, id)
	case resp.StatusCode == http.StatusNoContent:
		return 0, fmt.Errorf("%w: id %d", ErrNoMedia, id)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return 0, fmt.Errorf("%w: id %d", ErrAccessDenied, id)
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, &RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("unexpected status %d for id %d", resp.StatusCode, id)
	}

	if resp.ContentLength == 0 {
		return 0, fmt.Errorf("%w: id %d", ErrNoMedia, id)
	}
	return copyWithProgress(w, resp.Body, resp.ContentLength, onProgress)
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 30 * time.Second
}

// copyWithProgress streams src into dst, invoking onProgress as bytes
// arrive. total may be -1 when the length is unknown.
func copyWithProgress(dst io.Writer, src io.Reader, total int64, onProgress ProgressFunc) (int64, error) {
	buf := make([]byte, 128*1024)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written, total)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
