package status

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/varkis/medgrab/internal/data"
	"github.com/varkis/medgrab/internal/run"
)

type fakeProvider struct {
	state run.State
	stats data.RunStats
}

func (f *fakeProvider) State() run.State      { return f.state }
func (f *fakeProvider) Stats() data.RunStats  { return f.stats }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testServer(t *testing.T, p Provider, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New("", p, hub, discard()).Router())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := testServer(t, &fakeProvider{state: run.StateIdle}, NewHub())
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t, &fakeProvider{state: run.StateIdle}, NewHub())
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("expected prometheus exposition output")
	}
}

func TestStatusSnapshot(t *testing.T) {
	p := &fakeProvider{
		state: run.StateDownloading,
		stats: data.RunStats{Attempted: 12, Downloaded: 10, Failed: 2, Elapsed: 90 * time.Second},
	}
	srv := testServer(t, p, NewHub())

	resp, err := http.Get(srv.URL + "/v1/status")
	if err != nil {
		t.Fatalf("GET /v1/status: %v", err)
	}
	defer resp.Body.Close()

	// Correlation id always echoed.
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID header")
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.State != run.StateDownloading || snap.Downloaded != 10 || snap.Failed != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.ElapsedSec != 90 {
		t.Fatalf("unexpected elapsed: %v", snap.ElapsedSec)
	}
}

func TestBearerAuth(t *testing.T) {
	t.Setenv("MEDGRAB_STATUS_TOKEN", "sekret")
	srv := testServer(t, &fakeProvider{state: run.StateIdle}, NewHub())

	t.Run("missing token rejected", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/status")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("unexpected status: %d", resp.StatusCode)
		}
	})

	t.Run("wrong token forbidden", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/status", nil)
		req.Header.Set("Authorization", "Bearer nope")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("unexpected status: %d", resp.StatusCode)
		}
	})

	t.Run("valid token passes", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/status", nil)
		req.Header.Set("Authorization", "Bearer sekret")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d", resp.StatusCode)
		}
	})

	t.Run("healthz stays open", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d", resp.StatusCode)
		}
	})
}

func TestEventStream(t *testing.T) {
	hub := NewHub()
	srv := testServer(t, &fakeProvider{state: run.StateDownloading}, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Give the handler a beat to register its subscription.
	deadline := time.Now().Add(time.Second)
	for {
		hub.mu.Lock()
		n := len(hub.subs)
		hub.mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(data.Result{ID: 42, OK: true, Detail: "downloaded"})

	_, payload, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var res data.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.ID != 42 || !res.OK {
		t.Fatalf("unexpected event: %+v", res)
	}
}
