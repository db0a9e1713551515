package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nhooyr.io/websocket"

	"github.com/varkis/medgrab/internal/data"
	"github.com/varkis/medgrab/internal/run"
)

// Provider exposes the coordinator's observable state to the server.
type Provider interface {
	State() run.State
	Stats() data.RunStats
}

// Snapshot is the JSON body served by /v1/status.
type Snapshot struct {
	State      run.State `json:"state"`
	Attempted  int       `json:"attempted"`
	Downloaded int       `json:"downloaded"`
	Failed     int       `json:"failed"`
	ElapsedSec float64   `json:"elapsedSec"`
}

// Server is the optional live status endpoint for a run: health, metrics,
// a stats snapshot and a websocket event stream. It observes the run and
// never mutates anything.
type Server struct {
	log      *slog.Logger
	provider Provider
	hub      *Hub
	srv      *http.Server
}

func New(addr string, provider Provider, hub *Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{log: log, provider: provider, hub: hub}
	s.srv = &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return s
}

// Router sets up the routes and middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			s.log.Error("write healthz response", "err", err)
		}
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.Use(RequestID)
	r.Use(s.logRequests)
	r.Use(BearerAuth)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/status", s.getStatus).Methods("GET")
	api.HandleFunc("/events", s.streamEvents).Methods("GET")
	return r
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Info("status server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("status server", "err", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) getStatus(w http.ResponseWriter, req *http.Request) {
	stats := s.provider.Stats()
	snap := Snapshot{
		State:      s.provider.State(),
		Attempted:  stats.Attempted,
		Downloaded: stats.Downloaded,
		Failed:     stats.Failed,
		ElapsedSec: stats.Elapsed.Seconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.log.Error("encode status", "err", err)
	}
}

// streamEvents upgrades to a websocket and relays per-item results until
// the client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		s.log.Error("websocket accept", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	sub := s.hub.subscribe()
	defer s.hub.unsubscribe(sub)

	ctx := req.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-sub:
			payload, err := json.Marshal(res)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		s.log.Info("request",
			"method", req.Method,
			"url", req.URL.Path,
			"remote", req.RemoteAddr,
			"dur_ms", time.Since(start).Milliseconds(),
			"request_id", FromContext(req.Context()))
	})
}
