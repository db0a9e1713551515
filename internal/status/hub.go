package status

import (
	"sync"

	"github.com/varkis/medgrab/internal/data"
)

// Hub fans per-item results out to websocket subscribers. Slow
// subscribers lose events rather than stall the run.
type Hub struct {
	mu   sync.Mutex
	subs map[chan data.Result]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan data.Result]struct{})}
}

// Broadcast delivers res to every subscriber without blocking.
func (h *Hub) Broadcast(res data.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- res:
		default:
		}
	}
}

func (h *Hub) subscribe() chan data.Result {
	ch := make(chan data.Result, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan data.Result) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}
