package vision

import (
	"sync"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/window"
)

// Hub fans samples out to registered aggregators. Aggregators without an
// open window drop what they receive.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*window.Aggregator
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]*window.Aggregator)}
}

// Register subscribes a session's aggregator under id.
func (h *Hub) Register(id string, a *window.Aggregator) {
	h.mu.Lock()
	h.subs[id] = a
	h.mu.Unlock()
}

// Unregister removes id.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Broadcast appends s to every aggregator and returns how many kept it.
func (h *Hub) Broadcast(s window.Sample) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	kept := 0
	for _, a := range h.subs {
		if a.Append(s) {
			kept++
		}
	}
	return kept
}

// Len returns the number of registered aggregators.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
