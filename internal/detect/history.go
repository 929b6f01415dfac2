package detect

import "sync"

// History is a fixed-capacity log of recent results, most recent first.
type History struct {
	mu       sync.RWMutex
	capacity int
	items    []Result
}

// NewHistory returns an empty History holding at most capacity results.
// Capacities below 1 are raised to 1.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{capacity: capacity, items: make([]Result, 0, capacity)}
}

// Push prepends r, evicting the oldest entry once capacity is reached.
func (h *History) Push(r Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.items) < h.capacity {
		h.items = append(h.items, Result{})
	}
	copy(h.items[1:], h.items[:len(h.items)-1])
	h.items[0] = r
}

// Snapshot returns a copy of the entries, most recent first.
func (h *History) Snapshot() []Result {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Result, len(h.items))
	copy(out, h.items)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

func (h *History) Cap() int { return h.capacity }
