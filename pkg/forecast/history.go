package forecast

import (
	"sync"

	"GoHealthMonitor/pkg/aggregate"
)

// History is a bounded ring of aggregated views, oldest first.
type History struct {
	mu    sync.RWMutex
	views []*aggregate.View
	size  int
}

// NewHistory creates a ring holding at most size views.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{views: make([]*aggregate.View, 0, size), size: size}
}

// Push appends a view, dropping the oldest one when full.
func (h *History) Push(v *aggregate.View) {
	if v == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.views) == h.size {
		copy(h.views, h.views[1:])
		h.views = h.views[:h.size-1]
	}
	h.views = append(h.views, v)
}

// Snapshot returns the views in order. Views are immutable so the slice may be shared.
func (h *History) Snapshot() []*aggregate.View {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*aggregate.View, len(h.views))
	copy(out, h.views)
	return out
}

// Len is the number of stored views.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.views)
}
