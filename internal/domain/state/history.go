package state

import "sync"

// DefaultHistorySize bounds the in-memory change history ring.
const DefaultHistorySize = 500

// history is a bounded ring of state changes, oldest evicted first.
type history struct {
	mu      sync.RWMutex
	changes []*StateChange
	max     int
}

func newHistory(max int) *history {
	if max <= 0 {
		max = DefaultHistorySize
	}
	return &history{
		changes: make([]*StateChange, 0, max),
		max:     max,
	}
}

func (h *history) append(change *StateChange) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.changes = append(h.changes, change)
	if len(h.changes) > h.max {
		h.changes = h.changes[len(h.changes)-h.max:]
	}
}

// list returns changes newest-first, optionally filtered by key and
// bounded by limit (0 = no limit).
func (h *history) list(key string, limit int) []*StateChange {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*StateChange
	for i := len(h.changes) - 1; i >= 0; i-- {
		change := h.changes[i]
		if key != "" && change.Key != key {
			continue
		}
		out = append(out, change)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// recent returns up to n changes in chronological order, for mirroring.
func (h *history) recent(n int) []*StateChange {
	h.mu.RLock()
	defer h.mu.RUnlock()

	start := 0
	if len(h.changes) > n {
		start = len(h.changes) - n
	}
	out := make([]*StateChange, len(h.changes)-start)
	copy(out, h.changes[start:])
	return out
}

// seed replaces the ring contents, used for restart recovery.
func (h *history) seed(changes []*StateChange) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(changes) > h.max {
		changes = changes[len(changes)-h.max:]
	}
	h.changes = append(h.changes[:0], changes...)
}

func (h *history) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.changes)
}
