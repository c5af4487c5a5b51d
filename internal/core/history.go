package core

import "dogechat/server/internal/protocol"

// History is a bounded FIFO of room events. The oldest entry is evicted when
// an append would exceed capacity.
type History struct {
	buf   []protocol.HistoryEntry
	start int
	size  int
}

// NewHistory returns an empty log holding at most capacity entries. A
// non-positive capacity falls back to DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{buf: make([]protocol.HistoryEntry, capacity)}
}

// Append adds e as the newest entry and reports whether an older entry was
// evicted to make room.
func (h *History) Append(e protocol.HistoryEntry) (evicted bool) {
	capacity := len(h.buf)
	if h.size == capacity {
		h.buf[h.start] = e
		h.start = (h.start + 1) % capacity
		return true
	}
	h.buf[(h.start+h.size)%capacity] = e
	h.size++
	return false
}

// Entries returns a copy of the log, oldest first.
func (h *History) Entries() []protocol.HistoryEntry {
	out := make([]protocol.HistoryEntry, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Clear drops every entry.
func (h *History) Clear() {
	clear(h.buf)
	h.start = 0
	h.size = 0
}

// Len returns the number of stored entries.
func (h *History) Len() int { return h.size }

// Cap returns the configured capacity.
func (h *History) Cap() int { return len(h.buf) }
