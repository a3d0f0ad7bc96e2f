package intelligence

import (
	"sync"
)

const (
	// DefaultHistoryCapacity is the number of records kept per user.
	DefaultHistoryCapacity = 100

	// ExcerptLength caps the message and context excerpts, in runes.
	ExcerptLength = 100
)

// History is a bounded, per-user FIFO of scored messages.
//
// It is safe for concurrent use. Once a user's list exceeds the capacity the
// oldest records are evicted first. History lives in process memory only.
type History struct {
	mu       sync.RWMutex
	capacity int
	users    map[string][]WeightRecord
}

// NewHistory creates a History holding up to capacity records per user.
// A capacity of zero or less means DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		capacity: capacity,
		users:    make(map[string][]WeightRecord),
	}
}

// Capacity returns the per-user bound.
func (h *History) Capacity() int {
	return h.capacity
}

// Append adds rec to the end of userID's list, evicting the oldest record when full.
func (h *History) Append(userID string, rec WeightRecord) {
	rec.Excerpt = Truncate(rec.Excerpt, ExcerptLength)
	rec.ContextExcerpt = Truncate(rec.ContextExcerpt, ExcerptLength)

	h.mu.Lock()
	defer h.mu.Unlock()

	records := h.users[userID]
	if len(records) >= h.capacity {
		n := copy(records, records[len(records)-h.capacity+1:])
		records = records[:n]
	}
	h.users[userID] = append(records, rec)
}

// Lookup returns the most recent record of messageID for userID.
func (h *History) Lookup(userID, messageID string) (WeightRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	records := h.users[userID]
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].MessageID == messageID {
			return records[i], true
		}
	}
	return WeightRecord{}, false
}

// Snapshot returns a copy of userID's records, oldest first.
func (h *History) Snapshot(userID string) []WeightRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	records := h.users[userID]
	out := make([]WeightRecord, len(records))
	copy(out, records)
	return out
}

// Len returns the number of records held for userID.
func (h *History) Len(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Forget drops every record of userID.
func (h *History) Forget(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.users, userID)
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
