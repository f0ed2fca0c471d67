package alert

import (
	"fmt"
	"sync"
	"time"
)

const DefaultHistoryLimit = 100

// History is a bounded, insertion-ordered record of every processed alert.
// The oldest record is evicted first regardless of acknowledgement.
type History struct {
	mu           sync.RWMutex
	limit        int
	seq          int
	records      []*Record
	lastCritical *Record
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit}
}

// Record stores a, assigning the next ALR-NNNN id.
func (h *History) Record(a Alert, now time.Time) Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	rec := &Record{
		ID:        fmt.Sprintf("ALR-%04d", h.seq),
		Level:     a.Level,
		Message:   a.Message,
		Source:    a.Source,
		Timestamp: now,
	}
	h.records = append(h.records, rec)
	if over := len(h.records) - h.limit; over > 0 {
		for i := 0; i < over; i++ {
			h.records[i] = nil
		}
		h.records = h.records[over:]
	}
	if rec.Level == SeverityCritical {
		cp := *rec
		h.lastCritical = &cp
	}
	return *rec
}

// Recent returns up to limit most recent records, newest last. limit <= 0 returns all.
func (h *History) Recent(limit int) []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	start := 0
	if limit > 0 && len(h.records) > limit {
		start = len(h.records) - limit
	}
	out := make([]Record, 0, len(h.records)-start)
	for _, r := range h.records[start:] {
		out = append(out, *r)
	}
	return out
}

// Active returns every unacknowledged record in insertion order.
func (h *History) Active() []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Record
	for _, r := range h.records {
		if !r.Acknowledged {
			out = append(out, *r)
		}
	}
	return out
}

func (h *History) Acknowledge(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, r := range h.records {
		if r.ID == id {
			r.Acknowledged = true
			return true
		}
	}
	return false
}

// AcknowledgeAll marks everything acknowledged and forgets the last critical.
func (h *History) AcknowledgeAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, r := range h.records {
		if !r.Acknowledged {
			r.Acknowledged = true
			n++
		}
	}
	h.lastCritical = nil
	return n
}

// PruneOlderThan drops records stamped before now-maxAge and returns how many went.
func (h *History) PruneOlderThan(maxAge time.Duration, now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := now.Add(-maxAge)
	kept := h.records[:0]
	for _, r := range h.records {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, r)
	}
	removed := len(h.records) - len(kept)
	for i := len(kept); i < len(h.records); i++ {
		h.records[i] = nil
	}
	h.records = kept
	return removed
}

// MarkNotified sets NotificationSent on the given records still in history.
func (h *History) MarkNotified(ids ...string) {
	if len(ids) == 0 {
		return
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if _, ok := want[r.ID]; ok {
			r.NotificationSent = true
		}
	}
}

func (h *History) Get(id string) (Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, r := range h.records {
		if r.ID == id {
			return *r, true
		}
	}
	return Record{}, false
}

// LastCritical returns the most recent critical record seen since the last clear.
func (h *History) LastCritical() (Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastCritical == nil {
		return Record{}, false
	}
	return *h.lastCritical, true
}

func (h *History) ClearLastCritical() {
	h.mu.Lock()
	h.lastCritical = nil
	h.mu.Unlock()
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

func (h *History) Limit() int {
	return h.limit
}
