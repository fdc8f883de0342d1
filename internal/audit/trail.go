package audit

import (
	"sync"

	"vitalguard/internal/access"
	"vitalguard/internal/model"
)

// Trail is the append-only action log. Bounded: only the most recent
// entries are retained.
type Trail struct {
	mu    sync.RWMutex
	buf   []model.AuditEntry
	limit int
}

func NewTrail(limit int) *Trail {
	if limit <= 0 {
		limit = 1000
	}
	return &Trail{limit: limit}
}

func (t *Trail) Append(entry model.AuditEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buf) < t.limit {
		t.buf = append(t.buf, entry)
		return
	}
	copy(t.buf, t.buf[1:])
	t.buf[len(t.buf)-1] = entry
}

// List returns the most recent entries whose subject falls inside the
// given scope, oldest first.
func (t *Trail) List(scope access.Scope, limit int) []model.AuditEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.AuditEntry, 0)
	for _, e := range t.buf {
		if scope.Contains(e.SubjectID) {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Summary computes count and mean response time for a scope on demand;
// nothing derived is stored.
func (t *Trail) Summary(scope access.Scope) model.AuditSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var summary model.AuditSummary
	var total int64
	for _, e := range t.buf {
		if !scope.Contains(e.SubjectID) {
			continue
		}
		summary.Count++
		total += e.ResponseTimeMs
	}
	if summary.Count > 0 {
		summary.MeanResponseMs = float64(total) / float64(summary.Count)
	}
	return summary
}
