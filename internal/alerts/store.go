package alerts

import (
	"sort"
	"sync"

	"vitalguard/internal/model"
)

// Store is the in-memory alert registry: every alert by id, the single
// active (non-terminal) alert id per subject, and a bounded ring of
// resolved alerts kept for history queries.
type Store struct {
	mu            sync.RWMutex
	byID          map[string]model.Alert
	active        map[string]string
	resolved      []model.Alert
	resolvedLimit int
}

func NewStore(resolvedLimit int) *Store {
	if resolvedLimit <= 0 {
		resolvedLimit = 1000
	}
	return &Store{
		byID:          make(map[string]model.Alert),
		active:        make(map[string]string),
		resolvedLimit: resolvedLimit,
	}
}

// Insert registers a new alert. Returns false when the subject already
// has an active alert; the caller must resolve it first.
func (s *Store) Insert(a model.Alert) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.active[a.SubjectID]; ok {
		if existing, ok := s.byID[id]; ok && !existing.State.Terminal() {
			return false
		}
		// Active mapping pointed at a missing or terminal alert;
		// self-heal by treating the subject as alert-free.
		delete(s.active, a.SubjectID)
	}
	s.byID[a.ID] = a
	if !a.State.Terminal() {
		s.active[a.SubjectID] = a.ID
	}
	return true
}

func (s *Store) Get(id string) (model.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	return a, ok
}

// Active returns the subject's non-terminal alert, if any. A dangling
// active mapping is dropped and reported via the second return so the
// caller can log the invariant violation.
func (s *Store) Active(subjectID string) (model.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[subjectID]
	if !ok {
		return model.Alert{}, false
	}
	a, ok := s.byID[id]
	if !ok || a.State.Terminal() {
		delete(s.active, subjectID)
		return model.Alert{}, false
	}
	return a, true
}

// Update writes back a mutated alert. A terminal alert leaves the
// active mapping and joins the resolved ring.
func (s *Store) Update(a model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[a.ID] = a
	if a.State.Terminal() {
		if id, ok := s.active[a.SubjectID]; ok && id == a.ID {
			delete(s.active, a.SubjectID)
		}
		s.appendResolved(a)
		return
	}
	s.active[a.SubjectID] = a.ID
}

// appendResolved rotates the alert into the resolved ring. The evicted
// alert also leaves the id index: in-memory history is bounded by the
// ring, anything older lives only in durable storage.
func (s *Store) appendResolved(a model.Alert) {
	if len(s.resolved) < s.resolvedLimit {
		s.resolved = append(s.resolved, a)
		return
	}
	if evicted := s.resolved[0]; evicted.ID != a.ID {
		delete(s.byID, evicted.ID)
	}
	copy(s.resolved, s.resolved[1:])
	s.resolved[len(s.resolved)-1] = a
}

// ActiveAlerts returns every non-terminal alert, ordered by subject id
// for deterministic snapshots.
func (s *Store) ActiveAlerts() []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0, len(s.active))
	for _, id := range s.active {
		if a, ok := s.byID[id]; ok && !a.State.Terminal() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out
}

func (s *Store) Resolved(limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.resolved) {
		limit = len(s.resolved)
	}
	out := make([]model.Alert, limit)
	copy(out, s.resolved[len(s.resolved)-limit:])
	return out
}
