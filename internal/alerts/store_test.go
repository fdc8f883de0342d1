package alerts

import (
	"testing"
	"time"

	"vitalguard/internal/model"
)

func makeAlert(id, subject string, state model.AlertState) model.Alert {
	now := time.Now().UTC()
	return model.Alert{
		ID:        id,
		SubjectID: subject,
		Tier:      model.TierModerate,
		Severity:  model.TierModerate.Severity(),
		State:     state,
		Urgency:   1,
		FiredAt:   now,
		UpdatedAt: now,
	}
}

func TestSingleActivePerSubject(t *testing.T) {
	s := NewStore(10)
	if !s.Insert(makeAlert("a1", "subj1", model.StateFired)) {
		t.Fatalf("first insert should succeed")
	}
	if s.Insert(makeAlert("a2", "subj1", model.StateFired)) {
		t.Fatalf("second insert for same subject must be rejected")
	}
	active, ok := s.Active("subj1")
	if !ok || active.ID != "a1" {
		t.Fatalf("expected a1 active, got %v %v", active.ID, ok)
	}
}

func TestResolveFreesSubject(t *testing.T) {
	s := NewStore(10)
	a := makeAlert("a1", "subj1", model.StateFired)
	s.Insert(a)

	now := time.Now().UTC()
	a.State = model.StateResolved
	a.ResolvedAt = &now
	s.Update(a)

	if _, ok := s.Active("subj1"); ok {
		t.Fatalf("resolved alert must not stay active")
	}
	if !s.Insert(makeAlert("a2", "subj1", model.StateFired)) {
		t.Fatalf("new episode should open after resolution")
	}
	// Terminal alert remains queryable.
	got, ok := s.Get("a1")
	if !ok || got.State != model.StateResolved {
		t.Fatalf("resolved alert should remain queryable, got %v %v", got.State, ok)
	}
}

func TestDanglingActiveSelfHeals(t *testing.T) {
	s := NewStore(10)
	s.Insert(makeAlert("a1", "subj1", model.StateFired))
	// Simulate the invariant violation: active id with no alert behind it.
	s.mu.Lock()
	delete(s.byID, "a1")
	s.mu.Unlock()

	if _, ok := s.Active("subj1"); ok {
		t.Fatalf("dangling mapping should report no active alert")
	}
	if !s.Insert(makeAlert("a2", "subj1", model.StateFired)) {
		t.Fatalf("subject should be treated as alert-free after self-heal")
	}
}

func TestResolvedRingBounded(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		a := makeAlert(id, "subj"+id, model.StateFired)
		s.Insert(a)
		now := time.Now().UTC()
		a.State = model.StateResolved
		a.ResolvedAt = &now
		s.Update(a)
	}
	got := s.Resolved(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 resolved alerts kept, got %d", len(got))
	}
	if got[0].ID != "c" || got[2].ID != "e" {
		t.Fatalf("expected most recent resolved alerts, got %v..%v", got[0].ID, got[2].ID)
	}
}

func TestRingEvictionPrunesIndex(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		a := makeAlert(id, "subj"+id, model.StateFired)
		s.Insert(a)
		now := time.Now().UTC()
		a.State = model.StateResolved
		a.ResolvedAt = &now
		s.Update(a)
	}
	// Evicted from the ring means gone from the index too.
	for _, id := range []string{"a", "b"} {
		if _, ok := s.Get(id); ok {
			t.Fatalf("alert %s evicted from ring but still indexed", id)
		}
	}
	for _, id := range []string{"c", "d", "e"} {
		if _, ok := s.Get(id); !ok {
			t.Fatalf("alert %s inside ring should stay queryable", id)
		}
	}
}

func TestActiveAlertsSortedBySubject(t *testing.T) {
	s := NewStore(10)
	s.Insert(makeAlert("a2", "subjB", model.StateFired))
	s.Insert(makeAlert("a1", "subjA", model.StateEscalated))
	list := s.ActiveAlerts()
	if len(list) != 2 || list[0].SubjectID != "subjA" || list[1].SubjectID != "subjB" {
		t.Fatalf("unexpected active list %v", list)
	}
}
