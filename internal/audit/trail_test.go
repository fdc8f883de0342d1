package audit

import (
	"testing"
	"time"

	"vitalguard/internal/access"
	"vitalguard/internal/model"
)

func entry(subject string, responseMs int64) model.AuditEntry {
	return model.AuditEntry{
		AlertID:        "a-" + subject,
		SubjectID:      subject,
		ActorID:        "cg1",
		ActorRole:      model.RoleCaregiver,
		Action:         model.ActionAcknowledge,
		Timestamp:      time.Now().UTC(),
		ResponseTimeMs: responseMs,
	}
}

func scopeOf(subjects ...string) access.Scope {
	set := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		set[s] = struct{}{}
	}
	return access.Scope{Subjects: set}
}

func TestSummaryMeanResponse(t *testing.T) {
	tr := NewTrail(10)
	tr.Append(entry("s1", 100))
	tr.Append(entry("s1", 300))
	tr.Append(entry("s2", 9999))

	sum := tr.Summary(scopeOf("s1"))
	if sum.Count != 2 {
		t.Fatalf("count = %d, want 2", sum.Count)
	}
	if sum.MeanResponseMs != 200 {
		t.Fatalf("mean = %v, want 200", sum.MeanResponseMs)
	}
}

func TestListScoped(t *testing.T) {
	tr := NewTrail(10)
	tr.Append(entry("s1", 1))
	tr.Append(entry("s2", 2))
	tr.Append(entry("s1", 3))

	got := tr.List(scopeOf("s1"), 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 scoped entries, got %d", len(got))
	}
	all := tr.List(access.Scope{All: true}, 0)
	if len(all) != 3 {
		t.Fatalf("expected 3 entries for all scope, got %d", len(all))
	}
}

func TestRetentionBounded(t *testing.T) {
	tr := NewTrail(2)
	tr.Append(entry("s1", 1))
	tr.Append(entry("s1", 2))
	tr.Append(entry("s1", 3))
	got := tr.List(access.Scope{All: true}, 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 retained entries, got %d", len(got))
	}
	if got[0].ResponseTimeMs != 2 || got[1].ResponseTimeMs != 3 {
		t.Fatalf("expected most recent entries, got %v", got)
	}
}

func TestListLimitReturnsMostRecent(t *testing.T) {
	tr := NewTrail(10)
	for i := int64(1); i <= 5; i++ {
		tr.Append(entry("s1", i))
	}
	got := tr.List(scopeOf("s1"), 2)
	if len(got) != 2 || got[0].ResponseTimeMs != 4 || got[1].ResponseTimeMs != 5 {
		t.Fatalf("unexpected limited list %v", got)
	}
}
