package access

import (
	"testing"

	"vitalguard/internal/config"
	"vitalguard/internal/model"
)

func testResolver() *StaticResolver {
	cfg := config.DefaultConfig()
	cfg.Access.Assignments = map[string][]string{
		"cg-1": {"subj-1", "subj-2"},
	}
	return NewStaticResolver(cfg)
}

func TestPatientSeesOnlySelf(t *testing.T) {
	r := testResolver()
	scope := r.ResolveScope(model.Principal{ID: "subj-1", Role: model.RolePatient})
	if !scope.Contains("subj-1") {
		t.Fatal("patient should see own subject")
	}
	if scope.Contains("subj-2") {
		t.Fatal("patient must not see other subjects")
	}
}

func TestCaregiverSeesAssignedSubjects(t *testing.T) {
	r := testResolver()
	cg := model.Principal{ID: "cg-1", Role: model.RoleCaregiver}
	if !r.CanAccess(cg, "subj-1") || !r.CanAccess(cg, "subj-2") {
		t.Fatal("caregiver should see assigned subjects")
	}
	if r.CanAccess(cg, "subj-3") {
		t.Fatal("caregiver must not see unassigned subjects")
	}
	unknown := model.Principal{ID: "cg-2", Role: model.RoleCaregiver}
	if r.CanAccess(unknown, "subj-1") {
		t.Fatal("unassigned caregiver has empty scope")
	}
}

func TestSystemSeesAll(t *testing.T) {
	r := testResolver()
	scope := r.ResolveScope(model.System)
	if !scope.All || !scope.Contains("anything") {
		t.Fatal("system scope should cover every subject")
	}
}

func TestUpdateConfigSwapsAssignments(t *testing.T) {
	r := testResolver()
	cg := model.Principal{ID: "cg-1", Role: model.RoleCaregiver}
	held := r.ResolveScope(cg)

	cfg := config.DefaultConfig()
	cfg.Access.Assignments = map[string][]string{"cg-1": {"subj-9"}}
	r.UpdateConfig(cfg)

	if !r.CanAccess(cg, "subj-9") || r.CanAccess(cg, "subj-1") {
		t.Fatal("new assignments not applied")
	}
	// A scope resolved before the swap is a stable copy.
	if !held.Contains("subj-1") {
		t.Fatal("previously resolved scope mutated by reload")
	}
}
