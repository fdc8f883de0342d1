package access

import (
	"sort"
	"sync/atomic"

	"vitalguard/internal/config"
	"vitalguard/internal/model"
)

// Scope is the set of subjects a principal may observe and act on.
type Scope struct {
	All      bool
	Subjects map[string]struct{}
}

func (s Scope) Contains(subjectID string) bool {
	if s.All {
		return true
	}
	if s.Subjects == nil {
		return false
	}
	_, ok := s.Subjects[subjectID]
	return ok
}

// SubjectIDs lists the scope's subjects in stable order, for logging.
func (s Scope) SubjectIDs() []string {
	out := make([]string, 0, len(s.Subjects))
	for id := range s.Subjects {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Resolver is the access-control collaborator. The engine consults it
// at subscribe time and before every action; it never caches results
// across a connection's lifetime.
type Resolver interface {
	ResolveScope(principal model.Principal) Scope
	CanAccess(principal model.Principal, subjectID string) bool
}

// StaticResolver derives scopes from the assignment table in config:
// a patient sees itself, a caregiver sees its assigned subjects, the
// system principal sees everything.
type StaticResolver struct {
	assignments atomic.Value
}

func NewStaticResolver(cfg *config.Config) *StaticResolver {
	r := &StaticResolver{}
	r.UpdateConfig(cfg)
	return r
}

func (r *StaticResolver) UpdateConfig(cfg *config.Config) {
	table := make(map[string]map[string]struct{})
	if cfg != nil {
		for caregiver, subjects := range cfg.Access.Assignments {
			set := make(map[string]struct{}, len(subjects))
			for _, s := range subjects {
				if s == "" {
					continue
				}
				set[s] = struct{}{}
			}
			table[caregiver] = set
		}
	}
	r.assignments.Store(table)
}

func (r *StaticResolver) ResolveScope(principal model.Principal) Scope {
	switch principal.Role {
	case model.RoleSystem:
		return Scope{All: true}
	case model.RolePatient:
		if principal.ID == "" {
			return Scope{}
		}
		return Scope{Subjects: map[string]struct{}{principal.ID: {}}}
	case model.RoleCaregiver:
		table, _ := r.assignments.Load().(map[string]map[string]struct{})
		set, ok := table[principal.ID]
		if !ok {
			return Scope{}
		}
		// Copy so callers never observe a hot-reloaded table mid-use.
		out := make(map[string]struct{}, len(set))
		for id := range set {
			out[id] = struct{}{}
		}
		return Scope{Subjects: out}
	}
	return Scope{}
}

func (r *StaticResolver) CanAccess(principal model.Principal, subjectID string) bool {
	return r.ResolveScope(principal).Contains(subjectID)
}
