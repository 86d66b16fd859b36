// Package auth resolves what an actor may see. Visibility is derived from the
// actor's role and campus bindings; it is never widened by request input.
package auth

import (
	"errors"
	"fmt"
	"sort"

	"workplan/internal/domain"
	"workplan/internal/repo"
)

// ErrPermissionDenied is matched by every ForbiddenError.
var ErrPermissionDenied = errors.New("permission denied")

// ForbiddenError indicates the actor may not perform Action.
type ForbiddenError struct {
	Action string
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("permission denied for %s: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("permission denied for %s", e.Action)
}

func (e ForbiddenError) Is(target error) bool { return target == ErrPermissionDenied }

// Forbidden builds a ForbiddenError.
func Forbidden(action, reason string) error {
	return ForbiddenError{Action: action, Reason: reason}
}

type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleCoordinator   Role = "coordinator"
	RoleManager       Role = "manager"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdministrator, RoleCoordinator, RoleManager:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor is the identity every engine operation is performed as.
type Actor struct {
	ID               string
	Role             Role
	CampusID         string
	ProgramID        string
	ManagedCampusIDs []string
}

// FromDomain converts a stored actor.
func FromDomain(a domain.Actor) Actor {
	return Actor{
		ID:               a.ID,
		Role:             Role(a.Role),
		CampusID:         a.CampusID,
		ProgramID:        a.ProgramID,
		ManagedCampusIDs: append([]string(nil), a.ManagedCampusIDs...),
	}
}

func (a Actor) IsAdmin() bool       { return a.Role == RoleAdministrator }
func (a Actor) IsCoordinator() bool { return a.Role == RoleCoordinator }
func (a Actor) IsManager() bool     { return a.Role == RoleManager }

// CanReview is true for roles that may approve or reject.
func (a Actor) CanReview() bool {
	return a.IsAdmin() || a.IsCoordinator()
}

// Scope is the set of managers an actor can see. ManagerIDs non-nil pins the
// scope to exactly those managers; otherwise CampusIDs (optionally narrowed by
// ProgramIDs) applies, unless AllCampuses.
type Scope struct {
	AllCampuses bool
	CampusIDs   []string
	ProgramIDs  []string
	ManagerIDs  []string
}

// Resolve computes the scope of a.
func Resolve(a Actor) Scope {
	switch a.Role {
	case RoleAdministrator:
		if len(a.ManagedCampusIDs) == 0 {
			return Scope{AllCampuses: true}
		}
		return Scope{CampusIDs: dedupe(a.ManagedCampusIDs)}
	case RoleCoordinator:
		if a.CampusID == "" {
			return Scope{}
		}
		s := Scope{CampusIDs: dedupe(append([]string{a.CampusID}, a.ManagedCampusIDs...))}
		if a.ProgramID != "" {
			s.ProgramIDs = []string{a.ProgramID}
		}
		return s
	case RoleManager:
		if a.ID == "" {
			return Scope{}
		}
		return Scope{ManagerIDs: []string{a.ID}}
	}
	return Scope{}
}

// Empty reports whether nothing is visible.
func (s Scope) Empty() bool {
	return !s.AllCampuses && len(s.CampusIDs) == 0 && len(s.ManagerIDs) == 0
}

// ContainsManager reports whether records owned by m are visible.
func (s Scope) ContainsManager(m domain.Actor) bool {
	if s.ManagerIDs != nil {
		return contains(s.ManagerIDs, m.ID)
	}
	if s.AllCampuses {
		return true
	}
	if m.CampusID == "" || !contains(s.CampusIDs, m.CampusID) {
		return false
	}
	return len(s.ProgramIDs) == 0 || contains(s.ProgramIDs, m.ProgramID)
}

// ContainsCampus reports whether campus administration is in scope.
func (s Scope) ContainsCampus(campusID string) bool {
	if s.AllCampuses {
		return true
	}
	return s.ManagerIDs == nil && contains(s.CampusIDs, campusID)
}

// Filter renders the scope for the data access layer.
func (s Scope) Filter() repo.ScopeFilter {
	return repo.ScopeFilter{
		All:        s.AllCampuses,
		CampusIDs:  s.CampusIDs,
		ProgramIDs: s.ProgramIDs,
		ManagerIDs: s.ManagerIDs,
	}
}

func dedupe(ids []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func contains(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}
