package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"workplan/internal/domain"
	"workplan/internal/engine/auth"
	"workplan/internal/events"
	"workplan/internal/repo"
)

// CreateCampus is restricted to global administrators.
func (e Engine) CreateCampus(ctx context.Context, actor auth.Actor, id, name string) (domain.Campus, error) {
	if !auth.Resolve(actor).AllCampuses || !actor.IsAdmin() {
		return domain.Campus{}, auth.Forbidden("campus.create", "global administrator required")
	}
	if strings.TrimSpace(name) == "" {
		return domain.Campus{}, invalid("campus.create", "name", IssueRequired, "name is required")
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.Campus{}, err
	}
	defer tx.Rollback()

	c := domain.Campus{ID: newID("campus", id), Name: name, CreatedAt: e.stamp()}
	if err := rp.InsertCampus(ctx, c); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Campus{}, invalid("campus.create", "id", IssueInvalid, fmt.Sprintf("campus %s already exists", c.ID))
		}
		return domain.Campus{}, fmt.Errorf("insert campus: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "campus.created", c.ID, events.KindCampus, c.ID, actor.ID, events.EventPayload{"name": c.Name}); err != nil {
		return domain.Campus{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Campus{}, err
	}
	return c, nil
}

// ListCampuses returns the campuses visible to actor.
func (e Engine) ListCampuses(ctx context.Context, actor auth.Actor) ([]domain.Campus, error) {
	s := auth.Resolve(actor)
	switch {
	case s.AllCampuses:
		return e.Repo.ListCampuses(ctx, nil)
	case s.ManagerIDs != nil:
		if actor.CampusID == "" {
			return nil, nil
		}
		return e.Repo.ListCampuses(ctx, []string{actor.CampusID})
	}
	return e.Repo.ListCampuses(ctx, append([]string{}, s.CampusIDs...))
}

func (e Engine) CreateProgram(ctx context.Context, actor auth.Actor, id, campusID, name string) (domain.Program, error) {
	if err := requireAdmin(actor, "program.create"); err != nil {
		return domain.Program{}, err
	}
	if !auth.Resolve(actor).ContainsCampus(campusID) {
		return domain.Program{}, auth.Forbidden("program.create", "campus outside actor scope")
	}
	if strings.TrimSpace(name) == "" {
		return domain.Program{}, invalid("program.create", "name", IssueRequired, "name is required")
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.Program{}, err
	}
	defer tx.Rollback()

	if _, err := rp.GetCampus(ctx, campusID); err != nil {
		return domain.Program{}, fmt.Errorf("campus %s: %w", campusID, err)
	}
	p := domain.Program{ID: newID("prog", id), CampusID: campusID, Name: name, CreatedAt: e.stamp()}
	if err := rp.InsertProgram(ctx, p); err != nil {
		return domain.Program{}, fmt.Errorf("insert program: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "program.created", campusID, events.KindProgram, p.ID, actor.ID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Program{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Program{}, err
	}
	return p, nil
}

func (e Engine) ListPrograms(ctx context.Context, actor auth.Actor, campusID string) ([]domain.Program, error) {
	if campusID != "" && !auth.Resolve(actor).ContainsCampus(campusID) && actor.CampusID != campusID {
		return nil, nil
	}
	return e.Repo.ListPrograms(ctx, campusID)
}

// ActorInput describes a new actor.
type ActorInput struct {
	ID               string
	Name             string
	Email            string
	Role             string
	CampusID         string
	ProgramID        string
	ManagedCampusIDs []string
	WeeklyHours      float64
	NumberOfWeeks    int
}

// RegisterActor creates an actor. Scoped administrators may only register
// into, and delegate, campuses they manage.
func (e Engine) RegisterActor(ctx context.Context, actor auth.Actor, in ActorInput) (domain.Actor, error) {
	const op = "actor.register"
	if err := requireAdmin(actor, op); err != nil {
		return domain.Actor{}, err
	}
	role, err := auth.ParseRole(in.Role)
	if err != nil {
		return domain.Actor{}, invalid(op, "role", IssueInvalid, err.Error())
	}
	if strings.TrimSpace(in.Name) == "" {
		return domain.Actor{}, invalid(op, "name", IssueRequired, "name is required")
	}
	if err := checkProfileNumbers(op, in.WeeklyHours, in.NumberOfWeeks); err != nil {
		return domain.Actor{}, err
	}
	if len(in.ManagedCampusIDs) > 0 && role == auth.RoleManager {
		return domain.Actor{}, invalid(op, "managed_campus_ids", IssueInvalid, "managers cannot manage campuses")
	}
	scope := auth.Resolve(actor)
	if in.CampusID != "" && !scope.ContainsCampus(in.CampusID) {
		return domain.Actor{}, auth.Forbidden(op, "campus outside actor scope")
	}
	if in.CampusID == "" && !scope.AllCampuses {
		return domain.Actor{}, auth.Forbidden(op, "scoped administrators must assign a campus")
	}
	for _, c := range in.ManagedCampusIDs {
		if !scope.ContainsCampus(c) {
			return domain.Actor{}, auth.Forbidden(op, fmt.Sprintf("campus %s outside actor scope", c))
		}
	}

	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()

	if err := checkPlacement(ctx, rp, op, in.CampusID, in.ProgramID); err != nil {
		return domain.Actor{}, err
	}
	a := domain.Actor{
		ID:               newID("actor", in.ID),
		Name:             in.Name,
		Email:            in.Email,
		Role:             string(role),
		CampusID:         in.CampusID,
		ProgramID:        in.ProgramID,
		ManagedCampusIDs: in.ManagedCampusIDs,
		WeeklyHours:      in.WeeklyHours,
		NumberOfWeeks:    in.NumberOfWeeks,
		CreatedAt:        e.stamp(),
	}
	if err := rp.InsertActor(ctx, a); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Actor{}, invalid(op, "id", IssueInvalid, fmt.Sprintf("actor %s already exists", a.ID))
		}
		return domain.Actor{}, fmt.Errorf("insert actor: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "actor.registered", a.CampusID, events.KindActor, a.ID, actor.ID, events.EventPayload{"role": a.Role}); err != nil {
		return domain.Actor{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

func checkProfileNumbers(op string, weekly float64, weeks int) error {
	if weekly < 0 {
		return invalid(op, "weekly_hours", IssueInvalid, "weekly_hours must not be negative")
	}
	if weeks < 0 {
		return invalid(op, "number_of_weeks", IssueInvalid, "number_of_weeks must not be negative")
	}
	return nil
}

func checkPlacement(ctx context.Context, rp repo.Repo, op, campusID, programID string) error {
	if campusID != "" {
		if _, err := rp.GetCampus(ctx, campusID); err != nil {
			return fmt.Errorf("campus %s: %w", campusID, err)
		}
	}
	if programID == "" {
		return nil
	}
	p, err := rp.GetProgram(ctx, programID)
	if err != nil {
		return fmt.Errorf("program %s: %w", programID, err)
	}
	if p.CampusID != campusID {
		return invalid(op, "program_id", IssueInvalid, fmt.Sprintf("program %s does not belong to campus %s", programID, campusID))
	}
	return nil
}

// ProfileUpdate carries optional profile changes. Role and ManagedCampusIDs
// are rejected here; they change only through ChangeRole.
type ProfileUpdate struct {
	Name             *string
	Email            *string
	WeeklyHours      *float64
	NumberOfWeeks    *int
	CampusID         *string
	ProgramID        *string
	Role             *string
	ManagedCampusIDs []string
}

func (e Engine) UpdateActorProfile(ctx context.Context, actor auth.Actor, targetID string, in ProfileUpdate) (domain.Actor, error) {
	const op = "actor.update"
	if in.Role != nil || in.ManagedCampusIDs != nil {
		return domain.Actor{}, auth.Forbidden(op, "role and managed campuses change only through a role change")
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()

	target, err := rp.GetActor(ctx, targetID)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("actor %s: %w", targetID, err)
	}
	scope := auth.Resolve(actor)
	self := actor.ID == target.ID
	admin := actor.IsAdmin() && scope.ContainsManager(target)
	if !self && !admin {
		return domain.Actor{}, auth.Forbidden(op, "only the actor or an administrator in scope may edit a profile")
	}
	updated := target
	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return domain.Actor{}, invalid(op, "name", IssueRequired, "name is required")
		}
		updated.Name = *in.Name
	}
	if in.Email != nil {
		updated.Email = *in.Email
	}
	if (in.WeeklyHours != nil || in.NumberOfWeeks != nil) && !admin {
		return domain.Actor{}, auth.Forbidden(op, "hour budget is set by an administrator")
	}
	if in.WeeklyHours != nil {
		updated.WeeklyHours = *in.WeeklyHours
	}
	if in.NumberOfWeeks != nil {
		updated.NumberOfWeeks = *in.NumberOfWeeks
	}
	if err := checkProfileNumbers(op, updated.WeeklyHours, updated.NumberOfWeeks); err != nil {
		return domain.Actor{}, err
	}
	if in.CampusID != nil || in.ProgramID != nil {
		if !actor.IsAdmin() {
			return domain.Actor{}, auth.Forbidden(op, "campus placement is set by an administrator")
		}
		if in.CampusID != nil {
			updated.CampusID = *in.CampusID
			if in.ProgramID == nil {
				updated.ProgramID = ""
			}
		}
		if in.ProgramID != nil {
			updated.ProgramID = *in.ProgramID
		}
		if updated.CampusID != "" && !scope.ContainsCampus(updated.CampusID) {
			return domain.Actor{}, auth.Forbidden(op, "campus outside actor scope")
		}
		if err := checkPlacement(ctx, rp, op, updated.CampusID, updated.ProgramID); err != nil {
			return domain.Actor{}, err
		}
	}
	if err := rp.UpdateActorProfile(ctx, updated); err != nil {
		return domain.Actor{}, fmt.Errorf("update actor: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "actor.updated", updated.CampusID, events.KindActor, updated.ID, actor.ID, events.EventPayload{}); err != nil {
		return domain.Actor{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Actor{}, err
	}
	return updated, nil
}

// ChangeRole sets the role of an in-scope actor. Managed campuses are kept
// only for administrators and coordinators.
func (e Engine) ChangeRole(ctx context.Context, actor auth.Actor, targetID, role string, managed []string) (domain.Actor, error) {
	const op = "actor.role"
	if err := requireAdmin(actor, op); err != nil {
		return domain.Actor{}, err
	}
	r, err := auth.ParseRole(role)
	if err != nil {
		return domain.Actor{}, invalid(op, "role", IssueInvalid, err.Error())
	}
	if r == auth.RoleManager && len(managed) > 0 {
		return domain.Actor{}, invalid(op, "managed_campus_ids", IssueInvalid, "managers cannot manage campuses")
	}
	scope := auth.Resolve(actor)
	for _, c := range managed {
		if !scope.ContainsCampus(c) {
			return domain.Actor{}, auth.Forbidden(op, fmt.Sprintf("campus %s outside actor scope", c))
		}
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()

	target, err := managerInScope(ctx, rp, actor, targetID, op)
	if err != nil {
		return domain.Actor{}, err
	}
	if target.ID == actor.ID {
		return domain.Actor{}, auth.Forbidden(op, "actors cannot change their own role")
	}
	if err := rp.UpdateActorRole(ctx, target.ID, string(r), managed); err != nil {
		return domain.Actor{}, fmt.Errorf("update role: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "actor.role_changed", target.CampusID, events.KindActor, target.ID, actor.ID,
		events.EventPayload{"from": target.Role, "to": string(r), "managed_campus_ids": managed}); err != nil {
		return domain.Actor{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Actor{}, err
	}
	target.Role = string(r)
	target.ManagedCampusIDs = managed
	return target, nil
}

func (e Engine) GetActor(ctx context.Context, actor auth.Actor, id string) (domain.Actor, error) {
	a, err := e.Repo.GetActor(ctx, id)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("actor %s: %w", id, err)
	}
	if a.ID != actor.ID && !auth.Resolve(actor).ContainsManager(a) {
		return domain.Actor{}, auth.Forbidden("actor.get", "actor outside scope")
	}
	return a, nil
}

// ListActors returns the actors in scope, optionally narrowed to one role.
func (e Engine) ListActors(ctx context.Context, actor auth.Actor, role string) ([]domain.Actor, error) {
	if role != "" {
		if _, err := auth.ParseRole(role); err != nil {
			return nil, invalid("actor.list", "role", IssueInvalid, err.Error())
		}
	}
	return e.Repo.ListActors(ctx, repo.ActorFilters{Scope: auth.Resolve(actor).Filter(), Role: role})
}

// CreateAPIKey issues a key for targetID. Only the actor itself or an
// administrator in scope may do so. The plaintext key is returned once.
func (e Engine) CreateAPIKey(ctx context.Context, actor auth.Actor, targetID, name string) (string, domain.APIKey, error) {
	const op = "apikey.create"
	if targetID == "" {
		targetID = actor.ID
	}
	target, err := e.Repo.GetActor(ctx, targetID)
	if err != nil {
		return "", domain.APIKey{}, fmt.Errorf("actor %s: %w", targetID, err)
	}
	if target.ID != actor.ID && !(actor.IsAdmin() && auth.Resolve(actor).ContainsManager(target)) {
		return "", domain.APIKey{}, auth.Forbidden(op, "keys are issued by the actor or an administrator in scope")
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", domain.APIKey{}, err
	}
	secret := "wp_" + hex.EncodeToString(raw)
	key := domain.APIKey{
		ID:        newID("key", ""),
		ActorID:   target.ID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return "", domain.APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return secret, key, nil
}

// ListEvents returns the event log. Scoped administrators must filter on a
// campus they manage.
func (e Engine) ListEvents(ctx context.Context, actor auth.Actor, f repo.EventFilters) ([]domain.Event, error) {
	if err := requireAdmin(actor, "events.list"); err != nil {
		return nil, err
	}
	scope := auth.Resolve(actor)
	if !scope.AllCampuses {
		if f.CampusID == "" {
			return nil, auth.Forbidden("events.list", "campus filter required")
		}
		if !scope.ContainsCampus(f.CampusID) {
			return nil, nil
		}
	}
	return e.Repo.LatestEvents(ctx, f)
}
