package engine_test

import (
	"errors"
	"testing"

	"workplan/internal/domain"
	"workplan/internal/engine"
	"workplan/internal/repo"
)

func TestScopeAdminVisibility(t *testing.T) {
	env := newTestEnv(t)
	m1, m2 := env.actor(t, "m1"), env.actor(t, "m2")
	env.draftPlan(t, m1)
	env.draftPlan(t, m2)

	global, err := env.Engine.ResolveScope(env.Ctx, env.actor(t, "admin"))
	if err != nil || !global.AllCampuses || len(global.CampusIDs) != 2 {
		t.Fatalf("global admin scope: %+v (%v)", global, err)
	}
	scoped, err := env.Engine.ResolveScope(env.Ctx, env.actor(t, "admin-c1"))
	if err != nil || scoped.AllCampuses || len(scoped.CampusIDs) != 1 || scoped.CampusIDs[0] != "c1" {
		t.Fatalf("campus admin scope: %+v (%v)", scoped, err)
	}

	all, err := env.Engine.ListPlans(env.Ctx, env.actor(t, "admin"), engine.PlanListOptions{})
	if err != nil || len(all) != 2 {
		t.Fatalf("global admin plans: %d (%v)", len(all), err)
	}
	c1, err := env.Engine.ListPlans(env.Ctx, env.actor(t, "admin-c1"), engine.PlanListOptions{})
	if err != nil || len(c1) != 1 || c1[0].ManagerID != "m1" {
		t.Fatalf("campus admin plans: %+v (%v)", c1, err)
	}
	own, err := env.Engine.ListPlans(env.Ctx, m2, engine.PlanListOptions{})
	if err != nil || len(own) != 1 || own[0].ManagerID != "m2" {
		t.Fatalf("manager plans: %+v (%v)", own, err)
	}
	if _, err := env.Engine.ListPlans(env.Ctx, m2, engine.PlanListOptions{Cursor: "garbage"}); !errors.Is(err, engine.ErrValidationFailed) {
		t.Fatalf("bad cursor: expected validation failure, got %v", err)
	}
}

func TestPlanListPaging(t *testing.T) {
	env := newTestEnv(t)
	m1 := env.actor(t, "m1")
	for h := 8; h < 11; h++ {
		env.at(h, 0)
		env.draftPlan(t, m1)
	}
	page1, err := env.Engine.ListPlans(env.Ctx, m1, engine.PlanListOptions{Limit: 2})
	if err != nil || len(page1) != 2 {
		t.Fatalf("page 1: %d (%v)", len(page1), err)
	}
	page2, err := env.Engine.ListPlans(env.Ctx, m1, engine.PlanListOptions{Limit: 2, Cursor: engine.PlanCursor(page1[1])})
	if err != nil || len(page2) != 1 {
		t.Fatalf("page 2: %d (%v)", len(page2), err)
	}
	if page2[0].CreatedAt >= page1[1].CreatedAt {
		t.Fatalf("pages should continue newest first: %s then %s", page1[1].CreatedAt, page2[0].CreatedAt)
	}
}

func TestRegisterActorScope(t *testing.T) {
	env := newTestEnv(t)
	scopedAdmin := env.actor(t, "admin-c1")
	if _, err := env.Engine.RegisterActor(env.Ctx, scopedAdmin, engine.ActorInput{Name: "Outsider", Role: "manager", CampusID: "c2"}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("register outside scope: expected permission denied, got %v", err)
	}
	if _, err := env.Engine.RegisterActor(env.Ctx, scopedAdmin, engine.ActorInput{Name: "Floating", Role: "manager"}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("scoped admin without campus: expected permission denied, got %v", err)
	}
	if _, err := env.Engine.RegisterActor(env.Ctx, env.actor(t, "coord1"), engine.ActorInput{Name: "X", Role: "manager", CampusID: "c1"}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("coordinator registering: expected permission denied, got %v", err)
	}
	if _, err := env.Engine.RegisterActor(env.Ctx, scopedAdmin, engine.ActorInput{Name: "X", Role: "manager", CampusID: "c1", ManagedCampusIDs: []string{"c1"}}); !errors.Is(err, engine.ErrValidationFailed) {
		t.Fatalf("manager with managed campuses: expected validation failure, got %v", err)
	}
	a, err := env.Engine.RegisterActor(env.Ctx, scopedAdmin, engine.ActorInput{ID: "m3", Name: "Manager Tres", Role: "manager", CampusID: "c1", WeeklyHours: 20, NumberOfWeeks: 16})
	if err != nil || a.ID != "m3" {
		t.Fatalf("register: %+v (%v)", a, err)
	}
	if _, err := env.Engine.RegisterActor(env.Ctx, scopedAdmin, engine.ActorInput{ID: "m3", Name: "Again", Role: "manager", CampusID: "c1"}); !errors.Is(err, engine.ErrValidationFailed) {
		t.Fatalf("duplicate id: expected validation failure, got %v", err)
	}
	admin := env.actor(t, "admin")
	prog, err := env.Engine.CreateProgram(env.Ctx, admin, "law", "c2", "Law")
	if err != nil {
		t.Fatalf("create program: %v", err)
	}
	if _, err := env.Engine.RegisterActor(env.Ctx, admin, engine.ActorInput{Name: "Misplaced", Role: "manager", CampusID: "c1", ProgramID: prog.ID}); !errors.Is(err, engine.ErrValidationFailed) {
		t.Fatalf("program of another campus: expected validation failure, got %v", err)
	}
}

func TestProfileAndRoleChanges(t *testing.T) {
	env := newTestEnv(t)
	m1, m2 := env.actor(t, "m1"), env.actor(t, "m2")
	name := "Manager One"
	if _, err := env.Engine.UpdateActorProfile(env.Ctx, m1, "m1", engine.ProfileUpdate{Name: &name}); err != nil {
		t.Fatalf("self update: %v", err)
	}
	if _, err := env.Engine.UpdateActorProfile(env.Ctx, m2, "m1", engine.ProfileUpdate{Name: &name}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("update other: expected permission denied, got %v", err)
	}
	role := "administrator"
	if _, err := env.Engine.UpdateActorProfile(env.Ctx, m1, "m1", engine.ProfileUpdate{Role: &role}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("self promotion: expected permission denied, got %v", err)
	}
	campus := "c2"
	if _, err := env.Engine.UpdateActorProfile(env.Ctx, m1, "m1", engine.ProfileUpdate{CampusID: &campus}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("self campus move: expected permission denied, got %v", err)
	}
	if _, err := env.Engine.UpdateActorProfile(env.Ctx, env.actor(t, "admin-c1"), "m2", engine.ProfileUpdate{Name: &name}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("admin outside scope: expected permission denied, got %v", err)
	}

	admin := env.actor(t, "admin")
	if _, err := env.Engine.ChangeRole(env.Ctx, admin, "admin", "manager", nil); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("own role change: expected permission denied, got %v", err)
	}
	promoted, err := env.Engine.ChangeRole(env.Ctx, admin, "coord2", "administrator", []string{"c2"})
	if err != nil || promoted.Role != "administrator" {
		t.Fatalf("promote: %+v (%v)", promoted, err)
	}
	newAdmin := env.actor(t, "coord2")
	if !newAdmin.IsAdmin() || len(newAdmin.ManagedCampusIDs) != 1 || newAdmin.ManagedCampusIDs[0] != "c2" {
		t.Fatalf("reloaded actor should carry the new role: %+v", newAdmin)
	}
}

func TestManagerCannotRaiseOwnBudget(t *testing.T) {
	env := newTestEnv(t)
	m1 := env.actor(t, "m1")
	weeks := 6
	if _, err := env.Engine.UpdateActorProfile(env.Ctx, m1, "m1", engine.ProfileUpdate{NumberOfWeeks: &weeks}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("self weeks change: expected permission denied, got %v", err)
	}
	weekly := 60.0
	if _, err := env.Engine.UpdateActorProfile(env.Ctx, m1, "m1", engine.ProfileUpdate{WeeklyHours: &weekly}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("self weekly hours change: expected permission denied, got %v", err)
	}
	if _, err := env.Engine.UpdateActorProfile(env.Ctx, env.actor(t, "coord1"), "m1", engine.ProfileUpdate{NumberOfWeeks: &weeks}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("coordinator weeks change: expected permission denied, got %v", err)
	}
	stored, err := env.Engine.GetActor(env.Ctx, env.actor(t, "admin"), "m1")
	if err != nil || stored.WeeklyHours != 40 || stored.NumberOfWeeks != 4 {
		t.Fatalf("budget should be unchanged: %+v (%v)", stored, err)
	}

	p := env.draftPlan(t, m1)
	env.assign(t, m1, p.ID, "pr-syllabus", 140)
	env.assign(t, m1, p.ID, "pr-course", 100)
	if _, err := env.Engine.SubmitPlan(env.Ctx, m1, p.ID); !errors.Is(err, engine.ErrValidationFailed) {
		t.Fatalf("240h against a 160h budget: expected validation failure, got %v", err)
	}

	updated, err := env.Engine.UpdateActorProfile(env.Ctx, env.actor(t, "admin-c1"), "m1", engine.ProfileUpdate{NumberOfWeeks: &weeks})
	if err != nil || updated.AvailableHours() != 240 {
		t.Fatalf("admin in scope should set the budget: %+v (%v)", updated, err)
	}
	if _, err := env.Engine.SubmitPlan(env.Ctx, m1, p.ID); err != nil {
		t.Fatalf("submit within the raised budget: %v", err)
	}
}

func TestPeriodGateAndCreation(t *testing.T) {
	env := newTestEnv(t)
	admin := env.actor(t, "admin")
	if _, err := env.Engine.CreatePeriod(env.Ctx, admin, engine.PeriodInput{Name: "Backwards", Start: "2025-06-01", End: "2025-01-01"}); !errors.Is(err, engine.ErrValidationFailed) {
		t.Fatalf("start after end: expected validation failure, got %v", err)
	}
	p, err := env.Engine.CreatePeriod(env.Ctx, admin, engine.PeriodInput{ID: "2025-2", Name: "2025-2", Start: "2025-03-01", End: "2025-03-10", Active: true})
	if err != nil {
		t.Fatalf("create period: %v", err)
	}
	if p.EndDate != "2025-03-10T23:59:59.999999Z" {
		t.Fatalf("date-only end should cover the whole day, got %s", p.EndDate)
	}
	open, err := env.Engine.CheckPeriodActive(env.Ctx, p.ID)
	if err != nil || !open {
		t.Fatalf("period should be open on its last day: %v (%v)", open, err)
	}
	if _, err := env.Engine.CheckPeriodActive(env.Ctx, "missing"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("missing period: expected not found, got %v", err)
	}
	if _, err := env.Engine.CreatePeriod(env.Ctx, env.actor(t, "coord1"), engine.PeriodInput{Name: "x", Start: "2025-01-01", End: "2025-02-01"}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("coordinator creating period: expected permission denied, got %v", err)
	}
	active, err := env.Engine.ListPeriods(env.Ctx, true)
	if err != nil || len(active) != 2 {
		t.Fatalf("expected two active periods, got %d (%v)", len(active), err)
	}
}

func TestStatisticsByScope(t *testing.T) {
	env := newTestEnv(t)
	m1, m2 := env.actor(t, "m1"), env.actor(t, "m2")
	p1 := env.draftPlan(t, m1)
	env.assign(t, m1, p1.ID, "pr-course", 30)
	if _, err := env.Engine.SubmitPlan(env.Ctx, m1, p1.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	p2 := env.draftPlan(t, m2)
	env.assign(t, m2, p2.ID, "pr-course", 12)

	global, err := env.Engine.Statistics(env.Ctx, env.actor(t, "admin"))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if global.PlansByStatus[domain.PlanSubmitted] != 1 || global.PlansByStatus[domain.PlanDraft] != 1 || global.AssignedHours != 42 || global.Managers != 2 {
		t.Fatalf("unexpected global stats %+v", global)
	}
	c1, err := env.Engine.Statistics(env.Ctx, env.actor(t, "admin-c1"))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if c1.PlansByStatus[domain.PlanDraft] != 0 || c1.AssignedHours != 30 || c1.Managers != 1 {
		t.Fatalf("unexpected campus stats %+v", c1)
	}
}

func TestEventLogAndAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	m1 := env.actor(t, "m1")
	p := env.draftPlan(t, m1)
	if _, err := env.Engine.SubmitPlan(env.Ctx, m1, p.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, env.actor(t, "admin"), repo.EventFilters{EntityID: p.ID})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	seen := map[string]bool{}
	for _, e := range evts {
		seen[e.Type] = true
	}
	if !seen["plan.created"] || !seen["plan.submitted"] {
		t.Fatalf("expected plan lifecycle events, got %v", seen)
	}
	if _, err := env.Engine.ListEvents(env.Ctx, env.actor(t, "admin-c1"), repo.EventFilters{}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("scoped admin without campus filter: expected permission denied, got %v", err)
	}
	if _, err := env.Engine.ListEvents(env.Ctx, m1, repo.EventFilters{}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("manager reading events: expected permission denied, got %v", err)
	}

	secret, key, err := env.Engine.CreateAPIKey(env.Ctx, m1, "", "laptop")
	if err != nil {
		t.Fatalf("api key: %v", err)
	}
	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	if err != nil || stored.ID != key.ID || stored.ActorID != "m1" {
		t.Fatalf("stored key: %+v (%v)", stored, err)
	}
	if _, _, err := env.Engine.CreateAPIKey(env.Ctx, m1, "m2", ""); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("key for another actor: expected permission denied, got %v", err)
	}
}
