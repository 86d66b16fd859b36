package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"workplan/internal/db"
	"workplan/internal/domain"
	"workplan/internal/migrate"
)

const ts = "2025-03-01T00:00:00.000000Z"

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn, Dialect: dialect}
}

func seedManagers(t *testing.T, r Repo) {
	t.Helper()
	ctx := context.Background()
	for _, c := range []string{"c1", "c2"} {
		if err := r.InsertCampus(ctx, domain.Campus{ID: c, Name: c, CreatedAt: ts}); err != nil {
			t.Fatalf("campus: %v", err)
		}
	}
	if err := r.InsertProgram(ctx, domain.Program{ID: "p1", CampusID: "c1", Name: "Math", CreatedAt: ts}); err != nil {
		t.Fatalf("program: %v", err)
	}
	for _, a := range []domain.Actor{
		{ID: "m1", Name: "m1", Role: "manager", CampusID: "c1", ProgramID: "p1", CreatedAt: ts},
		{ID: "m2", Name: "m2", Role: "manager", CampusID: "c1", CreatedAt: ts},
		{ID: "m3", Name: "m3", Role: "manager", CampusID: "c2", CreatedAt: ts},
		{ID: "m4", Name: "m4", Role: "manager", CreatedAt: ts},
	} {
		if err := r.InsertActor(ctx, a); err != nil {
			t.Fatalf("actor: %v", err)
		}
	}
}

func actorIDs(as []domain.Actor) map[string]bool {
	out := map[string]bool{}
	for _, a := range as {
		out[a.ID] = true
	}
	return out
}

func TestScopeFilterNarrowsActors(t *testing.T) {
	r := newTestRepo(t)
	seedManagers(t, r)
	ctx := context.Background()
	cases := []struct {
		name  string
		scope ScopeFilter
		want  []string
	}{
		{"global", ScopeFilter{All: true}, []string{"m1", "m2", "m3", "m4"}},
		{"campus", ScopeFilter{CampusIDs: []string{"c1"}}, []string{"m1", "m2"}},
		{"program", ScopeFilter{CampusIDs: []string{"c1"}, ProgramIDs: []string{"p1"}}, []string{"m1"}},
		{"self", ScopeFilter{ManagerIDs: []string{"m3"}}, []string{"m3"}},
		{"empty", ScopeFilter{}, nil},
	}
	for _, tc := range cases {
		got, err := r.ListActors(ctx, ActorFilters{Scope: tc.scope, Role: "manager"})
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		ids := actorIDs(got)
		if len(ids) != len(tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, ids, tc.want)
		}
		for _, id := range tc.want {
			if !ids[id] {
				t.Fatalf("%s: missing %s in %v", tc.name, id, ids)
			}
		}
	}
}

func TestVersionUniqueIndex(t *testing.T) {
	r := newTestRepo(t)
	seedManagers(t, r)
	ctx := context.Background()
	if err := r.InsertPeriod(ctx, domain.ReportPeriod{ID: "per", Name: "2025", StartDate: ts, EndDate: "2025-12-31T23:59:59.000000Z", IsActive: true, CreatedAt: ts}); err != nil {
		t.Fatalf("period: %v", err)
	}
	if err := r.InsertTemplate(ctx, domain.ReportTemplate{ID: "tpl", Name: "T", MaxVersions: 3, CreatedAt: ts}); err != nil {
		t.Fatalf("template: %v", err)
	}
	if err := r.InsertTemplateReport(ctx, domain.TemplateReport{ID: "rep", ManagerID: "m1", TemplateID: "tpl", PeriodID: "per", Title: "R", Status: "draft", CreatedAt: ts, UpdatedAt: ts}); err != nil {
		t.Fatalf("report: %v", err)
	}
	next, err := r.NextVersionNumber(ctx, "rep", "tpl")
	if err != nil || next != 1 {
		t.Fatalf("expected first version 1, got %d %v", next, err)
	}
	v := domain.ManagerReportVersion{ID: "v1", ReportID: "rep", TemplateID: "tpl", VersionNumber: 1, CreatedBy: "m1", CreatedAt: ts, UpdatedAt: ts}
	if err := r.InsertVersion(ctx, v); err != nil {
		t.Fatalf("insert: %v", err)
	}
	v.ID = "v1b"
	err = r.InsertVersion(ctx, v)
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if next, _ := r.NextVersionNumber(ctx, "rep", "tpl"); next != 2 {
		t.Fatalf("expected next version 2, got %d", next)
	}
	if err := r.MarkVersionSubmitted(ctx, "v1", ts); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := r.UpdateVersionContent(ctx, "v1", map[string]any{"a": 1}, ts); !errors.Is(err, ErrStatusChanged) {
		t.Fatalf("submitted version must be immutable, got %v", err)
	}
}

func TestPeriodActiveWindow(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	p := domain.ReportPeriod{ID: "per", Name: "2025", StartDate: ts, EndDate: "2025-06-30T23:59:59.000000Z", IsActive: true, CreatedAt: ts}
	if err := r.InsertPeriod(ctx, p); err != nil {
		t.Fatalf("period: %v", err)
	}
	inside := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	after := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	if ok, err := r.PeriodActive(ctx, "per", inside); err != nil || !ok {
		t.Fatalf("expected open period, got %v %v", ok, err)
	}
	if ok, _ := r.PeriodActive(ctx, "per", after); ok {
		t.Fatalf("expected closed after end date")
	}
	if err := r.SetPeriodActive(ctx, "per", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if ok, _ := r.PeriodActive(ctx, "per", inside); ok {
		t.Fatalf("inactive period must be closed")
	}
}

func TestTransitionPlanIsConditional(t *testing.T) {
	r := newTestRepo(t)
	seedManagers(t, r)
	ctx := context.Background()
	if err := r.InsertPeriod(ctx, domain.ReportPeriod{ID: "per", Name: "2025", StartDate: ts, EndDate: ts, CreatedAt: ts}); err != nil {
		t.Fatalf("period: %v", err)
	}
	if err := r.InsertPlan(ctx, domain.WorkPlan{ID: "plan", ManagerID: "m1", PlanType: "teaching", PeriodID: "per", Title: "P", Status: domain.PlanDraft, CreatedAt: ts, UpdatedAt: ts}); err != nil {
		t.Fatalf("plan: %v", err)
	}
	submitted := ts
	tr := PlanTransition{From: []string{domain.PlanDraft}, To: domain.PlanSubmitted, UpdatedAt: ts, SubmittedDate: &submitted}
	if err := r.TransitionPlan(ctx, "plan", tr); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	if err := r.TransitionPlan(ctx, "plan", tr); !errors.Is(err, ErrStatusChanged) {
		t.Fatalf("second transition must not match, got %v", err)
	}
	if err := r.DeleteDraftPlan(ctx, "plan"); !errors.Is(err, ErrStatusChanged) {
		t.Fatalf("submitted plan must not be deletable, got %v", err)
	}
}
