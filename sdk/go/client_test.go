package workplansdk

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"workplan/internal/config"
	"workplan/internal/db"
	"workplan/internal/domain"
	"workplan/internal/engine"
	"workplan/internal/migrate"
	"workplan/internal/server"
)

const seedTS = "2025-01-01T00:00:00.000000Z"

// newAPI starts the real HTTP API over a fresh workspace and returns its
// base URL plus API keys for a manager and the manager's coordinator.
func newAPI(t *testing.T) (string, string, string) {
	t.Helper()
	ctx := context.Background()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, dialect, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, dialect, config.Default("inst-1"))
	e.Now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }

	if err := e.Repo.InsertCampus(ctx, domain.Campus{ID: "c1", Name: "Norte", CreatedAt: seedTS}); err != nil {
		t.Fatalf("seed campus: %v", err)
	}
	if err := e.Repo.InsertPeriod(ctx, domain.ReportPeriod{
		ID: "2025-1", Name: "2025-1", StartDate: seedTS, EndDate: "2025-06-30T23:59:59.999999Z",
		IsActive: true, CreatedAt: seedTS,
	}); err != nil {
		t.Fatalf("seed period: %v", err)
	}
	for _, a := range []domain.Actor{
		{ID: "coord1", Name: "Coord", Role: "coordinator", CampusID: "c1"},
		{ID: "m1", Name: "Manager", Role: "manager", CampusID: "c1", WeeklyHours: 40, NumberOfWeeks: 4},
	} {
		a.CreatedAt = seedTS
		if err := e.Repo.InsertActor(ctx, a); err != nil {
			t.Fatalf("seed actor %s: %v", a.ID, err)
		}
	}
	keys := make([]string, 0, 2)
	for _, id := range []string{"m1", "coord1"} {
		actor, err := e.LoadActor(ctx, id)
		if err != nil {
			t.Fatalf("load actor %s: %v", id, err)
		}
		secret, _, err := e.CreateAPIKey(ctx, actor, id, "sdk")
		if err != nil {
			t.Fatalf("api key %s: %v", id, err)
		}
		keys = append(keys, secret)
	}

	handler, err := server.New(server.Config{Engine: e, BasePath: "/v1", Auth: server.AuthConfig{JWTSecret: "sdk-secret"}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return "http://" + ln.Addr().String() + "/v1", keys[0], keys[1]
}

func TestClientPlanFlow(t *testing.T) {
	ctx := context.Background()
	baseURL, managerKey, coordKey := newAPI(t)
	manager := New(baseURL)
	manager.APIKey = managerKey
	coord := New(baseURL)
	coord.APIKey = coordKey

	plan, err := manager.CreatePlan(ctx, "teaching", "2025-1", "Plan 2025-1")
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if plan.Status != "draft" || plan.ManagerID != "m1" {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if err := manager.SetResponse(ctx, plan.ID, "summary", Text("long_text", "Courses")); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if err := manager.SetResponse(ctx, plan.ID, "headcount", Number(30)); err != nil {
		t.Fatalf("headcount: %v", err)
	}
	if _, err := manager.Assign(ctx, plan.ID, Assignment{
		AxisID: "ax-academic", ActionID: "ac-curriculum", ProductID: "pr-syllabus", Hours: 160,
	}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := manager.SubmitPlan(ctx, plan.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = manager.ReviewPlan(ctx, plan.ID, "approved", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden || apiErr.Code != "permission_denied" {
		t.Fatalf("expected permission_denied for self review, got %v", err)
	}

	res, err := coord.ReviewPlan(ctx, plan.ID, "approved", "ok")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if res.Plan.Status != "approved" || res.Plan.ApprovedBy == nil || *res.Plan.ApprovedBy != "coord1" {
		t.Fatalf("unexpected review result %+v", res.Plan)
	}

	_, err = manager.SubmitPlan(ctx, plan.ID)
	if !errors.As(err, &apiErr) || apiErr.Code != "invalid_state_transition" {
		t.Fatalf("expected invalid_state_transition, got %v", err)
	}

	page, err := coord.PlansPage(ctx, 10, "")
	if err != nil {
		t.Fatalf("list plans: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != plan.ID {
		t.Fatalf("unexpected plan page %+v", page)
	}
	reports, err := coord.Reports(ctx, "")
	if err != nil {
		t.Fatalf("reports: %v", err)
	}
	if len(reports.FailedFamilies) != 0 {
		t.Fatalf("unexpected failed families %+v", reports.FailedFamilies)
	}
}

func TestClientWithoutCredentials(t *testing.T) {
	baseURL, _, _ := newAPI(t)
	_, err := New(baseURL).PlansPage(context.Background(), 0, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
