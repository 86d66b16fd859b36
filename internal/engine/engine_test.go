package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"workplan/internal/config"
	"workplan/internal/db"
	"workplan/internal/domain"
	"workplan/internal/engine"
	"workplan/internal/engine/auth"
	"workplan/internal/fieldtype"
	"workplan/internal/migrate"
	"workplan/internal/notify"
)

const (
	periodID = "2025-1"
	seedTS   = "2025-01-01T00:00:00.000000Z"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

// newTestEnv seeds two campuses, one open period and a small cast of actors:
// admin (global), admin-c1 (manages c1), coord1 (c1), coord2 (c2), m1 (c1,
// 40h x 4 weeks) and m2 (c2, 20h x 4 weeks).
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, dialect, config.Default("inst-1"))
	eng.Now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	r := eng.Repo
	for _, c := range []domain.Campus{{ID: "c1", Name: "Norte"}, {ID: "c2", Name: "Sur"}} {
		c.CreatedAt = seedTS
		if err := r.InsertCampus(ctx, c); err != nil {
			t.Fatalf("seed campus: %v", err)
		}
	}
	if err := r.InsertPeriod(ctx, domain.ReportPeriod{
		ID: periodID, Name: "2025-1", StartDate: "2025-01-01T00:00:00.000000Z", EndDate: "2025-06-30T23:59:59.999999Z",
		IsActive: true, CreatedAt: seedTS,
	}); err != nil {
		t.Fatalf("seed period: %v", err)
	}
	for _, a := range []domain.Actor{
		{ID: "admin", Name: "Admin", Email: "admin@example.edu", Role: "administrator"},
		{ID: "admin-c1", Name: "Admin Norte", Role: "administrator", CampusID: "c1", ManagedCampusIDs: []string{"c1"}},
		{ID: "coord1", Name: "Coord Norte", Email: "coord1@example.edu", Role: "coordinator", CampusID: "c1"},
		{ID: "coord2", Name: "Coord Sur", Email: "coord2@example.edu", Role: "coordinator", CampusID: "c2"},
		{ID: "m1", Name: "Manager Uno", Email: "m1@example.edu", Role: "manager", CampusID: "c1", WeeklyHours: 40, NumberOfWeeks: 4},
		{ID: "m2", Name: "Manager Dos", Email: "m2@example.edu", Role: "manager", CampusID: "c2", WeeklyHours: 20, NumberOfWeeks: 4},
	} {
		a.CreatedAt = seedTS
		if err := r.InsertActor(ctx, a); err != nil {
			t.Fatalf("seed actor %s: %v", a.ID, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) actor(t *testing.T, id string) auth.Actor {
	t.Helper()
	a, err := env.Engine.LoadActor(env.Ctx, id)
	if err != nil {
		t.Fatalf("load actor %s: %v", id, err)
	}
	return a
}

// draftPlan creates a teaching plan for m1 with every required field answered.
func (env testEnv) draftPlan(t *testing.T, manager auth.Actor) domain.WorkPlan {
	t.Helper()
	p, err := env.Engine.CreatePlan(env.Ctx, manager, engine.PlanCreateOptions{PlanType: "teaching", PeriodID: periodID, Title: "Plan 2025-1"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if _, err := env.Engine.SetFieldResponse(env.Ctx, manager, p.ID, "summary", fieldtype.TextValue(fieldtype.LongText, "Courses and tutoring")); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if _, err := env.Engine.SetFieldResponse(env.Ctx, manager, p.ID, "headcount", fieldtype.NumberValue(35)); err != nil {
		t.Fatalf("headcount: %v", err)
	}
	return p
}

func (env testEnv) assign(t *testing.T, manager auth.Actor, planID, product string, hours float64) domain.PlanAssignment {
	t.Helper()
	a, err := env.Engine.SetAssignment(env.Ctx, manager, planID, engine.AssignmentInput{
		AxisID: "ax-academic", ActionID: "ac-curriculum", ProductID: product, Hours: hours,
	})
	if err != nil {
		t.Fatalf("assign %s: %v", product, err)
	}
	return a
}

func TestPlanSubmitHourBudget(t *testing.T) {
	env := newTestEnv(t)
	m1 := env.actor(t, "m1")

	within := env.draftPlan(t, m1)
	env.assign(t, m1, within.ID, "pr-syllabus", 100)
	env.assign(t, m1, within.ID, "pr-course", 60)
	res, err := env.Engine.SubmitPlan(env.Ctx, m1, within.ID)
	if err != nil {
		t.Fatalf("160 of 160 hours should submit: %v", err)
	}
	if res.Plan.Status != domain.PlanSubmitted || res.Plan.SubmittedDate == nil {
		t.Fatalf("unexpected plan after submit: %+v", res.Plan)
	}

	over := env.draftPlan(t, m1)
	env.assign(t, m1, over.ID, "pr-syllabus", 100)
	env.assign(t, m1, over.ID, "pr-course", 61)
	_, err = env.Engine.SubmitPlan(env.Ctx, m1, over.ID)
	if !errors.Is(err, engine.ErrValidationFailed) {
		t.Fatalf("expected validation failure for 161 hours, got %v", err)
	}
	var verr *engine.ValidationError
	if !errors.As(err, &verr) || verr.Issues[0].Kind != engine.IssueHours {
		t.Fatalf("expected hours issue, got %+v", err)
	}
	detail, err := env.Engine.GetPlan(env.Ctx, m1, over.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if detail.Plan.Status != domain.PlanDraft || detail.AssignedHours != 161 || detail.AvailableHours != 160 {
		t.Fatalf("unexpected detail %+v", detail)
	}
}

func TestAssignmentUpsertsByProduct(t *testing.T) {
	env := newTestEnv(t)
	m1 := env.actor(t, "m1")
	p := env.draftPlan(t, m1)
	first := env.assign(t, m1, p.ID, "pr-course", 10)
	second := env.assign(t, m1, p.ID, "pr-course", 25)
	if first.ID != second.ID || second.Hours != 25 {
		t.Fatalf("expected upsert on same product, got %+v then %+v", first, second)
	}
	_, err := env.Engine.SetAssignment(env.Ctx, m1, p.ID, engine.AssignmentInput{AxisID: "ax-academic", ActionID: "ac-curriculum", ProductID: "pr-nope", Hours: 5})
	if !errors.Is(err, engine.ErrValidationFailed) {
		t.Fatalf("expected unknown product rejection, got %v", err)
	}
	_, err = env.Engine.SetAssignment(env.Ctx, m1, p.ID, engine.AssignmentInput{AxisID: "ax-academic", ActionID: "ac-curriculum", ProductID: "pr-course", Hours: 0})
	if !errors.Is(err, engine.ErrValidationFailed) {
		t.Fatalf("expected non-positive hours rejection, got %v", err)
	}
	if err := env.Engine.RemoveAssignment(env.Ctx, m1, p.ID, second.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	detail, _ := env.Engine.GetPlan(env.Ctx, m1, p.ID)
	if len(detail.Assignments) != 0 {
		t.Fatalf("expected no assignments, got %d", len(detail.Assignments))
	}
}

func TestPlanSubmitRequiresFieldsAndBounds(t *testing.T) {
	env := newTestEnv(t)
	m1 := env.actor(t, "m1")
	p, err := env.Engine.CreatePlan(env.Ctx, m1, engine.PlanCreateOptions{PlanType: "teaching", PeriodID: periodID, Title: "Empty"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = env.Engine.SubmitPlan(env.Ctx, m1, p.ID)
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	missing := map[string]bool{}
	for _, is := range verr.Issues {
		if is.Kind == engine.IssueRequired {
			missing[is.Field] = true
		}
	}
	if !missing["summary"] || !missing["headcount"] || len(missing) != 2 {
		t.Fatalf("unexpected missing fields %v", missing)
	}

	weekly := 45.0
	admin := env.actor(t, "admin")
	if _, err := env.Engine.UpdateActorProfile(env.Ctx, admin, "m1", engine.ProfileUpdate{WeeklyHours: &weekly}); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	bounded := env.draftPlan(t, m1)
	_, err = env.Engine.SubmitPlan(env.Ctx, m1, bounded.ID)
	if !errors.As(err, &verr) || verr.Issues[0].Field != "weekly_hours" {
		t.Fatalf("expected weekly bounds issue, got %v", err)
	}
}

func TestFractionalHoursAtBudget(t *testing.T) {
	env := newTestEnv(t)
	m1 := env.actor(t, "m1")
	// 0.7 * 3 is 2.0999999999999996 in float64.
	weekly, weeks := 0.7, 3
	if _, err := env.Engine.UpdateActorProfile(env.Ctx, env.actor(t, "admin"), "m1", engine.ProfileUpdate{WeeklyHours: &weekly, NumberOfWeeks: &weeks}); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	p, err := env.Engine.CreatePlan(env.Ctx, m1, engine.PlanCreateOptions{PlanType: "management", PeriodID: periodID, Title: "Gestión"})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if _, err := env.Engine.SetFieldResponse(env.Ctx, m1, p.ID, "objectives", fieldtype.TextValue(fieldtype.LongText, "Coordination")); err != nil {
		t.Fatalf("objectives: %v", err)
	}

	env.assign(t, m1, p.ID, "pr-syllabus", 2.11)
	if _, err := env.Engine.SubmitPlan(env.Ctx, m1, p.ID); !errors.Is(err, engine.ErrValidationFailed) {
		t.Fatalf("2.11h against 2.1h: expected validation failure, got %v", err)
	}
	env.assign(t, m1, p.ID, "pr-syllabus", 2.1)
	if _, err := env.Engine.SubmitPlan(env.Ctx, m1, p.ID); err != nil {
		t.Fatalf("2.1h against 2.1h should submit: %v", err)
	}
}

func TestFieldResponseTypeChecked(t *testing.T) {
	env := newTestEnv(t)
	m1 := env.actor(t, "m1")
	p := env.draftPlan(t, m1)
	cases := []struct {
		field string
		value fieldtype.Value
	}{
		{"headcount", fieldtype.TextValue(fieldtype.ShortText, "35")},
		{"modality", fieldtype.TextValue(fieldtype.Dropdown, "remote")},
		{"repository", fieldtype.TextValue(fieldtype.Link, "not a url")},
		{"nope", fieldtype.NumberValue(1)},
	}
	for _, tc := range cases {
		if _, err := env.Engine.SetFieldResponse(env.Ctx, m1, p.ID, tc.field, tc.value); !errors.Is(err, engine.ErrValidationFailed) {
			t.Fatalf("%s: expected validation failure, got %v", tc.field, err)
		}
	}
	if _, err := env.Engine.SetFieldResponse(env.Ctx, m1, p.ID, "modality", fieldtype.TextValue(fieldtype.Dropdown, "hybrid")); err != nil {
		t.Fatalf("valid dropdown: %v", err)
	}
	m2 := env.actor(t, "m2")
	if _, err := env.Engine.SetFieldResponse(env.Ctx, m2, p.ID, "modality", fieldtype.TextValue(fieldtype.Dropdown, "virtual")); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("expected non-owner edit denied, got %v", err)
	}
}

func TestSubmitClosedPeriod(t *testing.T) {
	env := newTestEnv(t)
	m1, admin := env.actor(t, "m1"), env.actor(t, "admin")
	p := env.draftPlan(t, m1)
	if _, err := env.Engine.SetPeriodActive(env.Ctx, admin, periodID, false); err != nil {
		t.Fatalf("close period: %v", err)
	}
	_, err := env.Engine.SubmitPlan(env.Ctx, m1, p.ID)
	if !errors.Is(err, engine.ErrValidationFailed) {
		t.Fatalf("expected closed period failure, got %v", err)
	}
	if _, err := env.Engine.SetPeriodActive(env.Ctx, admin, periodID, true); err != nil {
		t.Fatalf("reopen period: %v", err)
	}
	detail, _ := env.Engine.GetPlan(env.Ctx, m1, p.ID)
	if detail.Plan.Status != domain.PlanDraft || detail.Plan.SubmittedDate != nil {
		t.Fatalf("failed attempt must leave a draft, got %+v", detail.Plan)
	}
	if _, err := env.Engine.SubmitPlan(env.Ctx, m1, p.ID); err != nil {
		t.Fatalf("submit after reopen: %v", err)
	}

	env.Engine.Now = func() time.Time { return time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC) }
	late := env.draftPlan(t, m1)
	if _, err := env.Engine.SubmitPlan(env.Ctx, m1, late.ID); !errors.Is(err, engine.ErrValidationFailed) {
		t.Fatalf("expected failure after end date, got %v", err)
	}
}

func TestPlanOffGraphTransitions(t *testing.T) {
	env := newTestEnv(t)
	m1, coord1 := env.actor(t, "m1"), env.actor(t, "coord1")
	p := env.draftPlan(t, m1)

	if _, err := env.Engine.ReviewPlan(env.Ctx, coord1, p.ID, engine.DecisionApprove, ""); !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Fatalf("approve draft: expected invalid transition, got %v", err)
	}
	if _, err := env.Engine.ReopenPlan(env.Ctx, m1, p.ID); !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Fatalf("reopen draft: expected invalid transition, got %v", err)
	}
	if _, err := env.Engine.SubmitPlan(env.Ctx, m1, p.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.SubmitPlan(env.Ctx, m1, p.ID); !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Fatalf("double submit: expected invalid transition, got %v", err)
	}
	if _, err := env.Engine.SetFieldResponse(env.Ctx, m1, p.ID, "summary", fieldtype.TextValue(fieldtype.LongText, "late edit")); !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Fatalf("edit submitted: expected invalid transition, got %v", err)
	}
	if _, err := env.Engine.ReviewPlan(env.Ctx, coord1, p.ID, "maybe", ""); !errors.Is(err, engine.ErrValidationFailed) {
		t.Fatalf("bogus decision: expected validation failure, got %v", err)
	}
}

func TestConcurrentSubmitHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	m1 := env.actor(t, "m1")
	p := env.draftPlan(t, m1)
	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.SubmitPlan(env.Ctx, m1, p.ID)
		}(i)
	}
	wg.Wait()
	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, engine.ErrInvalidStateTransition):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestReviewScopeReopenAndHistory(t *testing.T) {
	env := newTestEnv(t)
	m1, m2 := env.actor(t, "m1"), env.actor(t, "m2")
	coord1, coord2 := env.actor(t, "coord1"), env.actor(t, "coord2")
	p := env.draftPlan(t, m1)
	if _, err := env.Engine.SubmitPlan(env.Ctx, m1, p.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.ReviewPlan(env.Ctx, coord2, p.ID, engine.DecisionApprove, ""); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("other campus coordinator: expected permission denied, got %v", err)
	}
	if _, err := env.Engine.ReviewPlan(env.Ctx, m2, p.ID, engine.DecisionApprove, ""); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("manager review: expected permission denied, got %v", err)
	}
	res, err := env.Engine.ReviewPlan(env.Ctx, coord1, p.ID, engine.DecisionReject, "needs detail")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Plan.Status != domain.PlanRejected || res.Plan.ApprovedBy == nil || *res.Plan.ApprovedBy != "coord1" {
		t.Fatalf("unexpected reviewed plan %+v", res.Plan)
	}
	if _, err := env.Engine.ReopenPlan(env.Ctx, coord1, p.ID); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("reopen by reviewer: expected permission denied, got %v", err)
	}
	reopened, err := env.Engine.ReopenPlan(env.Ctx, m1, p.ID)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Status != domain.PlanDraft || reopened.ApprovedBy != nil || reopened.ApprovalComments != nil {
		t.Fatalf("reopen should clear approval fields: %+v", reopened)
	}
	reviews, err := env.Engine.ListPlanReviews(env.Ctx, coord1, p.ID)
	if err != nil || len(reviews) != 1 || reviews[0].Decision != engine.DecisionReject || reviews[0].Comments != "needs detail" {
		t.Fatalf("expected one rejection in history, got %+v (%v)", reviews, err)
	}
	if err := env.Engine.DeletePlan(env.Ctx, m1, p.ID); !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Fatalf("delete once-submitted plan: expected invalid transition, got %v", err)
	}
	if _, err := env.Engine.GetPlan(env.Ctx, coord2, p.ID); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("get out of scope: expected permission denied, got %v", err)
	}
}

func TestDeleteDraftPlan(t *testing.T) {
	env := newTestEnv(t)
	m1 := env.actor(t, "m1")
	p := env.draftPlan(t, m1)
	env.assign(t, m1, p.ID, "pr-course", 10)
	if err := env.Engine.DeletePlan(env.Ctx, env.actor(t, "admin"), p.ID); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("delete by admin: expected permission denied, got %v", err)
	}
	if err := env.Engine.DeletePlan(env.Ctx, m1, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetPlan(env.Ctx, m1, p.ID); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

type capturedMail struct {
	mu       sync.Mutex
	requests []notify.Request
	status   int
}

func (c *capturedMail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req notify.Request
	_ = json.NewDecoder(r.Body).Decode(&req)
	c.mu.Lock()
	c.requests = append(c.requests, req)
	status := c.status
	c.mu.Unlock()
	if status == 0 {
		status = http.StatusAccepted
	}
	w.WriteHeader(status)
}

func TestSubmitAndReviewNotify(t *testing.T) {
	env := newTestEnv(t)
	mail := &capturedMail{}
	srv := httptest.NewServer(mail)
	defer srv.Close()
	env.Engine.Notifier = notify.New(srv.URL, "s3cret", time.Second)
	m1, coord1 := env.actor(t, "m1"), env.actor(t, "coord1")

	p := env.draftPlan(t, m1)
	res, err := env.Engine.SubmitPlan(env.Ctx, m1, p.ID)
	if err != nil || len(res.Warnings) != 0 {
		t.Fatalf("submit: %v warnings=%v", err, res.Warnings)
	}
	if len(mail.requests) != 1 {
		t.Fatalf("expected one notification, got %d", len(mail.requests))
	}
	got := strings.Join(mail.requests[0].Recipients, ",")
	if got != "admin@example.edu,coord1@example.edu" {
		t.Fatalf("unexpected reviewers %q", got)
	}

	mail.status = http.StatusBadGateway
	res, err = env.Engine.ReviewPlan(env.Ctx, coord1, p.ID, engine.DecisionApprove, "")
	if err != nil {
		t.Fatalf("review must not fail on notification errors: %v", err)
	}
	if len(res.Warnings) != 1 || res.Plan.Status != domain.PlanApproved {
		t.Fatalf("expected approved plan with one warning, got %+v", res)
	}
	if mail.requests[1].Recipients[0] != "m1@example.edu" {
		t.Fatalf("review notification should go to the owner, got %v", mail.requests[1].Recipients)
	}
}

func TestUploadFieldFile(t *testing.T) {
	env := newTestEnv(t)
	m1 := env.actor(t, "m1")
	p := env.draftPlan(t, m1)
	resp, err := env.Engine.UploadFieldFile(env.Ctx, m1, p.ID, "evidence", "../acta.pdf", "application/pdf", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if resp.Value.Type != fieldtype.File || !strings.HasPrefix(resp.Value.Text, "memory://blobs/plans/"+p.ID+"/evidence/") ||
		!strings.HasSuffix(resp.Value.Text, "/acta.pdf") {
		t.Fatalf("unexpected response %+v", resp)
	}
	if _, err := env.Engine.UploadFieldFile(env.Ctx, m1, p.ID, "summary", "x.txt", "", strings.NewReader("x")); !errors.Is(err, engine.ErrValidationFailed) {
		t.Fatalf("upload to text field: expected validation failure, got %v", err)
	}
}
