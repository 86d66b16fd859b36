package engine_test

import (
	"errors"
	"testing"
	"time"

	"workplan/internal/domain"
	"workplan/internal/engine"
	"workplan/internal/engine/auth"
)

func (env *testEnv) at(hour, minute int) {
	ts := time.Date(2025, 3, 10, hour, minute, 0, 0, time.UTC)
	env.Engine.Now = func() time.Time { return ts }
}

func (env testEnv) approvedPlan(t *testing.T, manager auth.Actor) domain.WorkPlan {
	t.Helper()
	p := env.draftPlan(t, manager)
	if _, err := env.Engine.SubmitPlan(env.Ctx, manager, p.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	reviewer := env.actor(t, "admin")
	res, err := env.Engine.ReviewPlan(env.Ctx, reviewer, p.ID, engine.DecisionApprove, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return res.Plan
}

func TestPlanReportLifecycle(t *testing.T) {
	env := newTestEnv(t)
	m1, coord1 := env.actor(t, "m1"), env.actor(t, "coord1")
	draft := env.draftPlan(t, m1)
	if _, err := env.Engine.CreatePlanReport(env.Ctx, m1, draft.ID, ""); !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Fatalf("report on draft plan: expected invalid transition, got %v", err)
	}
	p := env.approvedPlan(t, m1)
	pr, err := env.Engine.CreatePlanReport(env.Ctx, m1, p.ID, "")
	if err != nil || pr.Title != p.Title || pr.Status != engine.PlanReportDraft {
		t.Fatalf("create: %+v (%v)", pr, err)
	}
	if _, err := env.Engine.ReviewPlanReport(env.Ctx, coord1, pr.ID, engine.PlanReportApproved); !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Fatalf("review draft report: expected invalid transition, got %v", err)
	}
	pr, err = env.Engine.SubmitPlanReport(env.Ctx, m1, pr.ID)
	if err != nil || pr.SubmittedDate == nil {
		t.Fatalf("submit: %+v (%v)", pr, err)
	}
	if _, err := env.Engine.ReviewPlanReport(env.Ctx, env.actor(t, "coord2"), pr.ID, engine.PlanReportApproved); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("out of scope review: expected permission denied, got %v", err)
	}
	pr, err = env.Engine.ReviewPlanReport(env.Ctx, coord1, pr.ID, engine.PlanReportRejected)
	if err != nil || pr.Status != engine.PlanReportRejected {
		t.Fatalf("review: %+v (%v)", pr, err)
	}
}

func TestIndicatorReportWalk(t *testing.T) {
	env := newTestEnv(t)
	m1, coord1 := env.actor(t, "m1"), env.actor(t, "coord1")
	ir, err := env.Engine.CreateIndicatorReport(env.Ctx, m1, periodID, "Indicators Q1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.AdvanceIndicatorReport(env.Ctx, m1, ir.ID, engine.IndicatorCompleted); !errors.Is(err, engine.ErrInvalidStateTransition) {
		t.Fatalf("skip in_progress: expected invalid transition, got %v", err)
	}
	for _, to := range []string{engine.IndicatorInProgress, engine.IndicatorCompleted} {
		if ir, err = env.Engine.AdvanceIndicatorReport(env.Ctx, m1, ir.ID, to); err != nil {
			t.Fatalf("advance to %s: %v", to, err)
		}
	}
	if ir.SubmittedDate == nil {
		t.Fatalf("completion should stamp submitted date")
	}
	if _, err := env.Engine.AdvanceIndicatorReport(env.Ctx, m1, ir.ID, engine.IndicatorEvaluated); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("owner evaluating: expected permission denied, got %v", err)
	}
	if ir, err = env.Engine.AdvanceIndicatorReport(env.Ctx, coord1, ir.ID, engine.IndicatorEvaluated); err != nil || ir.Status != engine.IndicatorEvaluated {
		t.Fatalf("evaluate: %+v (%v)", ir, err)
	}
}

func TestUnifiedReportsMergeAndOrder(t *testing.T) {
	env := newTestEnv(t)
	m1, m2, coord1 := env.actor(t, "m1"), env.actor(t, "m2"), env.actor(t, "coord1")

	env.at(9, 0)
	p := env.approvedPlan(t, m1)
	env.at(10, 0)
	pr, err := env.Engine.CreatePlanReport(env.Ctx, m1, p.ID, "Progress")
	if err != nil {
		t.Fatalf("plan report: %v", err)
	}
	if _, err := env.Engine.SubmitPlanReport(env.Ctx, m1, pr.ID); err != nil {
		t.Fatalf("submit plan report: %v", err)
	}
	env.at(11, 0)
	tr := env.templateReport(t, m1, 3)
	env.at(12, 0)
	ir, err := env.Engine.CreateIndicatorReport(env.Ctx, m1, periodID, "Indicators")
	if err != nil {
		t.Fatalf("indicator: %v", err)
	}
	for _, to := range []string{engine.IndicatorInProgress, engine.IndicatorCompleted} {
		if _, err := env.Engine.AdvanceIndicatorReport(env.Ctx, m1, ir.ID, to); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	if _, err := env.Engine.AdvanceIndicatorReport(env.Ctx, coord1, ir.ID, engine.IndicatorEvaluated); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	env.at(13, 0)
	if _, err := env.Engine.CreateIndicatorReport(env.Ctx, m2, periodID, "Other campus"); err != nil {
		t.Fatalf("m2 indicator: %v", err)
	}

	res, err := env.Engine.ListUnifiedReports(env.Ctx, m1, m1.ID)
	if err != nil {
		t.Fatalf("unified: %v", err)
	}
	if len(res.FailedFamilies) != 0 {
		t.Fatalf("unexpected failures %+v", res.FailedFamilies)
	}
	want := []struct {
		id, family, status string
	}{
		{ir.ID, domain.ReportTypeIndicators, domain.UnifiedReviewed},
		{tr.ID, domain.ReportTypeTemplate, domain.UnifiedDraft},
		{pr.ID, domain.ReportTypeWorkPlan, domain.UnifiedSubmitted},
	}
	if len(res.Reports) != len(want) {
		t.Fatalf("expected %d reports, got %+v", len(want), res.Reports)
	}
	for i, w := range want {
		got := res.Reports[i]
		if got.ID != w.id || got.ReportType != w.family || got.Status != w.status {
			t.Fatalf("report %d: want %+v, got %+v", i, w, got)
		}
	}

	scoped, err := env.Engine.ListUnifiedReports(env.Ctx, coord1, "")
	if err != nil || len(scoped.Reports) != 3 {
		t.Fatalf("coordinator sees own campus only: %+v (%v)", scoped.Reports, err)
	}
	all, err := env.Engine.ListUnifiedReports(env.Ctx, env.actor(t, "admin"), "")
	if err != nil || len(all.Reports) != 4 || all.Reports[0].ManagerID != "m2" {
		t.Fatalf("global admin sees everything newest first: %+v (%v)", all.Reports, err)
	}
	hidden, err := env.Engine.ListUnifiedReports(env.Ctx, env.actor(t, "coord2"), "m1")
	if err != nil || len(hidden.Reports) != 0 {
		t.Fatalf("out of scope manager must yield nothing: %+v (%v)", hidden, err)
	}
	unknown, err := env.Engine.ListUnifiedReports(env.Ctx, coord1, "nobody")
	if err != nil || len(unknown.Reports) != 0 {
		t.Fatalf("unknown manager must yield nothing: %+v (%v)", unknown, err)
	}
}

func TestUnifiedReportsFamilyFailure(t *testing.T) {
	env := newTestEnv(t)
	m1 := env.actor(t, "m1")
	tr := env.templateReport(t, m1, 3)
	if _, err := env.Engine.DB.Exec(`DROP TABLE indicator_reports`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	res, err := env.Engine.ListUnifiedReports(env.Ctx, m1, "")
	if err != nil {
		t.Fatalf("a failing family must not fail the listing: %v", err)
	}
	if len(res.FailedFamilies) != 1 || res.FailedFamilies[0].Family != domain.ReportTypeIndicators {
		t.Fatalf("expected indicators to fail, got %+v", res.FailedFamilies)
	}
	if len(res.Reports) != 1 || res.Reports[0].ID != tr.ID {
		t.Fatalf("surviving families should still be listed, got %+v", res.Reports)
	}
}
