package engine

import (
	"context"
	"fmt"
	"strings"

	"workplan/internal/domain"
	"workplan/internal/engine/auth"
	"workplan/internal/events"
	"workplan/internal/repo"
)

// Plan report statuses mirror the plan graph without reopen.
const (
	PlanReportDraft     = "draft"
	PlanReportSubmitted = "submitted"
	PlanReportApproved  = "approved"
	PlanReportRejected  = "rejected"
)

// Indicator report statuses.
const (
	IndicatorPending    = "pending"
	IndicatorInProgress = "in_progress"
	IndicatorCompleted  = "completed"
	IndicatorEvaluated  = "evaluated"
)

// CreatePlanReport opens a progress report against an approved plan.
func (e Engine) CreatePlanReport(ctx context.Context, actor auth.Actor, planID, title string) (domain.PlanReport, error) {
	const op = "plan_report.create"
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.PlanReport{}, err
	}
	defer tx.Rollback()

	p, err := rp.GetPlan(ctx, planID)
	if err != nil {
		return domain.PlanReport{}, fmt.Errorf("plan %s: %w", planID, err)
	}
	if err := requireOwner(actor, p.ManagerID, op); err != nil {
		return domain.PlanReport{}, err
	}
	if p.Status != domain.PlanApproved {
		return domain.PlanReport{}, fmt.Errorf("%w: plan %s is %s, reports need an approved plan", ErrInvalidStateTransition, p.ID, p.Status)
	}
	if strings.TrimSpace(title) == "" {
		title = p.Title
	}
	pr := domain.PlanReport{
		ID:        newID("prep", ""),
		PlanID:    p.ID,
		ManagerID: p.ManagerID,
		PeriodID:  p.PeriodID,
		Title:     title,
		Status:    PlanReportDraft,
		CreatedAt: e.stamp(),
	}
	if err := rp.InsertPlanReport(ctx, pr); err != nil {
		return domain.PlanReport{}, fmt.Errorf("insert plan report: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "plan_report.created", actor.CampusID, events.KindPlanReport, pr.ID, actor.ID,
		events.EventPayload{"plan_id": p.ID}); err != nil {
		return domain.PlanReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PlanReport{}, err
	}
	return pr, nil
}

// SubmitPlanReport is period gated like plan submission.
func (e Engine) SubmitPlanReport(ctx context.Context, actor auth.Actor, reportID string) (domain.PlanReport, error) {
	const op = "plan_report.submit"
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.PlanReport{}, err
	}
	defer tx.Rollback()

	pr, err := rp.GetPlanReport(ctx, reportID)
	if err != nil {
		return domain.PlanReport{}, fmt.Errorf("plan report %s: %w", reportID, err)
	}
	if err := requireOwner(actor, pr.ManagerID, op); err != nil {
		return domain.PlanReport{}, err
	}
	if pr.Status != PlanReportDraft {
		return domain.PlanReport{}, transitionError("plan report", pr.Status, PlanReportSubmitted)
	}
	if err := e.requirePeriodOpen(ctx, rp, op, pr.PeriodID); err != nil {
		return domain.PlanReport{}, err
	}
	now := e.stamp()
	if err := rp.TransitionPlanReport(ctx, pr.ID, PlanReportDraft, PlanReportSubmitted, &now); err != nil {
		return domain.PlanReport{}, statusChanged(err, "plan report", PlanReportDraft, PlanReportSubmitted)
	}
	if err := e.appendEvent(ctx, tx, "plan_report.submitted", actor.CampusID, events.KindPlanReport, pr.ID, actor.ID, events.EventPayload{}); err != nil {
		return domain.PlanReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PlanReport{}, err
	}
	e.Metrics.Transition("plan_report", PlanReportSubmitted)
	pr.Status, pr.SubmittedDate = PlanReportSubmitted, &now
	return pr, nil
}

func (e Engine) ReviewPlanReport(ctx context.Context, actor auth.Actor, reportID, decision string) (domain.PlanReport, error) {
	const op = "plan_report.review"
	if !actor.CanReview() {
		return domain.PlanReport{}, auth.Forbidden(op, "managers cannot review reports")
	}
	if decision != PlanReportApproved && decision != PlanReportRejected {
		return domain.PlanReport{}, invalid(op, "decision", IssueInvalid, fmt.Sprintf("decision must be %s or %s", PlanReportApproved, PlanReportRejected))
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.PlanReport{}, err
	}
	defer tx.Rollback()

	pr, err := rp.GetPlanReport(ctx, reportID)
	if err != nil {
		return domain.PlanReport{}, fmt.Errorf("plan report %s: %w", reportID, err)
	}
	owner, err := managerInScope(ctx, rp, actor, pr.ManagerID, op)
	if err != nil {
		return domain.PlanReport{}, err
	}
	if err := rp.TransitionPlanReport(ctx, pr.ID, PlanReportSubmitted, decision, nil); err != nil {
		return domain.PlanReport{}, statusChanged(err, "plan report", PlanReportSubmitted, decision)
	}
	if err := e.appendEvent(ctx, tx, "plan_report.reviewed", owner.CampusID, events.KindPlanReport, pr.ID, actor.ID,
		events.EventPayload{"decision": decision}); err != nil {
		return domain.PlanReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PlanReport{}, err
	}
	e.Metrics.Transition("plan_report", decision)
	pr.Status = decision
	return pr, nil
}

func (e Engine) CreateIndicatorReport(ctx context.Context, actor auth.Actor, periodID, title string) (domain.IndicatorReport, error) {
	const op = "indicator.create"
	if !actor.IsManager() {
		return domain.IndicatorReport{}, auth.Forbidden(op, "only managers own indicator reports")
	}
	if strings.TrimSpace(title) == "" {
		return domain.IndicatorReport{}, invalid(op, "title", IssueRequired, "title is required")
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.IndicatorReport{}, err
	}
	defer tx.Rollback()

	if _, err := rp.GetPeriod(ctx, periodID); err != nil {
		return domain.IndicatorReport{}, fmt.Errorf("period %s: %w", periodID, err)
	}
	ir := domain.IndicatorReport{
		ID:        newID("ind", ""),
		ManagerID: actor.ID,
		PeriodID:  periodID,
		Title:     title,
		Status:    IndicatorPending,
		CreatedAt: e.stamp(),
	}
	if err := rp.InsertIndicatorReport(ctx, ir); err != nil {
		return domain.IndicatorReport{}, fmt.Errorf("insert indicator report: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "indicator.created", actor.CampusID, events.KindIndicator, ir.ID, actor.ID, events.EventPayload{}); err != nil {
		return domain.IndicatorReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.IndicatorReport{}, err
	}
	return ir, nil
}

// AdvanceIndicatorReport walks pending → in_progress → completed (owner,
// completion period gated) → evaluated (reviewer in scope).
func (e Engine) AdvanceIndicatorReport(ctx context.Context, actor auth.Actor, reportID, to string) (domain.IndicatorReport, error) {
	const op = "indicator.advance"
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.IndicatorReport{}, err
	}
	defer tx.Rollback()

	ir, err := rp.GetIndicatorReport(ctx, reportID)
	if err != nil {
		return domain.IndicatorReport{}, fmt.Errorf("indicator report %s: %w", reportID, err)
	}
	var from string
	switch to {
	case IndicatorInProgress:
		from = IndicatorPending
	case IndicatorCompleted:
		from = IndicatorInProgress
	case IndicatorEvaluated:
		from = IndicatorCompleted
	default:
		return domain.IndicatorReport{}, transitionError("indicator report", ir.Status, to)
	}
	if ir.Status != from {
		return domain.IndicatorReport{}, transitionError("indicator report", ir.Status, to)
	}
	owner, err := managerInScope(ctx, rp, actor, ir.ManagerID, op)
	if err != nil {
		return domain.IndicatorReport{}, err
	}
	if to == IndicatorEvaluated {
		if !actor.CanReview() {
			return domain.IndicatorReport{}, auth.Forbidden(op, "managers cannot evaluate reports")
		}
	} else if err := requireOwner(actor, ir.ManagerID, op); err != nil {
		return domain.IndicatorReport{}, err
	}
	var submitted *string
	if to == IndicatorCompleted {
		if err := e.requirePeriodOpen(ctx, rp, op, ir.PeriodID); err != nil {
			return domain.IndicatorReport{}, err
		}
		now := e.stamp()
		submitted = &now
	}
	if err := rp.TransitionIndicatorReport(ctx, ir.ID, from, to, submitted); err != nil {
		return domain.IndicatorReport{}, statusChanged(err, "indicator report", from, to)
	}
	if err := e.appendEvent(ctx, tx, "indicator."+to, owner.CampusID, events.KindIndicator, ir.ID, actor.ID, events.EventPayload{"from": from}); err != nil {
		return domain.IndicatorReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.IndicatorReport{}, err
	}
	e.Metrics.Transition("indicator_report", to)
	ir.Status = to
	if submitted != nil {
		ir.SubmittedDate = submitted
	}
	return ir, nil
}

// scopeFilter renders the visibility of actor for repo list calls.
func scopeFilter(actor auth.Actor) repo.ScopeFilter {
	return auth.Resolve(actor).Filter()
}
