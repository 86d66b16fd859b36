package engine

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"workplan/internal/blob"
	"workplan/internal/domain"
	"workplan/internal/engine/auth"
	"workplan/internal/events"
	"workplan/internal/fieldtype"
	"workplan/internal/notify"
	"workplan/internal/repo"
)

// Review decisions.
const (
	DecisionApprove = "approved"
	DecisionReject  = "rejected"
)

// hourTolerance absorbs float rounding in summed assignments. Hours are
// meaningful to the hundredth.
const hourTolerance = 0.005

func exceedsBudget(assigned, available float64) bool {
	return assigned-available > hourTolerance
}

// PlanCreateOptions are parameters for creating a plan.
type PlanCreateOptions struct {
	ID       string
	PlanType string
	PeriodID string
	Title    string
}

// PlanDetail is a plan with its dynamic content and hour budget.
type PlanDetail struct {
	Plan           domain.WorkPlan            `json:"plan"`
	Responses      []domain.PlanFieldResponse `json:"responses"`
	Assignments    []domain.PlanAssignment    `json:"assignments"`
	AssignedHours  float64                    `json:"assigned_hours"`
	AvailableHours float64                    `json:"available_hours"`
}

// PlanResult is a transition outcome plus any post-commit warnings.
type PlanResult struct {
	Plan     domain.WorkPlan `json:"plan"`
	Warnings []string        `json:"warnings,omitempty"`
}

func ensurePlanTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.PlanDraft:
		if newStatus == domain.PlanSubmitted {
			return nil
		}
	case domain.PlanSubmitted:
		if newStatus == domain.PlanApproved || newStatus == domain.PlanRejected {
			return nil
		}
	case domain.PlanApproved, domain.PlanRejected:
		if newStatus == domain.PlanDraft {
			return nil
		}
	}
	return transitionError("plan", oldStatus, newStatus)
}

func (e Engine) CreatePlan(ctx context.Context, actor auth.Actor, opts PlanCreateOptions) (domain.WorkPlan, error) {
	const op = "plan.create"
	if !actor.IsManager() {
		return domain.WorkPlan{}, auth.Forbidden(op, "only managers own plans")
	}
	cfg, err := e.config()
	if err != nil {
		return domain.WorkPlan{}, err
	}
	if _, ok := cfg.PlanTypes[opts.PlanType]; !ok {
		return domain.WorkPlan{}, invalid(op, "plan_type", IssueInvalid, fmt.Sprintf("unknown plan type %q", opts.PlanType))
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.WorkPlan{}, invalid(op, "title", IssueRequired, "title is required")
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.WorkPlan{}, err
	}
	defer tx.Rollback()

	if _, err := rp.GetPeriod(ctx, opts.PeriodID); err != nil {
		return domain.WorkPlan{}, fmt.Errorf("period %s: %w", opts.PeriodID, err)
	}
	now := e.stamp()
	p := domain.WorkPlan{
		ID:        newID("plan", opts.ID),
		ManagerID: actor.ID,
		PlanType:  opts.PlanType,
		PeriodID:  opts.PeriodID,
		Title:     opts.Title,
		Status:    domain.PlanDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := rp.InsertPlan(ctx, p); err != nil {
		return domain.WorkPlan{}, fmt.Errorf("insert plan: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "plan.created", actor.CampusID, events.KindPlan, p.ID, actor.ID,
		events.EventPayload{"plan_type": p.PlanType, "period_id": p.PeriodID}); err != nil {
		return domain.WorkPlan{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkPlan{}, err
	}
	return p, nil
}

func (e Engine) GetPlan(ctx context.Context, actor auth.Actor, id string) (PlanDetail, error) {
	p, err := e.Repo.GetPlan(ctx, id)
	if err != nil {
		return PlanDetail{}, fmt.Errorf("plan %s: %w", id, err)
	}
	owner, err := managerInScope(ctx, e.Repo, actor, p.ManagerID, "plan.get")
	if err != nil {
		return PlanDetail{}, err
	}
	d := PlanDetail{Plan: p, AvailableHours: owner.AvailableHours()}
	if d.Responses, err = e.Repo.ListFieldResponses(ctx, id); err != nil {
		return PlanDetail{}, err
	}
	if d.Assignments, err = e.Repo.ListAssignments(ctx, id); err != nil {
		return PlanDetail{}, err
	}
	for _, a := range d.Assignments {
		d.AssignedHours += a.Hours
	}
	return d, nil
}

type PlanListOptions struct {
	ManagerID string
	Status    string
	PeriodID  string
	Limit     int
	Cursor    string
}

// ListPlans lists plans in scope, newest first. Cursor is "<created_at>|<id>"
// of the last plan of the previous page.
func (e Engine) ListPlans(ctx context.Context, actor auth.Actor, opts PlanListOptions) ([]domain.WorkPlan, error) {
	f := repo.PlanFilters{
		Scope:     scopeFilter(actor),
		ManagerID: opts.ManagerID,
		Status:    opts.Status,
		PeriodID:  opts.PeriodID,
		Limit:     opts.Limit,
	}
	if opts.Cursor != "" {
		ts, id, ok := strings.Cut(opts.Cursor, "|")
		if !ok {
			return nil, invalid("plan.list", "cursor", IssueInvalid, "malformed cursor")
		}
		f.CursorCreatedAt, f.CursorID = ts, id
	}
	return e.Repo.ListPlans(ctx, f)
}

// PlanCursor renders the cursor pointing after p.
func PlanCursor(p domain.WorkPlan) string {
	return p.CreatedAt + "|" + p.ID
}

// editableDraft loads a plan for an owner edit and claims the draft guard.
func (e Engine) editableDraft(ctx context.Context, rp repo.Repo, actor auth.Actor, planID, op string) (domain.WorkPlan, error) {
	p, err := rp.GetPlan(ctx, planID)
	if err != nil {
		return domain.WorkPlan{}, fmt.Errorf("plan %s: %w", planID, err)
	}
	if err := requireOwner(actor, p.ManagerID, op); err != nil {
		return domain.WorkPlan{}, err
	}
	if p.Status != domain.PlanDraft {
		return domain.WorkPlan{}, fmt.Errorf("%w: plan %s is %s, drafts only", ErrInvalidStateTransition, p.ID, p.Status)
	}
	if err := rp.TouchDraftPlan(ctx, p.ID, e.stamp()); err != nil {
		return domain.WorkPlan{}, statusChanged(err, "plan", domain.PlanDraft, domain.PlanDraft)
	}
	return p, nil
}

func (e Engine) SetFieldResponse(ctx context.Context, actor auth.Actor, planID, fieldID string, value fieldtype.Value) (domain.PlanFieldResponse, error) {
	const op = "plan.field"
	cfg, err := e.config()
	if err != nil {
		return domain.PlanFieldResponse{}, err
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.PlanFieldResponse{}, err
	}
	defer tx.Rollback()

	p, err := e.editableDraft(ctx, rp, actor, planID, op)
	if err != nil {
		return domain.PlanFieldResponse{}, err
	}
	field, ok := cfg.PlanTypes[p.PlanType].Field(fieldID)
	if !ok {
		return domain.PlanFieldResponse{}, invalid(op, fieldID, IssueUnknownField, fmt.Sprintf("plan type %s has no field %s", p.PlanType, fieldID))
	}
	if err := value.Check(field.Spec()); err != nil {
		return domain.PlanFieldResponse{}, invalid(op, fieldID, IssueTypeMismatch, err.Error())
	}
	resp := domain.PlanFieldResponse{PlanID: p.ID, FieldID: fieldID, Value: value, UpdatedAt: e.stamp()}
	if err := rp.UpsertFieldResponse(ctx, resp); err != nil {
		return domain.PlanFieldResponse{}, fmt.Errorf("store response: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "plan.field_set", actor.CampusID, events.KindPlan, p.ID, actor.ID,
		events.EventPayload{"field_id": fieldID, "type": string(value.Type)}); err != nil {
		return domain.PlanFieldResponse{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PlanFieldResponse{}, err
	}
	return resp, nil
}

// UploadFieldFile stores r through the blob store and records the resulting
// URL as the response of a file field. The upload happens before the
// transaction; a failing store surfaces as ErrUpstreamUnavailable.
func (e Engine) UploadFieldFile(ctx context.Context, actor auth.Actor, planID, fieldID, fileName, contentType string, r io.Reader) (domain.PlanFieldResponse, error) {
	const op = "plan.upload"
	cfg, err := e.config()
	if err != nil {
		return domain.PlanFieldResponse{}, err
	}
	p, err := e.Repo.GetPlan(ctx, planID)
	if err != nil {
		return domain.PlanFieldResponse{}, fmt.Errorf("plan %s: %w", planID, err)
	}
	if err := requireOwner(actor, p.ManagerID, op); err != nil {
		return domain.PlanFieldResponse{}, err
	}
	if p.Status != domain.PlanDraft {
		return domain.PlanFieldResponse{}, fmt.Errorf("%w: plan %s is %s, drafts only", ErrInvalidStateTransition, p.ID, p.Status)
	}
	field, ok := cfg.PlanTypes[p.PlanType].Field(fieldID)
	if !ok {
		return domain.PlanFieldResponse{}, invalid(op, fieldID, IssueUnknownField, fmt.Sprintf("plan type %s has no field %s", p.PlanType, fieldID))
	}
	if field.Spec().Type != fieldtype.File {
		return domain.PlanFieldResponse{}, invalid(op, fieldID, IssueTypeMismatch, fmt.Sprintf("field %s is %s, not file", fieldID, field.Type))
	}
	if e.Blobs == nil {
		return domain.PlanFieldResponse{}, fmt.Errorf("%w: no blob store configured", ErrUpstreamUnavailable)
	}
	upCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	key := blob.Key(p.ID, fieldID, uuid.NewString()[:8], fileName)
	info, err := e.Blobs.Put(upCtx, key, r, blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"plan_id": p.ID, "field_id": fieldID, "uploaded_by": actor.ID},
	})
	if err != nil {
		e.log().Warn("blob upload failed", zap.String("plan_id", p.ID), zap.String("key", key), zap.Error(err))
		return domain.PlanFieldResponse{}, fmt.Errorf("%w: upload %s: %v", ErrUpstreamUnavailable, key, err)
	}
	url := info.URL
	if url == "" {
		url = key
	}
	return e.SetFieldResponse(ctx, actor, p.ID, fieldID, fieldtype.TextValue(fieldtype.File, url))
}

type AssignmentInput struct {
	AxisID    string
	ActionID  string
	ProductID string
	Hours     float64
}

// SetAssignment writes hours for a strategic product. The budget is checked
// at submission, not here.
func (e Engine) SetAssignment(ctx context.Context, actor auth.Actor, planID string, in AssignmentInput) (domain.PlanAssignment, error) {
	const op = "plan.assign"
	cfg, err := e.config()
	if err != nil {
		return domain.PlanAssignment{}, err
	}
	if in.Hours <= 0 {
		return domain.PlanAssignment{}, invalid(op, "hours", IssueHours, "hours must be positive")
	}
	if !cfg.HasProduct(in.AxisID, in.ActionID, in.ProductID) {
		return domain.PlanAssignment{}, invalid(op, "product_id", IssueInvalid,
			fmt.Sprintf("unknown strategic product %s/%s/%s", in.AxisID, in.ActionID, in.ProductID))
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.PlanAssignment{}, err
	}
	defer tx.Rollback()

	p, err := e.editableDraft(ctx, rp, actor, planID, op)
	if err != nil {
		return domain.PlanAssignment{}, err
	}
	a := domain.PlanAssignment{
		ID:        newID("asg", ""),
		PlanID:    p.ID,
		AxisID:    in.AxisID,
		ActionID:  in.ActionID,
		ProductID: in.ProductID,
		Hours:     in.Hours,
		UpdatedAt: e.stamp(),
	}
	if err := rp.UpsertAssignment(ctx, a); err != nil {
		return domain.PlanAssignment{}, fmt.Errorf("store assignment: %w", err)
	}
	stored, err := rp.ListAssignments(ctx, p.ID)
	if err != nil {
		return domain.PlanAssignment{}, err
	}
	for _, s := range stored {
		if s.AxisID == a.AxisID && s.ActionID == a.ActionID && s.ProductID == a.ProductID {
			a = s
		}
	}
	if err := e.appendEvent(ctx, tx, "plan.assignment_set", actor.CampusID, events.KindPlan, p.ID, actor.ID,
		events.EventPayload{"assignment_id": a.ID, "product_id": a.ProductID, "hours": a.Hours}); err != nil {
		return domain.PlanAssignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PlanAssignment{}, err
	}
	return a, nil
}

func (e Engine) RemoveAssignment(ctx context.Context, actor auth.Actor, planID, assignmentID string) error {
	const op = "plan.unassign"
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.editableDraft(ctx, rp, actor, planID, op)
	if err != nil {
		return err
	}
	if err := rp.DeleteAssignment(ctx, p.ID, assignmentID); err != nil {
		return fmt.Errorf("assignment %s: %w", assignmentID, err)
	}
	if err := e.appendEvent(ctx, tx, "plan.assignment_removed", actor.CampusID, events.KindPlan, p.ID, actor.ID,
		events.EventPayload{"assignment_id": assignmentID}); err != nil {
		return err
	}
	return tx.Commit()
}

// SubmitPlan moves a draft to submitted once every guard passes. Guards are
// evaluated inside the transaction; the status change itself is conditional
// so that only one of several concurrent submits wins.
func (e Engine) SubmitPlan(ctx context.Context, actor auth.Actor, planID string) (PlanResult, error) {
	const op = "plan.submit"
	cfg, err := e.config()
	if err != nil {
		return PlanResult{}, err
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return PlanResult{}, err
	}
	defer tx.Rollback()

	p, err := rp.GetPlan(ctx, planID)
	if err != nil {
		return PlanResult{}, fmt.Errorf("plan %s: %w", planID, err)
	}
	if err := requireOwner(actor, p.ManagerID, op); err != nil {
		return PlanResult{}, err
	}
	if err := ensurePlanTransition(p.Status, domain.PlanSubmitted); err != nil {
		return PlanResult{}, err
	}
	if err := e.requirePeriodOpen(ctx, rp, op, p.PeriodID); err != nil {
		return PlanResult{}, err
	}
	owner, err := rp.GetActor(ctx, p.ManagerID)
	if err != nil {
		return PlanResult{}, err
	}
	pt := cfg.PlanTypes[p.PlanType]
	responses, err := rp.ListFieldResponses(ctx, p.ID)
	if err != nil {
		return PlanResult{}, err
	}
	answered := map[string]bool{}
	for _, r := range responses {
		if !r.Value.Empty() {
			answered[r.FieldID] = true
		}
	}
	var issues []Issue
	for _, f := range pt.Fields {
		if f.Required && !answered[f.ID] {
			issues = append(issues, Issue{Field: f.ID, Kind: IssueRequired, Message: "required field not answered"})
		}
	}
	assigned, err := rp.SumAssignedHours(ctx, p.ID)
	if err != nil {
		return PlanResult{}, err
	}
	if available := owner.AvailableHours(); exceedsBudget(assigned, available) {
		issues = append(issues, Issue{Field: "assignments", Kind: IssueHours,
			Message: fmt.Sprintf("assigned hours %.2f exceed available hours %.2f", assigned, available)})
	}
	if !pt.Hours.WithinBounds(owner.WeeklyHours) {
		issues = append(issues, Issue{Field: "weekly_hours", Kind: IssueHours,
			Message: fmt.Sprintf("weekly hours %.2f outside [%.2f, %.2f] for plan type %s", owner.WeeklyHours, pt.Hours.MinWeekly, pt.Hours.MaxWeekly, p.PlanType)})
	}
	if len(issues) > 0 {
		return PlanResult{}, &ValidationError{Op: op, Issues: issues}
	}

	now := e.stamp()
	if err := rp.TransitionPlan(ctx, p.ID, repo.PlanTransition{
		From:          []string{domain.PlanDraft},
		To:            domain.PlanSubmitted,
		UpdatedAt:     now,
		SubmittedDate: &now,
	}); err != nil {
		return PlanResult{}, statusChanged(err, "plan", domain.PlanDraft, domain.PlanSubmitted)
	}
	if err := e.appendEvent(ctx, tx, "plan.submitted", owner.CampusID, events.KindPlan, p.ID, actor.ID,
		events.EventPayload{"assigned_hours": assigned}); err != nil {
		return PlanResult{}, err
	}
	reviewers, err := rp.ListReviewers(ctx, owner.CampusID)
	if err != nil {
		return PlanResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return PlanResult{}, err
	}
	e.Metrics.Transition("plan", domain.PlanSubmitted)
	e.log().Debug("plan submitted", zap.String("plan_id", p.ID), zap.String("manager_id", p.ManagerID))

	p.Status, p.SubmittedDate, p.UpdatedAt = domain.PlanSubmitted, &now, now
	res := PlanResult{Plan: p}
	res.Warnings = e.sendNotification(ctx, notify.Request{
		TemplateType: templateName(cfg.Notifications.Templates.PlanSubmitted, "plan_submitted"),
		Recipients:   emails(reviewers),
		Variables:    map[string]any{"plan_id": p.ID, "title": p.Title, "manager": owner.Name},
	})
	return res, nil
}

// ReviewPlan approves or rejects a submitted plan. Review is not period gated.
func (e Engine) ReviewPlan(ctx context.Context, actor auth.Actor, planID, decision, comments string) (PlanResult, error) {
	const op = "plan.review"
	if !actor.CanReview() {
		return PlanResult{}, auth.Forbidden(op, "managers cannot review plans")
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return PlanResult{}, invalid(op, "decision", IssueInvalid, fmt.Sprintf("decision must be %s or %s", DecisionApprove, DecisionReject))
	}
	cfg, err := e.config()
	if err != nil {
		return PlanResult{}, err
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return PlanResult{}, err
	}
	defer tx.Rollback()

	p, err := rp.GetPlan(ctx, planID)
	if err != nil {
		return PlanResult{}, fmt.Errorf("plan %s: %w", planID, err)
	}
	owner, err := managerInScope(ctx, rp, actor, p.ManagerID, op)
	if err != nil {
		return PlanResult{}, err
	}
	if err := ensurePlanTransition(p.Status, decision); err != nil {
		return PlanResult{}, err
	}
	now := e.stamp()
	by := actor.ID
	t := repo.PlanTransition{
		From:         []string{domain.PlanSubmitted},
		To:           decision,
		UpdatedAt:    now,
		ApprovedDate: &now,
		ApprovedBy:   &by,
	}
	if comments != "" {
		t.ApprovalComments = &comments
	}
	if err := rp.TransitionPlan(ctx, p.ID, t); err != nil {
		return PlanResult{}, statusChanged(err, "plan", domain.PlanSubmitted, decision)
	}
	if err := rp.InsertPlanReview(ctx, domain.PlanReview{
		ID:         newID("rev", ""),
		PlanID:     p.ID,
		Decision:   decision,
		ReviewerID: actor.ID,
		Comments:   comments,
		ReviewedAt: now,
	}); err != nil {
		return PlanResult{}, fmt.Errorf("record review: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "plan.reviewed", owner.CampusID, events.KindPlan, p.ID, actor.ID,
		events.EventPayload{"decision": decision}); err != nil {
		return PlanResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return PlanResult{}, err
	}
	e.Metrics.Transition("plan", decision)

	p.Status, p.UpdatedAt, p.ApprovedDate, p.ApprovedBy = decision, now, &now, &by
	p.ApprovalComments = t.ApprovalComments
	res := PlanResult{Plan: p}
	res.Warnings = e.sendNotification(ctx, notify.Request{
		TemplateType: templateName(cfg.Notifications.Templates.PlanReviewed, "plan_reviewed"),
		Recipients:   emails([]domain.Actor{owner}),
		Variables:    map[string]any{"plan_id": p.ID, "title": p.Title, "decision": decision, "comments": comments},
	})
	return res, nil
}

// ReopenPlan returns a decided plan to draft. Approval fields are cleared;
// the decision stays in the review history and the event log.
func (e Engine) ReopenPlan(ctx context.Context, actor auth.Actor, planID string) (domain.WorkPlan, error) {
	const op = "plan.reopen"
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.WorkPlan{}, err
	}
	defer tx.Rollback()

	p, err := rp.GetPlan(ctx, planID)
	if err != nil {
		return domain.WorkPlan{}, fmt.Errorf("plan %s: %w", planID, err)
	}
	if err := requireOwner(actor, p.ManagerID, op); err != nil {
		return domain.WorkPlan{}, err
	}
	if err := ensurePlanTransition(p.Status, domain.PlanDraft); err != nil {
		return domain.WorkPlan{}, err
	}
	now := e.stamp()
	if err := rp.TransitionPlan(ctx, p.ID, repo.PlanTransition{
		From:          []string{domain.PlanApproved, domain.PlanRejected},
		To:            domain.PlanDraft,
		UpdatedAt:     now,
		ClearApproval: true,
	}); err != nil {
		return domain.WorkPlan{}, statusChanged(err, "plan", p.Status, domain.PlanDraft)
	}
	if err := e.appendEvent(ctx, tx, "plan.reopened", actor.CampusID, events.KindPlan, p.ID, actor.ID,
		events.EventPayload{"from": p.Status}); err != nil {
		return domain.WorkPlan{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkPlan{}, err
	}
	e.Metrics.Transition("plan", domain.PlanDraft)
	p.Status, p.UpdatedAt = domain.PlanDraft, now
	p.ApprovedDate, p.ApprovedBy, p.ApprovalComments = nil, nil, nil
	return p, nil
}

// DeletePlan removes a draft that was never submitted.
func (e Engine) DeletePlan(ctx context.Context, actor auth.Actor, planID string) error {
	const op = "plan.delete"
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := rp.GetPlan(ctx, planID)
	if err != nil {
		return fmt.Errorf("plan %s: %w", planID, err)
	}
	if err := requireOwner(actor, p.ManagerID, op); err != nil {
		return err
	}
	if p.Status != domain.PlanDraft || p.SubmittedDate != nil {
		return fmt.Errorf("%w: plan %s can no longer be deleted", ErrInvalidStateTransition, p.ID)
	}
	if err := rp.DeleteDraftPlan(ctx, p.ID); err != nil {
		return statusChanged(err, "plan", domain.PlanDraft, "deleted")
	}
	if err := e.appendEvent(ctx, tx, "plan.deleted", actor.CampusID, events.KindPlan, p.ID, actor.ID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListPlanReviews(ctx context.Context, actor auth.Actor, planID string) ([]domain.PlanReview, error) {
	p, err := e.Repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", planID, err)
	}
	if _, err := managerInScope(ctx, e.Repo, actor, p.ManagerID, "plan.reviews"); err != nil {
		return nil, err
	}
	return e.Repo.ListPlanReviews(ctx, planID)
}
