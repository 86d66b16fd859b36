package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"workplan/internal/domain"
	"workplan/internal/fieldtype"
)

const planColumns = `id,manager_id,plan_type,period_id,title,status,submitted_date,approved_date,approved_by,approval_comments,created_at,updated_at`

func scanPlan(scan func(...any) error) (domain.WorkPlan, error) {
	var p domain.WorkPlan
	var submitted, approved, approvedBy, comments sql.NullString
	err := scan(&p.ID, &p.ManagerID, &p.PlanType, &p.PeriodID, &p.Title, &p.Status, &submitted, &approved, &approvedBy, &comments, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.SubmittedDate = stringPtr(submitted)
	p.ApprovedDate = stringPtr(approved)
	p.ApprovedBy = stringPtr(approvedBy)
	p.ApprovalComments = stringPtr(comments)
	return p, nil
}

func (r Repo) InsertPlan(ctx context.Context, p domain.WorkPlan) error {
	_, err := r.exec(ctx, `INSERT INTO work_plans(`+planColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ManagerID, p.PlanType, p.PeriodID, p.Title, p.Status, nullableStringPtr(p.SubmittedDate), nullableStringPtr(p.ApprovedDate),
		nullableStringPtr(p.ApprovedBy), nullableStringPtr(p.ApprovalComments), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetPlan(ctx context.Context, id string) (domain.WorkPlan, error) {
	p, err := scanPlan(r.queryRow(ctx, `SELECT `+planColumns+` FROM work_plans WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

type PlanFilters struct {
	Scope           ScopeFilter
	ManagerID       string
	Status          string
	PeriodID        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListPlans returns plans newest first with keyset pagination.
func (r Repo) ListPlans(ctx context.Context, f PlanFilters) ([]domain.WorkPlan, error) {
	clause, args, ok := f.Scope.managerClause("manager_id")
	if !ok {
		return nil, nil
	}
	clauses := []string{clause}
	if f.ManagerID != "" {
		clauses = append(clauses, "manager_id=?")
		args = append(args, f.ManagerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.PeriodID != "" {
		clauses = append(clauses, "period_id=?")
		args = append(args, f.PeriodID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + planColumns + ` FROM work_plans WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkPlan
	for rows.Next() {
		p, err := scanPlan(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// PlanTransition is a conditional status change. Nil pointer fields leave the
// column untouched; Clear* fields null it.
type PlanTransition struct {
	From             []string
	To               string
	UpdatedAt        string
	SubmittedDate    *string
	ApprovedDate     *string
	ApprovedBy       *string
	ApprovalComments *string
	ClearApproval    bool
}

// TransitionPlan applies t only while the plan is in one of t.From. It returns
// ErrStatusChanged when no row matched.
func (r Repo) TransitionPlan(ctx context.Context, id string, t PlanTransition) error {
	sets := []string{"status=?", "updated_at=?"}
	args := []any{t.To, t.UpdatedAt}
	if t.SubmittedDate != nil {
		sets = append(sets, "submitted_date=?")
		args = append(args, *t.SubmittedDate)
	}
	if t.ClearApproval {
		sets = append(sets, "approved_date=NULL", "approved_by=NULL", "approval_comments=NULL")
	} else {
		if t.ApprovedDate != nil {
			sets = append(sets, "approved_date=?")
			args = append(args, *t.ApprovedDate)
		}
		if t.ApprovedBy != nil {
			sets = append(sets, "approved_by=?")
			args = append(args, *t.ApprovedBy)
		}
		if t.ApprovalComments != nil {
			sets = append(sets, "approval_comments=?")
			args = append(args, nullableStringPtr(t.ApprovalComments))
		}
	}
	args = append(args, id)
	args = append(args, stringArgs(t.From)...)
	query := fmt.Sprintf(`UPDATE work_plans SET %s WHERE id=? AND status IN (%s)`, strings.Join(sets, ","), placeholders(len(t.From)))
	res, err := r.exec(ctx, query, args...)
	return affectedOrErr(res, err, ErrStatusChanged)
}

// TouchDraftPlan bumps updated_at while the plan is still a draft. It is the
// guard every draft edit goes through.
func (r Repo) TouchDraftPlan(ctx context.Context, id, updatedAt string) error {
	res, err := r.exec(ctx, `UPDATE work_plans SET updated_at=? WHERE id=? AND status=?`, updatedAt, id, domain.PlanDraft)
	return affectedOrErr(res, err, ErrStatusChanged)
}

// DeleteDraftPlan removes a draft that was never submitted.
func (r Repo) DeleteDraftPlan(ctx context.Context, id string) error {
	res, err := r.exec(ctx, `DELETE FROM work_plans WHERE id=? AND status=? AND submitted_date IS NULL`, id, domain.PlanDraft)
	return affectedOrErr(res, err, ErrStatusChanged)
}

func (r Repo) UpsertFieldResponse(ctx context.Context, resp domain.PlanFieldResponse) error {
	raw, err := resp.Value.Encode()
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, `INSERT INTO plan_field_responses(plan_id,field_id,value_json,updated_at) VALUES (?,?,?,?)
ON CONFLICT(plan_id,field_id) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`,
		resp.PlanID, resp.FieldID, raw, resp.UpdatedAt)
	return err
}

func (r Repo) ListFieldResponses(ctx context.Context, planID string) ([]domain.PlanFieldResponse, error) {
	rows, err := r.query(ctx, `SELECT plan_id,field_id,value_json,updated_at FROM plan_field_responses WHERE plan_id=? ORDER BY field_id`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlanFieldResponse
	for rows.Next() {
		var resp domain.PlanFieldResponse
		var raw string
		if err := rows.Scan(&resp.PlanID, &resp.FieldID, &raw, &resp.UpdatedAt); err != nil {
			return nil, err
		}
		if resp.Value, err = fieldtype.Decode(raw); err != nil {
			return nil, fmt.Errorf("plan %s field %s: %w", planID, resp.FieldID, err)
		}
		res = append(res, resp)
	}
	return res, rows.Err()
}

// UpsertAssignment writes hours for a (plan, axis, action, product) triple.
func (r Repo) UpsertAssignment(ctx context.Context, a domain.PlanAssignment) error {
	_, err := r.exec(ctx, `INSERT INTO plan_assignments(id,plan_id,axis_id,action_id,product_id,hours,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(plan_id,axis_id,action_id,product_id) DO UPDATE SET hours=excluded.hours, updated_at=excluded.updated_at`,
		a.ID, a.PlanID, a.AxisID, a.ActionID, a.ProductID, a.Hours, a.UpdatedAt)
	return err
}

func (r Repo) DeleteAssignment(ctx context.Context, planID, assignmentID string) error {
	res, err := r.exec(ctx, `DELETE FROM plan_assignments WHERE plan_id=? AND id=?`, planID, assignmentID)
	return affectedOrErr(res, err, ErrNotFound)
}

func (r Repo) ListAssignments(ctx context.Context, planID string) ([]domain.PlanAssignment, error) {
	rows, err := r.query(ctx, `SELECT id,plan_id,axis_id,action_id,product_id,hours,updated_at FROM plan_assignments WHERE plan_id=? ORDER BY axis_id, action_id, product_id`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlanAssignment
	for rows.Next() {
		var a domain.PlanAssignment
		if err := rows.Scan(&a.ID, &a.PlanID, &a.AxisID, &a.ActionID, &a.ProductID, &a.Hours, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// SumAssignedHours totals the hours assigned on a plan.
func (r Repo) SumAssignedHours(ctx context.Context, planID string) (float64, error) {
	var total float64
	err := r.queryRow(ctx, `SELECT COALESCE(SUM(hours),0) FROM plan_assignments WHERE plan_id=?`, planID).Scan(&total)
	return total, err
}

func (r Repo) InsertPlanReview(ctx context.Context, rv domain.PlanReview) error {
	_, err := r.exec(ctx, `INSERT INTO plan_reviews(id,plan_id,decision,reviewer_id,comments,reviewed_at) VALUES (?,?,?,?,?,?)`,
		rv.ID, rv.PlanID, rv.Decision, rv.ReviewerID, nullable(rv.Comments), rv.ReviewedAt)
	return err
}

func (r Repo) ListPlanReviews(ctx context.Context, planID string) ([]domain.PlanReview, error) {
	rows, err := r.query(ctx, `SELECT id,plan_id,decision,reviewer_id,COALESCE(comments,''),reviewed_at FROM plan_reviews WHERE plan_id=? ORDER BY reviewed_at, id`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlanReview
	for rows.Next() {
		var rv domain.PlanReview
		if err := rows.Scan(&rv.ID, &rv.PlanID, &rv.Decision, &rv.ReviewerID, &rv.Comments, &rv.ReviewedAt); err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}

const planReportColumns = `id,plan_id,manager_id,period_id,title,status,submitted_date,created_at`

func scanPlanReport(scan func(...any) error) (domain.PlanReport, error) {
	var pr domain.PlanReport
	var submitted sql.NullString
	err := scan(&pr.ID, &pr.PlanID, &pr.ManagerID, &pr.PeriodID, &pr.Title, &pr.Status, &submitted, &pr.CreatedAt)
	pr.SubmittedDate = stringPtr(submitted)
	return pr, err
}

func (r Repo) InsertPlanReport(ctx context.Context, pr domain.PlanReport) error {
	_, err := r.exec(ctx, `INSERT INTO plan_reports(`+planReportColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		pr.ID, pr.PlanID, pr.ManagerID, pr.PeriodID, pr.Title, pr.Status, nullableStringPtr(pr.SubmittedDate), pr.CreatedAt)
	return err
}

func (r Repo) GetPlanReport(ctx context.Context, id string) (domain.PlanReport, error) {
	pr, err := scanPlanReport(r.queryRow(ctx, `SELECT `+planReportColumns+` FROM plan_reports WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return pr, ErrNotFound
	}
	return pr, err
}

// TransitionPlanReport moves a plan report from one status to another.
func (r Repo) TransitionPlanReport(ctx context.Context, id, from, to string, submittedDate *string) error {
	query := `UPDATE plan_reports SET status=? WHERE id=? AND status=?`
	args := []any{to, id, from}
	if submittedDate != nil {
		query = `UPDATE plan_reports SET status=?, submitted_date=? WHERE id=? AND status=?`
		args = []any{to, *submittedDate, id, from}
	}
	res, err := r.exec(ctx, query, args...)
	return affectedOrErr(res, err, ErrStatusChanged)
}

// ListPlanReports lists work-plan-derived reports for one manager.
func (r Repo) ListPlanReports(ctx context.Context, scope ScopeFilter, managerID string) ([]domain.PlanReport, error) {
	clause, args, ok := scope.managerClause("manager_id")
	if !ok {
		return nil, nil
	}
	query := `SELECT ` + planReportColumns + ` FROM plan_reports WHERE ` + clause
	if managerID != "" {
		query += ` AND manager_id=?`
		args = append(args, managerID)
	}
	rows, err := r.query(ctx, query+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlanReport
	for rows.Next() {
		pr, err := scanPlanReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, pr)
	}
	return res, rows.Err()
}

const indicatorColumns = `id,manager_id,period_id,title,status,submitted_date,created_at`

func scanIndicator(scan func(...any) error) (domain.IndicatorReport, error) {
	var ir domain.IndicatorReport
	var submitted sql.NullString
	err := scan(&ir.ID, &ir.ManagerID, &ir.PeriodID, &ir.Title, &ir.Status, &submitted, &ir.CreatedAt)
	ir.SubmittedDate = stringPtr(submitted)
	return ir, err
}

func (r Repo) InsertIndicatorReport(ctx context.Context, ir domain.IndicatorReport) error {
	_, err := r.exec(ctx, `INSERT INTO indicator_reports(`+indicatorColumns+`) VALUES (?,?,?,?,?,?,?)`,
		ir.ID, ir.ManagerID, ir.PeriodID, ir.Title, ir.Status, nullableStringPtr(ir.SubmittedDate), ir.CreatedAt)
	return err
}

func (r Repo) GetIndicatorReport(ctx context.Context, id string) (domain.IndicatorReport, error) {
	ir, err := scanIndicator(r.queryRow(ctx, `SELECT `+indicatorColumns+` FROM indicator_reports WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return ir, ErrNotFound
	}
	return ir, err
}

func (r Repo) TransitionIndicatorReport(ctx context.Context, id, from, to string, submittedDate *string) error {
	query := `UPDATE indicator_reports SET status=? WHERE id=? AND status=?`
	args := []any{to, id, from}
	if submittedDate != nil {
		query = `UPDATE indicator_reports SET status=?, submitted_date=? WHERE id=? AND status=?`
		args = []any{to, *submittedDate, id, from}
	}
	res, err := r.exec(ctx, query, args...)
	return affectedOrErr(res, err, ErrStatusChanged)
}

func (r Repo) ListIndicatorReports(ctx context.Context, scope ScopeFilter, managerID string) ([]domain.IndicatorReport, error) {
	clause, args, ok := scope.managerClause("manager_id")
	if !ok {
		return nil, nil
	}
	query := `SELECT ` + indicatorColumns + ` FROM indicator_reports WHERE ` + clause
	if managerID != "" {
		query += ` AND manager_id=?`
		args = append(args, managerID)
	}
	rows, err := r.query(ctx, query+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IndicatorReport
	for rows.Next() {
		ir, err := scanIndicator(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ir)
	}
	return res, rows.Err()
}
