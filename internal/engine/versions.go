package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"workplan/internal/domain"
	"workplan/internal/engine/auth"
	"workplan/internal/events"
	"workplan/internal/repo"
)

// Template report statuses.
const (
	TemplateReportDraft     = "draft"
	TemplateReportSubmitted = "submitted"
	TemplateReportReviewed  = "reviewed"
)

type TemplateInput struct {
	ID          string
	Name        string
	AxisIDs     []string
	ActionIDs   []string
	ProductIDs  []string
	MaxVersions int
}

// CreateTemplate registers a report template. A zero MaxVersions takes the
// institution default.
func (e Engine) CreateTemplate(ctx context.Context, actor auth.Actor, in TemplateInput) (domain.ReportTemplate, error) {
	const op = "template.create"
	if err := requireAdmin(actor, op); err != nil {
		return domain.ReportTemplate{}, err
	}
	cfg, err := e.config()
	if err != nil {
		return domain.ReportTemplate{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return domain.ReportTemplate{}, invalid(op, "name", IssueRequired, "name is required")
	}
	if in.MaxVersions < 0 {
		return domain.ReportTemplate{}, invalid(op, "max_versions", IssueInvalid, "max_versions must be at least 1")
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.ReportTemplate{}, err
	}
	defer tx.Rollback()

	t := domain.ReportTemplate{
		ID:          newID("tpl", in.ID),
		Name:        in.Name,
		AxisIDs:     in.AxisIDs,
		ActionIDs:   in.ActionIDs,
		ProductIDs:  in.ProductIDs,
		MaxVersions: cfg.MaxVersions(in.MaxVersions),
		CreatedAt:   e.stamp(),
	}
	if err := rp.InsertTemplate(ctx, t); err != nil {
		return domain.ReportTemplate{}, fmt.Errorf("insert template: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "template.created", "", events.KindTemplate, t.ID, actor.ID,
		events.EventPayload{"max_versions": t.MaxVersions}); err != nil {
		return domain.ReportTemplate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ReportTemplate{}, err
	}
	return t, nil
}

func (e Engine) GetTemplate(ctx context.Context, id string) (domain.ReportTemplate, error) {
	t, err := e.Repo.GetTemplate(ctx, id)
	if err != nil {
		return t, fmt.Errorf("template %s: %w", id, err)
	}
	return t, nil
}

func (e Engine) ListTemplates(ctx context.Context) ([]domain.ReportTemplate, error) {
	return e.Repo.ListTemplates(ctx)
}

type TemplateReportInput struct {
	ID         string
	TemplateID string
	PeriodID   string
	Title      string
}

func (e Engine) CreateTemplateReport(ctx context.Context, actor auth.Actor, in TemplateReportInput) (domain.TemplateReport, error) {
	const op = "template_report.create"
	if !actor.IsManager() {
		return domain.TemplateReport{}, auth.Forbidden(op, "only managers own template reports")
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.TemplateReport{}, err
	}
	defer tx.Rollback()

	tpl, err := rp.GetTemplate(ctx, in.TemplateID)
	if err != nil {
		return domain.TemplateReport{}, fmt.Errorf("template %s: %w", in.TemplateID, err)
	}
	if _, err := rp.GetPeriod(ctx, in.PeriodID); err != nil {
		return domain.TemplateReport{}, fmt.Errorf("period %s: %w", in.PeriodID, err)
	}
	title := in.Title
	if strings.TrimSpace(title) == "" {
		title = tpl.Name
	}
	now := e.stamp()
	tr := domain.TemplateReport{
		ID:         newID("trep", in.ID),
		ManagerID:  actor.ID,
		TemplateID: tpl.ID,
		PeriodID:   in.PeriodID,
		Title:      title,
		Status:     TemplateReportDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := rp.InsertTemplateReport(ctx, tr); err != nil {
		return domain.TemplateReport{}, fmt.Errorf("insert template report: %w", err)
	}
	if err := e.appendEvent(ctx, tx, "template_report.created", actor.CampusID, events.KindTemplateReport, tr.ID, actor.ID,
		events.EventPayload{"template_id": tpl.ID, "period_id": tr.PeriodID}); err != nil {
		return domain.TemplateReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TemplateReport{}, err
	}
	return tr, nil
}

func (e Engine) GetTemplateReport(ctx context.Context, actor auth.Actor, id string) (domain.TemplateReport, error) {
	tr, err := e.Repo.GetTemplateReport(ctx, id)
	if err != nil {
		return tr, fmt.Errorf("template report %s: %w", id, err)
	}
	if _, err := managerInScope(ctx, e.Repo, actor, tr.ManagerID, "template_report.get"); err != nil {
		return domain.TemplateReport{}, err
	}
	return tr, nil
}

func (e Engine) ListTemplateReports(ctx context.Context, actor auth.Actor, managerID string) ([]domain.TemplateReport, error) {
	return e.Repo.ListTemplateReports(ctx, scopeFilter(actor), managerID)
}

// NextVersion returns the number the next version of the pair would take.
func (e Engine) NextVersion(ctx context.Context, reportID, templateID string) (int, error) {
	return e.Repo.NextVersionNumber(ctx, reportID, templateID)
}

// ownedOpenReport loads a template report for an owner write. Reviewed
// reports are closed; every write is period gated.
func (e Engine) ownedOpenReport(ctx context.Context, rp repo.Repo, actor auth.Actor, reportID, op string) (domain.TemplateReport, error) {
	tr, err := rp.GetTemplateReport(ctx, reportID)
	if err != nil {
		return domain.TemplateReport{}, fmt.Errorf("template report %s: %w", reportID, err)
	}
	if err := requireOwner(actor, tr.ManagerID, op); err != nil {
		return domain.TemplateReport{}, err
	}
	if tr.Status == TemplateReportReviewed {
		return domain.TemplateReport{}, fmt.Errorf("%w: template report %s already reviewed", ErrInvalidStateTransition, tr.ID)
	}
	if err := e.requirePeriodOpen(ctx, rp, op, tr.PeriodID); err != nil {
		return domain.TemplateReport{}, err
	}
	return tr, nil
}

// beforeVersionInsert, when set, runs in the insert transaction after the
// version number is chosen.
var beforeVersionInsert func(ctx context.Context, rp repo.Repo, v domain.ManagerReportVersion) error

// CreateVersion computes the next version number and inserts it in one
// transaction. A concurrent writer taking the same number surfaces as
// ErrVersionConflict; nothing is written past the template's max_versions.
func (e Engine) CreateVersion(ctx context.Context, actor auth.Actor, reportID string, content map[string]any) (domain.ManagerReportVersion, error) {
	const op = "version.create"
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.ManagerReportVersion{}, err
	}
	defer tx.Rollback()

	tr, err := e.ownedOpenReport(ctx, rp, actor, reportID, op)
	if err != nil {
		return domain.ManagerReportVersion{}, err
	}
	tpl, err := rp.GetTemplate(ctx, tr.TemplateID)
	if err != nil {
		return domain.ManagerReportVersion{}, fmt.Errorf("template %s: %w", tr.TemplateID, err)
	}
	next, err := rp.NextVersionNumber(ctx, tr.ID, tpl.ID)
	if err != nil {
		return domain.ManagerReportVersion{}, err
	}
	if next > tpl.MaxVersions {
		return domain.ManagerReportVersion{}, fmt.Errorf("%w: report %s already has %d of %d versions",
			ErrVersionLimitExceeded, tr.ID, next-1, tpl.MaxVersions)
	}
	now := e.stamp()
	v := domain.ManagerReportVersion{
		ID:            newID("ver", ""),
		ReportID:      tr.ID,
		TemplateID:    tpl.ID,
		VersionNumber: next,
		Content:       content,
		CreatedBy:     actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if hook := beforeVersionInsert; hook != nil {
		if err := hook(ctx, rp, v); err != nil {
			return domain.ManagerReportVersion{}, err
		}
	}
	if err := rp.InsertVersion(ctx, v); err != nil {
		if repo.IsUniqueViolation(err) {
			e.Metrics.VersionConflict()
			return domain.ManagerReportVersion{}, fmt.Errorf("%w: version %d of report %s taken concurrently", ErrVersionConflict, next, tr.ID)
		}
		return domain.ManagerReportVersion{}, fmt.Errorf("insert version: %w", err)
	}
	if tr.Status == TemplateReportSubmitted {
		if err := rp.TransitionTemplateReport(ctx, tr.ID, []string{TemplateReportSubmitted}, TemplateReportDraft, now, nil); err != nil {
			return domain.ManagerReportVersion{}, statusChanged(err, "template report", TemplateReportSubmitted, TemplateReportDraft)
		}
	}
	if err := e.appendEvent(ctx, tx, "version.created", actor.CampusID, events.KindVersion, v.ID, actor.ID,
		events.EventPayload{"report_id": tr.ID, "version_number": next}); err != nil {
		return domain.ManagerReportVersion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ManagerReportVersion{}, err
	}
	return v, nil
}

// CreateVersionWithRetry retries CreateVersion on ErrVersionConflict up to
// the configured number of attempts.
func (e Engine) CreateVersionWithRetry(ctx context.Context, actor auth.Actor, reportID string, content map[string]any) (domain.ManagerReportVersion, error) {
	attempts := 3
	if e.Config != nil {
		attempts = e.Config.ConflictRetries()
	}
	var err error
	for i := 0; i < attempts; i++ {
		var v domain.ManagerReportVersion
		v, err = e.CreateVersion(ctx, actor, reportID, content)
		if !errors.Is(err, ErrVersionConflict) {
			return v, err
		}
		e.log().Debug("version conflict, retrying", zap.String("report_id", reportID), zap.Int("attempt", i+1))
		if ctx.Err() != nil {
			return domain.ManagerReportVersion{}, ctx.Err()
		}
	}
	return domain.ManagerReportVersion{}, err
}

// editableVersion loads an unsubmitted version of an owned, open report.
func (e Engine) editableVersion(ctx context.Context, rp repo.Repo, actor auth.Actor, versionID, op string) (domain.ManagerReportVersion, domain.TemplateReport, error) {
	v, err := rp.GetVersion(ctx, versionID)
	if err != nil {
		return v, domain.TemplateReport{}, fmt.Errorf("version %s: %w", versionID, err)
	}
	tr, err := e.ownedOpenReport(ctx, rp, actor, v.ReportID, op)
	if err != nil {
		return v, tr, err
	}
	if v.SubmittedAt != nil {
		return v, tr, fmt.Errorf("%w: version %d already submitted", ErrInvalidStateTransition, v.VersionNumber)
	}
	return v, tr, nil
}

// UpdateVersion replaces the content of an unsubmitted version.
func (e Engine) UpdateVersion(ctx context.Context, actor auth.Actor, versionID string, content map[string]any) (domain.ManagerReportVersion, error) {
	const op = "version.update"
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.ManagerReportVersion{}, err
	}
	defer tx.Rollback()

	v, _, err := e.editableVersion(ctx, rp, actor, versionID, op)
	if err != nil {
		return domain.ManagerReportVersion{}, err
	}
	now := e.stamp()
	if err := rp.UpdateVersionContent(ctx, v.ID, content, now); err != nil {
		return domain.ManagerReportVersion{}, statusChanged(err, "version", "unsubmitted", "updated")
	}
	if err := e.appendEvent(ctx, tx, "version.updated", actor.CampusID, events.KindVersion, v.ID, actor.ID,
		events.EventPayload{"report_id": v.ReportID}); err != nil {
		return domain.ManagerReportVersion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ManagerReportVersion{}, err
	}
	v.Content, v.UpdatedAt = content, now
	return v, nil
}

// SubmitVersion freezes a version and marks its report submitted.
func (e Engine) SubmitVersion(ctx context.Context, actor auth.Actor, versionID string) (domain.ManagerReportVersion, error) {
	const op = "version.submit"
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.ManagerReportVersion{}, err
	}
	defer tx.Rollback()

	v, tr, err := e.editableVersion(ctx, rp, actor, versionID, op)
	if err != nil {
		return domain.ManagerReportVersion{}, err
	}
	now := e.stamp()
	if err := rp.MarkVersionSubmitted(ctx, v.ID, now); err != nil {
		return domain.ManagerReportVersion{}, statusChanged(err, "version", "unsubmitted", "submitted")
	}
	if err := rp.TransitionTemplateReport(ctx, tr.ID, []string{TemplateReportDraft, TemplateReportSubmitted}, TemplateReportSubmitted, now, &now); err != nil {
		return domain.ManagerReportVersion{}, statusChanged(err, "template report", tr.Status, TemplateReportSubmitted)
	}
	if err := e.appendEvent(ctx, tx, "version.submitted", actor.CampusID, events.KindVersion, v.ID, actor.ID,
		events.EventPayload{"report_id": tr.ID, "version_number": v.VersionNumber}); err != nil {
		return domain.ManagerReportVersion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ManagerReportVersion{}, err
	}
	e.Metrics.Transition("template_report", TemplateReportSubmitted)
	v.SubmittedAt, v.UpdatedAt = &now, now
	return v, nil
}

func (e Engine) ListVersions(ctx context.Context, actor auth.Actor, reportID string) ([]domain.ManagerReportVersion, error) {
	if _, err := e.GetTemplateReport(ctx, actor, reportID); err != nil {
		return nil, err
	}
	return e.Repo.ListVersions(ctx, reportID)
}

// ReviewTemplateReport marks a submitted report reviewed.
func (e Engine) ReviewTemplateReport(ctx context.Context, actor auth.Actor, reportID string) (domain.TemplateReport, error) {
	const op = "template_report.review"
	if !actor.CanReview() {
		return domain.TemplateReport{}, auth.Forbidden(op, "managers cannot review reports")
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.TemplateReport{}, err
	}
	defer tx.Rollback()

	tr, err := rp.GetTemplateReport(ctx, reportID)
	if err != nil {
		return domain.TemplateReport{}, fmt.Errorf("template report %s: %w", reportID, err)
	}
	owner, err := managerInScope(ctx, rp, actor, tr.ManagerID, op)
	if err != nil {
		return domain.TemplateReport{}, err
	}
	if tr.Status != TemplateReportSubmitted {
		return domain.TemplateReport{}, transitionError("template report", tr.Status, TemplateReportReviewed)
	}
	now := e.stamp()
	if err := rp.TransitionTemplateReport(ctx, tr.ID, []string{TemplateReportSubmitted}, TemplateReportReviewed, now, nil); err != nil {
		return domain.TemplateReport{}, statusChanged(err, "template report", TemplateReportSubmitted, TemplateReportReviewed)
	}
	if err := e.appendEvent(ctx, tx, "template_report.reviewed", owner.CampusID, events.KindTemplateReport, tr.ID, actor.ID, events.EventPayload{}); err != nil {
		return domain.TemplateReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TemplateReport{}, err
	}
	e.Metrics.Transition("template_report", TemplateReportReviewed)
	tr.Status, tr.UpdatedAt = TemplateReportReviewed, now
	return tr, nil
}
