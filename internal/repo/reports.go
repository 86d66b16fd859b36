package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"workplan/internal/domain"
)

func scanPeriod(scan func(...any) error) (domain.ReportPeriod, error) {
	var p domain.ReportPeriod
	var active int
	err := scan(&p.ID, &p.Name, &p.StartDate, &p.EndDate, &active, &p.CreatedAt)
	p.IsActive = active != 0
	return p, err
}

func (r Repo) InsertPeriod(ctx context.Context, p domain.ReportPeriod) error {
	_, err := r.exec(ctx, `INSERT INTO report_periods(id,name,start_date,end_date,is_active,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, p.StartDate, p.EndDate, boolInt(p.IsActive), p.CreatedAt)
	return err
}

func (r Repo) GetPeriod(ctx context.Context, id string) (domain.ReportPeriod, error) {
	p, err := scanPeriod(r.queryRow(ctx, `SELECT id,name,start_date,end_date,is_active,created_at FROM report_periods WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListPeriods(ctx context.Context, activeOnly bool) ([]domain.ReportPeriod, error) {
	query := `SELECT id,name,start_date,end_date,is_active,created_at FROM report_periods`
	if activeOnly {
		query += ` WHERE is_active=1`
	}
	rows, err := r.query(ctx, query+` ORDER BY start_date DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReportPeriod
	for rows.Next() {
		p, err := scanPeriod(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) SetPeriodActive(ctx context.Context, id string, active bool) error {
	res, err := r.exec(ctx, `UPDATE report_periods SET is_active=? WHERE id=?`, boolInt(active), id)
	return affectedOrErr(res, err, ErrNotFound)
}

// PeriodActive reports whether the period accepts writes at now: active and
// now inside [start_date, end_date].
func (r Repo) PeriodActive(ctx context.Context, periodID string, now time.Time) (bool, error) {
	ts := domain.FormatTime(now)
	var n int
	err := r.queryRow(ctx, `SELECT count(*) FROM report_periods WHERE id=? AND is_active=1 AND start_date<=? AND end_date>=?`, periodID, ts, ts).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const templateColumns = `id,name,axis_ids_json,action_ids_json,product_ids_json,max_versions,created_at`

func scanTemplate(scan func(...any) error) (domain.ReportTemplate, error) {
	var t domain.ReportTemplate
	var axes, actions, products string
	err := scan(&t.ID, &t.Name, &axes, &actions, &products, &t.MaxVersions, &t.CreatedAt)
	t.AxisIDs, t.ActionIDs, t.ProductIDs = decodeList(axes), decodeList(actions), decodeList(products)
	return t, err
}

func (r Repo) InsertTemplate(ctx context.Context, t domain.ReportTemplate) error {
	_, err := r.exec(ctx, `INSERT INTO report_templates(`+templateColumns+`) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.Name, encodeList(t.AxisIDs), encodeList(t.ActionIDs), encodeList(t.ProductIDs), t.MaxVersions, t.CreatedAt)
	return err
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.ReportTemplate, error) {
	t, err := scanTemplate(r.queryRow(ctx, `SELECT `+templateColumns+` FROM report_templates WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTemplates(ctx context.Context) ([]domain.ReportTemplate, error) {
	rows, err := r.query(ctx, `SELECT `+templateColumns+` FROM report_templates ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReportTemplate
	for rows.Next() {
		t, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

const templateReportColumns = `id,manager_id,template_id,period_id,title,status,submitted_date,created_at,updated_at`

func scanTemplateReport(scan func(...any) error) (domain.TemplateReport, error) {
	var tr domain.TemplateReport
	var submitted sql.NullString
	err := scan(&tr.ID, &tr.ManagerID, &tr.TemplateID, &tr.PeriodID, &tr.Title, &tr.Status, &submitted, &tr.CreatedAt, &tr.UpdatedAt)
	tr.SubmittedDate = stringPtr(submitted)
	return tr, err
}

func (r Repo) InsertTemplateReport(ctx context.Context, tr domain.TemplateReport) error {
	_, err := r.exec(ctx, `INSERT INTO template_reports(`+templateReportColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		tr.ID, tr.ManagerID, tr.TemplateID, tr.PeriodID, tr.Title, tr.Status, nullableStringPtr(tr.SubmittedDate), tr.CreatedAt, tr.UpdatedAt)
	return err
}

func (r Repo) GetTemplateReport(ctx context.Context, id string) (domain.TemplateReport, error) {
	tr, err := scanTemplateReport(r.queryRow(ctx, `SELECT `+templateReportColumns+` FROM template_reports WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return tr, ErrNotFound
	}
	return tr, err
}

// TransitionTemplateReport moves a report between statuses; from lists the
// accepted source statuses.
func (r Repo) TransitionTemplateReport(ctx context.Context, id string, from []string, to, updatedAt string, submittedDate *string) error {
	sets := "status=?, updated_at=?"
	args := []any{to, updatedAt}
	if submittedDate != nil {
		sets += ", submitted_date=?"
		args = append(args, *submittedDate)
	}
	args = append(args, id)
	args = append(args, stringArgs(from)...)
	res, err := r.exec(ctx, `UPDATE template_reports SET `+sets+` WHERE id=? AND status IN (`+placeholders(len(from))+`)`, args...)
	return affectedOrErr(res, err, ErrStatusChanged)
}

func (r Repo) ListTemplateReports(ctx context.Context, scope ScopeFilter, managerID string) ([]domain.TemplateReport, error) {
	clause, args, ok := scope.managerClause("manager_id")
	if !ok {
		return nil, nil
	}
	clauses := []string{clause}
	if managerID != "" {
		clauses = append(clauses, "manager_id=?")
		args = append(args, managerID)
	}
	rows, err := r.query(ctx, `SELECT `+templateReportColumns+` FROM template_reports WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TemplateReport
	for rows.Next() {
		tr, err := scanTemplateReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, tr)
	}
	return res, rows.Err()
}

// NextVersionNumber returns max(version_number)+1 for the pair, or 1.
func (r Repo) NextVersionNumber(ctx context.Context, reportID, templateID string) (int, error) {
	var max int
	err := r.queryRow(ctx, `SELECT COALESCE(MAX(version_number),0) FROM manager_report_versions WHERE report_id=? AND template_id=?`, reportID, templateID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// CountVersions returns how many versions exist for the pair.
func (r Repo) CountVersions(ctx context.Context, reportID, templateID string) (int, error) {
	var n int
	err := r.queryRow(ctx, `SELECT count(*) FROM manager_report_versions WHERE report_id=? AND template_id=?`, reportID, templateID).Scan(&n)
	return n, err
}

const versionColumns = `id,report_id,template_id,version_number,content_json,submitted_at,created_by,created_at,updated_at`

func scanVersion(scan func(...any) error) (domain.ManagerReportVersion, error) {
	var v domain.ManagerReportVersion
	var content string
	var submitted sql.NullString
	if err := scan(&v.ID, &v.ReportID, &v.TemplateID, &v.VersionNumber, &content, &submitted, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return v, err
	}
	v.SubmittedAt = stringPtr(submitted)
	if content != "" {
		if err := json.Unmarshal([]byte(content), &v.Content); err != nil {
			return v, err
		}
	}
	return v, nil
}

func encodeContent(content map[string]any) (string, error) {
	if content == nil {
		return "{}", nil
	}
	b, err := json.Marshal(content)
	return string(b), err
}

// InsertVersion relies on the (report, template, version) unique index; a
// collision surfaces as a unique violation (see IsUniqueViolation).
func (r Repo) InsertVersion(ctx context.Context, v domain.ManagerReportVersion) error {
	content, err := encodeContent(v.Content)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, `INSERT INTO manager_report_versions(`+versionColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		v.ID, v.ReportID, v.TemplateID, v.VersionNumber, content, nullableStringPtr(v.SubmittedAt), v.CreatedBy, v.CreatedAt, v.UpdatedAt)
	return err
}

func (r Repo) GetVersion(ctx context.Context, id string) (domain.ManagerReportVersion, error) {
	v, err := scanVersion(r.queryRow(ctx, `SELECT `+versionColumns+` FROM manager_report_versions WHERE id=?`, id).Scan)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	return v, err
}

func (r Repo) ListVersions(ctx context.Context, reportID string) ([]domain.ManagerReportVersion, error) {
	rows, err := r.query(ctx, `SELECT `+versionColumns+` FROM manager_report_versions WHERE report_id=? ORDER BY template_id, version_number`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ManagerReportVersion
	for rows.Next() {
		v, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// UpdateVersionContent edits a version that has not been submitted.
func (r Repo) UpdateVersionContent(ctx context.Context, id string, content map[string]any, updatedAt string) error {
	raw, err := encodeContent(content)
	if err != nil {
		return err
	}
	res, err := r.exec(ctx, `UPDATE manager_report_versions SET content_json=?, updated_at=? WHERE id=? AND submitted_at IS NULL`, raw, updatedAt, id)
	return affectedOrErr(res, err, ErrStatusChanged)
}

// MarkVersionSubmitted stamps submitted_at once.
func (r Repo) MarkVersionSubmitted(ctx context.Context, id, submittedAt string) error {
	res, err := r.exec(ctx, `UPDATE manager_report_versions SET submitted_at=?, updated_at=? WHERE id=? AND submitted_at IS NULL`, submittedAt, submittedAt, id)
	return affectedOrErr(res, err, ErrStatusChanged)
}
