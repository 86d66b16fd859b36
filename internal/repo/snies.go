package repo

import (
	"context"
	"database/sql"
	"fmt"

	"workplan/internal/domain"
	"workplan/internal/fieldtype"
)

func (r Repo) InsertSniesTemplate(ctx context.Context, t domain.SniesTemplate) error {
	_, err := r.exec(ctx, `INSERT INTO snies_templates(id,name,created_at) VALUES (?,?,?)`, t.ID, t.Name, t.CreatedAt)
	return err
}

// GetSniesTemplate loads a template with its fields in field_order.
func (r Repo) GetSniesTemplate(ctx context.Context, id string) (domain.SniesTemplate, error) {
	var t domain.SniesTemplate
	err := r.queryRow(ctx, `SELECT id,name,created_at FROM snies_templates WHERE id=?`, id).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Fields, err = r.ListSniesFields(ctx, id)
	return t, err
}

func (r Repo) ListSniesTemplates(ctx context.Context) ([]domain.SniesTemplate, error) {
	rows, err := r.query(ctx, `SELECT id,name,created_at FROM snies_templates ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SniesTemplate
	for rows.Next() {
		var t domain.SniesTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertSniesField(ctx context.Context, f domain.SniesField) error {
	_, err := r.exec(ctx, `INSERT INTO snies_fields(id,template_id,name,data_type,field_order,required,options_json) VALUES (?,?,?,?,?,?,?)`,
		f.ID, f.TemplateID, f.Name, string(f.DataType), f.FieldOrder, boolInt(f.Required), encodeList(f.Options))
	return err
}

// ListSniesFields returns template fields ordered by field_order, then id.
func (r Repo) ListSniesFields(ctx context.Context, templateID string) ([]domain.SniesField, error) {
	rows, err := r.query(ctx, `SELECT id,template_id,name,data_type,field_order,required,options_json FROM snies_fields WHERE template_id=? ORDER BY field_order, id`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SniesField
	for rows.Next() {
		var f domain.SniesField
		var dataType, options string
		var required int
		if err := rows.Scan(&f.ID, &f.TemplateID, &f.Name, &dataType, &f.FieldOrder, &required, &options); err != nil {
			return nil, err
		}
		f.DataType = fieldtype.Type(dataType)
		f.Required = required != 0
		f.Options = decodeList(options)
		res = append(res, f)
	}
	return res, rows.Err()
}

// NextSniesFieldOrder returns the order slot after the last field.
func (r Repo) NextSniesFieldOrder(ctx context.Context, templateID string) (int, error) {
	var max int
	err := r.queryRow(ctx, `SELECT COALESCE(MAX(field_order),0) FROM snies_fields WHERE template_id=?`, templateID).Scan(&max)
	return max + 1, err
}

func (r Repo) InsertSniesSubmission(ctx context.Context, s domain.SniesSubmission) error {
	_, err := r.exec(ctx, `INSERT INTO snies_submissions(id,template_id,period_id,manager_id,submitted_at,updated_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.TemplateID, s.PeriodID, s.ManagerID, s.SubmittedAt, s.UpdatedAt)
	return err
}

func (r Repo) UpsertSniesValue(ctx context.Context, v domain.SniesSubmittedValue) error {
	raw, err := v.Value.Encode()
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, `INSERT INTO snies_submission_values(submission_id,field_id,value_json,updated_at) VALUES (?,?,?,?)
ON CONFLICT(submission_id,field_id) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`,
		v.SubmissionID, v.FieldID, raw, v.UpdatedAt)
	return err
}

// RawSniesValue is a stored submission value before type validation. A value
// whose JSON cannot be decoded keeps DecodeErr set.
type RawSniesValue struct {
	SubmissionID string
	ManagerID    string
	FieldID      string
	Value        fieldtype.Value
	DecodeErr    error
	UpdatedAt    string
}

// ListSniesValues returns every value submitted for (template, period) by
// managers inside the scope.
func (r Repo) ListSniesValues(ctx context.Context, templateID, periodID string, scope ScopeFilter) ([]RawSniesValue, error) {
	clause, args, ok := scope.managerClause("s.manager_id")
	if !ok {
		return nil, nil
	}
	args = append([]any{templateID, periodID}, args...)
	rows, err := r.query(ctx, `SELECT v.submission_id, s.manager_id, v.field_id, v.value_json, v.updated_at
FROM snies_submission_values v
JOIN snies_submissions s ON s.id = v.submission_id
WHERE s.template_id=? AND s.period_id=? AND `+clause+`
ORDER BY s.manager_id, v.field_id, v.updated_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []RawSniesValue
	for rows.Next() {
		var v RawSniesValue
		var raw string
		if err := rows.Scan(&v.SubmissionID, &v.ManagerID, &v.FieldID, &raw, &v.UpdatedAt); err != nil {
			return nil, err
		}
		v.Value, v.DecodeErr = fieldtype.Decode(raw)
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) InsertSniesReport(ctx context.Context, rep domain.SniesReport) error {
	_, err := r.exec(ctx, `INSERT INTO snies_reports(id,template_id,period_id,status,created_by,row_count,issue_count,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		rep.ID, rep.TemplateID, rep.PeriodID, rep.Status, rep.CreatedBy, rep.RowCount, rep.IssueCount, rep.CreatedAt)
	return err
}

func (r Repo) InsertSniesReportData(ctx context.Context, d domain.SniesReportData) error {
	raw, err := d.Value.Encode()
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, `INSERT INTO snies_report_data(report_id,row_key,field_id,value_json) VALUES (?,?,?,?)`, d.ReportID, d.RowKey, d.FieldID, raw)
	return err
}

func (r Repo) GetSniesReport(ctx context.Context, id string) (domain.SniesReport, error) {
	var rep domain.SniesReport
	err := r.queryRow(ctx, `SELECT id,template_id,period_id,status,created_by,row_count,issue_count,created_at FROM snies_reports WHERE id=?`, id).
		Scan(&rep.ID, &rep.TemplateID, &rep.PeriodID, &rep.Status, &rep.CreatedBy, &rep.RowCount, &rep.IssueCount, &rep.CreatedAt)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	return rep, err
}

func (r Repo) ListSniesReports(ctx context.Context, templateID, periodID string) ([]domain.SniesReport, error) {
	query := `SELECT id,template_id,period_id,status,created_by,row_count,issue_count,created_at FROM snies_reports WHERE 1=1`
	var args []any
	if templateID != "" {
		query += ` AND template_id=?`
		args = append(args, templateID)
	}
	if periodID != "" {
		query += ` AND period_id=?`
		args = append(args, periodID)
	}
	rows, err := r.query(ctx, query+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SniesReport
	for rows.Next() {
		var rep domain.SniesReport
		if err := rows.Scan(&rep.ID, &rep.TemplateID, &rep.PeriodID, &rep.Status, &rep.CreatedBy, &rep.RowCount, &rep.IssueCount, &rep.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

func (r Repo) ListSniesReportData(ctx context.Context, reportID string) ([]domain.SniesReportData, error) {
	rows, err := r.query(ctx, `SELECT report_id,row_key,field_id,value_json FROM snies_report_data WHERE report_id=? ORDER BY row_key, field_id`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SniesReportData
	for rows.Next() {
		var d domain.SniesReportData
		var raw string
		if err := rows.Scan(&d.ReportID, &d.RowKey, &d.FieldID, &raw); err != nil {
			return nil, err
		}
		if d.Value, err = fieldtype.Decode(raw); err != nil {
			return nil, fmt.Errorf("report %s row %s: %w", reportID, d.RowKey, err)
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
