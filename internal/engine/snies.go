package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"workplan/internal/db"
	"workplan/internal/domain"
	"workplan/internal/engine/auth"
	"workplan/internal/events"
	"workplan/internal/fieldtype"
	"workplan/internal/repo"
)

const SniesConsolidated = "consolidated"

type SniesFieldInput struct {
	ID         string
	Name       string
	DataType   string
	FieldOrder int
	Required   bool
	Options    []string
}

func (in SniesFieldInput) validate(op string) (fieldtype.Type, error) {
	if strings.TrimSpace(in.Name) == "" {
		return "", invalid(op, "name", IssueRequired, "field name is required")
	}
	t, err := fieldtype.Parse(in.DataType)
	if err != nil {
		return "", invalid(op, "data_type", IssueInvalid, err.Error())
	}
	if t == fieldtype.Dropdown && len(in.Options) == 0 {
		return "", invalid(op, "options", IssueRequired, "dropdown fields need options")
	}
	if t == fieldtype.Structural && in.Required {
		return "", invalid(op, "required", IssueInvalid, "structural fields cannot be required")
	}
	return t, nil
}

func (e Engine) CreateSniesTemplate(ctx context.Context, actor auth.Actor, id, name string, fields []SniesFieldInput) (domain.SniesTemplate, error) {
	const op = "snies_template.create"
	if err := requireAdmin(actor, op); err != nil {
		return domain.SniesTemplate{}, err
	}
	if strings.TrimSpace(name) == "" {
		return domain.SniesTemplate{}, invalid(op, "name", IssueRequired, "name is required")
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.SniesTemplate{}, err
	}
	defer tx.Rollback()

	t := domain.SniesTemplate{ID: newID("snies", id), Name: name, CreatedAt: e.stamp()}
	if err := rp.InsertSniesTemplate(ctx, t); err != nil {
		return domain.SniesTemplate{}, fmt.Errorf("insert snies template: %w", err)
	}
	for _, in := range fields {
		f, err := e.insertSniesField(ctx, rp, op, t.ID, in)
		if err != nil {
			return domain.SniesTemplate{}, err
		}
		t.Fields = append(t.Fields, f)
	}
	if err := e.appendEvent(ctx, tx, "snies_template.created", "", events.KindSniesTemplate, t.ID, actor.ID,
		events.EventPayload{"fields": len(t.Fields)}); err != nil {
		return domain.SniesTemplate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SniesTemplate{}, err
	}
	return t, nil
}

func (e Engine) insertSniesField(ctx context.Context, rp repo.Repo, op, templateID string, in SniesFieldInput) (domain.SniesField, error) {
	t, err := in.validate(op)
	if err != nil {
		return domain.SniesField{}, err
	}
	order := in.FieldOrder
	if order <= 0 {
		if order, err = rp.NextSniesFieldOrder(ctx, templateID); err != nil {
			return domain.SniesField{}, err
		}
	}
	f := domain.SniesField{
		ID:         newID("fld", in.ID),
		TemplateID: templateID,
		Name:       in.Name,
		DataType:   t,
		FieldOrder: order,
		Required:   in.Required,
		Options:    in.Options,
	}
	if err := rp.InsertSniesField(ctx, f); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.SniesField{}, invalid(op, "id", IssueInvalid, fmt.Sprintf("field %s already exists", f.ID))
		}
		return domain.SniesField{}, fmt.Errorf("insert snies field: %w", err)
	}
	return f, nil
}

func (e Engine) AddSniesField(ctx context.Context, actor auth.Actor, templateID string, in SniesFieldInput) (domain.SniesField, error) {
	const op = "snies_field.add"
	if err := requireAdmin(actor, op); err != nil {
		return domain.SniesField{}, err
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.SniesField{}, err
	}
	defer tx.Rollback()

	if _, err := rp.GetSniesTemplate(ctx, templateID); err != nil {
		return domain.SniesField{}, fmt.Errorf("snies template %s: %w", templateID, err)
	}
	f, err := e.insertSniesField(ctx, rp, op, templateID, in)
	if err != nil {
		return domain.SniesField{}, err
	}
	if err := e.appendEvent(ctx, tx, "snies_template.field_added", "", events.KindSniesTemplate, templateID, actor.ID,
		events.EventPayload{"field_id": f.ID, "data_type": string(f.DataType)}); err != nil {
		return domain.SniesField{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SniesField{}, err
	}
	return f, nil
}

func (e Engine) GetSniesTemplate(ctx context.Context, id string) (domain.SniesTemplate, error) {
	t, err := e.Repo.GetSniesTemplate(ctx, id)
	if err != nil {
		return t, fmt.Errorf("snies template %s: %w", id, err)
	}
	return t, nil
}

func (e Engine) ListSniesTemplates(ctx context.Context) ([]domain.SniesTemplate, error) {
	return e.Repo.ListSniesTemplates(ctx)
}

// SubmitSniesValues records one submission of a manager for (template,
// period). Every value must match its field's declared type.
func (e Engine) SubmitSniesValues(ctx context.Context, actor auth.Actor, templateID, periodID string, values map[string]fieldtype.Value) (domain.SniesSubmission, error) {
	const op = "snies.submit"
	if !actor.IsManager() {
		return domain.SniesSubmission{}, auth.Forbidden(op, "only managers submit statistical data")
	}
	if len(values) == 0 {
		return domain.SniesSubmission{}, invalid(op, "values", IssueRequired, "no values submitted")
	}
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return domain.SniesSubmission{}, err
	}
	defer tx.Rollback()

	tpl, err := rp.GetSniesTemplate(ctx, templateID)
	if err != nil {
		return domain.SniesSubmission{}, fmt.Errorf("snies template %s: %w", templateID, err)
	}
	if err := e.requirePeriodOpen(ctx, rp, op, periodID); err != nil {
		return domain.SniesSubmission{}, err
	}
	fields := map[string]domain.SniesField{}
	for _, f := range tpl.Fields {
		fields[f.ID] = f
	}
	ids := make([]string, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var issues []Issue
	for _, id := range ids {
		f, ok := fields[id]
		if !ok {
			issues = append(issues, Issue{Field: id, Kind: IssueUnknownField, Message: "template has no such field"})
			continue
		}
		if err := values[id].Check(fieldtype.Spec{Type: f.DataType, Options: f.Options}); err != nil {
			issues = append(issues, Issue{Field: id, Kind: IssueTypeMismatch, Message: err.Error()})
		}
	}
	if len(issues) > 0 {
		return domain.SniesSubmission{}, &ValidationError{Op: op, Issues: issues}
	}

	now := e.stamp()
	sub := domain.SniesSubmission{
		ID:          newID("sub", ""),
		TemplateID:  tpl.ID,
		PeriodID:    periodID,
		ManagerID:   actor.ID,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if err := rp.InsertSniesSubmission(ctx, sub); err != nil {
		return domain.SniesSubmission{}, fmt.Errorf("insert submission: %w", err)
	}
	for _, id := range ids {
		v := domain.SniesSubmittedValue{SubmissionID: sub.ID, ManagerID: actor.ID, FieldID: id, Value: values[id], UpdatedAt: now}
		if err := rp.UpsertSniesValue(ctx, v); err != nil {
			return domain.SniesSubmission{}, fmt.Errorf("store value %s: %w", id, err)
		}
		sub.Values = append(sub.Values, v)
	}
	if err := e.appendEvent(ctx, tx, "snies.submitted", actor.CampusID, events.KindSniesTemplate, tpl.ID, actor.ID,
		events.EventPayload{"submission_id": sub.ID, "period_id": periodID, "values": len(ids)}); err != nil {
		return domain.SniesSubmission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SniesSubmission{}, err
	}
	return sub, nil
}

type ConsolidateOptions struct {
	// Strict turns any issue into ErrValidationFailed and persists nothing.
	Strict bool
}

// ConsolidatedRow is one manager's deduplicated values keyed by field id.
type ConsolidatedRow struct {
	ManagerID string                     `json:"manager_id"`
	Values    map[string]fieldtype.Value `json:"values"`
}

type ConsolidatedDataset struct {
	Report  domain.SniesReport  `json:"report"`
	Columns []domain.SniesField `json:"columns"`
	Rows    []ConsolidatedRow   `json:"rows"`
	Issues  []Issue             `json:"issues,omitempty"`
}

// snapshotOptions selects a consistent read for the consolidation pass.
// SQLite transactions already read from a single snapshot.
func (e Engine) snapshotOptions() *sql.TxOptions {
	if e.Dialect == db.Postgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

type pickedValue struct {
	value     fieldtype.Value
	updatedAt string
	subID     string
}

// Consolidate builds the institutional dataset of a template for a period
// from the submissions visible to actor, and stores it as a SNIES report.
// Reads happen in one snapshot; submissions committed after it are picked up
// by the next run.
func (e Engine) Consolidate(ctx context.Context, actor auth.Actor, templateID, periodID string, opts ConsolidateOptions) (ConsolidatedDataset, error) {
	const op = "snies.consolidate"
	if !actor.CanReview() {
		return ConsolidatedDataset{}, auth.Forbidden(op, "managers cannot consolidate")
	}
	filter := scopeFilter(actor)

	rtx, err := e.DB.BeginTx(ctx, e.snapshotOptions())
	if err != nil {
		return ConsolidatedDataset{}, err
	}
	rr := e.Repo.WithTx(rtx)
	tpl, err := rr.GetSniesTemplate(ctx, templateID)
	if err != nil {
		rtx.Rollback()
		return ConsolidatedDataset{}, fmt.Errorf("snies template %s: %w", templateID, err)
	}
	if _, err := rr.GetPeriod(ctx, periodID); err != nil {
		rtx.Rollback()
		return ConsolidatedDataset{}, fmt.Errorf("period %s: %w", periodID, err)
	}
	raw, err := rr.ListSniesValues(ctx, templateID, periodID, filter)
	if err != nil {
		rtx.Rollback()
		return ConsolidatedDataset{}, err
	}
	if err := rtx.Commit(); err != nil {
		return ConsolidatedDataset{}, err
	}

	ds := buildDataset(tpl, raw)
	if opts.Strict && len(ds.Issues) > 0 {
		e.Metrics.Consolidated("rejected", len(ds.Issues))
		return ConsolidatedDataset{}, &ValidationError{Op: op, Issues: ds.Issues}
	}

	ds.Report = domain.SniesReport{
		ID:         newID("srep", ""),
		TemplateID: tpl.ID,
		PeriodID:   periodID,
		Status:     SniesConsolidated,
		CreatedBy:  actor.ID,
		RowCount:   len(ds.Rows),
		IssueCount: len(ds.Issues),
		CreatedAt:  e.stamp(),
	}
	if err := e.persistDataset(ctx, actor, ds); err != nil {
		e.Metrics.Consolidated("aborted", 0)
		return ConsolidatedDataset{}, err
	}
	e.Metrics.Consolidated("ok", len(ds.Issues))
	e.log().Info("snies consolidated",
		zap.String("report_id", ds.Report.ID),
		zap.String("template_id", tpl.ID),
		zap.Int("rows", len(ds.Rows)),
		zap.Int("issues", len(ds.Issues)))
	return ds, nil
}

// datasetColumns lists every template field in field_order. Structural
// fields keep their position but never carry a value.
func datasetColumns(tpl domain.SniesTemplate) []domain.SniesField {
	cols := append([]domain.SniesField(nil), tpl.Fields...)
	sort.SliceStable(cols, func(i, j int) bool {
		if cols[i].FieldOrder != cols[j].FieldOrder {
			return cols[i].FieldOrder < cols[j].FieldOrder
		}
		return cols[i].ID < cols[j].ID
	})
	return cols
}

// buildDataset validates, deduplicates and pivots raw values. It never
// touches storage.
func buildDataset(tpl domain.SniesTemplate, raw []repo.RawSniesValue) ConsolidatedDataset {
	ds := ConsolidatedDataset{Columns: datasetColumns(tpl)}
	fields := map[string]domain.SniesField{}
	for _, f := range tpl.Fields {
		fields[f.ID] = f
	}

	picked := map[string]map[string]pickedValue{}
	for _, v := range raw {
		if v.DecodeErr != nil {
			ds.Issues = append(ds.Issues, Issue{Row: v.ManagerID, Field: v.FieldID, Kind: IssueUndecodable, Message: v.DecodeErr.Error()})
			continue
		}
		f, ok := fields[v.FieldID]
		if !ok {
			ds.Issues = append(ds.Issues, Issue{Row: v.ManagerID, Field: v.FieldID, Kind: IssueUnknownField, Message: "template has no such field"})
			continue
		}
		if err := v.Value.Check(fieldtype.Spec{Type: f.DataType, Options: f.Options}); err != nil {
			ds.Issues = append(ds.Issues, Issue{Row: v.ManagerID, Field: v.FieldID, Kind: IssueTypeMismatch, Message: err.Error()})
			continue
		}
		row := picked[v.ManagerID]
		if row == nil {
			row = map[string]pickedValue{}
			picked[v.ManagerID] = row
		}
		cur, seen := row[v.FieldID]
		if !seen || v.UpdatedAt > cur.updatedAt || (v.UpdatedAt == cur.updatedAt && v.SubmissionID > cur.subID) {
			row[v.FieldID] = pickedValue{value: v.Value, updatedAt: v.UpdatedAt, subID: v.SubmissionID}
		}
	}

	managers := make([]string, 0, len(picked))
	for m := range picked {
		managers = append(managers, m)
	}
	sort.Strings(managers)
	for _, m := range managers {
		row := ConsolidatedRow{ManagerID: m, Values: map[string]fieldtype.Value{}}
		for _, c := range ds.Columns {
			if pv, ok := picked[m][c.ID]; ok {
				row.Values[c.ID] = pv.value
			} else if c.Required && c.DataType.HoldsValue() {
				ds.Issues = append(ds.Issues, Issue{Row: m, Field: c.ID, Kind: IssueRequired, Message: "required value missing"})
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds
}

// persistDataset writes the report and its rows in one transaction. A
// cancelled context between inserts rolls everything back.
func (e Engine) persistDataset(ctx context.Context, actor auth.Actor, ds ConsolidatedDataset) error {
	tx, rp, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := rp.InsertSniesReport(ctx, ds.Report); err != nil {
		return fmt.Errorf("insert snies report: %w", err)
	}
	for _, row := range ds.Rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, c := range ds.Columns {
			v, ok := row.Values[c.ID]
			if !ok {
				continue
			}
			if err := rp.InsertSniesReportData(ctx, domain.SniesReportData{ReportID: ds.Report.ID, RowKey: row.ManagerID, FieldID: c.ID, Value: v}); err != nil {
				return fmt.Errorf("insert report data: %w", err)
			}
		}
	}
	if err := e.appendEvent(ctx, tx, "snies.consolidated", "", events.KindSniesReport, ds.Report.ID, actor.ID,
		events.EventPayload{"template_id": ds.Report.TemplateID, "period_id": ds.Report.PeriodID, "rows": ds.Report.RowCount, "issues": ds.Report.IssueCount}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.Commit()
}

// GetSniesReport rebuilds a stored dataset, keeping only rows of managers in
// the actor's scope.
func (e Engine) GetSniesReport(ctx context.Context, actor auth.Actor, reportID string) (ConsolidatedDataset, error) {
	const op = "snies.report"
	if !actor.CanReview() {
		return ConsolidatedDataset{}, auth.Forbidden(op, "managers cannot read consolidated reports")
	}
	rep, err := e.Repo.GetSniesReport(ctx, reportID)
	if err != nil {
		return ConsolidatedDataset{}, fmt.Errorf("snies report %s: %w", reportID, err)
	}
	tpl, err := e.Repo.GetSniesTemplate(ctx, rep.TemplateID)
	if err != nil {
		return ConsolidatedDataset{}, err
	}
	data, err := e.Repo.ListSniesReportData(ctx, rep.ID)
	if err != nil {
		return ConsolidatedDataset{}, err
	}
	visible, err := e.Repo.ListActors(ctx, repo.ActorFilters{Scope: scopeFilter(actor)})
	if err != nil {
		return ConsolidatedDataset{}, err
	}
	inScope := map[string]bool{}
	for _, a := range visible {
		inScope[a.ID] = true
	}

	ds := ConsolidatedDataset{Report: rep, Columns: datasetColumns(tpl)}
	rows := map[string]*ConsolidatedRow{}
	var order []string
	for _, d := range data {
		if !inScope[d.RowKey] {
			continue
		}
		row, ok := rows[d.RowKey]
		if !ok {
			row = &ConsolidatedRow{ManagerID: d.RowKey, Values: map[string]fieldtype.Value{}}
			rows[d.RowKey] = row
			order = append(order, d.RowKey)
		}
		row.Values[d.FieldID] = d.Value
	}
	sort.Strings(order)
	for _, m := range order {
		ds.Rows = append(ds.Rows, *rows[m])
	}
	return ds, nil
}

func (e Engine) ListSniesReports(ctx context.Context, actor auth.Actor, templateID, periodID string) ([]domain.SniesReport, error) {
	if !actor.CanReview() {
		return nil, auth.Forbidden("snies.reports", "managers cannot read consolidated reports")
	}
	return e.Repo.ListSniesReports(ctx, templateID, periodID)
}
