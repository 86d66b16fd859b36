package domain

import (
	"time"

	"workplan/internal/fieldtype"
)

// TimeLayout is the fixed-width UTC layout used for every stored timestamp so
// that string ordering matches chronological ordering.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout as well as plain RFC3339 and date-only input.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Parse(TimeLayout, s)
}

// Plan statuses.
const (
	PlanDraft     = "draft"
	PlanSubmitted = "submitted"
	PlanApproved  = "approved"
	PlanRejected  = "rejected"
)

// Shared status vocabulary of the unified report projection.
const (
	UnifiedDraft     = "draft"
	UnifiedSubmitted = "submitted"
	UnifiedReviewed  = "reviewed"
)

// Report families of the unified projection.
const (
	ReportTypeWorkPlan   = "work_plan"
	ReportTypeTemplate   = "template"
	ReportTypeIndicators = "indicators"
)

type Campus struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Program struct {
	ID        string `json:"id"`
	CampusID  string `json:"campus_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Actor struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Email            string   `json:"email,omitempty"`
	Role             string   `json:"role" enum:"administrator,coordinator,manager"`
	CampusID         string   `json:"campus_id,omitempty"`
	ProgramID        string   `json:"program_id,omitempty"`
	ManagedCampusIDs []string `json:"managed_campus_ids,omitempty"`
	WeeklyHours      float64  `json:"weekly_hours"`
	NumberOfWeeks    int      `json:"number_of_weeks"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
}

// AvailableHours is the manager's total hour budget for a plan.
func (a Actor) AvailableHours() float64 {
	return a.WeeklyHours * float64(a.NumberOfWeeks)
}

type WorkPlan struct {
	ID               string  `json:"id"`
	ManagerID        string  `json:"manager_id"`
	PlanType         string  `json:"plan_type"`
	PeriodID         string  `json:"period_id"`
	Title            string  `json:"title"`
	Status           string  `json:"status" enum:"draft,submitted,approved,rejected"`
	SubmittedDate    *string `json:"submitted_date,omitempty" format:"date-time"`
	ApprovedDate     *string `json:"approved_date,omitempty" format:"date-time"`
	ApprovedBy       *string `json:"approved_by,omitempty"`
	ApprovalComments *string `json:"approval_comments,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
	UpdatedAt        string  `json:"updated_at" format:"date-time"`
}

type PlanFieldResponse struct {
	PlanID    string          `json:"plan_id"`
	FieldID   string          `json:"field_id"`
	Value     fieldtype.Value `json:"value"`
	UpdatedAt string          `json:"updated_at" format:"date-time"`
}

type PlanAssignment struct {
	ID        string  `json:"id"`
	PlanID    string  `json:"plan_id"`
	AxisID    string  `json:"axis_id"`
	ActionID  string  `json:"action_id"`
	ProductID string  `json:"product_id"`
	Hours     float64 `json:"hours"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type PlanReview struct {
	ID         string `json:"id"`
	PlanID     string `json:"plan_id"`
	Decision   string `json:"decision" enum:"approved,rejected"`
	ReviewerID string `json:"reviewer_id"`
	Comments   string `json:"comments,omitempty"`
	ReviewedAt string `json:"reviewed_at" format:"date-time"`
}

type ReportPeriod struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartDate string `json:"start_date" format:"date-time"`
	EndDate   string `json:"end_date" format:"date-time"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ReportTemplate struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	AxisIDs     []string `json:"axis_ids,omitempty"`
	ActionIDs   []string `json:"action_ids,omitempty"`
	ProductIDs  []string `json:"product_ids,omitempty"`
	MaxVersions int      `json:"max_versions"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

type TemplateReport struct {
	ID            string  `json:"id"`
	ManagerID     string  `json:"manager_id"`
	TemplateID    string  `json:"template_id"`
	PeriodID      string  `json:"period_id"`
	Title         string  `json:"title"`
	Status        string  `json:"status" enum:"draft,submitted,reviewed"`
	SubmittedDate *string `json:"submitted_date,omitempty" format:"date-time"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type ManagerReportVersion struct {
	ID            string         `json:"id"`
	ReportID      string         `json:"report_id"`
	TemplateID    string         `json:"template_id"`
	VersionNumber int            `json:"version_number"`
	Content       map[string]any `json:"content,omitempty"`
	SubmittedAt   *string        `json:"submitted_at,omitempty" format:"date-time"`
	CreatedBy     string         `json:"created_by"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
	UpdatedAt     string         `json:"updated_at" format:"date-time"`
}

type PlanReport struct {
	ID            string  `json:"id"`
	PlanID        string  `json:"plan_id"`
	ManagerID     string  `json:"manager_id"`
	PeriodID      string  `json:"period_id"`
	Title         string  `json:"title"`
	Status        string  `json:"status" enum:"draft,submitted,approved,rejected"`
	SubmittedDate *string `json:"submitted_date,omitempty" format:"date-time"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type IndicatorReport struct {
	ID            string  `json:"id"`
	ManagerID     string  `json:"manager_id"`
	PeriodID      string  `json:"period_id"`
	Title         string  `json:"title"`
	Status        string  `json:"status" enum:"pending,in_progress,completed,evaluated"`
	SubmittedDate *string `json:"submitted_date,omitempty" format:"date-time"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

// UnifiedReport is a read-side projection across report families. It is
// never persisted.
type UnifiedReport struct {
	ID            string  `json:"id"`
	ManagerID     string  `json:"manager_id"`
	Title         string  `json:"title"`
	Status        string  `json:"status" enum:"draft,submitted,reviewed"`
	SubmittedDate *string `json:"submitted_date,omitempty" format:"date-time"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	ReportType    string  `json:"report_type" enum:"work_plan,template,indicators"`
}

type SniesTemplate struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Fields    []SniesField `json:"fields,omitempty"`
	CreatedAt string       `json:"created_at" format:"date-time"`
}

type SniesField struct {
	ID         string         `json:"id"`
	TemplateID string         `json:"template_id"`
	Name       string         `json:"name"`
	DataType   fieldtype.Type `json:"data_type"`
	FieldOrder int            `json:"field_order"`
	Required   bool           `json:"required"`
	Options    []string       `json:"options,omitempty"`
}

type SniesSubmission struct {
	ID          string                `json:"id"`
	TemplateID  string                `json:"template_id"`
	PeriodID    string                `json:"period_id"`
	ManagerID   string                `json:"manager_id"`
	Values      []SniesSubmittedValue `json:"values,omitempty"`
	SubmittedAt string                `json:"submitted_at" format:"date-time"`
	UpdatedAt   string                `json:"updated_at" format:"date-time"`
}

type SniesSubmittedValue struct {
	SubmissionID string          `json:"submission_id"`
	ManagerID    string          `json:"manager_id"`
	FieldID      string          `json:"field_id"`
	Value        fieldtype.Value `json:"value"`
	UpdatedAt    string          `json:"updated_at" format:"date-time"`
}

type SniesReport struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	PeriodID   string `json:"period_id"`
	Status     string `json:"status"`
	CreatedBy  string `json:"created_by"`
	RowCount   int    `json:"row_count"`
	IssueCount int    `json:"issue_count"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type SniesReportData struct {
	ReportID string          `json:"report_id"`
	RowKey   string          `json:"row_key"`
	FieldID  string          `json:"field_id"`
	Value    fieldtype.Value `json:"value"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CampusID   string `json:"campus_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
