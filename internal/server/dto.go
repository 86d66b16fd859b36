package server

import (
	"encoding/json"
	"sort"

	"workplan/internal/config"
	"workplan/internal/domain"
	"workplan/internal/engine/auth"
	"workplan/internal/fieldtype"
)

// Request payloads

type CreateCampusRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CreateProgramRequest struct {
	ID       string `json:"id"`
	CampusID string `json:"campus_id"`
	Name     string `json:"name"`
}

type RegisterActorRequest struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Email            string   `json:"email,omitempty"`
	Role             string   `json:"role" enum:"administrator,coordinator,manager"`
	CampusID         string   `json:"campus_id,omitempty"`
	ProgramID        string   `json:"program_id,omitempty"`
	ManagedCampusIDs []string `json:"managed_campus_ids,omitempty"`
	WeeklyHours      float64  `json:"weekly_hours,omitempty"`
	NumberOfWeeks    int      `json:"number_of_weeks,omitempty"`
}

type UpdateProfileRequest struct {
	Name          *string  `json:"name,omitempty"`
	Email         *string  `json:"email,omitempty"`
	WeeklyHours   *float64 `json:"weekly_hours,omitempty"`
	NumberOfWeeks *int     `json:"number_of_weeks,omitempty"`
	CampusID      *string  `json:"campus_id,omitempty"`
	ProgramID     *string  `json:"program_id,omitempty"`
}

type ChangeRoleRequest struct {
	Role             string   `json:"role" enum:"administrator,coordinator,manager"`
	ManagedCampusIDs []string `json:"managed_campus_ids,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreatePeriodRequest struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	StartDate string `json:"start_date" example:"2025-01-01"`
	EndDate   string `json:"end_date" example:"2025-06-30"`
	Active    bool   `json:"active,omitempty"`
}

type SetPeriodActiveRequest struct {
	Active bool `json:"active"`
}

type CreatePlanRequest struct {
	ID       string `json:"id,omitempty"`
	PlanType string `json:"plan_type"`
	PeriodID string `json:"period_id"`
	Title    string `json:"title"`
}

type AssignmentRequest struct {
	AxisID    string  `json:"axis_id"`
	ActionID  string  `json:"action_id"`
	ProductID string  `json:"product_id"`
	Hours     float64 `json:"hours" minimum:"0"`
}

type ReviewRequest struct {
	Decision string `json:"decision" enum:"approved,rejected"`
	Comments string `json:"comments,omitempty"`
}

type CreateReportRequest struct {
	Title string `json:"title,omitempty"`
}

type CreateIndicatorReportRequest struct {
	PeriodID string `json:"period_id"`
	Title    string `json:"title"`
}

type AdvanceIndicatorRequest struct {
	Status string `json:"status" enum:"in_progress,completed,evaluated"`
}

type CreateTemplateRequest struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	AxisIDs     []string `json:"axis_ids,omitempty"`
	ActionIDs   []string `json:"action_ids,omitempty"`
	ProductIDs  []string `json:"product_ids,omitempty"`
	MaxVersions int      `json:"max_versions,omitempty" minimum:"0"`
}

type CreateTemplateReportRequest struct {
	ID         string `json:"id,omitempty"`
	TemplateID string `json:"template_id"`
	PeriodID   string `json:"period_id"`
	Title      string `json:"title"`
}

type VersionContentRequest struct {
	Content map[string]any `json:"content,omitempty"`
}

type SniesFieldRequest struct {
	ID         string   `json:"id,omitempty"`
	Name       string   `json:"name"`
	DataType   string   `json:"data_type" enum:"numeric,short_text,long_text,dropdown,file,link,structural,text"`
	FieldOrder int      `json:"field_order"`
	Required   bool     `json:"required,omitempty"`
	Options    []string `json:"options,omitempty"`
}

type CreateSniesTemplateRequest struct {
	ID     string              `json:"id"`
	Name   string              `json:"name"`
	Fields []SniesFieldRequest `json:"fields,omitempty"`
}

type SniesValuesRequest struct {
	Values map[string]fieldtype.Value `json:"values"`
}

type ConsolidateRequest struct {
	PeriodID string `json:"period_id"`
	Strict   bool   `json:"strict,omitempty"`
}

type DevLoginRequest struct {
	ActorID    string `json:"actor_id"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" minimum:"0"`
}

// Responses

type DevLoginResponse struct {
	Token string `json:"token"`
}

type ScopeResponse struct {
	AllCampuses bool     `json:"all_campuses"`
	CampusIDs   []string `json:"campus_ids"`
	ProgramIDs  []string `json:"program_ids"`
	ManagerIDs  []string `json:"manager_ids"`
}

type WhoAmIResponse struct {
	ActorID string        `json:"actor_id"`
	Role    string        `json:"role"`
	Source  string        `json:"source"`
	Scope   ScopeResponse `json:"scope"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	CampusID   string         `json:"campus_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type PlanFieldResponse struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

type PlanTypeResponse struct {
	ID          string              `json:"id"`
	Description string              `json:"description,omitempty"`
	MinWeekly   float64             `json:"min_weekly_hours"`
	MaxWeekly   float64             `json:"max_weekly_hours"`
	Fields      []PlanFieldResponse `json:"fields"`
}

type ProductResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ActionResponse struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Products []ProductResponse `json:"products"`
}

type AxisResponse struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Actions []ActionResponse `json:"actions"`
}

type InstitutionConfigResponse struct {
	InstitutionID      string             `json:"institution_id"`
	InstitutionName    string             `json:"institution_name,omitempty"`
	PlanTypes          []PlanTypeResponse `json:"plan_types"`
	StrategicAxes      []AxisResponse     `json:"strategic_axes"`
	DefaultMaxVersions int                `json:"default_max_versions"`
}

type paginatedPlans struct {
	Items      []domain.WorkPlan `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func scopeResponse(s auth.Scope) ScopeResponse {
	return ScopeResponse{
		AllCampuses: s.AllCampuses,
		CampusIDs:   nonNilSlice(s.CampusIDs),
		ProgramIDs:  nonNilSlice(s.ProgramIDs),
		ManagerIDs:  nonNilSlice(s.ManagerIDs),
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		CampusID:   e.CampusID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func configResponse(cfg *config.Config) InstitutionConfigResponse {
	res := InstitutionConfigResponse{
		InstitutionID:      cfg.Institution.ID,
		InstitutionName:    cfg.Institution.Name,
		PlanTypes:          []PlanTypeResponse{},
		StrategicAxes:      []AxisResponse{},
		DefaultMaxVersions: cfg.Versioning.DefaultMaxVersions,
	}
	ids := make([]string, 0, len(cfg.PlanTypes))
	for id := range cfg.PlanTypes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		pt := cfg.PlanTypes[id]
		out := PlanTypeResponse{
			ID:          id,
			Description: pt.Description,
			MinWeekly:   pt.Hours.MinWeekly,
			MaxWeekly:   pt.Hours.MaxWeekly,
			Fields:      make([]PlanFieldResponse, 0, len(pt.Fields)),
		}
		for _, f := range pt.Fields {
			out.Fields = append(out.Fields, PlanFieldResponse(f))
		}
		res.PlanTypes = append(res.PlanTypes, out)
	}
	for _, axis := range cfg.StrategicAxes {
		a := AxisResponse{ID: axis.ID, Name: axis.Name, Actions: []ActionResponse{}}
		for _, act := range axis.Actions {
			ar := ActionResponse{ID: act.ID, Name: act.Name, Products: []ProductResponse{}}
			for _, p := range act.Products {
				ar.Products = append(ar.Products, ProductResponse(p))
			}
			a.Actions = append(a.Actions, ar)
		}
		res.StrategicAxes = append(res.StrategicAxes, a)
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
