package workplansdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal work plan HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://localhost:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Value is a typed field response.
type Value struct {
	Type   string   `json:"type"`
	Number *float64 `json:"number,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Number builds a numeric value.
func Number(v float64) Value { return Value{Type: "numeric", Number: &v} }

// Text builds a value for a text-carrying type such as short_text or link.
func Text(typ, s string) Value { return Value{Type: typ, Text: s} }

// Plan represents the API work plan model (partial).
type Plan struct {
	ID               string  `json:"id"`
	ManagerID        string  `json:"manager_id"`
	PlanType         string  `json:"plan_type"`
	PeriodID         string  `json:"period_id"`
	Title            string  `json:"title"`
	Status           string  `json:"status"`
	ApprovedBy       *string `json:"approved_by,omitempty"`
	ApprovalComments *string `json:"approval_comments,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

// PlanResult is a plan transition plus notification warnings.
type PlanResult struct {
	Plan     Plan     `json:"plan"`
	Warnings []string `json:"warnings,omitempty"`
}

// Assignment is hours put against a strategic product.
type Assignment struct {
	ID        string  `json:"id,omitempty"`
	AxisID    string  `json:"axis_id"`
	ActionID  string  `json:"action_id"`
	ProductID string  `json:"product_id"`
	Hours     float64 `json:"hours"`
}

// UnifiedReport is one row of the cross-family report listing.
type UnifiedReport struct {
	ID            string  `json:"id"`
	ManagerID     string  `json:"manager_id"`
	Title         string  `json:"title"`
	Status        string  `json:"status"`
	SubmittedDate *string `json:"submitted_date,omitempty"`
	ReportType    string  `json:"report_type"`
}

// UnifiedReports carries the listing and any family that failed to load.
type UnifiedReports struct {
	Reports        []UnifiedReport `json:"reports"`
	FailedFamilies []struct {
		Family string `json:"family"`
		Error  string `json:"error"`
	} `json:"failed_families,omitempty"`
}

// Version is one numbered version of a template report.
type Version struct {
	ID            string         `json:"id"`
	ReportID      string         `json:"report_id"`
	VersionNumber int            `json:"version_number"`
	Content       map[string]any `json:"content,omitempty"`
	SubmittedAt   *string        `json:"submitted_at,omitempty"`
}

// Dataset is a consolidated SNIES report.
type Dataset struct {
	Report struct {
		ID         string `json:"id"`
		TemplateID string `json:"template_id"`
		PeriodID   string `json:"period_id"`
		RowCount   int    `json:"row_count"`
		IssueCount int    `json:"issue_count"`
	} `json:"report"`
	Rows []struct {
		ManagerID string           `json:"manager_id"`
		Values    map[string]Value `json:"values"`
	} `json:"rows"`
	Issues []struct {
		Field   string `json:"field,omitempty"`
		Kind    string `json:"kind"`
		Message string `json:"message"`
		Row     string `json:"row,omitempty"`
	} `json:"issues,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedPlans wraps plan listings with a cursor.
type PaginatedPlans struct {
	Items      []Plan `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// CreatePlan creates a draft plan for the calling manager.
func (c *Client) CreatePlan(ctx context.Context, planType, periodID, title string) (Plan, error) {
	body := map[string]any{
		"plan_type": planType,
		"period_id": periodID,
		"title":     title,
	}
	var resp Plan
	err := c.do(ctx, http.MethodPost, "plans", body, &resp)
	return resp, err
}

// PlansPage returns one page of plans in the caller's scope.
func (c *Client) PlansPage(ctx context.Context, limit int, cursor string) (PaginatedPlans, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "plans"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedPlans
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetResponse answers a plan field.
func (c *Client) SetResponse(ctx context.Context, planID, fieldID string, v Value) error {
	endpoint := fmt.Sprintf("plans/%s/responses/%s", url.PathEscape(planID), url.PathEscape(fieldID))
	return c.do(ctx, http.MethodPut, endpoint, v, nil)
}

// Assign puts hours against a strategic product.
func (c *Client) Assign(ctx context.Context, planID string, a Assignment) (Assignment, error) {
	var resp Assignment
	endpoint := fmt.Sprintf("plans/%s/assignments", url.PathEscape(planID))
	err := c.do(ctx, http.MethodPut, endpoint, a, &resp)
	return resp, err
}

// SubmitPlan submits a draft plan.
func (c *Client) SubmitPlan(ctx context.Context, planID string) (PlanResult, error) {
	var resp PlanResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("plans/%s/submit", url.PathEscape(planID)), nil, &resp)
	return resp, err
}

// ReviewPlan approves or rejects a submitted plan.
func (c *Client) ReviewPlan(ctx context.Context, planID, decision, comments string) (PlanResult, error) {
	body := map[string]any{"decision": decision, "comments": comments}
	var resp PlanResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("plans/%s/review", url.PathEscape(planID)), body, &resp)
	return resp, err
}

// Reports returns the unified report listing, optionally for one manager.
func (c *Client) Reports(ctx context.Context, managerID string) (UnifiedReports, error) {
	endpoint := "reports"
	if managerID != "" {
		endpoint += "?manager_id=" + url.QueryEscape(managerID)
	}
	var resp UnifiedReports
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AddVersion creates the next version of a template report.
func (c *Client) AddVersion(ctx context.Context, reportID string, content map[string]any) (Version, error) {
	var resp Version
	endpoint := fmt.Sprintf("template-reports/%s/versions", url.PathEscape(reportID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"content": content}, &resp)
	return resp, err
}

// SubmitVersion submits a template report version.
func (c *Client) SubmitVersion(ctx context.Context, versionID string) (Version, error) {
	var resp Version
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("versions/%s/submit", url.PathEscape(versionID)), nil, &resp)
	return resp, err
}

// SubmitSnies submits the caller's SNIES values for a period.
func (c *Client) SubmitSnies(ctx context.Context, templateID, periodID string, values map[string]Value) error {
	endpoint := fmt.Sprintf("snies/templates/%s/submissions/%s", url.PathEscape(templateID), url.PathEscape(periodID))
	return c.do(ctx, http.MethodPut, endpoint, map[string]any{"values": values}, nil)
}

// Consolidate builds a SNIES report for the caller's scope.
func (c *Client) Consolidate(ctx context.Context, templateID, periodID string, strict bool) (Dataset, error) {
	body := map[string]any{"period_id": periodID, "strict": strict}
	var resp Dataset
	endpoint := fmt.Sprintf("snies/templates/%s/consolidations", url.PathEscape(templateID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
