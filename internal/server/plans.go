package server

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"workplan/internal/domain"
	"workplan/internal/engine"
	"workplan/internal/fieldtype"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

type planPath struct {
	PlanID string `path:"plan_id"`
}

func registerPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-plan",
		Method:        http.MethodPost,
		Path:          "/plans",
		Summary:       "Create a draft work plan for the calling manager",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreatePlanRequest `json:"body"`
	}) (*body[domain.WorkPlan], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreatePlan(ctx, actor, engine.PlanCreateOptions{
			ID:       strings.TrimSpace(input.Body.ID),
			PlanType: input.Body.PlanType,
			PeriodID: input.Body.PeriodID,
			Title:    input.Body.Title,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/plans",
		Summary:     "List plans in scope, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ManagerID string `query:"manager_id"`
		Status    string `query:"status" enum:"draft,submitted,approved,rejected"`
		PeriodID  string `query:"period_id"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*body[paginatedPlans], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if _, _, err := parseCompositeCursor(input.Cursor); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.ListPlans(ctx, actor, engine.PlanListOptions{
			ManagerID: input.ManagerID,
			Status:    input.Status,
			PeriodID:  input.PeriodID,
			Limit:     limit + 1,
			Cursor:    input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedPlans{Items: nonNilSlice(items)}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			resp.Items = items[:limit]
		}
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/plans/{plan_id}",
		Summary:     "Plan with responses, assignments and hour budget",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *planPath) (*body[engine.PlanDetail], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.GetPlan(ctx, actor, input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		d.Responses = nonNilSlice(d.Responses)
		d.Assignments = nonNilSlice(d.Assignments)
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-plan",
		Method:        http.MethodDelete,
		Path:          "/plans/{plan_id}",
		Summary:       "Delete a never-submitted draft",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *planPath) (*struct{}, error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeletePlan(ctx, actor, input.PlanID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-field-response",
		Method:      http.MethodPut,
		Path:        "/plans/{plan_id}/responses/{field_id}",
		Summary:     "Answer a dynamic field of a draft plan",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		PlanID  string          `path:"plan_id"`
		FieldID string          `path:"field_id"`
		Body    fieldtype.Value `json:"body"`
	}) (*body[domain.PlanFieldResponse], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		resp, err := e.SetFieldResponse(ctx, actor, input.PlanID, input.FieldID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upload-field-file",
		Method:      http.MethodPut,
		Path:        "/plans/{plan_id}/responses/{field_id}/file",
		Summary:     "Upload the file answering a file field",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		PlanID      string `path:"plan_id"`
		FieldID     string `path:"field_id"`
		FileName    string `query:"file_name" required:"true"`
		ContentType string `header:"Content-Type"`
		RawBody     []byte
	}) (*body[domain.PlanFieldResponse], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if len(input.RawBody) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "file content required", nil)
		}
		resp, err := e.UploadFieldFile(ctx, actor, input.PlanID, input.FieldID, input.FileName, input.ContentType, bytes.NewReader(input.RawBody))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-assignment",
		Method:      http.MethodPut,
		Path:        "/plans/{plan_id}/assignments",
		Summary:     "Set hours for a strategic product",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		PlanID string            `path:"plan_id"`
		Body   AssignmentRequest `json:"body"`
	}) (*body[domain.PlanAssignment], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.SetAssignment(ctx, actor, input.PlanID, engine.AssignmentInput{
			AxisID:    input.Body.AxisID,
			ActionID:  input.Body.ActionID,
			ProductID: input.Body.ProductID,
			Hours:     input.Body.Hours,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-assignment",
		Method:        http.MethodDelete,
		Path:          "/plans/{plan_id}/assignments/{assignment_id}",
		Summary:       "Remove an hour assignment",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		PlanID       string `path:"plan_id"`
		AssignmentID string `path:"assignment_id"`
	}) (*struct{}, error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveAssignment(ctx, actor, input.PlanID, input.AssignmentID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-plan",
		Method:      http.MethodPost,
		Path:        "/plans/{plan_id}/submit",
		Summary:     "Submit a draft plan for review",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *planPath) (*body[engine.PlanResult], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SubmitPlan(ctx, actor, input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-plan",
		Method:      http.MethodPost,
		Path:        "/plans/{plan_id}/review",
		Summary:     "Approve or reject a submitted plan",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		PlanID string        `path:"plan_id"`
		Body   ReviewRequest `json:"body"`
	}) (*body[engine.PlanResult], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ReviewPlan(ctx, actor, input.PlanID, input.Body.Decision, input.Body.Comments)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-plan",
		Method:      http.MethodPost,
		Path:        "/plans/{plan_id}/reopen",
		Summary:     "Return a rejected plan to draft",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *planPath) (*body[domain.WorkPlan], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ReopenPlan(ctx, actor, input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plan-reviews",
		Method:      http.MethodGet,
		Path:        "/plans/{plan_id}/reviews",
		Summary:     "Review history of a plan",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *planPath) (*body[[]domain.PlanReview], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListPlanReviews(ctx, actor, input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}
