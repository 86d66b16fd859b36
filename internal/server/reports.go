package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"workplan/internal/domain"
	"workplan/internal/engine"
)

type reportPath struct {
	ReportID string `path:"report_id"`
}

func registerPlanReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-plan-report",
		Method:        http.MethodPost,
		Path:          "/plans/{plan_id}/reports",
		Summary:       "Open a progress report on an approved plan",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		PlanID string              `path:"plan_id"`
		Body   CreateReportRequest `json:"body"`
	}) (*body[domain.PlanReport], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.CreatePlanReport(ctx, actor, input.PlanID, input.Body.Title)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-plan-report",
		Method:      http.MethodPost,
		Path:        "/plan-reports/{report_id}/submit",
		Summary:     "Submit a plan report",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *reportPath) (*body[domain.PlanReport], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.SubmitPlanReport(ctx, actor, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-plan-report",
		Method:      http.MethodPost,
		Path:        "/plan-reports/{report_id}/review",
		Summary:     "Approve or reject a plan report",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ReportID string        `path:"report_id"`
		Body     ReviewRequest `json:"body"`
	}) (*body[domain.PlanReport], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.ReviewPlanReport(ctx, actor, input.ReportID, input.Body.Decision)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-indicator-report",
		Method:        http.MethodPost,
		Path:          "/indicator-reports",
		Summary:       "Open an indicator report",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateIndicatorReportRequest `json:"body"`
	}) (*body[domain.IndicatorReport], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.CreateIndicatorReport(ctx, actor, input.Body.PeriodID, input.Body.Title)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-indicator-report",
		Method:      http.MethodPost,
		Path:        "/indicator-reports/{report_id}/advance",
		Summary:     "Move an indicator report to its next status",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ReportID string                  `path:"report_id"`
		Body     AdvanceIndicatorRequest `json:"body"`
	}) (*body[domain.IndicatorReport], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.AdvanceIndicatorReport(ctx, actor, input.ReportID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})
}

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/templates",
		Summary:       "Register a report template",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTemplateRequest `json:"body"`
	}) (*body[domain.ReportTemplate], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTemplate(ctx, actor, engine.TemplateInput{
			ID:          input.Body.ID,
			Name:        input.Body.Name,
			AxisIDs:     input.Body.AxisIDs,
			ActionIDs:   input.Body.ActionIDs,
			ProductIDs:  input.Body.ProductIDs,
			MaxVersions: input.Body.MaxVersions,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List report templates",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*body[[]domain.ReportTemplate], error) {
		if _, authErr := currentActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListTemplates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}",
		Summary:     "Get a report template",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*body[domain.ReportTemplate], error) {
		if _, authErr := currentActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTemplate(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-template-report",
		Method:        http.MethodPost,
		Path:          "/template-reports",
		Summary:       "Open a template report for the calling manager",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTemplateReportRequest `json:"body"`
	}) (*body[domain.TemplateReport], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.CreateTemplateReport(ctx, actor, engine.TemplateReportInput{
			ID:         input.Body.ID,
			TemplateID: input.Body.TemplateID,
			PeriodID:   input.Body.PeriodID,
			Title:      input.Body.Title,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-template-reports",
		Method:      http.MethodGet,
		Path:        "/template-reports",
		Summary:     "List template reports in scope",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ManagerID string `query:"manager_id"`
	}) (*body[[]domain.TemplateReport], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListTemplateReports(ctx, actor, input.ManagerID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template-report",
		Method:      http.MethodGet,
		Path:        "/template-reports/{report_id}",
		Summary:     "Get a template report",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*body[domain.TemplateReport], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.GetTemplateReport(ctx, actor, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-version",
		Method:        http.MethodPost,
		Path:          "/template-reports/{report_id}/versions",
		Summary:       "Append the next version of a template report",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ReportID string                `path:"report_id"`
		Body     VersionContentRequest `json:"body"`
	}) (*body[domain.ManagerReportVersion], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.CreateVersionWithRetry(ctx, actor, input.ReportID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-versions",
		Method:      http.MethodGet,
		Path:        "/template-reports/{report_id}/versions",
		Summary:     "Versions of a template report, oldest first",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*body[[]domain.ManagerReportVersion], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListVersions(ctx, actor, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-template-report",
		Method:      http.MethodPost,
		Path:        "/template-reports/{report_id}/review",
		Summary:     "Mark a submitted template report reviewed",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *reportPath) (*body[domain.TemplateReport], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		r, err := e.ReviewTemplateReport(ctx, actor, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(r), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-version",
		Method:      http.MethodPatch,
		Path:        "/versions/{version_id}",
		Summary:     "Replace the content of an unsubmitted version",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		VersionID string                `path:"version_id"`
		Body      VersionContentRequest `json:"body"`
	}) (*body[domain.ManagerReportVersion], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.UpdateVersion(ctx, actor, input.VersionID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-version",
		Method:      http.MethodPost,
		Path:        "/versions/{version_id}/submit",
		Summary:     "Submit a version, submitting its report",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		VersionID string `path:"version_id"`
	}) (*body[domain.ManagerReportVersion], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.SubmitVersion(ctx, actor, input.VersionID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(v), nil
	})
}

func registerUnified(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "All report families merged, newest first",
		Description: "Families that fail to load are listed in failed_families; the rest are still returned.",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ManagerID string `query:"manager_id"`
	}) (*body[engine.UnifiedResult], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ListUnifiedReports(ctx, actor, input.ManagerID)
		if err != nil {
			return nil, handleError(err)
		}
		res.Reports = nonNilSlice(res.Reports)
		return reply(res), nil
	})
}
