package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"workplan/internal/domain"
	"workplan/internal/engine"
)

type sniesTemplatePath struct {
	TemplateID string `path:"template_id"`
}

func sniesFieldInput(in SniesFieldRequest) engine.SniesFieldInput {
	return engine.SniesFieldInput{
		ID:         in.ID,
		Name:       in.Name,
		DataType:   in.DataType,
		FieldOrder: in.FieldOrder,
		Required:   in.Required,
		Options:    in.Options,
	}
}

func registerSnies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-snies-template",
		Method:        http.MethodPost,
		Path:          "/snies/templates",
		Summary:       "Define a SNIES template and its fields",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateSniesTemplateRequest `json:"body"`
	}) (*body[domain.SniesTemplate], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		fields := make([]engine.SniesFieldInput, 0, len(input.Body.Fields))
		for _, f := range input.Body.Fields {
			fields = append(fields, sniesFieldInput(f))
		}
		t, err := e.CreateSniesTemplate(ctx, actor, input.Body.ID, input.Body.Name, fields)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-snies-templates",
		Method:      http.MethodGet,
		Path:        "/snies/templates",
		Summary:     "List SNIES templates",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*body[[]domain.SniesTemplate], error) {
		if _, authErr := currentActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListSniesTemplates(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-snies-template",
		Method:      http.MethodGet,
		Path:        "/snies/templates/{template_id}",
		Summary:     "Get a SNIES template with its ordered fields",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *sniesTemplatePath) (*body[domain.SniesTemplate], error) {
		if _, authErr := currentActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		t, err := e.GetSniesTemplate(ctx, input.TemplateID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-snies-field",
		Method:        http.MethodPost,
		Path:          "/snies/templates/{template_id}/fields",
		Summary:       "Add a field to a SNIES template",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		TemplateID string            `path:"template_id"`
		Body       SniesFieldRequest `json:"body"`
	}) (*body[domain.SniesField], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.AddSniesField(ctx, actor, input.TemplateID, sniesFieldInput(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(f), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-snies-values",
		Method:      http.MethodPut,
		Path:        "/snies/templates/{template_id}/submissions/{period_id}",
		Summary:     "Submit or correct the caller's values for a period",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TemplateID string             `path:"template_id"`
		PeriodID   string             `path:"period_id"`
		Body       SniesValuesRequest `json:"body"`
	}) (*body[domain.SniesSubmission], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		sub, err := e.SubmitSniesValues(ctx, actor, input.TemplateID, input.PeriodID, input.Body.Values)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(sub), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "consolidate-snies",
		Method:        http.MethodPost,
		Path:          "/snies/templates/{template_id}/consolidations",
		Summary:       "Consolidate submissions in scope into a SNIES report",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		TemplateID string             `path:"template_id"`
		Body       ConsolidateRequest `json:"body"`
	}) (*body[engine.ConsolidatedDataset], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		ds, err := e.Consolidate(ctx, actor, input.TemplateID, input.Body.PeriodID, engine.ConsolidateOptions{Strict: input.Body.Strict})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(datasetResponse(ds)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-snies-reports",
		Method:      http.MethodGet,
		Path:        "/snies/reports",
		Summary:     "List stored SNIES reports",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		TemplateID string `query:"template_id"`
		PeriodID   string `query:"period_id"`
	}) (*body[[]domain.SniesReport], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListSniesReports(ctx, actor, input.TemplateID, input.PeriodID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-snies-report",
		Method:      http.MethodGet,
		Path:        "/snies/reports/{report_id}",
		Summary:     "A stored SNIES report, rows narrowed to the caller's scope",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*body[engine.ConsolidatedDataset], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		ds, err := e.GetSniesReport(ctx, actor, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(datasetResponse(ds)), nil
	})
}

func datasetResponse(ds engine.ConsolidatedDataset) engine.ConsolidatedDataset {
	ds.Columns = nonNilSlice(ds.Columns)
	ds.Rows = nonNilSlice(ds.Rows)
	return ds
}
