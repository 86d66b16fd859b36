package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"workplan/internal/domain"
	"workplan/internal/engine"
)

type actorPath struct {
	ActorID string `path:"actor_id"`
}

func registerCampuses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-campus",
		Method:        http.MethodPost,
		Path:          "/campuses",
		Summary:       "Create campus",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateCampusRequest `json:"body"`
	}) (*body[domain.Campus], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCampus(ctx, actor, input.Body.ID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-campuses",
		Method:      http.MethodGet,
		Path:        "/campuses",
		Summary:     "List campuses in scope",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*body[[]domain.Campus], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListCampuses(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-program",
		Method:        http.MethodPost,
		Path:          "/programs",
		Summary:       "Create academic program",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProgramRequest `json:"body"`
	}) (*body[domain.Program], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProgram(ctx, actor, input.Body.ID, input.Body.CampusID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-programs",
		Method:      http.MethodGet,
		Path:        "/programs",
		Summary:     "List programs",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CampusID string `query:"campus_id"`
	}) (*body[[]domain.Program], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListPrograms(ctx, actor, input.CampusID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})
}

func registerActors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-actor",
		Method:        http.MethodPost,
		Path:          "/actors",
		Summary:       "Register an actor",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterActorRequest `json:"body"`
	}) (*body[domain.Actor], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		in := input.Body
		a, err := e.RegisterActor(ctx, actor, engine.ActorInput{
			ID:               in.ID,
			Name:             in.Name,
			Email:            in.Email,
			Role:             in.Role,
			CampusID:         in.CampusID,
			ProgramID:        in.ProgramID,
			ManagedCampusIDs: in.ManagedCampusIDs,
			WeeklyHours:      in.WeeklyHours,
			NumberOfWeeks:    in.NumberOfWeeks,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List actors in scope",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" enum:"administrator,coordinator,manager"`
	}) (*body[[]domain.Actor], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListActors(ctx, actor, input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-actor",
		Method:      http.MethodGet,
		Path:        "/actors/{actor_id}",
		Summary:     "Get actor",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *actorPath) (*body[domain.Actor], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetActor(ctx, actor, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-actor",
		Method:      http.MethodPatch,
		Path:        "/actors/{actor_id}",
		Summary:     "Update profile fields",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ActorID string               `path:"actor_id"`
		Body    UpdateProfileRequest `json:"body"`
	}) (*body[domain.Actor], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		in := input.Body
		a, err := e.UpdateActorProfile(ctx, actor, input.ActorID, engine.ProfileUpdate{
			Name:          in.Name,
			Email:         in.Email,
			WeeklyHours:   in.WeeklyHours,
			NumberOfWeeks: in.NumberOfWeeks,
			CampusID:      in.CampusID,
			ProgramID:     in.ProgramID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-role",
		Method:      http.MethodPut,
		Path:        "/actors/{actor_id}/role",
		Summary:     "Change role and managed campuses",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ActorID string            `path:"actor_id"`
		Body    ChangeRoleRequest `json:"body"`
	}) (*body[domain.Actor], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.ChangeRole(ctx, actor, input.ActorID, input.Body.Role, input.Body.ManagedCampusIDs)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/actors/{actor_id}/api-keys",
		Summary:       "Issue an API key; the key is only returned here",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ActorID string              `path:"actor_id"`
		Body    CreateAPIKeyRequest `json:"body"`
	}) (*body[APIKeyResponse], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		secret, key, err := e.CreateAPIKey(ctx, actor, input.ActorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(APIKeyResponse{
			ID:        key.ID,
			ActorID:   key.ActorID,
			Name:      key.Name,
			Key:       secret,
			CreatedAt: key.CreatedAt,
		}), nil
	})
}

func registerPeriods(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-period",
		Method:        http.MethodPost,
		Path:          "/periods",
		Summary:       "Create report period",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreatePeriodRequest `json:"body"`
	}) (*body[domain.ReportPeriod], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreatePeriod(ctx, actor, engine.PeriodInput{
			ID:     input.Body.ID,
			Name:   input.Body.Name,
			Start:  input.Body.StartDate,
			End:    input.Body.EndDate,
			Active: input.Body.Active,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-periods",
		Method:      http.MethodGet,
		Path:        "/periods",
		Summary:     "List report periods",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Active bool `query:"active"`
	}) (*body[[]domain.ReportPeriod], error) {
		if _, authErr := currentActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListPeriods(ctx, input.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-period",
		Method:      http.MethodGet,
		Path:        "/periods/{period_id}",
		Summary:     "Get report period",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PeriodID string `path:"period_id"`
	}) (*body[domain.ReportPeriod], error) {
		if _, authErr := currentActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		p, err := e.GetPeriod(ctx, input.PeriodID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-period-active",
		Method:      http.MethodPut,
		Path:        "/periods/{period_id}/active",
		Summary:     "Open or close a report period",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		PeriodID string                 `path:"period_id"`
		Body     SetPeriodActiveRequest `json:"body"`
	}) (*body[domain.ReportPeriod], error) {
		actor, authErr := currentActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetPeriodActive(ctx, actor, input.PeriodID, input.Body.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})
}
