package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"tapline/internal/domain"
	"tapline/internal/engine"
	"tapline/internal/repo"
)

type authorisationOutput struct {
	Body domain.Authorisation `json:"body"`
}

type idPath struct {
	ID string `path:"id"`
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerAuthorisations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-authorisation",
		Method:        http.MethodPost,
		Path:          "/authorisations",
		Summary:       "Create authorisation",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAuthorisationRequest `json:"body"`
	}) (*authorisationOutput, error) {
		a, err := e.CreateAuthorisation(ctx, input.Body.options(actorFromContext(ctx)))
		if err != nil {
			return nil, handleError(err)
		}
		return &authorisationOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-authorisations",
		Method:      http.MethodGet,
		Path:        "/authorisations",
		Summary:     "List authorisations",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Person     string `query:"person"`
		PrisonCode string `query:"prison_code"`
		Status     string `query:"status" enum:"PENDING,APPROVED,DENIED,CANCELLED,EXPIRED"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Authorisation `json:"body"`
	}, error) {
		items, err := e.Repo.ListAuthorisations(ctx, repo.AuthorisationFilters{
			PersonIdentifier: input.Person,
			PrisonCode:       input.PrisonCode,
			Status:           input.Status,
			Limit:            normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Authorisation{}
		}
		return &struct {
			Body []domain.Authorisation `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-authorisation",
		Method:      http.MethodGet,
		Path:        "/authorisations/{id}",
		Summary:     "Get authorisation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*authorisationOutput, error) {
		a, err := e.Repo.GetAuthorisation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &authorisationOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-authorisation-occurrences",
		Method:      http.MethodGet,
		Path:        "/authorisations/{id}/occurrences",
		Summary:     "List occurrences of an authorisation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*occurrencesOutput, error) {
		if _, err := e.Repo.GetAuthorisation(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListOccurrences(ctx, repo.OccurrenceFilters{AuthorisationID: input.ID})
		if err != nil {
			return nil, handleError(err)
		}
		return newOccurrencesOutput(items), nil
	})

	transitions := []struct {
		op   string
		verb string
		fn   func(context.Context, string, string, engine.Actor) (domain.Authorisation, error)
	}{
		{"approve-authorisation", "approve", e.ApproveAuthorisation},
		{"deny-authorisation", "deny", e.DenyAuthorisation},
		{"cancel-authorisation", "cancel", e.CancelAuthorisation},
		{"defer-authorisation", "defer", e.DeferAuthorisation},
	}
	for _, t := range transitions {
		fn := t.fn
		huma.Register(api, huma.Operation{
			OperationID: t.op,
			Method:      http.MethodPost,
			Path:        "/authorisations/{id}/" + t.verb,
			Summary:     "Apply the " + t.verb + " transition",
			Errors:      mutationErrors,
		}, func(ctx context.Context, input *struct {
			ID   string         `path:"id"`
			Body *ReasonRequest `json:"body,omitempty" required:"false"`
		}) (*authorisationOutput, error) {
			reason := ""
			if input.Body != nil {
				reason = input.Body.Reason
			}
			a, err := fn(ctx, input.ID, reason, actorFromContext(ctx))
			if err != nil {
				return nil, handleError(err)
			}
			return &authorisationOutput{Body: a}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "change-authorisation-date-range",
		Method:      http.MethodPut,
		Path:        "/authorisations/{id}/date-range",
		Summary:     "Change the authorised date range",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body DateRangeRequest `json:"body"`
	}) (*authorisationOutput, error) {
		a, err := e.ChangeDateRange(ctx, input.ID, input.Body.Start, input.Body.End, input.Body.Reason, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &authorisationOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recategorise-authorisation",
		Method:      http.MethodPut,
		Path:        "/authorisations/{id}/categorisation",
		Summary:     "Recategorise authorisation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body CategoriseRequest `json:"body"`
	}) (*authorisationOutput, error) {
		a, err := e.Recategorise(ctx, input.ID, input.Body.Categorisation, input.Body.Reason, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &authorisationOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-authorisation-details",
		Method:      http.MethodPatch,
		Path:        "/authorisations/{id}",
		Summary:     "Update accompaniment, transport or comments",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                      `path:"id"`
		Body AuthorisationDetailsRequest `json:"body"`
	}) (*authorisationOutput, error) {
		a, err := e.UpdateAuthorisationDetails(ctx, input.ID, engine.AuthorisationDetails{
			Accompaniment: input.Body.Accompaniment,
			Transport:     input.Body.Transport,
			Comments:      input.Body.Comments,
		}, input.Body.Reason, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &authorisationOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "generate-occurrences",
		Method:        http.MethodPost,
		Path:          "/authorisations/{id}/occurrences/generate",
		Summary:       "Materialise scheduled occurrences in a window",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body GenerateRequest `json:"body"`
	}) (*occurrencesOutput, error) {
		items, err := e.GenerateOccurrences(ctx, input.ID, input.Body.From, input.Body.To, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return newOccurrencesOutput(items), nil
	})
}
