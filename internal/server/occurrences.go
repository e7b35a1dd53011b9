package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"tapline/internal/domain"
	"tapline/internal/engine"
	"tapline/internal/repo"
)

type occurrenceOutput struct {
	Body domain.Occurrence `json:"body"`
}

type occurrencesOutput struct {
	Body []domain.Occurrence `json:"body"`
}

func newOccurrencesOutput(items []domain.Occurrence) *occurrencesOutput {
	if items == nil {
		items = []domain.Occurrence{}
	}
	return &occurrencesOutput{Body: items}
}

type movementOutput struct {
	Body domain.Movement `json:"body"`
}

func registerOccurrences(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-occurrence",
		Method:        http.MethodPost,
		Path:          "/occurrences",
		Summary:       "Create occurrence",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateOccurrenceRequest `json:"body"`
	}) (*occurrenceOutput, error) {
		b := input.Body
		o, err := e.CreateOccurrence(ctx, engine.OccurrenceCreateOptions{
			AuthorisationID: b.AuthorisationID,
			Start:           b.Start,
			End:             b.End,
			Location:        b.Location,
			Accompaniment:   b.Accompaniment,
			Transport:       b.Transport,
			Comments:        b.Comments,
			Actor:           actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &occurrenceOutput{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-occurrences",
		Method:      http.MethodGet,
		Path:        "/occurrences",
		Summary:     "List occurrences",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Person string    `query:"person"`
		Status string    `query:"status" enum:"PENDING,SCHEDULED,IN_PROGRESS,OVERDUE,COMPLETED,CANCELLED,DENIED,EXPIRED"`
		From   time.Time `query:"from" format:"date-time"`
		To     time.Time `query:"to" format:"date-time"`
		Limit  int       `query:"limit" default:"50"`
	}) (*occurrencesOutput, error) {
		f := repo.OccurrenceFilters{
			PersonIdentifier: input.Person,
			Status:           input.Status,
			Limit:            normalizeLimit(input.Limit),
		}
		if !input.From.IsZero() {
			f.From = &input.From
		}
		if !input.To.IsZero() {
			f.To = &input.To
		}
		items, err := e.Repo.ListOccurrences(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return newOccurrencesOutput(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-occurrence",
		Method:      http.MethodGet,
		Path:        "/occurrences/{id}",
		Summary:     "Get occurrence with its movements",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*occurrenceOutput, error) {
		o, err := e.Repo.GetOccurrence(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &occurrenceOutput{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-occurrence",
		Method:      http.MethodPost,
		Path:        "/occurrences/{id}/cancel",
		Summary:     "Cancel occurrence",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body *ReasonRequest `json:"body,omitempty" required:"false"`
	}) (*occurrenceOutput, error) {
		reason := ""
		if input.Body != nil {
			reason = input.Body.Reason
		}
		o, err := e.CancelOccurrence(ctx, input.ID, reason, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &occurrenceOutput{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reschedule-occurrence",
		Method:      http.MethodPut,
		Path:        "/occurrences/{id}/schedule",
		Summary:     "Reschedule occurrence",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body DateRangeRequest `json:"body"`
	}) (*occurrenceOutput, error) {
		o, err := e.RescheduleOccurrence(ctx, input.ID, input.Body.Start, input.Body.End, input.Body.Reason, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &occurrenceOutput{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-occurrence-details",
		Method:      http.MethodPatch,
		Path:        "/occurrences/{id}",
		Summary:     "Update occurrence details",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                   `path:"id"`
		Body OccurrenceDetailsRequest `json:"body"`
	}) (*occurrenceOutput, error) {
		o, err := e.UpdateOccurrenceDetails(ctx, input.ID, engine.OccurrenceDetails{
			Location:      input.Body.Location,
			Accompaniment: input.Body.Accompaniment,
			Transport:     input.Body.Transport,
			Comments:      input.Body.Comments,
		}, input.Body.Reason, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &occurrenceOutput{Body: o}, nil
	})
}

func registerMovements(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-movement",
		Method:        http.MethodPost,
		Path:          "/movements",
		Summary:       "Record a departure or return",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body RecordMovementRequest `json:"body"`
	}) (*movementOutput, error) {
		b := input.Body
		m, err := e.RecordMovement(ctx, engine.MovementOptions{
			ID:               b.ID,
			OccurrenceID:     b.OccurrenceID,
			PersonIdentifier: b.PersonIdentifier,
			Direction:        domain.Direction(strings.ToUpper(b.Direction)),
			OccurredAt:       b.OccurredAt,
			AbsenceReason:    b.AbsenceReason,
			Accompaniment:    b.Accompaniment,
			Location:         b.Location,
			PrisonCode:       b.PrisonCode,
			Actor:            actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &movementOutput{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-movement",
		Method:      http.MethodGet,
		Path:        "/movements/{id}",
		Summary:     "Get movement",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*movementOutput, error) {
		m, err := e.Repo.GetMovement(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &movementOutput{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "correct-movement",
		Method:      http.MethodPatch,
		Path:        "/movements/{id}",
		Summary:     "Correct a recorded movement",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body CorrectMovementRequest `json:"body"`
	}) (*movementOutput, error) {
		m, err := e.CorrectMovement(ctx, input.ID, input.Body.Location, input.Body.AbsenceReason, input.Body.Reason, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &movementOutput{Body: m}, nil
	})
}
