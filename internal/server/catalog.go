package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"tapline/internal/domain"
	"tapline/internal/engine"
	"tapline/internal/outbox"
)

func registerReferenceData(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-reference-data",
		Method:      http.MethodGet,
		Path:        "/reference-data/{domain}",
		Summary:     "List reference data for a domain",
	}, func(ctx context.Context, input *struct {
		Domain string `path:"domain" example:"ABSENCE_REASON"`
	}) (*struct {
		Body []domain.ReferenceItem `json:"body"`
	}, error) {
		items, err := e.Repo.ListReferenceData(ctx, strings.ToUpper(input.Domain))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ReferenceItem{}
		}
		return &struct {
			Body []domain.ReferenceItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-categorisation",
		Method:      http.MethodPost,
		Path:        "/reference-data/resolve",
		Summary:     "Resolve a partial categorisation",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body ResolveRequest `json:"body"`
	}) (*struct {
		Body ResolveResponse `json:"body"`
	}, error) {
		c, path, err := e.Categorise(input.Body.Categorisation)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResolveResponse `json:"body"`
		}{Body: ResolveResponse{Categorisation: c, ReasonPath: path}}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit/{id}",
		Summary:     "Audit trail of an entity",
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.AuditEntry `json:"body"`
	}, error) {
		items, err := e.Repo.ListAudit(ctx, input.ID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.AuditEntry{}
		}
		return &struct {
			Body []domain.AuditEntry `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, store outbox.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent outbox events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type        string `query:"type"`
		EntityID    string `query:"entity_id"`
		Unpublished bool   `query:"unpublished"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		records, err := store.Recent(ctx, outbox.RecentFilter{
			Limit:           normalizeLimit(input.Limit),
			Type:            input.Type,
			EntityID:        input.EntityID,
			UnpublishedOnly: input.Unpublished,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(records))
		for _, r := range records {
			out = append(out, eventResponse(r))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func eventResponse(r outbox.Record) EventResponse {
	return EventResponse{
		ID:               r.ID,
		EventID:          r.Message.EventID,
		Type:             r.Message.Type,
		OccurredAt:       r.Message.OccurredAt,
		PersonIdentifier: r.Message.PersonIdentifier,
		EntityID:         r.Message.EntityID,
		Source:           r.Message.Source,
		Published:        r.Published,
		PublishedAt:      r.PublishedAt,
		Attempts:         r.Attempts,
		LastError:        r.LastError,
	}
}
