package server

import (
	"time"

	"tapline/internal/domain"
	"tapline/internal/engine"
)

// Request payloads

type CreateAuthorisationRequest struct {
	ID               string                `json:"id,omitempty"`
	PersonIdentifier string                `json:"person_identifier" minLength:"1"`
	PrisonCode       string                `json:"prison_code" minLength:"1"`
	Start            time.Time             `json:"start" format:"date-time"`
	End              time.Time             `json:"end" format:"date-time"`
	Repeat           bool                  `json:"repeat,omitempty"`
	Categorisation   domain.Categorisation `json:"categorisation"`
	Accompaniment    string                `json:"accompaniment,omitempty"`
	Transport        string                `json:"transport,omitempty"`
	Comments         string                `json:"comments,omitempty"`
	Schedule         *domain.Schedule      `json:"schedule,omitempty"`
	Approved         bool                  `json:"approved,omitempty"`
	Location         string                `json:"location,omitempty"`
}

func (r CreateAuthorisationRequest) options(actor engine.Actor) engine.AuthorisationCreateOptions {
	return engine.AuthorisationCreateOptions{
		ID:               r.ID,
		PersonIdentifier: r.PersonIdentifier,
		PrisonCode:       r.PrisonCode,
		Start:            r.Start,
		End:              r.End,
		Repeat:           r.Repeat,
		Categorisation:   r.Categorisation,
		Accompaniment:    r.Accompaniment,
		Transport:        r.Transport,
		Comments:         r.Comments,
		Schedule:         r.Schedule,
		Approved:         r.Approved,
		Location:         r.Location,
		Actor:            actor,
	}
}

type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type DateRangeRequest struct {
	Start  time.Time `json:"start" format:"date-time"`
	End    time.Time `json:"end" format:"date-time"`
	Reason string    `json:"reason,omitempty"`
}

type CategoriseRequest struct {
	Categorisation domain.Categorisation `json:"categorisation"`
	Reason         string                `json:"reason,omitempty"`
}

type AuthorisationDetailsRequest struct {
	Accompaniment *string `json:"accompaniment,omitempty"`
	Transport     *string `json:"transport,omitempty"`
	Comments      *string `json:"comments,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

type GenerateRequest struct {
	From time.Time `json:"from" format:"date-time"`
	To   time.Time `json:"to" format:"date-time"`
}

type CreateOccurrenceRequest struct {
	AuthorisationID string    `json:"authorisation_id" minLength:"1"`
	Start           time.Time `json:"start" format:"date-time"`
	End             time.Time `json:"end" format:"date-time"`
	Location        string    `json:"location,omitempty"`
	Accompaniment   string    `json:"accompaniment,omitempty"`
	Transport       string    `json:"transport,omitempty"`
	Comments        string    `json:"comments,omitempty"`
}

type OccurrenceDetailsRequest struct {
	Location      *string `json:"location,omitempty"`
	Accompaniment *string `json:"accompaniment,omitempty"`
	Transport     *string `json:"transport,omitempty"`
	Comments      *string `json:"comments,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

type RecordMovementRequest struct {
	ID               string    `json:"id,omitempty"`
	OccurrenceID     string    `json:"occurrence_id,omitempty"`
	PersonIdentifier string    `json:"person_identifier,omitempty"`
	Direction        string    `json:"direction" enum:"IN,OUT,in,out"`
	OccurredAt       time.Time `json:"occurred_at" format:"date-time"`
	AbsenceReason    string    `json:"absence_reason,omitempty"`
	Accompaniment    string    `json:"accompaniment,omitempty"`
	Location         string    `json:"location,omitempty"`
	PrisonCode       string    `json:"prison_code" minLength:"1"`
}

type CorrectMovementRequest struct {
	Location      string `json:"location,omitempty"`
	AbsenceReason string `json:"absence_reason,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type ResolveRequest struct {
	Categorisation domain.Categorisation `json:"categorisation"`
}

// Response payloads

type ResolveResponse struct {
	Categorisation domain.Categorisation `json:"categorisation"`
	ReasonPath     domain.ReasonPath     `json:"reason_path"`
}

type EventResponse struct {
	ID               int64         `json:"id"`
	EventID          string        `json:"event_id"`
	Type             string        `json:"type"`
	OccurredAt       time.Time     `json:"occurred_at" format:"date-time"`
	PersonIdentifier string        `json:"person_identifier"`
	EntityID         string        `json:"entity_id"`
	Source           domain.Source `json:"source"`
	Published        bool          `json:"published"`
	PublishedAt      *time.Time    `json:"published_at,omitempty" format:"date-time"`
	Attempts         int           `json:"attempts"`
	LastError        string        `json:"last_error,omitempty"`
}
