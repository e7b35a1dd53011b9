package absence

import "tapline/internal/domain"

// ActionKind names a mutation that actually changed an entity. The set is
// closed: EventFor handles every kind.
type ActionKind string

const (
	ActionAuthorisationCreated              ActionKind = "authorisation.created"
	ActionAuthorisationApproved             ActionKind = "authorisation.approved"
	ActionAuthorisationDenied               ActionKind = "authorisation.denied"
	ActionAuthorisationCancelled            ActionKind = "authorisation.cancelled"
	ActionAuthorisationDeferred             ActionKind = "authorisation.deferred"
	ActionAuthorisationExpired              ActionKind = "authorisation.expired"
	ActionAuthorisationDateRangeChanged     ActionKind = "authorisation.date_range_changed"
	ActionAuthorisationRecategorised        ActionKind = "authorisation.recategorised"
	ActionAuthorisationAccompanimentChanged ActionKind = "authorisation.accompaniment_changed"
	ActionAuthorisationTransportChanged     ActionKind = "authorisation.transport_changed"
	ActionAuthorisationCommentsChanged      ActionKind = "authorisation.comments_changed"

	ActionOccurrenceCreated              ActionKind = "occurrence.created"
	ActionOccurrenceScheduled            ActionKind = "occurrence.scheduled"
	ActionOccurrenceMarkedOverdue        ActionKind = "occurrence.marked_overdue"
	ActionOccurrenceExpired              ActionKind = "occurrence.expired"
	ActionOccurrenceCancelled            ActionKind = "occurrence.cancelled"
	ActionOccurrenceDenied               ActionKind = "occurrence.denied"
	ActionOccurrenceRescheduled          ActionKind = "occurrence.rescheduled"
	ActionOccurrenceLocationChanged      ActionKind = "occurrence.location_changed"
	ActionOccurrenceAccompanimentChanged ActionKind = "occurrence.accompaniment_changed"
	ActionOccurrenceTransportChanged     ActionKind = "occurrence.transport_changed"
	ActionOccurrenceCommentsChanged      ActionKind = "occurrence.comments_changed"

	ActionMovementDeparted  ActionKind = "movement.departed"
	ActionMovementReturned  ActionKind = "movement.returned"
	ActionMovementCorrected ActionKind = "movement.corrected"
)

// Action is a staged mutation with the optional reason supplied by the user.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Reason string     `json:"reason,omitempty"`
}

func act(kind ActionKind, reason string) []Action {
	return []Action{{Kind: kind, Reason: reason}}
}

type EntityKind string

const (
	EntityAuthorisation EntityKind = "authorisation"
	EntityOccurrence    EntityKind = "occurrence"
	EntityMovement      EntityKind = "movement"
)

// EntityRef identifies the entity an action was applied to.
type EntityRef struct {
	Kind             EntityKind
	ID               string
	PersonIdentifier string
}

func AuthorisationRef(a domain.Authorisation) EntityRef {
	return EntityRef{Kind: EntityAuthorisation, ID: a.ID, PersonIdentifier: a.PersonIdentifier}
}

func OccurrenceRef(o domain.Occurrence) EntityRef {
	return EntityRef{Kind: EntityOccurrence, ID: o.ID, PersonIdentifier: o.PersonIdentifier}
}

func MovementRef(m domain.Movement) EntityRef {
	return EntityRef{Kind: EntityMovement, ID: m.ID, PersonIdentifier: m.PersonIdentifier}
}
