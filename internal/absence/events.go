package absence

import "tapline/internal/domain"

// Event types published for temporary absences.
const (
	EventAuthorisationCreated       = "person.temporary-absence-authorisation.created"
	EventAuthorisationApproved      = "person.temporary-absence-authorisation.approved"
	EventAuthorisationDenied        = "person.temporary-absence-authorisation.denied"
	EventAuthorisationCancelled     = "person.temporary-absence-authorisation.cancelled"
	EventAuthorisationDeferred      = "person.temporary-absence-authorisation.deferred"
	EventAuthorisationExpired       = "person.temporary-absence-authorisation.expired"
	EventAuthorisationDateRange     = "person.temporary-absence-authorisation.date-range-changed"
	EventAuthorisationRecategorised = "person.temporary-absence-authorisation.recategorised"
	EventAuthorisationChanged       = "person.temporary-absence-authorisation.changed"

	EventOccurrenceCreated     = "person.temporary-absence.created"
	EventOccurrenceScheduled   = "person.temporary-absence.scheduled"
	EventOccurrenceOverdue     = "person.temporary-absence.overdue"
	EventOccurrenceExpired     = "person.temporary-absence.expired"
	EventOccurrenceCancelled   = "person.temporary-absence.cancelled"
	EventOccurrenceDenied      = "person.temporary-absence.denied"
	EventOccurrenceRescheduled = "person.temporary-absence.rescheduled"
	EventOccurrenceChanged     = "person.temporary-absence.changed"

	EventMovementDeparted  = "person.temporary-absence-movement.departed"
	EventMovementReturned  = "person.temporary-absence-movement.returned"
	EventMovementCorrected = "person.temporary-absence-movement.corrected"
)

// EventFor maps an action to the event it produces, if any. Comment edits are
// audited but not published, and the detail edits of one entity share a
// single changed event.
func EventFor(ref EntityRef, a Action, source domain.Source) (domain.Event, bool) {
	var typ string
	switch a.Kind {
	case ActionAuthorisationCreated:
		typ = EventAuthorisationCreated
	case ActionAuthorisationApproved:
		typ = EventAuthorisationApproved
	case ActionAuthorisationDenied:
		typ = EventAuthorisationDenied
	case ActionAuthorisationCancelled:
		typ = EventAuthorisationCancelled
	case ActionAuthorisationDeferred:
		typ = EventAuthorisationDeferred
	case ActionAuthorisationExpired:
		typ = EventAuthorisationExpired
	case ActionAuthorisationDateRangeChanged:
		typ = EventAuthorisationDateRange
	case ActionAuthorisationRecategorised:
		typ = EventAuthorisationRecategorised
	case ActionAuthorisationAccompanimentChanged, ActionAuthorisationTransportChanged:
		typ = EventAuthorisationChanged
	case ActionOccurrenceCreated:
		typ = EventOccurrenceCreated
	case ActionOccurrenceScheduled:
		typ = EventOccurrenceScheduled
	case ActionOccurrenceMarkedOverdue:
		typ = EventOccurrenceOverdue
	case ActionOccurrenceExpired:
		typ = EventOccurrenceExpired
	case ActionOccurrenceCancelled:
		typ = EventOccurrenceCancelled
	case ActionOccurrenceDenied:
		typ = EventOccurrenceDenied
	case ActionOccurrenceRescheduled:
		typ = EventOccurrenceRescheduled
	case ActionOccurrenceLocationChanged, ActionOccurrenceAccompanimentChanged, ActionOccurrenceTransportChanged:
		typ = EventOccurrenceChanged
	case ActionMovementDeparted:
		typ = EventMovementDeparted
	case ActionMovementReturned:
		typ = EventMovementReturned
	case ActionMovementCorrected:
		typ = EventMovementCorrected
	case ActionAuthorisationCommentsChanged, ActionOccurrenceCommentsChanged:
		return domain.Event{}, false
	default:
		return domain.Event{}, false
	}
	return domain.Event{
		Type:             typ,
		PersonIdentifier: ref.PersonIdentifier,
		EntityID:         ref.ID,
		Source:           source,
	}, true
}

// StagedAction is an action together with the entity it was applied to.
type StagedAction struct {
	Entity EntityRef
	Action Action
}

// UnitOfWork buffers the actions of one transaction.
type UnitOfWork struct {
	source domain.Source
	staged []StagedAction
}

func NewUnitOfWork(source domain.Source) *UnitOfWork {
	if source == "" {
		source = domain.SourceDPS
	}
	return &UnitOfWork{source: source}
}

func (u *UnitOfWork) Source() domain.Source { return u.source }

// Stage appends actions in call order.
func (u *UnitOfWork) Stage(ref EntityRef, actions ...Action) {
	for _, a := range actions {
		u.staged = append(u.staged, StagedAction{Entity: ref, Action: a})
	}
}

// Pending reports how many actions are buffered.
func (u *UnitOfWork) Pending() int { return len(u.staged) }

// Drained is the result of draining a unit of work.
type Drained struct {
	Actions []StagedAction
	Events  []domain.Event
}

// Drain translates the buffered actions into a de-duplicated set of events
// and empties the buffer, so each action is translated at most once.
func (u *UnitOfWork) Drain() Drained {
	staged := u.staged
	u.staged = nil
	out := Drained{Actions: staged}
	seen := make(map[domain.Event]struct{}, len(staged))
	for _, s := range staged {
		evt, ok := EventFor(s.Entity, s.Action, u.source)
		if !ok {
			continue
		}
		if _, dup := seen[evt]; dup {
			continue
		}
		seen[evt] = struct{}{}
		out.Events = append(out.Events, evt)
	}
	return out
}
