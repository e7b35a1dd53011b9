package absence

import (
	"fmt"
	"time"

	"tapline/internal/domain"
)

// CalculateStatus derives an occurrence status from its signals. Rules are
// evaluated in priority order and the first match wins:
//
//  1. recorded movements
//  2. expiry
//  3. sticky cancellation
//  4. the authorisation status
//
// Actions are only returned when the status changes, so calling it again with
// the same inputs returns the same status and no actions.
func CalculateStatus(auth domain.AuthorisationStatus, end time.Time, movements []domain.Movement, now time.Time, current domain.OccurrenceStatus) (domain.OccurrenceStatus, []Action) {
	if status, ok := movementStatus(end, movements, now); ok {
		if status == domain.OccurrenceOverdue && current != domain.OccurrenceOverdue {
			return status, act(ActionOccurrenceMarkedOverdue, "")
		}
		return status, nil
	}
	if expired(auth, end, now, current) {
		if current != domain.OccurrenceExpired {
			return domain.OccurrenceExpired, act(ActionOccurrenceExpired, "")
		}
		return domain.OccurrenceExpired, nil
	}
	if current == domain.OccurrenceCancelled {
		return domain.OccurrenceCancelled, nil
	}
	return mirror(auth, current)
}

func movementStatus(end time.Time, movements []domain.Movement, now time.Time) (domain.OccurrenceStatus, bool) {
	if len(movements) == 0 {
		return "", false
	}
	for _, m := range movements {
		if m.Direction == domain.DirectionIn {
			return domain.OccurrenceCompleted, true
		}
	}
	if end.After(now) {
		return domain.OccurrenceInProgress, true
	}
	return domain.OccurrenceOverdue, true
}

func expired(auth domain.AuthorisationStatus, end, now time.Time, current domain.OccurrenceStatus) bool {
	if current == domain.OccurrenceExpired {
		return true
	}
	switch auth {
	case domain.AuthorisationPending, domain.AuthorisationApproved, domain.AuthorisationExpired:
	default:
		return false
	}
	switch current {
	case "", domain.OccurrencePending, domain.OccurrenceScheduled:
	default:
		return false
	}
	return end.Before(now)
}

func mirror(auth domain.AuthorisationStatus, current domain.OccurrenceStatus) (domain.OccurrenceStatus, []Action) {
	var (
		next domain.OccurrenceStatus
		kind ActionKind
	)
	switch auth {
	case domain.AuthorisationApproved:
		next = domain.OccurrenceScheduled
		if current == domain.OccurrencePending {
			kind = ActionOccurrenceScheduled
		}
	case domain.AuthorisationPending:
		next = domain.OccurrencePending
	case domain.AuthorisationDenied:
		next, kind = domain.OccurrenceDenied, ActionOccurrenceDenied
	case domain.AuthorisationCancelled:
		next, kind = domain.OccurrenceCancelled, ActionOccurrenceCancelled
	case domain.AuthorisationExpired:
		next, kind = domain.OccurrenceExpired, ActionOccurrenceExpired
	default:
		return current, nil
	}
	if next == current || kind == "" {
		return next, nil
	}
	return next, act(kind, "")
}

// Recalculate updates the occurrence status in place from its movements.
// An explicitly cancelled occurrence is left alone.
func Recalculate(o *domain.Occurrence, auth domain.AuthorisationStatus, now time.Time) []Action {
	if o.CancelledExplicitly && o.Status == domain.OccurrenceCancelled {
		return nil
	}
	status, actions := CalculateStatus(auth, o.End, o.Movements, now, o.Status)
	o.Status = status
	return actions
}

// CancelOccurrence cancels a single occurrence. It also overrides a
// movement-derived IN_PROGRESS or OVERDUE status and keeps overriding it
// until Reschedule. There is no equivalent explicit deny: denial only ever
// arrives through the authorisation, so a denied occurrence with movements
// keeps its movement-derived status.
func CancelOccurrence(o *domain.Occurrence, reason string) ([]Action, error) {
	switch o.Status {
	case domain.OccurrenceCancelled:
		return nil, nil
	case domain.OccurrenceCompleted, domain.OccurrenceDenied, domain.OccurrenceExpired:
		return nil, InvalidTransitionError{Entity: EntityOccurrence, ID: o.ID, From: string(o.Status), Operation: "cancel"}
	}
	o.Status = domain.OccurrenceCancelled
	o.CancelledExplicitly = true
	return act(ActionOccurrenceCancelled, reason), nil
}

// Reschedule moves the occurrence window. A cancelled or expired occurrence is
// put back to PENDING so the next recalculation derives its status afresh.
// Occurrences with recorded movements cannot be moved.
func Reschedule(o *domain.Occurrence, start, end time.Time, reason string) ([]Action, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end must be after start", ErrInvalidRange)
	}
	if len(o.Movements) > 0 || o.Status == domain.OccurrenceDenied {
		return nil, InvalidTransitionError{Entity: EntityOccurrence, ID: o.ID, From: string(o.Status), Operation: "reschedule"}
	}
	reset := o.Status == domain.OccurrenceCancelled || o.Status == domain.OccurrenceExpired
	if o.Start.Equal(start) && o.End.Equal(end) && !reset {
		return nil, nil
	}
	o.Start = start
	o.End = end
	if reset {
		o.Status = domain.OccurrencePending
		o.CancelledExplicitly = false
	}
	return act(ActionOccurrenceRescheduled, reason), nil
}

func ApplyOccurrenceLocation(o *domain.Occurrence, location, reason string) []Action {
	return applyString(&o.Location, location, ActionOccurrenceLocationChanged, reason)
}

func ApplyOccurrenceAccompaniment(o *domain.Occurrence, code, reason string) []Action {
	return applyString(&o.Accompaniment, code, ActionOccurrenceAccompanimentChanged, reason)
}

func ApplyOccurrenceTransport(o *domain.Occurrence, code, reason string) []Action {
	return applyString(&o.Transport, code, ActionOccurrenceTransportChanged, reason)
}

func ApplyOccurrenceComments(o *domain.Occurrence, comments, reason string) []Action {
	return applyString(&o.Comments, comments, ActionOccurrenceCommentsChanged, reason)
}

// RecordedMovement returns the action for a newly recorded movement.
func RecordedMovement(m domain.Movement) []Action {
	if m.Direction == domain.DirectionIn {
		return act(ActionMovementReturned, "")
	}
	return act(ActionMovementDeparted, "")
}

// CorrectMovement applies a corrective edit. Direction is never editable.
func CorrectMovement(m *domain.Movement, location, absenceReason, reason string) []Action {
	if m.Location == location && m.AbsenceReason == absenceReason {
		return nil
	}
	m.Location = location
	m.AbsenceReason = absenceReason
	return act(ActionMovementCorrected, reason)
}
