// Package absence holds the pure state machines for temporary absences.
// Nothing here touches storage or the clock; every operation returns the
// actions it produced so the caller can stage them in a UnitOfWork.
package absence

import (
	"errors"
	"fmt"
	"time"

	"tapline/internal/domain"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrOutsideRange reports a date range that does not contain the windows it must hold.
	ErrOutsideRange = errors.New("date range does not contain occurrences")
	ErrInvalidRange = errors.New("invalid date range")
)

// InvalidTransitionError is returned when a guarded operation is attempted
// from a status that does not allow it.
type InvalidTransitionError struct {
	Entity    EntityKind
	ID        string
	From      string
	Operation string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s while %s", e.Entity, e.ID, e.Operation, e.From)
}

func (e InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

func Approve(a *domain.Authorisation, reason string) ([]Action, error) {
	return transition(a, domain.AuthorisationApproved, "approve", ActionAuthorisationApproved, reason)
}

func Deny(a *domain.Authorisation, reason string) ([]Action, error) {
	return transition(a, domain.AuthorisationDenied, "deny", ActionAuthorisationDenied, reason)
}

func Cancel(a *domain.Authorisation, reason string) ([]Action, error) {
	return transition(a, domain.AuthorisationCancelled, "cancel", ActionAuthorisationCancelled, reason)
}

// Defer keeps the authorisation pending. It only succeeds while the
// authorisation is still pending, where it is a no-op.
func Defer(a *domain.Authorisation, reason string) ([]Action, error) {
	return transition(a, domain.AuthorisationPending, "defer", ActionAuthorisationDeferred, reason)
}

func transition(a *domain.Authorisation, target domain.AuthorisationStatus, op string, kind ActionKind, reason string) ([]Action, error) {
	if a.Status == target {
		return nil, nil
	}
	if a.Status != domain.AuthorisationPending {
		return nil, InvalidTransitionError{Entity: EntityAuthorisation, ID: a.ID, From: string(a.Status), Operation: op}
	}
	a.Status = target
	return act(kind, reason), nil
}

// Expire moves a pending authorisation to EXPIRED. Any other status is left alone.
func Expire(a *domain.Authorisation) []Action {
	if a.Status != domain.AuthorisationPending {
		return nil
	}
	a.Status = domain.AuthorisationExpired
	return act(ActionAuthorisationExpired, "")
}

// PermitsOccurrences reports whether new occurrences may be added.
func PermitsOccurrences(a domain.Authorisation) bool {
	return a.Status == domain.AuthorisationPending || a.Status == domain.AuthorisationApproved
}

// Span is the minimum start and maximum end of a set of windows.
type Span struct {
	Start time.Time
	End   time.Time
}

// SpanOf returns the span covering every occurrence. ok is false when there are none.
func SpanOf(occurrences []domain.Occurrence) (span Span, ok bool) {
	for i, o := range occurrences {
		if i == 0 || o.Start.Before(span.Start) {
			span.Start = o.Start
		}
		if i == 0 || o.End.After(span.End) {
			span.End = o.End
		}
	}
	return span, len(occurrences) > 0
}

// Contains reports whether [start, end] holds the span.
func (s Span) Contains(inner Span) bool {
	return !inner.Start.Before(s.Start) && !inner.End.After(s.End)
}

// ApplyDateRange changes the authorisation window. The caller checks that the
// new range still contains the existing occurrences. An end already in the
// past also expires a pending authorisation.
func ApplyDateRange(a *domain.Authorisation, start, end, now time.Time, reason string) ([]Action, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidRange, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	var actions []Action
	if !a.Start.Equal(start) || !a.End.Equal(end) {
		a.Start = start
		a.End = end
		actions = append(actions, act(ActionAuthorisationDateRangeChanged, reason)...)
	}
	if end.Before(now) {
		actions = append(actions, Expire(a)...)
	}
	return actions, nil
}

func ApplyCategorisation(a *domain.Authorisation, c domain.Categorisation, path domain.ReasonPath, reason string) []Action {
	if a.Categorisation == c && a.ReasonPath.Equal(path) {
		return nil
	}
	a.Categorisation = c
	a.ReasonPath = path
	return act(ActionAuthorisationRecategorised, reason)
}

func ApplyAccompaniment(a *domain.Authorisation, code, reason string) []Action {
	return applyString(&a.Accompaniment, code, ActionAuthorisationAccompanimentChanged, reason)
}

func ApplyTransport(a *domain.Authorisation, code, reason string) []Action {
	return applyString(&a.Transport, code, ActionAuthorisationTransportChanged, reason)
}

func ApplyComments(a *domain.Authorisation, comments, reason string) []Action {
	return applyString(&a.Comments, comments, ActionAuthorisationCommentsChanged, reason)
}

func applyString(field *string, value string, kind ActionKind, reason string) []Action {
	if *field == value {
		return nil
	}
	*field = value
	return act(kind, reason)
}
