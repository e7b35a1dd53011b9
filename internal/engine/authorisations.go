package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"tapline/internal/absence"
	"tapline/internal/domain"
)

// AuthorisationCreateOptions are parameters for creating an authorisation.
type AuthorisationCreateOptions struct {
	ID               string
	PersonIdentifier string
	PrisonCode       string
	Start            time.Time
	End              time.Time
	Repeat           bool
	Categorisation   domain.Categorisation
	Accompaniment    string
	Transport        string
	Comments         string
	Schedule         *domain.Schedule
	// Approved creates the authorisation already approved, as when syncing
	// an approval made elsewhere.
	Approved bool
	// Location of the single occurrence created for a non-repeat authorisation.
	Location string
	Actor    Actor
}

// CreateAuthorisation resolves the categorisation and stores a new
// authorisation. A non-repeat authorisation gets one occurrence spanning it.
func (e Engine) CreateAuthorisation(ctx context.Context, opts AuthorisationCreateOptions) (domain.Authorisation, error) {
	if strings.TrimSpace(opts.PersonIdentifier) == "" {
		return domain.Authorisation{}, fmt.Errorf("person identifier is required")
	}
	if strings.TrimSpace(opts.PrisonCode) == "" {
		return domain.Authorisation{}, fmt.Errorf("prison code is required")
	}
	if opts.End.Before(opts.Start) {
		return domain.Authorisation{}, fmt.Errorf("%w: end before start", absence.ErrInvalidRange)
	}
	if opts.Schedule != nil {
		if _, _, err := scheduleOffsets(*opts.Schedule); err != nil {
			return domain.Authorisation{}, err
		}
	}
	c, path, err := e.Resolver.Categorise(opts.Categorisation)
	if err != nil {
		return domain.Authorisation{}, err
	}
	if err := e.requireCode(domain.DomainAccompaniedBy, opts.Accompaniment); err != nil {
		return domain.Authorisation{}, err
	}
	if err := e.requireCode(domain.DomainTransport, opts.Transport); err != nil {
		return domain.Authorisation{}, err
	}

	now := e.now()
	a := domain.Authorisation{
		ID:               newID(opts.ID),
		PersonIdentifier: opts.PersonIdentifier,
		PrisonCode:       opts.PrisonCode,
		Start:            opts.Start.UTC(),
		End:              opts.End.UTC(),
		Repeat:           opts.Repeat,
		Categorisation:   c,
		ReasonPath:       path,
		Accompaniment:    opts.Accompaniment,
		Transport:        opts.Transport,
		Comments:         opts.Comments,
		Status:           domain.AuthorisationPending,
		Schedule:         opts.Schedule,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if opts.Approved {
		a.Status = domain.AuthorisationApproved
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Authorisation{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertAuthorisationTx(ctx, tx, a); err != nil {
		return domain.Authorisation{}, fmt.Errorf("insert authorisation: %w", err)
	}
	uow := absence.NewUnitOfWork(opts.Actor.source())
	uow.Stage(absence.AuthorisationRef(a), absence.Action{Kind: absence.ActionAuthorisationCreated})

	if !a.Repeat && a.End.After(a.Start) {
		o := occurrenceFor(a, a.Start, a.End, now)
		o.Location = opts.Location
		if err := e.insertOccurrence(ctx, tx, uow, a, &o); err != nil {
			return domain.Authorisation{}, err
		}
	}
	if err := e.commit(ctx, tx, uow, opts.Actor); err != nil {
		return domain.Authorisation{}, err
	}
	return a, nil
}

// ApproveAuthorisation approves a pending authorisation and schedules its occurrences.
func (e Engine) ApproveAuthorisation(ctx context.Context, id, reason string, actor Actor) (domain.Authorisation, error) {
	return e.transition(ctx, id, reason, actor, absence.Approve, false)
}

// DenyAuthorisation denies a pending authorisation. Occurrences are
// recomputed, so ones with recorded movements keep their derived status.
func (e Engine) DenyAuthorisation(ctx context.Context, id, reason string, actor Actor) (domain.Authorisation, error) {
	return e.transition(ctx, id, reason, actor, absence.Deny, false)
}

// CancelAuthorisation cancels a pending authorisation and every occurrence
// that has not returned.
func (e Engine) CancelAuthorisation(ctx context.Context, id, reason string, actor Actor) (domain.Authorisation, error) {
	return e.transition(ctx, id, reason, actor, absence.Cancel, true)
}

// DeferAuthorisation records a deferral decision. The authorisation stays pending.
func (e Engine) DeferAuthorisation(ctx context.Context, id, reason string, actor Actor) (domain.Authorisation, error) {
	return e.transition(ctx, id, reason, actor, absence.Defer, false)
}

type authorisationOp func(*domain.Authorisation, string) ([]absence.Action, error)

func (e Engine) transition(ctx context.Context, id, reason string, actor Actor, op authorisationOp, cancel bool) (domain.Authorisation, error) {
	return e.mutateAuthorisation(ctx, id, actor, func(tx *sql.Tx, a *domain.Authorisation, uow *absence.UnitOfWork) error {
		actions, err := op(a, reason)
		if err != nil {
			return err
		}
		if len(actions) == 0 {
			return nil
		}
		uow.Stage(absence.AuthorisationRef(*a), actions...)
		if cancel {
			return e.cancelOccurrences(ctx, tx, uow, *a, reason)
		}
		return e.recalculateOccurrences(ctx, tx, uow, *a)
	})
}

// ChangeDateRange moves the authorisation window. The new range must still
// contain every occurrence.
func (e Engine) ChangeDateRange(ctx context.Context, id string, start, end time.Time, reason string, actor Actor) (domain.Authorisation, error) {
	start, end = start.UTC(), end.UTC()
	return e.mutateAuthorisation(ctx, id, actor, func(tx *sql.Tx, a *domain.Authorisation, uow *absence.UnitOfWork) error {
		occurrences, err := e.Repo.ListOccurrencesForAuthorisationTx(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		if span, ok := absence.SpanOf(occurrences); ok && !(absence.Span{Start: start, End: end}).Contains(span) {
			return fmt.Errorf("%w: occurrences run from %s to %s", absence.ErrOutsideRange,
				span.Start.Format(time.RFC3339), span.End.Format(time.RFC3339))
		}
		actions, err := absence.ApplyDateRange(a, start, end, e.now(), reason)
		if err != nil {
			return err
		}
		if len(actions) == 0 {
			return nil
		}
		uow.Stage(absence.AuthorisationRef(*a), actions...)
		return e.recalculate(ctx, tx, uow, *a, occurrences)
	})
}

// Recategorise replaces the categorisation. Occurrences carry a copy of it;
// ones still to come are updated alongside, settled ones keep the copy they
// ran under.
func (e Engine) Recategorise(ctx context.Context, id string, c domain.Categorisation, reason string, actor Actor) (domain.Authorisation, error) {
	resolved, path, err := e.Resolver.Categorise(c)
	if err != nil {
		return domain.Authorisation{}, err
	}
	return e.mutateAuthorisation(ctx, id, actor, func(tx *sql.Tx, a *domain.Authorisation, uow *absence.UnitOfWork) error {
		actions := absence.ApplyCategorisation(a, resolved, path, reason)
		if len(actions) == 0 {
			return nil
		}
		uow.Stage(absence.AuthorisationRef(*a), actions...)
		occurrences, err := e.Repo.ListOccurrencesForAuthorisationTx(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		now := e.now()
		for i := range occurrences {
			o := &occurrences[i]
			if o.Status.Settled() || o.Categorisation == resolved {
				continue
			}
			o.Categorisation = resolved
			o.UpdatedAt = now
			if err := e.Repo.UpdateOccurrenceTx(ctx, tx, o); err != nil {
				return fmt.Errorf("update occurrence %s: %w", o.ID, err)
			}
		}
		return nil
	})
}

// AuthorisationDetails holds optional detail edits. Nil fields are left alone.
type AuthorisationDetails struct {
	Accompaniment *string
	Transport     *string
	Comments      *string
}

// UpdateAuthorisationDetails applies detail edits. Occurrences that still
// hold the previous parent value follow the change; overridden ones keep
// their own value.
func (e Engine) UpdateAuthorisationDetails(ctx context.Context, id string, details AuthorisationDetails, reason string, actor Actor) (domain.Authorisation, error) {
	if details.Accompaniment != nil {
		if err := e.requireCode(domain.DomainAccompaniedBy, *details.Accompaniment); err != nil {
			return domain.Authorisation{}, err
		}
	}
	if details.Transport != nil {
		if err := e.requireCode(domain.DomainTransport, *details.Transport); err != nil {
			return domain.Authorisation{}, err
		}
	}
	return e.mutateAuthorisation(ctx, id, actor, func(tx *sql.Tx, a *domain.Authorisation, uow *absence.UnitOfWork) error {
		before := *a
		var actions []absence.Action
		if details.Accompaniment != nil {
			actions = append(actions, absence.ApplyAccompaniment(a, *details.Accompaniment, reason)...)
		}
		if details.Transport != nil {
			actions = append(actions, absence.ApplyTransport(a, *details.Transport, reason)...)
		}
		if details.Comments != nil {
			actions = append(actions, absence.ApplyComments(a, *details.Comments, reason)...)
		}
		if len(actions) == 0 {
			return nil
		}
		uow.Stage(absence.AuthorisationRef(*a), actions...)
		occurrences, err := e.Repo.ListOccurrencesForAuthorisationTx(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		now := e.now()
		for i := range occurrences {
			o := &occurrences[i]
			changed := follow(&o.Accompaniment, before.Accompaniment, a.Accompaniment)
			changed = follow(&o.Transport, before.Transport, a.Transport) || changed
			changed = follow(&o.Comments, before.Comments, a.Comments) || changed
			if !changed {
				continue
			}
			o.UpdatedAt = now
			if err := e.Repo.UpdateOccurrenceTx(ctx, tx, o); err != nil {
				return fmt.Errorf("update occurrence %s: %w", o.ID, err)
			}
		}
		return nil
	})
}

// follow moves field from old to next when it was not overridden.
func follow(field *string, old, next string) bool {
	if old == next || *field != old {
		return false
	}
	*field = next
	return true
}

// mutateAuthorisation loads an authorisation, runs fn in the transaction and
// writes the authorisation back when fn staged anything for it.
func (e Engine) mutateAuthorisation(ctx context.Context, id string, actor Actor, fn func(*sql.Tx, *domain.Authorisation, *absence.UnitOfWork) error) (domain.Authorisation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Authorisation{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAuthorisationTx(ctx, tx, id)
	if err != nil {
		return domain.Authorisation{}, err
	}
	uow := absence.NewUnitOfWork(actor.source())
	if err := fn(tx, &a, uow); err != nil {
		return domain.Authorisation{}, err
	}
	if uow.Pending() == 0 {
		return a, nil
	}
	a.UpdatedAt = e.now()
	if err := e.Repo.UpdateAuthorisationTx(ctx, tx, &a); err != nil {
		return domain.Authorisation{}, err
	}
	if err := e.commit(ctx, tx, uow, actor); err != nil {
		return domain.Authorisation{}, err
	}
	return a, nil
}

func (e Engine) recalculateOccurrences(ctx context.Context, tx *sql.Tx, uow *absence.UnitOfWork, a domain.Authorisation) error {
	occurrences, err := e.Repo.ListOccurrencesForAuthorisationTx(ctx, tx, a.ID)
	if err != nil {
		return err
	}
	return e.recalculate(ctx, tx, uow, a, occurrences)
}

func (e Engine) recalculate(ctx context.Context, tx *sql.Tx, uow *absence.UnitOfWork, a domain.Authorisation, occurrences []domain.Occurrence) error {
	now := e.now()
	for i := range occurrences {
		o := &occurrences[i]
		before := o.Status
		actions := absence.Recalculate(o, a.Status, now)
		if o.Status == before && len(actions) == 0 {
			continue
		}
		uow.Stage(absence.OccurrenceRef(*o), actions...)
		o.UpdatedAt = now
		if err := e.Repo.UpdateOccurrenceTx(ctx, tx, o); err != nil {
			return fmt.Errorf("update occurrence %s: %w", o.ID, err)
		}
	}
	return nil
}

// cancelOccurrences cancels every occurrence that can still be cancelled.
// Completed, denied and expired occurrences are left as they are.
func (e Engine) cancelOccurrences(ctx context.Context, tx *sql.Tx, uow *absence.UnitOfWork, a domain.Authorisation, reason string) error {
	occurrences, err := e.Repo.ListOccurrencesForAuthorisationTx(ctx, tx, a.ID)
	if err != nil {
		return err
	}
	now := e.now()
	for i := range occurrences {
		o := &occurrences[i]
		if o.Status.Settled() {
			continue
		}
		actions, err := absence.CancelOccurrence(o, reason)
		if err != nil {
			return err
		}
		uow.Stage(absence.OccurrenceRef(*o), actions...)
		o.UpdatedAt = now
		if err := e.Repo.UpdateOccurrenceTx(ctx, tx, o); err != nil {
			return fmt.Errorf("update occurrence %s: %w", o.ID, err)
		}
	}
	return nil
}
