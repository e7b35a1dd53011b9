package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tapline/internal/absence"
	"tapline/internal/domain"
)

func occurrenceFor(a domain.Authorisation, start, end, now time.Time) domain.Occurrence {
	return domain.Occurrence{
		ID:               newID(""),
		AuthorisationID:  a.ID,
		PersonIdentifier: a.PersonIdentifier,
		Categorisation:   a.Categorisation,
		Start:            start.UTC(),
		End:              end.UTC(),
		Accompaniment:    a.Accompaniment,
		Transport:        a.Transport,
		Comments:         a.Comments,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// insertOccurrence derives the initial status of o and stores it.
func (e Engine) insertOccurrence(ctx context.Context, tx *sql.Tx, uow *absence.UnitOfWork, a domain.Authorisation, o *domain.Occurrence) error {
	actions := absence.Recalculate(o, a.Status, e.now())
	uow.Stage(absence.OccurrenceRef(*o), absence.Action{Kind: absence.ActionOccurrenceCreated})
	uow.Stage(absence.OccurrenceRef(*o), actions...)
	if err := e.Repo.InsertOccurrenceTx(ctx, tx, *o); err != nil {
		return fmt.Errorf("insert occurrence: %w", err)
	}
	return nil
}

func (e Engine) requireOpen(a domain.Authorisation, op string) error {
	if !absence.PermitsOccurrences(a) {
		return absence.InvalidTransitionError{Entity: absence.EntityAuthorisation, ID: a.ID, From: string(a.Status), Operation: op}
	}
	return nil
}

func requireWithin(a domain.Authorisation, start, end time.Time) error {
	if !(absence.Span{Start: a.Start, End: a.End}).Contains(absence.Span{Start: start, End: end}) {
		return fmt.Errorf("%w: window %s to %s is outside authorisation %s", absence.ErrOutsideRange,
			start.Format(time.RFC3339), end.Format(time.RFC3339), a.ID)
	}
	return nil
}

// OccurrenceCreateOptions are parameters for adding an occurrence. Empty
// detail fields inherit the authorisation's values.
type OccurrenceCreateOptions struct {
	AuthorisationID string
	Start           time.Time
	End             time.Time
	Location        string
	Accompaniment   string
	Transport       string
	Comments        string
	Actor           Actor
}

func (e Engine) CreateOccurrence(ctx context.Context, opts OccurrenceCreateOptions) (domain.Occurrence, error) {
	start, end := opts.Start.UTC(), opts.End.UTC()
	if !end.After(start) {
		return domain.Occurrence{}, fmt.Errorf("%w: end must be after start", absence.ErrInvalidRange)
	}
	if err := e.requireCode(domain.DomainAccompaniedBy, opts.Accompaniment); err != nil {
		return domain.Occurrence{}, err
	}
	if err := e.requireCode(domain.DomainTransport, opts.Transport); err != nil {
		return domain.Occurrence{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Occurrence{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAuthorisationTx(ctx, tx, opts.AuthorisationID)
	if err != nil {
		return domain.Occurrence{}, err
	}
	if err := e.requireOpen(a, "add occurrence"); err != nil {
		return domain.Occurrence{}, err
	}
	if err := requireWithin(a, start, end); err != nil {
		return domain.Occurrence{}, err
	}
	o := occurrenceFor(a, start, end, e.now())
	o.Location = opts.Location
	if opts.Accompaniment != "" {
		o.Accompaniment = opts.Accompaniment
	}
	if opts.Transport != "" {
		o.Transport = opts.Transport
	}
	if opts.Comments != "" {
		o.Comments = opts.Comments
	}
	uow := absence.NewUnitOfWork(opts.Actor.source())
	if err := e.insertOccurrence(ctx, tx, uow, a, &o); err != nil {
		return domain.Occurrence{}, err
	}
	if err := e.commit(ctx, tx, uow, opts.Actor); err != nil {
		return domain.Occurrence{}, err
	}
	return e.Repo.GetOccurrence(ctx, o.ID)
}

// GenerateOccurrences materialises the repeat schedule for every day in
// [from, to] that falls inside the authorisation. Days that already have an
// occurrence starting at the scheduled instant are skipped.
func (e Engine) GenerateOccurrences(ctx context.Context, authorisationID string, from, to time.Time, actor Actor) ([]domain.Occurrence, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: to before from", absence.ErrInvalidRange)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAuthorisationTx(ctx, tx, authorisationID)
	if err != nil {
		return nil, err
	}
	if !a.Repeat || a.Schedule == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSchedule, a.ID)
	}
	if err := e.requireOpen(a, "generate occurrences"); err != nil {
		return nil, err
	}
	startAt, returnAt, err := scheduleOffsets(*a.Schedule)
	if err != nil {
		return nil, err
	}
	existing, err := e.Repo.ListOccurrencesForAuthorisationTx(ctx, tx, a.ID)
	if err != nil {
		return nil, err
	}
	taken := make(map[int64]struct{}, len(existing))
	for _, o := range existing {
		taken[o.Start.UnixNano()] = struct{}{}
	}

	now := e.now()
	uow := absence.NewUnitOfWork(actor.source())
	var created []domain.Occurrence
	for day := midnight(from); !day.After(to); day = day.AddDate(0, 0, 1) {
		start, end := day.Add(startAt), day.Add(returnAt)
		if _, ok := taken[start.UnixNano()]; ok {
			continue
		}
		if requireWithin(a, start, end) != nil {
			continue
		}
		o := occurrenceFor(a, start, end, now)
		if err := e.insertOccurrence(ctx, tx, uow, a, &o); err != nil {
			return nil, err
		}
		taken[start.UnixNano()] = struct{}{}
		created = append(created, o)
	}
	if len(created) == 0 {
		return nil, nil
	}
	if err := e.commit(ctx, tx, uow, actor); err != nil {
		return nil, err
	}
	return created, nil
}

func midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// scheduleOffsets parses the daily template into offsets from midnight. A
// return time at or before the start time falls on the next day.
func scheduleOffsets(s domain.Schedule) (time.Duration, time.Duration, error) {
	start, err := clock(s.Start)
	if err != nil {
		return 0, 0, fmt.Errorf("schedule start: %w", err)
	}
	ret, err := clock(s.Return)
	if err != nil {
		return 0, 0, fmt.Errorf("schedule return: %w", err)
	}
	if ret <= start {
		ret += 24 * time.Hour
	}
	return start, ret, nil
}

func clock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q; expected HH:MM", v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// CancelOccurrence cancels one occurrence. It overrides movement-derived
// statuses but not completed, denied or expired ones.
func (e Engine) CancelOccurrence(ctx context.Context, id, reason string, actor Actor) (domain.Occurrence, error) {
	return e.mutateOccurrence(ctx, id, actor, func(_ domain.Authorisation, o *domain.Occurrence) ([]absence.Action, error) {
		return absence.CancelOccurrence(o, reason)
	})
}

// RescheduleOccurrence moves the occurrence window inside its authorisation
// and derives its status afresh.
func (e Engine) RescheduleOccurrence(ctx context.Context, id string, start, end time.Time, reason string, actor Actor) (domain.Occurrence, error) {
	start, end = start.UTC(), end.UTC()
	return e.mutateOccurrence(ctx, id, actor, func(a domain.Authorisation, o *domain.Occurrence) ([]absence.Action, error) {
		if err := e.requireOpen(a, "reschedule occurrence"); err != nil {
			return nil, err
		}
		if err := requireWithin(a, start, end); err != nil {
			return nil, err
		}
		actions, err := absence.Reschedule(o, start, end, reason)
		if err != nil || len(actions) == 0 {
			return actions, err
		}
		return append(actions, absence.Recalculate(o, a.Status, e.now())...), nil
	})
}

// OccurrenceDetails holds optional per-occurrence overrides. Nil fields are left alone.
type OccurrenceDetails struct {
	Location      *string
	Accompaniment *string
	Transport     *string
	Comments      *string
}

func (e Engine) UpdateOccurrenceDetails(ctx context.Context, id string, details OccurrenceDetails, reason string, actor Actor) (domain.Occurrence, error) {
	if details.Accompaniment != nil {
		if err := e.requireCode(domain.DomainAccompaniedBy, *details.Accompaniment); err != nil {
			return domain.Occurrence{}, err
		}
	}
	if details.Transport != nil {
		if err := e.requireCode(domain.DomainTransport, *details.Transport); err != nil {
			return domain.Occurrence{}, err
		}
	}
	return e.mutateOccurrence(ctx, id, actor, func(_ domain.Authorisation, o *domain.Occurrence) ([]absence.Action, error) {
		var actions []absence.Action
		if details.Location != nil {
			actions = append(actions, absence.ApplyOccurrenceLocation(o, *details.Location, reason)...)
		}
		if details.Accompaniment != nil {
			actions = append(actions, absence.ApplyOccurrenceAccompaniment(o, *details.Accompaniment, reason)...)
		}
		if details.Transport != nil {
			actions = append(actions, absence.ApplyOccurrenceTransport(o, *details.Transport, reason)...)
		}
		if details.Comments != nil {
			actions = append(actions, absence.ApplyOccurrenceComments(o, *details.Comments, reason)...)
		}
		return actions, nil
	})
}

// mutateOccurrence loads an occurrence with its authorisation, applies fn and
// writes the occurrence back when fn produced actions.
func (e Engine) mutateOccurrence(ctx context.Context, id string, actor Actor, fn func(domain.Authorisation, *domain.Occurrence) ([]absence.Action, error)) (domain.Occurrence, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Occurrence{}, err
	}
	defer tx.Rollback()

	o, err := e.Repo.GetOccurrenceTx(ctx, tx, id)
	if err != nil {
		return domain.Occurrence{}, err
	}
	a, err := e.Repo.GetAuthorisationTx(ctx, tx, o.AuthorisationID)
	if err != nil {
		return domain.Occurrence{}, err
	}
	actions, err := fn(a, &o)
	if err != nil {
		return domain.Occurrence{}, err
	}
	if len(actions) == 0 {
		return o, nil
	}
	uow := absence.NewUnitOfWork(actor.source())
	uow.Stage(absence.OccurrenceRef(o), actions...)
	o.UpdatedAt = e.now()
	if err := e.Repo.UpdateOccurrenceTx(ctx, tx, &o); err != nil {
		return domain.Occurrence{}, err
	}
	if err := e.commit(ctx, tx, uow, actor); err != nil {
		return domain.Occurrence{}, err
	}
	return o, nil
}
