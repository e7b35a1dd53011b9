package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tapline/internal/absence"
	"tapline/internal/domain"
)

// MovementOptions describe a recorded departure or return.
type MovementOptions struct {
	ID string
	// OccurrenceID is optional; unscheduled movements stand alone.
	OccurrenceID     string
	PersonIdentifier string
	Direction        domain.Direction
	OccurredAt       time.Time
	AbsenceReason    string
	Accompaniment    string
	Location         string
	PrisonCode       string
	Actor            Actor
}

// RecordMovement stores a movement and, when it belongs to an occurrence,
// derives the occurrence status from it in the same transaction.
func (e Engine) RecordMovement(ctx context.Context, opts MovementOptions) (domain.Movement, error) {
	dir := domain.Direction(strings.ToUpper(string(opts.Direction)))
	if dir != domain.DirectionIn && dir != domain.DirectionOut {
		return domain.Movement{}, fmt.Errorf("invalid direction %q; expected IN or OUT", opts.Direction)
	}
	if err := e.requireCode(domain.DomainAbsenceReason, opts.AbsenceReason); err != nil {
		return domain.Movement{}, err
	}
	if err := e.requireCode(domain.DomainAccompaniedBy, opts.Accompaniment); err != nil {
		return domain.Movement{}, err
	}
	now := e.now()
	occurredAt := opts.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Movement{}, err
	}
	defer tx.Rollback()

	m := domain.Movement{
		ID:               newID(opts.ID),
		OccurrenceID:     opts.OccurrenceID,
		PersonIdentifier: opts.PersonIdentifier,
		Direction:        dir,
		OccurredAt:       occurredAt,
		AbsenceReason:    opts.AbsenceReason,
		Accompaniment:    opts.Accompaniment,
		Location:         opts.Location,
		PrisonCode:       opts.PrisonCode,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	uow := absence.NewUnitOfWork(opts.Actor.source())

	var o domain.Occurrence
	if m.OccurrenceID != "" {
		o, err = e.Repo.GetOccurrenceTx(ctx, tx, m.OccurrenceID)
		if err != nil {
			return domain.Movement{}, err
		}
		if m.PersonIdentifier == "" {
			m.PersonIdentifier = o.PersonIdentifier
		}
		if m.PersonIdentifier != o.PersonIdentifier {
			return domain.Movement{}, fmt.Errorf("movement person %s does not match occurrence %s", m.PersonIdentifier, o.ID)
		}
		if m.AbsenceReason == "" {
			m.AbsenceReason = o.Categorisation.AbsenceReason
		}
		if m.Location == "" {
			m.Location = o.Location
		}
	}
	if m.PersonIdentifier == "" {
		return domain.Movement{}, fmt.Errorf("person identifier is required")
	}
	if m.PrisonCode == "" {
		return domain.Movement{}, fmt.Errorf("prison code is required")
	}

	if err := e.Repo.InsertMovementTx(ctx, tx, m); err != nil {
		return domain.Movement{}, fmt.Errorf("insert movement: %w", err)
	}
	uow.Stage(absence.MovementRef(m), absence.RecordedMovement(m)...)

	if m.OccurrenceID != "" {
		a, err := e.Repo.GetAuthorisationTx(ctx, tx, o.AuthorisationID)
		if err != nil {
			return domain.Movement{}, err
		}
		o.Movements = append(o.Movements, m)
		before := o.Status
		actions := absence.Recalculate(&o, a.Status, now)
		if o.Status != before || len(actions) > 0 {
			uow.Stage(absence.OccurrenceRef(o), actions...)
			o.UpdatedAt = now
			if err := e.Repo.UpdateOccurrenceTx(ctx, tx, &o); err != nil {
				return domain.Movement{}, fmt.Errorf("update occurrence %s: %w", o.ID, err)
			}
		}
	}
	if err := e.commit(ctx, tx, uow, opts.Actor); err != nil {
		return domain.Movement{}, err
	}
	return m, nil
}

// CorrectMovement edits the location and absence reason of a movement.
// Direction and time are facts and cannot be corrected.
func (e Engine) CorrectMovement(ctx context.Context, id, location, absenceReason, reason string, actor Actor) (domain.Movement, error) {
	if err := e.requireCode(domain.DomainAbsenceReason, absenceReason); err != nil {
		return domain.Movement{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Movement{}, err
	}
	defer tx.Rollback()

	m, err := e.Repo.GetMovementTx(ctx, tx, id)
	if err != nil {
		return domain.Movement{}, err
	}
	actions := absence.CorrectMovement(&m, location, absenceReason, reason)
	if len(actions) == 0 {
		return m, nil
	}
	m.UpdatedAt = e.now()
	if err := e.Repo.UpdateMovementTx(ctx, tx, m); err != nil {
		return domain.Movement{}, err
	}
	uow := absence.NewUnitOfWork(actor.source())
	uow.Stage(absence.MovementRef(m), actions...)
	if err := e.commit(ctx, tx, uow, actor); err != nil {
		return domain.Movement{}, err
	}
	return m, nil
}
