package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"tapline/internal/domain"
)

const occurrenceColumns = `id,authorisation_id,person_identifier,
absence_type,absence_sub_type,absence_reason_category,absence_reason,
start_at,end_at,location,accompaniment,transport,comments,status,cancelled_explicitly,version,created_at,updated_at`

func scanOccurrence(row rowScanner) (domain.Occurrence, error) {
	var o domain.Occurrence
	err := row.Scan(&o.ID, &o.AuthorisationID, &o.PersonIdentifier,
		&o.Categorisation.AbsenceType, &o.Categorisation.AbsenceSubType, &o.Categorisation.AbsenceReasonCategory, &o.Categorisation.AbsenceReason,
		scanTime(&o.Start), scanTime(&o.End), &o.Location, &o.Accompaniment, &o.Transport, &o.Comments, &o.Status, &o.CancelledExplicitly, &o.Version,
		scanTime(&o.CreatedAt), scanTime(&o.UpdatedAt))
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) InsertOccurrenceTx(ctx context.Context, tx *sql.Tx, o domain.Occurrence) error {
	c := o.Categorisation
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO occurrences(`+occurrenceColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		o.ID, o.AuthorisationID, o.PersonIdentifier,
		c.AbsenceType, c.AbsenceSubType, c.AbsenceReasonCategory, c.AbsenceReason,
		r.ts(o.Start), r.ts(o.End), o.Location, o.Accompaniment, o.Transport, o.Comments, string(o.Status), o.CancelledExplicitly, o.Version,
		r.ts(o.CreatedAt), r.ts(o.UpdatedAt))
	return err
}

// UpdateOccurrenceTx writes o when the stored version still matches
// o.Version and bumps the version on success. Movements are not touched.
func (r Repo) UpdateOccurrenceTx(ctx context.Context, tx *sql.Tx, o *domain.Occurrence) error {
	c := o.Categorisation
	res, err := tx.ExecContext(ctx, r.q(`UPDATE occurrences SET person_identifier=?,
absence_type=?,absence_sub_type=?,absence_reason_category=?,absence_reason=?,
start_at=?,end_at=?,location=?,accompaniment=?,transport=?,comments=?,status=?,cancelled_explicitly=?,updated_at=?,version=version+1
WHERE id=? AND version=?`),
		o.PersonIdentifier,
		c.AbsenceType, c.AbsenceSubType, c.AbsenceReasonCategory, c.AbsenceReason,
		r.ts(o.Start), r.ts(o.End), o.Location, o.Accompaniment, o.Transport, o.Comments, string(o.Status), o.CancelledExplicitly, r.ts(o.UpdatedAt),
		o.ID, o.Version)
	if err != nil {
		return err
	}
	if err := r.versioned(ctx, tx, res, "occurrences", o.ID); err != nil {
		return err
	}
	o.Version++
	return nil
}

// GetOccurrence loads an occurrence with its movements.
func (r Repo) GetOccurrence(ctx context.Context, id string) (domain.Occurrence, error) {
	return r.getOccurrence(ctx, r.DB, id)
}

func (r Repo) GetOccurrenceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Occurrence, error) {
	return r.getOccurrence(ctx, tx, id)
}

func (r Repo) getOccurrence(ctx context.Context, q querier, id string) (domain.Occurrence, error) {
	o, err := scanOccurrence(q.QueryRowContext(ctx, r.q(`SELECT `+occurrenceColumns+` FROM occurrences WHERE id=?`), id))
	if err != nil {
		return o, err
	}
	o.Movements, err = r.listMovements(ctx, q, `WHERE occurrence_id=?`, id)
	return o, err
}

type OccurrenceFilters struct {
	AuthorisationID  string
	PersonIdentifier string
	Status           string
	From             *time.Time
	To               *time.Time
	Limit            int
}

// ListOccurrences returns occurrences without their movements.
func (r Repo) ListOccurrences(ctx context.Context, f OccurrenceFilters) ([]domain.Occurrence, error) {
	var (
		clauses []string
		args    []any
	)
	if f.AuthorisationID != "" {
		clauses = append(clauses, "authorisation_id=?")
		args = append(args, f.AuthorisationID)
	}
	if f.PersonIdentifier != "" {
		clauses = append(clauses, "person_identifier=?")
		args = append(args, f.PersonIdentifier)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.From != nil {
		clauses = append(clauses, "end_at >= ?")
		args = append(args, r.ts(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "start_at < ?")
		args = append(args, r.ts(*f.To))
	}
	query := `SELECT ` + occurrenceColumns + ` FROM occurrences`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY start_at, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.listOccurrences(ctx, r.DB, query, args...)
}

// ListOccurrencesForAuthorisationTx loads every occurrence of an
// authorisation with movements, ordered by start.
func (r Repo) ListOccurrencesForAuthorisationTx(ctx context.Context, tx *sql.Tx, authorisationID string) ([]domain.Occurrence, error) {
	list, err := r.listOccurrences(ctx, tx, `SELECT `+occurrenceColumns+` FROM occurrences WHERE authorisation_id=? ORDER BY start_at, id`, authorisationID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Movements, err = r.listMovements(ctx, tx, `WHERE occurrence_id=?`, list[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (r Repo) ListOccurrencesForPersonTx(ctx context.Context, tx *sql.Tx, person string) ([]domain.Occurrence, error) {
	return r.listOccurrences(ctx, tx, `SELECT `+occurrenceColumns+` FROM occurrences WHERE person_identifier=? ORDER BY id`, person)
}

func (r Repo) listOccurrences(ctx context.Context, q querier, query string, args ...any) ([]domain.Occurrence, error) {
	rows, err := q.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// ClaimDueOccurrences leases up to limit ended occurrences whose derived
// status may still move on without a new movement.
func (r Repo) ClaimDueOccurrences(ctx context.Context, owner string, now, staleBefore time.Time, limit int) ([]string, error) {
	return r.claim(ctx, "occurrences", owner, now, staleBefore, limit, []string{
		string(domain.OccurrencePending),
		string(domain.OccurrenceScheduled),
		string(domain.OccurrenceInProgress),
	})
}

func (r Repo) ReleaseOccurrenceClaim(ctx context.Context, owner, id string) error {
	return r.release(ctx, "occurrences", owner, id)
}

const movementColumns = `id,occurrence_id,person_identifier,direction,occurred_at,absence_reason,accompaniment,location,prison_code,created_at,updated_at`

func scanMovement(row rowScanner) (domain.Movement, error) {
	var (
		m            domain.Movement
		occurrenceID sql.NullString
	)
	err := row.Scan(&m.ID, &occurrenceID, &m.PersonIdentifier, &m.Direction, scanTime(&m.OccurredAt),
		&m.AbsenceReason, &m.Accompaniment, &m.Location, &m.PrisonCode, scanTime(&m.CreatedAt), scanTime(&m.UpdatedAt))
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	m.OccurrenceID = occurrenceID.String
	return m, err
}

func (r Repo) InsertMovementTx(ctx context.Context, tx *sql.Tx, m domain.Movement) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO movements(`+movementColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
		m.ID, nullable(m.OccurrenceID), m.PersonIdentifier, string(m.Direction), r.ts(m.OccurredAt),
		m.AbsenceReason, m.Accompaniment, m.Location, m.PrisonCode, r.ts(m.CreatedAt), r.ts(m.UpdatedAt))
	return err
}

func (r Repo) UpdateMovementTx(ctx context.Context, tx *sql.Tx, m domain.Movement) error {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE movements SET occurrence_id=?,person_identifier=?,direction=?,occurred_at=?,
absence_reason=?,accompaniment=?,location=?,prison_code=?,updated_at=? WHERE id=?`),
		nullable(m.OccurrenceID), m.PersonIdentifier, string(m.Direction), r.ts(m.OccurredAt),
		m.AbsenceReason, m.Accompaniment, m.Location, m.PrisonCode, r.ts(m.UpdatedAt), m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetMovement(ctx context.Context, id string) (domain.Movement, error) {
	return scanMovement(r.DB.QueryRowContext(ctx, r.q(`SELECT `+movementColumns+` FROM movements WHERE id=?`), id))
}

func (r Repo) GetMovementTx(ctx context.Context, tx *sql.Tx, id string) (domain.Movement, error) {
	return scanMovement(tx.QueryRowContext(ctx, r.q(`SELECT `+movementColumns+` FROM movements WHERE id=?`), id))
}

func (r Repo) ListMovementsForPerson(ctx context.Context, person string) ([]domain.Movement, error) {
	return r.listMovements(ctx, r.DB, `WHERE person_identifier=?`, person)
}

// RekeyMovementsTx moves every movement of from onto to.
func (r Repo) RekeyMovementsTx(ctx context.Context, tx *sql.Tx, from, to string, at time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE movements SET person_identifier=?, updated_at=? WHERE person_identifier=?`), to, r.ts(at), from)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) listMovements(ctx context.Context, q querier, where string, args ...any) ([]domain.Movement, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT `+movementColumns+` FROM movements `+where+` ORDER BY occurred_at, id`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
