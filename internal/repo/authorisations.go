package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tapline/internal/domain"
)

const authorisationColumns = `id,person_identifier,prison_code,start_at,end_at,is_repeat,
absence_type,absence_sub_type,absence_reason_category,absence_reason,reason_path,
accompaniment,transport,comments,status,schedule,version,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuthorisation(row rowScanner) (domain.Authorisation, error) {
	var (
		a        domain.Authorisation
		path     string
		schedule sql.NullString
	)
	err := row.Scan(&a.ID, &a.PersonIdentifier, &a.PrisonCode, scanTime(&a.Start), scanTime(&a.End), &a.Repeat,
		&a.Categorisation.AbsenceType, &a.Categorisation.AbsenceSubType, &a.Categorisation.AbsenceReasonCategory, &a.Categorisation.AbsenceReason,
		&path, &a.Accompaniment, &a.Transport, &a.Comments, &a.Status, &schedule, &a.Version,
		scanTime(&a.CreatedAt), scanTime(&a.UpdatedAt))
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if path != "" {
		if err := json.Unmarshal([]byte(path), &a.ReasonPath); err != nil {
			return a, fmt.Errorf("authorisation %s reason path: %w", a.ID, err)
		}
	}
	if schedule.Valid && schedule.String != "" {
		var s domain.Schedule
		if err := json.Unmarshal([]byte(schedule.String), &s); err != nil {
			return a, fmt.Errorf("authorisation %s schedule: %w", a.ID, err)
		}
		a.Schedule = &s
	}
	return a, nil
}

func authorisationJSON(a domain.Authorisation) (string, any, error) {
	path := a.ReasonPath
	if path == nil {
		path = domain.ReasonPath{}
	}
	pathJSON, err := json.Marshal(path)
	if err != nil {
		return "", nil, err
	}
	var schedule any
	if a.Schedule != nil {
		b, err := json.Marshal(a.Schedule)
		if err != nil {
			return "", nil, err
		}
		schedule = string(b)
	}
	return string(pathJSON), schedule, nil
}

func (r Repo) InsertAuthorisationTx(ctx context.Context, tx *sql.Tx, a domain.Authorisation) error {
	path, schedule, err := authorisationJSON(a)
	if err != nil {
		return err
	}
	c := a.Categorisation
	_, err = tx.ExecContext(ctx, r.q(`INSERT INTO authorisations(`+authorisationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		a.ID, a.PersonIdentifier, a.PrisonCode, r.ts(a.Start), r.ts(a.End), a.Repeat,
		c.AbsenceType, c.AbsenceSubType, c.AbsenceReasonCategory, c.AbsenceReason, path,
		a.Accompaniment, a.Transport, a.Comments, string(a.Status), schedule, a.Version,
		r.ts(a.CreatedAt), r.ts(a.UpdatedAt))
	return err
}

// UpdateAuthorisationTx writes a when the stored version still matches
// a.Version and bumps the version on success.
func (r Repo) UpdateAuthorisationTx(ctx context.Context, tx *sql.Tx, a *domain.Authorisation) error {
	path, schedule, err := authorisationJSON(*a)
	if err != nil {
		return err
	}
	c := a.Categorisation
	res, err := tx.ExecContext(ctx, r.q(`UPDATE authorisations SET person_identifier=?,prison_code=?,start_at=?,end_at=?,is_repeat=?,
absence_type=?,absence_sub_type=?,absence_reason_category=?,absence_reason=?,reason_path=?,
accompaniment=?,transport=?,comments=?,status=?,schedule=?,updated_at=?,version=version+1
WHERE id=? AND version=?`),
		a.PersonIdentifier, a.PrisonCode, r.ts(a.Start), r.ts(a.End), a.Repeat,
		c.AbsenceType, c.AbsenceSubType, c.AbsenceReasonCategory, c.AbsenceReason, path,
		a.Accompaniment, a.Transport, a.Comments, string(a.Status), schedule, r.ts(a.UpdatedAt),
		a.ID, a.Version)
	if err != nil {
		return err
	}
	if err := r.versioned(ctx, tx, res, "authorisations", a.ID); err != nil {
		return err
	}
	a.Version++
	return nil
}

func (r Repo) GetAuthorisation(ctx context.Context, id string) (domain.Authorisation, error) {
	return r.getAuthorisation(ctx, r.DB, id)
}

func (r Repo) GetAuthorisationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Authorisation, error) {
	return r.getAuthorisation(ctx, tx, id)
}

func (r Repo) getAuthorisation(ctx context.Context, q querier, id string) (domain.Authorisation, error) {
	return scanAuthorisation(q.QueryRowContext(ctx, r.q(`SELECT `+authorisationColumns+` FROM authorisations WHERE id=?`), id))
}

type AuthorisationFilters struct {
	PersonIdentifier string
	PrisonCode       string
	Status           string
	Limit            int
}

func (r Repo) ListAuthorisations(ctx context.Context, f AuthorisationFilters) ([]domain.Authorisation, error) {
	var (
		clauses []string
		args    []any
	)
	if f.PersonIdentifier != "" {
		clauses = append(clauses, "person_identifier=?")
		args = append(args, f.PersonIdentifier)
	}
	if f.PrisonCode != "" {
		clauses = append(clauses, "prison_code=?")
		args = append(args, f.PrisonCode)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + authorisationColumns + ` FROM authorisations`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY start_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.listAuthorisations(ctx, r.DB, query, args...)
}

func (r Repo) ListAuthorisationsForPersonTx(ctx context.Context, tx *sql.Tx, person string) ([]domain.Authorisation, error) {
	return r.listAuthorisations(ctx, tx, `SELECT `+authorisationColumns+` FROM authorisations WHERE person_identifier=? ORDER BY id`, person)
}

func (r Repo) listAuthorisations(ctx context.Context, q querier, query string, args ...any) ([]domain.Authorisation, error) {
	rows, err := q.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Authorisation
	for rows.Next() {
		a, err := scanAuthorisation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ClaimExpiredAuthorisations leases up to limit PENDING authorisations whose
// end has passed. Rows leased by another sweeper after staleBefore are
// skipped.
func (r Repo) ClaimExpiredAuthorisations(ctx context.Context, owner string, now, staleBefore time.Time, limit int) ([]string, error) {
	return r.claim(ctx, "authorisations", owner, now, staleBefore, limit,
		[]string{string(domain.AuthorisationPending)})
}

func (r Repo) ReleaseAuthorisationClaim(ctx context.Context, owner, id string) error {
	return r.release(ctx, "authorisations", owner, id)
}

func (r Repo) claim(ctx context.Context, table, owner string, now, staleBefore time.Time, limit int, statuses []string) ([]string, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	query := `UPDATE ` + table + ` SET sweep_claimed_by=?, sweep_claimed_at=?
WHERE id IN (
  SELECT id FROM ` + table + `
  WHERE status IN (` + placeholders + `) AND end_at < ?
    AND (sweep_claimed_at IS NULL OR sweep_claimed_at < ?)
  ORDER BY end_at, id
  LIMIT ?` + r.skipLocked() + `
)
RETURNING id`
	args := []any{owner, r.ts(now)}
	for _, s := range statuses {
		args = append(args, s)
	}
	args = append(args, r.ts(now), r.ts(staleBefore), limit)
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", table, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) release(ctx context.Context, table, owner, id string) error {
	_, err := r.DB.ExecContext(ctx, r.q(`UPDATE `+table+` SET sweep_claimed_by=NULL, sweep_claimed_at=NULL WHERE id=? AND sweep_claimed_by=?`), id, owner)
	return err
}
