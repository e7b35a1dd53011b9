package repo

import (
	"context"
	"database/sql"

	"tapline/internal/domain"
)

func (r Repo) UpsertPersonTx(ctx context.Context, tx *sql.Tx, p domain.Person) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO people(identifier,first_name,last_name,prison_code,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(identifier) DO UPDATE SET first_name=excluded.first_name, last_name=excluded.last_name,
prison_code=excluded.prison_code, updated_at=excluded.updated_at`),
		p.Identifier, p.FirstName, p.LastName, p.PrisonCode, r.ts(p.UpdatedAt))
	return err
}

func (r Repo) GetPerson(ctx context.Context, identifier string) (domain.Person, error) {
	var p domain.Person
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT identifier,first_name,last_name,prison_code,updated_at FROM people WHERE identifier=?`), identifier).
		Scan(&p.Identifier, &p.FirstName, &p.LastName, &p.PrisonCode, scanTime(&p.UpdatedAt))
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) DeletePersonTx(ctx context.Context, tx *sql.Tx, identifier string) error {
	_, err := tx.ExecContext(ctx, r.q(`DELETE FROM people WHERE identifier=?`), identifier)
	return err
}
