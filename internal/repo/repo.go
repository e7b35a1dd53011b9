package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tapline/internal/db"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a versioned write finds the row has moved
	// on since it was read. Callers re-read and retry the whole operation.
	ErrConflict = errors.New("version conflict")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(query string) string {
	return db.Rebind(r.Dialect, query)
}

// ts converts t into the bind value for a timestamp column.
func (r Repo) ts(t time.Time) any {
	return r.Dialect.Time(t)
}

// skipLocked is appended to claim subqueries.
func (r Repo) skipLocked() string {
	if r.Dialect == db.Postgres {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

func scanTime(t *time.Time) sql.Scanner { return db.ScanTime(t) }

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// versioned resolves a zero-row versioned update into ErrConflict or
// ErrNotFound.
func (r Repo) versioned(ctx context.Context, q querier, res sql.Result, table, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var one int
	err = q.QueryRowContext(ctx, r.q(`SELECT 1 FROM `+table+` WHERE id=?`), id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}
