package outbox

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore claims rows with SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent publishers never wait on, or double claim, each other's rows.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

const pgRecordColumns = `id,payload::text,created_at,published,published_at,attempts,COALESCE(last_error,'')`

func scanPgRecord(row pgx.Row) (Record, error) {
	var (
		rec         Record
		payload     string
		publishedAt *time.Time
	)
	if err := row.Scan(&rec.ID, &payload, &rec.CreatedAt, &rec.Published, &publishedAt, &rec.Attempts, &rec.LastError); err != nil {
		return rec, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if publishedAt != nil {
		t := publishedAt.UTC()
		rec.PublishedAt = &t
	}
	msg, err := decodeMessage([]byte(payload))
	if err != nil {
		return rec, fmt.Errorf("outbox row %d payload: %w", rec.ID, err)
	}
	rec.Message = msg
	return rec, nil
}

func (s PostgresStore) Claim(ctx context.Context, owner string, limit int, now, staleBefore time.Time) ([]Record, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT `+pgRecordColumns+`
   FROM outbox
  WHERE NOT published
    AND (claimed_at IS NULL OR claimed_at < $1)
  ORDER BY id
  LIMIT $2
  FOR UPDATE SKIP LOCKED`, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox claim select: %w", err)
	}
	var (
		res []Record
		ids []int64
	)
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("outbox claim scan: %w", err)
		}
		rec.Attempts++
		res = append(res, rec)
		ids = append(ids, rec.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox claim rows: %w", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_by = $1, claimed_at = $2, attempts = attempts + 1 WHERE id = ANY($3)`,
		owner, now, pgtype.FlatArray[int64](ids)); err != nil {
		return nil, fmt.Errorf("outbox claim update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func (s PostgresStore) MarkPublished(ctx context.Context, owner string, ids []int64, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.Pool.Exec(ctx, `UPDATE outbox
    SET published = TRUE,
        published_at = $1,
        claimed_by = NULL,
        claimed_at = NULL,
        last_error = NULL
  WHERE claimed_by = $2 AND NOT published AND id = ANY($3)`, at, owner, pgtype.FlatArray[int64](ids))
	if err != nil {
		return 0, fmt.Errorf("outbox ack: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s PostgresStore) Release(ctx context.Context, owner string, ids []int64, lastError string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.Pool.Exec(ctx, `UPDATE outbox
    SET claimed_by = NULL,
        claimed_at = NULL,
        last_error = $1
  WHERE claimed_by = $2 AND NOT published AND id = ANY($3)`, lastError, owner, pgtype.FlatArray[int64](ids)); err != nil {
		return fmt.Errorf("outbox release: %w", err)
	}
	return nil
}

func (s PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.Pool.QueryRow(ctx, `SELECT count(*), count(claimed_by) FROM outbox WHERE NOT published`).Scan(&st.Pending, &st.Claimed)
	return st, err
}

func (s PostgresStore) Recent(ctx context.Context, f RecentFilter) ([]Record, error) {
	query, args := recentQuery(pgRecordColumns, f, func(n int) string { return "$" + strconv.Itoa(n) }, "NOT published")
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
