package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"tapline/internal/db"
)

// SQLiteStore claims rows with a single UPDATE ... RETURNING. SQLite
// serialises writers, so the statement is the lock.
type SQLiteStore struct {
	DB *sql.DB
}

const recordColumns = `id,payload,created_at,published,published_at,attempts,COALESCE(last_error,'')`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var (
		rec         Record
		payload     string
		publishedAt time.Time
	)
	if err := row.Scan(&rec.ID, &payload, db.ScanTime(&rec.CreatedAt), &rec.Published, db.ScanTime(&publishedAt), &rec.Attempts, &rec.LastError); err != nil {
		return rec, err
	}
	if !publishedAt.IsZero() {
		rec.PublishedAt = &publishedAt
	}
	msg, err := decodeMessage([]byte(payload))
	if err != nil {
		return rec, fmt.Errorf("outbox row %d payload: %w", rec.ID, err)
	}
	rec.Message = msg
	return rec, nil
}

func (s SQLiteStore) Claim(ctx context.Context, owner string, limit int, now, staleBefore time.Time) ([]Record, error) {
	rows, err := s.DB.QueryContext(ctx, `UPDATE outbox SET claimed_by=?, claimed_at=?, attempts=attempts+1
WHERE id IN (
  SELECT id FROM outbox
  WHERE published=0 AND (claimed_at IS NULL OR claimed_at < ?)
  ORDER BY id
  LIMIT ?
)
RETURNING `+recordColumns,
		owner, db.FormatTime(now), db.FormatTime(staleBefore), limit)
	if err != nil {
		return nil, fmt.Errorf("outbox claim: %w", err)
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox claim rows: %w", err)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s SQLiteStore) MarkPublished(ctx context.Context, owner string, ids []int64, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in, args := inClause(ids)
	args = append([]any{db.FormatTime(at), owner}, args...)
	res, err := s.DB.ExecContext(ctx, `UPDATE outbox SET published=1, published_at=?, claimed_by=NULL, claimed_at=NULL, last_error=NULL
WHERE claimed_by=? AND published=0 AND id IN (`+in+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("outbox ack: %w", err)
	}
	return res.RowsAffected()
}

func (s SQLiteStore) Release(ctx context.Context, owner string, ids []int64, lastError string) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := inClause(ids)
	args = append([]any{lastError, owner}, args...)
	if _, err := s.DB.ExecContext(ctx, `UPDATE outbox SET claimed_by=NULL, claimed_at=NULL, last_error=?
WHERE claimed_by=? AND published=0 AND id IN (`+in+`)`, args...); err != nil {
		return fmt.Errorf("outbox release: %w", err)
	}
	return nil
}

func (s SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(claimed_by) FROM outbox WHERE published=0`).Scan(&st.Pending, &st.Claimed)
	return st, err
}

func (s SQLiteStore) Recent(ctx context.Context, f RecentFilter) ([]Record, error) {
	query, args := recentQuery(recordColumns, f, func(int) string { return "?" }, "published=0")
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func recentQuery(columns string, f RecentFilter, placeholder func(n int) string, unpublished string) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.UnpublishedOnly {
		clauses = append(clauses, unpublished)
	}
	if f.Type != "" {
		args = append(args, f.Type)
		clauses = append(clauses, "type="+placeholder(len(args)))
	}
	if f.EntityID != "" {
		args = append(args, f.EntityID)
		clauses = append(clauses, "entity_id="+placeholder(len(args)))
	}
	query := `SELECT ` + columns + ` FROM outbox`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += " ORDER BY id DESC LIMIT " + placeholder(len(args))
	return query, args
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
