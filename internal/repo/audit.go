package repo

import (
	"context"
	"database/sql"

	"tapline/internal/domain"
)

func (r Repo) InsertAuditTx(ctx context.Context, tx *sql.Tx, e domain.AuditEntry) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, r.q(`INSERT INTO audit_log(ts,entity_kind,entity_id,action,actor_id,source,reason) VALUES (?,?,?,?,?,?,?) RETURNING id`),
		r.ts(e.TS), e.EntityKind, e.EntityID, e.Action, e.ActorID, string(e.Source), e.Reason).Scan(&id)
	return id, err
}

// ListAudit returns the audit trail of an entity, oldest first.
func (r Repo) ListAudit(ctx context.Context, entityID string, limit int) ([]domain.AuditEntry, error) {
	query := `SELECT id,ts,entity_kind,entity_id,action,actor_id,source,reason FROM audit_log WHERE entity_id=? ORDER BY id`
	args := []any{entityID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, scanTime(&e.TS), &e.EntityKind, &e.EntityID, &e.Action, &e.ActorID, &e.Source, &e.Reason); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
