package repo

import (
	"context"
	"database/sql"
	"time"
)

// MarkInboundProcessedTx records a consumed message. It reports false when the
// message was already recorded, in which case the caller skips it.
func (r Repo) MarkInboundProcessedTx(ctx context.Context, tx *sql.Tx, messageID, msgType string, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx, r.q(`INSERT INTO inbound_messages(message_id,type,processed_at) VALUES (?,?,?) ON CONFLICT(message_id) DO NOTHING`),
		messageID, msgType, r.ts(at))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
