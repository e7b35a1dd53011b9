package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"tapline/internal/db"
	"tapline/internal/outbox"
)

// OutboxStore returns the claim store for the runtime's dialect. Postgres
// gets its own pgx pool so claims can use SKIP LOCKED; close releases it.
func (r *Runtime) OutboxStore(ctx context.Context) (outbox.Store, func(), error) {
	if r.Dialect != db.Postgres {
		return outbox.SQLiteStore{DB: r.DB}, func() {}, nil
	}
	pool, err := pgxpool.New(ctx, r.Config.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open outbox pool: %w", err)
	}
	return outbox.PostgresStore{Pool: pool}, pool.Close, nil
}
