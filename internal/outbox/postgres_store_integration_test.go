//go:build integration

package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tapline/internal/db"
	"tapline/internal/domain"
	"tapline/internal/migrate"
)

func TestPostgresStore_Integration_SkipLockedClaims(t *testing.T) {
	dsn := os.Getenv("TAPLINE_PG_TEST_DSN")
	if dsn == "" {
		t.Skip("TAPLINE_PG_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := db.Open(db.Config{Driver: "postgres", DSN: dsn})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn, db.Postgres); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM outbox`); err != nil {
		t.Fatalf("reset outbox: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	stagePg(t, ctx, conn, 12)
	store := PostgresStore{Pool: pool}
	now := time.Now().UTC()

	first, err := store.Claim(ctx, "a", 10, now, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("claim a: %v", err)
	}
	second, err := store.Claim(ctx, "b", 10, now, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("claim b: %v", err)
	}
	if len(first) != 10 || len(second) != 2 {
		t.Fatalf("expected 10 and 2 claimed rows, got %d and %d", len(first), len(second))
	}
	seen := map[int64]bool{}
	for _, rec := range append(first, second...) {
		if seen[rec.ID] {
			t.Fatalf("row %d claimed twice", rec.ID)
		}
		seen[rec.ID] = true
	}

	ids := make([]int64, len(first))
	for i, rec := range first {
		ids[i] = rec.ID
	}
	n, err := store.MarkPublished(ctx, "b", ids, now)
	if err != nil {
		t.Fatalf("mark published by wrong owner: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected foreign owner to settle nothing, got %d", n)
	}
	n, err = store.MarkPublished(ctx, "a", ids, now)
	if err != nil {
		t.Fatalf("mark published: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 published, got %d", n)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 2 || stats.Claimed != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func stagePg(t *testing.T, ctx context.Context, conn *sql.DB, n int) {
	t.Helper()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	var events []domain.Event
	for i := 0; i < n; i++ {
		events = append(events, domain.Event{Type: "person.temporary-absence.scheduled", PersonIdentifier: "A1234BC", EntityID: fmt.Sprintf("occ-%d", i), Source: domain.SourceDPS})
	}
	if _, err := (Writer{Dialect: db.Postgres}).Stage(ctx, tx, events...); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}
