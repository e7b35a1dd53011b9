package repo

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapline/internal/db"
	"tapline/internal/domain"
	"tapline/internal/migrate"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, db.SQLite))
	return Repo{DB: conn, Dialect: db.SQLite}
}

func sampleAuthorisation() domain.Authorisation {
	return domain.Authorisation{
		ID:               "auth-1",
		PersonIdentifier: "A1234BC",
		PrisonCode:       "LEI",
		Start:            t0,
		End:              t0.Add(48 * time.Hour),
		Repeat:           true,
		Categorisation:   domain.Categorisation{AbsenceType: "SR", AbsenceSubType: "RDR", AbsenceReasonCategory: "UW", AbsenceReason: "R17"},
		ReasonPath:       domain.ReasonPath{{Domain: domain.DomainAbsenceType, Code: "SR"}, {Domain: domain.DomainAbsenceReason, Code: "R17"}},
		Status:           domain.AuthorisationPending,
		Schedule:         &domain.Schedule{Start: "09:00", Return: "17:00"},
		Version:          1,
		CreatedAt:        t0,
		UpdatedAt:        t0,
	}
}

func sampleOccurrence(id string, end time.Time) domain.Occurrence {
	return domain.Occurrence{
		ID:               id,
		AuthorisationID:  "auth-1",
		PersonIdentifier: "A1234BC",
		Categorisation:   domain.Categorisation{AbsenceReason: "R17"},
		Start:            end.Add(-8 * time.Hour),
		End:              end,
		Status:           domain.OccurrenceScheduled,
		Version:          1,
		CreatedAt:        t0,
		UpdatedAt:        t0,
	}
}

func insert(t *testing.T, r Repo, fn func(ctx context.Context, tx *sql.Tx) error) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, fn(ctx, tx))
	require.NoError(t, tx.Commit())
}

func TestAuthorisationRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	a := sampleAuthorisation()
	insert(t, r, func(ctx context.Context, tx *sql.Tx) error { return r.InsertAuthorisationTx(ctx, tx, a) })

	got, err := r.GetAuthorisation(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	_, err = r.GetAuthorisation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateAuthorisationDetectsConflict(t *testing.T) {
	r := newTestRepo(t)
	a := sampleAuthorisation()
	insert(t, r, func(ctx context.Context, tx *sql.Tx) error { return r.InsertAuthorisationTx(ctx, tx, a) })

	stale := a
	a.Status = domain.AuthorisationApproved
	insert(t, r, func(ctx context.Context, tx *sql.Tx) error { return r.UpdateAuthorisationTx(ctx, tx, &a) })
	assert.Equal(t, 2, a.Version)

	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	stale.Status = domain.AuthorisationDenied
	assert.ErrorIs(t, r.UpdateAuthorisationTx(ctx, tx, &stale), ErrConflict)

	missing := sampleAuthorisation()
	missing.ID = "nope"
	assert.ErrorIs(t, r.UpdateAuthorisationTx(ctx, tx, &missing), ErrNotFound)
}

func TestOccurrenceWithMovements(t *testing.T) {
	r := newTestRepo(t)
	a := sampleAuthorisation()
	o := sampleOccurrence("occ-1", t0.Add(8*time.Hour))
	out := domain.Movement{ID: "mov-1", OccurrenceID: o.ID, PersonIdentifier: o.PersonIdentifier, Direction: domain.DirectionOut, OccurredAt: t0.Add(time.Hour), PrisonCode: "LEI", CreatedAt: t0, UpdatedAt: t0}
	insert(t, r, func(ctx context.Context, tx *sql.Tx) error {
		if err := r.InsertAuthorisationTx(ctx, tx, a); err != nil {
			return err
		}
		if err := r.InsertOccurrenceTx(ctx, tx, o); err != nil {
			return err
		}
		return r.InsertMovementTx(ctx, tx, out)
	})

	got, err := r.GetOccurrence(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, got.Movements, 1)
	assert.Equal(t, domain.DirectionOut, got.Movements[0].Direction)
	assert.True(t, got.Movements[0].OccurredAt.Equal(out.OccurredAt))

	list, err := r.ListOccurrences(context.Background(), OccurrenceFilters{AuthorisationID: a.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Movements)
}

func TestClaimDueOccurrencesLeases(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insert(t, r, func(ctx context.Context, tx *sql.Tx) error {
		if err := r.InsertAuthorisationTx(ctx, tx, sampleAuthorisation()); err != nil {
			return err
		}
		if err := r.InsertOccurrenceTx(ctx, tx, sampleOccurrence("past", t0.Add(-time.Hour))); err != nil {
			return err
		}
		done := sampleOccurrence("done", t0.Add(-time.Hour))
		done.Status = domain.OccurrenceCompleted
		if err := r.InsertOccurrenceTx(ctx, tx, done); err != nil {
			return err
		}
		return r.InsertOccurrenceTx(ctx, tx, sampleOccurrence("future", t0.Add(time.Hour)))
	})

	ids, err := r.ClaimDueOccurrences(ctx, "sweeper-a", t0, t0.Add(-5*time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"past"}, ids)

	ids, err = r.ClaimDueOccurrences(ctx, "sweeper-b", t0, t0.Add(-5*time.Minute), 100)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// a stale lease is reclaimed
	ids, err = r.ClaimDueOccurrences(ctx, "sweeper-b", t0.Add(10*time.Minute), t0.Add(5*time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"past"}, ids)

	require.NoError(t, r.ReleaseOccurrenceClaim(ctx, "sweeper-b", "past"))
	ids, err = r.ClaimDueOccurrences(ctx, "sweeper-a", t0, t0.Add(-5*time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"past"}, ids)
}

func TestMarkInboundProcessedOnce(t *testing.T) {
	r := newTestRepo(t)
	var first, second bool
	insert(t, r, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		first, err = r.MarkInboundProcessedTx(ctx, tx, "msg-1", "person.updated", t0)
		if err != nil {
			return err
		}
		second, err = r.MarkInboundProcessedTx(ctx, tx, "msg-1", "person.updated", t0)
		return err
	})
	assert.True(t, first)
	assert.False(t, second)
}

func TestAuditTrail(t *testing.T) {
	r := newTestRepo(t)
	insert(t, r, func(ctx context.Context, tx *sql.Tx) error {
		for _, action := range []string{"authorisation.created", "authorisation.approved"} {
			if _, err := r.InsertAuditTx(ctx, tx, domain.AuditEntry{TS: t0, EntityKind: "authorisation", EntityID: "auth-1", Action: action, ActorID: "officer", Source: domain.SourceDPS}); err != nil {
				return err
			}
		}
		return nil
	})
	entries, err := r.ListAudit(context.Background(), "auth-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "authorisation.approved", entries[1].Action)
	assert.True(t, entries[0].TS.Equal(t0))
}

func TestReferenceDataUpsert(t *testing.T) {
	r := newTestRepo(t)
	item := domain.ReferenceItem{Domain: domain.DomainAbsenceType, Code: "SR", Description: "Standard", Active: true, Sequence: 1}
	insert(t, r, func(ctx context.Context, tx *sql.Tx) error { return r.UpsertReferenceItemTx(ctx, tx, item) })
	item.Description = "Standard ROTL"
	item.Active = false
	insert(t, r, func(ctx context.Context, tx *sql.Tx) error { return r.UpsertReferenceItemTx(ctx, tx, item) })

	items, err := r.ListReferenceData(context.Background(), domain.DomainAbsenceType)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, item, items[0])
}
