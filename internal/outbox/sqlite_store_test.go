package outbox

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreClaimError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE outbox SET claimed_by=?, claimed_at=?, attempts=attempts+1`)).
		WithArgs("owner", "2024-01-01T12:00:00.000Z", "2024-01-01T11:59:00.000Z", 10).
		WillReturnError(errors.New("database is locked"))

	_, err = SQLiteStore{DB: conn}.Claim(context.Background(), "owner", 10, t0, t0.Add(-time.Minute))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox claim")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStoreSettlesOnlyOwnClaims(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE outbox SET published=1`)).
		WithArgs("2024-01-01T12:00:00.000Z", "owner", int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE outbox SET claimed_by=NULL, claimed_at=NULL, last_error=?`)).
		WithArgs("boom", "owner", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := SQLiteStore{DB: conn}
	n, err := s.MarkPublished(context.Background(), "owner", []int64{1, 2}, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, s.Release(context.Background(), "owner", []int64{3}, "boom"))

	n, err = s.MarkPublished(context.Background(), "owner", nil, t0)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublisherSurfacesClaimError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	mock.ExpectQuery(`UPDATE outbox`).WillReturnError(errors.New("disk I/O error"))

	bus := &recordingBus{}
	p := newTestPublisher(t, SQLiteStore{DB: conn}, bus, Options{})
	_, err = p.PublishUnpublished(context.Background())
	require.Error(t, err)
	assert.Empty(t, bus.batches)
	require.NoError(t, mock.ExpectationsWereMet())
}
