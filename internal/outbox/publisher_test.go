package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapline/internal/db"
	"tapline/internal/domain"
	"tapline/internal/migrate"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type recordingBus struct {
	mu      sync.Mutex
	batches [][]Message
	fail    int
	during  func()
}

func (b *recordingBus) PublishBatch(ctx context.Context, msgs []Message) error {
	if b.during != nil {
		b.during()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail > 0 {
		b.fail--
		return errors.New("broker unavailable")
	}
	b.batches = append(b.batches, append([]Message(nil), msgs...))
	return nil
}

func newTestStore(t *testing.T) SQLiteStore {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, db.SQLite))
	return SQLiteStore{DB: conn}
}

func stage(t *testing.T, s SQLiteStore, n int) []Message {
	t.Helper()
	ctx := context.Background()
	tx, err := s.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	var events []domain.Event
	for i := 0; i < n; i++ {
		events = append(events, domain.Event{
			Type:             "person.temporary-absence.scheduled",
			PersonIdentifier: "A1234BC",
			EntityID:         fmt.Sprintf("occ-%02d", i),
			Source:           domain.SourceDPS,
		})
	}
	msgs, err := Writer{Dialect: db.SQLite, Now: func() time.Time { return t0 }}.Stage(ctx, tx, events...)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	Committed(msgs)
	return msgs
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestPublisher(t *testing.T, s Store, bus Bus, opts Options) *Publisher {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return t0 }
	}
	if opts.Sleep == nil {
		opts.Sleep = noSleep
	}
	p, err := NewPublisher(s, bus, opts)
	require.NoError(t, err)
	return p
}

func TestPublishUnpublishedBatchesInInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	staged := stage(t, s, 12)
	bus := &recordingBus{}
	p := newTestPublisher(t, s, bus, Options{})

	n, err := p.PublishUnpublished(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	require.Len(t, bus.batches, 1)
	for i, msg := range bus.batches[0] {
		assert.Equal(t, staged[i].EventID, msg.EventID)
	}

	n, err = p.PublishUnpublished(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = p.PublishUnpublished(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, bus.batches, 2)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestConcurrentPublishersNeverDoubleClaim(t *testing.T) {
	s := newTestStore(t)
	stage(t, s, 3)

	otherBus := &recordingBus{}
	other := newTestPublisher(t, s, otherBus, Options{Owner: "other"})

	var otherClaimed int
	bus := &recordingBus{}
	bus.during = func() {
		n, err := other.PublishUnpublished(context.Background())
		require.NoError(t, err)
		otherClaimed += n
	}
	p := newTestPublisher(t, s, bus, Options{Owner: "first"})

	n, err := p.PublishUnpublished(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, otherClaimed)
	assert.Empty(t, otherBus.batches)

	n, err = other.PublishUnpublished(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPublishRetriesWithBackoff(t *testing.T) {
	s := newTestStore(t)
	stage(t, s, 1)
	bus := &recordingBus{fail: 2}
	var sleeps []time.Duration
	p := newTestPublisher(t, s, bus, Options{
		MaxAttempts: 3,
		Sleep: func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		},
	})

	n, err := p.PublishUnpublished(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sleeps, 2)
	assert.GreaterOrEqual(t, sleeps[0], time.Second)
	assert.GreaterOrEqual(t, sleeps[1], 2*time.Second)
}

func TestPublishGivesUpTheSweepAndKeepsRows(t *testing.T) {
	s := newTestStore(t)
	stage(t, s, 2)
	bus := &recordingBus{fail: 3}
	p := newTestPublisher(t, s, bus, Options{MaxAttempts: 3})

	n, err := p.PublishUnpublished(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Zero(t, bus.fail)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 2}, stats)

	recs, err := s.Recent(context.Background(), RecentFilter{UnpublishedOnly: true})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "broker unavailable", recs[0].LastError)
	assert.Equal(t, 1, recs[0].Attempts)

	n, err = p.PublishUnpublished(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err = s.Recent(context.Background(), RecentFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Published)
	assert.Empty(t, recs[0].LastError)
	require.NotNil(t, recs[0].PublishedAt)
}

func TestStaleClaimIsReclaimed(t *testing.T) {
	s := newTestStore(t)
	stage(t, s, 1)
	ctx := context.Background()

	claimed, err := s.Claim(ctx, "crashed", 10, t0, t0.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	bus := &recordingBus{}
	early := newTestPublisher(t, s, bus, Options{ClaimTTL: time.Minute, Now: func() time.Time { return t0.Add(30 * time.Second) }})
	n, err := early.PublishUnpublished(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	late := newTestPublisher(t, s, bus, Options{ClaimTTL: time.Minute, Now: func() time.Time { return t0.Add(2 * time.Minute) }})
	n, err = late.PublishUnpublished(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// the crashed owner can no longer settle the row
	n64, err := s.MarkPublished(ctx, "crashed", []int64{claimed[0].ID}, t0)
	require.NoError(t, err)
	assert.Zero(t, n64)
}

func TestDrainPublishesEverything(t *testing.T) {
	s := newTestStore(t)
	stage(t, s, 25)
	bus := &recordingBus{}
	p := newTestPublisher(t, s, bus, Options{})

	n, err := p.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, n)
	assert.Len(t, bus.batches, 3)
}

func TestNewPublisherValidates(t *testing.T) {
	_, err := NewPublisher(nil, &recordingBus{}, Options{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewPublisher(SQLiteStore{}, nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewPublisher(SQLiteStore{}, &recordingBus{}, Options{BatchSize: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
