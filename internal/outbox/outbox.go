package outbox

import (
	"context"
	"encoding/json"
	"time"

	"tapline/internal/domain"
)

// Message is the wire form of a published domain event.
type Message struct {
	EventID          string        `json:"event_id"`
	Type             string        `json:"type"`
	OccurredAt       time.Time     `json:"occurred_at"`
	PersonIdentifier string        `json:"person_identifier"`
	EntityID         string        `json:"entity_id"`
	Source           domain.Source `json:"source"`
}

// Record is one outbox row.
type Record struct {
	ID          int64      `json:"id"`
	Message     Message    `json:"message"`
	CreatedAt   time.Time  `json:"created_at"`
	Published   bool       `json:"published"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
}

// Bus delivers a batch of messages in one call. A nil error acknowledges the
// whole batch.
type Bus interface {
	PublishBatch(ctx context.Context, msgs []Message) error
}

// Store claims and settles outbox rows. A claim is a lease held by owner
// until it is settled or goes stale.
type Store interface {
	Claim(ctx context.Context, owner string, limit int, now, staleBefore time.Time) ([]Record, error)
	MarkPublished(ctx context.Context, owner string, ids []int64, at time.Time) (int64, error)
	Release(ctx context.Context, owner string, ids []int64, lastError string) error
	Stats(ctx context.Context) (Stats, error)
	Recent(ctx context.Context, f RecentFilter) ([]Record, error)
}

type Stats struct {
	Pending int64 `json:"pending"`
	Claimed int64 `json:"claimed"`
}

type RecentFilter struct {
	Limit           int
	Type            string
	EntityID        string
	UnpublishedOnly bool
}

func decodeMessage(payload []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(payload, &m)
	return m, err
}
