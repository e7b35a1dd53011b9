package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tapline/internal/db"
	"tapline/internal/domain"
)

// Writer stages events inside the caller's transaction so they commit or
// roll back together with the change they describe.
type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
	NewID   func() string
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w Writer) newID() string {
	if w.NewID != nil {
		return w.NewID()
	}
	return uuid.NewString()
}

// Stage appends one unpublished row per event. The rows only exist once tx
// commits; report them with Committed after that.
func (w Writer) Stage(ctx context.Context, tx *sql.Tx, events ...domain.Event) ([]Message, error) {
	if len(events) == 0 {
		return nil, nil
	}
	ts := w.now().UTC()
	query := db.Rebind(w.Dialect, `INSERT INTO outbox(event_id,type,person_identifier,entity_id,source,payload,created_at) VALUES (?,?,?,?,?,?,?)`)
	msgs := make([]Message, 0, len(events))
	for _, evt := range events {
		msg := Message{
			EventID:          w.newID(),
			Type:             evt.Type,
			OccurredAt:       ts,
			PersonIdentifier: evt.PersonIdentifier,
			EntityID:         evt.EntityID,
			Source:           evt.Source,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshal outbox message: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			msg.EventID, msg.Type, msg.PersonIdentifier, msg.EntityID, string(msg.Source), string(data), w.Dialect.Time(ts)); err != nil {
			return nil, fmt.Errorf("stage %s: %w", msg.Type, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Committed counts msgs as staged.
func Committed(msgs []Message) {
	for _, msg := range msgs {
		getMetrics().stagedTotal.WithLabelValues(msg.Type).Inc()
	}
}
