package bus

import (
	"context"

	"github.com/sirupsen/logrus"

	"tapline/internal/outbox"
)

// LogBus writes each message to the log. It never fails.
type LogBus struct {
	Logger *logrus.Entry
}

func (b LogBus) PublishBatch(_ context.Context, msgs []outbox.Message) error {
	logger := b.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	for _, m := range msgs {
		logger.WithFields(logrus.Fields{
			"event_id":          m.EventID,
			"type":              m.Type,
			"person_identifier": m.PersonIdentifier,
			"entity_id":         m.EntityID,
			"source":            m.Source,
		}).Info("event published")
	}
	return nil
}
