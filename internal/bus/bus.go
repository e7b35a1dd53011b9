// Package bus delivers outbox batches to a message transport.
package bus

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tapline/internal/config"
	"tapline/internal/outbox"
)

// New builds the bus selected by cfg. The returned close func releases any
// client connections.
func New(cfg config.BusConfig, logger *logrus.Entry) (outbox.Bus, func(), error) {
	switch cfg.Kind {
	case "", config.BusLog:
		return LogBus{Logger: logger}, func() {}, nil
	case config.BusKafka:
		b, err := NewKafkaBus(cfg.Kafka)
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case config.BusWebhook:
		timeout := time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second
		return NewWebhookBus(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.Events, timeout), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown bus kind %q", cfg.Kind)
	}
}
