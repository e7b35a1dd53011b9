package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"tapline/internal/config"
	"tapline/internal/outbox"
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaBus produces one record per message, keyed by person so a person's
// events land on one partition.
type KafkaBus struct {
	topic  string
	client producer
}

func NewKafkaBus(cfg config.KafkaConfig) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &KafkaBus{topic: cfg.Topic, client: client}, nil
}

func (b *KafkaBus) PublishBatch(ctx context.Context, msgs []outbox.Message) error {
	records, err := b.records(msgs)
	if err != nil {
		return err
	}
	if err := b.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce: %w", err)
	}
	return nil
}

func (b *KafkaBus) records(msgs []outbox.Message) ([]*kgo.Record, error) {
	records := make([]*kgo.Record, 0, len(msgs))
	for _, m := range msgs {
		value, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", m.EventID, err)
		}
		records = append(records, &kgo.Record{
			Topic: b.topic,
			Key:   []byte(m.PersonIdentifier),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "eventType", Value: []byte(m.Type)},
				{Key: "eventId", Value: []byte(m.EventID)},
				{Key: "source", Value: []byte(m.Source)},
			},
		})
	}
	return records, nil
}

func (b *KafkaBus) Close() {
	b.client.Close()
}
