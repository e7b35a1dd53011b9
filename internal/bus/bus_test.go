package bus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"tapline/internal/config"
	"tapline/internal/domain"
	"tapline/internal/outbox"
)

func messages() []outbox.Message {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return []outbox.Message{
		{EventID: "e1", Type: "person.temporary-absence.scheduled", OccurredAt: at, PersonIdentifier: "A1234BC", EntityID: "occ-1", Source: domain.SourceDPS},
		{EventID: "e2", Type: "person.temporary-absence-authorisation.approved", OccurredAt: at, PersonIdentifier: "A1234BC", EntityID: "auth-1", Source: domain.SourceDPS},
	}
}

func TestWebhookBusPostsBatch(t *testing.T) {
	var (
		got    webhookBatch
		secret string
		size   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret = r.Header.Get("X-Tapline-Secret")
		size = r.Header.Get("X-Tapline-Batch-Size")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	b := NewWebhookBus(srv.URL, "s3cret", []string{"person.temporary-absence.scheduled"}, time.Second)
	require.NoError(t, b.PublishBatch(context.Background(), messages()))
	assert.Equal(t, "s3cret", secret)
	assert.Equal(t, "1", size)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "e1", got.Messages[0].EventID)
}

func TestWebhookBusFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewWebhookBus(srv.URL, "", nil, time.Second).PublishBatch(context.Background(), messages())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestWebhookBusSkipsFilteredBatch(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	require.NoError(t, NewWebhookBus(srv.URL, "", []string{"other"}, 0).PublishBatch(context.Background(), messages()))
	assert.False(t, called)
}

type fakeProducer struct {
	produced []*kgo.Record
	err      error
	closed   bool
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var res kgo.ProduceResults
	for _, r := range rs {
		p.produced = append(p.produced, r)
		res = append(res, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return res
}

func (p *fakeProducer) Close() { p.closed = true }

func TestKafkaBusProducesKeyedRecords(t *testing.T) {
	p := &fakeProducer{}
	b := &KafkaBus{topic: "domain.events", client: p}
	require.NoError(t, b.PublishBatch(context.Background(), messages()))
	require.Len(t, p.produced, 2)
	rec := p.produced[0]
	assert.Equal(t, "domain.events", rec.Topic)
	assert.Equal(t, []byte("A1234BC"), rec.Key)
	assert.Equal(t, "eventType", rec.Headers[0].Key)
	assert.Equal(t, []byte("person.temporary-absence.scheduled"), rec.Headers[0].Value)

	var decoded outbox.Message
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, messages()[0], decoded)

	b.Close()
	assert.True(t, p.closed)
}

func TestKafkaBusSurfacesProduceError(t *testing.T) {
	p := &fakeProducer{err: errors.New("NOT_ENOUGH_REPLICAS")}
	b := &KafkaBus{topic: "domain.events", client: p}
	err := b.PublishBatch(context.Background(), messages())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka produce")
}

func TestLogBusLogsEachMessage(t *testing.T) {
	logger, hook := test.NewNullLogger()
	require.NoError(t, LogBus{Logger: logrus.NewEntry(logger)}.PublishBatch(context.Background(), messages()))
	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, "e2", hook.LastEntry().Data["event_id"])
}

func TestNewSelectsBus(t *testing.T) {
	b, closeFn, err := New(config.BusConfig{Kind: config.BusLog}, nil)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, LogBus{}, b)

	b, _, err = New(config.BusConfig{Kind: config.BusWebhook, Webhook: config.WebhookConfig{URL: "http://localhost"}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &WebhookBus{}, b)

	_, _, err = New(config.BusConfig{Kind: "sns"}, nil)
	assert.Error(t, err)
}
