package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tapline/internal/outbox"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookBus posts each batch as one JSON document. Messages outside the
// configured event filter are acknowledged without being sent.
type WebhookBus struct {
	url    string
	secret string
	filter eventFilter
	client *http.Client
}

func NewWebhookBus(url, secret string, events []string, timeout time.Duration) *WebhookBus {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookBus{
		url:    url,
		secret: secret,
		filter: newEventFilter(events),
		client: &http.Client{Timeout: timeout},
	}
}

type webhookBatch struct {
	Messages []outbox.Message `json:"messages"`
}

func (b *WebhookBus) PublishBatch(ctx context.Context, msgs []outbox.Message) error {
	var batch webhookBatch
	for _, m := range msgs {
		if b.filter.match(m.Type) {
			batch.Messages = append(batch.Messages, m)
		}
	}
	if len(batch.Messages) == 0 {
		return nil
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tapline-Batch-Size", strconv.Itoa(len(batch.Messages)))
	req.Header.Set("X-Tapline-Delivery", batch.Messages[0].EventID)
	if strings.TrimSpace(b.secret) != "" {
		req.Header.Set("X-Tapline-Secret", b.secret)
	}
	res, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
