package inbound

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var processedTotal = sync.OnceValue(func() *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tapline",
		Subsystem: "inbound",
		Name:      "messages_total",
		Help:      "Total number of inbound stream entries by outcome.",
	}, []string{"type", "result"})
})

type Options struct {
	Stream   string
	Group    string
	Consumer string
	// Count caps the entries read per poll.
	Count int64
	// Block is how long a poll waits for new entries. Negative disables blocking.
	Block time.Duration
	// ClaimIdle is how long an entry stays pending before a poll claims it
	// again, from this or any other consumer in the group.
	ClaimIdle time.Duration
	// MaxDeliveries bounds redelivery; an entry delivered more often is
	// acknowledged and dropped.
	MaxDeliveries int64
	Logger        *logrus.Entry
}

// Consumer reads a Redis stream through a consumer group. Entries are
// acknowledged once handled, or when they can never be handled. Handler
// errors leave the entry pending; it is claimed again once idle for
// ClaimIdle, until MaxDeliveries is reached.
type Consumer struct {
	client  *redis.Client
	handler Handler
	opts    Options
}

func NewConsumer(client *redis.Client, handler Handler, opts Options) (*Consumer, error) {
	if client == nil || handler == nil {
		return nil, errors.New("inbound: client and handler are required")
	}
	if opts.Stream == "" || opts.Group == "" {
		return nil, errors.New("inbound: stream and group are required")
	}
	if opts.Consumer == "" {
		opts.Consumer = opts.Group + "-1"
	}
	if opts.Count <= 0 {
		opts.Count = 10
	}
	if opts.Block == 0 {
		opts.Block = 2 * time.Second
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = 30 * time.Second
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		opts.Logger = logrus.NewEntry(l)
	}
	opts.Logger = opts.Logger.WithField("stream", opts.Stream)
	return &Consumer{client: client, handler: handler, opts: opts}, nil
}

// EnsureGroup creates the consumer group and stream if missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.opts.Stream, c.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Poll claims entries left pending past ClaimIdle, then reads one batch of
// new entries, and handles them in order. It returns the number of entries
// acknowledged.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	stale, err := c.reclaim(ctx)
	if err != nil {
		return 0, err
	}
	block := c.opts.Block
	if len(stale) > 0 {
		block = -1
	}
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		Streams:  []string{c.opts.Stream, ">"},
		Count:    c.opts.Count,
		Block:    block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	messages := stale
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	acked := 0
	for _, msg := range messages {
		if !c.handle(ctx, msg) {
			continue
		}
		if err := c.client.XAck(ctx, c.opts.Stream, c.opts.Group, msg.ID).Err(); err != nil {
			return acked, err
		}
		acked++
	}
	return acked, nil
}

// reclaim takes over idle pending entries. Entries already delivered
// MaxDeliveries times are acknowledged and dropped instead of returned.
func (c *Consumer) reclaim(ctx context.Context) ([]redis.XMessage, error) {
	claimed, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.opts.Stream,
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		MinIdle:  c.opts.ClaimIdle,
		Start:    "0-0",
		Count:    c.opts.Count,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var retry []redis.XMessage
	for _, msg := range claimed {
		pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream:   c.opts.Stream,
			Group:    c.opts.Group,
			Start:    msg.ID,
			End:      msg.ID,
			Count:    1,
			Consumer: c.opts.Consumer,
		}).Result()
		if err != nil {
			return nil, err
		}
		// The claim itself counts as a delivery.
		if len(pending) == 0 || pending[0].RetryCount <= c.opts.MaxDeliveries {
			retry = append(retry, msg)
			continue
		}
		processedTotal().WithLabelValues("unknown", "dropped").Inc()
		c.opts.Logger.WithFields(logrus.Fields{
			"message_id": msg.ID,
			"deliveries": pending[0].RetryCount - 1,
		}).Error("inbound: giving up on entry")
		if err := c.client.XAck(ctx, c.opts.Stream, c.opts.Group, msg.ID).Err(); err != nil {
			return nil, err
		}
	}
	return retry, nil
}

// handle reports whether the entry should be acknowledged.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) bool {
	log := c.opts.Logger.WithField("message_id", msg.ID)
	n, err := Parse(msg.ID, msg.Values)
	if err != nil {
		processedTotal().WithLabelValues("unknown", "malformed").Inc()
		log.WithError(err).Warn("inbound: dropping malformed entry")
		return true
	}
	applied, err := c.handler.Handle(ctx, n)
	switch {
	case errors.Is(err, ErrUnknownType):
		processedTotal().WithLabelValues(n.Type, "ignored").Inc()
		log.WithField("type", n.Type).Debug("inbound: ignoring entry")
		return true
	case err != nil:
		processedTotal().WithLabelValues(n.Type, "failed").Inc()
		log.WithError(err).Warn("inbound: handler failed; entry left pending")
		return false
	case !applied:
		processedTotal().WithLabelValues(n.Type, "duplicate").Inc()
	default:
		processedTotal().WithLabelValues(n.Type, "applied").Inc()
	}
	return true
}

// Run polls until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.opts.Logger.WithError(err).Warn("inbound: poll failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}
