package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Publisher drains the outbox to a Bus. Several publishers may run against
// the same store; a row claimed by one is invisible to the others until it
// is settled or its claim goes stale.
type Publisher struct {
	store Store
	bus   Bus
	opts  Options
	m     *metrics
}

func NewPublisher(store Store, bus Bus, opts Options) (*Publisher, error) {
	if store == nil {
		return nil, invalidConfig("store is required")
	}
	if bus == nil {
		return nil, invalidConfig("bus is required")
	}
	if opts.BatchSize < 0 {
		return nil, invalidConfig("batch size must not be negative, got %d", opts.BatchSize)
	}
	if opts.MaxAttempts < 0 {
		return nil, invalidConfig("max attempts must not be negative, got %d", opts.MaxAttempts)
	}
	opts.setDefaults()
	return &Publisher{store: store, bus: bus, opts: opts, m: getMetrics()}, nil
}

// Owner returns the claim token used by this publisher.
func (p *Publisher) Owner() string { return p.opts.Owner }

// PublishUnpublished claims up to one batch of unpublished rows in insertion
// order and publishes them with a single bus call, retrying with backoff.
// On success every claimed row is marked published; otherwise the rows are
// released unpublished for a later sweep.
func (p *Publisher) PublishUnpublished(ctx context.Context) (int, error) {
	now := p.opts.Now()
	records, err := p.store.Claim(ctx, p.opts.Owner, p.opts.BatchSize, now, now.Add(-p.opts.ClaimTTL))
	if err != nil {
		return 0, fmt.Errorf("outbox claim: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	ids := make([]int64, len(records))
	msgs := make([]Message, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
		msgs[i] = rec.Message
	}
	log := p.opts.Logger.WithFields(map[string]any{"owner": p.opts.Owner, "batch": len(records)})

	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		lastErr = p.publish(ctx, msgs)
		if lastErr == nil {
			break
		}
		log.WithError(lastErr).WithField("attempt", attempt).Warn("outbox: publish failed")
		if attempt == p.opts.MaxAttempts || ctx.Err() != nil {
			break
		}
		wait := p.opts.retryDelay(attempt)
		if err := p.opts.Sleep(ctx, wait); err != nil {
			break
		}
	}

	if lastErr != nil {
		settleCtx := context.WithoutCancel(ctx)
		if err := p.store.Release(settleCtx, p.opts.Owner, ids, truncateError(lastErr, p.opts.LastErrorMaxLen)); err != nil {
			log.WithError(err).Warn("outbox: release failed")
		}
		p.m.releasedTotal.Add(float64(len(ids)))
		return 0, fmt.Errorf("publish batch of %d: %w", len(ids), lastErr)
	}

	n, err := p.store.MarkPublished(context.WithoutCancel(ctx), p.opts.Owner, ids, p.opts.Now())
	if err != nil {
		// The claim goes stale and the rows are delivered again.
		return 0, fmt.Errorf("outbox mark published: %w", err)
	}
	p.m.publishedTotal.Add(float64(n))
	log.WithField("published", n).Debug("outbox: batch published")
	return int(n), nil
}

func (p *Publisher) publish(ctx context.Context, msgs []Message) error {
	pubCtx, cancel := context.WithTimeout(ctx, p.opts.PublishTimeout)
	defer cancel()
	start := time.Now()
	err := p.bus.PublishBatch(pubCtx, msgs)
	result := "success"
	if err != nil {
		result = "failure"
	}
	p.m.publishTotal.WithLabelValues(result).Inc()
	p.m.publishLatency.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return err
}

// Drain publishes batches until one comes back short, returning the total
// number of rows published.
func (p *Publisher) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := p.PublishUnpublished(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < p.opts.BatchSize {
			return total, nil
		}
	}
}

// Run drains the outbox every PollInterval until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := p.observe(ctx); err != nil {
			p.opts.Logger.WithError(err).Debug("outbox: observe queue depth failed")
		}
		if _, err := p.Drain(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			p.opts.Logger.WithError(err).Warn("outbox: publish tick failed")
		}
	}
}

func (p *Publisher) observe(ctx context.Context) error {
	stats, err := p.store.Stats(ctx)
	if err != nil {
		return err
	}
	p.m.pending.Set(float64(stats.Pending))
	p.m.claimed.Set(float64(stats.Claimed))
	return nil
}
