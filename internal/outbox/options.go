package outbox

import (
	"context"
	"io"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultBatchSize is how many rows one sweep claims.
const DefaultBatchSize = 10

type Options struct {
	// Owner identifies this publisher in claim columns.
	Owner        string
	BatchSize    int
	PollInterval time.Duration
	// ClaimTTL is how long a claim blocks other publishers before it is
	// considered abandoned.
	ClaimTTL time.Duration
	// MaxAttempts bounds publish calls per sweep.
	MaxAttempts     int
	MaxBackoff      time.Duration
	JitterMax       time.Duration
	PublishTimeout  time.Duration
	LastErrorMaxLen int

	Logger *logrus.Entry
	Rand   *rand.Rand
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
}

func (o *Options) setDefaults() {
	if o.Owner == "" {
		o.Owner = uuid.NewString()
	}
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.PollInterval == 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.ClaimTTL == 0 {
		o.ClaimTTL = time.Minute
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.JitterMax == 0 {
		o.JitterMax = 200 * time.Millisecond
	}
	if o.PublishTimeout == 0 {
		o.PublishTimeout = 10 * time.Second
	}
	if o.LastErrorMaxLen == 0 {
		o.LastErrorMaxLen = 2048
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = logrus.NewEntry(l)
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
