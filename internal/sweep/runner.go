// Package sweep runs the periodic status sweep.
package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tapline/internal/engine"
)

// Sweeper is the engine operation the runner drives.
type Sweeper interface {
	SweepStatuses(ctx context.Context, opts engine.SweepOptions) (engine.SweepResult, error)
}

type Options struct {
	Owner    string
	Interval time.Duration
	PageSize int
	ClaimTTL time.Duration
	Logger   *logrus.Entry
}

type Runner struct {
	sweeper Sweeper
	opts    Options
	m       *metrics
}

func NewRunner(s Sweeper, opts Options) (*Runner, error) {
	if s == nil {
		return nil, errors.New("sweep: sweeper is required")
	}
	if opts.Owner == "" {
		opts.Owner = "sweep-" + uuid.NewString()
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		opts.Logger = logrus.NewEntry(l)
	}
	return &Runner{sweeper: s, opts: opts, m: metricsSingleton()}, nil
}

// Once runs a single pass and records its metrics.
func (r *Runner) Once(ctx context.Context) (engine.SweepResult, error) {
	start := time.Now()
	res, err := r.sweeper.SweepStatuses(ctx, engine.SweepOptions{
		Owner:    r.opts.Owner,
		PageSize: r.opts.PageSize,
		ClaimTTL: r.opts.ClaimTTL,
	})
	r.m.duration.Observe(time.Since(start).Seconds())
	r.m.claimed.WithLabelValues("occurrence").Add(float64(res.Occurrences))
	r.m.claimed.WithLabelValues("authorisation").Add(float64(res.Authorisations))
	r.m.changed.Add(float64(res.Changed))
	r.m.conflicts.Add(float64(res.Conflicts))
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.m.passes.WithLabelValues(result).Inc()
	return res, err
}

// Run sweeps every Interval until ctx is done. A full page is followed by
// another pass straight away.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for {
			res, err := r.Once(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.opts.Logger.WithError(err).Warn("sweep: pass failed")
				break
			}
			if !r.full(res) {
				break
			}
		}
	}
}

func (r *Runner) full(res engine.SweepResult) bool {
	page := r.opts.PageSize
	if page <= 0 {
		return false
	}
	return res.Occurrences >= page || res.Authorisations >= page
}
