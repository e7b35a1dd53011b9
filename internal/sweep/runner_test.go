package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapline/internal/engine"
)

type fakeSweeper struct {
	mu      sync.Mutex
	results []engine.SweepResult
	calls   []engine.SweepOptions
	err     error
}

func (f *fakeSweeper) SweepStatuses(_ context.Context, opts engine.SweepOptions) (engine.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return engine.SweepResult{}, f.err
	}
	if len(f.results) == 0 {
		return engine.SweepResult{}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func (f *fakeSweeper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestOncePassesOptions(t *testing.T) {
	s := &fakeSweeper{results: []engine.SweepResult{{Occurrences: 3, Changed: 2}}}
	r, err := NewRunner(s, Options{Owner: "sweeper-a", PageSize: 50, ClaimTTL: time.Minute})
	require.NoError(t, err)

	res, err := r.Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Changed)
	require.Len(t, s.calls, 1)
	assert.Equal(t, engine.SweepOptions{Owner: "sweeper-a", PageSize: 50, ClaimTTL: time.Minute}, s.calls[0])
}

func TestRunContinuesAfterFullPage(t *testing.T) {
	s := &fakeSweeper{results: []engine.SweepResult{{Occurrences: 2}, {Occurrences: 2}, {Occurrences: 1}}}
	r, err := NewRunner(s, Options{Interval: 5 * time.Millisecond, PageSize: 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.Eventually(t, func() bool { return s.callCount() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunSurvivesFailedPasses(t *testing.T) {
	s := &fakeSweeper{err: errors.New("database is locked")}
	r, err := NewRunner(s, Options{Interval: 5 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.Eventually(t, func() bool { return s.callCount() >= 2 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewRunnerRequiresSweeper(t *testing.T) {
	_, err := NewRunner(nil, Options{})
	assert.Error(t, err)
}
