package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-ingest/core"
)

// AttemptRunner re-drives one event through the exclusive
// retrying -> processing claim. core.Orchestrator satisfies it.
type AttemptRunner interface {
	RunAttempt(ctx context.Context, event core.Event, from core.EventStatus) (core.EventStatus, bool, error)
}

// SweepStats summarizes one sweep pass.
type SweepStats struct {
	Eligible  int
	Claimed   int
	Skipped   int
	Completed int
	Failed    int
	Retrying  int
}

// Scheduler owns the background sweep loop. Sweep is exported on its
// own so tests drive a single pass with a pinned clock instead of
// waiting on the ticker.
type Scheduler struct {
	Events    core.EventStore
	Runner    AttemptRunner
	Logger    core.Logger
	Metrics   core.MetricsRecorder
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(events core.EventStore, runner AttemptRunner, cfg core.RetryConfig) *Scheduler {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = core.DefaultConfig().Retry.SweepInterval
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = core.DefaultConfig().Retry.BatchSize
	}
	return &Scheduler{
		Events:    events,
		Runner:    runner,
		Logger:    glog.Nop(),
		Interval:  interval,
		BatchSize: batch,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Start launches the sweep loop. Starting a running scheduler is an
// error; the loop stops when Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil || s.Events == nil || s.Runner == nil {
		return fmt.Errorf("retry: scheduler requires event store and attempt runner")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("retry: scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)
	return nil
}

// Stop cancels the loop and waits for the in-flight sweep to finish or
// ctx to expire. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logError("retry sweep failed", err)
			}
		}
	}
}

// Sweep selects due retrying events in next_retry_at order, bounded by
// BatchSize, and re-drives each through the runner. Events claimed by a
// concurrent sweep are skipped silently.
func (s *Scheduler) Sweep(ctx context.Context) (SweepStats, error) {
	if s == nil || s.Events == nil || s.Runner == nil {
		return SweepStats{}, fmt.Errorf("retry: scheduler requires event store and attempt runner")
	}

	due, err := s.Events.ListRetryable(ctx, s.now(), s.BatchSize)
	if err != nil {
		return SweepStats{}, fmt.Errorf("retry: list due events: %w", err)
	}

	stats := SweepStats{Eligible: len(due)}
	for _, event := range due {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		status, claimed, err := s.Runner.RunAttempt(ctx, event, core.StatusRetrying)
		if err != nil {
			s.logError("retry attempt failed", err, "event_id", event.ID)
			continue
		}
		if !claimed {
			stats.Skipped++
			continue
		}
		stats.Claimed++
		switch status {
		case core.StatusCompleted:
			stats.Completed++
		case core.StatusFailed:
			stats.Failed++
		case core.StatusRetrying:
			stats.Retrying++
		}
	}
	s.count(ctx, stats)
	return stats, nil
}

func (s *Scheduler) count(ctx context.Context, stats SweepStats) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.IncCounter(ctx, "retry.sweep.eligible", int64(stats.Eligible), nil)
	s.Metrics.IncCounter(ctx, "retry.sweep.claimed", int64(stats.Claimed), nil)
}

func (s *Scheduler) logError(message string, err error, args ...any) {
	if s.Logger == nil {
		return
	}
	s.Logger.Error(message, append([]any{"error", err}, args...)...)
}

func (s *Scheduler) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
