// Package scheduler drives periodic tasks on aligned interval boundaries.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"spacewatch/internal/metrics"
)

// TickFunc is invoked on every aligned interval.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Name         string
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives aligned execution of one periodic task.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Name == "" {
		opts.Name = "tick"
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Str("task", opts.Name).Logger(),
	}
}

// Run blocks, invoking the tick function at each aligned interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		bucket := s.bucketStart(next)
		s.logger.Debug().Time("bucket", bucket).Msg("executing scheduled tick")

		s.runTick(ctx, tick, bucket)
		next = next.Add(s.opts.Interval)
	}
}

// runTick invokes one tick. Errors and panics are logged and the schedule
// continues.
func (s *Scheduler) runTick(ctx context.Context, tick TickFunc, bucket time.Time) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Time("bucket", bucket).Msg("tick panicked")
		}
		metrics.TickDuration.WithLabelValues(s.opts.Name).Observe(time.Since(started).Seconds())
	}()

	if err := tick(ctx, bucket); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

// Task pairs a schedule with its tick function.
type Task struct {
	Options Options
	Tick    TickFunc
}

// RunAll runs every task on its own schedule until ctx is cancelled.
// Cancellation is a clean shutdown and returns nil.
func RunAll(ctx context.Context, logger zerolog.Logger, tasks ...Task) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		sched := New(task.Options, logger)
		tick := task.Tick
		g.Go(func() error {
			return sched.Run(gctx, tick)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
