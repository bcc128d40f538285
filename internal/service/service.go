// Package service is the pipeline facade used by the scheduler, the HTTP
// API, the chat webhook and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"spacewatch/internal/alerting"
	"spacewatch/internal/cache"
	"spacewatch/internal/config"
	"spacewatch/internal/dispatch"
	"spacewatch/internal/evaluator"
	"spacewatch/internal/recorder"
	"spacewatch/internal/scheduler"
	"spacewatch/internal/storage"
	"spacewatch/internal/subscription"
)

// ErrInvalidInput marks a request missing a required field.
var ErrInvalidInput = errors.New("invalid input")

// Tick names, also used as advisory lock offsets and metric labels.
const (
	TickDelivery = "delivery"
	TickAlerts   = "alerts"
	TickRecord   = "record"
)

// Deps are the collaborators the service orchestrates.
type Deps struct {
	Cache         *cache.Cache
	Subscriptions *subscription.Service
	Evaluator     *evaluator.Evaluator
	Dispatcher    *dispatch.Dispatcher
	Recorder      *recorder.Recorder
	Fanout        *alerting.Fanout
	Backend       storage.Backend
	Clock         func() time.Time
}

// Service orchestrates caching, evaluation, delivery and recording.
type Service struct {
	cache      *cache.Cache
	subs       *subscription.Service
	evaluator  *evaluator.Evaluator
	dispatcher *dispatch.Dispatcher
	recorder   *recorder.Recorder
	fanout     *alerting.Fanout
	backend    storage.Backend
	locker     storage.AdvisoryLocker
	lockKey    int64
	alertsOn   bool
	schedule   config.SchedulerConfig
	now        func() time.Time
	logger     zerolog.Logger
}

// New constructs the pipeline service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := deps.Backend.(storage.AdvisoryLocker); ok {
		locker = l
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	return &Service{
		cache:      deps.Cache,
		subs:       deps.Subscriptions,
		evaluator:  deps.Evaluator,
		dispatcher: deps.Dispatcher,
		recorder:   deps.Recorder,
		fanout:     deps.Fanout,
		backend:    deps.Backend,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
		alertsOn:   cfg.Alerting.Enabled,
		schedule:   cfg.Scheduler,
		now:        now,
		logger:     logger.With().Str("component", "service").Logger(),
	}
}

// Run starts the three periodic ticks and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	align := s.schedule.AlignToBucket
	delay := s.schedule.StartupDelay
	return scheduler.RunAll(ctx, s.logger,
		scheduler.Task{
			Options: scheduler.Options{Name: TickDelivery, Interval: s.schedule.DeliveryInterval, AlignToStart: align, StartupDelay: delay},
			Tick: func(ctx context.Context, bucket time.Time) error {
				_, err := s.RunScheduledDeliveryTick(ctx, bucket)
				return err
			},
		},
		scheduler.Task{
			Options: scheduler.Options{Name: TickAlerts, Interval: s.schedule.AlertInterval, AlignToStart: align, StartupDelay: delay},
			Tick: func(ctx context.Context, _ time.Time) error {
				_, err := s.RunAlertCheckTick(ctx)
				return err
			},
		},
		scheduler.Task{
			Options: scheduler.Options{Name: TickRecord, Interval: s.schedule.RecordInterval, AlignToStart: align, StartupDelay: delay},
			Tick: func(ctx context.Context, _ time.Time) error {
				_, err := s.RunRecordingTick(ctx)
				return err
			},
		},
	)
}

// GetSnapshot reads through the cache.
func (s *Service) GetSnapshot(ctx context.Context, forceRefresh bool) cache.Result {
	return s.cache.Get(ctx, forceRefresh)
}

// Subscribe upserts a subscription.
func (s *Service) Subscribe(ctx context.Context, subscriberID string, topic storage.Topic, displayName, schedule string) subscription.Result {
	return s.subs.Subscribe(ctx, subscriberID, topic, displayName, schedule)
}

// Unsubscribe deactivates one topic, or all when topic is empty.
func (s *Service) Unsubscribe(ctx context.Context, subscriberID string, topic storage.Topic) subscription.Result {
	return s.subs.Unsubscribe(ctx, subscriberID, topic)
}

// ListSubscriptions returns the subscriber's active records.
func (s *Service) ListSubscriptions(ctx context.Context, subscriberID string) []storage.Subscription {
	return s.subs.ListActive(ctx, subscriberID)
}

// ListSubscribersByTopic returns a topic's active subscribers; empty on failure.
func (s *Service) ListSubscribersByTopic(ctx context.Context, topic storage.Topic) []subscription.Subscriber {
	subs, err := s.subs.ListSubscribersByTopic(ctx, topic)
	if err != nil {
		s.logger.Error().Err(err).Str("topic", string(topic)).Msg("list subscribers failed")
		return []subscription.Subscriber{}
	}
	return subs
}

// RecentDeliveries returns the newest delivery audit records.
func (s *Service) RecentDeliveries(ctx context.Context, limit int) ([]storage.DeliveryRecord, error) {
	if s.backend == nil {
		return nil, storage.ErrNotConfigured
	}
	return s.backend.ListRecentDeliveries(ctx, limit)
}

// RunScheduledDeliveryTick delivers daily reports due at the given time.
func (s *Service) RunScheduledDeliveryTick(ctx context.Context, at time.Time) (dispatch.Outcome, error) {
	var out dispatch.Outcome
	err := s.locked(ctx, TickDelivery, 1, func(ctx context.Context) error {
		var err error
		out, err = s.dispatcher.Tick(ctx, at)
		return err
	})
	return out, err
}

// RunAlertCheckTick refreshes the cache and evaluates every alert topic.
func (s *Service) RunAlertCheckTick(ctx context.Context) ([]evaluator.Outcome, error) {
	if !s.alertsOn {
		s.logger.Debug().Msg("alerting disabled, skip alert check")
		return nil, nil
	}
	var out []evaluator.Outcome
	err := s.locked(ctx, TickAlerts, 2, func(ctx context.Context) error {
		res := s.cache.Get(ctx, true)
		if !res.Success {
			ev := s.logger.Warn().Err(res.Err)
			if age, ok := s.cache.Age(); ok {
				ev = ev.Dur("snapshot_age", age)
			}
			ev.Msg("refresh failed, evaluating stale snapshot")
		}
		snap, err := res.Usable()
		if err != nil {
			return fmt.Errorf("alert check: %w", err)
		}
		out = s.evaluator.Evaluate(ctx, snap)
		return nil
	})
	return out, err
}

// RunRecordingTick persists the current snapshot to history.
func (s *Service) RunRecordingTick(ctx context.Context) (recorder.Summary, error) {
	var out recorder.Summary
	err := s.locked(ctx, TickRecord, 3, func(ctx context.Context) error {
		var err error
		out, err = s.recorder.Record(ctx)
		return err
	})
	return out, err
}

// Broadcast sends message to every active subscriber of topic.
func (s *Service) Broadcast(ctx context.Context, topic storage.Topic, message string) (alerting.Result, error) {
	message = strings.TrimSpace(message)
	if topic == "" || message == "" {
		return alerting.Result{}, fmt.Errorf("%w: topic and message are required", ErrInvalidInput)
	}
	if _, err := storage.ParseTopic(string(topic)); err != nil {
		return alerting.Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	subs, err := s.subs.ListSubscribersByTopic(ctx, topic)
	if err != nil {
		return alerting.Result{}, err
	}
	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.SubscriberID)
	}

	res := s.fanout.Deliver(ctx, ids, alerting.Payload{Topic: topic, Messages: []string{message}})
	if len(res.Delivered) > 0 {
		s.subs.MarkDelivered(ctx, topic, res.Delivered, s.now())
	}
	s.logger.Info().Str("topic", string(topic)).Int("sent", res.Sent).Int("total", res.Total).Msg("broadcast complete")
	return res, nil
}

// locked runs fn under the tick's advisory lock when the backend offers one.
// A lock held elsewhere skips the tick without error.
func (s *Service) locked(ctx context.Context, name string, offset int64, fn func(context.Context) error) error {
	unlock, proceed, err := s.acquireLock(ctx, offset)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Str("tick", name).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}
	return fn(ctx)
}

func (s *Service) acquireLock(ctx context.Context, offset int64) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey+offset)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
