// Package subscription manages subscriber topic records on top of the
// storage repositories. Every operation fails softly.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"spacewatch/internal/storage"
)

// DefaultSchedule is used for daily reports subscribed without a time.
const DefaultSchedule = "08:00"

// Options configure the subscription service.
type Options struct {
	Timeout time.Duration
	Clock   func() time.Time
}

// Result is the soft outcome of a mutating operation.
type Result struct {
	Success      bool
	Message      string
	Subscription *storage.Subscription
	Affected     int
}

// Subscriber is one active recipient of a topic.
type Subscriber struct {
	SubscriberID string
	Schedule     string
}

// Service is the only writer of subscription state.
type Service struct {
	repo    storage.SubscriptionRepository
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewService wires the service to a repository.
func NewService(repo storage.SubscriptionRepository, opts Options, logger zerolog.Logger) *Service {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:    repo,
		timeout: timeout,
		now:     now,
		logger:  logger.With().Str("component", "subscriptions").Logger(),
	}
}

// Subscribe creates or updates the (subscriber, topic) record. A daily
// report keeps its previous schedule when none is given.
func (s *Service) Subscribe(ctx context.Context, subscriberID string, topic storage.Topic, displayName, schedule string) Result {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return Result{Message: "subscriber id required"}
	}
	if _, err := storage.ParseTopic(string(topic)); err != nil {
		return Result{Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	existing, err := s.repo.FindSubscription(ctx, subscriberID, topic)
	found := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error().Err(err).Str("topic", string(topic)).Msg("lookup subscription failed")
		return Result{Message: "subscription store unavailable"}
	}

	sub := storage.Subscription{
		SubscriberID: subscriberID,
		Topic:        topic,
		DisplayName:  strings.TrimSpace(displayName),
		Status:       storage.StatusActive,
		SubscribedAt: s.now().UTC(),
	}
	if found {
		sub.SubscribedAt = existing.SubscribedAt
		sub.LastDeliveredAt = existing.LastDeliveredAt
		if sub.DisplayName == "" {
			sub.DisplayName = existing.DisplayName
		}
	}

	if topic == storage.TopicDailyReport {
		switch {
		case strings.TrimSpace(schedule) != "":
			normalized, err := NormalizeSchedule(schedule)
			if err != nil {
				return Result{Message: err.Error()}
			}
			sub.Schedule = normalized
		case found && existing.Schedule != "":
			sub.Schedule = existing.Schedule
		default:
			sub.Schedule = DefaultSchedule
		}
	}

	if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
		s.logger.Error().Err(err).Str("topic", string(topic)).Msg("upsert subscription failed")
		return Result{Message: "subscription store unavailable"}
	}

	s.logger.Info().Str("topic", string(topic)).Str("schedule", sub.Schedule).Bool("resubscribe", found).Msg("subscribed")
	return Result{Success: true, Subscription: &sub, Affected: 1, Message: "subscribed to " + string(topic)}
}

// Unsubscribe deactivates one topic, or every topic when topic is empty.
func (s *Service) Unsubscribe(ctx context.Context, subscriberID string, topic storage.Topic) Result {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return Result{Message: "subscriber id required"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	subs, err := s.repo.ListSubscriptionsBySubscriber(ctx, subscriberID)
	if err != nil {
		s.logger.Error().Err(err).Msg("list subscriptions failed")
		return Result{Message: "subscription store unavailable"}
	}

	affected := 0
	for _, sub := range subs {
		if !sub.Active() || (topic != "" && sub.Topic != topic) {
			continue
		}
		sub.Status = storage.StatusInactive
		if err := s.repo.UpsertSubscription(ctx, sub); err != nil {
			s.logger.Error().Err(err).Str("topic", string(sub.Topic)).Msg("deactivate subscription failed")
			return Result{Affected: affected, Message: "subscription store unavailable"}
		}
		affected++
	}

	if affected == 0 {
		return Result{Success: true, Message: "no active subscription"}
	}
	s.logger.Info().Str("topic", string(topic)).Int("affected", affected).Msg("unsubscribed")
	return Result{Success: true, Affected: affected, Message: fmt.Sprintf("unsubscribed from %d topic(s)", affected)}
}

// ListActive returns the subscriber's active records, or nil on failure.
func (s *Service) ListActive(ctx context.Context, subscriberID string) []storage.Subscription {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	subs, err := s.repo.ListSubscriptionsBySubscriber(ctx, subscriberID)
	if err != nil {
		s.logger.Error().Err(err).Msg("list subscriptions failed")
		return nil
	}
	out := make([]storage.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.Active() {
			out = append(out, sub)
		}
	}
	return out
}

// ListSubscribersByTopic returns the active subscribers of topic.
func (s *Service) ListSubscribersByTopic(ctx context.Context, topic storage.Topic) ([]Subscriber, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	subs, err := s.repo.ListSubscriptionsByTopic(ctx, topic, storage.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list subscribers of %s: %w", topic, err)
	}
	out := make([]Subscriber, 0, len(subs))
	for _, sub := range subs {
		out = append(out, Subscriber{SubscriberID: sub.SubscriberID, Schedule: sub.Schedule})
	}
	return out, nil
}

// MarkDelivered stamps last-delivered-at for each recipient; failures are logged.
func (s *Service) MarkDelivered(ctx context.Context, topic storage.Topic, subscriberIDs []string, at time.Time) {
	for _, id := range subscriberIDs {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.repo.MarkDelivered(cctx, id, topic, at)
		cancel()
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).Str("topic", string(topic)).Msg("mark delivered failed")
		}
	}
}

// NormalizeSchedule accepts "8", "08", "8:00" or "08:00" and returns "HH:00".
func NormalizeSchedule(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	hourPart, minutePart, hasMinutes := strings.Cut(raw, ":")
	if hasMinutes && minutePart != "00" {
		return "", fmt.Errorf("schedule %q must be on the hour (HH:00)", raw)
	}
	hour, err := strconv.Atoi(hourPart)
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid schedule %q", raw)
	}
	return fmt.Sprintf("%02d:00", hour), nil
}

// HourLabel renders t as the schedule label of its hour.
func HourLabel(t time.Time) string {
	return fmt.Sprintf("%02d:00", t.Hour())
}
