// Package dispatch delivers daily reports to subscribers whose preferred
// hour matches the current wall-clock hour.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spacewatch/internal/alerting"
	"spacewatch/internal/cache"
	"spacewatch/internal/spaceweather"
	"spacewatch/internal/storage"
	"spacewatch/internal/subscription"
)

// SnapshotSource is the reading cache.
type SnapshotSource interface {
	Get(ctx context.Context, forceRefresh bool) cache.Result
}

// SubscriberDirectory resolves topic recipients.
type SubscriberDirectory interface {
	ListSubscribersByTopic(ctx context.Context, topic storage.Topic) ([]subscription.Subscriber, error)
	MarkDelivered(ctx context.Context, topic storage.Topic, subscriberIDs []string, at time.Time)
}

// Deliverer fans a payload out to subscribers.
type Deliverer interface {
	Deliver(ctx context.Context, subscribers []string, payload alerting.Payload) alerting.Result
}

// Outcome describes one dispatcher tick.
type Outcome struct {
	Slot    string
	Matched int
	Ran     bool
	Result  alerting.Result
}

// Dispatcher is the scheduled daily-report trigger.
type Dispatcher struct {
	dir      SubscriberDirectory
	snapshot SnapshotSource
	fanout   Deliverer
	loc      *time.Location
	logger   zerolog.Logger

	mu       sync.Mutex
	lastSlot time.Time
}

// New constructs a dispatcher evaluating schedules in loc.
func New(dir SubscriberDirectory, snapshot SnapshotSource, fanout Deliverer, loc *time.Location, logger zerolog.Logger) *Dispatcher {
	if loc == nil {
		loc = time.Local
	}
	return &Dispatcher{
		dir:      dir,
		snapshot: snapshot,
		fanout:   fanout,
		loc:      loc,
		logger:   logger.With().Str("component", "scheduled_dispatcher").Logger(),
	}
}

// Tick runs the dispatcher for wall-clock time at. Only exact hour
// boundaries deliver, and each hour slot delivers at most once.
func (d *Dispatcher) Tick(ctx context.Context, at time.Time) (Outcome, error) {
	local := at.In(d.loc).Truncate(time.Minute)
	slot := subscription.HourLabel(local)
	out := Outcome{Slot: slot}
	if local.Minute() != 0 {
		return out, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if local.Equal(d.lastSlot) {
		d.logger.Debug().Str("slot", slot).Msg("slot already dispatched")
		return out, nil
	}

	subs, err := d.dir.ListSubscribersByTopic(ctx, storage.TopicDailyReport)
	if err != nil {
		return out, fmt.Errorf("list daily subscribers: %w", err)
	}
	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		if s.Schedule == slot {
			ids = append(ids, s.SubscriberID)
		}
	}
	out.Matched = len(ids)
	d.lastSlot = local
	if len(ids) == 0 {
		return out, nil
	}

	res := d.snapshot.Get(ctx, true)
	if !res.Success {
		d.logger.Warn().Err(res.Err).Msg("refresh failed, reporting from stale snapshot")
	}
	snap, err := res.Usable()
	if err != nil {
		return out, fmt.Errorf("daily report %s: %w", slot, err)
	}

	out.Ran = true
	out.Result = d.fanout.Deliver(ctx, ids, alerting.Payload{
		Topic:    storage.TopicDailyReport,
		Messages: spaceweather.DailyReport(snap, d.loc),
	})
	if len(out.Result.Delivered) > 0 {
		d.dir.MarkDelivered(ctx, storage.TopicDailyReport, out.Result.Delivered, at)
	}

	d.logger.Info().Str("slot", slot).Int("sent", out.Result.Sent).Int("total", out.Result.Total).Msg("daily report dispatched")
	return out, nil
}
