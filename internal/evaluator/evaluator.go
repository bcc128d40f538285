// Package evaluator checks alert thresholds against the latest snapshot and
// enforces a per-topic cooldown between dispatched alerts.
package evaluator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spacewatch/internal/alerting"
	"spacewatch/internal/metrics"
	"spacewatch/internal/spaceweather"
	"spacewatch/internal/storage"
	"spacewatch/internal/subscription"
)

// DefaultCooldown is the minimum gap between two alerts of one topic.
const DefaultCooldown = time.Hour

// DefaultEventLookback matches the event catalogue query window.
const DefaultEventLookback = 72 * time.Hour

// SubscriberDirectory resolves the active recipients of a topic.
type SubscriberDirectory interface {
	ListSubscribersByTopic(ctx context.Context, topic storage.Topic) ([]subscription.Subscriber, error)
	MarkDelivered(ctx context.Context, topic storage.Topic, subscriberIDs []string, at time.Time)
}

// Deliverer fans a payload out to subscribers.
type Deliverer interface {
	Deliver(ctx context.Context, subscribers []string, payload alerting.Payload) alerting.Result
}

// Options configure thresholds and the cooldown window. Alerted CME ids are
// forgotten once their launch is older than twice EventLookback.
type Options struct {
	Cooldown      time.Duration
	KpThreshold   float64
	FlareClass    string
	EventLookback time.Duration
	Clock         func() time.Time
}

// Decision explains what happened to one topic in one pass.
type Decision string

const (
	DecisionQuiet         Decision = "below_threshold"
	DecisionCooling       Decision = "cooling"
	DecisionNoSubscribers Decision = "no_subscribers"
	DecisionLookupFailed  Decision = "lookup_failed"
	DecisionFired         Decision = "fired"
)

// Outcome is the per-topic result of an evaluation pass.
type Outcome struct {
	Topic    storage.Topic
	Decision Decision
	Result   alerting.Result
}

// Evaluator owns the cooldown state. Passes are serialised.
type Evaluator struct {
	dir    SubscriberDirectory
	fanout Deliverer
	opts   Options
	now    func() time.Time
	logger zerolog.Logger

	mu        sync.Mutex
	lastFired map[storage.Topic]time.Time
	seenCMEs  map[string]time.Time
}

// New constructs an evaluator with every topic armed.
func New(dir SubscriberDirectory, fanout Deliverer, opts Options, logger zerolog.Logger) *Evaluator {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.KpThreshold <= 0 {
		opts.KpThreshold = 5
	}
	if opts.EventLookback <= 0 {
		opts.EventLookback = DefaultEventLookback
	}
	opts.FlareClass = strings.ToUpper(strings.TrimSpace(opts.FlareClass))
	if flareRank(opts.FlareClass) == 0 {
		opts.FlareClass = "X"
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Evaluator{
		dir:       dir,
		fanout:    fanout,
		opts:      opts,
		now:       now,
		logger:    logger.With().Str("component", "alert_evaluator").Logger(),
		lastFired: make(map[storage.Topic]time.Time),
		seenCMEs:  make(map[string]time.Time),
	}
}

type trigger struct {
	topic   storage.Topic
	header  string
	excerpt string
	cmes    []spaceweather.CMEEvent
}

// Evaluate runs one pass over every alert topic.
func (e *Evaluator) Evaluate(ctx context.Context, snap *spaceweather.Snapshot) []Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	if snap == nil {
		return nil
	}

	now := e.now()
	e.pruneCMEs(now)
	candidates := []struct {
		topic storage.Topic
		check func(*spaceweather.Snapshot, time.Time) (trigger, bool)
	}{
		{storage.TopicGeomagneticAlert, e.geomagnetic},
		{storage.TopicFlareAlert, e.flare},
		{storage.TopicCMEAlert, e.cme},
	}

	out := make([]Outcome, 0, len(candidates))
	for _, c := range candidates {
		trig, hit := c.check(snap, now)
		if !hit {
			out = append(out, Outcome{Topic: c.topic, Decision: DecisionQuiet})
			continue
		}
		out = append(out, e.fire(ctx, snap, trig, now))
	}
	return out
}

func (e *Evaluator) fire(ctx context.Context, snap *spaceweather.Snapshot, trig trigger, now time.Time) Outcome {
	log := e.logger.With().Str("topic", string(trig.topic)).Logger()

	if last, ok := e.lastFired[trig.topic]; ok && now.Before(last.Add(e.opts.Cooldown)) {
		// events observed while cooling are covered by the alert already sent
		e.markCMEs(trig.cmes, now)
		log.Debug().Time("last_fired", last).Msg("threshold crossed but topic is cooling")
		return Outcome{Topic: trig.topic, Decision: DecisionCooling}
	}

	subs, err := e.dir.ListSubscribersByTopic(ctx, trig.topic)
	if err != nil {
		log.Error().Err(err).Msg("resolve subscribers failed")
		return Outcome{Topic: trig.topic, Decision: DecisionLookupFailed}
	}
	if len(subs) == 0 {
		log.Info().Msg("threshold crossed but no active subscribers")
		return Outcome{Topic: trig.topic, Decision: DecisionNoSubscribers}
	}

	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.SubscriberID)
	}
	res := e.fanout.Deliver(ctx, ids, alerting.Payload{
		Topic:    trig.topic,
		Messages: spaceweather.AlertMessage(trig.header, snap, trig.excerpt),
	})

	e.lastFired[trig.topic] = now
	e.markCMEs(trig.cmes, now)
	metrics.AlertsFired.WithLabelValues(string(trig.topic)).Inc()
	if len(res.Delivered) > 0 {
		e.dir.MarkDelivered(ctx, trig.topic, res.Delivered, now)
	}

	log.Info().Int("sent", res.Sent).Int("total", res.Total).Msg("alert dispatched")
	return Outcome{Topic: trig.topic, Decision: DecisionFired, Result: res}
}

func (e *Evaluator) geomagnetic(snap *spaceweather.Snapshot, _ time.Time) (trigger, bool) {
	g := snap.Geomagnetic
	// written so a NaN Kp never crosses the threshold
	if g == nil || g.Degraded || !(g.Kp >= e.opts.KpThreshold) {
		return trigger{}, false
	}
	return trigger{
		topic:   storage.TopicGeomagneticAlert,
		header:  fmt.Sprintf("Geomagnetic storm alert: Kp %.1f (%s, %s)", g.Kp, g.GScale, g.Level),
		excerpt: spaceweather.Summary(snap),
	}, true
}

func (e *Evaluator) flare(snap *spaceweather.Snapshot, _ time.Time) (trigger, bool) {
	x := snap.XRay
	if x == nil || x.Degraded || math.IsNaN(x.Flux) || math.IsInf(x.Flux, 0) {
		return trigger{}, false
	}
	if flareRank(x.Class) < flareRank(e.opts.FlareClass) {
		return trigger{}, false
	}
	return trigger{
		topic:   storage.TopicFlareAlert,
		header:  fmt.Sprintf("Solar flare alert: %s-class (%s)", x.Class, x.Label()),
		excerpt: fmt.Sprintf("GOES X-ray flux %.2e W/m²", x.Flux),
	}, true
}

// cme fires for Earth-directed CMEs not yet alerted whose predicted arrival
// has not passed.
func (e *Evaluator) cme(snap *spaceweather.Snapshot, now time.Time) (trigger, bool) {
	var fresh []spaceweather.CMEEvent
	for _, c := range snap.CMEs {
		if !c.EarthDirected || c.ID == "" {
			continue
		}
		if _, seen := e.seenCMEs[c.ID]; seen {
			continue
		}
		if c.ArrivalTime != nil && c.ArrivalTime.Before(now) {
			continue
		}
		fresh = append(fresh, c)
	}
	if len(fresh) == 0 {
		return trigger{}, false
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].StartTime.Before(fresh[j].StartTime) })

	lines := make([]string, 0, len(fresh))
	for _, c := range fresh {
		line := fmt.Sprintf("%s launched %s, %.0f km/s", c.ID, c.StartTime.UTC().Format("2006-01-02 15:04Z"), c.Speed)
		if c.ArrivalTime != nil {
			line += ", arrival ~" + c.ArrivalTime.UTC().Format("2006-01-02 15:04Z")
		}
		lines = append(lines, line)
	}
	return trigger{
		topic:   storage.TopicCMEAlert,
		header:  fmt.Sprintf("Earth-directed CME alert (%d new)", len(fresh)),
		excerpt: strings.Join(lines, "\n"),
		cmes:    fresh,
	}, true
}

// markCMEs remembers alerted CMEs by launch time; a missing launch time
// counts from now.
func (e *Evaluator) markCMEs(cmes []spaceweather.CMEEvent, now time.Time) {
	for _, c := range cmes {
		started := c.StartTime
		if started.IsZero() {
			started = now
		}
		e.seenCMEs[c.ID] = started
	}
}

func (e *Evaluator) pruneCMEs(now time.Time) {
	cutoff := now.Add(-2 * e.opts.EventLookback)
	for id, started := range e.seenCMEs {
		if started.Before(cutoff) {
			delete(e.seenCMEs, id)
		}
	}
}

// Armed reports whether topic may fire at the current time.
func (e *Evaluator) Armed(topic storage.Topic) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastFired[topic]
	return !ok || !e.now().Before(last.Add(e.opts.Cooldown))
}

// LastFired returns when topic last dispatched an alert.
func (e *Evaluator) LastFired(topic storage.Topic) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.lastFired[topic]
	return t, ok
}

func flareRank(class string) int {
	switch strings.ToUpper(class) {
	case "X":
		return 5
	case "M":
		return 4
	case "C":
		return 3
	case "B":
		return 2
	case "A":
		return 1
	default:
		return 0
	}
}
