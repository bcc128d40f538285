package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"spacewatch/internal/metrics"
	"spacewatch/internal/storage"
)

const (
	previewRunes  = 50
	redactKeepLen = 10
)

// Payload is one outbound notification.
type Payload struct {
	Topic    storage.Topic
	Messages []string
}

// Result counts a fan-out pass. Delivered lists the subscribers whose push succeeded.
type Result struct {
	Sent      int      `json:"sent"`
	Total     int      `json:"total"`
	Delivered []string `json:"-"`
}

// FanoutOptions configure delivery pacing and batching.
type FanoutOptions struct {
	Pacing      time.Duration
	MaxSegments int
	Timeout     time.Duration
	Clock       func() time.Time
}

// Fanout pushes a payload to each subscriber in order, one at a time.
type Fanout struct {
	pusher      Pusher
	log         storage.DeliveryLog
	limiter     *rate.Limiter
	maxSegments int
	timeout     time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// NewFanout wires a pusher and a delivery log.
func NewFanout(pusher Pusher, log storage.DeliveryLog, opts FanoutOptions, logger zerolog.Logger) *Fanout {
	if pusher == nil {
		pusher = DisabledPusher{}
	}
	limit := rate.Inf
	if opts.Pacing > 0 {
		limit = rate.Every(opts.Pacing)
	}
	maxSegments := opts.MaxSegments
	if maxSegments <= 0 || maxSegments > MaxSegments {
		maxSegments = MaxSegments
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Fanout{
		pusher:      pusher,
		log:         log,
		limiter:     rate.NewLimiter(limit, 1),
		maxSegments: maxSegments,
		timeout:     timeout,
		now:         now,
		logger:      logger.With().Str("component", "fanout").Logger(),
	}
}

// Deliver pushes payload to every subscriber sequentially. One failure never
// stops the rest; every attempt is appended to the delivery log.
func (f *Fanout) Deliver(ctx context.Context, subscribers []string, payload Payload) Result {
	res := Result{Total: len(subscribers)}
	messages := payload.Messages
	if len(messages) > f.maxSegments {
		messages = messages[:f.maxSegments]
	}

	for _, id := range subscribers {
		err := f.limiter.Wait(ctx)
		if err == nil {
			pctx, cancel := context.WithTimeout(ctx, f.timeout)
			err = f.pusher.Push(pctx, id, messages)
			cancel()
		}

		outcome := "success"
		if err != nil {
			outcome = "failure"
			f.logger.Warn().Err(err).Str("topic", string(payload.Topic)).Str("subscriber", Redact(id)).Msg("push failed")
		} else {
			res.Sent++
			res.Delivered = append(res.Delivered, id)
		}
		metrics.Deliveries.WithLabelValues(string(payload.Topic), outcome).Inc()
		f.record(ctx, id, payload.Topic, messages, err)
	}

	f.logger.Info().Str("topic", string(payload.Topic)).Int("sent", res.Sent).Int("total", res.Total).Msg("fan-out complete")
	return res
}

func (f *Fanout) record(ctx context.Context, subscriberID string, topic storage.Topic, messages []string, pushErr error) {
	if f.log == nil {
		return
	}
	rec := storage.DeliveryRecord{
		ID:           uuid.NewString(),
		DeliveredAt:  f.now().UTC(),
		SubscriberID: Redact(subscriberID),
		Topic:        topic,
		Preview:      preview(messages),
		Success:      pushErr == nil,
	}
	if pushErr != nil {
		rec.Error = pushErr.Error()
	}

	// the audit write must not be cut short by a cancelled delivery context
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()
	if err := f.log.AppendDelivery(wctx, rec); err != nil {
		f.logger.Warn().Err(err).Msg("append delivery record failed")
	}
}

// Redact keeps the first characters of a subscriber id for audit storage.
func Redact(id string) string {
	if len(id) <= redactKeepLen {
		return id
	}
	return id[:redactKeepLen] + "***"
}

func preview(messages []string) string {
	if len(messages) == 0 {
		return ""
	}
	r := []rune(messages[0])
	if len(r) > previewRunes {
		return string(r[:previewRunes])
	}
	return string(r)
}
