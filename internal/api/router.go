// Package api exposes the pipeline over HTTP: health, metrics, snapshot
// reads, subscription management, admin triggers and the chat webhook.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	corslib "github.com/rs/cors"
	"github.com/rs/zerolog"

	"spacewatch/internal/alerting"
	"spacewatch/internal/cache"
	"spacewatch/internal/chatbot"
	"spacewatch/internal/dispatch"
	"spacewatch/internal/evaluator"
	"spacewatch/internal/recorder"
	"spacewatch/internal/storage"
	"spacewatch/internal/subscription"
)

// Pipeline is the service surface the handlers call.
type Pipeline interface {
	GetSnapshot(ctx context.Context, forceRefresh bool) cache.Result
	Subscribe(ctx context.Context, subscriberID string, topic storage.Topic, displayName, schedule string) subscription.Result
	Unsubscribe(ctx context.Context, subscriberID string, topic storage.Topic) subscription.Result
	ListSubscriptions(ctx context.Context, subscriberID string) []storage.Subscription
	ListSubscribersByTopic(ctx context.Context, topic storage.Topic) []subscription.Subscriber
	RunScheduledDeliveryTick(ctx context.Context, at time.Time) (dispatch.Outcome, error)
	RunAlertCheckTick(ctx context.Context) ([]evaluator.Outcome, error)
	RunRecordingTick(ctx context.Context) (recorder.Summary, error)
	Broadcast(ctx context.Context, topic storage.Topic, message string) (alerting.Result, error)
	RecentDeliveries(ctx context.Context, limit int) ([]storage.DeliveryRecord, error)
}

// Options select which route groups are mounted.
type Options struct {
	AdminToken     string
	ChannelSecret  string
	AllowedOrigins []string
	Clock          func() time.Time
}

// NewRouter builds the chi router. Admin and subscription routes need an
// admin token; the webhook needs a channel secret. Missing either leaves
// the group unmounted.
func NewRouter(p Pipeline, bot *chatbot.Bot, opts Options, logger zerolog.Logger) *chi.Mux {
	logger = logger.With().Str("component", "http_api").Logger()
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	h := &handler{pipeline: p, bot: bot, secret: opts.ChannelSecret, now: now, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := corslib.New(corslib.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/snapshot", h.getSnapshot)

		if opts.AdminToken == "" {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(bearerAuth(opts.AdminToken))
			r.Get("/subscriptions/{subscriberID}", h.listSubscriptions)
			r.Post("/subscriptions", h.subscribe)
			r.Delete("/subscriptions/{subscriberID}", h.unsubscribe)
			r.Get("/topics/{topic}/subscribers", h.listTopicSubscribers)
		})
	})

	if opts.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(bearerAuth(opts.AdminToken))
			r.Post("/ticks/{name}", h.runTick)
			r.Post("/broadcast", h.broadcast)
			r.Get("/deliveries", h.recentDeliveries)
		})
	} else {
		logger.Warn().Msg("admin token missing: admin and subscription routes disabled")
	}

	if opts.ChannelSecret != "" && bot != nil {
		r.Post("/webhook/line", h.webhook)
	} else {
		logger.Warn().Msg("channel secret missing: chat webhook disabled")
	}

	return r
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	expected := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(strings.TrimSpace(r.Header.Get("Authorization")))
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				writeJSON(w, http.StatusUnauthorized, failure("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
