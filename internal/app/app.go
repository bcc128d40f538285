package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"spacewatch/internal/alerting"
	"spacewatch/internal/api"
	"spacewatch/internal/cache"
	"spacewatch/internal/chatbot"
	"spacewatch/internal/config"
	"spacewatch/internal/dispatch"
	"spacewatch/internal/evaluator"
	"spacewatch/internal/fetcher"
	"spacewatch/internal/recorder"
	"spacewatch/internal/service"
	"spacewatch/internal/storage"
	"spacewatch/internal/subscription"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// pipeline is the fully wired set of components behind one command.
type pipeline struct {
	backend storage.Backend
	subs    *subscription.Service
	eval    *evaluator.Evaluator
	replier alerting.Replier
	service *service.Service
	loc     *time.Location
}

func (p *pipeline) Close() {
	if p.backend != nil {
		p.backend.Close()
	}
}

func (a *App) newFetcher() fetcher.SnapshotFetcher {
	up := a.Config.Upstream
	return fetcher.NewAggregator(fetcher.Options{
		NOAABaseURL:      up.NOAABaseURL,
		DONKIBaseURL:     up.DONKIBaseURL,
		NASAAPIKey:       up.NASAAPIKey,
		SatelliteBaseURL: up.SatelliteBaseURL,
		SatelliteID:      up.SatelliteID,
		Timeout:          up.RequestTimeout,
		UserAgent:        up.UserAgent,
		EventLookback:    up.EventLookback,
	}, a.Logger)
}

// openBackend opens the configured store. A failure degrades to a no-op
// store so the pipeline keeps serving readings and pushes.
func (a *App) openBackend(ctx context.Context) storage.Backend {
	if !a.Config.Database.Durable() {
		a.Logger.Warn().Str("driver", a.Config.Database.Driver).Msg("in-memory storage selected; subscriptions, cooldowns and history are lost on restart")
	}
	backend, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		a.Logger.Warn().Err(err).Str("driver", a.Config.Database.Driver).Msg("storage unavailable; persistence disabled")
		return storage.NoopStore{}
	}
	return backend
}

// openHistory opens the configured store for read-only history commands,
// where a missing backend is a hard error.
func (a *App) openHistory(ctx context.Context) (storage.Backend, error) {
	if err := a.requireDurable(); err != nil {
		return nil, err
	}
	return storage.Open(ctx, a.Config.Database)
}

// requireDurable rejects one-shot commands whose effects would vanish with
// the process.
func (a *App) requireDurable() error {
	if a.Config.Database.Durable() {
		return nil
	}
	return fmt.Errorf("database.driver %q keeps no state between runs; configure sqlite or postgres", a.Config.Database.Driver)
}

func (a *App) buildPipeline(ctx context.Context, snapshots fetcher.SnapshotFetcher) (*pipeline, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return nil, err
	}

	backend := a.openBackend(ctx)
	snapCache := cache.New(snapshots, cache.Options{TTL: a.Config.Cache.TTL}, a.Logger)
	subs := subscription.NewService(backend, subscription.Options{Timeout: a.Config.Database.RequestTimeout}, a.Logger)

	pusher, replier := alerting.NewFromConfig(a.Config.Push, a.Logger)
	fanout := alerting.NewFanout(pusher, backend, alerting.FanoutOptions{
		Pacing:      a.Config.Push.Pacing,
		MaxSegments: a.Config.Push.MaxSegments,
		Timeout:     a.Config.Push.Timeout,
	}, a.Logger)

	eval := evaluator.New(subs, fanout, evaluator.Options{
		Cooldown:      a.Config.Alerting.Cooldown,
		KpThreshold:   a.Config.Alerting.KpThreshold,
		FlareClass:    a.Config.Alerting.FlareClass,
		EventLookback: a.Config.Upstream.EventLookback,
	}, a.Logger)
	dispatcher := dispatch.New(subs, snapCache, fanout, loc, a.Logger)
	rec := recorder.New(snapCache, backend, a.Config.Database.RequestTimeout, a.Logger)

	svc := service.New(a.Config, service.Deps{
		Cache:         snapCache,
		Subscriptions: subs,
		Evaluator:     eval,
		Dispatcher:    dispatcher,
		Recorder:      rec,
		Fanout:        fanout,
		Backend:       backend,
	}, a.Logger)

	return &pipeline{
		backend: backend,
		subs:    subs,
		eval:    eval,
		replier: replier,
		service: svc,
		loc:     loc,
	}, nil
}

// Run executes the long-running pipeline and its HTTP listener.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := a.buildPipeline(ctx, a.newFetcher())
	if err != nil {
		return err
	}
	defer p.Close()

	bot := chatbot.New(p.service, p.replier, p.loc, a.Logger)
	router := api.NewRouter(p.service, bot, api.Options{
		AdminToken:     a.Config.HTTP.AdminToken,
		ChannelSecret:  a.Config.Push.Line.ChannelSecret,
		AllowedOrigins: a.Config.HTTP.CORSAllowedOrigins,
	}, a.Logger)
	server := api.NewServer(a.Config.HTTP, router, a.Logger)

	a.Logger.Info().
		Str("addr", a.Config.HTTP.Addr).
		Str("push_provider", a.Config.Push.ProviderName()).
		Bool("push_configured", a.Config.PushConfigured()).
		Msg("starting spacewatch")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.service.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("spacewatch stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical readings.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit      int
	Deliveries bool
}

var (
	_ api.Pipeline    = (*service.Service)(nil)
	_ chatbot.Backend = (*service.Service)(nil)
)
