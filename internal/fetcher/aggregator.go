// Package fetcher pulls the upstream space-weather feeds and merges them
// into a single snapshot.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"spacewatch/internal/spaceweather"
)

// ErrAllSourcesFailed is returned when no upstream produced a reading.
var ErrAllSourcesFailed = errors.New("all upstream sources failed")

// Options parameterise the upstream aggregator.
type Options struct {
	NOAABaseURL      string
	DONKIBaseURL     string
	NASAAPIKey       string
	SatelliteBaseURL string
	SatelliteID      int
	Timeout          time.Duration
	UserAgent        string
	EventLookback    time.Duration
	Clock            func() time.Time
}

// Aggregator fans out to every upstream concurrently. A failing source is
// replaced by its default sub-record flagged Degraded.
type Aggregator struct {
	opts          Options
	logger        zerolog.Logger
	http          *httpSource
	now           func() time.Time
	noaaBase      string
	donkiBase     string
	satelliteBase string
}

// NewAggregator constructs an upstream aggregator.
func NewAggregator(opts Options, logger zerolog.Logger) *Aggregator {
	logger = logger.With().Str("component", "fetcher").Logger()

	if opts.EventLookback <= 0 {
		opts.EventLookback = 72 * time.Hour
	}
	if opts.SatelliteID <= 0 {
		opts.SatelliteID = 25544
	}
	if opts.NASAAPIKey == "" {
		opts.NASAAPIKey = "DEMO_KEY"
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	return &Aggregator{
		opts:          opts,
		logger:        logger,
		http:          newHTTPSource(opts.Timeout, opts.UserAgent, logger),
		now:           now,
		noaaBase:      baseOrDefault(opts.NOAABaseURL, "https://services.swpc.noaa.gov"),
		donkiBase:     baseOrDefault(opts.DONKIBaseURL, "https://api.nasa.gov/DONKI"),
		satelliteBase: baseOrDefault(opts.SatelliteBaseURL, "https://api.wheretheiss.at/v1"),
	}
}

func baseOrDefault(raw, fallback string) string {
	if base := strings.TrimRight(strings.TrimSpace(raw), "/"); base != "" {
		return base
	}
	return fallback
}

// FetchAggregateSnapshot returns a finalized snapshot. It fails only when the
// context is done or every source failed.
func (a *Aggregator) FetchAggregateSnapshot(ctx context.Context) (*spaceweather.Snapshot, error) {
	snap := &spaceweather.Snapshot{FetchedAt: a.now().UTC()}

	var (
		failed atomic.Int32
		total  int32
	)
	g, gctx := errgroup.WithContext(ctx)
	run := func(source string, fn func(context.Context) error) {
		total++
		g.Go(func() error {
			if err := fn(gctx); err != nil {
				failed.Add(1)
				a.logger.Warn().Err(err).Str("source", source).Msg("upstream source degraded")
			}
			return nil
		})
	}

	run("kp", func(ctx context.Context) error {
		v, err := a.fetchKp(ctx)
		if err != nil {
			snap.Geomagnetic = spaceweather.DefaultGeomagnetic()
			return err
		}
		snap.Geomagnetic = v
		return nil
	})
	run("plasma", func(ctx context.Context) error {
		v, err := a.fetchPlasma(ctx)
		if err != nil {
			snap.SolarWind = spaceweather.DefaultSolarWind()
			return err
		}
		snap.SolarWind = v
		return nil
	})
	run("mag", func(ctx context.Context) error {
		v, err := a.fetchMag(ctx)
		if err != nil {
			snap.MagneticField = spaceweather.DefaultMagneticField()
			return err
		}
		snap.MagneticField = v
		return nil
	})
	run("xray", func(ctx context.Context) error {
		v, err := a.fetchXRay(ctx)
		if err != nil {
			snap.XRay = spaceweather.DefaultXRay()
			return err
		}
		snap.XRay = v
		return nil
	})
	run("particles", func(ctx context.Context) error {
		v, err := a.fetchParticles(ctx)
		if err != nil {
			snap.Particles = spaceweather.DefaultParticles()
			return err
		}
		snap.Particles = v
		return nil
	})
	run("cme", func(ctx context.Context) error {
		v, err := a.fetchCMEs(ctx)
		if err != nil {
			snap.CMEs = []spaceweather.CMEEvent{}
			return err
		}
		snap.CMEs = v
		return nil
	})
	run("flare", func(ctx context.Context) error {
		v, err := a.fetchFlares(ctx)
		if err != nil {
			snap.Flares = []spaceweather.FlareEvent{}
			return err
		}
		snap.Flares = v
		return nil
	})
	run("satellite", func(ctx context.Context) error {
		v, err := a.fetchSatellite(ctx)
		if err != nil {
			snap.Satellite = spaceweather.DefaultSatellite(a.satelliteName())
			return err
		}
		snap.Satellite = v
		return nil
	})

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("aggregate snapshot: %w", err)
	}
	if n := failed.Load(); n == total {
		return nil, ErrAllSourcesFailed
	} else if n > 0 {
		a.logger.Info().Int32("degraded", n).Int32("sources", total).Msg("snapshot assembled with defaults")
	}

	snap.Finalize()
	return snap, nil
}

// table fetches a SWPC product and normalises its rows.
func (a *Aggregator) table(ctx context.Context, source, endpoint string) ([]map[string]string, error) {
	var raw rawTable
	if err := a.http.getJSON(ctx, source, endpoint, &raw); err != nil {
		return nil, err
	}
	return raw.rows, nil
}

type rawTable struct{ rows []map[string]string }

func (t *rawTable) UnmarshalJSON(b []byte) error {
	rows, err := decodeTable(b)
	if err != nil {
		return err
	}
	t.rows = rows
	return nil
}

var _ SnapshotFetcher = (*Aggregator)(nil)
