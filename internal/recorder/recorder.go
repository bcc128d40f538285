// Package recorder appends periodic snapshot rows to historical storage.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"spacewatch/internal/cache"
	"spacewatch/internal/metrics"
	"spacewatch/internal/spaceweather"
	"spacewatch/internal/storage"
)

// Categories recorded on every pass.
const (
	CategorySolarWind   = "solar_wind"
	CategoryGeomagnetic = "geomagnetic"
	CategorySatellite   = "satellite"
	CategoryRadiation   = "radiation"
)

// SnapshotSource is the reading cache.
type SnapshotSource interface {
	Get(ctx context.Context, forceRefresh bool) cache.Result
}

// Summary reports what one recording pass did per category.
type Summary struct {
	Written []string
	Skipped []string
	Failed  []string
}

// Recorder writes one row per category per pass.
type Recorder struct {
	snapshot SnapshotSource
	history  storage.HistoryStore
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// New constructs a recorder.
func New(snapshot SnapshotSource, history storage.HistoryStore, timeout time.Duration, logger zerolog.Logger) *Recorder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Recorder{
		snapshot: snapshot,
		history:  history,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger.With().Str("component", "snapshot_recorder").Logger(),
	}
}

// Record force-refreshes the cache and persists each category
// independently. Absent or degraded sub-records are skipped.
func (r *Recorder) Record(ctx context.Context) (Summary, error) {
	res := r.snapshot.Get(ctx, true)
	if !res.Success {
		err := res.Err
		if err == nil {
			err = errors.New("refresh failed")
		}
		return Summary{}, fmt.Errorf("record snapshot: %w", err)
	}
	snap := res.Snapshot
	at := snap.FetchedAt
	if at.IsZero() {
		at = r.now().UTC()
	}

	var sum Summary
	write := func(category string, present bool, fn func(context.Context) error) {
		if !present {
			sum.Skipped = append(sum.Skipped, category)
			return
		}
		wctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := fn(wctx)
		cancel()
		if err != nil {
			sum.Failed = append(sum.Failed, category)
			metrics.RecorderWrites.WithLabelValues(category, "failure").Inc()
			r.logger.Error().Err(err).Str("category", category).Msg("history write failed")
			return
		}
		sum.Written = append(sum.Written, category)
		metrics.RecorderWrites.WithLabelValues(category, "success").Inc()
	}

	wind, hasWind := solarWindRow(snap, at)
	write(CategorySolarWind, hasWind, func(ctx context.Context) error {
		return r.history.AppendSolarWind(ctx, wind)
	})

	geo, hasGeo := geomagneticRow(snap, at)
	write(CategoryGeomagnetic, hasGeo, func(ctx context.Context) error {
		return r.history.AppendGeomagnetic(ctx, geo)
	})

	sat, hasSat := satelliteRow(snap, at)
	write(CategorySatellite, hasSat, func(ctx context.Context) error {
		return r.history.AppendSatellite(ctx, sat)
	})

	rad, hasRad := radiationRow(snap, at)
	write(CategoryRadiation, hasRad, func(ctx context.Context) error {
		return r.history.AppendRadiation(ctx, rad)
	})

	r.logger.Debug().Strs("written", sum.Written).Strs("skipped", sum.Skipped).Strs("failed", sum.Failed).Msg("recording pass complete")
	return sum, nil
}

func usable[T any](v *T, degraded func(*T) bool) bool {
	return v != nil && !degraded(v)
}

func solarWindRow(s *spaceweather.Snapshot, at time.Time) (storage.SolarWindRow, bool) {
	windOK := usable(s.SolarWind, func(w *spaceweather.SolarWind) bool { return w.Degraded })
	magOK := usable(s.MagneticField, func(m *spaceweather.MagneticField) bool { return m.Degraded })
	if !windOK && !magOK {
		return storage.SolarWindRow{}, false
	}
	row := storage.SolarWindRow{RecordedAt: at}
	if windOK {
		row.Speed, row.Density, row.Temperature = s.SolarWind.Speed, s.SolarWind.Density, s.SolarWind.Temperature
	}
	if magOK {
		m := s.MagneticField
		row.Bx, row.By, row.Bz, row.Bt = m.Bx, m.By, m.Bz, m.Bt
	}
	return row, true
}

func geomagneticRow(s *spaceweather.Snapshot, at time.Time) (storage.GeomagneticRow, bool) {
	g := s.Geomagnetic
	if g == nil || g.Degraded {
		return storage.GeomagneticRow{}, false
	}
	return storage.GeomagneticRow{RecordedAt: at, Kp: g.Kp, Level: string(g.Level), GScale: g.GScale}, true
}

func satelliteRow(s *spaceweather.Snapshot, at time.Time) (storage.SatelliteRow, bool) {
	p := s.Satellite
	if p == nil || p.Degraded {
		return storage.SatelliteRow{}, false
	}
	return storage.SatelliteRow{
		RecordedAt: at,
		Name:       p.Name,
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		Altitude:   p.Altitude,
		Velocity:   p.Velocity,
		Location:   p.Location,
	}, true
}

func radiationRow(s *spaceweather.Snapshot, at time.Time) (storage.RadiationRow, bool) {
	xOK := usable(s.XRay, func(x *spaceweather.XRayFlux) bool { return x.Degraded })
	pOK := usable(s.Particles, func(p *spaceweather.ParticleFlux) bool { return p.Degraded })
	if !xOK && !pOK {
		return storage.RadiationRow{}, false
	}
	row := storage.RadiationRow{RecordedAt: at}
	if xOK {
		row.XRayFlux, row.FlareClass = s.XRay.Flux, s.XRay.Label()
	}
	if pOK {
		row.ProtonFlux, row.ElectronFlux, row.SScale = s.Particles.Proton, s.Particles.Electron, s.Particles.SScale
	}
	return row, true
}
