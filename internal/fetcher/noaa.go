package fetcher

import (
	"context"
	"errors"
	"strings"

	"spacewatch/internal/spaceweather"
)

const (
	kpPath        = "/products/noaa-planetary-k-index.json"
	plasmaPath    = "/products/solar-wind/plasma-1-day.json"
	magPath       = "/products/solar-wind/mag-1-day.json"
	xrayPath      = "/json/goes/primary/xrays-6-hour.json"
	protonsPath   = "/json/goes/primary/integral-protons-6-hour.json"
	electronsPath = "/json/goes/primary/integral-electrons-6-hour.json"

	xrayLongBand    = "0.1-0.8nm"
	protonChannel   = ">=10 MeV"
	electronChannel = ">=2 MeV"
)

var errNoReading = errors.New("no usable reading")

func (a *Aggregator) fetchKp(ctx context.Context) (*spaceweather.GeomagneticIndex, error) {
	rows, err := a.table(ctx, "noaa_kp", a.noaaBase+kpPath)
	if err != nil {
		return nil, err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		kp, ok := parseNumber(firstOf(rows[i], "Kp", "kp_index", "kp"))
		if !ok {
			continue
		}
		level, gscale := spaceweather.ClassifyKp(kp)
		return &spaceweather.GeomagneticIndex{
			Kp:         kp,
			Level:      level,
			GScale:     gscale,
			ObservedAt: parseTimeTag(rows[i]["time_tag"]),
		}, nil
	}
	return nil, errNoReading
}

func (a *Aggregator) fetchPlasma(ctx context.Context) (*spaceweather.SolarWind, error) {
	rows, err := a.table(ctx, "noaa_plasma", a.noaaBase+plasmaPath)
	if err != nil {
		return nil, err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		speed, ok := parseNumber(rows[i]["speed"])
		if !ok {
			continue
		}
		density, _ := parseNumber(rows[i]["density"])
		temperature, _ := parseNumber(rows[i]["temperature"])
		return &spaceweather.SolarWind{
			Speed:       speed,
			Density:     density,
			Temperature: temperature,
			ObservedAt:  parseTimeTag(rows[i]["time_tag"]),
		}, nil
	}
	return nil, errNoReading
}

func (a *Aggregator) fetchMag(ctx context.Context) (*spaceweather.MagneticField, error) {
	rows, err := a.table(ctx, "noaa_mag", a.noaaBase+magPath)
	if err != nil {
		return nil, err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		bz, ok := parseNumber(rows[i]["bz_gsm"])
		if !ok {
			continue
		}
		bx, _ := parseNumber(rows[i]["bx_gsm"])
		by, _ := parseNumber(rows[i]["by_gsm"])
		bt, _ := parseNumber(rows[i]["bt"])
		return &spaceweather.MagneticField{
			Bx: bx, By: by, Bz: bz, Bt: bt,
			ObservedAt: parseTimeTag(rows[i]["time_tag"]),
		}, nil
	}
	return nil, errNoReading
}

func (a *Aggregator) fetchXRay(ctx context.Context) (*spaceweather.XRayFlux, error) {
	rows, err := a.table(ctx, "goes_xray", a.noaaBase+xrayPath)
	if err != nil {
		return nil, err
	}
	row, flux, ok := latestChannel(rows, xrayLongBand)
	if !ok {
		return nil, errNoReading
	}
	class, sub := spaceweather.ClassifyFlare(flux)
	return &spaceweather.XRayFlux{
		Flux:       flux,
		Class:      class,
		SubLevel:   sub,
		ObservedAt: parseTimeTag(row["time_tag"]),
	}, nil
}

// fetchParticles treats the proton channel as required and the electron
// channel as best effort.
func (a *Aggregator) fetchParticles(ctx context.Context) (*spaceweather.ParticleFlux, error) {
	rows, err := a.table(ctx, "goes_protons", a.noaaBase+protonsPath)
	if err != nil {
		return nil, err
	}
	row, proton, ok := latestChannel(rows, protonChannel)
	if !ok {
		return nil, errNoReading
	}
	out := &spaceweather.ParticleFlux{
		Proton:     proton,
		SScale:     spaceweather.ClassifyProtons(proton),
		ObservedAt: parseTimeTag(row["time_tag"]),
	}

	erows, err := a.table(ctx, "goes_electrons", a.noaaBase+electronsPath)
	if err != nil {
		a.logger.Warn().Err(err).Msg("electron flux unavailable")
		return out, nil
	}
	if _, electron, ok := latestChannel(erows, electronChannel); ok {
		out.Electron = electron
	}
	return out, nil
}

func latestChannel(rows []map[string]string, channel string) (map[string]string, float64, bool) {
	for i := len(rows) - 1; i >= 0; i-- {
		if energy := rows[i]["energy"]; energy != "" && !strings.EqualFold(energy, channel) {
			continue
		}
		if v, ok := parseNumber(rows[i]["flux"]); ok {
			return rows[i], v, true
		}
	}
	return nil, 0, false
}

func firstOf(row map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != "" {
			return v
		}
	}
	return ""
}
