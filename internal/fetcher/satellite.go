package fetcher

import (
	"context"
	"fmt"
	"math"
	"time"

	"spacewatch/internal/spaceweather"
)

type satelliteResponse struct {
	Name      string  `json:"name"`
	ID        int     `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	Velocity  float64 `json:"velocity"`
	Timestamp int64   `json:"timestamp"`
}

func (a *Aggregator) fetchSatellite(ctx context.Context) (*spaceweather.SatellitePosition, error) {
	var raw satelliteResponse
	endpoint := fmt.Sprintf("%s/satellites/%d", a.satelliteBase, a.opts.SatelliteID)
	if err := a.http.getJSON(ctx, "satellite", endpoint, &raw); err != nil {
		return nil, err
	}

	observed := a.now().UTC()
	if raw.Timestamp > 0 {
		observed = time.Unix(raw.Timestamp, 0).UTC()
	}
	name := raw.Name
	if name == "" {
		name = a.satelliteName()
	}
	return &spaceweather.SatellitePosition{
		Name:       name,
		Latitude:   raw.Latitude,
		Longitude:  raw.Longitude,
		Altitude:   raw.Altitude,
		Velocity:   raw.Velocity,
		Location:   describeLocation(raw.Latitude, raw.Longitude),
		ObservedAt: observed,
	}, nil
}

func (a *Aggregator) satelliteName() string {
	if a.opts.SatelliteID == 25544 {
		return "iss"
	}
	return fmt.Sprintf("norad-%d", a.opts.SatelliteID)
}

// describeLocation renders a sub-point as hemisphere-tagged degrees.
func describeLocation(lat, lon float64) string {
	ns, ew := "N", "E"
	if lat < 0 {
		ns = "S"
	}
	if lon < 0 {
		ew = "W"
	}
	return fmt.Sprintf("%.2f°%s %.2f°%s", math.Abs(lat), ns, math.Abs(lon), ew)
}
