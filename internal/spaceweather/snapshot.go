// Package spaceweather holds the aggregated space-weather snapshot, the
// classification functions that derive its labels, and report rendering.
package spaceweather

import (
	"time"

	"github.com/shopspring/decimal"
)

// GeomagneticIndex is the latest planetary Kp reading.
type GeomagneticIndex struct {
	Kp         float64    `json:"kp"`
	Level      StormLevel `json:"level"`
	GScale     string     `json:"g_scale"`
	ObservedAt time.Time  `json:"observed_at"`
	Degraded   bool       `json:"degraded"`
}

// SolarWind is the latest plasma reading at L1.
type SolarWind struct {
	Speed       float64   `json:"speed"`       // km/s
	Density     float64   `json:"density"`     // p/cm³
	Temperature float64   `json:"temperature"` // K
	ObservedAt  time.Time `json:"observed_at"`
	Degraded    bool      `json:"degraded"`
}

// MagneticField is the interplanetary magnetic field in GSM coordinates (nT).
type MagneticField struct {
	Bx         float64   `json:"bx"`
	By         float64   `json:"by"`
	Bz         float64   `json:"bz"`
	Bt         float64   `json:"bt"`
	ObservedAt time.Time `json:"observed_at"`
	Degraded   bool      `json:"degraded"`
}

// XRayFlux is the GOES long-channel (0.1-0.8 nm) flux and its flare class.
type XRayFlux struct {
	Flux       float64         `json:"flux"` // W/m²
	Class      string          `json:"class"`
	SubLevel   decimal.Decimal `json:"sub_level"`
	ObservedAt time.Time       `json:"observed_at"`
	Degraded   bool            `json:"degraded"`
}

// Label renders the flare class with its sub-level, e.g. "X2.5".
func (x XRayFlux) Label() string {
	return x.Class + x.SubLevel.StringFixed(1)
}

// ParticleFlux carries integral proton (>=10 MeV) and electron (>=2 MeV) flux.
type ParticleFlux struct {
	Proton     float64   `json:"proton"` // pfu
	Electron   float64   `json:"electron"`
	SScale     string    `json:"s_scale"`
	ObservedAt time.Time `json:"observed_at"`
	Degraded   bool      `json:"degraded"`
}

// CMEEvent is one coronal mass ejection from the event catalogue.
type CMEEvent struct {
	ID            string     `json:"id"`
	StartTime     time.Time  `json:"start_time"`
	Speed         float64    `json:"speed"`
	Type          string     `json:"type"`
	EarthDirected bool       `json:"earth_directed"`
	ArrivalTime   *time.Time `json:"arrival_time,omitempty"`
	Note          string     `json:"note"`
}

// FlareEvent is one catalogued solar flare.
type FlareEvent struct {
	ID             string    `json:"id"`
	BeginTime      time.Time `json:"begin_time"`
	PeakTime       time.Time `json:"peak_time"`
	ClassType      string    `json:"class_type"`
	SourceLocation string    `json:"source_location"`
}

// SatellitePosition is the tracked satellite's current sub-point.
type SatellitePosition struct {
	Name       string    `json:"name"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"` // km
	Velocity   float64   `json:"velocity"` // km/h
	Location   string    `json:"location"`
	ObservedAt time.Time `json:"observed_at"`
	Degraded   bool      `json:"degraded"`
}

// Snapshot is a point-in-time aggregate of every upstream source. A nil
// sub-record means the source was never asked for; a Degraded one means the
// fetch failed and documented defaults were substituted.
type Snapshot struct {
	FetchedAt     time.Time          `json:"fetched_at"`
	Geomagnetic   *GeomagneticIndex  `json:"geomagnetic"`
	SolarWind     *SolarWind         `json:"solar_wind"`
	MagneticField *MagneticField     `json:"magnetic_field"`
	XRay          *XRayFlux          `json:"xray"`
	Particles     *ParticleFlux      `json:"particles"`
	CMEs          []CMEEvent         `json:"cmes"`
	Flares        []FlareEvent       `json:"flares"`
	Satellite     *SatellitePosition `json:"satellite"`
	Severity      Severity           `json:"severity"`
	Alerts        []string           `json:"alerts"`
}

// Default sub-records substituted when a source fails.

func DefaultGeomagnetic() *GeomagneticIndex {
	return &GeomagneticIndex{Kp: 0, Level: StormUnknown, GScale: "G0", Degraded: true}
}

func DefaultSolarWind() *SolarWind { return &SolarWind{Degraded: true} }

func DefaultMagneticField() *MagneticField { return &MagneticField{Degraded: true} }

func DefaultXRay() *XRayFlux {
	return &XRayFlux{Class: "A", SubLevel: decimal.Zero, Degraded: true}
}

func DefaultParticles() *ParticleFlux { return &ParticleFlux{SScale: "S0", Degraded: true} }

func DefaultSatellite(name string) *SatellitePosition {
	return &SatellitePosition{Name: name, Location: "unknown", Degraded: true}
}

// Finalize fills the derived overall severity and alert messages.
func (s *Snapshot) Finalize() {
	s.Severity, s.Alerts = AssessSeverity(s)
}
