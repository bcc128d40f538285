package spaceweather

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// StormLevel is the descriptive geomagnetic activity category.
type StormLevel string

const (
	StormUnknown  StormLevel = "unknown"
	StormQuiet    StormLevel = "quiet"
	StormActive   StormLevel = "active"
	StormMinor    StormLevel = "minor"
	StormModerate StormLevel = "moderate"
	StormStrong   StormLevel = "strong"
	StormSevere   StormLevel = "severe"
	StormExtreme  StormLevel = "extreme"
)

// ClassifyKp maps a Kp value to its storm level and NOAA G-scale label.
func ClassifyKp(kp float64) (StormLevel, string) {
	switch {
	case math.IsNaN(kp) || kp < 0:
		return StormUnknown, "G0"
	case kp < 4:
		return StormQuiet, "G0"
	case kp < 5:
		return StormActive, "G0"
	case kp < 6:
		return StormMinor, "G1"
	case kp < 7:
		return StormModerate, "G2"
	case kp < 8:
		return StormStrong, "G3"
	case kp < 9:
		return StormSevere, "G4"
	default:
		return StormExtreme, "G5"
	}
}

var flareBases = []struct {
	class string
	base  decimal.Decimal
}{
	{"X", decimal.New(1, -4)},
	{"M", decimal.New(1, -5)},
	{"C", decimal.New(1, -6)},
	{"B", decimal.New(1, -7)},
	{"A", decimal.New(1, -8)},
}

// ClassifyFlare maps a long-channel X-ray flux (W/m²) to a flare class letter
// and sub-level truncated to one decimal, e.g. 2.5e-4 -> ("X", 2.5) and
// 9.96e-5 -> ("M", 9.9).
func ClassifyFlare(flux float64) (string, decimal.Decimal) {
	if math.IsNaN(flux) || math.IsInf(flux, 0) || flux <= 0 {
		return "A", decimal.Zero
	}
	value := decimal.NewFromFloat(flux)
	for _, fb := range flareBases {
		if value.GreaterThanOrEqual(fb.base) || fb.class == "A" {
			return fb.class, value.Div(fb.base).Truncate(1)
		}
	}
	return "A", decimal.Zero
}

// ClassifyProtons maps >=10 MeV integral proton flux (pfu) to the NOAA S-scale.
func ClassifyProtons(pfu float64) string {
	switch {
	case pfu >= 1e5:
		return "S5"
	case pfu >= 1e4:
		return "S4"
	case pfu >= 1e3:
		return "S3"
	case pfu >= 100:
		return "S2"
	case pfu >= 10:
		return "S1"
	default:
		return "S0"
	}
}

// Severity is the overall alert level of a snapshot.
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityWatch
	SeverityWarning
	SeverityAlert
)

func (s Severity) String() string {
	switch s {
	case SeverityWatch:
		return "watch"
	case SeverityWarning:
		return "warning"
	case SeverityAlert:
		return "alert"
	default:
		return "normal"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ScaleNumber extracts the numeric part of a NOAA scale label ("G3" -> 3).
func ScaleNumber(label string) int {
	var n int
	if len(label) < 2 {
		return 0
	}
	if _, err := fmt.Sscanf(label[1:], "%d", &n); err != nil {
		return 0
	}
	return n
}

// AssessSeverity derives the overall severity and human-readable alert lines.
// Degraded sub-records never raise the severity.
func AssessSeverity(s *Snapshot) (Severity, []string) {
	severity := SeverityNormal
	var alerts []string
	raise := func(level Severity, msg string) {
		if level > severity {
			severity = level
		}
		alerts = append(alerts, msg)
	}

	if g := s.Geomagnetic; g != nil && !g.Degraded {
		switch n := ScaleNumber(g.GScale); {
		case n >= 3:
			raise(SeverityAlert, fmt.Sprintf("Geomagnetic storm %s (Kp %.1f, %s)", g.GScale, g.Kp, g.Level))
		case n >= 1:
			raise(SeverityWarning, fmt.Sprintf("Geomagnetic storm %s (Kp %.1f, %s)", g.GScale, g.Kp, g.Level))
		case g.Kp >= 4:
			raise(SeverityWatch, fmt.Sprintf("Elevated geomagnetic activity (Kp %.1f)", g.Kp))
		}
	}

	if x := s.XRay; x != nil && !x.Degraded {
		switch x.Class {
		case "X":
			raise(SeverityAlert, fmt.Sprintf("X-class flare in progress (%s)", x.Label()))
		case "M":
			raise(SeverityWarning, fmt.Sprintf("M-class flare in progress (%s)", x.Label()))
		}
	}

	if p := s.Particles; p != nil && !p.Degraded {
		switch n := ScaleNumber(p.SScale); {
		case n >= 3:
			raise(SeverityAlert, fmt.Sprintf("Solar radiation storm %s (%.0f pfu)", p.SScale, p.Proton))
		case n >= 1:
			raise(SeverityWarning, fmt.Sprintf("Solar radiation storm %s (%.0f pfu)", p.SScale, p.Proton))
		}
	}

	for _, cme := range s.CMEs {
		if cme.EarthDirected {
			raise(SeverityWatch, fmt.Sprintf("Earth-directed CME %s (%.0f km/s)", cme.ID, cme.Speed))
		}
	}

	return severity, alerts
}
