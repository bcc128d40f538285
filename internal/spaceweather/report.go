package spaceweather

import (
	"fmt"
	"strings"
	"time"
)

// DailyReport renders the full report as message segments, one per section.
// Callers cap the segment count to the channel batch limit.
func DailyReport(s *Snapshot, loc *time.Location) []string {
	if s == nil {
		return []string{"Space weather data is currently unavailable."}
	}
	if loc == nil {
		loc = time.UTC
	}

	segments := []string{
		fmt.Sprintf("[Space Weather Report]\n%s\nOverall: %s",
			s.FetchedAt.In(loc).Format("2006-01-02 15:04 MST"), strings.ToUpper(s.Severity.String())),
	}
	if g := s.Geomagnetic; g != nil {
		segments = append(segments, fmt.Sprintf("Geomagnetic\nKp: %.1f (%s, %s)%s", g.Kp, g.Level, g.GScale, degradedNote(g.Degraded)))
	}
	if w := s.SolarWind; w != nil {
		b := strings.Builder{}
		b.WriteString(fmt.Sprintf("Solar wind\nSpeed: %.0f km/s\nDensity: %.1f p/cm³\nTemperature: %.0f K", w.Speed, w.Density, w.Temperature))
		if m := s.MagneticField; m != nil {
			b.WriteString(fmt.Sprintf("\nIMF Bt %.1f nT, Bz %.1f nT", m.Bt, m.Bz))
		}
		b.WriteString(degradedNote(w.Degraded))
		segments = append(segments, b.String())
	}
	if x := s.XRay; x != nil {
		radiation := fmt.Sprintf("Radiation\nX-ray: %.2e W/m² (%s)%s", x.Flux, x.Label(), degradedNote(x.Degraded))
		if p := s.Particles; p != nil {
			radiation += fmt.Sprintf("\nProtons: %.2f pfu (%s)", p.Proton, p.SScale)
		}
		segments = append(segments, radiation)
	}
	if len(s.CMEs) > 0 || len(s.Flares) > 0 {
		segments = append(segments, eventSummary(s))
	}
	if sat := s.Satellite; sat != nil {
		segments = append(segments, fmt.Sprintf("%s position\nLat %.2f, Lon %.2f\nAltitude %.0f km, %.0f km/h\nOver: %s%s",
			sat.Name, sat.Latitude, sat.Longitude, sat.Altitude, sat.Velocity, sat.Location, degradedNote(sat.Degraded)))
	}
	if len(s.Alerts) > 0 {
		segments = append(segments, "Active alerts\n- "+strings.Join(s.Alerts, "\n- "))
	}
	return segments
}

// AlertMessage renders an alert payload: a severity header plus the relevant excerpt.
func AlertMessage(header string, s *Snapshot, excerpt string) []string {
	out := []string{fmt.Sprintf("⚠ %s", header)}
	if excerpt != "" {
		out = append(out, excerpt)
	}
	if s != nil && len(s.Alerts) > 0 {
		out = append(out, "Current conditions ("+s.Severity.String()+")\n- "+strings.Join(s.Alerts, "\n- "))
	}
	return out
}

// Summary is a single-segment short status used for chat replies.
func Summary(s *Snapshot) string {
	if s == nil {
		return "Space weather data is currently unavailable."
	}
	parts := []string{"Status: " + s.Severity.String()}
	if g := s.Geomagnetic; g != nil {
		parts = append(parts, fmt.Sprintf("Kp %.1f %s", g.Kp, g.GScale))
	}
	if x := s.XRay; x != nil {
		parts = append(parts, "Flare "+x.Label())
	}
	if w := s.SolarWind; w != nil {
		parts = append(parts, fmt.Sprintf("Wind %.0f km/s", w.Speed))
	}
	if p := s.Particles; p != nil {
		parts = append(parts, "Radiation "+p.SScale)
	}
	return strings.Join(parts, " | ")
}

func eventSummary(s *Snapshot) string {
	b := strings.Builder{}
	b.WriteString("Recent solar events")
	for i, f := range s.Flares {
		if i == 3 {
			break
		}
		b.WriteString(fmt.Sprintf("\nFlare %s peak %s", f.ClassType, f.PeakTime.UTC().Format("01-02 15:04Z")))
	}
	for i, c := range s.CMEs {
		if i == 3 {
			break
		}
		dir := ""
		if c.EarthDirected {
			dir = " (Earth-directed)"
		}
		b.WriteString(fmt.Sprintf("\nCME %s %.0f km/s%s", c.StartTime.UTC().Format("01-02 15:04Z"), c.Speed, dir))
	}
	return b.String()
}

func degradedNote(degraded bool) string {
	if degraded {
		return "\n(data unavailable, showing defaults)"
	}
	return ""
}
