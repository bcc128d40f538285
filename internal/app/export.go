package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"spacewatch/internal/storage"
)

// historyPoint joins the Kp and solar-wind rows written by one recording pass.
type historyPoint struct {
	At        time.Time
	Kp        float64
	GScale    string
	Speed     float64
	Bz        float64
	HasWind   bool
	HasKpData bool
}

// Export renders recorded history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	backend, err := a.openHistory(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.RecordInterval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	geo, err := backend.ListGeomagneticBetween(ctx, from, to)
	if err != nil {
		return err
	}
	wind, err := backend.ListSolarWindBetween(ctx, from, to)
	if err != nil {
		return err
	}

	points := mergeHistory(geo, wind)
	if len(points) == 0 {
		a.Logger.Info().Msg("no readings found for export window")
		return nil
	}

	downsampled := downsample(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting readings")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// mergeHistory joins rows on their recording timestamp, oldest first.
func mergeHistory(geo []storage.GeomagneticRow, wind []storage.SolarWindRow) []historyPoint {
	index := make(map[int64]int, len(geo)+len(wind))
	var points []historyPoint

	slot := func(at time.Time) *historyPoint {
		key := at.UTC().UnixMilli()
		if i, ok := index[key]; ok {
			return &points[i]
		}
		index[key] = len(points)
		points = append(points, historyPoint{At: at.UTC()})
		return &points[len(points)-1]
	}

	for _, row := range geo {
		p := slot(row.RecordedAt)
		p.Kp = row.Kp
		p.GScale = row.GScale
		p.HasKpData = true
	}
	for _, row := range wind {
		p := slot(row.RecordedAt)
		p.Speed = row.Speed
		p.Bz = row.Bz
		p.HasWind = true
	}

	sort.Slice(points, func(i, j int) bool { return points[i].At.Before(points[j].At) })
	return points
}

func downsample[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	if max == 1 {
		return items[len(items)-1:]
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

func writeHistoryCSV(path string, points []historyPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"recorded_at", "kp", "g_scale", "wind_speed_km_s", "bz_nt"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.At.Format(time.RFC3339),
			optionalFloat(p.Kp, p.HasKpData, 2),
			p.GScale,
			optionalFloat(p.Speed, p.HasWind, 1),
			optionalFloat(p.Bz, p.HasWind, 2),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func optionalFloat(v float64, ok bool, places int) string {
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', places, 64)
}

func writeHistoryPNG(path string, points []historyPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var kpX, windX []time.Time
	var kp, speed []float64
	for _, p := range points {
		if p.HasKpData {
			kpX = append(kpX, p.At)
			kp = append(kp, p.Kp)
		}
		if p.HasWind {
			windX = append(windX, p.At)
			speed = append(speed, p.Speed)
		}
	}

	var series []chart.Series
	if len(kpX) > 1 {
		series = append(series, chart.TimeSeries{
			Name:    "Kp",
			XValues: kpX,
			YValues: kp,
		})
	}
	if len(windX) > 1 {
		series = append(series, chart.TimeSeries{
			Name:    "Solar wind (km/s)",
			XValues: windX,
			YValues: speed,
			YAxis:   chart.YAxisSecondary,
		})
	}
	if len(series) == 0 {
		return errors.New("not enough readings to draw a chart")
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Kp",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Speed (km/s)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
