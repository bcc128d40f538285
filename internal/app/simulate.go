package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"spacewatch/internal/evaluator"
	"spacewatch/internal/fetcher"
	"spacewatch/internal/spaceweather"
)

// SimulateOptions describe the synthetic readings fed to the evaluator.
type SimulateOptions struct {
	Kp        float64
	XRayFlux  float64
	CMEArrive time.Duration
}

// SimulateAlert 以给定的 Kp / X 射线通量构造快照，走一遍告警评估与推送。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if !a.Config.PushConfigured() {
		return errors.New("未配置任何推送通道")
	}
	if err := a.requireDurable(); err != nil {
		return err
	}

	snap := syntheticSnapshot(time.Now().UTC(), opts)
	p, err := a.buildPipeline(ctx, staticFetcher{snapshot: snap})
	if err != nil {
		return err
	}
	defer p.Close()

	outcomes := p.eval.Evaluate(ctx, snap)
	return printOutcomes(os.Stdout, outcomes)
}

func syntheticSnapshot(now time.Time, opts SimulateOptions) *spaceweather.Snapshot {
	level, gscale := spaceweather.ClassifyKp(opts.Kp)
	class, sub := spaceweather.ClassifyFlare(opts.XRayFlux)

	snap := &spaceweather.Snapshot{
		FetchedAt: now,
		Geomagnetic: &spaceweather.GeomagneticIndex{
			Kp:         opts.Kp,
			Level:      level,
			GScale:     gscale,
			ObservedAt: now,
		},
		XRay: &spaceweather.XRayFlux{
			Flux:       opts.XRayFlux,
			Class:      class,
			SubLevel:   sub,
			ObservedAt: now,
		},
		SolarWind:     spaceweather.DefaultSolarWind(),
		MagneticField: spaceweather.DefaultMagneticField(),
		Particles:     spaceweather.DefaultParticles(),
		Satellite:     spaceweather.DefaultSatellite("simulated"),
	}
	if opts.CMEArrive > 0 {
		arrival := now.Add(opts.CMEArrive)
		snap.CMEs = []spaceweather.CMEEvent{{
			ID:            "SIM-CME-" + now.Format("20060102T150405"),
			StartTime:     now,
			Speed:         1000,
			Type:          "S",
			EarthDirected: true,
			ArrivalTime:   &arrival,
			Note:          "simulated",
		}}
	}
	snap.Finalize()
	return snap
}

func printOutcomes(w io.Writer, outcomes []evaluator.Outcome) error {
	for _, o := range outcomes {
		if o.Decision == evaluator.DecisionFired {
			fmt.Fprintf(w, "%-18s %-16s sent=%d total=%d\n", o.Topic, o.Decision, o.Result.Sent, o.Result.Total)
			continue
		}
		fmt.Fprintf(w, "%-18s %s\n", o.Topic, o.Decision)
	}
	return nil
}

type staticFetcher struct {
	snapshot *spaceweather.Snapshot
}

func (s staticFetcher) FetchAggregateSnapshot(ctx context.Context) (*spaceweather.Snapshot, error) {
	return s.snapshot, nil
}

var _ fetcher.SnapshotFetcher = staticFetcher{}
