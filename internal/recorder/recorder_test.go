package recorder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spacewatch/internal/cache"
	"spacewatch/internal/spaceweather"
	"spacewatch/internal/storage"
)

type staticSource struct {
	res    cache.Result
	forced int
}

func (s *staticSource) Get(_ context.Context, force bool) cache.Result {
	if force {
		s.forced++
	}
	return s.res
}

type flakyHistory struct {
	*storage.MemoryStore
}

func (flakyHistory) AppendGeomagnetic(context.Context, storage.GeomagneticRow) error {
	return errors.New("disk full")
}

func fullSnapshot() *spaceweather.Snapshot {
	return &spaceweather.Snapshot{
		FetchedAt:     time.Date(2024, 5, 11, 8, 5, 0, 0, time.UTC),
		Geomagnetic:   &spaceweather.GeomagneticIndex{Kp: 5.33, Level: spaceweather.StormMinor, GScale: "G1"},
		SolarWind:     &spaceweather.SolarWind{Speed: 612, Density: 4, Temperature: 1.9e5},
		MagneticField: &spaceweather.MagneticField{Bz: -12, Bt: 14},
		XRay:          &spaceweather.XRayFlux{Flux: 2.5e-4, Class: "X", SubLevel: decimal.RequireFromString("2.5")},
		Particles:     &spaceweather.ParticleFlux{Proton: 150, SScale: "S2"},
		Satellite:     &spaceweather.SatellitePosition{Name: "iss", Latitude: 1, Longitude: 2, Location: "1.00°N 2.00°E"},
	}
}

func TestRecordWritesEveryCategory(t *testing.T) {
	store := storage.NewMemoryStore()
	src := &staticSource{res: cache.Result{Snapshot: fullSnapshot(), Success: true}}
	rec := New(src, store, time.Second, zerolog.Nop())

	sum, err := rec.Record(context.Background())
	if err != nil {
		t.Fatalf("记录不应失败: %v", err)
	}
	if len(sum.Written) != 4 || len(sum.Skipped) != 0 {
		t.Fatalf("应写入全部四类: %+v", sum)
	}
	if src.forced != 1 {
		t.Fatal("记录前应强制刷新")
	}
	wind, geo, sat, rad := store.Counts()
	if wind != 1 || geo != 1 || sat != 1 || rad != 1 {
		t.Fatalf("行数不符: %d %d %d %d", wind, geo, sat, rad)
	}
}

func TestRecordSkipsAbsentAndDegraded(t *testing.T) {
	snap := fullSnapshot()
	snap.Satellite = nil
	snap.Geomagnetic = spaceweather.DefaultGeomagnetic()

	store := storage.NewMemoryStore()
	rec := New(&staticSource{res: cache.Result{Snapshot: snap, Success: true}}, store, time.Second, zerolog.Nop())

	sum, err := rec.Record(context.Background())
	if err != nil {
		t.Fatalf("记录不应失败: %v", err)
	}
	if strings.Join(sum.Skipped, ",") != CategoryGeomagnetic+","+CategorySatellite {
		t.Fatalf("应跳过缺失与降级类别: %+v", sum)
	}
	if len(sum.Written) != 2 {
		t.Fatalf("其余类别应照常写入: %+v", sum)
	}
}

func TestRecordIsolatesWriteFailures(t *testing.T) {
	mem := storage.NewMemoryStore()
	rec := New(&staticSource{res: cache.Result{Snapshot: fullSnapshot(), Success: true}}, flakyHistory{mem}, time.Second, zerolog.Nop())

	sum, err := rec.Record(context.Background())
	if err != nil {
		t.Fatalf("单类写入失败不应中止整体: %v", err)
	}
	if strings.Join(sum.Failed, ",") != CategoryGeomagnetic || len(sum.Written) != 3 {
		t.Fatalf("失败应被隔离: %+v", sum)
	}
	wind, _, sat, rad := mem.Counts()
	if wind != 1 || sat != 1 || rad != 1 {
		t.Fatal("其他类别应已写入")
	}
}

func TestRecordSkipsOnRefreshFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	src := &staticSource{res: cache.Result{Snapshot: fullSnapshot(), Err: errors.New("upstream down")}}
	rec := New(src, store, time.Second, zerolog.Nop())

	if _, err := rec.Record(context.Background()); err == nil {
		t.Fatal("刷新失败时应返回错误")
	}
	if wind, geo, sat, rad := store.Counts(); wind+geo+sat+rad != 0 {
		t.Fatal("刷新失败时不应写入陈旧数据")
	}
}
