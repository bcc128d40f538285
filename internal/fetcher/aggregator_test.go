package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"spacewatch/internal/spaceweather"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

var fixedNow = time.Date(2024, 5, 11, 8, 0, 0, 0, time.UTC)

const (
	kpBody = `[["time_tag","Kp","a_running","station_count"],
["2024-05-11 00:00:00.000","4.00","27","8"],
["2024-05-11 03:00:00.000","5.33","56","8"]]`
	plasmaBody = `[["time_tag","density","speed","temperature"],
["2024-05-11 07:58:00.000","4.1","612.5","190000"],
["2024-05-11 07:59:00.000",null,null,null]]`
	magBody = `[["time_tag","bx_gsm","by_gsm","bz_gsm","lon_gsm","lat_gsm","bt"],
["2024-05-11 07:59:00.000","1.2","-3.4","-12.5","100","-40","14.0"]]`
	xrayBody = `[
{"time_tag":"2024-05-11T07:58:00Z","satellite":16,"flux":1.1e-8,"energy":"0.05-0.4nm"},
{"time_tag":"2024-05-11T07:58:00Z","satellite":16,"flux":2.5e-4,"energy":"0.1-0.8nm"}]`
	protonBody = `[
{"time_tag":"2024-05-11T07:55:00Z","flux":150.0,"energy":">=10 MeV"},
{"time_tag":"2024-05-11T07:55:00Z","flux":3.0,"energy":">=100 MeV"}]`
	electronBody = `[{"time_tag":"2024-05-11T07:55:00Z","flux":1200.5,"energy":">=2 MeV"}]`
	cmeBody      = `[{"activityID":"2024-05-10T06:36:00-CME-001","startTime":"2024-05-10T06:36Z","note":"halo",
"cmeAnalyses":[{"speed":1200,"type":"O","isMostAccurate":true,
"enlilList":[{"estimatedShockArrivalTime":"2024-05-11T12:00Z","isEarthGB":true}]}]},
{"activityID":"2024-05-09T01:00:00-CME-001","startTime":"2024-05-09T01:00Z","note":"",
"cmeAnalyses":[{"speed":400,"type":"S","isMostAccurate":true,"enlilList":null}]}]`
	flareBody = `[{"flrID":"2024-05-11T01:10:00-FLR-001","beginTime":"2024-05-11T01:10Z","peakTime":"2024-05-11T01:23Z","classType":"X5.8","sourceLocation":"S15W45"}]`
	issBody   = `{"name":"iss","id":25544,"latitude":-12.5,"longitude":130.25,"altitude":420.1,"velocity":27600.2,"timestamp":1715414400}`
)

func upstreamServer(t *testing.T, failing map[string]bool) *httptest.Server {
	t.Helper()
	routes := map[string]string{
		kpPath:              kpBody,
		plasmaPath:          plasmaBody,
		magPath:             magBody,
		xrayPath:            xrayBody,
		protonsPath:         protonBody,
		electronsPath:       electronBody,
		"/DONKI/CME":        cmeBody,
		"/DONKI/FLR":        flareBody,
		"/satellites/25544": issBody,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing[r.URL.Path] {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"message":"maintenance"}`))
			return
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAggregator(srv *httptest.Server) *Aggregator {
	return NewAggregator(Options{
		NOAABaseURL:      srv.URL,
		DONKIBaseURL:     srv.URL + "/DONKI",
		SatelliteBaseURL: srv.URL,
		Timeout:          2 * time.Second,
		UserAgent:        "test",
		Clock:            func() time.Time { return fixedNow },
	}, noopLogger())
}

func TestAggregateSnapshotSuccess(t *testing.T) {
	srv := upstreamServer(t, nil)
	snap, err := newTestAggregator(srv).FetchAggregateSnapshot(context.Background())
	if err != nil {
		t.Fatalf("全部成功时不应报错: %v", err)
	}

	if snap.Geomagnetic.Kp != 5.33 || snap.Geomagnetic.GScale != "G1" || snap.Geomagnetic.Level != spaceweather.StormMinor {
		t.Fatalf("Kp 解析错误: %+v", snap.Geomagnetic)
	}
	if snap.SolarWind.Speed != 612.5 || snap.SolarWind.Density != 4.1 {
		t.Fatalf("应跳过空值行取最后有效的等离子体数据: %+v", snap.SolarWind)
	}
	if snap.MagneticField.Bz != -12.5 || snap.MagneticField.Bt != 14 {
		t.Fatalf("磁场解析错误: %+v", snap.MagneticField)
	}
	if snap.XRay.Label() != "X2.5" {
		t.Fatalf("期望 X2.5, 实际 %s", snap.XRay.Label())
	}
	if snap.Particles.Proton != 150 || snap.Particles.SScale != "S2" || snap.Particles.Electron != 1200.5 {
		t.Fatalf("粒子通量解析错误: %+v", snap.Particles)
	}
	if len(snap.CMEs) != 2 || !snap.CMEs[0].EarthDirected || snap.CMEs[0].ArrivalTime == nil {
		t.Fatalf("首个 CME 应为地向事件: %+v", snap.CMEs)
	}
	if snap.CMEs[1].EarthDirected {
		t.Fatal("无 Enlil 到达时间的 CME 不应视为地向")
	}
	if len(snap.Flares) != 1 || snap.Flares[0].ClassType != "X5.8" {
		t.Fatalf("耀斑事件解析错误: %+v", snap.Flares)
	}
	if snap.Satellite.Name != "iss" || snap.Satellite.Location != "12.50°S 130.25°E" {
		t.Fatalf("卫星位置解析错误: %+v", snap.Satellite)
	}
	if snap.Severity != spaceweather.SeverityAlert {
		t.Fatalf("X 级耀斑应产生 alert 级别, 实际 %s", snap.Severity)
	}
	if !snap.FetchedAt.Equal(fixedNow) {
		t.Fatalf("FetchedAt 应来自注入时钟")
	}
}

func TestAggregateSnapshotDegradesFailingSource(t *testing.T) {
	srv := upstreamServer(t, map[string]bool{kpPath: true, "/satellites/25544": true})
	snap, err := newTestAggregator(srv).FetchAggregateSnapshot(context.Background())
	if err != nil {
		t.Fatalf("部分失败不应报错: %v", err)
	}
	if !snap.Geomagnetic.Degraded || snap.Geomagnetic.Kp != 0 || snap.Geomagnetic.Level != spaceweather.StormUnknown {
		t.Fatalf("Kp 失败应使用默认值: %+v", snap.Geomagnetic)
	}
	if !snap.Satellite.Degraded || snap.Satellite.Location != "unknown" {
		t.Fatalf("卫星失败应使用默认值: %+v", snap.Satellite)
	}
	if snap.SolarWind.Degraded {
		t.Fatal("其它来源不应受影响")
	}
}

func TestAggregateSnapshotAllFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestAggregator(srv).FetchAggregateSnapshot(context.Background())
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("全部失败应返回 ErrAllSourcesFailed, 实际 %v", err)
	}
}

func TestDecodeTableObjectRows(t *testing.T) {
	rows, err := decodeTable([]byte(`[{"time_tag":"2024-05-11T00:00:00","kp_index":3,"estimated_kp":3.33}]`))
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if len(rows) != 1 || rows[0]["kp_index"] != "3" {
		t.Fatalf("对象行解析错误: %+v", rows)
	}
	if parseTimeTag(rows[0]["time_tag"]).IsZero() {
		t.Fatal("应能解析无时区时间戳")
	}
}

func TestParseHTTPError(t *testing.T) {
	err := parseHTTPError(http.StatusTooManyRequests, []byte(`{"error":{"code":"OVER_RATE_LIMIT","message":"slow down"}}`))
	if err == nil || err.Error() != "upstream error (429): slow down" {
		t.Fatalf("错误信息不符: %v", err)
	}
}

func TestNonFiniteCellsAreNotReadings(t *testing.T) {
	for _, raw := range []string{"NaN", "nan", "Inf", "-Inf", "+Infinity"} {
		if _, ok := parseNumber(raw); ok {
			t.Fatalf("%q 不应被视为有效读数", raw)
		}
	}

	kpServer := func(body string) *httptest.Server {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		t.Cleanup(srv.Close)
		return srv
	}

	srv := kpServer(`[["time_tag","Kp"],["2024-05-11 00:00:00.000","4.00"],["2024-05-11 03:00:00.000","NaN"]]`)
	gi, err := newTestAggregator(srv).fetchKp(context.Background())
	if err != nil {
		t.Fatalf("存在有效行时不应报错: %v", err)
	}
	if gi.Kp != 4 {
		t.Fatalf("应跳过 NaN 行取上一条有效 Kp, 实际 %v", gi.Kp)
	}

	srv = kpServer(`[["time_tag","Kp"],["2024-05-11 03:00:00.000","NaN"]]`)
	if _, err := newTestAggregator(srv).fetchKp(context.Background()); !errors.Is(err, errNoReading) {
		t.Fatalf("只有 NaN 时应返回 errNoReading, 实际 %v", err)
	}
}
