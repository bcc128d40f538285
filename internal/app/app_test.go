package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"spacewatch/internal/config"
	"spacewatch/internal/evaluator"
	"spacewatch/internal/storage"
	"spacewatch/internal/subscription"
)

func TestMergeHistoryJoinsOnTimestamp(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	geo := []storage.GeomagneticRow{
		{RecordedAt: base.Add(5 * time.Minute), Kp: 3.33, GScale: "G0"},
		{RecordedAt: base, Kp: 5.67, GScale: "G1"},
	}
	wind := []storage.SolarWindRow{
		{RecordedAt: base, Speed: 512.3, Bz: -4.2},
		{RecordedAt: base.Add(10 * time.Minute), Speed: 498},
	}

	points := mergeHistory(geo, wind)
	if len(points) != 3 {
		t.Fatalf("期望 3 个时间点，实际 %d", len(points))
	}
	if !points[0].At.Equal(base) || !points[0].HasKpData || !points[0].HasWind {
		t.Fatalf("首个时间点应同时包含 Kp 与太阳风: %+v", points[0])
	}
	if points[0].Kp != 5.67 || points[0].Speed != 512.3 {
		t.Fatalf("合并后数值错误: %+v", points[0])
	}
	if points[1].HasWind {
		t.Fatalf("第二个时间点不应有太阳风数据: %+v", points[1])
	}
	if points[2].HasKpData {
		t.Fatalf("第三个时间点不应有 Kp 数据: %+v", points[2])
	}
}

func TestDownsampleKeepsEndpoints(t *testing.T) {
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	got := downsample(items, 10)
	if len(got) != 10 {
		t.Fatalf("期望 10 个点，实际 %d", len(got))
	}
	if got[0] != 0 || got[9] != 99 {
		t.Fatalf("应保留首尾点，实际 %d..%d", got[0], got[9])
	}

	if same := downsample(items[:5], 10); len(same) != 5 {
		t.Fatalf("数量不足上限时不应裁剪，实际 %d", len(same))
	}
}

func TestWriteHistoryCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.csv")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	points := []historyPoint{
		{At: at, Kp: 5.67, GScale: "G1", Speed: 512.34, Bz: -4.2, HasKpData: true, HasWind: true},
		{At: at.Add(5 * time.Minute), Kp: 4, GScale: "G0", HasKpData: true},
	}

	if err := writeHistoryCSV(path, points); err != nil {
		t.Fatalf("写入 CSV 失败: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("打开 CSV 失败: %v", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("解析 CSV 失败: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("期望表头加 2 行，实际 %d", len(records))
	}
	want := []string{"2026-03-01T12:00:00Z", "5.67", "G1", "512.3", "-4.20"}
	for i, v := range want {
		if records[1][i] != v {
			t.Fatalf("第 %d 列期望 %q，实际 %q", i, v, records[1][i])
		}
	}
	if records[2][3] != "" {
		t.Fatalf("缺失的太阳风应留空，实际 %q", records[2][3])
	}
}

func TestSyntheticSnapshotClassifies(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := syntheticSnapshot(now, SimulateOptions{Kp: 7.3, XRayFlux: 2.5e-4, CMEArrive: 24 * time.Hour})

	if snap.Geomagnetic.GScale != "G3" {
		t.Fatalf("Kp 7.3 应为 G3，实际 %s", snap.Geomagnetic.GScale)
	}
	if snap.XRay.Label() != "X2.5" {
		t.Fatalf("通量 2.5e-4 应为 X2.5，实际 %s", snap.XRay.Label())
	}
	if len(snap.CMEs) != 1 || !snap.CMEs[0].EarthDirected || snap.CMEs[0].ArrivalTime == nil {
		t.Fatalf("应附加一个朝向地球的 CME: %+v", snap.CMEs)
	}
	if len(snap.Alerts) == 0 {
		t.Fatal("强磁暴快照应产生告警摘要")
	}
}

func TestPrintHelpers(t *testing.T) {
	var buf bytes.Buffer
	if err := printSubscribers(&buf, storage.TopicDailyReport, []subscription.Subscriber{
		{SubscriberID: "U1", Schedule: "08:00"},
		{SubscriberID: "U2"},
	}); err != nil {
		t.Fatalf("输出订阅者失败: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "U1") || !strings.Contains(out, "08:00") || !strings.Contains(out, "-") {
		t.Fatalf("订阅者输出不完整: %q", out)
	}

	buf.Reset()
	_ = printGeomagnetic(&buf, nil)
	if !strings.Contains(buf.String(), "no readings found") {
		t.Fatalf("空结果提示错误: %q", buf.String())
	}

	buf.Reset()
	_ = printOutcomes(&buf, []evaluator.Outcome{{Topic: storage.TopicFlareAlert, Decision: evaluator.DecisionCooling}})
	if !strings.Contains(buf.String(), "cooling") {
		t.Fatalf("评估结果输出错误: %q", buf.String())
	}

	if got := sanitizeInline("a\nb\tc"); got != "a b c" {
		t.Fatalf("sanitizeInline 结果错误: %q", got)
	}
}

func TestTickRejectsUnknownName(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("加载默认配置失败: %v", err)
	}
	a := NewApp(cfg, zerolog.Nop())

	if err := a.Tick(context.Background(), TickOptions{Name: "bogus"}); err == nil {
		t.Fatal("未知 tick 名称应返回错误")
	}
}

func TestSimulateRequiresPushChannel(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("加载默认配置失败: %v", err)
	}
	cfg.Push.Line.ChannelToken = ""
	a := NewApp(cfg, zerolog.Nop())

	if err := a.SimulateAlert(context.Background(), SimulateOptions{Kp: 6}); err == nil {
		t.Fatal("未配置推送通道时应返回错误")
	}
}

func TestOneShotCommandsRefuseMemoryDriver(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("加载默认配置失败: %v", err)
	}
	cfg.Database.Driver = "memory"
	cfg.Push.Line.ChannelToken = "token"
	a := NewApp(cfg, zerolog.Nop())
	ctx := context.Background()

	checks := map[string]func() error{
		"subscribers":   func() error { return a.Subscribers(ctx, storage.TopicDailyReport) },
		"subscriptions": func() error { return a.Subscriptions(ctx, "U1") },
		"broadcast":     func() error { return a.Broadcast(ctx, storage.TopicDailyReport, "hi") },
		"tick":          func() error { return a.Tick(ctx, TickOptions{Name: "alerts"}) },
		"simulate":      func() error { return a.SimulateAlert(ctx, SimulateOptions{Kp: 6}) },
		"show":          func() error { return a.Show(ctx, ShowOptions{Limit: 5}) },
	}
	for name, run := range checks {
		err := run()
		if err == nil || !strings.Contains(err.Error(), "keeps no state") {
			t.Fatalf("%s 在 memory 驱动下应拒绝执行, 实际 %v", name, err)
		}
	}
}

func TestOpenBackendWarnsOnMemoryDriver(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("加载默认配置失败: %v", err)
	}
	cfg.Database.Driver = "memory"

	var buf bytes.Buffer
	a := NewApp(cfg, zerolog.New(&buf))
	backend := a.openBackend(context.Background())
	defer backend.Close()

	if !strings.Contains(buf.String(), `"level":"warn"`) || !strings.Contains(buf.String(), "in-memory storage") {
		t.Fatalf("选择 memory 驱动时应输出告警日志: %q", buf.String())
	}
}

func TestSubscriptionsRunOnSQLite(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("加载默认配置失败: %v", err)
	}
	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "spacewatch.db")

	var buf bytes.Buffer
	a := NewApp(cfg, zerolog.New(&buf))
	if err := a.Subscriptions(context.Background(), "U1"); err != nil {
		t.Fatalf("sqlite 驱动下查询订阅不应失败: %v", err)
	}
	if strings.Contains(buf.String(), "in-memory storage") {
		t.Fatalf("sqlite 驱动不应输出内存存储告警: %q", buf.String())
	}
}
