package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	if err := sqlite.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("创建 sqlite 表失败: %v", err)
	}
	t.Cleanup(sqlite.Close)
	return map[string]Backend{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestSubscriptionUpsertKeepsOneRecord(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			sub := Subscription{SubscriberID: "U1", Topic: TopicDailyReport, DisplayName: "Ann", Schedule: "07:00", Status: StatusActive, SubscribedAt: now}
			if err := b.UpsertSubscription(ctx, sub); err != nil {
				t.Fatal(err)
			}
			sub.Schedule = "09:00"
			if err := b.UpsertSubscription(ctx, sub); err != nil {
				t.Fatal(err)
			}

			subs, err := b.ListSubscriptionsBySubscriber(ctx, "U1")
			if err != nil {
				t.Fatal(err)
			}
			if len(subs) != 1 || subs[0].Schedule != "09:00" {
				t.Fatalf("应只有一条记录且 schedule=09:00, 实际 %+v", subs)
			}
			if !subs[0].SubscribedAt.Equal(now) {
				t.Fatalf("subscribed_at 不一致: %s", subs[0].SubscribedAt)
			}

			found, err := b.FindSubscription(ctx, "U1", TopicDailyReport)
			if err != nil || found.DisplayName != "Ann" {
				t.Fatalf("FindSubscription 结果不正确: %+v %v", found, err)
			}
			if _, err := b.FindSubscription(ctx, "U1", TopicCMEAlert); !errors.Is(err, ErrNotFound) {
				t.Fatalf("不存在的记录应返回 ErrNotFound, 实际 %v", err)
			}
		})
	}
}

func TestListByTopicFiltersStatus(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()
			_ = b.UpsertSubscription(ctx, Subscription{SubscriberID: "A", Topic: TopicFlareAlert, Status: StatusActive, SubscribedAt: now})
			_ = b.UpsertSubscription(ctx, Subscription{SubscriberID: "B", Topic: TopicFlareAlert, Status: StatusInactive, SubscribedAt: now})
			_ = b.UpsertSubscription(ctx, Subscription{SubscriberID: "C", Topic: TopicCMEAlert, Status: StatusActive, SubscribedAt: now})

			subs, err := b.ListSubscriptionsByTopic(ctx, TopicFlareAlert, StatusActive)
			if err != nil {
				t.Fatal(err)
			}
			if len(subs) != 1 || subs[0].SubscriberID != "A" {
				t.Fatalf("应只返回 A, 实际 %+v", subs)
			}

			at := now.Add(time.Minute)
			if err := b.MarkDelivered(ctx, "A", TopicFlareAlert, at); err != nil {
				t.Fatal(err)
			}
			found, _ := b.FindSubscription(ctx, "A", TopicFlareAlert)
			if found.LastDeliveredAt == nil || found.LastDeliveredAt.UnixMilli() != at.UnixMilli() {
				t.Fatalf("last_delivered_at 未更新: %+v", found)
			}
			if err := b.MarkDelivered(ctx, "Z", TopicFlareAlert, at); !errors.Is(err, ErrNotFound) {
				t.Fatalf("未知订阅者应返回 ErrNotFound, 实际 %v", err)
			}
		})
	}
}

func TestHistoryAndDeliveries(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < 3; i++ {
				ts := base.Add(time.Duration(i) * 5 * time.Minute)
				if err := b.AppendGeomagnetic(ctx, GeomagneticRow{RecordedAt: ts, Kp: float64(i + 1), Level: "quiet", GScale: "G0"}); err != nil {
					t.Fatal(err)
				}
				if err := b.AppendSolarWind(ctx, SolarWindRow{RecordedAt: ts, Speed: 400 + float64(i)}); err != nil {
					t.Fatal(err)
				}
			}

			rows, err := b.ListGeomagneticBetween(ctx, base, base.Add(10*time.Minute))
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != 2 || rows[0].Kp != 1 {
				t.Fatalf("区间查询结果不正确: %+v", rows)
			}
			recent, _ := b.ListRecentGeomagnetic(ctx, 1)
			if len(recent) != 1 || recent[0].Kp != 3 {
				t.Fatalf("最近记录应为 Kp 3: %+v", recent)
			}
			wind, _ := b.ListSolarWindBetween(ctx, base, base.Add(time.Hour))
			if len(wind) != 3 {
				t.Fatalf("太阳风记录应为 3 条, 实际 %d", len(wind))
			}

			if err := b.AppendDelivery(ctx, DeliveryRecord{ID: "d1", DeliveredAt: base, SubscriberID: "U1", Topic: TopicDailyReport, Preview: "hi", Success: true}); err != nil {
				t.Fatal(err)
			}
			if err := b.AppendDelivery(ctx, DeliveryRecord{ID: "d2", DeliveredAt: base.Add(time.Second), SubscriberID: "U2", Topic: TopicDailyReport, Preview: "hi", Error: "boom"}); err != nil {
				t.Fatal(err)
			}
			recs, _ := b.ListRecentDeliveries(ctx, 10)
			if len(recs) != 2 || recs[0].ID != "d2" || recs[0].Success || !recs[1].Success {
				t.Fatalf("投递记录不正确: %+v", recs)
			}
		})
	}
}

func TestNoopStoreDegrades(t *testing.T) {
	var b Backend = NoopStore{}
	ctx := context.Background()
	if err := b.UpsertSubscription(ctx, Subscription{SubscriberID: "x"}); err != nil {
		t.Fatalf("stub 写入应成功: %v", err)
	}
	subs, err := b.ListSubscriptionsBySubscriber(ctx, "x")
	if err != nil || len(subs) != 0 {
		t.Fatalf("stub 读取应为空: %v %v", subs, err)
	}
}

func TestParseTopic(t *testing.T) {
	if topic, err := ParseTopic("KP"); err != nil || topic != TopicGeomagneticAlert {
		t.Fatalf("kp 别名解析失败: %v %v", topic, err)
	}
	if _, err := ParseTopic("weather"); err == nil {
		t.Fatal("未知 topic 应报错")
	}
}
