package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"spacewatch/internal/spaceweather"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeFetcher) FetchAggregateSnapshot(context.Context) (*spaceweather.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &spaceweather.Snapshot{Geomagnetic: &spaceweather.GeomagneticIndex{Kp: float64(f.calls)}}, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration)   { c.t = c.t.Add(d) }

func newTestCache(f *fakeFetcher, clk *clock) *Cache {
	return New(f, Options{TTL: time.Minute, Clock: clk.now}, zerolog.Nop())
}

func TestGetWithinTTLFetchesOnce(t *testing.T) {
	f := &fakeFetcher{}
	clk := &clock{t: time.Date(2024, 5, 11, 8, 0, 0, 0, time.UTC)}
	c := newTestCache(f, clk)

	first := c.Get(context.Background(), false)
	if !first.Success || first.Snapshot == nil {
		t.Fatalf("首次读取应成功: %+v", first)
	}
	for i := 0; i < 5; i++ {
		clk.advance(10 * time.Second)
		res := c.Get(context.Background(), false)
		if res.Snapshot != first.Snapshot {
			t.Fatal("TTL 内应返回同一个缓存对象")
		}
	}
	if f.count() != 1 {
		t.Fatalf("TTL 内只应请求上游一次, 实际 %d", f.count())
	}

	clk.advance(11 * time.Second)
	if res := c.Get(context.Background(), false); res.Snapshot == first.Snapshot {
		t.Fatal("TTL 过期后应重新获取")
	}
	if f.count() != 2 {
		t.Fatalf("期望 2 次请求, 实际 %d", f.count())
	}
}

func TestForceRefreshBypassesTTL(t *testing.T) {
	f := &fakeFetcher{}
	clk := &clock{t: time.Now()}
	c := newTestCache(f, clk)

	c.Get(context.Background(), false)
	c.Get(context.Background(), true)
	if f.count() != 2 {
		t.Fatalf("强制刷新应绕过 TTL, 实际请求 %d 次", f.count())
	}
}

func TestFailedRefreshKeepsPrevious(t *testing.T) {
	f := &fakeFetcher{}
	clk := &clock{t: time.Now()}
	c := newTestCache(f, clk)

	good := c.Get(context.Background(), false)
	f.err = errors.New("upstream down")

	res := c.Get(context.Background(), true)
	if res.Success || res.Err == nil {
		t.Fatalf("刷新失败应返回 success=false: %+v", res)
	}
	if res.Snapshot != good.Snapshot {
		t.Fatal("刷新失败不应覆盖之前的有效快照")
	}
	if c.Peek() != good.Snapshot {
		t.Fatal("缓存内容应保持不变")
	}
	snap, err := res.Usable()
	if err != nil || snap != good.Snapshot {
		t.Fatal("陈旧快照仍应可用")
	}
}

func TestFailedRefreshWithoutPrevious(t *testing.T) {
	f := &fakeFetcher{err: errors.New("boom")}
	c := newTestCache(f, &clock{t: time.Now()})

	res := c.Get(context.Background(), false)
	if res.Success || res.Snapshot != nil {
		t.Fatalf("无快照时应返回失败: %+v", res)
	}
	if _, err := res.Usable(); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("期望 ErrNoSnapshot, 实际 %v", err)
	}
	if _, ok := c.Age(); ok {
		t.Fatal("空缓存不应有年龄")
	}
}
