package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2024, 5, 11, 8, 3, 17, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2024, 5, 11, 8, 4, 0, 0, time.UTC)) {
		t.Fatalf("应对齐到下一分钟, 实际 %s", got)
	}
	onBoundary := time.Date(2024, 5, 11, 8, 5, 0, 0, time.UTC)
	if got := s.nextTick(onBoundary); !got.Equal(onBoundary.Add(time.Minute)) {
		t.Fatalf("边界时刻应取下一个桶, 实际 %s", got)
	}
	if got := s.bucketStart(time.Date(2024, 5, 11, 8, 4, 0, 300, time.UTC)); got.Second() != 0 || got.Nanosecond() != 0 {
		t.Fatalf("桶起点应截断, 实际 %s", got)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute}, zerolog.Nop())
	now := time.Date(2024, 5, 11, 8, 3, 17, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("未对齐时应直接加间隔, 实际 %s", got)
	}
}

func TestRunAllStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan error, 1)

	go func() {
		done <- RunAll(ctx, zerolog.Nop(),
			Task{Options: Options{Name: "a", Interval: 10 * time.Millisecond}, Tick: func(context.Context, time.Time) error {
				ticks.Add(1)
				return nil
			}},
			Task{Options: Options{Name: "b", Interval: time.Hour}, Tick: func(context.Context, time.Time) error { return nil }},
		)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("取消后应正常退出, 实际 %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("取消后应及时退出")
	}
	if ticks.Load() == 0 {
		t.Fatal("任务应至少执行一次")
	}
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("间隔为零应 panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}

func TestRunTickRecoversPanic(t *testing.T) {
	s := New(Options{Name: "panicky", Interval: time.Minute}, zerolog.Nop())
	called := false
	s.runTick(context.Background(), func(context.Context, time.Time) error {
		called = true
		panic("boom")
	}, time.Now())
	if !called {
		t.Fatal("tick 应被调用")
	}
}
