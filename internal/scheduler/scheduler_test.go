package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewRejectsZeroInterval(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); err == nil {
		t.Fatal("interval 为 0 时应报错")
	}
}

func TestRunInvokesTickUntilCancelled(t *testing.T) {
	s, err := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
	if err != nil {
		t.Fatalf("构造失败: %v", err)
	}

	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, at time.Time) error {
			if ticks.Add(1) == 3 {
				cancel()
			}
			return errors.New("tick errors are logged, not fatal")
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("期望 context.Canceled, 实际 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if ticks.Load() < 3 {
		t.Fatalf("期望至少 3 次 tick, 实际 %d", ticks.Load())
	}
}

func TestStartupDelayHonoursCancel(t *testing.T) {
	s, _ := New(Options{Interval: time.Second, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("tick should not run during startup delay")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestNextTickAligned(t *testing.T) {
	s, _ := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2025, 3, 1, 10, 4, 30, 0, time.UTC)

	if got, want := s.nextTick(now), time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("对齐错误: %s != %s", got, want)
	}
	onBoundary := time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC)
	if got := s.nextTick(onBoundary); !got.Equal(onBoundary.Add(time.Minute)) {
		t.Fatalf("边界时刻应推进一个周期: %s", got)
	}
}
