package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// tickRecorder counts ticks and exposes them as a channel
type tickRecorder struct {
	count atomic.Int32
	ticks chan time.Time
}

func newTickRecorder() *tickRecorder {
	return &tickRecorder{ticks: make(chan time.Time, 100)}
}

func (r *tickRecorder) tick(ctx context.Context) {
	r.count.Add(1)
	select {
	case r.ticks <- time.Now():
	default:
	}
}

func (r *tickRecorder) waitTick(t *testing.T, within time.Duration) time.Time {
	t.Helper()
	select {
	case ts := <-r.ticks:
		return ts
	case <-time.After(within):
		t.Fatalf("Expected a tick within %v", within)
		return time.Time{}
	}
}

func TestHiddenBackoff(t *testing.T) {
	tests := []struct {
		name       string
		multiplier int
		visible    bool
		want       time.Duration
	}{
		{"visible keeps base", 4, true, 10 * time.Second},
		{"hidden multiplies", 4, false, 40 * time.Second},
		{"multiplier below one", 0, false, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HiddenBackoff(tt.multiplier)(10*time.Second, tt.visible)
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSchedulerEffectiveInterval(t *testing.T) {
	vis := NewStaticVisibility(true)
	s := NewScheduler(vis, nil, zap.NewNop())
	defer s.StopAll()

	if got := s.EffectiveInterval(30 * time.Second); got != 30*time.Second {
		t.Errorf("Expected 30s while visible, got %v", got)
	}
	vis.Set(false)
	if got := s.EffectiveInterval(30 * time.Second); got != 120*time.Second {
		t.Errorf("Expected 120s while hidden, got %v", got)
	}
}

func TestSchedulerTicksImmediatelyAndRepeats(t *testing.T) {
	s := NewScheduler(nil, nil, zap.NewNop())
	defer s.StopAll()

	rec := newTickRecorder()
	start := time.Now()
	s.Start("feed", 50*time.Millisecond, rec.tick)

	first := rec.waitTick(t, time.Second)
	if first.Sub(start) > 40*time.Millisecond {
		t.Errorf("Expected first tick immediately, took %v", first.Sub(start))
	}

	second := rec.waitTick(t, time.Second)
	if gap := second.Sub(first); gap < 45*time.Millisecond {
		t.Errorf("Expected ticks at least one interval apart, got %v", gap)
	}
}

func TestSchedulerHiddenSlowsPolling(t *testing.T) {
	vis := NewStaticVisibility(false)
	s := NewScheduler(vis, HiddenBackoff(4), zap.NewNop())
	defer s.StopAll()

	rec := newTickRecorder()
	s.Start("feed", 50*time.Millisecond, rec.tick)
	rec.waitTick(t, time.Second)

	// hidden interval is 200ms, nothing should arrive at the visible cadence
	select {
	case <-rec.ticks:
		t.Fatal("Expected no tick within the visible interval while hidden")
	case <-time.After(120 * time.Millisecond):
	}

	// becoming visible re-arms onto the short interval right away
	vis.Set(true)
	rec.waitTick(t, 60*time.Millisecond)
}

func TestSchedulerStop(t *testing.T) {
	s := NewScheduler(nil, nil, zap.NewNop())
	defer s.StopAll()

	rec := newTickRecorder()
	s.Start("feed", 10*time.Millisecond, rec.tick)
	rec.waitTick(t, time.Second)

	s.Stop("feed")
	if s.Running("feed") {
		t.Error("Expected loop to be unregistered after Stop")
	}
	after := rec.count.Load()

	time.Sleep(50 * time.Millisecond)
	if got := rec.count.Load(); got != after {
		t.Errorf("Expected no ticks after Stop, got %d more", got-after)
	}

	// idempotent, and safe for ids that never started
	s.Stop("feed")
	s.Stop("never-started")
}

func TestSchedulerStopWaitsForInFlightTick(t *testing.T) {
	s := NewScheduler(nil, nil, zap.NewNop())
	defer s.StopAll()

	entered := make(chan struct{})
	var finished atomic.Bool
	s.Start("slow", time.Hour, func(ctx context.Context) {
		close(entered)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	})

	<-entered
	s.Stop("slow")
	if !finished.Load() {
		t.Error("Expected Stop to wait for the in-flight tick")
	}
}

func TestSchedulerRoundsNeverOverlap(t *testing.T) {
	s := NewScheduler(nil, nil, zap.NewNop())
	defer s.StopAll()

	var (
		mu      sync.Mutex
		active  int
		overlap bool
	)
	rec := newTickRecorder()
	s.Start("feed", time.Millisecond, func(ctx context.Context) {
		mu.Lock()
		active++
		if active > 1 {
			overlap = true
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		rec.tick(ctx)
	})

	for i := 0; i < 5; i++ {
		rec.waitTick(t, time.Second)
	}

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Error("Expected rounds for one consumer never to overlap")
	}
}

func TestSchedulerStartReplacesLoop(t *testing.T) {
	s := NewScheduler(nil, nil, zap.NewNop())
	defer s.StopAll()

	old := newTickRecorder()
	s.Start("feed", 10*time.Millisecond, old.tick)
	old.waitTick(t, time.Second)

	replacement := newTickRecorder()
	s.Start("feed", 10*time.Millisecond, replacement.tick)
	replacement.waitTick(t, time.Second)

	before := old.count.Load()
	time.Sleep(50 * time.Millisecond)
	if got := old.count.Load(); got != before {
		t.Errorf("Expected replaced loop to stop ticking, got %d more ticks", got-before)
	}
}

func TestSchedulerConcurrentStartKeepsOneLoop(t *testing.T) {
	s := NewScheduler(nil, nil, zap.NewNop())
	defer s.StopAll()

	recorders := make([]*tickRecorder, 20)
	var wg sync.WaitGroup
	for i := range recorders {
		recorders[i] = newTickRecorder()
		wg.Add(1)
		go func(r *tickRecorder) {
			defer wg.Done()
			s.Start("feed", 10*time.Millisecond, r.tick)
		}(recorders[i])
	}
	wg.Wait()

	// let every replaced loop finish its last tick before sampling
	time.Sleep(30 * time.Millisecond)
	before := make([]int32, len(recorders))
	for i, r := range recorders {
		before[i] = r.count.Load()
	}
	time.Sleep(80 * time.Millisecond)

	active := 0
	for i, r := range recorders {
		if r.count.Load() != before[i] {
			active++
		}
	}
	if active != 1 {
		t.Errorf("Expected exactly 1 loop ticking for the id, got %d", active)
	}
}
