package datasource

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yourusername/fleetwatch/internal/cache"
	"github.com/yourusername/fleetwatch/internal/model"
	"go.uber.org/zap"
)

// switchable answers with live data or a 502 depending on ok
type switchable struct {
	ok atomic.Bool
}

func (s *switchable) handle(w http.ResponseWriter, r *http.Request) {
	if !s.ok.Load() {
		http.Error(w, "upstream down", http.StatusBadGateway)
		return
	}
	respond(`{"agents":[{"name":"live-1"}]}`)(w, r)
}

func demoAgents(string) []model.Item[testAgent] {
	return []model.Item[testAgent]{
		{Cluster: "kind-local", Value: testAgent{Name: "demo-1"}},
		{Cluster: "prod-east", Value: testAgent{Name: "demo-2"}},
	}
}

func newTestFeed(t *testing.T, name string, agg *Aggregator) (*Feed[testAgent], *cache.Scheduler) {
	t.Helper()

	scheduler := cache.NewScheduler(nil, nil, zap.NewNop())
	t.Cleanup(scheduler.StopAll)

	feed := NewFeed(Source[testAgent]{
		Name:     name,
		Path:     "/kagenti/agents",
		Decode:   ItemsKey[testAgent]("agents"),
		Fallback: demoAgents,
		// rounds after the first are driven by Refetch
		Interval: time.Hour,
	}, FeedDeps{
		Aggregator:        agg,
		Tracker:           NewFailureTracker(),
		Scheduler:         scheduler,
		FallbackThreshold: 3,
		Logger:            zap.NewNop(),
	})
	t.Cleanup(feed.Stop)
	return feed, scheduler
}

func waitSnapshot(t *testing.T, feed *Feed[testAgent], cond func(model.Snapshot[testAgent]) bool) model.Snapshot[testAgent] {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := feed.Snapshot(); cond(snap) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Snapshot condition not met: %+v", feed.Snapshot())
	return model.Snapshot[testAgent]{}
}

func notLoading(s model.Snapshot[testAgent]) bool { return !s.IsLoading }

func TestFeedInitialState(t *testing.T) {
	agent := newClusterAgent(t, map[string]http.HandlerFunc{})
	agg := newTestAggregator(t, agent.srv.URL, nil, time.Second)
	feed, _ := newTestFeed(t, "feed-initial", agg)

	snap := feed.Snapshot()
	if !snap.IsLoading || snap.IsRefreshing || snap.Mode != model.ModeLive || snap.IsDemo {
		t.Errorf("Expected optimistic loading state, got %+v", snap)
	}
	if snap.Data == nil || len(snap.Data) != 0 {
		t.Errorf("Expected empty non-nil data, got %v", snap.Data)
	}
	if snap.Error != "" {
		t.Errorf("Expected no error, got %q", snap.Error)
	}
}

func TestFeedLifecycle(t *testing.T) {
	upstream := &switchable{}
	upstream.ok.Store(true)
	agent := newClusterAgent(t, map[string]http.HandlerFunc{"prod": upstream.handle})
	agg := newTestAggregator(t, agent.srv.URL, []model.ClusterDescriptor{{Name: "prod", Context: "prod"}}, time.Second)
	feed, _ := newTestFeed(t, "feed-lifecycle", agg)
	ctx := context.Background()

	feed.Start()
	snap := waitSnapshot(t, feed, notLoading)
	if snap.Mode != model.ModeLive || snap.IsDemo || snap.Error != "" {
		t.Fatalf("Expected LIVE after first success, got %+v", snap)
	}
	if len(snap.Data) != 1 || snap.Data[0].Value.Name != "live-1" || snap.Data[0].Cluster != "prod" {
		t.Errorf("Unexpected live data: %+v", snap.Data)
	}
	if snap.LastSuccessAt == nil || snap.Attempted != 1 || snap.Succeeded != 1 {
		t.Errorf("Unexpected round bookkeeping: %+v", snap)
	}

	// failures under the threshold keep the last data and flag it stale
	upstream.ok.Store(false)
	for i := 1; i <= 2; i++ {
		if err := feed.Refetch(ctx); err != nil {
			t.Fatalf("Refetch: %v", err)
		}
		snap = feed.Snapshot()
		if snap.Mode != model.ModeLive || snap.IsDemo {
			t.Errorf("Round %d: expected LIVE below threshold, got %s", i, snap.Mode)
		}
		if snap.ConsecutiveFailures != i {
			t.Errorf("Round %d: expected %d failures, got %d", i, i, snap.ConsecutiveFailures)
		}
		if len(snap.Data) != 1 || snap.Data[0].Value.Name != "live-1" {
			t.Errorf("Round %d: expected previous data kept, got %+v", i, snap.Data)
		}
		if !strings.Contains(snap.Error, "last known data") {
			t.Errorf("Round %d: expected stale error, got %q", i, snap.Error)
		}
	}

	// third failure crosses the threshold
	if err := feed.Refetch(ctx); err != nil {
		t.Fatal(err)
	}
	snap = feed.Snapshot()
	if snap.Mode != model.ModeDegraded || !snap.IsDemo || snap.ConsecutiveFailures != 3 {
		t.Fatalf("Expected DEGRADED demo data after 3 failures, got %+v", snap)
	}
	if len(snap.Data) != 2 || snap.Data[0].Value.Name != "demo-1" {
		t.Errorf("Expected fallback data, got %+v", snap.Data)
	}
	if strings.Contains(snap.Error, "502") || strings.Contains(snap.Error, "upstream") {
		t.Errorf("Expected a generic error message, got %q", snap.Error)
	}

	// polling continues in DEGRADED and one success recovers
	upstream.ok.Store(true)
	if err := feed.Refetch(ctx); err != nil {
		t.Fatal(err)
	}
	snap = feed.Snapshot()
	if snap.Mode != model.ModeLive || snap.IsDemo || snap.Error != "" || snap.ConsecutiveFailures != 0 {
		t.Errorf("Expected recovery to LIVE, got %+v", snap)
	}
	if len(snap.Data) != 1 || snap.Data[0].Value.Name != "live-1" {
		t.Errorf("Expected live data after recovery, got %+v", snap.Data)
	}
}

func TestFeedNilResultDegradesImmediately(t *testing.T) {
	agent := newClusterAgent(t, map[string]http.HandlerFunc{})

	t.Run("no targets", func(t *testing.T) {
		agg := newTestAggregator(t, agent.srv.URL, nil, time.Second)
		feed, _ := newTestFeed(t, "feed-no-targets", agg)
		feed.Start()

		snap := waitSnapshot(t, feed, notLoading)
		if snap.Mode != model.ModeDegraded || !snap.IsDemo || snap.ConsecutiveFailures != 1 {
			t.Errorf("Expected immediate DEGRADED, got %+v", snap)
		}
		if snap.Error != "no reachable clusters; showing demo data" {
			t.Errorf("Unexpected error %q", snap.Error)
		}
	})

	t.Run("gate unavailable", func(t *testing.T) {
		agg := newTestAggregator(t, agent.srv.URL, []model.ClusterDescriptor{{Name: "prod", Context: "prod"}}, time.Second)
		agg.Gate().MarkUnavailable("test")
		feed, _ := newTestFeed(t, "feed-gate", agg)
		feed.Start()

		snap := waitSnapshot(t, feed, notLoading)
		if snap.Mode != model.ModeDegraded || snap.Error != "agent unavailable; showing demo data" {
			t.Errorf("Expected DEGRADED with agent error, got %+v", snap)
		}
	})

	if got := agent.calls.Load(); got != 0 {
		t.Errorf("Expected no network calls, got %d", got)
	}
}

func TestFeedStopDiscardsInFlightRound(t *testing.T) {
	entered := make(chan struct{}, 1)
	agent := newClusterAgent(t, map[string]http.HandlerFunc{
		"prod": func(w http.ResponseWriter, r *http.Request) {
			entered <- struct{}{}
			hang(w, r)
		},
	})
	agg := newTestAggregator(t, agent.srv.URL, []model.ClusterDescriptor{{Name: "prod", Context: "prod"}}, 5*time.Second)
	feed, scheduler := newTestFeed(t, "feed-stop", agg)

	feed.Start()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the first round to reach the agent")
	}

	feed.Stop()
	if scheduler.Running(feed.ID()) {
		t.Error("Expected the scheduler loop to be gone after Stop")
	}
	if snap := feed.Snapshot(); !snap.IsLoading || snap.ConsecutiveFailures != 0 {
		t.Errorf("Expected the cancelled round to be discarded, got %+v", snap)
	}

	// Stop is idempotent and Refetch refuses to run on a stopped feed
	feed.Stop()
	if err := feed.Refetch(context.Background()); err == nil {
		t.Error("Expected Refetch on a stopped feed to fail")
	}
}

func TestFeedRefetchCoalesces(t *testing.T) {
	var (
		calls   atomic.Int32
		blocked atomic.Bool
		release = make(chan struct{})
		entered = make(chan struct{}, 1)
	)
	agent := newClusterAgent(t, map[string]http.HandlerFunc{
		"prod": func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			if blocked.Load() {
				entered <- struct{}{}
				<-release
			}
			respond(`{"agents":[]}`)(w, r)
		},
	})
	agg := newTestAggregator(t, agent.srv.URL, []model.ClusterDescriptor{{Name: "prod", Context: "prod"}}, 5*time.Second)
	feed, _ := newTestFeed(t, "feed-coalesce", agg)

	feed.Start()
	waitSnapshot(t, feed, notLoading)
	calls.Store(0)
	blocked.Store(true)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = feed.Refetch(context.Background())
	}()
	<-entered

	if snap := feed.Snapshot(); !snap.IsRefreshing || snap.IsLoading {
		t.Errorf("Expected IsRefreshing during a later round, got %+v", snap)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = feed.Refetch(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("Expected concurrent refetches to share one round, got %d rounds", got)
	}
	if feed.Snapshot().IsRefreshing {
		t.Error("Expected IsRefreshing to clear after the round")
	}
}

func TestFeedSubscribe(t *testing.T) {
	agent := newClusterAgent(t, map[string]http.HandlerFunc{"prod": respond(`{"agents":[]}`)})
	agg := newTestAggregator(t, agent.srv.URL, []model.ClusterDescriptor{{Name: "prod", Context: "prod"}}, time.Second)
	feed, _ := newTestFeed(t, "feed-subscribe", agg)

	changes, unsubscribe := feed.Subscribe()
	feed.Start()

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a change notification after the first round")
	}

	unsubscribe()
	// drain anything queued before unsubscribing
	select {
	case <-changes:
	default:
	}
	if err := feed.Refetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changes:
		t.Error("Expected no notification after unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFeedState(t *testing.T) {
	agent := newClusterAgent(t, map[string]http.HandlerFunc{"prod": respond(`{"agents":[{"name":"a"}]}`)})
	agg := newTestAggregator(t, agent.srv.URL, []model.ClusterDescriptor{{Name: "prod", Context: "prod"}}, time.Second)
	feed, _ := newTestFeed(t, "feed-state", agg)

	var runner Runner = feed
	runner.Start()
	waitSnapshot(t, feed, notLoading)

	st := runner.State()
	if st.Source != "feed-state" || st.Count != 1 || st.Error != nil || st.Mode != model.ModeLive {
		t.Errorf("Unexpected state: %+v", st)
	}
	if _, ok := st.Data.([]model.Item[testAgent]); !ok {
		t.Errorf("Expected typed items in state data, got %T", st.Data)
	}
}
