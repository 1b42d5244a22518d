package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yourusername/fleetwatch/internal/cache"
	"github.com/yourusername/fleetwatch/internal/model"
	"go.uber.org/zap"
)

// clusterAgent fakes the proxy agent with one handler per cluster context
type clusterAgent struct {
	handlers map[string]http.HandlerFunc
	calls    atomic.Int32
	srv      *httptest.Server
}

func newClusterAgent(t *testing.T, handlers map[string]http.HandlerFunc) *clusterAgent {
	t.Helper()

	a := &clusterAgent{handlers: handlers}
	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.calls.Add(1)
		h, ok := a.handlers[r.URL.Query().Get("cluster")]
		if !ok {
			http.Error(w, "unknown cluster", http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(a.srv.Close)
	return a
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func hang(w http.ResponseWriter, r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(5 * time.Second):
	}
}

func newTestAggregator(t *testing.T, agentURL string, clusters []model.ClusterDescriptor, timeout time.Duration) *Aggregator {
	t.Helper()

	logger := zap.NewNop()
	client, err := NewAgentClient(agentURL, logger)
	if err != nil {
		t.Fatal(err)
	}
	gate := NewAvailabilityGate(nil, GateOptions{}, logger)
	registry := cache.NewRegistry(logger)
	registry.Replace(clusters)

	return NewAggregator(registry, gate, NewFetcher(client, gate, timeout, logger), logger)
}

func TestAggregatePartialFailure(t *testing.T) {
	agent := newClusterAgent(t, map[string]http.HandlerFunc{
		"ctx-prod": respond(`{"agents":[{"name":"a1"}]}`),
		"ctx-dev":  hang,
	})

	agg := newTestAggregator(t, agent.srv.URL, []model.ClusterDescriptor{
		{Name: "prod", Context: "ctx-prod", Reachable: model.Reachability(true)},
		{Name: "dev", Context: "ctx-dev", Reachable: model.Reachability(true)},
	}, 100*time.Millisecond)

	result := Aggregate(context.Background(), agg, Query{Source: "agents", Path: "/kagenti/agents"}, ItemsKey[testAgent]("agents"))
	if result == nil {
		t.Fatal("Expected a result")
	}

	if result.Attempted != 2 || result.Succeeded != 1 {
		t.Errorf("Expected attempted=2 succeeded=1, got attempted=%d succeeded=%d", result.Attempted, result.Succeeded)
	}
	if len(result.Items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(result.Items))
	}
	if got := result.Items[0]; got.Cluster != "prod" || got.Value.Name != "a1" {
		t.Errorf("Expected {a1 prod}, got %+v", got)
	}
	if !result.Partial() || result.Failed() {
		t.Error("Expected a partial, non-failed result")
	}
	if !agg.Gate().Status().Available {
		t.Error("Expected a partial success to keep the gate available")
	}
}

func TestAggregateKeepsRegistryOrder(t *testing.T) {
	agent := newClusterAgent(t, map[string]http.HandlerFunc{
		// the first cluster answers last
		"c1": func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(40 * time.Millisecond)
			respond(`{"agents":[{"name":"x"},{"name":"y"}]}`)(w, r)
		},
		"c2": respond(`{"agents":[{"name":"z"}]}`),
	})

	agg := newTestAggregator(t, agent.srv.URL, []model.ClusterDescriptor{
		{Name: "one", Context: "c1"},
		{Name: "two", Context: "c2"},
	}, time.Second)

	result := Aggregate(context.Background(), agg, Query{Source: "agents", Path: "/kagenti/agents"}, ItemsKey[testAgent]("agents"))

	want := []model.Item[testAgent]{
		{Cluster: "one", Value: testAgent{Name: "x"}},
		{Cluster: "one", Value: testAgent{Name: "y"}},
		{Cluster: "two", Value: testAgent{Name: "z"}},
	}
	if len(result.Items) != len(want) {
		t.Fatalf("Expected %d items, got %d", len(want), len(result.Items))
	}
	for i := range want {
		if result.Items[i] != want[i] {
			t.Errorf("Item %d: expected %+v, got %+v", i, want[i], result.Items[i])
		}
	}
}

func TestAggregateBoundedByFetchTimeout(t *testing.T) {
	agent := newClusterAgent(t, map[string]http.HandlerFunc{
		"a": respond(`{"agents":[{"name":"a"}]}`),
		"b": hang,
		"c": respond(`{"agents":[{"name":"c"}]}`),
	})

	timeout := 200 * time.Millisecond
	agg := newTestAggregator(t, agent.srv.URL, []model.ClusterDescriptor{
		{Name: "a", Context: "a"},
		{Name: "b", Context: "b"},
		{Name: "c", Context: "c"},
	}, timeout)

	start := time.Now()
	result := Aggregate(context.Background(), agg, Query{Source: "agents", Path: "/kagenti/agents"}, ItemsKey[testAgent]("agents"))
	elapsed := time.Since(start)

	// clusters are fetched in parallel, so one slow cluster costs one timeout
	if elapsed > timeout+300*time.Millisecond {
		t.Errorf("Expected round bounded by the fetch timeout, took %v", elapsed)
	}
	if result.Succeeded != 2 || len(result.Items) != 2 {
		t.Errorf("Expected 2 successful clusters, got %+v", result)
	}
}

func TestAggregateNoTargets(t *testing.T) {
	agent := newClusterAgent(t, map[string]http.HandlerFunc{})

	tests := []struct {
		name     string
		clusters []model.ClusterDescriptor
		specific string
	}{
		{"empty registry", nil, ""},
		{"specific cluster unreachable", []model.ClusterDescriptor{
			{Name: "prod", Context: "prod", Reachable: model.Reachability(false)},
			{Name: "dev", Context: "dev"},
		}, "prod"},
		{"specific cluster unknown", []model.ClusterDescriptor{{Name: "dev", Context: "dev"}}, "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := newTestAggregator(t, agent.srv.URL, tt.clusters, time.Second)
			result := Aggregate(context.Background(), agg, Query{Source: "agents", Path: "/x", Cluster: tt.specific}, ItemsKey[testAgent]("agents"))
			if result != nil {
				t.Errorf("Expected nil result, got %+v", result)
			}
		})
	}

	if got := agent.calls.Load(); got != 0 {
		t.Errorf("Expected no network calls, got %d", got)
	}
}

func TestAggregateSkipsWhenGateUnavailable(t *testing.T) {
	agent := newClusterAgent(t, map[string]http.HandlerFunc{
		"prod": respond(`{"agents":[]}`),
	})
	agg := newTestAggregator(t, agent.srv.URL, []model.ClusterDescriptor{{Name: "prod", Context: "prod"}}, time.Second)
	agg.Gate().MarkUnavailable("test")

	if result := Aggregate(context.Background(), agg, Query{Source: "agents", Path: "/x"}, ItemsKey[testAgent]("agents")); result != nil {
		t.Errorf("Expected nil result while the gate is unavailable, got %+v", result)
	}
	if got := agent.calls.Load(); got != 0 {
		t.Errorf("Expected no network calls, got %d", got)
	}
}

func TestAggregateAllFailedTripsGateAcrossSources(t *testing.T) {
	// nothing listens on a closed server, so every fetch is a network failure
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	agg := newTestAggregator(t, dead.URL, []model.ClusterDescriptor{{Name: "prod", Context: "prod"}}, time.Second)

	result := Aggregate(context.Background(), agg, Query{Source: "agents", Path: "/a"}, ItemsKey[testAgent]("agents"))
	if result == nil || !result.Failed() || len(result.Items) != 0 {
		t.Fatalf("Expected a failed result with no items, got %+v", result)
	}
	if result.Items == nil {
		t.Error("Expected a non-nil empty item slice")
	}
	if !agg.Gate().Status().Available {
		t.Error("Expected one failing source not to trip the gate")
	}

	Aggregate(context.Background(), agg, Query{Source: "builds", Path: "/b"}, ItemsKey[testAgent]("builds"))
	if agg.Gate().Status().Available {
		t.Error("Expected a second failing source to trip the gate")
	}
}

func TestAggregateAgentErrorsDoNotTripGate(t *testing.T) {
	tests := []struct {
		name   string
		broken http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}},
		{"decode", respond(`{"error":"no such resource"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := newClusterAgent(t, map[string]http.HandlerFunc{
				"prod": func(w http.ResponseWriter, r *http.Request) {
					if r.URL.Path == "/builds" {
						respond(`{"builds":[{"name":"b1"}]}`)(w, r)
						return
					}
					tt.broken(w, r)
				},
			})
			agg := newTestAggregator(t, agent.srv.URL, []model.ClusterDescriptor{{Name: "prod", Context: "prod"}}, time.Second)

			for _, source := range []string{"agents", "tools"} {
				result := Aggregate(context.Background(), agg, Query{Source: source, Path: "/" + source}, ItemsKey[testAgent](source))
				if result == nil || !result.Failed() {
					t.Fatalf("Expected %s to fail, got %+v", source, result)
				}
			}
			if status := agg.Gate().Status(); !status.Available {
				t.Fatalf("Expected the gate to stay available, got %+v", status)
			}

			result := Aggregate(context.Background(), agg, Query{Source: "builds", Path: "/builds"}, ItemsKey[testAgent]("builds"))
			if result == nil || result.Succeeded != 1 || len(result.Items) != 1 {
				t.Errorf("Expected live builds, got %+v", result)
			}
			if got := agent.calls.Load(); got != 3 {
				t.Errorf("Expected 3 network calls, got %d", got)
			}
		})
	}
}

func TestAggregateTargetsSpecificCluster(t *testing.T) {
	agent := newClusterAgent(t, map[string]http.HandlerFunc{
		"ctx-prod": respond(`{"agents":[{"name":"p"}]}`),
		"ctx-dev":  respond(`{"agents":[{"name":"d"}]}`),
	})
	agg := newTestAggregator(t, agent.srv.URL, []model.ClusterDescriptor{
		{Name: "prod", Context: "ctx-prod"},
		{Name: "dev", Context: "ctx-dev"},
	}, time.Second)

	result := Aggregate(context.Background(), agg, Query{Source: "agents", Path: "/x", Cluster: "dev"}, ItemsKey[testAgent]("agents"))
	if result == nil || result.Attempted != 1 || len(result.Items) != 1 || result.Items[0].Cluster != "dev" {
		t.Errorf("Expected one item from dev, got %+v", result)
	}
	if got := agent.calls.Load(); got != 1 {
		t.Errorf("Expected 1 network call, got %d", got)
	}
}
