package demo

import (
	"reflect"
	"testing"
)

func TestResourcesDeterministic(t *testing.T) {
	for _, source := range []string{"pods", "deployments", "nodes", "services", "events", "agents", "builds", "tools", "widgets"} {
		t.Run(source, func(t *testing.T) {
			first := Resources(source)
			second := Resources(source)
			if len(first) == 0 {
				t.Fatal("Expected demo items")
			}
			if !reflect.DeepEqual(first, second) {
				t.Error("Expected identical datasets for the same source")
			}
			for i, item := range first {
				if item.Cluster == "" {
					t.Errorf("Item %d has no cluster tag", i)
				}
			}
		})
	}
}

func TestResourcesDifferBySource(t *testing.T) {
	if reflect.DeepEqual(Resources("alpha"), Resources("beta")) {
		t.Error("Expected different sources to produce different data")
	}
}

func TestPodsAreKubernetesShaped(t *testing.T) {
	items := Resources("pods")
	pod := items[0].Value

	if pod["kind"] != "Pod" || pod["apiVersion"] != "v1" {
		t.Errorf("Expected a v1 Pod, got kind=%v apiVersion=%v", pod["kind"], pod["apiVersion"])
	}
	meta, ok := pod["metadata"].(map[string]any)
	if !ok || meta["name"] == "" || meta["namespace"] == "" {
		t.Errorf("Expected metadata with name and namespace, got %v", pod["metadata"])
	}
	status, ok := pod["status"].(map[string]any)
	if !ok || status["phase"] == nil {
		t.Errorf("Expected status.phase, got %v", pod["status"])
	}
}

func TestResourcesSpreadAcrossClusters(t *testing.T) {
	seen := make(map[string]bool)
	for _, item := range Resources("pods") {
		seen[item.Cluster] = true
	}
	if len(seen) != len(Clusters) {
		t.Errorf("Expected items on all %d demo clusters, got %v", len(Clusters), seen)
	}
}

func TestSamples(t *testing.T) {
	samples := Samples("metrics")
	if len(samples) != len(Clusters)*len(namespaces) {
		t.Fatalf("Expected one sample per cluster and namespace, got %d", len(samples))
	}
	if !reflect.DeepEqual(samples, Samples("metrics")) {
		t.Error("Expected deterministic samples")
	}
	for _, s := range samples {
		if s.Value.Metric["namespace"] == "" || s.Value.Timestamp.IsZero() {
			t.Errorf("Unexpected sample %+v", s)
		}
		if s.Value.Value < 0 || s.Value.Value >= 4 {
			t.Errorf("Sample value %v out of range", s.Value.Value)
		}
	}
}
