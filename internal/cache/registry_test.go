package cache

import (
	"testing"

	"github.com/yourusername/fleetwatch/internal/model"
	"go.uber.org/zap"
)

func testClusters() []model.ClusterDescriptor {
	return []model.ClusterDescriptor{
		{Name: "prod", Context: "ctx-prod", Reachable: model.Reachability(true)},
		{Name: "dev", Context: "ctx-dev"},
		{Name: "stale", Context: "ctx-stale", Reachable: model.Reachability(false)},
	}
}

func TestRegistryTargets(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Replace(testClusters())

	tests := []struct {
		name     string
		specific string
		want     []string
	}{
		{"all reachable in order", "", []string{"prod", "dev"}},
		{"specific reachable", "dev", []string{"dev"}},
		{"specific unreachable", "stale", nil},
		{"specific unknown", "nope", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Targets(tt.specific)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d targets, got %d: %+v", len(tt.want), len(got), got)
			}
			for i := range tt.want {
				if got[i].Name != tt.want[i] {
					t.Errorf("Target %d: expected %q, got %q", i, tt.want[i], got[i].Name)
				}
			}
		})
	}
}

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	if got := r.Targets(""); len(got) != 0 {
		t.Errorf("Expected no targets from empty registry, got %d", len(got))
	}
	if !r.UpdatedAt().IsZero() {
		t.Error("Expected zero UpdatedAt before first Replace")
	}
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	clusters := testClusters()
	clusters = append(clusters,
		model.ClusterDescriptor{Name: "prod", Context: "duplicate"},
		model.ClusterDescriptor{Name: "", Context: "nameless"},
	)
	r.Replace(clusters)

	if r.Len() != 3 {
		t.Fatalf("Expected 3 clusters after dedup, got %d", r.Len())
	}
	if got := r.All()[0].Context; got != "ctx-prod" {
		t.Errorf("Expected first duplicate to win, got context %q", got)
	}
	if r.UpdatedAt().IsZero() {
		t.Error("Expected UpdatedAt to be set")
	}

	// callers cannot mutate the registry through returned copies
	*clusters[0].Reachable = false
	if !r.All()[0].IsReachable() {
		t.Error("Registry shares Reachable pointer with input")
	}
	all := r.All()
	*all[0].Reachable = false
	if !r.All()[0].IsReachable() {
		t.Error("All() shares Reachable pointer with registry")
	}
}

func TestRegistryReplaceIsWholesale(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Replace(testClusters())
	r.Replace([]model.ClusterDescriptor{{Name: "only", Context: "only"}})

	got := r.Targets("")
	if len(got) != 1 || got[0].Name != "only" {
		t.Errorf("Expected only the new list, got %+v", got)
	}
}
