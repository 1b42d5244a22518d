package cache

import (
	"sync"
	"time"

	"github.com/yourusername/fleetwatch/internal/model"
	"go.uber.org/zap"
)

// Registry holds the last-known cluster list shared by every fetcher.
// It is written wholesale by discovery and read by aggregation rounds.
type Registry struct {
	clusters  []model.ClusterDescriptor
	updatedAt time.Time
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRegistry creates an empty cluster registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger,
	}
}

// Targets returns the reachable clusters. When specificCluster is set it
// returns at most that cluster, and nothing if it is unknown or unreachable.
func (r *Registry) Targets(specificCluster string) []model.ClusterDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]model.ClusterDescriptor, 0, len(r.clusters))
	for _, c := range r.clusters {
		if specificCluster != "" && c.Name != specificCluster {
			continue
		}
		if !c.IsReachable() {
			continue
		}
		targets = append(targets, c.Clone())
		if specificCluster != "" {
			break
		}
	}

	return targets
}

// Replace swaps in a fresh cluster list. Duplicate names keep the first entry.
func (r *Registry) Replace(clusters []model.ClusterDescriptor) {
	seen := make(map[string]struct{}, len(clusters))
	next := make([]model.ClusterDescriptor, 0, len(clusters))
	for _, c := range clusters {
		if c.Name == "" {
			continue
		}
		if _, dup := seen[c.Name]; dup {
			r.logger.Debug("Dropping duplicate cluster descriptor", zap.String("cluster", c.Name))
			continue
		}
		seen[c.Name] = struct{}{}
		next = append(next, c.Clone())
	}

	r.mu.Lock()
	r.clusters = next
	r.updatedAt = time.Now()
	r.mu.Unlock()

	r.logger.Debug("Cluster registry updated",
		zap.Int("clusters", len(next)),
		zap.Int("reachable", countReachable(next)),
	)
}

// All returns every known cluster, reachable or not
func (r *Registry) All() []model.ClusterDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ClusterDescriptor, len(r.clusters))
	for i, c := range r.clusters {
		out[i] = c.Clone()
	}
	return out
}

// Len returns the number of known clusters
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clusters)
}

// UpdatedAt returns when the list was last replaced
func (r *Registry) UpdatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updatedAt
}

func countReachable(clusters []model.ClusterDescriptor) int {
	n := 0
	for _, c := range clusters {
		if c.IsReachable() {
			n++
		}
	}
	return n
}
