// Package discovery produces the cluster list held by the registry.
package discovery

import (
	"context"

	"github.com/yourusername/fleetwatch/internal/cache"
	"github.com/yourusername/fleetwatch/internal/model"
	"github.com/yourusername/fleetwatch/internal/observability"
	"go.uber.org/zap"
)

// Discoverer lists the clusters currently known to exist
type Discoverer interface {
	Discover(ctx context.Context) ([]model.ClusterDescriptor, error)
}

// Refresher feeds a registry from a discoverer. Its Refresh method is shaped
// as a scheduler tick.
type Refresher struct {
	discoverer Discoverer
	registry   *cache.Registry
	logger     *zap.Logger
}

// NewRefresher creates a refresher
func NewRefresher(discoverer Discoverer, registry *cache.Registry, logger *zap.Logger) *Refresher {
	return &Refresher{
		discoverer: discoverer,
		registry:   registry,
		logger:     logger,
	}
}

// Refresh runs discovery once and replaces the registry contents. On error
// the previous list is kept.
func (r *Refresher) Refresh(ctx context.Context) error {
	clusters, err := r.discoverer.Discover(ctx)
	if err != nil {
		r.logger.Warn("Cluster discovery failed, keeping previous list",
			zap.Int("clusters", r.registry.Len()),
			zap.Error(err),
		)
		return err
	}

	r.registry.Replace(clusters)

	reachable := 0
	for _, c := range r.registry.All() {
		if c.IsReachable() {
			reachable++
		}
	}
	observability.RegistryClusters.WithLabelValues("true").Set(float64(reachable))
	observability.RegistryClusters.WithLabelValues("false").Set(float64(r.registry.Len() - reachable))

	r.logger.Info("Cluster registry refreshed",
		zap.Int("clusters", r.registry.Len()),
		zap.Int("reachable", reachable),
	)
	return nil
}

// Tick adapts Refresh to the scheduler's tick signature
func (r *Refresher) Tick(ctx context.Context) {
	_ = r.Refresh(ctx)
}
