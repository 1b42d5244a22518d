package datasource

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/yourusername/fleetwatch/internal/cache"
	"github.com/yourusername/fleetwatch/internal/model"
	"github.com/yourusername/fleetwatch/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Query describes one aggregation round for one data source
type Query struct {
	Source    string // data source name, used for gate reports, metrics and logs
	Path      string
	Namespace string
	Cluster   string // restrict the round to one registry cluster by name
	Params    url.Values
}

// Aggregator fans a resource request out across every target cluster and
// merges the per-cluster outcomes
type Aggregator struct {
	registry *cache.Registry
	gate     *AvailabilityGate
	fetcher  *Fetcher
	logger   *zap.Logger
}

// NewAggregator creates an aggregator
func NewAggregator(registry *cache.Registry, gate *AvailabilityGate, fetcher *Fetcher, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		registry: registry,
		gate:     gate,
		fetcher:  fetcher,
		logger:   logger,
	}
}

// Gate returns the availability gate shared by this aggregator
func (a *Aggregator) Gate() *AvailabilityGate {
	return a.gate
}

// Registry returns the cluster registry read by this aggregator
func (a *Aggregator) Registry() *cache.Registry {
	return a.registry
}

// Aggregate runs one round. It returns nil, meaning "use fallback", when the
// agent is known to be down or there are no target clusters. Otherwise the
// result holds the tagged items of every successful cluster in registry order.
func Aggregate[T any](ctx context.Context, a *Aggregator, q Query, decode Decoder[T]) *model.Result[T] {
	if a.gate != nil && a.gate.IsUnavailable() {
		observability.AggregationRounds.WithLabelValues(q.Source, "skipped").Inc()
		a.logger.Debug("Skipping aggregation, agent unavailable", zap.String("source", q.Source))
		return nil
	}

	targets := a.registry.Targets(q.Cluster)
	if len(targets) == 0 {
		observability.AggregationRounds.WithLabelValues(q.Source, "skipped").Inc()
		a.logger.Debug("Skipping aggregation, no target clusters",
			zap.String("source", q.Source),
			zap.String("cluster", q.Cluster),
		)
		return nil
	}

	startTime := time.Now()
	ctx, endSpan := observability.StartSpan(ctx, "aggregate",
		attribute.String("source", q.Source),
		attribute.String("path", q.Path),
		attribute.Int("targets", len(targets)),
	)

	// One slot per target keeps the merge in registry order regardless of
	// which cluster answers first.
	outcomes := make([]model.Outcome[T], len(targets))
	var g errgroup.Group
	for i, target := range targets {
		g.Go(func() error {
			outcomes[i] = fetchCluster(ctx, a, q, target, decode)
			return nil
		})
	}
	_ = g.Wait()

	result := &model.Result[T]{
		Items:     []model.Item[T]{},
		Attempted: len(targets),
	}
	var reasons []string
	agentAnswered := false
	for i, outcome := range outcomes {
		if !outcome.OK {
			if outcome.Err != nil {
				reasons = append(reasons, targets[i].Name+": "+string(outcome.Err.Kind))
				agentAnswered = agentAnswered || outcome.Err.AgentAnswered()
			}
			continue
		}
		result.Succeeded++
		for _, item := range outcome.Items {
			result.Items = append(result.Items, model.Item[T]{Cluster: targets[i].Name, Value: item})
		}
	}

	// A status or decode failure means the agent answered. Only rounds that
	// never reached it count toward tripping the gate.
	if a.gate != nil {
		if result.Succeeded > 0 || agentAnswered {
			a.gate.ReportSuccess()
		} else {
			a.gate.ReportError(q.Source, strings.Join(reasons, "; "))
		}
	}

	label := "ok"
	switch {
	case result.Succeeded == 0:
		label = "failed"
	case result.Partial():
		label = "partial"
	}
	observability.AggregationRounds.WithLabelValues(q.Source, label).Inc()
	observability.AggregationDuration.WithLabelValues(q.Source).Observe(time.Since(startTime).Seconds())
	endSpan(nil)

	a.logger.Debug("Aggregation round completed",
		zap.String("source", q.Source),
		zap.Int("attempted", result.Attempted),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("items", len(result.Items)),
		zap.Duration("elapsed", time.Since(startTime)),
	)

	return result
}

// fetchCluster runs one per-cluster fetch inside its own span
func fetchCluster[T any](ctx context.Context, a *Aggregator, q Query, target model.ClusterDescriptor, decode Decoder[T]) model.Outcome[T] {
	ctx, endSpan := observability.StartSpan(ctx, "fetch",
		attribute.String("source", q.Source),
		attribute.String("cluster", target.Name),
	)

	outcome := Fetch(ctx, a.fetcher, Request{
		Path:      q.Path,
		Cluster:   target.Context,
		Namespace: q.Namespace,
		Params:    q.Params,
	}, decode)

	label := "ok"
	var err error
	if !outcome.OK {
		label = string(outcome.Err.Kind)
		err = outcome.Err
		a.logger.Debug("Cluster fetch failed",
			zap.String("source", q.Source),
			zap.String("cluster", target.Name),
			zap.Error(outcome.Err),
		)
	}
	observability.ClusterFetches.WithLabelValues(q.Source, target.Name, label).Inc()
	endSpan(err)

	return outcome
}
