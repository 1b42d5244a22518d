package datasource

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"github.com/yourusername/fleetwatch/internal/demo"
	"github.com/yourusername/fleetwatch/internal/model"
)

// DefaultMetricsQuery is the PromQL query behind the metrics source
const DefaultMetricsQuery = `sum by (namespace) (rate(container_cpu_usage_seconds_total[5m]))`

// definition describes one named source in the catalog
type definition struct {
	description string
	newRunner   func(deps FeedDeps) Runner
	fetchOnce   func(ctx context.Context, agg *Aggregator, namespace, cluster string) (any, bool)
}

var catalog = map[string]definition{
	"agents":      resourceDefinition("agents", "/kagenti/agents", "agents", "AI agent deployments"),
	"builds":      resourceDefinition("builds", "/kagenti/builds", "builds", "Agent image builds"),
	"tools":       resourceDefinition("tools", "/kagenti/tools", "tools", "MCP tool servers"),
	"pods":        resourceDefinition("pods", "/pods", "pods", "Pods"),
	"deployments": resourceDefinition("deployments", "/deployments", "deployments", "Deployments"),
	"nodes":       resourceDefinition("nodes", "/nodes", "nodes", "Nodes"),
	"services":    resourceDefinition("services", "/services", "services", "Services"),
	"events":      resourceDefinition("events", "/events", "events", "Recent events"),
	"metrics":     metricsDefinition("metrics", DefaultMetricsQuery, "CPU usage by namespace"),
}

// ResourceSource is the source config for a list endpoint shaped {"<key>": [...]}
func ResourceSource(name, path, key string) Source[model.Resource] {
	return Source[model.Resource]{
		Name:     name,
		Path:     path,
		Decode:   ItemsKey[model.Resource](key),
		Fallback: demo.Resources,
	}
}

// MetricsSource is the source config for a Prometheus instant query
func MetricsSource(name, query string) Source[model.MetricSample] {
	return Source[model.MetricSample]{
		Name:     name,
		Path:     "/prometheus/query",
		Params:   url.Values{"query": []string{query}},
		Decode:   PrometheusVector(),
		Fallback: demo.Samples,
	}
}

func resourceDefinition(name, path, key, description string) definition {
	return definition{
		description: description,
		newRunner: func(deps FeedDeps) Runner {
			return NewFeed(ResourceSource(name, path, key), deps)
		},
		fetchOnce: func(ctx context.Context, agg *Aggregator, namespace, cluster string) (any, bool) {
			src := ResourceSource(name, path, key)
			result := Aggregate(ctx, agg, Query{Source: name, Path: path, Namespace: namespace, Cluster: cluster}, src.Decode)
			return result, result != nil
		},
	}
}

func metricsDefinition(name, query, description string) definition {
	return definition{
		description: description,
		newRunner: func(deps FeedDeps) Runner {
			return NewFeed(MetricsSource(name, query), deps)
		},
		fetchOnce: func(ctx context.Context, agg *Aggregator, namespace, cluster string) (any, bool) {
			src := MetricsSource(name, query)
			result := Aggregate(ctx, agg, Query{Source: name, Path: src.Path, Namespace: namespace, Cluster: cluster, Params: src.Params}, src.Decode)
			return result, result != nil
		},
	}
}

// SourceNames returns every source the catalog knows, sorted
func SourceNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the one-line description of a source
func Describe(name string) string {
	return catalog[name].description
}

// NewRunners builds one feed per name, in the order given
func NewRunners(names []string, deps FeedDeps) ([]Runner, error) {
	runners := make([]Runner, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		def, ok := catalog[name]
		if !ok {
			return nil, fmt.Errorf("unknown source %q (known: %v)", name, SourceNames())
		}
		seen[name] = true
		runners = append(runners, def.newRunner(deps))
	}
	return runners, nil
}

// FetchOnce runs a single aggregation round for a named source without a
// feed. When live is true the value is a *model.Result of the source's item
// type; otherwise live data was unavailable and the value is nil.
func FetchOnce(ctx context.Context, agg *Aggregator, name, namespace, cluster string) (value any, live bool, err error) {
	def, ok := catalog[name]
	if !ok {
		return nil, false, fmt.Errorf("unknown source %q (known: %v)", name, SourceNames())
	}
	value, live = def.fetchOnce(ctx, agg, namespace, cluster)
	if !live {
		return nil, false, nil
	}
	return value, true, nil
}

// Fallback returns the demo dataset of a named source
func Fallback(name string) any {
	if name == "metrics" {
		return demo.Samples(name)
	}
	return demo.Resources(name)
}
