package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// AggregationRounds counts aggregation rounds per source and result
	AggregationRounds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Subsystem: "aggregation",
		Name:      "rounds_total",
		Help:      "Aggregation rounds by source and result (ok, partial, failed, skipped)",
	}, []string{"source", "result"})

	// AggregationDuration observes the wall time of each aggregation round
	AggregationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fleetwatch",
		Subsystem: "aggregation",
		Name:      "round_duration_seconds",
		Help:      "Wall time of one aggregation round",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})

	// ClusterFetches counts per-cluster fetches by outcome kind
	ClusterFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Subsystem: "fetch",
		Name:      "requests_total",
		Help:      "Per-cluster fetches by outcome kind (ok, timeout, network, status, decode, unavailable)",
	}, []string{"source", "cluster", "outcome"})

	// ConsecutiveFailures tracks failed rounds in a row per source
	ConsecutiveFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fleetwatch",
		Subsystem: "source",
		Name:      "consecutive_failures",
		Help:      "Consecutive failed aggregation rounds per source",
	}, []string{"source"})

	// SourceDegraded is 1 while a source is showing fallback data
	SourceDegraded = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fleetwatch",
		Subsystem: "source",
		Name:      "degraded",
		Help:      "1 if the source is showing fallback data, else 0",
	}, []string{"source"})

	// AgentAvailable mirrors the availability gate of the running app
	AgentAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetwatch",
		Subsystem: "agent",
		Name:      "available",
		Help:      "1 if the local proxy agent is considered reachable, else 0",
	})

	// AgentProbes counts agent recovery probes by result
	AgentProbes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Subsystem: "agent",
		Name:      "probes_total",
		Help:      "Agent recovery probes by result",
	}, []string{"result"})

	// RegistryClusters is the number of registered clusters by reachability
	RegistryClusters = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fleetwatch",
		Subsystem: "registry",
		Name:      "clusters",
		Help:      "Known clusters by reachability",
	}, []string{"reachable"})
)

// Register registers collectors into the default Prometheus registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(AggregationRounds)
		prometheus.MustRegister(AggregationDuration)
		prometheus.MustRegister(ClusterFetches)
		prometheus.MustRegister(ConsecutiveFailures)
		prometheus.MustRegister(SourceDegraded)
		prometheus.MustRegister(AgentAvailable)
		prometheus.MustRegister(AgentProbes)
		prometheus.MustRegister(RegistryClusters)
	})
}

// BoolGauge converts a flag to a gauge value
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
