package datasource

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourusername/fleetwatch/internal/observability"
	"go.uber.org/zap"
)

const (
	// DefaultGateCooldown is how long the gate waits before re-probing the agent
	DefaultGateCooldown = 30 * time.Second
	// DefaultTripSources is how many distinct sources must fail before the gate trips
	DefaultTripSources = 2
	defaultProbeTimeout = 5 * time.Second
)

// HealthProber checks whether the agent is reachable
type HealthProber interface {
	Health(ctx context.Context) (*AgentHealth, error)
}

// GateOptions configures an AvailabilityGate
type GateOptions struct {
	Cooldown     time.Duration
	TripSources  int
	ProbeTimeout time.Duration
	// OnChange is called with the new availability on every transition and
	// once on creation. It runs under the gate's lock and must not call back
	// into the gate.
	OnChange func(available bool)
}

// GateStatus is a point-in-time view of the gate
type GateStatus struct {
	Available      bool      `json:"available"`
	Reason         string    `json:"reason,omitempty"`
	Since          time.Time `json:"since"`
	FailingSources []string  `json:"failingSources,omitempty"`
}

// AvailabilityGate records whether the local proxy agent is reachable at all.
// While it is tripped every fetch is skipped without network I/O.
type AvailabilityGate struct {
	prober HealthProber
	opts   GateOptions
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	unavailable bool
	reason      string
	since       time.Time
	lastProbe   time.Time
	failing     map[string]string
	probing     atomic.Bool
}

// NewAvailabilityGate creates a gate in the AVAILABLE state. prober may be
// nil, in which case only ReportSuccess can clear a tripped gate.
func NewAvailabilityGate(prober HealthProber, opts GateOptions, logger *zap.Logger) *AvailabilityGate {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultGateCooldown
	}
	if opts.TripSources <= 0 {
		opts.TripSources = DefaultTripSources
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}

	if opts.OnChange != nil {
		opts.OnChange(true)
	}

	return &AvailabilityGate{
		prober:  prober,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		since:   time.Now(),
		failing: make(map[string]string),
	}
}

// IsUnavailable reports whether fetchers should skip network I/O. Once the
// cooldown has elapsed it starts one background recovery probe.
func (g *AvailabilityGate) IsUnavailable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.unavailable {
		return false
	}

	if g.prober != nil && g.now().Sub(g.lastProbe) >= g.opts.Cooldown && g.probing.CompareAndSwap(false, true) {
		g.lastProbe = g.now()
		go func() {
			defer g.probing.Store(false)
			ctx, cancel := context.WithTimeout(context.Background(), g.opts.ProbeTimeout)
			defer cancel()
			g.Probe(ctx)
		}()
	}

	return true
}

// ReportSuccess records a successful agent interaction and clears a tripped gate
func (g *AvailabilityGate) ReportSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.failing) > 0 {
		g.failing = make(map[string]string)
	}
	if !g.unavailable {
		return
	}

	g.logger.Info("Agent available again",
		zap.Duration("unavailable_for", g.now().Sub(g.since)),
	)
	g.unavailable = false
	g.reason = ""
	g.since = g.now()
	g.notifyLocked()
}

// ReportError records that source saw no successful cluster in its last round.
// A single report never trips the gate; it trips once TripSources distinct
// sources have failed with no success in between.
func (g *AvailabilityGate) ReportError(source, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unavailable {
		return
	}

	g.failing[source] = reason
	g.logger.Debug("Agent data error reported",
		zap.String("source", source),
		zap.String("reason", reason),
		zap.Int("failing_sources", len(g.failing)),
	)

	if len(g.failing) >= g.opts.TripSources {
		g.tripLocked("no data from " + joinSorted(g.failing))
	}
}

// MarkUnavailable trips the gate immediately
func (g *AvailabilityGate) MarkUnavailable(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unavailable {
		return
	}
	g.tripLocked(reason)
}

func (g *AvailabilityGate) tripLocked(reason string) {
	g.unavailable = true
	g.reason = reason
	g.since = g.now()
	g.lastProbe = g.now()
	g.notifyLocked()

	g.logger.Warn("Agent marked unavailable, skipping fetches until a probe succeeds",
		zap.String("reason", reason),
		zap.Duration("cooldown", g.opts.Cooldown),
	)
}

func (g *AvailabilityGate) notifyLocked() {
	if g.opts.OnChange != nil {
		g.opts.OnChange(!g.unavailable)
	}
}

// Probe checks the agent health endpoint and updates the gate. It returns
// true when the agent answered.
func (g *AvailabilityGate) Probe(ctx context.Context) bool {
	if g.prober == nil {
		return false
	}

	health, err := g.prober.Health(ctx)
	if err != nil {
		observability.AgentProbes.WithLabelValues("failed").Inc()
		g.logger.Debug("Agent probe failed", zap.Error(err))
		g.mu.Lock()
		g.lastProbe = g.now()
		g.mu.Unlock()
		return false
	}

	observability.AgentProbes.WithLabelValues("ok").Inc()
	g.logger.Debug("Agent probe succeeded",
		zap.String("status", health.Status),
		zap.String("version", health.Version),
	)
	g.ReportSuccess()
	return true
}

// Status returns the current gate state
func (g *AvailabilityGate) Status() GateStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	status := GateStatus{
		Available: !g.unavailable,
		Reason:    g.reason,
		Since:     g.since,
	}
	for source := range g.failing {
		status.FailingSources = append(status.FailingSources, source)
	}
	sort.Strings(status.FailingSources)
	return status
}

func joinSorted(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
