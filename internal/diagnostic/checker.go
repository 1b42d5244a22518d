package diagnostic

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yourusername/fleetwatch/internal/datasource"
	"github.com/yourusername/fleetwatch/internal/model"
)

// Severity ranks a finding, higher is more urgent
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// MarshalText renders the severity by name in JSON and YAML output
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Kind identifies what a finding is about
type Kind string

const (
	KindAgentUnreachable   Kind = "AgentUnreachable"
	KindAgentGateTripped   Kind = "AgentGateTripped"
	KindDiscoveryFailed    Kind = "DiscoveryFailed"
	KindNoClusters         Kind = "NoClusters"
	KindClusterUnreachable Kind = "ClusterUnreachable"
	KindSourceDegraded     Kind = "SourceDegraded"
	KindSourceStale        Kind = "SourceStale"
	KindAccessDenied       Kind = "AccessDenied"
)

// Finding is one diagnostic result with the suggested next steps
type Finding struct {
	Kind        Kind     `json:"kind"`
	Severity    Severity `json:"severity"`
	Subject     string   `json:"subject"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Actions     []string `json:"actions,omitempty"`
}

// Report is the outcome of a full diagnostic run
type Report struct {
	Findings  []Finding `json:"findings"`
	CheckedAt time.Time `json:"checkedAt"`
}

// NewReport sorts findings by priority and stamps the report
func NewReport(findings []Finding, now time.Time) *Report {
	if findings == nil {
		findings = []Finding{}
	}
	Sort(findings)
	return &Report{Findings: findings, CheckedAt: now}
}

// Healthy reports whether no finding is critical
func (r *Report) Healthy() bool {
	return r.Count(SeverityCritical) == 0
}

// Count returns the number of findings with severity s
func (r *Report) Count(s Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == s {
			n++
		}
	}
	return n
}

// RecommendedAction returns the suggested command for a finding kind
func RecommendedAction(kind Kind, subject string) string {
	switch kind {
	case KindAgentUnreachable:
		return "curl -s " + subject + "/health # Check the local agent is running and listening"
	case KindAgentGateTripped:
		return "Restart the local agent; polling resumes automatically after the next successful probe"
	case KindDiscoveryFailed:
		return "kubectl config view --minify # Check the kubeconfig loads"
	case KindNoClusters:
		return "kubectl config get-contexts # Add a context or pass --static name=context"
	case KindClusterUnreachable:
		return "kubectl --context " + subject + " version # Check the API server is reachable and credentials are valid"
	case KindSourceDegraded:
		return "curl -X POST localhost:8686/api/sources/" + subject + "/refetch # Retry after fixing the agent or clusters"
	case KindSourceStale:
		return "fleetwatch fetch " + subject + " -o json # Inspect a single round"
	case KindAccessDenied:
		return "kubectl auth can-i " + subject + " # Grant the missing RBAC permission"
	default:
		return ""
	}
}

// Priority returns a sort score for a finding (higher = more urgent)
func Priority(f Finding) int {
	base := int(f.Severity) * 100

	switch f.Kind {
	// everything else depends on the agent
	case KindAgentUnreachable:
		return base + 50
	case KindAgentGateTripped:
		return base + 45
	case KindDiscoveryFailed, KindNoClusters:
		return base + 40
	case KindClusterUnreachable:
		return base + 30
	case KindAccessDenied:
		return base + 20
	case KindSourceDegraded:
		return base + 10
	default:
		return base
	}
}

// Sort orders findings by priority, then subject
func Sort(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		pi, pj := Priority(findings[i]), Priority(findings[j])
		if pi != pj {
			return pi > pj
		}
		return findings[i].Subject < findings[j].Subject
	})
}

func newFinding(kind Kind, severity Severity, subject, title, description string) Finding {
	f := Finding{
		Kind:        kind,
		Severity:    severity,
		Subject:     subject,
		Title:       title,
		Description: description,
	}
	if action := RecommendedAction(kind, subject); action != "" {
		f.Actions = []string{action}
	}
	return f
}

// CheckAgent inspects the agent health probe and the availability gate
func CheckAgent(agentURL string, gate datasource.GateStatus, health *datasource.AgentHealth, healthErr error) []Finding {
	var findings []Finding

	if healthErr != nil {
		findings = append(findings, newFinding(KindAgentUnreachable, SeverityCritical, agentURL,
			"Agent is not responding",
			healthErr.Error(),
		))
	} else if health != nil && health.Status != "" && !strings.EqualFold(health.Status, "ok") {
		findings = append(findings, newFinding(KindAgentUnreachable, SeverityWarning, agentURL,
			"Agent reports status "+health.Status,
			"",
		))
	}

	if !gate.Available {
		desc := gate.Reason
		if len(gate.FailingSources) > 0 {
			desc = fmt.Sprintf("%s (sources: %s)", desc, strings.Join(gate.FailingSources, ", "))
		}
		findings = append(findings, newFinding(KindAgentGateTripped, SeverityCritical, agentURL,
			"Fetches are paused, the agent was marked unavailable",
			strings.TrimSpace(desc),
		))
	}

	return findings
}

// CheckDiscovery turns a failed discovery run into a finding
func CheckDiscovery(err error) []Finding {
	if err == nil {
		return nil
	}
	return []Finding{newFinding(KindDiscoveryFailed, SeverityCritical, "discovery",
		"Cluster discovery failed",
		err.Error(),
	)}
}

// CheckClusters inspects the cluster registry
func CheckClusters(clusters []model.ClusterDescriptor) []Finding {
	if len(clusters) == 0 {
		return []Finding{newFinding(KindNoClusters, SeverityCritical, "registry",
			"No clusters discovered",
			"every source will show demo data until a cluster is found",
		)}
	}

	var findings []Finding
	reachable := 0
	for _, c := range clusters {
		if c.IsReachable() {
			reachable++
			continue
		}
		subject := c.Context
		if subject == "" {
			subject = c.Name
		}
		desc := ""
		if c.Server != "" {
			desc = "server " + c.Server
		}
		findings = append(findings, newFinding(KindClusterUnreachable, SeverityWarning, subject,
			fmt.Sprintf("Cluster %s is unreachable", c.Name),
			desc,
		))
	}

	if reachable == 0 {
		// nothing left to aggregate from
		for i := range findings {
			findings[i].Severity = SeverityCritical
		}
	}
	return findings
}

// CheckSources inspects per-source state
func CheckSources(states []model.SourceState) []Finding {
	var findings []Finding
	for _, st := range states {
		msg := ""
		if st.Error != nil {
			msg = *st.Error
		}

		switch {
		case st.IsLoading:
			continue
		case st.Mode == model.ModeDegraded:
			findings = append(findings, newFinding(KindSourceDegraded, SeverityWarning, st.Source,
				fmt.Sprintf("Source %s is showing demo data", st.Source),
				fmt.Sprintf("%s (%d consecutive failures)", msg, st.ConsecutiveFailures),
			))
		case st.Error != nil:
			findings = append(findings, newFinding(KindSourceStale, SeverityInfo, st.Source,
				fmt.Sprintf("Source %s is showing stale data", st.Source),
				msg,
			))
		case st.Attempted > st.Succeeded:
			findings = append(findings, newFinding(KindSourceStale, SeverityInfo, st.Source,
				fmt.Sprintf("Source %s is partial", st.Source),
				fmt.Sprintf("%d of %d clusters answered", st.Succeeded, st.Attempted),
			))
		}
	}
	return findings
}
