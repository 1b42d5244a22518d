package model

import "time"

// ClusterDescriptor is the registry's record of one cluster
type ClusterDescriptor struct {
	Name      string `json:"name"`
	Context   string `json:"context"`
	Reachable *bool  `json:"reachable,omitempty"`
	// Server is the API server host as seen by discovery, informational only
	Server string `json:"server,omitempty"`
	// Version is the API server git version reported by the last probe
	Version string `json:"version,omitempty"`
}

// IsReachable reports whether the cluster should be targeted.
// A descriptor with unknown reachability counts as reachable.
func (c ClusterDescriptor) IsReachable() bool {
	return c.Reachable == nil || *c.Reachable
}

// Reachability returns a pointer suitable for ClusterDescriptor.Reachable
func Reachability(ok bool) *bool {
	return &ok
}

// Clone returns a copy that shares no pointers with c
func (c ClusterDescriptor) Clone() ClusterDescriptor {
	out := c
	if c.Reachable != nil {
		out.Reachable = Reachability(*c.Reachable)
	}
	return out
}

// FailureState is the consecutive-failure bookkeeping for one data source
type FailureState struct {
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
}
