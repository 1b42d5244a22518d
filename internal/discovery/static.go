package discovery

import (
	"context"
	"strings"

	"github.com/yourusername/fleetwatch/internal/model"
)

// Static is a discoverer over a fixed cluster list
type Static struct {
	clusters []model.ClusterDescriptor
}

// NewStatic builds a static discoverer from "name=context" entries. An entry
// without "=" uses the same value for both. Blank entries are ignored.
func NewStatic(entries ...string) *Static {
	clusters := make([]model.ClusterDescriptor, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		name, ctxName, found := strings.Cut(e, "=")
		name = strings.TrimSpace(name)
		ctxName = strings.TrimSpace(ctxName)
		if !found || ctxName == "" {
			ctxName = name
		}
		if name == "" {
			continue
		}
		clusters = append(clusters, model.ClusterDescriptor{Name: name, Context: ctxName})
	}
	return &Static{clusters: clusters}
}

// Discover returns a copy of the fixed list. Reachability is left unknown.
func (s *Static) Discover(context.Context) ([]model.ClusterDescriptor, error) {
	out := make([]model.ClusterDescriptor, len(s.clusters))
	for i, c := range s.clusters {
		out[i] = c.Clone()
	}
	return out, nil
}

// Parse splits a comma-separated list
func Parse(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
