package app

import (
	"context"
	"sync"
	"time"

	"github.com/yourusername/fleetwatch/internal/diagnostic"
	"github.com/yourusername/fleetwatch/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// restConfigSource is implemented by discoverers that can hand out client
// configs for the clusters they found
type restConfigSource interface {
	RESTConfig(contextName string) (*rest.Config, error)
}

// Diagnose checks the agent, the clusters and every source. With refresh it
// first re-runs discovery, refetches each source and reviews RBAC access on
// every reachable cluster.
func (a *App) Diagnose(ctx context.Context, refresh bool) *diagnostic.Report {
	var findings []diagnostic.Finding

	healthCtx, cancel := context.WithTimeout(ctx, agentHealthTimeout)
	health, healthErr := a.agent.Health(healthCtx)
	cancel()
	if healthErr == nil && !a.gate.Status().Available {
		// a healthy probe is all the gate needs to recover
		a.gate.ReportSuccess()
	}
	findings = append(findings, diagnostic.CheckAgent(a.agent.URL(), a.gate.Status(), health, healthErr)...)

	clusters := a.registry.All()
	if refresh {
		fresh, err := a.DiscoverClusters(ctx)
		findings = append(findings, diagnostic.CheckDiscovery(err)...)
		if err == nil {
			clusters = fresh
		}

		for _, r := range a.runners {
			if err := r.Refetch(ctx); err != nil {
				a.logger.Warn("Refetch during diagnostics failed", zap.String("source", r.Name()), zap.Error(err))
			}
		}
		findings = append(findings, a.checkAccess(ctx, clusters)...)
	}
	findings = append(findings, diagnostic.CheckClusters(clusters)...)

	states := make([]model.SourceState, 0, len(a.runners))
	for _, r := range a.runners {
		states = append(states, r.State())
	}
	findings = append(findings, diagnostic.CheckSources(states)...)

	report := diagnostic.NewReport(findings, time.Now())
	a.logger.Info("Diagnostics complete",
		zap.Int("critical", report.Count(diagnostic.SeverityCritical)),
		zap.Int("warning", report.Count(diagnostic.SeverityWarning)),
	)
	return report
}

// checkAccess runs the default access reviews against every reachable cluster
func (a *App) checkAccess(ctx context.Context, clusters []model.ClusterDescriptor) []diagnostic.Finding {
	src, ok := a.discoverer.(restConfigSource)
	if !ok {
		return nil
	}

	var (
		mu       sync.Mutex
		findings []diagnostic.Finding
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.DiscoveryMaxConcurrent)
	for _, c := range clusters {
		if !c.IsReachable() {
			continue
		}
		g.Go(func() error {
			cfg, err := src.RESTConfig(c.Context)
			if err != nil {
				a.logger.Debug("No client config for access review", zap.String("cluster", c.Name), zap.Error(err))
				return nil
			}
			clientset, err := kubernetes.NewForConfig(cfg)
			if err != nil {
				a.logger.Debug("Failed to create clientset", zap.String("cluster", c.Name), zap.Error(err))
				return nil
			}

			kubeContext := c.Context
			if kubeContext == "" {
				kubeContext = c.Name
			}
			for _, check := range diagnostic.DefaultAccessChecks {
				status, err := diagnostic.CheckAccess(gctx, clientset.AuthorizationV1(), kubeContext, check)
				if err != nil {
					a.logger.Debug("Access review failed",
						zap.String("cluster", c.Name),
						zap.String("check", check.String()),
						zap.Error(err),
					)
					continue
				}
				if f := status.Finding(); f != nil {
					mu.Lock()
					findings = append(findings, *f)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return findings
}
