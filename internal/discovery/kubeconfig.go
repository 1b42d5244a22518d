package discovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/yourusername/fleetwatch/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	k8sdiscovery "k8s.io/client-go/discovery"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

const (
	// DefaultProbeTimeout bounds one API server version probe
	DefaultProbeTimeout = 5 * time.Second
	// DefaultMaxConcurrent bounds simultaneous probes
	DefaultMaxConcurrent = 8

	inClusterName = "in-cluster"
)

// KubeconfigOptions configures kubeconfig discovery
type KubeconfigOptions struct {
	// Path is an explicit kubeconfig file; empty uses $KUBECONFIG or ~/.kube/config
	Path string
	// Contexts limits discovery to these context names, in this order
	Contexts      []string
	Timeout       time.Duration
	MaxConcurrent int
}

// Kubeconfig discovers one cluster per kubeconfig context and probes each
// API server for reachability
type Kubeconfig struct {
	opts   KubeconfigOptions
	logger *zap.Logger

	// probe returns the server git version; replaced in tests
	probe func(ctx context.Context, cfg *rest.Config) (string, error)
}

// NewKubeconfig creates a kubeconfig discoverer
func NewKubeconfig(opts KubeconfigOptions, logger *zap.Logger) *Kubeconfig {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProbeTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Kubeconfig{
		opts:   opts,
		logger: logger,
		probe:  serverVersion,
	}
}

// Discover loads the kubeconfig and probes every selected context
func (k *Kubeconfig) Discover(ctx context.Context) ([]model.ClusterDescriptor, error) {
	raw, err := k.loadRaw()
	if err != nil {
		return nil, err
	}

	names, err := k.selectContexts(raw)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		// No kubeconfig contexts: try in-cluster config
		cfg, err := rest.InClusterConfig()
		if err != nil {
			k.logger.Debug("No kubeconfig contexts and not running in a cluster")
			return []model.ClusterDescriptor{}, nil
		}
		return []model.ClusterDescriptor{k.describe(ctx, inClusterName, "", cfg)}, nil
	}

	clusters := make([]model.ClusterDescriptor, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k.opts.MaxConcurrent)
	for i, name := range names {
		g.Go(func() error {
			cfg, err := clientcmd.NewNonInteractiveClientConfig(*raw, name, &clientcmd.ConfigOverrides{}, nil).ClientConfig()
			if err != nil {
				k.logger.Warn("Skipping context with invalid client config",
					zap.String("context", name),
					zap.Error(err),
				)
				clusters[i] = model.ClusterDescriptor{Name: name, Context: name, Reachable: model.Reachability(false)}
				return nil
			}
			clusters[i] = k.describe(gctx, name, name, cfg)
			return nil
		})
	}
	_ = g.Wait()

	return clusters, nil
}

// RESTConfig returns the client config for one discovered cluster. The
// in-cluster name resolves to the pod's service account config.
func (k *Kubeconfig) RESTConfig(contextName string) (*rest.Config, error) {
	if contextName == "" || contextName == inClusterName {
		return rest.InClusterConfig()
	}

	raw, err := k.loadRaw()
	if err != nil {
		return nil, err
	}
	if _, ok := raw.Contexts[contextName]; !ok {
		return nil, fmt.Errorf("context %q not found in kubeconfig", contextName)
	}

	cfg, err := clientcmd.NewNonInteractiveClientConfig(*raw, contextName, &clientcmd.ConfigOverrides{}, nil).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build client config for %s: %w", contextName, err)
	}
	cfg = rest.CopyConfig(cfg)
	cfg.Timeout = k.opts.Timeout
	return cfg, nil
}

func (k *Kubeconfig) loadRaw() (*clientcmdapi.Config, error) {
	var loadingRules *clientcmd.ClientConfigLoadingRules
	if k.opts.Path == "" {
		loadingRules = clientcmd.NewDefaultClientConfigLoadingRules()
	} else {
		loadingRules = &clientcmd.ClientConfigLoadingRules{ExplicitPath: k.opts.Path}
	}

	raw, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		loadingRules,
		&clientcmd.ConfigOverrides{},
	).RawConfig()
	if err != nil {
		if k.opts.Path != "" {
			return nil, fmt.Errorf("failed to load kubeconfig from %s: %w", k.opts.Path, err)
		}
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return &raw, nil
}

func (k *Kubeconfig) selectContexts(raw *clientcmdapi.Config) ([]string, error) {
	if len(k.opts.Contexts) == 0 {
		names := make([]string, 0, len(raw.Contexts))
		for name := range raw.Contexts {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	}

	names := make([]string, 0, len(k.opts.Contexts))
	for _, name := range k.opts.Contexts {
		if _, ok := raw.Contexts[name]; !ok {
			return nil, fmt.Errorf("context %q not found in kubeconfig", name)
		}
		names = append(names, name)
	}
	return names, nil
}

func (k *Kubeconfig) describe(ctx context.Context, name, contextName string, cfg *rest.Config) model.ClusterDescriptor {
	probeCtx, cancel := context.WithTimeout(ctx, k.opts.Timeout)
	defer cancel()

	cfg = rest.CopyConfig(cfg)
	cfg.Timeout = k.opts.Timeout

	version, err := k.probe(probeCtx, cfg)
	if err != nil {
		k.logger.Info("Cluster unreachable",
			zap.String("cluster", name),
			zap.String("server", cfg.Host),
			zap.Error(err),
		)
	}

	return model.ClusterDescriptor{
		Name:      name,
		Context:   contextName,
		Server:    cfg.Host,
		Version:   version,
		Reachable: model.Reachability(err == nil),
	}
}

// serverVersion asks the API server for its version. The discovery client has
// no context parameter, so the probe runs on its own goroutine and ctx only
// bounds how long we wait; cfg.Timeout bounds the request itself.
func serverVersion(ctx context.Context, cfg *rest.Config) (string, error) {
	client, err := k8sdiscovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to create discovery client: %w", err)
	}

	type reply struct {
		version string
		err     error
	}
	ch := make(chan reply, 1)
	go func() {
		info, err := client.ServerVersion()
		if err != nil {
			ch <- reply{err: err}
			return
		}
		ch <- reply{version: info.GitVersion}
	}()

	select {
	case r := <-ch:
		return r.version, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
