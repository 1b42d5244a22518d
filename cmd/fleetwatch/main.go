package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/yourusername/fleetwatch/internal/app"
	"github.com/yourusername/fleetwatch/internal/cache"
	"github.com/yourusername/fleetwatch/internal/datasource"
	"github.com/yourusername/fleetwatch/internal/diagnostic"
	"github.com/yourusername/fleetwatch/internal/discovery"
	"github.com/yourusername/fleetwatch/internal/model"
	"github.com/yourusername/fleetwatch/internal/ui"
	"go.uber.org/zap"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"
)

var (
	// Version will be set by build flags, default to timestamp
	Version = "dev-" + time.Now().Format("20060102-150405")
	// BuildTime will be set by build flags
	BuildTime = "unknown"

	// Global flags
	configFile string
	kubeconfig string
	contexts   []string
	static     string
	agentURL   string
	sources    []string
	verbose    bool
	tracing    bool
)

var rootCmd = &cobra.Command{
	Use:   "fleetwatch",
	Short: "Multi-cluster data aggregation for Kubernetes dashboards",
	Long: `fleetwatch discovers reachable Kubernetes clusters, fans each data
source out to every cluster through a local proxy agent, merges the results,
and degrades to deterministic demo data when live data is unavailable.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll all enabled sources and expose them over HTTP",
	RunE:  runServe,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start the interactive terminal view",
	Long:  `Poll all enabled sources and show them in a terminal view. Polling slows down while the terminal is unfocused.`,
	RunE:  runWatch,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <source>",
	Short: "Run one aggregation round for a source and print the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "Discover clusters once and print the registry",
	RunE:  runClusters,
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the agent, clusters, RBAC access and every source",
	Long:  `Run discovery and one round for every enabled source, then report what is wrong and how to fix it. Exits non-zero when a critical problem is found.`,
	RunE:  runDoctor,
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the known data sources",
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tDESCRIPTION")
		for _, name := range datasource.SourceNames() {
			fmt.Fprintf(w, "%s\t%s\n", name, datasource.Describe(name))
		}
		w.Flush()
	},
}

func init() {
	// Configure klog to suppress client-go logs
	// klog writes to stderr by default, which pollutes the terminal view
	klog.InitFlags(nil)
	flag.Set("logtostderr", "false")     // Don't log to stderr
	flag.Set("alsologtostderr", "false") // Don't also log to stderr
	flag.Set("stderrthreshold", "FATAL") // Only FATAL errors to stderr
	flag.Set("v", "0")                   // Minimal verbosity

	// Add Go flags to pflag so Cobra can parse them
	// This avoids conflicts when global flags are placed before subcommands
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	rootCmd.AddCommand(serveCmd, watchCmd, fetchCmd, clustersCmd, doctorCmd, sourcesCmd)

	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&kubeconfig, "kubeconfig", "k", "", "path to kubeconfig file (default: $KUBECONFIG or $HOME/.kube/config)")
	rootCmd.PersistentFlags().StringSliceVar(&contexts, "contexts", nil, "kubeconfig contexts to use (default: all)")
	rootCmd.PersistentFlags().StringVar(&static, "static", "", "fixed cluster list, comma-separated name=context entries (skips kubeconfig discovery)")
	rootCmd.PersistentFlags().StringVar(&agentURL, "agent-url", "", "base URL of the local proxy agent")
	rootCmd.PersistentFlags().StringSliceVarP(&sources, "sources", "s", nil, "data sources to poll")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&tracing, "trace", false, "export spans for every aggregation round")

	// Serve command flags
	serveCmd.Flags().String("addr", "", "listen address (default :8686)")
	serveCmd.Flags().Duration("idle-timeout", 0, "time without API requests before polling slows down")

	// Shared polling flags
	for _, cmd := range []*cobra.Command{serveCmd, watchCmd} {
		cmd.Flags().DurationP("interval", "i", 0, "base poll interval (default 30s)")
		cmd.Flags().Int("fallback-threshold", 0, "consecutive failed rounds before showing demo data (default 3)")
	}

	// Fetch command flags
	fetchCmd.Flags().String("cluster", "", "restrict the round to one cluster")
	fetchCmd.Flags().StringP("namespace", "n", "", "namespace to query (default: all namespaces)")

	for _, cmd := range []*cobra.Command{fetchCmd, clustersCmd} {
		cmd.Flags().StringP("output", "o", "json", "output format (json, yaml)")
	}
	doctorCmd.Flags().StringP("output", "o", "text", "output format (text, json, yaml)")
}

// loadConfig loads configuration and applies command-line overrides
func loadConfig(cmd *cobra.Command) (*app.Config, error) {
	config, err := app.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if kubeconfig != "" {
		config.Kubeconfig = kubeconfig
	}
	if len(contexts) > 0 {
		config.Contexts = contexts
	}
	if static != "" {
		config.StaticClusters = discovery.Parse(static)
	}
	if agentURL != "" {
		config.AgentURL = agentURL
	}
	if len(sources) > 0 {
		config.Sources = sources
	}
	if verbose {
		config.LogLevel = "debug"
	}
	if tracing {
		config.TracingEnabled = true
	}

	flags := cmd.Flags()
	if flags.Lookup("interval") != nil && flags.Changed("interval") {
		if interval, _ := flags.GetDuration("interval"); interval > 0 {
			config.PollInterval = interval
		}
	}
	if flags.Lookup("fallback-threshold") != nil && flags.Changed("fallback-threshold") {
		if threshold, _ := flags.GetInt("fallback-threshold"); threshold > 0 {
			config.FallbackThreshold = threshold
		}
	}
	if flags.Lookup("addr") != nil && flags.Changed("addr") {
		config.ServeAddr, _ = flags.GetString("addr")
	}
	if flags.Lookup("idle-timeout") != nil && flags.Changed("idle-timeout") {
		if idle, _ := flags.GetDuration("idle-timeout"); idle > 0 {
			config.IdleTimeout = idle
		}
	}

	return config, nil
}

// runUntilSignal runs fn with a context cancelled on SIGINT/SIGTERM
func runUntilSignal(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- fn(ctx)
	}()

	// Wait for either error or signal
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("application error: %w", err)
		}
		return nil
	case sig := <-sigChan:
		zap.L().Info("Received signal, shutting down...", zap.String("signal", sig.String()))
		cancel()
		return <-errChan
	}
}

func newApplication(config *app.Config, opts app.Options) (*app.App, func(), error) {
	application, err := app.New(config, Version, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create application: %w", err)
	}
	return application, func() {
		if err := application.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	idle := cache.NewIdleVisibility(config.IdleTimeout)
	defer idle.Close()

	application, shutdown, err := newApplication(config, app.Options{Stderr: true, Visibility: idle})
	if err != nil {
		return err
	}
	defer shutdown()

	return runUntilSignal(func(ctx context.Context) error {
		if err := application.Start(ctx); err != nil {
			return err
		}
		return application.Serve(ctx, idle)
	})
}

func runWatch(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	focus := cache.NewStaticVisibility(true)
	application, shutdown, err := newApplication(config, app.Options{Visibility: focus})
	if err != nil {
		return err
	}
	defer shutdown()

	return runUntilSignal(func(ctx context.Context) error {
		if err := application.Start(ctx); err != nil {
			return err
		}
		return ui.Run(ctx, application, focus, application.Logger(), Version)
	})
}

type fetchOutput struct {
	Source string `json:"source"`
	Live   bool   `json:"live"`
	Data   any    `json:"data"`
}

func runFetch(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	source := args[0]
	// Only the requested source is built; other enabled sources are irrelevant
	config.Sources = []string{source}

	cluster, _ := cmd.Flags().GetString("cluster")
	namespace, _ := cmd.Flags().GetString("namespace")
	output, _ := cmd.Flags().GetString("output")

	application, shutdown, err := newApplication(config, app.Options{Stderr: true})
	if err != nil {
		return err
	}
	defer shutdown()

	return runUntilSignal(func(ctx context.Context) error {
		value, live, err := application.FetchOnce(ctx, source, namespace, cluster)
		if err != nil {
			return err
		}
		return printOutput(cmd.OutOrStdout(), output, fetchOutput{Source: source, Live: live, Data: value})
	})
}

func runClusters(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	config.Sources = nil
	output, _ := cmd.Flags().GetString("output")

	application, shutdown, err := newApplication(config, app.Options{Stderr: true})
	if err != nil {
		return err
	}
	defer shutdown()

	return runUntilSignal(func(ctx context.Context) error {
		clusters, err := application.DiscoverClusters(ctx)
		if err != nil {
			return err
		}
		if clusters == nil {
			clusters = []model.ClusterDescriptor{}
		}
		return printOutput(cmd.OutOrStdout(), output, clusters)
	})
}

func runDoctor(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")

	application, shutdown, err := newApplication(config, app.Options{Stderr: true})
	if err != nil {
		return err
	}
	defer shutdown()

	return runUntilSignal(func(ctx context.Context) error {
		if err := application.Start(ctx); err != nil {
			return err
		}
		report := application.Diagnose(ctx, true)

		if output == "text" {
			printReport(cmd.OutOrStdout(), report)
		} else if err := printOutput(cmd.OutOrStdout(), output, report); err != nil {
			return err
		}

		if !report.Healthy() {
			return fmt.Errorf("%d critical problem(s) found", report.Count(diagnostic.SeverityCritical))
		}
		return nil
	})
}

// printReport writes findings as an aligned table followed by actions
func printReport(w io.Writer, report *diagnostic.Report) {
	if len(report.Findings) == 0 {
		fmt.Fprintln(w, "No problems found")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tKIND\tSUBJECT\tPROBLEM")
	for _, f := range report.Findings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Severity, f.Kind, f.Subject, f.Title)
	}
	tw.Flush()

	fmt.Fprintln(w)
	for _, f := range report.Findings {
		if f.Description != "" {
			fmt.Fprintf(w, "%s: %s\n", f.Title, f.Description)
		}
		for _, action := range f.Actions {
			fmt.Fprintf(w, "  -> %s\n", action)
		}
	}
}

// printOutput writes v as JSON or YAML
func printOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		out, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		_, err = w.Write(out)
		return err
	default:
		return fmt.Errorf("unsupported output format %q (use json or yaml)", format)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
