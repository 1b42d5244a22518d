package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/yourusername/fleetwatch/internal/cache"
	"github.com/yourusername/fleetwatch/internal/datasource"
	"github.com/yourusername/fleetwatch/internal/discovery"
	"github.com/yourusername/fleetwatch/internal/model"
	"github.com/yourusername/fleetwatch/internal/observability"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const discoveryConsumerID = "cluster-discovery"

// Options selects how the App is wired for one command
type Options struct {
	// Stderr tees log output to stderr; the watch view must leave it off
	Stderr bool
	// Visibility drives the scheduler; nil means always visible
	Visibility cache.Visibility
}

// App represents the main application
type App struct {
	logger  *zap.Logger
	config  *Config
	version string

	registry   *cache.Registry
	scheduler  *cache.Scheduler
	agent      *datasource.AgentClient
	gate       *datasource.AvailabilityGate
	aggregator *datasource.Aggregator
	tracker    *datasource.FailureTracker
	discoverer discovery.Discoverer
	refresher  *discovery.Refresher
	runners    []datasource.Runner

	shutdownTracing func(context.Context) error
}

// New creates a new App instance
func New(config *Config, version string, opts Options) (*App, error) {
	// Initialize logger
	logger, err := initLogger(config.LogLevel, config.LogFile, opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return newApp(config, version, opts, logger)
}

func newApp(config *Config, version string, opts Options, logger *zap.Logger) (*App, error) {
	a := &App{
		logger:  logger,
		config:  config,
		version: version,
	}

	observability.Register()

	shutdown, err := observability.SetupTracing(config.TracingEnabled, a.traceWriter(opts.Stderr))
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.shutdownTracing = shutdown

	if err := a.initDataSources(opts.Visibility); err != nil {
		return nil, fmt.Errorf("failed to initialize data sources: %w", err)
	}

	return a, nil
}

// initDataSources wires the registry, gate, fetcher, aggregator and feeds
func (a *App) initDataSources(visibility cache.Visibility) error {
	a.logger.Info("Initializing data sources",
		zap.String("agent_url", a.config.AgentURL),
		zap.Strings("sources", a.config.Sources),
	)

	agent, err := datasource.NewAgentClient(a.config.AgentURL, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create agent client: %w", err)
	}
	a.agent = agent

	a.gate = datasource.NewAvailabilityGate(agent, datasource.GateOptions{
		Cooldown:    a.config.AgentCooldown,
		TripSources: a.config.AgentTripSources,
		OnChange:    func(available bool) {
			observability.AgentAvailable.Set(observability.BoolGauge(available))
		},
	}, a.logger)

	a.registry = cache.NewRegistry(a.logger)
	fetcher := datasource.NewFetcher(agent, a.gate, a.config.AgentTimeout, a.logger)
	a.aggregator = datasource.NewAggregator(a.registry, a.gate, fetcher, a.logger)
	a.tracker = datasource.NewFailureTracker()

	a.scheduler = cache.NewScheduler(visibility, cache.HiddenBackoff(a.config.HiddenMultiplier), a.logger)
	a.discoverer = a.newDiscoverer()
	a.refresher = discovery.NewRefresher(a.discoverer, a.registry, a.logger)

	runners, err := datasource.NewRunners(a.config.Sources, datasource.FeedDeps{
		Aggregator:        a.aggregator,
		Tracker:           a.tracker,
		Scheduler:         a.scheduler,
		FallbackThreshold: a.config.FallbackThreshold,
		Interval:          a.config.PollInterval,
		Logger:            a.logger,
	})
	if err != nil {
		return err
	}
	a.runners = runners

	a.logger.Info("Data sources initialized successfully", zap.Int("feeds", len(runners)))
	return nil
}

func (a *App) newDiscoverer() discovery.Discoverer {
	if len(a.config.StaticClusters) > 0 {
		a.logger.Info("Using static cluster list", zap.Strings("clusters", a.config.StaticClusters))
		return discovery.NewStatic(a.config.StaticClusters...)
	}
	return discovery.NewKubeconfig(discovery.KubeconfigOptions{
		Path:          a.config.Kubeconfig,
		Contexts:      a.config.Contexts,
		Timeout:       a.config.DiscoveryTimeout,
		MaxConcurrent: a.config.DiscoveryMaxConcurrent,
	}, a.logger)
}

// traceWriter picks where stdouttrace writes spans. The watch view owns the
// terminal, so spans go to a rotating file next to the log.
func (a *App) traceWriter(stderr bool) io.Writer {
	if stderr {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   a.config.LogFile + ".trace",
		MaxSize:    100, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
		Compress:   true,
	}
}

// Start runs discovery once, then starts the discovery loop and every feed
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("Starting fleetwatch",
		zap.String("version", a.version),
		zap.Duration("poll_interval", a.config.PollInterval),
		zap.Int("hidden_multiplier", a.config.HiddenMultiplier),
		zap.Int("fallback_threshold", a.config.FallbackThreshold),
	)

	// A failed first discovery leaves the registry empty; feeds degrade to
	// demo data until a later refresh succeeds.
	if err := a.refresher.Refresh(ctx); err != nil {
		a.logger.Warn("Initial cluster discovery failed", zap.Error(err))
	}

	a.scheduler.Start(discoveryConsumerID, a.config.DiscoveryInterval, a.refresher.Tick)
	for _, r := range a.runners {
		r.Start()
	}

	a.logger.Info("Application started successfully")
	return nil
}

// Runners returns the feeds in configuration order
func (a *App) Runners() []datasource.Runner {
	return a.runners
}

// Runner returns the feed for a source name
func (a *App) Runner(name string) (datasource.Runner, bool) {
	for _, r := range a.runners {
		if r.Name() == name {
			return r, true
		}
	}
	return nil, false
}

// Clusters returns the registry contents
func (a *App) Clusters() []model.ClusterDescriptor {
	return a.registry.All()
}

// AgentStatus returns the availability gate's view of the agent
func (a *App) AgentStatus() datasource.GateStatus {
	return a.gate.Status()
}

// AgentHealth queries the agent's health endpoint directly
func (a *App) AgentHealth(ctx context.Context) (*datasource.AgentHealth, error) {
	return a.agent.Health(ctx)
}

// DiscoverClusters runs discovery once and returns the refreshed registry
func (a *App) DiscoverClusters(ctx context.Context) ([]model.ClusterDescriptor, error) {
	if err := a.refresher.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to discover clusters: %w", err)
	}
	return a.registry.All(), nil
}

// FetchOnce discovers clusters and runs a single aggregation round for
// source. When live data is unavailable it returns the demo dataset and
// live=false.
func (a *App) FetchOnce(ctx context.Context, source, namespace, cluster string) (any, bool, error) {
	if _, err := a.DiscoverClusters(ctx); err != nil {
		a.logger.Warn("Cluster discovery failed before fetch", zap.Error(err))
	}

	value, live, err := datasource.FetchOnce(ctx, a.aggregator, source, namespace, cluster)
	if err != nil {
		return nil, false, err
	}
	if !live {
		a.logger.Warn("Live data unavailable, returning demo data", zap.String("source", source))
		return datasource.Fallback(source), false, nil
	}
	return value, true, nil
}

// Shutdown gracefully stops the application
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down application...")

	for _, r := range a.runners {
		r.Stop()
	}
	if a.scheduler != nil {
		a.scheduler.StopAll()
	}

	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Error("Failed to flush traces", zap.Error(err))
		}
	}

	// Sync only flushes buffered log entries, ignore stderr sync errors
	_ = a.logger.Sync()
	return nil
}

// Logger returns the application logger
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Version returns the build version
func (a *App) Version() string {
	return a.version
}

// initLogger initializes the zap logger with file rotation support
func initLogger(levelStr, logFile string, stderr bool) (*zap.Logger, error) {
	// Parse log level
	level := zapcore.InfoLevel
	switch levelStr {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// Configure encoder
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	var cores []zapcore.Core

	if logFile == "" {
		logFile = defaultLogFile
	}

	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
		Compress:   true,
	})
	cores = append(cores, zapcore.NewCore(fileEncoder, fileWriter, level))

	// Headless commands also log to stderr. The watch view must not:
	// Bubble Tea requires full control of terminal output.
	if stderr {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleConfig),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	core := zapcore.NewTee(cores...)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Set as global logger
	zap.ReplaceGlobals(logger)

	return logger, nil
}
