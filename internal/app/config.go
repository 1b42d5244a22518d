package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/yourusername/fleetwatch/internal/cache"
	"github.com/yourusername/fleetwatch/internal/datasource"
	"github.com/yourusername/fleetwatch/internal/discovery"
)

const (
	defaultLogFile         = "/tmp/fleetwatch.log"
	defaultServeAddr       = ":8686"
	defaultIdleTimeout     = 2 * time.Minute
	defaultDiscoveryPeriod = 60 * time.Second
)

// envKeyReplacer maps nested keys to env names, agent.url -> FLEETWATCH_AGENT_URL
var envKeyReplacer = strings.NewReplacer(".", "_")

// DefaultSources are polled when sources.enabled is empty
var DefaultSources = []string{"agents", "builds", "tools"}

// Config holds the application configuration
type Config struct {
	// Agent configuration
	AgentURL         string        `mapstructure:"agent_url"`
	AgentTimeout     time.Duration `mapstructure:"agent_timeout"`
	AgentCooldown    time.Duration `mapstructure:"agent_cooldown"`
	AgentTripSources int           `mapstructure:"agent_trip_sources"`

	// Polling configuration
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HiddenMultiplier  int           `mapstructure:"hidden_multiplier"`
	FallbackThreshold int           `mapstructure:"fallback_threshold"`

	// Cluster configuration
	Kubeconfig     string   `mapstructure:"kubeconfig"`
	Contexts       []string `mapstructure:"contexts"`
	StaticClusters []string `mapstructure:"static"`

	// Discovery configuration
	DiscoveryInterval      time.Duration `mapstructure:"discovery_interval"`
	DiscoveryTimeout       time.Duration `mapstructure:"discovery_timeout"`
	DiscoveryMaxConcurrent int           `mapstructure:"discovery_max_concurrent"`

	// Server configuration
	ServeAddr   string        `mapstructure:"serve_addr"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	Sources        []string `mapstructure:"sources"`
	TracingEnabled bool     `mapstructure:"tracing_enabled"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configFile string) (*Config, error) {
	return loadConfig(viper.GetViper(), configFile)
}

func loadConfig(v *viper.Viper, configFile string) (*Config, error) {
	// Defaults, nested keys align with config/config.example.yaml
	v.SetDefault("agent.url", datasource.DefaultAgentURL)
	v.SetDefault("agent.timeout", datasource.DefaultFetchTimeout.String())
	v.SetDefault("agent.cooldown", datasource.DefaultGateCooldown.String())
	v.SetDefault("agent.trip_sources", datasource.DefaultTripSources)

	v.SetDefault("poll.interval", datasource.DefaultPollInterval.String())
	v.SetDefault("poll.hidden_multiplier", cache.DefaultHiddenMultiplier)
	v.SetDefault("fallback.threshold", datasource.DefaultFallbackThreshold)

	v.SetDefault("cluster.kubeconfig", "")
	v.SetDefault("cluster.contexts", []string{})
	v.SetDefault("cluster.static", []string{})

	v.SetDefault("discovery.interval", defaultDiscoveryPeriod.String())
	v.SetDefault("discovery.timeout", discovery.DefaultProbeTimeout.String())
	v.SetDefault("discovery.max_concurrent", discovery.DefaultMaxConcurrent)

	v.SetDefault("serve.addr", defaultServeAddr)
	v.SetDefault("serve.idle_timeout", defaultIdleTimeout.String())

	v.SetDefault("sources.enabled", DefaultSources)
	v.SetDefault("tracing.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", defaultLogFile)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.fleetwatch")
		v.AddConfigPath("/etc/fleetwatch")
	}

	v.SetEnvPrefix("FLEETWATCH")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		AgentURL:               v.GetString("agent.url"),
		AgentTimeout:           v.GetDuration("agent.timeout"),
		AgentCooldown:          v.GetDuration("agent.cooldown"),
		AgentTripSources:       v.GetInt("agent.trip_sources"),
		PollInterval:           v.GetDuration("poll.interval"),
		HiddenMultiplier:       v.GetInt("poll.hidden_multiplier"),
		FallbackThreshold:      v.GetInt("fallback.threshold"),
		Kubeconfig:             v.GetString("cluster.kubeconfig"),
		Contexts:               v.GetStringSlice("cluster.contexts"),
		StaticClusters:         v.GetStringSlice("cluster.static"),
		DiscoveryInterval:      v.GetDuration("discovery.interval"),
		DiscoveryTimeout:       v.GetDuration("discovery.timeout"),
		DiscoveryMaxConcurrent: v.GetInt("discovery.max_concurrent"),
		ServeAddr:              v.GetString("serve.addr"),
		IdleTimeout:            v.GetDuration("serve.idle_timeout"),
		Sources:                v.GetStringSlice("sources.enabled"),
		TracingEnabled:         v.GetBool("tracing.enabled"),
		LogLevel:               v.GetString("logging.level"),
		LogFile:                v.GetString("logging.file"),
	}

	cfg.normalize()
	return cfg, nil
}

// normalize fills zero values in case configuration omitted units or left blank
func (c *Config) normalize() {
	if c.AgentURL == "" {
		c.AgentURL = datasource.DefaultAgentURL
	}
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = datasource.DefaultFetchTimeout
	}
	if c.AgentCooldown <= 0 {
		c.AgentCooldown = datasource.DefaultGateCooldown
	}
	if c.AgentTripSources <= 0 {
		c.AgentTripSources = datasource.DefaultTripSources
	}
	if c.PollInterval <= 0 {
		c.PollInterval = datasource.DefaultPollInterval
	}
	if c.HiddenMultiplier <= 0 {
		c.HiddenMultiplier = cache.DefaultHiddenMultiplier
	}
	if c.FallbackThreshold <= 0 {
		c.FallbackThreshold = datasource.DefaultFallbackThreshold
	}
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = defaultDiscoveryPeriod
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = discovery.DefaultProbeTimeout
	}
	if c.DiscoveryMaxConcurrent <= 0 {
		c.DiscoveryMaxConcurrent = discovery.DefaultMaxConcurrent
	}
	if c.ServeAddr == "" {
		c.ServeAddr = defaultServeAddr
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if len(c.Sources) == 0 {
		c.Sources = append([]string(nil), DefaultSources...)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFile == "" {
		c.LogFile = defaultLogFile
	}
}
