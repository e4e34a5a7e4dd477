// ABOUTME: Configuration loading and parsing for espfleet
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a field is absent from the file.
const (
	DefaultHealthCheckInterval = 10 * time.Second
	DefaultMaxConcurrent       = 10
	DefaultResultCacheSize     = 1024
	DefaultPingTimeout         = 5 * time.Second
	DefaultCommandTimeout      = 10 * time.Second
)

// Config represents the complete espfleet configuration
type Config struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Router       RouterConfig       `yaml:"router"`
	Device       DeviceConfig       `yaml:"device"`
	Database     DatabaseConfig     `yaml:"database"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// OrchestratorConfig holds fleet coordination timing and sizing
type OrchestratorConfig struct {
	HealthCheckInterval    time.Duration `yaml:"-"`
	SchedulerMaxConcurrent int           `yaml:"scheduler_max_concurrent"`
	ResultCacheSize        int           `yaml:"result_cache_size"`

	// Raw string value for YAML unmarshaling
	HealthCheckIntervalRaw string `yaml:"health_check_interval"`
}

// RouterConfig holds the scoring weights for agent selection.
// All-zero weights mean "use the built-in defaults".
type RouterConfig struct {
	AvailabilityWeight float64 `yaml:"availability_weight"`
	SuccessRateWeight  float64 `yaml:"success_rate_weight"`
	RecencyWeight      float64 `yaml:"recency_weight"`
}

// DeviceConfig holds per-device HTTP timing configuration
type DeviceConfig struct {
	PingTimeout    time.Duration `yaml:"-"`
	CommandTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PingTimeoutRaw    string `yaml:"ping_timeout"`
	CommandTimeoutRaw string `yaml:"command_timeout"`
}

// DatabaseConfig holds the task/event ledger configuration
type DatabaseConfig struct {
	// Path to the SQLite ledger file. Empty disables persistence; results
	// then live only in the in-memory cache.
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config populated entirely from defaults, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Orchestrator.HealthCheckInterval == 0 {
		c.Orchestrator.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.Orchestrator.SchedulerMaxConcurrent == 0 {
		c.Orchestrator.SchedulerMaxConcurrent = DefaultMaxConcurrent
	}
	if c.Orchestrator.ResultCacheSize == 0 {
		c.Orchestrator.ResultCacheSize = DefaultResultCacheSize
	}
	if c.Device.PingTimeout == 0 {
		c.Device.PingTimeout = DefaultPingTimeout
	}
	if c.Device.CommandTimeout == 0 {
		c.Device.CommandTimeout = DefaultCommandTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all configuration fields are coherent.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Orchestrator.SchedulerMaxConcurrent < 1 {
		return fmt.Errorf("orchestrator.scheduler_max_concurrent must be at least 1")
	}
	if c.Orchestrator.ResultCacheSize < 1 {
		return fmt.Errorf("orchestrator.result_cache_size must be at least 1")
	}

	w := c.Router
	if w.AvailabilityWeight < 0 || w.SuccessRateWeight < 0 || w.RecencyWeight < 0 {
		return fmt.Errorf("router weights must be non-negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Orchestrator.HealthCheckIntervalRaw != "" {
		cfg.Orchestrator.HealthCheckInterval, err = time.ParseDuration(cfg.Orchestrator.HealthCheckIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing health_check_interval %q: %w", cfg.Orchestrator.HealthCheckIntervalRaw, err)
		}
	}

	if cfg.Device.PingTimeoutRaw != "" {
		cfg.Device.PingTimeout, err = time.ParseDuration(cfg.Device.PingTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing ping_timeout %q: %w", cfg.Device.PingTimeoutRaw, err)
		}
	}

	if cfg.Device.CommandTimeoutRaw != "" {
		cfg.Device.CommandTimeout, err = time.ParseDuration(cfg.Device.CommandTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing command_timeout %q: %w", cfg.Device.CommandTimeoutRaw, err)
		}
	}

	return nil
}
