package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for dbscope.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Announce AnnounceConfig `yaml:"announce"`
}

// DatabaseConfig contains engine, session and resource publication settings.
//
// Either URL (shorthand for a single engine named "default") or Engines
// must be set, never both.
type DatabaseConfig struct {
	// URL is the single-engine shorthand connection descriptor.
	URL string `yaml:"url"`

	// Engines maps logical engine names to connection descriptors.
	Engines map[string]EngineConfig `yaml:"engines"`

	// Session contains session construction options.
	Session SessionConfig `yaml:"session"`

	// ResourceName is the namespace under which resources are published.
	ResourceName string `yaml:"resource_name"`

	// SessionAttr is the resource name of the lazily created per-context
	// session.
	SessionAttr string `yaml:"session_attr"`

	// CommitWorkers bounds the worker pool that runs blocking session
	// finalization (commit/rollback/close). 0 means a conservative default.
	CommitWorkers int `yaml:"commit_workers"`
}

// EngineConfig is one engine's connection descriptor. Either URL or the
// structured fields must be set, never both.
type EngineConfig struct {
	URL      string            `yaml:"url"`
	Driver   string            `yaml:"driver"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Database string            `yaml:"database"`
	Params   map[string]string `yaml:"params"`
	Pool     PoolConfig        `yaml:"pool"`
}

// PoolConfig contains connection pool settings for one engine.
type PoolConfig struct {
	// Profile is a named pool shape: "default", "single" or "none".
	Profile string `yaml:"profile"`

	// MaxOpenConns caps open connections (0 = profile value).
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns caps idle pooled connections (0 = profile value).
	MaxIdleConns int `yaml:"max_idle_conns"`
}

// SessionConfig contains session construction options.
type SessionConfig struct {
	// Info is an application-defined metadata map copied onto every session.
	Info map[string]any `yaml:"info"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig contains InfluxDB pool-statistics reporting settings.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	Interval      int    `yaml:"interval"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// AnnounceConfig contains MQTT lifecycle-event announcement settings.
type AnnounceConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Broker  AnnounceBrokerConfig `yaml:"broker"`
	Auth    AnnounceAuthConfig   `yaml:"auth"`
	QoS     int                  `yaml:"qos"`

	// TopicPrefix is prepended to every announcement topic.
	TopicPrefix string `yaml:"topic_prefix"`
}

// AnnounceBrokerConfig contains MQTT broker connection details.
type AnnounceBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// AnnounceAuthConfig contains MQTT authentication credentials.
type AnnounceAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Unknown YAML keys are rejected: every recognized option is enumerated in
// the structures above, and nothing is forwarded blindly to constructors.
//
// Environment variables follow the pattern: DBSCOPE_SECTION_KEY
// For example: DBSCOPE_DATABASE_URL, DBSCOPE_METRICS_TOKEN
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := Parse(data, cfg); err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML into cfg, rejecting unknown keys.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			ResourceName: "default",
			SessionAttr:  "dbsession",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Interval:      30,
			BatchSize:     100,
			FlushInterval: 10,
		},
		Announce: AnnounceConfig{
			Broker: AnnounceBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "dbscope",
			},
			QoS:         1,
			TopicPrefix: "dbscope",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DBSCOPE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database. The URL override only applies to the single-engine
	// shorthand; a file configuring an engines map keeps it, otherwise the
	// injected URL would trip the url/engines exclusivity check.
	if v := os.Getenv("DBSCOPE_DATABASE_URL"); v != "" && len(cfg.Database.Engines) == 0 {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DBSCOPE_RESOURCE_NAME"); v != "" {
		cfg.Database.ResourceName = v
	}
	if v := os.Getenv("DBSCOPE_SESSION_ATTR"); v != "" {
		cfg.Database.SessionAttr = v
	}
	if v := os.Getenv("DBSCOPE_COMMIT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.CommitWorkers = n
		}
	}

	// Logging
	if v := os.Getenv("DBSCOPE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Metrics - token should come from the environment in production
	if v := os.Getenv("DBSCOPE_METRICS_TOKEN"); v != "" {
		cfg.Metrics.Token = v
	}

	// Announce
	if v := os.Getenv("DBSCOPE_ANNOUNCE_USERNAME"); v != "" {
		cfg.Announce.Auth.Username = v
	}
	if v := os.Getenv("DBSCOPE_ANNOUNCE_PASSWORD"); v != "" {
		cfg.Announce.Auth.Password = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.URL != "" && len(c.Database.Engines) > 0 {
		errs = append(errs, "database.url and database.engines are mutually exclusive")
	}
	if c.Database.URL == "" && len(c.Database.Engines) == 0 {
		errs = append(errs, "database.url or database.engines is required")
	}
	for name, e := range c.Database.Engines {
		if name == "" {
			errs = append(errs, "database.engines: engine name cannot be empty")
		}
		if e.URL == "" && e.Driver == "" {
			errs = append(errs, fmt.Sprintf("database.engines.%s: url or driver is required", name))
		}
		if e.URL != "" && e.Driver != "" {
			errs = append(errs, fmt.Sprintf("database.engines.%s: url and structured fields are mutually exclusive", name))
		}
	}
	if c.Database.ResourceName == "" {
		errs = append(errs, "database.resource_name cannot be empty")
	}
	if c.Database.SessionAttr == "" {
		errs = append(errs, "database.session_attr cannot be empty")
	}
	if c.Database.CommitWorkers < 0 {
		errs = append(errs, "database.commit_workers cannot be negative")
	}

	// Metrics validation
	if c.Metrics.Enabled {
		if c.Metrics.URL == "" {
			errs = append(errs, "metrics.url is required when metrics are enabled")
		}
		if c.Metrics.Interval <= 0 {
			errs = append(errs, "metrics.interval must be positive")
		}
	}

	// Announce validation
	if c.Announce.QoS < 0 || c.Announce.QoS > 2 {
		errs = append(errs, "announce.qos must be 0, 1, or 2")
	}
	if c.Announce.Enabled && c.Announce.Broker.Host == "" {
		errs = append(errs, "announce.broker.host is required when announcements are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetMetricsInterval returns the metrics sampling interval as a Duration.
func (c *Config) GetMetricsInterval() time.Duration {
	return time.Duration(c.Metrics.Interval) * time.Second
}
