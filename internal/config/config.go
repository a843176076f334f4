// ABOUTME: Configuration loading and parsing for edge-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete edge-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Origins   OriginsConfig   `yaml:"origins"`
	Limits    LimitsConfig    `yaml:"limits"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds listener and routing configuration
type ServerConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	APIPrefix string `yaml:"api_prefix"`

	BodyTimeout    time.Duration `yaml:"-"`
	BodyTimeoutRaw string        `yaml:"body_timeout"`

	// WriteTimeout bounds every websocket write so a peer that stops
	// reading cannot wedge the writer.
	WriteTimeout    time.Duration `yaml:"-"`
	WriteTimeoutRaw string        `yaml:"write_timeout"`
}

// OriginsConfig holds the WebSocket origin allow-list policy
type OriginsConfig struct {
	// Allowed entries are exact origins ("https://app.example.com") or
	// wildcard subdomains ("*.example.com"). An empty list allows any origin.
	Allowed []string `yaml:"allowed"`
	// AllowMissing permits connections that send no Origin header
	// (non-browser clients).
	AllowMissing bool `yaml:"allow_missing"`
}

// LimitsConfig holds concurrent-connection admission caps
type LimitsConfig struct {
	MaxPerUser int `yaml:"max_per_user"`
	MaxGlobal  int `yaml:"max_global"`
}

// RateLimitConfig holds the per-session sliding-window message caps
type RateLimitConfig struct {
	MaxPerSecond int `yaml:"max_per_second"`
	MaxPerMinute int `yaml:"max_per_minute"`

	SweepInterval time.Duration `yaml:"-"`
	IdleTTL       time.Duration `yaml:"-"`

	SweepIntervalRaw string `yaml:"sweep_interval"`
	IdleTTLRaw       string `yaml:"idle_ttl"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// AnonymousPaths lists API paths (relative to the prefix) that may be
	// served without a resolved identity, e.g. session-bootstrap endpoints.
	AnonymousPaths []string `yaml:"anonymous_paths"`
}

// HeartbeatConfig holds per-connection keepalive timing
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"-"`
	Timeout  time.Duration `yaml:"-"`

	IntervalRaw string `yaml:"interval"`
	TimeoutRaw  string `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults applied by Load for fields left unset.
const (
	DefaultAPIPrefix         = "/api/v1"
	DefaultBodyTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 90 * time.Second
	DefaultSweepInterval     = time.Minute
	DefaultIdleTTL           = 5 * time.Minute
	DefaultMaxPerUser        = 3
	DefaultMaxGlobal         = 1000
	DefaultMaxPerSecond      = 5
	DefaultMaxPerMinute      = 60
)

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

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills in zero-valued fields that have sane defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.APIPrefix == "" {
		c.Server.APIPrefix = DefaultAPIPrefix
	}
	if c.Server.BodyTimeout == 0 {
		c.Server.BodyTimeout = DefaultBodyTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = DefaultHeartbeatInterval
	}
	if c.Heartbeat.Timeout == 0 {
		c.Heartbeat.Timeout = DefaultHeartbeatTimeout
	}
	if c.RateLimit.SweepInterval == 0 {
		c.RateLimit.SweepInterval = DefaultSweepInterval
	}
	if c.RateLimit.IdleTTL == 0 {
		c.RateLimit.IdleTTL = DefaultIdleTTL
	}
	if c.Limits.MaxPerUser == 0 {
		c.Limits.MaxPerUser = DefaultMaxPerUser
	}
	if c.Limits.MaxGlobal == 0 {
		c.Limits.MaxGlobal = DefaultMaxGlobal
	}
	if c.RateLimit.MaxPerSecond == 0 {
		c.RateLimit.MaxPerSecond = DefaultMaxPerSecond
	}
	if c.RateLimit.MaxPerMinute == 0 {
		c.RateLimit.MaxPerMinute = DefaultMaxPerMinute
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Limits.MaxPerUser < 0 || c.Limits.MaxGlobal < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if c.RateLimit.MaxPerSecond < 0 || c.RateLimit.MaxPerMinute < 0 {
		return fmt.Errorf("rate_limit caps must not be negative")
	}
	if c.RateLimit.MaxPerMinute > 0 && c.RateLimit.MaxPerSecond > c.RateLimit.MaxPerMinute {
		return fmt.Errorf("rate_limit.max_per_second must not exceed max_per_minute")
	}
	if c.Heartbeat.Timeout < c.Heartbeat.Interval {
		return fmt.Errorf("heartbeat.timeout must be at least heartbeat.interval")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Server.BodyTimeoutRaw, &cfg.Server.BodyTimeout, "server.body_timeout"},
		{cfg.Server.WriteTimeoutRaw, &cfg.Server.WriteTimeout, "server.write_timeout"},
		{cfg.Heartbeat.IntervalRaw, &cfg.Heartbeat.Interval, "heartbeat.interval"},
		{cfg.Heartbeat.TimeoutRaw, &cfg.Heartbeat.Timeout, "heartbeat.timeout"},
		{cfg.RateLimit.SweepIntervalRaw, &cfg.RateLimit.SweepInterval, "rate_limit.sweep_interval"},
		{cfg.RateLimit.IdleTTLRaw, &cfg.RateLimit.IdleTTL, "rate_limit.idle_ttl"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
