// ABOUTME: Configuration loading and parsing for the agentapi bridge
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bridge configuration
type Config struct {
	AgentAPIURL string        `yaml:"agent_api_url"`
	Agent       AgentSettings `yaml:"agent"`
	Retry       RetryConfig   `yaml:"retry"`
	Stream      StreamConfig  `yaml:"stream"`
	Health      HealthConfig  `yaml:"health"`
	Ledger      LedgerConfig  `yaml:"ledger"`
	Logging     LoggingConfig `yaml:"logging"`
}

// AgentSettings holds agent selection and lifecycle timing configuration
type AgentSettings struct {
	Active     string                 `yaml:"active"`      // active agent variant (claude, goose, aider, codex, custom)
	AutoStart  bool                   `yaml:"auto_start"`  // start the active agent at bridge startup
	AgentsFile string                 `yaml:"agents_file"` // optional TOML file with per-variant overrides
	Variants   map[string]AgentConfig `yaml:"variants"`

	StartTimeout time.Duration `yaml:"-"`
	StopGrace    time.Duration `yaml:"-"`
	KillGrace    time.Duration `yaml:"-"`

	StartTimeoutRaw string `yaml:"start_timeout"`
	StopGraceRaw    string `yaml:"stop_grace"`
	KillGraceRaw    string `yaml:"kill_grace"`
}

// AgentConfig holds per-variant launch configuration.
// All fields are optional; the built-in variant table supplies defaults.
type AgentConfig struct {
	Model     string   `yaml:"model" toml:"model"`
	Command   string   `yaml:"command" toml:"command"` // launch binary override, required for the custom variant
	Args      []string `yaml:"args" toml:"args"`       // extra args appended to the launch command
	APIKeyEnv string   `yaml:"api_key_env" toml:"api_key_env"`
}

// RetryConfig tunes the API client's request retry policy
type RetryConfig struct {
	MaxAttempts   int     `yaml:"max_attempts"`
	BackoffFactor float64 `yaml:"backoff_factor"`
	Jitter        float64 `yaml:"jitter"`

	InitialDelay time.Duration `yaml:"-"`
	MaxDelay     time.Duration `yaml:"-"`

	InitialDelayRaw string `yaml:"initial_delay"`
	MaxDelayRaw     string `yaml:"max_delay"`
}

// StreamConfig tunes the API client's event stream behavior
type StreamConfig struct {
	MaxReconnects int `yaml:"max_reconnects"`
	BufferWindow  int `yaml:"buffer_window"` // reorder buffer size in events

	ReconnectDelay time.Duration `yaml:"-"`
	Watchdog       time.Duration `yaml:"-"`

	ReconnectDelayRaw string `yaml:"reconnect_delay"`
	WatchdogRaw       string `yaml:"watchdog"`
}

// HealthConfig holds health monitor configuration
type HealthConfig struct {
	Interval time.Duration `yaml:"-"`

	IntervalRaw string `yaml:"interval"`
}

// LedgerConfig holds the transition ledger database configuration
type LedgerConfig struct {
	Path string `yaml:"path"` // empty disables persistence
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with all tuning knobs at their default values.
func Default() *Config {
	return &Config{
		AgentAPIURL: "http://localhost:3284",
		Agent: AgentSettings{
			Active:       "claude",
			StartTimeout: 30 * time.Second,
			StopGrace:    10 * time.Second,
			KillGrace:    2 * time.Second,
			Variants:     map[string]AgentConfig{},
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			BackoffFactor: 2.0,
			Jitter:        0.1,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
		},
		Stream: StreamConfig{
			MaxReconnects:  5,
			BufferWindow:   8,
			ReconnectDelay: 5 * time.Second,
			Watchdog:       30 * time.Second,
		},
		Health: HealthConfig{
			Interval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Fields omitted from the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if cfg.Agent.AgentsFile != "" {
		if err := loadAgentsFile(cfg); err != nil {
			return nil, fmt.Errorf("loading agents file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.AgentAPIURL == "" {
		return fmt.Errorf("agent_api_url is required")
	}

	if c.Agent.Active == "" {
		return fmt.Errorf("agent.active is required")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}

	if c.Retry.BackoffFactor < 1.0 {
		return fmt.Errorf("retry.backoff_factor must be at least 1.0")
	}

	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1.0 {
		return fmt.Errorf("retry.jitter must be between 0.0 and 1.0")
	}

	if c.Stream.BufferWindow < 1 {
		return fmt.Errorf("stream.buffer_window must be at least 1")
	}

	return nil
}

// Variant returns the launch configuration for the named variant,
// or the zero value when no override is configured.
func (c *Config) Variant(name string) AgentConfig {
	return c.Agent.Variants[name]
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{cfg.Agent.StartTimeoutRaw, &cfg.Agent.StartTimeout, "agent.start_timeout"},
		{cfg.Agent.StopGraceRaw, &cfg.Agent.StopGrace, "agent.stop_grace"},
		{cfg.Agent.KillGraceRaw, &cfg.Agent.KillGrace, "agent.kill_grace"},
		{cfg.Retry.InitialDelayRaw, &cfg.Retry.InitialDelay, "retry.initial_delay"},
		{cfg.Retry.MaxDelayRaw, &cfg.Retry.MaxDelay, "retry.max_delay"},
		{cfg.Stream.ReconnectDelayRaw, &cfg.Stream.ReconnectDelay, "stream.reconnect_delay"},
		{cfg.Stream.WatchdogRaw, &cfg.Stream.Watchdog, "stream.watchdog"},
		{cfg.Health.IntervalRaw, &cfg.Health.Interval, "health.interval"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.key, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
