// ABOUTME: Configuration loading and parsing for the wirechat server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete wirechat server configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Cache      CacheConfig      `yaml:"cache"`
	Limits     LimitsConfig     `yaml:"limits"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EnrichmentConfig holds settings for the text-enrichment backend.
// When GeminiAPIKey is empty the server runs on rule-based fallbacks only.
type EnrichmentConfig struct {
	GeminiAPIKey string `yaml:"gemini_api_key"`
	Model        string `yaml:"model"`

	Timeout        time.Duration `yaml:"-"`
	RetryBaseDelay time.Duration `yaml:"-"`
	MaxAttempts    int           `yaml:"max_attempts"`

	// Raw string values for YAML unmarshaling
	TimeoutRaw        string `yaml:"timeout"`
	RetryBaseDelayRaw string `yaml:"retry_base_delay"`

	// Summarization minimum-input policy
	SummaryMinMessages int `yaml:"summary_min_messages"`
	SummaryMinWords    int `yaml:"summary_min_words"`
}

// CacheConfig holds the transient per-chat message cache settings
type CacheConfig struct {
	HistoryWindow int `yaml:"history_window"`
}

// LimitsConfig holds per-connection inbound event rate limits
type LimitsConfig struct {
	EventsPerSecond float64 `yaml:"events_per_second"`
	EventBurst      int     `yaml:"event_burst"`
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

// Defaults applied after parsing when fields are unset.
const (
	DefaultEnrichModel        = "gemini-1.5-flash-latest"
	DefaultEnrichTimeout      = 30 * time.Second
	DefaultRetryBaseDelay     = 2 * time.Second
	DefaultMaxAttempts        = 3
	DefaultHistoryWindow      = 50
	DefaultSummaryMinMessages = 3
	DefaultSummaryMinWords    = 20
	DefaultEventsPerSecond    = 20.0
	DefaultEventBurst         = 40
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

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
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

// applyDefaults fills in unset optional fields.
func (c *Config) applyDefaults() {
	if c.Enrichment.Model == "" {
		c.Enrichment.Model = DefaultEnrichModel
	}
	if c.Enrichment.Timeout == 0 {
		c.Enrichment.Timeout = DefaultEnrichTimeout
	}
	if c.Enrichment.RetryBaseDelay == 0 {
		c.Enrichment.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.Enrichment.MaxAttempts == 0 {
		c.Enrichment.MaxAttempts = DefaultMaxAttempts
	}
	if c.Enrichment.SummaryMinMessages == 0 {
		c.Enrichment.SummaryMinMessages = DefaultSummaryMinMessages
	}
	if c.Enrichment.SummaryMinWords == 0 {
		c.Enrichment.SummaryMinWords = DefaultSummaryMinWords
	}
	if c.Cache.HistoryWindow == 0 {
		c.Cache.HistoryWindow = DefaultHistoryWindow
	}
	if c.Limits.EventsPerSecond == 0 {
		c.Limits.EventsPerSecond = DefaultEventsPerSecond
	}
	if c.Limits.EventBurst == 0 {
		c.Limits.EventBurst = DefaultEventBurst
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

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Enrichment.MaxAttempts < 1 {
		return fmt.Errorf("enrichment.max_attempts must be at least 1")
	}

	if c.Cache.HistoryWindow < 1 {
		return fmt.Errorf("cache.history_window must be at least 1")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Enrichment.TimeoutRaw != "" {
		cfg.Enrichment.Timeout, err = time.ParseDuration(cfg.Enrichment.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing enrichment.timeout %q: %w", cfg.Enrichment.TimeoutRaw, err)
		}
	}

	if cfg.Enrichment.RetryBaseDelayRaw != "" {
		cfg.Enrichment.RetryBaseDelay, err = time.ParseDuration(cfg.Enrichment.RetryBaseDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing enrichment.retry_base_delay %q: %w", cfg.Enrichment.RetryBaseDelayRaw, err)
		}
	}

	return nil
}
