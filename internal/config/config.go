// ABOUTME: Configuration loading and parsing for the qualia chat client
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete qualia client configuration
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Polling  PollingConfig  `yaml:"polling"`
	Storage  StorageConfig  `yaml:"storage"`
	Session  SessionConfig  `yaml:"session"`
	Caches   CachesConfig   `yaml:"caches"`
	Search   SearchConfig   `yaml:"search"`
	Speech   SpeechConfig   `yaml:"speech"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProviderConfig holds assistant-run provider connection settings
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// PollingConfig holds run-completion polling bounds
type PollingConfig struct {
	Interval time.Duration `yaml:"-"`
	MaxWait  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IntervalRaw string `yaml:"interval"`
	MaxWaitRaw  string `yaml:"max_wait"`
}

// StorageConfig holds client state database configuration
type StorageConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig holds conversation session behavior
type SessionConfig struct {
	PageSize       int    `yaml:"page_size"`
	WelcomeMessage string `yaml:"welcome_message"`
}

// CacheConfig holds bounds for a single cache instance
type CacheConfig struct {
	Size int `yaml:"size"`

	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// CachesConfig holds the bounds of the three cache instances
type CachesConfig struct {
	Messages CacheConfig `yaml:"messages"`
	Search   CacheConfig `yaml:"search"`
	Audio    CacheConfig `yaml:"audio"`
}

// SearchConfig holds web search API configuration
type SearchConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	EngineID string `yaml:"engine_id"`
}

// SpeechConfig holds text-to-speech API configuration
type SpeechConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
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

	applyDefaults(&cfg)

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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.Polling.Interval < 0 || c.Polling.MaxWait < 0 {
		return fmt.Errorf("polling intervals must not be negative")
	}

	return nil
}

// applyDefaults fills zero fields with the standard cache bounds and timings
func applyDefaults(cfg *Config) {
	if cfg.Polling.Interval == 0 {
		cfg.Polling.Interval = time.Second
	}
	if cfg.Polling.MaxWait == 0 {
		cfg.Polling.MaxWait = 30 * time.Second
	}
	if cfg.Session.PageSize == 0 {
		cfg.Session.PageSize = 20
	}
	if cfg.Caches.Messages.Size == 0 {
		cfg.Caches.Messages.Size = 10
	}
	// TTL defaults apply only when the field is absent; an explicit "0s"
	// disables expiry for that cache.
	if cfg.Caches.Messages.TTLRaw == "" {
		cfg.Caches.Messages.TTL = 5 * time.Minute
	}
	if cfg.Caches.Search.Size == 0 {
		cfg.Caches.Search.Size = 20
	}
	if cfg.Caches.Search.TTLRaw == "" {
		cfg.Caches.Search.TTL = 10 * time.Minute
	}
	if cfg.Caches.Audio.Size == 0 {
		cfg.Caches.Audio.Size = 50
	}
	// The audio cache deliberately has no TTL: synthesized audio for
	// identical text/voice/rate/pitch never goes stale.
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Provider.RequestTimeoutRaw != "" {
		cfg.Provider.RequestTimeout, err = time.ParseDuration(cfg.Provider.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Provider.RequestTimeoutRaw, err)
		}
	}

	if cfg.Polling.IntervalRaw != "" {
		cfg.Polling.Interval, err = time.ParseDuration(cfg.Polling.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing polling interval %q: %w", cfg.Polling.IntervalRaw, err)
		}
	}

	if cfg.Polling.MaxWaitRaw != "" {
		cfg.Polling.MaxWait, err = time.ParseDuration(cfg.Polling.MaxWaitRaw)
		if err != nil {
			return fmt.Errorf("parsing polling max_wait %q: %w", cfg.Polling.MaxWaitRaw, err)
		}
	}

	for name, cc := range map[string]*CacheConfig{
		"messages": &cfg.Caches.Messages,
		"search":   &cfg.Caches.Search,
		"audio":    &cfg.Caches.Audio,
	} {
		if cc.TTLRaw == "" {
			continue
		}
		cc.TTL, err = time.ParseDuration(cc.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing caches.%s.ttl %q: %w", name, cc.TTLRaw, err)
		}
	}

	return nil
}
