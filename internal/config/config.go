// ABOUTME: Configuration loading and parsing for the console client core.
// ABOUTME: YAML with environment variable expansion; retry/backoff policy as named fields.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete client configuration. Every policy constant the core
// uses (retry caps, typing window, backoff) lives here as a named field rather
// than a buried literal.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Offline  OfflineConfig  `yaml:"offline"`
	Typing   TypingConfig   `yaml:"typing"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds backend endpoint configuration.
type ServerConfig struct {
	// SocketURL is the realtime websocket endpoint (ws:// or wss://).
	SocketURL string `yaml:"socket_url"`
	// APIURL is the REST base URL that queued mutations replay against.
	APIURL string `yaml:"api_url"`
}

// AuthConfig holds the session credential.
type AuthConfig struct {
	Token    string `yaml:"token"`
	TenantID string `yaml:"tenant_id"`
}

// RealtimeConfig holds connection lifecycle policy.
type RealtimeConfig struct {
	// ReconnectCap bounds automatic reconnection attempts after a transient
	// loss. Exceeding it surfaces a terminal failure notice.
	ReconnectCap int `yaml:"reconnect_cap"`

	ReconnectBase time.Duration `yaml:"-"`
	ReconnectMax  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ReconnectBaseRaw string `yaml:"reconnect_base"`
	ReconnectMaxRaw  string `yaml:"reconnect_max"`
}

// OfflineConfig holds durability layer policy.
type OfflineConfig struct {
	// DatabasePath is where the SQLite blob store lives.
	DatabasePath string `yaml:"database_path"`
	// RetryCap bounds replay attempts per queued action; an action failing
	// RetryCap times is dropped and reported as a terminal failure.
	RetryCap int `yaml:"retry_cap"`
}

// TypingConfig holds typing indicator policy.
type TypingConfig struct {
	// IdleWindow is the silence duration after which a typing signal
	// auto-expires, locally and for remote peers.
	IdleWindow time.Duration `yaml:"-"`

	IdleWindowRaw string `yaml:"idle_window"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration with every policy knob at its documented
// default: reconnect cap 5, replay retry cap 3, typing window 3s.
func Default() *Config {
	return &Config{
		Realtime: RealtimeConfig{
			ReconnectCap:  5,
			ReconnectBase: 500 * time.Millisecond,
			ReconnectMax:  10 * time.Second,
		},
		Offline: OfflineConfig{
			RetryCap: 3,
		},
		Typing: TypingConfig{
			IdleWindow: 3 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded and
// duration strings are parsed. Fields absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and sane.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.SocketURL == "" {
		return fmt.Errorf("server.socket_url is required")
	}
	if c.Server.APIURL == "" {
		return fmt.Errorf("server.api_url is required")
	}
	if c.Offline.DatabasePath == "" {
		return fmt.Errorf("offline.database_path is required")
	}
	if c.Realtime.ReconnectCap < 1 {
		return fmt.Errorf("realtime.reconnect_cap must be at least 1")
	}
	if c.Offline.RetryCap < 1 {
		return fmt.Errorf("offline.retry_cap must be at least 1")
	}
	if c.Typing.IdleWindow <= 0 {
		return fmt.Errorf("typing.idle_window must be positive")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Realtime.ReconnectBaseRaw != "" {
		cfg.Realtime.ReconnectBase, err = time.ParseDuration(cfg.Realtime.ReconnectBaseRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_base %q: %w", cfg.Realtime.ReconnectBaseRaw, err)
		}
	}

	if cfg.Realtime.ReconnectMaxRaw != "" {
		cfg.Realtime.ReconnectMax, err = time.ParseDuration(cfg.Realtime.ReconnectMaxRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_max %q: %w", cfg.Realtime.ReconnectMaxRaw, err)
		}
	}

	if cfg.Typing.IdleWindowRaw != "" {
		cfg.Typing.IdleWindow, err = time.ParseDuration(cfg.Typing.IdleWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_window %q: %w", cfg.Typing.IdleWindowRaw, err)
		}
	}

	return nil
}
