package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LogConfig       `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Session   SessionConfig   `json:"session"`
	Generator GeneratorConfig `json:"generator"`

	// File is an optional TOML, YAML or JSON file overlaid on the environment
	File string `envconfig:"PREVIEW_CONFIG_FILE" json:"-"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string   `envconfig:"PORT" default:"8000" json:"port"`
	Host            string   `envconfig:"HOST" default:"0.0.0.0" json:"host"`
	ShutdownTimeout Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" json:"shutdown_timeout"`
	Gzip            bool     `envconfig:"GZIP_ENABLED" default:"true" json:"gzip"`
	AllowedOrigins  []string `envconfig:"CORS_ORIGINS" default:"*" json:"allowed_origins"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" json:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" json:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" json:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" json:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" json:"enabled"`
}

// SandboxConfig bounds what a single render may consume.
type SandboxConfig struct {
	ExecTimeout    Duration `envconfig:"PREVIEW_EXEC_TIMEOUT" default:"2s" json:"exec_timeout"`
	MaxSourceBytes int      `envconfig:"PREVIEW_MAX_SOURCE_BYTES" default:"524288" json:"max_source_bytes"`
	MaxDepth       int      `envconfig:"PREVIEW_MAX_DEPTH" default:"256" json:"max_depth"`
	Console        bool     `envconfig:"PREVIEW_CONSOLE" default:"true" json:"console"`
}

// SessionConfig holds preview session settings.
type SessionConfig struct {
	ReadyTimeout Duration `envconfig:"PREVIEW_READY_TIMEOUT" default:"5s" json:"ready_timeout"`
	MaxSessions  int      `envconfig:"PREVIEW_MAX_SESSIONS" default:"64" json:"max_sessions"`
	// BoundaryURL points at a remote boundary host; empty runs boundaries in-process
	BoundaryURL string `envconfig:"PREVIEW_BOUNDARY_URL" json:"boundary_url"`
}

// GeneratorConfig holds component generation service settings.
type GeneratorConfig struct {
	URL     string   `envconfig:"GENERATOR_URL" json:"url"`
	Timeout Duration `envconfig:"GENERATOR_TIMEOUT" default:"30s" json:"timeout"`
	Retries int      `envconfig:"GENERATOR_RETRIES" default:"3" json:"retries"`
	RPS     float64  `envconfig:"GENERATOR_RPS" default:"2" json:"rps"`
}

// Duration is a time.Duration written as "750ms" or "5s" in the
// environment and in config files.
type Duration time.Duration

// Std converts to time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText writes the duration in Go notation
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Load loads configuration from environment variables, then overlays the
// config file named by PREVIEW_CONFIG_FILE if set.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.File != "" {
		if err := cfg.Overlay(cfg.File); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Overlay applies the values present in a config file. Keys absent from the
// file keep their current value. The format follows the file extension.
func (c *Config) Overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var tree map[string]any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &tree)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &tree)
	case ".json":
		err = sonic.ConfigStd.Unmarshal(data, &tree)
	default:
		return fmt.Errorf("unsupported config file type %q", ext)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	// Normalize through JSON so every format shares one set of field tags
	normalized, err := sonic.ConfigStd.Marshal(tree)
	if err != nil {
		return fmt.Errorf("normalize config file %s: %w", path, err)
	}
	if err := sonic.ConfigStd.Unmarshal(normalized, c); err != nil {
		return fmt.Errorf("apply config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Sandbox.ExecTimeout <= 0:
		return fmt.Errorf("sandbox exec timeout must be positive")
	case c.Sandbox.MaxSourceBytes <= 0:
		return fmt.Errorf("sandbox max source bytes must be positive")
	case c.Sandbox.MaxDepth <= 0:
		return fmt.Errorf("sandbox max depth must be positive")
	case c.Session.ReadyTimeout < 0:
		return fmt.Errorf("session ready timeout must not be negative")
	case c.Session.MaxSessions < 0:
		return fmt.Errorf("max sessions must not be negative")
	case c.Generator.Retries < 0:
		return fmt.Errorf("generator retries must not be negative")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: Duration(10 * time.Second),
			Gzip:            true,
			AllowedOrigins:  []string{"*"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Sandbox: SandboxConfig{
			ExecTimeout:    Duration(2 * time.Second),
			MaxSourceBytes: 512 << 10,
			MaxDepth:       256,
			Console:        true,
		},
		Session: SessionConfig{
			ReadyTimeout: Duration(5 * time.Second),
			MaxSessions:  64,
		},
		Generator: GeneratorConfig{
			Timeout: Duration(30 * time.Second),
			Retries: 3,
			RPS:     2,
		},
	}
}
