// Package config provides configuration management for the gantry loader.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigDir returns the default config directory (~/.gantry).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".gantry"), nil
}

// DefaultConfigPath returns the default config file path (~/.gantry/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// SourcesConfig holds the four construct source roots.
type SourcesConfig struct {
	Local    string `yaml:"local,omitempty"`
	Override string `yaml:"override,omitempty"`
	Registry string `yaml:"registry,omitempty"`
	Pack     string `yaml:"pack,omitempty"`
}

// RegistryConfig holds the key registry settings.
type RegistryConfig struct {
	URL string `yaml:"url,omitempty"`
	// FetchTimeoutSeconds bounds each key fetch (default: 5).
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds,omitempty"`
	// MaxKeyAgeHours before a cached registry key is stale (default: 24).
	MaxKeyAgeHours int `yaml:"max_key_age_hours,omitempty"`
}

// LoaderConfig holds resolver settings.
type LoaderConfig struct {
	// Workers bounds concurrent license validations (default: 4).
	Workers int `yaml:"workers,omitempty"`
}

// CacheConfig holds key cache persistence settings.
type CacheConfig struct {
	// Dir is where keys.db lives (default: the config directory).
	Dir string `yaml:"dir,omitempty"`
	// Persist enables the on-disk key cache.
	Persist bool `yaml:"persist,omitempty"`
}

// ServerConfig holds settings for the serve daemon.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
	// RefreshSchedule is a cron expression for stale-key refresh
	// (default: "@every 1h").
	RefreshSchedule string `yaml:"refresh_schedule,omitempty"`
}

// Config is the loader configuration.
type Config struct {
	Sources       SourcesConfig  `yaml:"sources"`
	Registry      RegistryConfig `yaml:"registry"`
	Loader        LoaderConfig   `yaml:"loader,omitempty"`
	Cache         CacheConfig    `yaml:"cache,omitempty"`
	BundledKeyDir string         `yaml:"bundled_key_dir,omitempty"`
	Server        ServerConfig   `yaml:"server,omitempty"`
}

// FetchTimeout returns the registry fetch timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	if c.Registry.FetchTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Registry.FetchTimeoutSeconds) * time.Second
}

// MaxKeyAge returns the registry key freshness window as a duration.
func (c *Config) MaxKeyAge() time.Duration {
	if c.Registry.MaxKeyAgeHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Registry.MaxKeyAgeHours) * time.Hour
}

// Workers returns the bounded validation pool size.
func (c *Config) Workers() int {
	if c.Loader.Workers <= 0 {
		return 4
	}
	return c.Loader.Workers
}

// ListenAddr returns the admin server listen address.
func (c *Config) ListenAddr() string {
	if c.Server.ListenAddr == "" {
		return "127.0.0.1:8465"
	}
	return c.Server.ListenAddr
}

// RefreshSchedule returns the stale-key refresh cron expression.
func (c *Config) RefreshSchedule() string {
	if c.Server.RefreshSchedule == "" {
		return "@every 1h"
	}
	return c.Server.RefreshSchedule
}

// CacheDir returns the key cache directory, defaulting to the config dir.
func (c *Config) CacheDir() (string, error) {
	if c.Cache.Dir != "" {
		return c.Cache.Dir, nil
	}
	return DefaultConfigDir()
}

// IsConfigured reports whether any source root has been set.
func (c *Config) IsConfigured() bool {
	return c.Validate() == nil
}

// Validate checks that the configuration can drive a load run.
func (c *Config) Validate() error {
	if c.Sources.Local == "" && c.Sources.Override == "" &&
		c.Sources.Registry == "" && c.Sources.Pack == "" {
		return errors.New("at least one source root is required")
	}
	return nil
}

// Load reads the configuration from the given path. A missing file returns
// an empty config. The GANTRY_REGISTRY_URL environment variable overrides
// the registry URL.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if url := os.Getenv("GANTRY_REGISTRY_URL"); url != "" {
		cfg.Registry.URL = url
	}

	return cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Save writes the configuration to the given path, creating directories as
// needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}
