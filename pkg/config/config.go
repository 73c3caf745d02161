package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration, loaded from YAML with env overrides.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Limits     LimitsConfig     `yaml:"limits"`
	Autosave   AutosaveConfig   `yaml:"autosave"`
	Federation FederationConfig `yaml:"federation"`
	Accounts   AccountsConfig   `yaml:"accounts"`
}

// ServerConfig holds listen and public addressing settings. PublicURL is
// what peers dial to reach this server; PublicName is the display name
// users of remote servers see after the '@'.
type ServerConfig struct {
	Address    string `yaml:"address"`
	Port       int    `yaml:"port"`
	PublicURL  string `yaml:"public_url"`
	PublicName string `yaml:"public_name"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LimitsConfig bounds request bodies and credential-endpoint rates.
// MaxBodySize accepts human sizes ("24MB").
type LimitsConfig struct {
	MaxBodySize string  `yaml:"max_body_size"`
	RPS         float64 `yaml:"rps"`
	Burst       int     `yaml:"burst"`
}

// AutosaveConfig drives the dirty-state flusher. Cron wins over Interval
// when both are set.
type AutosaveConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	Cron            string `yaml:"cron"`
}

type FederationConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AccountsConfig controls signup and the system actor's presented profile.
type AccountsConfig struct {
	AllowSignups       bool   `yaml:"allow_signups"`
	SystemProfileName  string `yaml:"system_profile_name"`
	TermsOfServiceFile string `yaml:"terms_of_service_file"`
}

var (
	mu      sync.RWMutex
	current *Config
)

// Set stores the canonical running config.
func Set(c *Config) {
	mu.Lock()
	defer mu.Unlock()
	current = c
}

// Get returns the canonical running config, or defaults when unset.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Default()
	}
	return current
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	c.Server.Address = ""
	c.Server.Port = 4268
	c.Storage.DBPath = "./.database"
	c.Logging.Level = "info"
	c.Limits.MaxBodySize = "24MB"
	c.Limits.RPS = 5
	c.Limits.Burst = 10
	c.Autosave.IntervalSeconds = 300
	c.Federation.Enabled = true
	c.Accounts.AllowSignups = true
	c.Accounts.SystemProfileName = "Flock"
	return c
}

// Load reads a YAML config file over the defaults. A missing file is not
// an error; env overrides apply last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FLOCK_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("FLOCK_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("FLOCK_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("FLOCK_PUBLIC_NAME"); v != "" {
		cfg.Server.PublicName = v
	}
	if v := os.Getenv("FLOCK_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("FLOCK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FLOCK_ALLOW_SIGNUPS"); v != "" {
		cfg.Accounts.AllowSignups = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("FLOCK_FEDERATION"); v != "" {
		cfg.Federation.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// SelfURL returns the URL peers should dial for this server, falling back
// to the listen port on localhost when no public URL is configured.
func (c *Config) SelfURL() string {
	if c.Server.PublicURL != "" {
		return strings.TrimSuffix(c.Server.PublicURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", c.Server.Port)
}
