// Package config loads connection settings from a layered default -> file
// -> environment-variable merge. File parsing uses gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rawkakani/denokv-postgres/internal/errs"
)

const envPrefix = "KVD_"

// Config is the set of recognized connection options.
type Config struct {
	URL                      string `yaml:"url"`
	MaxConnections           int    `yaml:"max_connections"`
	ConnectionTimeoutSeconds int    `yaml:"connection_timeout_seconds"`
	StatementTimeoutSeconds  int    `yaml:"statement_timeout_seconds"`
}

func defaults() Config {
	return Config{
		MaxConnections:           10,
		ConnectionTimeoutSeconds: 30,
		StatementTimeoutSeconds:  60,
	}
}

// Load builds a Config starting from defaults, layering a YAML file at path
// (if path is non-empty) on top, then applying KVD_-prefixed environment
// variable overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidConfig, "reading config file", err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(b, &fileCfg); err != nil {
			return nil, errs.Wrap(errs.InvalidConfig, "parsing config file", err)
		}
		mergeNonZero(&cfg, fileCfg)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded Config is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errs.New(errs.InvalidConfig, "url is required")
	}
	if c.MaxConnections <= 0 {
		return errs.New(errs.InvalidConfig, "max_connections must be positive")
	}
	if c.ConnectionTimeoutSeconds <= 0 {
		return errs.New(errs.InvalidConfig, "connection_timeout_seconds must be positive")
	}
	if c.StatementTimeoutSeconds <= 0 {
		return errs.New(errs.InvalidConfig, "statement_timeout_seconds must be positive")
	}
	return nil
}

func mergeNonZero(dst *Config, src Config) {
	if src.URL != "" {
		dst.URL = src.URL
	}
	if src.MaxConnections != 0 {
		dst.MaxConnections = src.MaxConnections
	}
	if src.ConnectionTimeoutSeconds != 0 {
		dst.ConnectionTimeoutSeconds = src.ConnectionTimeoutSeconds
	}
	if src.StatementTimeoutSeconds != 0 {
		dst.StatementTimeoutSeconds = src.StatementTimeoutSeconds
	}
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv(envPrefix + "URL"); ok {
		cfg.URL = v
	}
	if v, ok := lookupInt(envPrefix + "MAX_CONNECTIONS"); ok {
		cfg.MaxConnections = v
	}
	if v, ok := lookupInt(envPrefix + "CONNECTION_TIMEOUT_SECONDS"); ok {
		cfg.ConnectionTimeoutSeconds = v
	}
	if v, ok := lookupInt(envPrefix + "STATEMENT_TIMEOUT_SECONDS"); ok {
		cfg.StatementTimeoutSeconds = v
	}
}

func lookupInt(name string) (int, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// StatementTimeoutOption renders the statement_timeout session option value
// in milliseconds, ready to pass to the connection.
func (c Config) StatementTimeoutOption() string {
	return fmt.Sprintf("statement_timeout=%d", c.StatementTimeoutSeconds*1000)
}
