// ABOUTME: Configuration loading for parley-watch
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Broker  BrokerConfig  `toml:"broker"`
	Logging LoggingConfig `toml:"logging"`
}

type GatewayConfig struct {
	URL      string `toml:"url"`
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

type BrokerConfig struct {
	Kind  string      `toml:"kind"` // nats or redis
	NATS  NATSConfig  `toml:"nats"`
	Redis RedisConfig `toml:"redis"`
}

type NATSConfig struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

type RedisConfig struct {
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	ChannelPrefix string `toml:"channel_prefix"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// getConfigPath returns the path to the watch config file.
// Priority: PARLEY_WATCH_CONFIG env var > XDG_CONFIG_HOME/parley/watch.toml > ~/.config/parley/watch.toml
func getConfigPath() string {
	if envPath := os.Getenv("PARLEY_WATCH_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "watch.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "parley", "watch.toml")
}

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https scheme")
	}
	if c.Gateway.Email == "" {
		return fmt.Errorf("gateway.email is required")
	}
	if c.Gateway.Password == "" {
		return fmt.Errorf("gateway.password is required")
	}

	switch c.Broker.Kind {
	case "nats":
		if c.Broker.NATS.URL == "" {
			return fmt.Errorf("broker.nats.url is required")
		}
	case "redis":
		if c.Broker.Redis.Addr == "" {
			return fmt.Errorf("broker.redis.addr is required")
		}
	default:
		// The in-memory broker lives inside the gateway process.
		return fmt.Errorf("broker.kind must be nats or redis, got %q", c.Broker.Kind)
	}
	return nil
}
