// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, duration parsing and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "gateway.yaml")

	configContent := `
server:
  http_addr: "127.0.0.1:8080"
  shutdown_timeout: "5s"

database:
  path: "./test.db"

auth:
  jwt_secret: "` + validSecret + `"
  token_ttl: "12h"

broker:
  kind: nats
  dedupe_ttl: "2m"
  dedupe_size: 512
  nats:
    url: "nats://127.0.0.1:4222"
    name: "parley-test"
    subject_prefix: "parley.test"
    reconnect_wait: "250ms"

conversations:
  message_limit: 50

logging:
  level: "debug"
  format: "json"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want %v", cfg.Server.ShutdownTimeout, 5*time.Second)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want %v", cfg.Auth.TokenTTL, 12*time.Hour)
	}
	if cfg.Broker.Kind != BrokerNATS {
		t.Errorf("Broker.Kind = %q, want %q", cfg.Broker.Kind, BrokerNATS)
	}
	if cfg.Broker.DedupeTTL != 2*time.Minute {
		t.Errorf("Broker.DedupeTTL = %v, want %v", cfg.Broker.DedupeTTL, 2*time.Minute)
	}
	if cfg.Broker.DedupeSize != 512 {
		t.Errorf("Broker.DedupeSize = %d, want 512", cfg.Broker.DedupeSize)
	}
	if cfg.Broker.NATS.URL != "nats://127.0.0.1:4222" {
		t.Errorf("Broker.NATS.URL = %q", cfg.Broker.NATS.URL)
	}
	if cfg.Broker.NATS.SubjectPrefix != "parley.test" {
		t.Errorf("Broker.NATS.SubjectPrefix = %q", cfg.Broker.NATS.SubjectPrefix)
	}
	if cfg.Broker.NATS.ReconnectWait != 250*time.Millisecond {
		t.Errorf("Broker.NATS.ReconnectWait = %v, want %v", cfg.Broker.NATS.ReconnectWait, 250*time.Millisecond)
	}
	if cfg.Conversations.MessageLimit != 50 {
		t.Errorf("Conversations.MessageLimit = %d, want 50", cfg.Conversations.MessageLimit)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  http_addr: ":8080"
database:
  path: "parley.db"
auth:
  jwt_secret: "` + validSecret + `"
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Broker.Kind != BrokerMemory {
		t.Errorf("Broker.Kind = %q, want %q", cfg.Broker.Kind, BrokerMemory)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 10s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 24h", cfg.Auth.TokenTTL)
	}
	if cfg.Conversations.MessageLimit != 20 {
		t.Errorf("Conversations.MessageLimit = %d, want 20", cfg.Conversations.MessageLimit)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("PARLEY_TEST_SECRET", validSecret)
	t.Setenv("PARLEY_TEST_REDIS", "redis.internal:6379")

	configPath := filepath.Join(t.TempDir(), "gateway.yaml")
	configContent := `
server:
  http_addr: ":8080"
database:
  path: "parley.db"
auth:
  jwt_secret: "${PARLEY_TEST_SECRET}"
broker:
  kind: redis
  redis:
    addr: "${PARLEY_TEST_REDIS}"
    password: "${PARLEY_TEST_UNSET}"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != validSecret {
		t.Errorf("Auth.JWTSecret = %q, want expanded value", cfg.Auth.JWTSecret)
	}
	if cfg.Broker.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Broker.Redis.Addr = %q, want %q", cfg.Broker.Redis.Addr, "redis.internal:6379")
	}
	if cfg.Broker.Redis.Password != "" {
		t.Errorf("Broker.Redis.Password = %q, want empty for unset variable", cfg.Broker.Redis.Password)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/gateway.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("error = %v, want reading config file", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	if err == nil {
		t.Fatal("Parse() expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("error = %v, want parsing config file", err)
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte(`
server:
  http_addr: ":8080"
database:
  path: "parley.db"
auth:
  jwt_secret: "` + validSecret + `"
  token_ttl: "forever"
`))
	if err == nil {
		t.Fatal("Parse() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "auth.token_ttl") {
		t.Errorf("error = %v, want mention of auth.token_ttl", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server:   ServerConfig{HTTPAddr: ":8080"},
			Database: DatabaseConfig{Path: "parley.db"},
			Auth:     AuthConfig{JWTSecret: validSecret},
			Broker:   BrokerConfig{Kind: BrokerMemory},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "auth.jwt_secret"},
		{"nats without url", func(c *Config) { c.Broker.Kind = BrokerNATS }, "broker.nats.url"},
		{"redis without addr", func(c *Config) { c.Broker.Kind = BrokerRedis }, "broker.redis.addr"},
		{"unknown broker", func(c *Config) { c.Broker.Kind = "kafka" }, "broker.kind"},
		{"negative message limit", func(c *Config) { c.Conversations.MessageLimit = -1 }, "message_limit"},
		{"nats with url", func(c *Config) {
			c.Broker.Kind = BrokerNATS
			c.Broker.NATS.URL = "nats://localhost:4222"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Run("explicit override", func(t *testing.T) {
		t.Setenv("PARLEY_CONFIG", "/etc/parley/custom.yaml")
		if got := DefaultPath(); got != "/etc/parley/custom.yaml" {
			t.Errorf("DefaultPath() = %q", got)
		}
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("PARLEY_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
		want := filepath.Join("/tmp/xdg", "parley", "gateway.yaml")
		if got := DefaultPath(); got != want {
			t.Errorf("DefaultPath() = %q, want %q", got, want)
		}
	})
}
