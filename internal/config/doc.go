// Package config handles configuration loading for parley-gateway.
//
// # Configuration File
//
// The gateway reads a single YAML file. DefaultPath resolves it as:
//
//  1. Path from PARLEY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/parley/gateway.yaml
//  3. ~/.config/parley/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PARLEY_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//	  shutdown_timeout: "10s"
//
//	database:
//	  path: "/var/lib/parley/gateway.db"
//
//	auth:
//	  jwt_secret: "${PARLEY_JWT_SECRET}"  # at least 32 bytes
//	  token_ttl: "24h"
//
//	broker:
//	  kind: "nats"          # memory, nats, redis
//	  dedupe_ttl: "5m"
//	  dedupe_size: 1024
//	  nats:
//	    url: "nats://127.0.0.1:4222"
//	    subject_prefix: "parley"
//	    reconnect_wait: "2s"
//	  redis:
//	    addr: "127.0.0.1:6379"
//	    password: "${REDIS_PASSWORD}"
//	    db: 0
//	    channel_prefix: "parley"
//
//	conversations:
//	  message_limit: 20
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Durations use time.ParseDuration syntax. Missing optional values get
// defaults before Validate runs.
package config
