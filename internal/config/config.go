/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string
	InstanceID  string

	DBBackend DatabaseBackend
	DBDSN     string

	// Render node configuration. NodesFile, when set, points at a YAML
	// roster and overrides the single NodeAddr/NodePassword pair.
	NodeAddr     string
	NodePassword string
	NodeSecure   bool
	NodesFile    string

	// Playback defaults applied to new sessions.
	WatchdogMargin time.Duration
	HistoryDepth   int
	DefaultVolume  int

	// Redis snapshot cache. Empty RedisAddr disables it.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS event publishing. Empty NATSURL disables it.
	NATSURL string

	// API auth. Empty signing key leaves the API unauthenticated.
	JWTSigningKey string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("BRAGI_ENV", "development"),
		HTTPBind:    getEnv("BRAGI_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("BRAGI_HTTP_PORT", 8080),
		MetricsBind: getEnv("BRAGI_METRICS_BIND", "127.0.0.1:9000"),
		InstanceID:  getEnv("BRAGI_INSTANCE_ID", ""),

		DBBackend: DatabaseBackend(getEnv("BRAGI_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:     getEnv("BRAGI_DB_DSN", "file:bragi_sessions.db?_pragma=busy_timeout(5000)"),

		NodeAddr:     getEnv("BRAGI_NODE_ADDR", "localhost:2333"),
		NodePassword: getEnv("BRAGI_NODE_PASSWORD", "youshallnotpass"),
		NodeSecure:   getEnvBool("BRAGI_NODE_SECURE", false),
		NodesFile:    getEnv("BRAGI_NODES_FILE", ""),

		WatchdogMargin: time.Duration(getEnvInt("BRAGI_WATCHDOG_MARGIN_SECONDS", 2)) * time.Second,
		HistoryDepth:   getEnvInt("BRAGI_HISTORY_DEPTH", 50),
		DefaultVolume:  getEnvInt("BRAGI_DEFAULT_VOLUME", 100),

		RedisAddr:     getEnv("BRAGI_REDIS_ADDR", ""),
		RedisPassword: getEnv("BRAGI_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("BRAGI_REDIS_DB", 0),

		NATSURL: getEnv("BRAGI_NATS_URL", ""),

		JWTSigningKey: getEnv("BRAGI_JWT_SIGNING_KEY", ""),

		TracingEnabled:    getEnvBool("BRAGI_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("BRAGI_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("BRAGI_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.NodeAddr == "" && cfg.NodesFile == "" {
		return nil, fmt.Errorf("BRAGI_NODE_ADDR or BRAGI_NODES_FILE must be provided")
	}

	if cfg.WatchdogMargin <= 0 {
		return nil, fmt.Errorf("BRAGI_WATCHDOG_MARGIN_SECONDS must be positive")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.NodePassword == "" || strings.EqualFold(cfg.NodePassword, "youshallnotpass") {
			return nil, fmt.Errorf("BRAGI_NODE_PASSWORD must be set to a non-default value in production")
		}
		if cfg.JWTSigningKey == "" {
			return nil, fmt.Errorf("BRAGI_JWT_SIGNING_KEY must be provided in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"NODE_ADDR":       "use BRAGI_NODE_ADDR",
		"NODE_PASSWORD":   "use BRAGI_NODE_PASSWORD",
		"JWT_SIGNING_KEY": "use BRAGI_JWT_SIGNING_KEY",
		"TRACING_ENABLED": "use BRAGI_TRACING_ENABLED",
		"OTLP_ENDPOINT":   "use BRAGI_OTLP_ENDPOINT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
