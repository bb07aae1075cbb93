// Package config provides configuration management for the rhythm-sentry
// anomaly detection service.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all configuration for the service.
type Config struct {
	// Vector-store Gateway
	VectorDBURL            string `json:"vector_db_url"`
	VectorDBTimeout        time.Duration `json:"vector_db_timeout"`
	VectorShardNumber      int    `json:"vector_shard_number"`
	VectorReplicationFactor int   `json:"vector_replication_factor"`
	Tier1CollectionPrefix  string `json:"tier1_collection_prefix"`
	Tier2CollectionPrefix  string `json:"tier2_collection_prefix"`
	Tier1EmbedDim          int    `json:"tier1_embed_dim"`
	Tier2EmbedDim          int    `json:"tier2_embed_dim"`
	Tier1VectorMode        string `json:"tier1_vector_mode"` // "binary" or "dense"
	VectorBootstrapReset   bool   `json:"vector_bootstrap_reset"`

	// HTTP Client Configuration (gateway transport)
	Timeout         time.Duration `json:"timeout"`
	MaxRetries      int           `json:"max_retries"`
	RetryWaitMin    time.Duration `json:"retry_wait_min"`
	RetryWaitMax    time.Duration `json:"retry_wait_max"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	IdleConnTimeout time.Duration `json:"idle_conn_timeout"`

	// Rate Limiting against the vector-store
	RateLimit       int  `json:"rate_limit"`
	RateLimitBurst  int  `json:"rate_limit_burst"`
	EnableRateLimit bool `json:"enable_rate_limit"`

	// Durable Control Registry
	RegistryDBPath string `json:"registry_db_path"`

	// Eval Capture
	EvalsDir string `json:"evals_dir"`

	// Periodic Worker
	AnalysisIntervalSec int  `json:"analysis_interval_sec"`
	AnalysisWindowSec   int  `json:"analysis_window_sec"`
	SemanticHashEnabled bool `json:"semantic_hash_enabled"`

	// Observability
	EnableTracing   bool `json:"enable_tracing"`
	EnableAuditLog  bool `json:"enable_audit_log"`
	MetricsEndpoint bool `json:"metrics_endpoint"`

	// Health & Metrics HTTP Server
	HealthPort      int           `json:"health_port"`
	HealthBindAddr  string        `json:"health_bind_addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	// HTTP API (/api/v1)
	HTTPAddr    string `json:"http_addr"`
	LiveLogPath string `json:"live_log_path"`

	// Logging
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Load configuration from environment variables and an optional config file.
func Load() (*Config, error) {
	cfg := &Config{
		VectorDBURL:             "http://localhost:6333",
		VectorDBTimeout:         30 * time.Second,
		VectorShardNumber:       1,
		VectorReplicationFactor: 1,
		Tier1CollectionPrefix:   "tier1_rhythm",
		Tier2CollectionPrefix:   "tier2_forensic",
		Tier1EmbedDim:           64,
		Tier2EmbedDim:           256,
		Tier1VectorMode:         "binary",
		VectorBootstrapReset:    true,

		Timeout:         30 * time.Second,
		MaxRetries:      3,
		RetryWaitMin:    1 * time.Second,
		RetryWaitMax:    30 * time.Second,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,

		RateLimit:       100,
		RateLimitBurst:  20,
		EnableRateLimit: true,

		RegistryDBPath: "./data/registry.db",
		EvalsDir:       "./evals",

		AnalysisIntervalSec: 60,
		AnalysisWindowSec:   60,
		SemanticHashEnabled: false,

		EnableTracing:   true,
		EnableAuditLog:  true,
		MetricsEndpoint: true,

		HealthPort:      8080,
		HealthBindAddr:  "127.0.0.1",
		ShutdownTimeout: 30 * time.Second,

		HTTPAddr:    ":8090",
		LiveLogPath: "./data/live.jsonl",

		LogLevel:  "info",
		LogFormat: "json",
	}

	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid file path: path traversal detected")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 -- path is validated above
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return json.Unmarshal(data, cfg)
}

func loadFromEnv(cfg *Config) {
	loadStringEnvs(cfg)
	loadDurationEnvs(cfg)
	loadIntEnvs(cfg)
	loadBoolEnvs(cfg)
}

func loadStringEnvs(cfg *Config) {
	if v := os.Getenv("VECTOR_DB_URL"); v != "" {
		cfg.VectorDBURL = v
	}
	if v := os.Getenv("TIER1_COLLECTION_PREFIX"); v != "" {
		cfg.Tier1CollectionPrefix = v
	}
	if v := os.Getenv("TIER2_COLLECTION_PREFIX"); v != "" {
		cfg.Tier2CollectionPrefix = v
	}
	if v := os.Getenv("TIER1_VECTOR_MODE"); v != "" {
		cfg.Tier1VectorMode = v
	}
	if v := os.Getenv("REGISTRY_DB_PATH"); v != "" {
		cfg.RegistryDBPath = v
	}
	if v := os.Getenv("EVALS_DIR"); v != "" {
		cfg.EvalsDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("HEALTH_BIND_ADDR"); v != "" {
		cfg.HealthBindAddr = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("LIVE_LOG_PATH"); v != "" {
		cfg.LiveLogPath = v
	}
}

func loadDurationEnvs(cfg *Config) {
	if v := os.Getenv("VECTOR_DB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.VectorDBTimeout = d
		}
	}
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
}

func loadIntEnvs(cfg *Config) {
	intEnv := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			var n int
			if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
				*dst = n
			}
		}
	}
	intEnv("MAX_RETRIES", &cfg.MaxRetries)
	intEnv("RATE_LIMIT", &cfg.RateLimit)
	intEnv("RATE_LIMIT_BURST", &cfg.RateLimitBurst)
	intEnv("HEALTH_PORT", &cfg.HealthPort)
	intEnv("VECTOR_SHARD_NUMBER", &cfg.VectorShardNumber)
	intEnv("VECTOR_REPLICATION_FACTOR", &cfg.VectorReplicationFactor)
	intEnv("TIER1_EMBED_DIM", &cfg.Tier1EmbedDim)
	intEnv("TIER2_EMBED_DIM", &cfg.Tier2EmbedDim)
	intEnv("ANALYSIS_INTERVAL_SEC", &cfg.AnalysisIntervalSec)
	intEnv("ANALYSIS_WINDOW_SEC", &cfg.AnalysisWindowSec)
}

func loadBoolEnvs(cfg *Config) {
	boolEnv := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	boolEnv("ENABLE_RATE_LIMIT", &cfg.EnableRateLimit)
	boolEnv("ENABLE_TRACING", &cfg.EnableTracing)
	boolEnv("ENABLE_AUDIT_LOG", &cfg.EnableAuditLog)
	boolEnv("METRICS_ENDPOINT", &cfg.MetricsEndpoint)
	boolEnv("SEMANTIC_HASH_ENABLED", &cfg.SemanticHashEnabled)
	boolEnv("VECTOR_BOOTSTRAP_RESET", &cfg.VectorBootstrapReset)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.VectorDBURL == "" {
		return errors.New("VECTOR_DB_URL is required")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries must be non-negative")
	}
	if c.RateLimit <= 0 && c.EnableRateLimit {
		return errors.New("rate_limit must be positive when rate limiting is enabled")
	}
	if c.Tier1VectorMode != "binary" && c.Tier1VectorMode != "dense" {
		return fmt.Errorf("invalid tier1_vector_mode: %s", c.Tier1VectorMode)
	}
	if c.AnalysisIntervalSec <= 0 {
		return errors.New("analysis_interval_sec must be positive")
	}
	if c.AnalysisWindowSec <= 0 {
		return errors.New("analysis_window_sec must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}

// Redact returns a copy of the config with sensitive data removed.
// The vector-store is treated as an internal collaborator with no API key,
// so today there is nothing to mask; the method is kept so callers can log
// the config unconditionally without re-deciding this later.
func (c *Config) Redact() *Config {
	redacted := *c
	return &redacted
}
