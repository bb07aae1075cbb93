package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"VECTOR_DB_URL", "TIER1_COLLECTION_PREFIX", "TIER2_COLLECTION_PREFIX",
		"TIER1_VECTOR_MODE", "REGISTRY_DB_PATH", "EVALS_DIR", "LOG_LEVEL",
		"LOG_FORMAT", "HEALTH_BIND_ADDR", "HTTP_ADDR", "VECTOR_DB_TIMEOUT",
		"HTTP_TIMEOUT", "SHUTDOWN_TIMEOUT", "MAX_RETRIES", "RATE_LIMIT",
		"RATE_LIMIT_BURST", "HEALTH_PORT", "ANALYSIS_INTERVAL_SEC",
		"ANALYSIS_WINDOW_SEC", "ENABLE_RATE_LIMIT", "ENABLE_TRACING",
		"ENABLE_AUDIT_LOG", "METRICS_ENDPOINT", "SEMANTIC_HASH_ENABLED",
		"VECTOR_BOOTSTRAP_RESET", "CONFIG_FILE", "LIVE_LOG_PATH",
	} {
		_ = os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.VectorDBURL != "http://localhost:6333" {
		t.Errorf("expected default VectorDBURL, got %q", cfg.VectorDBURL)
	}
	if cfg.AnalysisIntervalSec != 60 {
		t.Errorf("expected default AnalysisIntervalSec=60, got %d", cfg.AnalysisIntervalSec)
	}
	if cfg.Tier1VectorMode != "binary" {
		t.Errorf("expected default Tier1VectorMode=binary, got %q", cfg.Tier1VectorMode)
	}
	if !cfg.VectorBootstrapReset {
		t.Errorf("expected VectorBootstrapReset default true")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("VECTOR_DB_URL", "http://vdb.internal:6333")
	os.Setenv("ANALYSIS_INTERVAL_SEC", "30")
	os.Setenv("TIER1_VECTOR_MODE", "dense")
	os.Setenv("SEMANTIC_HASH_ENABLED", "true")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.VectorDBURL != "http://vdb.internal:6333" {
		t.Errorf("env override not applied for VectorDBURL: %q", cfg.VectorDBURL)
	}
	if cfg.AnalysisIntervalSec != 30 {
		t.Errorf("env override not applied for AnalysisIntervalSec: %d", cfg.AnalysisIntervalSec)
	}
	if cfg.Tier1VectorMode != "dense" {
		t.Errorf("env override not applied for Tier1VectorMode: %q", cfg.Tier1VectorMode)
	}
	if !cfg.SemanticHashEnabled {
		t.Errorf("env override not applied for SemanticHashEnabled")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"missing url", func(c *Config) { c.VectorDBURL = "" }, true},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, true},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, true},
		{"bad vector mode", func(c *Config) { c.Tier1VectorMode = "sparse" }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"zero interval", func(c *Config) { c.AnalysisIntervalSec = 0 }, true},
		{"valid", func(c *Config) {}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() returned error: %v", err)
			}
			tc.mutate(cfg)
			err = cfg.Validate()
			if tc.wantErr && err == nil {
				t.Errorf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestRedactIsSafeCopy(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	redacted := cfg.Redact()
	redacted.VectorDBURL = "mutated"
	if cfg.VectorDBURL == "mutated" {
		t.Errorf("Redact should return an independent copy")
	}
}

func TestDurationEnvParsing(t *testing.T) {
	clearEnv(t)
	os.Setenv("SHUTDOWN_TIMEOUT", "5s")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("expected ShutdownTimeout=5s, got %v", cfg.ShutdownTimeout)
	}
}
