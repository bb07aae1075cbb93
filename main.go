// Package main implements rhythm-sentry, a real-time log anomaly detection
// and triage service built on a two-tier vector index: Tier-1 rhythm
// fingerprints for novelty/frequency detection, Tier-2 forensic clusters
// for operator investigation.
//
// The service exposes an HTTP API (spec §6) for log ingestion, on-demand
// and periodic rhythm analysis, forensic cluster/triage queries, and the
// Control Registry (suppress/patch rules). A background worker runs the
// analysis procedure on a fixed interval; a separate health/metrics server
// exposes liveness, readiness, and Prometheus endpoints.
//
// Configuration is provided through environment variables (see
// internal/config), applied on top of an optional JSON file at CONFIG_FILE.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/srimon12/rhythm-sentry/internal/analysis"
	"github.com/srimon12/rhythm-sentry/internal/audit"
	"github.com/srimon12/rhythm-sentry/internal/config"
	"github.com/srimon12/rhythm-sentry/internal/evalcapture"
	"github.com/srimon12/rhythm-sentry/internal/forensic"
	"github.com/srimon12/rhythm-sentry/internal/health"
	"github.com/srimon12/rhythm-sentry/internal/httpapi"
	"github.com/srimon12/rhythm-sentry/internal/ingest"
	"github.com/srimon12/rhythm-sentry/internal/metrics"
	"github.com/srimon12/rhythm-sentry/internal/promotion"
	"github.com/srimon12/rhythm-sentry/internal/registry"
	"github.com/srimon12/rhythm-sentry/internal/tracing"
	"github.com/srimon12/rhythm-sentry/internal/vectorstore"
	"github.com/srimon12/rhythm-sentry/internal/worker"
)

// Build information - set at build time via ldflags
// For GoReleaser builds: -X main.version={{.Version}} -X main.commit={{.Commit}} ...
// For manual builds: go build -ldflags "-X main.version=0.5.0"
var (
	version = "dev"     // e.g., "v0.4.0" or "dev"
	commit  = "unknown" // Git commit SHA
	builtBy = "manual"  // "goreleaser" or "manual"
)

// main is the entry point for rhythm-sentry. It wires the Vector-store
// Gateway, Control Registry, and service packages, then serves the HTTP
// API and health/metrics endpoints until an unrecoverable init failure or
// a shutdown signal.
func main() {
	// Load .env file if it exists (optional, for development)
	_ = godotenv.Load()

	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync() // Ignore error on cleanup
	}()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting rhythm-sentry",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("built_by", builtBy),
		zap.String("vector_db_url", cfg.VectorDBURL),
	)

	if cfg.EnableTracing {
		shutdownOTel, err := tracing.InitOTel(tracing.OTelConfig{ServiceName: "rhythm-sentry", ServiceVersion: version, Enabled: true})
		if err != nil {
			logger.Warn("Failed to initialize OpenTelemetry, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownOTel(shutdownCtx)
			}()
		}
	}

	m := metrics.New(logger)

	vstore := vectorstore.New(cfg, logger, m)
	defer vstore.Close()

	bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), cfg.VectorDBTimeout)
	defer bootstrapCancel()
	if err := vstore.Bootstrap(bootstrapCtx); err != nil {
		logger.Fatal("Vector-store unreachable at startup", zap.Error(err))
	}

	evalCapturer := evalcapture.New(cfg.EvalsDir, logger)

	reg, err := registry.Open(cfg.RegistryDBPath, evalCapturer, logger)
	if err != nil {
		logger.Fatal("Durable registry store unreachable at startup", zap.Error(err))
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("Error closing registry store", zap.Error(err))
		}
	}()

	auditLogger := audit.NewLogger(logger, cfg.EnableAuditLog)

	var semanticEmbedder ingest.SemanticEmbedder
	if cfg.SemanticHashEnabled {
		semanticEmbedder = vstore.Embedder()
	}
	ingestPipeline := ingest.New(vstore, semanticEmbedder, m, logger)

	promoter := promotion.New(vstore, m, logger)
	analyzer := analysis.New(vstore, reg, promoter, m, logger)
	forensicSvc := forensic.New(vstore, reg, m, logger)

	checker := health.New(vstore, reg, logger)
	healthSrv := health.NewServer(checker, logger, cfg.HealthPort, cfg.HealthBindAddr, cfg.MetricsEndpoint)

	apiHandler := httpapi.NewHandler(ingestPipeline, analyzer, forensicSvc, reg, auditLogger, cfg.LiveLogPath)
	apiSrv := httpapi.NewServer(apiHandler, cfg.HTTPAddr, cfg.EnableTracing)

	analysisWorker := worker.New(cfg.AnalysisIntervalSec, cfg.AnalysisWindowSec, logger, func(ctx context.Context, windowSec int) (int, int, error) {
		result, err := analyzer.Analyze(ctx, windowSec)
		if err != nil {
			return 0, 0, err
		}
		return len(result.NovelAnomalies), len(result.FrequencyAnomalies), nil
	})

	ctx, cancel := context.WithCancel(context.Background())

	workerDone := make(chan struct{})
	go func() {
		analysisWorker.Run(ctx)
		close(workerDone)
	}()

	healthDone := make(chan error, 1)
	go func() {
		healthDone <- healthSrv.Start()
	}()

	apiDone := make(chan error, 1)
	go func() {
		apiDone <- apiSrv.Start()
	}()

	healthSrv.SetReady(true)
	logger.Info("rhythm-sentry is serving",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Int("health_port", cfg.HealthPort),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-apiDone:
		if err != nil {
			logger.Error("HTTP API server error", zap.Error(err))
		}
	case err := <-healthDone:
		if err != nil {
			logger.Error("Health server error", zap.Error(err))
		}
	}

	logger.Info("Initiating graceful shutdown", zap.Duration("timeout", cfg.ShutdownTimeout))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error shutting down HTTP API server", zap.Error(err))
	}
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error shutting down health server", zap.Error(err))
	}

	select {
	case <-workerDone:
		logger.Info("Periodic worker stopped")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded waiting for periodic worker",
			zap.Duration("timeout", cfg.ShutdownTimeout))
	}

	logger.Info("Shutdown complete")
}

// initLogger initializes and returns a zap logger.
// It creates a production logger if ENVIRONMENT=production, otherwise returns
// a development logger with more verbose output.
func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENVIRONMENT")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
