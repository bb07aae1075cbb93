// Package metrics provides metrics collection and reporting for the
// rhythm-sentry service.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Prometheus metric labels
const (
	labelOperation = "operation"
	labelStatus    = "status"
	labelType      = "type"
)

// Metrics tracks operational metrics with both internal counters and Prometheus metrics
type Metrics struct {
	// Gateway request metrics (internal atomic counters for fast access)
	totalRequests      atomic.Uint64
	successfulRequests atomic.Uint64
	failedRequests     atomic.Uint64
	retriedRequests    atomic.Uint64

	// Latency tracking
	totalLatency atomic.Int64 // microseconds
	latencyCount atomic.Uint64
	maxLatency   atomic.Int64
	minLatency   atomic.Int64

	rateLimitHits atomic.Uint64

	errorsMu       sync.RWMutex
	errorsByStatus map[int]uint64

	// Pipeline-operation tracking (ingest, analysis, promotion, forensic, registry)
	opsMu     sync.RWMutex
	opUsage   map[string]uint64
	opErrors  map[string]uint64
	opLatency map[string]int64 // microseconds

	// Domain counters
	logsIngested       atomic.Uint64
	noveltyAnomalies   atomic.Uint64
	frequencyAnomalies atomic.Uint64
	clustersPromoted   atomic.Uint64
	suppressedHits     atomic.Uint64

	logger *zap.Logger

	promRequestsTotal      prometheus.Counter
	promRequestsSuccessful prometheus.Counter
	promRequestsFailed     prometheus.Counter
	promRequestsRetried    prometheus.Counter
	promRateLimitHits      prometheus.Counter
	promRequestLatency     prometheus.Histogram
	promErrorsByStatus     *prometheus.CounterVec
	promOpCalls            *prometheus.CounterVec
	promOpErrors           *prometheus.CounterVec
	promOpLatency          *prometheus.HistogramVec

	promLogsIngested       prometheus.Counter
	promNoveltyAnomalies   prometheus.Counter
	promFrequencyAnomalies prometheus.Counter
	promClustersPromoted   prometheus.Counter
	promSuppressedHits     prometheus.Counter
}

// New creates a new metrics tracker with Prometheus integration.
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		errorsByStatus: make(map[int]uint64),
		opUsage:        make(map[string]uint64),
		opErrors:       make(map[string]uint64),
		opLatency:      make(map[string]int64),
		logger:         logger,

		promRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "rhythm_sentry",
			Name:      "gateway_requests_total",
			Help:      "Total number of requests made to the vector-store gateway",
		}),
		promRequestsSuccessful: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "rhythm_sentry",
			Name:      "gateway_requests_successful_total",
			Help:      "Total number of successful gateway requests",
		}),
		promRequestsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "rhythm_sentry",
			Name:      "gateway_requests_failed_total",
			Help:      "Total number of failed gateway requests",
		}),
		promRequestsRetried: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "rhythm_sentry",
			Name:      "gateway_requests_retried_total",
			Help:      "Total number of retried gateway requests",
		}),
		promRateLimitHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "rhythm_sentry",
			Name:      "gateway_rate_limit_hits_total",
			Help:      "Total number of client-side rate limit waits",
		}),
		promRequestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rhythm_sentry",
			Name:      "gateway_request_latency_seconds",
			Help:      "Gateway request latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		promErrorsByStatus: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rhythm_sentry",
			Name:      "gateway_errors_by_status_total",
			Help:      "Gateway errors by HTTP status code",
		}, []string{labelStatus}),

		promOpCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rhythm_sentry",
			Name:      "operation_calls_total",
			Help:      "Total pipeline operation invocations, labeled by operation name",
		}, []string{labelOperation}),
		promOpErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rhythm_sentry",
			Name:      "operation_errors_total",
			Help:      "Total pipeline operation errors, labeled by operation name",
		}, []string{labelOperation}),
		promOpLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rhythm_sentry",
			Name:      "operation_latency_seconds",
			Help:      "Pipeline operation latency in seconds, labeled by operation name",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{labelOperation}),

		promLogsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "rhythm_sentry",
			Name:      "logs_ingested_total",
			Help:      "Total log records accepted by the ingestion pipeline",
		}),
		promNoveltyAnomalies: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "rhythm_sentry",
			Name:      "novelty_anomalies_total",
			Help:      "Total novelty anomalies detected by the rhythm analyzer",
		}),
		promFrequencyAnomalies: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "rhythm_sentry",
			Name:      "frequency_anomalies_total",
			Help:      "Total frequency-spike anomalies detected by the rhythm analyzer",
		}),
		promClustersPromoted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "rhythm_sentry",
			Name:      "clusters_promoted_total",
			Help:      "Total event clusters promoted to Tier-2",
		}),
		promSuppressedHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "rhythm_sentry",
			Name:      "suppressed_hits_total",
			Help:      "Total anomaly candidates dropped due to suppression or patch rules",
		}),
	}

	m.minLatency.Store(int64(time.Hour))

	return m
}

// RecordRequest records a gateway request outcome.
func (m *Metrics) RecordRequest(success bool, latency time.Duration, statusCode int) {
	m.totalRequests.Add(1)

	m.promRequestsTotal.Inc()
	m.promRequestLatency.Observe(latency.Seconds())

	if success {
		m.successfulRequests.Add(1)
		m.promRequestsSuccessful.Inc()
	} else {
		m.failedRequests.Add(1)
		m.promRequestsFailed.Inc()
		m.recordErrorStatus(statusCode)
	}

	m.recordLatency(latency)
}

// RecordRetry records a gateway retry attempt.
func (m *Metrics) RecordRetry() {
	m.retriedRequests.Add(1)
	m.promRequestsRetried.Inc()
}

// RecordRateLimitHit records a client-side rate limit wait.
func (m *Metrics) RecordRateLimitHit() {
	m.rateLimitHits.Add(1)
	m.promRateLimitHits.Inc()
}

// RecordOperation records one pipeline operation's outcome and latency,
// labeled by operation name (e.g. "ingest", "rhythm_analysis", "promote",
// "forensic_query").
func (m *Metrics) RecordOperation(operation string, success bool, latency time.Duration) {
	m.opsMu.Lock()
	m.opUsage[operation]++
	if !success {
		m.opErrors[operation]++
	}
	if latency > 0 && m.opUsage[operation] > 0 {
		currentLatency := m.opLatency[operation]
		count := float64(m.opUsage[operation])
		avgLatency := (float64(currentLatency)*(count-1) + float64(latency.Microseconds())) / count
		m.opLatency[operation] = int64(avgLatency)
	}
	m.opsMu.Unlock()

	m.promOpCalls.WithLabelValues(operation).Inc()
	m.promOpLatency.WithLabelValues(operation).Observe(latency.Seconds())
	if !success {
		m.promOpErrors.WithLabelValues(operation).Inc()
	}
}

// RecordLogsIngested adds to the ingested-log counter.
func (m *Metrics) RecordLogsIngested(n int) {
	m.logsIngested.Add(uint64(n))
	m.promLogsIngested.Add(float64(n))
}

// RecordNoveltyAnomaly records one novelty anomaly detection.
func (m *Metrics) RecordNoveltyAnomaly() {
	m.noveltyAnomalies.Add(1)
	m.promNoveltyAnomalies.Inc()
}

// RecordFrequencyAnomaly records one frequency-spike anomaly detection.
func (m *Metrics) RecordFrequencyAnomaly() {
	m.frequencyAnomalies.Add(1)
	m.promFrequencyAnomalies.Inc()
}

// RecordClusterPromoted records one event cluster promoted to Tier-2.
func (m *Metrics) RecordClusterPromoted() {
	m.clustersPromoted.Add(1)
	m.promClustersPromoted.Inc()
}

// RecordSuppressedHit records one anomaly candidate dropped by the control registry.
func (m *Metrics) RecordSuppressedHit() {
	m.suppressedHits.Add(1)
	m.promSuppressedHits.Inc()
}

func (m *Metrics) recordLatency(latency time.Duration) {
	latencyUs := latency.Microseconds()

	m.totalLatency.Add(latencyUs)
	m.latencyCount.Add(1)

	for {
		currentMax := m.maxLatency.Load()
		if latencyUs <= currentMax {
			break
		}
		if m.maxLatency.CompareAndSwap(currentMax, latencyUs) {
			break
		}
	}

	for {
		currentMin := m.minLatency.Load()
		if latencyUs >= currentMin {
			break
		}
		if m.minLatency.CompareAndSwap(currentMin, latencyUs) {
			break
		}
	}
}

func (m *Metrics) recordErrorStatus(statusCode int) {
	if statusCode == 0 {
		return
	}

	m.errorsMu.Lock()
	m.errorsByStatus[statusCode]++
	m.errorsMu.Unlock()

	m.promErrorsByStatus.WithLabelValues(fmt.Sprintf("%d", statusCode)).Inc()
}

// GetStats returns current statistics.
func (m *Metrics) GetStats() Stats {
	m.errorsMu.RLock()
	errorsByStatus := make(map[int]uint64, len(m.errorsByStatus))
	for k, v := range m.errorsByStatus {
		errorsByStatus[k] = v
	}
	m.errorsMu.RUnlock()

	m.opsMu.RLock()
	opUsage := make(map[string]uint64, len(m.opUsage))
	opErrors := make(map[string]uint64, len(m.opErrors))
	opLatency := make(map[string]time.Duration, len(m.opLatency))
	for k, v := range m.opUsage {
		opUsage[k] = v
	}
	for k, v := range m.opErrors {
		opErrors[k] = v
	}
	for k, v := range m.opLatency {
		opLatency[k] = time.Duration(v) * time.Microsecond
	}
	m.opsMu.RUnlock()

	totalReq := m.totalRequests.Load()
	latencyCount := m.latencyCount.Load()

	var avgLatency time.Duration
	if latencyCount > 0 {
		avgLatencyMicros := float64(m.totalLatency.Load()) / float64(latencyCount)
		avgLatency = time.Duration(avgLatencyMicros) * time.Microsecond
	}

	return Stats{
		TotalRequests:      totalReq,
		SuccessfulRequests: m.successfulRequests.Load(),
		FailedRequests:     m.failedRequests.Load(),
		RetriedRequests:    m.retriedRequests.Load(),
		RateLimitHits:      m.rateLimitHits.Load(),
		AverageLatency:     avgLatency,
		MaxLatency:         time.Duration(m.maxLatency.Load()) * time.Microsecond,
		MinLatency:         time.Duration(m.minLatency.Load()) * time.Microsecond,
		ErrorsByStatus:     errorsByStatus,
		OperationUsage:     opUsage,
		OperationErrors:    opErrors,
		OperationLatency:   opLatency,
		LogsIngested:       m.logsIngested.Load(),
		NoveltyAnomalies:   m.noveltyAnomalies.Load(),
		FrequencyAnomalies: m.frequencyAnomalies.Load(),
		ClustersPromoted:   m.clustersPromoted.Load(),
		SuppressedHits:     m.suppressedHits.Load(),
	}
}

// LogStats logs current statistics.
func (m *Metrics) LogStats() {
	stats := m.GetStats()

	var errorRate float64
	if stats.TotalRequests > 0 {
		errorRate = float64(stats.FailedRequests) / float64(stats.TotalRequests) * 100
	}

	m.logger.Info("Operational metrics",
		zap.Uint64("gateway_total_requests", stats.TotalRequests),
		zap.Uint64("gateway_failed_requests", stats.FailedRequests),
		zap.Float64("gateway_error_rate_pct", errorRate),
		zap.Duration("gateway_avg_latency", stats.AverageLatency),
		zap.Uint64("logs_ingested", stats.LogsIngested),
		zap.Uint64("novelty_anomalies", stats.NoveltyAnomalies),
		zap.Uint64("frequency_anomalies", stats.FrequencyAnomalies),
		zap.Uint64("clusters_promoted", stats.ClustersPromoted),
		zap.Uint64("suppressed_hits", stats.SuppressedHits),
		zap.Any("operation_usage", stats.OperationUsage),
	)
}

// Stats represents current metrics.
type Stats struct {
	TotalRequests      uint64
	SuccessfulRequests uint64
	FailedRequests     uint64
	RetriedRequests    uint64
	RateLimitHits      uint64
	AverageLatency     time.Duration
	MaxLatency         time.Duration
	MinLatency         time.Duration
	ErrorsByStatus     map[int]uint64
	OperationUsage     map[string]uint64
	OperationErrors    map[string]uint64
	OperationLatency   map[string]time.Duration
	LogsIngested       uint64
	NoveltyAnomalies   uint64
	FrequencyAnomalies uint64
	ClustersPromoted   uint64
	SuppressedHits     uint64
}

// GetPrometheusRegistry returns the default Prometheus registry, usable
// with promhttp.HandlerFor().
func GetPrometheusRegistry() *prometheus.Registry {
	return prometheus.DefaultRegisterer.(*prometheus.Registry)
}
