// Package promotion implements the Promotion Service (spec §4.6): turns
// each emitted anomaly (already one rhythm_hash group) into an "event
// cluster" and writes it into the correct daily Tier-2 partition via the
// Vector-store Gateway.
package promotion

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/srimon12/rhythm-sentry/internal/analysis"
	"github.com/srimon12/rhythm-sentry/internal/metrics"
)

const maxSampleLogs = 5

// Gateway is the narrow slice of the vector-store gateway Promotion needs.
type Gateway interface {
	IngestTier2(ctx context.Context, payloads []map[string]interface{}) error
}

// Service builds EventCluster payloads from anomalies and upserts them.
type Service struct {
	gateway Gateway
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a promotion Service.
func New(gateway Gateway, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{gateway: gateway, metrics: m, logger: logger}
}

// Promote builds one EventCluster payload per anomaly (each anomaly is
// already grouped by rhythm_hash by the Rhythm Analyzer) and upserts them
// into Tier-2 (spec §4.6 steps 1-4). An anomaly with no sources is skipped
// as a logical invariant violation rather than silently promoted empty.
func (s *Service) Promote(ctx context.Context, anomalies []analysis.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}

	start := time.Now()
	payloads := make([]map[string]interface{}, 0, len(anomalies))

	for _, a := range anomalies {
		if len(a.Sources) == 0 {
			s.logger.Error("promotion invariant violated: anomaly has no source logs", zap.String("rhythm_hash", a.RhythmHash))
			continue
		}

		sources := append([]analysis.SourceLog{}, a.Sources...)
		sort.Slice(sources, func(i, j int) bool { return sources[i].TS < sources[j].TS })

		first := sources[0]
		last := sources[len(sources)-1]

		sampleLogs := make([]string, 0, maxSampleLogs)
		for i := 0; i < len(sources) && i < maxSampleLogs; i++ {
			sampleLogs = append(sampleLogs, sources[i].FullLogJSON)
		}

		payloads = append(payloads, map[string]interface{}{
			"entity_type":     "event_cluster",
			"rhythm_hash":     a.RhythmHash,
			"start_ts":        first.TS,
			"end_ts":          last.TS,
			"count":           len(sources),
			"service":         first.Service,
			"severity":        first.Severity,
			"anomaly_type":    string(a.Type),
			"anomaly_context": a.Context,
			"body":            first.Body,
			"sample_logs":     sampleLogs,
		})

		if s.metrics != nil {
			s.metrics.RecordClusterPromoted()
		}
	}

	if len(payloads) == 0 {
		return nil
	}

	err := s.gateway.IngestTier2(ctx, payloads)
	if s.metrics != nil {
		s.metrics.RecordOperation("promote", err == nil, time.Since(start))
	}
	return err
}
