// Package ingest implements the Ingestion Pipeline (spec §4.4): parses a
// batch of log records, fingerprints each one, and upserts Tier-1 points
// into the Vector-store Gateway without waiting on commit acknowledgement.
package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/srimon12/rhythm-sentry/internal/fingerprint"
	"github.com/srimon12/rhythm-sentry/internal/logrecord"
	"github.com/srimon12/rhythm-sentry/internal/metrics"
	"github.com/srimon12/rhythm-sentry/internal/tracing"
)

// Gateway is the narrow slice of the vector-store gateway the pipeline
// needs, kept local to avoid a direct dependency on internal/vectorstore's
// full surface.
type Gateway interface {
	UpsertTier1(ctx context.Context, payloads []map[string]interface{}) error
}

// SemanticEmbedder mirrors fingerprint.SemanticEmbedder so callers can pass
// the gateway's embedder straight through without an adapter type.
type SemanticEmbedder = fingerprint.SemanticEmbedder

// Pipeline accepts batches of log records and turns them into Tier-1 points.
type Pipeline struct {
	gateway  Gateway
	semantic SemanticEmbedder // nil unless semantic hashing is enabled
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates a Pipeline. semantic may be nil to omit the semantic_hash
// fingerprint segment (spec §9 Open Question, default off).
func New(gateway Gateway, semantic SemanticEmbedder, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{gateway: gateway, semantic: semantic, metrics: m, logger: logger}
}

// IngestBatch parses raw (flat or nested-OTLP, auto-detected), fingerprints
// every well-formed record, and upserts the resulting Tier-1 points. Per
// spec §4.4 step 1, malformed records are dropped with a warning and do not
// fail the batch; only a Gateway error fails the whole call.
func (p *Pipeline) IngestBatch(ctx context.Context, raw []byte) (int, error) {
	start := time.Now()

	var records []logrecord.Record
	var parseErrs []error
	if logrecord.IsOTLPShaped(raw) {
		records, parseErrs = logrecord.ParseOTLPBatch(raw)
	} else {
		records, parseErrs = logrecord.ParseFlatBatch(raw)
	}

	ctx, span := tracing.IngestSpan(ctx, len(records))
	defer span.End()

	for _, err := range parseErrs {
		p.logger.Warn("dropping malformed log record", zap.Error(err))
	}

	if len(records) == 0 {
		p.recordOutcome(start, true)
		return 0, nil
	}

	payloads := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		fp := fingerprint.Compute(rec.Body, rec.Service, rec.Severity, p.semantic)
		payloads = append(payloads, map[string]interface{}{
			"template": fp.Template,
			"rhythm_hash": fp.RhythmHash,
			"service":     rec.Service,
			"severity":    rec.Severity,
			"ts":          rec.TSSeconds,
			"body":        rec.Body,
			"full_log_json": rec.FullLogJSON,
		})
	}

	if err := p.gateway.UpsertTier1(ctx, payloads); err != nil {
		p.recordOutcome(start, false)
		tracing.RecordError(span, err)
		return 0, err
	}

	if p.metrics != nil {
		p.metrics.RecordLogsIngested(len(payloads))
	}
	p.recordOutcome(start, true)
	tracing.SetSuccess(span)
	tracing.SetResultCount(span, "tier1_points", len(payloads))
	return len(payloads), nil
}

func (p *Pipeline) recordOutcome(start time.Time, success bool) {
	if p.metrics != nil {
		p.metrics.RecordOperation("ingest", success, time.Since(start))
	}
}
