// Package analysis implements the Rhythm Analyzer (spec §4.5): reads a
// recent window and a historical baseline from Tier-1, computes novelty and
// frequency anomalies against a duration-normalized baseline, consults the
// Control Registry, and hands the surviving anomalies to the Promotion
// Service.
package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/srimon12/rhythm-sentry/internal/metrics"
	"github.com/srimon12/rhythm-sentry/internal/tracing"
	"github.com/srimon12/rhythm-sentry/internal/vectorstore"
)

// Tunables, fixed defaults per spec §4.5.
const (
	HistoricalSampleSize  = 10_000
	NoveltyMinCount       = 2
	FrequencyMinCount     = 3
	FrequencyStdDevFactor = 2.5
)

// AnomalyType tags the two kinds of emission as a variant, not a base-class
// hierarchy (spec §9 design note: "represent as a tagged variant").
type AnomalyType string

const (
	AnomalyNovelty   AnomalyType = "novelty"
	AnomalyFrequency AnomalyType = "frequency"
)

// SourceLog is one Tier-1 point's payload, carried through to Promotion so
// it can build sample_logs and the representative text (spec §4.6).
type SourceLog struct {
	TS          int64
	Service     string
	Severity    string
	Body        string
	FullLogJSON string
}

// Anomaly is one emitted novelty or frequency-spike event, grouped by
// rhythm_hash, with every matching source log in the recent window attached.
type Anomaly struct {
	RhythmHash string
	Type       AnomalyType
	Context    string
	Count      int
	Sources    []SourceLog
}

// Result is what one Analyze invocation returns (spec §4.5 step 8).
type Result struct {
	NovelAnomalies     []Anomaly
	FrequencyAnomalies []Anomaly
}

// Gateway is the narrow slice of the vector-store gateway the analyzer
// needs: a time-bounded scroll of the recent window, and a most-recent-
// first historical sample older than the window start.
type Gateway interface {
	ScrollWindow(ctx context.Context, startTS, endTS int64) ([]vectorstore.Point, error)
	HistoricalSample(ctx context.Context, beforeTS int64, limit int) ([]vectorstore.Point, error)
}

// Registry is the Control Registry's read side, consulted before emission
// (spec §4.5 step 6, I3).
type Registry interface {
	IsSilenced(rhythmHash string) bool
}

// Promoter receives the union of survived emissions (spec §4.5 step 7).
type Promoter interface {
	Promote(ctx context.Context, anomalies []Anomaly) error
}

// Analyzer runs the novelty/frequency detection procedure. At most one
// Analyze call proceeds at a time per process (I5); concurrent callers
// serialize on runMu.
type Analyzer struct {
	gateway  Gateway
	registry Registry
	promoter Promoter
	metrics  *metrics.Metrics
	logger   *zap.Logger

	runMu sync.Mutex
	clock func() int64
}

// New creates an Analyzer.
func New(gateway Gateway, registry Registry, promoter Promoter, m *metrics.Metrics, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		gateway:  gateway,
		registry: registry,
		promoter: promoter,
		metrics:  m,
		logger:   logger,
		clock:    func() int64 { return time.Now().Unix() },
	}
}

// Analyze runs one full rhythm-analysis pass over the last windowSec
// seconds (spec §4.5).
func (a *Analyzer) Analyze(ctx context.Context, windowSec int) (Result, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	start := time.Now()
	ctx, span := tracing.AnalysisSpan(ctx, windowSec)
	defer span.End()

	now := a.clock()
	wStart := now - int64(windowSec)

	recentPoints, err := a.gateway.ScrollWindow(ctx, wStart, now)
	if err != nil {
		a.recordOutcome(start, false)
		tracing.RecordError(span, err)
		return Result{}, err
	}
	if len(recentPoints) == 0 {
		a.recordOutcome(start, true)
		return Result{}, nil
	}

	histPoints, err := a.gateway.HistoricalSample(ctx, wStart, HistoricalSampleSize)
	if err != nil {
		a.recordOutcome(start, false)
		tracing.RecordError(span, err)
		return Result{}, err
	}

	baseline := computeBaseline(histPoints, windowSec)
	recentGroups := groupByRhythmHash(recentPoints)

	result := a.classify(recentGroups, baseline)

	if err := a.promoter.Promote(ctx, append(append([]Anomaly{}, result.NovelAnomalies...), result.FrequencyAnomalies...)); err != nil {
		a.recordOutcome(start, false)
		tracing.RecordError(span, err)
		return Result{}, err
	}

	a.recordOutcome(start, true)
	tracing.SetSuccess(span)
	tracing.SetResultCount(span, "novel_anomalies", len(result.NovelAnomalies))
	tracing.SetResultCount(span, "frequency_anomalies", len(result.FrequencyAnomalies))
	return result, nil
}

// baselineStats is the per-fingerprint duration-normalized baseline
// (spec §4.5 step 4).
type baselineStats struct {
	known map[string]struct{ mean, std float64 }
}

func computeBaseline(histPoints []vectorstore.Point, windowSec int) baselineStats {
	b := baselineStats{known: make(map[string]struct{ mean, std float64 })}
	if len(histPoints) == 0 {
		return b
	}

	counts := make(map[string]int64)
	var oldest, newest int64
	for i, p := range histPoints {
		h, _ := p.Payload["rhythm_hash"].(string)
		counts[h]++

		ts := tsOf(p)
		if i == 0 {
			oldest, newest = ts, ts
		}
		if ts < oldest {
			oldest = ts
		}
		if ts > newest {
			newest = ts
		}
	}

	histDuration := newest - oldest
	if histDuration < 1 {
		histDuration = 1
	}

	for h, c := range counts {
		mean := float64(c) * (float64(windowSec) / float64(histDuration))
		std := math.Sqrt(mean)
		if std < 1.5 {
			std = 1.5
		}
		b.known[h] = struct{ mean, std float64 }{mean: mean, std: std}
	}
	return b
}

type hashGroup struct {
	rhythmHash string
	sources    []SourceLog
}

func groupByRhythmHash(points []vectorstore.Point) []hashGroup {
	order := make([]string, 0)
	byHash := make(map[string][]SourceLog)
	for _, p := range points {
		h, _ := p.Payload["rhythm_hash"].(string)
		if _, seen := byHash[h]; !seen {
			order = append(order, h)
		}
		byHash[h] = append(byHash[h], sourceLogFromPayload(p))
	}

	groups := make([]hashGroup, 0, len(order))
	for _, h := range order {
		groups = append(groups, hashGroup{rhythmHash: h, sources: byHash[h]})
	}
	// deterministic iteration order for tests and reproducible logs.
	sort.Slice(groups, func(i, j int) bool { return groups[i].rhythmHash < groups[j].rhythmHash })
	return groups
}

func sourceLogFromPayload(p vectorstore.Point) SourceLog {
	service, _ := p.Payload["service"].(string)
	severity, _ := p.Payload["severity"].(string)
	body, _ := p.Payload["body"].(string)
	fullLog, _ := p.Payload["full_log_json"].(string)
	return SourceLog{
		TS:          tsOf(p),
		Service:     service,
		Severity:    severity,
		Body:        body,
		FullLogJSON: fullLog,
	}
}

func tsOf(p vectorstore.Point) int64 {
	switch v := p.Payload["ts"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func (a *Analyzer) classify(groups []hashGroup, baseline baselineStats) Result {
	var result Result

	for _, g := range groups {
		if a.registry.IsSilenced(g.rhythmHash) {
			continue
		}

		count := len(g.sources)
		stats, known := baseline.known[g.rhythmHash]

		switch {
		case !known && count >= NoveltyMinCount:
			anomaly := Anomaly{
				RhythmHash: g.rhythmHash,
				Type:       AnomalyNovelty,
				Context:    noveltyContext(count),
				Count:      count,
				Sources:    g.sources,
			}
			result.NovelAnomalies = append(result.NovelAnomalies, anomaly)
			if a.metrics != nil {
				a.metrics.RecordNoveltyAnomaly()
			}

		case known:
			threshold := stats.mean + FrequencyStdDevFactor*stats.std
			if float64(count) > threshold && count >= FrequencyMinCount {
				anomaly := Anomaly{
					RhythmHash: g.rhythmHash,
					Type:       AnomalyFrequency,
					Context:    frequencyContext(count, threshold, stats.mean, stats.std),
					Count:      count,
					Sources:    g.sources,
				}
				result.FrequencyAnomalies = append(result.FrequencyAnomalies, anomaly)
				if a.metrics != nil {
					a.metrics.RecordFrequencyAnomaly()
				}
			}
		}
	}

	return result
}

func noveltyContext(count int) string {
	return fmt.Sprintf("New pattern seen %d times", count)
}

func frequencyContext(count int, threshold, mean, std float64) string {
	return fmt.Sprintf("count=%d threshold=%.3f mean=%.3f std=%.3f", count, threshold, mean, std)
}

func (a *Analyzer) recordOutcome(start time.Time, success bool) {
	if a.metrics != nil {
		a.metrics.RecordOperation("rhythm_analysis", success, time.Since(start))
	}
}
