package promotion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/srimon12/rhythm-sentry/internal/analysis"
	"github.com/srimon12/rhythm-sentry/internal/metrics"
)

type fakeGateway struct {
	ingested []map[string]interface{}
	err      error
}

func (f *fakeGateway) IngestTier2(ctx context.Context, payloads []map[string]interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.ingested = append(f.ingested, payloads...)
	return nil
}

func source(ts int64, service, severity, body, fullLog string) analysis.SourceLog {
	return analysis.SourceLog{TS: ts, Service: service, Severity: severity, Body: body, FullLogJSON: fullLog}
}

func TestPromoteBuildsClusterFromEarliestSource(t *testing.T) {
	gw := &fakeGateway{}
	s := New(gw, metrics.New(zap.NewNop()), zap.NewNop())

	anomalies := []analysis.Anomaly{
		{
			RhythmHash: "F",
			Type:       analysis.AnomalyNovelty,
			Context:    "New pattern seen 3 times",
			Count:      3,
			Sources: []analysis.SourceLog{
				source(1002, "svc-a", "INFO", "user 2 ok", `{"n":2}`),
				source(1000, "svc-a", "INFO", "user 0 ok", `{"n":0}`),
				source(1001, "svc-a", "INFO", "user 1 ok", `{"n":1}`),
			},
		},
	}

	err := s.Promote(context.Background(), anomalies)
	require.NoError(t, err)
	require.Len(t, gw.ingested, 1)

	got := gw.ingested[0]
	require.Equal(t, "F", got["rhythm_hash"])
	require.Equal(t, int64(1000), got["start_ts"])
	require.Equal(t, int64(1002), got["end_ts"])
	require.Equal(t, 3, got["count"])
	require.Equal(t, "svc-a", got["service"])
	require.Equal(t, "user 0 ok", got["body"])
	require.Equal(t, "novelty", got["anomaly_type"])

	samples, ok := got["sample_logs"].([]string)
	require.True(t, ok)
	require.Equal(t, []string{`{"n":0}`, `{"n":1}`, `{"n":2}`}, samples)
}

func TestPromoteCapsSampleLogsAtFive(t *testing.T) {
	gw := &fakeGateway{}
	s := New(gw, metrics.New(zap.NewNop()), zap.NewNop())

	sources := make([]analysis.SourceLog, 0, 8)
	for i := 0; i < 8; i++ {
		sources = append(sources, source(int64(1000+i), "svc-a", "INFO", "body", "log"))
	}

	anomalies := []analysis.Anomaly{
		{RhythmHash: "G", Type: analysis.AnomalyFrequency, Count: 8, Sources: sources},
	}

	err := s.Promote(context.Background(), anomalies)
	require.NoError(t, err)
	require.Len(t, gw.ingested, 1)

	samples, ok := gw.ingested[0]["sample_logs"].([]string)
	require.True(t, ok)
	require.Len(t, samples, maxSampleLogs)
}

func TestPromoteSkipsAnomalyWithNoSources(t *testing.T) {
	gw := &fakeGateway{}
	s := New(gw, metrics.New(zap.NewNop()), zap.NewNop())

	anomalies := []analysis.Anomaly{
		{RhythmHash: "H", Type: analysis.AnomalyNovelty, Count: 0, Sources: nil},
	}

	err := s.Promote(context.Background(), anomalies)
	require.NoError(t, err)
	require.Empty(t, gw.ingested)
}

func TestPromoteEmptyAnomaliesIsNoop(t *testing.T) {
	gw := &fakeGateway{}
	s := New(gw, metrics.New(zap.NewNop()), zap.NewNop())

	err := s.Promote(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, gw.ingested)
}

func TestPromotePropagatesGatewayError(t *testing.T) {
	gw := &fakeGateway{err: require.AnError}
	s := New(gw, metrics.New(zap.NewNop()), zap.NewNop())

	anomalies := []analysis.Anomaly{
		{RhythmHash: "F", Count: 1, Sources: []analysis.SourceLog{source(1000, "svc-a", "INFO", "ok", "{}")}},
	}

	err := s.Promote(context.Background(), anomalies)
	require.Error(t, err)
}
