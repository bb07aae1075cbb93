package vectorstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/srimon12/rhythm-sentry/internal/metrics"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	cfg := testConfig(srv.URL)
	cfg.Tier1CollectionPrefix = "tier1_rhythm"
	cfg.Tier2CollectionPrefix = "tier2_forensic"
	cfg.Tier1EmbedDim = 32
	cfg.Tier2EmbedDim = 64
	cfg.Tier1VectorMode = "binary"
	cfg.VectorShardNumber = 1
	cfg.VectorReplicationFactor = 1

	c := New(cfg, zap.NewNop(), metrics.New(zap.NewNop()))
	return c, srv
}

func TestTier2CollectionForTimestamp(t *testing.T) {
	c, srv := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})
	defer srv.Close()

	ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC).Unix()
	require.Equal(t, "tier2_forensic_2026_07_31", c.Tier2CollectionForTimestamp(ts))
}

func TestTier2CollectionsForWindow(t *testing.T) {
	c, srv := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})
	defer srv.Close()

	start := time.Date(2026, 7, 30, 23, 0, 0, 0, time.UTC).Unix()
	end := time.Date(2026, 8, 1, 1, 0, 0, 0, time.UTC).Unix()

	names := c.Tier2CollectionsForWindow(start, end)
	require.Equal(t, []string{
		"tier2_forensic_2026_07_30",
		"tier2_forensic_2026_07_31",
		"tier2_forensic_2026_08_01",
	}, names)
}

func TestUpsertTier1SendsEmbeddedPoints(t *testing.T) {
	var captured map[string]interface{}
	c, srv := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/tier1_rhythm/points", r.URL.Path)
		body, _ := readBody(r)
		_ = json.Unmarshal(body, &captured)
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	err := c.UpsertTier1(context.Background(), []map[string]interface{}{
		{"template": "connection refused to <HOST>", "rhythm_hash": "abc123"},
	})
	require.NoError(t, err)

	points, ok := captured["points"].([]interface{})
	require.True(t, ok)
	require.Len(t, points, 1)
}

func TestIngestTier2PartitionsByDay(t *testing.T) {
	var paths []string
	c, srv := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	day1 := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC).Unix()
	day2 := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC).Unix()

	err := c.IngestTier2(context.Background(), []map[string]interface{}{
		{"body": "cluster one", "start_ts": day1},
		{"body": "cluster two", "start_ts": day2},
	})
	require.NoError(t, err)
	require.Contains(t, paths, "/collections/tier2_forensic_2026_07_30")
	require.Contains(t, paths, "/collections/tier2_forensic_2026_07_31")
}

func TestHistoricalSampleOrdersMostRecentFirst(t *testing.T) {
	c, srv := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/tier1_rhythm/points/scroll", r.URL.Path)
		body, _ := readBody(r)
		var decoded map[string]interface{}
		_ = json.Unmarshal(body, &decoded)
		orderBy, ok := decoded["order_by"].(map[string]interface{})
		require.True(t, ok)
		require.Equal(t, "desc", orderBy["direction"])

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"result":{"points":[{"id":"p2","payload":{"ts":200}},{"id":"p1","payload":{"ts":100}}]}}`))
	})
	defer srv.Close()

	points, err := c.HistoricalSample(context.Background(), 300, 10)
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.Equal(t, "p2", points[0].ID)
}

func TestPingSurfacesAPIError(t *testing.T) {
	c, srv := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	})
	defer srv.Close()

	err := c.Ping(context.Background())
	require.Error(t, err)
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

type capturedCall struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

func TestBootstrapCreatesTier1WithDotDistanceBinaryQuantizationAndTSIndex(t *testing.T) {
	var calls []capturedCall
	c, srv := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := readBody(r)
		var decoded map[string]interface{}
		_ = json.Unmarshal(body, &decoded)
		calls = append(calls, capturedCall{Method: r.Method, Path: r.URL.Path, Body: decoded})
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	require.NoError(t, c.Bootstrap(context.Background()))

	var createTier1, tsIndex map[string]interface{}
	for _, call := range calls {
		if call.Method == http.MethodPut && call.Path == "/collections/tier1_rhythm" {
			createTier1 = call.Body
		}
		if call.Method == http.MethodPut && call.Path == "/collections/tier1_rhythm/index" {
			tsIndex = call.Body
		}
	}
	require.NotNil(t, createTier1, "expected a PUT to create the tier1 collection")
	vectors, ok := createTier1["vectors"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "Dot", vectors["distance"])
	quant, ok := vectors["quantization_config"].(map[string]interface{})
	require.True(t, ok)
	binary, ok := quant["binary"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, true, binary["always_ram"])

	require.NotNil(t, tsIndex, "expected a payload index request for ts")
	require.Equal(t, "ts", tsIndex["field_name"])
	schema, ok := tsIndex["field_schema"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "integer", schema["type"])
	require.Equal(t, true, schema["range"])
}

func TestEnsureTier2CollectionCreatesAllPayloadIndexes(t *testing.T) {
	var indexedFields []string
	c, srv := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodPut && r.URL.Path == "/collections/tier2_forensic_2026_07_31/index" {
			body, _ := readBody(r)
			var decoded map[string]interface{}
			_ = json.Unmarshal(body, &decoded)
			indexedFields = append(indexedFields, decoded["field_name"].(string))
		}
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	require.NoError(t, c.EnsureTier2Collection(context.Background(), "tier2_forensic_2026_07_31"))
	require.ElementsMatch(t, []string{"start_ts", "service", "rhythm_hash", "body"}, indexedFields)
}
