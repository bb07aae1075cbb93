package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/srimon12/rhythm-sentry/internal/config"
	apierrors "github.com/srimon12/rhythm-sentry/internal/errors"
	"github.com/srimon12/rhythm-sentry/internal/metrics"
	"github.com/srimon12/rhythm-sentry/internal/tracing"
)

func decodeJSON(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode vector-store response: %w", err)
	}
	return nil
}

// Client is the Vector-store Gateway (spec §4.2): a typed RPC facade over
// the vector database, responsible for collection lifecycle, point
// upsert/scroll, and the grouped/recommend queries the forensic layer needs.
// It is treated as a typed RPC client to an external service, not an ORM.
type Client struct {
	t        *transport
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	embedder Embedder
}

// New creates a new vector-store Gateway client.
func New(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Client {
	c := &Client{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		embedder: NewHashEmbedder(cfg.Tier1EmbedDim, cfg.Tier2EmbedDim, cfg.Tier1VectorMode),
	}
	c.t = newTransport(cfg, logger, func() {
		if m != nil {
			m.RecordRetry()
		}
	})
	return c
}

// Embedder exposes the configured embedder so other components (ingestion,
// forensic query) can compute vectors consistently with the gateway.
func (c *Client) Embedder() Embedder {
	return c.embedder
}

// Tier1Collection returns the name of the single Tier-1 hot collection.
func (c *Client) Tier1Collection() string {
	return c.cfg.Tier1CollectionPrefix
}

// Tier2CollectionForTimestamp returns the daily Tier-2 partition name for a
// unix-seconds timestamp, matching the original service's
// "{prefix}_{YYYY_MM_DD}" naming (UTC day boundary).
func (c *Client) Tier2CollectionForTimestamp(unixSec int64) string {
	t := time.Unix(unixSec, 0).UTC()
	return fmt.Sprintf("%s_%04d_%02d_%02d", c.cfg.Tier2CollectionPrefix, t.Year(), t.Month(), t.Day())
}

// Tier2CollectionsForWindow yields every daily Tier-2 partition name that
// intersects [startTS, endTS], inclusive, walking day by day.
func (c *Client) Tier2CollectionsForWindow(startTS, endTS int64) []string {
	if endTS < startTS {
		startTS, endTS = endTS, startTS
	}
	start := time.Unix(startTS, 0).UTC().Truncate(24 * time.Hour)
	end := time.Unix(endTS, 0).UTC().Truncate(24 * time.Hour)

	var names []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		names = append(names, fmt.Sprintf("%s_%04d_%02d_%02d", c.cfg.Tier2CollectionPrefix, d.Year(), d.Month(), d.Day()))
	}
	return names
}

// Ping verifies the vector-store is reachable, for health checks.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.t.do(ctx, &request{Method: http.MethodGet, Path: "/", Timeout: 5 * time.Second})
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return apierrors.FromHTTPStatus(resp.StatusCode, string(resp.Body))
	}
	return nil
}

// Bootstrap resets the Tier-1 collection and today's Tier-2 partition to a
// known schema shape on startup (original_source setup_collections; see
// SPEC_FULL.md "Supplemented features" #1). Gated by cfg.VectorBootstrapReset.
func (c *Client) Bootstrap(ctx context.Context) error {
	if !c.cfg.VectorBootstrapReset {
		return nil
	}

	_ = c.DeleteCollection(ctx, c.Tier1Collection())
	if err := c.CreateCollection(ctx, CollectionConfig{
		Name:               c.Tier1Collection(),
		VectorSize:         c.cfg.Tier1EmbedDim,
		Distance:           DistanceDot,
		OnDisk:             false,
		QuantizationBinary: true,
		ShardNumber:        c.cfg.VectorShardNumber,
		ReplicationFactor:  c.cfg.VectorReplicationFactor,
		NamedVectors:       false,
		PayloadIndexes: []PayloadIndex{
			{Field: "ts", Type: "integer"},
		},
	}); err != nil {
		return fmt.Errorf("bootstrap tier1: %w", err)
	}

	today := c.Tier2CollectionForTimestamp(time.Now().Unix())
	_ = c.DeleteCollection(ctx, today)
	if err := c.ensureTier2Collection(ctx, today); err != nil {
		return fmt.Errorf("bootstrap tier2 today: %w", err)
	}
	return nil
}

// EnsureTier2Collection creates the named daily Tier-2 partition if it
// doesn't already exist, idempotently.
func (c *Client) EnsureTier2Collection(ctx context.Context, name string) error {
	return c.ensureTier2Collection(ctx, name)
}

func (c *Client) ensureTier2Collection(ctx context.Context, name string) error {
	exists, err := c.collectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := c.CreateCollection(ctx, CollectionConfig{
		Name:              name,
		VectorSize:        c.cfg.Tier2EmbedDim,
		Distance:          DistanceCosine,
		OnDisk:            true,
		QuantizationInt8:  true,
		ShardNumber:       c.cfg.VectorShardNumber,
		ReplicationFactor: c.cfg.VectorReplicationFactor,
		NamedVectors:      true,
		PayloadIndexes: []PayloadIndex{
			{Field: "start_ts", Type: "integer"},
			{Field: "service", Type: "keyword"},
			{Field: "rhythm_hash", Type: "keyword"},
			{Field: "body", Type: "text"},
		},
	}); err != nil {
		return err
	}
	return nil
}

func (c *Client) collectionExists(ctx context.Context, name string) (bool, error) {
	resp, err := c.t.do(ctx, &request{Method: http.MethodGet, Path: "/collections/" + name})
	if err != nil {
		return false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		return false, apierrors.FromHTTPStatus(resp.StatusCode, string(resp.Body))
	}
	return true, nil
}

// CreateCollection creates a collection with the given shape. It always
// builds an HNSW index (m=16, ef_construct=100) per the original service's
// tuning for forensic recall.
func (c *Client) CreateCollection(ctx context.Context, cc CollectionConfig) error {
	start := time.Now()
	vectorsConfig := buildVectorsConfig(cc)

	body := map[string]interface{}{
		"vectors":            vectorsConfig,
		"shard_number":       cc.ShardNumber,
		"replication_factor": cc.ReplicationFactor,
		"hnsw_config": map[string]interface{}{
			"m":            16,
			"ef_construct": 100,
		},
	}
	if cc.NamedVectors {
		body["sparse_vectors"] = map[string]interface{}{
			"bm25_vector": map[string]interface{}{"modifier": "idf"},
		}
	}

	resp, err := c.t.do(ctx, &request{Method: http.MethodPut, Path: "/collections/" + cc.Name, Body: body})
	success := err == nil && resp != nil && resp.StatusCode < 300
	if c.metrics != nil {
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		c.metrics.RecordRequest(success, time.Since(start), statusCode)
	}
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return apierrors.FromHTTPStatus(resp.StatusCode, string(resp.Body))
	}

	for _, idx := range cc.PayloadIndexes {
		if err := c.createPayloadIndex(ctx, cc.Name, idx); err != nil {
			return err
		}
	}
	return nil
}

func buildVectorsConfig(cc CollectionConfig) interface{} {
	single := map[string]interface{}{
		"size":     cc.VectorSize,
		"distance": cc.Distance,
		"on_disk":  cc.OnDisk,
	}
	switch {
	case cc.QuantizationBinary:
		single["quantization_config"] = map[string]interface{}{
			"binary": map[string]interface{}{
				"always_ram": true,
			},
		}
	case cc.QuantizationInt8:
		single["quantization_config"] = map[string]interface{}{
			"scalar": map[string]interface{}{
				"type":       "int8",
				"always_ram": !cc.OnDisk,
			},
		}
	}
	if !cc.NamedVectors {
		return single
	}
	return map[string]interface{}{
		"log_dense_vector": single,
	}
}

func (c *Client) createPayloadIndex(ctx context.Context, collection string, idx PayloadIndex) error {
	var fieldSchema interface{}
	switch idx.Type {
	case "text":
		fieldSchema = map[string]interface{}{
			"type":      "text",
			"tokenizer": "word",
			"lowercase": true,
		}
	case "integer":
		fieldSchema = map[string]interface{}{
			"type":   "integer",
			"range":  true,
			"lookup": true,
		}
	default:
		fieldSchema = idx.Type
	}
	body := map[string]interface{}{
		"field_name":   idx.Field,
		"field_schema": fieldSchema,
	}
	resp, err := c.t.do(ctx, &request{Method: http.MethodPut, Path: "/collections/" + collection + "/index", Body: body})
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return apierrors.FromHTTPStatus(resp.StatusCode, string(resp.Body))
	}
	return nil
}

// DeleteCollection deletes a collection if it exists; errors are swallowed
// by callers that only use this for idempotent resets.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	resp, err := c.t.do(ctx, &request{Method: http.MethodDelete, Path: "/collections/" + name})
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return apierrors.FromHTTPStatus(resp.StatusCode, string(resp.Body))
	}
	return nil
}

// UpsertTier1 embeds and upserts a batch of Tier-1 rhythm points (spec §4.4).
// wait=false: ingestion favors throughput over read-your-writes consistency
// (spec's at-least-once, best-effort non-goal).
func (c *Client) UpsertTier1(ctx context.Context, payloads []map[string]interface{}) error {
	ctx, span := tracing.GatewaySpan(ctx, "upsert_tier1", c.Tier1Collection())
	defer span.End()

	points := make([]Point, 0, len(payloads))
	for _, p := range payloads {
		template, _ := p["template"].(string)
		vec := c.embedder.EmbedTier1(template)
		points = append(points, Point{
			ID:      uuid.NewString(),
			Vector:  vec,
			Payload: p,
		})
	}
	return c.upsertPoints(ctx, c.Tier1Collection(), points, false)
}

// IngestTier2 embeds and upserts event-cluster points into the correct
// daily Tier-2 partitions, grouped by each point's start_ts (spec §4.6).
func (c *Client) IngestTier2(ctx context.Context, payloads []map[string]interface{}) error {
	byCollection := make(map[string][]map[string]interface{})
	for _, p := range payloads {
		startTS, _ := p["start_ts"].(int64)
		name := c.Tier2CollectionForTimestamp(startTS)
		byCollection[name] = append(byCollection[name], p)
	}

	for collection, group := range byCollection {
		if err := c.EnsureTier2Collection(ctx, collection); err != nil {
			return fmt.Errorf("ensure tier2 collection %s: %w", collection, err)
		}

		points := make([]Point, 0, len(group))
		for _, p := range group {
			text, _ := p["body"].(string)
			dense := c.embedder.EmbedTier2Dense(text)
			sparse := c.embedder.EmbedSparse(text)
			points = append(points, Point{
				ID: uuid.NewString(),
				Vector: map[string]interface{}{
					"log_dense_vector": dense,
					"bm25_vector":      sparse,
				},
				Payload: p,
			})
		}
		if err := c.upsertPoints(ctx, collection, points, false); err != nil {
			return fmt.Errorf("upsert tier2 %s: %w", collection, err)
		}
	}
	return nil
}

func (c *Client) upsertPoints(ctx context.Context, collection string, points []Point, wait bool) error {
	start := time.Now()
	body := map[string]interface{}{"points": points}
	query := map[string]string{"wait": fmt.Sprintf("%t", wait)}

	resp, err := c.t.do(ctx, &request{Method: http.MethodPut, Path: "/collections/" + collection + "/points", Query: query, Body: body})
	success := err == nil && resp != nil && resp.StatusCode < 300
	if c.metrics != nil {
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		c.metrics.RecordRequest(success, time.Since(start), statusCode)
	}
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return apierrors.FromHTTPStatus(resp.StatusCode, string(resp.Body))
	}
	return nil
}

// HistoricalSample scrolls up to `limit` Tier-1 points strictly older than
// `beforeTS`, ordered most-recent-first (original_source ordering contract
// — see SPEC_FULL.md supplemented feature #2, load-bearing for
// internal/analysis's historical-stats calculation).
func (c *Client) HistoricalSample(ctx context.Context, beforeTS int64, limit int) ([]Point, error) {
	body := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": "ts", "range": map[string]interface{}{"lt": beforeTS}},
			},
		},
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
		"order_by":     map[string]interface{}{"key": "ts", "direction": "desc"},
	}
	return c.scroll(ctx, c.Tier1Collection(), body)
}

// ScrollWindow returns the Tier-1 points with ts in [startTS, endTS], up to
// 100,000 points from a single scroll request; further pages are not read.
func (c *Client) ScrollWindow(ctx context.Context, startTS, endTS int64) ([]Point, error) {
	body := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": "ts", "range": map[string]interface{}{"gte": startTS, "lte": endTS}},
			},
		},
		"limit":        100_000,
		"with_payload": true,
		"with_vector":  false,
	}
	return c.scroll(ctx, c.Tier1Collection(), body)
}

func (c *Client) scroll(ctx context.Context, collection string, body map[string]interface{}) ([]Point, error) {
	start := time.Now()
	resp, err := c.t.do(ctx, &request{Method: http.MethodPost, Path: "/collections/" + collection + "/points/scroll", Body: body})
	success := err == nil && resp != nil && resp.StatusCode < 300
	if c.metrics != nil {
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		c.metrics.RecordRequest(success, time.Since(start), statusCode)
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, apierrors.FromHTTPStatus(resp.StatusCode, string(resp.Body))
	}

	var decoded struct {
		Result struct {
			Points []Point `json:"points"`
		} `json:"result"`
	}
	if err := decodeJSON(resp.Body, &decoded); err != nil {
		return nil, err
	}
	return decoded.Result.Points, nil
}

// SearchGroups issues a grouped similarity search against one collection,
// grouping hits by rhythm_hash (spec §4.7 Operation A).
func (c *Client) SearchGroups(ctx context.Context, collection string, vector []float32, textFilter string, groupBy string, limit, groupSize int) ([]Group, error) {
	body := map[string]interface{}{
		"vector":     map[string]interface{}{"name": "log_dense_vector", "vector": vector},
		"group_by":   groupBy,
		"group_size": groupSize,
		"limit":      limit,
		"with_payload": true,
	}
	if textFilter != "" {
		body["filter"] = map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": "body", "match": map[string]interface{}{"text": textFilter}},
			},
		}
	}

	start := time.Now()
	resp, err := c.t.do(ctx, &request{Method: http.MethodPost, Path: "/collections/" + collection + "/points/search/groups", Body: body})
	success := err == nil && resp != nil && resp.StatusCode < 300
	if c.metrics != nil {
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		c.metrics.RecordRequest(success, time.Since(start), statusCode)
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, apierrors.FromHTTPStatus(resp.StatusCode, string(resp.Body))
	}

	var decoded struct {
		Result struct {
			Groups []struct {
				ID   interface{} `json:"id"`
				Hits []ScoredPoint `json:"hits"`
			} `json:"groups"`
		} `json:"result"`
	}
	if err := decodeJSON(resp.Body, &decoded); err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(decoded.Result.Groups))
	for _, g := range decoded.Result.Groups {
		groups = append(groups, Group{ID: fmt.Sprintf("%v", g.ID), Hits: g.Hits})
	}
	return groups, nil
}

// Recommend issues a recommend-by-example query against one partition
// (spec §4.7 Operation B's underlying primitive).
func (c *Client) Recommend(ctx context.Context, collection string, positiveIDs, negativeIDs []string, limit int) ([]ScoredPoint, error) {
	body := map[string]interface{}{
		"positive":     positiveIDs,
		"negative":     negativeIDs,
		"using":        "log_dense_vector",
		"limit":        limit,
		"with_payload": true,
	}

	start := time.Now()
	resp, err := c.t.do(ctx, &request{Method: http.MethodPost, Path: "/collections/" + collection + "/points/recommend", Body: body})
	success := err == nil && resp != nil && resp.StatusCode < 300
	if c.metrics != nil {
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		c.metrics.RecordRequest(success, time.Since(start), statusCode)
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, apierrors.FromHTTPStatus(resp.StatusCode, string(resp.Body))
	}

	var decoded struct {
		Result []ScoredPoint `json:"result"`
	}
	if err := decodeJSON(resp.Body, &decoded); err != nil {
		return nil, err
	}
	return decoded.Result, nil
}

// SearchDense issues a plain (non-grouped) nearest-neighbor search against
// the named dense vector, the first leg of the optional hybrid retrieval
// (spec §4.7 Operation C).
func (c *Client) SearchDense(ctx context.Context, collection string, vector []float32, textFilter string, limit int) ([]ScoredPoint, error) {
	return c.search(ctx, collection, map[string]interface{}{"name": "log_dense_vector", "vector": vector}, textFilter, limit)
}

// SearchSparse issues a plain nearest-neighbor search against the named
// sparse (BM25-style) vector, the second leg of hybrid retrieval.
func (c *Client) SearchSparse(ctx context.Context, collection string, vector *SparseVector, textFilter string, limit int) ([]ScoredPoint, error) {
	return c.search(ctx, collection, map[string]interface{}{"name": "bm25_vector", "vector": vector}, textFilter, limit)
}

func (c *Client) search(ctx context.Context, collection string, namedVector map[string]interface{}, textFilter string, limit int) ([]ScoredPoint, error) {
	body := map[string]interface{}{
		"vector":       namedVector,
		"limit":        limit,
		"with_payload": true,
	}
	if textFilter != "" {
		body["filter"] = map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": "body", "match": map[string]interface{}{"text": textFilter}},
			},
		}
	}

	start := time.Now()
	resp, err := c.t.do(ctx, &request{Method: http.MethodPost, Path: "/collections/" + collection + "/points/search", Body: body})
	success := err == nil && resp != nil && resp.StatusCode < 300
	if c.metrics != nil {
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		c.metrics.RecordRequest(success, time.Since(start), statusCode)
	}
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, apierrors.FromHTTPStatus(resp.StatusCode, string(resp.Body))
	}

	var decoded struct {
		Result []ScoredPoint `json:"result"`
	}
	if err := decodeJSON(resp.Body, &decoded); err != nil {
		return nil, err
	}
	return decoded.Result, nil
}

// ListTier2Collections lists every collection with the Tier-2 prefix, used
// by forensic queries with no time bound (spec §4.7).
func (c *Client) ListTier2Collections(ctx context.Context) ([]string, error) {
	resp, err := c.t.do(ctx, &request{Method: http.MethodGet, Path: "/collections"})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, apierrors.FromHTTPStatus(resp.StatusCode, string(resp.Body))
	}

	var decoded struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := decodeJSON(resp.Body, &decoded); err != nil {
		return nil, err
	}

	var names []string
	for _, col := range decoded.Result.Collections {
		if len(col.Name) >= len(c.cfg.Tier2CollectionPrefix) && col.Name[:len(c.cfg.Tier2CollectionPrefix)] == c.cfg.Tier2CollectionPrefix {
			names = append(names, col.Name)
		}
	}
	return names, nil
}

// Close releases the gateway's transport resources.
func (c *Client) Close() error {
	c.t.httpClient.CloseIdleConnections()
	return nil
}
