// Package forensic implements the Forensic Query Layer (spec §4.7): the
// operator-facing read path over Tier-2 event clusters, federated across
// daily partitions.
package forensic

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/srimon12/rhythm-sentry/internal/metrics"
	"github.com/srimon12/rhythm-sentry/internal/vectorstore"
)

const (
	clusterGroupLimit = 100
	recommendLimit    = 50
	hybridLimit       = 50
	reciprocalRankK   = 60
)

// Gateway is the narrow slice of the vector-store gateway the forensic
// layer needs: federated reads and the two search primitives hybrid
// retrieval fuses.
type Gateway interface {
	Embedder() vectorstore.Embedder
	Tier2CollectionsForWindow(startTS, endTS int64) []string
	ListTier2Collections(ctx context.Context) ([]string, error)
	SearchGroups(ctx context.Context, collection string, vector []float32, textFilter, groupBy string, limit, groupSize int) ([]vectorstore.Group, error)
	SearchDense(ctx context.Context, collection string, vector []float32, textFilter string, limit int) ([]vectorstore.ScoredPoint, error)
	SearchSparse(ctx context.Context, collection string, vector *vectorstore.SparseVector, textFilter string, limit int) ([]vectorstore.ScoredPoint, error)
	Recommend(ctx context.Context, collection string, positiveIDs, negativeIDs []string, limit int) ([]vectorstore.ScoredPoint, error)
}

// Registry is the Control Registry's read side, used to drop silenced
// clusters from Operation A's listing (spec §4.7, I3).
type Registry interface {
	IsSilenced(rhythmHash string) bool
}

// Cluster is one entry in Operation A's result.
type Cluster struct {
	ClusterID     string
	IncidentCount int
	TopHitID      string
	TopHitPayload map[string]interface{}
	TopHitScore   float64
}

// Hit is one entry in Operation B's (or C's) result.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]interface{}
}

// Service answers forensic queries over the federated Tier-2 partitions.
type Service struct {
	gateway  Gateway
	registry Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates a forensic Service.
func New(gateway Gateway, registry Registry, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{gateway: gateway, registry: registry, metrics: m, logger: logger}
}

// collectionsFor resolves the partitions to federate over: the time-bounded
// set when both bounds are given, or every Tier-2 partition otherwise
// (spec §4.7 Operation A/B).
func (s *Service) collectionsFor(ctx context.Context, startTS, endTS int64) ([]string, error) {
	if startTS != 0 && endTS != 0 {
		return s.gateway.Tier2CollectionsForWindow(startTS, endTS), nil
	}
	return s.gateway.ListTier2Collections(ctx)
}

// FindTier2Clusters is Operation A (spec §4.7): a grouped search across the
// daily partitions in range, one group per rhythm_hash, silenced clusters
// dropped, sorted by top-hit score descending.
func (s *Service) FindTier2Clusters(ctx context.Context, startTS, endTS int64, textFilter string) ([]Cluster, error) {
	start := time.Now()
	collections, err := s.collectionsFor(ctx, startTS, endTS)
	if err != nil {
		s.recordOutcome(start, false)
		return nil, err
	}
	if len(collections) == 0 {
		s.recordOutcome(start, true)
		return nil, nil
	}

	queryVector := s.gateway.Embedder().EmbedTier2Dense(textFilter)

	var mu sync.Mutex
	var groups []vectorstore.Group
	var wg sync.WaitGroup
	for _, collection := range collections {
		collection := collection
		wg.Add(1)
		go func() {
			defer wg.Done()
			gs, err := s.gateway.SearchGroups(ctx, collection, queryVector, textFilter, "rhythm_hash", clusterGroupLimit, 1)
			if err != nil {
				s.logger.Warn("search-groups failed for partition", zap.String("collection", collection), zap.Error(err))
				return
			}
			mu.Lock()
			groups = append(groups, gs...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	clusters := make([]Cluster, 0, len(groups))
	for _, g := range groups {
		if len(g.Hits) == 0 {
			continue
		}
		if s.registry.IsSilenced(g.ID) {
			continue
		}
		top := g.Hits[0]
		incidentCount := 1
		if c, ok := top.Payload["count"]; ok {
			switch v := c.(type) {
			case int:
				incidentCount = v
			case int64:
				incidentCount = int(v)
			case float64:
				incidentCount = int(v)
			}
		}
		clusters = append(clusters, Cluster{
			ClusterID:     g.ID,
			IncidentCount: incidentCount,
			TopHitID:      top.ID,
			TopHitPayload: top.Payload,
			TopHitScore:   top.Score,
		})
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].TopHitScore > clusters[j].TopHitScore })

	s.recordOutcome(start, true)
	return clusters, nil
}

// TriageSimilarEvents is Operation B (spec §4.7): a recommend-by-example
// query federated across the partitions in range, merged, sorted by score
// descending, truncated to 50.
func (s *Service) TriageSimilarEvents(ctx context.Context, positiveIDs, negativeIDs []string, startTS, endTS int64) ([]Hit, error) {
	if len(positiveIDs) == 0 {
		return nil, nil
	}

	start := time.Now()
	collections, err := s.collectionsFor(ctx, startTS, endTS)
	if err != nil {
		s.recordOutcome(start, false)
		return nil, err
	}

	var mu sync.Mutex
	var hits []vectorstore.ScoredPoint
	var wg sync.WaitGroup
	for _, collection := range collections {
		collection := collection
		wg.Add(1)
		go func() {
			defer wg.Done()
			rs, err := s.gateway.Recommend(ctx, collection, positiveIDs, negativeIDs, recommendLimit)
			if err != nil {
				s.logger.Warn("recommend failed for partition", zap.String("collection", collection), zap.Error(err))
				return
			}
			mu.Lock()
			hits = append(hits, rs...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > recommendLimit {
		hits = hits[:recommendLimit]
	}

	result := make([]Hit, 0, len(hits))
	for _, h := range hits {
		result = append(result, Hit{ID: h.ID, Score: h.Score, Payload: h.Payload})
	}

	s.recordOutcome(start, true)
	return result, nil
}

// HybridAnomalyRetrieval is Operation C (spec §4.7, optional): one dense and
// one sparse search per partition on the same filter, fused by reciprocal
// rank (k = 60) and summed across partitions, top 50 returned.
func (s *Service) HybridAnomalyRetrieval(ctx context.Context, startTS, endTS int64, textFilter string) ([]Hit, error) {
	start := time.Now()
	collections, err := s.collectionsFor(ctx, startTS, endTS)
	if err != nil {
		s.recordOutcome(start, false)
		return nil, err
	}
	if len(collections) == 0 {
		s.recordOutcome(start, true)
		return nil, nil
	}

	denseVector := s.gateway.Embedder().EmbedTier2Dense(textFilter)
	sparseVector := s.gateway.Embedder().EmbedSparse(textFilter)

	type fused struct {
		payload map[string]interface{}
		score   float64
	}
	scores := make(map[string]*fused)
	var mu sync.Mutex

	fuse := func(hits []vectorstore.ScoredPoint) {
		mu.Lock()
		defer mu.Unlock()
		for rank, h := range hits {
			contribution := 1.0 / float64(reciprocalRankK+rank+1)
			if f, ok := scores[h.ID]; ok {
				f.score += contribution
			} else {
				scores[h.ID] = &fused{payload: h.Payload, score: contribution}
			}
		}
	}

	var wg sync.WaitGroup
	for _, collection := range collections {
		collection := collection
		wg.Add(1)
		go func() {
			defer wg.Done()
			dense, err := s.gateway.SearchDense(ctx, collection, denseVector, textFilter, hybridLimit)
			if err != nil {
				s.logger.Warn("hybrid dense search failed for partition", zap.String("collection", collection), zap.Error(err))
			} else {
				fuse(dense)
			}

			sparse, err := s.gateway.SearchSparse(ctx, collection, sparseVector, textFilter, hybridLimit)
			if err != nil {
				s.logger.Warn("hybrid sparse search failed for partition", zap.String("collection", collection), zap.Error(err))
			} else {
				fuse(sparse)
			}
		}()
	}
	wg.Wait()

	result := make([]Hit, 0, len(scores))
	for id, f := range scores {
		result = append(result, Hit{ID: id, Score: f.score, Payload: f.payload})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Score > result[j].Score })
	if len(result) > hybridLimit {
		result = result[:hybridLimit]
	}

	s.recordOutcome(start, true)
	return result, nil
}

func (s *Service) recordOutcome(start time.Time, success bool) {
	if s.metrics != nil {
		s.metrics.RecordOperation("forensic_query", success, time.Since(start))
	}
}
