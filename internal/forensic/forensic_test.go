package forensic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/srimon12/rhythm-sentry/internal/metrics"
	"github.com/srimon12/rhythm-sentry/internal/vectorstore"
)

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedTier1(template string) []float32      { return []float32{1, 0} }
func (fakeEmbedder) EmbedTier2Dense(text string) []float32     { return []float32{1, 0} }
func (fakeEmbedder) EmbedSparse(text string) *vectorstore.SparseVector {
	return &vectorstore.SparseVector{Indices: []uint32{1}, Values: []float32{1}}
}

type fakeGateway struct {
	collections  []string
	groupsByColl map[string][]vectorstore.Group
	denseByColl  map[string][]vectorstore.ScoredPoint
	sparseByColl map[string][]vectorstore.ScoredPoint
	recsByColl   map[string][]vectorstore.ScoredPoint
	err          error
}

func (f *fakeGateway) Embedder() vectorstore.Embedder { return fakeEmbedder{} }

func (f *fakeGateway) Tier2CollectionsForWindow(startTS, endTS int64) []string {
	return f.collections
}

func (f *fakeGateway) ListTier2Collections(ctx context.Context) ([]string, error) {
	return f.collections, nil
}

func (f *fakeGateway) SearchGroups(ctx context.Context, collection string, vector []float32, textFilter, groupBy string, limit, groupSize int) ([]vectorstore.Group, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.groupsByColl[collection], nil
}

func (f *fakeGateway) SearchDense(ctx context.Context, collection string, vector []float32, textFilter string, limit int) ([]vectorstore.ScoredPoint, error) {
	return f.denseByColl[collection], nil
}

func (f *fakeGateway) SearchSparse(ctx context.Context, collection string, vector *vectorstore.SparseVector, textFilter string, limit int) ([]vectorstore.ScoredPoint, error) {
	return f.sparseByColl[collection], nil
}

func (f *fakeGateway) Recommend(ctx context.Context, collection string, positiveIDs, negativeIDs []string, limit int) ([]vectorstore.ScoredPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.recsByColl[collection], nil
}

type fakeRegistry struct {
	silenced map[string]bool
}

func (f *fakeRegistry) IsSilenced(h string) bool { return f.silenced[h] }

func TestFindTier2ClustersSortsByTopHitScoreDescending(t *testing.T) {
	gw := &fakeGateway{
		collections: []string{"tier2_2026_01_01"},
		groupsByColl: map[string][]vectorstore.Group{
			"tier2_2026_01_01": {
				{ID: "A", Hits: []vectorstore.ScoredPoint{{ID: "a1", Score: 0.5, Payload: map[string]interface{}{"count": 3}}}},
				{ID: "B", Hits: []vectorstore.ScoredPoint{{ID: "b1", Score: 0.9, Payload: map[string]interface{}{"count": 7}}}},
			},
		},
	}
	reg := &fakeRegistry{silenced: map[string]bool{}}
	s := New(gw, reg, metrics.New(zap.NewNop()), zap.NewNop())

	clusters, err := s.FindTier2Clusters(context.Background(), 1000, 2000, "")
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	require.Equal(t, "B", clusters[0].ClusterID)
	require.Equal(t, 7, clusters[0].IncidentCount)
	require.Equal(t, "A", clusters[1].ClusterID)
}

func TestFindTier2ClustersDropsSilenced(t *testing.T) {
	gw := &fakeGateway{
		collections: []string{"tier2_2026_01_01"},
		groupsByColl: map[string][]vectorstore.Group{
			"tier2_2026_01_01": {
				{ID: "A", Hits: []vectorstore.ScoredPoint{{ID: "a1", Score: 0.5, Payload: map[string]interface{}{}}}},
				{ID: "B", Hits: []vectorstore.ScoredPoint{{ID: "b1", Score: 0.9, Payload: map[string]interface{}{}}}},
			},
		},
	}
	reg := &fakeRegistry{silenced: map[string]bool{"B": true}}
	s := New(gw, reg, metrics.New(zap.NewNop()), zap.NewNop())

	clusters, err := s.FindTier2Clusters(context.Background(), 1000, 2000, "")
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	require.Equal(t, "A", clusters[0].ClusterID)
}

func TestFindTier2ClustersEmptyWhenNoCollections(t *testing.T) {
	gw := &fakeGateway{collections: nil}
	reg := &fakeRegistry{silenced: map[string]bool{}}
	s := New(gw, reg, metrics.New(zap.NewNop()), zap.NewNop())

	clusters, err := s.FindTier2Clusters(context.Background(), 0, 0, "")
	require.NoError(t, err)
	require.Empty(t, clusters)
}

func TestTriageSimilarEventsEmptyWithNoPositiveIDs(t *testing.T) {
	gw := &fakeGateway{}
	reg := &fakeRegistry{silenced: map[string]bool{}}
	s := New(gw, reg, metrics.New(zap.NewNop()), zap.NewNop())

	hits, err := s.TriageSimilarEvents(context.Background(), nil, nil, 1000, 2000)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestTriageSimilarEventsMergesSortsAndTruncates(t *testing.T) {
	collections := []string{"tier2_2026_01_01", "tier2_2026_01_02"}
	recs := map[string][]vectorstore.ScoredPoint{
		"tier2_2026_01_01": {{ID: "x1", Score: 0.3}},
		"tier2_2026_01_02": {{ID: "x2", Score: 0.8}},
	}
	gw := &fakeGateway{collections: collections, recsByColl: recs}
	reg := &fakeRegistry{silenced: map[string]bool{}}
	s := New(gw, reg, metrics.New(zap.NewNop()), zap.NewNop())

	hits, err := s.TriageSimilarEvents(context.Background(), []string{"p1"}, nil, 1000, 2000)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, "x2", hits[0].ID)
	require.Equal(t, "x1", hits[1].ID)
}

func TestHybridAnomalyRetrievalFusesReciprocalRank(t *testing.T) {
	gw := &fakeGateway{
		collections: []string{"tier2_2026_01_01"},
		denseByColl: map[string][]vectorstore.ScoredPoint{
			"tier2_2026_01_01": {{ID: "shared", Score: 0.9}, {ID: "dense-only", Score: 0.5}},
		},
		sparseByColl: map[string][]vectorstore.ScoredPoint{
			"tier2_2026_01_01": {{ID: "shared", Score: 5.0}, {ID: "sparse-only", Score: 3.0}},
		},
	}
	reg := &fakeRegistry{silenced: map[string]bool{}}
	s := New(gw, reg, metrics.New(zap.NewNop()), zap.NewNop())

	hits, err := s.HybridAnomalyRetrieval(context.Background(), 1000, 2000, "oops")
	require.NoError(t, err)
	require.Len(t, hits, 3)
	// "shared" appears rank 0 in both dense and sparse legs, so it gets the
	// highest fused reciprocal-rank score.
	require.Equal(t, "shared", hits[0].ID)
}
