package vectorstore

// Point is a single vector-indexed record, shared shape for both Tier-1
// rhythm points and Tier-2 event-cluster points (spec §3).
type Point struct {
	ID      string                 `json:"id"`
	Vector  interface{}            `json:"vector"` // []float32 for Tier-1, map[string]interface{} for named Tier-2 vectors
	Payload map[string]interface{} `json:"payload"`
}

// NamedVectors builds the Tier-2 named-vector payload: a dense vector under
// "log_dense_vector" and, optionally, a sparse BM25-style vector under
// "bm25_vector" (spec §4.7 Operation C).
type NamedVectors struct {
	Dense  []float32   `json:"log_dense_vector"`
	Sparse *SparseVector `json:"bm25_vector,omitempty"`
}

// SparseVector is a sparse term-weight vector (indices into a shared
// vocabulary plus weights), used for the optional hybrid sparse leg of
// forensic search.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// ScrollResult is the result of a Tier-1 range scroll.
type ScrollResult struct {
	Points     []Point
	NextOffset string
}

// Group is one result group from a search/groups call (one per distinct
// rhythm_hash when grouping Tier-2 clusters).
type Group struct {
	ID   string
	Hits []ScoredPoint
}

// ScoredPoint is a point with a similarity score, as returned by search,
// search/groups, and recommend.
type ScoredPoint struct {
	ID      string                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// CollectionConfig describes how a collection should be created.
type CollectionConfig struct {
	Name               string
	VectorSize         int
	Distance           string // "Cosine" or "Dot"
	OnDisk             bool
	QuantizationInt8   bool
	QuantizationBinary bool // always-in-RAM binary quantization (spec §4.2 Tier-1)
	ShardNumber        int
	ReplicationFactor  int
	NamedVectors       bool // true for Tier-2 (dense + sparse), false for Tier-1 (single vector)
	PayloadIndexes     []PayloadIndex
}

// Distance values accepted by buildVectorsConfig.
const (
	DistanceCosine = "Cosine"
	DistanceDot    = "Dot"
)

// PayloadIndex describes a payload field to index for filtering.
type PayloadIndex struct {
	Field string
	Type  string // "keyword", "text", or "integer"
}
